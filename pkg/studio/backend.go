package studio

import (
	"context"
	"fmt"
	"io"

	"github.com/MENT2022/studio/internal/adapters/sink"
	"github.com/MENT2022/studio/internal/app/config"
	"github.com/MENT2022/studio/internal/ports"
)

// OpenStore builds the reading store selected by persistence.backend. The
// returned closer releases its connections and is nil for in-process stores.
func OpenStore(ctx context.Context, cfg PersistenceConfig) (ReadingStore, io.Closer, error) {
	return openStore(ctx, cfg)
}

func openStore(ctx context.Context, cfg config.PersistenceConfig) (ports.ReadingStore, io.Closer, error) {
	switch cfg.Backend {
	case config.BackendTimescale:
		st, err := sink.OpenTimescale(ctx, cfg.Timescale.ConnString, cfg.Timescale.Table)
		if err != nil {
			return nil, nil, fmt.Errorf("open timescale store: %w", err)
		}
		if cfg.Timescale.Bootstrap {
			if err := st.EnsureSchema(ctx, cfg.Timescale.Hypertable); err != nil {
				_ = st.Close()
				return nil, nil, fmt.Errorf("bootstrap timescale schema: %w", err)
			}
		}
		return st, st, nil

	case config.BackendRedis:
		st, err := sink.NewRedisStore(ctx, sink.RedisOptions{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			Retention: cfg.Redis.Retention,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open redis store: %w", err)
		}
		return st, st, nil

	case config.BackendNone:
		return sink.NopStore{}, nil, nil

	case config.BackendMemory, "":
		return sink.NewMemoryStore(cfg.Memory.Capacity), nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown persistence backend %q", cfg.Backend)
	}
}
