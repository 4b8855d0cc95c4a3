package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/MENT2022/studio/internal/domain"
	"github.com/MENT2022/studio/internal/ports"
)

const (
	DefaultRedisPrefix = "studio:"
	anonymousSource    = "_"
)

type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// Retention trims readings older than this on every append; zero keeps everything.
	Retention time.Duration
}

// RedisStore keeps one sorted set per source, scored by capture time in
// milliseconds, plus a set indexing the known sources.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
	now       func() time.Time
}

type redisRecord struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id"`
	Topic      string         `json:"topic"`
	SourceID   string         `json:"source_id"`
	Fields     []domain.Field `json:"fields"`
	CapturedAt time.Time      `json:"captured_at"`
	Payload    []byte         `json:"payload,omitempty"`
}

func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", opts.Addr, err)
	}

	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{
		client:    client,
		prefix:    prefix,
		retention: opts.Retention,
		now:       time.Now,
	}, nil
}

func (r *RedisStore) Name() string { return "redis" }

func (r *RedisStore) sourcesKey() string { return r.prefix + "sources" }

func (r *RedisStore) readingsKey(sourceID string) string {
	if sourceID == "" {
		sourceID = anonymousSource
	}
	return r.prefix + "readings:" + sourceID
}

func (r *RedisStore) AppendReading(ctx context.Context, reading domain.Reading) error {
	data, err := json.Marshal(redisRecord{
		ID:         uuid.NewString(),
		SessionID:  reading.SessionID,
		Topic:      reading.Topic,
		SourceID:   reading.SourceID,
		Fields:     reading.Fields,
		CapturedAt: reading.CapturedAt,
		Payload:    reading.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal reading: %w", err)
	}

	key := r.readingsKey(reading.SourceID)
	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, key, &redis.Z{Score: float64(reading.CapturedAt.UnixMilli()), Member: data})
	pipe.SAdd(ctx, r.sourcesKey(), reading.SourceID)
	if r.retention > 0 {
		cutoff := r.now().Add(-r.retention).UnixMilli()
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store reading: %w", err)
	}
	return nil
}

// QueryReadings merges the matching sources and returns samples oldest first.
func (r *RedisStore) QueryReadings(ctx context.Context, q domain.ReadingQuery) ([]domain.Sample, error) {
	sources := []string{q.SourceID}
	if q.SourceID == "" {
		all, err := r.client.SMembers(ctx, r.sourcesKey()).Result()
		if err != nil {
			return nil, fmt.Errorf("list sources: %w", err)
		}
		sources = all
	}

	rng := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if !q.From.IsZero() {
		rng.Min = strconv.FormatInt(q.From.UnixMilli(), 10)
	}
	if !q.To.IsZero() {
		rng.Max = strconv.FormatInt(q.To.UnixMilli(), 10)
	}

	var out []domain.Sample
	for _, source := range sources {
		members, err := r.client.ZRangeByScore(ctx, r.readingsKey(source), rng).Result()
		if err != nil {
			return nil, fmt.Errorf("range readings for %q: %w", source, err)
		}
		for _, m := range members {
			var rec redisRecord
			if err := json.Unmarshal([]byte(m), &rec); err != nil {
				continue
			}
			if len(rec.Fields) == 0 || !q.Matches(rec.SourceID, rec.CapturedAt) {
				continue
			}
			out = append(out, domain.Sample{
				SourceID:   rec.SourceID,
				CapturedAt: rec.CapturedAt,
				Fields:     rec.Fields,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].CapturedAt.Before(out[j].CapturedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r *RedisStore) Close() error { return r.client.Close() }

var _ ports.ReadingStore = (*RedisStore)(nil)
