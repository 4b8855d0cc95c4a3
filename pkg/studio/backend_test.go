package studio

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStoreByBackend(t *testing.T) {
	ctx := context.Background()

	st, closer, err := OpenStore(ctx, PersistenceConfig{Backend: BackendMemory, Memory: MemoryConfig{Capacity: 10}})
	require.NoError(t, err)
	assert.Equal(t, "memory", st.Name())
	assert.Nil(t, closer)

	st, closer, err = OpenStore(ctx, PersistenceConfig{Backend: BackendNone})
	require.NoError(t, err)
	assert.Equal(t, "none", st.Name())
	assert.Nil(t, closer)

	_, err = st.QueryReadings(ctx, ReadingQuery{})
	assert.ErrorIs(t, err, ErrQueryUnsupported)

	_, _, err = OpenStore(ctx, PersistenceConfig{Backend: "cassandra"})
	assert.Error(t, err)
}

func TestOpenStoreRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	st, closer, err := OpenStore(context.Background(), PersistenceConfig{
		Backend: BackendRedis,
		Redis:   RedisConfig{Addr: mr.Addr(), KeyPrefix: "test:"},
	})
	require.NoError(t, err)
	require.NotNil(t, closer)
	defer closer.Close()

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.AppendReading(context.Background(), Reading{
		SourceID:   "D1",
		CapturedAt: at,
		Fields:     []Field{{Name: "t", Value: 21.5}},
	}))

	samples, err := st.QueryReadings(context.Background(), ReadingQuery{SourceID: "D1"})
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 21.5, samples[0].Fields[0].Value)
	assert.True(t, mr.Exists("test:sources"))
}

func TestOpenStoreTimescaleUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, _, err := OpenStore(ctx, PersistenceConfig{
		Backend:   BackendTimescale,
		Timescale: TimescaleConfig{ConnString: "postgres://studio@127.0.0.1:1/studio?sslmode=disable&connect_timeout=1", Table: "readings"},
	})
	require.Error(t, err)
}
