package dedup

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRecordAndLookup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, ok, err := store.Lookup(ctx, "orders/worker-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Record(ctx, "orders/worker-1", "0/42"))
	pos, ok, err := store.Lookup(ctx, "orders/worker-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "0/42", pos)

	require.NoError(t, store.Record(ctx, "orders/worker-1", "0/42"))
	pos, _, _ = store.Lookup(ctx, "orders/worker-1")
	assert.Equal(t, "0/42", pos)
	assert.Equal(t, 1, store.Len())

	require.NoError(t, store.Record(ctx, "orders/worker-1", "0/43"))
	pos, _, _ = store.Lookup(ctx, "orders/worker-1")
	assert.Equal(t, "0/43", pos)
}

func TestMemoryStoreConcurrentIdentities(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func(partition int) {
			defer wg.Done()
			key := fmt.Sprintf("orders/worker-1#%d", partition)
			for offset := 0; offset < 200; offset++ {
				assert.NoError(t, store.Record(ctx, key, fmt.Sprintf("%d/%d", partition, offset)))
				_, _, err := store.Lookup(ctx, key)
				assert.NoError(t, err)
			}
		}(p)
	}
	wg.Wait()

	assert.Equal(t, 8, store.Len())
	pos, ok, _ := store.Lookup(ctx, "orders/worker-1#3")
	require.True(t, ok)
	assert.Equal(t, "3/199", pos)
}

func TestMemoryStoreCleanup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Record(ctx, "old", "0/1"))
	now = now.Add(2 * time.Hour)
	require.NoError(t, store.Record(ctx, "fresh", "0/2"))

	require.NoError(t, store.Cleanup(ctx, time.Hour))

	_, ok, _ := store.Lookup(ctx, "old")
	assert.False(t, ok)
	_, ok, _ = store.Lookup(ctx, "fresh")
	assert.True(t, ok)
	assert.NoError(t, store.Close())
}

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, Config{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	store, err = Open(ctx, Config{Backend: "SQLite", DSN: t.TempDir() + "/dedup.db"})
	require.NoError(t, err)
	assert.IsType(t, &SQLStore{}, store)
	require.NoError(t, store.Record(ctx, "k", "1/1"))
	pos, ok, err := store.Lookup(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1/1", pos)
	require.NoError(t, store.Close())

	_, err = Open(ctx, Config{Backend: "cassandra"})
	assert.ErrorContains(t, err, "unknown dedup backend")

	_, err = Open(ctx, Config{Backend: BackendRedis})
	assert.Error(t, err)
}
