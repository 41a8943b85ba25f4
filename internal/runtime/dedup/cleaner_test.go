package dedup

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	*MemoryStore
	sweeps atomic.Int32
	err    error
}

func (s *countingStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	s.sweeps.Add(1)
	if s.err != nil {
		return s.err
	}
	return s.MemoryStore.Cleanup(ctx, olderThan)
}

func TestCleanerEnabled(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })

	tests := []struct {
		name      string
		store     Store
		retention time.Duration
		want      bool
	}{
		{"memory with retention", NewMemoryStore(), time.Hour, true},
		{"memory without retention", NewMemoryStore(), 0, false},
		{"redis with ttl", NewRedisStoreFromClient(client, time.Hour), time.Hour, false},
		{"redis without ttl", NewRedisStoreFromClient(client, 0), time.Hour, true},
		{"no store", nil, time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCleaner(tt.store, CleanerOptions{Retention: tt.retention})
			assert.Equal(t, tt.want, c.Enabled())
		})
	}
}

func TestCleanerDerivesInterval(t *testing.T) {
	tests := []struct {
		retention time.Duration
		interval  time.Duration
		want      time.Duration
	}{
		{10 * time.Minute, 0, 5 * time.Minute},
		{time.Second, 0, time.Second},
		{48 * time.Hour, 0, time.Hour},
		{time.Hour, 30 * time.Second, 30 * time.Second},
	}
	for _, tt := range tests {
		c := NewCleaner(NewMemoryStore(), CleanerOptions{Retention: tt.retention, Interval: tt.interval})
		assert.Equal(t, tt.want, c.Interval(), "retention %s", tt.retention)
	}
}

func TestCleanerRunDropsExpiredEntries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := NewMemoryStore()
	require.NoError(t, store.Record(ctx, "orders/worker-1", "0/42"))
	require.NoError(t, store.Record(ctx, "billing/worker-1", "3/7"))
	store.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	c := NewCleaner(store, CleanerOptions{Retention: time.Hour, Interval: 5 * time.Millisecond})
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return store.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestCleanerRunKeepsGoingAfterFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &countingStore{MemoryStore: NewMemoryStore(), err: errors.New("database is locked")}

	c := NewCleaner(store, CleanerOptions{Retention: time.Hour, Interval: 5 * time.Millisecond})
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return store.sweeps.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestCleanerRunStopsOnCancelledSweep(t *testing.T) {
	store := &countingStore{MemoryStore: NewMemoryStore(), err: context.Canceled}
	c := NewCleaner(store, CleanerOptions{Retention: time.Hour, Interval: 5 * time.Millisecond})

	assert.ErrorIs(t, c.Run(context.Background()), context.Canceled)
	assert.Equal(t, int32(1), store.sweeps.Load())
}

func TestCleanerRunDisabledReturnsImmediately(t *testing.T) {
	c := NewCleaner(NewMemoryStore(), CleanerOptions{})
	assert.NoError(t, c.Run(context.Background()))
}
