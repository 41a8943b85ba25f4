// Package dedup stores the last committed position per inbound identity so
// that a redelivered message can be recognised as already processed.
package dedup

import (
	"context"
	"fmt"
	"strings"
	"time"

	errspkg "github.com/drblury/commitguard/internal/runtime/errors"
)

// Store maps an identity key to the last committed position string.
// Implementations must be safe for concurrent use.
type Store interface {
	// Lookup returns the stored position for key.
	Lookup(ctx context.Context, key string) (string, bool, error)
	// Record overwrites the stored position for key.
	Record(ctx context.Context, key, position string) error
	// Cleanup drops entries not updated within olderThan. Stores that expire
	// entries on their own treat it as a no-op.
	Cleanup(ctx context.Context, olderThan time.Duration) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendPGX      = "pgx"
	BackendSQLite   = "sqlite"
)

// Config selects and configures a Store.
type Config struct {
	Backend string
	// DSN is the connection string for the SQL backends.
	DSN string
	// Table overrides the SQL table name.
	Table string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// TTL bounds how long entries live in Redis. Zero keeps them forever.
	TTL time.Duration
}

// Open builds the store named by cfg.Backend. An empty backend selects the
// in-memory store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendRedis:
		return NewRedisStore(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.TTL,
		})
	case BackendPostgres:
		return OpenSQL(ctx, "postgres", cfg.DSN, DialectPostgres, cfg.Table)
	case BackendPGX:
		return OpenSQL(ctx, "pgx", cfg.DSN, DialectPostgres, cfg.Table)
	case BackendSQLite:
		return OpenSQL(ctx, "sqlite3", cfg.DSN, DialectSQLite, cfg.Table)
	default:
		return nil, fmt.Errorf("%w: %q", errspkg.ErrUnknownDedupBackend, cfg.Backend)
	}
}
