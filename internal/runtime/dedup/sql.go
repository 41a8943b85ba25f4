package dedup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultTable is the table used when none is configured.
const DefaultTable = "commitguard_dedup"

// Dialect captures the placeholder style of a SQL backend.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

func (d Dialect) placeholder(n int) string {
	if d == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

var validTableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLStore keeps positions in a relational table using an atomic upsert.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	table   string
	now     func() time.Time

	lookupSQL  string
	recordSQL  string
	cleanupSQL string
}

// OpenSQL opens db with driverName, pings it and creates the table.
func OpenSQL(ctx context.Context, driverName, dsn string, dialect Dialect, table string) (*SQLStore, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("commitguard: open %s: %w", driverName, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("commitguard: ping %s: %w", driverName, err)
	}
	store, err := NewSQLStore(db, dialect, table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an open database. The table must already exist or be
// created with EnsureSchema.
func NewSQLStore(db *sql.DB, dialect Dialect, table string) (*SQLStore, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("commitguard: invalid dedup table name %q", table)
	}
	p := dialect.placeholder
	return &SQLStore{
		db:      db,
		dialect: dialect,
		table:   table,
		now:     time.Now,
		lookupSQL: fmt.Sprintf(
			"SELECT position FROM %s WHERE identity = %s", table, p(1)),
		recordSQL: fmt.Sprintf(
			"INSERT INTO %s (identity, position, updated_at) VALUES (%s, %s, %s) "+
				"ON CONFLICT (identity) DO UPDATE SET position = excluded.position, updated_at = excluded.updated_at",
			table, p(1), p(2), p(3)),
		cleanupSQL: fmt.Sprintf(
			"DELETE FROM %s WHERE updated_at < %s", table, p(1)),
	}, nil
}

// EnsureSchema creates the dedup table when missing.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	identity TEXT PRIMARY KEY,
	position TEXT NOT NULL,
	updated_at BIGINT NOT NULL
)`, s.table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("commitguard: create dedup table: %w", err)
	}
	return nil
}

func (s *SQLStore) Lookup(ctx context.Context, key string) (string, bool, error) {
	var position string
	err := s.db.QueryRowContext(ctx, s.lookupSQL, key).Scan(&position)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return position, true, nil
}

func (s *SQLStore) Record(ctx context.Context, key, position string) error {
	_, err := s.db.ExecContext(ctx, s.recordSQL, key, position, s.now().UnixMilli())
	return err
}

func (s *SQLStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	cutoff := s.now().Add(-olderThan).UnixMilli()
	_, err := s.db.ExecContext(ctx, s.cleanupSQL, cutoff)
	return err
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
