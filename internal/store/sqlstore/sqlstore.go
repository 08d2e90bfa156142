// Package sqlstore persists users, files and activity events through
// database/sql. It supports PostgreSQL (lib/pq) and SQLite (mattn/go-sqlite3).
//
// Counters that must survive concurrent requests (failed login attempts and
// used downloads) are only ever changed by a single conditional UPDATE, never
// by read-modify-write in Go.
package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/secure-share-hub/internal/models"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to the database and creates the schema if needed.
// For sqlite3 the dsn is a file path.
func Open(ctx context.Context, driverName, dsn string, maxOpenConns int) (*Store, error) {
	switch driverName {
	case DriverPostgres:
	case DriverSQLite:
		// One writer at a time; waiting on the lock beats SQLITE_BUSY.
		if !strings.Contains(dsn, "?") {
			dsn += "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
		}
		maxOpenConns = 1
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driverName)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}

	s := &Store{db: db, driver: driverName}
	if err := s.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Users() *UserRepo { return &UserRepo{s} }

func (s *Store) Files() *FileRepo { return &FileRepo{s} }

func (s *Store) Activities() *ActivityRepo { return &ActivityRepo{s} }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", classify(err))
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('user', 'admin')),
		failed_attempts INTEGER NOT NULL DEFAULT 0 CHECK (failed_attempts >= 0),
		lock_until BIGINT,
		reset_token_hash TEXT,
		reset_token_expiry BIGINT,
		created_at BIGINT NOT NULL,
		CHECK ((reset_token_hash IS NULL) = (reset_token_expiry IS NULL))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_reset_token ON users(reset_token_hash)`,
	`CREATE TABLE IF NOT EXISTS files (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		original_name TEXT NOT NULL,
		size BIGINT NOT NULL DEFAULT 0,
		content_type TEXT NOT NULL DEFAULT '',
		storage_key TEXT NOT NULL,
		access_token TEXT NOT NULL UNIQUE,
		expires_at BIGINT NOT NULL,
		max_downloads INTEGER NOT NULL DEFAULT 0 CHECK (max_downloads >= 0),
		used_downloads INTEGER NOT NULL DEFAULT 0 CHECK (used_downloads >= 0),
		status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'revoked')),
		visibility TEXT NOT NULL DEFAULT 'private' CHECK (visibility IN ('public', 'private')),
		uploaded_at BIGINT NOT NULL,
		CHECK (max_downloads = 0 OR used_downloads <= max_downloads)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_files_owner ON files(owner_id)`,
	`CREATE TABLE IF NOT EXISTS activities (
		id TEXT PRIMARY KEY,
		file_id TEXT NOT NULL,
		occurred_at BIGINT NOT NULL,
		event_type TEXT NOT NULL,
		status TEXT NOT NULL,
		details TEXT NOT NULL DEFAULT '',
		ip_address TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_activities_file ON activities(file_id)`,
	`CREATE INDEX IF NOT EXISTS idx_activities_occurred_at ON activities(occurred_at)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders as $1, $2... for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	return res, classify(err)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	return rows, classify(err)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

// classify maps driver errors onto the models sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", models.ErrNotFound, err)
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch {
		case liteErr.ExtendedCode == sqlite3.ErrConstraintUnique,
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %v", models.ErrConflict, err)
		case liteErr.Code == sqlite3.ErrBusy, liteErr.Code == sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", models.ErrUnavailable, err)
		}
		return err
	}

	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return fmt.Errorf("%w: %v", models.ErrConflict, err)
		case pgErr.Code.Class() == "08", pgErr.Code.Class() == "57":
			return fmt.Errorf("%w: %v", models.ErrUnavailable, err)
		}
		return err
	}

	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", models.ErrUnavailable, err)
	}
	return err
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func stringPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}

func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return " LIMIT " + strconv.Itoa(limit)
}
