// Package sqlite is a durable single-host cache.Backend. Entries survive a
// restart but are not shared across hosts.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/tokend/pkg/cache"
	"github.com/aussiebroadwan/tokend/pkg/clockx"

	_ "modernc.org/sqlite"
)

type Backend struct {
	db    *sql.DB
	clock clockx.Clock
}

var (
	_ cache.Backend = (*Backend)(nil)
	_ cache.Sweeper = (*Backend)(nil)
	_ cache.Pinger  = (*Backend)(nil)
)

// Open opens the database at dsn without touching the schema. Call
// ApplyMigrations before use.
func Open(dsn string, clock clockx.Clock) (*Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite cache: open: %w", err)
	}

	// SQLite allows a single writer; one connection also keeps ":memory:"
	// databases from splitting per connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, cache.Unavailable("ping", err)
	}

	return &Backend{db: db, clock: clockx.OrReal(clock)}, nil
}

// New opens dsn and applies migrations.
func New(dsn string, clock clockx.Clock) (*Backend, error) {
	b, err := Open(dsn, clock)
	if err != nil {
		return nil, err
	}
	if err := b.ApplyMigrations(); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

// FileDSN builds the connection string used for on-disk cache files.
func FileDSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
}

func (b *Backend) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := cache.ValidatePut(key, ttl); err != nil {
		return err
	}

	expiresAt := b.clock.Now().Add(ttl).UnixMilli()
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt,
	)
	if err != nil {
		return cache.Unavailable("put", err)
	}
	return nil
}

func (b *Backend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value     []byte
		expiresAt int64
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, cache.Unavailable("get", err)
	}

	if b.clock.Now().UnixMilli() >= expiresAt {
		// Expired: drop it now so it is not returned again.
		if _, err := b.db.ExecContext(ctx,
			`DELETE FROM cache_entries WHERE key = ? AND expires_at = ?`, key, expiresAt,
		); err != nil {
			return nil, false, cache.Unavailable("expire", err)
		}
		return nil, false, nil
	}

	return value, true, nil
}

func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := b.Get(ctx, key)
	return ok, err
}

func (b *Backend) Remove(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return cache.Unavailable("remove", err)
	}
	return nil
}

func (b *Backend) Clear(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return cache.Unavailable("clear", err)
	}
	return nil
}

// Sweep deletes expired rows.
func (b *Backend) Sweep(ctx context.Context) (int, error) {
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at <= ?`, b.clock.Now().UnixMilli(),
	)
	if err != nil {
		return 0, cache.Unavailable("sweep", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

func (b *Backend) Ping(ctx context.Context) error {
	if err := b.db.PingContext(ctx); err != nil {
		return cache.Unavailable("ping", err)
	}
	return nil
}

func (b *Backend) Close() error { return b.db.Close() }
