// Package redis is the distributed cache.Backend. Entries are shared by every
// instance pointed at the same server and expire through native key TTLs.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aussiebroadwan/tokend/pkg/cache"
	goredis "github.com/redis/go-redis/v9"
)

const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second

	clearBatchSize = 500
)

type Config struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	Namespace    string // key prefix applied to every key, e.g. "tokend:"
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Backend implements cache.Backend on top of a go-redis UniversalClient.
type Backend struct {
	client    goredis.UniversalClient
	namespace string
	match     string // SCAN pattern covering exactly the namespace
}

var (
	_ cache.Backend = (*Backend)(nil)
	_ cache.Pinger  = (*Backend)(nil)
)

// New connects to the configured server and verifies it answers PING.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis cache: address is required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:        []string{cfg.Addr},
		DB:           cfg.DB,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, cache.Unavailable("ping", err)
	}

	return NewWithClient(client, cfg.Namespace), nil
}

// NewWithClient wraps an existing client. Useful with miniredis in tests.
func NewWithClient(client goredis.UniversalClient, namespace string) *Backend {
	return &Backend{client: client, namespace: namespace, match: globEscaper.Replace(namespace) + "*"}
}

// globEscaper quotes the characters SCAN MATCH treats as pattern syntax.
var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func (b *Backend) key(k string) string { return b.namespace + k }

func (b *Backend) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := cache.ValidatePut(key, ttl); err != nil {
		return err
	}
	if err := b.client.Set(ctx, b.key(key), value, ttl).Err(); err != nil {
		return cache.Unavailable("set", err)
	}
	return nil
}

func (b *Backend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := b.client.Get(ctx, b.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, false, nil
		}
		return nil, false, cache.Unavailable("get", err)
	}
	return v, true, nil
}

func (b *Backend) Remove(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, b.key(key)).Err(); err != nil {
		return cache.Unavailable("del", err)
	}
	return nil
}

func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Exists(ctx, b.key(key)).Result()
	if err != nil {
		return false, cache.Unavailable("exists", err)
	}
	return n > 0, nil
}

// Clear deletes every key under the namespace. With an empty namespace it
// clears the whole logical database, so deployments sharing a database
// should always configure one.
func (b *Backend) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := b.client.Scan(ctx, cursor, b.match, clearBatchSize).Result()
		if err != nil {
			return cache.Unavailable("scan", err)
		}
		if len(keys) > 0 {
			if err := b.client.Del(ctx, keys...).Err(); err != nil {
				return cache.Unavailable("del", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (b *Backend) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return cache.Unavailable("ping", err)
	}
	return nil
}

func (b *Backend) Close() error {
	if err := b.client.Close(); err != nil {
		return fmt.Errorf("redis cache: close: %w", err)
	}
	return nil
}
