// Package cache defines the TTL-aware key/value contract shared by every
// token-state consumer. Implementations live in the memory, redis and sqlite
// subpackages and must behave identically for Put/Get/Remove/Exists.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrBackendUnavailable wraps every transport or driver failure.
	ErrBackendUnavailable = errors.New("cache: backend unavailable")
	ErrInvalidTTL         = errors.New("cache: ttl must be greater than zero")
	ErrInvalidKey         = errors.New("cache: key is required")
	ErrClosed             = errors.New("cache: backend closed")
)

// Backend is a TTL-bounded key/value store. Each call is individually atomic;
// sequences of calls are not.
type Backend interface {
	// Put stores value under key for ttl. A ttl <= 0 is rejected.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value and true, or false when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	Exists(ctx context.Context, key string) (bool, error)

	// Clear drops every entry owned by this backend.
	Clear(ctx context.Context) error

	Close() error
}

// Pinger is implemented by backends that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Sweeper is implemented by backends that hold expired entries until they
// are read. Sweeping reclaims space only; correctness never depends on it.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Stats are best-effort counters exposed by backends that track them.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Entries   int
}

// StatsReporter is implemented by backends that keep Stats.
type StatsReporter interface {
	Stats() Stats
}

// ValidatePut checks the arguments shared by every Put implementation.
func ValidatePut(key string, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}

// Unavailable wraps err so callers can match it with ErrBackendUnavailable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrBackendUnavailable, op, err)
}
