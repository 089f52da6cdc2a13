// Package memory is the in-process cache.Backend. State is lost on restart
// and is not shared between instances.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aussiebroadwan/tokend/pkg/cache"
	"github.com/aussiebroadwan/tokend/pkg/clockx"
)

type entry struct {
	value   []byte
	expires time.Time
}

// Backend stores (value, absolute expiry) pairs. Expired entries are dropped
// lazily on read and optionally by Sweep.
type Backend struct {
	mu      sync.RWMutex
	entries map[string]entry
	clock   clockx.Clock
	closed  bool

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

var (
	_ cache.Backend       = (*Backend)(nil)
	_ cache.Sweeper       = (*Backend)(nil)
	_ cache.Pinger        = (*Backend)(nil)
	_ cache.StatsReporter = (*Backend)(nil)
)

// New returns an empty Backend. A nil clock uses wall time.
func New(clock clockx.Clock) *Backend {
	return &Backend{
		entries: make(map[string]entry),
		clock:   clockx.OrReal(clock),
	}
}

func (b *Backend) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := cache.ValidatePut(key, ttl); err != nil {
		return err
	}

	// Copy so callers can reuse their buffer.
	v := make([]byte, len(value))
	copy(v, value)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return cache.ErrClosed
	}
	b.entries[key] = entry{value: v, expires: b.clock.Now().Add(ttl)}
	return nil
}

func (b *Backend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	e, ok, err := b.lookup(key)
	if err != nil || !ok {
		b.misses.Add(1)
		return nil, false, err
	}
	b.hits.Add(1)

	v := make([]byte, len(e.value))
	copy(v, e.value)
	return v, true, nil
}

func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := b.lookup(key)
	return ok, err
}

func (b *Backend) Remove(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return cache.ErrClosed
	}
	delete(b.entries, key)
	return nil
}

func (b *Backend) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return cache.ErrClosed
	}
	b.entries = make(map[string]entry)
	return nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.entries = nil
	return nil
}

func (b *Backend) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return cache.ErrClosed
	}
	return nil
}

// Sweep removes every expired entry and returns how many were dropped.
func (b *Backend) Sweep(ctx context.Context) (int, error) {
	now := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, cache.ErrClosed
	}

	removed := 0
	for k, e := range b.entries {
		if expired(e, now) {
			delete(b.entries, k)
			removed++
		}
	}
	b.evictions.Add(uint64(removed))
	return removed, nil
}

func (b *Backend) Stats() cache.Stats {
	b.mu.RLock()
	n := len(b.entries)
	b.mu.RUnlock()

	return cache.Stats{
		Hits:      b.hits.Load(),
		Misses:    b.misses.Load(),
		Evictions: b.evictions.Load(),
		Entries:   n,
	}
}

// lookup returns the live entry for key, deleting it if it has expired.
func (b *Backend) lookup(key string) (entry, bool, error) {
	now := b.clock.Now()

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return entry{}, false, cache.ErrClosed
	}
	e, ok := b.entries[key]
	b.mu.RUnlock()
	if !ok {
		return entry{}, false, nil
	}

	if expired(e, now) {
		b.mu.Lock()
		// Re-check: a concurrent Put may have replaced the entry.
		if cur, ok := b.entries[key]; ok && expired(cur, now) {
			delete(b.entries, key)
			b.evictions.Add(1)
		}
		b.mu.Unlock()
		return entry{}, false, nil
	}

	return e, true, nil
}

func expired(e entry, now time.Time) bool {
	return !now.Before(e.expires)
}
