package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aussiebroadwan/tokend/pkg/cache"
)

// indexedToken is one outstanding access token of a subject.
type indexedToken struct {
	Hash      string    `json:"hash"`
	TokenID   string    `json:"jti"`
	ExpiresAt time.Time `json:"exp"`
}

// principalIndex tracks outstanding access tokens per subject so that
// revoke-all can blacklist them. Updates are read-modify-write on one cache
// key, serialized per subject inside this process only.
type principalIndex struct {
	cache cache.Backend
	locks keyedMutex
}

func (ix *principalIndex) add(ctx context.Context, subject string, tok indexedToken, now time.Time) error {
	unlock := ix.locks.lock(subject)
	defer unlock()

	live, err := ix.load(ctx, subject, now)
	if err != nil {
		return err
	}
	live = append(live, tok)
	return ix.store(ctx, subject, live, now)
}

// revokeEach calls block for every live token of subject and forgets the
// index only once all of them succeeded. On failure the index is left whole
// so a retry finds the tokens that were not blocked.
func (ix *principalIndex) revokeEach(ctx context.Context, subject string, now time.Time, block func(indexedToken) error) (int, error) {
	unlock := ix.locks.lock(subject)
	defer unlock()

	live, err := ix.load(ctx, subject, now)
	if err != nil {
		return 0, fmt.Errorf("load principal index: %w", err)
	}
	for i, t := range live {
		if err := block(t); err != nil {
			return i, err
		}
	}
	if err := ix.cache.Remove(ctx, principalIndexKey(subject)); err != nil {
		return len(live), fmt.Errorf("clear principal index: %w", err)
	}
	return len(live), nil
}

// load returns the unexpired entries for subject.
func (ix *principalIndex) load(ctx context.Context, subject string, now time.Time) ([]indexedToken, error) {
	raw, ok, err := ix.cache.Get(ctx, principalIndexKey(subject))
	if err != nil || !ok {
		return nil, err
	}

	var all []indexedToken
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("decode principal index: %w", err)
	}

	live := all[:0]
	for _, t := range all {
		if now.Before(t.ExpiresAt) {
			live = append(live, t)
		}
	}
	return live, nil
}

// store writes entries with a TTL reaching the latest expiry among them.
func (ix *principalIndex) store(ctx context.Context, subject string, entries []indexedToken, now time.Time) error {
	var last time.Time
	for _, t := range entries {
		if t.ExpiresAt.After(last) {
			last = t.ExpiresAt
		}
	}
	ttl := last.Sub(now)
	if ttl <= 0 {
		return ix.cache.Remove(ctx, principalIndexKey(subject))
	}

	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return ix.cache.Put(ctx, principalIndexKey(subject), raw, ttl)
}

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
