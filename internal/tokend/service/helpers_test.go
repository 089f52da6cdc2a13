package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/tokend/internal/tokend/domain"
	"github.com/aussiebroadwan/tokend/pkg/cache"
	"github.com/aussiebroadwan/tokend/pkg/cache/memory"
	"github.com/aussiebroadwan/tokend/pkg/clockx"
	"github.com/aussiebroadwan/tokend/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

// countingVerifier counts how often real signature verification runs.
type countingVerifier struct {
	inner jwtx.Verifier
	calls atomic.Int64
	gate  chan struct{} // when set, Verify waits on it
}

func (v *countingVerifier) Verify(token string) (jwtx.Claims, error) {
	v.calls.Add(1)
	if v.gate != nil {
		<-v.gate
	}
	return v.inner.Verify(token)
}

// flakyBackend fails selected operations with a wrapped unavailable error.
type flakyBackend struct {
	cache.Backend
	failExists atomic.Bool
	failGet    atomic.Bool
	failPut    atomic.Bool

	// putsBeforeFailure lets that many Puts through, then turns failPut on.
	putsBeforeFailure atomic.Int64
}

var errDown = cache.Unavailable("test", errors.New("connection refused"))

func (b *flakyBackend) Exists(ctx context.Context, key string) (bool, error) {
	if b.failExists.Load() {
		return false, errDown
	}
	return b.Backend.Exists(ctx, key)
}

func (b *flakyBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if b.failGet.Load() {
		return nil, false, errDown
	}
	return b.Backend.Get(ctx, key)
}

func (b *flakyBackend) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if b.failPut.Load() {
		return errDown
	}
	if b.putsBeforeFailure.Load() > 0 && b.putsBeforeFailure.Add(-1) == 0 {
		b.failPut.Store(true)
	}
	return b.Backend.Put(ctx, key, value, ttl)
}

// recordingObserver keeps every event label.
type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recordingObserver) add(e string) {
	o.mu.Lock()
	o.events = append(o.events, e)
	o.mu.Unlock()
}

func (o *recordingObserver) TokenIssued() { o.add("issued") }
func (o *recordingObserver) TokenRefreshed(out string) { o.add("refreshed:" + out) }
func (o *recordingObserver) TokenValidated(r, p string) { o.add("validated:" + r + ":" + p) }
func (o *recordingObserver) TokenRevoked(kind string) { o.add("revoked:" + kind) }

func (o *recordingObserver) snapshot() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}

type harness struct {
	clock    *clockx.Fake
	backend  *flakyBackend
	verifier *countingVerifier
	observer *recordingObserver

	issuer    *Issuer
	validator *Validator
	revoker   *Revoker
}

type harnessOpts struct {
	accessTTL   time.Duration
	rotate      bool
	trackTokens bool
	noCache     bool
	cacheTTL    time.Duration
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()

	clock := clockx.NewFake(testStart)
	backend := &flakyBackend{Backend: memory.New(clock)}
	t.Cleanup(func() { _ = backend.Close() })

	codec, err := jwtx.NewCodec(jwtx.CodecOptions{
		KeyOptions: jwtx.KeyOptions{Algorithm: jwtx.AlgorithmHS256, Secret: []byte("service-test-secret")},
		Issuer:     "tokend",
		Audience:   []string{"tokend-api"},
		Leeway:     jwtx.DefaultLeeway,
		Clock:      clock,
	})
	require.NoError(t, err)

	verifier := &countingVerifier{inner: codec}
	obs := &recordingObserver{}

	ttl := opts.accessTTL
	if ttl == 0 {
		ttl = time.Hour
	}

	var index *PrincipalIndex
	if opts.trackTokens {
		index = NewPrincipalIndex(backend)
	}

	issuer, err := NewIssuer(backend, codec, clock, IssuerConfig{
		Issuer:               "tokend",
		Audience:             []string{"tokend-api"},
		AccessTTL:            ttl,
		RefreshMultiplier:    10,
		RotateRefresh:        opts.rotate,
		TrackPrincipalTokens: opts.trackTokens,
	}, index, obs)
	require.NoError(t, err)

	validator, err := NewValidator(backend, verifier, clock, ValidatorConfig{
		CacheEnabled: !opts.noCache,
		CacheTTL:     opts.cacheTTL,
	}, obs)
	require.NoError(t, err)

	revoker, err := NewRevoker(backend, clock, index, RevokerConfig{MaxTokenLifetime: ttl + time.Minute}, obs)
	require.NoError(t, err)

	return &harness{
		clock:     clock,
		backend:   backend,
		verifier:  verifier,
		observer:  obs,
		issuer:    issuer,
		validator: validator,
		revoker:   revoker,
	}
}

func alice() domain.Principal {
	return domain.Principal{
		Subject:     "user-alice",
		Username:    "alice",
		DisplayName: "Alice Example",
		Email:       "alice@example.com",
		Roles:       []string{"admin", "auditor"},
		Permissions: []string{"users:read", "tokens:revoke"},
		Attributes:  map[string]string{"department": "finance"},
	}
}

func (h *harness) requireReason(t *testing.T, token string, want domain.Reason) domain.ValidationResult {
	t.Helper()
	res, err := h.validator.Validate(context.Background(), token)
	require.NoError(t, err)
	if want == domain.ReasonNone {
		require.True(t, res.Valid, "expected valid, got %q", res.Reason)
	} else {
		require.False(t, res.Valid)
		require.Equal(t, want, res.Reason)
	}
	return res
}
