package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aussiebroadwan/tokend/internal/tokend/domain"
	"github.com/aussiebroadwan/tokend/pkg/cache"
	"github.com/aussiebroadwan/tokend/pkg/clockx"
	"github.com/aussiebroadwan/tokend/pkg/cryptox"
	"github.com/aussiebroadwan/tokend/pkg/jwtx"
	"github.com/aussiebroadwan/tokend/pkg/slogx"
	"golang.org/x/sync/singleflight"
)

type ValidatorConfig struct {
	// CacheEnabled turns the validation fast path on. The blacklist is
	// always consulted regardless.
	CacheEnabled bool

	// CacheTTL caps how long a verdict is cached. Zero means the token's
	// remaining lifetime.
	CacheTTL time.Duration
}

// Validator is the authoritative token check: blacklist, then the cached
// verdict, then signature verification.
type Validator struct {
	cache    cache.Backend
	verifier jwtx.Verifier
	clock    clockx.Clock
	cfg      ValidatorConfig
	observer Observer

	// verifies collapses concurrent verification of the same token.
	verifies singleflight.Group
}

func NewValidator(backend cache.Backend, verifier jwtx.Verifier, clock clockx.Clock, cfg ValidatorConfig, obs Observer) (*Validator, error) {
	if backend == nil || verifier == nil {
		return nil, errors.New("service: validator needs a cache backend and a verifier")
	}
	if cfg.CacheTTL < 0 {
		return nil, errors.New("service: validation cache ttl must not be negative")
	}
	return &Validator{
		cache:    backend,
		verifier: verifier,
		clock:    clockx.OrReal(clock),
		cfg:      cfg,
		observer: orNop(obs),
	}, nil
}

// Validate checks token and reports why it was rejected, if it was. The error
// is non-nil only when token state could not be read; the result is then
// invalid with ReasonUnavailable.
func (v *Validator) Validate(ctx context.Context, token string) (domain.ValidationResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		v.observer.TokenValidated(string(domain.ReasonEmpty), PathPre)
		return domain.Invalid(domain.ReasonEmpty), nil
	}

	log := slogx.FromContext(ctx)
	hash := cryptox.FingerprintToken(token)

	blocked, err := v.cache.Exists(ctx, blacklistKey(hash))
	if err != nil {
		// Can't prove the token isn't revoked, so it isn't valid.
		log.Warn("blacklist unreadable, rejecting token",
			slog.String("token_fp", hash[:8]),
			slog.Any("error", err),
		)
		v.observer.TokenValidated(string(domain.ReasonUnavailable), PathPre)
		return domain.Invalid(domain.ReasonUnavailable), asUnavailable("blacklist check", err)
	}
	if blocked {
		v.observer.TokenValidated(string(domain.ReasonBlacklisted), PathPre)
		return domain.Invalid(domain.ReasonBlacklisted), nil
	}

	if v.cfg.CacheEnabled {
		if claims, ok := v.cached(ctx, hash); ok {
			v.observer.TokenValidated("valid", PathCache)
			return domain.Valid(claims), nil
		}
	}

	res, _, _ := v.verifies.Do(hash, func() (any, error) {
		return v.verify(ctx, token, hash), nil
	})
	result := res.(domain.ValidationResult)

	label := "valid"
	if !result.Valid {
		label = string(result.Reason)
	}
	v.observer.TokenValidated(label, PathVerify)
	return result, nil
}

// Authenticate adapts Validate for bearer authentication: any rejection is an
// error wrapping ErrTokenRejected.
func (v *Validator) Authenticate(ctx context.Context, token string) (jwtx.Claims, error) {
	res, err := v.Validate(ctx, token)
	if err != nil {
		return jwtx.Claims{}, err
	}
	if !res.Valid {
		return jwtx.Claims{}, fmt.Errorf("%w: %s", ErrTokenRejected, res.Reason)
	}
	return res.Claims, nil
}

// cached returns the stored verdict for hash if it is still within the
// token's lifetime. Read failures fall through to verification.
func (v *Validator) cached(ctx context.Context, hash string) (jwtx.Claims, bool) {
	log := slogx.FromContext(ctx)

	raw, ok, err := v.cache.Get(ctx, validationKey(hash))
	if err != nil {
		log.Warn("validation cache read failed, verifying instead",
			slog.String("token_fp", hash[:8]),
			slog.Any("error", err),
		)
		return jwtx.Claims{}, false
	}
	if !ok {
		return jwtx.Claims{}, false
	}

	var claims jwtx.Claims
	if err := json.Unmarshal(raw, &claims); err != nil {
		log.Warn("dropping undecodable validation entry", slog.Any("error", err))
		_ = v.cache.Remove(ctx, validationKey(hash))
		return jwtx.Claims{}, false
	}
	if claims.Remaining(v.clock.Now()) <= 0 {
		return jwtx.Claims{}, false
	}

	log.Debug("validation cache hit", slog.String("token_fp", hash[:8]))
	return claims, true
}

func (v *Validator) verify(ctx context.Context, token, hash string) domain.ValidationResult {
	claims, err := v.verifier.Verify(token)
	if err != nil {
		// Negative results are never cached.
		return domain.Invalid(reasonFor(err))
	}

	if v.cfg.CacheEnabled {
		v.remember(ctx, hash, claims)
	}
	return domain.Valid(claims)
}

// remember caches a positive verdict for no longer than the token lives.
func (v *Validator) remember(ctx context.Context, hash string, claims jwtx.Claims) {
	ttl := claims.Remaining(v.clock.Now())
	if v.cfg.CacheTTL > 0 && v.cfg.CacheTTL < ttl {
		ttl = v.cfg.CacheTTL
	}
	if ttl <= 0 {
		return
	}

	raw, err := json.Marshal(claims)
	if err == nil {
		err = v.cache.Put(ctx, validationKey(hash), raw, ttl)
	}
	if err != nil {
		slogx.FromContext(ctx).Warn("could not cache validation result",
			slog.String("token_fp", hash[:8]),
			slog.Any("error", err),
		)
	}
}

func reasonFor(err error) domain.Reason {
	switch {
	case errors.Is(err, jwtx.ErrExpired):
		return domain.ReasonExpired
	case errors.Is(err, jwtx.ErrInvalidSig),
		errors.Is(err, jwtx.ErrIssuer),
		errors.Is(err, jwtx.ErrAudience):
		return domain.ReasonBadSignature
	default:
		return domain.ReasonMalformed
	}
}

func asUnavailable(op string, err error) error {
	if errors.Is(err, cache.ErrBackendUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return cache.Unavailable(op, err)
}
