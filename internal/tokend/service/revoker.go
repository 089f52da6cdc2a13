package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aussiebroadwan/tokend/pkg/cache"
	"github.com/aussiebroadwan/tokend/pkg/clockx"
	"github.com/aussiebroadwan/tokend/pkg/cryptox"
	"github.com/aussiebroadwan/tokend/pkg/jwtx"
	"github.com/aussiebroadwan/tokend/pkg/slogx"
)

type RevokerConfig struct {
	// MaxTokenLifetime caps blacklist entries. Revoke reads exp without
	// checking the signature, so a forged far-future exp must not buy a
	// longer entry than any issued token could need. Zero means no cap.
	MaxTokenLifetime time.Duration
}

// Revoker ends sessions early.
type Revoker struct {
	cache    cache.Backend
	clock    clockx.Clock
	index    *principalIndex
	cfg      RevokerConfig
	observer Observer
}

// NewRevoker wires a Revoker. Pass the same index as the Issuer to make
// RevokeAllForPrincipal blacklist outstanding tokens; nil keeps the basic
// behavior.
func NewRevoker(backend cache.Backend, clock clockx.Clock, index *PrincipalIndex, cfg RevokerConfig, obs Observer) (*Revoker, error) {
	if backend == nil {
		return nil, errors.New("service: revoker needs a cache backend")
	}
	if cfg.MaxTokenLifetime < 0 {
		return nil, errors.New("service: max token lifetime must not be negative")
	}
	r := &Revoker{
		cache:    backend,
		clock:    clockx.OrReal(clock),
		cfg:      cfg,
		observer: orNop(obs),
	}
	if index != nil {
		r.index = index.ix
	}
	return r, nil
}

// Revoke blacklists token until its own expiry and drops its cached verdict.
// The signature is not checked: blocking a forged token is harmless. Tokens
// that can't be parsed are ignored.
func (r *Revoker) Revoke(ctx context.Context, token string) error {
	log := slogx.FromContext(ctx)

	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	claims, err := jwtx.ParseUnverified(token)
	if err != nil {
		log.Debug("revoke: token not parseable, nothing to do")
		return nil
	}

	hash := cryptox.FingerprintToken(token)
	ttl := claims.Remaining(r.clock.Now())
	if limit := r.cfg.MaxTokenLifetime; limit > 0 && ttl > limit {
		log.Warn("revoke: exp beyond any issued lifetime, capping blacklist entry",
			slog.String("token_fp", hash[:8]),
			slog.Duration("claimed", ttl),
		)
		ttl = limit
	}
	if err := r.block(ctx, hash, ttl); err != nil {
		return err
	}

	r.observer.TokenRevoked(RevokeToken)
	log.Info("token revoked",
		slog.String("subject", claims.Subject),
		slog.String("token_fp", hash[:8]),
		slog.Duration("blacklist_ttl", max(ttl, 0)),
	)
	return nil
}

// RevokeAllForPrincipal ends the subject's tracked session so later refreshes
// fail. Access tokens already handed out stay valid until they expire, unless
// the principal index is enabled, in which case every one of them is
// blacklisted too. It returns how many tokens were blacklisted.
func (r *Revoker) RevokeAllForPrincipal(ctx context.Context, subject string) (int, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return 0, ErrInvalidPrincipal
	}

	if err := r.cache.Remove(ctx, sessionSubjectKey(subject)); err != nil {
		return 0, fmt.Errorf("evict session: %w", err)
	}

	blocked := 0
	if r.index != nil {
		now := r.clock.Now()
		var err error
		blocked, err = r.index.revokeEach(ctx, subject, now, func(t indexedToken) error {
			return r.block(ctx, t.Hash, t.ExpiresAt.Sub(now))
		})
		if err != nil {
			return blocked, err
		}
	}

	r.observer.TokenRevoked(RevokePrincipal)
	slogx.FromContext(ctx).Info("principal sessions revoked",
		slog.String("subject", subject),
		slog.Int("tokens_blacklisted", blocked),
	)
	return blocked, nil
}

// block writes the blacklist entry (when the token still has life left) and
// evicts cached state for hash. A failed eviction is only logged: the
// blacklist is checked before the cache, so it cannot resurrect the token.
func (r *Revoker) block(ctx context.Context, hash string, ttl time.Duration) error {
	if ttl > 0 {
		if err := r.cache.Put(ctx, blacklistKey(hash), blacklistMarker, ttl); err != nil {
			return fmt.Errorf("blacklist token: %w", err)
		}
	}

	for _, key := range []string{validationKey(hash), sessionTokenKey(hash)} {
		if err := r.cache.Remove(ctx, key); err != nil {
			slogx.FromContext(ctx).Warn("revoke: eviction failed",
				slog.String("key", strings.SplitN(key, ":", 2)[0]),
				slog.Any("error", err),
			)
		}
	}
	return nil
}
