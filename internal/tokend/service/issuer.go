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
	"github.com/aussiebroadwan/tokend/pkg/idx"
	"github.com/aussiebroadwan/tokend/pkg/jwtx"
	"github.com/aussiebroadwan/tokend/pkg/slogx"
)

const (
	DefaultAccessTTL         = 24 * time.Hour
	DefaultRefreshMultiplier = 10
)

type IssuerConfig struct {
	Issuer   string
	Audience []string

	// AccessTTL is the access token lifetime (default: 24h).
	AccessTTL time.Duration

	// RefreshMultiplier sets the refresh lifetime as a multiple of AccessTTL
	// (default: 10).
	RefreshMultiplier int

	// RotateRefresh makes Refresh retire the presented refresh token and
	// return a new one. Off by default: refresh tokens are reusable.
	RotateRefresh bool

	// TrackPrincipalTokens keeps a per-subject index of outstanding access
	// tokens so RevokeAllForPrincipal can blacklist them.
	TrackPrincipalTokens bool
}

func (c IssuerConfig) refreshTTL() time.Duration {
	return c.AccessTTL * time.Duration(c.RefreshMultiplier)
}

// Issuer mints access/refresh token pairs and records session state.
type Issuer struct {
	cache    cache.Backend
	signer   jwtx.Signer
	clock    clockx.Clock
	ids      *idx.Generator
	cfg      IssuerConfig
	index    *principalIndex
	observer Observer
}

// NewIssuer wires an Issuer. index may be nil unless cfg.TrackPrincipalTokens
// is set; use NewPrincipalIndex to share one between Issuer and Revoker.
func NewIssuer(backend cache.Backend, signer jwtx.Signer, clock clockx.Clock, cfg IssuerConfig, index *PrincipalIndex, obs Observer) (*Issuer, error) {
	if backend == nil || signer == nil {
		return nil, errors.New("service: issuer needs a cache backend and a signer")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshMultiplier <= 0 {
		cfg.RefreshMultiplier = DefaultRefreshMultiplier
	}
	if cfg.TrackPrincipalTokens && index == nil {
		return nil, errors.New("service: principal token tracking needs an index")
	}

	clock = clockx.OrReal(clock)
	iss := &Issuer{
		cache:    backend,
		signer:   signer,
		clock:    clock,
		ids:      idx.NewGenerator(clock),
		cfg:      cfg,
		observer: orNop(obs),
	}
	if cfg.TrackPrincipalTokens {
		iss.index = index.ix
	}
	return iss, nil
}

// Issue mints a token pair for p. custom claims are carried under the token's
// "ext" claim with their kinds preserved.
func (s *Issuer) Issue(ctx context.Context, p domain.Principal, custom map[string]jwtx.ClaimValue) (domain.TokenBundle, error) {
	if err := p.Validate(); err != nil {
		return domain.TokenBundle{}, fmt.Errorf("%w: %w", ErrInvalidPrincipal, err)
	}

	refresh, err := jwtx.NewRefreshToken()
	if err != nil {
		return domain.TokenBundle{}, err
	}
	refreshHash := cryptox.FingerprintToken(refresh)

	bundle, err := s.mint(ctx, p.Clone(), custom, refreshHash, time.Time{})
	if err != nil {
		return domain.TokenBundle{}, err
	}

	if err := s.cache.Put(ctx, refreshKey(refreshHash), []byte(p.Subject), s.cfg.refreshTTL()); err != nil {
		return domain.TokenBundle{}, fmt.Errorf("store refresh token: %w", err)
	}
	bundle.RefreshToken = refresh

	s.observer.TokenIssued()
	slogx.FromContext(ctx).Info("token issued",
		slog.String("subject", p.Subject),
		slog.String("token_fp", cryptox.ShortFingerprint(bundle.AccessToken)),
	)
	return bundle, nil
}

// Refresh mints a new access token for the subject owning refreshToken. The
// old access token is left alone and stays valid until it expires or is
// revoked.
func (s *Issuer) Refresh(ctx context.Context, refreshToken string) (domain.TokenBundle, error) {
	b, err := s.refresh(ctx, strings.TrimSpace(refreshToken))
	switch {
	case err == nil:
		s.observer.TokenRefreshed(OutcomeSuccess)
	case errors.Is(err, ErrInvalidRefresh):
		s.observer.TokenRefreshed(OutcomeInvalid)
	default:
		s.observer.TokenRefreshed(OutcomeError)
	}
	return b, err
}

func (s *Issuer) refresh(ctx context.Context, refreshToken string) (domain.TokenBundle, error) {
	log := slogx.FromContext(ctx)
	if refreshToken == "" {
		return domain.TokenBundle{}, ErrInvalidRefresh
	}
	oldHash := cryptox.FingerprintToken(refreshToken)

	subject, ok, err := s.cache.Get(ctx, refreshKey(oldHash))
	if err != nil {
		return domain.TokenBundle{}, fmt.Errorf("load refresh token: %w", err)
	}
	if !ok {
		log.Info("refresh token not recognized", slog.String("refresh_fp", oldHash[:8]))
		return domain.TokenBundle{}, ErrInvalidRefresh
	}

	snap, ok, err := s.loadSession(ctx, string(subject))
	if err != nil {
		return domain.TokenBundle{}, err
	}
	if !ok {
		log.Info("refresh token has no live session", slog.String("subject", string(subject)))
		return domain.TokenBundle{}, ErrInvalidRefresh
	}

	refresh, refreshHash := refreshToken, oldHash
	if s.cfg.RotateRefresh {
		if refresh, err = jwtx.NewRefreshToken(); err != nil {
			return domain.TokenBundle{}, err
		}
		refreshHash = cryptox.FingerprintToken(refresh)
	}

	bundle, err := s.mint(ctx, snap.Principal, snap.Custom, refreshHash, snap.ExpiresAt)
	if err != nil {
		return domain.TokenBundle{}, err
	}

	// Re-putting the mapping extends the refresh lifetime.
	if err := s.cache.Put(ctx, refreshKey(refreshHash), subject, s.cfg.refreshTTL()); err != nil {
		return domain.TokenBundle{}, fmt.Errorf("store refresh token: %w", err)
	}
	if s.cfg.RotateRefresh {
		if err := s.cache.Remove(ctx, refreshKey(oldHash)); err != nil {
			return domain.TokenBundle{}, fmt.Errorf("retire refresh token: %w", err)
		}
	}
	bundle.RefreshToken = refresh

	log.Info("token refreshed",
		slog.String("subject", snap.Subject),
		slog.Bool("rotated", s.cfg.RotateRefresh),
	)
	return bundle, nil
}

// mint signs a new access token for p and records its session snapshot. The
// token expires strictly after expFloor when that is set.
func (s *Issuer) mint(ctx context.Context, p domain.Principal, custom map[string]jwtx.ClaimValue, refreshHash string, expFloor time.Time) (domain.TokenBundle, error) {
	now := s.clock.Now()
	jti := s.ids.NewAt(now).String()

	claims := jwtx.NewAccessClaims(p.Subject, jti, s.cfg.Issuer, s.cfg.Audience, now, s.cfg.AccessTTL)
	// exp has second precision, so a refresh within the same second would
	// otherwise not outlive the token it replaces.
	claims.ExpireNoEarlierThan(expFloor)
	claims.Username = p.Username
	claims.DisplayName = p.DisplayName
	claims.Email = p.Email
	claims.Roles = p.Roles
	claims.Permissions = p.Permissions
	claims.Attributes = p.Attributes
	if len(custom) > 0 {
		claims.Custom = custom
	}

	access, err := s.signer.Sign(claims)
	if err != nil {
		return domain.TokenBundle{}, err
	}

	// The real lifetime can differ from AccessTTL by up to a second.
	// Everything below keys off the signed value.
	expiresAt := claims.ExpiresAtTime()
	lifetime := expiresAt.Sub(now)
	tokenHash := cryptox.FingerprintToken(access)

	snap := domain.SessionSnapshot{
		Subject:     p.Subject,
		Principal:   p,
		Custom:      claims.Custom,
		TokenID:     jti,
		TokenHash:   tokenHash,
		RefreshHash: refreshHash,
		IssuedAt:    now,
		ExpiresAt:   expiresAt,
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return domain.TokenBundle{}, fmt.Errorf("encode session: %w", err)
	}

	// Overwrites the subject's previous snapshot: only the newest session is
	// tracked per subject.
	if err := s.cache.Put(ctx, sessionSubjectKey(p.Subject), raw, lifetime); err != nil {
		return domain.TokenBundle{}, fmt.Errorf("store session: %w", err)
	}
	if err := s.cache.Put(ctx, sessionTokenKey(tokenHash), raw, lifetime); err != nil {
		return domain.TokenBundle{}, fmt.Errorf("store session: %w", err)
	}

	if s.index != nil {
		entry := indexedToken{Hash: tokenHash, TokenID: jti, ExpiresAt: expiresAt}
		if err := s.index.add(ctx, p.Subject, entry, now); err != nil {
			return domain.TokenBundle{}, fmt.Errorf("index token: %w", err)
		}
	}

	return domain.TokenBundle{
		AccessToken: access,
		TokenType:   domain.TokenTypeBearer,
		ExpiresIn:   lifetime,
		ExpiresAt:   expiresAt,
	}, nil
}

// Session returns the live session snapshot for subject.
func (s *Issuer) Session(ctx context.Context, subject string) (domain.SessionSnapshot, bool, error) {
	return s.loadSession(ctx, subject)
}

func (s *Issuer) loadSession(ctx context.Context, subject string) (domain.SessionSnapshot, bool, error) {
	raw, ok, err := s.cache.Get(ctx, sessionSubjectKey(subject))
	if err != nil {
		return domain.SessionSnapshot{}, false, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return domain.SessionSnapshot{}, false, nil
	}

	var snap domain.SessionSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		// A snapshot we can't read is as good as none.
		slogx.FromContext(ctx).Warn("discarding unreadable session snapshot",
			slog.String("subject", subject),
			slog.Any("error", err),
		)
		return domain.SessionSnapshot{}, false, nil
	}
	return snap, true, nil
}

// PrincipalIndex is the opt-in per-subject token index shared by Issuer and
// Revoker.
type PrincipalIndex struct {
	ix *principalIndex
}

func NewPrincipalIndex(backend cache.Backend) *PrincipalIndex {
	return &PrincipalIndex{ix: &principalIndex{cache: backend}}
}
