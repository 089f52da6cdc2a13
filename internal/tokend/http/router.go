package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/tokend/internal/tokend/domain"
	"github.com/aussiebroadwan/tokend/pkg/cache"
	"github.com/aussiebroadwan/tokend/pkg/httpx"
	"github.com/aussiebroadwan/tokend/pkg/idpclient"
	"github.com/aussiebroadwan/tokend/pkg/jwtx"
	"github.com/aussiebroadwan/tokend/pkg/slogx"
)

// TokenIssuer mints and refreshes token bundles.
type TokenIssuer interface {
	Issue(ctx context.Context, p domain.Principal, custom map[string]jwtx.ClaimValue) (domain.TokenBundle, error)
	Refresh(ctx context.Context, refreshToken string) (domain.TokenBundle, error)
}

// TokenValidator decides whether an access token is currently acceptable.
type TokenValidator interface {
	httpx.Authenticator
	Validate(ctx context.Context, token string) (domain.ValidationResult, error)
}

// TokenRevoker ends sessions early.
type TokenRevoker interface {
	Revoke(ctx context.Context, token string) error
	RevokeAllForPrincipal(ctx context.Context, subject string) (int, error)
}

// IdentityProvider is the subset of *idpclient.Client the handlers use.
type IdentityProvider interface {
	Authenticate(ctx context.Context, username, password string) (*idpclient.TokenSet, error)
	LookupUserByUsername(ctx context.Context, username string) (*idpclient.User, error)
	IsHealthy(ctx context.Context) bool
	ConnectionPoolStats() idpclient.Stats
}

// Limits groups the rate limit profiles applied per route family.
type Limits struct {
	Issue   httpx.RateLimitConfig
	Refresh httpx.RateLimitConfig
	Read    httpx.RateLimitConfig
}

// DefaultLimits returns the httpx profiles with env overrides applied.
func DefaultLimits() Limits {
	return Limits{
		Issue:   httpx.LoadRateLimit("issue", httpx.IssueLimit),
		Refresh: httpx.LoadRateLimit("refresh", httpx.RefreshLimit),
		Read:    httpx.LoadRateLimit("read", httpx.ReadLimit),
	}
}

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	issuer    TokenIssuer
	validator TokenValidator
	revoker   TokenRevoker
	cache     cache.Backend

	// IdP is optional; without it POST /v1/token and the admin stats route
	// are not registered.
	IdP IdentityProvider

	// IdPClientID names the IdP client whose roles become permissions.
	IdPClientID string

	// Metrics serves GET /metrics when set.
	Metrics http.Handler

	Limits       Limits
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
}

func NewRouter(
	issuer TokenIssuer,
	validator TokenValidator,
	revoker TokenRevoker,
	backend cache.Backend,
	buildVersion string,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		issuer:       issuer,
		validator:    validator,
		revoker:      revoker,
		cache:        backend,
		Limits:       DefaultLimits(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
		httpx.Recover(),
	}

	return r
}

// ApplyRoutes registers every route. Set the optional fields first.
func (r *Router) ApplyRoutes() {
	r.registerTokens()
	r.registerPrincipals()
	r.registerAdmin()
	r.registerSystem()
}

// ServeHTTP implements http.Handler and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerTokens() {
	if r.IdP != nil {
		tokenHandler := &TokenHandler{Issuer: r.issuer, IdP: r.IdP, ClientID: r.IdPClientID}
		r.Mux.Handle("POST /v1/token",
			httpx.Chain(tokenHandler,
				httpx.RateLimit(r.Limits.Issue, httpx.ClientIP),
			),
		)
	}

	refreshHandler := &RefreshHandler{Issuer: r.issuer}
	r.Mux.Handle("POST /v1/token/refresh",
		httpx.Chain(refreshHandler,
			httpx.RateLimit(r.Limits.Refresh, httpx.ClientIP),
		),
	)

	revokeHandler := &RevokeHandler{Revoker: r.revoker}
	r.Mux.Handle("POST /v1/token/revoke",
		httpx.Chain(revokeHandler,
			httpx.RateLimit(r.Limits.Refresh, httpx.ClientIP),
		),
	)

	introspectHandler := &IntrospectHandler{Validator: r.validator}
	r.Mux.Handle("POST /v1/token/introspect",
		httpx.Chain(introspectHandler,
			httpx.RateLimit(r.Limits.Read, httpx.ClientIP),
		),
	)
}

func (r *Router) registerPrincipals() {
	h := &PrincipalRevokeHandler{Revoker: r.revoker}

	secured := httpx.Chain(h,
		httpx.AuthnMiddleware(r.validator),
		httpx.RequirePermission("tokens:revoke"),
		httpx.RateLimit(r.Limits.Read, httpx.SubjectOrIP),
	)

	r.Mux.Handle("POST /v1/principals/{subject}/revoke", secured)
}

func (r *Router) registerAdmin() {
	if r.IdP == nil {
		return
	}

	secured := httpx.Chain(IdPStatsHandler(r.IdP),
		httpx.AuthnMiddleware(r.validator),
		httpx.RequireRole("admin"),
		httpx.RateLimit(r.Limits.Read, httpx.SubjectOrIP),
	)

	r.Mux.Handle("GET /v1/admin/idp/stats", secured)
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.cache, r.IdP))
	if r.Metrics != nil {
		r.Mux.Handle("GET /metrics", r.Metrics)
	}
}
