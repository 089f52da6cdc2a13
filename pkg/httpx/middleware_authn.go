package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/tokend/pkg/jwtx"
	"github.com/aussiebroadwan/tokend/pkg/slogx"
)

// Authenticator checks a bearer token. Implementations decide what "valid"
// means beyond the signature (revocation lists, caches and so on).
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (jwtx.Claims, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, token string) (jwtx.Claims, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context, token string) (jwtx.Claims, error) {
	return f(ctx, token)
}

// AuthnMiddleware requires a valid bearer token and stores its claims in the
// request context.
func AuthnMiddleware(a Authenticator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			raw, ok := BearerToken(r)
			if !ok {
				writeBearerError(w, "missing bearer token")
				return
			}

			claims, err := a.Authenticate(ctx, raw)
			if err != nil {
				slogx.FromContext(ctx).Info("bearer token rejected", "err", err)
				writeBearerError(w, "token is invalid, expired or revoked")
				return
			}

			ctx = slogx.With(contextWithClaims(ctx, claims), "subject", claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// RFC 6750 invalid_token response.
func writeBearerError(w http.ResponseWriter, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+desc+`"`)
	ErrInvalidToken.Write(w)
}
