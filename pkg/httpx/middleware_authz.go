package httpx

import (
	"net/http"
	"strings"
)

// RequirePermission lets the request through when the caller holds at least
// one of perms.
func RequirePermission(perms ...string) Middleware {
	return requireAny(CtxKeyPermissions, perms)
}

// RequireRole lets the request through when the caller has at least one of
// roles.
func RequireRole(roles ...string) Middleware {
	return requireAny(CtxKeyRoles, roles)
}

func requireAny(key ctxKey, required []string) Middleware {
	want := make(map[string]struct{}, len(required))
	for _, s := range required {
		want[s] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, s := range stringsFromCtx(r.Context(), key) {
				if _, ok := want[s]; ok {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeInsufficientScope(w, required)
		})
	}
}

// RFC 6750 insufficient_scope response.
func writeInsufficientScope(w http.ResponseWriter, required []string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope", scope="`+strings.Join(required, " ")+`"`)
	ErrInsufficientScope.Write(w)
}
