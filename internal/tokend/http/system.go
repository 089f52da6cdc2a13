package http

import (
	"net/http"
	"time"

	"github.com/aussiebroadwan/tokend/pkg/cache"
	"github.com/aussiebroadwan/tokend/pkg/httpx"
)

// HealthResponse is returned by /livez and /readyz.
type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Version string        `json:"version"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

type HealthChecks struct {
	Cache string `json:"cache"`

	// IdP is informational; an unreachable IdP only disables logins.
	IdP string `json:"idp,omitempty"`
}

// LivezHandler always answers 200 while the process is serving.
func LivezHandler(startTime time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).String(),
			Version: version,
		})
	}
}

// ReadyzHandler reports 503 when the cache backend can't be reached.
func ReadyzHandler(startTime time.Time, version string, backend cache.Backend, idp IdentityProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := &HealthChecks{Cache: "ok"}
		status := "ok"
		code := http.StatusOK

		if p, ok := backend.(cache.Pinger); ok {
			if err := p.Ping(r.Context()); err != nil {
				checks.Cache = "error: " + err.Error()
				status = "degraded"
				code = http.StatusServiceUnavailable
			}
		}

		if idp != nil {
			checks.IdP = "ok"
			if !idp.IsHealthy(r.Context()) {
				checks.IdP = "unreachable"
			}
		}

		httpx.WriteJSON(w, code, HealthResponse{
			Status:  status,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		})
	}
}

// IdPStatsHandler serves the identity provider client's counters.
func IdPStatsHandler(idp IdentityProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.NoCache(w)
		httpx.WriteJSON(w, http.StatusOK, idp.ConnectionPoolStats())
	}
}
