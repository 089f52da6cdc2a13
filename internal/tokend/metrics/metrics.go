// Package metrics exposes token lifecycle and identity provider counters to
// Prometheus.
package metrics

import (
	"github.com/aussiebroadwan/tokend/internal/tokend/service"
	"github.com/aussiebroadwan/tokend/pkg/cache"
	"github.com/aussiebroadwan/tokend/pkg/idpclient"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tokend"

const (
	outcomeLabel = "outcome"
	resultLabel  = "result"
	pathLabel    = "path"
	kindLabel    = "kind"
)

// Recorder implements service.Observer on top of Prometheus counters.
type Recorder struct {
	issued      prometheus.Counter
	refreshed   *prometheus.CounterVec
	validations *prometheus.CounterVec
	revocations *prometheus.CounterVec
}

var _ service.Observer = (*Recorder)(nil)

// NewRecorder registers the token counters on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		issued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Access tokens issued, including those minted by refresh.",
		}),
		refreshed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_refreshed_total",
			Help:      "Refresh attempts by outcome.",
		}, []string{outcomeLabel}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Token validations by result and the path that decided them.",
		}, []string{resultLabel, pathLabel}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revocations_total",
			Help:      "Revocation requests by kind.",
		}, []string{kindLabel}),
	}
	reg.MustRegister(r.issued, r.refreshed, r.validations, r.revocations)
	return r
}

func (r *Recorder) TokenIssued() { r.issued.Inc() }

func (r *Recorder) TokenRefreshed(outcome string) {
	r.refreshed.WithLabelValues(outcome).Inc()
}

// TokenValidated records result, which is "valid" or a rejection reason.
func (r *Recorder) TokenValidated(result, path string) {
	r.validations.WithLabelValues(result, path).Inc()
}

func (r *Recorder) TokenRevoked(kind string) {
	r.revocations.WithLabelValues(kind).Inc()
}

// RegisterIdPClient exposes the client's counters. Values are read from
// the client at scrape time.
func RegisterIdPClient(reg prometheus.Registerer, c *idpclient.Client) {
	stat := func(pick func(idpclient.Stats) float64) func() float64 {
		return func() float64 { return pick(c.ConnectionPoolStats()) }
	}
	reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "idp",
			Name:      "calls_total",
			Help:      "Identity provider operations attempted.",
		}, stat(func(s idpclient.Stats) float64 { return float64(s.TotalCalls) })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "idp",
			Name:      "calls_succeeded_total",
			Help:      "Identity provider operations that succeeded.",
		}, stat(func(s idpclient.Stats) float64 { return float64(s.SucceededCalls) })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "idp",
			Name:      "calls_failed_total",
			Help:      "Identity provider operations that failed.",
		}, stat(func(s idpclient.Stats) float64 { return float64(s.FailedCalls) })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "idp",
			Name:      "admin_authentications_total",
			Help:      "Admin service account logins.",
		}, stat(func(s idpclient.Stats) float64 { return float64(s.AdminAuthentications) })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "idp",
			Name:      "inflight_requests",
			Help:      "Requests currently holding a connection slot.",
		}, stat(func(s idpclient.Stats) float64 { return float64(s.InFlight) })),
	)
}

// RegisterCache exposes backend counters when the backend keeps them.
func RegisterCache(reg prometheus.Registerer, b cache.Backend) {
	sr, ok := b.(cache.StatsReporter)
	if !ok {
		return
	}
	stat := func(pick func(cache.Stats) float64) func() float64 {
		return func() float64 { return pick(sr.Stats()) }
	}
	reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache reads that found a live entry.",
		}, stat(func(s cache.Stats) float64 { return float64(s.Hits) })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache reads that found nothing or an expired entry.",
		}, stat(func(s cache.Stats) float64 { return float64(s.Misses) })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Expired entries removed on read or by sweeping.",
		}, stat(func(s cache.Stats) float64 { return float64(s.Evictions) })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Entries currently held, including expired ones not yet reclaimed.",
		}, stat(func(s cache.Stats) float64 { return float64(s.Entries) })),
	)
}
