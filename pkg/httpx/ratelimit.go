package httpx

import (
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/tokend/pkg/slogx"
	"golang.org/x/time/rate"
)

// RateLimitConfig is a token bucket: Requests per Window, refilled smoothly,
// with up to Burst spent at once.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	Burst    int
}

// Default profiles. Override per deployment with LoadRateLimit.
var (
	// IssueLimit guards token minting.
	IssueLimit = RateLimitConfig{Requests: 30, Window: time.Minute, Burst: 10}

	// RefreshLimit guards refresh, which callers hit on a timer.
	RefreshLimit = RateLimitConfig{Requests: 60, Window: time.Minute, Burst: 20}

	// ReadLimit covers introspection and the admin read endpoints.
	ReadLimit = RateLimitConfig{Requests: 600, Window: time.Minute, Burst: 100}
)

// LoadRateLimit overlays RATELIMIT_<NAME>_REQUESTS, _WINDOW and _BURST on
// def. Window is a Go duration string. Bad or non-positive values are ignored.
func LoadRateLimit(name string, def RateLimitConfig) RateLimitConfig {
	prefix := "RATELIMIT_" + strings.ToUpper(name) + "_"
	cfg := def

	if n, err := strconv.Atoi(os.Getenv(prefix + "REQUESTS")); err == nil && n > 0 {
		cfg.Requests = n
	}
	if d, err := time.ParseDuration(os.Getenv(prefix + "WINDOW")); err == nil && d > 0 {
		cfg.Window = d
	}
	if n, err := strconv.Atoi(os.Getenv(prefix + "BURST")); err == nil && n > 0 {
		cfg.Burst = n
	}
	return cfg
}

func (c RateLimitConfig) limit() rate.Limit {
	if c.Window <= 0 || c.Requests <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(c.Requests) / c.Window.Seconds())
}

// KeyFunc picks the bucket a request is counted against. An empty key means
// "don't limit this request".
type KeyFunc func(*http.Request) string

// ClientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// peer address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// SubjectOrIP keys authenticated requests by subject and everything else by
// client IP.
func SubjectOrIP(r *http.Request) string {
	if sub, ok := SubjectFromContext(r.Context()); ok {
		return "sub:" + sub
	}
	return "ip:" + ClientIP(r)
}

// buckets holds one limiter per key and forgets idle ones.
type buckets struct {
	cfg     RateLimitConfig
	limiter sync.Map // string -> *rate.Limiter

	mu        sync.Mutex
	lastSweep time.Time
}

const bucketSweepEvery = 5 * time.Minute

func (b *buckets) get(key string) *rate.Limiter {
	if l, ok := b.limiter.Load(key); ok {
		return l.(*rate.Limiter)
	}
	l, _ := b.limiter.LoadOrStore(key, rate.NewLimiter(b.cfg.limit(), b.cfg.Burst))
	b.sweep()
	return l.(*rate.Limiter)
}

// sweep drops limiters whose bucket is full again, i.e. idle keys.
func (b *buckets) sweep() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if time.Since(b.lastSweep) < bucketSweepEvery {
		return
	}
	b.lastSweep = time.Now()

	b.limiter.Range(func(k, v any) bool {
		if v.(*rate.Limiter).Tokens() >= float64(b.cfg.Burst) {
			b.limiter.Delete(k)
		}
		return true
	})
}

// RateLimit rejects requests over cfg with 429 and a Retry-After header.
func RateLimit(cfg RateLimitConfig, key KeyFunc) Middleware {
	b := &buckets{cfg: cfg, lastSweep: time.Now()}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}

			l := b.get(k)
			if l.Allow() {
				next.ServeHTTP(w, r)
				return
			}

			res := l.Reserve()
			wait := res.Delay()
			res.Cancel()
			retry := max(int(wait.Round(time.Second)/time.Second), 1)

			w.Header().Set("Retry-After", strconv.Itoa(retry))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Requests))
			w.Header().Set("X-RateLimit-Window", cfg.Window.String())

			slogx.FromContext(r.Context()).Warn("rate limit exceeded",
				"key", k,
				"retry_after", retry,
			)
			NewError(http.StatusTooManyRequests, CodeRateLimited, "too many requests, try again later").Write(w)
		})
	}
}
