// Package idpclient talks to a Keycloak-compatible identity provider: it
// logs users in, manages user records through the admin API and keeps the
// admin session token in a shared cache.Backend.
package idpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aussiebroadwan/tokend/pkg/cache"
	"github.com/aussiebroadwan/tokend/pkg/clockx"
	"github.com/aussiebroadwan/tokend/pkg/slogx"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// maxErrorBody caps how much of an error response is kept in Error.Message.
const maxErrorBody = 4 << 10

// Client is safe for concurrent use. Calls are never retried.
type Client struct {
	cfg     Config
	http    *http.Client
	cache   cache.Backend
	clock   clockx.Clock
	slots   *semaphore.Weighted
	limiter *rate.Limiter

	// sessionMu serialises admin logins so concurrent callers share one.
	sessionMu  sync.Mutex
	sessionKey string

	stats counters
}

type counters struct {
	total      atomic.Uint64
	succeeded  atomic.Uint64
	failed     atomic.Uint64
	inFlight   atomic.Int64
	adminAuths atomic.Uint64
	newConns   atomic.Uint64
	reused     atomic.Uint64
}

// New builds a Client. backend stores the admin session; clock may be nil.
func New(cfg Config, backend cache.Backend, clock clockx.Clock) (*Client, error) {
	if backend == nil {
		return nil, errors.New("idpclient: cache backend is required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxConnsPerHost:       cfg.MaxConnections,
		MaxIdleConns:          cfg.MaxConnections,
		MaxIdleConnsPerHost:   cfg.MaxConnections,
		IdleConnTimeout:       90 * time.Second,
	}

	c := &Client{
		cfg: cfg,
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.ConnectTimeout + cfg.ReadTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		cache:      backend,
		clock:      clockx.OrReal(clock),
		slots:      semaphore.NewWeighted(int64(cfg.MaxConnections)),
		sessionKey: adminSessionKey(cfg),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

func (c *Client) realmURL(realm string, parts ...string) string {
	u := c.cfg.BaseURL + "/realms/" + url.PathEscape(realm)
	if len(parts) > 0 {
		u += "/" + strings.Join(parts, "/")
	}
	return u
}

func (c *Client) adminURL(parts ...string) string {
	u := c.cfg.BaseURL + "/admin/realms/" + url.PathEscape(c.cfg.Realm)
	if len(parts) > 0 {
		u += "/" + strings.Join(parts, "/")
	}
	return u
}

// track counts one public operation.
func (c *Client) track(ctx context.Context, op string, fn func() error) error {
	c.stats.total.Add(1)
	err := fn()
	if err != nil {
		c.stats.failed.Add(1)
		slogx.FromContext(ctx).Warn("identity provider call failed", "op", op, "err", err)
		return err
	}
	c.stats.succeeded.Add(1)
	return nil
}

// acquire waits for a connection slot and, when configured, a rate token.
// Both waits share the connection request timeout.
func (c *Client) acquire(ctx context.Context, op string) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectionRequestTimeout)
	defer cancel()

	if err := c.slots.Acquire(waitCtx, 1); err != nil {
		return nil, &Error{Kind: KindTimeout, Op: op, Message: "no connection available", Err: err}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(waitCtx); err != nil {
			c.slots.Release(1)
			return nil, &Error{Kind: KindTimeout, Op: op, Message: "rate limited", Err: err}
		}
	}
	c.stats.inFlight.Add(1)
	return func() {
		c.stats.inFlight.Add(-1)
		c.slots.Release(1)
	}, nil
}

// do sends req and buffers the response body so the slot is released as
// soon as the exchange completes.
func (c *Client) do(ctx context.Context, op string, req *http.Request) (*http.Response, []byte, error) {
	release, err := c.acquire(ctx, op)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	trace := &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			if info.Reused {
				c.stats.reused.Add(1)
			} else {
				c.stats.newConns.Add(1)
			}
		},
	}
	req = req.WithContext(httptrace.WithClientTrace(ctx, trace))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, transportError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, transportError(op, err)
	}
	return resp, body, nil
}

func transportError(op string, err error) *Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Kind: KindTimeout, Op: op, Err: err}
	}
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// statusError builds the error for an unexpected status, keeping whatever
// message the provider put in the body.
func statusError(op string, status int, body []byte) *Error {
	return &Error{Kind: kindForStatus(status), Op: op, StatusCode: status, Message: errorMessage(body)}
}

func errorMessage(body []byte) string {
	var payload struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		ErrorMessage     string `json:"errorMessage"`
	}
	if json.Unmarshal(body, &payload) == nil {
		switch {
		case payload.ErrorMessage != "":
			return payload.ErrorMessage
		case payload.ErrorDescription != "":
			return payload.Error + ": " + payload.ErrorDescription
		case payload.Error != "":
			return payload.Error
		}
	}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return strings.TrimSpace(string(body))
}

// adminCall performs an authenticated admin request. A 401 evicts the cached
// admin session; the call itself is not repeated.
func (c *Client) adminCall(ctx context.Context, op, method, target string, in any, want int, out any) (http.Header, error) {
	token, err := c.adminToken(ctx, op)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("idpclient: %s: encode request: %w", op, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, &Error{Kind: KindClientError, Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, respBody, err := c.do(ctx, op, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.evictAdminToken(ctx)
	}
	if resp.StatusCode != want {
		return nil, statusError(op, resp.StatusCode, respBody)
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return nil, &Error{Kind: KindDecode, Op: op, StatusCode: resp.StatusCode, Err: err}
		}
	}
	return resp.Header, nil
}

// postForm submits an x-www-form-urlencoded body to a token endpoint.
func (c *Client) postForm(ctx context.Context, op, target string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return &Error{Kind: KindClientError, Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, body, err := c.do(ctx, op, req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		e := statusError(op, resp.StatusCode, body)
		// Token endpoints answer bad credentials with 400 invalid_grant.
		if resp.StatusCode == http.StatusBadRequest && strings.HasPrefix(e.Message, "invalid_grant") {
			e.Kind = KindAuthFailed
		}
		return e
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &Error{Kind: KindDecode, Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	return nil
}
