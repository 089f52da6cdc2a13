package idpclient

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/aussiebroadwan/tokend/pkg/cryptox"
	"github.com/aussiebroadwan/tokend/pkg/slogx"
)

// adminSession is the cached form of the admin access token.
type adminSession struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// adminSessionKey scopes the cached session to one provider and account so
// clients pointed at different providers can share a backend.
func adminSessionKey(cfg Config) string {
	id := cfg.BaseURL + "|" + cfg.AdminRealm + "|" + cfg.AdminClientID + "|" + cfg.AdminUsername
	return "idp:admin:" + cryptox.ShortFingerprint(id)
}

// adminToken returns a cached admin token that is still outside the safety
// margin, or logs in again. Concurrent callers wait for a single login.
func (c *Client) adminToken(ctx context.Context, op string) (string, error) {
	if tok, ok := c.cachedAdminToken(ctx); ok {
		return tok, nil
	}

	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	// Another caller may have logged in while we waited.
	if tok, ok := c.cachedAdminToken(ctx); ok {
		return tok, nil
	}

	var resp tokenResponse
	form := url.Values{
		"grant_type": {"password"},
		"client_id":  {c.cfg.AdminClientID},
		"username":   {c.cfg.AdminUsername},
		"password":   {c.cfg.AdminPassword},
	}
	c.stats.adminAuths.Add(1)
	if err := c.postForm(ctx, op, c.realmURL(c.cfg.AdminRealm, "protocol", "openid-connect", "token"), form, &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", &Error{Kind: KindDecode, Op: op, Message: "admin token response has no access_token"}
	}

	lifetime := time.Duration(resp.ExpiresIn) * time.Second
	ttl := lifetime - c.cfg.TokenSafetyMargin
	if ttl <= 0 {
		// Too short-lived to be worth sharing; use it for this call only.
		return resp.AccessToken, nil
	}

	buf, err := json.Marshal(adminSession{
		AccessToken: resp.AccessToken,
		ExpiresAt:   c.clock.Now().Add(lifetime),
	})
	if err == nil {
		err = c.cache.Put(ctx, c.sessionKey, buf, ttl)
	}
	if err != nil {
		slogx.FromContext(ctx).Warn("failed to cache admin session", "err", err)
	}
	return resp.AccessToken, nil
}

func (c *Client) cachedAdminToken(ctx context.Context) (string, bool) {
	raw, ok, err := c.cache.Get(ctx, c.sessionKey)
	if err != nil {
		slogx.FromContext(ctx).Warn("failed to read admin session", "err", err)
		return "", false
	}
	if !ok {
		return "", false
	}
	var s adminSession
	if err := json.Unmarshal(raw, &s); err != nil || s.AccessToken == "" {
		return "", false
	}
	// The cache TTL already includes the margin; this guards backends whose
	// clock drifts from ours.
	if !c.clock.Now().Add(c.cfg.TokenSafetyMargin).Before(s.ExpiresAt) {
		return "", false
	}
	return s.AccessToken, true
}

func (c *Client) evictAdminToken(ctx context.Context) {
	if err := c.cache.Remove(ctx, c.sessionKey); err != nil {
		slogx.FromContext(ctx).Warn("failed to evict admin session", "err", err)
		return
	}
	slogx.FromContext(ctx).Info("admin session rejected, evicted")
}
