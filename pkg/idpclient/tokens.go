package idpclient

import (
	"context"
	"net/url"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
	Scope            string `json:"scope"`
}

// TokenSet is what the provider returns for a successful user login.
type TokenSet struct {
	AccessToken      string
	RefreshToken     string
	TokenType        string
	ExpiresIn        int64
	RefreshExpiresIn int64
	Scopes           []string
}

// Authenticate performs a password login for a realm user.
func (c *Client) Authenticate(ctx context.Context, username, password string) (*TokenSet, error) {
	const op = "authenticate"

	var set *TokenSet
	err := c.track(ctx, op, func() error {
		if username == "" || password == "" {
			return &Error{Kind: KindClientError, Op: op, Message: "username and password are required"}
		}
		form := url.Values{
			"grant_type": {"password"},
			"client_id":  {c.cfg.ClientID},
			"username":   {username},
			"password":   {password},
		}
		if c.cfg.ClientSecret != "" {
			form.Set("client_secret", c.cfg.ClientSecret)
		}
		var resp tokenResponse
		if err := c.postForm(ctx, op, c.realmURL(c.cfg.Realm, "protocol", "openid-connect", "token"), form, &resp); err != nil {
			return err
		}
		set = &TokenSet{
			AccessToken:      resp.AccessToken,
			RefreshToken:     resp.RefreshToken,
			TokenType:        resp.TokenType,
			ExpiresIn:        resp.ExpiresIn,
			RefreshExpiresIn: resp.RefreshExpiresIn,
			Scopes:           strings.Fields(resp.Scope),
		}
		return nil
	})
	return set, err
}

// IdentityClaims are the provider-issued claims the token service cares
// about when building a principal.
type IdentityClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string   `json:"preferred_username"`
	Name              string   `json:"name"`
	Email             string   `json:"email"`
	Groups            []string `json:"groups,omitempty"`
	RealmAccess       struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
	ResourceAccess map[string]struct {
		Roles []string `json:"roles"`
	} `json:"resource_access"`
}

// Claims decodes the access token without verifying it. The token came
// straight from the provider over our own connection.
func (t *TokenSet) Claims() (*IdentityClaims, error) {
	claims := &IdentityClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(t.AccessToken, claims); err != nil {
		return nil, &Error{Kind: KindDecode, Op: "claims", Err: err}
	}
	return claims, nil
}

// Roles merges realm roles with the roles granted on clientID.
func (ic *IdentityClaims) Roles(clientID string) []string {
	roles := slices.Clone(ic.RealmAccess.Roles)
	if ra, ok := ic.ResourceAccess[clientID]; ok {
		for _, r := range ra.Roles {
			if !slices.Contains(roles, r) {
				roles = append(roles, r)
			}
		}
	}
	return roles
}
