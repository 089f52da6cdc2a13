package http

import (
	"net/http"

	"github.com/aussiebroadwan/tokend/pkg/httpx"
	"github.com/aussiebroadwan/tokend/pkg/slogx"
)

// IntrospectionResponse follows RFC 7662. Inactive tokens carry only the
// active field.
type IntrospectionResponse struct {
	Active bool `json:"active"`

	TokenType   string   `json:"token_type,omitempty"`
	Sub         string   `json:"sub,omitempty"`
	Username    string   `json:"username,omitempty"`
	Iss         string   `json:"iss,omitempty"`
	Aud         []string `json:"aud,omitempty"`
	Jti         string   `json:"jti,omitempty"`
	Exp         int64    `json:"exp,omitempty"`
	Iat         int64    `json:"iat,omitempty"`
	Nbf         int64    `json:"nbf,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// IntrospectHandler serves POST /v1/token/introspect.
type IntrospectHandler struct {
	Validator TokenValidator
}

func (h *IntrospectHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !parseForm(w, r) {
		return
	}
	token, ok := requireField(w, r, "token")
	if !ok {
		return
	}

	res, err := h.Validator.Validate(ctx, token)
	if err != nil {
		// Revocation state is unknown; answering "inactive" would hide an
		// outage from the caller.
		slogx.FromContext(ctx).Error("introspection failed", "err", err)
		httpx.ErrUnavailable.Write(w)
		return
	}

	httpx.NoCache(w)
	if !res.Valid {
		slogx.FromContext(ctx).Debug("introspected inactive token", "reason", res.Reason)
		httpx.WriteJSON(w, http.StatusOK, IntrospectionResponse{Active: false})
		return
	}

	c := res.Claims
	resp := IntrospectionResponse{
		Active:      true,
		TokenType:   "Bearer",
		Sub:         c.Subject,
		Username:    c.Username,
		Iss:         c.Issuer,
		Aud:         c.Audience,
		Jti:         c.ID,
		Roles:       c.Roles,
		Permissions: c.Permissions,
	}
	if c.ExpiresAt != nil {
		resp.Exp = c.ExpiresAt.Unix()
	}
	if c.IssuedAt != nil {
		resp.Iat = c.IssuedAt.Unix()
	}
	if c.NotBefore != nil {
		resp.Nbf = c.NotBefore.Unix()
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
