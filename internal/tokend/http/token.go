package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/tokend/internal/tokend/domain"
	"github.com/aussiebroadwan/tokend/internal/tokend/service"
	"github.com/aussiebroadwan/tokend/pkg/cache"
	"github.com/aussiebroadwan/tokend/pkg/httpx"
	"github.com/aussiebroadwan/tokend/pkg/idpclient"
	"github.com/aussiebroadwan/tokend/pkg/slogx"
)

// TokenResponse is the body of a successful issue or refresh.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

func newTokenResponse(b domain.TokenBundle) TokenResponse {
	return TokenResponse{
		AccessToken:  b.AccessToken,
		RefreshToken: b.RefreshToken,
		TokenType:    b.TokenType,
		ExpiresIn:    int64(b.ExpiresIn.Seconds()),
	}
}

var errBadCredentials = httpx.NewError(http.StatusUnauthorized, httpx.CodeInvalidGrant, "invalid username or password")

// TokenHandler serves POST /v1/token. It logs the user in at the identity
// provider and issues our own token pair for the resulting principal.
type TokenHandler struct {
	Issuer   TokenIssuer
	IdP      IdentityProvider
	ClientID string
}

func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	if !parseForm(w, r) {
		return
	}
	username, ok := requireField(w, r, "username")
	if !ok {
		return
	}
	password := r.PostForm.Get("password")
	if password == "" {
		httpx.NewError(http.StatusBadRequest, httpx.CodeInvalidRequest, "password is required").Write(w)
		return
	}

	set, err := h.IdP.Authenticate(ctx, username, password)
	if err != nil {
		if errors.Is(err, idpclient.ErrAuthFailed) {
			errBadCredentials.Write(w)
			return
		}
		log.Error("identity provider login failed", "err", err)
		httpx.ErrUnavailable.Write(w)
		return
	}

	// Look the user up by the name the provider knows them by, which may
	// differ in case from what was typed.
	claims, claimsErr := set.Claims()
	if claimsErr != nil {
		log.Warn("identity provider token unreadable, issuing without roles", "err", claimsErr)
	} else if claims.PreferredUsername != "" {
		username = claims.PreferredUsername
	}

	user, err := h.IdP.LookupUserByUsername(ctx, username)
	if err != nil {
		log.Error("identity provider lookup failed", "username", username, "err", err)
		httpx.ErrUnavailable.Write(w)
		return
	}

	p := principalFor(user)
	if claimsErr == nil {
		p.Roles = claims.RealmAccess.Roles
		if ra, ok := claims.ResourceAccess[h.ClientID]; ok {
			p.Permissions = ra.Roles
		}
	}

	bundle, err := h.Issuer.Issue(ctx, p, nil)
	if err != nil {
		writeServiceError(w, r, "issue", err)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, newTokenResponse(bundle))
}

// principalFor maps an IdP user onto a Principal. Multi-valued attributes
// keep their first value.
func principalFor(u *idpclient.User) domain.Principal {
	p := domain.Principal{
		Subject:     u.ID,
		Username:    u.Username,
		DisplayName: strings.TrimSpace(u.FirstName + " " + u.LastName),
		Email:       u.Email,
	}
	if p.DisplayName == "" {
		p.DisplayName = u.Username
	}
	for k, vs := range u.Attributes {
		if len(vs) == 0 {
			continue
		}
		if p.Attributes == nil {
			p.Attributes = make(map[string]string, len(u.Attributes))
		}
		p.Attributes[k] = vs[0]
	}
	return p
}

// RefreshHandler serves POST /v1/token/refresh.
type RefreshHandler struct {
	Issuer TokenIssuer
}

func (h *RefreshHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	refreshToken, ok := requireField(w, r, "refresh_token")
	if !ok {
		return
	}

	bundle, err := h.Issuer.Refresh(r.Context(), refreshToken)
	if err != nil {
		writeServiceError(w, r, "refresh", err)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, newTokenResponse(bundle))
}

func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	log := slogx.FromContext(r.Context())
	switch {
	case errors.Is(err, service.ErrInvalidRefresh):
		httpx.ErrInvalidGrant.Write(w)
	case errors.Is(err, service.ErrInvalidPrincipal):
		log.Warn(op+" rejected principal", "err", err)
		httpx.ErrInvalidRequest.Write(w)
	case errors.Is(err, cache.ErrBackendUnavailable):
		log.Error(op+" failed: token state unavailable", "err", err)
		httpx.ErrUnavailable.Write(w)
	default:
		log.Error(op+" failed", "err", err)
		httpx.WriteError(w, err)
	}
}
