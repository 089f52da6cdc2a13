package http

import (
	"net/http"

	"github.com/aussiebroadwan/tokend/pkg/httpx"
	"github.com/aussiebroadwan/tokend/pkg/slogx"
)

// RevokeHandler serves POST /v1/token/revoke in the manner of RFC 7009: the
// response is 200 whether or not the token was known or revocable, so the
// endpoint can't be used to probe tokens.
type RevokeHandler struct {
	Revoker TokenRevoker
}

func (h *RevokeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !parseForm(w, r) {
		return
	}
	token, ok := requireField(w, r, "token")
	if !ok {
		return
	}

	if err := h.Revoker.Revoke(ctx, token); err != nil {
		slogx.FromContext(ctx).Warn("revoke failed", "err", err)
	}

	httpx.NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("{}"))
}

// PrincipalRevokeHandler serves POST /v1/principals/{subject}/revoke.
type PrincipalRevokeHandler struct {
	Revoker TokenRevoker
}

type principalRevokeResponse struct {
	Subject string `json:"subject"`
	Revoked int    `json:"revoked"`
}

func (h *PrincipalRevokeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject := r.PathValue("subject")
	if subject == "" {
		httpx.ErrInvalidRequest.Write(w)
		return
	}

	n, err := h.Revoker.RevokeAllForPrincipal(ctx, subject)
	if err != nil {
		writeServiceError(w, r, "revoke principal", err)
		return
	}

	actor, _ := httpx.SubjectFromContext(ctx)
	slogx.FromContext(ctx).Info("principal revoked", "target", subject, "actor", actor, "tokens", n)
	httpx.WriteJSON(w, http.StatusOK, principalRevokeResponse{Subject: subject, Revoked: n})
}
