package http

import (
	"net/http"
	"strings"

	"github.com/aussiebroadwan/tokend/pkg/httpx"
)

var (
	errFormContentType = httpx.NewError(http.StatusUnsupportedMediaType, httpx.CodeUnsupportedMediaType,
		"content-type must be application/x-www-form-urlencoded")
	errFormBody = httpx.NewError(http.StatusBadRequest, httpx.CodeInvalidRequest, "unable to parse form body")
)

// parseForm checks the content type and parses the body. On failure it has
// already written the response.
func parseForm(w http.ResponseWriter, r *http.Request) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" &&
		!strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		errFormContentType.Write(w)
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, httpx.MaxBodyBytes)
	if err := r.ParseForm(); err != nil {
		errFormBody.Write(w)
		return false
	}
	return true
}

// requireField returns the named form value or writes invalid_request.
func requireField(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := strings.TrimSpace(r.PostForm.Get(name))
	if v == "" {
		httpx.NewError(http.StatusBadRequest, httpx.CodeInvalidRequest, name+" is required").Write(w)
		return "", false
	}
	return v, true
}
