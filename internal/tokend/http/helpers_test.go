package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/tokend/internal/tokend/service"
	"github.com/aussiebroadwan/tokend/pkg/cache/memory"
	"github.com/aussiebroadwan/tokend/pkg/idpclient"
	"github.com/aussiebroadwan/tokend/pkg/jwtx"
	"github.com/aussiebroadwan/tokend/pkg/slogx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const testClientID = "tokend-api"

type fakeUser struct {
	user        idpclient.User
	password    string
	roles       []string
	permissions []string
}

// fakeIdP satisfies IdentityProvider without any network. Usernames are
// case-insensitive, as in Keycloak.
type fakeIdP struct {
	mu      sync.Mutex
	users   map[string]fakeUser
	down    bool
	healthy bool
}

func newFakeIdP() *fakeIdP {
	return &fakeIdP{users: map[string]fakeUser{}, healthy: true}
}

func (f *fakeIdP) add(username, password string, roles, permissions []string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	username = strings.ToLower(username)
	id := uuid.NewString()
	f.users[username] = fakeUser{
		user:        idpclient.User{ID: id, Username: username, FirstName: "Test", LastName: strings.ToUpper(username[:1]) + username[1:], Email: username + "@example.com", Enabled: true},
		password:    password,
		roles:       roles,
		permissions: permissions,
	}
	return id
}

func (f *fakeIdP) Authenticate(ctx context.Context, username, password string) (*idpclient.TokenSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, &idpclient.Error{Kind: idpclient.KindTransport, Op: "authenticate"}
	}
	u, ok := f.users[strings.ToLower(username)]
	if !ok || u.password != password {
		return nil, &idpclient.Error{Kind: idpclient.KindAuthFailed, Op: "authenticate", StatusCode: http.StatusUnauthorized}
	}
	claims := jwt.MapClaims{
		"sub":                u.user.ID,
		"preferred_username": u.user.Username,
		"exp":                time.Now().Add(5 * time.Minute).Unix(),
		"realm_access":       map[string]any{"roles": u.roles},
		"resource_access": map[string]any{
			testClientID: map[string]any{"roles": u.permissions},
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("idp-key"))
	if err != nil {
		return nil, err
	}
	return &idpclient.TokenSet{AccessToken: signed, TokenType: "Bearer", ExpiresIn: 300}, nil
}

// LookupUserByUsername only matches the stored lower-cased name, so callers
// must pass the provider's own spelling.
func (f *fakeIdP) LookupUserByUsername(ctx context.Context, username string) (*idpclient.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[username]
	if !ok {
		return nil, &idpclient.Error{Kind: idpclient.KindNotFound, Op: "lookup_user"}
	}
	user := u.user
	return &user, nil
}

func (f *fakeIdP) IsHealthy(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

func (f *fakeIdP) ConnectionPoolStats() idpclient.Stats {
	return idpclient.Stats{MaxConnections: 20, Available: 20, TotalCalls: 7, SucceededCalls: 6, FailedCalls: 1}
}

type harness struct {
	t       *testing.T
	router  *Router
	idp     *fakeIdP
	backend *memory.Backend
}

type harnessOpts struct {
	noIdP  bool
	limits *Limits
	tweak  func(*Router)
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()

	backend := memory.New(nil)
	t.Cleanup(func() { _ = backend.Close() })

	codec, err := jwtx.NewCodec(jwtx.CodecOptions{
		KeyOptions: jwtx.KeyOptions{Algorithm: jwtx.AlgorithmHS256, Secret: []byte("http-test-secret-http-test-secret")},
		Issuer:     "tokend",
		Audience:   []string{testClientID},
	})
	require.NoError(t, err)

	index := service.NewPrincipalIndex(backend)
	issuer, err := service.NewIssuer(backend, codec, nil, service.IssuerConfig{
		Issuer:               "tokend",
		Audience:             []string{testClientID},
		AccessTTL:            time.Hour,
		TrackPrincipalTokens: true,
	}, index, nil)
	require.NoError(t, err)
	validator, err := service.NewValidator(backend, codec, nil, service.ValidatorConfig{CacheEnabled: true}, nil)
	require.NoError(t, err)
	revoker, err := service.NewRevoker(backend, nil, index, service.RevokerConfig{MaxTokenLifetime: time.Hour}, nil)
	require.NoError(t, err)

	r := NewRouter(issuer, validator, revoker, backend, "test", slogx.Discard())
	h := &harness{t: t, router: r, backend: backend}
	if !opts.noIdP {
		h.idp = newFakeIdP()
		r.IdP = h.idp
		r.IdPClientID = testClientID
	}
	if opts.limits != nil {
		r.Limits = *opts.limits
	}
	if opts.tweak != nil {
		opts.tweak(r)
	}
	r.ApplyRoutes()
	return h
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *harness) postForm(path string, form url.Values, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return h.do(req)
}

func (h *harness) get(path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return h.do(req)
}

// login issues a token pair through POST /v1/token.
func (h *harness) login(username, password string) TokenResponse {
	h.t.Helper()
	rec := h.postForm("/v1/token", url.Values{"username": {username}, "password": {password}}, "")
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[TokenResponse](h.t, rec)
}

func (h *harness) introspect(token string) IntrospectionResponse {
	h.t.Helper()
	rec := h.postForm("/v1/token/introspect", url.Values{"token": {token}}, "")
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[IntrospectionResponse](h.t, rec)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error
}
