package idpclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/tokend/pkg/cache/memory"
	"github.com/aussiebroadwan/tokend/pkg/clockx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const (
	testRealm      = "tokend"
	testClientID   = "tokend-api"
	testAdminUser  = "svc-admin"
	testAdminPass  = "svc-secret"
	testSigningKey = "fake-idp-signing-key"
)

// fakeIdP is an in-process stand-in for a Keycloak-style provider.
type fakeIdP struct {
	srv *httptest.Server

	adminAuths atomic.Int32
	adminCalls atomic.Int32

	mu             sync.Mutex
	adminTokens    map[string]bool
	adminExpiresIn int
	adminDelay     time.Duration
	users          map[string]User
	passwords      map[string]string
	roles          map[string][]string
	failStatus     int
	adminDelayCall time.Duration
	healthy        bool
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()
	f := &fakeIdP{
		adminTokens:    map[string]bool{},
		adminExpiresIn: 300,
		users:          map[string]User{},
		passwords:      map[string]string{},
		roles:          map[string][]string{},
		healthy:        true,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /realms/{realm}/protocol/openid-connect/token", f.token)
	mux.HandleFunc("GET /admin/realms/{realm}/users", f.admin(f.listUsers))
	mux.HandleFunc("POST /admin/realms/{realm}/users", f.admin(f.createUser))
	mux.HandleFunc("PUT /admin/realms/{realm}/users/{id}", f.admin(f.updateUser))
	mux.HandleFunc("DELETE /admin/realms/{realm}/users/{id}", f.admin(f.deleteUser))
	mux.HandleFunc("GET /health/ready", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		ok := f.healthy
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

// addUser registers a realm user with a password and realm roles. Like
// Keycloak, usernames are stored lower-cased and matched without case.
func (f *fakeIdP) addUser(username, password string, roles ...string) string {
	username = strings.ToLower(username)
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	f.users[id] = User{ID: id, Username: username, Email: username + "@example.com", Enabled: true}
	f.passwords[username] = password
	f.roles[username] = roles
	return id
}

// revokeAdminTokens makes every outstanding admin token fail with 401.
func (f *fakeIdP) revokeAdminTokens() {
	f.mu.Lock()
	clear(f.adminTokens)
	f.mu.Unlock()
}

// failWith makes every admin API call answer status until reset with 0.
func (f *fakeIdP) failWith(status int) {
	f.mu.Lock()
	f.failStatus = status
	f.mu.Unlock()
}

func (f *fakeIdP) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("grant_type") != "password" {
		writeFakeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	username, password := strings.ToLower(r.PostForm.Get("username")), r.PostForm.Get("password")
	switch r.PathValue("realm") {
	case "master":
		f.adminAuths.Add(1)
		f.mu.Lock()
		delay := f.adminDelay
		f.mu.Unlock()
		time.Sleep(delay)
		if r.PostForm.Get("client_id") != DefaultAdminClientID || username != testAdminUser || password != testAdminPass {
			writeFakeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_grant", "error_description": "Invalid user credentials"})
			return
		}
		f.mu.Lock()
		tok := "admin-" + uuid.NewString()
		f.adminTokens[tok] = true
		exp := f.adminExpiresIn
		f.mu.Unlock()
		writeFakeJSON(w, http.StatusOK, map[string]any{"access_token": tok, "expires_in": exp, "token_type": "Bearer"})

	case testRealm:
		f.mu.Lock()
		want, ok := f.passwords[username]
		roles := f.roles[username]
		f.mu.Unlock()
		if !ok || want != password {
			writeFakeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_grant", "error_description": "Invalid user credentials"})
			return
		}
		claims := jwt.MapClaims{
			"sub":                uuid.NewString(),
			"preferred_username": username,
			"email":              username + "@example.com",
			"exp":                time.Now().Add(5 * time.Minute).Unix(),
			"realm_access":       map[string]any{"roles": roles},
			"resource_access": map[string]any{
				testClientID: map[string]any{"roles": []string{"tokens:revoke"}},
			},
		}
		signed, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningKey))
		writeFakeJSON(w, http.StatusOK, map[string]any{
			"access_token":       signed,
			"refresh_token":      "idp-refresh",
			"token_type":         "Bearer",
			"expires_in":         300,
			"refresh_expires_in": 1800,
			"scope":              "openid profile email",
		})

	default:
		writeFakeJSON(w, http.StatusNotFound, map[string]string{"error": "Realm does not exist"})
	}
}

// admin wraps admin API handlers with bearer checks and failure injection.
func (f *fakeIdP) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.adminCalls.Add(1)
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		f.mu.Lock()
		valid := f.adminTokens[tok]
		status := f.failStatus
		delay := f.adminDelayCall
		f.mu.Unlock()

		time.Sleep(delay)
		if !valid {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if status != 0 {
			writeFakeJSON(w, status, map[string]string{"errorMessage": http.StatusText(status)})
			return
		}
		next(w, r)
	}
}

func (f *fakeIdP) listUsers(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	exact := r.URL.Query().Get("exact") == "true"

	f.mu.Lock()
	defer f.mu.Unlock()
	out := []User{}
	for _, u := range f.users {
		if strings.EqualFold(u.Username, username) || (!exact && strings.Contains(u.Username, strings.ToLower(username))) {
			out = append(out, u)
		}
	}
	writeFakeJSON(w, http.StatusOK, out)
}

func (f *fakeIdP) createUser(w http.ResponseWriter, r *http.Request) {
	var body createUserBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeFakeJSON(w, http.StatusBadRequest, map[string]string{"errorMessage": err.Error()})
		return
	}

	body.Username = strings.ToLower(body.Username)

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == body.Username {
			writeFakeJSON(w, http.StatusConflict, map[string]string{"errorMessage": "User exists with same username"})
			return
		}
	}
	id := uuid.NewString()
	body.User.ID = id
	f.users[id] = body.User
	for _, c := range body.Credentials {
		f.passwords[body.Username] = c.Value
	}
	w.Header().Set("Location", fmt.Sprintf("%s/admin/realms/%s/users/%s", f.srv.URL, r.PathValue("realm"), id))
	w.WriteHeader(http.StatusCreated)
}

func (f *fakeIdP) updateUser(w http.ResponseWriter, r *http.Request) {
	var upd UserUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeFakeJSON(w, http.StatusBadRequest, map[string]string{"errorMessage": err.Error()})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[r.PathValue("id")]
	if !ok {
		writeFakeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		return
	}
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	if upd.Enabled != nil {
		u.Enabled = *upd.Enabled
	}
	f.users[u.ID] = u
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeIdP) deleteUser(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[r.PathValue("id")]; !ok {
		writeFakeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		return
	}
	delete(f.users, r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func writeFakeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type clientOpts struct {
	clock  clockx.Clock
	tweak  func(*Config)
	shared *memory.Backend
}

func newMemory(t *testing.T) *memory.Backend {
	t.Helper()
	b := memory.New(nil)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// newTestClient returns a client wired to f and the backend holding its
// admin session.
func newTestClient(t *testing.T, f *fakeIdP, opts clientOpts) (*Client, *memory.Backend) {
	t.Helper()
	clock := opts.clock
	if clock == nil {
		clock = clockx.Real()
	}
	backend := opts.shared
	if backend == nil {
		backend = memory.New(clock)
		t.Cleanup(func() { _ = backend.Close() })
	}
	cfg := Config{
		BaseURL:       f.srv.URL,
		Realm:         testRealm,
		ClientID:      testClientID,
		ClientSecret:  "client-secret",
		AdminUsername: testAdminUser,
		AdminPassword: testAdminPass,
	}
	if opts.tweak != nil {
		opts.tweak(&cfg)
	}
	c, err := New(cfg, backend, clock)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, backend
}
