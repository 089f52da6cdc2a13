//go:build e2e

package tokend_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/tokend/internal/tokend/app"
	"github.com/aussiebroadwan/tokend/pkg/cache/memory"
	"github.com/aussiebroadwan/tokend/pkg/clockx"
	"github.com/aussiebroadwan/tokend/pkg/idpclient"
	"github.com/aussiebroadwan/tokend/pkg/jwtx"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

/*
 * Shared fixtures for the end-to-end suite: a real redis, a real Keycloak and
 * any number of tokend instances pointed at both.
 */

const (
	keycloakImage = "quay.io/keycloak/keycloak:26.0"
	redisImage    = "redis:7-alpine"

	kcAdminUser     = "admin"
	kcAdminPassword = "admin-e2e-password"

	sharedSecret = "e2e-shared-hmac-secret"
)

type environment struct {
	redisAddr   string
	keycloakURL string
}

// startContainer runs req and returns host:port for the given exposed port.
func startContainer(t *testing.T, req testcontainers.ContainerRequest, port string) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	mappedPort, err := container.MappedPort(ctx, port)
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	return fmt.Sprintf("%s:%s", host, mappedPort.Port())
}

func setupEnvironment(t *testing.T) environment {
	t.Helper()

	redisAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        redisImage,
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForLog("Ready to accept connections").
			WithStartupTimeout(60 * time.Second),
	}, "6379")

	kcAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        keycloakImage,
		ExposedPorts: []string{"8080/tcp"},
		Cmd:          []string{"start-dev"},
		Env: map[string]string{
			"KC_BOOTSTRAP_ADMIN_USERNAME": kcAdminUser,
			"KC_BOOTSTRAP_ADMIN_PASSWORD": kcAdminPassword,
		},
		// Keycloak boots slowly, especially on the first pull.
		WaitingFor: wait.ForHTTP("/realms/master").
			WithPort("8080/tcp").
			WithStartupTimeout(3 * time.Minute),
	}, "8080")

	return environment{redisAddr: redisAddr, keycloakURL: "http://" + kcAddr}
}

func (e environment) idpConfig() app.IdPConfig {
	return app.IdPConfig{
		BaseURL:                  e.keycloakURL,
		Realm:                    "master",
		ClientID:                 "admin-cli",
		AdminRealm:               "master",
		AdminClientID:            "admin-cli",
		AdminUsername:            kcAdminUser,
		AdminPassword:            kcAdminPassword,
		ConnectTimeout:           5 * time.Second,
		ReadTimeout:              10 * time.Second,
		ConnectionRequestTimeout: 5 * time.Second,
		MaxConnections:           10,
		TokenSafetyMargin:        10 * time.Second,
	}
}

// startInstance runs one tokend against the shared environment and returns
// its base URL.
func startInstance(t *testing.T, env environment) string {
	t.Helper()

	cfg := app.Config{
		Issuer:              "tokend-e2e",
		Audience:            []string{"tokend-api"},
		Algorithm:           jwtx.AlgorithmHS256,
		Secret:              sharedSecret,
		AccessTTL:           5 * time.Minute,
		RefreshFactor:       10,
		ClockSkew:           5 * time.Second,
		ValidationCache:     true,
		TrackTokens:         true,
		CacheBackend:        app.BackendRedis,
		CacheNamespace:      "tokend-e2e:",
		RedisAddr:           env.redisAddr,
		RedisDialTimeout:    5 * time.Second,
		RedisReadTimeout:    3 * time.Second,
		RedisWriteTimeout:   3 * time.Second,
		IdP:                 env.idpConfig(),
		Env:                 "test",
		LogLevel:            "warn",
		LogFormat:           "json",
		ShutdownGracePeriod: 5 * time.Second,
	}

	application, err := app.New(context.Background(), cfg)
	require.NoError(t, err)

	srv := httptest.NewServer(application.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = application.Shutdown()
	})
	return srv.URL
}

// newAdminClient talks to Keycloak directly, for test setup.
func newAdminClient(t *testing.T, env environment) *idpclient.Client {
	t.Helper()

	c := env.idpConfig()
	client, err := idpclient.New(idpclient.Config{
		BaseURL:       c.BaseURL,
		Realm:         c.Realm,
		ClientID:      c.ClientID,
		AdminRealm:    c.AdminRealm,
		AdminClientID: c.AdminClientID,
		AdminUsername: c.AdminUsername,
		AdminPassword: c.AdminPassword,
	}, memory.New(nil), clockx.Real())
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

// createUser provisions a user with a password and removes it afterwards.
func createUser(t *testing.T, admin *idpclient.Client, username, password string) string {
	t.Helper()

	id, err := admin.CreateUser(t.Context(), idpclient.NewUser{
		Username:  username,
		Email:     username + "@example.com",
		FirstName: "E2E",
		LastName:  strings.ToUpper(username[:1]) + username[1:],
		Enabled:   true,
		Password:  password,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := admin.DeleteUser(context.Background(), id); err != nil {
			t.Logf("failed to delete user %s: %v", username, err)
		}
	})
	return id
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type introspection struct {
	Active   bool   `json:"active"`
	Sub      string `json:"sub"`
	Username string `json:"username"`
	Iss      string `json:"iss"`
}

func postForm(t *testing.T, target string, form url.Values) *http.Response {
	t.Helper()

	res, err := http.PostForm(target, form)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func decode[T any](t *testing.T, res *http.Response) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&v))
	return v
}

func login(t *testing.T, baseURL, username, password string) tokenResponse {
	t.Helper()

	res := postForm(t, baseURL+"/v1/token", url.Values{"username": {username}, "password": {password}})
	require.Equal(t, http.StatusOK, res.StatusCode)
	tok := decode[tokenResponse](t, res)
	require.NotEmpty(t, tok.AccessToken)
	require.NotEmpty(t, tok.RefreshToken)
	return tok
}

func introspect(t *testing.T, baseURL, token string) introspection {
	t.Helper()

	res := postForm(t, baseURL+"/v1/token/introspect", url.Values{"token": {token}})
	require.Equal(t, http.StatusOK, res.StatusCode)
	return decode[introspection](t, res)
}
