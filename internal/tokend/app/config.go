package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Cache backend selections.
const (
	BackendAuto   = "auto"
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

type Config struct {
	Issuer         string        // iss claim (default: tokend)
	Audience       []string      // aud claim, comma separated in env (default: tokend-api)
	Algorithm      string        // HS256, HS384, HS512 or EdDSA (default: HS256)
	Secret         string        // HMAC secret; TOKEN_SECRET_FILE wins when both are set
	SecretFile     string        // file holding the HMAC secret
	SigningKeyFile string        // PKCS8 Ed25519 PEM for EdDSA (ephemeral key when empty)
	AccessTTL      time.Duration // access token lifetime (default: 24h)
	RefreshFactor  int           // refresh lifetime as a multiple of AccessTTL (default: 10)
	ClockSkew      time.Duration // nbf/iat leeway (default: 60s)

	ValidationCache    bool          // validation fast path (default: true)
	ValidationCacheTTL time.Duration // cap on cached verdicts; 0 means the token's remaining life
	RotateRefresh      bool          // issue a new refresh token on every refresh (default: false)
	TrackTokens        bool          // per-principal token index for bulk revoke (default: false)

	CacheBackend   string // auto, memory, redis, sqlite (default: auto)
	CacheNamespace string // key prefix for shared stores (default: tokend:)
	SQLiteFile     string // durable cache file (default: tokend-cache.db)

	RedisAddr         string
	RedisUsername     string
	RedisPassword     string
	RedisDB           int
	RedisDialTimeout  time.Duration // default: 5s
	RedisReadTimeout  time.Duration // default: 3s
	RedisWriteTimeout time.Duration // default: 3s

	IdP IdPConfig

	Env                  string        // dev, staging, prod (default: dev)
	LogLevel             string        // debug, info, warn, error (default: info)
	LogFormat            string        // json, text (default: json)
	Port                 int           // HTTP port (default: 8080)
	ShutdownGracePeriod  time.Duration // default: 10s
	HousekeepingInterval time.Duration // default: 5m
}

// IdPConfig is empty (BaseURL unset) when no identity provider is wired.
type IdPConfig struct {
	BaseURL                  string
	Realm                    string
	ClientID                 string
	ClientSecret             string
	AdminRealm               string
	AdminClientID            string
	AdminUsername            string
	AdminPassword            string
	ConnectTimeout           time.Duration
	ReadTimeout              time.Duration
	ConnectionRequestTimeout time.Duration
	MaxConnections           int
	TokenSafetyMargin        time.Duration
	RequestsPerSecond        float64
}

func LoadConfig() Config {
	return Config{
		Issuer:         getEnvOrDefault("TOKEN_ISSUER", "tokend"),
		Audience:       splitList(getEnvOrDefault("TOKEN_AUDIENCE", "tokend-api")),
		Algorithm:      getEnvOrDefault("TOKEN_ALGORITHM", "HS256"),
		Secret:         os.Getenv("TOKEN_SECRET"),
		SecretFile:     os.Getenv("TOKEN_SECRET_FILE"),
		SigningKeyFile: os.Getenv("TOKEN_SIGNING_KEY_FILE"),
		AccessTTL:      getEnvDurationOrDefault("TOKEN_ACCESS_TTL", 24*time.Hour),
		RefreshFactor:  getEnvIntOrDefault("TOKEN_REFRESH_MULTIPLIER", 10),
		ClockSkew:      getEnvDurationOrDefault("TOKEN_CLOCK_SKEW", 60*time.Second),

		ValidationCache:    getEnvBoolOrDefault("TOKEN_CACHE_ENABLED", true),
		ValidationCacheTTL: getEnvDurationOrDefault("TOKEN_VALIDATION_CACHE_TTL", 0),
		RotateRefresh:      getEnvBoolOrDefault("TOKEN_ROTATE_REFRESH", false),
		TrackTokens:        getEnvBoolOrDefault("TOKEN_TRACK_PRINCIPAL_TOKENS", false),

		CacheBackend:   strings.ToLower(getEnvOrDefault("CACHE_BACKEND", BackendAuto)),
		CacheNamespace: getEnvOrDefault("CACHE_NAMESPACE", "tokend:"),
		SQLiteFile:     getEnvOrDefault("CACHE_SQLITE_FILE", "tokend-cache.db"),

		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisUsername:     os.Getenv("REDIS_USERNAME"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getEnvIntOrDefault("REDIS_DB", 0),
		RedisDialTimeout:  getEnvDurationOrDefault("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisReadTimeout:  getEnvDurationOrDefault("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWriteTimeout: getEnvDurationOrDefault("REDIS_WRITE_TIMEOUT", 3*time.Second),

		IdP: IdPConfig{
			BaseURL:                  os.Getenv("IDP_BASE_URL"),
			Realm:                    os.Getenv("IDP_REALM"),
			ClientID:                 os.Getenv("IDP_CLIENT_ID"),
			ClientSecret:             os.Getenv("IDP_CLIENT_SECRET"),
			AdminRealm:               getEnvOrDefault("IDP_ADMIN_REALM", "master"),
			AdminClientID:            getEnvOrDefault("IDP_ADMIN_CLIENT_ID", "admin-cli"),
			AdminUsername:            os.Getenv("IDP_ADMIN_USERNAME"),
			AdminPassword:            os.Getenv("IDP_ADMIN_PASSWORD"),
			ConnectTimeout:           getEnvDurationOrDefault("IDP_CONNECT_TIMEOUT", 5*time.Second),
			ReadTimeout:              getEnvDurationOrDefault("IDP_READ_TIMEOUT", 10*time.Second),
			ConnectionRequestTimeout: getEnvDurationOrDefault("IDP_CONNECTION_REQUEST_TIMEOUT", 5*time.Second),
			MaxConnections:           getEnvIntOrDefault("IDP_MAX_CONNECTIONS", 20),
			TokenSafetyMargin:        getEnvDurationOrDefault("IDP_TOKEN_SAFETY_MARGIN", 60*time.Second),
			RequestsPerSecond:        getEnvFloatOrDefault("IDP_REQUESTS_PER_SECOND", 0),
		},

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 5*time.Minute),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are seconds.
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
