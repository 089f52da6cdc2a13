package idpclient

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultAdminRealm               = "master"
	DefaultAdminClientID            = "admin-cli"
	DefaultHealthPath               = "/health/ready"
	DefaultConnectTimeout           = 5 * time.Second
	DefaultReadTimeout              = 10 * time.Second
	DefaultConnectionRequestTimeout = 5 * time.Second
	DefaultMaxConnections           = 20
	DefaultTokenSafetyMargin        = 60 * time.Second
)

// Config describes how to reach the identity provider and which service
// account to manage users with.
type Config struct {
	BaseURL string

	// Realm holds the managed users; ClientID/ClientSecret are used for
	// password logins in that realm.
	Realm        string
	ClientID     string
	ClientSecret string

	// Admin service account (defaults: realm "master", client "admin-cli").
	AdminRealm    string
	AdminClientID string
	AdminUsername string
	AdminPassword string

	// HealthPath is probed by IsHealthy (default: /health/ready).
	HealthPath string

	// ConnectTimeout bounds dialing, ReadTimeout bounds the wait for response
	// headers, ConnectionRequestTimeout bounds the wait for a free connection
	// slot when MaxConnections are busy.
	ConnectTimeout           time.Duration
	ReadTimeout              time.Duration
	ConnectionRequestTimeout time.Duration
	MaxConnections           int

	// TokenSafetyMargin is how long before expiry the admin token is
	// considered stale (default: 60s).
	TokenSafetyMargin time.Duration

	// RequestsPerSecond paces outbound calls. Zero means unlimited.
	RequestsPerSecond float64
}

func (c Config) withDefaults() Config {
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	if c.AdminRealm == "" {
		c.AdminRealm = DefaultAdminRealm
	}
	if c.AdminClientID == "" {
		c.AdminClientID = DefaultAdminClientID
	}
	if c.HealthPath == "" {
		c.HealthPath = DefaultHealthPath
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.ConnectionRequestTimeout <= 0 {
		c.ConnectionRequestTimeout = DefaultConnectionRequestTimeout
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	if c.TokenSafetyMargin <= 0 {
		c.TokenSafetyMargin = DefaultTokenSafetyMargin
	}
	return c
}

func (c Config) validate() error {
	var errs []error
	if c.BaseURL == "" {
		errs = append(errs, errors.New("base url is required"))
	} else if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, errors.New("base url must be absolute"))
	}
	if c.Realm == "" {
		errs = append(errs, errors.New("realm is required"))
	}
	if c.AdminUsername == "" || c.AdminPassword == "" {
		errs = append(errs, errors.New("admin credentials are required"))
	}
	if c.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("requests per second must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("idpclient: invalid config: %w", err)
	}
	return nil
}
