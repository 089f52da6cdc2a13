package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/aussiebroadwan/tokend/internal/tokend/http"
	"github.com/aussiebroadwan/tokend/internal/tokend/metrics"
	"github.com/aussiebroadwan/tokend/internal/tokend/service"
	"github.com/aussiebroadwan/tokend/pkg/cache"
	"github.com/aussiebroadwan/tokend/pkg/clockx"
	"github.com/aussiebroadwan/tokend/pkg/idpclient"
	"github.com/aussiebroadwan/tokend/pkg/jwtx"
	"github.com/aussiebroadwan/tokend/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// BuildVersion is overridden at build time with -ldflags.
var BuildVersion = "v0.1.0"

// Application owns every long-lived dependency of the token service.
type Application struct {
	cfg    Config
	logger *slog.Logger
	clock  clockx.Clock

	backend     cache.Backend
	backendName string
	codec       *jwtx.Codec
	idp         *idpclient.Client
	registry    *prometheus.Registry

	issuer       *service.Issuer
	validator    *service.Validator
	revoker      *service.Revoker
	housekeeping *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// New opens the cache backend and wires services and HTTP.
func New(ctx context.Context, cfg Config) (*Application, error) {
	app := &Application{
		cfg:   cfg,
		clock: clockx.Real(),
		logger: slogx.New(slogx.Config{
			Service: "tokend",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
		registry: prometheus.NewRegistry(),
	}

	codec, err := InitCodec(cfg, app.clock, app.logger)
	if err != nil {
		return nil, err
	}
	app.codec = codec

	backend, name, err := OpenBackend(ctx, cfg, app.clock, app.logger)
	if err != nil {
		return nil, err
	}
	app.backend, app.backendName = backend, name

	if err := app.initServices(); err != nil {
		_ = backend.Close()
		return nil, err
	}
	if err := app.initIdP(); err != nil {
		_ = backend.Close()
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Handler exposes the HTTP surface, mainly for tests.
func (app *Application) Handler() http.Handler { return app.router }

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	if app.housekeeping != nil {
		app.housekeeping.Start()
	}

	app.logger.Info("token service starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"cache_backend", app.backendName,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = app.Shutdown()
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown drains HTTP, stops housekeeping and closes the cache backend.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down token service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	if app.housekeeping != nil {
		app.housekeeping.Stop()
	}
	if app.idp != nil {
		app.idp.Close()
	}

	if err := app.backend.Close(); err != nil {
		app.logger.Error("error closing cache backend", "error", err)
		return err
	}

	app.logger.Info("token service stopped")
	return nil
}

func (app *Application) initServices() error {
	recorder := metrics.NewRecorder(app.registry)
	metrics.RegisterCache(app.registry, app.backend)
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var index *service.PrincipalIndex
	if app.cfg.TrackTokens {
		index = service.NewPrincipalIndex(app.backend)
	}

	var err error
	app.issuer, err = service.NewIssuer(app.backend, app.codec, app.clock, service.IssuerConfig{
		Issuer:               app.cfg.Issuer,
		Audience:             app.cfg.Audience,
		AccessTTL:            app.cfg.AccessTTL,
		RefreshMultiplier:    app.cfg.RefreshFactor,
		RotateRefresh:        app.cfg.RotateRefresh,
		TrackPrincipalTokens: app.cfg.TrackTokens,
	}, index, recorder)
	if err != nil {
		return err
	}

	app.validator, err = service.NewValidator(app.backend, app.codec, app.clock, service.ValidatorConfig{
		CacheEnabled: app.cfg.ValidationCache,
		CacheTTL:     app.cfg.ValidationCacheTTL,
	}, recorder)
	if err != nil {
		return err
	}

	app.revoker, err = service.NewRevoker(app.backend, app.clock, index, service.RevokerConfig{
		// exp can run a little past AccessTTL when refreshes land within
		// the same second.
		MaxTokenLifetime: app.cfg.AccessTTL + time.Minute,
	}, recorder)
	if err != nil {
		return err
	}

	// Only backends that keep expired rows until read need sweeping.
	if sweeper, ok := app.backend.(cache.Sweeper); ok {
		app.housekeeping = service.NewHousekeepingService(sweeper, app.logger, app.cfg.HousekeepingInterval)
	}
	return nil
}

func (app *Application) initIdP() error {
	c := app.cfg.IdP
	if c.BaseURL == "" {
		app.logger.Info("no IDP_BASE_URL, password logins disabled")
		return nil
	}

	client, err := idpclient.New(idpclient.Config{
		BaseURL:                  c.BaseURL,
		Realm:                    c.Realm,
		ClientID:                 c.ClientID,
		ClientSecret:             c.ClientSecret,
		AdminRealm:               c.AdminRealm,
		AdminClientID:            c.AdminClientID,
		AdminUsername:            c.AdminUsername,
		AdminPassword:            c.AdminPassword,
		ConnectTimeout:           c.ConnectTimeout,
		ReadTimeout:              c.ReadTimeout,
		ConnectionRequestTimeout: c.ConnectionRequestTimeout,
		MaxConnections:           c.MaxConnections,
		TokenSafetyMargin:        c.TokenSafetyMargin,
		RequestsPerSecond:        c.RequestsPerSecond,
	}, app.backend, app.clock)
	if err != nil {
		return err
	}
	app.idp = client
	metrics.RegisterIdPClient(app.registry, client)

	probeCtx, cancel := context.WithTimeout(context.Background(), c.ConnectTimeout)
	defer cancel()
	if client.IsHealthy(probeCtx) {
		app.logger.Info("identity provider reachable", "base_url", c.BaseURL, "realm", c.Realm)
	} else {
		app.logger.Warn("identity provider not reachable at startup", "base_url", c.BaseURL)
	}
	return nil
}

func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.issuer,
		app.validator,
		app.revoker,
		app.backend,
		BuildVersion,
		app.logger,
	)
	if app.idp != nil {
		router.IdP = app.idp
		router.IdPClientID = app.cfg.IdP.ClientID
	}
	router.Metrics = promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{Registry: app.registry})
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
