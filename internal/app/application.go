// Package app wires the relay, the echo room and the REST surface into one
// HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"campusrelay/internal/alert"
	"campusrelay/internal/api"
	"campusrelay/internal/auth"
	"campusrelay/internal/config"
	"campusrelay/internal/database"
	"campusrelay/internal/hub"
	"campusrelay/internal/metrics"
	"campusrelay/internal/persistence"
	"campusrelay/internal/ratelimit"
	"campusrelay/internal/router"
	"campusrelay/internal/safety"
	"campusrelay/internal/websocket"
)

// Application owns every long-lived component.
type Application struct {
	config *config.Config
	logger *slog.Logger

	store          *database.Manager
	authenticator  *auth.Authenticator
	relay          *websocket.Registry
	echo           *websocket.Registry
	echoHub        *hub.Hub
	handshakeLimit *ratelimit.Limiter
	apiLimit       *ratelimit.Limiter
	handler        http.Handler
	httpServer     *http.Server

	closeOnce sync.Once
	closeErr  error
}

// NewApplication builds the component graph in dependency order:
// Database → Safety → Registries → Router → Hub → API → HTTP.
func NewApplication(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promRegistry)

	// STEP 1: directory and message store
	if dir := filepath.Dir(cfg.Database.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := database.NewManager(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// STEP 2: screening and escalation
	classifier, err := safety.NewDefaultClassifier()
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to build classifier: %w", err)
	}
	alerter := alert.NewLogAlerter(logger, alert.Contacts{
		Phone: cfg.Alert.EmergencyPhone,
		Email: cfg.Alert.EmergencyEmail,
	})
	bridge := persistence.NewBridge(store)
	authenticator := auth.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	// STEP 3: connection registries
	relay := websocket.NewRelayRegistry(websocket.WithLogger(logger), websocket.WithMetrics(m))
	echo := websocket.NewEchoRegistry(websocket.WithLogger(logger), websocket.WithMetrics(m))
	wsConfig := websocket.ConnectionConfig{
		BufferSize:     cfg.WebSocket.BufferSize,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		EnqueueTimeout: cfg.WebSocket.EnqueueTimeout,
		PingInterval:   cfg.WebSocket.PingInterval,
		ReadTimeout:    cfg.WebSocket.ReadTimeout,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
	}

	// STEP 4: router over the relay registry
	messageRouter := router.New(router.Deps{
		Sender:         relay,
		Directory:      store,
		Classifier:     classifier,
		Alerter:        alerter,
		Recorder:       bridge,
		Metrics:        m,
		Logger:         logger,
		PersistTimeout: cfg.Relay.PersistTimeout,
	})

	handshakeLimit := ratelimit.New(cfg.RateLimit.Limit, cfg.RateLimit.Window)
	apiLimit := ratelimit.New(cfg.RateLimit.Limit, cfg.RateLimit.Window)

	relayHandler := websocket.NewHandler(relay, messageRouter, authenticator,
		websocket.WithLimiter(handshakeLimit),
		websocket.WithHandlerMetrics(m),
		websocket.WithConnectionConfig(wsConfig),
		websocket.WithHandlerLogger(logger),
	)

	// STEP 5: echo room
	echoHub := hub.NewHub(echo, wsConfig, logger)

	// STEP 6: HTTP surface
	server := api.NewServer(api.Deps{
		Relay:      relayHandler,
		Echo:       echoHub,
		Auth:       authenticator,
		Limiter:    apiLimit,
		Screener:   classifier,
		Alerter:    alerter,
		Messages:   bridge,
		Health:     store,
		Registries: []api.StatsSource{relay, echo},
		Gatherer:   promRegistry,
		Metrics:    m,
		Logger:     logger,
	})

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      server,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:         cfg,
		logger:         logger.With("component", "app"),
		store:          store,
		authenticator:  authenticator,
		relay:          relay,
		echo:           echo,
		echoHub:        echoHub,
		handshakeLimit: handshakeLimit,
		apiLimit:       apiLimit,
		handler:        server,
		httpServer:     httpServer,
	}, nil
}

// Start launches the background workers: the echo hub and the rate limiter
// janitors. They stop when ctx ends.
func (a *Application) Start(ctx context.Context) error {
	if err := a.echoHub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start echo hub: %w", err)
	}
	interval := a.config.RateLimit.CleanupInterval
	go a.handshakeLimit.Run(ctx, interval)
	go a.apiLimit.Run(ctx, interval)
	return nil
}

// Run starts the workers, serves HTTP until ctx ends or the listener fails,
// then shuts everything down.
func (a *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("listening", "addr", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.HTTP.ShutdownTimeout)
		defer cancel()
		return a.Stop(shutdownCtx)
	})
	return g.Wait()
}

// Stop shuts down in reverse dependency order: HTTP → Connections → Hub →
// Database. It is safe to call more than once.
func (a *Application) Stop(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.logger.Info("shutting down")

		var errs []error
		if err := a.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}

		// Hijacked connections are not tracked by http.Server.
		a.relay.CloseAll()
		a.echo.CloseAll()

		if err := a.echoHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
			errs = append(errs, fmt.Errorf("echo hub: %w", err))
		}
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database close: %w", err))
		}

		a.closeErr = errors.Join(errs...)
		a.logger.Info("shutdown complete")
	})
	return a.closeErr
}

// Handler is the full route table, for serving from a test server.
func (a *Application) Handler() http.Handler { return a.handler }

// Store exposes the directory for provisioning.
func (a *Application) Store() *database.Manager { return a.store }

// Authenticator issues and verifies relay tokens.
func (a *Application) Authenticator() *auth.Authenticator { return a.authenticator }

// Addr returns the configured listen address.
func (a *Application) Addr() string { return a.httpServer.Addr }
