// Package app wires configuration, clients, store, flow engine and the
// loopback listener into one runnable agent.
package app

import (
	"context"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/healthsign/authagent/internal/agent/connector"
	"github.com/healthsign/authagent/internal/agent/flow"
	"github.com/healthsign/authagent/internal/agent/httpapi"
	"github.com/healthsign/authagent/internal/agent/idp"
	"github.com/healthsign/authagent/internal/agent/store"
	"github.com/healthsign/authagent/internal/agent/store/drivers/sqlite"
	"github.com/healthsign/authagent/pkg/httpx"
	"github.com/healthsign/authagent/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application encapsulates the agent with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db        store.Store
	connector *connector.Client
	idp       *idp.Client
	engine    *flow.Engine

	server *http.Server
	router *httpapi.Router
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "authagent",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
			File:    cfg.LogFile,
		}),
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initClients(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	app.engine = flow.NewEngine(app.connector, app.idp, app.db, app.logger, flow.Options{
		RetryDelay: cfg.CardRetryDelay,
	})

	app.router = httpapi.NewRouter(app.engine, BuildVersion, app.logger)
	app.router.ApplyRoutes()

	app.server = &http.Server{
		// Loopback only: the listener must never be reachable from
		// outside the machine.
		Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Port),
		Handler:           app.router,
		ReadHeaderTimeout: httpx.DefaultClientTimeout,
	}

	return app, nil
}

// Run starts the agent and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.logger.Info("agent starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("listener failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown stops the listener, aborts any active flow and closes the
// user-id cache.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down agent...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.engine.Cancel()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("agent stopped")
	return nil
}

// initDatabase opens the user-id cache and applies migrations.
func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initClients builds the connector and IdP HTTP clients from the TLS
// material in the configuration.
func (app *Application) initClients() error {
	var connectorPool *x509.CertPool
	if app.cfg.ConnectorCAFile != "" {
		pool, err := httpx.PinnedPool(app.cfg.ConnectorCAFile)
		if err != nil {
			return fmt.Errorf("connector ca: %w", err)
		}
		connectorPool = pool
	}
	connectorClient, err := httpx.NewMTLSClient(connectorPool,
		app.cfg.ConnectorClientCert, app.cfg.ConnectorClientKey)
	if err != nil {
		return fmt.Errorf("connector client: %w", err)
	}

	app.connector = connector.New(connectorClient, connector.Config{
		Host:           app.cfg.ConnectorHost,
		SDSPath:        app.cfg.ConnectorSDSPath,
		MandantID:      app.cfg.MandantID,
		ClientSystemID: app.cfg.ClientSystemID,
		WorkplaceID:    app.cfg.WorkplaceID,
		ECC:            app.cfg.ECC,
	}, app.logger)

	std := httpx.NoRedirectClient(&http.Client{Timeout: httpx.DefaultClientTimeout})
	if app.cfg.IdpCAFile != "" {
		pool, err := httpx.PinnedPool(app.cfg.IdpCAFile)
		if err != nil {
			return fmt.Errorf("idp ca: %w", err)
		}
		std = httpx.NewPinnedClient(pool)
	}

	// The privileged client additionally trusts a TLS-intercepting
	// proxy; it only ever serves as the second attempt on continuation
	// URLs.
	var priv *http.Client
	if app.cfg.ProxyCAFile != "" {
		pool, err := httpx.PinnedPool(app.cfg.IdpCAFile, app.cfg.ProxyCAFile)
		if err != nil {
			return fmt.Errorf("proxy ca: %w", err)
		}
		priv = httpx.NewPinnedClient(pool)
	}

	app.idp = idp.New(std, priv, app.cfg.ClientID, BuildVersion, app.logger)
	return nil
}
