// Package app wires the pairline server runtime: config, logging, storage,
// the session registry and the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"pairline/cmd/internal/client"
	"pairline/cmd/internal/gateway"
	"pairline/cmd/internal/portal"
	"pairline/cmd/internal/session"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App is the pairline server runtime. It owns the registry, the DB pool and the HTTP server wiring.
type App struct {
	cfg Config
	log Logger

	dbPool  *pgxpool.Pool
	metrics *prometheus.Registry

	reg *session.Registry
	gw  *gateway.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor)
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	factory, err := newFactory(cfg)
	if err != nil {
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	sessMetrics, err := session.NewMetrics(promReg)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	catalog, dbPool, err := newCatalog(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	reg, err := session.NewRegistry(session.Config{
		DataDir:             cfg.DataDir,
		RecoveryDelay:       cfg.RecoveryDelay,
		RecoveryMaxAttempts: cfg.RecoveryMaxAttempts,
		MaxSessions:         cfg.MaxSessions,
		InitTimeout:         cfg.InitTimeout,
		ReleaseTimeout:      cfg.ReleaseTimeout,
	}, factory,
		session.WithLogger(log),
		session.WithCatalog(catalog),
		session.WithMetrics(sessMetrics),
	)
	if err != nil {
		closePool(dbPool)
		return nil, err
	}

	var opts []gateway.HandlerOption
	if cfg.PortalUsersFile != "" {
		svc, err := newPortal(cfg, log)
		if err != nil {
			_ = reg.Close(context.Background())
			closePool(dbPool)
			return nil, err
		}
		opts = append(opts, gateway.WithPortal(svc))
	}

	gw, err := gateway.NewHandler(log, reg, session.Dispatcher{
		MinDigits:   cfg.MinDigits,
		Suffix:      cfg.AddressSuffix,
		SendTimeout: cfg.SendTimeout,
	}, gateway.Config{
		MaxBodyBytes: int64(cfg.MaxBodyBytes),
		SendWait:     cfg.SendWait,
		TrustProxy:   cfg.TrustProxy,
		Events:       gateway.EventsConfig{AllowedOrigins: cfg.EventOrigins},
	}, opts...)
	if err != nil {
		_ = reg.Close(context.Background())
		closePool(dbPool)
		return nil, err
	}

	return &App{
		cfg:     cfg,
		log:     log,
		dbPool:  dbPool,
		metrics: promReg,
		reg:     reg,
		gw:      gw,
	}, nil
}

// Handler returns the full middleware-wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.gw, a.metrics)

	var h http.Handler = mux
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	return WithRequestLogging(h, a.log)
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.RestoreSessions {
		n, err := a.reg.Restore(ctx)
		if err != nil {
			a.log.Error("session.restore.fail", "err", err)
		} else {
			a.log.Info("session.restore", "sessions", n)
		}
	}

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 90*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"driver", a.cfg.Driver,
		"data_dir", a.cfg.DataDir,
		"db_enabled", a.dbPool != nil,
		"portal_enabled", a.cfg.PortalUsersFile != "",
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 15*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		if runErr == nil {
			runErr = err
		}
	}

	// Clients own browser processes or sidecar sockets; release them before the pool goes.
	if err := a.reg.Close(shutdownCtx); err != nil {
		a.log.Error("session.registry.close.fail", "err", err)
	}
	closePool(a.dbPool)

	a.log.Info("server.stopped")
	return runErr
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func newFactory(cfg Config) (client.Factory, error) {
	switch cfg.Driver {
	case DriverBridge:
		return client.NewBridgeFactory(client.BridgeConfig{URL: cfg.BridgeURL})
	default:
		return client.NewSimFactory(client.SimConfig{AutoPair: cfg.SimAutoPair}), nil
	}
}

// newCatalog picks the Postgres catalog when a database is configured,
// otherwise the in-memory one. The app owns the pool; the catalog does not close it.
func newCatalog(ctx context.Context, cfg Config, log Logger) (session.Catalog, *pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.memory_catalog")
		return session.NewMemoryCatalog(), nil, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	cat, err := session.NewPostgresCatalog(pool)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	log.Info("db.enabled.postgres_catalog")
	return cat, pool, nil
}

func newPortal(cfg Config, log Logger) (*portal.Service, error) {
	users, err := portal.LoadUsers(cfg.PortalUsersFile)
	if err != nil {
		return nil, err
	}

	pcfg := portal.DefaultConfig()
	pcfg.SecretKeyHex = cfg.PortalSecretHex
	pcfg.TokenTTL = nonZeroDuration(cfg.PortalTokenTTL, pcfg.TokenTTL)
	pcfg.LoginMax = cfg.PortalLoginMax
	pcfg.LoginWindow = nonZeroDuration(cfg.PortalLoginWindow, pcfg.LoginWindow)

	svc, err := portal.NewService(pcfg, users, log.With("component", "portal"))
	if err != nil {
		return nil, err
	}
	log.Info("portal.enabled", "users", users.Len())
	return svc, nil
}

func closePool(pool *pgxpool.Pool) {
	if pool != nil {
		pool.Close()
	}
}
