// Package app wires the gymchat runtime: config, logging, the per-session cache with its
// transport and directory, and the HTTP surface the dashboard talks to.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/cmd/internal/api"
	"github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/cmd/internal/chatcache"
)

// App is the gymchat server runtime: it owns the HTTP server and the session behind it.
type App struct {
	cfg Config
	log Logger

	session  *Session
	api      *api.Handler
	registry *prometheus.Registry
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	sess, err := OpenSession(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	h, err := api.NewHandler(log, sess.Cache, sess.Directory, api.Config{
		OriginRequired: cfg.EventsOriginRequired,
		AllowedOrigins: cfg.EventsAllowedOrigins,
	})
	if err != nil {
		_ = sess.Close()
		return nil, err
	}

	// Cache gauges live in a per-App registry so a second App (tests) does not collide
	// with the first on the default registerer.
	reg := prometheus.NewRegistry()
	if err := reg.Register(chatcache.NewStatsCollector(sess.Cache)); err != nil {
		_ = sess.Close()
		return nil, err
	}

	return &App{
		cfg:      cfg,
		log:      log,
		session:  sess,
		api:      h,
		registry: reg,
	}, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.session, a.api, a.registry)
	return WithRequestLogging(WithSecurityHeaders(mux), a.log)
}

// Session returns the session the App serves.
func (a *App) Session() *Session { return a.session }

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"transport", a.transportKind(),
		"db_enabled", a.session.Pool() != nil,
		"cache_capacity", a.session.Cache.Capacity(),
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if runErr == nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			runErr = err
		}
	}

	// Logout semantics: listeners detached, channels released, pool closed.
	if err := a.session.Close(); err != nil {
		a.log.Error("session.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return runErr
}

func (a *App) transportKind() string {
	if a.session.Loopback != nil {
		return "loopback"
	}
	return "wsclient"
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
