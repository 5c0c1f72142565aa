package server

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SignalDesk/internal/usecase"
	"SignalDesk/pkg/config"
	xhttp "SignalDesk/pkg/http"
	"SignalDesk/pkg/http/middleware"
	applogger "SignalDesk/pkg/logger"
)

type namedCloser struct {
	name string
	c    io.Closer
}

// Option configures App.
type Option func(*App)

// WithCloser registers a resource closed on shutdown, in registration order.
func WithCloser(name string, c io.Closer) Option {
	return func(a *App) {
		a.closers = append(a.closers, namedCloser{name: name, c: c})
	}
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg         *config.Config
	log         *applogger.Logger
	engine      *usecase.Engine
	httpHandler xhttp.Handler
	limiter     middleware.Allower
	httpServer  *xhttp.Server
	closers     []namedCloser
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	engine *usecase.Engine,
	handler xhttp.Handler,
	limiter middleware.Allower,
	opts ...Option,
) *App {
	if l == nil {
		l = applogger.Nop()
	}
	a := &App{
		cfg:         cfg,
		log:         l,
		engine:      engine,
		httpHandler: handler,
		limiter:     limiter,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsPath := ""
	if a.cfg.Metrics.Enabled {
		metricsPath = a.cfg.Metrics.Path
	}
	serverOpts := []xhttp.ServerOption{
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(a.log),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithSlowRequest(a.cfg.Server.SlowRequest),
		xhttp.WithCORSOrigins(a.cfg.Server.CORSOrigins...),
	}
	if a.limiter != nil {
		serverOpts = append(serverOpts,
			xhttp.WithRateLimit(a.limiter, a.cfg.Server.RateLimit.Capacity, a.cfg.Server.RateLimit.RefillPerSec))
	}
	a.httpServer = xhttp.NewServer(a.httpHandler, serverOpts...)

	if a.cfg.Engine.SweepInterval > 0 {
		go a.sweepLoop(ctx, a.cfg.Engine.SweepInterval)
	}

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		a.log.Info("shutdown signal received", applogger.String("signal", sig.String()))
	case runErr = <-a.httpServer.Errors():
		a.log.Error("http server exited", applogger.Error(runErr))
	}

	cancel()
	if err := a.shutdown(); err != nil {
		return err
	}
	return runErr
}

// sweepLoop retries remote deletes that failed earlier.
func (a *App) sweepLoop(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if len(a.engine.Registry().Pending()) == 0 {
				continue
			}
			n, err := a.engine.SweepPending(ctx)
			if err != nil {
				a.log.Warn("pending delete sweep incomplete", applogger.Int("deleted", n), applogger.Error(err))
				continue
			}
			a.log.Info("pending deletes swept", applogger.Int("deleted", n))
		}
	}
}

// shutdown gracefully stops all services.
func (a *App) shutdown() error {
	a.log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if a.httpServer != nil {
		if err := a.httpServer.Stop(shutdownCtx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
		}
	}

	if err := a.engine.Close(); err != nil {
		a.log.Warn("engine close error", applogger.Error(err))
	}

	// flush aggregated logs while the producer is still open
	a.log.RemoveCollector()

	for _, nc := range a.closers {
		if err := nc.c.Close(); err != nil {
			a.log.Warn("close error", applogger.String("resource", nc.name), applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
