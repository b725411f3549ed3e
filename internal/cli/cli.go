// Package cli holds the setup shared by the vexroute subcommands: config,
// logger, object store and the optional metrics endpoint.
package cli

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vexsearch/vexroute/internal/config"
	"github.com/vexsearch/vexroute/internal/logging"
	"github.com/vexsearch/vexroute/pkg/objectstore"
)

const shutdownTimeout = 5 * time.Second

// Env is the runtime environment of one command invocation.
type Env struct {
	Config *config.Config
	Logger *logging.Logger
	Store  objectstore.Store
	// RunID identifies this invocation in logs and, for builds, in the
	// published manifest key.
	RunID string
}

// Setup loads the config at configPath and builds the logger and object
// store it describes. Logs go to logOut, or stderr when logOut is nil.
func Setup(configPath string, logOut io.Writer) (*Env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if logOut == nil {
		logOut = os.Stderr
	}
	runID := logging.NewRunID()
	logger := logging.NewWithWriter(logOut, level).WithRun(runID)

	store, err := objectstore.New(cfg.ObjectStore.StoreConfig())
	if err != nil {
		return nil, err
	}
	return &Env{Config: cfg, Logger: logger, Store: store, RunID: runID}, nil
}

// Prefix returns the object key prefix all artifacts live under.
func (e *Env) Prefix() string {
	return e.Config.ObjectStore.GetPrefix()
}

// ServeMetrics exposes the Prometheus registry on metrics.listen_addr when
// set. The returned function shuts the listener down.
func (e *Env) ServeMetrics() (stop func()) {
	addr := e.Config.Metrics.ListenAddr
	if addr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", logging.Middleware(e.Logger, e.RunID)(promhttp.Handler()))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		e.Logger.Info("metrics endpoint listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.Logger.Error("metrics endpoint failed", "addr", addr, "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			e.Logger.Warn("metrics endpoint shutdown failed", "error", err)
		}
	}
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
