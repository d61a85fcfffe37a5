// Package server wires the HTTP routes and runs the listener.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/wfs-server/internal/core/config"
	"github.com/mohammed-shakir/wfs-server/internal/core/health"
	middleware "github.com/mohammed-shakir/wfs-server/internal/core/middleware"
	"github.com/mohammed-shakir/wfs-server/internal/core/router"
	"github.com/mohammed-shakir/wfs-server/internal/wfs"
)

// Deps are the optional pieces around the WFS endpoint.
type Deps struct {
	// Metrics is mounted on /metrics unless cfg.MetricsAddr moves it to its
	// own listener. Nil disables it.
	Metrics http.Handler
	// Ready is checked by /readyz.
	Ready map[string]health.Pinger
}

// NewHandler builds the route tree.
func NewHandler(cfg config.Config, logger *slog.Logger, svc *wfs.Service, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(deps.Ready))
	if deps.Metrics != nil && cfg.MetricsAddr == "" {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Group(func(r chi.Router) {
		if cfg.GzipEnabled {
			r.Use(middleware.Gzip())
		}
		h := router.HandleWFS(logger, cfg, svc)
		r.Get(router.Route, h)
		r.Post(router.Route, h)
	})
	return r
}

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, svc *wfs.Service, deps Deps) error {
	servers := []*http.Server{newServer(cfg.Addr, NewHandler(cfg, logger, svc, deps))}
	if deps.Metrics != nil && cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", deps.Metrics)
		servers = append(servers, newServer(cfg.MetricsAddr, mux))
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			logger.Info("http listen", "addr", srv.Addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}(srv)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		_ = srv.Shutdown(shutdownCtx)
	}
	return runErr
}

func newServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// feature streams can be long
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}
