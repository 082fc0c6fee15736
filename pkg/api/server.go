// Package api serves the flash diagnostics over HTTP: region geometry and
// cursors, page dumps, manual sector erase and the event log.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router builds the HTTP routes. gatherer backs /metrics.
func (s *Server) Router(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Prometheus metrics endpoint
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	m := s.metrics
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", m.Instrument("/api/v1/health", s.handleHealth))

		// Regions
		r.Get("/regions", m.Instrument("/api/v1/regions", s.handleListRegions))
		r.Get("/regions/{name}", m.Instrument("/api/v1/regions/{name}", s.handleGetRegion))
		r.Get("/regions/{name}/pages", m.Instrument("/api/v1/regions/{name}/pages", s.handlePages))

		// Maintenance, guarded by the API key when one is configured
		r.Group(func(r chi.Router) {
			r.Use(requireAPIKey(s.config.APIKey, m))
			r.Post("/regions/{name}/erase", m.Instrument("/api/v1/regions/{name}/erase", s.handleErase))
		})

		// Event log
		r.Get("/log", m.Instrument("/api/v1/log", s.handleLogInfo))
		r.Get("/log/entries", m.Instrument("/api/v1/log/entries", s.handleLogEntries))
		r.Get("/log/search", m.Instrument("/api/v1/log/search", s.handleLogSearch))
	})

	return r
}

// StartServer serves the API until ctx is done, then shuts down gracefully.
func StartServer(ctx context.Context, s *Server, gatherer prometheus.Gatherer, logger *slog.Logger) error {
	addr := fmt.Sprintf("%s:%d", s.config.Bind, s.config.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(gatherer),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting diagnostics API", "addr", addr, "metrics", fmt.Sprintf("http://%s/metrics", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
