// Package api serves the file catalog and message reads over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	metricsInterval = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Routes returns the router with all routes configured
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.log))
	r.Use(s.metrics.Instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// unprotected for probes and scraping
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apiKeyMiddleware(s.config.APIKey, s.metrics))

		r.Get("/files", s.handleListFiles)
		r.Post("/files", s.handleAddFile)
		r.Get("/files/{id}", s.handleGetFile)
		r.Delete("/files/{id}", s.handleDeleteFile)
		r.Get("/files/{id}/messages", s.handleMessages)

		r.Get("/topics/{topic}/files", s.handleTopicFiles)
	})

	return r
}

// StartServer serves the API until ctx is done, then shuts down gracefully
func StartServer(ctx context.Context, files FileCatalog, config ServerConfig) error {
	if config.APIKey == "" {
		return errors.New("an API key is required")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	server := NewServer(files, config, NewMetrics(reg))

	addr := net.JoinHostPort(config.Bind, strconv.Itoa(config.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go server.startMetricsUpdater(ctx)

	errCh := make(chan error, 1)
	go func() {
		server.log.WithField("addr", addr).Info("starting REST API server")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	server.log.Info("shutting down REST API server")
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// startMetricsUpdater periodically refreshes the catalog size gauge
func (s *Server) startMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		s.refreshCatalogMetrics()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) refreshCatalogMetrics() {
	entries, err := s.files.List()
	if err != nil {
		s.log.WithError(err).Warn("failed to refresh catalog metrics")
		return
	}
	s.metrics.SetCatalogFiles(len(entries))
}
