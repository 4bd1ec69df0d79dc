// Package server exposes the ambient HTTP surface: Prometheus metrics
// plus the liveness/readiness endpoints backed by internal/health,
// adapted from the teacher's MetricsServer (same mux/http.Server/
// graceful-shutdown shape, swapping the teacher's disk-stat readiness
// check for this adapter's directory-layer reachability check).
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/relionsql/kvadapter/internal/health"
)

// Config holds configuration for the HTTP server.
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MetricsPath     string
}

// Server serves /metrics, /health/live, and /health/ready over HTTP.
type Server struct {
	httpServer *http.Server
	health     *health.Service
	logger     *zap.Logger
	shutdownTO time.Duration
}

func New(cfg *Config, h *health.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.MetricsPath, promhttp.Handler())
	mux.HandleFunc("/health/live", h.LivenessHandler)
	mux.HandleFunc("/health/ready", h.ReadinessHandler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      mux,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		health:     h,
		logger:     logger,
		shutdownTO: cfg.ShutdownTimeout,
	}
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.logger.Info("starting metrics/health server", zap.String("addr", s.httpServer.Addr))
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics/health server failed", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts the server down, first marking readiness false
// so a load balancer stops routing new traffic during drain.
func (s *Server) Stop() error {
	s.logger.Info("stopping metrics/health server")
	s.health.SetReadiness(false)

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTO)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics/health server shutdown failed: %w", err)
	}
	return nil
}
