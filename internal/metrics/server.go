package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goran-ethernal/ChainRewind/internal/common"
	"github.com/goran-ethernal/ChainRewind/internal/logger"
	"github.com/goran-ethernal/ChainRewind/pkg/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector refreshes gauges that are read from storage rather than updated inline.
type Collector func(ctx context.Context) error

// StatsFunc returns a JSON serializable snapshot served on /stats.
type StatsFunc func() any

// Server is the HTTP server that exposes Prometheus metrics.
type Server struct {
	config    *config.MetricsConfig
	server    *http.Server
	collector Collector
	stats     StatsFunc
	interval  time.Duration
	log       *logger.Logger
	stopCh    chan struct{}
}

// NewServer creates a new metrics server. collector and stats may be nil.
func NewServer(cfg *config.MetricsConfig, collector Collector, stats StatsFunc, log *logger.Logger) *Server {
	return &Server{
		config:    cfg,
		collector: collector,
		stats:     stats,
		interval:  15 * time.Second,
		log:       log.WithComponent(common.ComponentMetrics),
		stopCh:    make(chan struct{}),
	}
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle(s.config.Path, promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		var body any = struct{}{}
		if s.stats != nil {
			body = s.stats()
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(body); err != nil {
			s.log.Warnf("failed to encode stats: %v", err)
		}
	})

	return mux
}

// Start starts the metrics HTTP server and begins collecting periodic metrics.
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		return nil
	}

	s.server = &http.Server{
		Addr:              s.config.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go s.updateMetrics(ctx)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("metrics server error: %v", err)
		}
	}()

	return nil
}

// Stop stops the metrics HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	close(s.stopCh)

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown metrics server: %w", err)
	}

	return nil
}

// Collect refreshes the system metrics and runs the collector once.
func (s *Server) Collect(ctx context.Context) {
	UpdateSystemMetrics()

	if s.collector == nil {
		return
	}
	if err := s.collector(ctx); err != nil {
		ErrorsInc("metrics", "warning")
		s.log.Warnf("failed to collect metrics: %v", err)
	}
}

func (s *Server) updateMetrics(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Collect(ctx)

	for {
		select {
		case <-ticker.C:
			s.Collect(ctx)
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}
