// Package server implements the HTTP server that exposes the knowledge-base
// API: document management, batch and file ingestion, vector search, and
// retrieval-augmented answering.
// The server is started by the `omnikb serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NamLeeeWatatek/omnikb-go/internal/knowledge"
	"github.com/NamLeeeWatatek/omnikb-go/internal/logging"
)

// defaultMaxUploadBytes caps document uploads at 8 MiB.
const defaultMaxUploadBytes = 8 << 20

// New constructs a Server from the provided orchestrators and config.
func New(svc *knowledge.Service, answerer *knowledge.Answerer, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("server: knowledge service must not be nil")
	}
	if answerer == nil {
		return nil, fmt.Errorf("server: answerer must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// Batch ingestion embeds synchronously; allow generous writes.
		cfg.WriteTimeout = 2 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}

	s := &Server{
		svc:      svc,
		answerer: answerer,
		cfg:      cfg,
		log:      cfg.Logger,
		pingers:  cfg.Pingers,
		registry: cfg.Registry,
		metrics:  newServerMetrics(cfg.Registry),
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, cfg.Logger)
	s.stopRL = stopRL

	if cfg.APIKey == "" {
		cfg.Logger.Warn("server: OMNIKB_API_KEY not set — API authentication is disabled")
	}

	api := http.NewServeMux()
	api.HandleFunc("POST /api/documents", s.handleCreateDocument)
	api.HandleFunc("GET /api/documents", s.handleListDocuments)
	api.HandleFunc("GET /api/documents/count", s.handleCountDocuments)
	api.HandleFunc("POST /api/documents/batch", s.handleBatchCreate)
	api.HandleFunc("POST /api/documents/upload", s.handleUpload)
	api.HandleFunc("GET /api/documents/{id}", s.handleGetDocument)
	api.HandleFunc("PATCH /api/documents/{id}", s.handleUpdateDocument)
	api.HandleFunc("DELETE /api/documents/{id}", s.handleDeleteDocument)
	api.HandleFunc("DELETE /api/bots/{botId}/documents", s.handleDeleteTenant)
	api.HandleFunc("POST /api/query", s.handleQuery)
	api.HandleFunc("POST /api/answer", s.handleAnswer)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.Handle("/api/", authMiddleware(cfg.APIKey, rl.middleware(api)))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(cfg.Logger, s.instrument(mux)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the server's root handler. Tests drive it directly through
// httptest without opening a socket.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError sends the standard JSON error envelope.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
