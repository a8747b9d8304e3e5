// Package collector implements the reference ingestion service for glia
// telemetry: an HTTP API backed by the job store, and a relay that forwards
// stored records to a Redis stream.
package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/glia-dev/glia/glia"
	"github.com/glia-dev/glia/internal/store"
)

const (
	// DefaultListLimit is used by GET /telemetry when no limit is given.
	DefaultListLimit = 100

	// maxBodyBytes caps an ingested record.
	maxBodyBytes = 1 << 20
)

// JobStore is the persistence the server needs.
type JobStore interface {
	Insert(ctx context.Context, m *glia.JobMetrics) (*store.Job, error)
	List(ctx context.Context, limit int) ([]store.Job, error)
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// ServerConfig holds configuration for the collector server.
type ServerConfig struct {
	Addr    string  // listen address (default: ":8000")
	Version string  // reported by /health
	Rate    float64 // accepted ingest requests per second; 0 disables throttling

	Logger *zap.Logger
}

// Server accepts telemetry records over HTTP.
type Server struct {
	store      JobStore
	addr       string
	version    string
	limiter    *rate.Limiter
	logger     *zap.Logger
	httpServer *http.Server
}

// NewServer creates a collector server that persists into st.
func NewServer(cfg ServerConfig, st JobStore) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8000"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), max(1, int(cfg.Rate)))
	}

	return &Server{
		store:   st,
		addr:    cfg.Addr,
		version: cfg.Version,
		limiter: limiter,
		logger:  cfg.Logger,
	}
}

// Addr returns the address the server is configured to listen on.
func (s *Server) Addr() string {
	return s.addr
}

// Handler returns the HTTP routes of the collector.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ingest", s.handleIngest)
	mux.HandleFunc("/telemetry", s.handleTelemetry)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start begins listening for HTTP requests.
// This method blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("Collector listening", zap.String("addr", s.addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// handleIngest stores one record.
// POST /ingest
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "Too many requests")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return
	}

	m, err := decodeRecord(body)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	job, err := s.store.Insert(r.Context(), m)
	if errors.Is(err, store.ErrDuplicateRun) {
		writeError(w, http.StatusConflict, fmt.Sprintf("run_id %s already ingested", m.RunID))
		return
	}
	if err != nil {
		s.logger.Error("Failed to persist telemetry", zap.String("run_id", m.RunID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to persist telemetry data.")
		return
	}

	s.logger.Debug("Ingested job",
		zap.Int64("id", job.ID),
		zap.String("run_id", job.RunID),
		zap.String("program", job.ProgramName),
		zap.Int("exit_code", job.ExitCode))

	writeJSON(w, http.StatusCreated, job)
}

// handleTelemetry lists stored records.
// GET /telemetry?limit=N
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusUnprocessableEntity, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	jobs, err := s.store.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list telemetry", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to list telemetry data.")
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// handleHealth returns a simple health check response.
// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Version: s.version})
}

// decodeRecord parses and validates an ingested record. An empty run id is
// replaced with a fresh one.
func decodeRecord(body []byte) (*glia.JobMetrics, error) {
	var m glia.JobMetrics
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("invalid record: %v", err)
	}

	if m.RunID == "" {
		m.RunID = uuid.NewString()
	} else if _, err := uuid.Parse(m.RunID); err != nil {
		return nil, fmt.Errorf("invalid run_id %q: %v", m.RunID, err)
	}

	switch {
	case m.ProgramName == "":
		return nil, errors.New("program_name is required")
	case m.UserName == "":
		return nil, errors.New("user_name is required")
	case m.ScriptSHA256 == "":
		return nil, errors.New("script_sha256 is required")
	case m.EndedAt.Before(m.StartedAt):
		return nil, errors.New("ended_at precedes started_at")
	}
	return &m, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}
