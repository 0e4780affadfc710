// Package server exposes the agent and the audit pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"saifguard/internal/logging"
	"saifguard/internal/report"
)

// Invoker runs one agent turn and streams the answer.
type Invoker interface {
	Invoke(ctx context.Context, userID, message string) (<-chan string, <-chan error)
}

// AuditRunner executes the report pipeline for a project.
type AuditRunner interface {
	Run(ctx context.Context, projectID string) (*report.Result, error)
}

// Config tunes the HTTP server.
type Config struct {
	Addr string

	// ReadTimeout bounds request header/body reads. Responses stream,
	// so there is deliberately no write timeout.
	ReadTimeout time.Duration

	// ShutdownTimeout bounds the drain on graceful shutdown.
	ShutdownTimeout time.Duration

	// StatusMessage is what the healthcheck reports.
	StatusMessage string
}

// Server is the HTTP front of the service.
type Server struct {
	httpServer *http.Server
	agent      Invoker
	pipeline   AuditRunner
	config     Config
}

// New wires the handlers. pipeline may be nil when the audit endpoint
// is not deployed; it then answers 503.
func New(agent Invoker, pipeline AuditRunner, cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.StatusMessage == "" {
		cfg.StatusMessage = "SAIFGuard Agent API is running."
	}

	s := &Server{
		agent:    agent,
		pipeline: pipeline,
		config:   cfg,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthcheck", s.handleHealthcheck)
	mux.HandleFunc("POST /invoke", s.handleInvoke)
	mux.HandleFunc("POST /audit", s.handleAudit)

	s.httpServer = &http.Server{
		Addr:        cfg.Addr,
		Handler:     requestLogging(mux),
		ReadTimeout: cfg.ReadTimeout,
	}
	return s
}

// Handler exposes the routing for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logging.Server("Listening on %s", s.config.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
			return
		}
		errChan <- nil
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	logging.Server("Shutting down, draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errChan
}

// invokeRequest is the /invoke payload.
type invokeRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

// auditRequest is the /audit payload.
type auditRequest struct {
	ProjectID string `json:"project_id"`
}

func (s *Server) handleHealthcheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": s.config.StatusMessage})
}

// handleInvoke streams the agent's answer as plain text. Errors raised
// before the first chunk become proper HTTP errors; once streaming has
// started the connection is simply cut on failure.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.UserID == "" || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "user_id and message are required")
		return
	}

	contentChan, errChan := s.agent.Invoke(r.Context(), req.UserID, req.Message)

	// Hold the status code until the agent produces something.
	first, ok := <-contentChan
	if !ok {
		if err := <-errChan; err != nil {
			logging.Get(logging.CategoryServer).Error("Invoke failed for %s: %v", req.UserID, err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		// Agent finished with nothing to say.
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	flusher, _ := w.(http.Flusher)

	writeChunk := func(chunk string) bool {
		if _, err := w.Write([]byte(chunk)); err != nil {
			logging.ServerDebug("Client gone during /invoke stream: %v", err)
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}

	if !writeChunk(first) {
		return
	}
	for chunk := range contentChan {
		if !writeChunk(chunk) {
			return
		}
	}
	if err := <-errChan; err != nil {
		// Mid-stream failure: too late for a status code.
		logging.Get(logging.CategoryServer).Error("Invoke stream for %s aborted: %v", req.UserID, err)
	}
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		writeError(w, http.StatusServiceUnavailable, "audit pipeline not configured")
		return
	}

	var req auditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.ProjectID == "" {
		writeError(w, http.StatusBadRequest, "project_id is required")
		return
	}

	result, err := s.pipeline.Run(r.Context(), req.ProjectID)
	if err != nil {
		logging.Get(logging.CategoryServer).Error("Audit failed for %s: %v", req.ProjectID, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"report_id":  result.ReportID,
		"project_id": result.ProjectID,
		"row_count":  result.RowCount,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// requestLogging logs method, path, status, and duration per request.
func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logging.Server("%s %s -> %d in %v", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps streaming working through the logging wrapper.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
