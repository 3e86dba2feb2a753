// Package webhook exposes the engine's HTTP surface: resuming suspended
// runs, listing active wait points, and firing webhook-triggered workflows.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"goa.design/clue/log"
	"golang.org/x/time/rate"

	"github.com/flowkit-dev/flowkit/engine"
	"github.com/flowkit-dev/flowkit/store"
)

// Engine is the slice of the workflow engine the HTTP surface needs.
type Engine interface {
	ResumeByWebhook(ctx context.Context, waitID string, payload any) error
	ActiveWaits() []engine.WaitInfo
	ExecuteByName(ctx context.Context, name string, input any) (*store.WorkflowExecution, error)
}

// Server is the webhook HTTP handler.
type Server struct {
	engine  Engine
	limiter *rate.Limiter
}

// Option configures a Server.
type Option func(*Server)

// WithRateLimit overrides the default delivery rate limit.
func WithRateLimit(rps rate.Limit, burst int) Option {
	return func(s *Server) { s.limiter = rate.NewLimiter(rps, burst) }
}

// NewServer creates the webhook surface for the given engine.
func NewServer(eng Engine, opts ...Option) *Server {
	s := &Server{
		engine:  eng,
		limiter: rate.NewLimiter(50, 100),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the HTTP handler, wrapped with Clue request logging. The
// context carries the logger configuration.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook/resume/{wait_id}", s.handleResume)
	mux.HandleFunc("GET /webhook/waits", s.handleWaits)
	mux.HandleFunc("POST /webhook/trigger/{workflow_name}", s.handleTrigger)
	return log.HTTP(ctx)(mux)
}

// handleResume routes a delivered payload to the suspended run waiting on
// the wait id. The body is taken verbatim as the resumed node's output.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "rate limit exceeded"})
		return
	}

	waitID := r.PathValue("wait_id")
	payload, err := decodeBody(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "body must be valid JSON"})
		return
	}

	if err := s.engine.ResumeByWebhook(r.Context(), waitID, payload); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "no run is waiting on this id"})
			return
		}
		log.Errorf(r.Context(), err, "resume delivery failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "delivery failed"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "wait_id": waitID})
}

// handleWaits lists the wait points currently suspending runs.
func (s *Server) handleWaits(w http.ResponseWriter, r *http.Request) {
	waits := s.engine.ActiveWaits()
	if waits == nil {
		waits = []engine.WaitInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"waits": waits})
}

// handleTrigger runs a stored workflow by name with the delivered body as
// input and returns the terminal execution record.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "rate limit exceeded"})
		return
	}

	name := r.PathValue("workflow_name")
	input, err := decodeBody(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "body must be valid JSON"})
		return
	}

	exec, err := s.engine.ExecuteByName(r.Context(), name, input)
	if err != nil {
		log.Errorf(r.Context(), err, "trigger dispatch failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "dispatch failed"})
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// decodeBody parses an optional JSON body. An empty body decodes to nil.
func decodeBody(body io.Reader) (any, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
