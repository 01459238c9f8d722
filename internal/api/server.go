// Package api exposes the HTTP interface for the scrape service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/drexxdk/zeroheight-mcp-sub001/internal/jobs"
	"github.com/drexxdk/zeroheight-mcp-sub001/internal/scrape"
)

// JobName is the handler key for site scrape jobs.
const JobName = "scrape_site"

// JobStore is the slice of the job store the API needs.
type JobStore interface {
	Create(ctx context.Context, name string, args any) (string, error)
	Get(ctx context.Context, id string) (jobs.Job, error)
	GetResult(ctx context.Context, id string, requestedTTL time.Duration) (jobs.Job, time.Duration, error)
	Cancel(ctx context.Context, id string) (jobs.CancelAction, error)
}

// Server wires HTTP handlers to the job store.
type Server struct {
	router chi.Router
	store  JobStore
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store JobStore, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{store: store, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/status", s.getJobStatus)
				r.Get("/result", s.getJobResult)
				r.Post("/cancel", s.cancelJob)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type submitJobRequest struct {
	RootURL    string             `json:"root_url"`
	PageURLs   []string           `json:"page_urls"`
	Credential *scrape.Credential `json:"credential"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.RootURL == "" && len(req.PageURLs) == 0 {
		s.writeError(w, http.StatusBadRequest, "root_url or page_urls required")
		return
	}

	params := scrape.CrawlParams{
		RootURL:    req.RootURL,
		PageURLs:   req.PageURLs,
		Credential: req.Credential,
	}
	id, err := s.store.Create(r.Context(), JobName, params)
	if err != nil {
		s.logger.Error("create job failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": id,
		"status": string(jobs.StatusQueued),
	})
}

// jobDTO is the wire shape for job status responses.
type jobDTO struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Status     string          `json:"status"`
	Logs       string          `json:"logs,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

func toJobDTO(job jobs.Job, includeResult bool) jobDTO {
	dto := jobDTO{
		ID:         job.ID,
		Name:       job.Name,
		Status:     string(job.Status),
		Logs:       job.Logs,
		Error:      job.Error,
		CreatedAt:  job.CreatedAt,
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
	}
	if includeResult && len(job.Result) > 0 {
		dto.Result = json.RawMessage(job.Result)
	}
	return dto
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "job_id")
	job, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job failed", zap.String("job_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": toJobDTO(job, false)})
}

func (s *Server) getJobResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "job_id")

	var requested time.Duration
	if raw := r.URL.Query().Get("ttl"); raw != "" {
		seconds, err := parseSeconds(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid ttl")
			return
		}
		requested = seconds
	}

	job, ttl, err := s.store.GetResult(r.Context(), id, requested)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job result failed", zap.String("job_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load job result")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"job":         toJobDTO(job, true),
		"ttl_seconds": int(ttl.Seconds()),
	})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "job_id")
	action, err := s.store.Cancel(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, jobs.ErrAlreadyTerminal):
			s.writeError(w, http.StatusConflict, err.Error())
		default:
			s.logger.Error("cancel job failed", zap.String("job_id", id), zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "failed to cancel job")
		}
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"job_id": id,
		"action": string(action),
	})
}

func parseSeconds(raw string) (time.Duration, error) {
	var seconds int
	if _, err := fmt.Sscanf(raw, "%d", &seconds); err != nil {
		return 0, err
	}
	if seconds < 0 {
		return 0, errors.New("ttl must be non-negative")
	}
	return time.Duration(seconds) * time.Second, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec))
					http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON response failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
