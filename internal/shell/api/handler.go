// Package api provides the read-only status HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/artpar/stackctl/internal/core/domain"
	"github.com/artpar/stackctl/internal/shell/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// =============================================================================
// Handler
// =============================================================================

// StatusSource produces project status reports.
type StatusSource interface {
	Latest() (domain.StatusReport, bool)
	Refresh(ctx context.Context) (domain.StatusReport, error)
}

// Pinger checks the container engine.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler provides HTTP handlers for the API.
type Handler struct {
	project string
	status  StatusSource
	journal store.Store
	engine  Pinger
	logger  *slog.Logger
}

// NewHandler creates a new API handler. journal may be nil when the run
// journal is disabled.
func NewHandler(project string, status StatusSource, journal store.Store, engine Pinger, l *slog.Logger) *Handler {
	if l == nil {
		l = slog.Default()
	}
	return &Handler{
		project: project,
		status:  status,
		journal: journal,
		engine:  engine,
		logger:  l,
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.jsonContentType)
	r.Use(h.requestIDHeader)

	// Health endpoints
	r.Get("/healthz", h.handleHealth)
	r.Get("/readyz", h.handleReady)

	r.Get("/status", h.handleStatus)
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", h.handleListRuns)
		r.Get("/{id}", h.handleGetRun)
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	if h.journal != nil {
		checks["journal"] = "ok"
	} else {
		checks["journal"] = "disabled"
	}

	if err := h.engine.Ping(r.Context()); err != nil {
		checks["engine"] = "failed"
		h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Status: "not_ready",
			Checks: checks,
		})
		return
	}
	checks["engine"] = "ok"

	h.writeJSON(w, http.StatusOK, ReadyResponse{
		Status: "ready",
		Checks: checks,
	})
}

// =============================================================================
// Status Handlers
// =============================================================================

// handleStatus serves the latest report, refreshing first when none exists
// yet or the caller passes ?refresh=true.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	report, ok := h.status.Latest()
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh || !ok {
		var err error
		report, err = h.status.Refresh(r.Context())
		if err != nil {
			h.logger.Error("failed to refresh status", "error", err)
			h.writeError(w, http.StatusServiceUnavailable, "engine unavailable", "engine_unavailable")
			return
		}
	}

	h.writeJSON(w, http.StatusOK, report)
}

// =============================================================================
// Run Handlers
// =============================================================================

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		h.writeError(w, http.StatusNotFound, "run journal is disabled", "journal_disabled")
		return
	}

	opts := store.DefaultListOptions()
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			opts.Limit = l
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil {
			opts.Offset = o
		}
	}
	opts = opts.Normalize()

	runs, err := h.journal.ListRuns(r.Context(), h.project, opts)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list runs", "internal_error")
		return
	}

	resp := ListRunsResponse{
		Runs:   make([]domain.Run, 0, len(runs)),
		Total:  len(runs),
		Limit:  opts.Limit,
		Offset: opts.Offset,
	}
	resp.Runs = append(resp.Runs, runs...)

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		h.writeError(w, http.StatusNotFound, "run journal is disabled", "journal_disabled")
		return
	}
	id := chi.URLParam(r, "id")

	run, err := h.journal.GetRun(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "run not found", "run_not_found")
			return
		}
		h.logger.Error("failed to get run", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get run", "internal_error")
		return
	}
	if run.Project != h.project {
		h.writeError(w, http.StatusNotFound, "run not found", "run_not_found")
		return
	}

	events, err := h.journal.ListEvents(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to list run events", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list run events", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, RunResponse{Run: *run, Events: events})
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
