// Package api provides the HTTP handlers and routing for the venue.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"venue/internal/apperrors"
	"venue/internal/catalog"
	"venue/internal/engine"
	"venue/internal/health"
	"venue/internal/job"
)

// maxRequestBodySize limits request body to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20 // 1 MB

// Validation limits
const (
	maxOperationRefLength = 256
	maxCallbackEvents     = 16
)

// InvokeRequest is the body of POST /v1/invoke.
type InvokeRequest struct {
	Operation string           `json:"operation"`
	Input     any              `json:"input"`
	Callback  *engine.Callback `json:"callback,omitempty"`
}

// ListJobsResponse is the body of GET /v1/jobs.
type ListJobsResponse struct {
	Jobs []job.Record `json:"jobs"`
}

// ListOperationsResponse is the body of GET /v1/operations.
type ListOperationsResponse struct {
	Operations []catalog.Entry `json:"operations"`
}

// ListAdaptersResponse is the body of GET /v1/adapters. Operations covers
// adapters with a fixed operation set.
type ListAdaptersResponse struct {
	Adapters   []string            `json:"adapters"`
	Operations map[string][]string `json:"operations,omitempty"`
}

// Handler contains HTTP handlers for the venue API
type Handler struct {
	engine  *engine.Engine
	catalog *catalog.Catalog
	health  *health.Checker
}

// NewHandler creates a new API handler
func NewHandler(e *engine.Engine, c *catalog.Catalog, healthChecker *health.Checker) *Handler {
	return &Handler{
		engine:  e,
		catalog: c,
		health:  healthChecker,
	}
}

// Invoke handles POST /v1/invoke
func (h *Handler) Invoke(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req InvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			h.writeError(w, http.StatusBadRequest, "Request body is required")
			return
		}
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := validateInvoke(&req); err != nil {
		h.handleError(w, r, err)
		return
	}

	var opts []engine.InvokeOption
	if req.Callback != nil {
		opts = append(opts, engine.WithCallback(*req.Callback))
	}
	j, err := h.engine.InvokeOperation(r.Context(), req.Operation, req.Input, opts...)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/jobs/"+j.ID())
	h.writeJSON(w, http.StatusAccepted, j.Record())
}

// ListJobs handles GET /v1/jobs, optionally filtered by ?status=.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	records := h.engine.ListJobs()

	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := job.ParseStatus(raw)
		if err != nil {
			h.handleError(w, r, apperrors.Validation("status", err.Error()))
			return
		}
		filtered := records[:0]
		for _, rec := range records {
			if rec.Status == status {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}

	h.writeJSON(w, http.StatusOK, ListJobsResponse{Jobs: records})
}

// GetJob handles GET /v1/jobs/{jobId}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	rec, err := h.engine.GetJobData(jobID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, rec)
}

// CancelJob handles POST /v1/jobs/{jobId}/cancel
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	rec, err := h.engine.CancelJob(jobID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	slog.Info("Job cancelled", "jobId", jobID)
	h.writeJSON(w, http.StatusOK, rec)
}

// DeleteJob handles DELETE /v1/jobs/{jobId}
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	if err := h.engine.DeleteJob(jobID); err != nil {
		h.handleError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListOperations handles GET /v1/operations
func (h *Handler) ListOperations(w http.ResponseWriter, r *http.Request) {
	entries := []catalog.Entry{}
	if h.catalog != nil {
		entries = h.catalog.List()
	}
	h.writeJSON(w, http.StatusOK, ListOperationsResponse{Operations: entries})
}

// GetOperation handles GET /v1/operations/{hash}
func (h *Handler) GetOperation(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")
	if h.catalog == nil {
		h.handleError(w, r, apperrors.NotFound("operation", hash))
		return
	}
	meta, ok, err := h.catalog.Get(r.Context(), hash)
	switch {
	case err != nil:
		h.handleError(w, r, err)
	case !ok:
		h.handleError(w, r, apperrors.NotFound("operation", hash))
	default:
		h.writeJSON(w, http.StatusOK, meta)
	}
}

// ListAdapters handles GET /v1/adapters
func (h *Handler) ListAdapters(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, ListAdaptersResponse{
		Adapters:   h.engine.Adapters(),
		Operations: h.engine.Operations(),
	})
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 while shutting down or when a critical dependency is down.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsReady() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, data)
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleError maps engine and validation errors to HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func validateInvoke(req *InvokeRequest) error {
	req.Operation = strings.TrimSpace(req.Operation)
	if req.Operation == "" {
		return apperrors.Validation("operation", "operation is required")
	}
	if len(req.Operation) > maxOperationRefLength {
		return apperrors.Validationf("operation", "operation reference exceeds maximum length of %d", maxOperationRefLength)
	}

	if req.Callback == nil {
		return nil
	}
	if err := validateURL(req.Callback.URL); err != nil {
		return apperrors.Validationf("callback.url", "invalid callback URL: %v", err)
	}
	if len(req.Callback.Events) > maxCallbackEvents {
		return apperrors.Validationf("callback.events", "callback events exceed maximum of %d", maxCallbackEvents)
	}
	for _, event := range req.Callback.Events {
		if event != job.EventTypeUpdate && event != job.EventTypeFinish {
			return apperrors.Validationf("callback.events", "unknown event type %q", event)
		}
	}
	return nil
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("URL is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed URL")
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
