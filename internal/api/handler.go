// Package api provides the HTTP API handlers and routing for the deployment
// service.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"azflow/internal/apperrors"
	"azflow/internal/deployment"
	"azflow/internal/health"
)

// maxRequestBodySize limits request body to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20 // 1 MB

// Handler contains HTTP handlers for the deployments API
type Handler struct {
	svc    *deployment.Service
	health *health.Checker
}

// NewHandler creates a new API handler
func NewHandler(svc *deployment.Service, healthChecker *health.Checker) *Handler {
	return &Handler{
		svc:    svc,
		health: healthChecker,
	}
}

// errorResponse is the body of every non-2xx API response.
type errorResponse struct {
	Error  string   `json:"error"`
	ID     string   `json:"id,omitempty"`
	Fields []string `json:"fields,omitempty"`
}

// ListConnectors handles GET /v1/connectors
func (h *Handler) ListConnectors(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.Types())
}

// CreateDeployment handles POST /v1/deployments
func (h *Handler) CreateDeployment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req deployment.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	info, err := h.svc.Create(r.Context(), &req)
	if err != nil {
		// A failed setup leaves the deployment in place for cleanup.
		if _, getErr := h.svc.Get(r.Context(), req.ID); getErr == nil {
			h.handleErrorFor(w, r, req.ID, err)
			return
		}
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, info)
}

// ListDeployments handles GET /v1/deployments
func (h *Handler) ListDeployments(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.List(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// GetDeployment handles GET /v1/deployments/{id}
func (h *Handler) GetDeployment(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, info)
}

// RunDeployment handles POST /v1/deployments/{id}/runs. An empty body runs
// with the configured command.
func (h *Handler) RunDeployment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req deployment.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	resp, err := h.svc.Run(r.Context(), r.PathValue("id"), &req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// DeploymentStatus handles GET /v1/deployments/{id}/status?taskId=
func (h *Handler) DeploymentStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.Status(r.Context(), r.PathValue("id"), r.URL.Query().Get("taskId"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, status)
}

// DeleteDeployment handles DELETE /v1/deployments/{id}
func (h *Handler) DeleteDeployment(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.handleError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 while shutting down or when a dependency check fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Error: message})
}

// handleError handles errors from service layer with appropriate HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	h.handleErrorFor(w, r, "", err)
}

func (h *Handler) handleErrorFor(w http.ResponseWriter, r *http.Request, id string, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.ErrorContext(r.Context(), "Request failed", "error", err, "path", r.URL.Path, "status", status, "request_id", RequestID(r.Context()))
	} else {
		slog.WarnContext(r.Context(), "Client error", "error", err, "path", r.URL.Path, "status", status, "request_id", RequestID(r.Context()))
	}
	h.writeJSON(w, status, errorResponse{
		Error:  err.Error(),
		ID:     id,
		Fields: apperrors.MissingFields(err),
	})
}
