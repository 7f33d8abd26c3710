package api

import (
	"net/http"

	"azflow/internal/deployment"
	"azflow/internal/health"
	"azflow/internal/observability"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Deployments   *deployment.Service
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	APIKey        string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Deployments, cfg.HealthChecker)

	mux := http.NewServeMux()

	// Probes - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	auth := AuthMiddleware(cfg.APIKey)
	mux.Handle("GET /v1/connectors", auth(http.HandlerFunc(handler.ListConnectors)))
	mux.Handle("POST /v1/deployments", auth(http.HandlerFunc(handler.CreateDeployment)))
	mux.Handle("GET /v1/deployments", auth(http.HandlerFunc(handler.ListDeployments)))
	mux.Handle("GET /v1/deployments/{id}", auth(http.HandlerFunc(handler.GetDeployment)))
	mux.Handle("DELETE /v1/deployments/{id}", auth(http.HandlerFunc(handler.DeleteDeployment)))
	mux.Handle("POST /v1/deployments/{id}/runs", auth(http.HandlerFunc(handler.RunDeployment)))
	mux.Handle("GET /v1/deployments/{id}/status", auth(http.HandlerFunc(handler.DeploymentStatus)))

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = RecoveryMiddleware()(h)
	h = LoggingMiddleware()(h)
	h = RequestIDMiddleware()(h)

	return h
}
