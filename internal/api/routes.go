package api

import (
	"net/http"
	"venue/internal/catalog"
	"venue/internal/engine"
	"venue/internal/health"

	"golang.org/x/time/rate"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Engine        *engine.Engine
	Catalog       *catalog.Catalog
	Metrics       HTTPMetrics
	HealthChecker *health.Checker
	APIKey        string
	CORSOrigins   []string

	// InvokeRateLimit is invocations per second; 0 disables limiting.
	InvokeRateLimit float64
	InvokeRateBurst int
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Engine, cfg.Catalog, cfg.HealthChecker)

	mux := http.NewServeMux()

	// Health check endpoints (liveness/readiness probes) - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	var limiter *rate.Limiter
	if cfg.InvokeRateLimit > 0 {
		burst := max(cfg.InvokeRateBurst, 1)
		limiter = rate.NewLimiter(rate.Limit(cfg.InvokeRateLimit), burst)
	}

	auth := AuthMiddleware(cfg.APIKey)
	protected := func(h http.HandlerFunc) http.Handler { return auth(h) }

	mux.Handle("POST /v1/invoke", auth(RateLimitMiddleware(limiter)(http.HandlerFunc(handler.Invoke))))
	mux.Handle("GET /v1/jobs", protected(handler.ListJobs))
	mux.Handle("GET /v1/jobs/{jobId}", protected(handler.GetJob))
	mux.Handle("POST /v1/jobs/{jobId}/cancel", protected(handler.CancelJob))
	mux.Handle("DELETE /v1/jobs/{jobId}", protected(handler.DeleteJob))
	mux.Handle("GET /v1/operations", protected(handler.ListOperations))
	mux.Handle("GET /v1/operations/{hash}", protected(handler.GetOperation))
	mux.Handle("GET /v1/adapters", protected(handler.ListAdapters))

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware(cfg.CORSOrigins)(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
