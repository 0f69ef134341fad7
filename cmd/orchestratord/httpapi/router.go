// Package httpapi is the orchestratord HTTP surface: a chi router with
// exactly one route, the readiness probe. Pipeline/action management is
// DB-level CRUD (see store) and deliberately has no REST surface here.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/alkimya/orchestrator-core/core"
	"github.com/alkimya/orchestrator-core/telemetry"
)

// ShutdownState reports whether the shutdown sequence has started, so the
// readiness probe can start failing before any component actually stops.
type ShutdownState interface {
	ShuttingDown() bool
}

// NewRouter builds the readiness router. cfg.CORS controls whether the CORS
// middleware is installed at all; an unconfigured CORSConfig (Enabled
// false) leaves the router bare. serviceName tags the request span
// telemetry.TracingMiddleware opens for every incoming request; with no
// tracer provider registered (tracing disabled) it runs as a no-op.
func NewRouter(cfg core.HTTPConfig, shutdown ShutdownState, serviceName string) chi.Router {
	r := chi.NewRouter()
	r.Use(telemetry.TracingMiddleware(serviceName))

	if cfg.CORS.Enabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowedMethods:   cfg.CORS.AllowedMethods,
			AllowedHeaders:   cfg.CORS.AllowedHeaders,
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           cfg.CORS.MaxAge,
		}))
	}

	path := cfg.ReadyPath
	if path == "" {
		path = "/ready"
	}
	r.Get(path, readyHandler(shutdown))

	return r
}

// readyHandler returns 503 once shutdown has started and 200 otherwise.
// It never touches the database or any other dependency directly — the
// Shutdown Controller is the single source of truth for readiness.
func readyHandler(shutdown ShutdownState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if shutdown != nil && shutdown.ShuttingDown() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"ready":false,"reason":"shutting_down"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ready":true}`))
	}
}
