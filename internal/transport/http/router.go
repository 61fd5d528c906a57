// Package httptransport assembles the public HTTP surface: domain routers,
// health and metrics endpoints. Business logic lives in the domain services.
package httptransport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"consentd/pkg/platform/httputil"
)

// Registrar is a domain handler that mounts its routes on a router.
type Registrar interface {
	Register(r chi.Router)
}

// HealthChecker reports reachability of a backing dependency.
type HealthChecker interface {
	Health(ctx context.Context) error
}

type Router struct {
	policies Registrar
	consents Registrar
	checks   map[string]HealthChecker
}

func NewRouter(policies, consents Registrar) *Router {
	return &Router{
		policies: policies,
		consents: consents,
		checks:   make(map[string]HealthChecker),
	}
}

// WithHealthCheck registers a named dependency for /healthz. Nil checkers are
// ignored so optional backends (database, redis) can be passed unconditionally.
func (rt *Router) WithHealthCheck(name string, check HealthChecker) *Router {
	if check != nil {
		rt.checks[name] = check
	}
	return rt
}

// Handler builds the mux. Domain routers carry their own middleware chains;
// health and metrics stay outside them so probes never need a token.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", rt.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	rt.policies.Register(r)
	rt.consents.Register(r)

	return r
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	components := make(map[string]string, len(rt.checks))
	for name, check := range rt.checks {
		if err := check.Health(ctx); err != nil {
			status = http.StatusServiceUnavailable
			components[name] = err.Error()
			continue
		}
		components[name] = "ok"
	}

	httputil.WriteJSON(w, status, map[string]any{
		"status":     httpStatusWord(status),
		"components": components,
	})
}

func httpStatusWord(status int) string {
	if status == http.StatusOK {
		return "ok"
	}
	return "degraded"
}
