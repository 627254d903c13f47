// Package system serves the liveness, readiness and version endpoints.
package system

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ocrfarm/coordinator/internal/api/common"
	"github.com/ocrfarm/coordinator/internal/versions"
)

// readinessTimeout bounds a single readiness check of the store.
const readinessTimeout = 2 * time.Second

// ReadinessChecker reports whether the store is reachable. *pgxpool.Pool
// satisfies it.
type ReadinessChecker interface {
	Ping(ctx context.Context) error
}

// Router creates a router for the health check endpoints. A nil checker is
// always ready.
func Router(checker ReadinessChecker) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", healthHandler)
	r.Get("/readiness", readinessHandler(checker))
	r.Get("/version", versionHandler)

	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, map[string]string{"status": "healthy"}, http.StatusOK)
}

func readinessHandler(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
			defer cancel()
			if err := checker.Ping(ctx); err != nil {
				common.WriteErrorResponse(w, "store not ready: "+err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		common.WriteJSONResponse(w, map[string]string{"status": "ready"}, http.StatusOK)
	}
}

func versionHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, versions.GetVersionInfo(), http.StatusOK)
}
