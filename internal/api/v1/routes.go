// Package v1 provides the admin API for inspecting and steering the
// coordinator: profiles, locks, jobs, run records and alerts.
package v1

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"k8s.io/utils/clock"

	"github.com/ocrfarm/coordinator/internal/alerts"
	"github.com/ocrfarm/coordinator/internal/api/common"
	"github.com/ocrfarm/coordinator/internal/config"
	"github.com/ocrfarm/coordinator/internal/db"
	"github.com/ocrfarm/coordinator/internal/lock"
	"github.com/ocrfarm/coordinator/internal/profile"
	"github.com/ocrfarm/coordinator/internal/queue"
)

// Services bundles the stores the API reads and writes.
type Services struct {
	Profiles ProfileService
	Locks    LockService
	Jobs     JobService
	Runs     RunService
	Alerts   AlertService
}

// Routes handles HTTP requests for the v1 admin endpoints.
type Routes struct {
	svc       Services
	clock     clock.PassiveClock
	staleness time.Duration
	version   string
}

// Option configures Routes.
type Option func(*Routes)

// WithClock sets the clock used for lock ages and pause expiry.
func WithClock(c clock.PassiveClock) Option {
	return func(r *Routes) {
		r.clock = c
	}
}

// WithStalenessThreshold sets the age at which a lock is reported stale and
// the default sweep threshold.
func WithStalenessThreshold(d time.Duration) Option {
	return func(r *Routes) {
		r.staleness = d
	}
}

// WithCurrentVersion sets the version profiles' worker versions are compared
// against.
func WithCurrentVersion(v string) Option {
	return func(r *Routes) {
		r.version = v
	}
}

// NewRoutes creates a new Routes instance with the given services.
func NewRoutes(svc Services, opts ...Option) *Routes {
	r := &Routes{
		svc:       svc,
		clock:     clock.RealClock{},
		staleness: config.DefaultStalenessThreshold,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Router creates the v1 router. Mount it under /v1.
func Router(svc Services, opts ...Option) http.Handler {
	routes := NewRoutes(svc, opts...)

	r := chi.NewRouter()

	r.Get("/profiles", routes.listProfiles)
	r.Route("/profiles/{profileID}", func(r chi.Router) {
		r.Get("/", routes.getProfile)
		r.Put("/pause", routes.setPause)
		r.Delete("/pause", routes.clearPause)
	})

	r.Get("/locks", routes.listLocks)
	r.Post("/locks/sweep", routes.sweepLocks)

	r.Post("/jobs", routes.enqueueJob)
	r.Get("/jobs", routes.listJobs)
	r.Get("/jobs/counts", routes.jobCounts)
	r.Get("/jobs/corrupt", routes.corruptJobs)
	r.Post("/jobs/claim", routes.claimJob)
	r.Get("/jobs/{jobID}", routes.getJob)
	r.Get("/jobs/{jobID}/entries", routes.jobEntries)
	r.Post("/jobs/{jobID}/entries", routes.appendEntries)
	r.Post("/jobs/{jobID}/ready", routes.markReady)
	r.Post("/jobs/{jobID}/complete", routes.completeJob)
	r.Post("/jobs/{jobID}/fail", routes.failJob)
	r.Post("/jobs/{jobID}/requeue", routes.requeueJob)

	r.Get("/runs", routes.listRuns)
	r.Get("/runs/summary", routes.summarizeRuns)

	r.Get("/alerts", routes.listAlerts)
	r.Post("/alerts/{alertID}/resolve", routes.resolveAlert)

	return r
}

func (routes *Routes) now() time.Time {
	return routes.clock.Now().UTC()
}

// writeError maps domain errors to status codes. Unexpected errors are logged
// and reported without their detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, queue.ErrJobNotFound), errors.Is(err, alerts.ErrAlertNotFound):
		common.WriteErrorResponse(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, queue.ErrInvalidTransition):
		common.WriteErrorResponse(w, err.Error(), http.StatusConflict)
	case errors.Is(err, queue.ErrInvalidArgument),
		errors.Is(err, profile.ErrInvalidArgument),
		errors.Is(err, lock.ErrInvalidArgument):
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
	case db.IsTransient(err):
		slog.WarnContext(r.Context(), "Store unavailable", "path", r.URL.Path, "error", err)
		common.WriteErrorResponse(w, "store unavailable, retry later", http.StatusServiceUnavailable)
	default:
		slog.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path, "error", err)
		common.WriteErrorResponse(w, "internal error", http.StatusInternalServerError)
	}
}

func badRequest(w http.ResponseWriter, err error) {
	common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
}
