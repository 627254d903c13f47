package v1

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ocrfarm/coordinator/internal/api/common"
	"github.com/ocrfarm/coordinator/internal/lock"
)

// LockResponse is a held lock with its age.
type LockResponse struct {
	lock.Lock
	AgeSeconds float64 `json:"age_seconds"`
	Stale      bool    `json:"stale"`
}

// SweepRequest is the optional body of POST /v1/locks/sweep.
type SweepRequest struct {
	Threshold string `json:"threshold,omitempty"`
}

// SweepResponse reports how many locks a sweep removed.
type SweepResponse struct {
	Removed   int    `json:"removed"`
	Threshold string `json:"threshold"`
}

func (routes *Routes) listLocks(w http.ResponseWriter, r *http.Request) {
	locks, err := routes.svc.Locks.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	now := routes.now()
	out := make([]LockResponse, 0, len(locks))
	for _, l := range locks {
		age := now.Sub(l.AcquiredAt)
		out = append(out, LockResponse{
			Lock:       l,
			AgeSeconds: age.Seconds(),
			Stale:      age >= routes.staleness,
		})
	}
	common.WriteJSONResponse(w, common.NewListResponse(out), http.StatusOK)
}

func (routes *Routes) sweepLocks(w http.ResponseWriter, r *http.Request) {
	var req SweepRequest
	if err := common.DecodeJSONBody(r, &req, true); err != nil {
		badRequest(w, err)
		return
	}
	threshold := routes.staleness
	if req.Threshold != "" {
		d, err := time.ParseDuration(req.Threshold)
		if err != nil || d <= 0 {
			badRequest(w, errors.New("threshold must be a positive duration such as 10m"))
			return
		}
		threshold = d
	}

	removed, err := routes.svc.Locks.Sweep(r.Context(), threshold)
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.InfoContext(r.Context(), "Sweep requested through API", "removed", removed, "threshold", threshold)
	common.WriteJSONResponse(w, SweepResponse{Removed: removed, Threshold: threshold.String()}, http.StatusOK)
}
