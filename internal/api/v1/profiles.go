package v1

import (
	"errors"
	"net/http"
	"time"

	"github.com/ocrfarm/coordinator/internal/api/common"
	"github.com/ocrfarm/coordinator/internal/profile"
	"github.com/ocrfarm/coordinator/internal/versions"
)

// ProfileResponse is a profile state plus values derived at read time.
type ProfileResponse struct {
	*profile.State
	EffectivePaused   bool  `json:"effective_paused"`
	RetryAfterSeconds int64 `json:"retry_after_seconds,omitempty"`
	WorkerOutdated    bool  `json:"worker_outdated,omitempty"`
}

// PauseRequest is the body of PUT /v1/profiles/{id}/pause. Until and
// Duration are mutually exclusive; with neither the pause is indefinite.
type PauseRequest struct {
	Until    *time.Time `json:"until,omitempty"`
	Duration string     `json:"duration,omitempty"`
	Reason   string     `json:"reason,omitempty"`
}

func (routes *Routes) profileResponse(s *profile.State) ProfileResponse {
	now := routes.now()
	resp := ProfileResponse{State: s, EffectivePaused: s.EffectivePaused(now)}
	if d := s.RetryAfter(now); d > 0 {
		resp.RetryAfterSeconds = int64(d.Round(time.Second) / time.Second)
	}
	if routes.version != "" {
		resp.WorkerOutdated = versions.Outdated(s.WorkerVersion(), routes.version)
	}
	return resp
}

func (routes *Routes) listProfiles(w http.ResponseWriter, r *http.Request) {
	states, err := routes.svc.Profiles.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]ProfileResponse, 0, len(states))
	for _, s := range states {
		out = append(out, routes.profileResponse(s))
	}
	common.WriteJSONResponse(w, common.NewListResponse(out), http.StatusOK)
}

func (routes *Routes) getProfile(w http.ResponseWriter, r *http.Request) {
	profileID, err := common.GetAndValidateURLParam(r, "profileID")
	if err != nil {
		badRequest(w, err)
		return
	}
	state, err := routes.svc.Profiles.GetState(r.Context(), profileID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, routes.profileResponse(state), http.StatusOK)
}

func (routes *Routes) setPause(w http.ResponseWriter, r *http.Request) {
	profileID, err := common.GetAndValidateURLParam(r, "profileID")
	if err != nil {
		badRequest(w, err)
		return
	}

	var req PauseRequest
	if err := common.DecodeJSONBody(r, &req, true); err != nil {
		badRequest(w, err)
		return
	}
	until, err := req.resolve(routes.now())
	if err != nil {
		badRequest(w, err)
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = profile.ReasonManual
	}

	if err := routes.svc.Profiles.SetPause(r.Context(), profileID, until, reason); err != nil {
		writeError(w, r, err)
		return
	}
	state, err := routes.svc.Profiles.GetState(r.Context(), profileID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, routes.profileResponse(state), http.StatusOK)
}

func (req PauseRequest) resolve(now time.Time) (time.Time, error) {
	switch {
	case req.Until != nil && req.Duration != "":
		return time.Time{}, errors.New("until and duration are mutually exclusive")
	case req.Until != nil:
		if !req.Until.After(now) {
			return time.Time{}, errors.New("until must be in the future")
		}
		return req.Until.UTC(), nil
	case req.Duration != "":
		d, err := time.ParseDuration(req.Duration)
		if err != nil || d <= 0 {
			return time.Time{}, errors.New("duration must be a positive duration such as 30m")
		}
		return now.Add(d), nil
	default:
		return time.Time{}, nil
	}
}

func (routes *Routes) clearPause(w http.ResponseWriter, r *http.Request) {
	profileID, err := common.GetAndValidateURLParam(r, "profileID")
	if err != nil {
		badRequest(w, err)
		return
	}
	if err := routes.svc.Profiles.ClearPause(r.Context(), profileID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
