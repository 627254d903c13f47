package v1

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ocrfarm/coordinator/internal/api/common"
	"github.com/ocrfarm/coordinator/internal/queue"
)

// EnqueueRequest is the body of POST /v1/jobs. A draft job is created NEW
// and stays invisible to workers until POST /v1/jobs/{jobID}/ready.
type EnqueueRequest struct {
	JobDir  string   `json:"job_dir"`
	Entries []string `json:"entries,omitempty"`
	Draft   bool     `json:"draft,omitempty"`
}

// EntriesRequest is the body of POST /v1/jobs/{jobID}/entries.
type EntriesRequest struct {
	Entries []string `json:"entries"`
}

// FailRequest is the body of POST /v1/jobs/{jobID}/fail.
type FailRequest struct {
	Error string `json:"error"`
}

// EnqueueResponse carries the id of a new READY job.
type EnqueueResponse struct {
	JobID uuid.UUID `json:"job_id"`
}

// ClaimRequest is the body of POST /v1/jobs/claim.
type ClaimRequest struct {
	WorkerID string `json:"worker_id"`
}

// JobDetail is a job with its entries and run history.
type JobDetail struct {
	queue.Job
	Entries []queue.Entry `json:"entries"`
	Runs    []queue.Run   `json:"runs"`
}

func (routes *Routes) enqueueJob(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := common.DecodeJSONBody(r, &req, false); err != nil {
		badRequest(w, err)
		return
	}
	id, err := routes.createJob(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/jobs/"+id.String())
	common.WriteJSONResponse(w, EnqueueResponse{JobID: id}, http.StatusCreated)
}

func (routes *Routes) createJob(ctx context.Context, req EnqueueRequest) (uuid.UUID, error) {
	if !req.Draft {
		return routes.svc.Jobs.Enqueue(ctx, req.JobDir, req.Entries)
	}
	id, err := routes.svc.Jobs.Create(ctx, req.JobDir)
	if err != nil {
		return uuid.Nil, err
	}
	if len(req.Entries) > 0 {
		if err := routes.svc.Jobs.AppendEntries(ctx, id, req.Entries); err != nil {
			return uuid.Nil, err
		}
	}
	return id, nil
}

func (routes *Routes) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := common.QueryInt(r, "limit")
	if err != nil {
		badRequest(w, err)
		return
	}
	state := queue.State(strings.ToUpper(r.URL.Query().Get("state")))

	jobs, err := routes.svc.Jobs.List(r.Context(), state, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, common.NewListResponse(jobs), http.StatusOK)
}

func (routes *Routes) jobCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := routes.svc.Jobs.Counts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, counts, http.StatusOK)
}

func (routes *Routes) corruptJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := routes.svc.Jobs.FindCorrupt(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, common.NewListResponse(jobs), http.StatusOK)
}

func (routes *Routes) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobIDParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	ctx := r.Context()

	job, err := routes.svc.Jobs.Get(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	entries, err := routes.svc.Jobs.Entries(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jobRuns, err := routes.svc.Jobs.Runs(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []queue.Entry{}
	}
	if jobRuns == nil {
		jobRuns = []queue.Run{}
	}
	common.WriteJSONResponse(w, JobDetail{Job: *job, Entries: entries, Runs: jobRuns}, http.StatusOK)
}

func (routes *Routes) claimJob(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := common.DecodeJSONBody(r, &req, false); err != nil {
		badRequest(w, err)
		return
	}
	if strings.TrimSpace(req.WorkerID) == "" {
		badRequest(w, errors.New("worker_id is required"))
		return
	}

	claimed, err := routes.svc.Jobs.ClaimNext(r.Context(), req.WorkerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if claimed == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	common.WriteJSONResponse(w, claimed, http.StatusOK)
}

func (routes *Routes) jobEntries(w http.ResponseWriter, r *http.Request) {
	id, err := jobIDParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	entries, err := routes.svc.Jobs.Entries(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, common.NewListResponse(entries), http.StatusOK)
}

func (routes *Routes) appendEntries(w http.ResponseWriter, r *http.Request) {
	id, err := jobIDParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	var req EntriesRequest
	if err := common.DecodeJSONBody(r, &req, false); err != nil {
		badRequest(w, err)
		return
	}
	if len(req.Entries) == 0 {
		badRequest(w, errors.New("entries is required"))
		return
	}
	if err := routes.svc.Jobs.AppendEntries(r.Context(), id, req.Entries); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (routes *Routes) markReady(w http.ResponseWriter, r *http.Request) {
	routes.transitionJob(w, r, routes.svc.Jobs.MarkReady)
}

func (routes *Routes) completeJob(w http.ResponseWriter, r *http.Request) {
	routes.transitionJob(w, r, routes.svc.Jobs.Complete)
}

func (routes *Routes) failJob(w http.ResponseWriter, r *http.Request) {
	var req FailRequest
	if err := common.DecodeJSONBody(r, &req, false); err != nil {
		badRequest(w, err)
		return
	}
	if strings.TrimSpace(req.Error) == "" {
		badRequest(w, errors.New("error is required"))
		return
	}
	routes.transitionJob(w, r, func(ctx context.Context, id uuid.UUID) error {
		return routes.svc.Jobs.Fail(ctx, id, req.Error)
	})
}

func (routes *Routes) requeueJob(w http.ResponseWriter, r *http.Request) {
	routes.transitionJob(w, r, routes.svc.Jobs.Requeue)
}

// transitionJob applies fn to the job named in the path and answers 204.
func (routes *Routes) transitionJob(
	w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id uuid.UUID) error,
) {
	id, err := jobIDParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	if err := fn(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func jobIDParam(r *http.Request) (uuid.UUID, error) {
	raw, err := common.GetAndValidateURLParam(r, "jobID")
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("jobID must be a UUID: %q", raw)
	}
	return id, nil
}
