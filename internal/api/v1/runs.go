package v1

import (
	"net/http"
	"time"

	"github.com/ocrfarm/coordinator/internal/api/common"
	"github.com/ocrfarm/coordinator/internal/runs"
)

// DefaultSummaryWindow is used by /v1/runs/summary without since or window.
const DefaultSummaryWindow = 24 * time.Hour

// SummaryResponse is the aggregate of records created at or after Since.
type SummaryResponse struct {
	Since time.Time      `json:"since"`
	Rows  []runs.Summary `json:"rows"`
}

func (routes *Routes) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := common.QueryInt(r, "limit")
	if err != nil {
		badRequest(w, err)
		return
	}
	q := r.URL.Query()
	filter := runs.Filter{
		ProfileID: q.Get("profile_id"),
		BatchID:   q.Get("batch_id"),
		FileName:  q.Get("file_name"),
		Status:    q.Get("status"),
	}

	records, err := routes.svc.Runs.List(r.Context(), filter, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, common.NewListResponse(records), http.StatusOK)
}

func (routes *Routes) summarizeRuns(w http.ResponseWriter, r *http.Request) {
	since, err := common.QueryTime(r, "since")
	if err != nil {
		badRequest(w, err)
		return
	}
	window, err := common.QueryDuration(r, "window")
	if err != nil {
		badRequest(w, err)
		return
	}
	if since.IsZero() {
		if window == 0 {
			window = DefaultSummaryWindow
		}
		since = routes.now().Add(-window)
	}

	rows, err := routes.svc.Runs.Summary(r.Context(), since)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rows == nil {
		rows = []runs.Summary{}
	}
	common.WriteJSONResponse(w, SummaryResponse{Since: since.UTC(), Rows: rows}, http.StatusOK)
}
