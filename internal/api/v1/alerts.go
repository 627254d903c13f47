package v1

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/ocrfarm/coordinator/internal/api/common"
)

func (routes *Routes) listAlerts(w http.ResponseWriter, r *http.Request) {
	list, err := routes.svc.Alerts.ListUnresolved(r.Context(), r.URL.Query().Get("profile_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, common.NewListResponse(list), http.StatusOK)
}

func (routes *Routes) resolveAlert(w http.ResponseWriter, r *http.Request) {
	raw, err := common.GetAndValidateURLParam(r, "alertID")
	if err != nil {
		badRequest(w, err)
		return
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, fmt.Errorf("alertID must be a positive integer: %q", raw))
		return
	}
	if err := routes.svc.Alerts.Resolve(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
