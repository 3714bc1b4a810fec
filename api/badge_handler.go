package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/granter/job"
)

// GrantAllResponse reports a synchronous fan-out.
type GrantAllResponse struct {
	Enqueued int `json:"enqueued"`
}

// grantAll runs the fan-out in the request. Concurrent callers share the
// result of the one in flight, so it runs detached from the first caller's
// cancellation.
func (a *API) grantAll(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	v, err, _ := a.fanOuts.Do("grant-all", func() (any, error) {
		return a.svc.FanOut(ctx)
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, GrantAllResponse{Enqueued: v.(int)})
}

func (a *API) grantBadge(w http.ResponseWriter, r *http.Request) {
	badgeID, err := strconv.ParseInt(chi.URLParam(r, "badgeId"), 10, 64)
	if err != nil || badgeID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid badge id")
		return
	}
	j, err := a.svc.EnqueueUnit(r.Context(), badgeID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, j)
}

// pendingSweeps lists sweeps waiting out their quiet delay. Outside a
// backfill there is at most one.
func (a *API) pendingSweeps(w http.ResponseWriter, r *http.Request) {
	cfg := a.svc.Config()
	jobs, err := a.eng.JobStore().ListJobsByState(r.Context(), job.StatePending, job.ListOpts{
		Name:  cfg.SweepJobName,
		Queue: cfg.Queue,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	scheduled := make([]*job.Job, 0, len(jobs))
	for _, j := range jobs {
		if j.Cancellable() {
			scheduled = append(scheduled, j)
		}
	}
	writeJSON(w, http.StatusOK, scheduled)
}
