package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/granter/id"
	"github.com/xraph/granter/job"
)

// JobCountsResponse holds job counts per state.
type JobCountsResponse struct {
	Pending   int64 `json:"pending"`
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Retrying  int64 `json:"retrying"`
	Cancelled int64 `json:"cancelled"`
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state, err := parseState(q.Get("state"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := pageLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := pageOffset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobs, err := a.eng.JobStore().ListJobsByState(r.Context(), state, job.ListOpts{
		Limit:  limit,
		Offset: offset,
		Queue:  q.Get("queue"),
		Name:   q.Get("name"),
	})
	if err != nil {
		a.fail(w, r, fmt.Errorf("list jobs: %w", err))
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid job ID: %v", err))
		return
	}
	j, err := a.eng.JobStore().GetJob(r.Context(), jobID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (a *API) jobCounts(w http.ResponseWriter, r *http.Request) {
	js := a.eng.JobStore()
	var resp JobCountsResponse
	for state, dst := range map[job.State]*int64{
		job.StatePending:   &resp.Pending,
		job.StateRunning:   &resp.Running,
		job.StateCompleted: &resp.Completed,
		job.StateFailed:    &resp.Failed,
		job.StateRetrying:  &resp.Retrying,
		job.StateCancelled: &resp.Cancelled,
	} {
		n, err := js.CountJobs(r.Context(), job.CountOpts{State: state, Name: r.URL.Query().Get("name")})
		if err != nil {
			a.fail(w, r, fmt.Errorf("count jobs (%s): %w", state, err))
			return
		}
		*dst = n
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseState defaults to pending.
func parseState(s string) (job.State, error) {
	switch st := job.State(s); st {
	case "":
		return job.StatePending, nil
	case job.StatePending, job.StateRunning, job.StateCompleted,
		job.StateFailed, job.StateRetrying, job.StateCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("unknown job state %q", s)
	}
}
