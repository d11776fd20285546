package http

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/forkops/forkd"
	"github.com/forkops/forkd/agent"
	"github.com/forkops/forkd/store"
)

// HTTPServer exposes the trigger surface and execution history.
type HTTPServer struct {
	Loop  *agent.Loop
	Store store.Store
}

// TriggerResponse reports whether the trigger was queued; false means
// a run is already pending.
type TriggerResponse struct {
	Queued bool `json:"queued"`
}

// StatusResponse is the agent's view of the world: the known-good
// baseline and the runs currently in flight.
type StatusResponse struct {
	Baseline *store.Baseline        `json:"baseline,omitempty"`
	Active   []forkd.ExecutionState `json:"active,omitempty"`
}

// TriggerRun queues a run. An optional candidate query parameter
// bypasses detection; dryRun=true targets the disposable stack and
// leaves the baseline alone.
func (s *HTTPServer) TriggerRun(w http.ResponseWriter, r *http.Request) {
	trigger := forkd.Trigger{
		CandidateVersion: r.FormValue("candidate"),
		Cause:            "api",
	}
	if v := r.FormValue("dryRun"); v != "" {
		dryRun, err := strconv.ParseBool(v)
		if err != nil {
			WriteError(w, r, http.StatusBadRequest, err)
			return
		}
		trigger.DryRun = dryRun
	}
	queued := s.Loop.AskForRun(trigger)
	JSONResponse(w, r, http.StatusAccepted, TriggerResponse{Queued: queued})
}

func (s *HTTPServer) GetRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	exec, err := s.Store.GetExecution(id)
	if err == store.ErrNoSuchExecution {
		WriteError(w, r, http.StatusNotFound, err)
		return
	} else if err != nil {
		WriteError(w, r, http.StatusInternalServerError, err)
		return
	}
	JSONResponse(w, r, http.StatusOK, exec)
}

func (s *HTTPServer) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.FormValue("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			WriteError(w, r, http.StatusBadRequest, err)
			return
		}
		limit = n
	}
	execs, err := s.Store.Executions(limit)
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, err)
		return
	}
	if execs == nil {
		execs = []forkd.ExecutionState{}
	}
	JSONResponse(w, r, http.StatusOK, execs)
}

func (s *HTTPServer) Status(w http.ResponseWriter, r *http.Request) {
	var resp StatusResponse
	b, ok, err := s.Store.Baseline()
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, err)
		return
	}
	if ok {
		resp.Baseline = &b
	}
	active, err := s.Store.Executions(0,
		forkd.StatusPending, forkd.StatusDetecting, forkd.StatusBuilding,
		forkd.StatusDeploying, forkd.StatusSmokeTesting, forkd.StatusRollingBack)
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, err)
		return
	}
	resp.Active = active
	JSONResponse(w, r, http.StatusOK, resp)
}
