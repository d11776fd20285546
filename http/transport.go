// Package http is the agent's API: the manual trigger surface and
// read access to execution history.
package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/weaveworks/common/middleware"

	forkdmetrics "github.com/forkops/forkd/metrics"
)

var requestDuration = stdprometheus.NewHistogramVec(stdprometheus.HistogramOpts{
	Namespace: "forkd",
	Name:      "request_duration_seconds",
	Help:      "Time (in seconds) spent serving HTTP requests.",
	Buckets:   stdprometheus.DefBuckets,
}, []string{forkdmetrics.LabelMethod, forkdmetrics.LabelRoute, "status_code", "ws"})

func init() {
	stdprometheus.MustRegister(requestDuration)
}

func NewRouter() *mux.Router {
	r := mux.NewRouter()
	r.NewRoute().Name("TriggerRun").Methods("POST").Path("/v1/run")
	r.NewRoute().Name("GetRun").Methods("GET").Path("/v1/runs/{id}")
	r.NewRoute().Name("ListRuns").Methods("GET").Path("/v1/runs")
	r.NewRoute().Name("Status").Methods("GET").Path("/v1/status")
	r.NewRoute().Name("Ping").Methods("HEAD", "GET").Path("/v1/ping")

	// Anything else is a client expecting an API this server doesn't
	// speak.
	r.NewRoute().Name("NotFound").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusNotFound, fmt.Errorf("no such API endpoint: %s", r.URL.Path))
	})
	return r
}

func NewHandler(s *HTTPServer, r *mux.Router) http.Handler {
	r.Get("TriggerRun").HandlerFunc(s.TriggerRun)
	r.Get("GetRun").HandlerFunc(s.GetRun)
	r.Get("ListRuns").HandlerFunc(s.ListRuns)
	r.Get("Status").HandlerFunc(s.Status)
	r.Get("Ping").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return middleware.Instrument{
		RouteMatcher: r,
		Duration:     requestDuration,
	}.Wrap(r)
}

func JSONResponse(w http.ResponseWriter, r *http.Request, code int, result interface{}) {
	body, err := json.Marshal(result)
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	w.Write(body)
}

func WriteError(w http.ResponseWriter, r *http.Request, code int, err error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
