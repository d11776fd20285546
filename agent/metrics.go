package agent

import (
	"time"

	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/forkops/forkd"
	forkdmetrics "github.com/forkops/forkd/metrics"
)

const (
	LabelOutcome = forkdmetrics.LabelOutcome
)

var (
	runDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "forkd",
		Subsystem: "agent",
		Name:      "run_duration_seconds",
		Help:      "Duration of promotion runs, in seconds.",
		Buckets:   stdprometheus.ExponentialBuckets(1, 4, 8), // top bucket ~= 4.5 hours
	}, []string{forkdmetrics.LabelOutcome})

	stageDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "forkd",
		Subsystem: "agent",
		Name:      "stage_duration_seconds",
		Help:      "Duration of individual stages, in seconds.",
		Buckets:   stdprometheus.ExponentialBuckets(0.2, 3, 10),
	}, []string{forkdmetrics.LabelStage, forkdmetrics.LabelSuccess})

	notifyFailures = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: "forkd",
		Subsystem: "agent",
		Name:      "notification_failures_total",
		Help:      "Number of notification events that could not be delivered.",
	}, []string{})
)

func observeStage(stage forkd.ExecutionStatus, begin time.Time, success bool) {
	stageDuration.With(
		forkdmetrics.LabelStage, string(stage),
		forkdmetrics.LabelSuccess, boolStr(success),
	).Observe(time.Since(begin).Seconds())
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
