package report

import (
	"strconv"

	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/forkops/forkd"
	forkdmetrics "github.com/forkops/forkd/metrics"
)

var deliveries = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
	Namespace: "forkd",
	Subsystem: "report",
	Name:      "deliveries_total",
	Help:      "Notification deliveries attempted, by sink.",
}, []string{forkdmetrics.LabelSink, forkdmetrics.LabelSuccess})

// Instrument wraps a sink with per-delivery metrics.
func Instrument(name string, s Sink) Sink {
	return instrumentedSink{name: name, next: s}
}

type instrumentedSink struct {
	name string
	next Sink
}

func (i instrumentedSink) Send(e forkd.Event) error {
	err := i.next.Send(e)
	deliveries.With(
		forkdmetrics.LabelSink, i.name,
		forkdmetrics.LabelSuccess, strconv.FormatBool(err == nil),
	).Add(1)
	return err
}
