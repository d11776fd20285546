package metrics

/*
Labels and so on for metrics used in forkd.
*/

const (
	LabelMethod  = "method"
	LabelRoute   = "route"
	LabelSuccess = "success"

	// Labels for execution metrics
	LabelOutcome = "outcome"
	LabelStage   = "stage"
	LabelSink    = "sink"
)
