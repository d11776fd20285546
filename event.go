package forkd

import (
	"fmt"
	"strings"
	"time"
)

// Outcomes carried by notification events.
const (
	OutcomeSuccess    = "SUCCESS"
	OutcomeFailure    = "FAILURE"
	OutcomeRolledBack = "ROLLED_BACK"
	OutcomeSkipped    = "SKIPPED"
	OutcomeFatal      = "FATAL"
)

// Event is the one notification produced per execution. Write-once;
// every run, including lock-contention no-ops and fatal rollback
// failures, yields exactly one of these.
type Event struct {
	ExecutionID string    `json:"executionID"`
	Outcome     string    `json:"outcome"`
	Severity    string    `json:"severity"`
	Summary     string    `json:"summary"`
	Links       []string  `json:"links,omitempty"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
	EndedAt     time.Time `json:"endedAt,omitempty"`
}

// Severities for events. Fatal rollback failures must be
// distinguishable from ordinary failed-and-rolled-back runs.
const (
	SeverityInfo     = "info"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

func (e Event) String() string {
	s := fmt.Sprintf("%s: %s", e.Outcome, e.Summary)
	if len(e.Links) > 0 {
		s = s + " (" + strings.Join(e.Links, ", ") + ")"
	}
	return s
}
