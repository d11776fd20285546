// Package report turns terminal executions into notification events
// and delivers them.
package report

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/forkops/forkd"
)

// Sink delivers a notification event. Delivery is fire-and-forget
// from the orchestrator's perspective; a sink failure never rolls
// back an otherwise successful deployment.
type Sink interface {
	Send(forkd.Event) error
}

// Eventify is a pure function of the terminal execution state (and
// the smoke-test result, when there is one).
func Eventify(state forkd.ExecutionState, result *forkd.SmokeTestResult) forkd.Event {
	e := forkd.Event{
		ExecutionID: state.ID,
		StartedAt:   state.StartedAt,
		EndedAt:     state.UpdatedAt,
	}
	var links []string
	if state.Candidate != nil && state.Candidate.URL != "" {
		links = append(links, state.Candidate.URL)
	}
	if state.BuildLogRef != "" {
		links = append(links, state.BuildLogRef)
	}
	if result != nil && result.DetailsRef != "" {
		links = append(links, result.DetailsRef)
	}
	e.Links = links

	switch state.Status {
	case forkd.StatusSucceeded:
		if state.Candidate == nil {
			e.Outcome = forkd.OutcomeSkipped
			e.Severity = forkd.SeverityInfo
			e.Summary = "no new upstream release"
			return e
		}
		e.Outcome = forkd.OutcomeSuccess
		e.Severity = forkd.SeverityInfo
		e.Summary = fmt.Sprintf("promoted %s to the sandbox", state.Candidate.Version)
		if state.DryRun {
			e.Summary = fmt.Sprintf("dry run of %s passed (baseline not committed)", state.Candidate.Version)
		}
	case forkd.StatusFailed:
		e.Severity = forkd.SeverityError
		if state.PreviousArtifactRef != "" {
			e.Outcome = forkd.OutcomeRolledBack
			e.Summary = fmt.Sprintf("%s at %s; rolled back to %s",
				strings.ToLower(string(state.FailureStage)), failedVersion(state), state.PreviousArtifactRef)
		} else {
			e.Outcome = forkd.OutcomeFailure
			e.Summary = fmt.Sprintf("%s at %s; nothing deployed yet, nothing to roll back",
				strings.ToLower(string(state.FailureStage)), failedVersion(state))
		}
		if state.FailureReason != "" {
			e.Summary = e.Summary + ": " + state.FailureReason
		}
	case forkd.StatusFatal:
		e.Outcome = forkd.OutcomeFatal
		e.Severity = forkd.SeverityCritical
		e.Summary = fmt.Sprintf("ROLLBACK FAILED for %s; sandbox requires manual intervention: %s",
			failedVersion(state), state.FailureReason)
	default:
		// Non-terminal states don't get reported; produce something
		// rather than nothing if it happens anyway.
		e.Outcome = forkd.OutcomeFailure
		e.Severity = forkd.SeverityError
		e.Summary = fmt.Sprintf("execution left in non-terminal state %s", state.Status)
	}
	return e
}

// Skipped is the lightweight event for runs that never became
// executions, e.g. a trigger refused because the lock was held.
func Skipped(executionID, reason string) forkd.Event {
	return forkd.Event{
		ExecutionID: executionID,
		Outcome:     forkd.OutcomeSkipped,
		Severity:    forkd.SeverityInfo,
		Summary:     reason,
		StartedAt:   time.Now(),
		EndedAt:     time.Now(),
	}
}

// Aborted is the event for runs that could not start at all: a
// refused trigger, or a state store failure before any stage ran.
// Unlike Skipped this is a failure, and reported as one.
func Aborted(executionID, reason string) forkd.Event {
	return forkd.Event{
		ExecutionID: executionID,
		Outcome:     forkd.OutcomeFailure,
		Severity:    forkd.SeverityError,
		Summary:     reason,
		StartedAt:   time.Now(),
		EndedAt:     time.Now(),
	}
}

func failedVersion(state forkd.ExecutionState) string {
	if state.Candidate != nil {
		return state.Candidate.Version
	}
	return "(no candidate)"
}

// Tee sends to all sinks, collecting errors.
func Tee(sinks ...Sink) Sink {
	return tee(sinks)
}

type tee []Sink

func (t tee) Send(e forkd.Event) error {
	var errs []string
	for _, s := range t {
		if err := s.Send(e); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
