// Package smoketest validates a freshly deployed sandbox by running
// the target workload against a fixed fixture.
package smoketest

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/forkops/forkd"
)

// Status is a snapshot of the workload execution.
type Status struct {
	Done           bool
	Succeeded      bool
	DiagnosticsRef string
	// InternalFailure is set when the execution completed but its own
	// history records a failure. That still counts as a failed smoke
	// test.
	InternalFailure bool
}

// Collaborator is the workload execution engine.
type Collaborator interface {
	Start(ctx context.Context, fixtureRef, version string) (id string, err error)
	Status(ctx context.Context, id string) (Status, error)
}

// Runner drives one smoke-test execution to a verdict. Ambiguity
// always resolves toward rollback: a timeout, or an execution that
// completed but logged an internal failure, is a failed test.
type Runner struct {
	Collaborator Collaborator
	FixtureRef   string
	Interval     time.Duration
	Timeout      time.Duration
	Logger       log.Logger
}

func (r *Runner) Run(ctx context.Context, version string) forkd.SmokeTestResult {
	id, err := r.Collaborator.Start(ctx, r.FixtureRef, version)
	if err != nil {
		r.Logger.Log("msg", "could not start smoke test", "err", err)
		return forkd.SmokeTestResult{Passed: false, CheckedAt: time.Now()}
	}
	r.Logger.Log("msg", "smoke test started", "execution", id, "fixture", r.FixtureRef)

	deadline := time.Now().Add(r.Timeout)
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	var last Status
	for {
		status, err := r.Collaborator.Status(ctx, id)
		if err != nil {
			r.Logger.Log("msg", "could not poll smoke test", "execution", id, "err", err)
			return forkd.SmokeTestResult{Passed: false, DetailsRef: last.DiagnosticsRef, CheckedAt: time.Now()}
		}
		last = status
		if status.Done {
			break
		}
		if time.Now().After(deadline) {
			r.Logger.Log("msg", "smoke test timed out", "execution", id)
			return forkd.SmokeTestResult{Passed: false, DetailsRef: status.DiagnosticsRef, CheckedAt: time.Now()}
		}
		select {
		case <-ctx.Done():
			return forkd.SmokeTestResult{Passed: false, DetailsRef: status.DiagnosticsRef, CheckedAt: time.Now()}
		case <-ticker.C:
		}
	}

	passed := last.Succeeded && !last.InternalFailure
	r.Logger.Log("msg", "smoke test finished", "execution", id, "passed", passed)
	return forkd.SmokeTestResult{
		Passed:     passed,
		DetailsRef: last.DiagnosticsRef,
		CheckedAt:  time.Now(),
	}
}
