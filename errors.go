package forkd

import (
	"errors"
	"fmt"
)

// ErrConcurrentExecution is returned when the execution lock is held
// by another live run. It is a clean no-op exit for the caller, not a
// failure.
var ErrConcurrentExecution = errors.New("another execution is already in progress")

// DetectionError means the upstream source could not be queried. No
// deployment was attempted, so no rollback is needed; the error is
// surfaced to the reporter without mutating any persisted version.
type DetectionError struct {
	Err error
}

func (e *DetectionError) Error() string {
	return "detecting upstream release: " + e.Err.Error()
}

// BuildError is terminal for the execution. There is a single build
// attempt per execution; a flaky merge is a signal to alert a human,
// not something to retry blindly.
type BuildError struct {
	Reason string
	LogRef string
}

func (e *BuildError) Error() string {
	return "build failed: " + e.Reason
}

// DeployError always triggers rollback, since a partial deploy may
// have left the sandbox in a mixed state.
type DeployError struct {
	Reason string
}

func (e *DeployError) Error() string {
	return "deploy failed: " + e.Reason
}

// SmokeTestFailure means the deployed workload did not validate
// against the fixture. DetailsRef points at the diagnostics of the
// failed (or timed-out) run.
type SmokeTestFailure struct {
	DetailsRef string
}

func (e *SmokeTestFailure) Error() string {
	if e.DetailsRef == "" {
		return "smoke test failed"
	}
	return "smoke test failed, diagnostics at " + e.DetailsRef
}

// RollbackError is a single failed attempt at restoring the previous
// artifact. It is recoverable up to the retry budget.
type RollbackError struct {
	Attempt int
	Err     error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback attempt %d failed: %s", e.Attempt, e.Err.Error())
}

// FatalRollbackError means the retry budget is exhausted and the
// sandbox is not running the known-good artifact. This is the one
// condition that requires out-of-band escalation.
type FatalRollbackError struct {
	ArtifactRef string
	Err         error
}

func (e *FatalRollbackError) Error() string {
	return "rollback failed after retries: " + e.Err.Error()
}

// Help is printed for operators; restoring the sandbox now requires
// manual action.
func (e *FatalRollbackError) Help() string {
	return `The sandbox could not be restored to the known-good artifact

    ` + e.ArtifactRef + `

after the configured number of rollback attempts. The sandbox may be
running a broken or partially applied deployment. Redeploy the
artifact above manually, then re-run the agent.
`
}
