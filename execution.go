package forkd

import (
	"fmt"
	"time"
)

// ExecutionStatus is the closed set of states an execution moves
// through. Transitions are one-way within a single execution; see
// ExecutionState.Advance.
type ExecutionStatus string

const (
	StatusPending      ExecutionStatus = "PENDING"
	StatusDetecting    ExecutionStatus = "DETECTING"
	StatusBuilding     ExecutionStatus = "BUILDING"
	StatusDeploying    ExecutionStatus = "DEPLOYING"
	StatusSmokeTesting ExecutionStatus = "SMOKE_TESTING"
	StatusRollingBack  ExecutionStatus = "ROLLING_BACK"
	StatusSucceeded    ExecutionStatus = "SUCCEEDED"
	StatusFailed       ExecutionStatus = "FAILED"
	StatusFatal        ExecutionStatus = "FATAL"
)

// rank orders statuses so that an execution can never re-enter an
// earlier stage. Terminal statuses share the highest rank.
var rank = map[ExecutionStatus]int{
	StatusPending:      0,
	StatusDetecting:    1,
	StatusBuilding:     2,
	StatusDeploying:    3,
	StatusSmokeTesting: 4,
	StatusRollingBack:  5,
	StatusSucceeded:    6,
	StatusFailed:       6,
	StatusFatal:        6,
}

func (s ExecutionStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusFatal:
		return true
	}
	return false
}

// ExecutionState is the record of one orchestration run. It is owned
// exclusively by the orchestrator: created at run start, mutated at
// each stage transition, and retained after reaching a terminal
// status for audit.
type ExecutionState struct {
	ID                  string          `json:"id"`
	Status              ExecutionStatus `json:"status"`
	Candidate           *Release        `json:"candidate,omitempty"`
	PreviousArtifactRef string          `json:"previousArtifactRef,omitempty"`
	ArtifactRef         string          `json:"artifactRef,omitempty"`
	BuildLogRef         string          `json:"buildLogRef,omitempty"`
	DryRun              bool            `json:"dryRun,omitempty"`
	StartedAt           time.Time       `json:"startedAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
	FailureStage        ExecutionStatus `json:"failureStage,omitempty"`
	FailureReason       string          `json:"failureReason,omitempty"`
}

func NewExecutionState(id string, now time.Time) ExecutionState {
	return ExecutionState{
		ID:        id,
		Status:    StatusPending,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// Advance moves the execution to the given status, bumping
// UpdatedAt. Moving backwards, or out of a terminal status, is a
// programming error and reported as such.
func (e *ExecutionState) Advance(to ExecutionStatus, now time.Time) error {
	if e.Status.Terminal() {
		return fmt.Errorf("execution %s is already terminal (%s)", e.ID, e.Status)
	}
	if rank[to] <= rank[e.Status] && to != e.Status {
		return fmt.Errorf("execution %s cannot move %s -> %s", e.ID, e.Status, to)
	}
	e.Status = to
	e.UpdatedAt = now
	return nil
}

// Trigger carries the parameters of a single invocation of the
// orchestrator, whether from the schedule or the manual trigger
// surface.
type Trigger struct {
	// CandidateVersion, if set, bypasses detection and promotes the
	// named upstream version directly.
	CandidateVersion string `json:"candidateVersion,omitempty"`
	// DryRun runs the full pipeline against the disposable target
	// without committing the known-good baseline.
	DryRun bool `json:"dryRun,omitempty"`
	// Cause records who or what asked for the run.
	Cause string `json:"cause,omitempty"`
}
