package store

import (
	"errors"
	"io"
	"time"

	"github.com/forkops/forkd"
)

var (
	// ErrLockHeld is returned by AcquireLock when a live (non-stale)
	// lock belongs to another holder.
	ErrLockHeld = errors.New("execution lock is held")

	// ErrNoSuchExecution is returned when an execution ID is unknown.
	ErrNoSuchExecution = errors.New("no such execution")
)

// Baseline is the known-good version/artifact pair. The two fields
// change together or not at all; a reader must never observe a
// version/artifact mismatch.
type Baseline struct {
	Release     forkd.Release `json:"release"`
	ArtifactRef string        `json:"artifactRef"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// Lock is the persisted execution lock, so that a process restart can
// detect an orphaned lock left by a crashed run.
type Lock struct {
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

type Store interface {
	// Baseline returns the current known-good pair; ok is false when
	// nothing has ever been deployed.
	Baseline() (b Baseline, ok bool, err error)

	// CommitBaseline atomically replaces the known-good pair.
	CommitBaseline(Baseline) error

	// AcquireLock takes the execution lock for holder. It succeeds if
	// no lock is held, or if the existing lock is older than
	// staleAfter (a crashed run must not block forever). A held,
	// non-stale lock yields ErrLockHeld. staleAfter <= 0 means locks
	// never go stale.
	AcquireLock(holder string, staleAfter time.Duration) error

	// ReleaseLock is idempotent; releasing an unheld lock, or one
	// held by someone else, is a no-op.
	ReleaseLock(holder string) error

	ExecutionLog
	io.Closer
}

// ExecutionLog is the append-only record of runs, retained after
// their terminal state for audit.
type ExecutionLog interface {
	PutExecution(forkd.ExecutionState) error
	UpdateExecution(forkd.ExecutionState) error
	GetExecution(id string) (forkd.ExecutionState, error)
	// Executions returns runs newest-first, optionally restricted to
	// the given statuses. limit <= 0 means no limit.
	Executions(limit int, statuses ...forkd.ExecutionStatus) ([]forkd.ExecutionState, error)
}
