// Package agent contains the orchestration core: a state machine
// that promotes a detected upstream release through build, deploy and
// smoke test, rolling back on any failure.
package agent

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/forkops/forkd"
	"github.com/forkops/forkd/guid"
	"github.com/forkops/forkd/report"
	"github.com/forkops/forkd/store"
)

// Detector finds a new upstream release, or nil when there is none.
type Detector interface {
	Detect(ctx context.Context, lastKnown string) (*forkd.Release, error)
}

// Builder runs one merge/build attempt to a terminal state.
type Builder interface {
	Build(ctx context.Context, candidate forkd.Release) (artifactRef, logRef string, err error)
}

// Deployer applies an artifact to the sandbox.
type Deployer interface {
	Deploy(ctx context.Context, candidate forkd.Release, artifactRef string) (forkd.Artifact, error)
}

// Rollbacker restores a previously deployed artifact, with its own
// retry budget. Exhausting the budget returns a FatalRollbackError.
type Rollbacker interface {
	Rollback(ctx context.Context, previousRef string) error
}

// SmokeTester runs the workload against the fixture and returns a
// verdict; it never errors, ambiguity resolves to a failed test.
type SmokeTester interface {
	Run(ctx context.Context, version string) forkd.SmokeTestResult
}

// Agent is the sole entry point of the orchestration. Triggered on a
// schedule or on demand; each invocation is one sequential run.
type Agent struct {
	Store       store.Store
	Detector    Detector
	Builder     Builder
	Deployer    Deployer
	Rollbacker  Rollbacker
	SmokeTester SmokeTester
	Notifier    report.Sink

	// DryRunDeployer points at the disposable target and is used
	// instead of Deployer for dry-run triggers. When nil, dry-run
	// triggers are refused rather than let near the live sandbox.
	DryRunDeployer Deployer

	// LockStaleAfter guards against a crashed run holding the lock
	// forever.
	LockStaleAfter time.Duration

	Logger log.Logger

	// overridable for tests
	Now func() time.Time
}

func (a *Agent) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// Run executes one promotion attempt. It returns the terminal
// execution state, or ErrConcurrentExecution when another run holds
// the lock (a clean no-op, not a failure). Exactly one notification
// event is emitted whatever happens.
func (a *Agent) Run(ctx context.Context, trigger forkd.Trigger) (forkd.ExecutionState, error) {
	execID := guid.New()
	logger := log.With(a.Logger, "execution", execID)

	// A dry run must never touch the live sandbox; without a
	// disposable target it cannot run at all.
	if trigger.DryRun && a.DryRunDeployer == nil {
		err := errors.New("dry run requested but no disposable deploy target is configured")
		logger.Log("err", err)
		a.notify(logger, report.Aborted(execID, err.Error()))
		return forkd.ExecutionState{}, err
	}

	if err := a.Store.AcquireLock(execID, a.LockStaleAfter); err == store.ErrLockHeld {
		logger.Log("msg", "skipping, lock is held")
		a.notify(logger, report.Skipped(execID, "another execution is in progress"))
		return forkd.ExecutionState{}, forkd.ErrConcurrentExecution
	} else if err != nil {
		err = errors.Wrap(err, "acquiring execution lock")
		logger.Log("err", err)
		a.notify(logger, report.Aborted(execID, err.Error()))
		return forkd.ExecutionState{}, err
	}
	defer a.Store.ReleaseLock(execID)

	begin := a.now()
	exec := forkd.NewExecutionState(execID, begin)
	exec.DryRun = trigger.DryRun
	if err := a.Store.PutExecution(exec); err != nil {
		err = errors.Wrap(err, "recording execution")
		logger.Log("err", err)
		a.notify(logger, report.Aborted(execID, err.Error()))
		return exec, err
	}

	state, err := a.run(ctx, logger, exec, trigger)
	// The metric label and the reported outcome must agree; Eventify
	// is the single classifier.
	runDuration.With(LabelOutcome, report.Eventify(state, nil).Outcome).Observe(time.Since(begin).Seconds())
	return state, err
}

func (a *Agent) run(ctx context.Context, logger log.Logger, exec forkd.ExecutionState, trigger forkd.Trigger) (forkd.ExecutionState, error) {
	baseline, hasBaseline, err := a.Store.Baseline()
	if err != nil {
		return a.fail(ctx, logger, exec, forkd.StatusDetecting, errors.Wrap(err, "reading baseline"), "", nil)
	}

	// DETECTING
	a.advance(logger, &exec, forkd.StatusDetecting)
	var candidate *forkd.Release
	if trigger.CandidateVersion != "" {
		logger.Log("msg", "candidate version supplied, bypassing detection", "version", trigger.CandidateVersion)
		candidate = &forkd.Release{
			Version:    trigger.CandidateVersion,
			Source:     "manual",
			DetectedAt: a.now(),
		}
	} else {
		begin := a.now()
		candidate, err = a.Detector.Detect(ctx, baseline.Release.Version)
		observeStage(forkd.StatusDetecting, begin, err == nil)
		if err != nil {
			// Nothing was deployed; no rollback needed.
			return a.fail(ctx, logger, exec, forkd.StatusDetecting, err, "", nil)
		}
	}
	if candidate == nil {
		// No new version: terminate as a no-op, state unchanged, one
		// lightweight report.
		exec.Advance(forkd.StatusSucceeded, a.now())
		a.Store.UpdateExecution(exec)
		a.notify(logger, report.Eventify(exec, nil))
		return exec, nil
	}
	exec.Candidate = candidate
	a.Store.UpdateExecution(exec)

	// BUILDING
	a.advance(logger, &exec, forkd.StatusBuilding)
	begin := a.now()
	artifactRef, logRef, err := a.Builder.Build(ctx, *candidate)
	observeStage(forkd.StatusBuilding, begin, err == nil)
	if err != nil {
		prev := ""
		if hasBaseline && !trigger.DryRun {
			prev = baseline.ArtifactRef
		}
		return a.fail(ctx, logger, exec, forkd.StatusBuilding, err, prev, nil)
	}
	exec.ArtifactRef = artifactRef
	exec.BuildLogRef = logRef
	a.Store.UpdateExecution(exec)

	// DEPLOYING. Record the rollback target before touching the
	// sandbox, so a deploy that dies midway still has one.
	if hasBaseline && !trigger.DryRun {
		exec.PreviousArtifactRef = baseline.ArtifactRef
	}
	a.advance(logger, &exec, forkd.StatusDeploying)
	deployer := a.Deployer
	if trigger.DryRun {
		deployer = a.DryRunDeployer
	}
	begin = a.now()
	artifact, err := deployer.Deploy(ctx, *candidate, artifactRef)
	observeStage(forkd.StatusDeploying, begin, err == nil)
	if err != nil {
		// A partial deploy may have left the sandbox in a mixed
		// state; always roll back if there is a target.
		return a.fail(ctx, logger, exec, forkd.StatusDeploying, err, exec.PreviousArtifactRef, nil)
	}

	// SMOKE_TESTING
	a.advance(logger, &exec, forkd.StatusSmokeTesting)
	begin = a.now()
	result := a.SmokeTester.Run(ctx, candidate.Version)
	observeStage(forkd.StatusSmokeTesting, begin, result.Passed)
	if !result.Passed {
		return a.fail(ctx, logger, exec, forkd.StatusSmokeTesting, &forkd.SmokeTestFailure{DetailsRef: result.DetailsRef}, exec.PreviousArtifactRef, &result)
	}

	// SUCCEEDED: commit the candidate as the new known-good baseline,
	// version and artifact as one atomic pair.
	if !trigger.DryRun {
		if err := a.Store.CommitBaseline(store.Baseline{
			Release:     *candidate,
			ArtifactRef: artifact.Ref,
			UpdatedAt:   a.now(),
		}); err != nil {
			return a.fail(ctx, logger, exec, forkd.StatusSmokeTesting, errors.Wrap(err, "committing baseline"), exec.PreviousArtifactRef, &result)
		}
	}
	exec.Advance(forkd.StatusSucceeded, a.now())
	a.Store.UpdateExecution(exec)
	logger.Log("msg", "promotion succeeded", "version", candidate.Version, "artifact", artifact.Ref, "dry_run", trigger.DryRun)
	a.notify(logger, report.Eventify(exec, &result))
	return exec, nil
}

// fail converts a stage error into a terminal execution, rolling back
// first when there is a previous deployment to protect.
func (a *Agent) fail(ctx context.Context, logger log.Logger, exec forkd.ExecutionState, stage forkd.ExecutionStatus, cause error, previousRef string, result *forkd.SmokeTestResult) (forkd.ExecutionState, error) {
	logger.Log("stage", stage, "err", cause)
	exec.FailureStage = stage
	exec.FailureReason = cause.Error()

	if previousRef == "" {
		exec.Advance(forkd.StatusFailed, a.now())
		a.Store.UpdateExecution(exec)
		a.notify(logger, report.Eventify(exec, result))
		return exec, cause
	}

	exec.PreviousArtifactRef = previousRef
	a.advance(logger, &exec, forkd.StatusRollingBack)
	begin := a.now()
	rbErr := a.Rollbacker.Rollback(ctx, previousRef)
	observeStage(forkd.StatusRollingBack, begin, rbErr == nil)
	if rbErr != nil {
		// The sandbox is not running the known-good artifact; this
		// needs a human.
		exec.FailureReason = rbErr.Error()
		exec.Advance(forkd.StatusFatal, a.now())
		a.Store.UpdateExecution(exec)
		a.notify(logger, report.Eventify(exec, result))
		return exec, rbErr
	}

	exec.Advance(forkd.StatusFailed, a.now())
	a.Store.UpdateExecution(exec)
	a.notify(logger, report.Eventify(exec, result))
	return exec, cause
}

func (a *Agent) advance(logger log.Logger, exec *forkd.ExecutionState, to forkd.ExecutionStatus) {
	if err := exec.Advance(to, a.now()); err != nil {
		// A transition violation is a bug in this package.
		panic(err)
	}
	logger.Log("transition", to)
	if err := a.Store.UpdateExecution(*exec); err != nil {
		logger.Log("msg", "could not persist transition", "err", err)
	}
}

// notify delivers the single event for this run. A sink failure after
// an otherwise successful run must not fail the run; it is a
// secondary alert.
func (a *Agent) notify(logger log.Logger, e forkd.Event) {
	if a.Notifier == nil {
		return
	}
	if err := a.Notifier.Send(e); err != nil {
		notifyFailures.Add(1)
		logger.Log("msg", "could not deliver notification", "outcome", e.Outcome, "err", err)
	}
}
