package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/forkops/forkd"
	"github.com/forkops/forkd/store"
)

type fakeDetector struct {
	release *forkd.Release
	err     error
	calls   int
}

func (f *fakeDetector) Detect(context.Context, string) (*forkd.Release, error) {
	f.calls++
	return f.release, f.err
}

type fakeBuilder struct {
	err   error
	calls int
}

func (f *fakeBuilder) Build(_ context.Context, candidate forkd.Release) (string, string, error) {
	f.calls++
	if f.err != nil {
		return "", "", f.err
	}
	return "artifact-" + candidate.Version, "logs/" + candidate.Version, nil
}

type fakeDeployer struct {
	err   error
	calls int
}

func (f *fakeDeployer) Deploy(_ context.Context, candidate forkd.Release, artifactRef string) (forkd.Artifact, error) {
	f.calls++
	if f.err != nil {
		return forkd.Artifact{}, f.err
	}
	return forkd.Artifact{Ref: artifactRef, Version: candidate.Version, DeployedAt: time.Now()}, nil
}

type fakeRollbacker struct {
	err      error
	rolledTo []string
}

func (f *fakeRollbacker) Rollback(_ context.Context, previousRef string) error {
	f.rolledTo = append(f.rolledTo, previousRef)
	return f.err
}

type fakeSmokeTester struct {
	passed bool
	calls  int
}

func (f *fakeSmokeTester) Run(context.Context, string) forkd.SmokeTestResult {
	f.calls++
	return forkd.SmokeTestResult{Passed: f.passed, DetailsRef: "diag-ref", CheckedAt: time.Now()}
}

type captureSink struct {
	events []forkd.Event
}

func (c *captureSink) Send(e forkd.Event) error {
	c.events = append(c.events, e)
	return nil
}

type fixture struct {
	agent       *Agent
	store       *store.InMem
	detector    *fakeDetector
	builder     *fakeBuilder
	deployer    *fakeDeployer
	dryDeployer *fakeDeployer
	rollback    *fakeRollbacker
	smoke       *fakeSmokeTester
	sink        *captureSink
}

func newFixture() *fixture {
	f := &fixture{
		store:       store.NewInMem(),
		detector:    &fakeDetector{},
		builder:     &fakeBuilder{},
		deployer:    &fakeDeployer{},
		dryDeployer: &fakeDeployer{},
		rollback:    &fakeRollbacker{},
		smoke:       &fakeSmokeTester{passed: true},
		sink:        &captureSink{},
	}
	f.agent = &Agent{
		Store:          f.store,
		Detector:       f.detector,
		Builder:        f.builder,
		Deployer:       f.deployer,
		Rollbacker:     f.rollback,
		SmokeTester:    f.smoke,
		Notifier:       f.sink,
		DryRunDeployer: f.dryDeployer,
		LockStaleAfter: time.Hour,
		Logger:         log.NewNopLogger(),
	}
	return f
}

func (f *fixture) withBaseline(version, artifactRef string) *fixture {
	f.store.CommitBaseline(store.Baseline{
		Release:     forkd.Release{Version: version},
		ArtifactRef: artifactRef,
	})
	return f
}

func (f *fixture) oneEvent(t *testing.T) forkd.Event {
	t.Helper()
	if len(f.sink.events) != 1 {
		t.Fatalf("expected exactly one event, got %d: %+v", len(f.sink.events), f.sink.events)
	}
	return f.sink.events[0]
}

// First ever promotion: no prior version, upstream has v1, everything passes.
func TestFirstPromotion(t *testing.T) {
	f := newFixture()
	f.detector.release = &forkd.Release{Version: "v1"}

	state, err := f.agent.Run(context.Background(), forkd.Trigger{})
	if err != nil {
		t.Fatal(err)
	}
	if state.Status != forkd.StatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s", state.Status)
	}
	b, ok, _ := f.store.Baseline()
	if !ok || b.Release.Version != "v1" || b.ArtifactRef != "artifact-v1" {
		t.Fatalf("expected baseline {v1, artifact-v1}, got ok=%v %+v", ok, b)
	}
	if e := f.oneEvent(t); e.Outcome != forkd.OutcomeSuccess {
		t.Fatalf("expected SUCCESS event, got %s", e.Outcome)
	}
}

// Upstream unchanged: a no-op that mutates nothing and
// emits one lightweight report. Repeatable.
func TestUnchangedUpstreamIsNoop(t *testing.T) {
	f := newFixture().withBaseline("v1", "artifact-v1")
	f.detector.release = nil

	for i := 0; i < 2; i++ {
		state, err := f.agent.Run(context.Background(), forkd.Trigger{})
		if err != nil {
			t.Fatal(err)
		}
		if state.Status != forkd.StatusSucceeded || state.Candidate != nil {
			t.Fatalf("expected no-op terminal state, got %+v", state)
		}
	}
	if f.builder.calls != 0 {
		t.Fatal("no-op must not build")
	}
	b, _, _ := f.store.Baseline()
	if b.Release.Version != "v1" {
		t.Fatalf("baseline must be unchanged, got %+v", b)
	}
	if len(f.sink.events) != 2 {
		t.Fatalf("expected one event per run, got %d", len(f.sink.events))
	}
	for _, e := range f.sink.events {
		if e.Outcome != forkd.OutcomeSkipped {
			t.Fatalf("expected SKIPPED events, got %s", e.Outcome)
		}
	}
}

// Smoke test fails: the previous artifact is restored and
// the baseline stays at v1.
func TestSmokeTestFailureRollsBack(t *testing.T) {
	f := newFixture().withBaseline("v1", "artifact-v1")
	f.detector.release = &forkd.Release{Version: "v2"}
	f.smoke.passed = false

	state, err := f.agent.Run(context.Background(), forkd.Trigger{})
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := err.(*forkd.SmokeTestFailure); !ok {
		t.Fatalf("expected SmokeTestFailure, got %T (%v)", err, err)
	}
	if state.Status != forkd.StatusFailed {
		t.Fatalf("expected FAILED, got %s", state.Status)
	}
	if len(f.rollback.rolledTo) != 1 || f.rollback.rolledTo[0] != "artifact-v1" {
		t.Fatalf("expected rollback to artifact-v1, got %v", f.rollback.rolledTo)
	}
	b, _, _ := f.store.Baseline()
	if b.Release.Version != "v1" || b.ArtifactRef != "artifact-v1" {
		t.Fatalf("baseline must stay at v1, got %+v", b)
	}
	e := f.oneEvent(t)
	if e.Outcome != forkd.OutcomeRolledBack {
		t.Fatalf("expected ROLLED_BACK event, got %s", e.Outcome)
	}
	if !contains(e.Links, "diag-ref") {
		t.Fatalf("report must cite smoke-test diagnostics, got %v", e.Links)
	}
}

// Rollback exhausts its retry budget.
func TestRollbackFailureIsFatal(t *testing.T) {
	f := newFixture().withBaseline("v1", "artifact-v1")
	f.detector.release = &forkd.Release{Version: "v2"}
	f.smoke.passed = false
	f.rollback.err = &forkd.FatalRollbackError{ArtifactRef: "artifact-v1", Err: context.DeadlineExceeded}

	state, err := f.agent.Run(context.Background(), forkd.Trigger{})
	if _, ok := err.(*forkd.FatalRollbackError); !ok {
		t.Fatalf("expected FatalRollbackError, got %T (%v)", err, err)
	}
	if state.Status != forkd.StatusFatal {
		t.Fatalf("expected FATAL, never FAILED, got %s", state.Status)
	}
	e := f.oneEvent(t)
	if e.Outcome != forkd.OutcomeFatal || e.Severity != forkd.SeverityCritical {
		t.Fatalf("expected critical FATAL event, got %+v", e)
	}
}

func TestConcurrentTriggerIsCleanNoop(t *testing.T) {
	f := newFixture()
	f.detector.release = &forkd.Release{Version: "v1"}
	if err := f.store.AcquireLock("other-run", time.Hour); err != nil {
		t.Fatal(err)
	}

	_, err := f.agent.Run(context.Background(), forkd.Trigger{})
	if err != forkd.ErrConcurrentExecution {
		t.Fatalf("expected ErrConcurrentExecution, got %v", err)
	}
	if f.detector.calls != 0 {
		t.Fatal("a refused trigger must not start a second state machine")
	}
	execs, _ := f.store.Executions(0)
	if len(execs) != 0 {
		t.Fatalf("no execution should be recorded, got %+v", execs)
	}
	if e := f.oneEvent(t); e.Outcome != forkd.OutcomeSkipped {
		t.Fatalf("expected SKIPPED event, got %s", e.Outcome)
	}
}

func TestLockReleasedAfterRun(t *testing.T) {
	f := newFixture()
	f.detector.release = &forkd.Release{Version: "v1"}
	if _, err := f.agent.Run(context.Background(), forkd.Trigger{}); err != nil {
		t.Fatal(err)
	}
	if err := f.store.AcquireLock("next", time.Hour); err != nil {
		t.Fatalf("lock should be free after run: %v", err)
	}
}

func TestBuildFailureWithoutBaselineSkipsRollback(t *testing.T) {
	f := newFixture()
	f.detector.release = &forkd.Release{Version: "v1"}
	f.builder.err = &forkd.BuildError{Reason: "merge conflict", LogRef: "logs/v1"}

	state, err := f.agent.Run(context.Background(), forkd.Trigger{})
	if err == nil {
		t.Fatal("expected error")
	}
	if state.Status != forkd.StatusFailed {
		t.Fatalf("expected FAILED, got %s", state.Status)
	}
	if len(f.rollback.rolledTo) != 0 {
		t.Fatal("nothing was ever deployed; rollback must be skipped")
	}
	if e := f.oneEvent(t); e.Outcome != forkd.OutcomeFailure {
		t.Fatalf("expected FAILURE event, got %s", e.Outcome)
	}
}

func TestDeployFailureAlwaysRollsBack(t *testing.T) {
	f := newFixture().withBaseline("v1", "artifact-v1")
	f.detector.release = &forkd.Release{Version: "v2"}
	f.deployer.err = &forkd.DeployError{Reason: "stack update failed"}

	state, _ := f.agent.Run(context.Background(), forkd.Trigger{})
	if state.Status != forkd.StatusFailed {
		t.Fatalf("expected FAILED, got %s", state.Status)
	}
	if len(f.rollback.rolledTo) != 1 || f.rollback.rolledTo[0] != "artifact-v1" {
		t.Fatalf("a partial deploy must trigger rollback, got %v", f.rollback.rolledTo)
	}
	if f.smoke.calls != 0 {
		t.Fatal("stage ordering violated: smoke test ran after failed deploy")
	}
}

func TestDetectionErrorDoesNotRollBack(t *testing.T) {
	f := newFixture().withBaseline("v1", "artifact-v1")
	f.detector.err = &forkd.DetectionError{Err: context.DeadlineExceeded}

	state, err := f.agent.Run(context.Background(), forkd.Trigger{})
	if _, ok := err.(*forkd.DetectionError); !ok {
		t.Fatalf("expected DetectionError, got %T", err)
	}
	if state.Status != forkd.StatusFailed {
		t.Fatalf("expected FAILED, got %s", state.Status)
	}
	if len(f.rollback.rolledTo) != 0 {
		t.Fatal("no deployment was attempted; rollback must be skipped")
	}
	b, _, _ := f.store.Baseline()
	if b.Release.Version != "v1" {
		t.Fatalf("baseline must be untouched, got %+v", b)
	}
}

func TestCandidateOverrideBypassesDetection(t *testing.T) {
	f := newFixture().withBaseline("v1", "artifact-v1")

	state, err := f.agent.Run(context.Background(), forkd.Trigger{CandidateVersion: "v9", Cause: "operator"})
	if err != nil {
		t.Fatal(err)
	}
	if f.detector.calls != 0 {
		t.Fatal("explicit candidate must bypass detection")
	}
	if state.Candidate == nil || state.Candidate.Version != "v9" {
		t.Fatalf("expected candidate v9, got %+v", state.Candidate)
	}
	b, _, _ := f.store.Baseline()
	if b.Release.Version != "v9" {
		t.Fatalf("expected baseline v9, got %+v", b)
	}
}

func TestDryRunDoesNotCommitBaseline(t *testing.T) {
	f := newFixture().withBaseline("v1", "artifact-v1")
	f.detector.release = &forkd.Release{Version: "v2"}

	state, err := f.agent.Run(context.Background(), forkd.Trigger{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if state.Status != forkd.StatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s", state.Status)
	}
	if f.dryDeployer.calls != 1 || f.deployer.calls != 0 {
		t.Fatalf("dry run must target only the disposable stack, got dry=%d live=%d",
			f.dryDeployer.calls, f.deployer.calls)
	}
	b, _, _ := f.store.Baseline()
	if b.Release.Version != "v1" {
		t.Fatalf("dry run must not commit the baseline, got %+v", b)
	}
}

// A dry run targets the disposable stack, so a failure there has
// nothing to roll back.
func TestDryRunFailureSkipsRollback(t *testing.T) {
	f := newFixture().withBaseline("v1", "artifact-v1")
	f.detector.release = &forkd.Release{Version: "v2"}
	f.smoke.passed = false

	state, _ := f.agent.Run(context.Background(), forkd.Trigger{DryRun: true})
	if state.Status != forkd.StatusFailed {
		t.Fatalf("expected FAILED, got %s", state.Status)
	}
	if f.deployer.calls != 0 {
		t.Fatalf("dry run must never touch the live sandbox, got %d deploys", f.deployer.calls)
	}
	if len(f.rollback.rolledTo) != 0 {
		t.Fatalf("dry-run failure must not roll back the sandbox, got %v", f.rollback.rolledTo)
	}
}

// Without a disposable target a dry run has nowhere safe to deploy;
// it must be refused outright, never pointed at the live sandbox.
func TestDryRunWithoutDisposableTargetIsRefused(t *testing.T) {
	f := newFixture().withBaseline("v1", "artifact-v1")
	f.detector.release = &forkd.Release{Version: "v2"}
	f.agent.DryRunDeployer = nil

	_, err := f.agent.Run(context.Background(), forkd.Trigger{DryRun: true})
	if err == nil {
		t.Fatal("expected error")
	}
	if f.builder.calls != 0 || f.deployer.calls != 0 {
		t.Fatalf("refused dry run must not build or deploy, got build=%d deploy=%d",
			f.builder.calls, f.deployer.calls)
	}
	execs, _ := f.store.Executions(0)
	if len(execs) != 0 {
		t.Fatalf("refused dry run must not be recorded, got %+v", execs)
	}
	e := f.oneEvent(t)
	if e.Outcome != forkd.OutcomeFailure || e.Severity != forkd.SeverityError {
		t.Fatalf("expected FAILURE event, got %+v", e)
	}
}

// failingStore injects store errors on the paths that run before the
// state machine starts.
type failingStore struct {
	*store.InMem
	acquireErr error
	putErr     error
}

func (s *failingStore) AcquireLock(holder string, staleAfter time.Duration) error {
	if s.acquireErr != nil {
		return s.acquireErr
	}
	return s.InMem.AcquireLock(holder, staleAfter)
}

func (s *failingStore) PutExecution(e forkd.ExecutionState) error {
	if s.putErr != nil {
		return s.putErr
	}
	return s.InMem.PutExecution(e)
}

// A store failure before any stage runs must still produce the run's
// one notification, not silently drop it.
func TestLockStoreErrorStillNotifies(t *testing.T) {
	f := newFixture()
	f.detector.release = &forkd.Release{Version: "v1"}
	f.agent.Store = &failingStore{InMem: f.store, acquireErr: errors.New("connection refused")}

	_, err := f.agent.Run(context.Background(), forkd.Trigger{})
	if err == nil || err == forkd.ErrConcurrentExecution {
		t.Fatalf("expected a store error, got %v", err)
	}
	e := f.oneEvent(t)
	if e.Outcome != forkd.OutcomeFailure || e.Severity != forkd.SeverityError {
		t.Fatalf("expected FAILURE event, got %+v", e)
	}
}

func TestRecordStoreErrorStillNotifies(t *testing.T) {
	f := newFixture()
	f.detector.release = &forkd.Release{Version: "v1"}
	f.agent.Store = &failingStore{InMem: f.store, putErr: errors.New("connection refused")}

	_, err := f.agent.Run(context.Background(), forkd.Trigger{})
	if err == nil {
		t.Fatal("expected a store error")
	}
	if f.detector.calls != 0 {
		t.Fatal("an unrecordable run must not start the state machine")
	}
	e := f.oneEvent(t)
	if e.Outcome != forkd.OutcomeFailure || e.Severity != forkd.SeverityError {
		t.Fatalf("expected FAILURE event, got %+v", e)
	}
}

func TestTransitionsAreAudited(t *testing.T) {
	f := newFixture()
	f.detector.release = &forkd.Release{Version: "v1"}

	state, err := f.agent.Run(context.Background(), forkd.Trigger{})
	if err != nil {
		t.Fatal(err)
	}
	stored, err := f.store.GetExecution(state.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != forkd.StatusSucceeded {
		t.Fatalf("terminal state must be retained for audit, got %+v", stored)
	}
	if !stored.UpdatedAt.After(stored.StartedAt) && !stored.UpdatedAt.Equal(stored.StartedAt) {
		t.Fatalf("UpdatedAt must track transitions: %+v", stored)
	}
}

func contains(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}
