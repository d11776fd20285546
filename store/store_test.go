package store

import (
	"testing"
	"time"

	"github.com/forkops/forkd"
)

func TestLockExcludesSecondHolder(t *testing.T) {
	s := NewInMem()
	if err := s.AcquireLock("run-1", time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := s.AcquireLock("run-2", time.Hour); err != ErrLockHeld {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
	if err := s.ReleaseLock("run-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.AcquireLock("run-2", time.Hour); err != nil {
		t.Fatalf("lock should be free after release: %v", err)
	}
}

func TestLockStaleTakeover(t *testing.T) {
	s := NewInMem()
	now := time.Now()
	s.now = func() time.Time { return now }

	if err := s.AcquireLock("crashed-run", time.Hour); err != nil {
		t.Fatal(err)
	}
	// Not yet stale
	now = now.Add(30 * time.Minute)
	if err := s.AcquireLock("run-2", time.Hour); err != ErrLockHeld {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
	// Stale; the orphaned lock must not block forever
	now = now.Add(31 * time.Minute)
	if err := s.AcquireLock("run-2", time.Hour); err != nil {
		t.Fatalf("stale lock should be taken over: %v", err)
	}
}

func TestZeroStalenessMeansNeverStale(t *testing.T) {
	s := NewInMem()
	now := time.Now()
	s.now = func() time.Time { return now }

	if err := s.AcquireLock("run-1", 0); err != nil {
		t.Fatal(err)
	}
	// However old the lock gets, a zero threshold must not treat it
	// as stale and quietly drop mutual exclusion.
	now = now.Add(1000 * time.Hour)
	if err := s.AcquireLock("run-2", 0); err != ErrLockHeld {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
}

func TestReleaseLockIdempotent(t *testing.T) {
	s := NewInMem()
	if err := s.ReleaseLock("never-held"); err != nil {
		t.Fatal(err)
	}
	if err := s.AcquireLock("run-1", time.Hour); err != nil {
		t.Fatal(err)
	}
	// Releasing someone else's lock is a no-op
	if err := s.ReleaseLock("run-2"); err != nil {
		t.Fatal(err)
	}
	if err := s.AcquireLock("run-3", time.Hour); err != ErrLockHeld {
		t.Fatalf("lock should still be held by run-1, got %v", err)
	}
}

func TestBaselinePair(t *testing.T) {
	s := NewInMem()
	if _, ok, err := s.Baseline(); err != nil || ok {
		t.Fatalf("expected empty baseline, got ok=%v err=%v", ok, err)
	}
	b := Baseline{
		Release:     forkd.Release{Version: "v1.2.3", Source: "example/upstream"},
		ArtifactRef: "s3://artifacts/v1.2.3.zip",
	}
	if err := s.CommitBaseline(b); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.Baseline()
	if err != nil || !ok {
		t.Fatalf("expected baseline, got ok=%v err=%v", ok, err)
	}
	if got.Release.Version != "v1.2.3" || got.ArtifactRef != b.ArtifactRef {
		t.Fatalf("baseline pair mismatch: %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Fatal("expected UpdatedAt to be set")
	}
}

func TestExecutionLog(t *testing.T) {
	s := NewInMem()
	now := time.Now()

	e1 := forkd.NewExecutionState("exec-1", now)
	e2 := forkd.NewExecutionState("exec-2", now.Add(time.Minute))
	for _, e := range []forkd.ExecutionState{e1, e2} {
		if err := s.PutExecution(e); err != nil {
			t.Fatal(err)
		}
	}

	e1.Status = forkd.StatusSucceeded
	if err := s.UpdateExecution(e1); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateExecution(forkd.NewExecutionState("nope", now)); err != ErrNoSuchExecution {
		t.Fatalf("expected ErrNoSuchExecution, got %v", err)
	}

	all, err := s.Executions(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].ID != "exec-2" {
		t.Fatalf("expected newest-first listing, got %+v", all)
	}

	active, err := s.Executions(0, forkd.StatusPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].ID != "exec-2" {
		t.Fatalf("expected only exec-2 pending, got %+v", active)
	}
}
