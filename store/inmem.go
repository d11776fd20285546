package store

import (
	"sync"
	"time"

	"github.com/forkops/forkd"
)

// NewInMem returns a Store keeping everything in process memory.
// Used for tests and for running the agent without a database.
func NewInMem() *InMem {
	return &InMem{
		executions: map[string]forkd.ExecutionState{},
		now:        time.Now,
	}
}

type InMem struct {
	mtx        sync.Mutex
	baseline   *Baseline
	lock       *Lock
	executions map[string]forkd.ExecutionState
	order      []string

	// overridable for tests
	now func() time.Time
}

func (s *InMem) Baseline() (Baseline, bool, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.baseline == nil {
		return Baseline{}, false, nil
	}
	return *s.baseline, true, nil
}

func (s *InMem) CommitBaseline(b Baseline) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = s.now()
	}
	s.baseline = &b
	return nil
}

func (s *InMem) AcquireLock(holder string, staleAfter time.Duration) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	now := s.now()
	if s.lock != nil && (staleAfter <= 0 || now.Sub(s.lock.AcquiredAt) < staleAfter) {
		return ErrLockHeld
	}
	s.lock = &Lock{Holder: holder, AcquiredAt: now}
	return nil
}

func (s *InMem) ReleaseLock(holder string) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.lock != nil && s.lock.Holder == holder {
		s.lock = nil
	}
	return nil
}

func (s *InMem) PutExecution(e forkd.ExecutionState) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if _, ok := s.executions[e.ID]; !ok {
		s.order = append(s.order, e.ID)
	}
	s.executions[e.ID] = e
	return nil
}

func (s *InMem) UpdateExecution(e forkd.ExecutionState) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if _, ok := s.executions[e.ID]; !ok {
		return ErrNoSuchExecution
	}
	s.executions[e.ID] = e
	return nil
}

func (s *InMem) GetExecution(id string) (forkd.ExecutionState, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	e, ok := s.executions[id]
	if !ok {
		return forkd.ExecutionState{}, ErrNoSuchExecution
	}
	return e, nil
}

func (s *InMem) Executions(limit int, statuses ...forkd.ExecutionStatus) ([]forkd.ExecutionState, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	var out []forkd.ExecutionState
	for i := len(s.order) - 1; i >= 0; i-- {
		e := s.executions[s.order[i]]
		if len(statuses) > 0 && !statusIn(e.Status, statuses) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *InMem) Close() error {
	return nil
}

func statusIn(status forkd.ExecutionStatus, set []forkd.ExecutionStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}
