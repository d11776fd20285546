package deploy

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/forkops/forkd"
)

// RollbackController redeploys the last known-good artifact. This is
// the one path allowed retries; an un-rolled-back sandbox is the
// worst outcome.
type RollbackController struct {
	Collaborator Collaborator
	Interval     time.Duration
	Timeout      time.Duration
	Retries      int
	Backoff      time.Duration
	Logger       log.Logger
}

// Rollback makes up to 1+Retries attempts, with doubling backoff
// between them. Exhausting the budget is fatal: the error returned is
// a FatalRollbackError and must be escalated to a human.
func (r *RollbackController) Rollback(ctx context.Context, previousRef string) error {
	var lastErr error
	backoff := r.Backoff
	for attempt := 1; attempt <= r.Retries+1; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return &forkd.FatalRollbackError{ArtifactRef: previousRef, Err: ctx.Err()}
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		err := r.attempt(ctx, previousRef)
		if err == nil {
			r.Logger.Log("msg", "rollback succeeded", "artifact", previousRef, "attempt", attempt)
			return nil
		}
		lastErr = &forkd.RollbackError{Attempt: attempt, Err: err}
		r.Logger.Log("err", lastErr)
	}
	return &forkd.FatalRollbackError{ArtifactRef: previousRef, Err: lastErr}
}

func (r *RollbackController) attempt(ctx context.Context, previousRef string) error {
	id, err := r.Collaborator.Apply(ctx, previousRef)
	if err == ErrNoChanges {
		// Already running the previous artifact; the sandbox is safe.
		return nil
	}
	if err != nil {
		return err
	}
	status, err := pollToTerminal(ctx, r.Collaborator, id, r.Interval, r.Timeout)
	if err != nil {
		return err
	}
	if !status.Succeeded {
		return errors.New(status.Reason)
	}
	return nil
}
