// Package deploy applies build artifacts to the sandbox and restores
// the previous artifact when a run goes wrong.
package deploy

import (
	"context"
	"errors"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/forkops/forkd"
)

// ErrNoChanges may be returned by a collaborator's Apply when the
// target is already running the requested artifact. It counts as a
// successful deployment.
var ErrNoChanges = errors.New("no changes to apply")

// Status is a snapshot of an in-flight or finished deployment.
type Status struct {
	Done        bool
	Succeeded   bool
	DeployedRef string
	Reason      string
}

// Collaborator is the external deployment mechanism. It must support
// redeploying an arbitrary previously-known artifact, which is what
// rollback does.
type Collaborator interface {
	Apply(ctx context.Context, artifactRef string) (id string, err error)
	Status(ctx context.Context, id string) (Status, error)
}

// Manager applies a new artifact to the sandbox. The caller records
// the previously active artifact before invoking Deploy, so rollback
// has a target even if the deployment dies midway.
type Manager struct {
	Collaborator Collaborator
	Interval     time.Duration
	Timeout      time.Duration
	Logger       log.Logger
}

func (m *Manager) Deploy(ctx context.Context, candidate forkd.Release, artifactRef string) (forkd.Artifact, error) {
	id, err := m.Collaborator.Apply(ctx, artifactRef)
	if err == ErrNoChanges {
		m.Logger.Log("msg", "target already running artifact", "artifact", artifactRef)
		return forkd.Artifact{Ref: artifactRef, Version: candidate.Version, DeployedAt: time.Now()}, nil
	}
	if err != nil {
		return forkd.Artifact{}, &forkd.DeployError{Reason: err.Error()}
	}
	m.Logger.Log("msg", "deployment started", "deployment", id, "artifact", artifactRef)

	status, err := pollToTerminal(ctx, m.Collaborator, id, m.Interval, m.Timeout)
	if err != nil {
		return forkd.Artifact{}, &forkd.DeployError{Reason: err.Error()}
	}
	if !status.Succeeded {
		return forkd.Artifact{}, &forkd.DeployError{Reason: status.Reason}
	}
	ref := status.DeployedRef
	if ref == "" {
		ref = artifactRef
	}
	m.Logger.Log("msg", "deployment succeeded", "deployment", id, "artifact", ref)
	return forkd.Artifact{Ref: ref, Version: candidate.Version, DeployedAt: time.Now()}, nil
}

func pollToTerminal(ctx context.Context, c Collaborator, id string, interval, timeout time.Duration) (Status, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		status, err := c.Status(ctx, id)
		if err != nil {
			return Status{}, err
		}
		if status.Done {
			return status, nil
		}
		if time.Now().After(deadline) {
			return Status{}, errors.New("deployment timed out")
		}
		select {
		case <-ctx.Done():
			return Status{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
