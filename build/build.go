// Package build drives the external merge/build collaborator to a
// terminal state.
package build

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/forkops/forkd"
)

// Status is a snapshot of an in-flight or finished build.
type Status struct {
	Done        bool
	Succeeded   bool
	ArtifactRef string
	LogRef      string
	Reason      string
}

// Collaborator is the external build system. Builds are asynchronous;
// Start kicks one off and Status is polled until Done.
type Collaborator interface {
	Start(ctx context.Context, candidate forkd.Release) (id string, err error)
	Status(ctx context.Context, id string) (Status, error)
}

// Coordinator runs a single build attempt per execution and polls it
// to completion. No retries at this layer; a flaky merge is a signal
// to alert a human.
type Coordinator struct {
	Collaborator Collaborator
	Interval     time.Duration
	Timeout      time.Duration
	Logger       log.Logger
}

// Build returns the artifact and log references of a successful
// build, or a BuildError. A poll timeout is a build failure, never an
// indeterminate state.
func (c *Coordinator) Build(ctx context.Context, candidate forkd.Release) (artifactRef, logRef string, err error) {
	id, err := c.Collaborator.Start(ctx, candidate)
	if err != nil {
		return "", "", &forkd.BuildError{Reason: err.Error()}
	}
	c.Logger.Log("msg", "build started", "build", id, "version", candidate.Version)

	deadline := time.Now().Add(c.Timeout)
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()
	var last Status
	for {
		status, err := c.Collaborator.Status(ctx, id)
		if err != nil {
			return "", "", &forkd.BuildError{Reason: err.Error(), LogRef: last.LogRef}
		}
		last = status
		if status.Done {
			break
		}
		if time.Now().After(deadline) {
			return "", "", &forkd.BuildError{Reason: "build timed out", LogRef: status.LogRef}
		}
		select {
		case <-ctx.Done():
			return "", "", &forkd.BuildError{Reason: ctx.Err().Error(), LogRef: status.LogRef}
		case <-ticker.C:
		}
	}
	if !last.Succeeded {
		return "", "", &forkd.BuildError{Reason: last.Reason, LogRef: last.LogRef}
	}
	c.Logger.Log("msg", "build succeeded", "build", id, "artifact", last.ArtifactRef)
	return last.ArtifactRef, last.LogRef, nil
}
