// Package upstream watches the upstream source for new releases.
package upstream

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/forkops/forkd"
)

// Lister reports the highest available upstream version, per the
// upstream's own newest-first listing.
type Lister interface {
	LatestRelease(ctx context.Context) (forkd.Release, error)
}

// Detector compares the upstream's latest release against the last
// known version.
type Detector struct {
	Lister Lister
	Logger log.Logger

	// overridable for tests
	Now func() time.Time
}

// Detect returns the new release, or nil when the upstream is still
// at lastKnown. Query failures are detection errors: nothing was
// deployed, so nothing needs rolling back.
func (d *Detector) Detect(ctx context.Context, lastKnown string) (*forkd.Release, error) {
	rel, err := d.Lister.LatestRelease(ctx)
	if err != nil {
		return nil, &forkd.DetectionError{Err: err}
	}
	if rel.Version == lastKnown {
		d.Logger.Log("msg", "no new release", "version", lastKnown)
		return nil, nil
	}
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	rel.DetectedAt = now()
	d.Logger.Log("msg", "new release detected", "current", lastKnown, "latest", rel.Version)
	return &rel, nil
}
