package forkd

import (
	"time"
)

// Release is an upstream version as reported by the release listing.
// Immutable once detected. Comparison between releases is by opaque
// string equality of Version; no semantic version ordering is assumed
// beyond the upstream's own newest-first listing.
type Release struct {
	Version     string    `json:"version"`
	Source      string    `json:"source"`
	DetectedAt  time.Time `json:"detectedAt"`
	URL         string    `json:"url,omitempty"`
	PublishedAt time.Time `json:"publishedAt,omitempty"`
	Notes       string    `json:"notes,omitempty"`
}

// Artifact is a deployable build output. At most one artifact is
// active in the sandbox at a time; the previously active artifact is
// retained as the rollback target.
type Artifact struct {
	Ref        string    `json:"ref"`
	Version    string    `json:"version"`
	DeployedAt time.Time `json:"deployedAt"`
}

// SmokeTestResult is the verdict of running the deployed workload
// against the fixture. It is consumed once, to decide commit versus
// rollback, and then folded into the final report.
type SmokeTestResult struct {
	Passed     bool      `json:"passed"`
	DetailsRef string    `json:"detailsRef,omitempty"`
	CheckedAt  time.Time `json:"checkedAt"`
}
