// Package config holds the agent's configuration file format.
package config

import (
	"io/ioutil"
	"time"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
)

// Config is the forkd configuration, usually loaded from a YAML file.
// Zero values are filled in with conservative defaults by Complete.
type Config struct {
	Upstream struct {
		// Owner/Repo of the upstream source to track.
		Owner string `json:"owner"`
		Repo  string `json:"repo"`
		// TokenFile points at a file containing the API token; empty
		// means unauthenticated queries.
		TokenFile string `json:"tokenFile,omitempty"`
	} `json:"upstream"`

	Build struct {
		// Project is the name of the merge/build project.
		Project string   `json:"project"`
		Timeout Duration `json:"timeout,omitempty"`
	} `json:"build"`

	Deploy struct {
		// Stack is the sandbox stack updated on promotion.
		Stack string `json:"stack"`
		// DryRunStack, when set, receives dry-run deployments.
		DryRunStack string `json:"dryRunStack,omitempty"`
		// ArtifactParam is the stack parameter carrying the artifact ref.
		ArtifactParam string   `json:"artifactParam,omitempty"`
		Timeout       Duration `json:"timeout,omitempty"`
	} `json:"deploy"`

	SmokeTest struct {
		// StateMachine is the ARN of the workload's state machine.
		StateMachine string `json:"stateMachine"`
		// FixtureRef is the fixed input used to exercise the workload.
		FixtureRef string   `json:"fixtureRef"`
		Timeout    Duration `json:"timeout,omitempty"`
	} `json:"smokeTest"`

	Notify struct {
		SlackWebhook  string `json:"slackWebhook,omitempty"`
		SlackUsername string `json:"slackUsername,omitempty"`
		SNSTopic      string `json:"snsTopic,omitempty"`
	} `json:"notify,omitempty"`

	// PollInterval is how often collaborators are polled for
	// completion.
	PollInterval Duration `json:"pollInterval,omitempty"`

	// RunInterval is how often the agent checks the upstream.
	RunInterval Duration `json:"runInterval,omitempty"`

	// RollbackRetries is the number of retries after the first failed
	// rollback attempt.
	RollbackRetries int `json:"rollbackRetries,omitempty"`

	// RollbackBackoff is the initial backoff between rollback
	// attempts; it doubles each time.
	RollbackBackoff Duration `json:"rollbackBackoff,omitempty"`

	// LockStaleAfter is how old a lock must be before a new run may
	// take it over. Zero means twice the longest stage timeout.
	LockStaleAfter Duration `json:"lockStaleAfter,omitempty"`
}

func Load(path string) (Config, error) {
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "reading config %s", path)
	}
	var c Config
	if err := yaml.Unmarshal(buf, &c); err != nil {
		return Config{}, errors.Wrapf(err, "parsing config %s", path)
	}
	c.Complete()
	return c, nil
}

// Complete fills unset fields with defaults.
func (c *Config) Complete() {
	if c.Build.Timeout == 0 {
		c.Build.Timeout = Duration(30 * time.Minute)
	}
	if c.Deploy.Timeout == 0 {
		c.Deploy.Timeout = Duration(30 * time.Minute)
	}
	if c.Deploy.ArtifactParam == "" {
		c.Deploy.ArtifactParam = "ArtifactRef"
	}
	if c.SmokeTest.Timeout == 0 {
		c.SmokeTest.Timeout = Duration(15 * time.Minute)
	}
	if c.PollInterval == 0 {
		c.PollInterval = Duration(15 * time.Second)
	}
	if c.RunInterval == 0 {
		c.RunInterval = Duration(time.Hour)
	}
	if c.RollbackRetries == 0 {
		c.RollbackRetries = 2
	}
	if c.RollbackBackoff == 0 {
		c.RollbackBackoff = Duration(30 * time.Second)
	}
	if c.LockStaleAfter == 0 {
		// A crashed run should not block the next one forever; twice
		// the longest stage timeout is comfortably past any live run.
		longest := c.Build.Timeout
		if c.Deploy.Timeout > longest {
			longest = c.Deploy.Timeout
		}
		if c.SmokeTest.Timeout > longest {
			longest = c.SmokeTest.Timeout
		}
		c.LockStaleAfter = 2 * longest
	}
}

// Validate reports the first problem that would keep the agent from
// running.
func (c *Config) Validate() error {
	switch {
	case c.Upstream.Owner == "" || c.Upstream.Repo == "":
		return errors.New("upstream.owner and upstream.repo are required")
	case c.Build.Project == "":
		return errors.New("build.project is required")
	case c.Deploy.Stack == "":
		return errors.New("deploy.stack is required")
	case c.SmokeTest.StateMachine == "":
		return errors.New("smokeTest.stateMachine is required")
	}
	return nil
}
