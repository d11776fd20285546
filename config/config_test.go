package config

import (
	"io/ioutil"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const sampleConfig = `
upstream:
  owner: example
  repo: upstream
build:
  project: fork-merge
  timeout: 45m
deploy:
  stack: fork-sandbox
  dryRunStack: fork-sandbox-scratch
smokeTest:
  stateMachine: arn:aws:states:eu-west-1:123456789012:stateMachine:smoke
  fixtureRef: s3://fixtures/sample.pdf
notify:
  slackWebhook: https://hooks.slack.com/services/x/y/z
pollInterval: 5s
`

func writeConfig(t *testing.T, content string) string {
	f, err := ioutil.TempFile("", "forkd-config")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
	return f.Name()
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	defer os.Remove(path)
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	assert.NoError(t, c.Validate())
	assert.Equal(t, "example", c.Upstream.Owner)
	assert.Equal(t, 45*time.Minute, c.Build.Timeout.D())
	assert.Equal(t, 5*time.Second, c.PollInterval.D())
	assert.Equal(t, "fork-sandbox-scratch", c.Deploy.DryRunStack)
}

func TestDefaults(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	defer os.Remove(path)
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 30*time.Minute, c.Deploy.Timeout.D())
	assert.Equal(t, "ArtifactRef", c.Deploy.ArtifactParam)
	assert.Equal(t, 2, c.RollbackRetries)
	// Lock staleness defaults to twice the longest stage timeout,
	// which the 45m build timeout dominates here.
	assert.Equal(t, 90*time.Minute, c.LockStaleAfter.D())
}

func TestValidate(t *testing.T) {
	var c Config
	c.Complete()
	assert.Error(t, c.Validate())

	c.Upstream.Owner = "example"
	c.Upstream.Repo = "upstream"
	c.Build.Project = "fork-merge"
	c.Deploy.Stack = "fork-sandbox"
	assert.Error(t, c.Validate(), "state machine still missing")

	c.SmokeTest.StateMachine = "arn:..."
	assert.NoError(t, c.Validate())
}
