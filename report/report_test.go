package report

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/forkops/forkd"
)

func terminalState(status forkd.ExecutionStatus) forkd.ExecutionState {
	return forkd.ExecutionState{
		ID:     "exec-1",
		Status: status,
		Candidate: &forkd.Release{
			Version: "v1.2.3",
			URL:     "https://github.com/example/upstream/releases/tag/v1.2.3",
		},
		BuildLogRef: "logs/build-123",
		StartedAt:   time.Now().Add(-time.Minute),
		UpdatedAt:   time.Now(),
	}
}

func TestEventifySuccess(t *testing.T) {
	result := &forkd.SmokeTestResult{Passed: true, DetailsRef: "arn:aws:states:exec"}
	e := Eventify(terminalState(forkd.StatusSucceeded), result)

	assert.Equal(t, forkd.OutcomeSuccess, e.Outcome)
	assert.Equal(t, forkd.SeverityInfo, e.Severity)
	assert.Contains(t, e.Summary, "v1.2.3")
	assert.Contains(t, e.Links, "logs/build-123")
	assert.Contains(t, e.Links, "arn:aws:states:exec")
	assert.Equal(t, "exec-1", e.ExecutionID)
}

func TestEventifySkipped(t *testing.T) {
	state := terminalState(forkd.StatusSucceeded)
	state.Candidate = nil
	e := Eventify(state, nil)
	assert.Equal(t, forkd.OutcomeSkipped, e.Outcome)
}

func TestAbortedIsAFailure(t *testing.T) {
	e := Aborted("exec-1", "dry run requested but no disposable deploy target is configured")
	assert.Equal(t, forkd.OutcomeFailure, e.Outcome)
	assert.Equal(t, forkd.SeverityError, e.Severity)
	assert.Contains(t, e.Summary, "disposable")
}

func TestEventifyRolledBack(t *testing.T) {
	state := terminalState(forkd.StatusFailed)
	state.PreviousArtifactRef = "s3://artifacts/v1.zip"
	state.FailureStage = forkd.StatusSmokeTesting
	state.FailureReason = "smoke test failed"
	result := &forkd.SmokeTestResult{Passed: false, DetailsRef: "arn:aws:states:exec"}

	e := Eventify(state, result)
	assert.Equal(t, forkd.OutcomeRolledBack, e.Outcome)
	assert.Equal(t, forkd.SeverityError, e.Severity)
	assert.Contains(t, e.Summary, "s3://artifacts/v1.zip")
	assert.Contains(t, e.Links, "arn:aws:states:exec")
}

func TestEventifyFailureWithoutDeployment(t *testing.T) {
	state := terminalState(forkd.StatusFailed)
	state.FailureStage = forkd.StatusBuilding
	state.FailureReason = "merge conflict"
	e := Eventify(state, nil)
	assert.Equal(t, forkd.OutcomeFailure, e.Outcome)
	assert.Contains(t, e.Summary, "merge conflict")
}

func TestEventifyFatalIsCritical(t *testing.T) {
	state := terminalState(forkd.StatusFatal)
	state.FailureReason = "rollback failed after retries: boom"
	e := Eventify(state, nil)
	assert.Equal(t, forkd.OutcomeFatal, e.Outcome)
	assert.Equal(t, forkd.SeverityCritical, e.Severity)
}

func TestSlackSink(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
	}))
	defer server.Close()

	sink := NewSlackSink(http.DefaultClient, server.URL, "forkd")
	err := sink.Send(forkd.Event{
		ExecutionID: "exec-1",
		Outcome:     forkd.OutcomeFatal,
		Severity:    forkd.SeverityCritical,
		Summary:     "ROLLBACK FAILED",
	})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "forkd", got["username"])
	if !strings.HasPrefix(got["text"], "<!channel>") {
		t.Fatalf("critical events should mention the channel, got %q", got["text"])
	}
}

func TestSlackSinkErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no_service", http.StatusGone)
	}))
	defer server.Close()

	sink := NewSlackSink(http.DefaultClient, server.URL, "forkd")
	if err := sink.Send(forkd.Event{Outcome: forkd.OutcomeSuccess}); err == nil {
		t.Fatal("expected error")
	}
}

type sinkFunc func(forkd.Event) error

func (f sinkFunc) Send(e forkd.Event) error { return f(e) }

func TestTeeDeliversToAllSinks(t *testing.T) {
	var a, b int
	sink := Tee(
		sinkFunc(func(forkd.Event) error { a++; return nil }),
		sinkFunc(func(forkd.Event) error { b++; return errors.New("sink down") }),
	)
	err := sink.Send(forkd.Event{Outcome: forkd.OutcomeSuccess})
	if err == nil {
		t.Fatal("expected the failing sink's error to surface")
	}
	if a != 1 || b != 1 {
		t.Fatalf("expected both sinks called once, got %d and %d", a, b)
	}
}
