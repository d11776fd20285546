package smoketest

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/service/sfn"
	"github.com/pkg/errors"
)

// StepFunctions runs the workload's state machine with the fixture as
// input.
type StepFunctions struct {
	stateMachineARN string
	svc             *sfn.SFN
}

func NewStepFunctions(p client.ConfigProvider, stateMachineARN string) *StepFunctions {
	return &StepFunctions{
		stateMachineARN: stateMachineARN,
		svc:             sfn.New(p),
	}
}

type workloadInput struct {
	FixtureRef      string `json:"fixture_ref"`
	UpstreamVersion string `json:"upstream_version"`
	Trigger         string `json:"trigger"`
}

func (s *StepFunctions) Start(ctx context.Context, fixtureRef, version string) (string, error) {
	input, err := json.Marshal(workloadInput{
		FixtureRef:      fixtureRef,
		UpstreamVersion: version,
		Trigger:         "forkd",
	})
	if err != nil {
		return "", errors.Wrap(err, "encoding workload input")
	}
	out, err := s.svc.StartExecutionWithContext(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(s.stateMachineARN),
		Input:           aws.String(string(input)),
	})
	if err != nil {
		return "", errors.Wrap(err, "starting workload execution")
	}
	return aws.StringValue(out.ExecutionArn), nil
}

func (s *StepFunctions) Status(ctx context.Context, id string) (Status, error) {
	out, err := s.svc.DescribeExecutionWithContext(ctx, &sfn.DescribeExecutionInput{
		ExecutionArn: aws.String(id),
	})
	if err != nil {
		return Status{}, errors.Wrap(err, "describing workload execution")
	}
	status := aws.StringValue(out.Status)
	st := Status{DiagnosticsRef: id}
	switch status {
	case sfn.ExecutionStatusRunning:
		return st, nil
	case sfn.ExecutionStatusSucceeded:
		st.Done = true
		st.Succeeded = true
		// A workload that completes but records a task failure in its
		// own history has still failed.
		internal, err := s.historyHasFailure(ctx, id)
		if err != nil {
			return Status{}, err
		}
		st.InternalFailure = internal
		return st, nil
	default:
		// FAILED, TIMED_OUT, ABORTED
		st.Done = true
		return st, nil
	}
}

func (s *StepFunctions) historyHasFailure(ctx context.Context, id string) (bool, error) {
	out, err := s.svc.GetExecutionHistoryWithContext(ctx, &sfn.GetExecutionHistoryInput{
		ExecutionArn: aws.String(id),
		ReverseOrder: aws.Bool(true),
		MaxResults:   aws.Int64(100),
	})
	if err != nil {
		return false, errors.Wrap(err, "reading workload execution history")
	}
	for _, e := range out.Events {
		if e.TaskFailedEventDetails != nil || e.LambdaFunctionFailedEventDetails != nil {
			return true, nil
		}
	}
	return false, nil
}
