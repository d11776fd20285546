package deploy

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/service/cloudformation"
	"github.com/pkg/errors"
)

// CloudFormation deploys by updating the sandbox stack in place,
// overriding the artifact parameter and keeping everything else as
// it was. Redeploying the previous artifact ref is how rollback
// works.
type CloudFormation struct {
	stack         string
	artifactParam string
	svc           *cloudformation.CloudFormation
}

func NewCloudFormation(p client.ConfigProvider, stack, artifactParam string) *CloudFormation {
	return &CloudFormation{
		stack:         stack,
		artifactParam: artifactParam,
		svc:           cloudformation.New(p),
	}
}

// Statuses from which an update may be started.
var stableStackStatuses = map[string]bool{
	cloudformation.StackStatusCreateComplete:         true,
	cloudformation.StackStatusUpdateComplete:         true,
	cloudformation.StackStatusUpdateRollbackComplete: true,
}

func (c *CloudFormation) Apply(ctx context.Context, artifactRef string) (string, error) {
	stack, err := c.describe(ctx)
	if err != nil {
		return "", err
	}
	status := aws.StringValue(stack.StackStatus)
	if !stableStackStatuses[status] {
		// Applying over a half-done update would make the mixed state
		// worse.
		return "", errors.Errorf("stack %s is in %s state, refusing to update", c.stack, status)
	}

	var params []*cloudformation.Parameter
	seen := false
	for _, p := range stack.Parameters {
		if aws.StringValue(p.ParameterKey) == c.artifactParam {
			params = append(params, &cloudformation.Parameter{
				ParameterKey:   p.ParameterKey,
				ParameterValue: aws.String(artifactRef),
			})
			seen = true
			continue
		}
		params = append(params, &cloudformation.Parameter{
			ParameterKey:     p.ParameterKey,
			UsePreviousValue: aws.Bool(true),
		})
	}
	if !seen {
		params = append(params, &cloudformation.Parameter{
			ParameterKey:   aws.String(c.artifactParam),
			ParameterValue: aws.String(artifactRef),
		})
	}

	_, err = c.svc.UpdateStackWithContext(ctx, &cloudformation.UpdateStackInput{
		StackName:           aws.String(c.stack),
		UsePreviousTemplate: aws.Bool(true),
		Parameters:          params,
		Capabilities: aws.StringSlice([]string{
			cloudformation.CapabilityCapabilityIam,
			cloudformation.CapabilityCapabilityNamedIam,
			cloudformation.CapabilityCapabilityAutoExpand,
		}),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok &&
			aerr.Code() == "ValidationError" &&
			strings.Contains(aerr.Message(), "No updates are to be performed") {
			return "", ErrNoChanges
		}
		return "", errors.Wrapf(err, "updating stack %s", c.stack)
	}
	return c.stack, nil
}

func (c *CloudFormation) Status(ctx context.Context, id string) (Status, error) {
	stack, err := c.describe(ctx)
	if err != nil {
		return Status{}, err
	}
	status := aws.StringValue(stack.StackStatus)
	switch status {
	case cloudformation.StackStatusUpdateComplete:
		s := Status{Done: true, Succeeded: true}
		for _, p := range stack.Parameters {
			if aws.StringValue(p.ParameterKey) == c.artifactParam {
				s.DeployedRef = aws.StringValue(p.ParameterValue)
			}
		}
		return s, nil
	case cloudformation.StackStatusUpdateFailed,
		cloudformation.StackStatusUpdateRollbackComplete,
		cloudformation.StackStatusUpdateRollbackFailed:
		reasons, _ := c.failureReasons(ctx)
		return Status{
			Done:   true,
			Reason: fmt.Sprintf("stack update finished with status %s: %s", status, strings.Join(reasons, "; ")),
		}, nil
	}
	return Status{}, nil
}

func (c *CloudFormation) describe(ctx context.Context) (*cloudformation.Stack, error) {
	out, err := c.svc.DescribeStacksWithContext(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(c.stack),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "describing stack %s", c.stack)
	}
	if len(out.Stacks) == 0 {
		return nil, errors.Errorf("stack %s not found", c.stack)
	}
	return out.Stacks[0], nil
}

// failureReasons picks the first few failed resource events, which is
// usually where the actual cause is.
func (c *CloudFormation) failureReasons(ctx context.Context) ([]string, error) {
	out, err := c.svc.DescribeStackEventsWithContext(ctx, &cloudformation.DescribeStackEventsInput{
		StackName: aws.String(c.stack),
	})
	if err != nil {
		return nil, err
	}
	var reasons []string
	for _, e := range out.StackEvents {
		if !strings.Contains(aws.StringValue(e.ResourceStatus), "FAILED") {
			continue
		}
		reasons = append(reasons, fmt.Sprintf("%s: %s",
			aws.StringValue(e.LogicalResourceId),
			aws.StringValue(e.ResourceStatusReason)))
		if len(reasons) == 3 {
			break
		}
	}
	return reasons, nil
}
