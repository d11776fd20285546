package build

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/service/codebuild"
	"github.com/pkg/errors"

	"github.com/forkops/forkd"
)

// CodeBuild starts the merge/build project with the candidate version
// passed in via environment overrides.
type CodeBuild struct {
	project string
	svc     *codebuild.CodeBuild
}

func NewCodeBuild(p client.ConfigProvider, project string) *CodeBuild {
	return &CodeBuild{
		project: project,
		svc:     codebuild.New(p),
	}
}

func (c *CodeBuild) Start(ctx context.Context, candidate forkd.Release) (string, error) {
	out, err := c.svc.StartBuildWithContext(ctx, &codebuild.StartBuildInput{
		ProjectName: aws.String(c.project),
		EnvironmentVariablesOverride: []*codebuild.EnvironmentVariable{
			{Name: aws.String("TARGET_VERSION"), Value: aws.String(candidate.Version), Type: aws.String("PLAINTEXT")},
			{Name: aws.String("RELEASE_URL"), Value: aws.String(candidate.URL), Type: aws.String("PLAINTEXT")},
		},
	})
	if err != nil {
		return "", errors.Wrapf(err, "starting build for project %s", c.project)
	}
	return aws.StringValue(out.Build.Id), nil
}

func (c *CodeBuild) Status(ctx context.Context, id string) (Status, error) {
	out, err := c.svc.BatchGetBuildsWithContext(ctx, &codebuild.BatchGetBuildsInput{
		Ids: []*string{aws.String(id)},
	})
	if err != nil {
		return Status{}, errors.Wrap(err, "getting build status")
	}
	if len(out.Builds) == 0 {
		return Status{}, errors.Errorf("build %s not found", id)
	}
	b := out.Builds[0]
	status := aws.StringValue(b.BuildStatus)

	s := Status{Done: terminalBuildStatus(status)}
	if b.Logs != nil {
		s.LogRef = fmt.Sprintf("%s/%s", aws.StringValue(b.Logs.GroupName), aws.StringValue(b.Logs.StreamName))
	}
	if !s.Done {
		return s, nil
	}
	if status == codebuild.StatusTypeSucceeded {
		s.Succeeded = true
		if b.Artifacts != nil {
			s.ArtifactRef = aws.StringValue(b.Artifacts.Location)
		}
	} else {
		s.Reason = fmt.Sprintf("merge/build finished with status %s", status)
	}
	return s, nil
}

func terminalBuildStatus(status string) bool {
	switch status {
	case codebuild.StatusTypeSucceeded,
		codebuild.StatusTypeFailed,
		codebuild.StatusTypeFault,
		codebuild.StatusTypeStopped,
		codebuild.StatusTypeTimedOut:
		return true
	}
	return false
}
