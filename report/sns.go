package report

import (
	"encoding/json"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/pkg/errors"

	"github.com/forkops/forkd"
)

// SNSSink publishes events to an SNS topic, which is where pager and
// mail subscriptions hang off.
type SNSSink struct {
	topicARN string
	svc      *sns.SNS
}

func NewSNSSink(p client.ConfigProvider, topicARN string) *SNSSink {
	return &SNSSink{
		topicARN: topicARN,
		svc:      sns.New(p),
	}
}

func (s *SNSSink) Send(e forkd.Event) error {
	body, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding notification")
	}
	_, err = s.svc.Publish(&sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String("forkd - " + e.Outcome),
		Message:  aws.String(string(body)),
	})
	return errors.Wrap(err, "publishing notification")
}
