package snsgw

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// Topic is a named channel on the backend. The ARN is backend-assigned on
// creation; the name is caller-supplied and unique per account/region.
type Topic struct {
	Name string `json:"name"`
	ARN  string `json:"arn"`
}

// TopicPage is one page of a topic listing. NextToken is an opaque
// continuation cursor; empty means the listing is exhausted.
type TopicPage struct {
	Topics    []Topic `json:"topics"`
	NextToken string  `json:"nextToken,omitempty"`
}

// CreateTopic creates a topic. The backend create is idempotent: requesting
// an existing name returns the existing ARN rather than erroring. Backend
// errors propagate verbatim.
func (gw *Gateway) CreateTopic(ctx context.Context, name string) (*Topic, error) {
	output, err := gw.client.CreateTopic(ctx, &sns.CreateTopicInput{
		Name: aws.String(name),
	})
	if err != nil {
		return nil, err
	}
	topic := &Topic{Name: name}
	if output.TopicArn != nil {
		topic.ARN = *output.TopicArn
	}
	return topic, nil
}

// GetTopic resolves a topic name to its ARN. It is intentionally identical
// to [Gateway.CreateTopic]; the two names exist so call sites can express
// "resolve this name" versus "ensure this topic exists".
func (gw *Gateway) GetTopic(ctx context.Context, name string) (*Topic, error) {
	return gw.CreateTopic(ctx, name)
}

// DeleteTopic resolves name to its ARN, then deletes the topic. If the
// resolve fails the delete is never attempted and the resolve error
// propagates. Deletion cascades to the topic's subscriptions on the backend
// side; there is no local compensation or retry.
func (gw *Gateway) DeleteTopic(ctx context.Context, name string) error {
	topic, err := gw.GetTopic(ctx, name)
	if err != nil {
		return err
	}
	_, err = gw.client.DeleteTopic(ctx, &sns.DeleteTopicInput{
		TopicArn: aws.String(topic.ARN),
	})
	return err
}

// ListTopics returns one page of topics. Pass the NextToken of a previous
// page to continue; an empty token requests the first page.
func (gw *Gateway) ListTopics(ctx context.Context, token string) (*TopicPage, error) {
	input := &sns.ListTopicsInput{}
	if token != "" {
		input.NextToken = aws.String(token)
	}
	output, err := gw.client.ListTopics(ctx, input)
	if err != nil {
		return nil, err
	}
	page := &TopicPage{
		Topics: make([]Topic, 0, len(output.Topics)),
	}
	for _, t := range output.Topics {
		if t.TopicArn == nil {
			continue
		}
		page.Topics = append(page.Topics, Topic{
			Name: topicNameFromARN(*t.TopicArn),
			ARN:  *t.TopicArn,
		})
	}
	if output.NextToken != nil {
		page.NextToken = *output.NextToken
	}
	return page, nil
}

// topicNameFromARN extracts the trailing resource name from a topic ARN.
func topicNameFromARN(arn string) string {
	if i := strings.LastIndex(arn, ":"); i >= 0 {
		return arn[i+1:]
	}
	return arn
}
