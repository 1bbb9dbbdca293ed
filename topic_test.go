package snsgw

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/stretchr/testify/require"
)

func TestCreateTopicIdempotent(t *testing.T) {
	client := newStubSNSClient(t)
	gw := newTestGateway(t, client)
	ctx := context.Background()

	first, err := gw.CreateTopic(ctx, "orders")
	require.NoError(t, err)
	require.Equal(t, "orders", first.Name)
	require.Equal(t, "arn:aws:sns:us-east-1:123456789012:orders", first.ARN)

	second, err := gw.CreateTopic(ctx, "orders")
	require.NoError(t, err)
	require.Equal(t, first.ARN, second.ARN)
	require.Equal(t, 2, client.createCalls)
}

func TestGetTopicResolvesLikeCreate(t *testing.T) {
	client := newStubSNSClient(t)
	gw := newTestGateway(t, client)
	ctx := context.Background()

	created, err := gw.CreateTopic(ctx, "payments")
	require.NoError(t, err)
	resolved, err := gw.GetTopic(ctx, "payments")
	require.NoError(t, err)
	require.Equal(t, created.ARN, resolved.ARN)
}

func TestDeleteTopicResolvesThenDeletes(t *testing.T) {
	client := newStubSNSClient(t)
	gw := newTestGateway(t, client)
	ctx := context.Background()

	_, err := gw.CreateTopic(ctx, "orders")
	require.NoError(t, err)
	require.NoError(t, gw.DeleteTopic(ctx, "orders"))
	require.Len(t, client.deleteInputs, 1)
	require.Equal(t, "arn:aws:sns:us-east-1:123456789012:orders", aws.ToString(client.deleteInputs[0].TopicArn))
}

func TestDeleteTopicResolveFailureShortCircuits(t *testing.T) {
	client := newStubSNSClient(t)
	client.createErr = errors.New("backend unavailable")
	gw := newTestGateway(t, client)

	err := gw.DeleteTopic(context.Background(), "orders")
	require.ErrorContains(t, err, "backend unavailable")
	require.Empty(t, client.deleteInputs)
}

func TestListTopicsPagination(t *testing.T) {
	client := newStubSNSClient(t)
	client.listPages[""] = &sns.ListTopicsOutput{
		Topics: []types.Topic{
			{TopicArn: aws.String("arn:aws:sns:us-east-1:123456789012:orders")},
			{TopicArn: aws.String("arn:aws:sns:us-east-1:123456789012:payments")},
		},
		NextToken: aws.String("page2"),
	}
	client.listPages["page2"] = &sns.ListTopicsOutput{
		Topics: []types.Topic{
			{TopicArn: aws.String("arn:aws:sns:us-east-1:123456789012:shipments")},
		},
	}
	gw := newTestGateway(t, client)
	ctx := context.Background()

	page, err := gw.ListTopics(ctx, "")
	require.NoError(t, err)
	require.Equal(t, "page2", page.NextToken)
	require.Equal(t, []Topic{
		{Name: "orders", ARN: "arn:aws:sns:us-east-1:123456789012:orders"},
		{Name: "payments", ARN: "arn:aws:sns:us-east-1:123456789012:payments"},
	}, page.Topics)

	page, err = gw.ListTopics(ctx, page.NextToken)
	require.NoError(t, err)
	require.Empty(t, page.NextToken)
	require.Equal(t, []Topic{
		{Name: "shipments", ARN: "arn:aws:sns:us-east-1:123456789012:shipments"},
	}, page.Topics)
}

func TestTopicNameFromARN(t *testing.T) {
	require.Equal(t, "orders", topicNameFromARN("arn:aws:sns:us-east-1:123456789012:orders"))
	require.Equal(t, "orders", topicNameFromARN("orders"))
}
