package snsgw

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

const notificationBody = `{
	"Type": "Notification",
	"MessageId": "da41e39f-ea4d-435a-b922-c6aae3915ebe",
	"TopicArn": "arn:aws:sns:us-east-1:123456789012:orders",
	"Subject": "order created",
	"Message": "{\"orderId\":42}",
	"Timestamp": "2024-06-01T12:00:00.000Z",
	"SignatureVersion": "1",
	"Signature": "EXAMPLEpH+..",
	"SigningCertURL": "https://sns.us-east-1.amazonaws.com/SimpleNotificationService-abc.pem",
	"UnsubscribeURL": "https://sns.us-east-1.amazonaws.com/?Action=Unsubscribe"
}`

const subscriptionConfirmationBody = `{
	"Type": "SubscriptionConfirmation",
	"MessageId": "165545c9-2a5c-472c-8df2-7ff2be2b3b1b",
	"Token": "T1",
	"TopicArn": "arn:1",
	"SubscribeURL": "https://sns.us-east-1.amazonaws.com/?Action=ConfirmSubscription",
	"Timestamp": "2024-06-01T12:00:00.000Z",
	"SignatureVersion": "1",
	"Signature": "EXAMPLEpH+..",
	"SigningCertURL": "https://sns.us-east-1.amazonaws.com/SimpleNotificationService-abc.pem"
}`

func TestDispatchWebhookNotification(t *testing.T) {
	client := newStubSNSClient(t)
	gw := newTestGateway(t, client)

	result, err := gw.DispatchWebhook(context.Background(), strings.NewReader(notificationBody))
	require.NoError(t, err)
	require.Equal(t, PayloadTypeNotification, result.Kind)
	require.Equal(t, "da41e39f-ea4d-435a-b922-c6aae3915ebe", result.Payload.MessageID)
	require.Equal(t, "arn:aws:sns:us-east-1:123456789012:orders", result.Payload.TopicARN)
	require.Equal(t, "order created", result.Payload.Subject)
	require.Equal(t, `{"orderId":42}`, result.Payload.Message)
	require.Empty(t, result.SubscriptionARN)
	require.Zero(t, client.confirmCalls())
	require.Zero(t, client.publishCalls())

	g := goldie.New(t, goldie.WithFixtureDir("testdata"), goldie.WithNameSuffix(".golden.json"))
	bs, err := json.Marshal(result)
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(bs, &m))
	g.AssertJson(t, "notification", m)
}

func TestDispatchWebhookSubscriptionConfirmation(t *testing.T) {
	client := newStubSNSClient(t)
	gw := newTestGateway(t, client)

	result, err := gw.DispatchWebhook(context.Background(), strings.NewReader(subscriptionConfirmationBody))
	require.NoError(t, err)
	require.Equal(t, PayloadTypeSubscriptionConfirmation, result.Kind)
	require.Equal(t, "arn:1:8a21d249-4329-4871-acc6-7be709c6ea7b", result.SubscriptionARN)
	require.Len(t, client.confirmInputs, 1)
	require.Equal(t, "T1", aws.ToString(client.confirmInputs[0].Token))
	require.Equal(t, "arn:1", aws.ToString(client.confirmInputs[0].TopicArn))

	g := goldie.New(t, goldie.WithFixtureDir("testdata"), goldie.WithNameSuffix(".golden.json"))
	bs, err := json.Marshal(result)
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(bs, &m))
	g.AssertJson(t, "subscription_confirmation", m)
}

func TestDispatchWebhookConfirmationBackendError(t *testing.T) {
	client := newStubSNSClient(t)
	client.confirmErr = errors.New("invalid token")
	gw := newTestGateway(t, client)

	result, err := gw.DispatchWebhook(context.Background(), strings.NewReader(subscriptionConfirmationBody))
	require.Nil(t, result)
	require.ErrorContains(t, err, "invalid token")
	require.Equal(t, 1, client.confirmCalls())
}

func TestDispatchWebhookMalformedBody(t *testing.T) {
	client := newStubSNSClient(t)
	gw := newTestGateway(t, client)

	result, err := gw.DispatchWebhook(context.Background(), strings.NewReader(`{"Type": "Notifica`))
	require.Nil(t, result)
	var parseErr *PayloadParseError
	require.ErrorAs(t, err, &parseErr)
	require.Zero(t, client.confirmCalls())
}

func TestDispatchWebhookUnrecognizedType(t *testing.T) {
	cases := []struct {
		name string
		body string
		typ  string
	}{
		{name: "unknown type", body: `{"Type": "UnsubscribeConfirmation"}`, typ: "UnsubscribeConfirmation"},
		{name: "missing type", body: `{"MessageId": "x"}`, typ: ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			client := newStubSNSClient(t)
			gw := newTestGateway(t, client)
			result, err := gw.DispatchWebhook(context.Background(), strings.NewReader(c.body))
			require.Nil(t, result)
			var typeErr *UnrecognizedPayloadType
			require.ErrorAs(t, err, &typeErr)
			require.Equal(t, c.typ, typeErr.Type)
			require.Zero(t, client.confirmCalls())
		})
	}
}

func TestDispatchWebhookConcurrent(t *testing.T) {
	client := newStubSNSClient(t)
	gw := newTestGateway(t, client)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := gw.DispatchWebhook(ctx, strings.NewReader(subscriptionConfirmationBody))
			require.NoError(t, err)
			require.Equal(t, PayloadTypeSubscriptionConfirmation, result.Kind)
		}()
	}
	wg.Wait()
	require.Equal(t, 10, client.confirmCalls())
}

func TestHandleWebhookAlwaysAcknowledges(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{name: "notification", body: notificationBody},
		{name: "subscription confirmation", body: subscriptionConfirmationBody},
		{name: "malformed", body: `not json at all`},
		{name: "unknown type", body: `{"Type": "Mystery"}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			client := newStubSNSClient(t)
			gw := newTestGateway(t, client)
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(c.body))
			rr := httptest.NewRecorder()
			gw.ServeHTTP(rr, req)
			require.Equal(t, http.StatusOK, rr.Code)
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	gw := newTestGateway(t, newStubSNSClient(t))
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	gw.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
}
