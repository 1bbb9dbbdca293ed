package snsgw

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/require"
)

func TestGatewayAccessors(t *testing.T) {
	gw := newTestGateway(t, newStubSNSClient(t))
	require.Equal(t, "us-east-1", gw.Region())
	require.Equal(t, DefaultAPIVersion, gw.APIVersion())
}

func TestCreateSubscription(t *testing.T) {
	client := newStubSNSClient(t)
	gw := newTestGateway(t, client)

	sub, err := gw.CreateSubscription(context.Background(), "https", "arn:aws:sns:us-east-1:123456789012:orders", "https://example.com/webhook")
	require.NoError(t, err)
	require.Equal(t, "https", sub.Protocol)
	require.Equal(t, "arn:aws:sns:us-east-1:123456789012:orders", sub.TopicARN)
	require.Equal(t, "https://example.com/webhook", sub.Endpoint)
	require.NotEmpty(t, sub.SubscriptionARN)
	require.Len(t, client.subscribeInputs, 1)
	require.Equal(t, "https", aws.ToString(client.subscribeInputs[0].Protocol))
	require.Equal(t, "https://example.com/webhook", aws.ToString(client.subscribeInputs[0].Endpoint))
}

func TestApplyManifest(t *testing.T) {
	client := newStubSNSClient(t)
	gw := newTestGateway(t, client)

	m := &Manifest{
		Topics: []*TopicManifest{
			{Name: "orders"},
			{Name: "payments"},
		},
		Subscriptions: []*SubscriptionManifest{
			{Topic: "orders", Protocol: "https", Endpoint: "https://example.com/webhook"},
		},
	}
	require.NoError(t, gw.ApplyManifest(context.Background(), m))
	require.Contains(t, client.topics, "orders")
	require.Contains(t, client.topics, "payments")
	require.Len(t, client.subscribeInputs, 1)
	require.Equal(t, "arn:aws:sns:us-east-1:123456789012:orders", aws.ToString(client.subscribeInputs[0].TopicArn))
}

func TestListRendersAllPages(t *testing.T) {
	client := newStubSNSClient(t)
	gw := newTestGateway(t, client)
	ctx := context.Background()

	_, err := gw.CreateTopic(ctx, "orders")
	require.NoError(t, err)
	_, err = gw.CreateTopic(ctx, "payments")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, gw.List(ctx, ListOption{Output: &buf}))
	require.Contains(t, buf.String(), "orders")
	require.Contains(t, buf.String(), "arn:aws:sns:us-east-1:123456789012:payments")
}

func TestWebhookEndToEnd(t *testing.T) {
	client := newStubSNSClient(t)
	tmpDir := t.TempDir()
	ctx := context.Background()
	storage, err := NewStorage(ctx, StorageOption{
		Type:     "file",
		DataFile: filepath.Join(tmpDir, "snsgw.dat"),
		LockFile: filepath.Join(tmpDir, "snsgw.lock"),
	})
	require.NoError(t, err)
	eventFile := filepath.Join(tmpDir, "snsgw-events.json")
	forwarder, err := NewForwarder(ctx, ForwardOption{
		Type:      "file",
		EventFile: eventFile,
	})
	require.NoError(t, err)
	env, err := NewFilterEnv()
	require.NoError(t, err)
	m, err := LoadManifest(ctx, "testdata/manifest.yaml", env)
	require.NoError(t, err)
	gw := newTestGateway(t, client,
		WithStorage(storage),
		WithForwarder(forwarder),
		WithManifest(m),
	)

	post := func(body string) {
		t.Helper()
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		rr := httptest.NewRecorder()
		gw.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)
	}
	countEvents := func() int {
		bs, err := os.ReadFile(eventFile)
		if os.IsNotExist(err) {
			return 0
		}
		require.NoError(t, err)
		return strings.Count(string(bs), "\n")
	}
	countDeliveries := func() int {
		itemsCh, err := storage.FindAllDeliveries(ctx)
		require.NoError(t, err)
		n := 0
		for items := range itemsCh {
			n += len(items)
		}
		return n
	}

	post(notificationBody)
	require.Equal(t, 1, countEvents())
	require.Equal(t, 1, countDeliveries())

	skipped := strings.Replace(notificationBody, `"Subject": "order created"`, `"Subject": "skip me"`, 1)
	post(skipped)
	require.Equal(t, 1, countEvents())
	require.Equal(t, 2, countDeliveries())

	post(subscriptionConfirmationBody)
	require.Equal(t, 1, countEvents())
	require.Equal(t, 3, countDeliveries())
	require.Equal(t, 1, client.confirmCalls())
}
