package snsgw

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/fujiwara/ridge"
	"github.com/gorilla/mux"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/sync/errgroup"
)

// Gateway is the pub/sub notification gateway facade. It manages topics on
// the messaging backend, publishes structured messages, and dispatches
// inbound webhook callbacks.
//
// One Gateway owns one backend client; all operations share it. The gateway
// holds no mutable state after construction, so its operations may be called
// concurrently.
type Gateway struct {
	client     SNSClient
	region     string
	apiVersion string
	router     *mux.Router
	storage    Storage
	forwarder  Forwarder
	manifest   *Manifest
	cleanupFns []func() error
}

// WithSNSClient injects a backend client. Primarily for tests; when omitted,
// New builds a real client from the gateway option.
func WithSNSClient(client SNSClient) func(*Gateway) error {
	return func(gw *Gateway) error {
		gw.client = client
		return nil
	}
}

// WithStorage attaches a delivery log storage backend.
func WithStorage(storage Storage) func(*Gateway) error {
	return func(gw *Gateway) error {
		gw.storage = storage
		return nil
	}
}

// WithForwarder attaches a downstream forwarder for accepted notifications.
func WithForwarder(forwarder Forwarder) func(*Gateway) error {
	return func(gw *Gateway) error {
		gw.forwarder = forwarder
		return nil
	}
}

// WithManifest attaches a manifest whose forward rules gate the forwarder.
func WithManifest(m *Manifest) func(*Gateway) error {
	return func(gw *Gateway) error {
		gw.manifest = m
		return nil
	}
}

// New validates opt and constructs a Gateway. On a *ConfigError no backend
// client is created and no gateway is returned.
func New(opt GatewayOption, optFns ...func(*Gateway) error) (*Gateway, error) {
	if err := opt.Restrict(); err != nil {
		return nil, err
	}
	gw := &Gateway{
		region:     opt.Region,
		apiVersion: opt.APIVersion,
		router:     mux.NewRouter(),
		cleanupFns: make([]func() error, 0),
	}
	for _, optFn := range optFns {
		if err := optFn(gw); err != nil {
			return nil, err
		}
	}
	if gw.client == nil {
		client, err := newSNSClient(context.Background(), opt)
		if err != nil {
			return nil, fmt.Errorf("create SNS client: %w", err)
		}
		gw.client = client
	}
	gw.setupRoute()
	return gw, nil
}

// Region returns the configured backend region.
func (gw *Gateway) Region() string {
	return gw.region
}

// APIVersion returns the configured backend API version.
func (gw *Gateway) APIVersion() string {
	return gw.apiVersion
}

// Close runs the registered cleanup functions in parallel.
func (gw *Gateway) Close() error {
	eg, _ := errgroup.WithContext(context.Background())
	for _, cleanup := range gw.cleanupFns {
		eg.Go(cleanup)
	}
	return eg.Wait()
}

// ServeOption contains options for the serve command.
type ServeOption struct {
	Port int `help:"webhook httpd port" default:"25253" env:"SNSGW_PORT"`
}

// Serve runs the webhook HTTP server until ctx is canceled. On AWS Lambda
// ridge takes over the runtime loop instead of listening locally.
func (gw *Gateway) Serve(ctx context.Context, opt ServeOption) error {
	slog.InfoContext(ctx, "starting webhook server", "port", opt.Port, "region", gw.region)
	ridge.RunWithContext(ctx, fmt.Sprintf(":%d", opt.Port), "/", gw)
	return nil
}

// Subscription describes a created subscription.
type Subscription struct {
	SubscriptionARN string `json:"subscriptionArn"`
	TopicARN        string `json:"topicArn"`
	Protocol        string `json:"protocol"`
	Endpoint        string `json:"endpoint"`
}

// CreateSubscription subscribes endpoint to the topic with the given
// protocol. Backend errors propagate verbatim.
func (gw *Gateway) CreateSubscription(ctx context.Context, protocol string, topicARN string, endpoint string) (*Subscription, error) {
	output, err := gw.client.Subscribe(ctx, &sns.SubscribeInput{
		Protocol: aws.String(protocol),
		TopicArn: aws.String(topicARN),
		Endpoint: aws.String(endpoint),
	})
	if err != nil {
		return nil, err
	}
	sub := &Subscription{
		TopicARN: topicARN,
		Protocol: protocol,
		Endpoint: endpoint,
	}
	if output.SubscriptionArn != nil {
		sub.SubscriptionARN = *output.SubscriptionArn
	}
	return sub, nil
}

// ListOption contains options for the list command.
type ListOption struct {
	Output io.Writer `kong:"-"`
}

// List renders all topics as a table, following pagination tokens until the
// backend reports no more pages.
func (gw *Gateway) List(ctx context.Context, opt ListOption) error {
	w := opt.Output
	if w == nil {
		w = os.Stdout
	}
	table := tablewriter.NewWriter(w)
	table.Header("Name", "ARN")
	token := ""
	for {
		page, err := gw.ListTopics(ctx, token)
		if err != nil {
			return fmt.Errorf("list topics: %w", err)
		}
		for _, topic := range page.Topics {
			table.Append([]string{topic.Name, topic.ARN})
		}
		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}
	return table.Render()
}

// DeliveriesOption contains options for the deliveries command.
type DeliveriesOption struct {
	Output io.Writer `kong:"-"`
}

// Deliveries renders the recorded webhook deliveries as a table.
func (gw *Gateway) Deliveries(ctx context.Context, opt DeliveriesOption) error {
	if gw.storage == nil {
		return fmt.Errorf("delivery log storage is not configured")
	}
	w := opt.Output
	if w == nil {
		w = os.Stdout
	}
	itemsCh, err := gw.storage.FindAllDeliveries(ctx)
	if err != nil {
		return fmt.Errorf("find all deliveries: %w", err)
	}
	table := tablewriter.NewWriter(w)
	table.Header("Delivery ID", "Kind", "Message ID", "Topic ARN", "Subject", "Received At")
	for items := range itemsCh {
		for _, item := range items {
			table.Append([]string{
				item.DeliveryID,
				item.Kind,
				item.MessageID,
				item.TopicARN,
				item.Subject,
				item.ReceivedAt.Format(time.RFC3339),
			})
		}
	}
	return table.Render()
}
