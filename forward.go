package snsgw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/Songmu/flextime"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
)

// ForwardOption contains configuration for downstream delivery of accepted
// notifications.
//
// Supported forwarder types:
//   - "eventbridge": Sends events to Amazon EventBridge (recommended for production)
//   - "file": Appends events to a local NDJSON file (suitable for development)
type ForwardOption struct {
	Type      string `help:"forwarder type" default:"eventbridge" enum:"eventbridge,file" env:"SNSGW_FORWARD_TYPE"`
	EventBus  string `help:"event bus name (eventbridge type only)" default:"default" env:"SNSGW_EVENTBRIDGE_EVENT_BUS"`
	EventFile string `help:"event file path (file type only)" default:"snsgw-events.json" env:"SNSGW_EVENT_FILE"`
}

// Forwarder delivers dispatched webhook results to a downstream system.
type Forwarder interface {
	Forward(context.Context, []*WebhookResult) error
}

// NewForwarder creates a Forwarder implementation based on the configuration
// type. Returns [EventBridgeForwarder] for "eventbridge" or [FileForwarder]
// for "file".
func NewForwarder(ctx context.Context, cfg ForwardOption) (Forwarder, error) {
	switch cfg.Type {
	case "eventbridge":
		return NewEventBridgeForwarder(ctx, cfg)
	case "file":
		return NewFileForwarder(ctx, cfg)
	}
	return nil, errors.New("unknown forwarder type")
}

// EventBridgeClient is the interface for Amazon EventBridge operations.
// This is satisfied by *eventbridge.Client.
type EventBridgeClient interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgeForwarder implements Forwarder using Amazon EventBridge. Each
// webhook result becomes one event; entries are sent in PutEvents batches of
// at most ten.
type EventBridgeForwarder struct {
	client   EventBridgeClient
	eventBus string
}

// NewEventBridgeForwarder creates a new EventBridge-based forwarder.
func NewEventBridgeForwarder(_ context.Context, cfg ForwardOption) (*EventBridgeForwarder, error) {
	awsCfg, err := loadAWSConfig()
	if err != nil {
		return nil, err
	}
	return &EventBridgeForwarder{
		client:   eventbridge.NewFromConfig(awsCfg),
		eventBus: cfg.EventBus,
	}, nil
}

func (f *EventBridgeForwarder) Forward(ctx context.Context, results []*WebhookResult) error {
	convertor := func(result *WebhookResult) types.PutEventsRequestEntry {
		var t time.Time
		if result.Payload != nil && result.Payload.Timestamp != "" {
			var err error
			t, err = time.Parse(time.RFC3339Nano, result.Payload.Timestamp)
			if err != nil {
				slog.WarnContext(ctx, "timestamp parse failed", "timestamp", result.Payload.Timestamp, "error", err)
				t = flextime.Now()
			}
		} else {
			t = flextime.Now()
		}
		bs, err := json.Marshal(result)
		if err != nil {
			slog.WarnContext(ctx, "result marshal failed", "error", err)
			bs = []byte("{}")
		}
		source := "oss.snsgw"
		if result.Payload != nil && result.Payload.TopicARN != "" {
			source = fmt.Sprintf("oss.snsgw/%s", topicNameFromARN(result.Payload.TopicARN))
		}
		return types.PutEventsRequestEntry{
			EventBusName: aws.String(f.eventBus),
			Resources:    []string{},
			Source:       aws.String(source),
			DetailType:   aws.String(detailType(result)),
			Time:         aws.Time(t),
			Detail:       aws.String(string(bs)),
		}
	}
	var lastErr error
	for entries := range slices.Chunk(Map(results, convertor), 10) {
		output, err := f.client.PutEvents(ctx, &eventbridge.PutEventsInput{
			Entries: entries,
		})
		if err != nil {
			slog.ErrorContext(ctx, "PutEvents failed", "error", err)
			lastErr = err
			continue
		}
		for i, entry := range output.Entries {
			if entry.ErrorCode != nil {
				slog.ErrorContext(ctx, "put event error", "event_bus", f.eventBus, "error_code", *entry.ErrorCode, "error_message", *entry.ErrorMessage, "detail", *entries[i].Detail)
				lastErr = fmt.Errorf("put events failed error_code=%s, error_message=%s", *entry.ErrorCode, *entry.ErrorMessage)
				continue
			}
			if entry.EventId != nil {
				slog.InfoContext(ctx, "put event", "event_bus", f.eventBus, "event_id", *entry.EventId)
			}
		}
	}
	return lastErr
}

// FileForwarder implements Forwarder by appending results to a local file as
// newline-delimited JSON.
type FileForwarder struct {
	eventFile string
}

// NewFileForwarder creates a new file-based forwarder.
func NewFileForwarder(_ context.Context, cfg ForwardOption) (*FileForwarder, error) {
	return &FileForwarder{
		eventFile: cfg.EventFile,
	}, nil
}

func (f *FileForwarder) Forward(ctx context.Context, results []*WebhookResult) error {
	fp, err := os.OpenFile(f.eventFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	defer fp.Close()
	encoder := json.NewEncoder(fp)
	var lastErr error
	for _, result := range results {
		if err := encoder.Encode(result); err != nil {
			lastErr = err
			slog.WarnContext(ctx, "FileForwarder.Forward", "error", err)
		}
	}
	return lastErr
}
