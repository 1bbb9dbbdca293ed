package snsgw

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	"github.com/mashiike/slogutils"
)

// CLI is the command-line interface for snsgw.
//
// Use the Run method to execute the CLI:
//
//	var cli snsgw.CLI
//	ctx := context.Background()
//	exitCode := cli.Run(ctx)
//
// Available commands:
//   - serve: Start the webhook server (default)
//   - publish: Publish a structured message to a topic or target
//   - create: Create a topic
//   - delete: Delete a topic
//   - list: List topics
//   - subscribe: Subscribe an endpoint to a topic
//   - deliveries: List recorded webhook deliveries
//   - sync: Apply the manifest (ensure topics and subscriptions)
//   - validate: Validate a manifest file
type CLI struct {
	LogLevel  string           `help:"log level" default:"info" env:"SNSGW_LOG_LEVEL"`
	LogFormat string           `help:"log format" default:"text" enum:"text,json" env:"SNSGW_LOG_FORMAT"`
	LogColor  bool             `help:"enable color output" default:"true" env:"SNSGW_LOG_COLOR" negatable:""`
	Version   kong.VersionFlag `help:"show version"`
	Gateway   GatewayOption    `embed:""`
	Storage   StorageOption    `embed:"" prefix:"storage-"`
	Forward   ForwardOption    `embed:"" prefix:"forward-"`
	Manifest  string           `help:"path to manifest file (file, http(s) or s3 URL)" env:"SNSGW_MANIFEST"`

	Serve      ServeOption      `cmd:"" help:"serve webhook server" default:"true"`
	Publish    PublishOption    `cmd:"" help:"publish a structured message"`
	Create     CreateOption     `cmd:"" help:"create a topic"`
	Delete     DeleteOption     `cmd:"" help:"delete a topic and its subscriptions"`
	List       ListOption       `cmd:"" help:"list topics"`
	Subscribe  SubscribeOption  `cmd:"" help:"subscribe an endpoint to a topic"`
	Deliveries DeliveriesOption `cmd:"" help:"list recorded webhook deliveries"`
	Sync       SyncOption       `cmd:"" help:"ensure manifest topics and subscriptions exist"`
	Validate   ValidateOption   `cmd:"" help:"validate a manifest file"`
}

// PublishOption contains options for the publish command.
type PublishOption struct {
	Topic   string `help:"destination topic arn" xor:"destination"`
	Target  string `help:"destination target arn" xor:"destination"`
	Payload string `arg:"" optional:"" help:"JSON object payload (reads stdin when omitted)"`
}

// CreateOption contains options for the create command.
type CreateOption struct {
	Name string `arg:"" help:"topic name"`
}

// DeleteOption contains options for the delete command.
type DeleteOption struct {
	Name string `arg:"" help:"topic name"`
}

// SubscribeOption contains options for the subscribe command.
type SubscribeOption struct {
	Topic    string `help:"topic name" required:""`
	Protocol string `help:"subscription protocol" default:"https" enum:"http,https,email,sqs,lambda"`
	Endpoint string `help:"subscription endpoint" required:""`
}

// SyncOption contains options for the sync command.
type SyncOption struct {
}

// ValidateOption contains options for the validate command.
type ValidateOption struct {
	Manifest string `arg:"" name:"manifest-file" optional:"" help:"path to manifest file (overrides --manifest)"`
}

// Run parses command-line arguments and executes the appropriate command.
// Returns 0 on success, 1 on error.
func (c *CLI) Run(ctx context.Context) int {
	k := kong.Parse(c,
		kong.Name("snsgw"),
		kong.Description("snsgw is a pub/sub notification gateway for Amazon SNS."),
		kong.UsageOnError(),
		kong.Vars{"version": Version},
	)
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(c.LogLevel)); err != nil {
		k.Fatalf("invalid log level: %s", c.LogLevel)
	}
	logger := newLogger(logLevel, c.LogFormat, c.LogColor)
	slog.SetDefault(logger)
	if err := c.run(ctx, k); err != nil {
		slog.Error("runtime error", "details", err)
		return 1
	}
	return 0
}

func (c *CLI) run(ctx context.Context, k *kong.Context) error {
	cmd := k.Command()
	if cmd == "version" {
		fmt.Printf("snsgw version %s\n", Version)
		return nil
	}
	// validate command doesn't need a gateway
	if cmd == "validate" || cmd == "validate <manifest-file>" {
		return c.runValidate(ctx)
	}
	gw, err := c.newGateway(ctx)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer func() {
		if err := gw.Close(); err != nil {
			slog.WarnContext(ctx, "gateway cleanup error", "details", err)
		}
	}()
	switch cmd {
	case "serve", "":
		return gw.Serve(ctx, c.Serve)
	case "publish", "publish <payload>":
		return c.runPublish(ctx, gw)
	case "create <name>":
		topic, err := gw.CreateTopic(ctx, c.Create.Name)
		if err != nil {
			return err
		}
		fmt.Println(topic.ARN)
		return nil
	case "delete <name>":
		return gw.DeleteTopic(ctx, c.Delete.Name)
	case "list":
		return gw.List(ctx, c.List)
	case "subscribe":
		return c.runSubscribe(ctx, gw)
	case "deliveries":
		return gw.Deliveries(ctx, c.Deliveries)
	case "sync":
		return c.runSync(ctx, gw)
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func (c *CLI) newGateway(ctx context.Context) (*Gateway, error) {
	storage, err := NewStorage(ctx, c.Storage)
	if err != nil {
		return nil, fmt.Errorf("create Storage: %w", err)
	}
	forwarder, err := NewForwarder(ctx, c.Forward)
	if err != nil {
		return nil, fmt.Errorf("create Forwarder: %w", err)
	}
	optFns := []func(*Gateway) error{
		WithStorage(storage),
		WithForwarder(forwarder),
	}
	if c.Manifest != "" {
		m, err := c.loadManifest(ctx, c.Manifest)
		if err != nil {
			return nil, err
		}
		optFns = append(optFns, WithManifest(m))
	}
	return New(c.Gateway, optFns...)
}

func (c *CLI) loadManifest(ctx context.Context, path string) (*Manifest, error) {
	env, err := NewFilterEnv()
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	m, err := LoadManifest(ctx, path, env)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	return m, nil
}

func (c *CLI) runPublish(ctx context.Context, gw *Gateway) error {
	raw := c.Publish.Payload
	if raw == "" {
		bs, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read payload from stdin: %w", err)
		}
		raw = string(bs)
	}
	result, err := gw.Publish(ctx, OutboundMessage{
		Payload:   json.RawMessage(raw),
		TopicARN:  c.Publish.Topic,
		TargetARN: c.Publish.Target,
	})
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "published", "message_id", result.MessageID)
	fmt.Println(result.MessageID)
	return nil
}

func (c *CLI) runSubscribe(ctx context.Context, gw *Gateway) error {
	topic, err := gw.GetTopic(ctx, c.Subscribe.Topic)
	if err != nil {
		return fmt.Errorf("resolve topic %s: %w", c.Subscribe.Topic, err)
	}
	sub, err := gw.CreateSubscription(ctx, c.Subscribe.Protocol, topic.ARN, c.Subscribe.Endpoint)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "subscribed",
		"topic", c.Subscribe.Topic,
		"protocol", sub.Protocol,
		"endpoint", sub.Endpoint,
		"subscription_arn", sub.SubscriptionARN,
	)
	fmt.Println(sub.SubscriptionARN)
	return nil
}

func (c *CLI) runSync(ctx context.Context, gw *Gateway) error {
	if c.Manifest == "" {
		return fmt.Errorf("no manifest specified; use --manifest")
	}
	if gw.manifest == nil {
		m, err := c.loadManifest(ctx, c.Manifest)
		if err != nil {
			return err
		}
		gw.manifest = m
	}
	return gw.ApplyManifest(ctx, gw.manifest)
}

func (c *CLI) runValidate(ctx context.Context) error {
	path := c.Validate.Manifest
	if path == "" {
		path = c.Manifest
	}
	if path == "" {
		return fmt.Errorf("no manifest specified; use --manifest or provide a path as argument")
	}
	slog.InfoContext(ctx, "validating manifest", "path", path)
	m, err := c.loadManifest(ctx, path)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	slog.InfoContext(ctx, "manifest is valid",
		"topics", len(m.Topics),
		"subscriptions", len(m.Subscriptions),
		"forward_rules", len(m.Forward),
	)
	fmt.Println("✓ Manifest is valid")
	return nil
}

func newLogger(level slog.Level, format string, c bool) *slog.Logger {
	var f func(io.Writer, *slog.HandlerOptions) slog.Handler
	switch format {
	case "json":
		f = func(w io.Writer, ho *slog.HandlerOptions) slog.Handler {
			return slog.NewJSONHandler(w, ho)
		}
	default:
		f = func(w io.Writer, ho *slog.HandlerOptions) slog.Handler {
			return slog.NewTextHandler(w, ho)
		}
	}
	var modifierFuncs map[slog.Level]slogutils.ModifierFunc
	if c {
		modifierFuncs = map[slog.Level]slogutils.ModifierFunc{
			slog.LevelDebug: slogutils.Color(color.FgBlack),
			slog.LevelInfo:  nil,
			slog.LevelWarn:  slogutils.Color(color.FgYellow),
			slog.LevelError: slogutils.Color(color.FgRed, color.Bold),
		}
	}
	var addSource bool
	if level == slog.LevelDebug {
		addSource = true
	}
	middleware := slogutils.NewMiddleware(
		f,
		slogutils.MiddlewareOptions{
			Writer:        os.Stderr,
			ModifierFuncs: modifierFuncs,
			HandlerOptions: &slog.HandlerOptions{
				Level:     level,
				AddSource: addSource,
			},
		},
	)
	return slog.New(middleware)
}
