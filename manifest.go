package snsgw

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/goccy/go-yaml"
	"golang.org/x/sync/errgroup"
)

// Manifest declares the desired backend state: topics that must exist,
// subscriptions that must be registered, and rules gating which inbound
// notifications are forwarded downstream.
type Manifest struct {
	Topics        []*TopicManifest        `yaml:"topics,omitempty"`
	Subscriptions []*SubscriptionManifest `yaml:"subscriptions,omitempty"`
	Forward       []*ForwardRule          `yaml:"forward,omitempty"`
}

type TopicManifest struct {
	Name string `yaml:"name"`
}

type SubscriptionManifest struct {
	Topic    string `yaml:"topic"`
	Protocol string `yaml:"protocol"`
	Endpoint string `yaml:"endpoint"`
}

// ForwardRule gates forwarding of inbound notifications. When is a CEL
// expression over the webhook result; the first matching rule wins, and a
// matching rule with Skip set suppresses forwarding.
type ForwardRule struct {
	When string `yaml:"when"`
	Skip bool   `yaml:"skip,omitempty"`

	filter *Filter
}

// LoadManifest fetches a manifest from a file path, http(s) URL or s3 URL,
// parses it and compiles its forward rules.
func LoadManifest(ctx context.Context, path string, env *FilterEnv) (*Manifest, error) {
	content, err := fetchManifest(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%s fetch failed: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(content, &m); err != nil {
		return nil, fmt.Errorf("%s parse failed: %w", path, err)
	}
	if err := m.Restrict(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := m.Bind(env); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

func fetchManifest(ctx context.Context, path string) ([]byte, error) {
	u, err := url.Parse(path)
	if err != nil {
		return os.ReadFile(path)
	}
	switch u.Scheme {
	case "http", "https":
		return fetchManifestFromHTTP(ctx, u)
	case "s3":
		return fetchManifestFromS3(ctx, u)
	case "file", "":
		return os.ReadFile(u.Path)
	default:
		return nil, fmt.Errorf("scheme %s is not supported", u.Scheme)
	}
}

func fetchManifestFromHTTP(ctx context.Context, u *url.URL) ([]byte, error) {
	slog.InfoContext(ctx, "fetching manifest", "url", u.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch failed: HTTP %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func fetchManifestFromS3(ctx context.Context, u *url.URL) ([]byte, error) {
	slog.InfoContext(ctx, "fetching manifest", "url", u.String())
	awsCfg, err := loadAWSConfig()
	if err != nil {
		return nil, err
	}
	downloader := manager.NewDownloader(s3.NewFromConfig(awsCfg))
	var buf manager.WriteAtBuffer
	_, err = downloader.Download(ctx, &buf, &s3.GetObjectInput{
		Bucket: aws.String(u.Host),
		Key:    aws.String(strings.TrimLeft(u.Path, "/")),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch from S3, %s", err)
	}
	return buf.Bytes(), nil
}

// Restrict restricts a manifest.
func (m *Manifest) Restrict() error {
	for i, topic := range m.Topics {
		if topic.Name == "" {
			return fmt.Errorf("topics[%d]: name is required", i)
		}
	}
	for i, sub := range m.Subscriptions {
		if sub.Topic == "" {
			return fmt.Errorf("subscriptions[%d]: topic is required", i)
		}
		if sub.Protocol == "" {
			return fmt.Errorf("subscriptions[%d]: protocol is required", i)
		}
		if sub.Endpoint == "" {
			return fmt.Errorf("subscriptions[%d]: endpoint is required", i)
		}
	}
	for i, rule := range m.Forward {
		if rule.When == "" {
			return fmt.Errorf("forward[%d]: when is required", i)
		}
	}
	return nil
}

// Bind compiles the forward rules against env.
func (m *Manifest) Bind(env *FilterEnv) error {
	if env == nil && len(m.Forward) > 0 {
		return errors.New("forward rules require a CEL environment")
	}
	for i, rule := range m.Forward {
		filter, err := env.Compile(rule.When)
		if err != nil {
			return fmt.Errorf("forward[%d]: %w", i, err)
		}
		rule.filter = filter
	}
	return nil
}

// Match reports whether the result should be forwarded. The first rule whose
// expression evaluates true decides: forward unless the rule is a skip rule.
// With no rules everything is forwarded.
func (m *Manifest) Match(result *WebhookResult) (bool, error) {
	if len(m.Forward) == 0 {
		return true, nil
	}
	for i, rule := range m.Forward {
		if rule.filter == nil {
			return false, fmt.Errorf("forward[%d]: rule is not bound", i)
		}
		ok, err := rule.filter.Eval(result)
		if err != nil {
			return false, fmt.Errorf("forward[%d]: %w", i, err)
		}
		if ok {
			return !rule.Skip, nil
		}
	}
	return false, nil
}

// ApplyManifest ensures the declared topics and subscriptions exist on the
// backend. Topics are ensured first, concurrently; subscriptions follow so
// their topic ARNs are resolvable.
func (gw *Gateway) ApplyManifest(ctx context.Context, m *Manifest) error {
	egForTopics, egCtx := errgroup.WithContext(ctx)
	for _, topic := range m.Topics {
		egForTopics.Go(func() error {
			created, err := gw.CreateTopic(egCtx, topic.Name)
			if err != nil {
				return fmt.Errorf("create topic %s: %w", topic.Name, err)
			}
			slog.InfoContext(egCtx, "ensured topic", "name", created.Name, "arn", created.ARN)
			return nil
		})
	}
	if err := egForTopics.Wait(); err != nil {
		return err
	}
	egForSubs, egCtx := errgroup.WithContext(ctx)
	for _, sub := range m.Subscriptions {
		egForSubs.Go(func() error {
			topic, err := gw.GetTopic(egCtx, sub.Topic)
			if err != nil {
				return fmt.Errorf("resolve topic %s: %w", sub.Topic, err)
			}
			created, err := gw.CreateSubscription(egCtx, sub.Protocol, topic.ARN, sub.Endpoint)
			if err != nil {
				return fmt.Errorf("subscribe %s to %s: %w", sub.Endpoint, sub.Topic, err)
			}
			slog.InfoContext(egCtx, "ensured subscription",
				"topic", sub.Topic,
				"protocol", sub.Protocol,
				"endpoint", sub.Endpoint,
				"subscription_arn", created.SubscriptionARN,
			)
			return nil
		})
	}
	return egForSubs.Wait()
}
