package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/packfinderz-stock/pkg/broker"
	"github.com/angelmondragon/packfinderz-stock/pkg/config"
	"github.com/angelmondragon/packfinderz-stock/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoTopic           = errors.New("pubsub stock topic is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

// Client publishes outbox events to Pub/Sub topics. Publishers are created
// lazily per topic with message ordering enabled, so events for one
// aggregate arrive in the order they were recorded.
type Client struct {
	client       *pubsub.Client
	projectID    string
	defaultTopic string

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// NewClient dials Pub/Sub and fails unless the stock topic exists.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	raw, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{
		client:       raw,
		projectID:    projectID,
		defaultTopic: cfg.StockTopic,
		publishers:   map[string]*pubsub.Publisher{},
	}
	if err := c.checkTopic(ctx, c.defaultTopic); err != nil {
		_ = raw.Close()
		return nil, err
	}
	logg.Info(logg.WithFields(ctx, map[string]any{"project_id": projectID, "topic": c.defaultTopic}), "pubsub client ready")
	return c, nil
}

func (c *Client) checkTopic(ctx context.Context, name string) error {
	full, err := c.resolveTopic(name)
	if err != nil {
		return err
	}
	_, err = c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: full})
	switch {
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("topic %s does not exist", full)
	case err != nil:
		return fmt.Errorf("checking topic %s: %w", full, err)
	}
	return nil
}

func (c *Client) resolveTopic(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		name = c.defaultTopic
	}
	if strings.TrimSpace(name) == "" {
		return "", errNoTopic
	}
	full := topicResourceName(c.projectID, name)
	if full == "" {
		return "", fmt.Errorf("topic %q cannot be resolved without a project", name)
	}
	return full, nil
}

func (c *Client) publisher(full string) *pubsub.Publisher {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.publishers[full]; ok {
		return p
	}
	p := c.client.Publisher(full)
	p.EnableMessageOrdering = true
	c.publishers[full] = p
	return p
}

// Publish blocks until Pub/Sub acknowledges msg. A failed ordered publish
// pauses its key, so the key is resumed before the error is returned and
// the relay's retry can go through.
func (c *Client) Publish(ctx context.Context, dest broker.Destination, msg broker.Message) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	full, err := c.resolveTopic(dest.Topic)
	if err != nil {
		return err
	}
	pub := c.publisher(full)
	result := pub.Publish(ctx, &pubsub.Message{
		Data:        msg.Data,
		Attributes:  msg.Attributes,
		OrderingKey: msg.OrderingKey,
	})
	if _, err := result.Get(ctx); err != nil {
		if msg.OrderingKey != "" {
			pub.ResumePublish(msg.OrderingKey)
		}
		return fmt.Errorf("publish %s to %s: %w", msg.ID, full, err)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	return c.checkTopic(ctx, c.defaultTopic)
}

// Close flushes pending publishes before closing the connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for full, p := range c.publishers {
		p.Stop()
		delete(c.publishers, full)
	}
	c.mu.Unlock()
	return c.client.Close()
}

// topicResourceName expands a short topic id to projects/<p>/topics/<id>.
// Full resource names pass through untouched.
func topicResourceName(projectID, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/topics/") {
		return name
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return ""
	}
	return "projects/" + projectID + "/topics/" + name
}

var _ broker.Publisher = (*Client)(nil)
