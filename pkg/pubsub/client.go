// Package pubsub publishes domain events to GCP Pub/Sub.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

// Client holds one publisher per topic for the life of the process.
type Client struct {
	client    *pubsub.Client
	projectID string
	topic     string

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// NewClient fails when the domain topic does not exist.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errors.New("gcp project id is required")
	}
	if strings.TrimSpace(cfg.DomainTopic) == "" {
		return nil, errors.New("pubsub domain topic is required")
	}

	inner, err := pubsub.NewClient(ctx, gcp.ProjectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{
		client:     inner,
		projectID:  gcp.ProjectID,
		topic:      cfg.DomainTopic,
		publishers: make(map[string]*pubsub.Publisher),
	}
	if err := c.Ping(ctx); err != nil {
		_ = inner.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "topic", c.topic), "pubsub client initialized")
	}
	return c, nil
}

// clientOptions prefers inline credentials over a key file. With neither set
// the library falls back to application default credentials or
// PUBSUB_EMULATOR_HOST.
func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(gcp.CredentialsJSON))}
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		return []option.ClientOption{option.WithCredentialsFile(gcp.ApplicationCredentials)}
	default:
		return nil
	}
}

// Ping looks up the domain topic.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	name := TopicResourceName(c.projectID, c.topic)
	_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name})
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("topic %q does not exist", c.topic)
	}
	if err != nil {
		return fmt.Errorf("checking topic %q: %w", c.topic, err)
	}
	return nil
}

// Send publishes msg and waits for the server to accept it. After a failure
// the ordering key is resumed so later messages for it are not refused.
func (c *Client) Send(ctx context.Context, topic string, msg *pubsub.Message) error {
	pub, err := c.publisher(topic)
	if err != nil {
		return err
	}
	if _, err := pub.Publish(ctx, msg).Get(ctx); err != nil {
		if msg.OrderingKey != "" {
			pub.ResumePublish(msg.OrderingKey)
		}
		return Classify(err)
	}
	return nil
}

func (c *Client) publisher(topic string) (*pubsub.Publisher, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pub, ok := c.publishers[topic]; ok {
		return pub, nil
	}
	name := TopicResourceName(c.projectID, topic)
	if name == "" {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "topic %q cannot be resolved", topic)
	}
	pub := c.client.Publisher(name)
	pub.EnableMessageOrdering = true
	c.publishers[topic] = pub
	return pub, nil
}

// Close flushes every publisher before closing the connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for _, pub := range c.publishers {
		pub.Stop()
	}
	c.publishers = map[string]*pubsub.Publisher{}
	c.mu.Unlock()
	return c.client.Close()
}

// Classify maps a publish failure onto an error code. A message the server
// calls invalid is CodeValidation and will fail the same way again; anything
// else is CodeDependency and worth retrying.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.InvalidArgument, codes.FailedPrecondition:
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "")
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "")
	}
}

// TopicResourceName expands a topic id into its full resource name. Full
// names are returned unchanged.
func TopicResourceName(projectID, name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/topics/") {
		return n
	}
	p := strings.TrimSpace(projectID)
	if p == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/topics/%s", p, n)
}
