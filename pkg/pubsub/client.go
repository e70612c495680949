package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	"github.com/angelmondragon/retail-backoffice/pkg/config"
	"github.com/angelmondragon/retail-backoffice/pkg/gcp"
	"github.com/angelmondragon/retail-backoffice/pkg/logger"
)

const checkTimeout = 10 * time.Second

// Role says which side of the event pipeline a process runs on. It decides
// which resources must exist before the client is handed out.
type Role int

const (
	// RolePublisher needs the outbox topics.
	RolePublisher Role = iota
	// RoleSubscriber needs the analytics subscription.
	RoleSubscriber
)

func (r Role) String() string {
	if r == RoleSubscriber {
		return "subscriber"
	}
	return "publisher"
}

// Client is a Pub/Sub v2 client bound to one project and role.
type Client struct {
	client  *pubsub.Client
	project string
	cfg     config.PubSubConfig
	role    Role
}

// NewClient connects and verifies the topics or subscription role needs.
func NewClient(ctx context.Context, gcpCfg config.GCPConfig, cfg config.PubSubConfig, role Role, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcpCfg.ProjectID)
	if project == "" {
		return nil, gcp.ErrProjectIDRequired
	}
	if len(required(cfg, role)) == 0 {
		return nil, fmt.Errorf("pubsub %s: no resources configured", role)
	}

	raw, err := pubsub.NewClient(ctx, project, gcp.ClientOptions(gcpCfg)...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	c := &Client{client: raw, project: project, cfg: cfg, role: role}
	if err := c.Ping(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"role":      role.String(),
			"resources": required(cfg, role),
		}), "pubsub client ready")
	}
	return c, nil
}

// required lists the short names of the resources role depends on.
func required(cfg config.PubSubConfig, role Role) []string {
	var names []string
	add := func(name string) {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	switch role {
	case RoleSubscriber:
		add(cfg.AnalyticsSubscription)
	default:
		add(cfg.OrdersTopic)
		add(cfg.InventoryTopic)
	}
	return names
}

// Ping checks that every resource the role needs still exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	for _, name := range required(c.cfg, c.role) {
		var err error
		if c.role == RoleSubscriber {
			_, err = c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{
				Subscription: gcp.ResourceName(c.project, "subscriptions", name),
			})
		} else {
			_, err = c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{
				Topic: gcp.ResourceName(c.project, "topics", name),
			})
		}
		if gcp.IsNotFound(err) {
			return fmt.Errorf("pubsub %s %q does not exist", c.role, name)
		}
		if err != nil {
			return fmt.Errorf("check pubsub %q: %w", name, err)
		}
	}
	return nil
}

// Subscriber returns the handle for a subscription id or resource name.
func (c *Client) Subscriber(name string) *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	full := gcp.ResourceName(c.project, "subscriptions", name)
	if full == "" {
		return nil
	}
	return c.client.Subscriber(full)
}

// AnalyticsSubscription feeds the sales warehouse.
func (c *Client) AnalyticsSubscription() *pubsub.Subscriber {
	return c.Subscriber(c.cfg.AnalyticsSubscription)
}

// Publisher returns an ordered publisher for a topic id or resource name.
// Callers own the handle and should Stop it on shutdown.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	full := gcp.ResourceName(c.project, "topics", name)
	if full == "" {
		return nil
	}
	pub := c.client.Publisher(full)
	pub.EnableMessageOrdering = true
	return pub
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
