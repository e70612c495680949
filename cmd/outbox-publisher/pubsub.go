package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/retail-backoffice/pkg/db/models"
	"github.com/angelmondragon/retail-backoffice/pkg/outbox/registry"
)

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
	ResumePublish(orderingKey string)
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// publish sends the row's stored envelope as-is. The aggregate id is the
// ordering key, so a subscriber sees one aggregate's events in order.
func (s *Service) publish(ctx context.Context, row models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := s.publisherFactory(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("no publisher for topic %s", topic))
	}

	msg := messageFor(row, resolved.Envelope.EventID)
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	result := pub.Publish(ctx, msg)
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher for topic %s returned no result", topic))
	}
	if _, err := result.Get(ctx); err != nil {
		// An ordered publisher pauses the key after a failure.
		pub.ResumePublish(msg.OrderingKey)
		return err
	}
	return nil
}

func messageFor(row models.OutboxEvent, eventID string) *gcppubsub.Message {
	return &gcppubsub.Message{
		Data:        row.Payload,
		OrderingKey: row.AggregateID.String(),
		Attributes: map[string]string{
			"event_id":       eventID,
			"event_type":     string(row.EventType),
			"aggregate_type": string(row.AggregateType),
			"aggregate_id":   row.AggregateID.String(),
			"created_at":     row.CreatedAt.Format(time.RFC3339Nano),
		},
	}
}

// cachedPublishers keeps one publisher per topic; each Pub/Sub publisher
// owns its own batching goroutines. stop flushes and releases them.
func cachedPublishers(client pubSubClient) (publisherFactory, func()) {
	var mu sync.Mutex
	byTopic := make(map[string]topicPublisher)
	factory := func(topic string) publisher {
		mu.Lock()
		defer mu.Unlock()
		if pub, ok := byTopic[topic]; ok {
			return pub
		}
		raw := client.Publisher(topic)
		if raw == nil {
			return nil
		}
		pub := topicPublisher{raw}
		byTopic[topic] = pub
		return pub
	}
	stop := func() {
		mu.Lock()
		defer mu.Unlock()
		for topic, pub := range byTopic {
			pub.raw.Stop()
			delete(byTopic, topic)
		}
	}
	return factory, stop
}

// topicPublisher adapts *gcppubsub.Publisher to the publisher interface.
type topicPublisher struct {
	raw *gcppubsub.Publisher
}

func (p topicPublisher) ResumePublish(orderingKey string) {
	p.raw.ResumePublish(orderingKey)
}

func (p topicPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return pendingResult{p.raw.Publish(ctx, msg)}
}

type pendingResult struct {
	res *gcppubsub.PublishResult
}

func (r pendingResult) Get(ctx context.Context) (string, error) {
	if r.res == nil {
		return "", errors.New("publish returned no result")
	}
	return r.res.Get(ctx)
}
