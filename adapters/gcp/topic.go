// Package gcp binds the pub/sub transport to Google Cloud Pub/Sub.
package gcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	gpubsub "cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/codewandler/clstr-pubsub/core/pubsub"
)

type TopicConfig struct {
	ProjectID string
	TopicID   string
	Log       *slog.Logger

	// ClientOptions are passed to the Pub/Sub client, e.g. credentials or an
	// emulator connection.
	ClientOptions []option.ClientOption

	// CreateTopic creates the topic when it does not exist yet.
	CreateTopic bool
}

// Topic is a pubsub.Topic backed by a Cloud Pub/Sub topic.
type Topic struct {
	client *gpubsub.Client
	topic  *gpubsub.Topic
	log    *slog.Logger
	owned  bool
}

// NewTopic connects to Cloud Pub/Sub and checks the topic exists.
func NewTopic(ctx context.Context, cfg TopicConfig) (*Topic, error) {
	if cfg.ProjectID == "" || cfg.TopicID == "" {
		return nil, errors.New("gcp: project and topic are required")
	}
	client, err := gpubsub.NewClient(ctx, cfg.ProjectID, cfg.ClientOptions...)
	if err != nil {
		return nil, fmt.Errorf("gcp: new client: %w", err)
	}

	t, err := newTopic(ctx, client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	t.owned = true
	return t, nil
}

// NewTopicFromClient uses an existing client. Close leaves the client open.
func NewTopicFromClient(ctx context.Context, client *gpubsub.Client, cfg TopicConfig) (*Topic, error) {
	return newTopic(ctx, client, cfg)
}

func newTopic(ctx context.Context, client *gpubsub.Client, cfg TopicConfig) (*Topic, error) {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("topic", "gcp"), slog.String("name", cfg.TopicID))

	topic := client.Topic(cfg.TopicID)
	ok, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcp: topic %s: %w", cfg.TopicID, err)
	}
	if !ok {
		if !cfg.CreateTopic {
			return nil, fmt.Errorf("gcp: topic %s does not exist", cfg.TopicID)
		}
		log.Debug("creating topic")
		topic, err = client.CreateTopic(ctx, cfg.TopicID)
		if err != nil && status.Code(err) != codes.AlreadyExists {
			return nil, fmt.Errorf("gcp: create topic %s: %w", cfg.TopicID, err)
		}
		if topic == nil {
			topic = client.Topic(cfg.TopicID)
		}
	}

	return &Topic{client: client, topic: topic, log: log}, nil
}

func (t *Topic) Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error) {
	res := t.topic.Publish(ctx, &gpubsub.Message{Data: data, Attributes: attrs})
	id, err := res.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("gcp: publish: %w", err)
	}
	return id, nil
}

func (t *Topic) CreateSubscription(ctx context.Context, name string, opts pubsub.SubscriptionOptions) (pubsub.Subscription, error) {
	cfg := gpubsub.SubscriptionConfig{
		Topic:             t.topic,
		AckDeadline:       opts.AckDeadline,
		Filter:            opts.Filter,
		RetentionDuration: opts.RetentionDuration,
		Labels:            opts.Labels,
	}
	if opts.ExpirationTTL > 0 {
		cfg.ExpirationPolicy = opts.ExpirationTTL
	}

	sub, err := t.client.CreateSubscription(ctx, name, cfg)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil, fmt.Errorf("%w: %s", pubsub.ErrSubscriptionExists, name)
		}
		return nil, fmt.Errorf("gcp: create subscription %s: %w", name, err)
	}
	t.log.Debug("subscription created", slog.String("subscription", name))
	return &subscription{sub: sub}, nil
}

func (t *Topic) DeleteSubscription(ctx context.Context, name string) error {
	if err := t.client.Subscription(name).Delete(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", pubsub.ErrSubscriptionNotFound, name)
		}
		return fmt.Errorf("gcp: delete subscription %s: %w", name, err)
	}
	return nil
}

// Close stops the publisher and, for topics created with NewTopic, the client.
func (t *Topic) Close() error {
	t.topic.Stop()
	if t.owned {
		return t.client.Close()
	}
	return nil
}

type subscription struct {
	sub *gpubsub.Subscription
}

func (s *subscription) Name() string { return s.sub.ID() }

func (s *subscription) Receive(ctx context.Context, h func(*pubsub.Message)) error {
	err := s.sub.Receive(ctx, func(_ context.Context, m *gpubsub.Message) {
		msg := pubsub.NewMessage(m.ID, m.Data, m.Attributes, m.Ack)
		msg.PublishTime = m.PublishTime
		h(msg)
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s: %w", pubsub.ErrSubscriptionNotFound, s.sub.ID(), err)
		}
		return fmt.Errorf("gcp: receive: %w", err)
	}
	return nil
}

var _ pubsub.Topic = (*Topic)(nil)
