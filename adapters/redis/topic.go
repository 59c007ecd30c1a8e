// Package redis binds the pub/sub transport to Redis PUB/SUB.
//
// Redis channels carry a single string, so id, attributes and body travel
// together in one frame. Redis has no acknowledgements and no retention: a
// frame published while a node is not subscribed is lost to that node, which
// matches the ephemeral subscription model.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"
	redis "gopkg.in/redis.v5"

	"github.com/codewandler/clstr-pubsub/core/pubsub"
	"github.com/codewandler/clstr-pubsub/internal/frame"
)

const (
	defaultChannel = "socket.io"
	receivePoll    = time.Second
)

type TopicConfig struct {
	Addr     string       // Addr of the redis server (default localhost:6379)
	Password string       // Password (optional)
	DB       int          // DB index
	Channel  string       // Channel frames are published on (default socket.io)
	Log      *slog.Logger // Log for diagnostics (optional)
}

// Topic is a pubsub.Topic on a Redis channel.
type Topic struct {
	client  *redis.Client
	channel string
	log     *slog.Logger

	mu   sync.Mutex
	subs map[string]*subscription
}

func NewTopic(cfg TopicConfig) (*Topic, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.Channel == "" {
		cfg.Channel = defaultChannel
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping().Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}

	return &Topic{
		client:  client,
		channel: cfg.Channel,
		log:     log.With(slog.String("topic", "redis"), slog.String("channel", cfg.Channel)),
		subs:    make(map[string]*subscription),
	}, nil
}

func (t *Topic) Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f := frame.New(xid.New().String(), data, attrs)
	b, err := frame.Encode(f)
	if err != nil {
		return "", fmt.Errorf("redis: encode frame: %w", err)
	}
	if err := t.client.Publish(t.channel, string(b)).Err(); err != nil {
		return "", fmt.Errorf("redis: publish: %w", err)
	}
	return f.ID, nil
}

// CreateSubscription subscribes to the topic channel. A Filter is used as a
// channel pattern instead.
func (t *Topic) CreateSubscription(ctx context.Context, name string, opts pubsub.SubscriptionOptions) (pubsub.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subs[name]; ok {
		return nil, fmt.Errorf("%w: %s", pubsub.ErrSubscriptionExists, name)
	}

	var (
		ps  *redis.PubSub
		err error
	)
	if opts.Filter != "" {
		ps, err = t.client.PSubscribe(opts.Filter)
	} else {
		ps, err = t.client.Subscribe(t.channel)
	}
	if err != nil {
		return nil, fmt.Errorf("redis: subscribe: %w", err)
	}

	s := &subscription{
		name:    name,
		ps:      ps,
		deleted: make(chan struct{}),
		log:     t.log.With(slog.String("subscription", name)),
	}
	t.subs[name] = s
	t.log.Debug("subscribed", slog.String("subscription", name))
	return s, nil
}

func (t *Topic) DeleteSubscription(_ context.Context, name string) error {
	t.mu.Lock()
	s, ok := t.subs[name]
	delete(t.subs, name)
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", pubsub.ErrSubscriptionNotFound, name)
	}
	close(s.deleted)
	if err := s.ps.Close(); err != nil {
		return fmt.Errorf("redis: unsubscribe: %w", err)
	}
	return nil
}

// Close drops every subscription and the client.
func (t *Topic) Close() error {
	t.mu.Lock()
	names := make([]string, 0, len(t.subs))
	for name := range t.subs {
		names = append(names, name)
	}
	t.mu.Unlock()
	for _, name := range names {
		if err := t.DeleteSubscription(context.Background(), name); err != nil {
			t.log.Error("error closing redis subscription", slog.Any("error", err))
		}
	}
	return t.client.Close()
}

type subscription struct {
	name    string
	ps      *redis.PubSub
	deleted chan struct{}
	log     *slog.Logger
}

func (s *subscription) Name() string { return s.name }

func (s *subscription) Receive(ctx context.Context, h func(*pubsub.Message)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.deleted:
			return fmt.Errorf("%w: %s", pubsub.ErrSubscriptionNotFound, s.name)
		default:
		}

		v, err := s.ps.ReceiveTimeout(receivePoll)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			select {
			case <-s.deleted:
				return fmt.Errorf("%w: %s", pubsub.ErrSubscriptionNotFound, s.name)
			case <-ctx.Done():
				return nil
			default:
			}
			if strings.Contains(err.Error(), "closed") {
				return fmt.Errorf("%w: %s: %w", pubsub.ErrSubscriptionNotFound, s.name, err)
			}
			return fmt.Errorf("redis: receive: %w", err)
		}

		msg, ok := v.(*redis.Message)
		if !ok {
			continue
		}

		f, err := frame.Decode([]byte(msg.Payload))
		if err != nil {
			// not ours; someone else publishes on the channel
			s.log.Warn("dropping foreign payload", slog.Int("size", len(msg.Payload)), slog.Any("error", err))
			continue
		}
		m := pubsub.NewMessage(f.ID, f.Data, f.Attributes, nil)
		m.PublishTime = f.PublishTime()
		h(m)
	}
}

var _ pubsub.Topic = (*Topic)(nil)
