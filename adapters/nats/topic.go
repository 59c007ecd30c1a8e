package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/xid"
	"golang.org/x/sync/singleflight"

	"github.com/codewandler/clstr-pubsub/core/pubsub"
)

const (
	defaultStreamName = "SOCKETIO"
	defaultSubject    = "socket.io.adapter"
	defaultMaxAge     = time.Hour
	defaultInactive   = 24 * time.Hour
)

type TopicConfig struct {
	Connect Connector    // Connect is used to create the underlying NATS connection. If nil, ConnectDefault() is used.
	Log     *slog.Logger // Log for diagnostics (optional)
	Stream  string       // Stream backing the topic (default SOCKETIO)
	Subject string       // Subject frames are published on (default socket.io.adapter)

	// MaxAge bounds how long frames stay in the stream. Consumers only ever
	// read new frames, so this is just a safety net (default 1h).
	MaxAge time.Duration
}

// Topic is a pubsub.Topic on a JetStream stream. Every subscription is an
// ephemeral consumer starting at the head of the stream.
type Topic struct {
	nc      *natsgo.Conn
	closeNc closeFunc
	js      jetstream.JetStream
	log     *slog.Logger
	cfg     TopicConfig

	sf     singleflight.Group
	mu     sync.Mutex
	stream jetstream.Stream
}

func NewTopic(cfg TopicConfig) (*Topic, error) {
	connect := cfg.Connect
	if connect == nil {
		connect = ConnectDefault()
	}
	if cfg.Stream == "" {
		cfg.Stream = defaultStreamName
	}
	cfg.Stream = strings.ToUpper(cfg.Stream)
	if cfg.Subject == "" {
		cfg.Subject = defaultSubject
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaultMaxAge
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	nc, closeNc, err := connect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}

	return &Topic{
		nc:      nc,
		closeNc: closeNc,
		js:      js,
		cfg:     cfg,
		log: log.With(
			slog.String("topic", "nats_js"),
			slog.String("stream", cfg.Stream),
			slog.String("subject", cfg.Subject),
		),
	}, nil
}

// ensureStream creates the stream on first use. Concurrent callers share one
// request to the server.
func (t *Topic) ensureStream(ctx context.Context) (jetstream.Stream, error) {
	t.mu.Lock()
	s := t.stream
	t.mu.Unlock()
	if s != nil {
		return s, nil
	}

	v, err, _ := t.sf.Do("stream", func() (any, error) {
		t.log.Debug("ensuring stream")
		s, err := t.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:      t.cfg.Stream,
			Subjects:  []string{t.cfg.Subject},
			Retention: jetstream.LimitsPolicy,
			Storage:   jetstream.MemoryStorage,
			MaxAge:    t.cfg.MaxAge,
		})
		if err != nil {
			return nil, fmt.Errorf("nats: ensure stream %s: %w", t.cfg.Stream, err)
		}
		t.mu.Lock()
		t.stream = s
		t.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(jetstream.Stream), nil
}

func (t *Topic) Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error) {
	if _, err := t.ensureStream(ctx); err != nil {
		return "", err
	}

	msg := natsgo.NewMsg(t.cfg.Subject)
	msg.Data = data
	for k, v := range attrs {
		// header keys are case sensitive; keep them as given
		msg.Header[k] = []string{v}
	}

	ack, err := t.js.PublishMsg(ctx, msg, jetstream.WithMsgID(xid.New().String()))
	if err != nil {
		return "", fmt.Errorf("nats: publish: %w", err)
	}
	return strconv.FormatUint(ack.Sequence, 10), nil
}

func (t *Topic) CreateSubscription(ctx context.Context, name string, opts pubsub.SubscriptionOptions) (pubsub.Subscription, error) {
	stream, err := t.ensureStream(ctx)
	if err != nil {
		return nil, err
	}

	filter := opts.Filter
	if filter == "" {
		filter = t.cfg.Subject
	}
	inactive := opts.ExpirationTTL
	if inactive <= 0 {
		inactive = defaultInactive
	}

	cfg := jetstream.ConsumerConfig{
		Name:              consumerName(name),
		Description:       name,
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		AckPolicy:         jetstream.AckExplicitPolicy,
		AckWait:           opts.AckDeadline,
		FilterSubject:     filter,
		InactiveThreshold: inactive,
		Metadata:          opts.Labels,
	}

	t.log.Debug("create consumer", slog.String("name", cfg.Name))

	consumer, err := stream.CreateConsumer(ctx, cfg)
	if err != nil {
		if errors.Is(err, jetstream.ErrConsumerExists) {
			return nil, fmt.Errorf("%w: %s", pubsub.ErrSubscriptionExists, name)
		}
		return nil, fmt.Errorf("nats: create consumer %s: %w", cfg.Name, err)
	}

	return &subscription{
		name:     name,
		consumer: consumer,
		log:      t.log.With(slog.String("consumer", cfg.Name)),
	}, nil
}

func (t *Topic) DeleteSubscription(ctx context.Context, name string) error {
	stream, err := t.ensureStream(ctx)
	if err != nil {
		return err
	}
	if err := stream.DeleteConsumer(ctx, consumerName(name)); err != nil {
		if errors.Is(err, jetstream.ErrConsumerNotFound) {
			return fmt.Errorf("%w: %s", pubsub.ErrSubscriptionNotFound, name)
		}
		return fmt.Errorf("nats: delete consumer: %w", err)
	}
	return nil
}

// Close flushes pending publishes and releases the connection, which may be
// shared through ReuseConnection.
func (t *Topic) Close() error {
	t.js.CleanupPublisher()
	if err := t.nc.FlushTimeout(natsgo.DefaultTimeout); err != nil {
		t.log.Debug("flush failed", slog.Any("error", err))
	}
	t.closeNc()
	return nil
}

var consumerNameReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "/", "_", "\\", "_")

// consumerName maps a subscription name onto the characters JetStream allows
// in consumer names.
func consumerName(name string) string {
	return consumerNameReplacer.Replace(name)
}

type subscription struct {
	name     string
	consumer jetstream.Consumer
	log      *slog.Logger
}

func (s *subscription) Name() string { return s.name }

func (s *subscription) Receive(ctx context.Context, h func(*pubsub.Message)) error {
	fatal := make(chan error, 1)

	cc, err := s.consumer.Consume(
		func(msg jetstream.Msg) {
			m := pubsub.NewMessage("", msg.Data(), headerAttributes(msg.Headers()), func() {
				if err := msg.Ack(); err != nil {
					s.log.Debug("ack failed", slog.Any("error", err))
				}
			})
			if md, err := msg.Metadata(); err == nil {
				m.ID = strconv.FormatUint(md.Sequence.Stream, 10)
				m.PublishTime = md.Timestamp
			}
			h(m)
		},
		jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
			if errors.Is(err, jetstream.ErrConsumerDeleted) || errors.Is(err, jetstream.ErrConsumerNotFound) {
				select {
				case fatal <- err:
				default:
				}
				return
			}
			s.log.Warn("consume error", slog.Any("error", err))
		}),
	)
	if err != nil {
		return fmt.Errorf("nats: consume: %w", err)
	}
	defer cc.Stop()

	select {
	case <-ctx.Done():
		return nil
	case err := <-fatal:
		return fmt.Errorf("%w: %s: %w", pubsub.ErrSubscriptionNotFound, s.name, err)
	}
}

func headerAttributes(h natsgo.Header) map[string]string {
	attrs := make(map[string]string, len(h))
	for k, v := range h {
		if strings.HasPrefix(k, "Nats-") || len(v) == 0 {
			continue
		}
		attrs[k] = v[0]
	}
	return attrs
}

var _ pubsub.Topic = (*Topic)(nil)
