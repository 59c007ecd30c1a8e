package pubsub

import (
	"log/slog"
	"time"

	"github.com/codewandler/clstr-pubsub/core/codec"
)

const (
	DefaultSubscriptionPrefix = "socket.io"
	DefaultTeardownTimeout    = 10 * time.Second
	DefaultDuplicateWindow    = 1024
)

type Options struct {
	// SubscriptionPrefix is prepended to the random subscription name.
	SubscriptionPrefix string
	// SubscriptionOptions are passed to Topic.CreateSubscription untouched.
	SubscriptionOptions SubscriptionOptions

	Codec   codec.Codec
	Log     *slog.Logger
	Metrics Metrics

	// TeardownTimeout bounds the DeleteSubscription call issued when the
	// last adapter closes.
	TeardownTimeout time.Duration
	// DuplicateWindow is the number of recent message ids remembered to
	// report redeliveries. Negative disables tracking.
	DuplicateWindow int
}

func (o Options) withDefaults() Options {
	if o.SubscriptionPrefix == "" {
		o.SubscriptionPrefix = DefaultSubscriptionPrefix
	}
	if o.Codec == nil {
		o.Codec = codec.Msgpack{}
	}
	if o.Log == nil {
		o.Log = slog.Default()
	}
	if o.Metrics == nil {
		o.Metrics = NopMetrics()
	}
	if o.TeardownTimeout <= 0 {
		o.TeardownTimeout = DefaultTeardownTimeout
	}
	if o.DuplicateWindow == 0 {
		o.DuplicateWindow = DefaultDuplicateWindow
	}
	return o
}

// AdapterOptions configure a single namespace adapter.
type AdapterOptions struct {
	// UID is the identity of this adapter on the topic. Generated when empty.
	UID string
}

type AdapterOption func(*AdapterOptions)

func WithUID(uid string) AdapterOption {
	return func(o *AdapterOptions) { o.UID = uid }
}
