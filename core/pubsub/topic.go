package pubsub

import (
	"context"
	"sync"
	"time"
)

// Attribute keys carried next to every frame. They must stay stable across
// versions since nodes running different builds share one topic.
const (
	AttrNamespace = "nsp"
	AttrSenderID  = "uid"
	AttrTargetID  = "requesterUid"
)

// Message is one frame as delivered by a provider subscription.
type Message struct {
	ID          string
	Data        []byte
	Attributes  map[string]string
	PublishTime time.Time

	ackOnce sync.Once
	ack     func()
}

// NewMessage wraps a provider frame. ack may be nil for providers without
// acknowledgements.
func NewMessage(id string, data []byte, attrs map[string]string, ack func()) *Message {
	return &Message{
		ID:         id,
		Data:       data,
		Attributes: attrs,
		ack:        ack,
	}
}

// Attr returns the attribute value and whether it was present.
func (m *Message) Attr(key string) (string, bool) {
	if m.Attributes == nil {
		return "", false
	}
	v, ok := m.Attributes[key]
	return v, ok
}

// Ack tells the provider the frame was received. Repeated calls are no-ops.
func (m *Message) Ack() {
	m.ackOnce.Do(func() {
		if m.ack != nil {
			m.ack()
		}
	})
}

// SubscriptionOptions are forwarded verbatim to the provider when the
// ephemeral subscription is created. Zero values mean provider defaults.
type SubscriptionOptions struct {
	AckDeadline       time.Duration
	Filter            string
	RetentionDuration time.Duration
	ExpirationTTL     time.Duration
	Labels            map[string]string
}

// Topic is the shared publish destination plus the subscription management
// the provider exposes for it. Implementations must be safe for concurrent use.
type Topic interface {
	// Publish returns once the provider accepted the frame, with the provider
	// assigned message id.
	Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error)

	CreateSubscription(ctx context.Context, name string, opts SubscriptionOptions) (Subscription, error)

	DeleteSubscription(ctx context.Context, name string) error
}

// Subscription is a named receive channel bound to a Topic.
type Subscription interface {
	Name() string

	// Receive calls h for every delivered frame until ctx is done or the
	// subscription fails. h may be called concurrently. Delivery is
	// at-least-once and unordered.
	Receive(ctx context.Context, h func(*Message)) error
}
