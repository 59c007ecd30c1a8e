package pubsub

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
)

// MemoryTopicOpts configures a MemoryTopic. The failure fields make the
// corresponding provider call fail with that error.
type MemoryTopicOpts struct {
	Log *slog.Logger

	FailCreate  error
	FailPublish error
	FailDelete  error

	// CreateGate, if set, holds CreateSubscription until it is closed.
	CreateGate <-chan struct{}

	// Duplicate delivers every frame twice to each subscription.
	Duplicate bool

	// Buffer is the per subscription queue length (default 256).
	Buffer int
}

// MemoryTopic is an in-process Topic. Every subscription gets its own copy of
// each frame published after it was created, like a managed topic would.
type MemoryTopic struct {
	log  *slog.Logger
	opts MemoryTopicOpts

	mu   sync.RWMutex
	subs map[string]*memorySubscription

	published atomic.Int64
	acked     atomic.Int64
	deletes   atomic.Int64
}

type memoryFrame struct {
	id    string
	data  []byte
	attrs map[string]string
	at    time.Time
}

type memorySubscription struct {
	t       *MemoryTopic
	name    string
	queue   chan memoryFrame
	deleted chan struct{}
}

func NewMemoryTopic(opts ...MemoryTopicOpts) *MemoryTopic {
	var o MemoryTopicOpts
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Buffer <= 0 {
		o.Buffer = 256
	}
	log := o.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &MemoryTopic{
		log:  log.With(slog.String("topic", "mem")),
		opts: o,
		subs: make(map[string]*memorySubscription),
	}
}

func (t *MemoryTopic) Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error) {
	if t.opts.FailPublish != nil {
		return "", t.opts.FailPublish
	}

	f := memoryFrame{
		id:    xid.New().String(),
		data:  append([]byte(nil), data...),
		attrs: maps.Clone(attrs),
		at:    time.Now(),
	}

	// copy subscriptions so slow receivers do not block Create/Delete
	t.mu.RLock()
	subs := make([]*memorySubscription, 0, len(t.subs))
	for _, s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.RUnlock()

	copies := 1
	if t.opts.Duplicate {
		copies = 2
	}
	for _, s := range subs {
		for range copies {
			if err := s.enqueue(ctx, f); err != nil {
				return "", err
			}
		}
	}

	t.published.Add(1)
	t.log.Debug("published", slog.String("id", f.id), slog.Int("subscriptions", len(subs)))
	return f.id, nil
}

func (t *MemoryTopic) CreateSubscription(ctx context.Context, name string, _ SubscriptionOptions) (Subscription, error) {
	if t.opts.CreateGate != nil {
		select {
		case <-t.opts.CreateGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if t.opts.FailCreate != nil {
		return nil, t.opts.FailCreate
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subs[name]; ok {
		return nil, ErrSubscriptionExists
	}
	s := &memorySubscription{
		t:       t,
		name:    name,
		queue:   make(chan memoryFrame, t.opts.Buffer),
		deleted: make(chan struct{}),
	}
	t.subs[name] = s
	t.log.Debug("subscription created", slog.String("subscription", name))
	return s, nil
}

func (t *MemoryTopic) DeleteSubscription(_ context.Context, name string) error {
	t.deletes.Add(1)
	if t.opts.FailDelete != nil {
		return t.opts.FailDelete
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.subs[name]
	if !ok {
		return ErrSubscriptionNotFound
	}
	delete(t.subs, name)
	close(s.deleted)
	t.log.Debug("subscription deleted", slog.String("subscription", name))
	return nil
}

// Subscriptions returns the names of live subscriptions, sorted.
func (t *MemoryTopic) Subscriptions() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Sorted(maps.Keys(t.subs))
}

// DeleteCalls counts DeleteSubscription calls, failed ones included.
func (t *MemoryTopic) DeleteCalls() int { return int(t.deletes.Load()) }

func (t *MemoryTopic) Published() int { return int(t.published.Load()) }

func (t *MemoryTopic) Acked() int { return int(t.acked.Load()) }

func (s *memorySubscription) Name() string { return s.name }

func (s *memorySubscription) enqueue(ctx context.Context, f memoryFrame) error {
	select {
	case s.queue <- f:
		return nil
	case <-s.deleted:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *memorySubscription) Receive(ctx context.Context, h func(*Message)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.deleted:
			return ErrSubscriptionNotFound
		case f := <-s.queue:
			m := NewMessage(f.id, f.data, maps.Clone(f.attrs), func() { s.t.acked.Add(1) })
			m.PublishTime = f.at
			h(m)
		}
	}
}

var (
	_ Topic        = (*MemoryTopic)(nil)
	_ Subscription = (*memorySubscription)(nil)
)
