package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/clstr-pubsub/core/cluster"
	"github.com/codewandler/clstr-pubsub/internal/serial"
)

const (
	hexAlphabet      = "0123456789abcdef"
	subscriptionRand = 16
)

// Factory owns the single ephemeral subscription of a process and hands out
// one Adapter per namespace. Every adapter shares that subscription; the
// subscription is deleted when the last adapter closes.
type Factory struct {
	topic   Topic
	opts    Options
	log     *slog.Logger
	metrics Metrics
	name    string

	router   *Router
	dispatch *serial.Dispatcher[string]
	seen     *lru.Cache[string, struct{}]

	recvCtx    context.Context
	recvCancel context.CancelFunc

	// ready is closed once the subscription exists and receives; settled once
	// the create call returned, whatever the outcome.
	ready   chan struct{}
	settled chan struct{}
	recvEnd chan struct{}
	done    chan struct{}

	mu      sync.Mutex
	sub     Subscription
	err     error
	closed  bool // no new adapters
	tearing bool // teardown started
}

// NewFactory starts provisioning a fresh subscription on topic and returns
// immediately. Adapters created from the factory become ready once
// provisioning succeeded. ctx bounds the lifetime of the subscription's
// receive loop.
func NewFactory(ctx context.Context, topic Topic, opts Options) (*Factory, error) {
	if topic == nil {
		return nil, fmt.Errorf("pubsub: topic is required")
	}
	opts = opts.withDefaults()

	suffix, err := gonanoid.Generate(hexAlphabet, subscriptionRand)
	if err != nil {
		return nil, fmt.Errorf("pubsub: generate subscription name: %w", err)
	}
	name := opts.SubscriptionPrefix + "-" + suffix

	f := &Factory{
		topic:    topic,
		opts:     opts,
		log:      opts.Log.With(slog.String("subscription", name)),
		metrics:  opts.Metrics,
		name:     name,
		router:   NewRouter(),
		dispatch: serial.New[string](),
		ready:    make(chan struct{}),
		settled:  make(chan struct{}),
		recvEnd:  make(chan struct{}),
		done:     make(chan struct{}),
	}

	if opts.DuplicateWindow > 0 {
		f.seen, err = lru.New[string, struct{}](opts.DuplicateWindow)
		if err != nil {
			return nil, fmt.Errorf("pubsub: duplicate window: %w", err)
		}
	}

	f.recvCtx, f.recvCancel = context.WithCancel(ctx)

	// a new subscription every time, so a restarted node starts at the head
	// of the topic instead of replaying what it missed
	go f.provision()

	return f, nil
}

// SubscriptionName returns the generated name of the process subscription.
func (f *Factory) SubscriptionName() string { return f.name }

// Ready is closed once the subscription was created. It stays open forever
// if provisioning failed.
func (f *Factory) Ready() <-chan struct{} { return f.ready }

// Err returns the provisioning failure, if any.
func (f *Factory) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Namespaces returns the namespaces currently served.
func (f *Factory) Namespaces() []string { return f.router.Namespaces() }

// Closed reports whether the factory stopped accepting adapters, either
// because its last adapter closed or because Close was called.
func (f *Factory) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Wait blocks until teardown finished or ctx is done.
func (f *Factory) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// New creates and registers the adapter for nsp.
func (f *Factory) New(nsp string, h cluster.Handler, opts ...AdapterOption) (*Adapter, error) {
	if h == nil {
		return nil, ErrHandlerRequired
	}

	var ao AdapterOptions
	for _, opt := range opts {
		opt(&ao)
	}
	if ao.UID == "" {
		ao.UID = gonanoid.Must()
	}

	a := &Adapter{
		f:       f,
		nsp:     nsp,
		uid:     ao.UID,
		h:       h,
		codec:   f.opts.Codec,
		metrics: f.metrics,
		log:     f.log.With(slog.String("nsp", nsp), slog.String("uid", ao.UID)),
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrFactoryClosed
	}
	if err := f.router.Register(nsp, a); err != nil {
		return nil, fmt.Errorf("pubsub: %q: %w", nsp, err)
	}
	f.metrics.AdaptersActive(f.router.Len())
	a.log.Debug("adapter registered")
	return a, nil
}

func (f *Factory) unregister(a *Adapter) {
	f.mu.Lock()
	remaining, removed := f.router.Unregister(a.nsp, a)
	if !removed {
		f.mu.Unlock()
		return
	}
	f.metrics.AdaptersActive(remaining)
	last := remaining == 0 && !f.tearing
	if last {
		f.closed = true
		f.tearing = true
	}
	f.mu.Unlock()

	f.dispatch.Forget(a.nsp)
	a.log.Debug("adapter unregistered", slog.Int("remaining", remaining))

	if last {
		go f.teardown()
	}
}

// Close closes every open adapter, which tears the subscription down once the
// last one is gone. A factory that never served a namespace is torn down
// directly. No adapters can be created afterwards.
func (f *Factory) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFactoryClosed
	}
	f.closed = true
	adapters := f.router.Adapters()
	if len(adapters) == 0 && !f.tearing {
		f.tearing = true
		go f.teardown()
	}
	f.mu.Unlock()

	for _, a := range adapters {
		if err := a.Close(); err != nil && !errors.Is(err, ErrAdapterClosed) {
			return err
		}
	}
	return nil
}

func (f *Factory) waitReady(ctx context.Context) error {
	select {
	case <-f.ready:
		return nil
	case <-ctx.Done():
		if err := f.Err(); err != nil {
			return errors.Join(ctx.Err(), err)
		}
		return ctx.Err()
	}
}

func (f *Factory) provision() {
	defer close(f.settled)

	f.log.Debug("creating subscription")

	timer := f.metrics.ProvisionDuration()
	sub, err := f.topic.CreateSubscription(f.recvCtx, f.name, f.opts.SubscriptionOptions)
	timer.ObserveDuration()
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrProvisioningFailure, f.name, err)
		f.mu.Lock()
		f.err = err
		f.mu.Unlock()
		f.metrics.SubscriptionProvisioned(false)
		f.log.Error("failed to create subscription", slog.Any("error", err))
		return
	}

	f.mu.Lock()
	f.sub = sub
	f.mu.Unlock()
	f.metrics.SubscriptionProvisioned(true)
	f.log.Debug("subscription created")

	go f.receive(sub)
	close(f.ready)
}

func (f *Factory) receive(sub Subscription) {
	defer close(f.recvEnd)
	err := sub.Receive(f.recvCtx, f.onInboundRaw)
	if err != nil && f.recvCtx.Err() == nil {
		f.metrics.ReceiveError()
		f.log.Error("subscription receive failed", slog.Any("error", err))
	}
}

// onInboundRaw routes one provider frame to its namespace adapter. The frame
// is acked once the adapter is done with it, whatever happened: ack means
// "this process got it", and redelivery of a frame the adapter already
// dropped would only repeat the drop.
func (f *Factory) onInboundRaw(msg *Message) {
	defer msg.Ack()

	nsp, _ := msg.Attr(AttrNamespace)
	f.metrics.InboundReceived(nsp)

	a, ok := f.router.Lookup(nsp)
	if !ok {
		f.metrics.InboundDropped(nsp, DropUnknownNamespace)
		f.log.Debug("ignore message for unknown namespace", slog.String("nsp", nsp), slog.String("id", msg.ID))
		return
	}

	if f.seen != nil && msg.ID != "" {
		if dup, _ := f.seen.ContainsOrAdd(msg.ID, struct{}{}); dup {
			f.metrics.DuplicateDelivery(nsp)
			a.log.Debug("redelivered message", slog.String("id", msg.ID))
		}
	}

	if err := f.dispatch.Do(nsp, func() { a.HandleInbound(msg) }); err != nil {
		a.log.Debug("dropping message after shutdown", slog.String("id", msg.ID))
	}
}

// teardown runs once, after the last adapter closed. Failures are logged and
// counted; a leaked subscription is left to the provider's expiration policy.
func (f *Factory) teardown() {
	defer close(f.done)

	select {
	case <-f.settled:
	case <-time.After(f.opts.TeardownTimeout):
		// abort a create that hangs; a subscription it still manages to
		// create is leaked
		f.recvCancel()
		<-f.settled
	}

	f.mu.Lock()
	sub := f.sub
	f.mu.Unlock()

	f.recvCancel()
	if sub == nil {
		f.dispatch.Close()
		return
	}
	<-f.recvEnd
	f.dispatch.Close()

	f.log.Debug("deleting subscription")

	ctx, cancel := context.WithTimeout(context.WithoutCancel(f.recvCtx), f.opts.TeardownTimeout)
	defer cancel()

	if err := f.topic.DeleteSubscription(ctx, f.name); err != nil {
		f.metrics.SubscriptionDeleted(false)
		f.log.Error("failed to delete subscription", slog.Any("error", fmt.Errorf("%w: %w", ErrTeardownFailure, err)))
		return
	}
	f.metrics.SubscriptionDeleted(true)
	f.log.Debug("subscription deleted")
}
