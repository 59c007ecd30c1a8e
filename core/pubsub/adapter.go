package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/codewandler/clstr-pubsub/core/cluster"
	"github.com/codewandler/clstr-pubsub/core/codec"
)

// Adapter is the transport of one namespace. It publishes onto the shared
// topic and receives through the factory's subscription.
//
// Every node publishes and subscribes on the same topic, so an adapter sees
// its own frames and responses addressed to other nodes; both are dropped
// before decoding.
type Adapter struct {
	f       *Factory
	nsp     string
	uid     string
	h       cluster.Handler
	codec   codec.Codec
	metrics Metrics
	log     *slog.Logger

	closed atomic.Bool
}

func (a *Adapter) Namespace() string { return a.nsp }

func (a *Adapter) UID() cluster.ServerID { return a.uid }

// Init waits for the process subscription. It never returns nil before the
// subscription exists; if provisioning failed it only returns once ctx is
// done, with the provisioning error attached.
func (a *Adapter) Init(ctx context.Context) error {
	if a.closed.Load() {
		return ErrAdapterClosed
	}
	return a.f.waitReady(ctx)
}

// Publish broadcasts msg to the namespace on every other node. It returns
// once the provider accepted the frame, which says nothing about delivery.
func (a *Adapter) Publish(ctx context.Context, msg cluster.Message) (cluster.Offset, error) {
	return a.publish(ctx, KindBroadcast, msg, nil)
}

// PublishResponse sends resp to requester. The frame still reaches every
// node; only requester hands it to its handler.
func (a *Adapter) PublishResponse(ctx context.Context, requester cluster.ServerID, resp cluster.Response) error {
	_, err := a.publish(ctx, KindResponse, resp, &requester)
	return err
}

func (a *Adapter) publish(ctx context.Context, kind string, v any, target *string) (string, error) {
	if a.closed.Load() {
		return "", ErrAdapterClosed
	}

	data, err := a.codec.Marshal(v)
	if err != nil {
		a.metrics.PublishCompleted(a.nsp, kind, false)
		return "", fmt.Errorf("%w: encode: %w", ErrPublishFailed, err)
	}

	attrs := map[string]string{
		AttrNamespace: a.nsp,
		AttrSenderID:  a.uid,
	}
	if target != nil {
		attrs[AttrTargetID] = *target
	}

	timer := a.metrics.PublishDuration(kind)
	id, err := a.f.topic.Publish(ctx, data, attrs)
	timer.ObserveDuration()
	a.metrics.PublishCompleted(a.nsp, kind, err == nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return id, nil
}

// HandleInbound classifies a raw frame and hands it to the handler. It never
// fails: frames that are not for this adapter or cannot be decoded are
// dropped and logged.
func (a *Adapter) HandleInbound(msg *Message) {
	if uid, _ := msg.Attr(AttrSenderID); uid == a.uid {
		a.metrics.InboundDropped(a.nsp, DropSelf)
		a.log.Debug("ignore message from self", slog.String("id", msg.ID))
		return
	}

	target, isResponse := msg.Attr(AttrTargetID)
	if isResponse && target != "" && target != a.uid {
		a.metrics.InboundDropped(a.nsp, DropForeignTarget)
		a.log.Debug("ignore response for another node", slog.String("id", msg.ID), slog.String("target", target))
		return
	}

	if isResponse {
		var resp cluster.Response
		if !a.decode(msg, &resp) {
			return
		}
		a.deliver(KindResponse, msg, func() { a.h.OnResponse(resp) })
		return
	}

	var m cluster.Message
	if !a.decode(msg, &m) {
		return
	}
	a.deliver(KindBroadcast, msg, func() { a.h.OnMessage(m) })
}

func (a *Adapter) decode(msg *Message, v any) bool {
	if err := a.codec.Unmarshal(msg.Data, v); err != nil {
		a.metrics.InboundDropped(a.nsp, DropMalformed)
		a.log.Warn(
			"dropping malformed message",
			slog.String("id", msg.ID),
			slog.Int("size", len(msg.Data)),
			slog.Any("error", err),
		)
		return false
	}
	return true
}

func (a *Adapter) deliver(kind string, msg *Message, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("handler panicked", slog.String("id", msg.ID), slog.String("kind", kind), slog.Any("recovered", r))
		}
	}()
	a.log.Debug("received", slog.String("id", msg.ID), slog.String("kind", kind))
	a.metrics.InboundDelivered(a.nsp, kind)
	fn()
}

// Close unregisters the adapter. Closing the last adapter of the factory
// deletes the subscription in the background. A closed adapter cannot be
// reused.
func (a *Adapter) Close() error {
	if a.closed.Swap(true) {
		return ErrAdapterClosed
	}
	a.f.unregister(a)
	return nil
}

var _ cluster.Transport = (*Adapter)(nil)
