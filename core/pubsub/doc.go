// Package pubsub lets cluster adapters exchange their control and broadcast
// traffic over one shared publish/subscribe topic instead of a socket mesh.
//
// # Architecture
//
// A process creates one [Factory] per topic. The factory provisions a fresh,
// uniquely named subscription (prefix plus 16 random hex characters) and
// hands out one [Adapter] per namespace:
//
//	topic := nats.NewTopic(...) // or gcp, redis, libp2p, NewMemoryTopic()
//	f, err := pubsub.NewFactory(ctx, topic, pubsub.Options{})
//
//	a, err := f.New("/", handler)
//	if err := a.Init(ctx); err != nil { ... }
//
//	offset, err := a.Publish(ctx, cluster.Message{Type: cluster.MsgHeartbeat})
//	err = a.PublishResponse(ctx, requesterUID, cluster.Response{...})
//
//	a.Close() // last adapter closed: subscription is deleted
//
// Provisioning is asynchronous and happens once per factory no matter how
// many adapters are created; [Adapter.Init] blocks until it finished.
//
// # Wire format
//
// The body of every frame is the [codec.Codec] encoding (msgpack by default)
// of a [cluster.Message] or [cluster.Response]. Routing never needs the body;
// it travels as attributes:
//
//   - nsp: namespace of the publishing adapter
//   - uid: identity of the publishing adapter
//   - requesterUid: present on responses, identity of the addressee
//
// # Delivery
//
// Providers deliver at-least-once and unordered. Every frame is acked right
// after its adapter handled it, whether it was applied, dropped as foreign
// or found malformed. Handlers must therefore tolerate duplicates. Frames for
// one namespace are handed to its adapter one at a time.
//
// # Errors
//
//   - [ErrPublishFailed]: returned by Publish and PublishResponse
//   - [ErrProvisioningFailure]: logged, exposed by [Factory.Err]; Init never completes
//   - [ErrMalformedPayload]: logged, frame dropped
//   - [ErrTeardownFailure]: logged, subscription leaked
package pubsub
