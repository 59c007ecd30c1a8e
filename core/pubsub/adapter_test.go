package pubsub

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/clstr-pubsub/core/cluster"
	"github.com/codewandler/clstr-pubsub/core/codec"
)

type adapterFixture struct {
	topic   *MemoryTopic
	factory *Factory
	adapter *Adapter
	rec     *cluster.Recorder
	metrics *countingMetrics
}

func newAdapterFixture(t *testing.T, topicOpts ...MemoryTopicOpts) *adapterFixture {
	t.Helper()
	fx := &adapterFixture{
		topic:   NewMemoryTopic(topicOpts...),
		rec:     cluster.NewRecorder(),
		metrics: newCountingMetrics(),
	}
	fx.factory = CreateTestFactory(t, fx.topic, Options{Metrics: fx.metrics})

	var err error
	fx.adapter, err = fx.factory.New("/", fx.rec, WithUID("me"))
	require.NoError(t, err)
	return fx
}

func encode(t *testing.T, v any) []byte {
	t.Helper()
	b, err := codec.Msgpack{}.Marshal(v)
	require.NoError(t, err)
	return b
}

func rawFrame(data []byte, attrs map[string]string) *Message {
	return NewMessage("m1", data, attrs, nil)
}

func TestAdapter_Identity(t *testing.T) {
	fx := newAdapterFixture(t)
	require.Equal(t, "/", fx.adapter.Namespace())
	require.Equal(t, "me", fx.adapter.UID())

	other, err := fx.factory.New("/admin", cluster.NewRecorder())
	require.NoError(t, err)
	require.NotEmpty(t, other.UID())
	require.NotEqual(t, "me", other.UID())
}

func TestAdapter_HandleInbound(t *testing.T) {
	fx := newAdapterFixture(t)
	msg := cluster.Message{UID: "peer", NSP: "/", Type: cluster.MsgSocketsJoin, Data: map[string]any{"room": "r1"}}
	resp := cluster.Response{UID: "peer", NSP: "/", Type: cluster.MsgFetchSocketsResponse, Data: "sockets"}

	// own frames
	fx.adapter.HandleInbound(rawFrame(encode(t, msg), map[string]string{
		AttrNamespace: "/",
		AttrSenderID:  "me",
	}))
	require.Empty(t, fx.rec.Messages())
	require.Equal(t, 1, fx.metrics.Count("dropped", "/", DropSelf))

	// response for another node
	fx.adapter.HandleInbound(rawFrame(encode(t, resp), map[string]string{
		AttrNamespace: "/",
		AttrSenderID:  "peer",
		AttrTargetID:  "someone-else",
	}))
	require.Empty(t, fx.rec.Responses())
	require.Equal(t, 1, fx.metrics.Count("dropped", "/", DropForeignTarget))

	// broadcast
	fx.adapter.HandleInbound(rawFrame(encode(t, msg), map[string]string{
		AttrNamespace: "/",
		AttrSenderID:  "peer",
	}))
	require.Len(t, fx.rec.Messages(), 1)
	got := fx.rec.Messages()[0]
	require.Equal(t, cluster.MsgSocketsJoin, got.Type)
	require.Equal(t, "peer", got.UID)
	require.Equal(t, map[string]any{"room": "r1"}, got.Data)

	// response addressed to this node
	fx.adapter.HandleInbound(rawFrame(encode(t, resp), map[string]string{
		AttrNamespace: "/",
		AttrSenderID:  "peer",
		AttrTargetID:  "me",
	}))
	require.Equal(t, []cluster.Response{resp}, fx.rec.Responses())

	// an empty target is still a response, addressed to nobody in particular
	fx.adapter.HandleInbound(rawFrame(encode(t, resp), map[string]string{
		AttrNamespace: "/",
		AttrSenderID:  "peer",
		AttrTargetID:  "",
	}))
	require.Len(t, fx.rec.Responses(), 2)
	require.Len(t, fx.rec.Messages(), 1)

	require.Equal(t, 1, fx.metrics.Count("delivered", "/", KindBroadcast))
	require.Equal(t, 2, fx.metrics.Count("delivered", "/", KindResponse))
}

func TestAdapter_MalformedFrameIsDropped(t *testing.T) {
	fx := newAdapterFixture(t)
	attrs := map[string]string{AttrNamespace: "/", AttrSenderID: "peer"}

	require.NotPanics(t, func() {
		fx.adapter.HandleInbound(rawFrame([]byte{0xc1, 0x00, 0xff}, attrs))
		fx.adapter.HandleInbound(rawFrame(nil, attrs))
	})
	require.Empty(t, fx.rec.Messages())
	require.Equal(t, 2, fx.metrics.Count("dropped", "/", DropMalformed))

	// the adapter keeps working afterwards
	fx.adapter.HandleInbound(rawFrame(encode(t, cluster.Message{Type: cluster.MsgHeartbeat}), attrs))
	require.Len(t, fx.rec.Messages(), 1)
}

func TestAdapter_HandlerPanicIsRecovered(t *testing.T) {
	fx := newAdapterFixture(t)
	calls := 0
	a, err := fx.factory.New("/boom", cluster.HandlerFuncs{
		Message: func(cluster.Message) {
			calls++
			panic("handler bug")
		},
	})
	require.NoError(t, err)

	attrs := map[string]string{AttrNamespace: "/boom", AttrSenderID: "peer"}
	require.NotPanics(t, func() {
		a.HandleInbound(rawFrame(encode(t, cluster.Message{Type: cluster.MsgBroadcast}), attrs))
		a.HandleInbound(rawFrame(encode(t, cluster.Message{Type: cluster.MsgBroadcast}), attrs))
	})
	require.Equal(t, 2, calls)
}

func TestAdapter_PublishAttributes(t *testing.T) {
	fx := newAdapterFixture(t)
	probe, err := fx.topic.CreateSubscription(t.Context(), "probe", SubscriptionOptions{})
	require.NoError(t, err)

	msg := cluster.Message{UID: "me", NSP: "/", Type: cluster.MsgBroadcast, Data: []any{"hello"}}
	id, err := fx.adapter.Publish(t.Context(), msg)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got := receiveOne(t, probe)
	require.Equal(t, id, got.ID)
	require.Equal(t, map[string]string{AttrNamespace: "/", AttrSenderID: "me"}, got.Attributes)
	require.Equal(t, encode(t, msg), got.Data)

	resp := cluster.Response{UID: "me", NSP: "/", Type: cluster.MsgServerSideEmitResponse}
	require.NoError(t, fx.adapter.PublishResponse(t.Context(), "requester", resp))

	got = receiveOne(t, probe)
	require.Equal(t, map[string]string{
		AttrNamespace: "/",
		AttrSenderID:  "me",
		AttrTargetID:  "requester",
	}, got.Attributes)

	require.NoError(t, fx.adapter.PublishResponse(t.Context(), "", resp))
	got = receiveOne(t, probe)
	target, ok := got.Attr(AttrTargetID)
	require.True(t, ok)
	require.Empty(t, target)

	require.Equal(t, 1, fx.metrics.Count("publish", "/", KindBroadcast, true))
	require.Equal(t, 2, fx.metrics.Count("publish", "/", KindResponse, true))
}

func TestAdapter_PublishFailure(t *testing.T) {
	boom := errors.New("quota exceeded")
	fx := newAdapterFixture(t, MemoryTopicOpts{FailPublish: boom})

	_, err := fx.adapter.Publish(t.Context(), cluster.Message{Type: cluster.MsgBroadcast})
	require.ErrorIs(t, err, ErrPublishFailed)
	require.ErrorIs(t, err, boom)

	err = fx.adapter.PublishResponse(t.Context(), "x", cluster.Response{Type: cluster.MsgBroadcastAck})
	require.ErrorIs(t, err, ErrPublishFailed)

	require.Equal(t, 1, fx.metrics.Count("publish", "/", KindBroadcast, false))
	require.Equal(t, 1, fx.metrics.Count("publish", "/", KindResponse, false))
}

func TestAdapter_EncodeFailure(t *testing.T) {
	fx := newAdapterFixture(t)

	_, err := fx.adapter.Publish(t.Context(), cluster.Message{Data: make(chan int)})
	require.ErrorIs(t, err, ErrPublishFailed)
	require.Equal(t, 0, fx.topic.Published())
}

func TestAdapter_Closed(t *testing.T) {
	fx := newAdapterFixture(t)
	require.NoError(t, fx.adapter.Init(t.Context()))
	require.NoError(t, fx.adapter.Close())

	require.ErrorIs(t, fx.adapter.Init(t.Context()), ErrAdapterClosed)
	_, err := fx.adapter.Publish(t.Context(), cluster.Message{})
	require.ErrorIs(t, err, ErrAdapterClosed)
	require.ErrorIs(t, fx.adapter.PublishResponse(t.Context(), "x", cluster.Response{}), ErrAdapterClosed)
	require.ErrorIs(t, fx.adapter.Close(), ErrAdapterClosed)
}
