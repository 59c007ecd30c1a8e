package app

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/clstr-pubsub/core/cluster"
	"github.com/codewandler/clstr-pubsub/core/pubsub"
)

func TestApp(t *testing.T) {
	slog.SetLogLoggerLevel(slog.LevelInfo)

	topic := pubsub.NewMemoryTopic()
	rec1 := cluster.NewRecorder()
	rec2 := cluster.NewRecorder()

	app1, err := Run(Config{ID: "n1", Topic: topic}, Namespace{Name: "/", Handler: rec1})
	require.NoError(t, err)
	app2, err := Run(Config{ID: "n2", Topic: topic}, Namespace{Name: "/", Handler: rec2})
	require.NoError(t, err)

	a1, ok := app1.Adapter("/")
	require.True(t, ok)
	a2, ok := app2.Adapter("/")
	require.True(t, ok)

	_, err = a1.Publish(t.Context(), cluster.Message{UID: a1.UID(), NSP: "/", Type: cluster.MsgBroadcast, Data: "hello"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rec2.Messages()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, a2.PublishResponse(t.Context(), a1.UID(), cluster.Response{UID: a2.UID(), NSP: "/", Type: cluster.MsgBroadcastAck}))
	require.Eventually(t, func() bool { return len(rec1.Responses()) == 1 }, time.Second, 5*time.Millisecond)
	require.Empty(t, rec1.Messages())

	require.NoError(t, app1.Shutdown(t.Context()))
	require.NoError(t, app2.Shutdown(t.Context()))
	require.Empty(t, topic.Subscriptions())
}

func TestApp_Namespaces(t *testing.T) {
	app, err := New(Config{})
	require.NoError(t, err)

	_, err = app.Namespace(t.Context(), "/", cluster.NewRecorder())
	require.NoError(t, err)
	_, err = app.Namespace(t.Context(), "/", cluster.NewRecorder())
	require.ErrorIs(t, err, pubsub.ErrNamespaceRegistered)

	admin, err := app.Namespace(t.Context(), "/admin", cluster.NewRecorder(), pubsub.WithUID("admin-1"))
	require.NoError(t, err)
	require.Equal(t, "admin-1", admin.UID())
	require.ElementsMatch(t, []string{"/", "/admin"}, app.Factory().Namespaces())

	require.NoError(t, app.CloseNamespace("/admin"))
	require.Error(t, app.CloseNamespace("/admin"))
	_, ok := app.Adapter("/admin")
	require.False(t, ok)
	require.False(t, app.Factory().Closed())

	require.NoError(t, app.Shutdown(t.Context()))
}

func TestApp_InitTimeout(t *testing.T) {
	boom := errors.New("forbidden")
	topic := pubsub.NewMemoryTopic(pubsub.MemoryTopicOpts{FailCreate: boom})

	_, err := Run(Config{Topic: topic, InitTimeout: 50 * time.Millisecond}, Namespace{Name: "/", Handler: cluster.NewRecorder()})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.ErrorIs(t, err, pubsub.ErrProvisioningFailure)
}

func TestApp_Shutdown(t *testing.T) {
	topic := pubsub.NewMemoryTopic()
	app, err := Run(Config{Topic: topic}, Namespace{Name: "/", Handler: cluster.NewRecorder()})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, app.Shutdown(ctx))
	require.NoError(t, app.Shutdown(ctx))
	require.Equal(t, 1, topic.DeleteCalls())

	// Done channel should be closed
	select {
	case <-app.Done():
		// ok
	default:
		t.Fatal("Done() should be closed after Shutdown")
	}
}

func TestApp_ShutdownWithoutNamespaces(t *testing.T) {
	topic := pubsub.NewMemoryTopic()
	app, err := Run(Config{Topic: topic})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(topic.Subscriptions()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, app.Shutdown(t.Context()))
	require.Empty(t, topic.Subscriptions())
}

func TestApp_Stop(t *testing.T) {
	app, err := Run(Config{})
	require.NoError(t, err)

	app.Stop()

	// Should be idempotent
	app.Stop()

	select {
	case <-app.Done():
		// ok
	case <-time.After(time.Second):
		t.Fatal("Done() should be closed after Stop")
	}
}
