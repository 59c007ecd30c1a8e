package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/clstr-pubsub/core/codec"
	"github.com/codewandler/clstr-pubsub/core/pubsub"
)

const sampleConfig = `
provider = "nats"

[log]
level = "debug"

[pubsub]
subscription_prefix = "chat"
codec = "json"
teardown_timeout = "3s"
ack_deadline = "20s"
expiration_ttl = "24h"

[pubsub.labels]
app = "chat"

[nats]
url = "nats://nats:4222"
stream = "chat"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	c, err := LoadFrom(New(), "")
	require.NoError(t, err)

	require.Equal(t, ProviderMemory, c.Provider)
	require.Equal(t, pubsub.DefaultSubscriptionPrefix, c.PubSub.SubscriptionPrefix)
	require.Equal(t, pubsub.DefaultTeardownTimeout, c.PubSub.TeardownTimeout)
	require.Equal(t, pubsub.DefaultDuplicateWindow, c.PubSub.DuplicateWindow)
	require.Equal(t, "SOCKETIO", c.NATS.Stream)
	require.Equal(t, time.Hour, c.NATS.MaxAge)
	require.Equal(t, []string{"/ip4/0.0.0.0/tcp/0"}, c.Libp2p.Listen)
	require.Equal(t, slog.LevelInfo, c.LogLevel())
}

func TestLoad_File(t *testing.T) {
	c, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	require.Equal(t, ProviderNATS, c.Provider)
	require.Equal(t, slog.LevelDebug, c.LogLevel())
	require.Equal(t, "chat", c.PubSub.SubscriptionPrefix)
	require.Equal(t, 3*time.Second, c.PubSub.TeardownTimeout)
	require.Equal(t, 20*time.Second, c.PubSub.AckDeadline)
	require.Equal(t, 24*time.Hour, c.PubSub.ExpirationTTL)
	require.Equal(t, map[string]string{"app": "chat"}, c.PubSub.Labels)
	require.Equal(t, "nats://nats:4222", c.NATS.URL)
	require.Equal(t, "chat", c.NATS.Stream)
	// untouched keys keep their defaults
	require.Equal(t, "socket.io.adapter", c.NATS.Subject)

	opts, err := c.Options(nil, nil)
	require.NoError(t, err)
	require.Equal(t, "chat", opts.SubscriptionPrefix)
	require.Equal(t, codec.JSON{}, opts.Codec)
	require.Equal(t, 20*time.Second, opts.SubscriptionOptions.AckDeadline)
	require.Equal(t, 24*time.Hour, opts.SubscriptionOptions.ExpirationTTL)
	require.Equal(t, map[string]string{"app": "chat"}, opts.SubscriptionOptions.Labels)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("CLSTR_PROVIDER", "redis")
	t.Setenv("CLSTR_REDIS_ADDR", "redis:6379")
	t.Setenv("CLSTR_PUBSUB_ACK_DEADLINE", "45s")
	t.Setenv("CLSTR_PUBSUB_DUPLICATE_WINDOW", "-1")

	c, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	require.Equal(t, ProviderRedis, c.Provider)
	require.Equal(t, "redis:6379", c.Redis.Addr)
	require.Equal(t, 45*time.Second, c.PubSub.AckDeadline)
	require.Equal(t, -1, c.PubSub.DuplicateWindow)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, `provider = "kafka"`))
	require.ErrorContains(t, err, "unknown provider")

	_, err = Load(writeConfig(t, `provider = "gcp"`))
	require.ErrorContains(t, err, "gcp.project")

	_, err = Load(writeConfig(t, "[pubsub]\ncodec = \"xml\""))
	require.ErrorContains(t, err, "unknown codec")
}

func TestOpenTopic(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		c, err := LoadFrom(New(), "")
		require.NoError(t, err)

		tp, err := c.OpenTopic(t.Context(), nil)
		require.NoError(t, err)
		defer tp.Close()

		opts, err := c.Options(slog.Default(), nil)
		require.NoError(t, err)
		f := pubsub.CreateTestFactory(t, tp, opts)
		require.Regexp(t, `^socket\.io-[0-9a-f]{16}$`, f.SubscriptionName())
	})

	t.Run("libp2p", func(t *testing.T) {
		c := &Config{
			Provider: ProviderLibp2p,
			Libp2p:   Libp2pConfig{Listen: []string{"/ip4/127.0.0.1/tcp/0"}, Topic: "config-test"},
		}
		tp, err := c.OpenTopic(t.Context(), nil)
		require.NoError(t, err)
		require.NoError(t, tp.Close())
	})

	t.Run("unknown", func(t *testing.T) {
		c := &Config{Provider: "kafka"}
		tp, err := c.OpenTopic(t.Context(), nil)
		require.Error(t, err)
		require.Nil(t, tp)
	})
}
