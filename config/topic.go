package config

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/codewandler/clstr-pubsub/adapters/gcp"
	"github.com/codewandler/clstr-pubsub/adapters/libp2p"
	"github.com/codewandler/clstr-pubsub/adapters/nats"
	"github.com/codewandler/clstr-pubsub/adapters/redis"
	"github.com/codewandler/clstr-pubsub/core/pubsub"
)

// Topic is a pubsub.Topic that holds provider resources until closed.
type Topic interface {
	pubsub.Topic
	Close() error
}

type memoryTopic struct{ *pubsub.MemoryTopic }

func (memoryTopic) Close() error { return nil }

// OpenTopic connects to the configured provider.
func (c *Config) OpenTopic(ctx context.Context, log *slog.Logger) (Topic, error) {
	if log == nil {
		log = slog.Default()
	}

	switch c.Provider {
	case ProviderMemory:
		return memoryTopic{pubsub.NewMemoryTopic(pubsub.MemoryTopicOpts{Log: log})}, nil

	case ProviderNATS:
		t, err := nats.NewTopic(nats.TopicConfig{
			Connect: nats.ConnectURL(c.NATS.URL),
			Log:     log,
			Stream:  c.NATS.Stream,
			Subject: c.NATS.Subject,
			MaxAge:  c.NATS.MaxAge,
		})
		return checked(t, err)

	case ProviderGCP:
		var opts []option.ClientOption
		if c.GCP.Emulator != "" {
			opts = append(opts,
				option.WithEndpoint(c.GCP.Emulator),
				option.WithoutAuthentication(),
				option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			)
		}
		t, err := gcp.NewTopic(ctx, gcp.TopicConfig{
			ProjectID:     c.GCP.Project,
			TopicID:       c.GCP.Topic,
			Log:           log,
			ClientOptions: opts,
			CreateTopic:   c.GCP.CreateTopic,
		})
		return checked(t, err)

	case ProviderRedis:
		t, err := redis.NewTopic(redis.TopicConfig{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			Channel:  c.Redis.Channel,
			Log:      log,
		})
		return checked(t, err)

	case ProviderLibp2p:
		t, err := libp2p.NewTopic(ctx, libp2p.TopicConfig{
			ListenAddrs: c.Libp2p.Listen,
			Bootstrap:   c.Libp2p.Bootstrap,
			Topic:       c.Libp2p.Topic,
			Log:         log,
		})
		return checked(t, err)

	default:
		return nil, fmt.Errorf("config: unknown provider %q", c.Provider)
	}
}

// checked keeps a typed nil out of the returned interface.
func checked[T Topic](t T, err error) (Topic, error) {
	if err != nil {
		return nil, err
	}
	return t, nil
}
