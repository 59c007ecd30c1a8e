// Package config loads process settings from a TOML file and CLSTR_
// environment variables, and turns them into transport options and a topic.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/codewandler/clstr-pubsub/core/codec"
	"github.com/codewandler/clstr-pubsub/core/pubsub"
)

const envPrefix = "CLSTR"

// Providers understood by OpenTopic.
const (
	ProviderMemory = "memory"
	ProviderNATS   = "nats"
	ProviderGCP    = "gcp"
	ProviderRedis  = "redis"
	ProviderLibp2p = "libp2p"
)

type Config struct {
	Provider string        `mapstructure:"provider"`
	Log      LogConfig     `mapstructure:"log"`
	PubSub   PubSubConfig  `mapstructure:"pubsub"`
	NATS     NATSConfig    `mapstructure:"nats"`
	GCP      GCPConfig     `mapstructure:"gcp"`
	Redis    RedisConfig   `mapstructure:"redis"`
	Libp2p   Libp2pConfig  `mapstructure:"libp2p"`
	Metrics  MetricsConfig `mapstructure:"metrics"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type PubSubConfig struct {
	SubscriptionPrefix string            `mapstructure:"subscription_prefix"`
	Codec              string            `mapstructure:"codec"`
	TeardownTimeout    time.Duration     `mapstructure:"teardown_timeout"`
	DuplicateWindow    int               `mapstructure:"duplicate_window"`
	AckDeadline        time.Duration     `mapstructure:"ack_deadline"`
	Filter             string            `mapstructure:"filter"`
	RetentionDuration  time.Duration     `mapstructure:"retention_duration"`
	ExpirationTTL      time.Duration     `mapstructure:"expiration_ttl"`
	Labels             map[string]string `mapstructure:"labels"`
}

type NATSConfig struct {
	URL     string        `mapstructure:"url"`
	Stream  string        `mapstructure:"stream"`
	Subject string        `mapstructure:"subject"`
	MaxAge  time.Duration `mapstructure:"max_age"`
}

type GCPConfig struct {
	Project string `mapstructure:"project"`
	Topic   string `mapstructure:"topic"`
	// Emulator is the host:port of a Pub/Sub emulator. Credentials are not
	// used when set.
	Emulator    string `mapstructure:"emulator"`
	CreateTopic bool   `mapstructure:"create_topic"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type Libp2pConfig struct {
	Listen    []string `mapstructure:"listen"`
	Bootstrap []string `mapstructure:"bootstrap"`
	Topic     string   `mapstructure:"topic"`
}

type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. ":9090".
	Addr string `mapstructure:"addr"`
}

// New returns a viper instance with every default set, so each key can be
// overridden from the environment: pubsub.ack_deadline is read from
// CLSTR_PUBSUB_ACK_DEADLINE.
func New() *viper.Viper {
	v := viper.New()
	v.SetTypeByDefaultValue(true)
	v.SetConfigType("toml")
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/clstr")
	v.AddConfigPath("$HOME/.config/clstr")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("provider", ProviderMemory)
	v.SetDefault("log.level", "info")

	v.SetDefault("pubsub.subscription_prefix", pubsub.DefaultSubscriptionPrefix)
	v.SetDefault("pubsub.codec", "msgpack")
	v.SetDefault("pubsub.teardown_timeout", pubsub.DefaultTeardownTimeout)
	v.SetDefault("pubsub.duplicate_window", pubsub.DefaultDuplicateWindow)
	v.SetDefault("pubsub.ack_deadline", time.Duration(0))
	v.SetDefault("pubsub.filter", "")
	v.SetDefault("pubsub.retention_duration", time.Duration(0))
	v.SetDefault("pubsub.expiration_ttl", time.Duration(0))

	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.stream", "SOCKETIO")
	v.SetDefault("nats.subject", "socket.io.adapter")
	v.SetDefault("nats.max_age", time.Hour)

	v.SetDefault("gcp.project", "")
	v.SetDefault("gcp.topic", "socket.io")
	v.SetDefault("gcp.emulator", "")
	v.SetDefault("gcp.create_topic", false)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "socket.io")

	v.SetDefault("libp2p.listen", []string{"/ip4/0.0.0.0/tcp/0"})
	v.SetDefault("libp2p.bootstrap", []string{})
	v.SetDefault("libp2p.topic", "socket.io")

	v.SetDefault("metrics.addr", "")
	return v
}

// Load reads path, or config.toml from the search paths when path is empty.
// A missing default file is not an error.
func Load(path string) (*Config, error) {
	return LoadFrom(New(), path)
}

func LoadFrom(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderMemory, ProviderNATS, ProviderRedis, ProviderLibp2p:
	case ProviderGCP:
		if c.GCP.Project == "" {
			return errors.New("config: gcp.project is required")
		}
	default:
		return fmt.Errorf("config: unknown provider %q", c.Provider)
	}
	if _, err := codec.ByName(c.PubSub.Codec); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// LogLevel parses log.level, falling back to info.
func (c *Config) LogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Options builds the factory options. log and metrics may be nil.
func (c *Config) Options(log *slog.Logger, metrics pubsub.Metrics) (pubsub.Options, error) {
	cd, err := codec.ByName(c.PubSub.Codec)
	if err != nil {
		return pubsub.Options{}, err
	}
	return pubsub.Options{
		SubscriptionPrefix: c.PubSub.SubscriptionPrefix,
		SubscriptionOptions: pubsub.SubscriptionOptions{
			AckDeadline:       c.PubSub.AckDeadline,
			Filter:            c.PubSub.Filter,
			RetentionDuration: c.PubSub.RetentionDuration,
			ExpirationTTL:     c.PubSub.ExpirationTTL,
			Labels:            c.PubSub.Labels,
		},
		Codec:           cd,
		Log:             log,
		Metrics:         metrics,
		TeardownTimeout: c.PubSub.TeardownTimeout,
		DuplicateWindow: c.PubSub.DuplicateWindow,
	}, nil
}
