// Package libp2p binds the pub/sub transport to a GossipSub topic, for
// deployments without a managed broker.
//
// Gossip delivery is best effort: there are no acknowledgements and no
// retention, and a peer only receives frames once the mesh has learned about
// its subscription.
package libp2p

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	lpubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/rs/xid"

	"github.com/codewandler/clstr-pubsub/core/pubsub"
	"github.com/codewandler/clstr-pubsub/internal/frame"
)

const defaultTopic = "socket.io"

type TopicConfig struct {
	ListenAddrs []string     // ListenAddrs as multiaddrs (default /ip4/0.0.0.0/tcp/0)
	Bootstrap   []string     // Bootstrap peers as full /p2p/ multiaddrs
	Topic       string       // Topic name (default socket.io)
	Log         *slog.Logger // Log for diagnostics (optional)
}

// Topic is a pubsub.Topic on a GossipSub topic joined by a local host.
type Topic struct {
	ctx    context.Context
	cancel context.CancelFunc
	host   host.Host
	ps     *lpubsub.PubSub
	topic  *lpubsub.Topic
	log    *slog.Logger

	mu   sync.Mutex
	subs map[string]*subscription
}

func NewTopic(parent context.Context, cfg TopicConfig) (*Topic, error) {
	if cfg.Topic == "" {
		cfg.Topic = defaultTopic
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	listen := make([]ma.Multiaddr, 0, len(cfg.ListenAddrs))
	for _, s := range cfg.ListenAddrs {
		a, err := ma.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("libp2p: invalid listen multiaddr %q: %w", s, err)
		}
		listen = append(listen, a)
	}
	if len(listen) == 0 {
		a, _ := ma.NewMultiaddr("/ip4/0.0.0.0/tcp/0")
		listen = append(listen, a)
	}

	ctx, cancel := context.WithCancel(parent)

	h, err := libp2p.New(libp2p.ListenAddrs(listen...))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("libp2p: create host: %w", err)
	}

	ps, err := lpubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		cancel()
		return nil, fmt.Errorf("libp2p: create gossipsub: %w", err)
	}

	topic, err := ps.Join(cfg.Topic)
	if err != nil {
		_ = h.Close()
		cancel()
		return nil, fmt.Errorf("libp2p: join %s: %w", cfg.Topic, err)
	}

	t := &Topic{
		ctx:    ctx,
		cancel: cancel,
		host:   h,
		ps:     ps,
		topic:  topic,
		log:    log.With(slog.String("topic", "libp2p"), slog.String("name", cfg.Topic), slog.String("peer", h.ID().String())),
		subs:   make(map[string]*subscription),
	}

	for _, raw := range cfg.Bootstrap {
		if err := t.Connect(ctx, raw); err != nil {
			t.log.Warn("bootstrap connect failed", slog.String("addr", raw), slog.Any("error", err))
		}
	}
	return t, nil
}

// Connect dials a peer given as a full /p2p/ multiaddr.
func (t *Topic) Connect(ctx context.Context, addr string) error {
	a, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(a)
	if err != nil {
		return err
	}
	if err := t.host.Connect(ctx, *info); err != nil {
		return err
	}
	t.log.Debug("connected peer", slog.String("remote", info.ID.String()))
	return nil
}

// Addrs returns the dialable addresses of the local host including its peer id.
func (t *Topic) Addrs() []string {
	out := make([]string, 0, len(t.host.Addrs()))
	for _, addr := range t.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", addr, t.host.ID()))
	}
	return out
}

// Peers returns the peers currently in the topic mesh.
func (t *Topic) Peers() []peer.ID { return t.topic.ListPeers() }

func (t *Topic) Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error) {
	f := frame.New(xid.New().String(), data, attrs)
	b, err := frame.Encode(f)
	if err != nil {
		return "", fmt.Errorf("libp2p: encode frame: %w", err)
	}
	if err := t.topic.Publish(ctx, b); err != nil {
		return "", fmt.Errorf("libp2p: publish: %w", err)
	}
	return f.ID, nil
}

func (t *Topic) CreateSubscription(ctx context.Context, name string, _ pubsub.SubscriptionOptions) (pubsub.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subs[name]; ok {
		return nil, fmt.Errorf("%w: %s", pubsub.ErrSubscriptionExists, name)
	}

	sub, err := t.topic.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("libp2p: subscribe: %w", err)
	}
	s := &subscription{
		name:    name,
		sub:     sub,
		deleted: make(chan struct{}),
		log:     t.log.With(slog.String("subscription", name)),
	}
	t.subs[name] = s
	return s, nil
}

func (t *Topic) DeleteSubscription(_ context.Context, name string) error {
	t.mu.Lock()
	s, ok := t.subs[name]
	delete(t.subs, name)
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", pubsub.ErrSubscriptionNotFound, name)
	}
	close(s.deleted)
	s.sub.Cancel()
	return nil
}

// Close leaves the topic and shuts the host down.
func (t *Topic) Close() error {
	t.mu.Lock()
	for name, s := range t.subs {
		close(s.deleted)
		s.sub.Cancel()
		delete(t.subs, name)
	}
	t.mu.Unlock()

	t.cancel()
	if err := t.topic.Close(); err != nil {
		t.log.Debug("close topic", slog.Any("error", err))
	}
	return t.host.Close()
}

type subscription struct {
	name    string
	sub     *lpubsub.Subscription
	deleted chan struct{}
	log     *slog.Logger
}

func (s *subscription) Name() string { return s.name }

func (s *subscription) Receive(ctx context.Context, h func(*pubsub.Message)) error {
	for {
		msg, err := s.sub.Next(ctx)
		if err != nil {
			select {
			case <-s.deleted:
				return fmt.Errorf("%w: %s", pubsub.ErrSubscriptionNotFound, s.name)
			default:
			}
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, lpubsub.ErrSubscriptionCancelled) {
				return fmt.Errorf("%w: %s", pubsub.ErrSubscriptionNotFound, s.name)
			}
			return fmt.Errorf("libp2p: next: %w", err)
		}

		f, err := frame.Decode(msg.Data)
		if err != nil {
			s.log.Warn("dropping foreign payload", slog.String("from", msg.ReceivedFrom.String()), slog.Any("error", err))
			continue
		}
		m := pubsub.NewMessage(f.ID, f.Data, f.Attributes, nil)
		m.PublishTime = f.PublishTime()
		h(m)
	}
}

var _ pubsub.Topic = (*Topic)(nil)
