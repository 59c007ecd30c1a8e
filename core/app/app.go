package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/clstr-pubsub/core/cluster"
	"github.com/codewandler/clstr-pubsub/core/pubsub"
)

type Config struct {
	Context context.Context
	Log     *slog.Logger
	// ID names the process in logs. Generated when empty.
	ID string
	// Topic is the shared topic. An in-process MemoryTopic when nil, which
	// only makes sense for tests and single-process setups.
	Topic   pubsub.Topic
	Options pubsub.Options
	// InitTimeout bounds how long Run waits for the subscription (default 30s).
	InitTimeout time.Duration
}

// Namespace pairs a namespace with the handler serving it.
type Namespace struct {
	Name    string
	Handler cluster.Handler
	Opts    []pubsub.AdapterOption
}

// App hosts the transport of one process: a single Factory, and therefore a
// single subscription, shared by every namespace the process serves.
type App struct {
	ctx       context.Context
	cancelCtx context.CancelFunc
	log       *slog.Logger
	factory   *pubsub.Factory
	initWait  time.Duration

	mu       sync.Mutex
	adapters map[string]*pubsub.Adapter

	shutdownOnce sync.Once
	shutdownErr  error
}

func New(config Config) (app *App, err error) {
	app = &App{adapters: make(map[string]*pubsub.Adapter)}

	app.initWait = config.InitTimeout
	if app.initWait <= 0 {
		app.initWait = 30 * time.Second
	}

	if config.ID == "" {
		config.ID = fmt.Sprintf("node-%s", gonanoid.Must(6))
	}

	// === logger ===
	if config.Log == nil {
		config.Log = slog.Default()
	}
	app.log = config.Log.With(slog.String("node", config.ID))

	// === context ===
	if config.Context == nil {
		config.Context = context.Background()
	}
	app.ctx, app.cancelCtx = context.WithCancel(config.Context)

	// === topic ===
	if config.Topic == nil {
		config.Topic = pubsub.NewMemoryTopic(pubsub.MemoryTopicOpts{Log: app.log})
	}

	opts := config.Options
	if opts.Log == nil {
		opts.Log = app.log
	}

	app.factory, err = pubsub.NewFactory(app.ctx, config.Topic, opts)
	if err != nil {
		app.cancelCtx()
		return nil, err
	}

	app.log.Debug("creating app", slog.String("subscription", app.factory.SubscriptionName()))
	return app, nil
}

func (a *App) Factory() *pubsub.Factory { return a.factory }

// Namespace creates the adapter for name and waits until it is ready. The
// adapter is closed again if ctx ends first.
func (a *App) Namespace(ctx context.Context, name string, h cluster.Handler, opts ...pubsub.AdapterOption) (*pubsub.Adapter, error) {
	ad, err := a.factory.New(name, h, opts...)
	if err != nil {
		return nil, err
	}
	if err := ad.Init(ctx); err != nil {
		_ = ad.Close()
		return nil, fmt.Errorf("init namespace %q: %w", name, err)
	}

	a.mu.Lock()
	a.adapters[name] = ad
	a.mu.Unlock()

	a.log.Info("namespace ready", slog.String("nsp", name), slog.String("uid", ad.UID()))
	return ad, nil
}

// Adapter returns the adapter serving name, if any.
func (a *App) Adapter(name string) (*pubsub.Adapter, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ad, ok := a.adapters[name]
	return ad, ok
}

// CloseNamespace closes the adapter of name. Closing the last namespace
// deletes the process subscription.
func (a *App) CloseNamespace(name string) error {
	a.mu.Lock()
	ad, ok := a.adapters[name]
	delete(a.adapters, name)
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("namespace %q: not open", name)
	}
	return ad.Close()
}

// Shutdown closes every namespace, waits for the subscription to be deleted
// and stops the app. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		defer a.cancelCtx()

		a.mu.Lock()
		clear(a.adapters)
		a.mu.Unlock()

		if err := a.factory.Close(); err != nil && !errors.Is(err, pubsub.ErrFactoryClosed) {
			a.shutdownErr = err
			return
		}
		if err := a.factory.Wait(ctx); err != nil {
			a.shutdownErr = fmt.Errorf("wait for teardown: %w", err)
			return
		}
		a.log.Info("app stopped")
	})
	return a.shutdownErr
}

// Stop cancels the app context without tearing anything down. The
// subscription is left to the provider's expiration policy.
func (a *App) Stop() {
	a.cancelCtx()
}

// Done is closed once the app was stopped or shut down.
func (a *App) Done() <-chan struct{} {
	return a.ctx.Done()
}

// Run creates the app and opens every namespace.
func Run(config Config, namespaces ...Namespace) (app *App, err error) {
	app, err = New(config)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(app.ctx, app.initWait)
	defer cancel()

	for _, ns := range namespaces {
		if _, err = app.Namespace(ctx, ns.Name, ns.Handler, ns.Opts...); err != nil {
			app.Stop()
			return nil, err
		}
	}

	return app, nil
}
