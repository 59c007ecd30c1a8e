// Package serial runs work one item at a time per key while different keys
// proceed concurrently.
//
// The pub/sub factory keys inbound frames by namespace: a provider may call
// its receive callback from many goroutines, but each namespace handler sees
// frames strictly one after another, in the order they were handed over.
package serial

import (
	"errors"
	"sync"
)

var ErrClosed = errors.New("serial: dispatcher closed")

type Option func(*config)

type config struct {
	bufferSize int
}

// WithBufferSize sets the queue length per key (default: 64).
func WithBufferSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.bufferSize = size
		}
	}
}

type Dispatcher[K comparable] struct {
	mu         sync.Mutex
	workers    map[K]*worker
	closed     bool
	bufferSize int
}

type worker struct {
	tasks chan *task
	// pending counts callers between enqueue and completion; the channel is
	// closed only once it drops to zero after the worker was retired.
	pending int
	retired bool
}

type task struct {
	fn   func()
	done chan struct{}
}

func New[K comparable](opts ...Option) *Dispatcher[K] {
	cfg := &config{bufferSize: 64}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Dispatcher[K]{
		workers:    make(map[K]*worker),
		bufferSize: cfg.bufferSize,
	}
}

// Do runs fn on the worker for key and blocks until it returned.
func (d *Dispatcher[K]) Do(key K, fn func()) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	w, ok := d.workers[key]
	if !ok {
		w = &worker{tasks: make(chan *task, d.bufferSize)}
		d.workers[key] = w
		go w.run()
	}
	w.pending++
	d.mu.Unlock()

	t := &task{fn: fn, done: make(chan struct{})}
	w.tasks <- t
	<-t.done

	d.mu.Lock()
	w.pending--
	if w.retired && w.pending == 0 {
		close(w.tasks)
	}
	d.mu.Unlock()
	return nil
}

// Forget retires the worker for key. Work already handed over still runs; the
// next Do for key starts a fresh worker.
func (d *Dispatcher[K]) Forget(key K) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.workers[key]
	if !ok {
		return
	}
	delete(d.workers, key)
	d.retireLocked(w)
}

// Len returns the number of live workers.
func (d *Dispatcher[K]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.workers)
}

// Close retires all workers and rejects further work.
func (d *Dispatcher[K]) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for _, w := range d.workers {
		d.retireLocked(w)
	}
	d.workers = nil
}

func (d *Dispatcher[K]) retireLocked(w *worker) {
	w.retired = true
	if w.pending == 0 {
		close(w.tasks)
	}
}

func (w *worker) run() {
	for t := range w.tasks {
		t.fn()
		close(t.done)
	}
}
