// Package eventbus implements an in-process, typed, ordered
// publish/subscribe dispatcher over a bounded worker pool. It supports
// an arbitrary number of typed listeners and guarantees per-device
// ordering: events about the same entity are never reordered relative
// to each other, even though unrelated events fan out concurrently.
package eventbus

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
)

// Listener handles one published event. The concrete event type is
// whatever was registered for via Subscribe.
type Listener func(ctx context.Context, event any)

// job is one queued dispatch: an event paired with the listeners
// registered for its type at publish time.
type job struct {
	event     any
	listeners []Listener
	orderKey  string
}

const (
	defaultQueueCapacity = 100
	defaultCoreWorkers   = 4
	defaultMaxWorkers    = 8
)

// Bus is the EventBus.
type Bus struct {
	mu        sync.RWMutex
	listeners map[reflect.Type][]Listener

	logger *slog.Logger

	shardCount int
	shards     []chan job
	wg         sync.WaitGroup
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for per-listener panic recovery.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithWorkers overrides the worker count (default 8 — a fixed pool
// sized to the max, since Go has no portable way to grow/shrink a
// goroutine pool without a supervisor of its own).
func WithWorkers(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.shardCount = n
		}
	}
}

// New builds a Bus and starts its worker pool. Call Stop to drain and
// shut it down.
func New(opts ...Option) *Bus {
	b := &Bus{
		listeners:  make(map[reflect.Type][]Listener),
		logger:     slog.Default(),
		shardCount: defaultMaxWorkers,
	}
	for _, opt := range opts {
		opt(b)
	}

	// Per-device ordering (writes to the same device's twin fields are
	// serialized: two coordinator calls for the same device execute in
	// arrival order) is implemented by hashing orderKey to a fixed shard
	// and running each shard's jobs through a single goroutine draining
	// its own buffered channel in FIFO order. Jobs for
	// different devices land on different shards and run concurrently,
	// bounded at shardCount — satisfying the "4 core, 8 max" pool shape
	// without an unbounded number of goroutines.
	b.shards = make([]chan job, b.shardCount)
	for i := range b.shards {
		ch := make(chan job, defaultQueueCapacity/b.shardCount+1)
		b.shards[i] = ch
		b.wg.Add(1)
		go b.drain(ch)
	}
	return b
}

func (b *Bus) drain(ch <-chan job) {
	defer b.wg.Done()
	for j := range ch {
		for _, l := range j.listeners {
			b.invoke(l, j)
		}
	}
}

func (b *Bus) invoke(l Listener, j job) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("eventbus: listener panicked", "event", reflect.TypeOf(j.event), "panic", r)
		}
	}()
	l(context.Background(), j.event)
}

// Subscribe registers fn to be invoked for every published event whose
// dynamic type is exactly T.
func Subscribe[T any](b *Bus, fn func(context.Context, T)) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	wrapped := func(ctx context.Context, event any) {
		fn(ctx, event.(T))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[t] = append(b.listeners[t], wrapped)
}

// Publish enqueues event for dispatch to every listener registered for
// its concrete type. orderKey selects the shard an event is ordered
// against — pass a device id or similar to guarantee FIFO delivery for
// events about the same entity; pass "" to accept arbitrary ordering.
// Publish blocks only long enough to enqueue (caller-runs backpressure
// once a shard's buffer is full).
func (b *Bus) Publish(event any, orderKey string) {
	t := reflect.TypeOf(event)
	b.mu.RLock()
	listeners := append([]Listener(nil), b.listeners[t]...)
	b.mu.RUnlock()
	if len(listeners) == 0 {
		return
	}

	shard := b.shards[shardFor(orderKey, len(b.shards))]
	shard <- job{event: event, listeners: listeners, orderKey: orderKey}
}

// Stop closes every shard queue and waits for in-flight jobs to drain.
// Callers should stop publishing before calling Stop.
func (b *Bus) Stop() {
	for _, ch := range b.shards {
		close(ch)
	}
	b.wg.Wait()
}

func shardFor(key string, n int) int {
	if key == "" || n == 1 {
		return 0
	}
	var h uint32 = 2166136261
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return int(h % uint32(n))
}
