// Package wireadapter implements the pluggable edge between a physical
// transport (MQTT broker, serial line, vendor cloud webhook, ...) and
// the event bus. An arbitrary number of Adapters can be registered; each
// gets its own Run(ctx)-plus-callback-registration loop and its own
// token-bucket rate limiter so dispatch onto the bus stays bounded even
// when one transport is noisy.
package wireadapter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hearthctl/hearthctl/internal/device"
	"github.com/hearthctl/hearthctl/internal/events"
)

// Message is one inbound reading from a controller, in whatever raw
// wire form the adapter's transport produced it. Parsing RawValue into a
// device.Value is the FeedbackProcessor's job, not the adapter's.
type Message struct {
	DeviceID   device.ID
	Type       device.Type
	RawValue   string
	ReceivedAt time.Time
}

// Adapter is one transport-specific source of inbound Messages. An
// adapter implementation owns its own connection lifecycle (MQTT
// subscribe, serial read loop, webhook listener, ...) and calls the
// handler it is given for every Message it decodes. Subscribe must
// block until ctx is cancelled or the transport fails.
type Adapter interface {
	Name() string
	Subscribe(ctx context.Context, handler func(Message)) error
}

// Publisher is the subset of eventbus.Bus the dispatcher depends on.
type Publisher interface {
	Publish(event any, orderKey string)
}

const (
	defaultBurst    = 20
	defaultRatePerS = 50
)

// Dispatcher fans inbound Messages from every registered Adapter into
// ActuatorFeedbackReceived events on the bus, rate-limited per adapter
// so a misbehaving or flooding transport cannot starve the bus's bounded
// queues. Publish blocking on a full shard already provides caller-runs
// backpressure inside the bus (internal/eventbus); the limiter here
// additionally smooths bursts before they ever reach Publish.
type Dispatcher struct {
	bus     Publisher
	logger  *slog.Logger
	limiter func() *rate.Limiter

	mu       sync.Mutex
	adapters []Adapter
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used for adapter lifecycle and drop events.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithRateLimit overrides the per-adapter token bucket shape. Every
// adapter gets its own limiter instance so one noisy transport cannot
// consume another's budget.
func WithRateLimit(eventsPerSecond rate.Limit, burst int) Option {
	return func(d *Dispatcher) {
		d.limiter = func() *rate.Limiter { return rate.NewLimiter(eventsPerSecond, burst) }
	}
}

// New builds a Dispatcher. Call Register for each transport before Run.
func New(bus Publisher, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		bus:    bus,
		logger: slog.Default(),
		limiter: func() *rate.Limiter {
			return rate.NewLimiter(rate.Limit(defaultRatePerS), defaultBurst)
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds an Adapter to be started by Run. Register must be
// called before Run; adapters registered after Run has started are not
// picked up.
func (d *Dispatcher) Register(a Adapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.adapters = append(d.adapters, a)
}

// Run starts every registered Adapter in its own goroutine and blocks
// until every adapter's Subscribe has returned. With no adapters
// registered it returns immediately, without waiting for ctx.
func (d *Dispatcher) Run(ctx context.Context) {
	d.mu.Lock()
	adapters := append([]Adapter(nil), d.adapters...)
	d.mu.Unlock()

	var wg sync.WaitGroup
	for _, a := range adapters {
		a := a
		limiter := d.limiter()
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.logger.Info("wireadapter: starting", "adapter", a.Name())
			err := a.Subscribe(ctx, func(msg Message) {
				d.dispatch(ctx, a.Name(), limiter, msg)
			})
			if err != nil && ctx.Err() == nil {
				d.logger.Error("wireadapter: adapter stopped", "adapter", a.Name(), "error", err)
			} else {
				d.logger.Info("wireadapter: stopped", "adapter", a.Name())
			}
		}()
	}
	wg.Wait()
}

// dispatch applies the adapter's rate limit and, once a token is
// available (or ctx is cancelled), publishes an ActuatorFeedbackReceived
// event ordered by device id so feedback for one device is never
// reordered relative to itself.
func (d *Dispatcher) dispatch(ctx context.Context, adapterName string, limiter *rate.Limiter, msg Message) {
	if err := limiter.Wait(ctx); err != nil {
		d.logger.Warn("wireadapter: dropped message, context cancelled while rate limited",
			"adapter", adapterName, "device", msg.DeviceID)
		return
	}

	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}
	d.bus.Publish(events.ActuatorFeedbackReceived{
		DeviceID:   msg.DeviceID,
		Type:       msg.Type,
		RawValue:   msg.RawValue,
		OccurredAt: msg.ReceivedAt,
	}, msg.DeviceID.String())
}
