// Package sse streams dashboard-facing twin and override events over
// Server-Sent Events. Connection bookkeeping, the keepalive ticker, and
// broadcast-with-non-blocking-send follow the same shape used elsewhere
// in this codebase for fan-out to slow consumers; the broker subscribes
// directly against the event bus for the dashboard-relevant event types
// (DesiredStateCalculated, DeviceCommandEvent, OverrideApplied/Cancelled/
// Expired).
package sse

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hearthctl/hearthctl/internal/eventbus"
	"github.com/hearthctl/hearthctl/internal/events"
)

const defaultKeepaliveInterval = 15 * time.Second

// sseEvent is an internal representation of a formatted SSE message ready to write.
type sseEvent struct {
	data []byte
}

// Broker streams dashboard events to connected SSE clients. Unlike the
// teacher's broker it has no polled state source to snapshot on
// connect: a client that connects mid-stream simply starts receiving
// events from that point, same as every other subscriber on the bus.
type Broker struct {
	logger            *slog.Logger
	appVersion        string
	keepaliveInterval time.Duration

	mu      sync.Mutex
	clients map[chan sseEvent]struct{}
}

// NewBroker builds a Broker and subscribes it to bus for the dashboard
// event types. Subscriptions are registered immediately; Run only blocks
// until ctx is cancelled, at which point connected clients are closed.
func NewBroker(bus *eventbus.Bus, logger *slog.Logger, appVersion string) *Broker {
	return newBrokerWithKeepalive(bus, logger, appVersion, defaultKeepaliveInterval)
}

func newBrokerWithKeepalive(bus *eventbus.Bus, logger *slog.Logger, appVersion string, keepalive time.Duration) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	if keepalive <= 0 {
		keepalive = defaultKeepaliveInterval
	}
	b := &Broker{
		logger:            logger,
		appVersion:        appVersion,
		keepaliveInterval: keepalive,
		clients:           make(map[chan sseEvent]struct{}),
	}

	eventbus.Subscribe(bus, func(_ context.Context, e events.DesiredStateCalculated) {
		b.emit("desired", desiredPayloadFrom(e))
	})
	eventbus.Subscribe(bus, func(_ context.Context, e events.DeviceCommandEvent) {
		b.emit("command", commandPayloadFrom(e))
	})
	eventbus.Subscribe(bus, func(_ context.Context, e events.OverrideApplied) {
		b.emit("overrideApplied", overridePayloadFrom(e.TargetID, e.Category, e.CorrelationID, e.OccurredAt))
	})
	eventbus.Subscribe(bus, func(_ context.Context, e events.OverrideCancelled) {
		b.emit("overrideCancelled", overridePayloadFrom(e.TargetID, e.Category, e.CorrelationID, e.OccurredAt))
	})
	eventbus.Subscribe(bus, func(_ context.Context, e events.OverrideExpired) {
		b.emit("overrideExpired", overridePayloadFrom(e.TargetID, e.Category, e.CorrelationID, e.OccurredAt))
	})

	return b
}

func (b *Broker) emit(eventType string, payload any) {
	data, err := formatSSEEvent(eventType, payload)
	if err != nil {
		b.logger.Debug("failed to format SSE event", "type", eventType, "error", err)
		return
	}
	b.broadcast(sseEvent{data: data})
}

// Run blocks until ctx is cancelled, then disconnects every client.
// Event subscriptions are wired in NewBroker, not here — the bus
// dispatches to them on its own worker pool regardless of whether Run
// has been called.
func (b *Broker) Run(ctx context.Context) {
	<-ctx.Done()
	b.closeAllClients()
	b.logger.Info("SSE broker stopped")
}

func (b *Broker) closeAllClients() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		close(ch)
		delete(b.clients, ch)
	}
}

// broadcast sends an event to all connected clients using non-blocking sends.
func (b *Broker) broadcast(evt sseEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- evt:
		default:
			// Client too slow, skip this event
		}
	}
}

func (b *Broker) addClient(ch chan sseEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[ch] = struct{}{}
	b.logger.Info("SSE client connected", "clients", len(b.clients))
}

func (b *Broker) removeClient(ch chan sseEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, ch)
	b.logger.Info("SSE client disconnected", "clients", len(b.clients))
}

// ServeHTTP handles SSE connections: sets headers and streams events.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	clientCh := make(chan sseEvent, 64)
	b.addClient(clientCh)
	defer b.removeClient(clientCh)

	hello, err := formatSSEEvent("hello", map[string]string{"appVersion": b.appVersion})
	if err == nil {
		if err := writeAndFlush(w, flusher, hello); err != nil {
			b.logger.Debug("failed to write hello event", "error", err)
			return
		}
	}

	keepalive := time.NewTicker(b.keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-clientCh:
			if !ok {
				return
			}
			if err := writeAndFlush(w, flusher, evt.data); err != nil {
				b.logger.Debug("failed to write SSE event", "error", err)
				return
			}
			keepalive.Reset(b.keepaliveInterval)
		case <-keepalive.C:
			if err := writeAndFlush(w, flusher, formatKeepalive()); err != nil {
				b.logger.Debug("failed to write keepalive", "error", err)
				return
			}
		}
	}
}

func writeAndFlush(w http.ResponseWriter, flusher http.Flusher, payload []byte) error {
	if _, err := w.Write(payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
