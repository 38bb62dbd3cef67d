// Package idempotency implements a conditional-set-with-TTL marker
// store guarding inbound feedback processing against duplicate
// delivery: a mutex-guarded per-key state map with an injectable clock,
// admitting a key only once within a fixed TTL.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const defaultTTL = 5 * time.Minute

// Key computes the dedup key for an inbound feedback message: the
// explicit messageId if the wire frame carried one, else
// SHA-256(deviceId|timestamp|value).
func Key(messageID, deviceID string, timestamp time.Time, value string) string {
	if messageID != "" {
		return messageID
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", deviceID, timestamp.UnixNano(), value)))
	return hex.EncodeToString(sum[:])
}

// Marker is the conditional-set-with-TTL collaborator. Filter ships an
// in-memory implementation (below); a shared deployment would back this
// with a real store behind the same interface.
type Marker interface {
	// SetIfAbsent atomically records key with the given TTL if it is not
	// already present (and not yet expired). Returns true if the key was
	// newly set, false if it was already present.
	SetIfAbsent(key string, ttl time.Duration) (bool, error)
}

// Filter is the Idempotency Filter.
type Filter struct {
	marker Marker
	ttl    time.Duration
	logger *slog.Logger
}

// New builds a Filter over a Marker, defaulting ttl to 5 minutes when
// zero.
func New(marker Marker, ttl time.Duration, logger *slog.Logger) *Filter {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{marker: marker, ttl: ttl, logger: logger}
}

// Admit reports whether an inbound message identified by key should be
// processed. A marker-store error opens the filter (allows processing)
// to avoid losing device state.
func (f *Filter) Admit(key string) bool {
	ok, err := f.marker.SetIfAbsent(key, f.ttl)
	if err != nil {
		f.logger.Warn("idempotency: marker store error, failing open", "key", key, "error", err)
		return true
	}
	return ok
}

// InMemoryMarker is a concurrency-safe in-process Marker backed by a
// mutex-guarded map of expiry times.
type InMemoryMarker struct {
	mu      sync.Mutex
	expires map[string]time.Time
	clock   func() time.Time
}

// NewInMemoryMarker builds an empty InMemoryMarker.
func NewInMemoryMarker() *InMemoryMarker {
	return &InMemoryMarker{
		expires: make(map[string]time.Time),
		clock:   time.Now,
	}
}

// SetIfAbsent implements Marker. Expired entries are treated as absent
// and overwritten, incidentally reclaiming their memory.
func (m *InMemoryMarker) SetIfAbsent(key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if expiresAt, ok := m.expires[key]; ok && now.Before(expiresAt) {
		return false, nil
	}
	m.expires[key] = now.Add(ttl)
	return true, nil
}

// Sweep removes expired markers, bounding the map's growth. Safe to call
// periodically from a background goroutine.
func (m *InMemoryMarker) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	for k, expiresAt := range m.expires {
		if !now.Before(expiresAt) {
			delete(m.expires, k)
		}
	}
}
