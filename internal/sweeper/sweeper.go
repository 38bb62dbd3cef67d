// Package sweeper runs a ticker-driven periodic loop that deletes lapsed
// overrides and cascades their removal through the audit log, the event
// bus, and reconciliation.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hearthctl/hearthctl/internal/audit"
	"github.com/hearthctl/hearthctl/internal/device"
	"github.com/hearthctl/hearthctl/internal/events"
	"github.com/hearthctl/hearthctl/internal/override"
)

const defaultInterval = 60 * time.Second

// OverrideStore is the subset of override.Store the sweeper needs.
type OverrideStore interface {
	FindExpired() ([]override.Override, error)
	DeleteByTargetAndCategory(targetID string, category override.Category) error
}

// Publisher is the subset of eventbus.Bus the sweeper needs.
type Publisher interface {
	Publish(event any, orderKey string)
}

// Reconciler triggers reconciliation of a device or, for a system-scoped
// override, every member device.
type Reconciler interface {
	Reconcile(deviceID device.ID, metadata map[string]any) error
}

// SystemFinder resolves a system-scoped target id to its member devices.
type SystemFinder interface {
	DeviceIDsForSystem(systemID string) ([]device.ID, bool)
}

// Sweeper is the OverrideExpirationSweeper.
type Sweeper struct {
	overrides OverrideStore
	bus       Publisher
	audit     *audit.Log
	systems   SystemFinder
	reconcile Reconciler
	logger    *slog.Logger

	clock func() time.Time
	newID func() string
}

// New builds a Sweeper. systems and reconcile may be nil if the target
// of every override is always a device (no functional systems wired).
func New(overrides OverrideStore, bus Publisher, auditLog *audit.Log, systems SystemFinder, reconcile Reconciler, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		overrides: overrides,
		bus:       bus,
		audit:     auditLog,
		systems:   systems,
		reconcile: reconcile,
		logger:    logger,
		clock:     time.Now,
		newID:     uuid.NewString,
	}
}

// Sweep finds and expires every lapsed override once.
func (s *Sweeper) Sweep() {
	expired, err := s.overrides.FindExpired()
	if err != nil {
		s.logger.Error("sweeper: failed to list expired overrides", "error", err)
		return
	}

	for _, o := range expired {
		s.sweepOne(o)
	}
}

func (s *Sweeper) sweepOne(o override.Override) {
	if err := s.overrides.DeleteByTargetAndCategory(o.TargetID, o.Category); err != nil {
		s.logger.Error("sweeper: failed to delete expired override", "target", o.TargetID, "category", o.Category, "error", err)
		return
	}

	correlationID := s.newID()

	if s.audit != nil {
		s.audit.Record(audit.Entry{
			CorrelationID: correlationID,
			DeviceID:      deviceIDIfDeviceScope(o),
			SystemID:      systemIDIfSystemScope(o),
			DecisionType:  audit.OverrideExpired,
			Reason:        "override ttl elapsed",
		})
	}

	if s.bus != nil {
		s.bus.Publish(events.OverrideExpired{
			TargetID:      o.TargetID,
			Category:      string(o.Category),
			CorrelationID: correlationID,
			OccurredAt:    s.clock(),
		}, o.TargetID)
	}

	s.triggerReconcile(o)
}

func (s *Sweeper) triggerReconcile(o override.Override) {
	if s.reconcile == nil {
		return
	}
	if o.Scope == override.ScopeDevice {
		if id, err := device.ParseID(o.TargetID); err == nil {
			if err := s.reconcile.Reconcile(id, nil); err != nil {
				s.logger.Error("sweeper: reconcile after expiry failed", "device", id, "error", err)
			}
		}
		return
	}
	if s.systems == nil {
		return
	}
	memberIDs, ok := s.systems.DeviceIDsForSystem(o.TargetID)
	if !ok {
		return
	}
	for _, id := range memberIDs {
		if err := s.reconcile.Reconcile(id, nil); err != nil {
			s.logger.Error("sweeper: reconcile after expiry failed", "device", id, "error", err)
		}
	}
}

func deviceIDIfDeviceScope(o override.Override) string {
	if o.Scope == override.ScopeDevice {
		return o.TargetID
	}
	return ""
}

func systemIDIfSystemScope(o override.Override) string {
	if o.Scope == override.ScopeSystem {
		return o.TargetID
	}
	return ""
}

// Run sweeps immediately, then on each interval until ctx is cancelled.
// interval defaults to 60s.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultInterval
	}
	s.Sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
