package reconcile

import (
	"context"
	"log/slog"

	"github.com/hearthctl/hearthctl/internal/device"
	"github.com/hearthctl/hearthctl/internal/events"
)

// RegisterListeners wires the coordinator into the event bus:
// UserIntentChanged and ReportedStateChanged both trigger reconcile(id);
// OverrideApplied/Cancelled/Expired trigger reconcile of the target
// device, or every member device when the target is a functional
// system.
//
// Each subscribeX parameter is a closure over eventbus.Subscribe binding
// a concrete *eventbus.Bus, since Subscribe is a package-level generic
// function and cannot be expressed as a plain interface method.
func (c *Coordinator) RegisterListeners(
	subscribeIntent func(func(context.Context, events.UserIntentChanged)),
	subscribeReported func(func(context.Context, events.ReportedStateChanged)),
	subscribeOverrideApplied func(func(context.Context, events.OverrideApplied)),
	subscribeOverrideCancelled func(func(context.Context, events.OverrideCancelled)),
	subscribeOverrideExpired func(func(context.Context, events.OverrideExpired)),
	logger *slog.Logger,
) {
	if logger == nil {
		logger = slog.Default()
	}

	subscribeIntent(func(_ context.Context, e events.UserIntentChanged) {
		if _, err := c.Reconcile(e.DeviceID, nil); err != nil {
			logger.Error("reconcile on UserIntentChanged failed", "device", e.DeviceID, "error", err)
		}
	})

	subscribeReported(func(_ context.Context, e events.ReportedStateChanged) {
		if _, err := c.Reconcile(e.DeviceID, nil); err != nil {
			logger.Error("reconcile on ReportedStateChanged failed", "device", e.DeviceID, "error", err)
		}
	})

	subscribeOverrideApplied(func(_ context.Context, e events.OverrideApplied) {
		c.reconcileTarget(e.TargetID, logger)
	})
	subscribeOverrideCancelled(func(_ context.Context, e events.OverrideCancelled) {
		c.reconcileTarget(e.TargetID, logger)
	})
	subscribeOverrideExpired(func(_ context.Context, e events.OverrideExpired) {
		c.reconcileTarget(e.TargetID, logger)
	})
}

// reconcileTarget reconciles targetID directly if it parses as a device
// id; otherwise it is treated as a functional system id and every member
// device is reconciled instead.
func (c *Coordinator) reconcileTarget(targetID string, logger *slog.Logger) {
	if id, err := device.ParseID(targetID); err == nil {
		if _, err := c.Reconcile(id, nil); err != nil {
			logger.Error("reconcile on override event failed", "device", id, "error", err)
		}
		return
	}

	fs, ok := c.systems.FindByID(targetID)
	if !ok {
		logger.Warn("override event target is neither a known device nor a known system", "target", targetID)
		return
	}
	for _, memberID := range fs.DeviceIDList() {
		if _, err := c.Reconcile(memberID, nil); err != nil {
			logger.Error("reconcile on override event failed", "device", memberID, "error", err)
		}
	}
}
