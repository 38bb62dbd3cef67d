package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hearthctl/hearthctl/internal/device"
	"github.com/hearthctl/hearthctl/internal/events"
)

// HealthChecker is the subset of healthgate.Gate the Reconciler needs.
type HealthChecker interface {
	Healthy() bool
}

// CycleRecorder is the subset of metrics.Recorder the Reconciler needs.
type CycleRecorder interface {
	DeviceReconciled()
	DeviceSkipped()
	DeviceNoSnapshot()
	DeviceFailed()
	CycleDuration(d time.Duration)
}

// ReconcilerTwinStore is the subset of twin.Store the periodic loop
// needs, distinct from Coordinator's TwinStore since it additionally
// enumerates active output devices.
type ReconcilerTwinStore interface {
	FindAllActiveOutputDevices() []device.DesiredDeviceState
	FindSnapshot(id device.ID) (device.Snapshot, bool)
}

const defaultTickInterval = 5 * time.Second

// Reconciler periodically sweeps every active output device and
// re-converges any that have drifted.
type Reconciler struct {
	twins   ReconcilerTwinStore
	health  HealthChecker
	bus     Publisher
	metrics CycleRecorder
	logger  *slog.Logger

	clock func() time.Time
	newID func() string
}

// NewReconciler builds a Reconciler. metrics may be nil to run
// unobserved.
func NewReconciler(twins ReconcilerTwinStore, health HealthChecker, bus Publisher, metrics CycleRecorder, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		twins:   twins,
		health:  health,
		bus:     bus,
		metrics: metrics,
		logger:  logger,
		clock:   time.Now,
		newID:   uuid.NewString,
	}
}

// Tick runs one reconciliation cycle over every active output device.
func (r *Reconciler) Tick(ctx context.Context) {
	start := r.clock()

	if !r.health.Healthy() {
		r.logger.Warn("reconciler: skipping cycle, health gate reports unhealthy")
		return
	}

	for _, desired := range r.twins.FindAllActiveOutputDevices() {
		r.reconcileOne(desired)
	}

	if r.metrics != nil {
		r.metrics.CycleDuration(r.clock().Sub(start))
	}
}

// reconcileOne handles a single device's convergence check. A panic here
// is counted as a per-device failure and never aborts the cycle.
func (r *Reconciler) reconcileOne(desired device.DesiredDeviceState) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("reconciler: per-device handling panicked", "device", desired.ID, "panic", rec)
			if r.metrics != nil {
				r.metrics.DeviceFailed()
			}
		}
	}()

	snap, ok := r.twins.FindSnapshot(desired.ID)
	if !ok {
		if r.metrics != nil {
			r.metrics.DeviceNoSnapshot()
		}
		return
	}
	if snap.Converged() {
		if r.metrics != nil {
			r.metrics.DeviceSkipped()
		}
		return
	}

	if r.bus != nil {
		r.bus.Publish(events.DeviceCommandEvent{
			DeviceID:      desired.ID,
			Type:          desired.Type,
			Value:         desired.Value,
			CorrelationID: r.newID(),
			OccurredAt:    r.clock(),
		}, desired.ID.Key())
	}
	if r.metrics != nil {
		r.metrics.DeviceReconciled()
	}
}

// Run ticks immediately, then on each interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultTickInterval
	}
	r.Tick(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}
