// Package reconcile implements the reconciliation coordinator (the
// single-device convergence path) and the periodic Reconciler loop that
// sweeps every active output device.
package reconcile

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearthctl/hearthctl/internal/audit"
	"github.com/hearthctl/hearthctl/internal/calculator"
	"github.com/hearthctl/hearthctl/internal/device"
	"github.com/hearthctl/hearthctl/internal/events"
	"github.com/hearthctl/hearthctl/internal/system"
)

// Kind discriminates a Result.
type Kind int

const (
	KindDesiredCalculated Kind = iota
	KindRefused
	KindNoChange
	KindDeviceNotFound
)

// Result is the outcome of reconciling a single device.
type Result struct {
	kind           Kind
	desired        *device.DesiredDeviceState
	reason         string
	blockingRuleID string
}

func (r Result) Kind() Kind                          { return r.kind }
func (r Result) Desired() *device.DesiredDeviceState { return r.desired }
func (r Result) Reason() string                      { return r.reason }
func (r Result) BlockingRuleID() string              { return r.blockingRuleID }

// TwinStore is the subset of twin.Store the coordinator needs.
type TwinStore interface {
	FindSnapshot(id device.ID) (device.Snapshot, bool)
	SaveDesired(desired device.DesiredDeviceState) error
}

// SystemFinder looks up a functional system either by a member device's
// id or by the system's own id. Satisfied by *system.Registry.
type SystemFinder interface {
	FindByDevice(id device.ID) (system.FunctionalSystem, bool)
	FindByID(id string) (system.FunctionalSystem, bool)
}

// StateCalculator is the subset of *calculator.Calculator the coordinator
// needs.
type StateCalculator interface {
	Calculate(snapshot device.Snapshot, sys *system.FunctionalSystem, metadata map[string]any) calculator.Result
}

// Publisher is the subset of eventbus.Bus the coordinator needs.
type Publisher interface {
	Publish(event any, orderKey string)
}

// Coordinator is the ReconciliationCoordinator.
type Coordinator struct {
	twins   TwinStore
	systems SystemFinder
	calc    StateCalculator
	bus     Publisher
	audit   *audit.Log

	clock func() time.Time
	newID func() string

	locks keyedMutex
}

// New builds a Coordinator over its collaborators. bus and auditLog may
// be nil for validateOnly-style use in tests.
func New(twins TwinStore, systems SystemFinder, calc StateCalculator, bus Publisher, auditLog *audit.Log) *Coordinator {
	return &Coordinator{
		twins:   twins,
		systems: systems,
		calc:    calc,
		bus:     bus,
		audit:   auditLog,
		clock:   time.Now,
		newID:   uuid.NewString,
	}
}

// Reconcile converges a single device's desired state. Concurrent calls
// for the same deviceId are serialized.
func (c *Coordinator) Reconcile(deviceID device.ID, metadata map[string]any) (Result, error) {
	unlock := c.locks.lock(deviceID.Key())
	defer unlock()

	snapshot, ok := c.twins.FindSnapshot(deviceID)
	if !ok {
		return Result{kind: KindDeviceNotFound}, nil
	}

	var sys *system.FunctionalSystem
	if fs, ok := c.systems.FindByDevice(deviceID); ok {
		sys = &fs
	}

	calcResult := c.calc.Calculate(snapshot, sys, metadata)
	correlationID := c.newID()

	switch calcResult.Kind() {
	case calculator.KindFromIntent, calculator.KindFromOverride, calculator.KindSafetyModified:
		desired := *calcResult.Desired()
		if err := c.twins.SaveDesired(desired); err != nil {
			return Result{}, err
		}
		c.recordAudit(deviceID, sys, correlationID, audit.DesiredCalculated, desired.Value.String(), calcResult.Reason())
		if c.bus != nil {
			c.bus.Publish(events.DesiredStateCalculated{
				Desired:       desired,
				CorrelationID: correlationID,
				OccurredAt:    c.clock(),
			}, deviceID.Key())
		}
		return Result{kind: KindDesiredCalculated, desired: &desired}, nil

	case calculator.KindSafetyRefused:
		c.recordAudit(deviceID, sys, correlationID, audit.IntentRejected, "", calcResult.Reason())
		return Result{kind: KindRefused, reason: calcResult.Reason(), blockingRuleID: calcResult.BlockingRuleID()}, nil

	case calculator.KindNoValue:
		return Result{kind: KindNoChange, reason: calcResult.Reason()}, nil

	default:
		return Result{kind: KindNoChange, reason: "unreachable calculation result"}, nil
	}
}

func (c *Coordinator) recordAudit(deviceID device.ID, sys *system.FunctionalSystem, correlationID string, decision audit.DecisionType, newValue, reason string) {
	if c.audit == nil {
		return
	}
	systemID := ""
	if sys != nil {
		systemID = sys.ID
	}
	entry := audit.Entry{
		CorrelationID: correlationID,
		DeviceID:      deviceID.Key(),
		SystemID:      systemID,
		DecisionType:  decision,
		Reason:        reason,
	}
	if newValue != "" {
		entry.NewValue = newValue
	}
	c.audit.Record(entry)
}

// keyedMutex lazily allocates one mutex per key, for per-device write
// serialization without a fixed-size lock table.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
