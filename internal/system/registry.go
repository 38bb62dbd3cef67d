// Package system implements the registry of functional-system
// aggregates with exclusive device membership and optimistic versioning,
// behind a map+RWMutex, where each FunctionalSystem owns a set of device
// ids.
package system

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearthctl/hearthctl/internal/device"
)

// ErrDeviceAlreadyMember is returned when a device is added to a system it
// does not belong to while already a member of a different one.
type ErrDeviceAlreadyMember struct {
	DeviceID       device.ID
	ExistingSystem string
}

func (e *ErrDeviceAlreadyMember) Error() string {
	return fmt.Sprintf("system: device %s already belongs to system %s", e.DeviceID, e.ExistingSystem)
}

// ErrNotFound is returned when a system id is unknown.
type ErrNotFound struct {
	ID string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("system: %s not found", e.ID)
}

// ErrVersionConflict is returned when a caller's expected version is stale.
type ErrVersionConflict struct {
	ID              string
	Expected, Found uint64
}

func (e *ErrVersionConflict) Error() string {
	return fmt.Sprintf("system: %s version conflict: expected %d, found %d", e.ID, e.Expected, e.Found)
}

// FunctionalSystem is an aggregate grouping devices into a logical
// installation (a wood-burning stove, an HVAC zone, an irrigation loop).
type FunctionalSystem struct {
	ID               string
	Type             string
	Name             string
	Configuration    map[string]string
	DeviceIDs        map[device.ID]struct{}
	FailSafeDefaults map[device.ID]device.Value
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Version          uint64
}

// DeviceIDList returns the membership set as a stable-order slice.
func (fs FunctionalSystem) DeviceIDList() []device.ID {
	out := make([]device.ID, 0, len(fs.DeviceIDs))
	for id := range fs.DeviceIDs {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Registry is the SystemRegistry.
type Registry struct {
	mu            sync.RWMutex
	systems       map[string]*FunctionalSystem
	deviceToSystem map[device.ID]string
	now           func() time.Time
}

// NewRegistry creates an empty SystemRegistry.
func NewRegistry() *Registry {
	return &Registry{
		systems:        make(map[string]*FunctionalSystem),
		deviceToSystem: make(map[device.ID]string),
		now:            time.Now,
	}
}

// Create registers a new functional system with no members, generating a
// UUID identity and an initial version of 1.
func (r *Registry) Create(typ, name string, configuration map[string]string) (FunctionalSystem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	fs := &FunctionalSystem{
		ID:               uuid.NewString(),
		Type:             typ,
		Name:             name,
		Configuration:    configuration,
		DeviceIDs:        make(map[device.ID]struct{}),
		FailSafeDefaults: make(map[device.ID]device.Value),
		CreatedAt:        now,
		UpdatedAt:        now,
		Version:          1,
	}
	r.systems[fs.ID] = fs
	return *fs, nil
}

// FindByID returns the system with the given id.
func (r *Registry) FindByID(id string) (FunctionalSystem, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fs, ok := r.systems[id]
	if !ok {
		return FunctionalSystem{}, false
	}
	return *fs, true
}

// FindByDevice returns the system a device belongs to, if any. Device to
// system lookup is always a query through the registry, never a pointer
// held by the device, to avoid a cyclic reference.
func (r *Registry) FindByDevice(id device.ID) (FunctionalSystem, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sysID, ok := r.deviceToSystem[id]
	if !ok {
		return FunctionalSystem{}, false
	}
	fs, ok := r.systems[sysID]
	if !ok {
		return FunctionalSystem{}, false
	}
	return *fs, true
}

// List returns every registered system.
func (r *Registry) List() []FunctionalSystem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]FunctionalSystem, 0, len(r.systems))
	for _, fs := range r.systems {
		out = append(out, *fs)
	}
	return out
}

// AddDevice adds a device to a system's membership, rejecting the add if
// the device already belongs to a different system (membership is
// exclusive).
func (r *Registry) AddDevice(systemID string, id device.ID) (FunctionalSystem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fs, ok := r.systems[systemID]
	if !ok {
		return FunctionalSystem{}, &ErrNotFound{ID: systemID}
	}
	if existing, ok := r.deviceToSystem[id]; ok && existing != systemID {
		return FunctionalSystem{}, &ErrDeviceAlreadyMember{DeviceID: id, ExistingSystem: existing}
	}
	fs.DeviceIDs[id] = struct{}{}
	r.deviceToSystem[id] = systemID
	fs.Version++
	fs.UpdatedAt = r.now()
	return *fs, nil
}

// RemoveDevice removes a device from a system's membership.
func (r *Registry) RemoveDevice(systemID string, id device.ID) (FunctionalSystem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fs, ok := r.systems[systemID]
	if !ok {
		return FunctionalSystem{}, &ErrNotFound{ID: systemID}
	}
	delete(fs.DeviceIDs, id)
	if r.deviceToSystem[id] == systemID {
		delete(r.deviceToSystem, id)
	}
	fs.Version++
	fs.UpdatedAt = r.now()
	return *fs, nil
}

// UpdateConfiguration replaces a system's configuration map under
// optimistic concurrency control: the caller must supply the version it
// last observed.
func (r *Registry) UpdateConfiguration(systemID string, expectedVersion uint64, configuration map[string]string) (FunctionalSystem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fs, ok := r.systems[systemID]
	if !ok {
		return FunctionalSystem{}, &ErrNotFound{ID: systemID}
	}
	if fs.Version != expectedVersion {
		return FunctionalSystem{}, &ErrVersionConflict{ID: systemID, Expected: expectedVersion, Found: fs.Version}
	}
	fs.Configuration = configuration
	fs.Version++
	fs.UpdatedAt = r.now()
	return *fs, nil
}

// SetFailSafeDefault records the fail-safe value to apply to a member
// device when no other input is available.
func (r *Registry) SetFailSafeDefault(systemID string, id device.ID, value device.Value) (FunctionalSystem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fs, ok := r.systems[systemID]
	if !ok {
		return FunctionalSystem{}, &ErrNotFound{ID: systemID}
	}
	fs.FailSafeDefaults[id] = value
	fs.Version++
	fs.UpdatedAt = r.now()
	return *fs, nil
}
