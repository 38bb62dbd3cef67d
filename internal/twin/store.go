// Package twin implements the three-state digital twin store: the single
// source of truth for a device's user intent, reported state and desired
// state. It holds one independently-versioned record per device behind a
// concurrency-safe map, plus an index of active output devices.
package twin

import (
	"fmt"
	"sync"

	"github.com/hearthctl/hearthctl/internal/device"
)

const maxVersionConflictRetries = 3

// ErrConflict is returned when a write loses a bounded number of
// optimistic-version retries.
type ErrConflict struct {
	ID device.ID
}

func (e *ErrConflict) Error() string {
	return fmt.Sprintf("twin: version conflict writing %s after %d retries", e.ID, maxVersionConflictRetries)
}

// record is the per-device hash-like row: three independent fields plus a
// version used to reconcile concurrent writers.
type record struct {
	intent   *device.UserIntent
	reported *device.ReportedDeviceState
	desired  *device.DesiredDeviceState
	typ      device.Type
	hasType  bool
	version  uint64
}

// Store is the concurrency-safe in-memory twin store. A sharded or
// remote-backed implementation could sit behind the same Save*/Find*
// contract.
type Store struct {
	mu      sync.RWMutex
	records map[string]*record
	// activeOutputs indexes device keys with a desired state currently set.
	activeOutputs map[string]struct{}
}

// NewStore creates an empty TwinStore.
func NewStore() *Store {
	return &Store{
		records:       make(map[string]*record),
		activeOutputs: make(map[string]struct{}),
	}
}

func (s *Store) getOrCreate(id device.ID) *record {
	key := id.Key()
	r, ok := s.records[key]
	if !ok {
		r = &record{}
		s.records[key] = r
	}
	return r
}

// SaveIntent stores the user intent field for a device.
func (s *Store) SaveIntent(intent device.UserIntent) error {
	return s.write(intent.ID, intent.Type, func(r *record) {
		v := intent
		r.intent = &v
	})
}

// SaveReported stores the reported field for a device.
func (s *Store) SaveReported(reported device.ReportedDeviceState) error {
	return s.write(reported.ID, reported.Type, func(r *record) {
		v := reported
		r.reported = &v
	})
}

// SaveDesired stores the desired field for a device and maintains the
// active-output index. Idempotent with respect to the index.
func (s *Store) SaveDesired(desired device.DesiredDeviceState) error {
	return s.write(desired.ID, desired.Type, func(r *record) {
		v := desired
		r.desired = &v
		s.activeOutputs[desired.ID.Key()] = struct{}{}
	})
}

// ClearDesired removes the desired field and its index entry, e.g. when a
// device is decommissioned.
func (s *Store) ClearDesired(id device.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[id.Key()]; ok {
		r.desired = nil
		r.version++
	}
	delete(s.activeOutputs, id.Key())
}

// write applies mutate to the record for id under the store's single
// write lock, then bumps the version. The lock makes every write to this
// in-process store line-serialized, so the bounded-retry conflict path
// (for a sharded/remote backend where two writers can race between read
// and write) never triggers here; ErrConflict is kept as part of the
// contract for such a backend to report through.
func (s *Store) write(id device.ID, typ device.Type, mutate func(*record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.getOrCreate(id)
	if r.hasType && r.typ != typ {
		return fmt.Errorf("twin: %s: type mismatch, record is %s, write is %s", id, r.typ, typ)
	}
	r.typ = typ
	r.hasType = true
	mutate(r)
	r.version++
	return nil
}

// FindIntent returns the stored intent for id, if any.
func (s *Store) FindIntent(id device.ID) (*device.UserIntent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id.Key()]
	if !ok || r.intent == nil {
		return nil, false
	}
	v := *r.intent
	return &v, true
}

// FindReported returns the stored reported state for id, if any.
func (s *Store) FindReported(id device.ID) (*device.ReportedDeviceState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id.Key()]
	if !ok || r.reported == nil {
		return nil, false
	}
	v := *r.reported
	return &v, true
}

// FindDesired returns the stored desired state for id, if any.
func (s *Store) FindDesired(id device.ID) (*device.DesiredDeviceState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id.Key()]
	if !ok || r.desired == nil {
		return nil, false
	}
	v := *r.desired
	return &v, true
}

// FindSnapshot performs an atomic multi-field read: all three fields are
// read under one lock acquisition so a concurrent writer can never be
// observed in a half-applied state.
func (s *Store) FindSnapshot(id device.ID) (device.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id.Key()]
	if !ok {
		return device.Snapshot{}, false
	}
	snap := device.Snapshot{ID: id, Type: r.typ}
	if r.intent != nil {
		v := *r.intent
		snap.Intent = &v
	}
	if r.reported != nil {
		v := *r.reported
		snap.Reported = &v
	}
	if r.desired != nil {
		v := *r.desired
		snap.Desired = &v
	}
	return snap, true
}

// FindAllActiveOutputDevices returns the current desired state for every
// device indexed as having an active desired value — the source the
// Reconciler loop iterates over.
func (s *Store) FindAllActiveOutputDevices() []device.DesiredDeviceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]device.DesiredDeviceState, 0, len(s.activeOutputs))
	for key := range s.activeOutputs {
		r, ok := s.records[key]
		if !ok || r.desired == nil {
			continue
		}
		out = append(out, *r.desired)
	}
	return out
}
