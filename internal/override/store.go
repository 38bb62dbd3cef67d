package override

import (
	"log/slog"
	"sync"
	"time"
)

// Durable is the document-store collaborator backing persistent
// override storage. It is the source of truth: a write that succeeds
// here has succeeded regardless of the cache's health.
type Durable interface {
	Put(o Override) error
	Delete(key string) error
	Get(key string) (Override, bool, error)
	List() ([]Override, error)
}

// Cache is the fast write-through cache collaborator. Its errors never
// fail a write; they only cost the next read a durable-store round trip.
type Cache interface {
	Put(o Override)
	Delete(key string)
	Get(key string) (Override, bool)
}

// Store is the OverrideStore: categorized stacking semantics with
// TTL expiration, backed by a durable store of record and a best-effort
// cache in front of it.
type Store struct {
	mu      sync.RWMutex
	durable Durable
	cache   Cache
	logger  *slog.Logger
	clock   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for cache-miss/cache-error diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the clock, for deterministic expiry tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// NewStore builds an OverrideStore over the given durable store and cache.
func NewStore(durable Durable, cache Cache, opts ...Option) *Store {
	s := &Store{
		durable: durable,
		cache:   cache,
		logger:  slog.Default(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save persists an override, replacing any existing entry for the same
// (targetId, category) pair. The durable store is authoritative; a cache
// write failure is logged but never fails the call.
func (s *Store) Save(o Override) (Override, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o.CreatedAt = s.clock()
	if existing, ok, err := s.durable.Get(o.Key()); err == nil && ok {
		o.Version = existing.Version + 1
	} else {
		o.Version = 1
	}

	if err := s.durable.Put(o); err != nil {
		return Override{}, err
	}
	s.cachePut(o)
	return o, nil
}

func (s *Store) cachePut(o Override) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("override cache put panicked, durable store remains authoritative", "error", r)
		}
	}()
	s.cache.Put(o)
}

// FindByTargetAndCategory returns the single override for the (targetId,
// category) primary key, preferring the cache and falling back to the
// durable store on a cache miss.
func (s *Store) FindByTargetAndCategory(targetID string, category Category) (Override, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findByKey(targetID + ":" + string(category))
}

func (s *Store) findByKey(key string) (Override, bool, error) {
	if s.cache != nil {
		if o, ok := s.cache.Get(key); ok {
			return o, true, nil
		}
	}
	o, ok, err := s.durable.Get(key)
	if err != nil {
		return Override{}, false, err
	}
	if ok {
		s.cachePut(o)
	}
	return o, ok, nil
}

// FindActiveByTarget returns every non-expired override for a target,
// ordered by category descending (highest precedence first).
func (s *Store) FindActiveByTarget(targetID string) ([]Override, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all, err := s.durable.List()
	if err != nil {
		return nil, err
	}
	now := s.clock()
	var active []Override
	for _, o := range all {
		if o.TargetID != targetID {
			continue
		}
		if o.Expired(now) {
			continue
		}
		active = append(active, o)
	}
	byCategoryDescending(active)
	return active, nil
}

// FindEffectiveByTarget returns the highest-precedence active override
// for a target, if any.
func (s *Store) FindEffectiveByTarget(targetID string) (Override, bool, error) {
	active, err := s.FindActiveByTarget(targetID)
	if err != nil {
		return Override{}, false, err
	}
	if len(active) == 0 {
		return Override{}, false, nil
	}
	return active[0], true, nil
}

// ResolveEffectiveForDevice resolves the single highest-precedence active
// override governing a device, considering both a DEVICE-scoped override
// targeting deviceID directly and a SYSTEM-scoped override targeting
// systemID (if the device belongs to one). Ties between a device-scoped
// and a system-scoped override of equal category break in favor of the
// device scope.
func (s *Store) ResolveEffectiveForDevice(deviceID, systemID string) (Override, bool, error) {
	deviceOv, deviceOK, err := s.FindEffectiveByTarget(deviceID)
	if err != nil {
		return Override{}, false, err
	}
	if systemID == "" {
		return deviceOv, deviceOK, nil
	}
	systemOv, systemOK, err := s.FindEffectiveByTarget(systemID)
	if err != nil {
		return Override{}, false, err
	}
	switch {
	case deviceOK && systemOK:
		if systemOv.Category.Rank() > deviceOv.Category.Rank() {
			return systemOv, true, nil
		}
		return deviceOv, true, nil
	case deviceOK:
		return deviceOv, true, nil
	case systemOK:
		return systemOv, true, nil
	default:
		return Override{}, false, nil
	}
}

// FindExpired returns every override whose TTL has passed, for the
// sweeper to physically delete.
func (s *Store) FindExpired() ([]Override, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all, err := s.durable.List()
	if err != nil {
		return nil, err
	}
	now := s.clock()
	var expired []Override
	for _, o := range all {
		if o.Expired(now) {
			expired = append(expired, o)
		}
	}
	return expired, nil
}

// DeleteByTargetAndCategory removes a single override.
func (s *Store) DeleteByTargetAndCategory(targetID string, category Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := targetID + ":" + string(category)
	if err := s.durable.Delete(key); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Delete(key)
	}
	return nil
}

// DeleteAllByTarget removes every override for a target, e.g. when a
// device or system is decommissioned.
func (s *Store) DeleteAllByTarget(targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.durable.List()
	if err != nil {
		return err
	}
	for _, o := range all {
		if o.TargetID != targetID {
			continue
		}
		if err := s.durable.Delete(o.Key()); err != nil {
			return err
		}
		if s.cache != nil {
			s.cache.Delete(o.Key())
		}
	}
	return nil
}
