// Package healthgate implements an aggregate liveness view over named
// collaborators (the twin store, the document store, the messaging
// transport): each registered checker is probed concurrently and its
// status cached, answering the plain "is this dependency up" question.
package healthgate

import (
	"context"
	"sync"
	"time"
)

// Status is a single named collaborator's liveness.
type Status struct {
	Name      string
	Healthy   bool
	Err       string
	CheckedAt time.Time
}

// Checker reports whether a single collaborator is currently reachable.
type Checker func(ctx context.Context) error

// Gate is the HealthGate. Any component reporting unhealthy flips
// the aggregate Healthy() to false until it recovers.
type Gate struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	statuses map[string]Status
	clock    func() time.Time
}

// New builds an empty Gate. Collaborators are registered with Register.
func New() *Gate {
	return &Gate{
		checkers: make(map[string]Checker),
		statuses: make(map[string]Status),
		clock:    time.Now,
	}
}

// Register adds a named collaborator, initially assumed healthy until the
// first Check runs.
func (g *Gate) Register(name string, check Checker) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkers[name] = check
	g.statuses[name] = Status{Name: name, Healthy: true, CheckedAt: g.clock()}
}

// Check runs every registered checker concurrently and updates their
// cached statuses. Call this on a periodic timer; Healthy/Statuses read
// the cache without blocking on I/O.
func (g *Gate) Check(ctx context.Context) {
	g.mu.RLock()
	checkers := make(map[string]Checker, len(g.checkers))
	for name, c := range g.checkers {
		checkers[name] = c
	}
	g.mu.RUnlock()

	var wg sync.WaitGroup
	results := make(chan Status, len(checkers))
	for name, check := range checkers {
		wg.Add(1)
		go func(name string, check Checker) {
			defer wg.Done()
			err := check(ctx)
			s := Status{Name: name, Healthy: err == nil, CheckedAt: g.clock()}
			if err != nil {
				s.Err = err.Error()
			}
			results <- s
		}(name, check)
	}
	wg.Wait()
	close(results)

	g.mu.Lock()
	defer g.mu.Unlock()
	for s := range results {
		g.statuses[s.Name] = s
	}
}

// Healthy reports the aggregate liveness: true only when every registered
// collaborator's most recent check succeeded.
func (g *Gate) Healthy() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, s := range g.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// Statuses returns a snapshot of every collaborator's current status.
func (g *Gate) Statuses() []Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Status, 0, len(g.statuses))
	for _, s := range g.statuses {
		out = append(out, s)
	}
	return out
}

// Run periodically calls Check until ctx is cancelled.
func (g *Gate) Run(ctx context.Context, interval time.Duration) {
	g.Check(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Check(ctx)
		}
	}
}
