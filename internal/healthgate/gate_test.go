package healthgate

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestHealthyWithNoRegisteredCollaborators(t *testing.T) {
	g := New()
	if !g.Healthy() {
		t.Fatal("expected an empty gate to report healthy")
	}
}

func TestUnhealthyComponentFlipsAggregate(t *testing.T) {
	g := New()
	g.Register("twinstore", func(context.Context) error { return nil })
	g.Register("messaging", func(context.Context) error { return errors.New("connection refused") })

	g.Check(context.Background())

	if g.Healthy() {
		t.Fatal("expected aggregate to be unhealthy when one collaborator fails")
	}
}

func TestRecoveryFlipsAggregateBackHealthy(t *testing.T) {
	failing := true
	g := New()
	g.Register("store", func(context.Context) error {
		if failing {
			return errors.New("down")
		}
		return nil
	})

	g.Check(context.Background())
	if g.Healthy() {
		t.Fatal("expected unhealthy on first check")
	}

	failing = false
	g.Check(context.Background())
	if !g.Healthy() {
		t.Fatal("expected healthy after recovery")
	}
}

func TestStatusesReportsPerComponentDetail(t *testing.T) {
	g := New()
	g.Register("store", func(context.Context) error { return errors.New("timeout") })
	g.Check(context.Background())

	statuses := g.Statuses()
	if len(statuses) != 1 {
		t.Fatalf("expected 1 status, got %d", len(statuses))
	}
	if statuses[0].Healthy {
		t.Fatal("expected unhealthy status")
	}
	if statuses[0].Err == "" {
		t.Fatal("expected error detail to be recorded")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	g := New()
	g.Register("store", func(context.Context) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		g.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return after context cancellation")
	}
}
