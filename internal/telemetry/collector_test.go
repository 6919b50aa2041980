package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/anchorbot/anchor/internal/events"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition never held")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()
	now := time.Now()

	evs := []events.Event{
		{Timestamp: now, Kind: events.KindMessageReceived},
		{Timestamp: now, Kind: events.KindAnalysisDegraded},
		{Timestamp: now, Kind: events.KindRejected},
		{Timestamp: now, Kind: events.KindRejected},
		{Timestamp: now, Kind: events.KindTurnComplete, Data: map[string]any{"outcome": "approved"}},
		{Timestamp: now, Kind: events.KindTurnComplete, Data: map[string]any{"outcome": "fallback"}},
		{Timestamp: now, Kind: events.KindTurnComplete, Data: map[string]any{"outcome": "crisis"}},
		{Timestamp: now, Kind: events.KindTurnFailed},
		{Timestamp: now, Kind: events.KindPersistFailed},
	}
	for _, ev := range evs {
		c.observe(ev)
	}

	stats := c.Snapshot()
	if stats.TurnsTotal != 4 {
		t.Errorf("turns = %d, want 4", stats.TurnsTotal)
	}
	if stats.Approved != 1 || stats.Fallback != 1 || stats.Crisis != 1 {
		t.Errorf("outcomes = %d/%d/%d, want 1/1/1", stats.Approved, stats.Fallback, stats.Crisis)
	}
	if stats.FailedTurns != 1 {
		t.Errorf("failed = %d, want 1", stats.FailedTurns)
	}
	if stats.Rejections != 2 {
		t.Errorf("rejections = %d, want 2", stats.Rejections)
	}
	if stats.DegradedAnalyses != 1 || stats.PersistFailures != 1 || stats.MessagesReceived != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if !stats.LastTurnAt.Equal(now) {
		t.Errorf("last turn = %v, want %v", stats.LastTurnAt, now)
	}
}

func TestCollectorRunFromBus(t *testing.T) {
	c := NewCollector()
	bus := events.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx, bus)
	}()

	// Let the subscription register before publishing.
	waitFor(t, func() bool { return bus.SubscriberCount() == 1 })

	bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAgent,
		Kind:      events.KindTurnComplete,
		Data:      map[string]any{"outcome": "approved"},
	})

	waitFor(t, func() bool { return c.Snapshot().Approved == 1 })
	cancel()
	<-done
}
