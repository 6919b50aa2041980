// Package telemetry aggregates turn outcomes from the event bus and
// exposes them to the ops dashboard and the MQTT publisher.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/anchorbot/anchor/internal/events"
)

// TurnStats is a point-in-time view of the counters.
type TurnStats struct {
	TurnsTotal       int64     `json:"turns_total"`
	Approved         int64     `json:"approved"`
	Fallback         int64     `json:"fallback"`
	Crisis           int64     `json:"crisis"`
	DegradedAnalyses int64     `json:"degraded_analyses"`
	Rejections       int64     `json:"rejections"`
	FailedTurns      int64     `json:"failed_turns"`
	PersistFailures  int64     `json:"persist_failures"`
	MessagesReceived int64     `json:"messages_received"`
	LastTurnAt       time.Time `json:"last_turn_at"`
}

// Collector consumes bus events and keeps running counters. All methods
// are safe for concurrent use.
type Collector struct {
	mu    sync.Mutex
	stats TurnStats
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Run subscribes to the bus and counts events until ctx is cancelled.
// Blocks; run it in its own goroutine.
func (c *Collector) Run(ctx context.Context, bus *events.Bus) {
	ch := bus.Subscribe(64)
	defer bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			c.observe(ev)
		}
	}
}

func (c *Collector) observe(ev events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Kind {
	case events.KindTurnComplete:
		c.stats.TurnsTotal++
		c.stats.LastTurnAt = ev.Timestamp
		switch ev.Data["outcome"] {
		case "approved":
			c.stats.Approved++
		case "fallback":
			c.stats.Fallback++
		case "crisis":
			c.stats.Crisis++
		}
	case events.KindTurnFailed:
		c.stats.TurnsTotal++
		c.stats.FailedTurns++
		c.stats.LastTurnAt = ev.Timestamp
	case events.KindAnalysisDegraded:
		c.stats.DegradedAnalyses++
	case events.KindRejected:
		c.stats.Rejections++
	case events.KindPersistFailed:
		c.stats.PersistFailures++
	case events.KindMessageReceived:
		c.stats.MessagesReceived++
	}
}

// Snapshot returns a copy of the current counters.
func (c *Collector) Snapshot() TurnStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
