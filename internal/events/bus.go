// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from components (grounding loop, telegram
// bridge, memory writer) to subscribers (ops dashboard, MQTT telemetry).
// The bus is nil-safe: calling Publish on a nil *Bus is a no-op, so
// components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceAgent identifies events from the grounding loop.
	SourceAgent = "agent"
	// SourceTelegram identifies events from the Telegram bridge.
	SourceTelegram = "telegram"
	// SourceMemory identifies events from the durable memory writer.
	SourceMemory = "memory"
)

// Kind constants describe the type of event within a source.
const (
	// KindTurnStart signals the beginning of a user turn.
	// Data: turn_id, user_id, message_len.
	KindTurnStart = "turn_start"
	// KindAnalyzing signals the state analysis phase has begun.
	// Data: turn_id.
	KindAnalyzing = "analyzing"
	// KindAnalysisDegraded signals the analyzer output was unusable and
	// the safe-maximal default snapshot was substituted.
	// Data: turn_id, error.
	KindAnalysisDegraded = "analysis_degraded"
	// KindCrisis signals the crisis short-circuit fired.
	// Data: turn_id, payload_version.
	KindCrisis = "crisis"
	// KindDrafting signals a therapist draft attempt has begun.
	// Data: turn_id, attempt.
	KindDrafting = "drafting"
	// KindCritiquing signals a supervisor critique has begun.
	// Data: turn_id, attempt.
	KindCritiquing = "critiquing"
	// KindRejected signals the supervisor rejected a draft.
	// Data: turn_id, attempt, feedback_len, implicit.
	KindRejected = "rejected"
	// KindTurnComplete signals the end of a turn with a final outcome.
	// Data: turn_id, outcome, iterations, elapsed_ms.
	KindTurnComplete = "turn_complete"
	// KindTurnFailed signals a turn-fatal failure (no reply producible).
	// Data: turn_id, error.
	KindTurnFailed = "turn_failed"

	// KindMessageReceived signals an inbound Telegram message.
	// Data: user_id, message_len.
	KindMessageReceived = "message_received"
	// KindReplySent signals the final reply reached the transport.
	// Data: user_id, reply_len.
	KindReplySent = "reply_sent"

	// KindPersistFailed signals a best-effort durable-memory write
	// failed after the reply was already decided.
	// Data: user_id, error.
	KindPersistFailed = "persist_failed"
	// KindMemoryErased signals a user-initiated memory erasure.
	// Data: user_id.
	KindMemoryErased = "memory_erased"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// WebSocket consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
