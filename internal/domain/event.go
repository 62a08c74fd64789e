package domain

import (
	"context"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	// EventEntityInserted fires after a successful Insert commits.
	EventEntityInserted EventType = "entity.inserted"
	// EventEntityUpdated fires after a successful Update commits.
	EventEntityUpdated EventType = "entity.updated"
	// EventEntityDeleted fires after a successful Delete commits.
	EventEntityDeleted EventType = "entity.deleted"
	// EventEmbeddingIndexed fires after post-commit embedding generation and vector
	// index upsert completes.
	EventEmbeddingIndexed EventType = "embedding.indexed"
	// EventEmbeddingStale fires when a post-commit embedding step is cancelled or
	// fails, leaving the vector index stale for that entity until lazily repaired.
	EventEmbeddingStale EventType = "embedding.stale"
	// EventIntegrityViolation fires when a maintenance sweep or read-path
	// verification detects a hash chain mismatch.
	EventIntegrityViolation EventType = "integrity.violation"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType          `json:"type"`
	Timestamp time.Time          `json:"timestamp"`
	Table     string             `json:"table"`
	EntityID  string             `json:"entity_id"`
	Payload   *EntityChangeEvent `json:"payload,omitempty"`
}

// PropertyChange is an (old, new) stringified value pair for one property,
// as observed by a single write.
type PropertyChange struct {
	Old string `json:"old,omitempty"`
	New string `json:"new,omitempty"`
}

// EntityChangeEvent is the transient record published after a write commits.
// It carries every field whose stringified value changed as part of that write.
type EntityChangeEvent struct {
	ID                string                     `json:"id"`
	TableName         string                     `json:"tableName"`
	EntityID          string                     `json:"entityId"`
	Op                Op                         `json:"op"`
	ChangedProperties map[string]PropertyChange  `json:"changedProperties"`
	Timestamp         time.Time                  `json:"timestamp"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
