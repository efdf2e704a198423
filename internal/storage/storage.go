// Package storage defines the persistence contracts for quest contexts,
// the activation ledger, the trigger outbox and telemetry.
package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/louisbranch/questline/internal/narrative/branch"
	"github.com/louisbranch/questline/internal/narrative/state"
)

// Outbox message statuses.
const (
	OutboxPending   = "pending"
	OutboxDelivered = "delivered"
	OutboxDead      = "dead"
)

// OutboxMessage is a durable trigger awaiting delivery to external
// systems. Delivery is at-least-once; consumers must dedupe on ID.
type OutboxMessage struct {
	ID            string          `json:"id"`
	Topic         string          `json:"topic"`
	Payload       json.RawMessage `json:"payload"`
	Status        string          `json:"status"`
	Attempts      int             `json:"attempts"`
	NextAttemptAt time.Time       `json:"nextAttemptAt"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// TelemetryEvent is one recorded narrative analytics event.
type TelemetryEvent struct {
	ID          string          `json:"id"`
	CharacterID string          `json:"characterId"`
	QuestID     string          `json:"questId"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Commit is one atomic resolution write: the updated context guarded by
// a version compare-and-swap, plus everything recorded alongside it.
type Commit struct {
	// Context carries the new state. Its Version field is ignored; the
	// store derives it from ExpectedVersion.
	Context state.Context
	// ExpectedVersion is the version the caller read. Zero means the
	// context must not exist yet.
	ExpectedVersion uint64
	Activations     []branch.ActivationRecord
	Outbox          []OutboxMessage
	Telemetry       []TelemetryEvent
}

// ContextStore reads and creates quest contexts.
type ContextStore interface {
	// Context returns the stored context, or a CONTEXT_NOT_FOUND error.
	Context(ctx context.Context, characterID, questID string) (state.Context, error)
}

// ActivationStore reads the append-only activation ledger.
type ActivationStore interface {
	// Activations returns the ledger in step order.
	Activations(ctx context.Context, characterID, questID string) ([]branch.ActivationRecord, error)
}

// OutboxStore drives trigger delivery.
type OutboxStore interface {
	// DuePending returns pending messages whose next attempt is due, in
	// creation order.
	DuePending(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error)
	// MarkDelivered finalizes a message after successful delivery.
	MarkDelivered(ctx context.Context, id string) error
	// MarkFailed schedules a retry, or marks the message dead when the
	// attempt budget is exhausted.
	MarkFailed(ctx context.Context, id string, nextAttempt time.Time, dead bool) error
}

// TelemetryStore reads recorded telemetry.
type TelemetryStore interface {
	TelemetryEvents(ctx context.Context, characterID, questID string, limit int) ([]TelemetryEvent, error)
}

// Committer applies a resolution commit atomically.
type Committer interface {
	// CommitResolution writes the commit in one transaction. Returns a
	// CONTEXT_VERSION_CONFLICT error when the compare-and-swap loses.
	CommitResolution(ctx context.Context, commit Commit) error
}

// Store is the full persistence surface.
type Store interface {
	ContextStore
	ActivationStore
	OutboxStore
	TelemetryStore
	Committer
	Close() error
}
