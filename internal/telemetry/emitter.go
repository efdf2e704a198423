// Package telemetry builds narrative analytics events.
//
// Events are not written directly; the emitter constructs records that
// ride the resolution commit so analytics never disagree with state.
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/louisbranch/questline/internal/platform/id"
	"github.com/louisbranch/questline/internal/storage"
)

// Event kinds recorded by the engine.
const (
	KindResolution    = "resolution"
	KindActivation    = "branch_activation"
	KindCostRejection = "cost_rejection"
	KindCoherence     = "coherence_report"
)

// Emitter constructs telemetry events with stable ids and timestamps.
type Emitter struct {
	clock func() time.Time
	newID func() string
}

// NewEmitter creates an emitter using wall-clock time.
func NewEmitter() *Emitter {
	return &Emitter{clock: func() time.Time { return time.Now().UTC() }, newID: id.NewID}
}

// NewEmitterAt creates an emitter with a fixed clock and id source, for
// tests and replay.
func NewEmitterAt(clock func() time.Time, newID func() string) *Emitter {
	return &Emitter{clock: clock, newID: newID}
}

// Event builds one telemetry record. The payload must be JSON-encodable.
func (e *Emitter) Event(characterID, questID, kind string, payload any) (storage.TelemetryEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return storage.TelemetryEvent{}, fmt.Errorf("encode %s telemetry payload: %w", kind, err)
	}
	return storage.TelemetryEvent{
		ID:          e.newID(),
		CharacterID: characterID,
		QuestID:     questID,
		Kind:        kind,
		Payload:     data,
		CreatedAt:   e.clock(),
	}, nil
}
