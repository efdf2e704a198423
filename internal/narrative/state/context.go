// Package state holds the mutable per-character quest context.
//
// A Context is only ever mutated through the consequence applier and the
// branch activation tracker; everything else reads snapshots. Updates are
// functional (clone, mutate, commit) so a failed resolution can never
// leave a half-applied context behind.
package state

import (
	"fmt"
	"time"

	"github.com/louisbranch/questline/internal/narrative/predicate"
)

// Fatigue tiers recognised by content conditions.
const (
	FatigueFresh     = "fresh"
	FatigueTired     = "tired"
	FatigueExhausted = "exhausted"
)

// ActiveDebuff records a temporary negative status. Expiry is enforced by
// an external time-tick collaborator; this type only records start and
// duration.
type ActiveDebuff struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
}

// Context is the per-(character, quest) mutable narrative state.
//
// Version increases by exactly one on every committed mutation; stores
// compare-and-swap on it so concurrent resolutions become retryable
// conflicts instead of lost updates.
type Context struct {
	CharacterID string `json:"characterId"`
	QuestID     string `json:"questId"`
	Version     uint64 `json:"version"`

	QuestState string `json:"questState"`

	ActiveFlags  map[string]struct{} `json:"activeFlags"`
	ClearedFlags map[string]struct{} `json:"clearedFlags"`

	ActiveEvents []string `json:"activeEvents,omitempty"`

	// Gear, Implants and Stats are read-only inputs owned by external
	// systems; resolution consults them but never writes them.
	Gear     []string       `json:"gear,omitempty"`
	Implants []string       `json:"implants,omitempty"`
	Stats    map[string]int `json:"stats,omitempty"`

	DifficultyTier string         `json:"difficultyTier,omitempty"`
	Fatigue        string         `json:"fatigue,omitempty"`
	Debuffs        []ActiveDebuff `json:"debuffs,omitempty"`

	Archived  bool      `json:"archived,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// New returns an empty context for a character entering a quest.
func New(characterID, questID string) Context {
	return Context{
		CharacterID:  characterID,
		QuestID:      questID,
		QuestState:   "in_progress",
		ActiveFlags:  map[string]struct{}{},
		ClearedFlags: map[string]struct{}{},
		Fatigue:      FatigueFresh,
	}
}

// Clone returns a deep copy safe to mutate independently.
func (c Context) Clone() Context {
	clone := c
	clone.ActiveFlags = cloneSet(c.ActiveFlags)
	clone.ClearedFlags = cloneSet(c.ClearedFlags)
	clone.ActiveEvents = append([]string(nil), c.ActiveEvents...)
	clone.Gear = append([]string(nil), c.Gear...)
	clone.Implants = append([]string(nil), c.Implants...)
	clone.Debuffs = append([]ActiveDebuff(nil), c.Debuffs...)
	clone.Stats = make(map[string]int, len(c.Stats))
	for stat, value := range c.Stats {
		clone.Stats[stat] = value
	}
	return clone
}

// HasFlag reports whether the flag is currently active.
func (c Context) HasFlag(name string) bool {
	_, ok := c.ActiveFlags[name]
	return ok
}

// SetFlag activates a flag, removing any explicit negation.
func (c *Context) SetFlag(name string) {
	if c.ActiveFlags == nil {
		c.ActiveFlags = map[string]struct{}{}
	}
	delete(c.ClearedFlags, name)
	c.ActiveFlags[name] = struct{}{}
}

// ClearFlag removes a flag from the active set and records the explicit
// negation. Clearing a flag that was never set is legal; the cleared set
// remembers the negation for audit.
func (c *Context) ClearFlag(name string) {
	if c.ClearedFlags == nil {
		c.ClearedFlags = map[string]struct{}{}
	}
	delete(c.ActiveFlags, name)
	c.ClearedFlags[name] = struct{}{}
}

// Facts projects the context into the predicate evaluation shape.
func (c Context) Facts() predicate.Facts {
	events := make(map[string]struct{}, len(c.ActiveEvents))
	for _, event := range c.ActiveEvents {
		events[event] = struct{}{}
	}
	return predicate.Facts{
		Flags:      c.ActiveFlags,
		Events:     events,
		Stats:      c.Stats,
		QuestState: c.QuestState,
	}
}

// AssertFlagInvariant panics when a flag is present in both the active
// and cleared sets. That state is unreachable through SetFlag/ClearFlag,
// so hitting it means a programming defect rather than bad input.
func (c Context) AssertFlagInvariant() {
	for flag := range c.ActiveFlags {
		if _, clash := c.ClearedFlags[flag]; clash {
			panic(fmt.Sprintf("state: flag %q is both active and cleared for character %s quest %s", flag, c.CharacterID, c.QuestID))
		}
	}
}

func cloneSet(src map[string]struct{}) map[string]struct{} {
	dst := make(map[string]struct{}, len(src))
	for key := range src {
		dst[key] = struct{}{}
	}
	return dst
}
