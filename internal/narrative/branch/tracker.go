// Package branch derives branch lifecycle status and produces activation
// ledger records.
//
// Status is never stored directly. The append-only activation ledger
// records terminal transitions (active, excluded_by_peer); locked and
// eligible are derived from the graph and current facts on every read.
// The tracker itself is pure: it computes records to append, and the
// caller commits them atomically alongside the context update.
package branch

import (
	"time"

	"github.com/louisbranch/questline/internal/errors"
	"github.com/louisbranch/questline/internal/narrative/graph"
	"github.com/louisbranch/questline/internal/narrative/predicate"
)

// Status is the lifecycle state of a branch for one character.
type Status string

const (
	StatusLocked         Status = "locked"
	StatusEligible       Status = "eligible"
	StatusActive         Status = "active"
	StatusExcludedByPeer Status = "excluded_by_peer"
)

// Terminal reports whether the status can never change again.
func (s Status) Terminal() bool {
	return s == StatusActive || s == StatusExcludedByPeer
}

// ActivationRecord is one entry in the append-only activation ledger.
// Records sharing a step were committed atomically.
type ActivationRecord struct {
	CharacterID string    `json:"characterId"`
	QuestID     string    `json:"questId"`
	BranchID    string    `json:"branchId"`
	Status      Status    `json:"status"`
	ChoiceID    string    `json:"choiceId,omitempty"`
	Step        int       `json:"step"`
	ActivatedAt time.Time `json:"activatedAt"`
}

// Tracker computes branch status against one graph version.
type Tracker struct {
	Graph *graph.QuestGraph
	Now   func() time.Time
}

func (t *Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now().UTC()
}

// terminalStatus returns the ledger-recorded terminal status, if any.
func terminalStatus(records []ActivationRecord, branchID string) (Status, bool) {
	for _, record := range records {
		if record.BranchID == branchID {
			return record.Status, true
		}
	}
	return "", false
}

// Status derives the current status of one branch.
func (t *Tracker) Status(records []ActivationRecord, facts predicate.Facts, branchID string) (Status, error) {
	b, err := t.Graph.Branch(branchID)
	if err != nil {
		return "", err
	}
	if status, ok := terminalStatus(records, branchID); ok {
		return status, nil
	}
	if !t.parentGateOpen(records, branchID) {
		return StatusLocked, nil
	}
	if !b.ConditionsMet(facts) {
		return StatusLocked, nil
	}
	return StatusEligible, nil
}

// Statuses derives the status of every branch in the graph.
func (t *Tracker) Statuses(records []ActivationRecord, facts predicate.Facts) map[string]Status {
	out := make(map[string]Status, len(t.Graph.Branches()))
	for _, b := range t.Graph.Branches() {
		status, err := t.Status(records, facts, b.ID)
		if err != nil {
			continue
		}
		out[b.ID] = status
	}
	return out
}

// Eligible returns the ids of every branch currently activatable, in
// content order.
func (t *Tracker) Eligible(records []ActivationRecord, facts predicate.Facts) []string {
	var out []string
	for _, b := range t.Graph.Branches() {
		status, err := t.Status(records, facts, b.ID)
		if err == nil && status == StatusEligible {
			out = append(out, b.ID)
		}
	}
	return out
}

// parentGateOpen reports whether the branch is reachable: either no
// branch gates it, or at least one gating branch is active.
func (t *Tracker) parentGateOpen(records []ActivationRecord, branchID string) bool {
	parents := t.Graph.Parents(branchID)
	if len(parents) == 0 {
		return true
	}
	for _, parent := range parents {
		if status, ok := terminalStatus(records, parent); ok && status == StatusActive {
			return true
		}
	}
	return false
}

// Activate re-checks eligibility at commit time and returns the records
// to append: the activation itself plus one exclusion record per
// mutually-exclusive peer that is not already terminal. All returned
// records carry the same step; the caller must commit them atomically.
func (t *Tracker) Activate(records []ActivationRecord, facts predicate.Facts, characterID, questID, branchID, choiceID string) ([]ActivationRecord, error) {
	b, err := t.Graph.Branch(branchID)
	if err != nil {
		return nil, err
	}

	if status, ok := terminalStatus(records, branchID); ok {
		switch status {
		case StatusActive:
			return nil, errors.Newf(errors.CodeBranchAlreadyActive, "branch %s is already active", branchID)
		case StatusExcludedByPeer:
			return nil, errors.Newf(errors.CodeBranchExcluded, "branch %s was excluded by a peer activation", branchID)
		}
	}
	if !t.parentGateOpen(records, branchID) {
		return nil, errors.Newf(errors.CodeBranchConditionsUnmet, "branch %s is gated by an inactive parent branch", branchID)
	}
	if !b.ConditionsMet(facts) {
		return nil, errors.Newf(errors.CodeBranchConditionsUnmet, "activation conditions for branch %s no longer hold", branchID)
	}

	step := nextStep(records)
	now := t.now()
	appended := []ActivationRecord{{
		CharacterID: characterID,
		QuestID:     questID,
		BranchID:    branchID,
		Status:      StatusActive,
		ChoiceID:    choiceID,
		Step:        step,
		ActivatedAt: now,
	}}
	for _, peer := range b.MutuallyExclusiveWith {
		if _, terminal := terminalStatus(records, peer); terminal {
			continue
		}
		appended = append(appended, ActivationRecord{
			CharacterID: characterID,
			QuestID:     questID,
			BranchID:    peer,
			Status:      StatusExcludedByPeer,
			ChoiceID:    choiceID,
			Step:        step,
			ActivatedAt: now,
		})
	}
	return appended, nil
}

func nextStep(records []ActivationRecord) int {
	max := 0
	for _, record := range records {
		if record.Step > max {
			max = record.Step
		}
	}
	return max + 1
}
