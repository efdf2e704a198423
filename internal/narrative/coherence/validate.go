// Package coherence audits a character's activation ledger against the
// quest graph and current context.
//
// Validation is read-only and advisory except for mutual exclusion:
// two active branches that declare each other exclusive mean the ledger
// was corrupted outside the tracker, and the report flags the state as
// incoherent.
package coherence

import (
	"fmt"
	"sort"
	"time"

	"github.com/louisbranch/questline/internal/narrative/branch"
	"github.com/louisbranch/questline/internal/narrative/graph"
	"github.com/louisbranch/questline/internal/narrative/predicate"
)

// ConflictType labels the kind of inconsistency found.
type ConflictType string

const (
	// ConflictMutuallyExclusive is a hard conflict: both sides of a
	// declared exclusion are active.
	ConflictMutuallyExclusive ConflictType = "mutually_exclusive"
	// ConflictMissingPrerequisite means an active branch whose
	// activation conditions are not satisfied by the current flag set,
	// or whose gating branches never activated.
	ConflictMissingPrerequisite ConflictType = "missing_prerequisite"
	// ConflictStateMismatch means a set flag that no option outcome or
	// active branch consequence accounts for. Advisory.
	ConflictStateMismatch ConflictType = "state_mismatch"
)

// Severity ranks a conflict for operator triage.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

func (t ConflictType) severity() Severity {
	switch t {
	case ConflictMutuallyExclusive:
		return SeverityError
	case ConflictMissingPrerequisite:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Conflict is one detected inconsistency.
type Conflict struct {
	Type         ConflictType       `json:"type"`
	Severity     Severity           `json:"severity"`
	Significance graph.Significance `json:"significance"`
	Branches     []string           `json:"branches"`
	Detail       string             `json:"detail"`
}

// Report is the result of one coherence pass.
type Report struct {
	CharacterID     string     `json:"characterId"`
	QuestID         string     `json:"questId"`
	IsCoherent      bool       `json:"isCoherent"`
	Conflicts       []Conflict `json:"conflicts,omitempty"`
	Recommendations []string   `json:"recommendations,omitempty"`
	CheckedAt       time.Time  `json:"checkedAt"`
}

// Validate audits the activation ledger for one character and quest.
func Validate(g *graph.QuestGraph, records []branch.ActivationRecord, facts predicate.Facts, characterID string, now time.Time) Report {
	report := Report{
		CharacterID: characterID,
		QuestID:     g.QuestID(),
		IsCoherent:  true,
		CheckedAt:   now,
	}

	active := map[string]struct{}{}
	for _, record := range records {
		if record.Status == branch.StatusActive {
			active[record.BranchID] = struct{}{}
		}
	}

	for _, b := range g.Branches() {
		if _, isActive := active[b.ID]; !isActive {
			continue
		}

		for _, peer := range b.MutuallyExclusiveWith {
			if _, peerActive := active[peer]; !peerActive {
				continue
			}
			// Report each exclusive pair once, from the lower id.
			if peer < b.ID {
				continue
			}
			report.IsCoherent = false
			report.Conflicts = append(report.Conflicts, Conflict{
				Type:         ConflictMutuallyExclusive,
				Severity:     ConflictMutuallyExclusive.severity(),
				Significance: maxSignificance(b.Significance, significanceOf(g, peer)),
				Branches:     []string{b.ID, peer},
				Detail:       fmt.Sprintf("branches %s and %s are both active but mutually exclusive", b.ID, peer),
			})
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("deactivate one of %s or %s before resuming the session", b.ID, peer))
		}

		if parents := g.Parents(b.ID); len(parents) > 0 && !anyActive(active, parents) {
			report.Conflicts = append(report.Conflicts, Conflict{
				Type:         ConflictMissingPrerequisite,
				Severity:     ConflictMissingPrerequisite.severity(),
				Significance: b.Significance,
				Branches:     []string{b.ID},
				Detail:       fmt.Sprintf("branch %s is active but none of its gating branches %v activated", b.ID, parents),
			})
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("inspect the activation ledger for %s; its gate may have been bypassed by a content migration", b.ID))
		}

		if len(b.Conditions) > 0 && !b.ConditionsMet(facts) {
			report.Conflicts = append(report.Conflicts, Conflict{
				Type:         ConflictMissingPrerequisite,
				Severity:     ConflictMissingPrerequisite.severity(),
				Significance: b.Significance,
				Branches:     []string{b.ID},
				Detail:       fmt.Sprintf("branch %s is active but its activation conditions are not satisfied by the current flag set", b.ID),
			})
		}
	}

	// A set flag every setter of which is an inactive branch (or that
	// nothing in content sets) points at state written outside the
	// engine.
	for _, flag := range sortedFlags(facts.Flags) {
		if !g.HasFlag(flag) || g.OptionSetsFlag(flag) {
			continue
		}
		setters := g.BranchesSettingFlag(flag)
		if anyActive(active, setters) {
			continue
		}
		report.Conflicts = append(report.Conflicts, Conflict{
			Type:         ConflictStateMismatch,
			Severity:     ConflictStateMismatch.severity(),
			Significance: maxSignificanceOf(g, setters),
			Branches:     setters,
			Detail:       fmt.Sprintf("flag %s is set but no option outcome or active branch accounts for it", flag),
		})
	}

	return report
}

func sortedFlags(flags map[string]struct{}) []string {
	out := make([]string, 0, len(flags))
	for flag := range flags {
		out = append(out, flag)
	}
	sort.Strings(out)
	return out
}

func maxSignificanceOf(g *graph.QuestGraph, branchIDs []string) graph.Significance {
	highest := graph.SignificanceMinor
	for _, id := range branchIDs {
		highest = maxSignificance(highest, significanceOf(g, id))
	}
	return highest
}

func anyActive(active map[string]struct{}, ids []string) bool {
	for _, id := range ids {
		if _, ok := active[id]; ok {
			return true
		}
	}
	return false
}

func significanceOf(g *graph.QuestGraph, branchID string) graph.Significance {
	b, err := g.Branch(branchID)
	if err != nil {
		return graph.SignificanceMinor
	}
	return b.Significance
}

var significanceRank = map[graph.Significance]int{
	graph.SignificanceMinor:    0,
	graph.SignificanceModerate: 1,
	graph.SignificanceMajor:    2,
	graph.SignificanceCritical: 3,
}

func maxSignificance(a, b graph.Significance) graph.Significance {
	if significanceRank[b] > significanceRank[a] {
		return b
	}
	return a
}
