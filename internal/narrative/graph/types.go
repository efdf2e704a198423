// Package graph holds the immutable, versioned quest narrative graph.
//
// Nodes and branches form an arena addressed by stable string ids, so
// cycles and back-references are expressible without object ownership
// cycles. A graph is validated once at load time and never mutated
// afterwards; lookups go through id-indexed maps.
package graph

import (
	"time"

	"github.com/louisbranch/questline/internal/core/check"
	"github.com/louisbranch/questline/internal/narrative/predicate"
)

// NodeType categorizes dialogue nodes.
type NodeType string

const (
	NodeDialogue NodeType = "dialogue"
	NodeTutorial NodeType = "tutorial"
	NodeBranch   NodeType = "branch"
	NodeReward   NodeType = "reward"
)

// BranchType categorizes quest branches.
type BranchType string

const (
	BranchMain      BranchType = "main"
	BranchSide      BranchType = "side"
	BranchParallel  BranchType = "parallel"
	BranchExclusive BranchType = "exclusive"
)

// Significance ranks a branch's narrative impact, used for conflict
// severity in coherence reports.
type Significance string

const (
	SignificanceMinor    Significance = "minor"
	SignificanceModerate Significance = "moderate"
	SignificanceMajor    Significance = "major"
	SignificanceCritical Significance = "critical"
)

// Reward is an additive grant of currency, XP or items.
type Reward struct {
	Kind   string `json:"kind" yaml:"kind"` // currency, xp, item
	Ref    string `json:"ref,omitempty" yaml:"ref,omitempty"`
	Amount int    `json:"amount" yaml:"amount"`
}

// Grant is an unconditional item or ability grant.
type Grant struct {
	Kind string `json:"kind" yaml:"kind"` // item, ability
	Ref  string `json:"ref" yaml:"ref"`
}

// Cost is a deduction that must be affordable before an outcome applies.
type Cost struct {
	Resource string `json:"resource" yaml:"resource"`
	Amount   int    `json:"amount" yaml:"amount"`
}

// Debuff is a temporary negative status carried by an outcome. Only the
// duration lives in content; expiry is enforced externally.
type Debuff struct {
	ID       string        `json:"id" yaml:"id"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// OptionOutcome bundles the state deltas applied when an option resolves
// to a particular grade.
type OptionOutcome struct {
	SetFlags     []string `json:"setFlags,omitempty" yaml:"setFlags,omitempty"`
	ClearFlags   []string `json:"clearFlags,omitempty" yaml:"clearFlags,omitempty"`
	Rewards      []Reward `json:"rewards,omitempty" yaml:"rewards,omitempty"`
	Grants       []Grant  `json:"grants,omitempty" yaml:"grants,omitempty"`
	Costs        []Cost   `json:"costs,omitempty" yaml:"costs,omitempty"`
	Debuffs      []Debuff `json:"debuffs,omitempty" yaml:"debuffs,omitempty"`
	Triggers     []string `json:"triggers,omitempty" yaml:"triggers,omitempty"`
	NarrativeLog string   `json:"narrativeLog,omitempty" yaml:"narrativeLog,omitempty"`
}

// IsZero reports whether the outcome carries no deltas at all.
func (o OptionOutcome) IsZero() bool {
	return len(o.SetFlags) == 0 && len(o.ClearFlags) == 0 && len(o.Rewards) == 0 &&
		len(o.Grants) == 0 && len(o.Costs) == 0 && len(o.Debuffs) == 0 &&
		len(o.Triggers) == 0 && o.NarrativeLog == ""
}

// SkillCheck is a stat-vs-difficulty gate on a dialogue option. The
// modifier list is the authoritative set a client must apply; rolls
// submitted with different modifiers are rejected.
type SkillCheck struct {
	Stat       string           `json:"stat" yaml:"stat"`
	Difficulty int              `json:"difficultyClass" yaml:"difficultyClass"`
	Advantage  bool             `json:"advantage,omitempty" yaml:"advantage,omitempty"`
	Modifiers  []check.Modifier `json:"modifiers,omitempty" yaml:"modifiers,omitempty"`
}

// DialogueOption is one selectable choice on a node.
type DialogueOption struct {
	ID       string       `json:"id" yaml:"id"`
	TextKey  string       `json:"textKey" yaml:"textKey"`
	Checks   []SkillCheck `json:"skillChecks,omitempty" yaml:"skillChecks,omitempty"`
	NextNode string       `json:"nextNode,omitempty" yaml:"nextNode,omitempty"`

	outcomes map[check.Grade]OptionOutcome
}

// Outcome returns the consequence bundle for a grade. Critical success
// falls back to the success bundle when no distinct bundle exists; the
// applied-check detail still reports the critical grade. Absence is a
// representable state: a grade with no bundle means "no deltas".
func (o *DialogueOption) Outcome(grade check.Grade) (OptionOutcome, bool) {
	if outcome, ok := o.outcomes[grade]; ok {
		return outcome, true
	}
	if grade == check.GradeCriticalSuccess {
		outcome, ok := o.outcomes[check.GradeSuccess]
		return outcome, ok
	}
	return OptionOutcome{}, false
}

// DialogueNode is a single beat in the narrative graph.
type DialogueNode struct {
	ID          string           `json:"id" yaml:"id"`
	Speaker     string           `json:"speaker,omitempty" yaml:"speaker,omitempty"`
	Type        NodeType         `json:"type" yaml:"type"`
	DefaultNext string           `json:"defaultNext,omitempty" yaml:"defaultNext,omitempty"`
	Options     []DialogueOption `json:"options,omitempty" yaml:"options,omitempty"`
}

// Option returns the option with the given id, if present.
func (n *DialogueNode) Option(optionID string) (*DialogueOption, bool) {
	for i := range n.Options {
		if n.Options[i].ID == optionID {
			return &n.Options[i], true
		}
	}
	return nil, false
}

// Condition is a parsed activation predicate with its source text kept
// for audit and operator display.
type Condition struct {
	Raw  string
	expr predicate.Expr
}

// Eval evaluates the condition against the given facts.
func (c Condition) Eval(facts predicate.Facts) bool {
	if c.expr == nil {
		return false
	}
	return c.expr.Eval(facts)
}

func (c Condition) String() string { return c.Raw }

// QuestBranch is a named alternate path through the quest.
type QuestBranch struct {
	ID                    string
	Name                  string
	Type                  BranchType
	Conditions            []Condition
	Consequences          OptionOutcome
	NextBranches          []string
	MutuallyExclusiveWith []string
	Significance          Significance
}

// ConditionsMet reports whether every activation condition holds.
func (b *QuestBranch) ConditionsMet(facts predicate.Facts) bool {
	for _, condition := range b.Conditions {
		if !condition.Eval(facts) {
			return false
		}
	}
	return true
}
