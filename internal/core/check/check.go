// Package check grades skill checks against a difficulty class.
//
// Resolution is a pure function of its inputs: raw d20 rolls arrive from
// an external RNG collaborator and the resolver only grades them. This
// keeps every outcome deterministic and replayable.
package check

import (
	"errors"
	"fmt"
)

// Grade categorizes a resolved skill check.
type Grade string

const (
	GradeSuccess         Grade = "success"
	GradeFailure         Grade = "failure"
	GradeCriticalSuccess Grade = "critical_success"
	GradeCriticalFailure Grade = "critical_failure"
)

// Succeeded reports whether the grade counts as a pass.
func (g Grade) Succeeded() bool {
	return g == GradeSuccess || g == GradeCriticalSuccess
}

const (
	// MinDifficulty and MaxDifficulty bound legal difficulty classes.
	MinDifficulty = 1
	MaxDifficulty = 30

	minRoll = 1
	maxRoll = 20
)

// ErrRollOutOfRange indicates a base roll outside 1-20. The resolver
// never clamps; the caller decides whether to reject or re-roll.
var ErrRollOutOfRange = errors.New("base roll must be between 1 and 20")

// ErrInvalidDifficulty indicates a difficulty class outside 1-30.
var ErrInvalidDifficulty = errors.New("difficulty class must be between 1 and 30")

// ErrDuplicateModifierSource indicates two modifiers share a source tag.
var ErrDuplicateModifierSource = errors.New("modifier sources must be unique")

// ErrRollCountMismatch indicates the number of supplied rolls does not
// match the advantage flag: one roll normally, two with advantage.
var ErrRollCountMismatch = errors.New("advantage requires two rolls, plain checks exactly one")

// Modifier is a signed adjustment to a check total, tagged with its origin
// (gear, implant, status effect) for auditability.
type Modifier struct {
	Source string `json:"source"`
	Value  int    `json:"value"`
}

// Request describes one skill check resolution.
type Request struct {
	Stat       string
	Difficulty int
	Advantage  bool
	// Rolls holds the raw d20 rolls: exactly one, or two when Advantage
	// is set (the higher is kept, the other discarded before modifiers).
	Rolls     []int
	Modifiers []Modifier
}

// Result captures a graded skill check.
type Result struct {
	Stat          string     `json:"stat"`
	NaturalRoll   int        `json:"naturalRoll"`
	DiscardedRoll int        `json:"discardedRoll,omitempty"`
	Modifiers     []Modifier `json:"modifiers,omitempty"`
	ModifierTotal int        `json:"modifierTotal"`
	Total         int        `json:"total"`
	Difficulty    int        `json:"difficulty"`
	Margin        int        `json:"margin"`
	Grade         Grade      `json:"grade"`
}

// Resolve grades a skill check.
//
// total = chosen roll + sum(modifiers). A natural 20 is always a
// critical success and a natural 1 always a critical failure, regardless
// of the total versus the difficulty class. With advantage the higher of
// two rolls is chosen and the natural-20/1 rules apply to the chosen
// roll, not the discarded one.
func Resolve(request Request) (Result, error) {
	if request.Difficulty < MinDifficulty || request.Difficulty > MaxDifficulty {
		return Result{}, fmt.Errorf("%w: got %d", ErrInvalidDifficulty, request.Difficulty)
	}

	wantRolls := 1
	if request.Advantage {
		wantRolls = 2
	}
	if len(request.Rolls) != wantRolls {
		return Result{}, fmt.Errorf("%w: got %d rolls", ErrRollCountMismatch, len(request.Rolls))
	}
	for _, roll := range request.Rolls {
		if roll < minRoll || roll > maxRoll {
			return Result{}, fmt.Errorf("%w: got %d", ErrRollOutOfRange, roll)
		}
	}

	seen := make(map[string]struct{}, len(request.Modifiers))
	modifierTotal := 0
	for _, modifier := range request.Modifiers {
		if _, dup := seen[modifier.Source]; dup {
			return Result{}, fmt.Errorf("%w: %q", ErrDuplicateModifierSource, modifier.Source)
		}
		seen[modifier.Source] = struct{}{}
		modifierTotal += modifier.Value
	}

	chosen := request.Rolls[0]
	discarded := 0
	if request.Advantage {
		discarded = request.Rolls[1]
		if discarded > chosen {
			chosen, discarded = discarded, chosen
		}
	}

	total := chosen + modifierTotal

	grade := GradeFailure
	switch {
	case chosen == maxRoll:
		grade = GradeCriticalSuccess
	case chosen == minRoll:
		grade = GradeCriticalFailure
	case total >= request.Difficulty:
		grade = GradeSuccess
	}

	return Result{
		Stat:          request.Stat,
		NaturalRoll:   chosen,
		DiscardedRoll: discarded,
		Modifiers:     append([]Modifier(nil), request.Modifiers...),
		ModifierTotal: modifierTotal,
		Total:         total,
		Difficulty:    request.Difficulty,
		Margin:        total - request.Difficulty,
		Grade:         grade,
	}, nil
}
