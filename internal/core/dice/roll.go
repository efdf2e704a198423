// Package dice implements deterministic dice rolling for tooling and tests.
//
// The skill check resolver never rolls dice itself; raw rolls are supplied
// by callers so resolution stays a pure function. This package exists for
// the CLI, the scenario harness, and any collaborator that needs a seeded
// RNG with reproducible output.
package dice

import (
	"errors"
	"math/rand"
)

// ErrMissingDice indicates a roll request had no dice specified.
var ErrMissingDice = errors.New("at least one die must be provided")

// ErrInvalidDiceSpec indicates a die specification has invalid fields.
var ErrInvalidDiceSpec = errors.New("dice must have positive sides and count")

// Spec describes a die to roll and how many times to roll it.
type Spec struct {
	Sides int
	Count int
}

// Roll captures the results for a single dice spec.
type Roll struct {
	Sides   int
	Results []int
	Total   int
}

// Request describes a request to roll one or more dice.
type Request struct {
	Dice []Spec
	Seed int64
}

// Result captures the results from rolling multiple dice.
type Result struct {
	Rolls []Roll
	Total int
}

// RollDice rolls dice based on the provided request.
//
// RollDice is deterministic with respect to the Seed field on Request:
// given the same Seed and the same Dice slice (including order and
// values), it always produces the same Result. Specs are processed in
// slice order and results appear in the same order.
//
// At least one Spec must be provided, otherwise ErrMissingDice is
// returned. Each Spec must have Sides > 0 and Count > 0, otherwise
// ErrInvalidDiceSpec is returned.
func RollDice(request Request) (Result, error) {
	rng := rand.New(rand.NewSource(request.Seed))
	return RollWithRng(rng, request.Dice)
}

// RollWithRng rolls dice using a provided random source.
// This is useful when you want to control the RNG directly.
func RollWithRng(rng *rand.Rand, specs []Spec) (Result, error) {
	if len(specs) == 0 {
		return Result{}, ErrMissingDice
	}

	rolls := make([]Roll, 0, len(specs))
	total := 0

	for _, spec := range specs {
		if spec.Sides <= 0 || spec.Count <= 0 {
			return Result{}, ErrInvalidDiceSpec
		}

		results := make([]int, spec.Count)
		rollTotal := 0
		for i := 0; i < spec.Count; i++ {
			value := rng.Intn(spec.Sides) + 1
			results[i] = value
			rollTotal += value
		}

		rolls = append(rolls, Roll{
			Sides:   spec.Sides,
			Results: results,
			Total:   rollTotal,
		})
		total += rollTotal
	}

	return Result{
		Rolls: rolls,
		Total: total,
	}, nil
}

// RollD20 rolls count twenty-sided dice with the provided seed. It is a
// convenience wrapper for the base roll shape skill checks consume.
func RollD20(seed int64, count int) ([]int, error) {
	if count <= 0 {
		return nil, ErrInvalidDiceSpec
	}
	result, err := RollDice(Request{
		Dice: []Spec{{Sides: 20, Count: count}},
		Seed: seed,
	})
	if err != nil {
		return nil, err
	}
	return result.Rolls[0].Results, nil
}
