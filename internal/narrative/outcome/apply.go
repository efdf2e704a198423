// Package outcome applies consequence bundles to quest contexts.
//
// Application is all-or-nothing: costs are checked against the ledger
// before anything mutates, and every mutation happens on a clone of the
// context. Ledger deltas are buffered on the Application rather than
// applied; the caller settles them once the resolution is durably
// committed. A rejected cost or a ledger outage leaves the caller's
// state untouched.
package outcome

import (
	"context"
	"fmt"
	"time"

	"github.com/louisbranch/questline/internal/errors"
	"github.com/louisbranch/questline/internal/narrative/graph"
	"github.com/louisbranch/questline/internal/narrative/state"
)

// Ledger is the external inventory and currency system consulted for
// costs and credited for rewards.
type Ledger interface {
	// Balances returns the current balance for each requested resource.
	Balances(ctx context.Context, characterID string, resources []string) (map[string]int, error)
	// Apply atomically applies the given deltas. Negative values deduct.
	Apply(ctx context.Context, characterID string, deltas map[string]int) error
}

// CostRejectionError reports the first unaffordable cost. Nothing has
// been applied when this error is returned.
type CostRejectionError struct {
	Resource  string
	Required  int
	Available int
}

func (e *CostRejectionError) Error() string {
	return fmt.Sprintf("outcome: cost of %d %s exceeds available %d", e.Required, e.Resource, e.Available)
}

// ConsequenceKind labels an entry in the applied-consequence audit.
type ConsequenceKind string

const (
	KindSetFlag   ConsequenceKind = "set_flag"
	KindClearFlag ConsequenceKind = "clear_flag"
	KindReward    ConsequenceKind = "reward"
	KindGrant     ConsequenceKind = "grant"
	KindCost      ConsequenceKind = "cost"
	KindDebuff    ConsequenceKind = "debuff"
	KindTrigger   ConsequenceKind = "trigger"
)

// AppliedConsequence is one audited state delta.
type AppliedConsequence struct {
	Kind   ConsequenceKind `json:"kind"`
	Target string          `json:"target"`
	Amount int             `json:"amount,omitempty"`
}

// Application is the result of applying one consequence bundle.
type Application struct {
	// Context is the mutated clone; the input context is untouched.
	Context state.Context
	Applied []AppliedConsequence
	// Triggers carries the bundle's trigger strings for downstream
	// routing: branch activation in-process, everything else to the
	// outbox.
	Triggers     []string
	NarrativeLog string
	// LedgerDeltas is the buffered ledger mutation for this bundle.
	// The caller settles it after the resolution commit succeeds.
	LedgerDeltas map[string]int
}

// Applier applies consequence bundles. A nil Ledger is legal as long as
// no bundle carries costs or currency rewards.
type Applier struct {
	Ledger Ledger
	Now    func() time.Time
}

func (a *Applier) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now().UTC()
}

// Apply checks costs, then applies the bundle to a clone of current.
// Flag clears run before flag sets so a bundle touching the same flag
// both ways converges on set.
func (a *Applier) Apply(ctx context.Context, current state.Context, bundle graph.OptionOutcome) (Application, error) {
	deltas := ledgerDeltas(bundle)

	if len(deltas) > 0 {
		if a.Ledger == nil {
			return Application{}, errors.New(errors.CodeLedgerUnavailable, "no ledger configured for a bundle with costs or rewards")
		}
		if err := a.checkCosts(ctx, current.CharacterID, bundle.Costs); err != nil {
			return Application{}, err
		}
	}

	app := Application{
		Context:      current.Clone(),
		Triggers:     append([]string(nil), bundle.Triggers...),
		NarrativeLog: bundle.NarrativeLog,
		LedgerDeltas: deltas,
	}

	for _, flag := range bundle.ClearFlags {
		app.Context.ClearFlag(flag)
		app.Applied = append(app.Applied, AppliedConsequence{Kind: KindClearFlag, Target: flag})
	}
	for _, flag := range bundle.SetFlags {
		app.Context.SetFlag(flag)
		app.Applied = append(app.Applied, AppliedConsequence{Kind: KindSetFlag, Target: flag})
	}
	for _, cost := range bundle.Costs {
		app.Applied = append(app.Applied, AppliedConsequence{Kind: KindCost, Target: cost.Resource, Amount: cost.Amount})
	}
	for _, reward := range bundle.Rewards {
		if reward.Kind == "item" {
			count := reward.Amount
			if count < 1 {
				count = 1
			}
			for i := 0; i < count; i++ {
				app.Context.Gear = append(app.Context.Gear, reward.Ref)
			}
		}
		app.Applied = append(app.Applied, AppliedConsequence{Kind: KindReward, Target: rewardTarget(reward), Amount: reward.Amount})
	}
	for _, grant := range bundle.Grants {
		switch grant.Kind {
		case "ability":
			app.Context.Implants = append(app.Context.Implants, grant.Ref)
		default:
			app.Context.Gear = append(app.Context.Gear, grant.Ref)
		}
		app.Applied = append(app.Applied, AppliedConsequence{Kind: KindGrant, Target: grant.Ref})
	}
	for _, debuff := range bundle.Debuffs {
		app.Context.Debuffs = append(app.Context.Debuffs, state.ActiveDebuff{
			ID:        debuff.ID,
			StartedAt: a.now(),
			Duration:  debuff.Duration,
		})
		app.Applied = append(app.Applied, AppliedConsequence{Kind: KindDebuff, Target: debuff.ID})
	}
	for _, trigger := range bundle.Triggers {
		app.Applied = append(app.Applied, AppliedConsequence{Kind: KindTrigger, Target: trigger})
	}

	app.Context.UpdatedAt = a.now()
	app.Context.AssertFlagInvariant()
	return app, nil
}

func (a *Applier) checkCosts(ctx context.Context, characterID string, costs []graph.Cost) error {
	if len(costs) == 0 {
		return nil
	}

	required := map[string]int{}
	var resources []string
	for _, cost := range costs {
		if _, seen := required[cost.Resource]; !seen {
			resources = append(resources, cost.Resource)
		}
		required[cost.Resource] += cost.Amount
	}

	balances, err := a.Ledger.Balances(ctx, characterID, resources)
	if err != nil {
		return errors.Wrap(errors.CodeLedgerUnavailable, "read ledger balances", err)
	}
	for _, resource := range resources {
		if balances[resource] < required[resource] {
			return &CostRejectionError{
				Resource:  resource,
				Required:  required[resource],
				Available: balances[resource],
			}
		}
	}
	return nil
}

// ledgerDeltas folds costs and currency-like rewards into one delta map.
// Item grants and item rewards land in gear, not the ledger.
func ledgerDeltas(bundle graph.OptionOutcome) map[string]int {
	deltas := map[string]int{}
	for _, cost := range bundle.Costs {
		deltas[cost.Resource] -= cost.Amount
	}
	for _, reward := range bundle.Rewards {
		switch reward.Kind {
		case "currency":
			deltas[rewardTarget(reward)] += reward.Amount
		case "xp":
			deltas["xp"] += reward.Amount
		}
	}
	for resource, delta := range deltas {
		if delta == 0 {
			delete(deltas, resource)
		}
	}
	return deltas
}

func rewardTarget(reward graph.Reward) string {
	if reward.Ref != "" {
		return reward.Ref
	}
	return reward.Kind
}
