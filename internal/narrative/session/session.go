// Package session orchestrates dialogue option resolution.
//
// A resolution reads the quest graph and the character's context,
// grades the option's skill checks from client-supplied rolls, applies
// the graded consequence bundle, routes triggers, and commits the whole
// thing atomically. Buffered ledger deltas settle only after the commit
// succeeds, so a failed commit never moves money. Concurrency control
// is two-layered: an in-process
// lock per (character, quest) serializes local callers, and the store's
// version compare-and-swap catches racing processes.
package session

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log"
	"sync"
	"time"

	"github.com/louisbranch/questline/internal/core/check"
	"github.com/louisbranch/questline/internal/errors"
	"github.com/louisbranch/questline/internal/narrative/branch"
	"github.com/louisbranch/questline/internal/narrative/coherence"
	"github.com/louisbranch/questline/internal/narrative/graph"
	"github.com/louisbranch/questline/internal/narrative/outcome"
	"github.com/louisbranch/questline/internal/narrative/state"
	"github.com/louisbranch/questline/internal/platform/id"
	"github.com/louisbranch/questline/internal/storage"
	"github.com/louisbranch/questline/internal/telemetry"
)

// SubmittedCheck carries the client's rolls for one declared check. The
// modifier echo is optional; when present it must match the
// authoritative modifier set from content exactly.
type SubmittedCheck struct {
	Stat      string           `json:"stat"`
	Rolls     []int            `json:"rolls"`
	Modifiers []check.Modifier `json:"modifiers,omitempty"`
}

// ResolveRequest asks the engine to resolve one dialogue option.
type ResolveRequest struct {
	CharacterID string `json:"characterId"`
	QuestID     string `json:"questId"`
	// QuestVersion pins a graph version; zero means latest.
	QuestVersion int              `json:"questVersion,omitempty"`
	NodeID       string           `json:"nodeId"`
	OptionID     string           `json:"optionId"`
	Checks       []SubmittedCheck `json:"checks,omitempty"`
}

// CostRejectionDetail explains a resolution that failed on affordability.
type CostRejectionDetail struct {
	Resource  string `json:"resource"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
}

// SkippedBranch records a trigger whose activation was refused at
// commit time.
type SkippedBranch struct {
	BranchID string `json:"branchId"`
	Reason   string `json:"reason"`
}

// ResolveResult is the full outcome of one resolution.
type ResolveResult struct {
	CharacterID       string                       `json:"characterId"`
	QuestID           string                       `json:"questId"`
	QuestVersion      int                          `json:"questVersion"`
	NodeID            string                       `json:"nodeId"`
	OptionID          string                       `json:"optionId"`
	Checks            []check.Result               `json:"checks,omitempty"`
	Grade             check.Grade                  `json:"grade"`
	Applied           []outcome.AppliedConsequence `json:"applied,omitempty"`
	ActivatedBranches []string                     `json:"activatedBranches,omitempty"`
	ExcludedBranches  []string                     `json:"excludedBranches,omitempty"`
	SkippedBranches   []SkippedBranch              `json:"skippedBranches,omitempty"`
	CostRejection     *CostRejectionDetail         `json:"costRejection,omitempty"`
	NextNode          string                       `json:"nextNode,omitempty"`
	NarrativeLog      string                       `json:"narrativeLog,omitempty"`
	ContextVersion    uint64                       `json:"contextVersion"`
}

// BranchView is one branch with its derived status, for clients and
// operator tooling.
type BranchView struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Type         graph.BranchType   `json:"type"`
	Status       branch.Status      `json:"status"`
	Significance graph.Significance `json:"significance"`
	Conditions   []string           `json:"conditions,omitempty"`
	NextBranches []string           `json:"nextBranches,omitempty"`
}

// Orchestrator wires the engine together.
type Orchestrator struct {
	Registry *graph.Registry
	Store    storage.Store
	Applier  *outcome.Applier
	Emitter  *telemetry.Emitter
	Now      func() time.Time
	NewID    func() string

	locks keyedLocks
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) newID() string {
	if o.NewID != nil {
		return o.NewID()
	}
	return id.NewID()
}

func (o *Orchestrator) graph(questID string, version int) (*graph.QuestGraph, error) {
	if version > 0 {
		return o.Registry.Get(questID, version)
	}
	return o.Registry.Latest(questID)
}

// loadContext returns the stored context or a fresh one for first
// contact. The returned expected version is zero for a fresh context.
func (o *Orchestrator) loadContext(ctx context.Context, characterID, questID string) (state.Context, uint64, error) {
	current, err := o.Store.Context(ctx, characterID, questID)
	if err != nil {
		if errors.IsCode(err, errors.CodeContextNotFound) {
			return state.New(characterID, questID), 0, nil
		}
		return state.Context{}, 0, err
	}
	if current.Archived {
		return state.Context{}, 0, errors.Newf(errors.CodeContextArchived, "context for character %s quest %s is archived", characterID, questID)
	}
	return current, current.Version, nil
}

// Resolve resolves one dialogue option end to end.
func (o *Orchestrator) Resolve(ctx context.Context, request ResolveRequest) (ResolveResult, error) {
	unlock := o.locks.lock(request.CharacterID + "\x00" + request.QuestID)
	defer unlock()

	g, err := o.graph(request.QuestID, request.QuestVersion)
	if err != nil {
		return ResolveResult{}, err
	}
	node, err := g.Node(request.NodeID)
	if err != nil {
		return ResolveResult{}, err
	}
	option, err := g.Option(request.NodeID, request.OptionID)
	if err != nil {
		return ResolveResult{}, err
	}

	current, expectedVersion, err := o.loadContext(ctx, request.CharacterID, request.QuestID)
	if err != nil {
		return ResolveResult{}, err
	}

	results, grade, err := o.gradeChecks(option, request.Checks)
	if err != nil {
		return ResolveResult{}, err
	}

	result := ResolveResult{
		CharacterID:  request.CharacterID,
		QuestID:      request.QuestID,
		QuestVersion: g.Version(),
		NodeID:       request.NodeID,
		OptionID:     request.OptionID,
		Checks:       results,
		Grade:        grade,
	}

	bundle, _ := option.Outcome(grade)
	app, err := o.Applier.Apply(ctx, current, bundle)
	if err != nil {
		var rejection *outcome.CostRejectionError
		if stderrors.As(err, &rejection) {
			// Unaffordable cost: the resolution lands as a failure with
			// zero state change. The failure bundle is deliberately not
			// applied; nothing is committed.
			result.Grade = check.GradeFailure
			result.CostRejection = &CostRejectionDetail{
				Resource:  rejection.Resource,
				Required:  rejection.Required,
				Available: rejection.Available,
			}
			result.ContextVersion = expectedVersion
			return result, nil
		}
		return ResolveResult{}, err
	}

	commit := storage.Commit{
		Context:         app.Context,
		ExpectedVersion: expectedVersion,
	}
	result.Applied = app.Applied
	result.NarrativeLog = app.NarrativeLog
	result.NextNode = option.NextNode
	if result.NextNode == "" {
		result.NextNode = node.DefaultNext
	}

	if err := o.routeTriggers(g, &commit, &result, app); err != nil {
		return ResolveResult{}, err
	}

	resolutionEvent, err := o.Emitter.Event(request.CharacterID, request.QuestID, telemetry.KindResolution, result)
	if err != nil {
		return ResolveResult{}, err
	}
	commit.Telemetry = append(commit.Telemetry, resolutionEvent)

	if err := o.Store.CommitResolution(ctx, commit); err != nil {
		return ResolveResult{}, err
	}
	result.ContextVersion = expectedVersion + 1

	// Settlement follows the durable commit. A failure here does not
	// unwind the resolution; it is logged for reconciliation.
	if len(app.LedgerDeltas) > 0 {
		if err := o.Applier.Ledger.Apply(ctx, request.CharacterID, app.LedgerDeltas); err != nil {
			log.Printf("msg=ledger_settlement_failed character=%s quest=%s deltas=%v err=%v",
				request.CharacterID, request.QuestID, app.LedgerDeltas, err)
		}
	}
	return result, nil
}

// gradeChecks validates the submission against the option's declared
// checks and grades each one. Declared and submitted checks pair up by
// position; the stat names must agree.
func (o *Orchestrator) gradeChecks(option *graph.DialogueOption, submitted []SubmittedCheck) ([]check.Result, check.Grade, error) {
	if len(option.Checks) == 0 {
		return nil, check.GradeSuccess, nil
	}
	if len(submitted) != len(option.Checks) {
		return nil, "", errors.Newf(errors.CodeCheckMissingRoll,
			"option %s declares %d checks, got rolls for %d", option.ID, len(option.Checks), len(submitted))
	}

	results := make([]check.Result, 0, len(option.Checks))
	allSucceeded := true
	allCritical := true
	anyCriticalFailure := false

	for i, declared := range option.Checks {
		sub := submitted[i]
		if sub.Stat != declared.Stat {
			return nil, "", errors.Newf(errors.CodeCheckMissingRoll,
				"check %d is on %s, got rolls for %s", i, declared.Stat, sub.Stat)
		}
		if len(sub.Modifiers) > 0 && !modifiersEqual(sub.Modifiers, declared.Modifiers) {
			return nil, "", errors.Newf(errors.CodeCheckModifierMismatch,
				"submitted modifiers for %s disagree with content", declared.Stat)
		}

		res, err := check.Resolve(check.Request{
			Stat:       declared.Stat,
			Difficulty: declared.Difficulty,
			Advantage:  declared.Advantage,
			Rolls:      sub.Rolls,
			Modifiers:  declared.Modifiers,
		})
		if err != nil {
			return nil, "", wrapCheckError(err)
		}
		results = append(results, res)

		switch res.Grade {
		case check.GradeCriticalFailure:
			anyCriticalFailure = true
			allSucceeded = false
			allCritical = false
		case check.GradeFailure:
			allSucceeded = false
			allCritical = false
		case check.GradeSuccess:
			allCritical = false
		}
	}

	switch {
	case anyCriticalFailure:
		return results, check.GradeCriticalFailure, nil
	case allSucceeded && allCritical:
		return results, check.GradeCriticalSuccess, nil
	case allSucceeded:
		return results, check.GradeSuccess, nil
	default:
		return results, check.GradeFailure, nil
	}
}

func wrapCheckError(err error) error {
	code := errors.CodeUnknown
	switch {
	case stderrors.Is(err, check.ErrRollOutOfRange):
		code = errors.CodeCheckRollOutOfRange
	case stderrors.Is(err, check.ErrRollCountMismatch):
		code = errors.CodeCheckRollCountMismatch
	case stderrors.Is(err, check.ErrDuplicateModifierSource):
		code = errors.CodeCheckDuplicateModifier
	case stderrors.Is(err, check.ErrInvalidDifficulty):
		code = errors.CodeCheckInvalidDifficulty
	}
	return errors.Wrap(code, "grade skill check", err)
}

func modifiersEqual(a, b []check.Modifier) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// routeTriggers splits the applied bundle's triggers: branch triggers
// go through the tracker and append ledger records to the commit,
// everything else becomes a durable outbox message.
func (o *Orchestrator) routeTriggers(g *graph.QuestGraph, commit *storage.Commit, result *ResolveResult, app outcome.Application) error {
	tracker := &branch.Tracker{Graph: g, Now: o.Now}
	ledger := commit.Activations
	facts := app.Context.Facts()
	now := o.now()
	choiceID := result.NodeID + "/" + result.OptionID

	for _, trigger := range app.Triggers {
		branchID, isBranch := graph.ParseBranchTrigger(trigger)
		if !isBranch {
			payload, err := encodeTriggerPayload(result, trigger)
			if err != nil {
				// The at-least-once contract breaks here; leave a trace.
				log.Printf("msg=trigger_payload_encode_failed topic=%s character=%s err=%v",
					trigger, result.CharacterID, err)
				continue
			}
			commit.Outbox = append(commit.Outbox, storage.OutboxMessage{
				ID:            o.newID(),
				Topic:         trigger,
				Payload:       payload,
				NextAttemptAt: now,
				CreatedAt:     now,
			})
			continue
		}

		appended, err := tracker.Activate(ledger, facts, result.CharacterID, result.QuestID, branchID, choiceID)
		if err != nil {
			// Content fired the trigger but the branch refuses it now
			// (excluded, already active, conditions broke). The
			// resolution still stands; the refusal is surfaced.
			result.SkippedBranches = append(result.SkippedBranches, SkippedBranch{
				BranchID: branchID,
				Reason:   err.Error(),
			})
			continue
		}
		ledger = append(ledger, appended...)
		commit.Activations = append(commit.Activations, appended...)
		for _, record := range appended {
			if record.Status == branch.StatusActive {
				result.ActivatedBranches = append(result.ActivatedBranches, record.BranchID)
				event, err := o.Emitter.Event(result.CharacterID, result.QuestID, telemetry.KindActivation, record)
				if err != nil {
					return err
				}
				commit.Telemetry = append(commit.Telemetry, event)
			} else {
				result.ExcludedBranches = append(result.ExcludedBranches, record.BranchID)
			}
		}
	}
	return nil
}

func encodeTriggerPayload(result *ResolveResult, trigger string) ([]byte, error) {
	return json.Marshal(struct {
		Trigger     string `json:"trigger"`
		CharacterID string `json:"characterId"`
		QuestID     string `json:"questId"`
		NodeID      string `json:"nodeId"`
		OptionID    string `json:"optionId"`
	}{trigger, result.CharacterID, result.QuestID, result.NodeID, result.OptionID})
}

// BranchTree returns every branch with its derived status for one
// character.
func (o *Orchestrator) BranchTree(ctx context.Context, characterID, questID string, questVersion int) ([]BranchView, error) {
	g, err := o.graph(questID, questVersion)
	if err != nil {
		return nil, err
	}
	current, _, err := o.loadContext(ctx, characterID, questID)
	if err != nil {
		return nil, err
	}
	records, err := o.Store.Activations(ctx, characterID, questID)
	if err != nil {
		return nil, err
	}

	tracker := &branch.Tracker{Graph: g, Now: o.Now}
	statuses := tracker.Statuses(records, current.Facts())

	views := make([]BranchView, 0, len(g.Branches()))
	for _, b := range g.Branches() {
		conditions := make([]string, 0, len(b.Conditions))
		for _, condition := range b.Conditions {
			conditions = append(conditions, condition.String())
		}
		views = append(views, BranchView{
			ID:           b.ID,
			Name:         b.Name,
			Type:         b.Type,
			Status:       statuses[b.ID],
			Significance: b.Significance,
			Conditions:   conditions,
			NextBranches: b.NextBranches,
		})
	}
	return views, nil
}

// CoherenceReport audits the character's activation ledger.
func (o *Orchestrator) CoherenceReport(ctx context.Context, characterID, questID string, questVersion int) (coherence.Report, error) {
	g, err := o.graph(questID, questVersion)
	if err != nil {
		return coherence.Report{}, err
	}
	current, _, err := o.loadContext(ctx, characterID, questID)
	if err != nil {
		return coherence.Report{}, err
	}
	records, err := o.Store.Activations(ctx, characterID, questID)
	if err != nil {
		return coherence.Report{}, err
	}
	return coherence.Validate(g, records, current.Facts(), characterID, o.now()), nil
}

// keyedLocks serializes work per key. Entries are never evicted; the
// key space is bounded by active character-quest pairs.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedLocks) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = map[string]*sync.Mutex{}
	}
	lock, ok := k.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	k.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
