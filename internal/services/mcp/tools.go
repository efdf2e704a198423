package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/louisbranch/questline/internal/core/check"
	"github.com/louisbranch/questline/internal/core/dice"
	"github.com/louisbranch/questline/internal/narrative/coherence"
	"github.com/louisbranch/questline/internal/narrative/session"
)

// CheckResolveInput grades a skill check from known rolls.
type CheckResolveInput struct {
	Stat       string           `json:"stat"`
	Difficulty int              `json:"difficultyClass"`
	Advantage  bool             `json:"advantage,omitempty"`
	Rolls      []int            `json:"rolls"`
	Modifiers  []check.Modifier `json:"modifiers,omitempty"`
}

func checkResolveTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "check_resolve",
		Description: "Grades a d20 skill check from known rolls against a difficulty class",
	}
}

func checkResolveHandler() mcp.ToolHandlerFor[CheckResolveInput, check.Result] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input CheckResolveInput) (*mcp.CallToolResult, check.Result, error) {
		result, err := check.Resolve(check.Request{
			Stat:       input.Stat,
			Difficulty: input.Difficulty,
			Advantage:  input.Advantage,
			Rolls:      input.Rolls,
			Modifiers:  input.Modifiers,
		})
		if err != nil {
			return nil, check.Result{}, fmt.Errorf("grade check: %w", err)
		}
		return nil, result, nil
	}
}

// DiceRollInput rolls dice from a seed for reproducible results.
type DiceRollInput struct {
	Seed  int64 `json:"seed"`
	Count int   `json:"count,omitempty"`
	Sides int   `json:"sides,omitempty"`
}

// DiceRollResult carries the rolled values.
type DiceRollResult struct {
	Rolls []int `json:"rolls"`
	Total int   `json:"total"`
}

func diceRollTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "dice_roll",
		Description: "Rolls seed-deterministic dice; defaults to one d20",
	}
}

func diceRollHandler() mcp.ToolHandlerFor[DiceRollInput, DiceRollResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input DiceRollInput) (*mcp.CallToolResult, DiceRollResult, error) {
		count := input.Count
		if count == 0 {
			count = 1
		}
		sides := input.Sides
		if sides == 0 {
			sides = 20
		}
		result, err := dice.RollDice(dice.Request{
			Seed: input.Seed,
			Dice: []dice.Spec{{Count: count, Sides: sides}},
		})
		if err != nil {
			return nil, DiceRollResult{}, fmt.Errorf("roll dice: %w", err)
		}
		out := DiceRollResult{Total: result.Total}
		for _, roll := range result.Rolls {
			out.Rolls = append(out.Rolls, roll.Results...)
		}
		return nil, out, nil
	}
}

func optionResolveTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "option_resolve",
		Description: "Resolves a dialogue option for a character: grades checks, applies consequences, activates branches",
	}
}

func optionResolveHandler(orchestrator *session.Orchestrator) mcp.ToolHandlerFor[session.ResolveRequest, session.ResolveResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input session.ResolveRequest) (*mcp.CallToolResult, session.ResolveResult, error) {
		result, err := orchestrator.Resolve(ctx, input)
		if err != nil {
			return nil, session.ResolveResult{}, fmt.Errorf("resolve option: %w", err)
		}
		return nil, result, nil
	}
}

// BranchTreeInput identifies the character and quest to inspect.
type BranchTreeInput struct {
	CharacterID  string `json:"characterId"`
	QuestID      string `json:"questId"`
	QuestVersion int    `json:"questVersion,omitempty"`
}

// BranchTreeResult lists every branch with its derived status.
type BranchTreeResult struct {
	Branches []session.BranchView `json:"branches"`
}

func branchTreeTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "branch_tree",
		Description: "Lists quest branches with their lifecycle status for one character",
	}
}

func branchTreeHandler(orchestrator *session.Orchestrator) mcp.ToolHandlerFor[BranchTreeInput, BranchTreeResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input BranchTreeInput) (*mcp.CallToolResult, BranchTreeResult, error) {
		views, err := orchestrator.BranchTree(ctx, input.CharacterID, input.QuestID, input.QuestVersion)
		if err != nil {
			return nil, BranchTreeResult{}, fmt.Errorf("build branch tree: %w", err)
		}
		return nil, BranchTreeResult{Branches: views}, nil
	}
}

func coherenceTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "coherence_report",
		Description: "Audits a character's branch activations for contradictions",
	}
}

func coherenceHandler(orchestrator *session.Orchestrator) mcp.ToolHandlerFor[BranchTreeInput, coherence.Report] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input BranchTreeInput) (*mcp.CallToolResult, coherence.Report, error) {
		report, err := orchestrator.CoherenceReport(ctx, input.CharacterID, input.QuestID, input.QuestVersion)
		if err != nil {
			return nil, coherence.Report{}, fmt.Errorf("build coherence report: %w", err)
		}
		return nil, report, nil
	}
}
