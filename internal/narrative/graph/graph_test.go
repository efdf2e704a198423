package graph

import (
	"strings"
	"testing"
	"time"

	"github.com/louisbranch/questline/internal/core/check"
	"github.com/louisbranch/questline/internal/errors"
)

func fixtureDef() Def {
	return Def{
		QuestID:   "the-heist",
		Version:   1,
		EntryNode: "intro",
		Flags:     []string{"met_fixer", "betrayed_fixer", "has_keycard", "alarm_raised"},
		Nodes: []NodeDef{
			{
				ID:      "intro",
				Speaker: "fixer",
				Type:    NodeDialogue,
				Options: []OptionDef{
					{
						ID:       "sneak",
						TextKey:  "intro.sneak",
						NextNode: "vault",
						Checks: []SkillCheck{{
							Stat:       "stealth",
							Difficulty: 15,
							Modifiers:  []check.Modifier{{Source: "cloak", Value: 5}},
						}},
						Success: &OptionOutcome{
							SetFlags: []string{"has_keycard"},
							Rewards:  []Reward{{Kind: "xp", Amount: 100}},
							Triggers: []string{BranchTrigger("ghost-route")},
						},
						Failure: &OptionOutcome{
							SetFlags: []string{"alarm_raised"},
							Debuffs:  []Debuff{{ID: "spotted", Duration: 10 * time.Minute}},
						},
						CriticalFailure: &OptionOutcome{
							SetFlags:   []string{"alarm_raised", "betrayed_fixer"},
							ClearFlags: []string{"met_fixer"},
							Costs:      []Cost{{Resource: "credits", Amount: 200}},
						},
					},
					{
						ID:       "bribe",
						TextKey:  "intro.bribe",
						NextNode: "vault",
						Success: &OptionOutcome{
							SetFlags: []string{"met_fixer"},
							Costs:    []Cost{{Resource: "credits", Amount: 500}},
							Triggers: []string{BranchTrigger("loud-route"), "world.guard_bribed"},
						},
					},
				},
			},
			{ID: "vault", Type: NodeReward},
		},
		Branches: []BranchDef{
			{
				ID:                    "ghost-route",
				Name:                  "Ghost Route",
				Type:                  BranchExclusive,
				Conditions:            []string{"flag:has_keycard && !flag:alarm_raised"},
				MutuallyExclusiveWith: []string{"loud-route"},
				Significance:          SignificanceMajor,
				NextBranches:          []string{"clean-exit"},
			},
			{
				ID:           "loud-route",
				Name:         "Loud Route",
				Type:         BranchExclusive,
				Significance: SignificanceMajor,
			},
			{
				ID:           "clean-exit",
				Name:         "Clean Exit",
				Type:         BranchSide,
				Conditions:   []string{"!flag:alarm_raised"},
				Significance: SignificanceModerate,
			},
		},
	}
}

func mustBuild(t *testing.T) *QuestGraph {
	t.Helper()
	g, err := Build(fixtureDef())
	if err != nil {
		t.Fatalf("build fixture graph: %v", err)
	}
	return g
}

func TestBuildAndLookups(t *testing.T) {
	g := mustBuild(t)

	if g.QuestID() != "the-heist" || g.Version() != 1 {
		t.Fatalf("unexpected identity %s v%d", g.QuestID(), g.Version())
	}

	node, err := g.Node("intro")
	if err != nil {
		t.Fatalf("Node(intro): %v", err)
	}
	if len(node.Options) != 2 {
		t.Fatalf("expected 2 options, got %d", len(node.Options))
	}

	option, err := g.Option("intro", "sneak")
	if err != nil {
		t.Fatalf("Option(intro, sneak): %v", err)
	}
	if option.Checks[0].Difficulty != 15 {
		t.Errorf("expected difficulty 15, got %d", option.Checks[0].Difficulty)
	}

	if _, err := g.Node("missing"); !errors.IsCode(err, errors.CodeNodeNotFound) {
		t.Errorf("expected node-not-found, got %v", err)
	}
	if _, err := g.Option("intro", "missing"); !errors.IsCode(err, errors.CodeOptionNotFound) {
		t.Errorf("expected option-not-found, got %v", err)
	}
	if _, err := g.Branch("missing"); !errors.IsCode(err, errors.CodeBranchNotFound) {
		t.Errorf("expected branch-not-found, got %v", err)
	}
}

func TestOutcomeGradeFallback(t *testing.T) {
	g := mustBuild(t)
	option, err := g.Option("intro", "sneak")
	if err != nil {
		t.Fatal(err)
	}

	success, ok := option.Outcome(check.GradeSuccess)
	if !ok || len(success.SetFlags) != 1 || success.SetFlags[0] != "has_keycard" {
		t.Errorf("unexpected success outcome %+v ok=%v", success, ok)
	}

	// No criticalSuccess slot authored; falls back to success.
	crit, ok := option.Outcome(check.GradeCriticalSuccess)
	if !ok || crit.SetFlags[0] != "has_keycard" {
		t.Errorf("expected critical success to fall back to success, got %+v ok=%v", crit, ok)
	}

	critFail, ok := option.Outcome(check.GradeCriticalFailure)
	if !ok || len(critFail.ClearFlags) != 1 {
		t.Errorf("unexpected critical failure outcome %+v ok=%v", critFail, ok)
	}
}

func TestSymmetricExclusionAndParents(t *testing.T) {
	g := mustBuild(t)

	loud, err := g.Branch("loud-route")
	if err != nil {
		t.Fatal(err)
	}
	// Content declares the exclusion only on ghost-route.
	if !containsString(loud.MutuallyExclusiveWith, "ghost-route") {
		t.Errorf("expected symmetric exclusion on loud-route, got %v", loud.MutuallyExclusiveWith)
	}

	parents := g.Parents("clean-exit")
	if len(parents) != 1 || parents[0] != "ghost-route" {
		t.Errorf("expected clean-exit gated by ghost-route, got %v", parents)
	}
	if len(g.Parents("ghost-route")) != 0 {
		t.Errorf("expected ghost-route to be root-eligible")
	}
}

func TestBuildValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Def)
		wantMsg string
	}{
		{
			name:    "missing quest id",
			mutate:  func(d *Def) { d.QuestID = "" },
			wantMsg: "questId",
		},
		{
			name:    "version below one",
			mutate:  func(d *Def) { d.Version = 0 },
			wantMsg: "version",
		},
		{
			name:    "unknown entry node",
			mutate:  func(d *Def) { d.EntryNode = "nowhere" },
			wantMsg: "entry node",
		},
		{
			name:    "duplicate node id",
			mutate:  func(d *Def) { d.Nodes = append(d.Nodes, NodeDef{ID: "intro", Type: NodeDialogue}) },
			wantMsg: "duplicate node id",
		},
		{
			name:    "unknown node type",
			mutate:  func(d *Def) { d.Nodes[0].Type = "cutscene" },
			wantMsg: "unknown type",
		},
		{
			name:    "duplicate option id",
			mutate:  func(d *Def) { d.Nodes[0].Options[1].ID = "sneak" },
			wantMsg: "duplicate option id",
		},
		{
			name:    "dangling next node",
			mutate:  func(d *Def) { d.Nodes[0].Options[0].NextNode = "nowhere" },
			wantMsg: "unknown node",
		},
		{
			name:    "difficulty out of range",
			mutate:  func(d *Def) { d.Nodes[0].Options[0].Checks[0].Difficulty = 31 },
			wantMsg: "difficulty",
		},
		{
			name:    "undeclared flag in outcome",
			mutate:  func(d *Def) { d.Nodes[0].Options[0].Success.SetFlags = []string{"ghost_flag"} },
			wantMsg: "undeclared flag",
		},
		{
			name:    "non-positive cost",
			mutate:  func(d *Def) { d.Nodes[0].Options[1].Success.Costs[0].Amount = 0 },
			wantMsg: "non-positive cost",
		},
		{
			name:    "trigger to unknown branch",
			mutate:  func(d *Def) { d.Nodes[0].Options[0].Success.Triggers = []string{"branch.nowhere"} },
			wantMsg: "unknown branch",
		},
		{
			name:    "dangling next branch",
			mutate:  func(d *Def) { d.Branches[0].NextBranches = []string{"nowhere"} },
			wantMsg: "unknown branch",
		},
		{
			name:    "self exclusion",
			mutate:  func(d *Def) { d.Branches[0].MutuallyExclusiveWith = []string{"ghost-route"} },
			wantMsg: "excludes itself",
		},
		{
			name:    "invalid condition",
			mutate:  func(d *Def) { d.Branches[0].Conditions = []string{"stealth >="} },
			wantMsg: "activation condition",
		},
		{
			name:    "unknown significance",
			mutate:  func(d *Def) { d.Branches[0].Significance = "epic" },
			wantMsg: "significance",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := fixtureDef()
			tt.mutate(&def)
			_, err := Build(def)
			if err == nil {
				t.Fatal("expected build error")
			}
			if !errors.IsCode(err, errors.CodeGraphInvalid) {
				t.Errorf("expected graph-invalid code, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestLoadJSON(t *testing.T) {
	content := `{
		"questId": "side-gig",
		"version": 2,
		"entryNode": "start",
		"flags": ["done"],
		"nodes": [
			{
				"id": "start",
				"type": "dialogue",
				"options": [
					{"id": "go", "textKey": "start.go", "success": {"setFlags": ["done"]}}
				]
			}
		]
	}`

	g, err := LoadJSON(strings.NewReader(content))
	if err != nil {
		t.Fatalf("LoadJSON: %v", err)
	}
	if g.QuestID() != "side-gig" || g.Version() != 2 {
		t.Errorf("unexpected identity %s v%d", g.QuestID(), g.Version())
	}

	if _, err := LoadJSON(strings.NewReader(`{"questId": "x", "bogus": true}`)); !errors.IsCode(err, errors.CodeGraphInvalid) {
		t.Errorf("expected graph-invalid for unknown field, got %v", err)
	}
}

func TestParseBranchTrigger(t *testing.T) {
	if id, ok := ParseBranchTrigger("branch.ghost-route"); !ok || id != "ghost-route" {
		t.Errorf("ParseBranchTrigger = %q, %v", id, ok)
	}
	if _, ok := ParseBranchTrigger("world.guard_bribed"); ok {
		t.Error("external trigger must not parse as a branch trigger")
	}
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	g1 := mustBuild(t)
	registry.Register(g1)

	def := fixtureDef()
	def.Version = 2
	g2, err := Build(def)
	if err != nil {
		t.Fatal(err)
	}
	registry.Register(g2)

	got, err := registry.Get("the-heist", 1)
	if err != nil || got.Version() != 1 {
		t.Errorf("Get v1 = %v, %v", got, err)
	}
	latest, err := registry.Latest("the-heist")
	if err != nil || latest.Version() != 2 {
		t.Errorf("Latest = %v, %v", latest, err)
	}
	if _, err := registry.Get("the-heist", 3); !errors.IsCode(err, errors.CodeGraphNotFound) {
		t.Errorf("expected graph-not-found, got %v", err)
	}
	if _, err := registry.Latest("unknown"); !errors.IsCode(err, errors.CodeGraphNotFound) {
		t.Errorf("expected graph-not-found for unknown quest, got %v", err)
	}
}

func TestFlagSetterIndexes(t *testing.T) {
	def := fixtureDef()
	def.Branches[1].Consequences = OptionOutcome{SetFlags: []string{"alarm_raised"}}
	g, err := Build(def)
	if err != nil {
		t.Fatal(err)
	}

	if !g.OptionSetsFlag("has_keycard") || !g.OptionSetsFlag("betrayed_fixer") {
		t.Error("option-set flags not indexed")
	}
	if g.OptionSetsFlag("unknown") {
		t.Error("undeclared flag reported as option-set")
	}
	if setters := g.BranchesSettingFlag("alarm_raised"); len(setters) != 1 || setters[0] != "loud-route" {
		t.Errorf("setters = %v, want [loud-route]", setters)
	}
	if setters := g.BranchesSettingFlag("met_fixer"); len(setters) != 0 {
		t.Errorf("unexpected setters %v", setters)
	}
}
