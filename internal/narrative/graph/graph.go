package graph

import (
	"fmt"
	"strings"

	"github.com/louisbranch/questline/internal/core/check"
	"github.com/louisbranch/questline/internal/errors"
	"github.com/louisbranch/questline/internal/narrative/predicate"
)

// BranchTriggerPrefix marks outcome triggers that request branch
// activation instead of fanning out to external systems.
const BranchTriggerPrefix = "branch."

// BranchTrigger builds the trigger string for a branch id.
func BranchTrigger(branchID string) string {
	return BranchTriggerPrefix + branchID
}

// ParseBranchTrigger extracts the branch id from a trigger string,
// reporting false for triggers addressed to external systems.
func ParseBranchTrigger(trigger string) (string, bool) {
	return strings.CutPrefix(trigger, BranchTriggerPrefix)
}

// QuestGraph is an immutable, validated narrative graph for one quest
// version. All lookups are by stable string id.
type QuestGraph struct {
	questID   string
	version   int
	entryNode string

	nodes     map[string]*DialogueNode
	nodeOrder []string

	branches    map[string]*QuestBranch
	branchOrder []string

	// parents maps branch id to the branches that list it in
	// NextBranches, precomputed for activation gating.
	parents map[string][]string

	flags map[string]struct{}

	// optionSetFlags holds flags set by at least one option outcome;
	// branchSetFlags maps a flag to the branches whose consequences set
	// it. Both feed coherence audits.
	optionSetFlags map[string]struct{}
	branchSetFlags map[string][]string
}

func (g *QuestGraph) QuestID() string   { return g.questID }
func (g *QuestGraph) Version() int      { return g.version }
func (g *QuestGraph) EntryNode() string { return g.entryNode }

// Node returns the node with the given id.
func (g *QuestGraph) Node(nodeID string) (*DialogueNode, error) {
	node, ok := g.nodes[nodeID]
	if !ok {
		return nil, errors.Newf(errors.CodeNodeNotFound, "node %s not found in quest %s v%d", nodeID, g.questID, g.version)
	}
	return node, nil
}

// Option returns the option with the given id on the given node.
func (g *QuestGraph) Option(nodeID, optionID string) (*DialogueOption, error) {
	node, err := g.Node(nodeID)
	if err != nil {
		return nil, err
	}
	option, ok := node.Option(optionID)
	if !ok {
		return nil, errors.Newf(errors.CodeOptionNotFound, "option %s not found on node %s in quest %s v%d", optionID, nodeID, g.questID, g.version)
	}
	return option, nil
}

// Branch returns the branch with the given id.
func (g *QuestGraph) Branch(branchID string) (*QuestBranch, error) {
	branch, ok := g.branches[branchID]
	if !ok {
		return nil, errors.Newf(errors.CodeBranchNotFound, "branch %s not found in quest %s v%d", branchID, g.questID, g.version)
	}
	return branch, nil
}

// Branches returns every branch in content order.
func (g *QuestGraph) Branches() []*QuestBranch {
	out := make([]*QuestBranch, 0, len(g.branchOrder))
	for _, id := range g.branchOrder {
		out = append(out, g.branches[id])
	}
	return out
}

// Nodes returns every node in content order.
func (g *QuestGraph) Nodes() []*DialogueNode {
	out := make([]*DialogueNode, 0, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		out = append(out, g.nodes[id])
	}
	return out
}

// Parents returns the branches that gate the given branch, in content
// order. A branch with no parents is root-eligible.
func (g *QuestGraph) Parents(branchID string) []string {
	return g.parents[branchID]
}

// DeclaredFlags returns the flag namespace declared by this graph.
func (g *QuestGraph) DeclaredFlags() map[string]struct{} {
	return g.flags
}

// HasFlag reports whether the flag is declared by this graph version.
func (g *QuestGraph) HasFlag(name string) bool {
	_, ok := g.flags[name]
	return ok
}

// OptionSetsFlag reports whether any dialogue option outcome can set
// the flag.
func (g *QuestGraph) OptionSetsFlag(name string) bool {
	_, ok := g.optionSetFlags[name]
	return ok
}

// BranchesSettingFlag returns the branches whose consequences set the
// flag, in content order.
func (g *QuestGraph) BranchesSettingFlag(name string) []string {
	return g.branchSetFlags[name]
}

// Def is the content shape a quest graph is authored in. JSON and YAML
// decode into the same definition; Build validates and freezes it.
type Def struct {
	QuestID   string      `json:"questId" yaml:"questId"`
	Version   int         `json:"version" yaml:"version"`
	EntryNode string      `json:"entryNode" yaml:"entryNode"`
	Flags     []string    `json:"flags" yaml:"flags"`
	Nodes     []NodeDef   `json:"nodes" yaml:"nodes"`
	Branches  []BranchDef `json:"branches,omitempty" yaml:"branches,omitempty"`
}

// NodeDef is the authored form of a dialogue node.
type NodeDef struct {
	ID          string      `json:"id" yaml:"id"`
	Speaker     string      `json:"speaker,omitempty" yaml:"speaker,omitempty"`
	Type        NodeType    `json:"type" yaml:"type"`
	DefaultNext string      `json:"defaultNext,omitempty" yaml:"defaultNext,omitempty"`
	Options     []OptionDef `json:"options,omitempty" yaml:"options,omitempty"`
}

// OptionDef is the authored form of a dialogue option. Outcome bundles
// are keyed by grade slot; criticalSuccess is optional and falls back
// to success at resolve time.
type OptionDef struct {
	ID              string         `json:"id" yaml:"id"`
	TextKey         string         `json:"textKey" yaml:"textKey"`
	Checks          []SkillCheck   `json:"skillChecks,omitempty" yaml:"skillChecks,omitempty"`
	NextNode        string         `json:"nextNode,omitempty" yaml:"nextNode,omitempty"`
	Success         *OptionOutcome `json:"success,omitempty" yaml:"success,omitempty"`
	Failure         *OptionOutcome `json:"failure,omitempty" yaml:"failure,omitempty"`
	CriticalSuccess *OptionOutcome `json:"criticalSuccess,omitempty" yaml:"criticalSuccess,omitempty"`
	CriticalFailure *OptionOutcome `json:"criticalFailure,omitempty" yaml:"criticalFailure,omitempty"`
}

// BranchDef is the authored form of a quest branch.
type BranchDef struct {
	ID                    string        `json:"id" yaml:"id"`
	Name                  string        `json:"name" yaml:"name"`
	Type                  BranchType    `json:"type" yaml:"type"`
	Conditions            []string      `json:"activationConditions,omitempty" yaml:"activationConditions,omitempty"`
	Consequences          OptionOutcome `json:"consequences,omitempty" yaml:"consequences,omitempty"`
	NextBranches          []string      `json:"nextBranches,omitempty" yaml:"nextBranches,omitempty"`
	MutuallyExclusiveWith []string      `json:"mutuallyExclusiveWith,omitempty" yaml:"mutuallyExclusiveWith,omitempty"`
	Significance          Significance  `json:"significance" yaml:"significance"`
}

// Build validates a definition and returns the frozen graph. Every
// referential-integrity failure is reported with the offending id, so
// content errors surface at load time rather than mid-session.
func Build(def Def) (*QuestGraph, error) {
	if def.QuestID == "" {
		return nil, errors.New(errors.CodeGraphInvalid, "quest graph requires a questId")
	}
	if def.Version < 1 {
		return nil, errors.Newf(errors.CodeGraphInvalid, "quest %s requires a version >= 1", def.QuestID)
	}
	if len(def.Nodes) == 0 {
		return nil, errors.Newf(errors.CodeGraphInvalid, "quest %s declares no nodes", def.QuestID)
	}

	g := &QuestGraph{
		questID:        def.QuestID,
		version:        def.Version,
		entryNode:      def.EntryNode,
		nodes:          make(map[string]*DialogueNode, len(def.Nodes)),
		branches:       make(map[string]*QuestBranch, len(def.Branches)),
		parents:        map[string][]string{},
		flags:          make(map[string]struct{}, len(def.Flags)),
		optionSetFlags: map[string]struct{}{},
		branchSetFlags: map[string][]string{},
	}

	for _, flag := range def.Flags {
		if flag == "" {
			return nil, errors.Newf(errors.CodeGraphInvalid, "quest %s declares an empty flag name", def.QuestID)
		}
		g.flags[flag] = struct{}{}
	}

	for _, nd := range def.Nodes {
		if err := g.addNode(nd); err != nil {
			return nil, err
		}
	}
	for _, bd := range def.Branches {
		if err := g.addBranch(bd); err != nil {
			return nil, err
		}
	}

	if err := g.validateRefs(def); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *QuestGraph) addNode(nd NodeDef) error {
	if nd.ID == "" {
		return errors.Newf(errors.CodeGraphInvalid, "quest %s has a node without an id", g.questID)
	}
	if _, dup := g.nodes[nd.ID]; dup {
		return errors.Newf(errors.CodeGraphInvalid, "duplicate node id %s", nd.ID)
	}
	switch nd.Type {
	case NodeDialogue, NodeTutorial, NodeBranch, NodeReward:
	default:
		return errors.Newf(errors.CodeGraphInvalid, "node %s has unknown type %q", nd.ID, nd.Type)
	}

	node := &DialogueNode{
		ID:          nd.ID,
		Speaker:     nd.Speaker,
		Type:        nd.Type,
		DefaultNext: nd.DefaultNext,
		Options:     make([]DialogueOption, 0, len(nd.Options)),
	}
	seen := make(map[string]struct{}, len(nd.Options))
	for _, od := range nd.Options {
		if od.ID == "" {
			return errors.Newf(errors.CodeGraphInvalid, "node %s has an option without an id", nd.ID)
		}
		if _, dup := seen[od.ID]; dup {
			return errors.Newf(errors.CodeGraphInvalid, "node %s has duplicate option id %s", nd.ID, od.ID)
		}
		seen[od.ID] = struct{}{}

		option := DialogueOption{
			ID:       od.ID,
			TextKey:  od.TextKey,
			Checks:   od.Checks,
			NextNode: od.NextNode,
			outcomes: map[check.Grade]OptionOutcome{},
		}
		for _, c := range od.Checks {
			if c.Difficulty < check.MinDifficulty || c.Difficulty > check.MaxDifficulty {
				return errors.Newf(errors.CodeGraphInvalid, "option %s/%s check on %s has difficulty %d outside [%d,%d]",
					nd.ID, od.ID, c.Stat, c.Difficulty, check.MinDifficulty, check.MaxDifficulty)
			}
		}
		if od.Success != nil {
			option.outcomes[check.GradeSuccess] = *od.Success
		}
		if od.Failure != nil {
			option.outcomes[check.GradeFailure] = *od.Failure
		}
		if od.CriticalSuccess != nil {
			option.outcomes[check.GradeCriticalSuccess] = *od.CriticalSuccess
		}
		if od.CriticalFailure != nil {
			option.outcomes[check.GradeCriticalFailure] = *od.CriticalFailure
		}
		for _, outcome := range option.outcomes {
			for _, flag := range outcome.SetFlags {
				g.optionSetFlags[flag] = struct{}{}
			}
		}
		node.Options = append(node.Options, option)
	}

	g.nodes[nd.ID] = node
	g.nodeOrder = append(g.nodeOrder, nd.ID)
	return nil
}

func (g *QuestGraph) addBranch(bd BranchDef) error {
	if bd.ID == "" {
		return errors.Newf(errors.CodeGraphInvalid, "quest %s has a branch without an id", g.questID)
	}
	if _, dup := g.branches[bd.ID]; dup {
		return errors.Newf(errors.CodeGraphInvalid, "duplicate branch id %s", bd.ID)
	}
	switch bd.Type {
	case BranchMain, BranchSide, BranchParallel, BranchExclusive:
	default:
		return errors.Newf(errors.CodeGraphInvalid, "branch %s has unknown type %q", bd.ID, bd.Type)
	}
	switch bd.Significance {
	case SignificanceMinor, SignificanceModerate, SignificanceMajor, SignificanceCritical:
	default:
		return errors.Newf(errors.CodeGraphInvalid, "branch %s has unknown significance %q", bd.ID, bd.Significance)
	}

	branch := &QuestBranch{
		ID:                    bd.ID,
		Name:                  bd.Name,
		Type:                  bd.Type,
		Consequences:          bd.Consequences,
		NextBranches:          bd.NextBranches,
		MutuallyExclusiveWith: bd.MutuallyExclusiveWith,
		Significance:          bd.Significance,
	}
	for _, raw := range bd.Conditions {
		expr, err := predicate.Parse(raw)
		if err != nil {
			return errors.Wrap(errors.CodeGraphInvalid, fmt.Sprintf("branch %s has an invalid activation condition", bd.ID), err)
		}
		branch.Conditions = append(branch.Conditions, Condition{Raw: raw, expr: expr})
	}

	for _, flag := range branch.Consequences.SetFlags {
		g.branchSetFlags[flag] = append(g.branchSetFlags[flag], bd.ID)
	}

	g.branches[bd.ID] = branch
	g.branchOrder = append(g.branchOrder, bd.ID)
	return nil
}

// validateRefs checks cross-entity references after every node and
// branch is indexed.
func (g *QuestGraph) validateRefs(def Def) error {
	if g.entryNode != "" {
		if _, ok := g.nodes[g.entryNode]; !ok {
			return errors.Newf(errors.CodeGraphInvalid, "entry node %s does not exist", g.entryNode)
		}
	}

	for _, nodeID := range g.nodeOrder {
		node := g.nodes[nodeID]
		if node.DefaultNext != "" {
			if _, ok := g.nodes[node.DefaultNext]; !ok {
				return errors.Newf(errors.CodeGraphInvalid, "node %s defaultNext references unknown node %s", nodeID, node.DefaultNext)
			}
		}
		for i := range node.Options {
			option := &node.Options[i]
			if option.NextNode != "" {
				if _, ok := g.nodes[option.NextNode]; !ok {
					return errors.Newf(errors.CodeGraphInvalid, "option %s/%s references unknown node %s", nodeID, option.ID, option.NextNode)
				}
			}
			for _, outcome := range option.outcomes {
				if err := g.validateOutcome(outcome, "option "+nodeID+"/"+option.ID); err != nil {
					return err
				}
			}
		}
	}

	for _, branchID := range g.branchOrder {
		branch := g.branches[branchID]
		for _, next := range branch.NextBranches {
			if _, ok := g.branches[next]; !ok {
				return errors.Newf(errors.CodeGraphInvalid, "branch %s nextBranches references unknown branch %s", branchID, next)
			}
			g.parents[next] = append(g.parents[next], branchID)
		}
		for _, peer := range branch.MutuallyExclusiveWith {
			if peer == branchID {
				return errors.Newf(errors.CodeGraphInvalid, "branch %s excludes itself", branchID)
			}
			if _, ok := g.branches[peer]; !ok {
				return errors.Newf(errors.CodeGraphInvalid, "branch %s mutuallyExclusiveWith references unknown branch %s", branchID, peer)
			}
		}
		if err := g.validateOutcome(branch.Consequences, "branch "+branchID); err != nil {
			return err
		}
	}

	// Exclusion is symmetric even when content declares one direction.
	for _, branchID := range g.branchOrder {
		branch := g.branches[branchID]
		for _, peer := range branch.MutuallyExclusiveWith {
			peerBranch := g.branches[peer]
			if !containsString(peerBranch.MutuallyExclusiveWith, branchID) {
				peerBranch.MutuallyExclusiveWith = append(peerBranch.MutuallyExclusiveWith, branchID)
			}
		}
	}
	return nil
}

func (g *QuestGraph) validateOutcome(outcome OptionOutcome, where string) error {
	for _, flag := range outcome.SetFlags {
		if !g.HasFlag(flag) {
			return errors.Newf(errors.CodeGraphInvalid, "%s sets undeclared flag %q", where, flag)
		}
	}
	for _, flag := range outcome.ClearFlags {
		if !g.HasFlag(flag) {
			return errors.Newf(errors.CodeGraphInvalid, "%s clears undeclared flag %q", where, flag)
		}
	}
	for _, cost := range outcome.Costs {
		if cost.Amount <= 0 {
			return errors.Newf(errors.CodeGraphInvalid, "%s has a non-positive cost for %s", where, cost.Resource)
		}
	}
	for _, trigger := range outcome.Triggers {
		branchID, ok := ParseBranchTrigger(trigger)
		if !ok {
			continue
		}
		if _, exists := g.branches[branchID]; !exists {
			return errors.Newf(errors.CodeGraphInvalid, "%s triggers unknown branch %s", where, branchID)
		}
	}
	return nil
}

func containsString(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}
