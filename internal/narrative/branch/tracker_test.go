package branch

import (
	"testing"
	"time"

	"github.com/louisbranch/questline/internal/errors"
	"github.com/louisbranch/questline/internal/narrative/graph"
	"github.com/louisbranch/questline/internal/narrative/predicate"
)

func testGraph(t *testing.T) *graph.QuestGraph {
	t.Helper()
	g, err := graph.Build(graph.Def{
		QuestID:   "the-heist",
		Version:   1,
		EntryNode: "intro",
		Flags:     []string{"has_keycard", "alarm_raised"},
		Nodes:     []graph.NodeDef{{ID: "intro", Type: graph.NodeDialogue}},
		Branches: []graph.BranchDef{
			{
				ID:                    "ghost-route",
				Name:                  "Ghost Route",
				Type:                  graph.BranchExclusive,
				Conditions:            []string{"flag:has_keycard && !flag:alarm_raised"},
				MutuallyExclusiveWith: []string{"loud-route"},
				NextBranches:          []string{"clean-exit"},
				Significance:          graph.SignificanceMajor,
			},
			{
				ID:           "loud-route",
				Name:         "Loud Route",
				Type:         graph.BranchExclusive,
				Significance: graph.SignificanceMajor,
			},
			{
				ID:           "clean-exit",
				Name:         "Clean Exit",
				Type:         graph.BranchSide,
				Conditions:   []string{"!flag:alarm_raised"},
				Significance: graph.SignificanceModerate,
			},
		},
	})
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	return g
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
}

func keycardFacts() predicate.Facts {
	return predicate.Facts{
		Flags:      map[string]struct{}{"has_keycard": {}},
		QuestState: "in_progress",
	}
}

func TestStatusDerivation(t *testing.T) {
	tracker := &Tracker{Graph: testGraph(t), Now: fixedNow}

	tests := []struct {
		name     string
		records  []ActivationRecord
		facts    predicate.Facts
		branchID string
		want     Status
	}{
		{
			name:     "conditions unmet is locked",
			facts:    predicate.Facts{QuestState: "in_progress"},
			branchID: "ghost-route",
			want:     StatusLocked,
		},
		{
			name:     "conditions met is eligible",
			facts:    keycardFacts(),
			branchID: "ghost-route",
			want:     StatusEligible,
		},
		{
			name:     "no conditions root branch is eligible",
			facts:    predicate.Facts{},
			branchID: "loud-route",
			want:     StatusEligible,
		},
		{
			name:     "gated branch locked until parent active",
			facts:    predicate.Facts{},
			branchID: "clean-exit",
			want:     StatusLocked,
		},
		{
			name: "gated branch eligible once parent active",
			records: []ActivationRecord{
				{BranchID: "ghost-route", Status: StatusActive, Step: 1},
			},
			facts:    predicate.Facts{},
			branchID: "clean-exit",
			want:     StatusEligible,
		},
		{
			name: "ledger active is terminal even when conditions break",
			records: []ActivationRecord{
				{BranchID: "ghost-route", Status: StatusActive, Step: 1},
			},
			facts:    predicate.Facts{Flags: map[string]struct{}{"alarm_raised": {}}},
			branchID: "ghost-route",
			want:     StatusActive,
		},
		{
			name: "ledger exclusion is terminal",
			records: []ActivationRecord{
				{BranchID: "loud-route", Status: StatusExcludedByPeer, Step: 1},
			},
			facts:    predicate.Facts{},
			branchID: "loud-route",
			want:     StatusExcludedByPeer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tracker.Status(tt.records, tt.facts, tt.branchID)
			if err != nil {
				t.Fatalf("Status: %v", err)
			}
			if got != tt.want {
				t.Errorf("Status(%s) = %s, want %s", tt.branchID, got, tt.want)
			}
		})
	}
}

func TestActivateExcludesPeersAtomically(t *testing.T) {
	tracker := &Tracker{Graph: testGraph(t), Now: fixedNow}

	appended, err := tracker.Activate(nil, keycardFacts(), "char-1", "the-heist", "ghost-route", "intro/sneak")
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if len(appended) != 2 {
		t.Fatalf("expected activation + exclusion, got %d records", len(appended))
	}
	if appended[0].BranchID != "ghost-route" || appended[0].Status != StatusActive {
		t.Errorf("unexpected activation record %+v", appended[0])
	}
	if appended[1].BranchID != "loud-route" || appended[1].Status != StatusExcludedByPeer {
		t.Errorf("unexpected exclusion record %+v", appended[1])
	}
	if appended[0].Step != appended[1].Step {
		t.Error("activation and exclusion must share a step")
	}
	if appended[0].ChoiceID != "intro/sneak" {
		t.Errorf("expected choice recorded, got %q", appended[0].ChoiceID)
	}
}

func TestActivateErrors(t *testing.T) {
	tracker := &Tracker{Graph: testGraph(t), Now: fixedNow}

	active := []ActivationRecord{{BranchID: "ghost-route", Status: StatusActive, Step: 1}}
	excluded := []ActivationRecord{{BranchID: "loud-route", Status: StatusExcludedByPeer, Step: 1}}

	tests := []struct {
		name     string
		records  []ActivationRecord
		facts    predicate.Facts
		branchID string
		wantCode errors.Code
	}{
		{"unknown branch", nil, keycardFacts(), "nowhere", errors.CodeBranchNotFound},
		{"already active", active, keycardFacts(), "ghost-route", errors.CodeBranchAlreadyActive},
		{"excluded by peer", excluded, keycardFacts(), "loud-route", errors.CodeBranchExcluded},
		{"conditions no longer hold", nil, predicate.Facts{}, "ghost-route", errors.CodeBranchConditionsUnmet},
		{"parent gate closed", nil, predicate.Facts{}, "clean-exit", errors.CodeBranchConditionsUnmet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tracker.Activate(tt.records, tt.facts, "char-1", "the-heist", tt.branchID, "c")
			if !errors.IsCode(err, tt.wantCode) {
				t.Errorf("Activate(%s) error = %v, want code %s", tt.branchID, err, tt.wantCode)
			}
		})
	}
}

func TestActivateSkipsAlreadyTerminalPeers(t *testing.T) {
	tracker := &Tracker{Graph: testGraph(t), Now: fixedNow}
	records := []ActivationRecord{{BranchID: "loud-route", Status: StatusExcludedByPeer, Step: 1}}

	appended, err := tracker.Activate(records, keycardFacts(), "char-1", "the-heist", "ghost-route", "c")
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if len(appended) != 1 {
		t.Errorf("expected no duplicate exclusion record, got %v", appended)
	}
	if appended[0].Step != 2 {
		t.Errorf("expected step 2, got %d", appended[0].Step)
	}
}

func TestEligible(t *testing.T) {
	tracker := &Tracker{Graph: testGraph(t), Now: fixedNow}

	got := tracker.Eligible(nil, keycardFacts())
	if len(got) != 2 || got[0] != "ghost-route" || got[1] != "loud-route" {
		t.Errorf("Eligible = %v, want [ghost-route loud-route]", got)
	}
}
