//go:build scenario

package scenario

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/louisbranch/questline/internal/ledger"
	"github.com/louisbranch/questline/internal/narrative/graph"
	"github.com/louisbranch/questline/internal/narrative/outcome"
	"github.com/louisbranch/questline/internal/narrative/session"
	"github.com/louisbranch/questline/internal/storage/sqlite"
	"github.com/louisbranch/questline/internal/telemetry"
)

const devLedgerBalance = 1000

// engine is one isolated narrative stack: seed content, an in-memory
// store and a dev ledger. Each scenario gets a fresh one.
type engine struct {
	orchestrator *session.Orchestrator
	store        *sqlite.Store
	questID      string
}

func newEngine(t *testing.T) *engine {
	t.Helper()

	graphs, err := graph.LoadDir(filepath.Join(repoRoot(t), "content"))
	if err != nil {
		t.Fatalf("load seed content: %v", err)
	}
	if len(graphs) == 0 {
		t.Fatal("no seed content found")
	}
	registry := graph.NewRegistry()
	for _, g := range graphs {
		registry.Register(g)
	}

	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return &engine{
		orchestrator: &session.Orchestrator{
			Registry: registry,
			Store:    store,
			Applier:  &outcome.Applier{Ledger: ledger.NewMemory(devLedgerBalance)},
			Emitter:  telemetry.NewEmitter(),
		},
		store:   store,
		questID: graphs[0].QuestID(),
	}
}

func repoRoot(t *testing.T) string {
	t.Helper()

	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("failed to resolve runtime caller")
	}

	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("go.mod not found above test file")
		}
		dir = parent
	}
}
