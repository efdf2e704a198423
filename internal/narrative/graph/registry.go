package graph

import (
	"sync"

	"github.com/louisbranch/questline/internal/errors"
)

// Registry is a process-wide read-only index of validated quest graphs
// keyed by quest id and version. Registration happens at startup or via
// operator reload; resolution only reads.
type Registry struct {
	mu     sync.RWMutex
	graphs map[registryKey]*QuestGraph
	latest map[string]int
}

type registryKey struct {
	questID string
	version int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		graphs: map[registryKey]*QuestGraph{},
		latest: map[string]int{},
	}
}

// Register adds a validated graph. Re-registering the same quest and
// version replaces the entry, which operator reload relies on.
func (r *Registry) Register(g *QuestGraph) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.graphs[registryKey{questID: g.QuestID(), version: g.Version()}] = g
	if g.Version() > r.latest[g.QuestID()] {
		r.latest[g.QuestID()] = g.Version()
	}
}

// Get returns the graph for an exact quest version.
func (r *Registry) Get(questID string, version int) (*QuestGraph, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.graphs[registryKey{questID: questID, version: version}]
	if !ok {
		return nil, errors.Newf(errors.CodeGraphNotFound, "quest %s v%d is not registered", questID, version)
	}
	return g, nil
}

// Latest returns the highest registered version of a quest.
func (r *Registry) Latest(questID string) (*QuestGraph, error) {
	r.mu.RLock()
	version, ok := r.latest[questID]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.CodeGraphNotFound, "quest %s is not registered", questID)
	}
	return r.Get(questID, version)
}

// QuestIDs returns the ids of every registered quest.
func (r *Registry) QuestIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.latest))
	for id := range r.latest {
		ids = append(ids, id)
	}
	return ids
}
