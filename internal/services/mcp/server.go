// Package mcp exposes the narrative engine to model-context-protocol
// clients, so an AI game master can grade checks, inspect branch state
// and audit coherence over stdio.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/louisbranch/questline/internal/narrative/graph"
	"github.com/louisbranch/questline/internal/narrative/outcome"
	"github.com/louisbranch/questline/internal/narrative/session"
	"github.com/louisbranch/questline/internal/storage"
	"github.com/louisbranch/questline/internal/telemetry"
)

const (
	serverName    = "questline-mcp"
	serverVersion = "1.0.0"
)

// Server is the MCP facade over an in-process narrative engine.
type Server struct {
	mcpServer    *mcp.Server
	orchestrator *session.Orchestrator
	store        storage.Store
}

// New wires the MCP server around an engine instance.
func New(registry *graph.Registry, store storage.Store, ledger outcome.Ledger) (*Server, error) {
	if registry == nil || store == nil {
		return nil, fmt.Errorf("registry and store are required")
	}

	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil),
		store:     store,
		orchestrator: &session.Orchestrator{
			Registry: registry,
			Store:    store,
			Applier:  &outcome.Applier{Ledger: ledger},
			Emitter:  telemetry.NewEmitter(),
		},
	}

	mcp.AddTool(s.mcpServer, checkResolveTool(), checkResolveHandler())
	mcp.AddTool(s.mcpServer, diceRollTool(), diceRollHandler())
	mcp.AddTool(s.mcpServer, optionResolveTool(), optionResolveHandler(s.orchestrator))
	mcp.AddTool(s.mcpServer, branchTreeTool(), branchTreeHandler(s.orchestrator))
	mcp.AddTool(s.mcpServer, coherenceTool(), coherenceHandler(s.orchestrator))
	return s, nil
}

// Run serves the MCP protocol over stdio until the context ends.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}

// Close releases the underlying store.
func (s *Server) Close() error {
	return s.store.Close()
}
