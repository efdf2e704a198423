// Package narrative serves the quest resolution engine over HTTP.
//
// Player-facing endpoints (resolve, branch tree, coherence) are open to
// the game backend; operator endpoints (content upload, telemetry)
// require a JWT with the operator role. Delivered triggers stream to
// websocket subscribers via the event gateway.
package narrative

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/louisbranch/questline/internal/errors"
	"github.com/louisbranch/questline/internal/eventbus"
	"github.com/louisbranch/questline/internal/narrative/graph"
	"github.com/louisbranch/questline/internal/narrative/outcome"
	"github.com/louisbranch/questline/internal/narrative/session"
	"github.com/louisbranch/questline/internal/platform/timeouts"
	"github.com/louisbranch/questline/internal/storage"
	"github.com/louisbranch/questline/internal/telemetry"
)

// Config holds the narrative server configuration.
type Config struct {
	Addr           string
	OperatorSecret []byte
	Store          storage.Store
	Registry       *graph.Registry
	Ledger         outcome.Ledger
	// DispatchInterval overrides the outbox poll interval; zero keeps
	// the default.
	DispatchInterval time.Duration
}

// Server is the narrative HTTP service.
type Server struct {
	orchestrator *session.Orchestrator
	registry     *graph.Registry
	store        storage.Store
	gateway      *eventbus.Gateway
	dispatcher   *eventbus.Dispatcher
	httpServer   *http.Server
}

// NewServer wires the engine and its transport.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("graph registry is required")
	}
	if len(cfg.OperatorSecret) == 0 {
		return nil, fmt.Errorf("operator secret is required")
	}

	s := &Server{
		registry: cfg.Registry,
		store:    cfg.Store,
		gateway:  eventbus.NewGateway(),
		orchestrator: &session.Orchestrator{
			Registry: cfg.Registry,
			Store:    cfg.Store,
			Applier:  &outcome.Applier{Ledger: cfg.Ledger},
			Emitter:  telemetry.NewEmitter(),
		},
	}
	s.dispatcher = &eventbus.Dispatcher{
		Store:    cfg.Store,
		Handler:  s.gateway.Broadcast,
		Interval: cfg.DispatchInterval,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /v1/resolve", s.handleResolve)
	mux.HandleFunc("GET /v1/characters/{characterID}/quests/{questID}/branches", s.handleBranchTree)
	mux.HandleFunc("GET /v1/characters/{characterID}/quests/{questID}/coherence", s.handleCoherence)
	mux.HandleFunc("GET /v1/quests", s.handleListQuests)
	mux.Handle("GET /v1/events", s.gateway)
	mux.Handle("POST /v1/quests", requireOperator(cfg.OperatorSecret, http.HandlerFunc(s.handleUploadQuest)))
	mux.Handle("GET /v1/characters/{characterID}/quests/{questID}/telemetry",
		requireOperator(cfg.OperatorSecret, http.HandlerFunc(s.handleTelemetry)))

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: timeouts.ReadHeader,
	}
	return s, nil
}

// ListenAndServe runs the HTTP server and the outbox dispatcher until
// the context is cancelled, then shuts both down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Printf("level=info msg=\"narrative server listening\" addr=%s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		err := s.dispatcher.Run(ctx)
		if err == context.Canceled {
			return nil
		}
		return err
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		s.gateway.Close()
		return s.httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

// Close releases server resources.
func (s *Server) Close() {
	s.gateway.Close()
	_ = s.store.Close()
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("narrative").Start(r.Context(), "session.resolve")
	defer span.End()

	var request session.ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		errors.WriteHTTP(w, errors.Wrap(errors.CodeInvalidArgument, "decode resolve request", err))
		return
	}
	if request.CharacterID == "" || request.QuestID == "" || request.NodeID == "" || request.OptionID == "" {
		errors.WriteHTTP(w, errors.New(errors.CodeInvalidArgument, "characterId, questId, nodeId and optionId are required"))
		return
	}
	span.SetAttributes(
		attribute.String("quest.id", request.QuestID),
		attribute.String("quest.node", request.NodeID),
		attribute.String("quest.option", request.OptionID),
	)

	result, err := s.orchestrator.Resolve(ctx, request)
	if err != nil {
		errors.WriteHTTP(w, err)
		return
	}
	span.SetAttributes(attribute.String("check.grade", string(result.Grade)))
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleBranchTree(w http.ResponseWriter, r *http.Request) {
	characterID := r.PathValue("characterID")
	questID := r.PathValue("questID")
	version := queryVersion(r)

	views, err := s.orchestrator.BranchTree(r.Context(), characterID, questID, version)
	if err != nil {
		errors.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"branches": views})
}

func (s *Server) handleCoherence(w http.ResponseWriter, r *http.Request) {
	characterID := r.PathValue("characterID")
	questID := r.PathValue("questID")

	report, err := s.orchestrator.CoherenceReport(r.Context(), characterID, questID, queryVersion(r))
	if err != nil {
		errors.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleListQuests(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"quests": s.registry.QuestIDs()})
}

// handleUploadQuest validates and registers a quest graph. Invalid
// content is rejected wholesale; a registered graph is immediately
// servable.
func (s *Server) handleUploadQuest(w http.ResponseWriter, r *http.Request) {
	g, err := graph.LoadJSON(r.Body)
	if err != nil {
		errors.WriteHTTP(w, err)
		return
	}
	s.registry.Register(g)
	log.Printf("level=info msg=\"quest graph registered\" quest=%s version=%d", g.QuestID(), g.Version())
	writeJSON(w, http.StatusCreated, map[string]any{
		"questId": g.QuestID(),
		"version": g.Version(),
	})
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	characterID := r.PathValue("characterID")
	questID := r.PathValue("questID")

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	events, err := s.store.TelemetryEvents(r.Context(), characterID, questID, limit)
	if err != nil {
		errors.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func queryVersion(r *http.Request) int {
	raw := r.URL.Query().Get("version")
	if raw == "" {
		return 0
	}
	version, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return version
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("level=error msg=\"encode response\" error=%q", err)
	}
}
