// Package server boots the narrative HTTP service.
package server

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/louisbranch/questline/internal/ledger"
	"github.com/louisbranch/questline/internal/narrative/graph"
	"github.com/louisbranch/questline/internal/narrative/outcome"
	platformcmd "github.com/louisbranch/questline/internal/platform/cmd"
	"github.com/louisbranch/questline/internal/services/narrative"
	"github.com/louisbranch/questline/internal/storage/sqlite"
)

// Config holds the narrative server configuration.
type Config struct {
	Addr           string `env:"QUESTLINE_ADDR" envDefault:":8080"`
	DBPath         string `env:"QUESTLINE_DB_PATH" envDefault:"questline.db"`
	ContentDir     string `env:"QUESTLINE_CONTENT_DIR" envDefault:""`
	OperatorSecret string `env:"QUESTLINE_OPERATOR_SECRET" envDefault:""`
	LedgerAddr     string `env:"QUESTLINE_LEDGER_ADDR" envDefault:""`
	// DevLedgerBalance seeds the in-memory ledger used when no ledger
	// address is configured.
	DevLedgerBalance int `env:"QUESTLINE_DEV_LEDGER_BALANCE" envDefault:"1000"`
}

// ParseConfig loads environment defaults and applies flag overrides.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := platformcmd.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.ContentDir, "content", cfg.ContentDir, "quest content directory")
	fs.StringVar(&cfg.LedgerAddr, "ledger", cfg.LedgerAddr, "ledger service base URL")
	if err := platformcmd.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}

	if cfg.OperatorSecret == "" {
		return Config{}, fmt.Errorf("QUESTLINE_OPERATOR_SECRET is required")
	}
	return cfg, nil
}

// Run starts the narrative server and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	registry := graph.NewRegistry()
	if cfg.ContentDir != "" {
		graphs, err := graph.LoadDir(cfg.ContentDir)
		if err != nil {
			return fmt.Errorf("load quest content: %w", err)
		}
		for _, g := range graphs {
			registry.Register(g)
			log.Printf("level=info msg=\"quest graph loaded\" quest=%s version=%d", g.QuestID(), g.Version())
		}
	}

	var ledgerClient outcome.Ledger
	if cfg.LedgerAddr != "" {
		ledgerClient = ledger.NewClient(cfg.LedgerAddr)
	} else {
		log.Printf("level=warn msg=\"no ledger configured, using in-memory dev ledger\" balance=%d", cfg.DevLedgerBalance)
		ledgerClient = ledger.NewMemory(cfg.DevLedgerBalance)
	}

	server, err := narrative.NewServer(narrative.Config{
		Addr:           cfg.Addr,
		OperatorSecret: []byte(cfg.OperatorSecret),
		Store:          store,
		Registry:       registry,
		Ledger:         ledgerClient,
	})
	if err != nil {
		return fmt.Errorf("init narrative server: %w", err)
	}
	defer server.Close()

	return server.ListenAndServe(ctx)
}
