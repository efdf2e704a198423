// Package mcp boots the MCP stdio service.
package mcp

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/louisbranch/questline/internal/ledger"
	"github.com/louisbranch/questline/internal/narrative/graph"
	"github.com/louisbranch/questline/internal/narrative/outcome"
	platformcmd "github.com/louisbranch/questline/internal/platform/cmd"
	mcpservice "github.com/louisbranch/questline/internal/services/mcp"
	"github.com/louisbranch/questline/internal/storage/sqlite"
)

// Config holds the MCP command configuration.
type Config struct {
	DBPath           string `env:"QUESTLINE_DB_PATH" envDefault:"questline.db"`
	ContentDir       string `env:"QUESTLINE_CONTENT_DIR" envDefault:""`
	LedgerAddr       string `env:"QUESTLINE_LEDGER_ADDR" envDefault:""`
	DevLedgerBalance int    `env:"QUESTLINE_DEV_LEDGER_BALANCE" envDefault:"1000"`
}

// ParseConfig loads environment defaults and applies flag overrides.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := platformcmd.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.ContentDir, "content", cfg.ContentDir, "quest content directory")
	fs.StringVar(&cfg.LedgerAddr, "ledger", cfg.LedgerAddr, "ledger service base URL")
	if err := platformcmd.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run serves MCP over stdio until ctx is cancelled.
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
		}
	}

	var ledgerClient outcome.Ledger
	if cfg.LedgerAddr != "" {
		ledgerClient = ledger.NewClient(cfg.LedgerAddr)
	} else {
		log.Printf("level=warn msg=\"no ledger configured, using in-memory dev ledger\" balance=%d", cfg.DevLedgerBalance)
		ledgerClient = ledger.NewMemory(cfg.DevLedgerBalance)
	}

	server, err := mcpservice.New(registry, store, ledgerClient)
	if err != nil {
		return fmt.Errorf("init mcp server: %w", err)
	}
	defer func() { _ = server.Close() }()

	return server.Run(ctx)
}
