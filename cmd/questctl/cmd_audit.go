package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/louisbranch/questline/internal/narrative/coherence"
	"github.com/louisbranch/questline/internal/narrative/graph"
	"github.com/louisbranch/questline/internal/storage/sqlite"
)

var auditFlags struct {
	db      string
	content string
}

var auditCmd = &cobra.Command{
	Use:   "audit <character-id> <quest-id>",
	Short: "Audit a character's branch activations against quest content",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		characterID, questID := args[0], args[1]

		g, err := graph.LoadFile(auditFlags.content)
		if err != nil {
			return fmt.Errorf("load quest content: %w", err)
		}
		if g.QuestID() != questID {
			return fmt.Errorf("content file is for quest %s, not %s", g.QuestID(), questID)
		}

		store, err := sqlite.Open(auditFlags.db)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer store.Close()

		ctx := context.Background()
		current, err := store.Context(ctx, characterID, questID)
		if err != nil {
			return fmt.Errorf("load context: %w", err)
		}
		records, err := store.Activations(ctx, characterID, questID)
		if err != nil {
			return fmt.Errorf("load activation ledger: %w", err)
		}

		report := coherence.Validate(g, records, current.Facts(), characterID, time.Now().UTC())
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(report); err != nil {
			return err
		}
		if !report.IsCoherent {
			return fmt.Errorf("ledger is incoherent: %d conflict(s)", len(report.Conflicts))
		}
		return nil
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditFlags.db, "db", "questline.db", "SQLite database path")
	auditCmd.Flags().StringVar(&auditFlags.content, "content", "", "quest content file")
	_ = auditCmd.MarkFlagRequired("content")
}
