package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/louisbranch/questline/internal/narrative/graph"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file>...",
	Short: "Validate quest graph files without loading them anywhere",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		failed := 0
		for _, path := range args {
			g, err := graph.LoadFile(path)
			if err != nil {
				failed++
				fmt.Fprintf(cmd.ErrOrStderr(), "FAIL %s: %v\n", path, err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK   %s (quest %s v%d, %d nodes, %d branches)\n",
				path, g.QuestID(), g.Version(), len(g.Nodes()), len(g.Branches()))
		}
		if failed > 0 {
			return fmt.Errorf("%d file(s) failed validation", failed)
		}
		return nil
	},
}
