package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/louisbranch/questline/internal/core/dice"
)

var rollFlags struct {
	seed  int64
	count int
	sides int
}

var rollCmd = &cobra.Command{
	Use:   "roll",
	Short: "Roll dice; a fixed seed reproduces the same rolls",
	RunE: func(cmd *cobra.Command, _ []string) error {
		seed := rollFlags.seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		result, err := dice.RollDice(dice.Request{
			Seed: seed,
			Dice: []dice.Spec{{Count: rollFlags.count, Sides: rollFlags.sides}},
		})
		if err != nil {
			return err
		}
		for _, roll := range result.Rolls {
			fmt.Fprintf(cmd.OutOrStdout(), "d%d: %v (total %d)\n", roll.Sides, roll.Results, roll.Total)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "seed: %d\n", seed)
		return nil
	},
}

func init() {
	rollCmd.Flags().Int64Var(&rollFlags.seed, "seed", 0, "RNG seed (0 = time-based)")
	rollCmd.Flags().IntVar(&rollFlags.count, "count", 1, "number of dice")
	rollCmd.Flags().IntVar(&rollFlags.sides, "sides", 20, "die sides")
}
