package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/louisbranch/questline/internal/core/check"
)

var checkFlags struct {
	stat       string
	difficulty int
	advantage  bool
	rolls      []int
	modifiers  []string
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Grade a d20 skill check from known rolls",
	RunE: func(cmd *cobra.Command, _ []string) error {
		modifiers, err := parseModifiers(checkFlags.modifiers)
		if err != nil {
			return err
		}
		result, err := check.Resolve(check.Request{
			Stat:       checkFlags.stat,
			Difficulty: checkFlags.difficulty,
			Advantage:  checkFlags.advantage,
			Rolls:      checkFlags.rolls,
			Modifiers:  modifiers,
		})
		if err != nil {
			return err
		}
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	},
}

// parseModifiers turns source=value pairs into modifiers.
func parseModifiers(raw []string) ([]check.Modifier, error) {
	var modifiers []check.Modifier
	for _, pair := range raw {
		source, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("modifier %q must be source=value", pair)
		}
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("modifier %q has a non-integer value", pair)
		}
		modifiers = append(modifiers, check.Modifier{Source: source, Value: parsed})
	}
	return modifiers, nil
}

func init() {
	checkCmd.Flags().StringVar(&checkFlags.stat, "stat", "", "stat being tested")
	checkCmd.Flags().IntVar(&checkFlags.difficulty, "dc", 10, "difficulty class (1-30)")
	checkCmd.Flags().BoolVar(&checkFlags.advantage, "advantage", false, "roll with advantage (two rolls)")
	checkCmd.Flags().IntSliceVar(&checkFlags.rolls, "roll", nil, "raw d20 roll (repeat with --advantage)")
	checkCmd.Flags().StringArrayVar(&checkFlags.modifiers, "mod", nil, "modifier as source=value (repeatable)")
	_ = checkCmd.MarkFlagRequired("roll")
}
