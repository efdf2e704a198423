// Command questctl is the operator CLI for the quest narrative engine.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "questctl",
	Short: "Operator tooling for the quest narrative engine",
	Long: "Questctl validates quest content, rolls dice, grades checks,\n" +
		"pushes content to a running server and audits branch coherence.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(rollCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
