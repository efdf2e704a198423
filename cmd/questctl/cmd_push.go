package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/louisbranch/questline/internal/narrative/graph"
	"github.com/louisbranch/questline/internal/services/narrative"
)

var pushFlags struct {
	server string
	secret string
}

var pushCmd = &cobra.Command{
	Use:     "push <file>...",
	Aliases: []string{"seed"},
	Short:   "Validate quest graphs and upload them to a running server",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := pushFlags.secret
		if secret == "" {
			secret = os.Getenv("QUESTLINE_OPERATOR_SECRET")
		}
		if secret == "" {
			return fmt.Errorf("operator secret required (--secret or QUESTLINE_OPERATOR_SECRET)")
		}
		token, err := narrative.OperatorToken([]byte(secret), "questctl", 5*time.Minute)
		if err != nil {
			return fmt.Errorf("mint operator token: %w", err)
		}

		for _, path := range args {
			// Validate locally first so a bad file fails fast.
			def, err := graph.LoadDefFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			g, err := graph.Build(def)
			if err != nil {
				return fmt.Errorf("validate %s: %w", path, err)
			}

			body, err := json.Marshal(def)
			if err != nil {
				return fmt.Errorf("encode %s: %w", path, err)
			}
			request, err := http.NewRequest(http.MethodPost,
				strings.TrimRight(pushFlags.server, "/")+"/v1/quests", strings.NewReader(string(body)))
			if err != nil {
				return err
			}
			request.Header.Set("Content-Type", "application/json")
			request.Header.Set("Authorization", "Bearer "+token)

			response, err := http.DefaultClient.Do(request)
			if err != nil {
				return fmt.Errorf("push %s: %w", path, err)
			}
			payload, _ := io.ReadAll(response.Body)
			response.Body.Close()
			if response.StatusCode != http.StatusCreated {
				return fmt.Errorf("push %s: status %d: %s", path, response.StatusCode, payload)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pushed %s (quest %s v%d)\n", path, g.QuestID(), g.Version())
		}
		return nil
	},
}

func init() {
	pushCmd.Flags().StringVar(&pushFlags.server, "server", "http://localhost:8080", "narrative server base URL")
	pushCmd.Flags().StringVar(&pushFlags.secret, "secret", "", "operator secret (defaults to QUESTLINE_OPERATOR_SECRET)")
}
