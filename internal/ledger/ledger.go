// Package ledger provides clients for the external currency and
// inventory system consulted during consequence application.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/louisbranch/questline/internal/errors"
	"github.com/louisbranch/questline/internal/platform/timeouts"
)

// Client talks to a remote ledger service over HTTP JSON.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a ledger client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeouts.LedgerCall},
	}
}

type balancesRequest struct {
	CharacterID string   `json:"characterId"`
	Resources   []string `json:"resources"`
}

type balancesResponse struct {
	Balances map[string]int `json:"balances"`
}

type applyRequest struct {
	CharacterID string         `json:"characterId"`
	Deltas      map[string]int `json:"deltas"`
}

// Balances fetches current balances for the requested resources.
func (c *Client) Balances(ctx context.Context, characterID string, resources []string) (map[string]int, error) {
	var response balancesResponse
	err := c.post(ctx, "/v1/balances", balancesRequest{CharacterID: characterID, Resources: resources}, &response)
	if err != nil {
		return nil, err
	}
	return response.Balances, nil
}

// Apply applies the deltas atomically on the remote ledger.
func (c *Client) Apply(ctx context.Context, characterID string, deltas map[string]int) error {
	return c.post(ctx, "/v1/apply", applyRequest{CharacterID: characterID, Deltas: deltas}, nil)
}

func (c *Client) post(ctx context.Context, path string, payload, into any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode ledger request: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ledger request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return errors.Wrap(errors.CodeLedgerUnavailable, "call ledger", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return errors.Newf(errors.CodeLedgerUnavailable, "ledger returned status %d for %s", response.StatusCode, path)
	}
	if into == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(into); err != nil {
		return errors.Wrap(errors.CodeLedgerUnavailable, "decode ledger response", err)
	}
	return nil
}

// Memory is an in-process ledger for development and tests.
type Memory struct {
	mu       sync.Mutex
	balances map[string]map[string]int
	// Initial seeds a resource balance the first time a character
	// touches it.
	Initial int
}

// NewMemory creates an in-memory ledger seeding every balance at
// initial.
func NewMemory(initial int) *Memory {
	return &Memory{balances: map[string]map[string]int{}, Initial: initial}
}

func (m *Memory) characterBalances(characterID string) map[string]int {
	balances, ok := m.balances[characterID]
	if !ok {
		balances = map[string]int{}
		m.balances[characterID] = balances
	}
	return balances
}

// Balances returns current balances, seeding untouched resources.
func (m *Memory) Balances(_ context.Context, characterID string, resources []string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balances := m.characterBalances(characterID)
	out := map[string]int{}
	for _, resource := range resources {
		if _, ok := balances[resource]; !ok {
			balances[resource] = m.Initial
		}
		out[resource] = balances[resource]
	}
	return out, nil
}

// Apply applies deltas, seeding untouched resources first.
func (m *Memory) Apply(_ context.Context, characterID string, deltas map[string]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	balances := m.characterBalances(characterID)
	for resource, delta := range deltas {
		if _, ok := balances[resource]; !ok {
			balances[resource] = m.Initial
		}
		balances[resource] += delta
	}
	return nil
}
