// Package watch provides a terminal dashboard for live alert triage.
package watch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client talks to the trust layer API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Alert mirrors the wire shape of a fraud alert.
type Alert struct {
	ID          int64     `json:"id"`
	Kind        string    `json:"kind"`
	Severity    string    `json:"severity"`
	Description string    `json:"description"`
	ActorID     string    `json:"actor_id"`
	ActorName   string    `json:"actor_name"`
	EntityID    string    `json:"entity_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Immediate   bool      `json:"requires_immediate_action"`
}

// Stats mirrors the /v1/stats response.
type Stats struct {
	LedgerRecords uint64 `json:"ledger_records"`
	Uptime        string `json:"uptime"`
	Throttle      struct {
		TrackedClients int `json:"tracked_clients"`
		BlockedClients int `json:"blocked_clients"`
		LockedAccounts int `json:"locked_accounts"`
		BlockedActors  int `json:"blocked_actors"`
	} `json:"throttle"`
}

// NewClient creates an API client bound to one session token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (c *Client) get(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// PendingAlerts fetches alerts awaiting notification or review.
func (c *Client) PendingAlerts() ([]Alert, error) {
	var out struct {
		Alerts []Alert `json:"alerts"`
	}
	if err := c.get("/v1/alerts/pending", &out); err != nil {
		return nil, err
	}
	return out.Alerts, nil
}

// GetStats fetches service statistics.
func (c *Client) GetStats() (*Stats, error) {
	var out Stats
	if err := c.get("/v1/stats", &out); err != nil {
		return nil, err
	}
	return &out, nil
}
