// Package regulatory submits rental contracts to the transport authority
// and reads back their review status.
package regulatory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog"

	"rental/internal/domain"
	"rental/internal/service"
)

// maxErrorBody bounds how much of an error response is kept for logs.
const maxErrorBody = 512

// Client is an HTTP client for the authority's contract API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     zerolog.Logger
}

// New creates a Client. Outbound calls are recorded as New Relic external
// segments when the request context carries a transaction.
func New(baseURL, apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http: &http.Client{
			Transport: newrelic.NewRoundTripper(http.DefaultTransport),
		},
		log: log.With().Str("component", "regulatory").Logger(),
	}
}

type submitRequest struct {
	ContractNumber string    `json:"contract_number"`
	CustomerID     string    `json:"customer_id"`
	VehicleID      string    `json:"vehicle_id"`
	ProviderID     string    `json:"provider_id"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
}

type submitResponse struct {
	ContractID string `json:"contract_id"`
}

type statusResponse struct {
	Status string `json:"status"`
}

// Submit posts the contract and returns the authority's reference for it.
func (c *Client) Submit(ctx context.Context, contract *domain.Contract) (string, error) {
	body, err := json.Marshal(submitRequest{
		ContractNumber: contract.ContractNumber,
		CustomerID:     contract.CustomerID,
		VehicleID:      contract.AssetID,
		ProviderID:     contract.ProviderID,
		StartDate:      contract.StartsAt.UTC(),
		EndDate:        contract.EndsAt.UTC(),
	})
	if err != nil {
		return "", err
	}

	var out submitResponse
	if err := c.do(ctx, http.MethodPost, "/contracts", bytes.NewReader(body), &out); err != nil {
		return "", err
	}
	if out.ContractID == "" {
		return "", fmt.Errorf("submit %s: response carries no contract_id", contract.ContractNumber)
	}

	c.log.Info().
		Str("contract_number", contract.ContractNumber).
		Str("external_ref", out.ContractID).
		Msg("contract submitted to regulator")
	return out.ContractID, nil
}

// GetStatus returns the authority's current status string for ref.
func (c *Client) GetStatus(ctx context.Context, ref string) (string, error) {
	var out statusResponse
	if err := c.do(ctx, http.MethodGet, "/contracts/"+url.PathEscape(ref)+"/status", nil, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

var _ service.RegulatoryClient = (*Client)(nil)
