// Package payment implements an x402-style micropayment gate: paid endpoints
// answer 402 with a machine-readable challenge until the request carries a
// payment proof the facilitator verifies and settles.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// FacilitatorClient talks to the payment facilitator that verifies payment
// proofs and settles them on-chain.
type FacilitatorClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewFacilitatorClient creates a facilitator client.
//
// baseURL is the facilitator root, e.g. "https://facilitator.payai.network".
func NewFacilitatorClient(baseURL, apiKey string, timeout time.Duration) *FacilitatorClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FacilitatorClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// VerifyResult is the facilitator's answer to a verification request.
type VerifyResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason"`
}

// SettleResult is the facilitator's settlement receipt.
type SettleResult struct {
	Settled bool   `json:"settled"`
	TxHash  string `json:"txHash"`
	Reason  string `json:"reason"`
}

// Verify checks a payment proof against the expected terms without moving
// funds.
func (c *FacilitatorClient) Verify(ctx context.Context, proof []byte, terms Terms) (VerifyResult, error) {
	var out VerifyResult
	if err := c.doPost(ctx, "/verify", proof, terms, &out); err != nil {
		return VerifyResult{}, fmt.Errorf("payment: verify: %w", err)
	}
	return out, nil
}

// Settle executes the verified payment and returns the settlement receipt.
func (c *FacilitatorClient) Settle(ctx context.Context, proof []byte, terms Terms) (SettleResult, error) {
	var out SettleResult
	if err := c.doPost(ctx, "/settle", proof, terms, &out); err != nil {
		return SettleResult{}, fmt.Errorf("payment: settle: %w", err)
	}
	return out, nil
}

type facilitatorRequest struct {
	Proof json.RawMessage `json:"proof"`
	Terms Terms           `json:"terms"`
}

func (c *FacilitatorClient) doPost(ctx context.Context, path string, proof []byte, terms Terms, out any) error {
	jsonBody, err := json.Marshal(facilitatorRequest{Proof: proof, Terms: terms})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
