/**
 * @description
 * This package provides a client for interacting with the payout provider API.
 * It encapsulates the logic for making authenticated HTTP requests to the
 * provider's disbursement endpoint, handling request body construction, and
 * parsing responses.
 *
 * Every disbursement carries the caller's idempotency key so the provider can
 * deduplicate retried submissions server-side.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, io, log, net/http, time: Standard Go libraries.
 */
package payoutclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client is a client for the payout provider API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new payout provider API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// DisbursementRequest represents the payload for a provider disbursement.
type DisbursementRequest struct {
	Amount             string `json:"amount"`
	BeneficiaryName    string `json:"beneficiary_name"`
	BeneficiaryBank    string `json:"beneficiary_bank"`
	BeneficiaryAccount string `json:"beneficiary_account"`
	Remark             string `json:"remark"`
	ReferenceID        string `json:"reference_id"`
}

// DisbursementResponse is the expected response from the provider's
// disbursement endpoint. RawBody keeps the exact acknowledgement bytes for
// replay on repeated submissions with the same idempotency key.
type DisbursementResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`

	RawBody []byte `json:"-"`
}

// ErrorResponse represents an error from the provider API.
type ErrorResponse struct {
	ErrorCode string   `json:"error_code"`
	Message   string   `json:"message"`
	Errors    []string `json:"errors,omitempty"`
}

func (e *ErrorResponse) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("payout provider error: %s - %s", e.ErrorCode, e.Message)
	}
	return "unknown payout provider error"
}

// CreateDisbursement submits one disbursement to the provider. The
// idempotency key is forwarded unchanged on every retry of the same payout.
func (c *Client) CreateDisbursement(ctx context.Context, idempotencyKey string, payload DisbursementRequest) (*DisbursementResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal disbursement request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/v1/disbursements", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create disbursement request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("X-Idempotency-Key", idempotencyKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute disbursement request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read disbursement response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=payout_client op=create_disbursement status=%d msg=\"non-2xx response (unparsable error body)\"", resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=payout_client op=create_disbursement status=%d error_code=%q message=%q", resp.StatusCode, errResp.ErrorCode, errResp.Message)
		return nil, &errResp
	}

	var successResp DisbursementResponse
	if err := json.Unmarshal(bodyBytes, &successResp); err != nil {
		return nil, fmt.Errorf("failed to decode success response: %w", err)
	}
	successResp.RawBody = bodyBytes

	return &successResp, nil
}
