/**
 * @description
 * This package provides a client for the WhatsApp messaging gateway used to
 * deliver OTP codes. It wraps the gateway's send-message endpoint with
 * authentication and a short timeout so a slow gateway cannot stall OTP
 * issuance indefinitely.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, io, net/http, time: Standard Go libraries.
 */
package waclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a client for the messaging gateway API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new messaging gateway client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type sendMessageRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// SendOTP delivers one verification code to the given phone number.
func (c *Client) SendOTP(ctx context.Context, phone, code string) error {
	payload := sendMessageRequest{
		Phone:   phone,
		Message: fmt.Sprintf("Kode verifikasi Anda: %s. Jangan bagikan kode ini kepada siapa pun.", code),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/v1/messages", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create message request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute message request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("messaging gateway returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	return nil
}
