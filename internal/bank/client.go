// Package bank is the adapter between the payment core and the external
// asynchronous processor.
package bank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNotConfigured is returned by Submit when no processor URL is set.
var ErrNotConfigured = errors.New("bank processor url not configured")

// SubmitRequest is the body of POST <bank-url>/process.
type SubmitRequest struct {
	PaymentIntentID string `json:"paymentIntentId"`
	Amount          int64  `json:"amount"`
	Method          string `json:"method"`
	CallbackURL     string `json:"callbackUrl"`
}

// Ack is the processor's immediate acknowledgement.
type Ack struct {
	Received         bool   `json:"received"`
	PaymentIntentID  string `json:"paymentIntentId"`
	EstimatedDelayMs int64  `json:"estimatedDelayMs"`
	Message          string `json:"message"`
}

// Client submits payments to the processor.
type Client struct {
	baseURL    string
	policy     CallbackPolicy
	httpClient *http.Client
}

// NewClient builds a Client; every request is bounded by timeout.
func NewClient(baseURL string, timeout time.Duration, policy CallbackPolicy) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		policy:  policy,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Submit hands a payment to the processor. Any error means the processor did
// not accept it; the callback URL is validated before anything is sent.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*Ack, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}
	if _, err := c.policy.ValidateCallbackURL(req.CallbackURL); err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("bank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("bank returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var ack Ack
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return nil, fmt.Errorf("decode bank ack: %w", err)
	}
	if !ack.Received {
		return nil, errors.New("bank did not acknowledge the payment")
	}
	return &ack, nil
}
