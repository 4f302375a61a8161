package bank

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"

	// SignatureHeader carries "sha256=<hex hmac of body>" when a shared secret is set.
	SignatureHeader = "X-Bank-Signature"
	SimulatorHeader = "X-Bank-Simulator"
)

// Callback is the body the processor posts to the callback URL.
type Callback struct {
	PaymentIntentID string `json:"paymentIntentId"`
	Status          string `json:"status"`
	ProcessedAt     string `json:"processedAt"`
	FailureReason   string `json:"failureReason,omitempty"`
	BankReference   string `json:"bankReference,omitempty"`
}

// Validate checks the payload shape and returns the parsed processedAt along
// with per-field problems (empty when valid).
func (cb Callback) Validate() (time.Time, map[string]interface{}) {
	problems := map[string]interface{}{}
	if strings.TrimSpace(cb.PaymentIntentID) == "" {
		problems["paymentIntentId"] = "required"
	}
	if cb.Status != StatusSucceeded && cb.Status != StatusFailed {
		problems["status"] = "must be succeeded or failed"
	}
	var at time.Time
	if cb.ProcessedAt == "" {
		problems["processedAt"] = "required"
	} else {
		t, err := time.Parse(time.RFC3339Nano, cb.ProcessedAt)
		if err != nil {
			problems["processedAt"] = "must be an ISO-8601 timestamp"
		}
		at = t.UTC()
	}
	if cb.Status == StatusSucceeded && strings.TrimSpace(cb.BankReference) == "" {
		problems["bankReference"] = "required when status is succeeded"
	}
	return at, problems
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares header against the expected signature in constant time.
func VerifySignature(secret string, body []byte, header string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(header))
}
