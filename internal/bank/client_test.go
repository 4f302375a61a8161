package bank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Submit(t *testing.T) {
	var got SubmitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/process", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(Ack{Received: true, PaymentIntentID: got.PaymentIntentID, EstimatedDelayMs: 1500})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", time.Second, CallbackPolicy{Development: true})
	ack, err := c.Submit(context.Background(), SubmitRequest{
		PaymentIntentID: "pi_1", Amount: 50000, Method: "card",
		CallbackURL: "http://localhost:8080/v1/webhooks/bank",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1500), ack.EstimatedDelayMs)
	assert.Equal(t, "pi_1", got.PaymentIntentID)
	assert.Equal(t, int64(50000), got.Amount)
}

func TestClient_RejectsCallbackBeforeCalling(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, CallbackPolicy{Development: true})
	_, err := c.Submit(context.Background(), SubmitRequest{
		PaymentIntentID: "pi_1", Amount: 100, Method: "card",
		CallbackURL: "http://169.254.169.254/steal",
	})
	require.Error(t, err)
	assert.Equal(t, int32(0), hits.Load())
}

func TestClient_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, CallbackPolicy{Development: true})
	_, err := c.Submit(context.Background(), SubmitRequest{PaymentIntentID: "pi_1", CallbackURL: "http://localhost/x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(srv.URL, 50*time.Millisecond, CallbackPolicy{Development: true})
	start := time.Now()
	_, err := c.Submit(context.Background(), SubmitRequest{PaymentIntentID: "pi_1", CallbackURL: "http://localhost/x"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClient_NotConfigured(t *testing.T) {
	_, err := NewClient("", time.Second, CallbackPolicy{}).Submit(context.Background(), SubmitRequest{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestCallbackValidate(t *testing.T) {
	at, problems := Callback{
		PaymentIntentID: "pi_1", Status: StatusSucceeded,
		ProcessedAt: "2024-05-01T10:00:00.000Z", BankReference: "BANK-X",
	}.Validate()
	assert.Empty(t, problems)
	assert.Equal(t, 2024, at.Year())

	_, problems = Callback{PaymentIntentID: "pi_1", Status: StatusFailed, ProcessedAt: "2024-05-01T10:00:00Z"}.Validate()
	assert.Empty(t, problems)

	_, problems = Callback{Status: "pending", ProcessedAt: "yesterday"}.Validate()
	assert.Contains(t, problems, "paymentIntentId")
	assert.Contains(t, problems, "status")
	assert.Contains(t, problems, "processedAt")

	_, problems = Callback{PaymentIntentID: "pi_1", Status: StatusSucceeded, ProcessedAt: "2024-05-01T10:00:00Z"}.Validate()
	assert.Contains(t, problems, "bankReference")
}

func TestSignature(t *testing.T) {
	body := []byte(`{"paymentIntentId":"pi_1"}`)
	sig := Sign("s3cret", body)
	assert.True(t, VerifySignature("s3cret", body, sig))
	assert.False(t, VerifySignature("other", body, sig))
	assert.False(t, VerifySignature("s3cret", append(body, ' '), sig))
}
