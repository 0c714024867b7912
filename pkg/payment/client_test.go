package payment

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePayoutSendsMinorUnits(t *testing.T) {
	var captured payoutPayload
	var authUser, authPass string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/payouts", r.URL.Path)
		authUser, authPass, _ = r.BasicAuth()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(payoutResponse{ID: "pout_123", Status: "processing", Amount: 42550})
	}))
	defer server.Close()

	client := NewClient(Config{
		BaseURL:       server.URL,
		KeyID:         "key_id",
		KeySecret:     "key_secret",
		AccountNumber: "2323230041626905",
	}, nil)

	result, err := client.CreatePayout(context.Background(), PayoutRequest{
		Amount:          425.50,
		AccountNumber:   "50100012345678",
		IFSCCode:        "HDFC0001234",
		BeneficiaryName: "Asha Rao",
		Purpose:         "cashback",
		Reference:       "CB250314000123ABC",
	})
	require.NoError(t, err)

	assert.Equal(t, "key_id", authUser)
	assert.Equal(t, "key_secret", authPass)
	assert.Equal(t, int64(42550), captured.Amount)
	assert.Equal(t, "INR", captured.Currency)
	assert.Equal(t, "IMPS", captured.Mode)
	assert.Equal(t, "2323230041626905", captured.AccountNumber)
	assert.Equal(t, "CB250314000123ABC", captured.ReferenceID)
	assert.Equal(t, "bank_account", captured.FundAccount.AccountType)
	assert.Equal(t, "HDFC0001234", captured.FundAccount.BankAccount.IFSC)
	assert.True(t, captured.QueueIfLowBalance)

	assert.Equal(t, "pout_123", result.PayoutID)
	assert.Equal(t, "processing", result.Status)
	assert.InDelta(t, 425.50, result.Amount, 0.001)
}

func TestCreatePayoutGatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"The fund account id is invalid"}}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, nil)
	_, err := client.CreatePayout(context.Background(), PayoutRequest{Amount: 100})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "The fund account id is invalid")
	assert.Contains(t, err.Error(), "BAD_REQUEST_ERROR")
}

func TestGetPayoutStatus(t *testing.T) {
	createdAt := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/payouts/pout_123", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(payoutResponse{ID: "pout_123", Status: "processed", Amount: 42550, CreatedAt: createdAt.Unix()})
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, nil)
	status, err := client.GetPayoutStatus(context.Background(), "pout_123")
	require.NoError(t, err)
	assert.Equal(t, "processed", status.Status)
	assert.InDelta(t, 425.50, status.Amount, 0.001)
	assert.Equal(t, createdAt.Unix(), status.CreatedAt.Unix())
}

func TestClientRespectsContextDeadline(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		// Drain the body so the server watches the connection and cancels
		// r.Context() when the client aborts; otherwise this handler never
		// returns and the deferred server.Close deadlocks.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.CreatePayout(ctx, PayoutRequest{Amount: 100})
	require.Error(t, err)
	<-started
}
