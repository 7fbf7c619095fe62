package rail

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPayPalCreateTransfer(t *testing.T) {
	var tokenCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/oauth2/token":
			tokenCalls.Add(1)
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "client", user)
			assert.Equal(t, "secret", pass)
			w.Write([]byte(`{"access_token":"A21","expires_in":32400}`))
		case "/v1/payments/payouts":
			assert.Equal(t, "Bearer A21", r.Header.Get("Authorization"))
			assert.Equal(t, "payout-p-7", r.Header.Get("PayPal-Request-Id"))

			var payload paypalPayoutRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, "p-7", payload.SenderBatchHeader.SenderBatchID)
			require.Len(t, payload.Items, 1)
			assert.Equal(t, "jane@example.com", payload.Items[0].Receiver)
			assert.Equal(t, "19.60", payload.Items[0].Amount.Value)
			assert.Equal(t, "EUR", payload.Items[0].Amount.Currency)

			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"batch_header":{"payout_batch_id":"BATCH-1","batch_status":"PENDING"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewPayPalClient(PayPalOptions{ClientID: "client", ClientSecret: "secret", BaseURL: server.URL, Timeout: time.Second}, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		id, err := client.CreateTransfer(ctx, TransferRequest{PayoutID: "p-7", AccountID: "jane@example.com", Amount: 1960, Currency: "eur"})
		require.NoError(t, err)
		assert.Equal(t, "BATCH-1", id)
	}
	assert.Equal(t, int32(1), tokenCalls.Load(), "токен должен кешироваться")
}

func TestPayPalErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/oauth2/token" {
			w.Write([]byte(`{"access_token":"A21","expires_in":32400}`))
			return
		}
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"name":"INSUFFICIENT_FUNDS","message":"Sender does not have sufficient funds","debug_id":"abc"}`))
	}))
	defer server.Close()

	client := NewPayPalClient(PayPalOptions{ClientID: "c", ClientSecret: "s", BaseURL: server.URL, Timeout: time.Second}, zap.NewNop())

	_, err := client.CreateTransfer(context.Background(), TransferRequest{PayoutID: "p1", AccountID: "a@example.com", Amount: 100, Currency: "USD"})
	var railErr *Error
	require.True(t, errors.As(err, &railErr))
	assert.Equal(t, "insufficient_funds", railErr.Code)
	assert.False(t, railErr.Unknown)
}

func TestPayPalTokenFailureIsKnown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewPayPalClient(PayPalOptions{ClientID: "c", ClientSecret: "s", BaseURL: server.URL, Timeout: time.Second}, zap.NewNop())

	_, err := client.CreateTransfer(context.Background(), TransferRequest{PayoutID: "p1", AccountID: "a@example.com", Amount: 100, Currency: "USD"})
	require.Error(t, err)
	assert.False(t, IsUnknown(err))
}

func TestPayPalAccountAndLink(t *testing.T) {
	client := NewPayPalClient(PayPalOptions{ClientID: "client-id", TestMode: true}, zap.NewNop())
	ctx := context.Background()

	accountID, err := client.CreateAccount(ctx, AccountRequest{Email: "Jane@Example.com"})
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", accountID)

	_, err = client.CreateAccount(ctx, AccountRequest{Email: "nope"})
	assert.Error(t, err)

	link, err := client.CreateOnboardingLink(ctx, accountID)
	require.NoError(t, err)
	assert.Contains(t, link, "https://www.sandbox.paypal.com/connect?")
	assert.Contains(t, link, "client_id=client-id")

	id, err := client.CreateTransfer(ctx, TransferRequest{PayoutID: "ab-12"})
	require.NoError(t, err)
	assert.Equal(t, "PAYOUT-TEST-AB12", id)
}
