package payout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestCreateDisbursement(t *testing.T) {
	var gotKey, gotAuth string
	var gotBody DisbursementRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/disbursements", r.URL.Path)

		gotKey = r.Header.Get("Idempotence-Key")
		gotAuth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(DisbursementResponse{ID: "disb-1", Status: GatewayStatusAccepted, Reference: gotBody.Reference})
	}))
	defer server.Close()

	client := NewGatewayClient(server.URL, "secret-key", 5*time.Second, false, zap.NewNop())

	resp, err := client.CreateDisbursement(context.Background(), "key-123", 120.5, "CAD", "paypal", "owner@example.com")
	assert.NoError(t, err)
	assert.Equal(t, "disb-1", resp.ID)
	assert.Equal(t, GatewayStatusAccepted, resp.Status)

	// Ключ идемпотентности уходит и в заголовке, и в reference тела
	assert.Equal(t, "key-123", gotKey)
	assert.Equal(t, "key-123", gotBody.Reference)
	assert.Equal(t, "Bearer secret-key", gotAuth)
	assert.Equal(t, "120.50", gotBody.Amount)
	assert.Equal(t, "CAD", gotBody.Currency)
}

func TestCreateDisbursementServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewGatewayClient(server.URL, "secret-key", 5*time.Second, false, zap.NewNop())

	_, err := client.CreateDisbursement(context.Background(), "key-123", 120.5, "CAD", "paypal", "owner@example.com")
	assert.Error(t, err)
}

func TestCreateDisbursementTestMode(t *testing.T) {
	client := NewGatewayClient("http://unused", "", 5*time.Second, true, zap.NewNop())

	resp, err := client.CreateDisbursement(context.Background(), "key-123", 120.5, "CAD", "paypal", "owner@example.com")
	assert.NoError(t, err)
	assert.Equal(t, GatewayStatusCompleted, resp.Status)
}

func TestCheckDisbursementStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/disbursements/by-reference/key-123", r.URL.Path)
		json.NewEncoder(w).Encode(DisbursementResponse{ID: "disb-1", Status: GatewayStatusCompleted})
	}))
	defer server.Close()

	client := NewGatewayClient(server.URL, "secret-key", 5*time.Second, false, zap.NewNop())

	status, err := client.CheckDisbursementStatus(context.Background(), "key-123")
	assert.NoError(t, err)
	assert.Equal(t, GatewayStatusCompleted, status)
}

func TestCheckDisbursementStatusUnknownReference(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := NewGatewayClient(server.URL, "secret-key", 5*time.Second, false, zap.NewNop())

	// Шлюз не видел перевод: отправка не состоялась
	status, err := client.CheckDisbursementStatus(context.Background(), "key-999")
	assert.NoError(t, err)
	assert.Equal(t, GatewayStatusFailed, status)
}
