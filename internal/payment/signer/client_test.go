package signer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mmeshcher/piggybag/internal/payment"
)

func TestSendPayment_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/payments" {
			t.Fatalf("path = %s, want /api/payments", r.URL.Path)
		}

		var req paymentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.From != "creator" || req.To != "donor" || req.Amount != 42 || req.Reference != "ref-1" {
			t.Fatalf("unexpected request: %+v", req)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(paymentResponse{TxnID: "tx-1", Status: "confirmed"}); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	client := NewClient(ts.URL, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	receipt, err := client.SendPayment(ctx, payment.Request{From: "creator", To: "donor", Amount: 42, Reference: "ref-1"})
	if err != nil {
		t.Fatalf("SendPayment error: %v", err)
	}
	if receipt.TxnID != "tx-1" {
		t.Fatalf("txn id = %q, want tx-1", receipt.TxnID)
	}
}

func TestSendPayment_ConflictReturnsExistingTxn(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(paymentResponse{TxnID: "tx-old", Status: "confirmed"})
	}))
	defer ts.Close()

	receipt, err := NewClient(ts.URL, time.Second).SendPayment(context.Background(), payment.Request{To: "donor", Amount: 1})
	if err != nil {
		t.Fatalf("SendPayment error: %v", err)
	}
	if receipt.TxnID != "tx-old" {
		t.Fatalf("txn id = %q, want tx-old", receipt.TxnID)
	}
}

func TestSendPayment_TooManyRequests(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL, time.Second).SendPayment(context.Background(), payment.Request{To: "donor", Amount: 1})
	if !errors.Is(err, payment.ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	retry, ok := IsRateLimited(err)
	if !ok {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	if retry < 5*time.Second {
		t.Fatalf("retryAfter = %v, want at least 5s", retry)
	}
}

func TestSendPayment_StatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{name: "bad request is rejected", status: http.StatusBadRequest, want: payment.ErrRejected},
		{name: "unprocessable is rejected", status: http.StatusUnprocessableEntity, want: payment.ErrRejected},
		{name: "accepted is unknown", status: http.StatusAccepted, want: payment.ErrNetworkUnavailable},
		{name: "server error is unknown", status: http.StatusBadGateway, want: payment.ErrNetworkUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(paymentResponse{Error: "nope"})
			}))
			defer ts.Close()

			_, err := NewClient(ts.URL, time.Second).SendPayment(context.Background(), payment.Request{To: "donor", Amount: 1})
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSendPayment_TransportErrorIsUnknown(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	_, err := NewClient(url, time.Second).SendPayment(context.Background(), payment.Request{To: "donor", Amount: 1})
	if !errors.Is(err, payment.ErrNetworkUnavailable) {
		t.Fatalf("expected ErrNetworkUnavailable, got %v", err)
	}
}
