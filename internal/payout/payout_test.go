package payout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testAccount() BankAccount {
	return BankAccount{
		AccountName:   "Ada Okafor",
		AccountNumber: "0123456789",
		BankCode:      "058",
	}
}

func TestCreateRecipient(t *testing.T) {
	var gotAuth string
	var gotBody map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transferrecipient" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"status": true, "data": {"recipient_code": "RCP_abc123"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test_key", "NGN")
	code, err := c.CreateRecipient(context.Background(), testAccount())
	if err != nil {
		t.Fatalf("CreateRecipient failed: %v", err)
	}
	if code != "RCP_abc123" {
		t.Errorf("expected RCP_abc123, got %s", code)
	}
	if gotAuth != "Bearer sk_test_key" {
		t.Errorf("expected bearer auth, got %q", gotAuth)
	}
	if gotBody["type"] != "nuban" || gotBody["account_number"] != "0123456789" ||
		gotBody["bank_code"] != "058" || gotBody["currency"] != "NGN" {
		t.Errorf("unexpected request body: %v", gotBody)
	}
}

func TestTransfer_ConvertsToMinorUnits(t *testing.T) {
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transfer" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"status": true, "data": {"transfer_code": "TRF_xyz", "reference": "wd_1-100", "status": "pending"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test_key", "NGN")
	tr, err := c.Transfer(context.Background(), "8500.00", "RCP_abc123", "wd_1-100", "gig payout")
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if tr.Code != "TRF_xyz" || tr.Status != "pending" {
		t.Errorf("unexpected transfer: %+v", tr)
	}

	// 8500.00 NGN is 850000 kobo
	if amt, ok := gotBody["amount"].(float64); !ok || amt != 850000 {
		t.Errorf("expected amount 850000 minor units, got %v", gotBody["amount"])
	}
	if gotBody["source"] != "balance" || gotBody["recipient"] != "RCP_abc123" ||
		gotBody["reference"] != "wd_1-100" {
		t.Errorf("unexpected request body: %v", gotBody)
	}
}

func TestTransfer_InvalidAmount(t *testing.T) {
	c := NewClient("http://unused", "sk", "NGN")

	if _, err := c.Transfer(context.Background(), "not-money", "RCP_1", "ref", ""); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := c.Transfer(context.Background(), "0.00", "RCP_1", "ref", ""); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for zero, got %v", err)
	}
}

func TestTransfer_ProviderRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status": false, "message": "Insufficient balance"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test_key", "NGN")
	_, err := c.Transfer(context.Background(), "100.00", "RCP_1", "ref", "")
	if !errors.Is(err, ErrTransferRejected) {
		t.Errorf("expected ErrTransferRejected, got %v", err)
	}
}

func TestCreateRecipient_FalseEnvelopeStatus(t *testing.T) {
	// 200 with status:false still means rejection
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status": false, "message": "Invalid bank code"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test_key", "NGN")
	_, err := c.CreateRecipient(context.Background(), testAccount())
	if !errors.Is(err, ErrRecipientRejected) {
		t.Errorf("expected ErrRecipientRejected, got %v", err)
	}
}
