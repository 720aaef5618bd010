package paygate

import (
	"errors"
	"net/http"
	"testing"
)

const (
	paystackSecret    = "sk_test_secret"
	flutterwaveSecret = "flw_test_hash"
)

func signedHeader(provider string, body []byte, secret string) http.Header {
	h := http.Header{}
	switch provider {
	case ProviderPaystack:
		h.Set(PaystackSignatureHeader, Sign(ProviderPaystack, body, secret))
	case ProviderFlutterwave:
		h.Set(FlutterwaveSignatureHeader, Sign(ProviderFlutterwave, body, secret))
	}
	return h
}

func TestVerifyAndNormalize_PaystackCharge(t *testing.T) {
	a := New(paystackSecret, flutterwaveSecret)
	body := []byte(`{
		"event": "charge.success",
		"data": {
			"reference": "PSK_12345",
			"amount": 1000000,
			"channel": "card",
			"metadata": {"booking_id": "booking-9", "musician_id": "musician-7"}
		}
	}`)

	ev, err := a.VerifyAndNormalize(body, signedHeader(ProviderPaystack, body, paystackSecret))
	if err != nil {
		t.Fatalf("VerifyAndNormalize failed: %v", err)
	}
	if ev.Provider != ProviderPaystack || ev.Kind != KindChargeSuccess {
		t.Errorf("unexpected event identity: %+v", ev)
	}
	if ev.Reference != "PSK_12345" {
		t.Errorf("expected reference PSK_12345, got %s", ev.Reference)
	}
	if ev.Gross != "10000.00" {
		t.Errorf("expected gross 10000.00 from kobo, got %s", ev.Gross)
	}
	if ev.BookingID != "booking-9" || ev.MusicianID != "musician-7" {
		t.Errorf("metadata not mapped: %+v", ev)
	}
	if ev.Channel != "card" {
		t.Errorf("expected channel card, got %s", ev.Channel)
	}
}

func TestVerifyAndNormalize_FlutterwaveCharge(t *testing.T) {
	a := New(paystackSecret, flutterwaveSecret)
	body := []byte(`{
		"event": "charge.completed",
		"data": {
			"status": "successful",
			"tx_ref": "FLW_98765",
			"amount": 10000,
			"payment_type": "banktransfer",
			"meta": {"booking_id": "booking-3", "musician_id": "musician-4"}
		}
	}`)

	ev, err := a.VerifyAndNormalize(body, signedHeader(ProviderFlutterwave, body, flutterwaveSecret))
	if err != nil {
		t.Fatalf("VerifyAndNormalize failed: %v", err)
	}
	if ev.Provider != ProviderFlutterwave || ev.Kind != KindChargeSuccess {
		t.Errorf("unexpected event identity: %+v", ev)
	}
	if ev.Gross != "10000.00" {
		t.Errorf("expected gross 10000.00, got %s", ev.Gross)
	}
	if ev.Channel != "banktransfer" {
		t.Errorf("expected channel banktransfer, got %s", ev.Channel)
	}
}

func TestVerifyAndNormalize_FlutterwaveNonSuccessfulIgnored(t *testing.T) {
	a := New(paystackSecret, flutterwaveSecret)
	body := []byte(`{
		"event": "charge.completed",
		"data": {"status": "failed", "tx_ref": "FLW_fail", "amount": 100}
	}`)

	ev, err := a.VerifyAndNormalize(body, signedHeader(ProviderFlutterwave, body, flutterwaveSecret))
	if err != nil {
		t.Fatalf("expected ignore, got error: %v", err)
	}
	if ev != nil {
		t.Errorf("expected nil event for non-successful charge, got %+v", ev)
	}
}

func TestVerifyAndNormalize_TamperedBody(t *testing.T) {
	a := New(paystackSecret, flutterwaveSecret)
	body := []byte(`{"event": "charge.success", "data": {"reference": "PSK_1", "amount": 100}}`)
	header := signedHeader(ProviderPaystack, body, paystackSecret)

	tampered := []byte(`{"event": "charge.success", "data": {"reference": "PSK_1", "amount": 99999999}}`)
	_, err := a.VerifyAndNormalize(tampered, header)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature for tampered body, got %v", err)
	}
}

func TestVerifyAndNormalize_WrongSecret(t *testing.T) {
	a := New(paystackSecret, flutterwaveSecret)
	body := []byte(`{"event": "charge.success", "data": {"reference": "PSK_1", "amount": 100}}`)

	_, err := a.VerifyAndNormalize(body, signedHeader(ProviderPaystack, body, "wrong_secret"))
	if !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyAndNormalize_ProviderAmbiguity(t *testing.T) {
	a := New(paystackSecret, flutterwaveSecret)
	body := []byte(`{}`)

	// Neither header
	if _, err := a.VerifyAndNormalize(body, http.Header{}); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("expected ErrUnknownProvider with no headers, got %v", err)
	}

	// Both headers
	h := http.Header{}
	h.Set(PaystackSignatureHeader, Sign(ProviderPaystack, body, paystackSecret))
	h.Set(FlutterwaveSignatureHeader, Sign(ProviderFlutterwave, body, flutterwaveSecret))
	if _, err := a.VerifyAndNormalize(body, h); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("expected ErrUnknownProvider with both headers, got %v", err)
	}
}

func TestVerifyAndNormalize_UnmappedEventIgnored(t *testing.T) {
	a := New(paystackSecret, flutterwaveSecret)
	body := []byte(`{"event": "subscription.create", "data": {"reference": "SUB_1"}}`)

	ev, err := a.VerifyAndNormalize(body, signedHeader(ProviderPaystack, body, paystackSecret))
	if err != nil {
		t.Fatalf("expected ignore, got error: %v", err)
	}
	if ev != nil {
		t.Errorf("expected nil event for unmapped kind, got %+v", ev)
	}
}

func TestVerifyAndNormalize_TransferSettlement(t *testing.T) {
	a := New(paystackSecret, flutterwaveSecret)

	success := []byte(`{"event": "transfer.success", "data": {"reference": "wd_abc123-17000", "amount": 500000}}`)
	ev, err := a.VerifyAndNormalize(success, signedHeader(ProviderPaystack, success, paystackSecret))
	if err != nil {
		t.Fatalf("VerifyAndNormalize failed: %v", err)
	}
	if ev.Kind != KindTransferSuccess || ev.Reference != "wd_abc123-17000" {
		t.Errorf("unexpected transfer event: %+v", ev)
	}

	failed := []byte(`{"event": "transfer.failed", "data": {"reference": "wd_abc123-17000", "amount": 500000, "reason": "insufficient balance"}}`)
	ev, err = a.VerifyAndNormalize(failed, signedHeader(ProviderPaystack, failed, paystackSecret))
	if err != nil {
		t.Fatalf("VerifyAndNormalize failed: %v", err)
	}
	if ev.Kind != KindTransferFailed || ev.Reason != "insufficient balance" {
		t.Errorf("unexpected failed transfer event: %+v", ev)
	}
}

func TestVerifyAndNormalize_MalformedPayload(t *testing.T) {
	a := New(paystackSecret, flutterwaveSecret)
	body := []byte(`not json at all`)

	_, err := a.VerifyAndNormalize(body, signedHeader(ProviderPaystack, body, paystackSecret))
	if !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("expected ErrMalformedPayload, got %v", err)
	}
}
