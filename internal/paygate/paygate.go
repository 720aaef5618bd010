// Package paygate verifies and normalizes inbound payment-provider webhooks.
//
// Two providers are supported: Paystack and Flutterwave. The provider is
// identified by its signature header, the raw body is verified with an HMAC
// over the exact bytes received, and the provider-specific payload is mapped
// to a canonical PaymentEvent. This package is pure: it never touches the
// ledger or any other state.
package paygate

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/amplygigs/payments/internal/money"
)

var (
	ErrInvalidSignature = errors.New("webhook signature verification failed")
	ErrUnknownProvider  = errors.New("unknown webhook provider")
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// Signature headers. Exactly one must be present on a webhook request.
const (
	PaystackSignatureHeader    = "x-paystack-signature"
	FlutterwaveSignatureHeader = "verif-hash"
)

// Provider names.
const (
	ProviderPaystack    = "paystack"
	ProviderFlutterwave = "flutterwave"
)

// Kind is the canonical event kind.
type Kind string

const (
	KindChargeSuccess   Kind = "charge_success"
	KindTransferSuccess Kind = "transfer_success"
	KindTransferFailed  Kind = "transfer_failed"
)

// PaymentEvent is the canonical form of a verified provider event.
type PaymentEvent struct {
	Provider   string            `json:"provider"`
	Kind       Kind              `json:"kind"`
	Reference  string            `json:"reference"`
	BookingID  string            `json:"bookingId,omitempty"`
	MusicianID string            `json:"musicianId,omitempty"`
	Gross      string            `json:"gross,omitempty"`
	Channel    string            `json:"channel,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Adapter verifies webhook signatures and maps payloads.
type Adapter struct {
	paystackSecret    string
	flutterwaveSecret string
}

// New creates an adapter. Either secret may be empty, in which case webhooks
// claiming to be from that provider are rejected.
func New(paystackSecret, flutterwaveSecret string) *Adapter {
	return &Adapter{
		paystackSecret:    paystackSecret,
		flutterwaveSecret: flutterwaveSecret,
	}
}

// VerifyAndNormalize verifies the signature over rawBody and maps the payload
// to a canonical event. A verified event of a kind this service does not act
// on returns (nil, nil): the caller still acks the webhook.
func (a *Adapter) VerifyAndNormalize(rawBody []byte, header http.Header) (*PaymentEvent, error) {
	paystackSig := header.Get(PaystackSignatureHeader)
	flutterwaveSig := header.Get(FlutterwaveSignatureHeader)

	switch {
	case paystackSig != "" && flutterwaveSig != "":
		return nil, ErrUnknownProvider
	case paystackSig != "":
		if a.paystackSecret == "" || !verifyHMAC(rawBody, paystackSig, a.paystackSecret, sha512Hasher) {
			return nil, ErrInvalidSignature
		}
		return mapPaystack(rawBody)
	case flutterwaveSig != "":
		if a.flutterwaveSecret == "" || !verifyHMAC(rawBody, flutterwaveSig, a.flutterwaveSecret, sha256Hasher) {
			return nil, ErrInvalidSignature
		}
		return mapFlutterwave(rawBody)
	default:
		return nil, ErrUnknownProvider
	}
}

type hasher func(body []byte, secret string) []byte

func sha512Hasher(body []byte, secret string) []byte {
	h := hmac.New(sha512.New, []byte(secret))
	h.Write(body)
	return h.Sum(nil)
}

func sha256Hasher(body []byte, secret string) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return h.Sum(nil)
}

// verifyHMAC compares the hex-encoded signature in constant time.
func verifyHMAC(body []byte, signature, secret string, hash hasher) bool {
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(provided, hash(body, secret))
}

// Sign computes the hex HMAC a provider would attach to body. Exposed for
// webhook tests and local replay tooling.
func Sign(provider string, body []byte, secret string) string {
	switch provider {
	case ProviderPaystack:
		return hex.EncodeToString(sha512Hasher(body, secret))
	case ProviderFlutterwave:
		return hex.EncodeToString(sha256Hasher(body, secret))
	}
	return ""
}

// paystackPayload mirrors the subset of Paystack's webhook body we consume.
// Amounts arrive in kobo.
type paystackPayload struct {
	Event string `json:"event"`
	Data  struct {
		Reference string            `json:"reference"`
		Amount    int64             `json:"amount"`
		Channel   string            `json:"channel"`
		Reason    string            `json:"reason"`
		Metadata  map[string]string `json:"metadata"`
	} `json:"data"`
}

func mapPaystack(rawBody []byte) (*PaymentEvent, error) {
	var p paystackPayload
	if err := json.Unmarshal(rawBody, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	switch p.Event {
	case "charge.success":
		if p.Data.Reference == "" || p.Data.Amount <= 0 {
			return nil, ErrMalformedPayload
		}
		return &PaymentEvent{
			Provider:   ProviderPaystack,
			Kind:       KindChargeSuccess,
			Reference:  p.Data.Reference,
			BookingID:  p.Data.Metadata["booking_id"],
			MusicianID: p.Data.Metadata["musician_id"],
			Gross:      money.FromMinor(p.Data.Amount),
			Channel:    p.Data.Channel,
			Metadata:   p.Data.Metadata,
		}, nil
	case "transfer.success":
		if p.Data.Reference == "" {
			return nil, ErrMalformedPayload
		}
		return &PaymentEvent{
			Provider:  ProviderPaystack,
			Kind:      KindTransferSuccess,
			Reference: p.Data.Reference,
			Gross:     money.FromMinor(p.Data.Amount),
		}, nil
	case "transfer.failed", "transfer.reversed":
		if p.Data.Reference == "" {
			return nil, ErrMalformedPayload
		}
		return &PaymentEvent{
			Provider:  ProviderPaystack,
			Kind:      KindTransferFailed,
			Reference: p.Data.Reference,
			Gross:     money.FromMinor(p.Data.Amount),
			Reason:    p.Data.Reason,
		}, nil
	default:
		// Verified but not actionable
		return nil, nil
	}
}

// flutterwavePayload mirrors the subset of Flutterwave's webhook body we
// consume. Amounts arrive in major units.
type flutterwavePayload struct {
	Event string `json:"event"`
	Data  struct {
		Status      string            `json:"status"`
		TxRef       string            `json:"tx_ref"`
		Amount      json.Number       `json:"amount"`
		PaymentType string            `json:"payment_type"`
		Meta        map[string]string `json:"meta"`
	} `json:"data"`
}

func mapFlutterwave(rawBody []byte) (*PaymentEvent, error) {
	var p flutterwavePayload
	if err := json.Unmarshal(rawBody, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if p.Event != "charge.completed" {
		return nil, nil
	}
	// Only settled charges move money; anything else is informational.
	if p.Data.Status != "successful" {
		return nil, nil
	}
	if p.Data.TxRef == "" {
		return nil, ErrMalformedPayload
	}
	gross, ok := money.Parse(p.Data.Amount.String())
	if !ok || gross.Sign() <= 0 {
		return nil, ErrMalformedPayload
	}

	return &PaymentEvent{
		Provider:   ProviderFlutterwave,
		Kind:       KindChargeSuccess,
		Reference:  p.Data.TxRef,
		BookingID:  p.Data.Meta["booking_id"],
		MusicianID: p.Data.Meta["musician_id"],
		Gross:      money.Format(gross),
		Channel:    p.Data.PaymentType,
		Metadata:   p.Data.Meta,
	}, nil
}
