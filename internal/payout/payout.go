// Package payout moves money out to musician bank accounts via Paystack
// transfers. The client holds the bearer credential and converts major-unit
// amounts to minor units at this boundary; it never logs the credential.
package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/amplygigs/payments/internal/money"
)

var (
	ErrInvalidAmount     = errors.New("invalid payout amount")
	ErrRecipientRejected = errors.New("transfer recipient rejected")
	ErrTransferRejected  = errors.New("transfer rejected")
)

// DefaultBaseURL is the production Paystack API.
const DefaultBaseURL = "https://api.paystack.co"

// BankAccount identifies a NUBAN destination for transfers.
type BankAccount struct {
	AccountName   string `json:"accountName"`
	AccountNumber string `json:"accountNumber"`
	BankCode      string `json:"bankCode"`
}

// Transfer is the provider's view of an initiated transfer.
type Transfer struct {
	Code      string `json:"code"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// Client is a Paystack transfers API client.
type Client struct {
	baseURL   string
	secretKey string
	currency  string
	client    *http.Client
}

// NewClient creates a payout client. baseURL is overridable for tests;
// empty means production.
func NewClient(baseURL, secretKey, currency string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:   baseURL,
		secretKey: secretKey,
		currency:  currency,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiResponse is Paystack's envelope: a boolean status plus a data payload.
type apiResponse struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// CreateRecipient registers a bank account as a transfer recipient and
// returns the recipient code. Safe to call repeatedly for the same account;
// Paystack returns the existing recipient.
func (c *Client) CreateRecipient(ctx context.Context, acct BankAccount) (string, error) {
	payload := map[string]string{
		"type":           "nuban",
		"name":           acct.AccountName,
		"account_number": acct.AccountNumber,
		"bank_code":      acct.BankCode,
		"currency":       c.currency,
	}

	data, err := c.post(ctx, "/transferrecipient", payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRecipientRejected, err)
	}

	var result struct {
		RecipientCode string `json:"recipient_code"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrRecipientRejected, err)
	}
	if result.RecipientCode == "" {
		return "", fmt.Errorf("%w: empty recipient code", ErrRecipientRejected)
	}
	return result.RecipientCode, nil
}

// Transfer initiates a payout. amount is a major-unit decimal string; the
// reference is the caller's idempotency key at the provider.
func (c *Client) Transfer(ctx context.Context, amount, recipientCode, reference, reason string) (*Transfer, error) {
	minor, ok := money.ToMinor(amount)
	if !ok || minor <= 0 {
		return nil, ErrInvalidAmount
	}

	payload := map[string]any{
		"source":    "balance",
		"amount":    minor,
		"recipient": recipientCode,
		"reference": reference,
		"reason":    reason,
	}

	data, err := c.post(ctx, "/transfer", payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferRejected, err)
	}

	var result struct {
		TransferCode string `json:"transfer_code"`
		Reference    string `json:"reference"`
		Status       string `json:"status"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrTransferRejected, err)
	}
	if result.TransferCode == "" {
		return nil, fmt.Errorf("%w: empty transfer code", ErrTransferRejected)
	}
	return &Transfer{
		Code:      result.TransferCode,
		Reference: result.Reference,
		Status:    result.Status,
	}, nil
}

// post sends one JSON request. Transfers are never retried here: a timed-out
// POST may still have landed, so retries belong to the caller's state machine.
func (c *Client) post(ctx context.Context, path string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("provider returned status %d with unreadable body", resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !envelope.Status {
		return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, envelope.Message)
	}
	return envelope.Data, nil
}
