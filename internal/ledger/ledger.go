// Package ledger tracks musician wallet balances on the platform.
//
// Flow:
//  1. Fan pays for a booking via a payment provider
//  2. Platform credits the net amount into the musician's held (ledger) balance
//  3. Booking completes, held funds are released to the available balance
//  4. Musician withdraws, funds move through a pending reservation to payout
//
// The ledger store is the only writer of wallet balances. Every balance
// movement is recorded in an append-only movement log.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/amplygigs/payments/internal/money"
)

var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrDuplicateReference  = errors.New("payment reference already processed")
	ErrEscrowNotFound      = errors.New("escrow entry not found")
	ErrEscrowNotHeld       = errors.New("escrow entry is not held")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// Transaction status values.
const (
	TxSuccessful = "successful"
	TxFailed     = "failed"
)

// Escrow annotation on a transaction. EscrowFailed marks a payment that was
// confirmed by the provider but whose wallet credit did not land; these rows
// are picked up by the reconciliation worker.
const (
	EscrowCredited = "credited"
	EscrowFailed   = "failed"
)

// Escrow entry status values.
const (
	EscrowHeld     = "held"
	EscrowReleased = "released"
)

// Wallet is a musician's balance snapshot.
type Wallet struct {
	MusicianID         string    `json:"musicianId"`
	AvailableBalance   string    `json:"availableBalance"`   // Withdrawable
	LedgerBalance      string    `json:"ledgerBalance"`      // Held in escrow
	PendingWithdrawals string    `json:"pendingWithdrawals"` // Reserved for in-flight payouts
	TotalEarned        string    `json:"totalEarned"`        // Lifetime net credits
	TotalWithdrawn     string    `json:"totalWithdrawn"`     // Lifetime settled payouts
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Transaction is a money-movement record keyed by the provider's reference.
type Transaction struct {
	ID           string    `json:"id"`
	MusicianID   string    `json:"musicianId"`
	BookingID    string    `json:"bookingId,omitempty"`
	Type         string    `json:"type"` // payment, withdrawal
	Amount       string    `json:"amount"`
	Fee          string    `json:"fee,omitempty"`
	Net          string    `json:"net,omitempty"`
	Reference    string    `json:"reference"`
	Status       string    `json:"status"`
	EscrowStatus string    `json:"escrowStatus,omitempty"`
	Provider     string    `json:"provider,omitempty"`
	Channel      string    `json:"channel,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// EscrowEntry is a held payment awaiting release.
type EscrowEntry struct {
	ID         string     `json:"id"`
	BookingID  string     `json:"bookingId"`
	MusicianID string     `json:"musicianId"`
	Gross      string     `json:"gross"`
	Fee        string     `json:"fee"`
	Net        string     `json:"net"`
	Reference  string     `json:"reference"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"createdAt"`
	ReleasedAt *time.Time `json:"releasedAt,omitempty"`
}

// Entry is one row of the append-only movement log.
type Entry struct {
	ID          string    `json:"id"`
	MusicianID  string    `json:"musicianId"`
	Type        string    `json:"type"` // escrow_credit, escrow_release, reserve, withdrawal_settled, reservation_released
	Amount      string    `json:"amount"`
	Reference   string    `json:"reference,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// CreditEscrowParams describes a verified inbound payment to credit.
type CreditEscrowParams struct {
	MusicianID string
	BookingID  string
	Gross      string
	Fee        string
	Net        string
	Reference  string
	Provider   string
	Channel    string
}

// FailedCreditParams records a provider-confirmed payment whose credit failed.
type FailedCreditParams struct {
	MusicianID string
	BookingID  string
	Gross      string
	Reference  string
	Provider   string
	Reason     string
}

// Store persists ledger data. Composite operations are atomic: either every
// write in the operation lands or none do.
type Store interface {
	GetWallet(ctx context.Context, musicianID string) (*Wallet, error)
	CreditEscrow(ctx context.Context, p CreditEscrowParams) (*EscrowEntry, error)
	MarkEscrowFailed(ctx context.Context, p FailedCreditParams) error
	ReleaseEscrow(ctx context.Context, entryID string) (*EscrowEntry, error)
	Reserve(ctx context.Context, musicianID, amount, reference string) error
	ConfirmReservation(ctx context.Context, musicianID, amount, reference string) error
	ReleaseReservation(ctx context.Context, musicianID, amount, reference string) error
	TransactionByReference(ctx context.Context, reference string) (*Transaction, error)
	EscrowEntryByID(ctx context.Context, id string) (*EscrowEntry, error)
	EscrowEntryByReference(ctx context.Context, reference string) (*EscrowEntry, error)
	EscrowEntriesByStatus(ctx context.Context, escrowStatus string, limit int) ([]*Transaction, error)
	History(ctx context.Context, musicianID string, limit int) ([]*Entry, error)
}

// Ledger manages musician wallets.
type Ledger struct {
	store Store
}

// New creates a new ledger
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Wallet returns a musician's current balance snapshot.
func (l *Ledger) Wallet(ctx context.Context, musicianID string) (*Wallet, error) {
	return l.store.GetWallet(ctx, musicianID)
}

// CreditEscrow credits a verified payment into the held balance.
// Idempotent by reference: a replay returns ErrDuplicateReference.
func (l *Ledger) CreditEscrow(ctx context.Context, p CreditEscrowParams) (*EscrowEntry, error) {
	if !money.IsPositive(p.Gross) || !money.IsPositive(p.Net) {
		return nil, ErrInvalidAmount
	}
	if _, ok := money.Parse(p.Fee); !ok {
		return nil, ErrInvalidAmount
	}
	done := observeOp("escrow_credit")
	defer done()
	return l.store.CreditEscrow(ctx, p)
}

// MarkEscrowFailed durably records a provider-confirmed payment whose wallet
// credit did not land, so reconciliation can pick it up.
func (l *Ledger) MarkEscrowFailed(ctx context.Context, p FailedCreditParams) error {
	done := observeOp("escrow_failed")
	defer done()
	return l.store.MarkEscrowFailed(ctx, p)
}

// ReleaseEscrow moves a held entry's net amount to the available balance.
func (l *Ledger) ReleaseEscrow(ctx context.Context, entryID string) (*EscrowEntry, error) {
	done := observeOp("escrow_release")
	defer done()
	return l.store.ReleaseEscrow(ctx, entryID)
}

// Reserve moves funds from available into the pending withdrawals bucket.
func (l *Ledger) Reserve(ctx context.Context, musicianID, amount, reference string) error {
	if !money.IsPositive(amount) {
		return ErrInvalidAmount
	}
	done := observeOp("reserve")
	defer done()
	return l.store.Reserve(ctx, musicianID, amount, reference)
}

// ConfirmReservation settles a reservation after the payout cleared.
func (l *Ledger) ConfirmReservation(ctx context.Context, musicianID, amount, reference string) error {
	if !money.IsPositive(amount) {
		return ErrInvalidAmount
	}
	done := observeOp("confirm_reservation")
	defer done()
	return l.store.ConfirmReservation(ctx, musicianID, amount, reference)
}

// ReleaseReservation returns reserved funds to available after a failed payout.
func (l *Ledger) ReleaseReservation(ctx context.Context, musicianID, amount, reference string) error {
	if !money.IsPositive(amount) {
		return ErrInvalidAmount
	}
	done := observeOp("release_reservation")
	defer done()
	return l.store.ReleaseReservation(ctx, musicianID, amount, reference)
}

// TransactionByReference looks up a transaction by its provider reference.
func (l *Ledger) TransactionByReference(ctx context.Context, reference string) (*Transaction, error) {
	return l.store.TransactionByReference(ctx, reference)
}

// EscrowEntryByID looks up an escrow entry.
func (l *Ledger) EscrowEntryByID(ctx context.Context, id string) (*EscrowEntry, error) {
	return l.store.EscrowEntryByID(ctx, id)
}

// EscrowEntryByReference looks up the escrow entry created for a payment reference.
func (l *Ledger) EscrowEntryByReference(ctx context.Context, reference string) (*EscrowEntry, error) {
	return l.store.EscrowEntryByReference(ctx, reference)
}

// FailedCredits returns transactions whose escrow credit needs reconciliation.
func (l *Ledger) FailedCredits(ctx context.Context, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.EscrowEntriesByStatus(ctx, EscrowFailed, limit)
}

// History returns movement log entries for a musician.
func (l *Ledger) History(ctx context.Context, musicianID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.History(ctx, musicianID, limit)
}
