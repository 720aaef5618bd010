// Package withdrawal moves released funds out to musician bank accounts.
//
// A withdrawal walks a strict state machine:
//
//	pending -> processing -> completed
//	                      -> failed
//
// Terminal states are immutable and no state is ever skipped. Funds are
// reserved (available -> pending_withdrawals) only after the payout provider
// accepts the transfer, and settle or return when the provider reports the
// transfer's fate.
package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amplygigs/payments/internal/idgen"
	"github.com/amplygigs/payments/internal/ledger"
	"github.com/amplygigs/payments/internal/logging"
	"github.com/amplygigs/payments/internal/metrics"
	"github.com/amplygigs/payments/internal/money"
	"github.com/amplygigs/payments/internal/notify"
	"github.com/amplygigs/payments/internal/payout"
	"github.com/amplygigs/payments/internal/retry"
	"github.com/amplygigs/payments/internal/traces"
)

var (
	ErrNotFound            = errors.New("withdrawal not found")
	ErrBankAccountNotFound = errors.New("bank account not found")
	ErrInvalidState        = errors.New("withdrawal is not in a valid state for this operation")
	ErrInsufficientFunds   = errors.New("insufficient available balance")
	ErrInvalidAmount       = errors.New("invalid withdrawal amount")
)

// Withdrawal statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Withdrawal is a payout request.
type Withdrawal struct {
	ID            string     `json:"id"`
	MusicianID    string     `json:"musicianId"`
	BankAccountID string     `json:"bankAccountId"`
	Amount        string     `json:"amount"`
	Status        string     `json:"status"`
	TransferCode  string     `json:"transferCode,omitempty"`
	TransferRef   string     `json:"transferRef,omitempty"`
	FailureReason string     `json:"failureReason,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

// BankAccount is a registered payout destination. The provider recipient
// code is memoized here after the first transfer to the account.
type BankAccount struct {
	ID            string    `json:"id"`
	MusicianID    string    `json:"musicianId"`
	AccountName   string    `json:"accountName"`
	AccountNumber string    `json:"accountNumber"`
	BankCode      string    `json:"bankCode"`
	RecipientCode string    `json:"-"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Store persists withdrawals and bank accounts.
type Store interface {
	CreateWithdrawal(ctx context.Context, w *Withdrawal) error
	GetWithdrawal(ctx context.Context, id string) (*Withdrawal, error)
	UpdateWithdrawal(ctx context.Context, w *Withdrawal) error
	ByMusician(ctx context.Context, musicianID string, limit int) ([]*Withdrawal, error)
	ByTransferReference(ctx context.Context, reference string) (*Withdrawal, error)

	CreateBankAccount(ctx context.Context, a *BankAccount) error
	GetBankAccount(ctx context.Context, id string) (*BankAccount, error)
	BankAccountsByMusician(ctx context.Context, musicianID string) ([]*BankAccount, error)
	SetRecipientCode(ctx context.Context, id, code string) error
}

// Gateway is the payout provider surface the engine uses.
type Gateway interface {
	CreateRecipient(ctx context.Context, acct payout.BankAccount) (string, error)
	Transfer(ctx context.Context, amount, recipientCode, reference, reason string) (*payout.Transfer, error)
}

// LedgerOps is the subset of ledger operations the engine uses.
type LedgerOps interface {
	GetWallet(ctx context.Context, musicianID string) (*ledger.Wallet, error)
	Reserve(ctx context.Context, musicianID, amount, reference string) error
	ConfirmReservation(ctx context.Context, musicianID, amount, reference string) error
	ReleaseReservation(ctx context.Context, musicianID, amount, reference string) error
}

// Notifier delivers best-effort user notifications.
type Notifier interface {
	Send(ctx context.Context, userID, notifType, title, message string, data map[string]string)
}

// Service is the withdrawal engine.
type Service struct {
	store    Store
	ledger   LedgerOps
	gateway  Gateway
	notifier Notifier

	// now is swappable for tests that pin transfer references.
	now func() time.Time
}

// NewService creates a withdrawal service.
func NewService(store Store, l LedgerOps, g Gateway, n Notifier) *Service {
	return &Service{store: store, ledger: l, gateway: g, notifier: n, now: time.Now}
}

// Create records a pending withdrawal request.
func (s *Service) Create(ctx context.Context, musicianID, amount, bankAccountID string) (*Withdrawal, error) {
	if !money.IsPositive(amount) {
		return nil, ErrInvalidAmount
	}

	acct, err := s.store.GetBankAccount(ctx, bankAccountID)
	if err != nil {
		return nil, err
	}
	if acct.MusicianID != musicianID {
		return nil, ErrBankAccountNotFound
	}

	now := s.now()
	w := &Withdrawal{
		ID:            newID(),
		MusicianID:    musicianID,
		BankAccountID: bankAccountID,
		Amount:        amount,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateWithdrawal(ctx, w); err != nil {
		return nil, err
	}
	metrics.WithdrawalsTotal.WithLabelValues(StatusPending).Inc()
	return w, nil
}

// Initiate executes a pending withdrawal against the payout provider.
//
// The wallet is only touched after the provider accepts the transfer; any
// failure before that leaves the balance exactly as it was.
func (s *Service) Initiate(ctx context.Context, withdrawalID, musicianID string) (*Withdrawal, error) {
	ctx, span := traces.StartSpan(ctx, "withdrawal.initiate",
		traces.WithdrawalID(withdrawalID),
		traces.MusicianID(musicianID),
	)
	defer span.End()

	w, err := s.store.GetWithdrawal(ctx, withdrawalID)
	if err != nil {
		return nil, err
	}
	if w.MusicianID != musicianID {
		// Do not reveal other musicians' withdrawals
		return nil, ErrNotFound
	}
	if w.Status != StatusPending {
		return nil, fmt.Errorf("%w: status is %s", ErrInvalidState, w.Status)
	}

	wallet, err := s.ledger.GetWallet(ctx, musicianID)
	if err != nil {
		return nil, err
	}
	available, okAvail := money.Parse(wallet.AvailableBalance)
	amount, okAmount := money.Parse(w.Amount)
	if !okAvail || !okAmount {
		return nil, ErrInvalidAmount
	}
	if available.Cmp(amount) < 0 {
		// An unfundable request is dead, not retriable
		s.markFailed(ctx, w, "insufficient available balance")
		return w, ErrInsufficientFunds
	}

	if err := s.transition(ctx, w, StatusProcessing); err != nil {
		return nil, err
	}
	s.notifyStatus(ctx, w, "Your withdrawal is being processed.")

	acct, err := s.store.GetBankAccount(ctx, w.BankAccountID)
	if err != nil {
		s.markFailed(ctx, w, "bank account unavailable")
		return w, err
	}

	recipient, err := s.resolveRecipient(ctx, acct)
	if err != nil {
		s.markFailed(ctx, w, "recipient could not be resolved")
		s.notifyStatus(ctx, w, "Your withdrawal failed. Please verify your bank details.")
		return w, err
	}

	// The withdrawal id inside the reference is the provider-side
	// idempotency key; it also routes settlement webhooks back here.
	w.TransferRef = fmt.Sprintf("%s-%d", w.ID, s.now().Unix())
	w.UpdatedAt = s.now()
	if err := s.store.UpdateWithdrawal(ctx, w); err != nil {
		s.markFailed(ctx, w, "could not persist transfer reference")
		return w, err
	}

	transfer, err := s.gateway.Transfer(ctx, w.Amount, recipient, w.TransferRef, "AmplyGigs payout")
	if err != nil {
		metrics.PayoutRequestsTotal.WithLabelValues("transfer", "error").Inc()
		s.markFailed(ctx, w, err.Error())
		s.notifyStatus(ctx, w, "Your withdrawal failed and no funds were moved.")
		return w, err
	}
	metrics.PayoutRequestsTotal.WithLabelValues("transfer", "ok").Inc()

	w.TransferCode = transfer.Code
	w.UpdatedAt = s.now()
	if err := s.store.UpdateWithdrawal(ctx, w); err != nil {
		logging.L(ctx).Error("transfer accepted but withdrawal update failed",
			"withdrawal_id", w.ID, "transfer_code", transfer.Code, "error", err)
	}

	// Funds leave available only now that the provider holds the transfer.
	if err := retry.Do(ctx, 3, 200*time.Millisecond, func() error {
		return s.ledger.Reserve(ctx, musicianID, w.Amount, w.TransferRef)
	}); err != nil {
		// The transfer is in flight; reconciliation owns this gap.
		logging.L(ctx).Error("reservation failed after transfer accepted",
			"withdrawal_id", w.ID, "reference", w.TransferRef, "error", err)
	}

	return w, nil
}

// Complete settles a processing withdrawal after the provider confirms the
// transfer. Idempotent: settling a completed withdrawal is a no-op.
func (s *Service) Complete(ctx context.Context, reference string) error {
	w, err := s.store.ByTransferReference(ctx, reference)
	if err != nil {
		return err
	}
	if w.Status == StatusCompleted {
		return nil
	}
	if w.Status != StatusProcessing {
		return fmt.Errorf("%w: status is %s", ErrInvalidState, w.Status)
	}

	now := s.now()
	w.CompletedAt = &now
	if err := s.transition(ctx, w, StatusCompleted); err != nil {
		return err
	}

	if err := s.ledger.ConfirmReservation(ctx, w.MusicianID, w.Amount, reference); err != nil {
		logging.L(ctx).Error("reservation settle failed",
			"withdrawal_id", w.ID, "reference", reference, "error", err)
	}
	s.notifyStatus(ctx, w, fmt.Sprintf("Your withdrawal of %s has been paid out.", w.Amount))
	return nil
}

// FailSettlement returns reserved funds after the provider reports the
// transfer failed or was reversed. Idempotent for already-failed records.
func (s *Service) FailSettlement(ctx context.Context, reference, reason string) error {
	w, err := s.store.ByTransferReference(ctx, reference)
	if err != nil {
		return err
	}
	if w.Status == StatusFailed {
		return nil
	}
	if w.Status != StatusProcessing {
		return fmt.Errorf("%w: status is %s", ErrInvalidState, w.Status)
	}

	w.FailureReason = reason
	if err := s.transition(ctx, w, StatusFailed); err != nil {
		return err
	}

	if err := s.ledger.ReleaseReservation(ctx, w.MusicianID, w.Amount, reference); err != nil {
		logging.L(ctx).Error("reservation release failed",
			"withdrawal_id", w.ID, "reference", reference, "error", err)
	}
	s.notifyStatus(ctx, w, "Your withdrawal could not be paid out. The funds are back in your balance.")
	return nil
}

// Get returns a withdrawal by id.
func (s *Service) Get(ctx context.Context, id string) (*Withdrawal, error) {
	return s.store.GetWithdrawal(ctx, id)
}

// ListByMusician returns a musician's withdrawals, newest first.
func (s *Service) ListByMusician(ctx context.Context, musicianID string, limit int) ([]*Withdrawal, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ByMusician(ctx, musicianID, limit)
}

// RegisterBankAccount stores a payout destination.
func (s *Service) RegisterBankAccount(ctx context.Context, musicianID, accountName, accountNumber, bankCode string) (*BankAccount, error) {
	a := &BankAccount{
		ID:            newBankAccountID(),
		MusicianID:    musicianID,
		AccountName:   accountName,
		AccountNumber: accountNumber,
		BankCode:      bankCode,
		CreatedAt:     s.now(),
	}
	if err := s.store.CreateBankAccount(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// ListBankAccounts returns a musician's registered payout destinations.
func (s *Service) ListBankAccounts(ctx context.Context, musicianID string) ([]*BankAccount, error) {
	return s.store.BankAccountsByMusician(ctx, musicianID)
}

// resolveRecipient returns the memoized provider recipient code, creating
// it on first use.
func (s *Service) resolveRecipient(ctx context.Context, acct *BankAccount) (string, error) {
	if acct.RecipientCode != "" {
		return acct.RecipientCode, nil
	}

	code, err := s.gateway.CreateRecipient(ctx, payout.BankAccount{
		AccountName:   acct.AccountName,
		AccountNumber: acct.AccountNumber,
		BankCode:      acct.BankCode,
	})
	if err != nil {
		metrics.PayoutRequestsTotal.WithLabelValues("create_recipient", "error").Inc()
		return "", err
	}
	metrics.PayoutRequestsTotal.WithLabelValues("create_recipient", "ok").Inc()

	if err := s.store.SetRecipientCode(ctx, acct.ID, code); err != nil {
		// Memoization failed; the code still works for this transfer
		logging.L(ctx).Warn("recipient code not memoized",
			"bank_account_id", acct.ID, "error", err)
	}
	acct.RecipientCode = code
	return code, nil
}

// transition moves a withdrawal to the next state and persists it.
func (s *Service) transition(ctx context.Context, w *Withdrawal, next string) error {
	if !validTransition(w.Status, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, w.Status, next)
	}
	w.Status = next
	w.UpdatedAt = s.now()
	if err := s.store.UpdateWithdrawal(ctx, w); err != nil {
		return err
	}
	metrics.WithdrawalsTotal.WithLabelValues(next).Inc()
	return nil
}

// markFailed is the internal failure transition; it never touches the wallet.
func (s *Service) markFailed(ctx context.Context, w *Withdrawal, reason string) {
	w.FailureReason = reason
	if err := s.transition(ctx, w, StatusFailed); err != nil {
		logging.L(ctx).Error("failed-state transition did not persist",
			"withdrawal_id", w.ID, "error", err)
	}
}

func (s *Service) notifyStatus(ctx context.Context, w *Withdrawal, message string) {
	s.notifier.Send(ctx, w.MusicianID, notify.TypeWithdrawalUpdate,
		"Withdrawal update", message, map[string]string{
			"withdrawalId": w.ID,
			"status":       w.Status,
			"amount":       w.Amount,
		})
}

func newID() string            { return idgen.WithPrefix("wd") }
func newBankAccountID() string { return idgen.WithPrefix("ba") }

// validTransition enforces the state machine: forward-only, terminal states
// immutable, no skipping.
func validTransition(from, to string) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}
