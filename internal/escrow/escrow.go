// Package escrow credits verified payments into held balances and releases
// them when bookings complete.
//
// Crediting is idempotent by the provider's payment reference: a webhook may
// be delivered any number of times, the wallet moves once.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amplygigs/payments/internal/ledger"
	"github.com/amplygigs/payments/internal/logging"
	"github.com/amplygigs/payments/internal/metrics"
	"github.com/amplygigs/payments/internal/money"
	"github.com/amplygigs/payments/internal/notify"
	"github.com/amplygigs/payments/internal/paygate"
	"github.com/amplygigs/payments/internal/retry"
	"github.com/amplygigs/payments/internal/traces"
)

var (
	ErrInvalidEvent = errors.New("payment event is not creditable")

	// ErrSettlementUnknown marks a payout settlement event whose reference
	// matches no withdrawal here. The webhook still acks it.
	ErrSettlementUnknown = errors.New("no withdrawal for transfer reference")
)

// LedgerOps is the subset of ledger operations the escrow engine uses.
type LedgerOps interface {
	CreditEscrow(ctx context.Context, p ledger.CreditEscrowParams) (*ledger.EscrowEntry, error)
	MarkEscrowFailed(ctx context.Context, p ledger.FailedCreditParams) error
	ReleaseEscrow(ctx context.Context, entryID string) (*ledger.EscrowEntry, error)
	TransactionByReference(ctx context.Context, reference string) (*ledger.Transaction, error)
	EscrowEntryByID(ctx context.Context, id string) (*ledger.EscrowEntry, error)
	EscrowEntryByReference(ctx context.Context, reference string) (*ledger.EscrowEntry, error)
}

// Notifier delivers best-effort user notifications.
type Notifier interface {
	Send(ctx context.Context, userID, notifType, title, message string, data map[string]string)
}

// Service is the escrow engine.
type Service struct {
	ledger     LedgerOps
	notifier   Notifier
	feePercent int
}

// NewService creates an escrow service. feePercent is the platform's cut of
// each gross payment.
func NewService(l LedgerOps, n Notifier, feePercent int) *Service {
	return &Service{ledger: l, notifier: n, feePercent: feePercent}
}

// Credit processes a verified charge event.
//
// Replayed references are a success no-op returning the original entry. When
// the atomic credit fails, the payment is still durably recorded with a
// failed escrow annotation; only if that write also fails does Credit return
// an error, so the webhook caller keeps the provider retrying.
func (s *Service) Credit(ctx context.Context, event *paygate.PaymentEvent) (*ledger.EscrowEntry, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.credit",
		traces.Reference(event.Reference),
		traces.Amount(event.Gross),
		traces.Provider(event.Provider),
	)
	defer span.End()

	if event.Kind != paygate.KindChargeSuccess || event.Reference == "" {
		return nil, ErrInvalidEvent
	}

	// A charge we cannot attribute still happened at the provider. Record it
	// for manual reconciliation instead of dropping it.
	if event.MusicianID == "" || event.BookingID == "" {
		logging.L(ctx).Warn("charge missing booking metadata, recording for reconciliation",
			"reference", event.Reference, "provider", event.Provider)
		metrics.EscrowCreditsTotal.WithLabelValues("unattributed").Inc()
		return nil, s.recordFailed(ctx, event, "missing booking metadata")
	}

	fee, net, ok := money.Fee(event.Gross, s.feePercent)
	if !ok {
		return nil, fmt.Errorf("%w: bad gross amount %q", ErrInvalidEvent, event.Gross)
	}

	entry, err := s.ledger.CreditEscrow(ctx, ledger.CreditEscrowParams{
		MusicianID: event.MusicianID,
		BookingID:  event.BookingID,
		Gross:      event.Gross,
		Fee:        fee,
		Net:        net,
		Reference:  event.Reference,
		Provider:   event.Provider,
		Channel:    event.Channel,
	})
	if errors.Is(err, ledger.ErrDuplicateReference) {
		// Success no-op: the first delivery already moved the money.
		metrics.EscrowCreditsTotal.WithLabelValues("duplicate").Inc()
		existing, lookupErr := s.ledger.EscrowEntryByReference(ctx, event.Reference)
		if lookupErr != nil {
			// Reference seen but no entry: an earlier delivery landed on the
			// reconciliation path. Nothing more to do here.
			return nil, nil
		}
		return existing, nil
	}
	if err != nil {
		logging.L(ctx).Error("escrow credit failed",
			"reference", event.Reference, "musician_id", event.MusicianID, "error", err)
		metrics.EscrowCreditsTotal.WithLabelValues("error").Inc()
		return nil, s.recordFailed(ctx, event, err.Error())
	}

	metrics.EscrowCreditsTotal.WithLabelValues("ok").Inc()
	s.notifier.Send(ctx, event.MusicianID, notify.TypePaymentReceived,
		"Payment received",
		fmt.Sprintf("A booking payment of %s has been received. %s will be released after the gig.", event.Gross, net),
		map[string]string{
			"bookingId": event.BookingID,
			"escrowId":  entry.ID,
			"net":       net,
		})
	return entry, nil
}

// recordFailed durably annotates the payment so reconciliation finds it.
// The ack to the provider depends on this write landing, so it is retried.
func (s *Service) recordFailed(ctx context.Context, event *paygate.PaymentEvent, reason string) error {
	return retry.Do(ctx, 3, 200*time.Millisecond, func() error {
		return s.ledger.MarkEscrowFailed(ctx, ledger.FailedCreditParams{
			MusicianID: event.MusicianID,
			BookingID:  event.BookingID,
			Gross:      event.Gross,
			Reference:  event.Reference,
			Provider:   event.Provider,
			Reason:     reason,
		})
	})
}

// Release moves a held entry's net amount to the musician's available balance.
func (s *Service) Release(ctx context.Context, entryID string) (*ledger.EscrowEntry, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.release", traces.EscrowID(entryID))
	defer span.End()

	entry, err := s.ledger.ReleaseEscrow(ctx, entryID)
	if err != nil {
		return nil, err
	}

	metrics.EscrowReleasedTotal.Inc()
	s.notifier.Send(ctx, entry.MusicianID, notify.TypeEscrowReleased,
		"Funds released",
		fmt.Sprintf("%s from your booking is now available for withdrawal.", entry.Net),
		map[string]string{
			"bookingId": entry.BookingID,
			"escrowId":  entry.ID,
		})
	return entry, nil
}

// Get returns an escrow entry by id.
func (s *Service) Get(ctx context.Context, entryID string) (*ledger.EscrowEntry, error) {
	return s.ledger.EscrowEntryByID(ctx, entryID)
}
