package escrow

import (
	"context"
	"errors"
	"testing"

	"github.com/amplygigs/payments/internal/ledger"
	"github.com/amplygigs/payments/internal/paygate"
)

type fakeNotifier struct {
	sent []string
}

func (f *fakeNotifier) Send(ctx context.Context, userID, notifType, title, message string, data map[string]string) {
	f.sent = append(f.sent, notifType)
}

// brokenLedger fails the credit path; failure-annotation behavior is
// configurable to exercise the ack asymmetry.
type brokenLedger struct {
	ledger.Store
	failAnnotation bool
	annotated      []string
}

func (b *brokenLedger) CreditEscrow(ctx context.Context, p ledger.CreditEscrowParams) (*ledger.EscrowEntry, error) {
	return nil, errors.New("wallet write failed")
}

func (b *brokenLedger) MarkEscrowFailed(ctx context.Context, p ledger.FailedCreditParams) error {
	if b.failAnnotation {
		return errors.New("annotation write failed")
	}
	b.annotated = append(b.annotated, p.Reference)
	return nil
}

func chargeEvent(ref string) *paygate.PaymentEvent {
	return &paygate.PaymentEvent{
		Provider:   paygate.ProviderPaystack,
		Kind:       paygate.KindChargeSuccess,
		Reference:  ref,
		BookingID:  "booking-1",
		MusicianID: "musician-1",
		Gross:      "10000.00",
		Channel:    "card",
	}
}

func newTestService() (*Service, *ledger.MemoryStore, *fakeNotifier) {
	store := ledger.NewMemoryStore()
	notifier := &fakeNotifier{}
	return NewService(store, notifier, 15), store, notifier
}

func TestCredit_HappyPath(t *testing.T) {
	svc, store, notifier := newTestService()
	ctx := context.Background()

	entry, err := svc.Credit(ctx, chargeEvent("PSK_happy"))
	if err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if entry.Status != ledger.EscrowHeld {
		t.Errorf("expected held entry, got %s", entry.Status)
	}
	if entry.Fee != "1500.00" || entry.Net != "8500.00" {
		t.Errorf("unexpected fee split: fee=%s net=%s", entry.Fee, entry.Net)
	}

	w, _ := store.GetWallet(ctx, "musician-1")
	if w.LedgerBalance != "8500.00" {
		t.Errorf("expected held balance 8500.00, got %s", w.LedgerBalance)
	}
	if w.AvailableBalance != "0.00" {
		t.Errorf("held funds must not be withdrawable, got available %s", w.AvailableBalance)
	}

	if len(notifier.sent) != 1 || notifier.sent[0] != "payment_received" {
		t.Errorf("expected payment_received notification, got %v", notifier.sent)
	}
}

func TestCredit_DuplicateIsSuccessNoOp(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	first, err := svc.Credit(ctx, chargeEvent("PSK_dup"))
	if err != nil {
		t.Fatalf("first credit failed: %v", err)
	}

	second, err := svc.Credit(ctx, chargeEvent("PSK_dup"))
	if err != nil {
		t.Fatalf("replay must succeed, got %v", err)
	}
	if second == nil || second.ID != first.ID {
		t.Errorf("replay should return the original entry, got %+v", second)
	}

	w, _ := store.GetWallet(ctx, "musician-1")
	if w.LedgerBalance != "8500.00" {
		t.Errorf("replay must not move money twice, got %s", w.LedgerBalance)
	}
}

func TestCredit_MissingMetadataRecordedForReconciliation(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	ev := chargeEvent("PSK_nometa")
	ev.MusicianID = ""
	ev.BookingID = ""

	entry, err := svc.Credit(ctx, ev)
	if err != nil {
		t.Fatalf("expected durable annotation, got %v", err)
	}
	if entry != nil {
		t.Errorf("expected no escrow entry, got %+v", entry)
	}

	tx, err := store.TransactionByReference(ctx, "PSK_nometa")
	if err != nil {
		t.Fatalf("expected transaction recorded: %v", err)
	}
	if tx.EscrowStatus != ledger.EscrowFailed {
		t.Errorf("expected failed escrow annotation, got %s", tx.EscrowStatus)
	}
}

func TestCredit_StoreFailureStillAcksWhenAnnotated(t *testing.T) {
	broken := &brokenLedger{}
	svc := NewService(broken, &fakeNotifier{}, 15)

	entry, err := svc.Credit(context.Background(), chargeEvent("PSK_broken"))
	if err != nil {
		t.Fatalf("expected nil error once annotation landed, got %v", err)
	}
	if entry != nil {
		t.Errorf("expected no entry, got %+v", entry)
	}
	if len(broken.annotated) == 0 || broken.annotated[0] != "PSK_broken" {
		t.Errorf("expected failure annotation for reference, got %v", broken.annotated)
	}
}

func TestCredit_NothingDurableIsAnError(t *testing.T) {
	broken := &brokenLedger{failAnnotation: true}
	svc := NewService(broken, &fakeNotifier{}, 15)

	_, err := svc.Credit(context.Background(), chargeEvent("PSK_dark"))
	if err == nil {
		t.Fatal("expected error when neither credit nor annotation landed")
	}
}

func TestRelease_MovesFundsAndNotifies(t *testing.T) {
	svc, store, notifier := newTestService()
	ctx := context.Background()

	entry, _ := svc.Credit(ctx, chargeEvent("PSK_rel"))

	released, err := svc.Release(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if released.Status != ledger.EscrowReleased {
		t.Errorf("expected released, got %s", released.Status)
	}

	w, _ := store.GetWallet(ctx, "musician-1")
	if w.AvailableBalance != "8500.00" || w.LedgerBalance != "0.00" {
		t.Errorf("unexpected balances: available=%s ledger=%s", w.AvailableBalance, w.LedgerBalance)
	}

	if len(notifier.sent) != 2 || notifier.sent[1] != "escrow_released" {
		t.Errorf("expected escrow_released notification, got %v", notifier.sent)
	}
}

func TestRelease_DoubleReleaseRejected(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	entry, _ := svc.Credit(ctx, chargeEvent("PSK_dbl"))
	if _, err := svc.Release(ctx, entry.ID); err != nil {
		t.Fatalf("first release failed: %v", err)
	}
	if _, err := svc.Release(ctx, entry.ID); !errors.Is(err, ledger.ErrEscrowNotHeld) {
		t.Errorf("expected ErrEscrowNotHeld, got %v", err)
	}

	w, _ := store.GetWallet(ctx, "musician-1")
	if w.AvailableBalance != "8500.00" {
		t.Errorf("double release must not double funds, got %s", w.AvailableBalance)
	}
}

func TestCredit_WrongKindRejected(t *testing.T) {
	svc, _, _ := newTestService()

	ev := chargeEvent("PSK_kind")
	ev.Kind = paygate.KindTransferSuccess
	if _, err := svc.Credit(context.Background(), ev); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("expected ErrInvalidEvent, got %v", err)
	}
}
