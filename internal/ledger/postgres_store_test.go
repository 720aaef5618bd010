package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/amplygigs/payments/internal/testutil"
)

func TestPostgresStore_CreditAndRelease(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	entry, err := store.CreditEscrow(ctx, creditParams("PSK_pg_1"))
	if err != nil {
		t.Fatalf("CreditEscrow failed: %v", err)
	}

	// Replay must not double-credit
	if _, err := store.CreditEscrow(ctx, creditParams("PSK_pg_1")); !errors.Is(err, ErrDuplicateReference) {
		t.Errorf("expected ErrDuplicateReference on replay, got %v", err)
	}

	w, err := store.GetWallet(ctx, "musician-1")
	if err != nil {
		t.Fatalf("GetWallet failed: %v", err)
	}
	if w.LedgerBalance != "8500.00" {
		t.Errorf("expected ledger balance 8500.00, got %s", w.LedgerBalance)
	}

	released, err := store.ReleaseEscrow(ctx, entry.ID)
	if err != nil {
		t.Fatalf("ReleaseEscrow failed: %v", err)
	}
	if released.Status != EscrowReleased {
		t.Errorf("expected released, got %s", released.Status)
	}
	if _, err := store.ReleaseEscrow(ctx, entry.ID); !errors.Is(err, ErrEscrowNotHeld) {
		t.Errorf("expected ErrEscrowNotHeld on double release, got %v", err)
	}

	w, _ = store.GetWallet(ctx, "musician-1")
	if w.AvailableBalance != "8500.00" || w.LedgerBalance != "0.00" {
		t.Errorf("unexpected balances after release: available=%s ledger=%s",
			w.AvailableBalance, w.LedgerBalance)
	}
}

func TestPostgresStore_ReservationLifecycle(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	entry, err := store.CreditEscrow(ctx, creditParams("PSK_pg_res"))
	if err != nil {
		t.Fatalf("CreditEscrow failed: %v", err)
	}
	if _, err := store.ReleaseEscrow(ctx, entry.ID); err != nil {
		t.Fatalf("ReleaseEscrow failed: %v", err)
	}

	// The CHECK constraint rejects an over-reservation
	if err := store.Reserve(ctx, "musician-1", "9999.00", "wd_pg_big"); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}

	if err := store.Reserve(ctx, "musician-1", "5000.00", "wd_pg_1"); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if err := store.ConfirmReservation(ctx, "musician-1", "5000.00", "wd_pg_1"); err != nil {
		t.Fatalf("ConfirmReservation failed: %v", err)
	}

	w, _ := store.GetWallet(ctx, "musician-1")
	if w.AvailableBalance != "3500.00" {
		t.Errorf("expected available 3500.00, got %s", w.AvailableBalance)
	}
	if w.PendingWithdrawals != "0.00" {
		t.Errorf("expected pending 0.00, got %s", w.PendingWithdrawals)
	}
	if w.TotalWithdrawn != "5000.00" {
		t.Errorf("expected total withdrawn 5000.00, got %s", w.TotalWithdrawn)
	}
}

func TestPostgresStore_MarkEscrowFailed(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	err := store.MarkEscrowFailed(ctx, FailedCreditParams{
		MusicianID: "musician-1",
		BookingID:  "booking-1",
		Gross:      "10000.00",
		Reference:  "PSK_pg_fail",
		Provider:   "paystack",
	})
	if err != nil {
		t.Fatalf("MarkEscrowFailed failed: %v", err)
	}

	tx, err := store.TransactionByReference(ctx, "PSK_pg_fail")
	if err != nil {
		t.Fatalf("TransactionByReference failed: %v", err)
	}
	if tx.Status != TxSuccessful || tx.EscrowStatus != EscrowFailed {
		t.Errorf("unexpected annotation: status=%s escrow_status=%s", tx.Status, tx.EscrowStatus)
	}

	failed, err := store.EscrowEntriesByStatus(ctx, EscrowFailed, 10)
	if err != nil {
		t.Fatalf("EscrowEntriesByStatus failed: %v", err)
	}
	if len(failed) != 1 {
		t.Errorf("expected 1 failed credit, got %d", len(failed))
	}
}
