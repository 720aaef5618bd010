package ledger

import (
	"context"
	"errors"
	"testing"
)

func creditParams(ref string) CreditEscrowParams {
	return CreditEscrowParams{
		MusicianID: "musician-1",
		BookingID:  "booking-1",
		Gross:      "10000.00",
		Fee:        "1500.00",
		Net:        "8500.00",
		Reference:  ref,
		Provider:   "paystack",
		Channel:    "card",
	}
}

func TestCreditEscrow_CreditsHeldBalance(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	entry, err := l.CreditEscrow(ctx, creditParams("PSK_ref_1"))
	if err != nil {
		t.Fatalf("CreditEscrow failed: %v", err)
	}
	if entry.Status != EscrowHeld {
		t.Errorf("expected held entry, got %s", entry.Status)
	}
	if entry.Net != "8500.00" {
		t.Errorf("expected net 8500.00, got %s", entry.Net)
	}

	w, err := l.Wallet(ctx, "musician-1")
	if err != nil {
		t.Fatalf("Wallet failed: %v", err)
	}
	if w.LedgerBalance != "8500.00" {
		t.Errorf("expected ledger balance 8500.00, got %s", w.LedgerBalance)
	}
	if w.AvailableBalance != "0.00" {
		t.Errorf("expected available 0.00, got %s", w.AvailableBalance)
	}
	if w.TotalEarned != "8500.00" {
		t.Errorf("expected total earned 8500.00, got %s", w.TotalEarned)
	}
}

func TestCreditEscrow_DuplicateReference(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	if _, err := l.CreditEscrow(ctx, creditParams("PSK_ref_dup")); err != nil {
		t.Fatalf("first credit failed: %v", err)
	}
	_, err := l.CreditEscrow(ctx, creditParams("PSK_ref_dup"))
	if !errors.Is(err, ErrDuplicateReference) {
		t.Errorf("expected ErrDuplicateReference, got %v", err)
	}

	// Balance must not have moved twice
	w, _ := l.Wallet(ctx, "musician-1")
	if w.LedgerBalance != "8500.00" {
		t.Errorf("expected ledger balance 8500.00 after replay, got %s", w.LedgerBalance)
	}
}

func TestCreditEscrow_InvalidAmount(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	p := creditParams("PSK_bad")
	p.Net = "-5.00"
	if _, err := l.CreditEscrow(ctx, p); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for negative net, got %v", err)
	}

	p = creditParams("PSK_bad2")
	p.Gross = "not-a-number"
	if _, err := l.CreditEscrow(ctx, p); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for malformed gross, got %v", err)
	}
}

func TestReleaseEscrow_MovesHeldToAvailable(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	entry, err := l.CreditEscrow(ctx, creditParams("PSK_ref_rel"))
	if err != nil {
		t.Fatalf("CreditEscrow failed: %v", err)
	}

	released, err := l.ReleaseEscrow(ctx, entry.ID)
	if err != nil {
		t.Fatalf("ReleaseEscrow failed: %v", err)
	}
	if released.Status != EscrowReleased {
		t.Errorf("expected released status, got %s", released.Status)
	}
	if released.ReleasedAt == nil {
		t.Error("expected released timestamp")
	}

	w, _ := l.Wallet(ctx, "musician-1")
	if w.LedgerBalance != "0.00" {
		t.Errorf("expected ledger balance 0.00, got %s", w.LedgerBalance)
	}
	if w.AvailableBalance != "8500.00" {
		t.Errorf("expected available 8500.00, got %s", w.AvailableBalance)
	}
}

func TestReleaseEscrow_AlreadyReleased(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	entry, _ := l.CreditEscrow(ctx, creditParams("PSK_ref_twice"))
	if _, err := l.ReleaseEscrow(ctx, entry.ID); err != nil {
		t.Fatalf("first release failed: %v", err)
	}
	if _, err := l.ReleaseEscrow(ctx, entry.ID); !errors.Is(err, ErrEscrowNotHeld) {
		t.Errorf("expected ErrEscrowNotHeld on double release, got %v", err)
	}

	// Available must not double
	w, _ := l.Wallet(ctx, "musician-1")
	if w.AvailableBalance != "8500.00" {
		t.Errorf("expected available 8500.00, got %s", w.AvailableBalance)
	}
}

func TestReleaseEscrow_NotFound(t *testing.T) {
	l := New(NewMemoryStore())
	if _, err := l.ReleaseEscrow(context.Background(), "esc_missing"); !errors.Is(err, ErrEscrowNotFound) {
		t.Errorf("expected ErrEscrowNotFound, got %v", err)
	}
}

func TestReserve_MovesAvailableToPending(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	entry, _ := l.CreditEscrow(ctx, creditParams("PSK_ref_res"))
	if _, err := l.ReleaseEscrow(ctx, entry.ID); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	if err := l.Reserve(ctx, "musician-1", "5000.00", "wd_abc"); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	w, _ := l.Wallet(ctx, "musician-1")
	if w.AvailableBalance != "3500.00" {
		t.Errorf("expected available 3500.00, got %s", w.AvailableBalance)
	}
	if w.PendingWithdrawals != "5000.00" {
		t.Errorf("expected pending 5000.00, got %s", w.PendingWithdrawals)
	}
}

func TestReserve_InsufficientBalance(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	entry, _ := l.CreditEscrow(ctx, creditParams("PSK_ref_insuf"))
	if _, err := l.ReleaseEscrow(ctx, entry.ID); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	err := l.Reserve(ctx, "musician-1", "9000.00", "wd_big")
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}

	// Nothing moved
	w, _ := l.Wallet(ctx, "musician-1")
	if w.AvailableBalance != "8500.00" {
		t.Errorf("expected available 8500.00, got %s", w.AvailableBalance)
	}
	if w.PendingWithdrawals != "0.00" {
		t.Errorf("expected pending 0.00, got %s", w.PendingWithdrawals)
	}
}

func TestReserve_UnknownWallet(t *testing.T) {
	l := New(NewMemoryStore())
	err := l.Reserve(context.Background(), "musician-nobody", "10.00", "wd_x")
	if !errors.Is(err, ErrWalletNotFound) {
		t.Errorf("expected ErrWalletNotFound, got %v", err)
	}
}

func TestConfirmReservation_SettlesPayout(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	entry, _ := l.CreditEscrow(ctx, creditParams("PSK_ref_conf"))
	_, _ = l.ReleaseEscrow(ctx, entry.ID)
	_ = l.Reserve(ctx, "musician-1", "5000.00", "wd_conf")

	if err := l.ConfirmReservation(ctx, "musician-1", "5000.00", "wd_conf"); err != nil {
		t.Fatalf("ConfirmReservation failed: %v", err)
	}

	w, _ := l.Wallet(ctx, "musician-1")
	if w.PendingWithdrawals != "0.00" {
		t.Errorf("expected pending 0.00, got %s", w.PendingWithdrawals)
	}
	if w.TotalWithdrawn != "5000.00" {
		t.Errorf("expected total withdrawn 5000.00, got %s", w.TotalWithdrawn)
	}
	if w.AvailableBalance != "3500.00" {
		t.Errorf("expected available 3500.00, got %s", w.AvailableBalance)
	}
}

func TestReleaseReservation_ReturnsFunds(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	entry, _ := l.CreditEscrow(ctx, creditParams("PSK_ref_fail"))
	_, _ = l.ReleaseEscrow(ctx, entry.ID)
	_ = l.Reserve(ctx, "musician-1", "5000.00", "wd_fail")

	if err := l.ReleaseReservation(ctx, "musician-1", "5000.00", "wd_fail"); err != nil {
		t.Fatalf("ReleaseReservation failed: %v", err)
	}

	w, _ := l.Wallet(ctx, "musician-1")
	if w.PendingWithdrawals != "0.00" {
		t.Errorf("expected pending 0.00, got %s", w.PendingWithdrawals)
	}
	if w.AvailableBalance != "8500.00" {
		t.Errorf("expected available restored to 8500.00, got %s", w.AvailableBalance)
	}
	if w.TotalWithdrawn != "0.00" {
		t.Errorf("expected total withdrawn 0.00, got %s", w.TotalWithdrawn)
	}
}

func TestMarkEscrowFailed_AnnotatesTransaction(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	err := l.MarkEscrowFailed(ctx, FailedCreditParams{
		MusicianID: "musician-1",
		BookingID:  "booking-1",
		Gross:      "10000.00",
		Reference:  "PSK_ref_escfail",
		Provider:   "paystack",
		Reason:     "wallet write failed",
	})
	if err != nil {
		t.Fatalf("MarkEscrowFailed failed: %v", err)
	}

	tx, err := l.TransactionByReference(ctx, "PSK_ref_escfail")
	if err != nil {
		t.Fatalf("TransactionByReference failed: %v", err)
	}
	if tx.Status != TxSuccessful {
		t.Errorf("expected successful transaction, got %s", tx.Status)
	}
	if tx.EscrowStatus != EscrowFailed {
		t.Errorf("expected escrow_status failed, got %s", tx.EscrowStatus)
	}

	// Wallet untouched
	w, _ := l.Wallet(ctx, "musician-1")
	if w.LedgerBalance != "0.00" {
		t.Errorf("expected ledger balance 0.00, got %s", w.LedgerBalance)
	}

	failed, err := l.FailedCredits(ctx, 10)
	if err != nil {
		t.Fatalf("FailedCredits failed: %v", err)
	}
	if len(failed) != 1 || failed[0].Reference != "PSK_ref_escfail" {
		t.Errorf("expected the failed credit in reconciliation queue, got %v", failed)
	}
}

func TestHistory_ReturnsMovements(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	entry, _ := l.CreditEscrow(ctx, creditParams("PSK_ref_hist"))
	_, _ = l.ReleaseEscrow(ctx, entry.ID)
	_ = l.Reserve(ctx, "musician-1", "1000.00", "wd_hist")

	history, err := l.History(ctx, "musician-1", 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 movement entries, got %d", len(history))
	}
	// Newest first
	if history[0].Type != "reserve" {
		t.Errorf("expected newest entry reserve, got %s", history[0].Type)
	}
	if history[2].Type != "escrow_credit" {
		t.Errorf("expected oldest entry escrow_credit, got %s", history[2].Type)
	}
}
