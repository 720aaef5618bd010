package reconciliation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amplygigs/payments/internal/ledger"
)

type fakeLedger struct {
	stuck []*ledger.Transaction
	err   error
}

func (f *fakeLedger) FailedCredits(ctx context.Context, limit int) ([]*ledger.Transaction, error) {
	return f.stuck, f.err
}

type fakeNotifier struct {
	sent []string
}

func (f *fakeNotifier) Send(ctx context.Context, userID, notifType, title, message string, data map[string]string) {
	f.sent = append(f.sent, data["reference"])
}

func stuckTx(ref, musicianID string) *ledger.Transaction {
	return &ledger.Transaction{
		Reference:    ref,
		MusicianID:   musicianID,
		Amount:       "10000.00",
		EscrowStatus: ledger.EscrowFailed,
		CreatedAt:    time.Now().Add(-time.Hour),
	}
}

func TestSweep_AlertsOncePerReference(t *testing.T) {
	l := &fakeLedger{stuck: []*ledger.Transaction{
		stuckTx("PSK_stuck_1", "musician-1"),
		stuckTx("PSK_stuck_2", "musician-2"),
	}}
	n := &fakeNotifier{}
	w := NewWorker(l, n, time.Minute)

	count, err := w.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if count != 2 || len(n.sent) != 2 {
		t.Errorf("expected 2 alerts, got count=%d sent=%v", count, n.sent)
	}

	// Second sweep sees the same backlog but stays quiet
	if _, err := w.Sweep(context.Background()); err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if len(n.sent) != 2 {
		t.Errorf("expected no duplicate alerts, got %v", n.sent)
	}
}

func TestSweep_SkipsUnattributedNotifications(t *testing.T) {
	l := &fakeLedger{stuck: []*ledger.Transaction{stuckTx("PSK_anon", "")}}
	n := &fakeNotifier{}
	w := NewWorker(l, n, time.Minute)

	count, err := w.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if count != 1 {
		t.Errorf("unattributed payment still counts in backlog, got %d", count)
	}
	if len(n.sent) != 0 {
		t.Errorf("no musician to notify, got %v", n.sent)
	}
}

func TestSweep_PropagatesLedgerError(t *testing.T) {
	l := &fakeLedger{err: errors.New("db down")}
	w := NewWorker(l, &fakeNotifier{}, time.Minute)

	if _, err := w.Sweep(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
