// Package reconciliation watches for provider-confirmed payments whose
// escrow credit never landed and surfaces them for manual follow-up.
package reconciliation

import (
	"context"
	"time"

	"github.com/amplygigs/payments/internal/ledger"
	"github.com/amplygigs/payments/internal/logging"
	"github.com/amplygigs/payments/internal/metrics"
	"github.com/amplygigs/payments/internal/notify"
)

// LedgerOps is the ledger surface the worker scans.
type LedgerOps interface {
	FailedCredits(ctx context.Context, limit int) ([]*ledger.Transaction, error)
}

// Notifier delivers best-effort notifications.
type Notifier interface {
	Send(ctx context.Context, userID, notifType, title, message string, data map[string]string)
}

// Worker periodically sweeps the failed-credit queue.
type Worker struct {
	ledger   LedgerOps
	notifier Notifier
	interval time.Duration
	limit    int

	// alerted tracks references already surfaced so a stuck payment is not
	// re-announced every sweep. Reset on restart, which is acceptable: a
	// repeated alert after a deploy beats a silent backlog.
	alerted map[string]bool
}

// NewWorker creates a reconciliation worker sweeping at the given interval.
func NewWorker(l LedgerOps, n Notifier, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Worker{
		ledger:   l,
		notifier: n,
		interval: interval,
		limit:    100,
		alerted:  make(map[string]bool),
	}
}

// Run sweeps until ctx is done. Call in a goroutine.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil {
				logging.L(ctx).Error("reconciliation sweep failed", "error", err)
			}
		}
	}
}

// Sweep scans the failed-credit queue once and returns the backlog size.
func (w *Worker) Sweep(ctx context.Context) (int, error) {
	stuck, err := w.ledger.FailedCredits(ctx, w.limit)
	if err != nil {
		return 0, err
	}
	metrics.ReconciliationBacklog.Set(float64(len(stuck)))

	for _, tx := range stuck {
		if w.alerted[tx.Reference] {
			continue
		}
		w.alerted[tx.Reference] = true

		logging.L(ctx).Error("payment awaiting reconciliation",
			"reference", tx.Reference,
			"musician_id", tx.MusicianID,
			"amount", tx.Amount,
			"provider", tx.Provider,
			"age", time.Since(tx.CreatedAt).Round(time.Second).String(),
		)

		if tx.MusicianID == "" {
			continue
		}
		w.notifier.Send(ctx, tx.MusicianID, notify.TypeReconciliationAlert,
			"Payment needs attention",
			"A payment for one of your bookings was received but could not be credited automatically. Our team is on it.",
			map[string]string{
				"reference": tx.Reference,
				"amount":    tx.Amount,
			})
	}
	return len(stuck), nil
}
