package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/amplygigs/payments/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// isCheckViolation reports whether err is a CHECK constraint violation.
// The wallets table carries >= 0 CHECKs on every balance column, so a
// violation on a debit means the balance would have gone negative.
func isCheckViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23514"
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// GetWallet retrieves a musician's wallet, returning a zero wallet when absent.
func (p *PostgresStore) GetWallet(ctx context.Context, musicianID string) (*Wallet, error) {
	w := &Wallet{MusicianID: musicianID}

	err := p.db.QueryRowContext(ctx, `
		SELECT available, ledger, pending_withdrawals, total_earned, total_withdrawn, updated_at
		FROM wallets WHERE musician_id = $1
	`, musicianID).Scan(&w.AvailableBalance, &w.LedgerBalance, &w.PendingWithdrawals,
		&w.TotalEarned, &w.TotalWithdrawn, &w.UpdatedAt)

	if err == sql.ErrNoRows {
		return zeroWallet(musicianID), nil
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// CreditEscrow credits a verified payment in a single transaction: the
// transaction record, the booking paid flag, the escrow entry, the held
// balance increment, and the movement entry all land together or not at all.
func (p *PostgresStore) CreditEscrow(ctx context.Context, cp CreditEscrowParams) (*EscrowEntry, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()

	// Record the transaction. The unique index on reference is the
	// idempotency guard: a concurrent duplicate webhook loses here.
	result, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (id, musician_id, booking_id, type, amount, fee, net,
			reference, status, escrow_status, provider, channel, created_at)
		VALUES ($1, $2, $3, 'payment', $4::NUMERIC(20,2), $5::NUMERIC(20,2), $6::NUMERIC(20,2),
			$7, 'successful', 'credited', $8, $9, NOW())
		ON CONFLICT (reference) DO NOTHING
	`, idgen.WithPrefix("txn"), cp.MusicianID, cp.BookingID, cp.Gross, cp.Fee, cp.Net,
		cp.Reference, cp.Provider, cp.Channel)
	if err != nil {
		return nil, fmt.Errorf("failed to record transaction: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, ErrDuplicateReference
	}

	// Mark the booking paid
	_, err = tx.ExecContext(ctx, `
		INSERT INTO bookings (id, musician_id, paid, updated_at)
		VALUES ($1, $2, TRUE, NOW())
		ON CONFLICT (id) DO UPDATE SET paid = TRUE, updated_at = NOW()
	`, cp.BookingID, cp.MusicianID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark booking paid: %w", err)
	}

	// Create the held escrow entry
	entry := &EscrowEntry{
		ID:         idgen.WithPrefix("esc"),
		BookingID:  cp.BookingID,
		MusicianID: cp.MusicianID,
		Gross:      cp.Gross,
		Fee:        cp.Fee,
		Net:        cp.Net,
		Reference:  cp.Reference,
		Status:     EscrowHeld,
		CreatedAt:  now,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO escrow_entries (id, booking_id, musician_id, gross, fee, net,
			reference, status, created_at)
		VALUES ($1, $2, $3, $4::NUMERIC(20,2), $5::NUMERIC(20,2), $6::NUMERIC(20,2),
			$7, 'held', NOW())
	`, entry.ID, entry.BookingID, entry.MusicianID, entry.Gross, entry.Fee, entry.Net,
		entry.Reference)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateReference
		}
		return nil, fmt.Errorf("failed to create escrow entry: %w", err)
	}

	// Upsert wallet using native NUMERIC arithmetic
	_, err = tx.ExecContext(ctx, `
		INSERT INTO wallets (musician_id, ledger, total_earned, updated_at)
		VALUES ($1, $2::NUMERIC(20,2), $2::NUMERIC(20,2), NOW())
		ON CONFLICT (musician_id) DO UPDATE SET
			ledger       = wallets.ledger       + $2::NUMERIC(20,2),
			total_earned = wallets.total_earned + $2::NUMERIC(20,2),
			updated_at   = NOW()
	`, cp.MusicianID, cp.Net)
	if err != nil {
		return nil, fmt.Errorf("failed to update wallet: %w", err)
	}

	// Record movement
	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, musician_id, type, amount, reference, description, created_at)
		VALUES ($1, $2, 'escrow_credit', $3::NUMERIC(20,2), $4, 'payment_held_in_escrow', NOW())
	`, idgen.WithPrefix("mov"), cp.MusicianID, cp.Net, cp.Reference)
	if err != nil {
		return nil, fmt.Errorf("failed to record entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

// MarkEscrowFailed durably records the payment with a failed escrow annotation.
// Safe to call whether or not the transaction row already exists.
func (p *PostgresStore) MarkEscrowFailed(ctx context.Context, fp FailedCreditParams) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transactions (id, musician_id, booking_id, type, amount,
			reference, status, escrow_status, provider, channel, created_at)
		VALUES ($1, $2, $3, 'payment', $4::NUMERIC(20,2), $5, 'successful', 'failed', $6, '', NOW())
		ON CONFLICT (reference) DO UPDATE SET escrow_status = 'failed'
	`, idgen.WithPrefix("txn"), fp.MusicianID, fp.BookingID, fp.Gross, fp.Reference, fp.Provider)
	if err != nil {
		return fmt.Errorf("failed to mark escrow failed: %w", err)
	}
	return nil
}

// ReleaseEscrow moves a held entry's net amount from ledger to available.
func (p *PostgresStore) ReleaseEscrow(ctx context.Context, entryID string) (*EscrowEntry, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	entry := &EscrowEntry{ID: entryID}
	err = tx.QueryRowContext(ctx, `
		SELECT booking_id, musician_id, gross, fee, net, reference, status, created_at
		FROM escrow_entries WHERE id = $1
		FOR UPDATE
	`, entryID).Scan(&entry.BookingID, &entry.MusicianID, &entry.Gross, &entry.Fee,
		&entry.Net, &entry.Reference, &entry.Status, &entry.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrEscrowNotFound
	}
	if err != nil {
		return nil, err
	}
	if entry.Status != EscrowHeld {
		return nil, ErrEscrowNotHeld
	}

	// CHECK constraint on ledger >= 0 is the overdraft backstop
	result, err := tx.ExecContext(ctx, `
		UPDATE wallets SET
			ledger     = ledger    - $2::NUMERIC(20,2),
			available  = available + $2::NUMERIC(20,2),
			updated_at = NOW()
		WHERE musician_id = $1
	`, entry.MusicianID, entry.Net)
	if err != nil {
		if isCheckViolation(err) {
			return nil, ErrInsufficientBalance
		}
		return nil, fmt.Errorf("failed to update wallet: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, ErrWalletNotFound
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		UPDATE escrow_entries SET status = 'released', released_at = NOW() WHERE id = $1
	`, entryID)
	if err != nil {
		return nil, fmt.Errorf("failed to update escrow entry: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, musician_id, type, amount, reference, description, created_at)
		VALUES ($1, $2, 'escrow_release', $3::NUMERIC(20,2), $4, 'escrow_released_to_available', NOW())
	`, idgen.WithPrefix("mov"), entry.MusicianID, entry.Net, entry.Reference)
	if err != nil {
		return nil, fmt.Errorf("failed to record entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	entry.Status = EscrowReleased
	entry.ReleasedAt = &now
	return entry, nil
}

// Reserve moves funds from available to pending_withdrawals.
func (p *PostgresStore) Reserve(ctx context.Context, musicianID, amount, reference string) error {
	return p.moveBalance(ctx, musicianID, amount, reference,
		`UPDATE wallets SET
			available           = available           - $2::NUMERIC(20,2),
			pending_withdrawals = pending_withdrawals + $2::NUMERIC(20,2),
			updated_at = NOW()
		WHERE musician_id = $1`,
		"reserve", "withdrawal_reserved")
}

// ConfirmReservation settles a reservation after the payout cleared.
func (p *PostgresStore) ConfirmReservation(ctx context.Context, musicianID, amount, reference string) error {
	return p.moveBalance(ctx, musicianID, amount, reference,
		`UPDATE wallets SET
			pending_withdrawals = pending_withdrawals - $2::NUMERIC(20,2),
			total_withdrawn     = total_withdrawn     + $2::NUMERIC(20,2),
			updated_at = NOW()
		WHERE musician_id = $1`,
		"withdrawal_settled", "payout_settled")
}

// ReleaseReservation returns reserved funds to available after a failed payout.
func (p *PostgresStore) ReleaseReservation(ctx context.Context, musicianID, amount, reference string) error {
	return p.moveBalance(ctx, musicianID, amount, reference,
		`UPDATE wallets SET
			pending_withdrawals = pending_withdrawals - $2::NUMERIC(20,2),
			available           = available           + $2::NUMERIC(20,2),
			updated_at = NOW()
		WHERE musician_id = $1`,
		"reservation_released", "payout_failed_funds_returned")
}

// moveBalance runs one balance-moving UPDATE plus its movement entry atomically.
func (p *PostgresStore) moveBalance(ctx context.Context, musicianID, amount, reference, update, entryType, description string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, update, musicianID, amount)
	if err != nil {
		if isCheckViolation(err) {
			return ErrInsufficientBalance
		}
		return fmt.Errorf("failed to update wallet: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrWalletNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, musician_id, type, amount, reference, description, created_at)
		VALUES ($1, $2, $3, $4::NUMERIC(20,2), $5, $6, NOW())
	`, idgen.WithPrefix("mov"), musicianID, entryType, amount, reference, description)
	if err != nil {
		return fmt.Errorf("failed to record entry: %w", err)
	}

	return tx.Commit()
}

func (p *PostgresStore) TransactionByReference(ctx context.Context, reference string) (*Transaction, error) {
	t := &Transaction{}
	var bookingID, fee, net, provider, channel sql.NullString
	err := p.db.QueryRowContext(ctx, `
		SELECT id, musician_id, booking_id, type, amount, fee, net,
			reference, status, escrow_status, provider, channel, created_at
		FROM transactions WHERE reference = $1
	`, reference).Scan(&t.ID, &t.MusicianID, &bookingID, &t.Type, &t.Amount, &fee, &net,
		&t.Reference, &t.Status, &t.EscrowStatus, &provider, &channel, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	t.BookingID = bookingID.String
	t.Fee = fee.String
	t.Net = net.String
	t.Provider = provider.String
	t.Channel = channel.String
	return t, nil
}

func (p *PostgresStore) EscrowEntryByID(ctx context.Context, id string) (*EscrowEntry, error) {
	return p.escrowEntry(ctx, "id", id)
}

func (p *PostgresStore) EscrowEntryByReference(ctx context.Context, reference string) (*EscrowEntry, error) {
	return p.escrowEntry(ctx, "reference", reference)
}

func (p *PostgresStore) escrowEntry(ctx context.Context, column, value string) (*EscrowEntry, error) {
	e := &EscrowEntry{}
	var releasedAt sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT id, booking_id, musician_id, gross, fee, net, reference, status, created_at, released_at
		FROM escrow_entries WHERE `+column+` = $1
	`, value).Scan(&e.ID, &e.BookingID, &e.MusicianID, &e.Gross, &e.Fee, &e.Net,
		&e.Reference, &e.Status, &e.CreatedAt, &releasedAt)
	if err == sql.ErrNoRows {
		return nil, ErrEscrowNotFound
	}
	if err != nil {
		return nil, err
	}
	if releasedAt.Valid {
		e.ReleasedAt = &releasedAt.Time
	}
	return e, nil
}

func (p *PostgresStore) EscrowEntriesByStatus(ctx context.Context, escrowStatus string, limit int) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, musician_id, booking_id, type, amount, reference, status, escrow_status, provider, created_at
		FROM transactions
		WHERE escrow_status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, escrowStatus, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Transaction
	for rows.Next() {
		t := &Transaction{}
		var bookingID, provider sql.NullString
		if err := rows.Scan(&t.ID, &t.MusicianID, &bookingID, &t.Type, &t.Amount,
			&t.Reference, &t.Status, &t.EscrowStatus, &provider, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.BookingID = bookingID.String
		t.Provider = provider.String
		result = append(result, t)
	}
	return result, rows.Err()
}

func (p *PostgresStore) History(ctx context.Context, musicianID string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, musician_id, type, amount, reference, description, created_at
		FROM ledger_entries
		WHERE musician_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, musicianID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var reference, description sql.NullString
		if err := rows.Scan(&e.ID, &e.MusicianID, &e.Type, &e.Amount, &reference, &description, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Reference = reference.String
		e.Description = description.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
