package withdrawal

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed withdrawal store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateWithdrawal(ctx context.Context, w *Withdrawal) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO withdrawals (id, musician_id, bank_account_id, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4::NUMERIC(20,2), $5, NOW(), NOW())
	`, w.ID, w.MusicianID, w.BankAccountID, w.Amount, w.Status)
	if err != nil {
		return fmt.Errorf("failed to create withdrawal: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetWithdrawal(ctx context.Context, id string) (*Withdrawal, error) {
	return p.withdrawalBy(ctx, "id", id)
}

func (p *PostgresStore) ByTransferReference(ctx context.Context, reference string) (*Withdrawal, error) {
	return p.withdrawalBy(ctx, "transfer_ref", reference)
}

func (p *PostgresStore) withdrawalBy(ctx context.Context, column, value string) (*Withdrawal, error) {
	w := &Withdrawal{}
	var transferCode, transferRef, failureReason sql.NullString
	var completedAt sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT id, musician_id, bank_account_id, amount, status,
			transfer_code, transfer_ref, failure_reason, created_at, updated_at, completed_at
		FROM withdrawals WHERE `+column+` = $1
	`, value).Scan(&w.ID, &w.MusicianID, &w.BankAccountID, &w.Amount, &w.Status,
		&transferCode, &transferRef, &failureReason, &w.CreatedAt, &w.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	w.TransferCode = transferCode.String
	w.TransferRef = transferRef.String
	w.FailureReason = failureReason.String
	if completedAt.Valid {
		w.CompletedAt = &completedAt.Time
	}
	return w, nil
}

func (p *PostgresStore) UpdateWithdrawal(ctx context.Context, w *Withdrawal) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE withdrawals SET
			status         = $2,
			transfer_code  = NULLIF($3, ''),
			transfer_ref   = NULLIF($4, ''),
			failure_reason = NULLIF($5, ''),
			completed_at   = $6,
			updated_at     = NOW()
		WHERE id = $1
	`, w.ID, w.Status, w.TransferCode, w.TransferRef, w.FailureReason, w.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update withdrawal: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ByMusician(ctx context.Context, musicianID string, limit int) ([]*Withdrawal, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, musician_id, bank_account_id, amount, status,
			transfer_code, transfer_ref, failure_reason, created_at, updated_at, completed_at
		FROM withdrawals
		WHERE musician_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, musicianID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Withdrawal
	for rows.Next() {
		w := &Withdrawal{}
		var transferCode, transferRef, failureReason sql.NullString
		var completedAt sql.NullTime
		if err := rows.Scan(&w.ID, &w.MusicianID, &w.BankAccountID, &w.Amount, &w.Status,
			&transferCode, &transferRef, &failureReason, &w.CreatedAt, &w.UpdatedAt, &completedAt); err != nil {
			return nil, err
		}
		w.TransferCode = transferCode.String
		w.TransferRef = transferRef.String
		w.FailureReason = failureReason.String
		if completedAt.Valid {
			w.CompletedAt = &completedAt.Time
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreateBankAccount(ctx context.Context, a *BankAccount) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO bank_accounts (id, musician_id, account_name, account_number, bank_code, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, a.ID, a.MusicianID, a.AccountName, a.AccountNumber, a.BankCode)
	if err != nil {
		return fmt.Errorf("failed to create bank account: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetBankAccount(ctx context.Context, id string) (*BankAccount, error) {
	a := &BankAccount{}
	var recipientCode sql.NullString
	err := p.db.QueryRowContext(ctx, `
		SELECT id, musician_id, account_name, account_number, bank_code, recipient_code, created_at
		FROM bank_accounts WHERE id = $1
	`, id).Scan(&a.ID, &a.MusicianID, &a.AccountName, &a.AccountNumber, &a.BankCode,
		&recipientCode, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrBankAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	a.RecipientCode = recipientCode.String
	return a, nil
}

func (p *PostgresStore) BankAccountsByMusician(ctx context.Context, musicianID string) ([]*BankAccount, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, musician_id, account_name, account_number, bank_code, recipient_code, created_at
		FROM bank_accounts
		WHERE musician_id = $1
		ORDER BY created_at DESC
	`, musicianID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*BankAccount
	for rows.Next() {
		a := &BankAccount{}
		var recipientCode sql.NullString
		if err := rows.Scan(&a.ID, &a.MusicianID, &a.AccountName, &a.AccountNumber,
			&a.BankCode, &recipientCode, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.RecipientCode = recipientCode.String
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SetRecipientCode(ctx context.Context, id, code string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE bank_accounts SET recipient_code = $2 WHERE id = $1
	`, id, code)
	if err != nil {
		return fmt.Errorf("failed to set recipient code: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrBankAccountNotFound
	}
	return nil
}
