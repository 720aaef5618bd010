package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/amplygigs/payments/internal/idgen"
	"github.com/amplygigs/payments/internal/money"
)

// MemoryStore is an in-memory ledger store for demo/development mode.
type MemoryStore struct {
	wallets      map[string]*Wallet
	transactions map[string]*Transaction // keyed by reference
	escrows      map[string]*EscrowEntry // keyed by entry id
	escrowByRef  map[string]string       // reference -> entry id
	entries      []*Entry
	mu           sync.RWMutex
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets:      make(map[string]*Wallet),
		transactions: make(map[string]*Transaction),
		escrows:      make(map[string]*EscrowEntry),
		escrowByRef:  make(map[string]string),
		entries:      make([]*Entry, 0),
	}
}

func zeroWallet(musicianID string) *Wallet {
	return &Wallet{
		MusicianID:         musicianID,
		AvailableBalance:   "0.00",
		LedgerBalance:      "0.00",
		PendingWithdrawals: "0.00",
		TotalEarned:        "0.00",
		TotalWithdrawn:     "0.00",
		UpdatedAt:          time.Now(),
	}
}

func (m *MemoryStore) wallet(musicianID string) *Wallet {
	w, ok := m.wallets[musicianID]
	if !ok {
		w = zeroWallet(musicianID)
		m.wallets[musicianID] = w
	}
	return w
}

func (m *MemoryStore) GetWallet(ctx context.Context, musicianID string) (*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if w, ok := m.wallets[musicianID]; ok {
		cp := *w
		return &cp, nil
	}
	return zeroWallet(musicianID), nil
}

func (m *MemoryStore) CreditEscrow(ctx context.Context, p CreditEscrowParams) (*EscrowEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.transactions[p.Reference]; exists {
		return nil, ErrDuplicateReference
	}

	now := time.Now()
	m.transactions[p.Reference] = &Transaction{
		ID:           idgen.WithPrefix("txn"),
		MusicianID:   p.MusicianID,
		BookingID:    p.BookingID,
		Type:         "payment",
		Amount:       p.Gross,
		Fee:          p.Fee,
		Net:          p.Net,
		Reference:    p.Reference,
		Status:       TxSuccessful,
		EscrowStatus: EscrowCredited,
		Provider:     p.Provider,
		Channel:      p.Channel,
		CreatedAt:    now,
	}

	entry := &EscrowEntry{
		ID:         idgen.WithPrefix("esc"),
		BookingID:  p.BookingID,
		MusicianID: p.MusicianID,
		Gross:      p.Gross,
		Fee:        p.Fee,
		Net:        p.Net,
		Reference:  p.Reference,
		Status:     EscrowHeld,
		CreatedAt:  now,
	}
	m.escrows[entry.ID] = entry
	m.escrowByRef[p.Reference] = entry.ID

	w := m.wallet(p.MusicianID)
	held, _ := money.Parse(w.LedgerBalance)
	earned, _ := money.Parse(w.TotalEarned)
	net, _ := money.Parse(p.Net)
	held.Add(held, net)
	earned.Add(earned, net)
	w.LedgerBalance = money.Format(held)
	w.TotalEarned = money.Format(earned)
	w.UpdatedAt = now

	m.entries = append(m.entries, &Entry{
		ID:          idgen.WithPrefix("mov"),
		MusicianID:  p.MusicianID,
		Type:        "escrow_credit",
		Amount:      p.Net,
		Reference:   p.Reference,
		Description: "payment_held_in_escrow",
		CreatedAt:   now,
	})

	cp := *entry
	return &cp, nil
}

func (m *MemoryStore) MarkEscrowFailed(ctx context.Context, p FailedCreditParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx, exists := m.transactions[p.Reference]; exists {
		tx.EscrowStatus = EscrowFailed
		return nil
	}

	m.transactions[p.Reference] = &Transaction{
		ID:           idgen.WithPrefix("txn"),
		MusicianID:   p.MusicianID,
		BookingID:    p.BookingID,
		Type:         "payment",
		Amount:       p.Gross,
		Reference:    p.Reference,
		Status:       TxSuccessful,
		EscrowStatus: EscrowFailed,
		Provider:     p.Provider,
		CreatedAt:    time.Now(),
	}
	return nil
}

func (m *MemoryStore) ReleaseEscrow(ctx context.Context, entryID string) (*EscrowEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.escrows[entryID]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	if entry.Status != EscrowHeld {
		return nil, ErrEscrowNotHeld
	}

	w, ok := m.wallets[entry.MusicianID]
	if !ok {
		return nil, ErrWalletNotFound
	}

	held, _ := money.Parse(w.LedgerBalance)
	avail, _ := money.Parse(w.AvailableBalance)
	net, _ := money.Parse(entry.Net)

	if held.Cmp(net) < 0 {
		return nil, ErrInsufficientBalance
	}

	now := time.Now()
	held.Sub(held, net)
	avail.Add(avail, net)
	w.LedgerBalance = money.Format(held)
	w.AvailableBalance = money.Format(avail)
	w.UpdatedAt = now

	entry.Status = EscrowReleased
	entry.ReleasedAt = &now

	m.entries = append(m.entries, &Entry{
		ID:          idgen.WithPrefix("mov"),
		MusicianID:  entry.MusicianID,
		Type:        "escrow_release",
		Amount:      entry.Net,
		Reference:   entry.Reference,
		Description: "escrow_released_to_available",
		CreatedAt:   now,
	})

	cp := *entry
	return &cp, nil
}

func (m *MemoryStore) Reserve(ctx context.Context, musicianID, amount, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[musicianID]
	if !ok {
		return ErrWalletNotFound
	}

	avail, _ := money.Parse(w.AvailableBalance)
	pending, _ := money.Parse(w.PendingWithdrawals)
	amt, _ := money.Parse(amount)

	if avail.Cmp(amt) < 0 {
		return ErrInsufficientBalance
	}

	avail.Sub(avail, amt)
	pending.Add(pending, amt)
	w.AvailableBalance = money.Format(avail)
	w.PendingWithdrawals = money.Format(pending)
	w.UpdatedAt = time.Now()

	m.entries = append(m.entries, &Entry{
		ID:          idgen.WithPrefix("mov"),
		MusicianID:  musicianID,
		Type:        "reserve",
		Amount:      amount,
		Reference:   reference,
		Description: "withdrawal_reserved",
		CreatedAt:   time.Now(),
	})

	return nil
}

func (m *MemoryStore) ConfirmReservation(ctx context.Context, musicianID, amount, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[musicianID]
	if !ok {
		return ErrWalletNotFound
	}

	pending, _ := money.Parse(w.PendingWithdrawals)
	withdrawn, _ := money.Parse(w.TotalWithdrawn)
	amt, _ := money.Parse(amount)

	if pending.Cmp(amt) < 0 {
		return ErrInsufficientBalance
	}

	pending.Sub(pending, amt)
	withdrawn.Add(withdrawn, amt)
	w.PendingWithdrawals = money.Format(pending)
	w.TotalWithdrawn = money.Format(withdrawn)
	w.UpdatedAt = time.Now()

	m.entries = append(m.entries, &Entry{
		ID:          idgen.WithPrefix("mov"),
		MusicianID:  musicianID,
		Type:        "withdrawal_settled",
		Amount:      amount,
		Reference:   reference,
		Description: "payout_settled",
		CreatedAt:   time.Now(),
	})

	return nil
}

func (m *MemoryStore) ReleaseReservation(ctx context.Context, musicianID, amount, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[musicianID]
	if !ok {
		return ErrWalletNotFound
	}

	pending, _ := money.Parse(w.PendingWithdrawals)
	avail, _ := money.Parse(w.AvailableBalance)
	amt, _ := money.Parse(amount)

	if pending.Cmp(amt) < 0 {
		return ErrInsufficientBalance
	}

	pending.Sub(pending, amt)
	avail.Add(avail, amt)
	w.PendingWithdrawals = money.Format(pending)
	w.AvailableBalance = money.Format(avail)
	w.UpdatedAt = time.Now()

	m.entries = append(m.entries, &Entry{
		ID:          idgen.WithPrefix("mov"),
		MusicianID:  musicianID,
		Type:        "reservation_released",
		Amount:      amount,
		Reference:   reference,
		Description: "payout_failed_funds_returned",
		CreatedAt:   time.Now(),
	})

	return nil
}

func (m *MemoryStore) TransactionByReference(ctx context.Context, reference string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.transactions[reference]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (m *MemoryStore) EscrowEntryByID(ctx context.Context, id string) (*EscrowEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.escrows[id]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	cp := *entry
	return &cp, nil
}

func (m *MemoryStore) EscrowEntryByReference(ctx context.Context, reference string) (*EscrowEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.escrowByRef[reference]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	cp := *m.escrows[id]
	return &cp, nil
}

func (m *MemoryStore) EscrowEntriesByStatus(ctx context.Context, escrowStatus string, limit int) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Transaction
	for _, tx := range m.transactions {
		if tx.EscrowStatus == escrowStatus && len(result) < limit {
			cp := *tx
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) History(ctx context.Context, musicianID string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if m.entries[i].MusicianID == musicianID {
			result = append(result, m.entries[i])
		}
	}
	return result, nil
}
