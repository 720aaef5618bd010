package withdrawal

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu          sync.RWMutex
	withdrawals map[string]*Withdrawal
	byRef       map[string]string
	accounts    map[string]*BankAccount
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		withdrawals: make(map[string]*Withdrawal),
		byRef:       make(map[string]string),
		accounts:    make(map[string]*BankAccount),
	}
}

func (m *MemoryStore) CreateWithdrawal(ctx context.Context, w *Withdrawal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *w
	m.withdrawals[w.ID] = &cp
	return nil
}

func (m *MemoryStore) GetWithdrawal(ctx context.Context, id string) (*Withdrawal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.withdrawals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *MemoryStore) UpdateWithdrawal(ctx context.Context, w *Withdrawal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.withdrawals[w.ID]; !ok {
		return ErrNotFound
	}
	cp := *w
	m.withdrawals[w.ID] = &cp
	if w.TransferRef != "" {
		m.byRef[w.TransferRef] = w.ID
	}
	return nil
}

func (m *MemoryStore) ByMusician(ctx context.Context, musicianID string, limit int) ([]*Withdrawal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Withdrawal
	for _, w := range m.withdrawals {
		if w.MusicianID == musicianID {
			cp := *w
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ByTransferReference(ctx context.Context, reference string) (*Withdrawal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byRef[reference]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.withdrawals[id]
	return &cp, nil
}

func (m *MemoryStore) CreateBankAccount(ctx context.Context, a *BankAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *a
	m.accounts[a.ID] = &cp
	return nil
}

func (m *MemoryStore) GetBankAccount(ctx context.Context, id string) (*BankAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrBankAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) BankAccountsByMusician(ctx context.Context, musicianID string) ([]*BankAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*BankAccount
	for _, a := range m.accounts {
		if a.MusicianID == musicianID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) SetRecipientCode(ctx context.Context, id, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return ErrBankAccountNotFound
	}
	a.RecipientCode = code
	return nil
}
