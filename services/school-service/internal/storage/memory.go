package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/accounts"
	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/outbox"
)

// Memory is a process-local Store for tests and single-instance development.
type Memory struct {
	mu       sync.Mutex
	accounts map[string]*accounts.Account
	locks    map[string]chan struct{}
	invoices map[string][]accounts.Invoice
	keys     map[string]map[string]struct{}
	outbox   *outbox.Memory
	timeout  time.Duration
	now      func() time.Time
}

func NewMemory(ob *outbox.Memory, timeout time.Duration) *Memory {
	if ob == nil {
		ob = outbox.NewMemory()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Memory{
		accounts: map[string]*accounts.Account{},
		locks:    map[string]chan struct{}{},
		invoices: map[string][]accounts.Invoice{},
		keys:     map[string]map[string]struct{}{},
		outbox:   ob,
		timeout:  timeout,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Outbox() *outbox.Memory {
	return m.outbox
}

func (m *Memory) EnsureAccount(_ context.Context, id string) (*accounts.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		now := m.now()
		a = &accounts.Account{ID: id, Version: 1, CreatedAt: now, UpdatedAt: now}
		m.accounts[id] = a
	}
	return a.Clone(), nil
}

func (m *Memory) ReadAccount(_ context.Context, id string) (*accounts.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, accounts.ErrNotFound
	}
	return a.Clone(), nil
}

func (m *Memory) MergeWrite(ctx context.Context, id string, patch Patch) error {
	return m.WithAccount(ctx, id, func(ctx context.Context, _ *accounts.Account, tx Tx) error {
		return tx.MergeWrite(ctx, patch)
	})
}

func (m *Memory) AppendInvoice(ctx context.Context, id string, inv accounts.Invoice) error {
	return m.WithAccount(ctx, id, func(ctx context.Context, _ *accounts.Account, tx Tx) error {
		return tx.AppendInvoice(ctx, inv)
	})
}

func (m *Memory) WithAccount(ctx context.Context, id string, fn func(ctx context.Context, a *accounts.Account, tx Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	m.mu.Lock()
	if _, ok := m.accounts[id]; !ok {
		m.mu.Unlock()
		return accounts.ErrNotFound
	}
	lock, ok := m.locks[id]
	if !ok {
		lock = make(chan struct{}, 1)
		m.locks[id] = lock
	}
	m.mu.Unlock()

	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("lock account: %w: %w", accounts.ErrStoreUnavailable, ctx.Err())
	}
	defer func() { <-lock }()

	m.mu.Lock()
	snapshot := m.accounts[id].Clone()
	m.mu.Unlock()

	tx := &memoryTx{store: m, working: snapshot.Clone()}
	if err := fn(ctx, snapshot, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit: %w: %w", accounts.ErrStoreUnavailable, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.dirty {
		m.accounts[id] = tx.working
	}
	m.invoices[id] = append(m.invoices[id], tx.invoices...)
	if len(tx.keys) > 0 {
		if m.keys[id] == nil {
			m.keys[id] = map[string]struct{}{}
		}
		for _, k := range tx.keys {
			m.keys[id][k] = struct{}{}
		}
	}
	m.outbox.Add(ctx, tx.events...)
	return nil
}

func (m *Memory) ListInvoices(_ context.Context, id string) ([]accounts.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[id]; !ok {
		return nil, accounts.ErrNotFound
	}
	return append([]accounts.Invoice(nil), m.invoices[id]...), nil
}

func (m *Memory) ListSchools(_ context.Context) ([]accounts.SchoolSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []accounts.SchoolSummary
	for id, a := range m.accounts {
		if a.Profile == nil {
			continue
		}
		out = append(out, accounts.SchoolSummary{ID: id, Name: a.Profile.Name})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

type memoryTx struct {
	store    *Memory
	working  *accounts.Account
	dirty    bool
	invoices []accounts.Invoice
	events   []outbox.Event
	keys     []string
}

func (tx *memoryTx) MergeWrite(_ context.Context, patch Patch) error {
	if patch.Empty() {
		return nil
	}
	patch.Apply(tx.working, tx.store.now())
	tx.dirty = true
	return nil
}

func (tx *memoryTx) AppendInvoice(_ context.Context, inv accounts.Invoice) error {
	inv.AccountID = tx.working.ID
	tx.invoices = append(tx.invoices, inv)
	return nil
}

func (tx *memoryTx) Enqueue(_ context.Context, evts ...outbox.Event) error {
	tx.events = append(tx.events, evts...)
	return nil
}

func (tx *memoryTx) ClaimIdempotencyKey(_ context.Context, key string) (bool, error) {
	for _, k := range tx.keys {
		if k == key {
			return false, nil
		}
	}
	tx.store.mu.Lock()
	_, seen := tx.store.keys[tx.working.ID][key]
	tx.store.mu.Unlock()
	if seen {
		return false, nil
	}
	tx.keys = append(tx.keys, key)
	return true, nil
}
