// Package store provides in-memory ledger storage.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/rent-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	entries     map[ledger.TenancyID][]ledger.Entry
	idempotency map[string]bool
	units       map[ledger.UnitID]ledger.Unit
	tenancies   map[ledger.TenancyID]ledger.Tenancy
}

var _ ledger.Repository = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		entries:     make(map[ledger.TenancyID][]ledger.Entry),
		idempotency: make(map[string]bool),
		units:       make(map[ledger.UnitID]ledger.Unit),
		tenancies:   make(map[ledger.TenancyID]ledger.Tenancy),
	}
}

// Append adds a single entry. The idempotency check and the write happen
// under one lock, so concurrent appends with the same key can't both land.
func (m *Memory) Append(_ context.Context, e ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.IdempotencyKey != "" && m.idempotency[e.IdempotencyKey] {
		return ledger.ErrDuplicateIdempotencyKey
	}

	entries := m.entries[e.TenancyID]

	// Binary search for insertion point keeps entries chronological
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].TransactionDate.After(e.TransactionDate)
	})
	entries = append(entries, ledger.Entry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	m.entries[e.TenancyID] = entries

	if e.IdempotencyKey != "" {
		m.idempotency[e.IdempotencyKey] = true
	}
	return nil
}

func (m *Memory) Entries(_ context.Context, id ledger.TenancyID) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Entry, len(m.entries[id]))
	copy(result, m.entries[id])
	return result, nil
}

func (m *Memory) FindChargeByDescription(_ context.Context, id ledger.TenancyID, description string) (*ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.entries[id] {
		if e.Kind == ledger.KindCharge && e.Description == description {
			found := e
			return &found, nil
		}
	}
	return nil, nil
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

// =============================================================================
// UNITS & TENANCIES
// =============================================================================

func (m *Memory) SaveUnit(_ context.Context, u ledger.Unit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	m.units[u.ID] = u
	return nil
}

func (m *Memory) GetUnit(_ context.Context, id ledger.UnitID) (*ledger.Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.units[id]
	if !ok {
		return nil, ledger.ErrUnitNotFound
	}
	return &u, nil
}

func (m *Memory) ListUnits(_ context.Context) ([]ledger.Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.Unit, 0, len(m.units))
	for _, u := range m.units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label() < out[j].Label() })
	return out, nil
}

func (m *Memory) SaveTenancy(_ context.Context, t ledger.Tenancy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	m.tenancies[t.ID] = t
	if u, ok := m.units[t.UnitID]; ok && t.MoveOutDate == nil {
		u.Status = ledger.UnitOccupied
		m.units[t.UnitID] = u
	}
	return nil
}

func (m *Memory) GetTenancy(_ context.Context, id ledger.TenancyID) (*ledger.Tenancy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenancies[id]
	if !ok {
		return nil, ledger.ErrTenancyNotFound
	}
	return &t, nil
}

// ListTenancies returns tenancies newest move-in first, ties by ID.
func (m *Memory) ListTenancies(_ context.Context) ([]ledger.Tenancy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedTenancies(), nil
}

func (m *Memory) ListActiveTenancies(_ context.Context, asOf time.Time) ([]ledger.Tenancy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ledger.FilterActive(m.sortedTenancies(), asOf), nil
}

func (m *Memory) MoveOut(_ context.Context, id ledger.TenancyID, date time.Time) (*ledger.Tenancy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tenancies[id]
	if !ok {
		return nil, ledger.ErrTenancyNotFound
	}
	if err := t.MoveOut(date); err != nil {
		return nil, err
	}
	m.tenancies[id] = t

	// Unit goes vacant when nobody else occupies it
	occupied := false
	for _, other := range m.tenancies {
		if other.ID != id && other.UnitID == t.UnitID && other.MoveOutDate == nil {
			occupied = true
			break
		}
	}
	if u, ok := m.units[t.UnitID]; ok && !occupied {
		u.Status = ledger.UnitVacant
		m.units[t.UnitID] = u
	}
	return &t, nil
}

func (m *Memory) sortedTenancies() []ledger.Tenancy {
	out := make([]ledger.Tenancy, 0, len(m.tenancies))
	for _, t := range m.tenancies {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].MoveInDate.Equal(out[j].MoveInDate) {
			return out[i].MoveInDate.After(out[j].MoveInDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
