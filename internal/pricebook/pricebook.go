package pricebook

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Entry is the last comparison price recorded for a symbol.
type Entry struct {
	Price     decimal.Decimal
	UpdatedAt time.Time
}

// Book owns the symbol -> comparison price mapping.
type Book interface {
	Get(ctx context.Context, symbol string) (Entry, bool, error)
	Set(ctx context.Context, symbol string, price decimal.Decimal) error
}

// Memory is a process-local Book.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// NewMemory returns an empty in-memory book.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry), now: time.Now}
}

// Get returns the entry for symbol.
func (m *Memory) Get(_ context.Context, symbol string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[symbol]
	return e, ok, nil
}

// Set overwrites the entry for symbol.
func (m *Memory) Set(_ context.Context, symbol string, price decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[symbol] = Entry{Price: price, UpdatedAt: m.now().UTC()}
	return nil
}

var _ Book = (*Memory)(nil)
