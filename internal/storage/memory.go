package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"spread-sentinel/internal/spread"
)

// MemoryStore is an in-process Repository used by emulator mode and tests.
// A single mutex makes the open-alert check and the CAS atomic.
type MemoryStore struct {
	mu        sync.Mutex
	now       func() time.Time
	alerts    map[string]Alert
	feeds     map[string]LiveFeed
	snapshots map[string]Snapshot
	samples   []SpreadSample
	prefs     map[string]UserPreference
	audit     []AuditEntry
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:       func() time.Time { return time.Now().UTC() },
		alerts:    make(map[string]Alert),
		feeds:     make(map[string]LiveFeed),
		snapshots: make(map[string]Snapshot),
		prefs:     make(map[string]UserPreference),
	}
}

var _ Repository = (*MemoryStore)(nil)

func (m *MemoryStore) CreateAlert(_ context.Context, alert Alert) (Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hasOpenLocked(alert.Symbol) {
		return Alert{}, ErrOpenAlertExists
	}
	alert = prepareNewAlert(alert, m.now())
	if _, exists := m.alerts[alert.ID]; exists {
		return Alert{}, fmt.Errorf("insert alert: duplicate id %s", alert.ID)
	}
	m.alerts[alert.ID] = cloneAlert(alert)
	return cloneAlert(alert), nil
}

func (m *MemoryStore) HasOpenAlert(_ context.Context, symbol string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasOpenLocked(symbol), nil
}

func (m *MemoryStore) hasOpenLocked(symbol string) bool {
	for _, a := range m.alerts {
		if a.Symbol == symbol && a.Status.IsOpen() {
			return true
		}
	}
	return false
}

func (m *MemoryStore) GetAlert(_ context.Context, id string) (Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return Alert{}, ErrNotFound
	}
	return cloneAlert(a), nil
}

func (m *MemoryStore) ListAlertsByStatus(_ context.Context, status Status, limit int) ([]Alert, error) {
	return m.filter(limit, false, func(a Alert) bool { return a.Status == status }), nil
}

func (m *MemoryStore) ListExecutable(_ context.Context, query ExecutableQuery) ([]Alert, error) {
	return m.filter(query.Limit, false, func(a Alert) bool {
		if a.Status != StatusApproved || !a.AutoExecute {
			return false
		}
		if query.MaxAttempts > 0 && a.ExecutionAttempts >= query.MaxAttempts {
			return false
		}
		for _, level := range query.RiskLevels {
			if a.RiskLevel == level {
				return true
			}
		}
		return false
	}), nil
}

func (m *MemoryStore) ListRecentAlerts(_ context.Context, limit int) ([]Alert, error) {
	return m.filter(limit, true, func(Alert) bool { return true }), nil
}

func (m *MemoryStore) filter(limit int, newestFirst bool, keep func(Alert) bool) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Alert, 0)
	for _, a := range m.alerts {
		if keep(a) {
			out = append(out, cloneAlert(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *MemoryStore) TransitionAlert(_ context.Context, id string, from, to Status, patch AlertPatch) (Alert, error) {
	if !CanTransition(from, to) {
		return Alert{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.alerts[id]
	if !ok {
		return Alert{}, ErrNotFound
	}
	if current.Status != from {
		return Alert{}, fmt.Errorf("%w: expected %s, found %s", ErrStaleTransition, from, current.Status)
	}

	current.Status = to
	applyPatch(&current, patch)
	current.UpdatedAt = m.now()
	m.alerts[id] = current
	return cloneAlert(current), nil
}

func applyPatch(a *Alert, p AlertPatch) {
	if p.AIValidation != nil {
		v := *p.AIValidation
		a.AIValidation = &v
	}
	if p.OrderID != nil {
		a.OrderID = copyPtr(p.OrderID)
	}
	if p.ExecutionMethod != nil {
		a.ExecutionMethod = copyPtr(p.ExecutionMethod)
	}
	if p.ExecutionPrice != nil {
		a.ExecutionPrice = copyPtr(p.ExecutionPrice)
	}
	if p.ExecutionSize != nil {
		a.ExecutionSize = copyPtr(p.ExecutionSize)
	}
	switch {
	case p.ClearExecutionError:
		a.ExecutionError = nil
	case p.ExecutionError != nil:
		a.ExecutionError = copyPtr(p.ExecutionError)
	}
	if p.IncrementAttempts {
		a.ExecutionAttempts++
	}
	if p.AnalyzedAt != nil {
		a.AnalyzedAt = copyPtr(p.AnalyzedAt)
	}
	if p.ExecutedAt != nil {
		a.ExecutedAt = copyPtr(p.ExecutedAt)
	}
	if p.ExecutionStartedAt != nil {
		a.ExecutionStartedAt = copyPtr(p.ExecutionStartedAt)
	}
}

func copyPtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneAlert(a Alert) Alert {
	out := a
	out.RequestedTradeSize = copyPtr(a.RequestedTradeSize)
	out.AIValidation = copyPtr(a.AIValidation)
	out.OrderID = copyPtr(a.OrderID)
	out.ExecutionMethod = copyPtr(a.ExecutionMethod)
	out.ExecutionPrice = copyPtr(a.ExecutionPrice)
	out.ExecutionSize = copyPtr(a.ExecutionSize)
	out.ExecutionError = copyPtr(a.ExecutionError)
	out.AnalyzedAt = copyPtr(a.AnalyzedAt)
	out.ExecutedAt = copyPtr(a.ExecutedAt)
	out.ExecutionStartedAt = copyPtr(a.ExecutionStartedAt)
	return out
}

func (m *MemoryStore) UpsertLiveFeed(_ context.Context, feed LiveFeed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feeds[feed.Asset] = feed
	return nil
}

// LiveFeed returns the stored observation for asset.
func (m *MemoryStore) LiveFeed(asset string) (LiveFeed, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	feed, ok := m.feeds[asset]
	return feed, ok
}

func (m *MemoryStore) UpsertSnapshot(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snap.Collection+"/"+snap.Key] = snap
	return nil
}

// Snapshot returns the stored projection at (collection, key).
func (m *MemoryStore) Snapshot(collection, key string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[collection+"/"+key]
	return snap, ok
}

func (m *MemoryStore) AppendSpreadSample(_ context.Context, sample SpreadSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, sample)
	return nil
}

func (m *MemoryStore) ListSpreadSamples(_ context.Context, symbol string, from, to time.Time) ([]SpreadSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SpreadSample, 0)
	for _, s := range m.samples {
		if s.ObservedAt.Before(from) || !s.ObservedAt.Before(to) {
			continue
		}
		if symbol != "" && s.Symbol != symbol {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ObservedAt.Before(out[j].ObservedAt) })
	return out, nil
}

func (m *MemoryStore) ListAutoExecutePreferences(_ context.Context) ([]UserPreference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]UserPreference, 0, len(m.prefs))
	for _, p := range m.prefs {
		if p.AutoExecuteEnabled {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *MemoryStore) UpsertPreference(_ context.Context, pref UserPreference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pref.AutoExecuteMaxRisk == "" {
		pref.AutoExecuteMaxRisk = spread.RiskMedium
	}
	pref.UpdatedAt = m.now()
	m.prefs[pref.UserID] = pref
	return nil
}

func (m *MemoryStore) RecordAudit(_ context.Context, event string, detail any) error {
	payload, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("marshal audit detail: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, AuditEntry{
		ID:        int64(len(m.audit) + 1),
		Event:     event,
		Detail:    payload,
		CreatedAt: m.now(),
	})
	return nil
}

func (m *MemoryStore) ListRecentAudit(_ context.Context, limit int) ([]AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]AuditEntry, 0, len(m.audit))
	for i := len(m.audit) - 1; i >= 0; i-- {
		out = append(out, m.audit[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
