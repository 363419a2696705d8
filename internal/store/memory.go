package store

import (
	"context"
	"sync"

	"tradeflow/models"
)

// MemoryStore keeps trades keyed by exchange and trade ID, which makes
// repeated imports over the same range idempotent. It backs tests and local
// dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	trades  map[string]models.Trade
	history []HistoryRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{trades: make(map[string]models.Trade)}
}

func (m *MemoryStore) StoreTrades(_ context.Context, trades []models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range trades {
		m.trades[t.Exchange+":"+t.TradeID] = t
	}
	return nil
}

func (m *MemoryStore) AddToHistory(_ context.Context, record HistoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, record)
	return nil
}

// TradeCount returns the number of distinct stored trades.
func (m *MemoryStore) TradeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.trades)
}

func (m *MemoryStore) History() []HistoryRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]HistoryRecord, len(m.history))
	copy(out, m.history)
	return out
}
