// Package store holds the persistence collaborators of the history importer.
// Storage is fire-and-forget from the importer's perspective: failures are
// logged, never rolled back, and at-most-once insertion is accepted.
package store

import (
	"context"
	"time"

	"tradeflow/models"
)

// HistoryRecord summarizes one completed import run.
type HistoryRecord struct {
	Exchange   string              `json:"exchange"`
	Pair       models.CurrencyPair `json:"pair"`
	Start      time.Time           `json:"start"`
	End        time.Time           `json:"end"`
	TradeCount int                 `json:"trade_count"`
	BatchID    string              `json:"batch_id"`
	ImportedAt time.Time           `json:"imported_at"`
}

// TradeStore persists imported trade batches and import summaries.
type TradeStore interface {
	StoreTrades(ctx context.Context, trades []models.Trade) error
	AddToHistory(ctx context.Context, record HistoryRecord) error
}
