package store

import (
	"context"
	"testing"
	"time"

	"tradeflow/models"
)

func TestMemoryStoreDeduplicatesByTradeID(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	batch := []models.Trade{
		{TradeID: "1", Exchange: "binance", Amount: 1},
		{TradeID: "2", Exchange: "binance", Amount: 2},
	}
	if err := m.StoreTrades(ctx, batch); err != nil {
		t.Fatal(err)
	}
	if err := m.StoreTrades(ctx, batch); err != nil {
		t.Fatal(err)
	}

	if got := m.TradeCount(); got != 2 {
		t.Errorf("TradeCount=%d want 2 after duplicate insert", got)
	}

	// Same trade ID on another exchange is a distinct trade.
	if err := m.StoreTrades(ctx, []models.Trade{{TradeID: "1", Exchange: "bybit"}}); err != nil {
		t.Fatal(err)
	}
	if got := m.TradeCount(); got != 3 {
		t.Errorf("TradeCount=%d want 3", got)
	}
}

func TestMemoryStoreHistory(t *testing.T) {
	m := NewMemoryStore()
	rec := HistoryRecord{
		Exchange:   "binance",
		Pair:       models.NewPair("USDT", "BTC"),
		Start:      time.Unix(1000, 0),
		End:        time.Unix(2000, 0),
		TradeCount: 10,
		BatchID:    "abc",
	}
	if err := m.AddToHistory(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	got := m.History()
	if len(got) != 1 || got[0].BatchID != "abc" {
		t.Errorf("History=%+v", got)
	}
}
