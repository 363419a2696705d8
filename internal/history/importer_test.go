package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jpillora/backoff"

	"tradeflow/internal/store"
	"tradeflow/models"
)

func fastOpts() Options {
	return Options{
		Step:           time.Minute,
		RequestDelay:   time.Millisecond,
		RateLimitDelay: 2 * time.Millisecond,
		RetryDelay:     &backoff.Backoff{Min: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2},
	}
}

// fixedTrades returns a fetcher serving the given trades, filtered by window.
func fixedTrades(trades []models.Trade) FetchFunc {
	return func(_ context.Context, _ models.CurrencyPair, startMs, endMs int64) ([]models.Trade, error) {
		var out []models.Trade
		for _, t := range trades {
			ms := t.Date.UnixMilli()
			if ms >= startMs && ms <= endMs {
				out = append(out, t)
			}
		}
		return out, nil
	}
}

func testTrades(pairArg models.CurrencyPair, base time.Time) []models.Trade {
	out := make([]models.Trade, 0, 5)
	for i := 0; i < 5; i++ {
		out = append(out, models.Trade{
			TradeID:  string(rune('a' + i)),
			Date:     base.Add(time.Duration(i) * 90 * time.Second),
			Amount:   1,
			Rate:     100,
			Type:     models.TradeBuy,
			Pair:     pairArg,
			Exchange: "binance",
		})
	}
	return out
}

func TestImportPersistsAndSummarizes(t *testing.T) {
	pairArg := models.NewPair("USDT", "BTC")
	base := time.Unix(1_600_000_000, 0)
	st := store.NewMemoryStore()
	im := NewImporter("binance", fixedTrades(testTrades(pairArg, base)), st, fastOpts())

	if err := im.Import(context.Background(), pairArg, base, base.Add(10*time.Minute)); err != nil {
		t.Fatal(err)
	}

	if got := st.TradeCount(); got != 5 {
		t.Errorf("TradeCount=%d want 5", got)
	}
	hist := st.History()
	if len(hist) != 1 {
		t.Fatalf("history records=%d want 1", len(hist))
	}
	if hist[0].TradeCount != 5 || hist[0].Exchange != "binance" {
		t.Errorf("history=%+v", hist[0])
	}
}

func TestImportIsIdempotent(t *testing.T) {
	pairArg := models.NewPair("USDT", "BTC")
	base := time.Unix(1_600_000_000, 0)
	st := store.NewMemoryStore()
	im := NewImporter("binance", fixedTrades(testTrades(pairArg, base)), st, fastOpts())

	ctx := context.Background()
	end := base.Add(10 * time.Minute)
	if err := im.Import(ctx, pairArg, base, end); err != nil {
		t.Fatal(err)
	}
	if err := im.Import(ctx, pairArg, base, end); err != nil {
		t.Fatal(err)
	}

	if got := st.TradeCount(); got != 5 {
		t.Errorf("TradeCount=%d want 5 after double import", got)
	}
}

func TestEmptyRangeSkipsHistoryRecord(t *testing.T) {
	pairArg := models.NewPair("USDT", "BTC")
	st := store.NewMemoryStore()
	im := NewImporter("binance", fixedTrades(nil), st, fastOpts())

	base := time.Unix(1_600_000_000, 0)
	if err := im.Import(context.Background(), pairArg, base, base.Add(5*time.Minute)); err != nil {
		t.Fatal(err)
	}
	if len(st.History()) != 0 {
		t.Error("history record written for empty import")
	}
}

func TestTransientErrorRetriesInPlace(t *testing.T) {
	pairArg := models.NewPair("USDT", "BTC")
	base := time.Unix(1_600_000_000, 0)
	trades := testTrades(pairArg, base)

	failures := 0
	inner := fixedTrades(trades)
	fetch := func(ctx context.Context, p models.CurrencyPair, startMs, endMs int64) ([]models.Trade, error) {
		if failures < 2 {
			failures++
			return nil, errors.New("connection reset")
		}
		return inner(ctx, p, startMs, endMs)
	}

	st := store.NewMemoryStore()
	im := NewImporter("binance", fetch, st, fastOpts())
	if err := im.Import(context.Background(), pairArg, base, base.Add(10*time.Minute)); err != nil {
		t.Fatal(err)
	}
	if failures != 2 {
		t.Errorf("failures=%d want 2", failures)
	}
	if got := st.TradeCount(); got != 5 {
		t.Errorf("TradeCount=%d want 5, cursor must not skip failed windows", got)
	}
}

func TestCancelledContextStopsImport(t *testing.T) {
	pairArg := models.NewPair("USDT", "BTC")
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	fetch := func(context.Context, models.CurrencyPair, int64, int64) ([]models.Trade, error) {
		calls++
		cancel()
		return nil, errors.New("rate limit exceeded")
	}

	im := NewImporter("binance", fetch, store.NewMemoryStore(), fastOpts())
	base := time.Unix(1_600_000_000, 0)
	err := im.Import(ctx, pairArg, base, base.Add(time.Hour))
	if err == nil {
		t.Fatal("expected context error")
	}
	if calls != 1 {
		t.Errorf("calls=%d want 1", calls)
	}
}

func TestForwardProgressOnDenseWindows(t *testing.T) {
	// Every window returns a trade at its start; the cursor must still move
	// strictly forward and terminate.
	pairArg := models.NewPair("USDT", "BTC")
	base := time.Unix(1_600_000_000, 0)

	fetch := func(_ context.Context, _ models.CurrencyPair, _, endMs int64) ([]models.Trade, error) {
		return []models.Trade{{
			TradeID:  time.UnixMilli(endMs).String(),
			Date:     time.UnixMilli(endMs),
			Pair:     pairArg,
			Exchange: "binance",
		}}, nil
	}

	st := store.NewMemoryStore()
	im := NewImporter("binance", fetch, st, fastOpts())
	done := make(chan error, 1)
	go func() {
		done <- im.Import(context.Background(), pairArg, base, base.Add(3*time.Minute))
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("import did not terminate")
	}
	if st.TradeCount() == 0 {
		t.Error("no trades stored")
	}
}
