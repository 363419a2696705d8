package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"tradeflow/internal/channel"
	"tradeflow/internal/pair"
	"tradeflow/internal/store"
	"tradeflow/models"
)

type fakeRest struct {
	mu sync.Mutex

	markets    map[string]models.MarketInfo
	book       *models.OrderBookUpdate
	bookGate   chan struct{}
	bookCalls  int
	balance    map[string]float64
	openOrders []models.OpenOrder
	trades     []models.Trade

	created   []createCall
	cancelled []string
	cancelErr error
	createErr error
}

type createCall struct {
	symbol        string
	side          models.TradeType
	rate, amount  float64
	clientOrderID string
}

func (f *fakeRest) LoadMarkets(ctx context.Context) (map[string]models.MarketInfo, error) {
	return f.markets, nil
}

func (f *fakeRest) FetchTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	return &models.Ticker{Last: 100, Bid: 99, Ask: 101, BaseVolume: 12}, nil
}

func (f *fakeRest) FetchOrderBook(ctx context.Context, symbol string, depth int) (*models.OrderBookUpdate, error) {
	f.mu.Lock()
	gate := f.bookGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookCalls++
	if f.book == nil {
		return &models.OrderBookUpdate{Seq: 1, IsSnapshot: true}, nil
	}
	cp := *f.book
	return &cp, nil
}

func (f *fakeRest) FetchBalance(ctx context.Context) (map[string]float64, error) {
	return f.balance, nil
}

func (f *fakeRest) FetchOpenOrders(ctx context.Context, symbol string) ([]models.OpenOrder, error) {
	return f.openOrders, nil
}

func (f *fakeRest) FetchTrades(ctx context.Context, symbol string, startMs, endMs int64) ([]models.Trade, error) {
	var out []models.Trade
	for _, t := range f.trades {
		ms := t.Date.UnixMilli()
		if ms >= startMs && ms <= endMs {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeRest) CreateOrder(ctx context.Context, symbol string, side models.TradeType, rate, amount float64, clientOrderID string) (*models.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, createCall{symbol, side, rate, amount, clientOrderID})
	return &models.OrderResult{Success: true, OrderNumber: "42"}, nil
}

func (f *fakeRest) CancelOrder(ctx context.Context, symbol, orderNumber string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, orderNumber)
	return nil
}

func (f *fakeRest) lastCreate(t *testing.T) createCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		t.Fatal("no order was created")
	}
	return f.created[len(f.created)-1]
}

type fakeMargin struct {
	created   []createCall
	positions map[string]models.MarginPosition
}

func (f *fakeMargin) CreateMarginOrder(ctx context.Context, symbol string, side models.TradeType, rate, amount, leverage float64, clientOrderID string) (*models.OrderResult, error) {
	f.created = append(f.created, createCall{symbol, side, rate, amount, clientOrderID})
	return &models.OrderResult{Success: true, OrderNumber: "m1"}, nil
}

func (f *fakeMargin) CancelMarginOrder(ctx context.Context, symbol, orderNumber string) error {
	return nil
}

func (f *fakeMargin) FetchMarginPosition(ctx context.Context, symbol string) (*models.MarginPosition, error) {
	if pos, ok := f.positions[symbol]; ok {
		return &pos, nil
	}
	return nil, nil
}

func (f *fakeMargin) FetchAllMarginPositions(ctx context.Context) (map[string]models.MarginPosition, error) {
	return f.positions, nil
}

func (f *fakeMargin) FetchMarginAccountSummary(ctx context.Context) (*models.MarginAccountSummary, error) {
	return &models.MarginAccountSummary{TotalValue: 1000, NetValue: 900}, nil
}

func (f *fakeMargin) CloseMarginPosition(ctx context.Context, symbol string) (*models.OrderResult, error) {
	return &models.OrderResult{Success: true}, nil
}

func testCaps() Capabilities {
	return Capabilities{
		Name:        "testex",
		Codec:       pair.NewStringCodec("-", pair.WithReversed()),
		MinNotional: 10,
	}
}

func newTestAdapter(t *testing.T, caps Capabilities, rest *fakeRest, opts ...Option) (*Adapter, *channel.Channels) {
	t.Helper()
	out := channel.NewChannels(64, 64)
	a := New(caps, rest, store.NewMemoryStore(), out, opts...)
	a.Start(context.Background())
	t.Cleanup(func() {
		a.Stop()
		out.Close()
	})
	return a, out
}

func TestBuyRoundsAndBrandsOrder(t *testing.T) {
	rest := &fakeRest{}
	caps := testCaps()
	caps.BrokerID = "TF01"
	caps.RateDecimals = map[string]int32{"USDT_BTC": 2}
	caps.AmountDecimals = map[string]int32{"USDT_BTC": 3}
	a, _ := newTestAdapter(t, caps, rest)

	p := models.NewPair("USDT", "BTC")
	res, err := a.Buy(context.Background(), p, 20000.12345, 0.0015678)
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if !res.Success || res.OrderNumber != "42" {
		t.Fatalf("unexpected result %+v", res)
	}
	call := rest.lastCreate(t)
	if call.symbol != "BTC-USDT" {
		t.Errorf("symbol = %q, want BTC-USDT", call.symbol)
	}
	if call.rate != 20000.12 {
		t.Errorf("rate = %v, want 20000.12", call.rate)
	}
	if call.amount != 0.001 {
		t.Errorf("amount = %v, want 0.001 (floored)", call.amount)
	}
	if !strings.HasSuffix(call.clientOrderID, "TF01") {
		t.Errorf("client order ID %q is missing broker suffix", call.clientOrderID)
	}
}

func TestBuyRejectsBelowMinNotional(t *testing.T) {
	rest := &fakeRest{}
	a, _ := newTestAdapter(t, testCaps(), rest)

	_, err := a.Buy(context.Background(), models.NewPair("USDT", "BTC"), 100, 0.05)
	if err == nil {
		t.Fatal("expected error for order total below minimum")
	}
	if !models.IsPermanent(err) {
		t.Errorf("min-notional violation should be permanent, got %v", err)
	}
	if len(rest.created) != 0 {
		t.Error("rejected order must not reach the exchange")
	}
}

func TestBuyRejectsUnsupportedPair(t *testing.T) {
	a, _ := newTestAdapter(t, testCaps(), &fakeRest{})
	_, err := a.Buy(context.Background(), models.CurrencyPair{}, 100, 1)
	if err == nil || !models.IsPermanent(err) {
		t.Fatalf("want permanent error for unsupported pair, got %v", err)
	}
}

func TestCancelOrderGoneIsBenign(t *testing.T) {
	rest := &fakeRest{cancelErr: errors.New("code -2011: Unknown order sent")}
	a, _ := newTestAdapter(t, testCaps(), rest)

	res, err := a.CancelOrder(context.Background(), models.NewPair("USDT", "BTC"), "42")
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if !res.Success || res.Message == "" {
		t.Errorf("gone order should cancel successfully with a message, got %+v", res)
	}
}

func TestCancelOrderRealFailure(t *testing.T) {
	rest := &fakeRest{cancelErr: errors.New("internal server error")}
	a, _ := newTestAdapter(t, testCaps(), rest)

	_, err := a.CancelOrder(context.Background(), models.NewPair("USDT", "BTC"), "42")
	if err == nil {
		t.Fatal("expected error")
	}
	var ee *models.ExchangeError
	if !errors.As(err, &ee) || ee.Exchange != "testex" {
		t.Errorf("error not normalized: %v", err)
	}
}

func TestMoveOrderReplacesAtNewRate(t *testing.T) {
	rest := &fakeRest{
		openOrders: []models.OpenOrder{{OrderNumber: "42", Type: models.TradeSell, Rate: 210, Amount: 0.5}},
	}
	a, _ := newTestAdapter(t, testCaps(), rest)

	res, err := a.MoveOrder(context.Background(), models.NewPair("USDT", "ETH"), "42", 205, 0)
	if err != nil {
		t.Fatalf("MoveOrder: %v", err)
	}
	if !res.Success {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(rest.cancelled) != 1 || rest.cancelled[0] != "42" {
		t.Errorf("cancelled = %v, want [42]", rest.cancelled)
	}
	call := rest.lastCreate(t)
	if call.side != models.TradeSell || call.rate != 205 || call.amount != 0.5 {
		t.Errorf("replacement order %+v, want sell 0.5 @ 205", call)
	}
}

func TestMoveOrderUnknownOrderFailsBeforeCancel(t *testing.T) {
	rest := &fakeRest{}
	a, _ := newTestAdapter(t, testCaps(), rest)

	_, err := a.MoveOrder(context.Background(), models.NewPair("USDT", "ETH"), "missing", 205, 0)
	if err == nil || !models.IsPermanent(err) {
		t.Fatalf("want permanent error, got %v", err)
	}
	if len(rest.cancelled) != 0 {
		t.Error("nothing should be cancelled when the order cannot be found")
	}
}

func TestMarginUnsupportedWithoutClient(t *testing.T) {
	a, _ := newTestAdapter(t, testCaps(), &fakeRest{})

	_, err := a.MarginBuy(context.Background(), models.NewPair("USDT", "BTC"), 20000, 0.01, 2)
	if err == nil || !models.IsPermanent(err) {
		t.Fatalf("want permanent unsupported error, got %v", err)
	}
	if _, err := a.GetMarginAccountSummary(context.Background()); err == nil {
		t.Error("margin summary should be rejected on spot-only adapter")
	}
}

func TestMarginBuyConvertsToContracts(t *testing.T) {
	margin := &fakeMargin{}
	caps := testCaps()
	caps.Margin = true
	caps.ContractValues = map[string]float64{"BTC": 100}
	a, _ := newTestAdapter(t, caps, &fakeRest{}, WithMarginClient(margin))

	if _, err := a.MarginBuy(context.Background(), models.NewPair("USD", "BTC"), 20000, 0.05, 5); err != nil {
		t.Fatalf("MarginBuy: %v", err)
	}
	if len(margin.created) != 1 {
		t.Fatal("no margin order created")
	}
	// 0.05 * 20000 / 100 = 10 contracts
	if got := margin.created[0].amount; got != 10 {
		t.Errorf("contract count = %v, want 10", got)
	}
}

func TestGetMarginPositionClosedSentinel(t *testing.T) {
	caps := testCaps()
	caps.Margin = true
	a, _ := newTestAdapter(t, caps, &fakeRest{}, WithMarginClient(&fakeMargin{}))

	pos, err := a.GetMarginPosition(context.Background(), models.NewPair("USD", "BTC"))
	if err != nil {
		t.Fatalf("GetMarginPosition: %v", err)
	}
	if pos.Type != models.PositionNone || pos.IsOpen() {
		t.Errorf("want closed sentinel, got %+v", pos)
	}
}

func TestSubscribePrimesBookAndTicker(t *testing.T) {
	now := time.Now()
	rest := &fakeRest{
		book: &models.OrderBookUpdate{
			Seq:        7,
			IsSnapshot: true,
			Bids:       []models.MarketOrder{{Price: 99, Amount: 1, Timestamp: now}},
			Asks:       []models.MarketOrder{{Price: 101, Amount: 2, Timestamp: now}},
		},
	}
	a, _ := newTestAdapter(t, testCaps(), rest)

	p := models.NewPair("USDT", "BTC")
	if err := a.SubscribeToMarkets(context.Background(), []models.CurrencyPair{p}); err != nil {
		t.Fatalf("SubscribeToMarkets: %v", err)
	}
	b := a.OrderBook(p)
	if b == nil {
		t.Fatal("no book after subscribe")
	}
	if b.BestBid() != 99 || b.BestAsk() != 101 {
		t.Errorf("book = %v/%v, want 99/101", b.BestBid(), b.BestAsk())
	}
	tick := a.GetTicker()[p.Key()]
	if tick.Bid != 99 || tick.Ask != 101 {
		t.Errorf("ticker = %+v, want bid 99 ask 101", tick)
	}
}

func TestHandleBatchFlowsTradesAndBook(t *testing.T) {
	rest := &fakeRest{book: &models.OrderBookUpdate{Seq: 10, IsSnapshot: true,
		Bids: []models.MarketOrder{{Price: 99, Amount: 1}},
		Asks: []models.MarketOrder{{Price: 101, Amount: 1}},
	}}
	a, out := newTestAdapter(t, testCaps(), rest)

	p := models.NewPair("USDT", "BTC")
	if err := a.SubscribeToMarkets(context.Background(), []models.CurrencyPair{p}); err != nil {
		t.Fatalf("SubscribeToMarkets: %v", err)
	}
	a.HandleBatch(p, 11, []models.MarketEvent{
		models.TradeEvent("t-1", models.TradeBuy, 100, 0.2, time.Now().Unix()),
		models.BookModEvent(true, 99.5, 3),
	})

	select {
	case trade := <-out.Trades:
		if trade.TradeID != "t-1" || trade.Rate != 100 || trade.Exchange != "testex" {
			t.Errorf("unexpected trade %+v", trade)
		}
	case <-time.After(time.Second):
		t.Fatal("no trade forwarded")
	}
	if got := a.OrderBook(p).BestBid(); got != 99.5 {
		t.Errorf("best bid = %v, want 99.5 after delta", got)
	}
	if last := a.GetTicker()[p.Key()].Last; last != 100 {
		t.Errorf("ticker last = %v, want 100", last)
	}
}

func TestSequenceGapTriggersRestResync(t *testing.T) {
	rest := &fakeRest{book: &models.OrderBookUpdate{Seq: 10, IsSnapshot: true,
		Bids: []models.MarketOrder{{Price: 99, Amount: 1}},
		Asks: []models.MarketOrder{{Price: 101, Amount: 1}},
	}}
	a, _ := newTestAdapter(t, testCaps(), rest)

	p := models.NewPair("USDT", "BTC")
	if err := a.SubscribeToMarkets(context.Background(), []models.CurrencyPair{p}); err != nil {
		t.Fatalf("SubscribeToMarkets: %v", err)
	}
	rest.mu.Lock()
	before := rest.bookCalls
	rest.mu.Unlock()

	// the stream anchors at 11, then 15 leaves a hole it can never fill
	a.HandleBatch(p, 11, []models.MarketEvent{models.BookModEvent(true, 99.5, 1)})
	a.HandleBatch(p, 15, []models.MarketEvent{models.BookModEvent(true, 99.6, 1)})
	a.OrderBook(p).Apply([]models.MarketEvent{models.BookModEvent(true, 99.7, 1)}, 20)

	deadline := time.After(2 * time.Second)
	for {
		rest.mu.Lock()
		calls := rest.bookCalls
		rest.mu.Unlock()
		if calls > before {
			return
		}
		select {
		case <-deadline:
			t.Fatal("gap did not trigger a REST snapshot fetch")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestStopWaitsForResyncInFlight(t *testing.T) {
	rest := &fakeRest{book: &models.OrderBookUpdate{Seq: 10, IsSnapshot: true,
		Bids: []models.MarketOrder{{Price: 99, Amount: 1}},
		Asks: []models.MarketOrder{{Price: 101, Amount: 1}},
	}}
	out := channel.NewChannels(64, 64)
	a := New(testCaps(), rest, store.NewMemoryStore(), out)
	a.Start(context.Background())

	p := models.NewPair("USDT", "BTC")
	if err := a.SubscribeToMarkets(context.Background(), []models.CurrencyPair{p}); err != nil {
		t.Fatalf("SubscribeToMarkets: %v", err)
	}

	gate := make(chan struct{})
	rest.mu.Lock()
	rest.bookGate = gate
	before := rest.bookCalls
	rest.mu.Unlock()

	// the gap spawns a resync goroutine that parks in the snapshot fetch
	a.OrderBook(p).Apply([]models.MarketEvent{models.BookModEvent(true, 99.7, 1)}, 20)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(gate)
	}()
	a.Stop()

	rest.mu.Lock()
	calls := rest.bookCalls
	rest.mu.Unlock()
	if calls != before+1 {
		t.Fatalf("resync still in flight after Stop: %d snapshot calls, want %d", calls, before+1)
	}

	// with the resync settled, closing the outputs cannot race a late publish
	out.Close()
}

func TestLoadMarketsMapsSymbols(t *testing.T) {
	rest := &fakeRest{markets: map[string]models.MarketInfo{
		"BTC-USDT": {PricePrecision: 2, AmountPrecision: 5, MinNotional: 5, Active: true},
		"BOGUS":    {Active: true},
	}}
	a, _ := newTestAdapter(t, testCaps(), rest)

	markets, err := a.LoadMarkets(context.Background())
	if err != nil {
		t.Fatalf("LoadMarkets: %v", err)
	}
	info, ok := markets["USDT_BTC"]
	if !ok {
		t.Fatalf("markets = %v, missing USDT_BTC", markets)
	}
	if info.Symbol != "BTC-USDT" || info.PricePrecision != 2 {
		t.Errorf("unexpected info %+v", info)
	}
	if _, ok := markets["BOGUS"]; ok {
		t.Error("unmappable symbol should be dropped")
	}
}

func TestInactiveMarketFreezesTicker(t *testing.T) {
	rest := &fakeRest{markets: map[string]models.MarketInfo{
		"BTC-USDT": {PricePrecision: 2, Active: false},
	}}
	a, _ := newTestAdapter(t, testCaps(), rest)
	p := models.NewPair("USDT", "BTC")

	if _, err := a.LoadMarkets(context.Background()); err != nil {
		t.Fatalf("LoadMarkets: %v", err)
	}
	if err := a.SubscribeToMarkets(context.Background(), []models.CurrencyPair{p}); err != nil {
		t.Fatalf("SubscribeToMarkets: %v", err)
	}

	tk, ok := a.GetTicker()["USDT_BTC"]
	if !ok {
		t.Fatal("missing ticker for subscribed market")
	}
	if !tk.IsFrozen {
		t.Error("inactive market must be flagged frozen")
	}
	if tk.Pair != p {
		t.Errorf("ticker pair = %v, want %v", tk.Pair, p)
	}

	refreshed, err := a.RefreshTicker(context.Background(), p)
	if err != nil {
		t.Fatalf("RefreshTicker: %v", err)
	}
	if !refreshed.IsFrozen {
		t.Error("REST refresh must carry the frozen flag from the catalog")
	}
}

func TestImportHistoryPersistsTrades(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rest := &fakeRest{trades: []models.Trade{
		{TradeID: "1", Date: base.Add(time.Minute), Rate: 100, Amount: 1, Type: models.TradeBuy},
		{TradeID: "2", Date: base.Add(2 * time.Minute), Rate: 101, Amount: 2, Type: models.TradeSell},
	}}
	out := channel.NewChannels(4, 4)
	st := store.NewMemoryStore()
	a := New(testCaps(), rest, st, out)
	a.Start(context.Background())
	defer a.Stop()
	defer out.Close()

	err := a.ImportHistory(context.Background(), models.NewPair("USDT", "BTC"), base, base.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("ImportHistory: %v", err)
	}
	if got := st.TradeCount(); got != 2 {
		t.Errorf("stored %d trades, want 2", got)
	}
	recs := st.History()
	if len(recs) != 1 || recs[0].Exchange != "testex" {
		t.Errorf("unexpected history records %+v", recs)
	}
}

func TestContractConversion(t *testing.T) {
	tests := []struct {
		amount, rate, cv float64
		want             int64
	}{
		{0.05, 20000, 100, 10},
		{-0.05, 20000, 100, 10}, // sign carried separately by the side
		{0.0001, 20000, 100, 1}, // never rounds to zero
		{1, 250, 10, 25},
	}
	for _, tt := range tests {
		if got := contracts(tt.amount, tt.rate, tt.cv); got != tt.want {
			t.Errorf("contracts(%v, %v, %v) = %d, want %d", tt.amount, tt.rate, tt.cv, got, tt.want)
		}
	}
}
