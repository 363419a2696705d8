package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradeflow/internal/book"
	"tradeflow/internal/channel"
	"tradeflow/internal/history"
	"tradeflow/internal/pair"
	"tradeflow/internal/queue"
	"tradeflow/internal/stream"
	"tradeflow/internal/store"
	"tradeflow/logger"
	"tradeflow/models"
)

// Capabilities describes one exchange integration: naming, symbol mapping,
// order constraints and optional futures contract sizing. The adapter is
// composed from this struct rather than specialized per exchange, so a new
// integration only supplies a RestClient, a codec and a capability table.
type Capabilities struct {
	Name string
	// Codec translates between canonical pairs and exchange symbols.
	Codec pair.Codec
	// MinNotional is the smallest accepted order value in quote currency.
	MinNotional float64
	// ContractValues maps traded currency to contract value in quote
	// currency for inverse-futures markets. Empty means amounts are sent
	// as-is in base currency.
	ContractValues map[string]float64
	// Margin enables the margin/futures operation set.
	Margin bool
	// BrokerID is appended to generated client order IDs.
	BrokerID string
	// RateDecimals and AmountDecimals override the advertised market
	// precision per pair key. Missing entries fall back to the market
	// info from LoadMarkets, then to defaultDecimals.
	RateDecimals   map[string]int32
	AmountDecimals map[string]int32
	// MaxPendingBatches bounds the per-market reorder buffer.
	MaxPendingBatches int
}

// marketState is everything the adapter tracks for one subscribed pair.
type marketState struct {
	pair   models.CurrencyPair
	book   *book.Book
	stream *stream.Stream

	mu       sync.RWMutex
	ticker   models.Ticker
	lastRate float64
}

// Adapter is the per-exchange trading and market-data surface. REST calls
// that mutate account state go through a single-worker request queue so the
// exchange sees at most one signed request at a time. Market data flows in
// through HandleBatch from the exchange's websocket feed and out through the
// shared channel set.
type Adapter struct {
	caps    Capabilities
	rest    RestClient
	margin  MarginClient
	store   store.TradeStore
	out     *channel.Channels
	reqs    *queue.Queue
	history history.Options
	log     *logger.Entry

	mu      sync.RWMutex
	ctx     context.Context
	markets map[string]*marketState
	infos   map[string]models.MarketInfo

	// tracks resync goroutines spawned off the websocket path so Stop can
	// wait for them before the caller tears down the output channels
	wg sync.WaitGroup
}

// Option tweaks adapter construction.
type Option func(*Adapter)

// WithMarginClient attaches a margin/futures client. Without one the margin
// operations return a permanent unsupported error.
func WithMarginClient(mc MarginClient) Option {
	return func(a *Adapter) { a.margin = mc }
}

// WithHistoryOptions overrides the trade-history import pacing.
func WithHistoryOptions(opts history.Options) Option {
	return func(a *Adapter) { a.history = opts }
}

// New builds an adapter around a REST client. The store receives imported
// trade history; out receives live trades and order-book updates.
func New(caps Capabilities, rest RestClient, st store.TradeStore, out *channel.Channels, opts ...Option) *Adapter {
	a := &Adapter{
		caps:    caps,
		rest:    rest,
		store:   st,
		out:     out,
		reqs:    queue.New(caps.Name, 64),
		log: logger.GetLogger().WithComponent("adapter").WithFields(logger.Fields{
			"exchange": caps.Name,
		}),
		ctx:     context.Background(),
		markets: make(map[string]*marketState),
		infos:   make(map[string]models.MarketInfo),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Name returns the exchange identifier.
func (a *Adapter) Name() string { return a.caps.Name }

// SupportsMargin reports whether margin operations are available.
func (a *Adapter) SupportsMargin() bool { return a.caps.Margin && a.margin != nil }

// Start binds the adapter's background context, used for resync fetches
// triggered from the websocket path.
func (a *Adapter) Start(ctx context.Context) {
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()
}

// Stop drains the request queue and waits for in-flight resync fetches, so
// the output channels are safe to close once Stop returns.
func (a *Adapter) Stop() {
	a.reqs.Close()
	a.wg.Wait()
}

// LoadMarkets refreshes the market catalog and returns it keyed by pair key.
func (a *Adapter) LoadMarkets(ctx context.Context) (map[string]models.MarketInfo, error) {
	raw, err := a.rest.LoadMarkets(ctx)
	if err != nil {
		return nil, a.wrap("load markets", err)
	}
	out := make(map[string]models.MarketInfo, len(raw))
	for symbol, info := range raw {
		p, ok := a.caps.Codec.ToPair(symbol)
		if !ok {
			continue
		}
		info.Pair = p
		info.Symbol = symbol
		out[p.Key()] = info
	}
	a.mu.Lock()
	a.infos = out
	for key, ms := range a.markets {
		if info, ok := out[key]; ok {
			ms.mu.Lock()
			ms.ticker.IsFrozen = !info.Active
			ms.mu.Unlock()
		}
	}
	a.mu.Unlock()
	a.log.WithFields(logger.Fields{"markets": len(out)}).Info("market catalog loaded")
	return out, nil
}

// SubscribeToMarkets prepares local state for a set of pairs and primes each
// order book from a REST snapshot. The caller wires the websocket feed that
// keeps the books current.
func (a *Adapter) SubscribeToMarkets(ctx context.Context, pairs []models.CurrencyPair) error {
	for _, p := range pairs {
		if _, ok := a.caps.Codec.ToSymbol(p); !ok {
			return models.NewPermanentError(a.caps.Name, "unsupported pair "+p.String())
		}
		a.ensureMarket(p)
		if err := a.resync(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Pairs lists the currently subscribed pairs.
func (a *Adapter) Pairs() []models.CurrencyPair {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]models.CurrencyPair, 0, len(a.markets))
	for _, ms := range a.markets {
		out = append(out, ms.pair)
	}
	return out
}

func (a *Adapter) ensureMarket(p models.CurrencyPair) *marketState {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ms, ok := a.markets[p.Key()]; ok {
		return ms
	}
	ms := &marketState{pair: p}
	ms.ticker.Pair = p
	if info, ok := a.infos[p.Key()]; ok {
		ms.ticker.IsFrozen = !info.Active
	}
	ms.book = book.New(a.caps.Name, p, a.requestResync)
	ms.stream = stream.New(a.caps.Name, p, a.caps.MaxPendingBatches,
		func(events []models.MarketEvent, seq uint64) { a.release(ms, events, seq) },
		func() { a.requestResync(p) })
	a.markets[p.Key()] = ms
	return ms
}

func (a *Adapter) market(p models.CurrencyPair) *marketState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.markets[p.Key()]
}

// HandleBatch feeds one sequenced websocket batch into the reorder buffer
// for the pair. Unknown pairs are ignored.
func (a *Adapter) HandleBatch(p models.CurrencyPair, seq uint64, events []models.MarketEvent) {
	ms := a.market(p)
	if ms == nil {
		return
	}
	ms.stream.Add(seq, events)
}

// HandleSnapshot replaces a market's book wholesale from a feed-provided
// snapshot. Partial-book streams that resend the full top of book on every
// frame use this instead of the sequenced delta path; the reorder buffer is
// reset so any following deltas re-anchor against the new baseline.
func (a *Adapter) HandleSnapshot(p models.CurrencyPair, bids, asks []models.MarketOrder, seq uint64) {
	ms := a.market(p)
	if ms == nil {
		return
	}
	ms.book.ReplaceSnapshot(bids, asks, seq)
	ms.stream.Reset()
	a.refreshTickerFromBook(ms)
}

// HandleTrades forwards trade events straight to the outputs, bypassing the
// reorder buffer. Some feeds deliver trades on a channel with no book
// sequence; they arrive in order per connection, so sequencing adds nothing.
func (a *Adapter) HandleTrades(p models.CurrencyPair, events []models.MarketEvent) {
	ms := a.market(p)
	if ms == nil {
		return
	}
	for _, ev := range events {
		if ev.Kind == models.EventTrade {
			a.onTrade(ms, ev)
		}
	}
}

// Resync re-primes one market from a REST snapshot. Transports call it when
// their feed reports a discontinuity the sequenced path cannot see.
func (a *Adapter) Resync(ctx context.Context, p models.CurrencyPair) error {
	return a.resync(ctx, p)
}

// release applies an in-order batch to the market state and forwards trades.
func (a *Adapter) release(ms *marketState, events []models.MarketEvent, seq uint64) {
	var mods []models.MarketEvent
	for _, ev := range events {
		switch ev.Kind {
		case models.EventTrade:
			a.onTrade(ms, ev)
		case models.EventBookMod, models.EventBookFull:
			mods = append(mods, ev)
		}
	}
	if len(mods) > 0 {
		ms.book.Apply(mods, seq)
		a.refreshTickerFromBook(ms)
	}
}

func (a *Adapter) onTrade(ms *marketState, ev models.MarketEvent) {
	side := ev.Side
	ms.mu.Lock()
	if side == "" {
		// feeds without an explicit taker side fall back to tick direction
		side = models.InferTradeSide(ev.Price, ms.lastRate)
	}
	ms.lastRate = ev.Price
	ms.ticker.Last = ev.Price
	ms.ticker.UpdatedAt = time.Now().UTC()
	ms.mu.Unlock()
	ms.book.SetLastTrade(ev.Price)

	trade := models.Trade{
		TradeID:  ev.TradeID,
		Date:     time.Unix(ev.Timestamp, 0).UTC(),
		Amount:   ev.Amount,
		Rate:     ev.Price,
		Type:     side,
		Pair:     ms.pair,
		Exchange: a.caps.Name,
	}
	a.out.SendTrade(a.baseCtx(), trade)
}

// refreshTickerFromBook mutates the websocket-fed ticker fields in place
// rather than replacing the struct, so fields a partial feed never carries
// keep their last REST-provided values.
func (a *Adapter) refreshTickerFromBook(ms *marketState) {
	bid, ask := ms.book.BestBid(), ms.book.BestAsk()
	ms.mu.Lock()
	if bid > 0 {
		ms.ticker.Bid = bid
	}
	if ask > 0 {
		ms.ticker.Ask = ask
	}
	ms.ticker.UpdatedAt = time.Now().UTC()
	ms.mu.Unlock()

	bids, asks := ms.book.Depth(50)
	a.out.SendBook(a.baseCtx(), models.OrderBookUpdate{
		Pair:       ms.pair,
		Exchange:   a.caps.Name,
		Seq:        ms.book.Seq(),
		IsSnapshot: true,
		Bids:       bids,
		Asks:       asks,
	})
}

func (a *Adapter) baseCtx() context.Context {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ctx
}

// requestResync is invoked from the book or stream when a gap is detected.
// The REST snapshot fetch runs off the websocket goroutine.
func (a *Adapter) requestResync(p models.CurrencyPair) {
	ctx := a.baseCtx()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.resync(ctx, p); err != nil {
			a.log.WithFields(logger.Fields{"pair": p.String()}).WithError(err).Error("order book resync failed")
		}
	}()
}

// resync replaces the order-book baseline from a REST snapshot and resets
// the reorder buffer so the next websocket batch re-anchors the sequence.
func (a *Adapter) resync(ctx context.Context, p models.CurrencyPair) error {
	ms := a.market(p)
	if ms == nil {
		return nil
	}
	symbol, ok := a.caps.Codec.ToSymbol(p)
	if !ok {
		return models.NewPermanentError(a.caps.Name, "unsupported pair "+p.String())
	}
	snap, err := a.rest.FetchOrderBook(ctx, symbol, 50)
	if err != nil {
		return a.wrap("fetch order book", err)
	}
	ms.book.ReplaceSnapshot(snap.Bids, snap.Asks, snap.Seq)
	ms.stream.Reset()
	a.refreshTickerFromBook(ms)
	a.log.WithFields(logger.Fields{"pair": p.String(), "seq": snap.Seq}).Debug("order book resynced")
	return nil
}

// ResyncAll re-primes every subscribed market. Called after a websocket
// reconnect, when all sequence baselines are void.
func (a *Adapter) ResyncAll(ctx context.Context) {
	for _, p := range a.Pairs() {
		if err := a.resync(ctx, p); err != nil {
			a.log.WithFields(logger.Fields{"pair": p.String()}).WithError(err).Error("order book resync failed")
		}
	}
}

// GetTicker returns a copy of the live ticker table keyed by pair key.
func (a *Adapter) GetTicker() map[string]models.Ticker {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]models.Ticker, len(a.markets))
	for key, ms := range a.markets {
		ms.mu.RLock()
		out[key] = ms.ticker
		ms.mu.RUnlock()
	}
	return out
}

// RefreshTicker replaces the ticker for a pair wholesale from REST. The
// websocket path only ever mutates individual fields.
func (a *Adapter) RefreshTicker(ctx context.Context, p models.CurrencyPair) (*models.Ticker, error) {
	symbol, ok := a.caps.Codec.ToSymbol(p)
	if !ok {
		return nil, models.NewPermanentError(a.caps.Name, "unsupported pair "+p.String())
	}
	tk, err := a.rest.FetchTicker(ctx, symbol)
	if err != nil {
		return nil, a.wrap("fetch ticker", err)
	}
	tk.Pair = p
	a.mu.RLock()
	if info, ok := a.infos[p.Key()]; ok {
		tk.IsFrozen = !info.Active
	}
	a.mu.RUnlock()
	if ms := a.market(p); ms != nil {
		ms.mu.Lock()
		ms.ticker = *tk
		ms.mu.Unlock()
	}
	return tk, nil
}

// OrderBook exposes the live book for a subscribed pair, or nil.
func (a *Adapter) OrderBook(p models.CurrencyPair) *book.Book {
	ms := a.market(p)
	if ms == nil {
		return nil
	}
	return ms.book
}

// FetchOrderBook returns a REST depth snapshot without touching live state.
func (a *Adapter) FetchOrderBook(ctx context.Context, p models.CurrencyPair, depth int) (*models.OrderBookUpdate, error) {
	symbol, ok := a.caps.Codec.ToSymbol(p)
	if !ok {
		return nil, models.NewPermanentError(a.caps.Name, "unsupported pair "+p.String())
	}
	snap, err := a.rest.FetchOrderBook(ctx, symbol, depth)
	if err != nil {
		return nil, a.wrap("fetch order book", err)
	}
	snap.Pair = p
	snap.Exchange = a.caps.Name
	return snap, nil
}

// GetBalances fetches account balances through the request queue.
func (a *Adapter) GetBalances(ctx context.Context) (map[string]float64, error) {
	var balances map[string]float64
	err := a.reqs.Do(ctx, func(ctx context.Context) error {
		var err error
		balances, err = a.rest.FetchBalance(ctx)
		return err
	})
	if err != nil {
		return nil, a.wrap("fetch balance", err)
	}
	return balances, nil
}

// GetOpenOrders lists open orders for a pair.
func (a *Adapter) GetOpenOrders(ctx context.Context, p models.CurrencyPair) (*models.OpenOrders, error) {
	symbol, ok := a.caps.Codec.ToSymbol(p)
	if !ok {
		return nil, models.NewPermanentError(a.caps.Name, "unsupported pair "+p.String())
	}
	var orders []models.OpenOrder
	err := a.reqs.Do(ctx, func(ctx context.Context) error {
		var err error
		orders, err = a.rest.FetchOpenOrders(ctx, symbol)
		return err
	})
	if err != nil {
		return nil, a.wrap("fetch open orders", err)
	}
	oo := &models.OpenOrders{Pair: p, Exchange: a.caps.Name}
	for _, o := range orders {
		oo.Add(o)
	}
	return oo, nil
}

// ImportHistory walks the exchange's trade history for a pair in fixed
// windows and persists it through the configured store.
func (a *Adapter) ImportHistory(ctx context.Context, p models.CurrencyPair, start, end time.Time) error {
	symbol, ok := a.caps.Codec.ToSymbol(p)
	if !ok {
		return models.NewPermanentError(a.caps.Name, "unsupported pair "+p.String())
	}
	imp := history.NewImporter(a.caps.Name,
		func(ctx context.Context, hp models.CurrencyPair, startMs, endMs int64) ([]models.Trade, error) {
			trades, err := a.rest.FetchTrades(ctx, symbol, startMs, endMs)
			if err != nil {
				return nil, err
			}
			for i := range trades {
				trades[i].Pair = hp
				trades[i].Exchange = a.caps.Name
			}
			return trades, nil
		}, a.store, a.history)
	return imp.Import(ctx, p, start, end)
}

// clientOrderID brands generated order IDs with the configured broker suffix
// so fills are attributable on the exchange side.
func (a *Adapter) clientOrderID() string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")[:20]
	if a.caps.BrokerID != "" {
		return id + a.caps.BrokerID
	}
	return id
}

// wrap converts an arbitrary error into the normalized exchange error shape.
// Already-normalized errors pass through unchanged.
func (a *Adapter) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ee *models.ExchangeError
	if errors.As(err, &ee) {
		return err
	}
	return models.NewExchangeError(a.caps.Name, op, err)
}
