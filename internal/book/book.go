// Package book maintains a live bid/ask ladder per currency pair from a
// snapshot plus an ordered stream of absolute deltas. The book never exposes a
// partially applied state: on a sequence gap it marks itself stale, asks the
// owner for a fresh snapshot, and keeps serving the last good ladder until it
// arrives.
package book

import (
	"sort"
	"sync"
	"time"

	"tradeflow/logger"
	"tradeflow/models"
)

// ResyncFunc is called once per gap; the owner refetches a REST snapshot and
// feeds it back through ReplaceSnapshot.
type ResyncFunc func(pair models.CurrencyPair)

type Book struct {
	mu       sync.RWMutex
	pair     models.CurrencyPair
	exchange string
	bids     map[float64]float64
	asks     map[float64]float64
	seq      uint64
	stale    bool
	partial  bool
	lastRate float64
	onResync ResyncFunc
	log      *logger.Entry
}

func New(exchange string, pair models.CurrencyPair, onResync ResyncFunc) *Book {
	return &Book{
		pair:     pair,
		exchange: exchange,
		bids:     make(map[float64]float64),
		asks:     make(map[float64]float64),
		onResync: onResync,
		log: logger.GetLogger().WithComponent("orderbook").WithFields(logger.Fields{
			"exchange": exchange,
			"pair":     pair.String(),
		}),
	}
}

// SetSnapshot installs the initial ladder. partial marks depth-limited
// snapshots whose absent levels must not be read as empty.
func (b *Book) SetSnapshot(bids, asks []models.MarketOrder, seq uint64, partial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.install(bids, asks, seq, partial)
}

// ReplaceSnapshot discards the current ladder for a fresh one, resetting the
// sequence baseline. Post-reconnect snapshots routinely carry a sequence
// number below the previous baseline and must still be accepted.
func (b *Book) ReplaceSnapshot(bids, asks []models.MarketOrder, seq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.install(bids, asks, seq, false)
	b.log.WithFields(logger.Fields{"seq": seq}).Debug("snapshot replaced")
}

func (b *Book) install(bids, asks []models.MarketOrder, seq uint64, partial bool) {
	b.bids = make(map[float64]float64, len(bids))
	b.asks = make(map[float64]float64, len(asks))
	for _, lv := range bids {
		if lv.Amount > 0 {
			b.bids[lv.Price] = lv.Amount
		}
	}
	for _, lv := range asks {
		if lv.Amount > 0 {
			b.asks[lv.Price] = lv.Amount
		}
	}
	b.seq = seq
	b.stale = false
	b.partial = partial
}

// Apply applies one batch of "o" tuples at the given sequence number.
// Deltas carry absolute amounts: zero removes the level, anything else
// replaces it. Batches at or below the applied sequence are dropped; a gap
// marks the book stale and requests a resync exactly once.
func (b *Book) Apply(events []models.MarketEvent, seq uint64) {
	b.mu.Lock()

	if seq <= b.seq {
		b.mu.Unlock()
		return
	}
	if b.seq != 0 && seq != b.seq+1 && !b.stale {
		b.stale = true
		b.log.WithFields(logger.Fields{"have": b.seq, "got": seq}).Warn("sequence gap, book marked stale")
		resync := b.onResync
		b.mu.Unlock()
		if resync != nil {
			resync(b.pair)
		}
		return
	}
	if b.stale {
		// A fresh snapshot is already on its way; keep the last good ladder.
		b.mu.Unlock()
		return
	}

	for _, ev := range events {
		if ev.Kind != models.EventBookMod && ev.Kind != models.EventBookFull {
			continue
		}
		side := b.asks
		if ev.Bid {
			side = b.bids
		}
		if ev.Amount == 0 {
			delete(side, ev.Price)
		} else {
			side[ev.Price] = ev.Amount
		}
	}
	b.seq = seq
	b.mu.Unlock()
}

// Seq returns the last applied sequence number.
func (b *Book) Seq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// Stale reports whether the book is waiting for a resync snapshot.
func (b *Book) Stale() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stale
}

// SetLastTrade records the latest trade price, the fallback for Last when the
// ladder is empty or one-sided.
func (b *Book) SetLastTrade(rate float64) {
	b.mu.Lock()
	b.lastRate = rate
	b.mu.Unlock()
}

// BestBid returns the highest bid, or 0 when that side is empty.
func (b *Book) BestBid() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	best := 0.0
	for price := range b.bids {
		if price > best {
			best = price
		}
	}
	return best
}

// BestAsk returns the lowest ask, or 0 when that side is empty.
func (b *Book) BestAsk() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	best := 0.0
	for price := range b.asks {
		if best == 0 || price < best {
			best = price
		}
	}
	return best
}

// Last returns the bid/ask midpoint, falling back to the last trade price.
// Adapters use it to synthesize a safe limit price for "market" orders on
// exchanges without true market orders.
func (b *Book) Last() float64 {
	bid, ask := b.BestBid(), b.BestAsk()
	if bid > 0 && ask > 0 {
		return (bid + ask) / 2
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastRate
}

// Depth returns up to n levels per side, bids descending and asks ascending.
func (b *Book) Depth(n int) (bids, asks []models.MarketOrder) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	now := time.Now()
	bids = b.levels(b.bids, n, true, now)
	asks = b.levels(b.asks, n, false, now)
	return bids, asks
}

func (b *Book) levels(side map[float64]float64, n int, desc bool, ts time.Time) []models.MarketOrder {
	prices := make([]float64, 0, len(side))
	for price := range side {
		prices = append(prices, price)
	}
	if desc {
		sort.Sort(sort.Reverse(sort.Float64Slice(prices)))
	} else {
		sort.Float64s(prices)
	}
	if n > 0 && len(prices) > n {
		prices = prices[:n]
	}
	out := make([]models.MarketOrder, 0, len(prices))
	for _, price := range prices {
		out = append(out, models.MarketOrder{
			Price:     price,
			Amount:    side[price],
			Pair:      b.pair,
			Exchange:  b.exchange,
			Timestamp: ts,
		})
	}
	return out
}
