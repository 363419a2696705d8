// Package channel carries normalized market data from the adapters to the
// downstream consumers (strategy layer, persistence). Sends never block the
// event-processing path: when a consumer falls behind, messages are counted
// and dropped.
package channel

import (
	"context"
	"sync"

	"tradeflow/logger"
	"tradeflow/models"
)

type Stats struct {
	TradesSent    int64
	TradesDropped int64
	BooksSent     int64
	BooksDropped  int64
}

type Channels struct {
	Trades chan models.Trade
	Books  chan models.OrderBookUpdate

	mu    sync.RWMutex
	stats Stats
	log   *logger.Log
}

func NewChannels(tradeBuffer, bookBuffer int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Trades: make(chan models.Trade, tradeBuffer),
		Books:  make(chan models.OrderBookUpdate, bookBuffer),
		log:    log,
	}
	log.WithComponent("channels").WithFields(logger.Fields{
		"trade_buffer": tradeBuffer,
		"book_buffer":  bookBuffer,
	}).Info("market data channels initialized")
	return c
}

func (c *Channels) Close() {
	close(c.Trades)
	close(c.Books)
	c.log.WithComponent("channels").Info("market data channels closed")
}

// SendTrade forwards one trade, reporting false when it was dropped. A
// cancelled context is not counted as a drop.
func (c *Channels) SendTrade(ctx context.Context, trade models.Trade) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case c.Trades <- trade:
		c.count(func(s *Stats) { s.TradesSent++ })
		logger.IncrementTrade()
		return true
	case <-ctx.Done():
		return false
	default:
		c.count(func(s *Stats) { s.TradesDropped++ })
		return false
	}
}

// SendBook forwards one order book update, reporting false when dropped. A
// cancelled context is not counted as a drop.
func (c *Channels) SendBook(ctx context.Context, update models.OrderBookUpdate) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case c.Books <- update:
		c.count(func(s *Stats) { s.BooksSent++ })
		logger.IncrementBook()
		return true
	case <-ctx.Done():
		return false
	default:
		c.count(func(s *Stats) { s.BooksDropped++ })
		return false
	}
}

func (c *Channels) count(f func(*Stats)) {
	c.mu.Lock()
	f(&c.stats)
	c.mu.Unlock()
}

func (c *Channels) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}
