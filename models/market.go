package models

import "time"

// Ticker holds the last known market summary for one pair. REST-backed
// adapters replace the whole struct on refresh; websocket-fed adapters mutate
// individual fields as events arrive.
type Ticker struct {
	Pair          CurrencyPair `json:"pair"`
	Last          float64      `json:"last"`
	Bid           float64      `json:"bid"`
	Ask           float64      `json:"ask"`
	High24h       float64      `json:"high_24h"`
	Low24h        float64      `json:"low_24h"`
	BaseVolume    float64      `json:"base_volume"`
	QuoteVolume   float64      `json:"quote_volume"`
	PercentChange float64      `json:"percent_change"`
	IsFrozen      bool         `json:"is_frozen"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// MarketOrder is a single order book level.
type MarketOrder struct {
	Price     float64      `json:"price"`
	Amount    float64      `json:"amount"`
	Pair      CurrencyPair `json:"pair"`
	Exchange  string       `json:"exchange"`
	Timestamp time.Time    `json:"timestamp"`
}

// OrderBookUpdate carries either a full snapshot or a list of incremental
// deltas for one pair, always tagged with the exchange sequence number.
type OrderBookUpdate struct {
	Pair       CurrencyPair  `json:"pair"`
	Exchange   string        `json:"exchange"`
	Seq        uint64        `json:"seq"`
	IsSnapshot bool          `json:"is_snapshot"`
	Bids       []MarketOrder `json:"bids"`
	Asks       []MarketOrder `json:"asks"`
}

// MarketInfo describes one tradable market as reported by the exchange.
type MarketInfo struct {
	Symbol          string       `json:"symbol"`
	Pair            CurrencyPair `json:"pair"`
	PricePrecision  int32        `json:"price_precision"`
	AmountPrecision int32        `json:"amount_precision"`
	MinNotional     float64      `json:"min_notional"`
	Active          bool         `json:"active"`
}
