package models

import "time"

// TradeType is the taker side of an executed trade.
type TradeType string

const (
	TradeBuy  TradeType = "BUY"
	TradeSell TradeType = "SELL"
)

// Trade is one executed trade, immutable once constructed. Some exchanges do
// not report the taker side; adapters then infer it by comparing the rate to
// the last known trade price for the pair. The inference is best effort and
// never corrected retroactively.
type Trade struct {
	TradeID  string       `json:"trade_id"`
	Date     time.Time    `json:"date"`
	Amount   float64      `json:"amount"`
	Rate     float64      `json:"rate"`
	Type     TradeType    `json:"type"`
	Pair     CurrencyPair `json:"pair"`
	Exchange string       `json:"exchange"`
	Fee      float64      `json:"fee,omitempty"`
}

// Total returns the quote-currency value of the trade.
func (t Trade) Total() float64 {
	return t.Amount * t.Rate
}

// InferTradeSide derives the taker side from the last known trade price.
// A rate at or above the previous price reads as a buy.
func InferTradeSide(rate, lastRate float64) TradeType {
	if lastRate > 0 && rate < lastRate {
		return TradeSell
	}
	return TradeBuy
}
