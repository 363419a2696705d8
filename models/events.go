package models

// MarketEvent is the internal boundary contract between transport parsing and
// the stream/book logic. It is the typed rendition of the wire tuples
//
//	["t", tradeID, side, price, amount, timestampSec]    trade
//	["o", bidFlag, price, amount]                        order book delta
//	["of", bidFlag, price, amount]                       order book full level
//
// and must be preserved exactly for downstream consumers.
type EventKind string

const (
	EventTrade    EventKind = "t"
	EventBookMod  EventKind = "o"
	EventBookFull EventKind = "of"
)

type MarketEvent struct {
	Kind EventKind

	// Trade fields.
	TradeID   string
	Side      TradeType
	Timestamp int64 // unix seconds, trades only

	// Book fields. Bid selects the side; Amount 0 removes the level,
	// any other amount replaces it outright (deltas are absolute).
	Bid bool

	Price  float64
	Amount float64
}

// TradeEvent builds a "t" tuple.
func TradeEvent(tradeID string, side TradeType, price, amount float64, tsSec int64) MarketEvent {
	return MarketEvent{Kind: EventTrade, TradeID: tradeID, Side: side, Price: price, Amount: amount, Timestamp: tsSec}
}

// BookModEvent builds an "o" tuple.
func BookModEvent(bid bool, price, amount float64) MarketEvent {
	return MarketEvent{Kind: EventBookMod, Bid: bid, Price: price, Amount: amount}
}

// BookFullEvent builds an "of" tuple, used when relaying snapshot levels.
func BookFullEvent(bid bool, price, amount float64) MarketEvent {
	return MarketEvent{Kind: EventBookFull, Bid: bid, Price: price, Amount: amount}
}
