package models

// PositionType is the direction of a margin position.
type PositionType string

const (
	PositionLong  PositionType = "long"
	PositionShort PositionType = "short"
	PositionNone  PositionType = "none"
)

// MarginPosition is one open margin or futures position. Amount is signed:
// negative means short. Contracts is only set on futures-style exchanges
// whose native unit is a contract count rather than a base-currency amount.
type MarginPosition struct {
	Amount           float64      `json:"amount"`
	Type             PositionType `json:"type"`
	LiquidationPrice float64      `json:"liquidation_price,omitempty"`
	ProfitLoss       float64      `json:"pl"`
	Leverage         float64      `json:"leverage,omitempty"`
	Contracts        int64        `json:"contracts,omitempty"`
}

// NewMarginPosition derives the position type from the sign of amount.
func NewMarginPosition(amount float64) MarginPosition {
	p := MarginPosition{Amount: amount}
	switch {
	case amount < 0:
		p.Type = PositionShort
	case amount > 0:
		p.Type = PositionLong
	default:
		p.Type = PositionNone
	}
	return p
}

func (p MarginPosition) IsOpen() bool {
	return p.Type != PositionNone
}

// MarginAccountSummary is the aggregate margin account state.
// CurrentMargin is a ratio in [0,1].
type MarginAccountSummary struct {
	TotalValue         float64 `json:"total_value"`
	ProfitLoss         float64 `json:"pl"`
	CurrentMargin      float64 `json:"current_margin"`
	NetValue           float64 `json:"net_value"`
	TotalBorrowedValue float64 `json:"total_borrowed_value"`
}
