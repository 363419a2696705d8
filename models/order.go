package models

// OrderResult is the normalized outcome of a placed, moved or cancelled order.
// Message carries benign non-errors such as "order already filled"; Success
// stays true in those cases.
type OrderResult struct {
	Success         bool               `json:"success"`
	OrderNumber     string             `json:"order_number,omitempty"`
	ResultingTrades map[string][]Trade `json:"resulting_trades,omitempty"`
	Message         string             `json:"message,omitempty"`
}

// OpenOrder is one resting order on the exchange.
type OpenOrder struct {
	OrderNumber string    `json:"order_number"`
	Type        TradeType `json:"type"`
	Rate        float64   `json:"rate"`
	Amount      float64   `json:"amount"`
	Total       float64   `json:"total"`
	Leverage    float64   `json:"leverage,omitempty"`
}

// OpenOrders is the set of resting orders for one pair.
type OpenOrders struct {
	Pair     CurrencyPair `json:"pair"`
	Exchange string       `json:"exchange"`
	Orders   []OpenOrder  `json:"orders"`
}

func (o *OpenOrders) Add(order OpenOrder) {
	o.Orders = append(o.Orders, order)
}

// Get returns the order with the given number, or nil.
func (o *OpenOrders) Get(orderNumber string) *OpenOrder {
	for i := range o.Orders {
		if o.Orders[i].OrderNumber == orderNumber {
			return &o.Orders[i]
		}
	}
	return nil
}

func (o *OpenOrders) Has(orderNumber string) bool {
	return o.Get(orderNumber) != nil
}
