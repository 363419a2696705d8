package adapter

import (
	"context"

	"tradeflow/models"
)

// Buy places a limit buy order.
func (a *Adapter) Buy(ctx context.Context, p models.CurrencyPair, rate, amount float64) (*models.OrderResult, error) {
	return a.placeOrder(ctx, p, models.TradeBuy, rate, amount)
}

// Sell places a limit sell order.
func (a *Adapter) Sell(ctx context.Context, p models.CurrencyPair, rate, amount float64) (*models.OrderResult, error) {
	return a.placeOrder(ctx, p, models.TradeSell, rate, amount)
}

func (a *Adapter) placeOrder(ctx context.Context, p models.CurrencyPair, side models.TradeType, rate, amount float64) (*models.OrderResult, error) {
	symbol, rate, amount, err := a.verifyTradeRequest(p, rate, amount)
	if err != nil {
		return nil, err
	}
	var result *models.OrderResult
	err = a.reqs.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = a.rest.CreateOrder(ctx, symbol, side, rate, amount, a.clientOrderID())
		return err
	})
	if err != nil {
		return nil, a.wrap("create order", err)
	}
	return result, nil
}

// CancelOrder cancels a resting order. An order that is already gone (filled
// or cancelled) is treated as a successful cancel with an explanatory
// message, since callers cancel to make sure the order no longer rests.
func (a *Adapter) CancelOrder(ctx context.Context, p models.CurrencyPair, orderNumber string) (*models.OrderResult, error) {
	symbol, ok := a.caps.Codec.ToSymbol(p)
	if !ok {
		return nil, models.NewPermanentError(a.caps.Name, "unsupported pair "+p.String())
	}
	err := a.reqs.Do(ctx, func(ctx context.Context) error {
		return a.rest.CancelOrder(ctx, symbol, orderNumber)
	})
	if err != nil {
		if isOrderGone(err) {
			return &models.OrderResult{Success: true, OrderNumber: orderNumber, Message: "order already gone"}, nil
		}
		return nil, a.wrap("cancel order", err)
	}
	return &models.OrderResult{Success: true, OrderNumber: orderNumber}, nil
}

// MoveOrder cancels an order and places a replacement at a new rate. The
// side always comes from the resting order; a zero amount re-uses its
// remaining amount. An order that cannot be looked up fails the move before
// anything is cancelled.
func (a *Adapter) MoveOrder(ctx context.Context, p models.CurrencyPair, orderNumber string, rate, amount float64) (*models.OrderResult, error) {
	open, err := a.GetOpenOrders(ctx, p)
	if err != nil {
		return nil, err
	}
	order := open.Get(orderNumber)
	if order == nil {
		return nil, models.NewPermanentError(a.caps.Name, "order "+orderNumber+" not found, cannot move")
	}
	side := order.Type
	if amount <= 0 {
		amount = order.Amount
	}
	cancel, err := a.CancelOrder(ctx, p, orderNumber)
	if err != nil {
		return nil, err
	}
	result, err := a.placeOrder(ctx, p, side, rate, amount)
	if err != nil {
		return nil, err
	}
	result.Message = cancel.Message
	return result, nil
}

// verifyTradeRequest validates and normalizes an order before it reaches the
// exchange. Violations are permanent: retrying the identical request can
// never succeed.
func (a *Adapter) verifyTradeRequest(p models.CurrencyPair, rate, amount float64) (symbol string, outRate, outAmount float64, err error) {
	symbol, ok := a.caps.Codec.ToSymbol(p)
	if !ok {
		return "", 0, 0, models.NewPermanentError(a.caps.Name, "unsupported pair "+p.String())
	}
	if rate <= 0 {
		return "", 0, 0, models.NewPermanentError(a.caps.Name, "rate must be positive")
	}
	if amount == 0 {
		return "", 0, 0, models.NewPermanentError(a.caps.Name, "amount must be non-zero")
	}
	rate = roundRate(rate, a.rateDecimals(p))
	amount = roundAmount(amount, a.amountDecimals(p))
	if min := a.minNotional(p); min > 0 && abs(amount)*rate < min {
		return "", 0, 0, models.NewPermanentError(a.caps.Name, "order total below exchange minimum")
	}
	return symbol, rate, amount, nil
}

func (a *Adapter) rateDecimals(p models.CurrencyPair) int32 {
	if d, ok := a.caps.RateDecimals[p.Key()]; ok {
		return d
	}
	a.mu.RLock()
	info, ok := a.infos[p.Key()]
	a.mu.RUnlock()
	if ok && info.PricePrecision > 0 {
		return info.PricePrecision
	}
	return defaultDecimals
}

func (a *Adapter) amountDecimals(p models.CurrencyPair) int32 {
	if d, ok := a.caps.AmountDecimals[p.Key()]; ok {
		return d
	}
	a.mu.RLock()
	info, ok := a.infos[p.Key()]
	a.mu.RUnlock()
	if ok && info.AmountPrecision > 0 {
		return info.AmountPrecision
	}
	return defaultDecimals
}

func (a *Adapter) minNotional(p models.CurrencyPair) float64 {
	a.mu.RLock()
	info, ok := a.infos[p.Key()]
	a.mu.RUnlock()
	if ok && info.MinNotional > 0 {
		return info.MinNotional
	}
	return a.caps.MinNotional
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
