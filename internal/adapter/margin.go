package adapter

import (
	"context"

	"tradeflow/models"
)

func (a *Adapter) marginClient() (MarginClient, error) {
	if !a.SupportsMargin() {
		return nil, models.NewPermanentError(a.caps.Name, "margin trading not supported")
	}
	return a.margin, nil
}

// MarginBuy opens or extends a long position.
func (a *Adapter) MarginBuy(ctx context.Context, p models.CurrencyPair, rate, amount, leverage float64) (*models.OrderResult, error) {
	return a.placeMarginOrder(ctx, p, models.TradeBuy, rate, amount, leverage)
}

// MarginSell opens or extends a short position.
func (a *Adapter) MarginSell(ctx context.Context, p models.CurrencyPair, rate, amount, leverage float64) (*models.OrderResult, error) {
	return a.placeMarginOrder(ctx, p, models.TradeSell, rate, amount, leverage)
}

func (a *Adapter) placeMarginOrder(ctx context.Context, p models.CurrencyPair, side models.TradeType, rate, amount, leverage float64) (*models.OrderResult, error) {
	mc, err := a.marginClient()
	if err != nil {
		return nil, err
	}
	symbol, rate, amount, err := a.verifyTradeRequest(p, rate, amount)
	if err != nil {
		return nil, err
	}
	// inverse-contract markets trade integer contract counts, not base amounts
	if cv, ok := a.caps.ContractValues[p.To]; ok {
		amount = float64(contracts(amount, rate, cv))
	}
	var result *models.OrderResult
	err = a.reqs.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = mc.CreateMarginOrder(ctx, symbol, side, rate, amount, leverage, a.clientOrderID())
		return err
	})
	if err != nil {
		return nil, a.wrap("create margin order", err)
	}
	return result, nil
}

// MarginCancelOrder cancels a resting margin order; an already-gone order is
// a benign success, matching the spot cancel semantics.
func (a *Adapter) MarginCancelOrder(ctx context.Context, p models.CurrencyPair, orderNumber string) (*models.OrderResult, error) {
	mc, err := a.marginClient()
	if err != nil {
		return nil, err
	}
	symbol, ok := a.caps.Codec.ToSymbol(p)
	if !ok {
		return nil, models.NewPermanentError(a.caps.Name, "unsupported pair "+p.String())
	}
	err = a.reqs.Do(ctx, func(ctx context.Context) error {
		return mc.CancelMarginOrder(ctx, symbol, orderNumber)
	})
	if err != nil {
		if isOrderGone(err) {
			return &models.OrderResult{Success: true, OrderNumber: orderNumber, Message: "order already gone"}, nil
		}
		return nil, a.wrap("cancel margin order", err)
	}
	return &models.OrderResult{Success: true, OrderNumber: orderNumber}, nil
}

// MoveMarginOrder cancels a margin order and re-places it at a new rate with
// the same side and leverage.
func (a *Adapter) MoveMarginOrder(ctx context.Context, p models.CurrencyPair, orderNumber string, rate, amount float64) (*models.OrderResult, error) {
	if _, err := a.marginClient(); err != nil {
		return nil, err
	}
	open, err := a.GetOpenOrders(ctx, p)
	if err != nil {
		return nil, err
	}
	order := open.Get(orderNumber)
	if order == nil {
		return nil, models.NewPermanentError(a.caps.Name, "order "+orderNumber+" not found, cannot move")
	}
	if amount <= 0 {
		amount = order.Amount
	}
	cancel, err := a.MarginCancelOrder(ctx, p, orderNumber)
	if err != nil {
		return nil, err
	}
	result, err := a.placeMarginOrder(ctx, p, order.Type, rate, amount, order.Leverage)
	if err != nil {
		return nil, err
	}
	result.Message = cancel.Message
	return result, nil
}

// GetMarginPosition returns the open position for a pair, a closed sentinel
// (type "none") when no position is open.
func (a *Adapter) GetMarginPosition(ctx context.Context, p models.CurrencyPair) (*models.MarginPosition, error) {
	mc, err := a.marginClient()
	if err != nil {
		return nil, err
	}
	symbol, ok := a.caps.Codec.ToSymbol(p)
	if !ok {
		return nil, models.NewPermanentError(a.caps.Name, "unsupported pair "+p.String())
	}
	var pos *models.MarginPosition
	err = a.reqs.Do(ctx, func(ctx context.Context) error {
		var err error
		pos, err = mc.FetchMarginPosition(ctx, symbol)
		return err
	})
	if err != nil {
		return nil, a.wrap("fetch margin position", err)
	}
	if pos == nil {
		pos = &models.MarginPosition{Type: models.PositionNone}
	}
	return pos, nil
}

// GetAllMarginPositions returns every open position keyed by pair key.
func (a *Adapter) GetAllMarginPositions(ctx context.Context) (map[string]models.MarginPosition, error) {
	mc, err := a.marginClient()
	if err != nil {
		return nil, err
	}
	var raw map[string]models.MarginPosition
	err = a.reqs.Do(ctx, func(ctx context.Context) error {
		var err error
		raw, err = mc.FetchAllMarginPositions(ctx)
		return err
	})
	if err != nil {
		return nil, a.wrap("fetch margin positions", err)
	}
	out := make(map[string]models.MarginPosition, len(raw))
	for symbol, pos := range raw {
		p, ok := a.caps.Codec.ToPair(symbol)
		if !ok {
			continue
		}
		out[p.Key()] = pos
	}
	return out, nil
}

// GetMarginAccountSummary returns account-level margin figures.
func (a *Adapter) GetMarginAccountSummary(ctx context.Context) (*models.MarginAccountSummary, error) {
	mc, err := a.marginClient()
	if err != nil {
		return nil, err
	}
	var summary *models.MarginAccountSummary
	err = a.reqs.Do(ctx, func(ctx context.Context) error {
		var err error
		summary, err = mc.FetchMarginAccountSummary(ctx)
		return err
	})
	if err != nil {
		return nil, a.wrap("fetch margin account summary", err)
	}
	return summary, nil
}

// ClosePosition closes the open position for a pair at market.
func (a *Adapter) ClosePosition(ctx context.Context, p models.CurrencyPair) (*models.OrderResult, error) {
	mc, err := a.marginClient()
	if err != nil {
		return nil, err
	}
	symbol, ok := a.caps.Codec.ToSymbol(p)
	if !ok {
		return nil, models.NewPermanentError(a.caps.Name, "unsupported pair "+p.String())
	}
	var result *models.OrderResult
	err = a.reqs.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = mc.CloseMarginPosition(ctx, symbol)
		return err
	})
	if err != nil {
		return nil, a.wrap("close position", err)
	}
	return result, nil
}
