package binance

import (
	"context"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"

	"tradeflow/models"
)

// restClient adapts the go-binance spot client to the generic REST boundary.
// All numeric fields come back as strings and are parsed here, at the edge.
type restClient struct {
	client *binance.Client
}

func (r *restClient) LoadMarkets(ctx context.Context) (map[string]models.MarketInfo, error) {
	info, err := r.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.MarketInfo, len(info.Symbols))
	for _, s := range info.Symbols {
		out[s.Symbol] = models.MarketInfo{
			Symbol:          s.Symbol,
			PricePrecision:  int32(s.QuotePrecision),
			AmountPrecision: int32(s.BaseAssetPrecision),
			Active:          s.Status == "TRADING",
		}
	}
	return out, nil
}

func (r *restClient) FetchTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	stats, err := r.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(stats) == 0 {
		return nil, models.NewPermanentError(Name, "no ticker for symbol "+symbol)
	}
	s := stats[0]
	return &models.Ticker{
		Last:          parseFloat(s.LastPrice),
		Bid:           parseFloat(s.BidPrice),
		Ask:           parseFloat(s.AskPrice),
		High24h:       parseFloat(s.HighPrice),
		Low24h:        parseFloat(s.LowPrice),
		BaseVolume:    parseFloat(s.Volume),
		QuoteVolume:   parseFloat(s.QuoteVolume),
		PercentChange: parseFloat(s.PriceChangePercent),
		UpdatedAt:     time.Now().UTC(),
	}, nil
}

func (r *restClient) FetchOrderBook(ctx context.Context, symbol string, depth int) (*models.OrderBookUpdate, error) {
	res, err := r.client.NewDepthService().Symbol(symbol).Limit(depth).Do(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	update := &models.OrderBookUpdate{
		Seq:        uint64(res.LastUpdateID),
		IsSnapshot: true,
		Bids:       make([]models.MarketOrder, 0, len(res.Bids)),
		Asks:       make([]models.MarketOrder, 0, len(res.Asks)),
	}
	for _, b := range res.Bids {
		update.Bids = append(update.Bids, models.MarketOrder{
			Price: parseFloat(b.Price), Amount: parseFloat(b.Quantity), Exchange: Name, Timestamp: now,
		})
	}
	for _, a := range res.Asks {
		update.Asks = append(update.Asks, models.MarketOrder{
			Price: parseFloat(a.Price), Amount: parseFloat(a.Quantity), Exchange: Name, Timestamp: now,
		})
	}
	return update, nil
}

func (r *restClient) FetchBalance(ctx context.Context) (map[string]float64, error) {
	account, err := r.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, err
	}
	balances := make(map[string]float64)
	for _, b := range account.Balances {
		free := parseFloat(b.Free)
		if free > 0 {
			balances[b.Asset] = free
		}
	}
	return balances, nil
}

func (r *restClient) FetchOpenOrders(ctx context.Context, symbol string) ([]models.OpenOrder, error) {
	orders, err := r.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.OpenOrder, 0, len(orders))
	for _, o := range orders {
		rate := parseFloat(o.Price)
		remaining := parseFloat(o.OrigQuantity) - parseFloat(o.ExecutedQuantity)
		out = append(out, models.OpenOrder{
			OrderNumber: strconv.FormatInt(o.OrderID, 10),
			Type:        models.TradeType(o.Side),
			Rate:        rate,
			Amount:      remaining,
			Total:       rate * remaining,
		})
	}
	return out, nil
}

func (r *restClient) FetchTrades(ctx context.Context, symbol string, startMs, endMs int64) ([]models.Trade, error) {
	trades, err := r.client.NewAggTradesService().
		Symbol(symbol).
		StartTime(startMs).
		EndTime(endMs).
		Limit(1000).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Trade, 0, len(trades))
	for _, t := range trades {
		// buyer-is-maker means the taker sold into the bid
		side := models.TradeBuy
		if t.IsBuyerMaker {
			side = models.TradeSell
		}
		out = append(out, models.Trade{
			TradeID:  strconv.FormatInt(t.AggTradeID, 10),
			Date:     time.UnixMilli(t.Timestamp).UTC(),
			Amount:   parseFloat(t.Quantity),
			Rate:     parseFloat(t.Price),
			Type:     side,
			Exchange: Name,
		})
	}
	return out, nil
}

func (r *restClient) CreateOrder(ctx context.Context, symbol string, side models.TradeType, rate, amount float64, clientOrderID string) (*models.OrderResult, error) {
	res, err := r.client.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideType(side)).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(formatFloat(amount)).
		Price(formatFloat(rate)).
		NewClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	result := &models.OrderResult{
		Success:     true,
		OrderNumber: strconv.FormatInt(res.OrderID, 10),
	}
	if len(res.Fills) > 0 {
		trades := make([]models.Trade, 0, len(res.Fills))
		for _, f := range res.Fills {
			trades = append(trades, models.Trade{
				Date:     time.Now().UTC(),
				Amount:   parseFloat(f.Quantity),
				Rate:     parseFloat(f.Price),
				Type:     side,
				Exchange: Name,
				Fee:      parseFloat(f.Commission),
			})
		}
		result.ResultingTrades = map[string][]models.Trade{symbol: trades}
	}
	return result, nil
}

func (r *restClient) CancelOrder(ctx context.Context, symbol, orderNumber string) error {
	id, err := strconv.ParseInt(orderNumber, 10, 64)
	if err != nil {
		return models.NewPermanentError(Name, "invalid order number "+orderNumber)
	}
	_, err = r.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	return err
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
