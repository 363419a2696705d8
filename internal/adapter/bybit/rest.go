package bybit

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tradeflow/models"
)

const category = "linear"

// restClient implements both the spot-style REST boundary and the margin
// boundary against the v5 unified API, always in the linear category.
type restClient struct {
	client *client
}

type instrumentList struct {
	List []struct {
		Symbol      string `json:"symbol"`
		BaseCoin    string `json:"baseCoin"`
		QuoteCoin   string `json:"quoteCoin"`
		Status      string `json:"status"`
		PriceFilter struct {
			TickSize string `json:"tickSize"`
		} `json:"priceFilter"`
		LotSizeFilter struct {
			QtyStep          string `json:"qtyStep"`
			MinNotionalValue string `json:"minNotionalValue"`
		} `json:"lotSizeFilter"`
	} `json:"list"`
}

func (r *restClient) LoadMarkets(ctx context.Context) (map[string]models.MarketInfo, error) {
	query := url.Values{"category": {category}, "limit": {"1000"}}
	var result instrumentList
	if err := r.client.get(ctx, "/v5/market/instruments-info", query, false, &result); err != nil {
		return nil, err
	}
	out := make(map[string]models.MarketInfo, len(result.List))
	for _, inst := range result.List {
		out[inst.Symbol] = models.MarketInfo{
			Symbol:          inst.Symbol,
			PricePrecision:  stepDecimals(inst.PriceFilter.TickSize),
			AmountPrecision: stepDecimals(inst.LotSizeFilter.QtyStep),
			MinNotional:     parseFloat(inst.LotSizeFilter.MinNotionalValue),
			Active:          inst.Status == "Trading",
		}
	}
	return out, nil
}

type tickerList struct {
	List []struct {
		LastPrice    string `json:"lastPrice"`
		Bid1Price    string `json:"bid1Price"`
		Ask1Price    string `json:"ask1Price"`
		HighPrice24h string `json:"highPrice24h"`
		LowPrice24h  string `json:"lowPrice24h"`
		Volume24h    string `json:"volume24h"`
		Turnover24h  string `json:"turnover24h"`
		Price24hPcnt string `json:"price24hPcnt"`
	} `json:"list"`
}

func (r *restClient) FetchTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	query := url.Values{"category": {category}, "symbol": {symbol}}
	var result tickerList
	if err := r.client.get(ctx, "/v5/market/tickers", query, false, &result); err != nil {
		return nil, err
	}
	if len(result.List) == 0 {
		return nil, models.NewPermanentError(Name, "no ticker for symbol "+symbol)
	}
	t := result.List[0]
	return &models.Ticker{
		Last:          parseFloat(t.LastPrice),
		Bid:           parseFloat(t.Bid1Price),
		Ask:           parseFloat(t.Ask1Price),
		High24h:       parseFloat(t.HighPrice24h),
		Low24h:        parseFloat(t.LowPrice24h),
		BaseVolume:    parseFloat(t.Volume24h),
		QuoteVolume:   parseFloat(t.Turnover24h),
		PercentChange: parseFloat(t.Price24hPcnt) * 100,
		UpdatedAt:     time.Now().UTC(),
	}, nil
}

type orderbookResult struct {
	Symbol   string     `json:"s"`
	Bids     [][]string `json:"b"`
	Asks     [][]string `json:"a"`
	UpdateID uint64     `json:"u"`
}

func (r *restClient) FetchOrderBook(ctx context.Context, symbol string, depth int) (*models.OrderBookUpdate, error) {
	query := url.Values{
		"category": {category},
		"symbol":   {symbol},
		"limit":    {strconv.Itoa(depth)},
	}
	var result orderbookResult
	if err := r.client.get(ctx, "/v5/market/orderbook", query, false, &result); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &models.OrderBookUpdate{
		Seq:        result.UpdateID,
		IsSnapshot: true,
		Bids:       parseLevels(result.Bids, models.CurrencyPair{}, now),
		Asks:       parseLevels(result.Asks, models.CurrencyPair{}, now),
	}, nil
}

type walletBalance struct {
	List []struct {
		Coin []struct {
			Coin    string `json:"coin"`
			Balance string `json:"walletBalance"`
		} `json:"coin"`
	} `json:"list"`
}

func (r *restClient) FetchBalance(ctx context.Context) (map[string]float64, error) {
	query := url.Values{"accountType": {"UNIFIED"}}
	var result walletBalance
	if err := r.client.get(ctx, "/v5/account/wallet-balance", query, true, &result); err != nil {
		return nil, err
	}
	balances := make(map[string]float64)
	for _, acct := range result.List {
		for _, coin := range acct.Coin {
			if bal := parseFloat(coin.Balance); bal > 0 {
				balances[coin.Coin] = bal
			}
		}
	}
	return balances, nil
}

type orderList struct {
	List []struct {
		OrderID   string `json:"orderId"`
		Side      string `json:"side"`
		Price     string `json:"price"`
		LeavesQty string `json:"leavesQty"`
		Leverage  string `json:"leverage"`
	} `json:"list"`
}

func (r *restClient) FetchOpenOrders(ctx context.Context, symbol string) ([]models.OpenOrder, error) {
	query := url.Values{"category": {category}, "symbol": {symbol}}
	var result orderList
	if err := r.client.get(ctx, "/v5/order/realtime", query, true, &result); err != nil {
		return nil, err
	}
	out := make([]models.OpenOrder, 0, len(result.List))
	for _, o := range result.List {
		rate := parseFloat(o.Price)
		remaining := parseFloat(o.LeavesQty)
		out = append(out, models.OpenOrder{
			OrderNumber: o.OrderID,
			Type:        sideToType(o.Side),
			Rate:        rate,
			Amount:      remaining,
			Total:       rate * remaining,
			Leverage:    parseFloat(o.Leverage),
		})
	}
	return out, nil
}

type tradeList struct {
	List []struct {
		ExecID string `json:"execId"`
		Price  string `json:"price"`
		Size   string `json:"size"`
		Side   string `json:"side"`
		Time   string `json:"time"`
	} `json:"list"`
}

// FetchTrades uses the public recent-trade endpoint, which has no time
// filter, and trims to the requested window client side. Deep history is
// simply not available over REST here.
func (r *restClient) FetchTrades(ctx context.Context, symbol string, startMs, endMs int64) ([]models.Trade, error) {
	query := url.Values{
		"category": {category},
		"symbol":   {symbol},
		"limit":    {"1000"},
	}
	var result tradeList
	if err := r.client.get(ctx, "/v5/market/recent-trade", query, false, &result); err != nil {
		return nil, err
	}
	out := make([]models.Trade, 0, len(result.List))
	for i := len(result.List) - 1; i >= 0; i-- { // newest first on the wire
		t := result.List[i]
		ts, _ := strconv.ParseInt(t.Time, 10, 64)
		if ts < startMs || ts > endMs {
			continue
		}
		out = append(out, models.Trade{
			TradeID:  t.ExecID,
			Date:     time.UnixMilli(ts).UTC(),
			Amount:   parseFloat(t.Size),
			Rate:     parseFloat(t.Price),
			Type:     sideToType(t.Side),
			Exchange: Name,
		})
	}
	return out, nil
}

type orderRef struct {
	OrderID string `json:"orderId"`
}

type createOrderRequest struct {
	Category    string `json:"category"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Qty         string `json:"qty"`
	Price       string `json:"price,omitempty"`
	TimeInForce string `json:"timeInForce,omitempty"`
	OrderLinkID string `json:"orderLinkId,omitempty"`
	ReduceOnly  bool   `json:"reduceOnly,omitempty"`
}

func (r *restClient) CreateOrder(ctx context.Context, symbol string, side models.TradeType, rate, amount float64, clientOrderID string) (*models.OrderResult, error) {
	req := createOrderRequest{
		Category:    category,
		Symbol:      symbol,
		Side:        typeToSide(side),
		OrderType:   "Limit",
		Qty:         formatFloat(amount),
		Price:       formatFloat(rate),
		TimeInForce: "GTC",
		OrderLinkID: clientOrderID,
	}
	var ref orderRef
	if err := r.client.post(ctx, "/v5/order/create", req, &ref); err != nil {
		return nil, err
	}
	return &models.OrderResult{Success: true, OrderNumber: ref.OrderID}, nil
}

func (r *restClient) CancelOrder(ctx context.Context, symbol, orderNumber string) error {
	req := map[string]string{
		"category": category,
		"symbol":   symbol,
		"orderId":  orderNumber,
	}
	return r.client.post(ctx, "/v5/order/cancel", req, nil)
}

// Margin boundary. Linear contracts are inherently leveraged, so the margin
// calls reuse the same order endpoints with leverage set per position.

func (r *restClient) CreateMarginOrder(ctx context.Context, symbol string, side models.TradeType, rate, amount, leverage float64, clientOrderID string) (*models.OrderResult, error) {
	if leverage > 0 {
		if err := r.setLeverage(ctx, symbol, leverage); err != nil {
			return nil, err
		}
	}
	return r.CreateOrder(ctx, symbol, side, rate, amount, clientOrderID)
}

func (r *restClient) CancelMarginOrder(ctx context.Context, symbol, orderNumber string) error {
	return r.CancelOrder(ctx, symbol, orderNumber)
}

func (r *restClient) setLeverage(ctx context.Context, symbol string, leverage float64) error {
	lv := formatFloat(leverage)
	req := map[string]string{
		"category":     category,
		"symbol":       symbol,
		"buyLeverage":  lv,
		"sellLeverage": lv,
	}
	err := r.client.post(ctx, "/v5/position/set-leverage", req, nil)
	if err != nil && isLeverageUnchanged(err) {
		return nil
	}
	return err
}

type positionList struct {
	List []struct {
		Symbol        string `json:"symbol"`
		Side          string `json:"side"`
		Size          string `json:"size"`
		LiqPrice      string `json:"liqPrice"`
		UnrealisedPnl string `json:"unrealisedPnl"`
		Leverage      string `json:"leverage"`
	} `json:"list"`
}

func (r *restClient) FetchMarginPosition(ctx context.Context, symbol string) (*models.MarginPosition, error) {
	query := url.Values{"category": {category}, "symbol": {symbol}}
	var result positionList
	if err := r.client.get(ctx, "/v5/position/list", query, true, &result); err != nil {
		return nil, err
	}
	for _, raw := range result.List {
		if pos := toPosition(raw.Side, raw.Size, raw.LiqPrice, raw.UnrealisedPnl, raw.Leverage); pos != nil {
			return pos, nil
		}
	}
	return nil, nil
}

func (r *restClient) FetchAllMarginPositions(ctx context.Context) (map[string]models.MarginPosition, error) {
	query := url.Values{"category": {category}, "settleCoin": {"USDT"}}
	var result positionList
	if err := r.client.get(ctx, "/v5/position/list", query, true, &result); err != nil {
		return nil, err
	}
	out := make(map[string]models.MarginPosition)
	for _, raw := range result.List {
		if pos := toPosition(raw.Side, raw.Size, raw.LiqPrice, raw.UnrealisedPnl, raw.Leverage); pos != nil {
			out[raw.Symbol] = *pos
		}
	}
	return out, nil
}

type marginAccount struct {
	List []struct {
		TotalEquity           string `json:"totalEquity"`
		TotalPerpUPL          string `json:"totalPerpUPL"`
		TotalMarginBalance    string `json:"totalMarginBalance"`
		TotalAvailableBalance string `json:"totalAvailableBalance"`
		TotalInitialMargin    string `json:"totalInitialMargin"`
	} `json:"list"`
}

func (r *restClient) FetchMarginAccountSummary(ctx context.Context) (*models.MarginAccountSummary, error) {
	query := url.Values{"accountType": {"UNIFIED"}}
	var result marginAccount
	if err := r.client.get(ctx, "/v5/account/wallet-balance", query, true, &result); err != nil {
		return nil, err
	}
	if len(result.List) == 0 {
		return &models.MarginAccountSummary{}, nil
	}
	acct := result.List[0]
	total := parseFloat(acct.TotalEquity)
	borrowed := parseFloat(acct.TotalInitialMargin)
	summary := &models.MarginAccountSummary{
		TotalValue:         total,
		ProfitLoss:         parseFloat(acct.TotalPerpUPL),
		NetValue:           parseFloat(acct.TotalMarginBalance),
		TotalBorrowedValue: borrowed,
	}
	if total > 0 {
		summary.CurrentMargin = parseFloat(acct.TotalAvailableBalance) / total
	}
	return summary, nil
}

// CloseMarginPosition flattens the position with a reduce-only market order
// on the opposite side.
func (r *restClient) CloseMarginPosition(ctx context.Context, symbol string) (*models.OrderResult, error) {
	pos, err := r.FetchMarginPosition(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if pos == nil || !pos.IsOpen() {
		return &models.OrderResult{Success: true, Message: "no open position"}, nil
	}
	side := "Sell"
	if pos.Type == models.PositionShort {
		side = "Buy"
	}
	req := createOrderRequest{
		Category:   category,
		Symbol:     symbol,
		Side:       side,
		OrderType:  "Market",
		Qty:        formatFloat(abs(pos.Amount)),
		ReduceOnly: true,
	}
	var ref orderRef
	if err := r.client.post(ctx, "/v5/order/create", req, &ref); err != nil {
		return nil, err
	}
	return &models.OrderResult{Success: true, OrderNumber: ref.OrderID}, nil
}

func toPosition(side, size, liqPrice, pnl, leverage string) *models.MarginPosition {
	amount := parseFloat(size)
	if amount == 0 {
		return nil
	}
	if side == "Sell" {
		amount = -amount
	}
	pos := models.NewMarginPosition(amount)
	pos.LiquidationPrice = parseFloat(liqPrice)
	pos.ProfitLoss = parseFloat(pnl)
	pos.Leverage = parseFloat(leverage)
	return &pos
}

func sideToType(side string) models.TradeType {
	if side == "Sell" {
		return models.TradeSell
	}
	return models.TradeBuy
}

func typeToSide(t models.TradeType) string {
	if t == models.TradeSell {
		return "Sell"
	}
	return "Buy"
}

// isLeverageUnchanged matches retCode 110043, returned when the requested
// leverage equals the current one.
func isLeverageUnchanged(err error) bool {
	return err != nil && strings.Contains(err.Error(), "110043")
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
