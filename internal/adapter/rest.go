package adapter

import (
	"context"
	"strings"

	"tradeflow/models"
)

// RestClient is the boundary to the exchange's REST API, or to a generic
// multi-exchange trading library wrapped behind it. Implementations speak
// exchange-native symbols; the adapter applies the currency-pair codec before
// and after every call and converts library-native errors into the
// normalized ExchangeError shape.
type RestClient interface {
	// LoadMarkets lists tradable markets keyed by exchange-native symbol.
	LoadMarkets(ctx context.Context) (map[string]models.MarketInfo, error)
	FetchTicker(ctx context.Context, symbol string) (*models.Ticker, error)
	FetchOrderBook(ctx context.Context, symbol string, depth int) (*models.OrderBookUpdate, error)
	FetchBalance(ctx context.Context) (map[string]float64, error)
	FetchOpenOrders(ctx context.Context, symbol string) ([]models.OpenOrder, error)
	// FetchTrades returns trades within [startMs, endMs] in ascending order.
	FetchTrades(ctx context.Context, symbol string, startMs, endMs int64) ([]models.Trade, error)
	CreateOrder(ctx context.Context, symbol string, side models.TradeType, rate, amount float64, clientOrderID string) (*models.OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderNumber string) error
}

// MarginClient extends a RestClient with margin or futures trading. Adapters
// without one reject margin calls with a permanent error. Futures-style
// implementations receive amounts already converted to contract counts.
type MarginClient interface {
	CreateMarginOrder(ctx context.Context, symbol string, side models.TradeType, rate, amount, leverage float64, clientOrderID string) (*models.OrderResult, error)
	CancelMarginOrder(ctx context.Context, symbol, orderNumber string) error
	FetchMarginPosition(ctx context.Context, symbol string) (*models.MarginPosition, error)
	FetchAllMarginPositions(ctx context.Context) (map[string]models.MarginPosition, error)
	FetchMarginAccountSummary(ctx context.Context) (*models.MarginAccountSummary, error)
	CloseMarginPosition(ctx context.Context, symbol string) (*models.OrderResult, error)
}

// orderGoneFragments are responses that mean the order is already filled or
// cancelled. Cancelling such an order is a benign non-error.
var orderGoneFragments = []string{
	"order not found",
	"unknown order",
	"order does not exist",
	"order not exists",
	"already filled",
	"already cancelled",
	"already canceled",
	"-2011", // binance UNKNOWN_ORDER
}

func isOrderGone(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, frag := range orderGoneFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}
