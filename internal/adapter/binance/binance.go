// Package binance wires the spot exchange to the generic adapter: REST via
// the go-binance client, market data via the combined websocket stream.
package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"

	"tradeflow/internal/adapter"
	"tradeflow/internal/channel"
	"tradeflow/internal/history"
	"tradeflow/internal/pair"
	"tradeflow/internal/store"
	"tradeflow/internal/ws"
	"tradeflow/logger"
	"tradeflow/models"
)

const Name = "binance"

const defaultStreamURL = "wss://stream.binance.com:9443/stream"

// defaultCurrencies seeds the symbol codec; concatenated symbols can only be
// split against a known currency set.
var defaultCurrencies = []string{
	"BTC", "ETH", "BNB", "USDT", "USDC", "BUSD", "TUSD", "XRP", "ADA",
	"DOGE", "SOL", "DOT", "LTC", "TRX", "AVAX", "LINK", "MATIC", "ATOM",
	"UNI", "XLM", "ETC", "FIL", "APT", "ARB", "OP", "NEAR", "WAVES",
}

// Config carries the exchange credentials and endpoint overrides.
type Config struct {
	APIKey      string
	APISecret   string
	RestURL     string        // empty means the library default
	StreamURL   string        // empty means defaultStreamURL
	HTTPTimeout time.Duration // 0 means no client timeout
	WSTimeout   time.Duration
	BrokerID    string
	Currencies  []string // extends defaultCurrencies
	Proxies     []string
	History     history.Options
}

// Exchange is the Binance integration: the embedded adapter provides the
// trading and market-data contract, the websocket connection keeps the
// subscribed books and trades flowing.
type Exchange struct {
	*adapter.Adapter

	cfg   Config
	codec pair.Codec
	conn  *ws.Conn
	log   *logger.Entry

	// per-stream trade batch counter, touched only from the websocket
	// lifecycle goroutine
	tradeSeq map[string]uint64
}

// New builds the exchange around its REST client. The websocket is opened by
// Start once the pair set is known.
func New(cfg Config, st store.TradeStore, out *channel.Channels) *Exchange {
	client := binance.NewClient(cfg.APIKey, cfg.APISecret)
	if cfg.RestURL != "" {
		client.BaseURL = cfg.RestURL
	}
	if cfg.HTTPTimeout > 0 || len(cfg.Proxies) > 0 {
		client.HTTPClient = &http.Client{
			Transport: &http.Transport{
				Proxy:           proxyFunc(cfg.Proxies),
				MaxIdleConns:    16,
				MaxConnsPerHost: 16,
				IdleConnTimeout: 90 * time.Second,
			},
			Timeout: cfg.HTTPTimeout,
		}
	}
	codec := pair.NewNoSeparatorCodec(
		append(append([]string{}, defaultCurrencies...), cfg.Currencies...),
		pair.NoSepReversed(),
	)
	caps := adapter.Capabilities{
		Name:        Name,
		Codec:       codec,
		MinNotional: 10, // exchange-wide NOTIONAL floor in USDT terms
		BrokerID:    cfg.BrokerID,
	}
	e := &Exchange{
		cfg:      cfg,
		codec:    codec,
		log:      logger.GetLogger().WithComponent("binance").WithFields(logger.Fields{"exchange": Name}),
		tradeSeq: make(map[string]uint64),
	}
	e.Adapter = adapter.New(caps, &restClient{client: client}, st, out,
		adapter.WithHistoryOptions(cfg.History))
	return e
}

// Start primes the requested markets and opens the combined market stream.
func (e *Exchange) Start(ctx context.Context, pairs []models.CurrencyPair) error {
	e.Adapter.Start(ctx)
	if err := e.SubscribeToMarkets(ctx, pairs); err != nil {
		return err
	}
	if len(pairs) == 0 {
		return nil
	}

	url, err := e.streamURL(pairs)
	if err != nil {
		return err
	}
	e.conn = ws.New(ws.Dial(url), ws.Options{
		Exchange:  Name,
		Timeout:   e.cfg.WSTimeout,
		OnMessage: e.onMessage,
		OnConnect: func(ws.Transport) error {
			// the feed restarts from scratch, so must the local books
			e.tradeSeq = make(map[string]uint64)
			e.ResyncAll(ctx)
			return nil
		},
	})
	e.conn.Start(ctx)
	return nil
}

// Stop closes the websocket and drains the request queue.
func (e *Exchange) Stop() {
	if e.conn != nil {
		e.conn.Stop()
	}
	e.Adapter.Stop()
}

// streamURL builds the combined-stream endpoint: a partial book snapshot
// stream and a trade stream per subscribed symbol.
func (e *Exchange) streamURL(pairs []models.CurrencyPair) (string, error) {
	base := e.cfg.StreamURL
	if base == "" {
		base = defaultStreamURL
	}
	streams := make([]string, 0, 2*len(pairs))
	for _, p := range pairs {
		symbol, ok := e.codec.ToSymbol(p)
		if !ok {
			return "", models.NewPermanentError(Name, "unsupported pair "+p.String())
		}
		sym := strings.ToLower(symbol)
		streams = append(streams, sym+"@depth20@100ms", sym+"@trade")
	}
	return base + "?streams=" + strings.Join(streams, "/"), nil
}

type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type depthFrame struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

type tradeFrame struct {
	Symbol       string `json:"s"`
	TradeID      int64  `json:"t"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

func (e *Exchange) onMessage(data []byte) {
	var env streamEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Stream == "" {
		return
	}
	symbol, _, ok := strings.Cut(env.Stream, "@")
	if !ok {
		return
	}
	p, ok := e.codec.ToPair(symbol)
	if !ok {
		return
	}
	switch {
	case strings.HasSuffix(env.Stream, "@trade"):
		e.onTradeFrame(p, env.Stream, env.Data)
	case strings.Contains(env.Stream, "@depth"):
		e.onDepthFrame(p, env.Data)
	}
}

// onDepthFrame applies one partial-book frame. The stream resends the full
// top 20 levels on every tick, so each frame is a snapshot replace rather
// than a sequenced delta.
func (e *Exchange) onDepthFrame(p models.CurrencyPair, raw json.RawMessage) {
	var frame depthFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		e.log.WithError(err).Warn("malformed depth frame")
		return
	}
	now := time.Now().UTC()
	bids := parseLevels(frame.Bids, p, now)
	asks := parseLevels(frame.Asks, p, now)
	e.HandleSnapshot(p, bids, asks, uint64(frame.LastUpdateID))
}

// onTradeFrame forwards one trade through the sequenced path. Binance trade
// frames carry no usable batch sequence, so each stream gets a local counter
// that restarts with the connection.
func (e *Exchange) onTradeFrame(p models.CurrencyPair, stream string, raw json.RawMessage) {
	var frame tradeFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		e.log.WithError(err).Warn("malformed trade frame")
		return
	}
	side := models.TradeBuy
	if frame.IsBuyerMaker {
		side = models.TradeSell
	}
	e.tradeSeq[stream]++
	e.HandleBatch(p, e.tradeSeq[stream], []models.MarketEvent{
		models.TradeEvent(
			strconv.FormatInt(frame.TradeID, 10),
			side,
			parseFloat(frame.Price),
			parseFloat(frame.Quantity),
			frame.TradeTime/1000,
		),
	})
}

func parseLevels(levels [][]string, p models.CurrencyPair, ts time.Time) []models.MarketOrder {
	out := make([]models.MarketOrder, 0, len(levels))
	for _, lvl := range levels {
		if len(lvl) < 2 {
			continue
		}
		out = append(out, models.MarketOrder{
			Price:     parseFloat(lvl[0]),
			Amount:    parseFloat(lvl[1]),
			Pair:      p,
			Exchange:  Name,
			Timestamp: ts,
		})
	}
	return out
}

// proxyFunc routes REST calls through the first usable proxy entry. An empty
// or unusable list keeps the environment default.
func proxyFunc(proxies []string) func(*http.Request) (*url.URL, error) {
	for _, raw := range proxies {
		u, err := url.Parse(raw)
		if err == nil && u.Scheme != "" {
			return http.ProxyURL(u)
		}
	}
	return http.ProxyFromEnvironment
}
