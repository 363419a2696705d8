// Package bybit wires the v5 unified API to the generic adapter. Everything
// runs in the linear contracts category: orders are placed in contract
// quantities and the margin boundary maps onto the position endpoints.
package bybit

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"tradeflow/internal/adapter"
	"tradeflow/internal/channel"
	"tradeflow/internal/history"
	"tradeflow/internal/pair"
	"tradeflow/internal/store"
	"tradeflow/internal/ws"
	"tradeflow/logger"
	"tradeflow/models"
)

const Name = "bybit"

const (
	defaultStreamURL = "wss://stream.bybit.com/v5/public/linear"
	keepAlive        = 20 * time.Second
	bookDepth        = 50
)

var defaultCurrencies = []string{
	"BTC", "ETH", "USDT", "USDC", "XRP", "ADA", "DOGE", "SOL", "DOT",
	"LTC", "TRX", "AVAX", "LINK", "MATIC", "ATOM", "NEAR", "OP", "ARB",
}

// Config carries the exchange credentials and endpoint overrides.
type Config struct {
	APIKey      string
	APISecret   string
	RestURL     string
	StreamURL   string
	HTTPTimeout time.Duration
	WSTimeout   time.Duration
	BrokerID    string
	Currencies  []string
	Proxies     []string
	// ContractValues overrides the per-currency contract sizing table.
	ContractValues map[string]float64
	History        history.Options
}

// Exchange is the Bybit linear-contracts integration.
type Exchange struct {
	*adapter.Adapter

	cfg   Config
	codec pair.Codec
	conn  *ws.Conn
	log   *logger.Entry

	// pingStop is owned by the websocket lifecycle goroutine.
	pingStop chan struct{}
}

// New builds the exchange around the raw v5 REST client.
func New(cfg Config, st store.TradeStore, out *channel.Channels) *Exchange {
	rest := &restClient{client: newClient(cfg.APIKey, cfg.APISecret, cfg.RestURL, cfg.Proxies, cfg.HTTPTimeout)}
	codec := pair.NewNoSeparatorCodec(
		append(append([]string{}, defaultCurrencies...), cfg.Currencies...),
		pair.NoSepReversed(),
	)
	contractValues := cfg.ContractValues
	if contractValues == nil {
		contractValues = map[string]float64{}
	}
	caps := adapter.Capabilities{
		Name:           Name,
		Codec:          codec,
		MinNotional:    5,
		Margin:         true,
		ContractValues: contractValues,
		BrokerID:       cfg.BrokerID,
	}
	e := &Exchange{
		cfg:   cfg,
		codec: codec,
		log:   logger.GetLogger().WithComponent("bybit").WithFields(logger.Fields{"exchange": Name}),
	}
	e.Adapter = adapter.New(caps, rest, st, out,
		adapter.WithMarginClient(rest),
		adapter.WithHistoryOptions(cfg.History))
	return e
}

// Start primes the requested markets and opens the public market stream.
func (e *Exchange) Start(ctx context.Context, pairs []models.CurrencyPair) error {
	e.Adapter.Start(ctx)
	if err := e.SubscribeToMarkets(ctx, pairs); err != nil {
		return err
	}
	if len(pairs) == 0 {
		return nil
	}

	topics, err := e.topics(pairs)
	if err != nil {
		return err
	}
	streamURL := e.cfg.StreamURL
	if streamURL == "" {
		streamURL = defaultStreamURL
	}
	e.conn = ws.New(ws.Dial(streamURL), ws.Options{
		Exchange:  Name,
		Timeout:   e.cfg.WSTimeout,
		OnMessage: e.onMessage,
		OnConnect: func(t ws.Transport) error {
			if err := e.subscribe(t, topics); err != nil {
				return err
			}
			e.startPing(t)
			e.ResyncAll(ctx)
			return nil
		},
		Cleanup: func() { e.stopPing() },
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

func (e *Exchange) topics(pairs []models.CurrencyPair) ([]string, error) {
	topics := make([]string, 0, 2*len(pairs))
	for _, p := range pairs {
		symbol, ok := e.codec.ToSymbol(p)
		if !ok {
			return nil, models.NewPermanentError(Name, "unsupported pair "+p.String())
		}
		topics = append(topics,
			"orderbook."+strconv.Itoa(bookDepth)+"."+symbol,
			"publicTrade."+symbol,
		)
	}
	return topics, nil
}

func (e *Exchange) subscribe(t ws.Transport, topics []string) error {
	req := struct {
		Op   string   `json:"op"`
		Args []string `json:"args"`
	}{Op: "subscribe", Args: topics}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return t.WriteMessage(websocket.TextMessage, payload)
}

// startPing keeps the public stream alive; the server drops connections that
// stay silent for more than 30 seconds.
func (e *Exchange) startPing(t ws.Transport) {
	stop := make(chan struct{})
	e.pingStop = stop
	go func() {
		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := t.WriteMessage(websocket.TextMessage, []byte(`{"op":"ping"}`)); err != nil {
					e.log.WithError(err).Warn("ping failed")
					return
				}
			}
		}
	}()
}

func (e *Exchange) stopPing() {
	if e.pingStop != nil {
		close(e.pingStop)
		e.pingStop = nil
	}
}

type streamMessage struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
}

type bookData struct {
	Symbol   string     `json:"s"`
	Bids     [][]string `json:"b"`
	Asks     [][]string `json:"a"`
	UpdateID uint64     `json:"u"`
}

type tradeData struct {
	Time    int64  `json:"T"`
	Symbol  string `json:"s"`
	Side    string `json:"S"`
	Size    string `json:"v"`
	Price   string `json:"p"`
	TradeID string `json:"i"`
}

func (e *Exchange) onMessage(data []byte) {
	var msg streamMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Topic == "" {
		return // acks and pong frames
	}
	switch {
	case strings.HasPrefix(msg.Topic, "orderbook."):
		e.onBookMessage(msg)
	case strings.HasPrefix(msg.Topic, "publicTrade."):
		e.onTradeMessage(msg)
	}
}

// onBookMessage feeds the sequenced path: snapshots rebase the book, deltas
// flow through the reorder buffer keyed by the feed's update ID. A hole in
// the IDs leaves the book stale until the REST resync lands.
func (e *Exchange) onBookMessage(msg streamMessage) {
	var data bookData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		e.log.WithError(err).Warn("malformed orderbook message")
		return
	}
	p, ok := e.codec.ToPair(data.Symbol)
	if !ok {
		return
	}
	now := time.Now().UTC()
	if msg.Type == "snapshot" || data.UpdateID == 1 {
		// u=1 is a service-restart snapshot
		e.HandleSnapshot(p, parseLevels(data.Bids, p, now), parseLevels(data.Asks, p, now), data.UpdateID)
		return
	}
	events := make([]models.MarketEvent, 0, len(data.Bids)+len(data.Asks))
	for _, lvl := range data.Bids {
		if len(lvl) >= 2 {
			events = append(events, models.BookModEvent(true, parseFloat(lvl[0]), parseFloat(lvl[1])))
		}
	}
	for _, lvl := range data.Asks {
		if len(lvl) >= 2 {
			events = append(events, models.BookModEvent(false, parseFloat(lvl[0]), parseFloat(lvl[1])))
		}
	}
	e.HandleBatch(p, data.UpdateID, events)
}

func (e *Exchange) onTradeMessage(msg streamMessage) {
	var trades []tradeData
	if err := json.Unmarshal(msg.Data, &trades); err != nil {
		e.log.WithError(err).Warn("malformed trade message")
		return
	}
	for _, t := range trades {
		p, ok := e.codec.ToPair(t.Symbol)
		if !ok {
			continue
		}
		e.HandleTrades(p, []models.MarketEvent{
			models.TradeEvent(t.TradeID, sideToType(t.Side), parseFloat(t.Price), parseFloat(t.Size), t.Time/1000),
		})
	}
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

// stepDecimals derives a decimal precision from a step string like "0.001".
func stepDecimals(step string) int32 {
	if i := strings.IndexByte(step, '.'); i >= 0 {
		return int32(len(strings.TrimRight(step[i+1:], "0")))
	}
	return 0
}
