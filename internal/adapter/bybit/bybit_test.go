package bybit

import (
	"net/http"
	"net/url"
	"testing"

	"tradeflow/models"
)

func TestSignatureIsDeterministic(t *testing.T) {
	c := newClient("key", "secret", "", nil, 0)
	sig := c.sign("1700000000000", "category=linear&symbol=BTCUSDT")
	if len(sig) != 64 {
		t.Fatalf("signature length = %d, want 64 hex chars", len(sig))
	}
	if sig != c.sign("1700000000000", "category=linear&symbol=BTCUSDT") {
		t.Error("same payload must produce the same signature")
	}
	if sig == c.sign("1700000000001", "category=linear&symbol=BTCUSDT") {
		t.Error("different timestamp must change the signature")
	}
}

func TestAPIErrorAuthFailuresArePermanent(t *testing.T) {
	if err := apiError(10004, "invalid signature"); !models.IsPermanent(err) {
		t.Errorf("signature failure should be permanent, got %v", err)
	}
	if err := apiError(10006, "too many visits"); models.IsPermanent(err) {
		t.Errorf("throttling must stay retryable, got %v", err)
	}
}

func TestStepDecimals(t *testing.T) {
	tests := []struct {
		step string
		want int32
	}{
		{"0.001", 3},
		{"0.5", 1},
		{"1", 0},
		{"0.0100", 2},
		{"10", 0},
	}
	for _, tt := range tests {
		if got := stepDecimals(tt.step); got != tt.want {
			t.Errorf("stepDecimals(%q) = %d, want %d", tt.step, got, tt.want)
		}
	}
}

func TestToPosition(t *testing.T) {
	pos := toPosition("Sell", "0.5", "21000", "-12.5", "10")
	if pos == nil {
		t.Fatal("expected a position")
	}
	if pos.Type != models.PositionShort || pos.Amount != -0.5 {
		t.Errorf("short 0.5 parsed as %+v", pos)
	}
	if pos.LiquidationPrice != 21000 || pos.ProfitLoss != -12.5 || pos.Leverage != 10 {
		t.Errorf("position details %+v", pos)
	}
	if toPosition("None", "0", "", "0", "0") != nil {
		t.Error("zero size must read as no position")
	}
}

func TestTopicsPerPair(t *testing.T) {
	e := New(Config{}, nil, nil)
	topics, err := e.topics([]models.CurrencyPair{models.NewPair("USDT", "BTC")})
	if err != nil {
		t.Fatalf("topics: %v", err)
	}
	want := []string{"orderbook.50.BTCUSDT", "publicTrade.BTCUSDT"}
	if len(topics) != len(want) {
		t.Fatalf("topics = %v, want %v", topics, want)
	}
	for i := range want {
		if topics[i] != want[i] {
			t.Errorf("topics[%d] = %q, want %q", i, topics[i], want[i])
		}
	}
}

func TestTopicsUnsupportedPair(t *testing.T) {
	e := New(Config{}, nil, nil)
	_, err := e.topics([]models.CurrencyPair{models.NewPair("USDT", "NOPE")})
	if err == nil || !models.IsPermanent(err) {
		t.Fatalf("want permanent error, got %v", err)
	}
}

func TestProxyFuncSelectsFirstUsable(t *testing.T) {
	req := &http.Request{URL: &url.URL{Scheme: "https", Host: "api.bybit.com"}}

	f := proxyFunc([]string{"10.0.0.1:8080", "http://10.0.0.2:8080", "http://10.0.0.3:8080"})
	u, err := f(req)
	if err != nil {
		t.Fatalf("proxyFunc: %v", err)
	}
	if u == nil || u.Host != "10.0.0.2:8080" {
		t.Errorf("expected the first usable entry, got %v", u)
	}

	// no usable entry falls through to the environment default
	if proxyFunc(nil) == nil {
		t.Error("empty list must still return a proxy func")
	}
}

func TestSideMapping(t *testing.T) {
	if sideToType("Buy") != models.TradeBuy || sideToType("Sell") != models.TradeSell {
		t.Error("side mapping broken")
	}
	if typeToSide(models.TradeBuy) != "Buy" || typeToSide(models.TradeSell) != "Sell" {
		t.Error("type mapping broken")
	}
}
