package binance

import (
	"strings"
	"testing"

	"tradeflow/models"
)

func TestStreamURLCombinesPairs(t *testing.T) {
	e := New(Config{}, nil, nil)
	url, err := e.streamURL([]models.CurrencyPair{
		models.NewPair("USDT", "BTC"),
		models.NewPair("USDT", "ETH"),
	})
	if err != nil {
		t.Fatalf("streamURL: %v", err)
	}
	if !strings.HasPrefix(url, defaultStreamURL+"?streams=") {
		t.Errorf("url = %q, want combined-stream endpoint", url)
	}
	for _, stream := range []string{"btcusdt@depth20@100ms", "btcusdt@trade", "ethusdt@depth20@100ms", "ethusdt@trade"} {
		if !strings.Contains(url, stream) {
			t.Errorf("url %q missing stream %q", url, stream)
		}
	}
}

func TestStreamURLUnsupportedPair(t *testing.T) {
	e := New(Config{}, nil, nil)
	_, err := e.streamURL([]models.CurrencyPair{models.NewPair("USDT", "NOPE")})
	if err == nil || !models.IsPermanent(err) {
		t.Fatalf("want permanent error, got %v", err)
	}
}

func TestSymbolRoundTrip(t *testing.T) {
	e := New(Config{}, nil, nil)
	p := models.NewPair("USDT", "BTC")
	symbol, ok := e.codec.ToSymbol(p)
	if !ok || symbol != "BTCUSDT" {
		t.Fatalf("ToSymbol = %q, %v", symbol, ok)
	}
	back, ok := e.codec.ToPair("btcusdt")
	if !ok || back != p {
		t.Fatalf("ToPair = %v, %v", back, ok)
	}
}

func TestParseFloatEdgeCases(t *testing.T) {
	if parseFloat("20000.12") != 20000.12 {
		t.Error("plain decimal")
	}
	if parseFloat("") != 0 || parseFloat("garbage") != 0 {
		t.Error("unparseable input should read as zero")
	}
	if formatFloat(0.001) != "0.001" {
		t.Errorf("formatFloat(0.001) = %q", formatFloat(0.001))
	}
}
