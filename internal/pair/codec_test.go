package pair

import (
	"testing"

	"tradeflow/models"
)

func TestStringCodecRoundTrip(t *testing.T) {
	codec := NewStringCodec("-", WithReversed())

	tests := []models.CurrencyPair{
		models.NewPair("USDT", "BTC"),
		models.NewPair("BTC", "ETH"),
		models.NewPair("USD", "DOGE"),
	}
	for _, p := range tests {
		sym, ok := codec.ToSymbol(p)
		if !ok {
			t.Fatalf("ToSymbol(%s) not supported", p)
		}
		got, ok := codec.ToPair(sym)
		if !ok {
			t.Fatalf("ToPair(%s) not recognized", sym)
		}
		if got != p {
			t.Errorf("round trip %s -> %s -> %s", p, sym, got)
		}
	}
}

func TestStringCodecReversedOrder(t *testing.T) {
	codec := NewStringCodec("-", WithReversed())
	sym, ok := codec.ToSymbol(models.NewPair("USDT", "BTC"))
	if !ok || sym != "BTC-USDT" {
		t.Errorf("ToSymbol=%q ok=%v want BTC-USDT", sym, ok)
	}
}

func TestStringCodecRenames(t *testing.T) {
	codec := NewStringCodec("_", WithRenames(map[string]string{"BCH": "BCC"}))
	sym, ok := codec.ToSymbol(models.NewPair("BCH", "BTC"))
	if !ok || sym != "BCC_BTC" {
		t.Fatalf("ToSymbol=%q ok=%v want BCC_BTC", sym, ok)
	}
	p, ok := codec.ToPair("BCC_BTC")
	if !ok || p != models.NewPair("BCH", "BTC") {
		t.Errorf("ToPair(BCC_BTC)=%v ok=%v", p, ok)
	}
}

func TestStringCodecUnknownSymbol(t *testing.T) {
	codec := NewStringCodec("-")
	if _, ok := codec.ToPair("BTCUSDT"); ok {
		t.Error("symbol without separator must not resolve")
	}
	if _, ok := codec.ToSymbol(models.CurrencyPair{}); ok {
		t.Error("zero pair must not resolve")
	}
}

func TestNoSeparatorCodecHeuristicSplit(t *testing.T) {
	codec := NewNoSeparatorCodec(
		[]string{"BTC", "ETH", "USDT", "DOGE", "WAVES"},
		NoSepReversed(),
	)

	tests := []struct {
		symbol string
		want   models.CurrencyPair
	}{
		// 3+4, 4+4 and 5+4 splits all resolve.
		{"BTCUSDT", models.NewPair("USDT", "BTC")},
		{"DOGEUSDT", models.NewPair("USDT", "DOGE")},
		{"WAVESUSDT", models.NewPair("USDT", "WAVES")},
		{"ETHBTC", models.NewPair("BTC", "ETH")},
	}
	for _, tt := range tests {
		got, ok := codec.ToPair(tt.symbol)
		if !ok {
			t.Errorf("ToPair(%s) not recognized", tt.symbol)
			continue
		}
		if got != tt.want {
			t.Errorf("ToPair(%s)=%s want %s", tt.symbol, got, tt.want)
		}
	}
}

func TestNoSeparatorCodecRoundTrip(t *testing.T) {
	codec := NewNoSeparatorCodec([]string{"BTC", "ETH", "USDT"}, NoSepReversed())
	pairs := []models.CurrencyPair{
		models.NewPair("USDT", "BTC"),
		models.NewPair("BTC", "ETH"),
	}
	for _, p := range pairs {
		sym, ok := codec.ToSymbol(p)
		if !ok {
			t.Fatalf("ToSymbol(%s) not supported", p)
		}
		got, ok := codec.ToPair(sym)
		if !ok || got != p {
			t.Errorf("round trip %s -> %s -> %s ok=%v", p, sym, got, ok)
		}
	}
}

func TestNoSeparatorCodecUnsupported(t *testing.T) {
	codec := NewNoSeparatorCodec([]string{"BTC", "USDT"})
	if _, ok := codec.ToSymbol(models.NewPair("BTC", "XMR")); ok {
		t.Error("unknown currency must not produce a symbol")
	}
	if _, ok := codec.ToPair("XMRUSD"); ok {
		t.Error("unknown symbol must not resolve")
	}
}
