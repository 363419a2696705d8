// Package pair translates between the bot's canonical currency pairs and
// exchange-native symbol strings. Codecs are pure and stateless; unsupported
// pairs report ok=false instead of an error, callers treat that as "not
// tradable here".
package pair

import (
	"strings"

	"tradeflow/models"
)

type Codec interface {
	// ToSymbol returns the exchange-native symbol for the pair, or ok=false
	// when the exchange cannot trade it.
	ToSymbol(p models.CurrencyPair) (string, bool)
	// ToPair resolves an exchange-native symbol back to the canonical pair,
	// or ok=false when the symbol cannot be recognized.
	ToPair(symbol string) (models.CurrencyPair, bool)
}

// StringCodec covers exchanges with a separator between the two currency
// codes. Renames maps local currency codes to the exchange's spelling
// (e.g. BCH -> BCC on old Binance endpoints); the inverse direction is
// derived. Reversed swaps base/quote order in the symbol.
type StringCodec struct {
	Separator string
	Reversed  bool
	Lowercase bool
	Renames   map[string]string

	inverse map[string]string
}

func NewStringCodec(separator string, opts ...func(*StringCodec)) *StringCodec {
	c := &StringCodec{Separator: separator}
	for _, opt := range opts {
		opt(c)
	}
	c.inverse = invert(c.Renames)
	return c
}

func WithReversed() func(*StringCodec) {
	return func(c *StringCodec) { c.Reversed = true }
}

func WithLowercase() func(*StringCodec) {
	return func(c *StringCodec) { c.Lowercase = true }
}

func WithRenames(renames map[string]string) func(*StringCodec) {
	return func(c *StringCodec) { c.Renames = renames }
}

func (c *StringCodec) ToSymbol(p models.CurrencyPair) (string, bool) {
	if p.IsZero() {
		return "", false
	}
	first, second := p.From, p.To
	if c.Reversed {
		first, second = second, first
	}
	sym := c.rename(first) + c.Separator + c.rename(second)
	if c.Lowercase {
		sym = strings.ToLower(sym)
	}
	return sym, true
}

func (c *StringCodec) ToPair(symbol string) (models.CurrencyPair, bool) {
	if c.Separator == "" {
		return models.CurrencyPair{}, false
	}
	parts := strings.Split(strings.ToUpper(symbol), strings.ToUpper(c.Separator))
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return models.CurrencyPair{}, false
	}
	first, second := c.unrename(parts[0]), c.unrename(parts[1])
	if c.Reversed {
		first, second = second, first
	}
	return models.NewPair(first, second), true
}

func (c *StringCodec) rename(currency string) string {
	if r, ok := c.Renames[currency]; ok {
		return r
	}
	return currency
}

func (c *StringCodec) unrename(currency string) string {
	if r, ok := c.inverse[currency]; ok {
		return r
	}
	return currency
}

// NoSeparatorCodec covers exchanges that concatenate both currency codes
// without a separator (BTCUSDT). Because code lengths vary, ToPair tries
// splitting at every offset from 3 to 5 until both halves resolve against the
// known currency set; the first match wins. Ambiguous symbols resolving at
// more than one offset are an accepted limitation.
type NoSeparatorCodec struct {
	Reversed bool
	Renames  map[string]string

	currencies map[string]struct{}
	inverse    map[string]string
}

func NewNoSeparatorCodec(currencies []string, opts ...func(*NoSeparatorCodec)) *NoSeparatorCodec {
	c := &NoSeparatorCodec{currencies: make(map[string]struct{}, len(currencies))}
	for _, cur := range currencies {
		c.currencies[strings.ToUpper(cur)] = struct{}{}
	}
	for _, opt := range opts {
		opt(c)
	}
	c.inverse = invert(c.Renames)
	return c
}

func NoSepReversed() func(*NoSeparatorCodec) {
	return func(c *NoSeparatorCodec) { c.Reversed = true }
}

func NoSepRenames(renames map[string]string) func(*NoSeparatorCodec) {
	return func(c *NoSeparatorCodec) { c.Renames = renames }
}

func (c *NoSeparatorCodec) ToSymbol(p models.CurrencyPair) (string, bool) {
	if p.IsZero() {
		return "", false
	}
	first, second := p.From, p.To
	if c.Reversed {
		first, second = second, first
	}
	first, second = c.rename(first), c.rename(second)
	if !c.known(first) || !c.known(second) {
		return "", false
	}
	return first + second, true
}

func (c *NoSeparatorCodec) ToPair(symbol string) (models.CurrencyPair, bool) {
	sym := strings.ToUpper(symbol)
	for offset := 3; offset <= 5 && offset < len(sym); offset++ {
		first, second := sym[:offset], sym[offset:]
		if !c.known(first) || !c.known(second) {
			continue
		}
		a, b := c.unrename(first), c.unrename(second)
		if c.Reversed {
			a, b = b, a
		}
		return models.NewPair(a, b), true
	}
	return models.CurrencyPair{}, false
}

func (c *NoSeparatorCodec) known(currency string) bool {
	_, ok := c.currencies[currency]
	return ok
}

func (c *NoSeparatorCodec) rename(currency string) string {
	if r, ok := c.Renames[currency]; ok {
		return r
	}
	return currency
}

func (c *NoSeparatorCodec) unrename(currency string) string {
	if r, ok := c.inverse[currency]; ok {
		return r
	}
	return currency
}

func invert(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	inv := make(map[string]string, len(m))
	for k, v := range m {
		inv[v] = k
	}
	return inv
}
