package models

import (
	"fmt"
	"strings"
)

// CurrencyPair is the bot's canonical pair notation: quote currency first,
// separated by an underscore (BTC_ETH). Exchange-native symbols never leave
// the adapter layer; everything downstream works with this form.
type CurrencyPair struct {
	From string
	To   string
}

func NewPair(from, to string) CurrencyPair {
	return CurrencyPair{From: strings.ToUpper(from), To: strings.ToUpper(to)}
}

// ParsePair parses the canonical FROM_TO string form.
func ParsePair(s string) (CurrencyPair, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return CurrencyPair{}, fmt.Errorf("invalid currency pair %q", s)
	}
	return NewPair(parts[0], parts[1]), nil
}

func (p CurrencyPair) String() string {
	return p.From + "_" + p.To
}

// Key returns the map key form of the pair. Identical to String, kept as a
// separate method so call sites that index adapter state read as lookups.
func (p CurrencyPair) Key() string {
	return p.String()
}

func (p CurrencyPair) IsZero() bool {
	return p.From == "" && p.To == ""
}

// Reversed returns the pair with base and quote swapped, for exchanges that
// quote in the opposite order.
func (p CurrencyPair) Reversed() CurrencyPair {
	return CurrencyPair{From: p.To, To: p.From}
}
