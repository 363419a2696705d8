package models

import "fmt"

// ExchangeError is the structured rejection shape surfaced to strategy code.
// Permanent means the request will not succeed on retry without being changed
// (unsupported pair, below minimum notional, unsupported operation); callers
// must not retry those automatically.
type ExchangeError struct {
	Txt       string `json:"txt"`
	Exchange  string `json:"exchange"`
	Err       error  `json:"-"`
	Permanent bool   `json:"permanent,omitempty"`
}

func (e *ExchangeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Exchange, e.Txt, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Exchange, e.Txt)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// NewExchangeError wraps a transport or library error into the normalized
// transient shape.
func NewExchangeError(exchange, txt string, err error) *ExchangeError {
	return &ExchangeError{Txt: txt, Exchange: exchange, Err: err}
}

// NewPermanentError tags a rejection that must never be retried as is.
func NewPermanentError(exchange, txt string) *ExchangeError {
	return &ExchangeError{Txt: txt, Exchange: exchange, Permanent: true}
}

// IsPermanent reports whether err carries the permanent marker.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if ex, ok := err.(*ExchangeError); ok {
		return ex.Permanent
	}
	return false
}
