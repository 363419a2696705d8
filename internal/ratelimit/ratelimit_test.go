package ratelimit

import (
	"errors"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		exchange string
		msg      string
		limited  bool
		banned   bool
	}{
		{"binance", "Too many requests; current limit is 1200", true, false},
		{"binance", "Way too much request weight used; IP banned until", false, true},
		{"bybit", "ip rate limit", false, true},
		{"bybit", "Too many visits!", true, false},
		{"deribit", "too_many_requests", true, false},
		{"unknown", "HTTP 429", true, false},
		{"binance", "order does not exist", false, false},
	}
	for _, tt := range tests {
		limited, banned := Classify(tt.exchange, tt.msg)
		if limited != tt.limited || banned != tt.banned {
			t.Errorf("Classify(%s, %q)=(%v,%v) want (%v,%v)",
				tt.exchange, tt.msg, limited, banned, tt.limited, tt.banned)
		}
	}
}

func TestIsRateLimited(t *testing.T) {
	if !IsRateLimited("binance", errors.New("rate limit exceeded")) {
		t.Error("throttling error not detected")
	}
	if IsRateLimited("binance", nil) {
		t.Error("nil error misclassified")
	}
	if IsRateLimited("binance", errors.New("insufficient balance")) {
		t.Error("trading error misclassified as throttling")
	}
}
