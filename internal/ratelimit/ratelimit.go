// Package ratelimit classifies exchange error payloads. Exchanges word their
// throttling responses differently, so detection is keyword-based and
// customised per exchange. Callers use the classification to pick a longer
// retry delay (rate limit) or to alarm loudly (IP ban).
package ratelimit

import (
	"strings"

	"tradeflow/logger"
)

// Classify inspects the message returned from an exchange and reports whether
// it signals a rate limit or an IP ban.
func Classify(exchange, msg string) (rateLimited bool, ipBanned bool) {
	lower := strings.ToLower(msg)
	switch strings.ToLower(exchange) {
	case "binance":
		rateLimited = strings.Contains(lower, "too many requests") || strings.Contains(lower, "rate limit") || strings.Contains(lower, "-1003")
		ipBanned = strings.Contains(lower, "ip") && strings.Contains(lower, "ban")
	case "bybit":
		ipBanned = strings.Contains(lower, "ip rate limit") || (strings.Contains(lower, "ip") && strings.Contains(lower, "ban"))
		rateLimited = !ipBanned && (strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests") || strings.Contains(lower, "too many visits"))
	case "deribit":
		rateLimited = strings.Contains(lower, "too_many_requests") || strings.Contains(lower, "rate limit")
	default:
		rateLimited = strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests") || strings.Contains(lower, "429")
		ipBanned = strings.Contains(lower, "ip") && strings.Contains(lower, "ban")
	}
	return rateLimited, ipBanned
}

// IsRateLimited reports whether err reads as a throttling response.
func IsRateLimited(exchange string, err error) bool {
	if err == nil {
		return false
	}
	limited, banned := Classify(exchange, err.Error())
	return limited || banned
}

// Report records the classification of msg with metrics and log output.
// No action is taken when the message matches no known pattern.
func Report(log *logger.Log, exchange, pairKey, operation, msg string) {
	rateLimited, ipBanned := Classify(exchange, msg)
	if !rateLimited && !ipBanned {
		return
	}
	component := strings.ToLower(exchange) + "_adapter"
	fields := logger.Fields{
		"exchange":  strings.ToLower(exchange),
		"pair":      pairKey,
		"operation": operation,
	}
	if rateLimited {
		log.WithComponent(component).LogMetric(component, "rate_limit_exceeded", int64(1), "counter", fields)
		log.WithComponent(component).WithFields(fields).Warn("rate limit exceeded")
	}
	if ipBanned {
		log.WithComponent(component).LogMetric(component, "ip_ban", int64(1), "counter", fields)
		log.WithComponent(component).WithFields(fields).Error("ip banned")
	}
}
