package controller

import "strings"

// NormalizeToUSDT ensures that a symbol ends with USDT.
// Examples:
//
//	BTCUSD  -> BTCUSDT
//	ETHUSD  -> ETHUSDT
//	BTCUSDT -> BTCUSDT
//	ethusd  -> ETHUSDT
func NormalizeToUSDT(symbol string) string {
	if symbol == "" {
		return symbol
	}

	s := strings.ToUpper(strings.TrimSpace(symbol))

	// If it already ends with USDT, nothing to do
	if strings.HasSuffix(s, "USDT") {
		return s
	}

	// If it ends with USD, replace with USDT
	if strings.HasSuffix(s, "USD") {
		base := strings.TrimSuffix(s, "USD")
		return base + "USDT"
	}

	// Otherwise, return as is (do not force)
	return s
}
