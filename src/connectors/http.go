package connectors

import (
	"strings"
	"time"

	"positionengine/src/model"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	defaultRetryAttempts   = 3
	defaultRetryBaseDelay  = 300 * time.Millisecond
	defaultRetryMaxBackoff = 4 * time.Second
)

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		// a cancelled or expired context must not be retried
		return r == nil || r.Request == nil || r.Request.Context().Err() == nil
	}

	if r == nil {
		return false
	}

	code := r.StatusCode()

	if code >= 500 && code <= 599 {
		return true
	}
	if code == 429 {
		return true
	}
	if code == 408 {
		return true
	}
	return false
}

// newHTTPClient builds the resty client shared by the REST gateways.
func newHTTPClient(baseURL string, timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(defaultRetryAttempts-1).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp).
		SetHeader("Accept", "application/json")
}

// newClientOrderID returns a 32 character hex id accepted by every supported exchange.
func newClientOrderID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// closingSide is the order side that reduces a position opened with side.
func closingSide(side string) string {
	if strings.EqualFold(side, model.SideSell) {
		return model.SideBuy
	}
	return model.SideSell
}

// holdSide names the position direction for exchanges that use long/short.
func holdSide(side string) string {
	if strings.EqualFold(side, model.SideSell) {
		return "short"
	}
	return "long"
}

func isLong(side string) bool {
	return !strings.EqualFold(side, model.SideSell)
}

func marginMode(isolated bool, isolatedName, crossName string) string {
	if isolated {
		return isolatedName
	}
	return crossName
}

func leverageOf(order *model.Order) int {
	if order.Leverage < 1 {
		return 1
	}
	return order.Leverage
}

// parseDecimal returns nil for empty or unparsable exchange numbers.
func parseDecimal(raw string) *decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	return &d
}

func positiveDecimal(d *decimal.Decimal) bool {
	return d != nil && d.IsPositive()
}

// splitSymbol splits BTCUSDT style symbols into base and quote.
func splitSymbol(symbol string) (string, string) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.NewReplacer("-", "", "_", "", "/", "").Replace(s)
	for _, quote := range []string{"USDT", "USDC", "USD"} {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return strings.TrimSuffix(s, quote), quote
		}
	}
	return s, "USDT"
}
