package connectors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"positionengine/src/model"
	"positionengine/src/security"

	"github.com/shopspring/decimal"
)

// ErrUnsupportedExchange is returned when no gateway is registered for an exchange id.
var ErrUnsupportedExchange = errors.New("unsupported exchange selected")

// ErrMissingStopPrice is returned when a stoploss order carries no trigger price.
var ErrMissingStopPrice = errors.New("stoploss order has no trigger price")

// Error codes used when a failure did not come from the exchange itself.
const (
	ErrorCodeTimeout       = "TIMEOUT"
	ErrorCodeRequestFailed = "REQUEST_FAILED"
	ErrorCodeUnsupported   = "UNSUPPORTED_EXCHANGE"
	ErrorCodeInvalidOrder  = "INVALID_ORDER"
	ErrorCodeRateLimited   = "RATE_LIMITED"
	ErrorCodeInternal      = "INTERNAL_ERROR"
)

// Credentials are the per-user API credentials for one exchange.
// They are read-only for the duration of a call and never logged.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
	Testnet    bool
}

// String hides the secret material when credentials end up in a format verb.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{APIKey:%s, Testnet:%t}", security.Mask(c.APIKey), c.Testnet)
}

// GoString mirrors String for %#v.
func (c Credentials) GoString() string {
	return c.String()
}

// Validate checks that the fields an exchange signs with are present.
func (c Credentials) Validate(requirePassphrase bool) error {
	if strings.TrimSpace(c.APIKey) == "" || strings.TrimSpace(c.APISecret) == "" {
		return errors.New("api key and secret are required")
	}
	if requirePassphrase && strings.TrimSpace(c.Passphrase) == "" {
		return errors.New("api passphrase is required")
	}
	return nil
}

// OrderState is what an exchange reports about a previously placed order.
type OrderState struct {
	Triggered     bool
	Filled        bool
	Cancelled     bool
	ExecutedPrice *decimal.Decimal
	Raw           string
}

// Gateway is the uniform capability set every exchange integration exposes.
type Gateway interface {
	Name() string
	SendEntryOrder(ctx context.Context, order *model.Order, creds Credentials) model.ExchangeOrderResult
	SendTakeProfitOrder(ctx context.Context, order *model.Order, creds Credentials) (string, error)
	SendStoplossOrder(ctx context.Context, order *model.Order, creds Credentials) (string, error)
	FetchAssetPrice(ctx context.Context, symbol string) (*decimal.Decimal, error)
	GetBalance(ctx context.Context, creds Credentials) (decimal.Decimal, error)
	FetchOrderState(ctx context.Context, order *model.Order, creds Credentials) (OrderState, error)
}

// ExchangeError is an explicit rejection reported by an exchange.
type ExchangeError struct {
	Exchange string
	Code     string
	Message  string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("%s error %s: %s", e.Exchange, e.Code, e.Message)
}

// FailedResultFromError converts a gateway error into a normalized failed result.
// Deadline errors are reported as TIMEOUT so they stay distinguishable from rejections.
func FailedResultFromError(err error) model.ExchangeOrderResult {
	if err == nil {
		return model.FailedResult(ErrorCodeInternal, "unknown failure")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.FailedResult(ErrorCodeTimeout, "exchange call timed out")
	}
	if errors.Is(err, ErrUnsupportedExchange) {
		return model.FailedResult(ErrorCodeUnsupported, "Unsupported exchange selected")
	}
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return model.FailedResult(exErr.Code, exErr.Message)
	}
	return model.FailedResult(ErrorCodeRequestFailed, err.Error())
}
