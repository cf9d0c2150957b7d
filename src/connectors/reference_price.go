package connectors

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// ErrReferencePriceDisabled is returned when the reference feed is switched off.
var ErrReferencePriceDisabled = errors.New("reference price feed disabled")

type tickerAPI interface {
	GetTicker(currency goex.CurrencyPair) (*goex.Ticker, error)
}

// ReferencePrice reads last traded prices from Binance spot as a secondary
// price source when an exchange cannot provide one.
type ReferencePrice struct {
	enabled  bool
	endpoint string
	client   *http.Client

	once sync.Once
	api  tickerAPI
}

func NewReferencePrice(cfg Config) *ReferencePrice {
	endpoint := strings.TrimRight(cfg.ReferencePriceEndpoint, "/")
	if endpoint == "" {
		endpoint = binance.GLOBAL_API_BASE_URL
	}
	return &ReferencePrice{
		enabled:  cfg.ReferencePriceEnabled,
		endpoint: endpoint,
		client:   &http.Client{Timeout: cfg.ReferencePriceTimeout},
	}
}

// binanceAPI builds the client on first use; its constructor syncs the server clock over the network.
func (r *ReferencePrice) binanceAPI() tickerAPI {
	r.once.Do(func() {
		if r.api != nil {
			return
		}
		r.api = binance.NewWithConfig(&goex.APIConfig{
			HttpClient: r.client,
			Endpoint:   r.endpoint,
		})
	})
	return r.api
}

// LastPrice returns the last traded price for symbol (BTCUSDT style).
func (r *ReferencePrice) LastPrice(ctx context.Context, symbol string) (*decimal.Decimal, error) {
	if r == nil || !r.enabled {
		return nil, ErrReferencePriceDisabled
	}

	base, quote := splitSymbol(symbol)
	pair := goex.NewCurrencyPair2(base + "_" + quote)

	type result struct {
		ticker *goex.Ticker
		err    error
	}
	done := make(chan result, 1)
	go func() {
		t, err := r.binanceAPI().GetTicker(pair)
		done <- result{ticker: t, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			logger.WithFields(map[string]interface{}{
				"component": "reference_price",
				"symbol":    symbol,
			}).WithError(res.err).Warn("reference ticker failed")
			return nil, res.err
		}
		if res.ticker == nil || res.ticker.Last <= 0 {
			return nil, nil
		}
		price := decimal.NewFromFloat(res.ticker.Last)
		return &price, nil
	}
}
