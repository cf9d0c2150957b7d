package connectors

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/nntaoli-project/goex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferencePriceFromBinance(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/time":
			_, _ = w.Write([]byte(`{"serverTime":1700000000000}`))
		case "/api/v3/ticker/24hr":
			assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
			_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","lastPrice":"65000.50000000","highPrice":"66000","lowPrice":"64000","volume":"10","bidPrice":"65000","askPrice":"65001","closeTime":1700000000000}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	ref := NewReferencePrice(Config{
		ReferencePriceEnabled:  true,
		ReferencePriceEndpoint: server.URL,
		ReferencePriceTimeout:  5 * time.Second,
	})

	price, err := ref.LastPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, price)
	assert.Equal(t, "65000.5", price.String())
}

func TestReferencePriceDisabled(t *testing.T) {
	ref := NewReferencePrice(Config{ReferencePriceEnabled: false})
	_, err := ref.LastPrice(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, ErrReferencePriceDisabled)

	var nilRef *ReferencePrice
	_, err = nilRef.LastPrice(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, ErrReferencePriceDisabled)
}

type slowTicker struct{ delay time.Duration }

func (s slowTicker) GetTicker(goex.CurrencyPair) (*goex.Ticker, error) {
	time.Sleep(s.delay)
	return &goex.Ticker{Last: 1}, nil
}

type failingTicker struct{}

func (failingTicker) GetTicker(goex.CurrencyPair) (*goex.Ticker, error) {
	return nil, errors.New("binance unavailable")
}

func TestReferencePriceHonoursContext(t *testing.T) {
	ref := &ReferencePrice{enabled: true, api: slowTicker{delay: 200 * time.Millisecond}}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := ref.LastPrice(ctx, "ETHUSDT")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReferencePricePropagatesErrors(t *testing.T) {
	ref := &ReferencePrice{enabled: true, api: failingTicker{}}
	_, err := ref.LastPrice(context.Background(), "ETHUSDT")
	assert.EqualError(t, err, "binance unavailable")
}
