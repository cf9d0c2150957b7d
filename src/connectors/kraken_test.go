package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"net/http"
	"net/url"
	"testing"
	"time"

	"positionengine/src/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeAuthent(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte("kraken-secret"))

	sum := sha256.Sum256([]byte("orderType=mkt" + "1700000000000" + "/api/v3/sendorder"))
	mac := hmac.New(sha512.New, []byte("kraken-secret"))
	mac.Write(sum[:])
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	got, err := computeAuthent("orderType=mkt", "1700000000000", "/api/v3/sendorder", secret)
	require.NoError(t, err)
	assert.Equal(t, expected, got)

	_, err = computeAuthent("", "1", "/api/v3/accounts", "not base64!!")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "not base64!!")
}

func TestEncodeValuesRFC3986(t *testing.T) {
	v := url.Values{}
	v.Set("symbol", "PF_XBTUSD")
	v.Set("cliOrdId", "a b")
	assert.Equal(t, "cliOrdId=a%20b&symbol=PF_XBTUSD", encodeValuesRFC3986(v))
	assert.Equal(t, "", encodeValuesRFC3986(nil))
}

func TestSendOrderRequestToValues(t *testing.T) {
	stop := decimal.RequireFromString("95.5")
	v, err := SendOrderRequest{
		OrderType:     "STP",
		Symbol:        "PF_XBTUSD",
		Side:          "Sell",
		Size:          decimal.RequireFromString("0.001"),
		StopPrice:     &stop,
		TriggerSignal: "Mark",
		ReduceOnly:    true,
	}.toValues()
	require.NoError(t, err)
	assert.Equal(t, "stp", v.Get("orderType"))
	assert.Equal(t, "sell", v.Get("side"))
	assert.Equal(t, "0.001", v.Get("size"))
	assert.Equal(t, "95.5", v.Get("stopPrice"))
	assert.Equal(t, "mark", v.Get("triggerSignal"))
	assert.Equal(t, "true", v.Get("reduceOnly"))

	_, err = SendOrderRequest{OrderType: "mkt", Symbol: "PF_XBTUSD", Side: "buy"}.toValues()
	assert.Error(t, err)
}

func krakenCreds() Credentials {
	return Credentials{APIKey: "kr-key", APISecret: base64.StdEncoding.EncodeToString([]byte("kraken-secret"))}
}

func TestKrakenSendEntryOrder(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/sendorder", r.URL.Path)
		assert.Equal(t, "kr-key", r.Header.Get("APIKey"))
		assert.NotEmpty(t, r.Header.Get("Authent"))
		assert.Equal(t, "mkt", r.URL.Query().Get("orderType"))
		assert.Equal(t, "PF_XBTUSD", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`{"result":"success","sendStatus":{"status":"placed","order_id":"kr-1"}}`))
	})

	gw := NewKrakenGateway(server.URL, "", 5*time.Second)
	res := gw.SendEntryOrder(context.Background(), entryOrder("BTCUSDT", model.SideBuy), krakenCreds())

	require.True(t, res.Success, res.ErrorMessage)
	assert.Equal(t, "kr-1", res.ExchangeOrderID)
}

func TestKrakenRejectedSendStatus(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":"success","sendStatus":{"status":"insufficientAvailableFunds"}}`))
	})

	gw := NewKrakenGateway(server.URL, "", 5*time.Second)
	res := gw.SendEntryOrder(context.Background(), entryOrder("BTCUSDT", model.SideBuy), krakenCreds())

	assert.False(t, res.Success)
	assert.Equal(t, "insufficientAvailableFunds", res.ErrorCode)
}

func TestKrakenResultError(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":"error","error":"apiLimitExceeded"}`))
	})

	gw := NewKrakenGateway(server.URL, "", 5*time.Second)
	_, err := gw.GetBalance(context.Background(), krakenCreds())
	require.Error(t, err)
	assert.Equal(t, "apiLimitExceeded", FailedResultFromError(err).ErrorCode)
}

func TestKrakenFetchOrderStateUsesFills(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/orders/status":
			assert.Equal(t, "kr-sl", r.URL.Query().Get("orderIds"))
			_, _ = w.Write([]byte(`{"result":"success","orders":[{"order":{"orderId":"kr-sl"},"status":"FULLY_EXECUTED"}]}`))
		case "/api/v3/fills":
			_, _ = w.Write([]byte(`{"result":"success","fills":[
				{"order_id":"kr-sl","price":90,"size":1},
				{"order_id":"kr-sl","price":96,"size":2},
				{"order_id":"other","price":1,"size":100}
			]}`))
		}
	})

	gw := NewKrakenGateway(server.URL, "", 5*time.Second)
	order := entryOrder("BTCUSDT", model.SideBuy)
	order.Description = model.DescriptionStoploss
	order.ExchangeOrderID = "kr-sl"

	state, err := gw.FetchOrderState(context.Background(), order, krakenCreds())
	require.NoError(t, err)
	assert.True(t, state.Triggered)
	assert.True(t, state.Filled)
	require.NotNil(t, state.ExecutedPrice)
	assert.Equal(t, "94", state.ExecutedPrice.String())
}

func TestKrakenTickerAndBalance(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/tickers/PF_ETHUSD":
			assert.Empty(t, r.Header.Get("APIKey"))
			_, _ = w.Write([]byte(`{"result":"success","ticker":{"symbol":"PF_ETHUSD","last":3120.5}}`))
		case "/api/v3/accounts":
			_, _ = w.Write([]byte(`{"result":"success","accounts":{"flex":{"availableMargin":812.25}}}`))
		}
	})

	gw := NewKrakenGateway(server.URL, "", 5*time.Second)

	price, err := gw.FetchAssetPrice(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, "3120.5", price.String())

	balance, err := gw.GetBalance(context.Background(), krakenCreds())
	require.NoError(t, err)
	assert.Equal(t, "812.25", balance.String())
}
