package connectors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"positionengine/src/model"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

var testCreds = Credentials{APIKey: "key-123456", APISecret: "c2VjcmV0LXNlY3JldA==", Passphrase: "pass"}

func TestIsRetryableResp(t *testing.T) {
	cases := []struct {
		name string
		resp *resty.Response
		err  error
		want bool
	}{
		{name: "error present", err: assertError{}, want: true},
		{name: "server error", resp: fakeResponse(500), want: true},
		{name: "too many requests", resp: fakeResponse(429), want: true},
		{name: "timeout", resp: fakeResponse(408), want: true},
		{name: "ok response", resp: fakeResponse(200), want: false},
		{name: "bad request", resp: fakeResponse(400), want: false},
		{name: "nil resp", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isRetryableResp(tc.resp, tc.err))
		})
	}
}

func TestIsRetryableRespStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := resty.New().R().SetContext(ctx)
	resp := &resty.Response{Request: req}

	assert.False(t, isRetryableResp(resp, context.Canceled))
}

func TestCredentialsNeverPrintSecrets(t *testing.T) {
	creds := Credentials{APIKey: "AKIA-very-secret-key", APISecret: "topsecret", Passphrase: "hunter2"}

	for _, out := range []string{
		creds.String(),
		fmt.Sprintf("%v", creds),
		fmt.Sprintf("%+v", creds),
		fmt.Sprintf("%#v", creds),
		fmt.Sprintf("%s", creds),
	} {
		assert.NotContains(t, out, "AKIA-very-secret-key")
		assert.NotContains(t, out, "topsecret")
		assert.NotContains(t, out, "hunter2")
	}
}

func TestCredentialsValidate(t *testing.T) {
	assert.NoError(t, testCreds.Validate(true))
	assert.Error(t, Credentials{APIKey: "k"}.Validate(false))
	assert.Error(t, Credentials{APIKey: "k", APISecret: "s"}.Validate(true))
	assert.NoError(t, Credentials{APIKey: "k", APISecret: "s"}.Validate(false))
}

func TestFailedResultFromError(t *testing.T) {
	timeout := FailedResultFromError(fmt.Errorf("place order: %w", context.DeadlineExceeded))
	assert.False(t, timeout.Success)
	assert.Equal(t, ErrorCodeTimeout, timeout.ErrorCode)

	rejected := FailedResultFromError(&ExchangeError{Exchange: "okx", Code: "51008", Message: "insufficient balance"})
	assert.Equal(t, "51008", rejected.ErrorCode)
	assert.Equal(t, "insufficient balance", rejected.ErrorMessage)

	unsupported := FailedResultFromError(ErrUnsupportedExchange)
	assert.Equal(t, ErrorCodeUnsupported, unsupported.ErrorCode)
	assert.Equal(t, "Unsupported exchange selected", unsupported.ErrorMessage)

	generic := FailedResultFromError(errors.New("connection refused"))
	assert.Equal(t, ErrorCodeRequestFailed, generic.ErrorCode)
}

func TestSplitSymbol(t *testing.T) {
	cases := map[string][2]string{
		"BTCUSDT":  {"BTC", "USDT"},
		"eth-usdt": {"ETH", "USDT"},
		"SOL/USDC": {"SOL", "USDC"},
		"XBTUSD":   {"XBT", "USD"},
		"DOGE":     {"DOGE", "USDT"},
	}
	for in, want := range cases {
		base, quote := splitSymbol(in)
		assert.Equal(t, want[0], base, in)
		assert.Equal(t, want[1], quote, in)
	}

	assert.Equal(t, "BTC-USDT-SWAP", okxInstID("BTCUSDT"))
	assert.Equal(t, "XBTUSDTM", kucoinSymbol("BTCUSDT"))
	assert.Equal(t, "ETHUSDTM", kucoinSymbol("ETHUSDTM"))
	assert.Equal(t, "PF_XBTUSD", krakenSymbol("BTCUSDT"))
	assert.Equal(t, "PF_ETHUSD", krakenSymbol("PF_ETHUSD"))
}

func TestClientOrderIDShape(t *testing.T) {
	id := newClientOrderID()
	assert.Len(t, id, 32)
	assert.NotContains(t, id, "-")
	assert.NotEqual(t, id, newClientOrderID())
}

func TestCatalogResolve(t *testing.T) {
	catalog, err := LoadCatalog("")
	require.NoError(t, err)

	assert.Equal(t, model.ExchangeBitget, catalog.Resolve("1"))
	assert.Equal(t, model.ExchangeBitget, catalog.Resolve("BitGet"))
	assert.Equal(t, model.ExchangeOKX, catalog.Resolve(" OKEX "))
	assert.Equal(t, model.ExchangeKraken, catalog.Resolve("krakenfutures"))
	assert.Equal(t, model.ExchangeUnsupported, catalog.Resolve("binance"))
	assert.Equal(t, model.ExchangeUnsupported, catalog.Resolve("99"))
	assert.Equal(t, model.ExchangeUnsupported, catalog.Resolve(""))

	entry, ok := catalog.Entry(model.ExchangePhemex)
	require.True(t, ok)
	assert.Equal(t, "https://testnet-api.phemex.com", entry.TestnetURL)
}

func TestParseCatalogRejectsDuplicates(t *testing.T) {
	_, err := ParseCatalog([]byte(`
exchanges:
  - id: 1
    name: a
  - id: 1
    name: b
`))
	assert.Error(t, err)

	_, err = ParseCatalog([]byte(`
exchanges:
  - id: 1
    name: a
  - id: 2
    name: b
    aliases: [A]
`))
	assert.Error(t, err)

	_, err = ParseCatalog([]byte(`
exchanges:
  - id: 0
    name: zero
`))
	assert.Error(t, err)
}

func TestDefaultRegistryRegistersEnabledExchanges(t *testing.T) {
	reg, err := NewDefaultRegistry(Config{GatewayTimeout: time.Second})
	require.NoError(t, err)

	for _, id := range []uint{model.ExchangeBitget, model.ExchangeOKX, model.ExchangeKucoin, model.ExchangePhemex, model.ExchangeKraken} {
		gw, err := reg.Gateway(id)
		require.NoError(t, err)
		assert.IsType(t, &RateLimitedGateway{}, gw)
	}

	_, err = reg.Gateway(model.ExchangeUnsupported)
	assert.ErrorIs(t, err, ErrUnsupportedExchange)
	assert.Equal(t, model.ExchangeOKX, reg.ResolveExchange("okx"))
}

func TestRegistryWithoutCatalogResolvesRegisteredIDs(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(7, &stubGateway{})

	assert.Equal(t, uint(7), reg.ResolveExchange("7"))
	assert.Equal(t, uint(0), reg.ResolveExchange("8"))
	assert.Equal(t, uint(0), reg.ResolveExchange("bitget"))
}

func TestRateLimitedGatewayHonoursContext(t *testing.T) {
	inner := &stubGateway{}
	gw := NewRateLimitedGateway(inner, rate.Every(time.Hour), 1)
	order := &model.Order{Symbol: "BTCUSDT", Side: model.SideBuy, Size: decimal.NewFromInt(1)}

	// the first call consumes the only token
	res := gw.SendEntryOrder(context.Background(), order, testCreds)
	require.True(t, res.Success)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res = gw.SendEntryOrder(ctx, order, testCreds)
	assert.False(t, res.Success)
	assert.Contains(t, []string{ErrorCodeRateLimited, ErrorCodeTimeout}, res.ErrorCode)
	assert.Equal(t, 1, inner.entries)

	_, err := gw.FetchAssetPrice(ctx, "BTCUSDT")
	assert.Error(t, err)
	assert.Equal(t, "stub", gw.Name())
}

type assertError struct{}

func (assertError) Error() string { return "err" }

func fakeResponse(status int) *resty.Response {
	return &resty.Response{RawResponse: &http.Response{StatusCode: status}}
}

type stubGateway struct {
	entries int
}

func (s *stubGateway) Name() string { return "stub" }

func (s *stubGateway) SendEntryOrder(context.Context, *model.Order, Credentials) model.ExchangeOrderResult {
	s.entries++
	return model.ExchangeOrderResult{Success: true}
}

func (s *stubGateway) SendTakeProfitOrder(context.Context, *model.Order, Credentials) (string, error) {
	return "{}", nil
}

func (s *stubGateway) SendStoplossOrder(context.Context, *model.Order, Credentials) (string, error) {
	return "{}", nil
}

func (s *stubGateway) FetchAssetPrice(context.Context, string) (*decimal.Decimal, error) {
	p := decimal.NewFromInt(100)
	return &p, nil
}

func (s *stubGateway) GetBalance(context.Context, Credentials) (decimal.Decimal, error) {
	return decimal.NewFromInt(1000), nil
}

func (s *stubGateway) FetchOrderState(context.Context, *model.Order, Credentials) (OrderState, error) {
	return OrderState{}, nil
}
