package connectors

// REST GATEWAY FOR KRAKEN FUTURES (v3 /derivatives)
// RESTY ONLY + INTERNAL RETRY

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"positionengine/src/model"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// Kraken Futures uses /derivatives + /api/v3/...
const (
	defaultKrakenDerivativesBaseURL = "https://futures.kraken.com/derivatives"
	defaultKrakenDemoBaseURL        = "https://demo-futures.kraken.com/derivatives"
	apiV3Prefix                     = "/api/v3"
)

// KrakenGateway places orders on Kraken Futures multi-collateral perpetuals.
type KrakenGateway struct {
	live    *resty.Client
	testnet *resty.Client
}

var _ Gateway = (*KrakenGateway)(nil)

func NewKrakenGateway(baseURL, testnetURL string, timeout time.Duration) *KrakenGateway {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultKrakenDerivativesBaseURL
		logger.Warnf("No base URL provided for kraken, using default: %s", baseURL)
	}
	if strings.TrimSpace(testnetURL) == "" {
		testnetURL = defaultKrakenDemoBaseURL
	}
	return &KrakenGateway{
		live:    newHTTPClient(baseURL, timeout),
		testnet: newHTTPClient(testnetURL, timeout),
	}
}

func (g *KrakenGateway) Name() string { return "kraken" }

// -----------------------------
// AUTH
// -----------------------------
//
// Kraken Futures REST (v3 /derivatives/*) Authent:
//  1. message = postData + Nonce + endpointPath
//  2. sha256(message)
//  3. base64-decode apiSecret
//  4. hmac-sha512(secretDecoded, sha256Digest)
//  5. base64-encode result
//
// endpointPath is /api/v3/... without the /derivatives prefix.

func nonceMillis() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

func computeAuthent(postData, nonce, endpointPath, apiSecretB64 string) (string, error) {
	msg := postData + nonce + endpointPath

	sum := sha256.Sum256([]byte(msg))

	secret, err := base64.StdEncoding.DecodeString(apiSecretB64)
	if err != nil {
		// the decode error would echo secret bytes
		return "", errors.New("api secret is not valid base64")
	}

	mac := hmac.New(sha512.New, secret)
	_, _ = mac.Write(sum[:])

	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// We sign exactly what we send, spaces encoded as %20 rather than '+'.
func queryEscapeRFC3986(s string) string {
	esc := url.QueryEscape(s)
	return strings.ReplaceAll(esc, "+", "%20")
}

func encodeValuesRFC3986(v url.Values) string {
	if len(v) == 0 {
		return ""
	}
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		vals := v[k]
		sort.Strings(vals)
		ek := queryEscapeRFC3986(k)
		for _, val := range vals {
			parts = append(parts, ek+"="+queryEscapeRFC3986(val))
		}
	}
	return strings.Join(parts, "&")
}

// -----------------------------
// LOW-LEVEL REQUESTS
// -----------------------------
type krakenBaseResp struct {
	Result     string `json:"result"`
	Error      string `json:"error,omitempty"`
	ServerTime string `json:"serverTime,omitempty"`
}

func (g *KrakenGateway) doRequest(
	ctx context.Context,
	method, endpoint string,
	params url.Values,
	creds *Credentials,
	out any,
) (string, error) {
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	httpPath := apiV3Prefix + endpoint
	postData := encodeValuesRFC3986(params)

	client := g.live
	if creds != nil && creds.Testnet {
		client = g.testnet
	}

	req := client.R().SetContext(ctx)
	if creds != nil {
		nonce := nonceMillis()
		authent, err := computeAuthent(postData, nonce, httpPath, creds.APISecret)
		if err != nil {
			return "", err
		}
		req = req.
			SetHeader("APIKey", creds.APIKey).
			SetHeader("Nonce", nonce).
			SetHeader("Authent", authent)
	}

	// parameters travel in the query string so the signature matches what is sent
	if postData != "" {
		req = req.SetQueryString(postData)
	}

	resp, err := req.Execute(method, httpPath)
	if err != nil {
		return "", err
	}

	raw := string(resp.Body())
	if resp.StatusCode() != http.StatusOK {
		return raw, &ExchangeError{Exchange: g.Name(), Code: strconv.Itoa(resp.StatusCode()), Message: raw}
	}

	// Kraken Futures returns HTTP 200 with {result:"error", error:"..."} on failures.
	var base krakenBaseResp
	if err := json.Unmarshal(resp.Body(), &base); err != nil {
		return raw, fmt.Errorf("kraken decode response: %w", err)
	}
	if strings.EqualFold(base.Result, "error") {
		code := base.Error
		if code == "" {
			code = "error"
		}
		return raw, &ExchangeError{Exchange: g.Name(), Code: code, Message: base.Error}
	}

	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return raw, fmt.Errorf("kraken decode output: %w", err)
		}
	}
	return raw, nil
}

// -----------------------------
// TRADING
// -----------------------------
type SendOrderRequest struct {
	OrderType string // required: lmt, mkt, stp, take_profit
	Symbol    string // required: e.g. PF_XBTUSD
	Side      string // required: buy, sell
	Size      decimal.Decimal

	LimitPrice    *decimal.Decimal
	StopPrice     *decimal.Decimal
	CliOrdID      string
	TriggerSignal string // mark, index, last
	ReduceOnly    bool
}

func (r SendOrderRequest) toValues() (url.Values, error) {
	v := url.Values{}

	if strings.TrimSpace(r.OrderType) == "" {
		return nil, errors.New("orderType is required")
	}
	if strings.TrimSpace(r.Symbol) == "" {
		return nil, errors.New("symbol is required")
	}
	if strings.TrimSpace(r.Side) == "" {
		return nil, errors.New("side is required")
	}
	if !r.Size.IsPositive() {
		return nil, errors.New("size must be > 0")
	}

	v.Set("orderType", strings.ToLower(r.OrderType))
	v.Set("symbol", r.Symbol)
	v.Set("side", strings.ToLower(r.Side))
	v.Set("size", r.Size.String())

	if r.LimitPrice != nil {
		v.Set("limitPrice", r.LimitPrice.String())
	}
	if r.StopPrice != nil {
		v.Set("stopPrice", r.StopPrice.String())
	}
	if strings.TrimSpace(r.CliOrdID) != "" {
		v.Set("cliOrdId", r.CliOrdID)
	}
	if strings.TrimSpace(r.TriggerSignal) != "" {
		v.Set("triggerSignal", strings.ToLower(r.TriggerSignal))
	}
	if r.ReduceOnly {
		v.Set("reduceOnly", "true")
	}

	return v, nil
}

type SendOrderResponse struct {
	Result     string `json:"result"`
	ServerTime string `json:"serverTime"`

	SendStatus struct {
		ReceivedTime string `json:"receivedTime"`
		Status       string `json:"status"`
		OrderID      string `json:"order_id"`
	} `json:"sendStatus"`
}

// krakenSymbol converts BTCUSDT into the linear perpetual PF_XBTUSD.
func krakenSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if strings.HasPrefix(s, "PF_") || strings.HasPrefix(s, "PI_") {
		return s
	}
	base, _ := splitSymbol(s)
	if base == "BTC" {
		base = "XBT"
	}
	return "PF_" + base + "USD"
}

func (g *KrakenGateway) sendOrder(ctx context.Context, creds Credentials, req SendOrderRequest) (*SendOrderResponse, string, error) {
	params, err := req.toValues()
	if err != nil {
		return nil, "", err
	}

	var out SendOrderResponse
	raw, err := g.doRequest(ctx, http.MethodPost, "/sendorder", params, &creds, &out)
	if err != nil {
		return nil, raw, err
	}
	// a rejected order still returns result=success with a descriptive status
	if !strings.EqualFold(out.SendStatus.Status, "placed") {
		return &out, raw, &ExchangeError{Exchange: g.Name(), Code: out.SendStatus.Status, Message: "order not placed: " + out.SendStatus.Status}
	}
	return &out, raw, nil
}

func (g *KrakenGateway) setLeverage(ctx context.Context, order *model.Order, creds Credentials) error {
	if !order.IsIsolated {
		return nil
	}
	params := url.Values{}
	params.Set("symbol", krakenSymbol(order.Symbol))
	params.Set("maxLeverage", strconv.Itoa(leverageOf(order)))
	_, err := g.doRequest(ctx, http.MethodPut, "/leveragepreferences", params, &creds, nil)
	return err
}

func (g *KrakenGateway) SendEntryOrder(ctx context.Context, order *model.Order, creds Credentials) model.ExchangeOrderResult {
	if err := creds.Validate(false); err != nil {
		return model.FailedResult("INVALID_CREDENTIALS", err.Error())
	}
	if err := g.setLeverage(ctx, order, creds); err != nil {
		return FailedResultFromError(err)
	}

	req := SendOrderRequest{
		OrderType: "mkt",
		Symbol:    krakenSymbol(order.Symbol),
		Side:      order.Side,
		Size:      order.Size,
		CliOrdID:  newClientOrderID(),
	}
	if order.Price != nil {
		req.OrderType = "lmt"
		req.LimitPrice = order.Price
	}

	out, raw, err := g.sendOrder(ctx, creds, req)
	if err != nil {
		res := FailedResultFromError(err)
		res.Response = raw
		return res
	}
	return model.ExchangeOrderResult{
		Success:         true,
		Response:        raw,
		ExchangeOrderID: out.SendStatus.OrderID,
		ClientOrderID:   req.CliOrdID,
	}
}

func (g *KrakenGateway) placeTrigger(ctx context.Context, order *model.Order, creds Credentials, orderType string, trigger decimal.Decimal) (string, error) {
	req := SendOrderRequest{
		OrderType:     orderType,
		Symbol:        krakenSymbol(order.Symbol),
		Side:          closingSide(order.Side),
		Size:          order.Size,
		StopPrice:     &trigger,
		CliOrdID:      newClientOrderID(),
		TriggerSignal: "mark",
		ReduceOnly:    true,
	}
	out, raw, err := g.sendOrder(ctx, creds, req)
	if err != nil {
		return raw, err
	}
	order.ExchangeOrderID = out.SendStatus.OrderID
	order.ClientOrderID = req.CliOrdID
	return raw, nil
}

func (g *KrakenGateway) SendTakeProfitOrder(ctx context.Context, order *model.Order, creds Credentials) (string, error) {
	if err := creds.Validate(false); err != nil {
		return "", err
	}
	if order.Price != nil {
		return g.placeTrigger(ctx, order, creds, "take_profit", *order.Price)
	}

	req := SendOrderRequest{
		OrderType:  "mkt",
		Symbol:     krakenSymbol(order.Symbol),
		Side:       closingSide(order.Side),
		Size:       order.Size,
		CliOrdID:   newClientOrderID(),
		ReduceOnly: true,
	}
	out, raw, err := g.sendOrder(ctx, creds, req)
	if err != nil {
		return raw, err
	}
	order.ExchangeOrderID = out.SendStatus.OrderID
	order.ClientOrderID = req.CliOrdID
	return raw, nil
}

func (g *KrakenGateway) SendStoplossOrder(ctx context.Context, order *model.Order, creds Credentials) (string, error) {
	if err := creds.Validate(false); err != nil {
		return "", err
	}
	if !positiveDecimal(order.Stoploss) {
		return "", ErrMissingStopPrice
	}
	return g.placeTrigger(ctx, order, creds, "stp", *order.Stoploss)
}

// GET /tickers/:symbol
func (g *KrakenGateway) FetchAssetPrice(ctx context.Context, symbol string) (*decimal.Decimal, error) {
	var out struct {
		Ticker struct {
			Last decimal.NullDecimal `json:"last"`
		} `json:"ticker"`
	}
	if _, err := g.doRequest(ctx, http.MethodGet, "/tickers/"+url.PathEscape(krakenSymbol(symbol)), nil, nil, &out); err != nil {
		return nil, err
	}
	if !out.Ticker.Last.Valid {
		return nil, nil
	}
	return &out.Ticker.Last.Decimal, nil
}

// GetBalance returns the available margin of the multi-collateral (flex) account.
func (g *KrakenGateway) GetBalance(ctx context.Context, creds Credentials) (decimal.Decimal, error) {
	if err := creds.Validate(false); err != nil {
		return decimal.Zero, err
	}
	var out struct {
		Accounts struct {
			Flex struct {
				AvailableMargin decimal.NullDecimal `json:"availableMargin"`
			} `json:"flex"`
		} `json:"accounts"`
	}
	if _, err := g.doRequest(ctx, http.MethodGet, "/accounts", nil, &creds, &out); err != nil {
		return decimal.Zero, err
	}
	return out.Accounts.Flex.AvailableMargin.Decimal, nil
}

type krakenOrderStatus struct {
	Status string `json:"status"`
	Order  struct {
		OrderID string `json:"orderId"`
	} `json:"order"`
}

type krakenFill struct {
	OrderID string          `json:"order_id"`
	Price   decimal.Decimal `json:"price"`
	Size    decimal.Decimal `json:"size"`
}

// FetchOrderState reads POST /orders/status and, for executed orders, derives
// the average execution price from the account fills.
func (g *KrakenGateway) FetchOrderState(ctx context.Context, order *model.Order, creds Credentials) (OrderState, error) {
	if err := creds.Validate(false); err != nil {
		return OrderState{}, err
	}
	if order.ExchangeOrderID == "" {
		return OrderState{}, fmt.Errorf("kraken: order %d has no exchange order id", order.ID)
	}

	params := url.Values{}
	params.Set("orderIds", order.ExchangeOrderID)

	var out struct {
		Orders []krakenOrderStatus `json:"orders"`
	}
	raw, err := g.doRequest(ctx, http.MethodPost, "/orders/status", params, &creds, &out)
	if err != nil {
		return OrderState{Raw: raw}, err
	}

	for _, o := range out.Orders {
		if o.Order.OrderID != order.ExchangeOrderID {
			continue
		}
		state := OrderState{Raw: raw}
		switch strings.ToUpper(o.Status) {
		case "FULLY_EXECUTED":
			state.Triggered = true
			state.Filled = true
		case "PARTIALLY_FILLED", "ENTERED_BOOK":
			kind, _ := order.Kind()
			state.Triggered = kind != model.OrderKindEntry
		case "CANCELLED", "REJECTED", "TRIGGER_ACTIVATION_FAILURE":
			state.Cancelled = true
		}
		if state.Triggered {
			state.ExecutedPrice = g.averageFillPrice(ctx, creds, order.ExchangeOrderID)
		}
		return state, nil
	}
	return OrderState{Raw: raw}, fmt.Errorf("kraken: order %s not found", order.ExchangeOrderID)
}

func (g *KrakenGateway) averageFillPrice(ctx context.Context, creds Credentials, orderID string) *decimal.Decimal {
	var out struct {
		Fills []krakenFill `json:"fills"`
	}
	if _, err := g.doRequest(ctx, http.MethodGet, "/fills", nil, &creds, &out); err != nil {
		logger.WithError(err).WithField("order_id", orderID).Warn("kraken fills lookup failed")
		return nil
	}

	notional, size := decimal.Zero, decimal.Zero
	for _, f := range out.Fills {
		if f.OrderID != orderID {
			continue
		}
		notional = notional.Add(f.Price.Mul(f.Size))
		size = size.Add(f.Size)
	}
	if !size.IsPositive() {
		return nil
	}
	avg := notional.Div(size).Round(8)
	return &avg
}
