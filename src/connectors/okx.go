package connectors

// REST GATEWAY FOR OKX PERPETUAL SWAPS (v5)

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"positionengine/src/model"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

const (
	defaultOKXBaseURL = "https://www.okx.com"
	okxSuccessCode    = "0"
)

type okxResponse struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type okxAck struct {
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	AlgoID  string `json:"algoId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

// OKXGateway places orders on OKX USDT margined swaps.
type OKXGateway struct {
	http *resty.Client
}

var _ Gateway = (*OKXGateway)(nil)

func NewOKXGateway(baseURL string, timeout time.Duration) *OKXGateway {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultOKXBaseURL
		logger.Warnf("No base URL provided for okx, using default: %s", baseURL)
	}
	return &OKXGateway{http: newHTTPClient(baseURL, timeout)}
}

func (g *OKXGateway) Name() string { return "okx" }

// OK-ACCESS-SIGN = base64( HMAC_SHA256(secret, timestamp + METHOD + path[?query] + body) )
func okxSign(secret, timestamp, method, path, query, body string) string {
	prehash := timestamp + strings.ToUpper(method) + path
	if query != "" {
		prehash += "?" + query
	}
	prehash += body
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(prehash))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func okxTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// okxInstID converts BTCUSDT into the swap instrument BTC-USDT-SWAP.
func okxInstID(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if strings.HasSuffix(s, "-SWAP") {
		return s
	}
	base, quote := splitSymbol(s)
	return base + "-" + quote + "-SWAP"
}

func (g *OKXGateway) do(
	ctx context.Context,
	method, path string,
	query url.Values,
	body interface{},
	creds *Credentials,
) (*okxResponse, string, error) {
	queryString := query.Encode()

	var bodyBytes []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, "", fmt.Errorf("okx encode body: %w", err)
		}
		bodyBytes = b
	}

	req := g.http.R().SetContext(ctx)
	if queryString != "" {
		req = req.SetQueryString(queryString)
	}
	if bodyBytes != nil {
		req = req.SetBody(bodyBytes).SetHeader("Content-Type", "application/json")
	}
	if creds != nil {
		ts := okxTimestamp(time.Now())
		req = req.
			SetHeader("OK-ACCESS-KEY", creds.APIKey).
			SetHeader("OK-ACCESS-SIGN", okxSign(creds.APISecret, ts, method, path, queryString, string(bodyBytes))).
			SetHeader("OK-ACCESS-TIMESTAMP", ts).
			SetHeader("OK-ACCESS-PASSPHRASE", creds.Passphrase)
		if creds.Testnet {
			req = req.SetHeader("x-simulated-trading", "1")
		}
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, "", err
	}

	raw := string(resp.Body())
	var parsed okxResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		if resp.StatusCode() != http.StatusOK {
			return nil, raw, &ExchangeError{Exchange: g.Name(), Code: strconv.Itoa(resp.StatusCode()), Message: raw}
		}
		return nil, raw, fmt.Errorf("okx decode response: %w", err)
	}
	if resp.StatusCode() != http.StatusOK || parsed.Code != okxSuccessCode {
		code, msg := parsed.Code, parsed.Msg
		// order endpoints report the real reason per item
		var acks []okxAck
		if json.Unmarshal(parsed.Data, &acks) == nil && len(acks) > 0 && acks[0].SCode != "" && acks[0].SCode != okxSuccessCode {
			code, msg = acks[0].SCode, acks[0].SMsg
		}
		if code == "" {
			code = strconv.Itoa(resp.StatusCode())
		}
		return &parsed, raw, &ExchangeError{Exchange: g.Name(), Code: code, Message: msg}
	}
	return &parsed, raw, nil
}

func firstAck(resp *okxResponse) okxAck {
	var acks []okxAck
	if err := json.Unmarshal(resp.Data, &acks); err != nil || len(acks) == 0 {
		return okxAck{}
	}
	return acks[0]
}

func (g *OKXGateway) setLeverage(ctx context.Context, order *model.Order, creds Credentials) error {
	body := map[string]string{
		"instId":  okxInstID(order.Symbol),
		"lever":   strconv.Itoa(leverageOf(order)),
		"mgnMode": marginMode(order.IsIsolated, "isolated", "cross"),
	}
	_, _, err := g.do(ctx, http.MethodPost, "/api/v5/account/set-leverage", nil, body, &creds)
	return err
}

func (g *OKXGateway) SendEntryOrder(ctx context.Context, order *model.Order, creds Credentials) model.ExchangeOrderResult {
	if err := creds.Validate(true); err != nil {
		return model.FailedResult("INVALID_CREDENTIALS", err.Error())
	}
	if err := g.setLeverage(ctx, order, creds); err != nil {
		return FailedResultFromError(err)
	}

	clOrdID := newClientOrderID()
	body := map[string]interface{}{
		"instId":  okxInstID(order.Symbol),
		"tdMode":  marginMode(order.IsIsolated, "isolated", "cross"),
		"side":    strings.ToLower(order.Side),
		"ordType": "market",
		"sz":      order.Size.String(),
		"clOrdId": clOrdID,
	}
	if order.Price != nil {
		body["ordType"] = "limit"
		body["px"] = order.Price.String()
	}

	resp, raw, err := g.do(ctx, http.MethodPost, "/api/v5/trade/order", nil, body, &creds)
	if err != nil {
		res := FailedResultFromError(err)
		res.Response = raw
		return res
	}

	ack := firstAck(resp)
	return model.ExchangeOrderResult{
		Success:         true,
		Response:        raw,
		ExchangeOrderID: ack.OrdID,
		ClientOrderID:   clOrdID,
	}
}

func (g *OKXGateway) placeConditional(ctx context.Context, order *model.Order, creds Credentials, stop bool, trigger decimal.Decimal) (string, error) {
	body := map[string]interface{}{
		"instId":      okxInstID(order.Symbol),
		"tdMode":      marginMode(order.IsIsolated, "isolated", "cross"),
		"side":        closingSide(order.Side),
		"ordType":     "conditional",
		"sz":          order.Size.String(),
		"reduceOnly":  true,
		"algoClOrdId": newClientOrderID(),
	}
	if stop {
		body["slTriggerPx"] = trigger.String()
		body["slOrdPx"] = "-1"
		body["slTriggerPxType"] = "mark"
	} else {
		body["tpTriggerPx"] = trigger.String()
		body["tpOrdPx"] = "-1"
		body["tpTriggerPxType"] = "mark"
	}

	resp, raw, err := g.do(ctx, http.MethodPost, "/api/v5/trade/order-algo", nil, body, &creds)
	if err != nil {
		return raw, err
	}
	ack := firstAck(resp)
	order.ExchangeOrderID = ack.AlgoID
	return raw, nil
}

// SendTakeProfitOrder places a conditional take profit at order.Price, or a
// reduce-only market order when no target price is given.
func (g *OKXGateway) SendTakeProfitOrder(ctx context.Context, order *model.Order, creds Credentials) (string, error) {
	if err := creds.Validate(true); err != nil {
		return "", err
	}
	if order.Price != nil {
		return g.placeConditional(ctx, order, creds, false, *order.Price)
	}

	clOrdID := newClientOrderID()
	body := map[string]interface{}{
		"instId":     okxInstID(order.Symbol),
		"tdMode":     marginMode(order.IsIsolated, "isolated", "cross"),
		"side":       closingSide(order.Side),
		"ordType":    "market",
		"sz":         order.Size.String(),
		"reduceOnly": true,
		"clOrdId":    clOrdID,
	}
	resp, raw, err := g.do(ctx, http.MethodPost, "/api/v5/trade/order", nil, body, &creds)
	if err != nil {
		return raw, err
	}
	order.ExchangeOrderID = firstAck(resp).OrdID
	order.ClientOrderID = clOrdID
	return raw, nil
}

func (g *OKXGateway) SendStoplossOrder(ctx context.Context, order *model.Order, creds Credentials) (string, error) {
	if err := creds.Validate(true); err != nil {
		return "", err
	}
	if !positiveDecimal(order.Stoploss) {
		return "", ErrMissingStopPrice
	}
	return g.placeConditional(ctx, order, creds, true, *order.Stoploss)
}

func (g *OKXGateway) FetchAssetPrice(ctx context.Context, symbol string) (*decimal.Decimal, error) {
	query := url.Values{}
	query.Set("instId", okxInstID(symbol))

	resp, _, err := g.do(ctx, http.MethodGet, "/api/v5/market/ticker", query, nil, nil)
	if err != nil {
		return nil, err
	}
	var tickers []struct {
		Last string `json:"last"`
	}
	if err := json.Unmarshal(resp.Data, &tickers); err != nil {
		return nil, fmt.Errorf("okx decode ticker: %w", err)
	}
	if len(tickers) == 0 {
		return nil, nil
	}
	return parseDecimal(tickers[0].Last), nil
}

func (g *OKXGateway) GetBalance(ctx context.Context, creds Credentials) (decimal.Decimal, error) {
	if err := creds.Validate(true); err != nil {
		return decimal.Zero, err
	}
	query := url.Values{}
	query.Set("ccy", "USDT")

	resp, _, err := g.do(ctx, http.MethodGet, "/api/v5/account/balance", query, nil, &creds)
	if err != nil {
		return decimal.Zero, err
	}
	var accounts []struct {
		Details []struct {
			Ccy      string `json:"ccy"`
			AvailBal string `json:"availBal"`
			AvailEq  string `json:"availEq"`
		} `json:"details"`
	}
	if err := json.Unmarshal(resp.Data, &accounts); err != nil {
		return decimal.Zero, fmt.Errorf("okx decode balance: %w", err)
	}
	for _, acc := range accounts {
		for _, d := range acc.Details {
			if !strings.EqualFold(d.Ccy, "USDT") {
				continue
			}
			if v := parseDecimal(d.AvailBal); v != nil {
				return *v, nil
			}
			if v := parseDecimal(d.AvailEq); v != nil {
				return *v, nil
			}
		}
	}
	return decimal.Zero, nil
}

// FetchOrderState reads algo order details for conditional orders and the
// regular order endpoint for everything else.
func (g *OKXGateway) FetchOrderState(ctx context.Context, order *model.Order, creds Credentials) (OrderState, error) {
	if err := creds.Validate(true); err != nil {
		return OrderState{}, err
	}
	if order.ExchangeOrderID == "" {
		return OrderState{}, fmt.Errorf("okx: order %d has no exchange order id", order.ID)
	}

	kind, _ := order.Kind()
	if kind == model.OrderKindEntry || (kind == model.OrderKindTakeProfit && order.Price == nil) {
		return g.fetchOrder(ctx, order, creds)
	}

	query := url.Values{}
	query.Set("algoId", order.ExchangeOrderID)
	resp, raw, err := g.do(ctx, http.MethodGet, "/api/v5/trade/order-algo", query, nil, &creds)
	if err != nil {
		return OrderState{Raw: raw}, err
	}
	var algos []struct {
		State    string `json:"state"`
		ActualPx string `json:"actualPx"`
	}
	if err := json.Unmarshal(resp.Data, &algos); err != nil {
		return OrderState{Raw: raw}, fmt.Errorf("okx decode algo order: %w", err)
	}
	if len(algos) == 0 {
		return OrderState{Raw: raw}, fmt.Errorf("okx: algo order %s not found", order.ExchangeOrderID)
	}

	state := OrderState{Raw: raw}
	switch algos[0].State {
	case "effective":
		state.Triggered = true
		state.Filled = true
		state.ExecutedPrice = parseDecimal(algos[0].ActualPx)
	case "partially_effective":
		state.Triggered = true
		state.ExecutedPrice = parseDecimal(algos[0].ActualPx)
	case "canceled", "order_failed":
		state.Cancelled = true
	}
	return state, nil
}

func (g *OKXGateway) fetchOrder(ctx context.Context, order *model.Order, creds Credentials) (OrderState, error) {
	query := url.Values{}
	query.Set("instId", okxInstID(order.Symbol))
	query.Set("ordId", order.ExchangeOrderID)

	resp, raw, err := g.do(ctx, http.MethodGet, "/api/v5/trade/order", query, nil, &creds)
	if err != nil {
		return OrderState{Raw: raw}, err
	}
	var orders []struct {
		State string `json:"state"`
		AvgPx string `json:"avgPx"`
	}
	if err := json.Unmarshal(resp.Data, &orders); err != nil || len(orders) == 0 {
		return OrderState{Raw: raw}, fmt.Errorf("okx: order %s not found", order.ExchangeOrderID)
	}

	state := OrderState{Raw: raw}
	switch orders[0].State {
	case "filled":
		state.Triggered = true
		state.Filled = true
		state.ExecutedPrice = parseDecimal(orders[0].AvgPx)
	case "canceled", "mmp_canceled":
		state.Cancelled = true
	}
	return state, nil
}
