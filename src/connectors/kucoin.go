package connectors

// REST GATEWAY FOR KUCOIN FUTURES (USDT margined, lot based)

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
	kucoinFuturesBaseURL = "https://api-futures.kucoin.com"
	kucoinSuccessCode    = "200000"
	kucoinKeyVersion     = "2"
)

type kucoinAPIResponse struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg,omitempty"`
	Data json.RawMessage `json:"data"`
}

// KucoinGateway places orders on KuCoin Futures.
type KucoinGateway struct {
	http *resty.Client
}

var _ Gateway = (*KucoinGateway)(nil)

func NewKucoinGateway(baseURL string, timeout time.Duration) *KucoinGateway {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = kucoinFuturesBaseURL
		logger.Warnf("No base URL provided for kucoin, using default: %s", baseURL)
	}
	return &KucoinGateway{http: newHTTPClient(baseURL, timeout)}
}

func (g *KucoinGateway) Name() string { return "kucoin" }

// KC-API-PASSPHRASE = base64( HMAC_SHA256(apiSecret, apiPassphrase) )
func kucoinSignPassphrase(secret, passphrase string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(passphrase))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// KC-API-SIGN = base64( HMAC_SHA256(apiSecret, timestamp + method + requestPath + body) )
// requestPath = path + queryString (ex: "/api/v1/account-overview?currency=USDT")
func kucoinSignRequest(secret, timestamp, method, requestPath, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + method + requestPath + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// kucoinSymbol converts BTCUSDT into the perpetual contract XBTUSDTM.
func kucoinSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if strings.HasSuffix(s, "USDTM") || strings.HasSuffix(s, "USDM") {
		return s
	}
	base, quote := splitSymbol(s)
	if base == "BTC" {
		base = "XBT"
	}
	return base + quote + "M"
}

func (g *KucoinGateway) do(
	ctx context.Context,
	method, path string,
	query url.Values,
	body interface{},
	creds *Credentials,
) (*kucoinAPIResponse, string, error) {
	queryString := query.Encode()

	var bodyBytes []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, "", fmt.Errorf("kucoin encode body: %w", err)
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
		requestPath := path
		if queryString != "" {
			requestPath += "?" + queryString
		}
		ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req = req.
			SetHeader("KC-API-KEY", creds.APIKey).
			SetHeader("KC-API-SIGN", kucoinSignRequest(creds.APISecret, ts, method, requestPath, string(bodyBytes))).
			SetHeader("KC-API-TIMESTAMP", ts).
			SetHeader("KC-API-PASSPHRASE", kucoinSignPassphrase(creds.APISecret, creds.Passphrase)).
			SetHeader("KC-API-KEY-VERSION", kucoinKeyVersion)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, "", err
	}

	raw := string(resp.Body())
	var parsed kucoinAPIResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		if resp.StatusCode() != http.StatusOK {
			return nil, raw, &ExchangeError{Exchange: g.Name(), Code: strconv.Itoa(resp.StatusCode()), Message: raw}
		}
		return nil, raw, fmt.Errorf("kucoin decode response: %w", err)
	}
	if resp.StatusCode() != http.StatusOK || parsed.Code != kucoinSuccessCode {
		code := parsed.Code
		if code == "" {
			code = strconv.Itoa(resp.StatusCode())
		}
		return &parsed, raw, &ExchangeError{Exchange: g.Name(), Code: code, Message: parsed.Msg}
	}
	return &parsed, raw, nil
}

func orderIDFrom(resp *kucoinAPIResponse) string {
	var ack struct {
		OrderID string `json:"orderId"`
	}
	_ = json.Unmarshal(resp.Data, &ack)
	return ack.OrderID
}

// SendEntryOrder places a market or limit order. Leverage travels with the
// order body on KuCoin, so there is no separate leverage call.
func (g *KucoinGateway) SendEntryOrder(ctx context.Context, order *model.Order, creds Credentials) model.ExchangeOrderResult {
	if err := creds.Validate(true); err != nil {
		return model.FailedResult("INVALID_CREDENTIALS", err.Error())
	}

	clientOid := newClientOrderID()
	body := map[string]interface{}{
		"clientOid":  clientOid,
		"side":       strings.ToLower(order.Side),
		"symbol":     kucoinSymbol(order.Symbol),
		"type":       "market",
		"leverage":   leverageOf(order),
		"size":       order.Size.IntPart(),
		"marginMode": marginMode(order.IsIsolated, "ISOLATED", "CROSS"),
	}
	if order.Price != nil {
		body["type"] = "limit"
		body["price"] = order.Price.String()
	}

	resp, raw, err := g.do(ctx, http.MethodPost, "/api/v1/orders", nil, body, &creds)
	if err != nil {
		res := FailedResultFromError(err)
		res.Response = raw
		return res
	}
	return model.ExchangeOrderResult{
		Success:         true,
		Response:        raw,
		ExchangeOrderID: orderIDFrom(resp),
		ClientOrderID:   clientOid,
	}
}

// placeStop sends a reduce-only stop market order. A long is protected by a
// "down" stop and taken profit by an "up" stop, a short the other way round.
func (g *KucoinGateway) placeStop(ctx context.Context, order *model.Order, creds Credentials, stoploss bool, trigger decimal.Decimal) (string, error) {
	direction := "up"
	if stoploss == isLong(order.Side) {
		direction = "down"
	}
	clientOid := newClientOrderID()
	body := map[string]interface{}{
		"clientOid":     clientOid,
		"side":          closingSide(order.Side),
		"symbol":        kucoinSymbol(order.Symbol),
		"type":          "market",
		"leverage":      leverageOf(order),
		"size":          order.Size.IntPart(),
		"reduceOnly":    true,
		"stop":          direction,
		"stopPriceType": "MP",
		"stopPrice":     trigger.String(),
		"marginMode":    marginMode(order.IsIsolated, "ISOLATED", "CROSS"),
	}
	resp, raw, err := g.do(ctx, http.MethodPost, "/api/v1/orders", nil, body, &creds)
	if err != nil {
		return raw, err
	}
	order.ExchangeOrderID = orderIDFrom(resp)
	order.ClientOrderID = clientOid
	return raw, nil
}

func (g *KucoinGateway) SendTakeProfitOrder(ctx context.Context, order *model.Order, creds Credentials) (string, error) {
	if err := creds.Validate(true); err != nil {
		return "", err
	}
	if order.Price != nil {
		return g.placeStop(ctx, order, creds, false, *order.Price)
	}

	clientOid := newClientOrderID()
	body := map[string]interface{}{
		"clientOid":  clientOid,
		"side":       closingSide(order.Side),
		"symbol":     kucoinSymbol(order.Symbol),
		"type":       "market",
		"size":       order.Size.IntPart(),
		"reduceOnly": true,
		"marginMode": marginMode(order.IsIsolated, "ISOLATED", "CROSS"),
	}
	resp, raw, err := g.do(ctx, http.MethodPost, "/api/v1/orders", nil, body, &creds)
	if err != nil {
		return raw, err
	}
	order.ExchangeOrderID = orderIDFrom(resp)
	order.ClientOrderID = clientOid
	return raw, nil
}

func (g *KucoinGateway) SendStoplossOrder(ctx context.Context, order *model.Order, creds Credentials) (string, error) {
	if err := creds.Validate(true); err != nil {
		return "", err
	}
	if !positiveDecimal(order.Stoploss) {
		return "", ErrMissingStopPrice
	}
	return g.placeStop(ctx, order, creds, true, *order.Stoploss)
}

func (g *KucoinGateway) FetchAssetPrice(ctx context.Context, symbol string) (*decimal.Decimal, error) {
	query := url.Values{}
	query.Set("symbol", kucoinSymbol(symbol))

	resp, _, err := g.do(ctx, http.MethodGet, "/api/v1/ticker", query, nil, nil)
	if err != nil {
		return nil, err
	}
	var ticker struct {
		Price decimal.NullDecimal `json:"price"`
	}
	if err := json.Unmarshal(resp.Data, &ticker); err != nil {
		return nil, fmt.Errorf("kucoin decode ticker: %w", err)
	}
	if !ticker.Price.Valid {
		return nil, nil
	}
	return &ticker.Price.Decimal, nil
}

func (g *KucoinGateway) GetBalance(ctx context.Context, creds Credentials) (decimal.Decimal, error) {
	if err := creds.Validate(true); err != nil {
		return decimal.Zero, err
	}
	query := url.Values{}
	query.Set("currency", "USDT")

	resp, _, err := g.do(ctx, http.MethodGet, "/api/v1/account-overview", query, nil, &creds)
	if err != nil {
		return decimal.Zero, err
	}
	var overview struct {
		AvailableBalance decimal.NullDecimal `json:"availableBalance"`
	}
	if err := json.Unmarshal(resp.Data, &overview); err != nil {
		return decimal.Zero, fmt.Errorf("kucoin decode account overview: %w", err)
	}
	return overview.AvailableBalance.Decimal, nil
}

func (g *KucoinGateway) FetchOrderState(ctx context.Context, order *model.Order, creds Credentials) (OrderState, error) {
	if err := creds.Validate(true); err != nil {
		return OrderState{}, err
	}
	if order.ExchangeOrderID == "" {
		return OrderState{}, fmt.Errorf("kucoin: order %d has no exchange order id", order.ID)
	}

	resp, raw, err := g.do(ctx, http.MethodGet, "/api/v1/orders/"+url.PathEscape(order.ExchangeOrderID), nil, nil, &creds)
	if err != nil {
		return OrderState{Raw: raw}, err
	}
	var detail struct {
		Status        string              `json:"status"`
		IsActive      bool                `json:"isActive"`
		CancelExist   bool                `json:"cancelExist"`
		StopTriggered bool                `json:"stopTriggered"`
		FilledSize    decimal.NullDecimal `json:"filledSize"`
		AvgDealPrice  decimal.NullDecimal `json:"avgDealPrice"`
	}
	if err := json.Unmarshal(resp.Data, &detail); err != nil {
		return OrderState{Raw: raw}, fmt.Errorf("kucoin decode order: %w", err)
	}

	filled := detail.FilledSize.Valid && detail.FilledSize.Decimal.IsPositive()
	state := OrderState{
		Raw:       raw,
		Triggered: detail.StopTriggered || filled,
		Filled:    detail.Status == "done" && filled,
		Cancelled: detail.CancelExist && !filled,
	}
	if detail.AvgDealPrice.Valid && detail.AvgDealPrice.Decimal.IsPositive() {
		p := detail.AvgDealPrice.Decimal
		state.ExecutedPrice = &p
	}
	return state, nil
}
