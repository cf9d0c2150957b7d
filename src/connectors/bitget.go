package connectors

// REST GATEWAY FOR BITGET USDT-M FUTURES (v2 /mix)

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
	defaultBitgetBaseURL = "https://api.bitget.com"
	bitgetProductType    = "USDT-FUTURES"
	bitgetMarginCoin     = "USDT"
	bitgetSuccessCode    = "00000"
)

type bitgetResponse struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type bitgetOrderAck struct {
	OrderID   string `json:"orderId"`
	ClientOid string `json:"clientOid"`
}

type bitgetPlanOrder struct {
	OrderID    string `json:"orderId"`
	PlanStatus string `json:"planStatus"`
	PriceAvg   string `json:"priceAvg"`
	Trigger    string `json:"triggerPrice"`
}

type bitgetPlanList struct {
	EntrustedList []bitgetPlanOrder `json:"entrustedList"`
}

// BitgetGateway places orders on Bitget USDT-M perpetuals.
type BitgetGateway struct {
	http *resty.Client
}

var _ Gateway = (*BitgetGateway)(nil)

func NewBitgetGateway(baseURL string, timeout time.Duration) *BitgetGateway {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBitgetBaseURL
		logger.Warnf("No base URL provided for bitget, using default: %s", baseURL)
	}
	return &BitgetGateway{http: newHTTPClient(baseURL, timeout)}
}

func (g *BitgetGateway) Name() string { return "bitget" }

// ACCESS-SIGN = base64( HMAC_SHA256(secret, timestamp + METHOD + path[?query] + body) )
func bitgetSign(secret, timestamp, method, path, query, body string) string {
	prehash := timestamp + strings.ToUpper(method) + path
	if query != "" {
		prehash += "?" + query
	}
	prehash += body
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(prehash))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (g *BitgetGateway) do(
	ctx context.Context,
	method, path string,
	query url.Values,
	body interface{},
	creds *Credentials,
) (*bitgetResponse, string, error) {
	queryString := query.Encode()

	var bodyBytes []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, "", fmt.Errorf("bitget encode body: %w", err)
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
		ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req = req.
			SetHeader("ACCESS-KEY", creds.APIKey).
			SetHeader("ACCESS-SIGN", bitgetSign(creds.APISecret, ts, method, path, queryString, string(bodyBytes))).
			SetHeader("ACCESS-TIMESTAMP", ts).
			SetHeader("ACCESS-PASSPHRASE", creds.Passphrase).
			SetHeader("locale", "en-US")
		if creds.Testnet {
			req = req.SetHeader("paptrading", "1")
		}
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, "", err
	}

	raw := string(resp.Body())
	var parsed bitgetResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		if resp.StatusCode() != http.StatusOK {
			return nil, raw, &ExchangeError{Exchange: g.Name(), Code: strconv.Itoa(resp.StatusCode()), Message: raw}
		}
		return nil, raw, fmt.Errorf("bitget decode response: %w", err)
	}
	if resp.StatusCode() != http.StatusOK || parsed.Code != bitgetSuccessCode {
		code := parsed.Code
		if code == "" {
			code = strconv.Itoa(resp.StatusCode())
		}
		return &parsed, raw, &ExchangeError{Exchange: g.Name(), Code: code, Message: parsed.Msg}
	}
	return &parsed, raw, nil
}

func bitgetSymbol(symbol string) string {
	base, quote := splitSymbol(symbol)
	return base + quote
}

func (g *BitgetGateway) setLeverage(ctx context.Context, order *model.Order, creds Credentials) error {
	body := map[string]string{
		"symbol":      bitgetSymbol(order.Symbol),
		"productType": bitgetProductType,
		"marginCoin":  bitgetMarginCoin,
		"leverage":    strconv.Itoa(leverageOf(order)),
	}
	_, _, err := g.do(ctx, http.MethodPost, "/api/v2/mix/account/set-leverage", nil, body, &creds)
	return err
}

func (g *BitgetGateway) SendEntryOrder(ctx context.Context, order *model.Order, creds Credentials) model.ExchangeOrderResult {
	if err := creds.Validate(true); err != nil {
		return model.FailedResult("INVALID_CREDENTIALS", err.Error())
	}
	if err := g.setLeverage(ctx, order, creds); err != nil {
		return FailedResultFromError(err)
	}

	clientOid := newClientOrderID()
	body := map[string]string{
		"symbol":      bitgetSymbol(order.Symbol),
		"productType": bitgetProductType,
		"marginMode":  marginMode(order.IsIsolated, "isolated", "crossed"),
		"marginCoin":  bitgetMarginCoin,
		"size":        order.Size.String(),
		"side":        strings.ToLower(order.Side),
		"orderType":   "market",
		"clientOid":   clientOid,
		"reduceOnly":  "NO",
	}
	if order.Price != nil {
		body["orderType"] = "limit"
		body["price"] = order.Price.String()
		body["force"] = "gtc"
	}

	resp, raw, err := g.do(ctx, http.MethodPost, "/api/v2/mix/order/place-order", nil, body, &creds)
	if err != nil {
		res := FailedResultFromError(err)
		res.Response = raw
		return res
	}

	var ack bitgetOrderAck
	_ = json.Unmarshal(resp.Data, &ack)
	return model.ExchangeOrderResult{
		Success:         true,
		Response:        raw,
		ExchangeOrderID: ack.OrderID,
		ClientOrderID:   clientOid,
	}
}

func (g *BitgetGateway) placeTPSL(ctx context.Context, order *model.Order, creds Credentials, planType string, trigger decimal.Decimal) (string, error) {
	body := map[string]string{
		"symbol":       bitgetSymbol(order.Symbol),
		"productType":  bitgetProductType,
		"marginCoin":   bitgetMarginCoin,
		"planType":     planType,
		"triggerPrice": trigger.String(),
		"triggerType":  "mark_price",
		"holdSide":     strings.ToLower(order.Side),
		"size":         order.Size.String(),
		"clientOid":    newClientOrderID(),
	}
	resp, raw, err := g.do(ctx, http.MethodPost, "/api/v2/mix/order/place-tpsl-order", nil, body, &creds)
	if err != nil {
		return raw, err
	}
	var ack bitgetOrderAck
	if err := json.Unmarshal(resp.Data, &ack); err == nil && ack.OrderID != "" {
		order.ExchangeOrderID = ack.OrderID
		order.ClientOrderID = ack.ClientOid
	}
	return raw, nil
}

// SendTakeProfitOrder places a profit plan at order.Price, or a reduce-only
// market close when no target price is given.
func (g *BitgetGateway) SendTakeProfitOrder(ctx context.Context, order *model.Order, creds Credentials) (string, error) {
	if err := creds.Validate(true); err != nil {
		return "", err
	}
	if order.Price != nil {
		return g.placeTPSL(ctx, order, creds, "profit_plan", *order.Price)
	}

	clientOid := newClientOrderID()
	body := map[string]string{
		"symbol":      bitgetSymbol(order.Symbol),
		"productType": bitgetProductType,
		"marginMode":  marginMode(order.IsIsolated, "isolated", "crossed"),
		"marginCoin":  bitgetMarginCoin,
		"size":        order.Size.String(),
		"side":        closingSide(order.Side),
		"orderType":   "market",
		"clientOid":   clientOid,
		"reduceOnly":  "YES",
	}
	resp, raw, err := g.do(ctx, http.MethodPost, "/api/v2/mix/order/place-order", nil, body, &creds)
	if err != nil {
		return raw, err
	}
	var ack bitgetOrderAck
	if err := json.Unmarshal(resp.Data, &ack); err == nil {
		order.ExchangeOrderID = ack.OrderID
		order.ClientOrderID = clientOid
	}
	return raw, nil
}

func (g *BitgetGateway) SendStoplossOrder(ctx context.Context, order *model.Order, creds Credentials) (string, error) {
	if err := creds.Validate(true); err != nil {
		return "", err
	}
	if !positiveDecimal(order.Stoploss) {
		return "", ErrMissingStopPrice
	}
	return g.placeTPSL(ctx, order, creds, "loss_plan", *order.Stoploss)
}

func (g *BitgetGateway) FetchAssetPrice(ctx context.Context, symbol string) (*decimal.Decimal, error) {
	query := url.Values{}
	query.Set("symbol", bitgetSymbol(symbol))
	query.Set("productType", bitgetProductType)

	resp, _, err := g.do(ctx, http.MethodGet, "/api/v2/mix/market/ticker", query, nil, nil)
	if err != nil {
		return nil, err
	}

	var tickers []struct {
		LastPr string `json:"lastPr"`
	}
	if err := json.Unmarshal(resp.Data, &tickers); err != nil {
		return nil, fmt.Errorf("bitget decode ticker: %w", err)
	}
	if len(tickers) == 0 {
		return nil, nil
	}
	return parseDecimal(tickers[0].LastPr), nil
}

func (g *BitgetGateway) GetBalance(ctx context.Context, creds Credentials) (decimal.Decimal, error) {
	if err := creds.Validate(true); err != nil {
		return decimal.Zero, err
	}
	query := url.Values{}
	query.Set("productType", bitgetProductType)

	resp, _, err := g.do(ctx, http.MethodGet, "/api/v2/mix/account/accounts", query, nil, &creds)
	if err != nil {
		return decimal.Zero, err
	}

	var accounts []struct {
		MarginCoin string `json:"marginCoin"`
		Available  string `json:"available"`
	}
	if err := json.Unmarshal(resp.Data, &accounts); err != nil {
		return decimal.Zero, fmt.Errorf("bitget decode accounts: %w", err)
	}
	for _, a := range accounts {
		if strings.EqualFold(a.MarginCoin, bitgetMarginCoin) {
			if d := parseDecimal(a.Available); d != nil {
				return *d, nil
			}
		}
	}
	return decimal.Zero, nil
}

// FetchOrderState checks plan orders (stoploss, take profit) in the pending
// list first, then in the history. Plain orders are read from order detail.
func (g *BitgetGateway) FetchOrderState(ctx context.Context, order *model.Order, creds Credentials) (OrderState, error) {
	if err := creds.Validate(true); err != nil {
		return OrderState{}, err
	}
	if order.ExchangeOrderID == "" {
		return OrderState{}, fmt.Errorf("bitget: order %d has no exchange order id", order.ID)
	}

	kind, _ := order.Kind()
	if kind == model.OrderKindEntry {
		return g.fetchOrderDetail(ctx, order, creds)
	}

	query := url.Values{}
	query.Set("symbol", bitgetSymbol(order.Symbol))
	query.Set("productType", bitgetProductType)
	query.Set("planType", "profit_loss")
	query.Set("orderId", order.ExchangeOrderID)

	for _, path := range []string{"/api/v2/mix/order/orders-plan-pending", "/api/v2/mix/order/orders-plan-history"} {
		resp, raw, err := g.do(ctx, http.MethodGet, path, query, nil, &creds)
		if err != nil {
			return OrderState{Raw: raw}, err
		}
		var list bitgetPlanList
		if err := json.Unmarshal(resp.Data, &list); err != nil {
			return OrderState{Raw: raw}, fmt.Errorf("bitget decode plan orders: %w", err)
		}
		for _, p := range list.EntrustedList {
			if p.OrderID != order.ExchangeOrderID {
				continue
			}
			state := OrderState{Raw: raw}
			switch strings.ToLower(p.PlanStatus) {
			case "executed", "triggered":
				state.Triggered = true
				state.Filled = true
				state.ExecutedPrice = parseDecimal(p.PriceAvg)
			case "cancelled", "canceled", "fail_trigger":
				state.Cancelled = true
			}
			return state, nil
		}
	}
	return OrderState{}, fmt.Errorf("bitget: plan order %s not found", order.ExchangeOrderID)
}

func (g *BitgetGateway) fetchOrderDetail(ctx context.Context, order *model.Order, creds Credentials) (OrderState, error) {
	query := url.Values{}
	query.Set("symbol", bitgetSymbol(order.Symbol))
	query.Set("productType", bitgetProductType)
	query.Set("orderId", order.ExchangeOrderID)

	resp, raw, err := g.do(ctx, http.MethodGet, "/api/v2/mix/order/detail", query, nil, &creds)
	if err != nil {
		return OrderState{Raw: raw}, err
	}
	var detail struct {
		State    string `json:"state"`
		PriceAvg string `json:"priceAvg"`
	}
	if err := json.Unmarshal(resp.Data, &detail); err != nil {
		return OrderState{Raw: raw}, fmt.Errorf("bitget decode order detail: %w", err)
	}

	state := OrderState{Raw: raw}
	switch strings.ToLower(detail.State) {
	case "filled":
		state.Triggered = true
		state.Filled = true
		state.ExecutedPrice = parseDecimal(detail.PriceAvg)
	case "canceled", "cancelled":
		state.Cancelled = true
	}
	return state, nil
}
