// REST GATEWAY FOR PHEMEX USDT-M FUTURES
// RESTY ONLY + INTERNAL RETRY
package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
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
	defaultPhemexBaseURL    = "https://api.phemex.com"
	defaultPhemexTestnetURL = "https://testnet-api.phemex.com"
)

// -----------------------------
// API RESPONSE WRAPPER
// -----------------------------
type APIResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type mdResponse struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Result json.RawMessage `json:"result"`
}

type phemexOrder struct {
	OrderID    string `json:"orderID"`
	ClOrdID    string `json:"clOrdID"`
	OrdStatus  string `json:"ordStatus"`
	AvgPriceRp string `json:"avgPriceRp"`
}

// PhemexGateway places orders on Phemex USDT-M perpetuals in one-way mode.
type PhemexGateway struct {
	live    *resty.Client
	testnet *resty.Client
}

var _ Gateway = (*PhemexGateway)(nil)

func NewPhemexGateway(baseURL, testnetURL string, timeout time.Duration) *PhemexGateway {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultPhemexBaseURL
		logger.Warnf("No base URL provided for phemex, using default: %s", baseURL)
	}
	if strings.TrimSpace(testnetURL) == "" {
		testnetURL = defaultPhemexTestnetURL
	}
	return &PhemexGateway{
		live:    newHTTPClient(baseURL, timeout),
		testnet: newHTTPClient(testnetURL, timeout),
	}
}

func (g *PhemexGateway) Name() string { return "phemex" }

func (g *PhemexGateway) client(creds *Credentials) *resty.Client {
	if creds != nil && creds.Testnet {
		return g.testnet
	}
	return g.live
}

func signRequest(path, query, body string, expiry int64, secret string) string {
	base := path
	if query != "" {
		base += query
	}
	base += fmt.Sprintf("%d", expiry)
	if body != "" {
		base += body
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *PhemexGateway) doRequest(
	ctx context.Context,
	creds Credentials,
	method, path string,
	query url.Values,
	body interface{},
) (*APIResponse, string, error) {
	queryString := query.Encode()

	var bodyBytes []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, "", fmt.Errorf("phemex encode body: %w", err)
		}
		bodyBytes = b
	}

	expiry := time.Now().Add(1 * time.Minute).Unix()
	sig := signRequest(path, queryString, string(bodyBytes), expiry, creds.APISecret)

	req := g.client(&creds).R().
		SetContext(ctx).
		SetHeader("x-phemex-access-token", creds.APIKey).
		SetHeader("x-phemex-request-expiry", fmt.Sprintf("%d", expiry)).
		SetHeader("x-phemex-request-signature", sig)

	if queryString != "" {
		req = req.SetQueryString(queryString)
	}
	if bodyBytes != nil {
		req = req.SetBody(bodyBytes).SetHeader("Content-Type", "application/json")
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, "", err
	}

	raw := string(resp.Body())
	if resp.StatusCode() != http.StatusOK {
		return nil, raw, &ExchangeError{Exchange: g.Name(), Code: strconv.Itoa(resp.StatusCode()), Message: raw}
	}

	var apiResp APIResponse
	if err := json.Unmarshal(resp.Body(), &apiResp); err != nil {
		return nil, raw, fmt.Errorf("phemex decode response: %w", err)
	}
	if apiResp.Code != 0 {
		msg := apiResp.Msg
		if msg == "" {
			msg = phemexErrorCode(apiResp.Code)
		}
		return &apiResp, raw, &ExchangeError{Exchange: g.Name(), Code: phemexErrorCode(apiResp.Code), Message: msg}
	}
	return &apiResp, raw, nil
}

func phemexSymbol(symbol string) string {
	base, quote := splitSymbol(symbol)
	return base + quote
}

// phemexSide maps buy/sell to the capitalized sides the API expects.
func phemexSide(side string) string {
	if strings.EqualFold(side, model.SideSell) {
		return "Sell"
	}
	return "Buy"
}

func (g *PhemexGateway) setLeverage(ctx context.Context, order *model.Order, creds Credentials) error {
	lev := leverageOf(order)
	if !order.IsIsolated {
		// negative leverage selects cross margin
		lev = -lev
	}
	query := url.Values{}
	query.Set("symbol", phemexSymbol(order.Symbol))
	query.Set("leverageRr", strconv.Itoa(lev))
	_, _, err := g.doRequest(ctx, creds, http.MethodPut, "/g-positions/leverage", query, nil)
	return err
}

func (g *PhemexGateway) placeOrder(ctx context.Context, creds Credentials, body map[string]interface{}) (phemexOrder, string, error) {
	resp, raw, err := g.doRequest(ctx, creds, http.MethodPost, "/g-orders", nil, body)
	if err != nil {
		return phemexOrder{}, raw, err
	}
	var placed phemexOrder
	_ = json.Unmarshal(resp.Data, &placed)
	return placed, raw, nil
}

func (g *PhemexGateway) SendEntryOrder(ctx context.Context, order *model.Order, creds Credentials) model.ExchangeOrderResult {
	if err := creds.Validate(false); err != nil {
		return model.FailedResult("INVALID_CREDENTIALS", err.Error())
	}
	if err := g.setLeverage(ctx, order, creds); err != nil {
		return FailedResultFromError(err)
	}

	clOrdID := newClientOrderID()
	body := map[string]interface{}{
		"symbol":      phemexSymbol(order.Symbol),
		"side":        phemexSide(order.Side),
		"posSide":     "Merged",
		"ordType":     "Market",
		"orderQtyRq":  order.Size.String(),
		"reduceOnly":  false,
		"clOrdID":     clOrdID,
		"timeInForce": "ImmediateOrCancel",
	}
	if order.Price != nil {
		body["ordType"] = "Limit"
		body["priceRp"] = order.Price.String()
		body["timeInForce"] = "GoodTillCancel"
	}

	placed, raw, err := g.placeOrder(ctx, creds, body)
	if err != nil {
		res := FailedResultFromError(err)
		res.Response = raw
		return res
	}
	return model.ExchangeOrderResult{
		Success:         true,
		Response:        raw,
		ExchangeOrderID: placed.OrderID,
		ClientOrderID:   clOrdID,
	}
}

// placeConditional sends a reduce-only Stop (stoploss) or MarketIfTouched
// (take profit) order triggered by the mark price.
func (g *PhemexGateway) placeConditional(ctx context.Context, order *model.Order, creds Credentials, ordType string, trigger decimal.Decimal) (string, error) {
	clOrdID := newClientOrderID()
	body := map[string]interface{}{
		"symbol":         phemexSymbol(order.Symbol),
		"side":           phemexSide(closingSide(order.Side)),
		"posSide":        "Merged",
		"ordType":        ordType,
		"orderQtyRq":     order.Size.String(),
		"stopPxRp":       trigger.String(),
		"triggerType":    "ByMarkPrice",
		"reduceOnly":     true,
		"closeOnTrigger": true,
		"clOrdID":        clOrdID,
		"timeInForce":    "GoodTillCancel",
	}
	placed, raw, err := g.placeOrder(ctx, creds, body)
	if err != nil {
		return raw, err
	}
	order.ExchangeOrderID = placed.OrderID
	order.ClientOrderID = clOrdID
	return raw, nil
}

func (g *PhemexGateway) SendTakeProfitOrder(ctx context.Context, order *model.Order, creds Credentials) (string, error) {
	if err := creds.Validate(false); err != nil {
		return "", err
	}
	if order.Price != nil {
		return g.placeConditional(ctx, order, creds, "MarketIfTouched", *order.Price)
	}

	clOrdID := newClientOrderID()
	placed, raw, err := g.placeOrder(ctx, creds, map[string]interface{}{
		"symbol":      phemexSymbol(order.Symbol),
		"side":        phemexSide(closingSide(order.Side)),
		"posSide":     "Merged",
		"ordType":     "Market",
		"orderQtyRq":  order.Size.String(),
		"reduceOnly":  true,
		"clOrdID":     clOrdID,
		"timeInForce": "ImmediateOrCancel",
	})
	if err != nil {
		return raw, err
	}
	order.ExchangeOrderID = placed.OrderID
	order.ClientOrderID = clOrdID
	return raw, nil
}

func (g *PhemexGateway) SendStoplossOrder(ctx context.Context, order *model.Order, creds Credentials) (string, error) {
	if err := creds.Validate(false); err != nil {
		return "", err
	}
	if !positiveDecimal(order.Stoploss) {
		return "", ErrMissingStopPrice
	}
	return g.placeConditional(ctx, order, creds, "Stop", *order.Stoploss)
}

// FetchAssetPrice reads the public 24h ticker.
func (g *PhemexGateway) FetchAssetPrice(ctx context.Context, symbol string) (*decimal.Decimal, error) {
	resp, err := g.live.R().
		SetContext(ctx).
		SetQueryParam("symbol", phemexSymbol(symbol)).
		Get("/md/v3/ticker/24hr")
	if err != nil {
		return nil, err
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, &ExchangeError{Exchange: g.Name(), Code: strconv.Itoa(resp.StatusCode()), Message: string(resp.Body())}
	}

	var md mdResponse
	if err := json.Unmarshal(resp.Body(), &md); err != nil {
		return nil, err
	}
	if md.Error != nil {
		return nil, errors.New(md.Error.Message)
	}

	var ticker struct {
		LastRp string `json:"lastRp"`
	}
	if err := json.Unmarshal(md.Result, &ticker); err != nil {
		return nil, fmt.Errorf("phemex decode ticker: %w", err)
	}
	return parseDecimal(ticker.LastRp), nil
}

func (g *PhemexGateway) GetBalance(ctx context.Context, creds Credentials) (decimal.Decimal, error) {
	if err := creds.Validate(false); err != nil {
		return decimal.Zero, err
	}
	query := url.Values{}
	query.Set("currency", "USDT")

	resp, _, err := g.doRequest(ctx, creds, http.MethodGet, "/g-accounts/accountPositions", query, nil)
	if err != nil {
		return decimal.Zero, err
	}

	var parsed struct {
		Account struct {
			AccountBalanceRv   string `json:"accountBalanceRv"`
			TotalUsedBalanceRv string `json:"totalUsedBalanceRv"`
		} `json:"account"`
	}
	if err := json.Unmarshal(resp.Data, &parsed); err != nil {
		return decimal.Zero, fmt.Errorf("phemex decode account: %w", err)
	}

	balance := parseDecimal(parsed.Account.AccountBalanceRv)
	if balance == nil {
		return decimal.Zero, nil
	}
	available := *balance
	if used := parseDecimal(parsed.Account.TotalUsedBalanceRv); used != nil {
		available = available.Sub(*used)
	}
	if available.IsNegative() {
		return decimal.Zero, nil
	}
	return available, nil
}

func (g *PhemexGateway) FetchOrderState(ctx context.Context, order *model.Order, creds Credentials) (OrderState, error) {
	if err := creds.Validate(false); err != nil {
		return OrderState{}, err
	}
	if order.ExchangeOrderID == "" {
		return OrderState{}, fmt.Errorf("phemex: order %d has no exchange order id", order.ID)
	}

	query := url.Values{}
	query.Set("symbol", phemexSymbol(order.Symbol))
	query.Set("orderID", order.ExchangeOrderID)

	resp, raw, err := g.doRequest(ctx, creds, http.MethodGet, "/api-data/g-futures/orders/by-order-id", query, nil)
	if err != nil {
		return OrderState{Raw: raw}, err
	}

	var rows []phemexOrder
	if err := json.Unmarshal(resp.Data, &rows); err != nil {
		var wrapped struct {
			Rows []phemexOrder `json:"rows"`
		}
		if err := json.Unmarshal(resp.Data, &wrapped); err != nil {
			return OrderState{Raw: raw}, fmt.Errorf("phemex decode orders: %w", err)
		}
		rows = wrapped.Rows
	}

	for _, o := range rows {
		if o.OrderID != order.ExchangeOrderID {
			continue
		}
		state := OrderState{Raw: raw}
		switch o.OrdStatus {
		case "Filled":
			state.Triggered = true
			state.Filled = true
		case "Triggered", "PartiallyFilled":
			state.Triggered = true
		case "Canceled", "Rejected", "Deactivated":
			state.Cancelled = true
		}
		if state.Triggered {
			if p := parseDecimal(o.AvgPriceRp); positiveDecimal(p) {
				state.ExecutedPrice = p
			}
		}
		return state, nil
	}
	return OrderState{Raw: raw}, fmt.Errorf("phemex: order %s not found", order.ExchangeOrderID)
}
