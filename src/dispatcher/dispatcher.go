// Package dispatcher routes orders to exchange gateways and normalizes what they answer.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"positionengine/src/cache"
	"positionengine/src/connectors"
	"positionengine/src/errorlog"
	"positionengine/src/model"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

const defaultTimeout = 15 * time.Second

// Price sources reported on entry outcomes.
const (
	PriceSourceLive  = "live"
	PriceSourceOrder = "order"
	PriceSourceCache = "cache"
)

type gatewayRegistry interface {
	Gateway(id uint) (connectors.Gateway, error)
	ResolveExchange(selector string) uint
}

// Request is one order to place for a user.
type Request struct {
	ExchangeSelector string
	Credentials      connectors.Credentials
	Order            *model.Order
}

// Outcome is the normalized answer of a dispatch. For take-profit and stoploss
// orders Result.Response carries the raw exchange payload.
type Outcome struct {
	ExchangeID    uint
	Kind          model.OrderKind
	Result        model.ExchangeOrderResult
	ExecutedPrice *decimal.Decimal
	PriceSource   string
}

// TimedOut reports whether the exchange call hit the gateway timeout.
func (o Outcome) TimedOut() bool {
	return o.Result.ErrorCode == connectors.ErrorCodeTimeout
}

// Dispatcher selects the gateway for a request and calls the capability matching the order kind.
type Dispatcher struct {
	registry gatewayRegistry
	prices   cache.PriceCache
	errs     errorlog.Reporter
	timeout  time.Duration
}

// New builds a dispatcher. prices and errs may be nil.
func New(registry gatewayRegistry, prices cache.PriceCache, errs errorlog.Reporter, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Dispatcher{
		registry: registry,
		prices:   prices,
		errs:     errs,
		timeout:  timeout,
	}
}

// ResolveExchange maps a selector to an exchange id, 0 when unknown.
func (d *Dispatcher) ResolveExchange(selector string) uint {
	return d.registry.ResolveExchange(selector)
}

// Dispatch places req.Order on the selected exchange. It never returns an error:
// every failure is folded into Outcome.Result.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (out Outcome) {
	order := req.Order
	out.ExchangeID = d.registry.ResolveExchange(req.ExchangeSelector)

	fields := map[string]interface{}{
		"component":   "dispatcher",
		"exchange_id": out.ExchangeID,
		"selector":    req.ExchangeSelector,
	}
	if order != nil {
		fields["order_id"] = order.ID
		fields["user_id"] = order.UserID
		fields["symbol"] = order.Symbol
		fields["side"] = order.Side
		fields["description"] = order.Description
	}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("gateway panic: %v", r)
			out.Result = model.FailedResult(connectors.ErrorCodeInternal, "unexpected failure while dispatching order")
			out.ExecutedPrice = nil
			d.report("Unexpected failure while dispatching order", err, "dispatcher.Dispatch", fields)
		}
	}()

	if order == nil {
		out.Result = model.FailedResult(connectors.ErrorCodeInvalidOrder, "order is required")
		return out
	}

	kind, err := model.KindForDescription(order.Description)
	if err != nil {
		out.Result = model.FailedResult(connectors.ErrorCodeInvalidOrder, err.Error())
		d.report("Order description rejected", err, "dispatcher.Dispatch", fields)
		return out
	}
	out.Kind = kind
	fields["kind"] = kind.String()

	gw, err := d.registry.Gateway(out.ExchangeID)
	if err != nil {
		out.Result = connectors.FailedResultFromError(err)
		d.report("Unsupported exchange selected", err, "dispatcher.Dispatch", fields)
		return out
	}

	logger.WithFields(fields).Debug("dispatching order")

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	switch kind {
	case model.OrderKindEntry:
		out.Result = gw.SendEntryOrder(callCtx, order, req.Credentials)
	case model.OrderKindTakeProfit:
		out.Result = rawResult(gw.SendTakeProfitOrder(callCtx, order, req.Credentials))
	case model.OrderKindStoploss:
		out.Result = rawResult(gw.SendStoplossOrder(callCtx, order, req.Credentials))
	}

	if !out.Result.Success {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			out.Result.ErrorCode = connectors.ErrorCodeTimeout
			if out.Result.ErrorMessage == "" {
				out.Result.ErrorMessage = "exchange call timed out"
			}
		}
		fields["error_code"] = out.Result.ErrorCode
		if out.TimedOut() {
			d.report("Exchange call timed out", errors.New(out.Result.ErrorMessage), "dispatcher.Dispatch", fields)
		} else {
			d.report("Exchange rejected order", errors.New(out.Result.ErrorMessage), "dispatcher.Dispatch", fields)
		}
		return out
	}

	if order.ExchangeOrderID != "" && out.Result.ExchangeOrderID == "" {
		out.Result.ExchangeOrderID = order.ExchangeOrderID
	}
	if order.ClientOrderID != "" && out.Result.ClientOrderID == "" {
		out.Result.ClientOrderID = order.ClientOrderID
	}

	if kind == model.OrderKindEntry {
		out.ExecutedPrice, out.PriceSource = d.executedPrice(ctx, gw, out.ExchangeID, order)
		if out.ExecutedPrice != nil {
			fields["executed_price"] = out.ExecutedPrice.String()
			fields["price_source"] = out.PriceSource
		}
	}

	logger.WithFields(fields).Info("order dispatched")
	return out
}

// rawResult wraps a take-profit or stoploss answer.
func rawResult(raw string, err error) model.ExchangeOrderResult {
	if err != nil {
		res := connectors.FailedResultFromError(err)
		res.Response = raw
		return res
	}
	return model.ExchangeOrderResult{Success: true, Response: raw}
}

// executedPrice prefers the live market price, then the submitted price, then the last cached price.
func (d *Dispatcher) executedPrice(ctx context.Context, gw connectors.Gateway, exchangeID uint, order *model.Order) (*decimal.Decimal, string) {
	live, err := d.fetchPrice(ctx, gw, order.Symbol)
	if err == nil && live != nil && live.IsPositive() {
		d.cachePrice(ctx, exchangeID, order.Symbol, *live)
		return live, PriceSourceLive
	}

	logger.WithFields(map[string]interface{}{
		"component":   "dispatcher",
		"exchange_id": exchangeID,
		"symbol":      order.Symbol,
	}).WithError(err).Warn("live price unavailable, falling back to order price")

	if order.Price != nil && order.Price.IsPositive() {
		price := *order.Price
		return &price, PriceSourceOrder
	}

	if d.prices != nil {
		cached, cerr := d.prices.GetPrice(ctx, exchangeID, order.Symbol)
		if cerr == nil && cached != nil && cached.IsPositive() {
			return cached, PriceSourceCache
		}
	}
	return nil, ""
}

func (d *Dispatcher) fetchPrice(ctx context.Context, gw connectors.Gateway, symbol string) (price *decimal.Decimal, err error) {
	defer func() {
		if r := recover(); r != nil {
			price, err = nil, fmt.Errorf("price fetch panic: %v", r)
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return gw.FetchAssetPrice(callCtx, symbol)
}

func (d *Dispatcher) cachePrice(ctx context.Context, exchangeID uint, symbol string, price decimal.Decimal) {
	if d.prices == nil {
		return
	}
	if err := d.prices.SetPrice(ctx, exchangeID, symbol, price); err != nil {
		logger.WithField("component", "dispatcher").WithError(err).Warn("failed to cache price")
	}
}

// FetchPrice returns the live price of symbol on exchangeID and refreshes the cache.
func (d *Dispatcher) FetchPrice(ctx context.Context, exchangeID uint, symbol string) (*decimal.Decimal, error) {
	gw, err := d.registry.Gateway(exchangeID)
	if err != nil {
		return nil, err
	}
	price, err := d.fetchPrice(ctx, gw, symbol)
	if err != nil {
		return nil, err
	}
	if price == nil || !price.IsPositive() {
		return nil, fmt.Errorf("no price for %s", symbol)
	}
	d.cachePrice(ctx, exchangeID, symbol, *price)
	return price, nil
}

// FetchOrderState asks the exchange what happened to a placed order.
func (d *Dispatcher) FetchOrderState(ctx context.Context, order *model.Order, creds connectors.Credentials) (state connectors.OrderState, err error) {
	gw, err := d.registry.Gateway(order.ExchangeID)
	if err != nil {
		return connectors.OrderState{}, err
	}

	defer func() {
		if r := recover(); r != nil {
			state, err = connectors.OrderState{}, fmt.Errorf("order state panic: %v", r)
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return gw.FetchOrderState(callCtx, order, creds)
}

// Balance returns the available balance on the selected exchange.
func (d *Dispatcher) Balance(ctx context.Context, selector string, creds connectors.Credentials) (balance decimal.Decimal, err error) {
	id := d.registry.ResolveExchange(selector)
	gw, err := d.registry.Gateway(id)
	if err != nil {
		return decimal.Zero, err
	}

	defer func() {
		if r := recover(); r != nil {
			balance, err = decimal.Zero, fmt.Errorf("balance panic: %v", r)
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return gw.GetBalance(callCtx, creds)
}

func (d *Dispatcher) report(message string, err error, source string, fields map[string]interface{}) {
	if d.errs == nil {
		logger.WithFields(fields).WithError(err).Error(message)
		return
	}
	d.errs.LogErrorAsync(message, err, source, fields)
}
