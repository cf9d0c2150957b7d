// Package watchdog reconciles exchange-side stoploss and take-profit outcomes
// with local orders and positions.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"positionengine/src/cache"
	"positionengine/src/connectors"
	"positionengine/src/errorlog"
	"positionengine/src/ledger"
	"positionengine/src/model"
	"positionengine/src/repository"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

var (
	ErrNoStoplossOrder      = errors.New("no stoploss order found")
	ErrMissingCredentials   = errors.New("missing user credentials")
	ErrMissingPrice         = errors.New("missing price data")
	ErrStoplossNotTriggered = errors.New("stoploss not triggered on exchange")
	ErrNotStoplossOrder     = errors.New("order is not a stoploss order")
)

type orderStore interface {
	FindByID(ctx context.Context, id uint) (*model.Order, error)
	FindStoplossForPosition(ctx context.Context, positionID uint) (*model.Order, error)
	FindStoplossBySymbolAndUser(ctx context.Context, symbol string, userID uint, side string) (*model.Order, error)
	FindOpenStoplossOrders(ctx context.Context, limit int) ([]model.Order, error)
	UpdateStatusWithAutoLog(ctx context.Context, orderID uint, newStatus string, reason string) error
}

type positionStore interface {
	FindOpen(ctx context.Context, limit int) ([]model.Position, error)
	FindOpenByTuple(ctx context.Context, userID uint, symbol string, side string) (*model.Position, error)
}

type positionLedger interface {
	Position(ctx context.Context, positionID uint) (*model.Position, error)
	ClosePosition(ctx context.Context, positionID uint, exitPrice decimal.Decimal, orderIDs ...uint) (*model.Position, error)
	ReducePosition(ctx context.Context, positionID uint, percent decimal.Decimal, executedPrice *decimal.Decimal) (*model.Position, error)
	MarkToMarket(ctx context.Context, positionID uint, price decimal.Decimal) (*model.Position, error)
}

type exchange interface {
	FetchOrderState(ctx context.Context, order *model.Order, creds connectors.Credentials) (connectors.OrderState, error)
	FetchPrice(ctx context.Context, exchangeID uint, symbol string) (*decimal.Decimal, error)
}

type credentialSource interface {
	Credentials(ctx context.Context, userID, exchangeID uint) (connectors.Credentials, error)
}

type referencePrice interface {
	LastPrice(ctx context.Context, symbol string) (*decimal.Decimal, error)
}

// Deps are the collaborators of a Watchdog. Prices, Reference and Errors may be nil.
type Deps struct {
	Orders      orderStore
	Positions   positionStore
	Ledger      positionLedger
	Exchange    exchange
	Credentials credentialSource
	Prices      cache.PriceCache
	Reference   referencePrice
	Errors      errorlog.Reporter
}

// Watchdog closes positions whose stoploss fired on the exchange and applies take-profit reductions.
type Watchdog struct {
	deps    Deps
	cfg     Config
	trigger chan struct{}
	running sync.Mutex
}

func New(deps Deps, cfg Config) *Watchdog {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 200
	}
	if cfg.LoopPeriod <= 0 {
		cfg.LoopPeriod = 30 * time.Second
	}
	return &Watchdog{
		deps:    deps,
		cfg:     cfg,
		trigger: make(chan struct{}, 1),
	}
}

// HandleExchangeStoplossOrder confirms with the exchange that the stoploss order fired
// and only then closes the order and its position. A stoploss that has not fired yet
// returns ErrStoplossNotTriggered and leaves everything untouched.
func (w *Watchdog) HandleExchangeStoplossOrder(ctx context.Context, order *model.Order, creds connectors.Credentials) (*model.Position, error) {
	fields := orderFields("HandleExchangeStoplossOrder", order)

	if kind, err := order.Kind(); err != nil || kind != model.OrderKindStoploss {
		return nil, fmt.Errorf("%w: order %d is %q", ErrNotStoplossOrder, order.ID, order.Description)
	}

	state, err := w.deps.Exchange.FetchOrderState(ctx, order, creds)
	if err != nil {
		err = fmt.Errorf("confirm stoploss order %d: %w", order.ID, err)
		w.report("Could not confirm stoploss order with exchange", err, "watchdog.HandleExchangeStoplossOrder", fields)
		return nil, err
	}

	if state.Cancelled && !state.Triggered && !state.Filled {
		if err := w.markCancelled(ctx, order.ID, fields); err != nil {
			w.report("Failed to mark cancelled stoploss order", err, "watchdog.HandleExchangeStoplossOrder", fields)
			return nil, err
		}
		logger.WithFields(fields).Info("stoploss order cancelled on exchange")
		return nil, fmt.Errorf("%w: order %d was cancelled", ErrStoplossNotTriggered, order.ID)
	}

	if !state.Triggered && !state.Filled {
		logger.WithFields(fields).Debug("stoploss not triggered yet")
		return nil, ErrStoplossNotTriggered
	}

	pos, err := w.positionForOrder(ctx, order)
	if err != nil {
		w.report("No open position for triggered stoploss order", err, "watchdog.HandleExchangeStoplossOrder", fields)
		return nil, err
	}

	return w.close(ctx, pos, order, state.ExecutedPrice, nil, "watchdog.HandleExchangeStoplossOrder")
}

// CloseOrdersAndPosition closes a position through its stoploss order. The order is looked up
// by position id first and then, among orders created without a position link, by symbol,
// user and side.
// The exit price is the exchange's executed price when known, then fallbackPrice, then the
// cached market price, then the reference feed.
func (w *Watchdog) CloseOrdersAndPosition(ctx context.Context, positionID uint, fallbackPrice *decimal.Decimal) (*model.Position, error) {
	fields := map[string]interface{}{
		"component":   "watchdog",
		"op":          "CloseOrdersAndPosition",
		"position_id": positionID,
	}

	pos, err := w.deps.Ledger.Position(ctx, positionID)
	if err != nil {
		w.report("Position lookup failed", err, "watchdog.CloseOrdersAndPosition", fields)
		return nil, err
	}
	if !pos.IsOpen() {
		return nil, fmt.Errorf("%w: id %d", ledger.ErrPositionClosed, positionID)
	}
	fields["user_id"] = pos.UserID
	fields["symbol"] = pos.Symbol

	order, err := w.findStoploss(ctx, pos)
	if err != nil {
		w.report("Stoploss order lookup failed", err, "watchdog.CloseOrdersAndPosition", fields)
		return nil, err
	}
	if order == nil {
		err := fmt.Errorf("%w for position %d", ErrNoStoplossOrder, positionID)
		w.report("No stoploss order found", err, "watchdog.CloseOrdersAndPosition", fields)
		return nil, err
	}
	fields["order_id"] = order.ID

	creds, err := w.credentials(ctx, pos.UserID, pos.ExchangeID)
	if err != nil {
		w.report("Missing user credentials", err, "watchdog.CloseOrdersAndPosition", fields)
		return nil, err
	}

	var executed *decimal.Decimal
	if order.ExchangeOrderID != "" {
		state, err := w.deps.Exchange.FetchOrderState(ctx, order, creds)
		if err != nil {
			logger.WithFields(fields).WithError(err).Warn("could not read executed price, using fallback")
		} else {
			executed = state.ExecutedPrice
		}
	}

	return w.close(ctx, pos, order, executed, fallbackPrice, "watchdog.CloseOrdersAndPosition")
}

// ApplyTakeProfit reduces the position by percent after a take-profit order was placed.
func (w *Watchdog) ApplyTakeProfit(ctx context.Context, positionID uint, percent decimal.Decimal, executedPrice *decimal.Decimal) (*model.Position, error) {
	fields := map[string]interface{}{
		"component":   "watchdog",
		"op":          "ApplyTakeProfit",
		"position_id": positionID,
		"percent":     percent.String(),
	}

	pos, err := w.deps.Ledger.ReducePosition(ctx, positionID, percent, executedPrice)
	if err != nil {
		w.report("Take-profit reduction failed", err, "watchdog.ApplyTakeProfit", fields)
		return nil, err
	}

	fields["remaining"] = pos.Size.String()
	fields["status"] = pos.Status
	logger.WithFields(fields).Info("take-profit applied")
	return pos, nil
}

func (w *Watchdog) close(ctx context.Context, pos *model.Position, order *model.Order, executed, fallback *decimal.Decimal, source string) (*model.Position, error) {
	fields := orderFields("close", order)
	fields["position_id"] = pos.ID

	exit, priceSource, err := w.exitPrice(ctx, pos, executed, fallback)
	if err != nil {
		w.report("Missing price data for close", err, source, fields)
		return nil, err
	}
	fields["exit_price"] = exit.String()
	fields["price_source"] = priceSource

	closed, err := w.deps.Ledger.ClosePosition(ctx, pos.ID, exit, order.ID)
	if err != nil {
		w.report("Failed to close position", err, source, fields)
		return nil, err
	}

	fields["roi"] = closed.Roi.String()
	logger.WithFields(fields).Info("position closed by stoploss")
	return closed, nil
}

func (w *Watchdog) findStoploss(ctx context.Context, pos *model.Position) (*model.Order, error) {
	order, err := w.deps.Orders.FindStoplossForPosition(ctx, pos.ID)
	if err != nil || order != nil {
		return order, err
	}

	order, err = w.deps.Orders.FindStoplossBySymbolAndUser(ctx, pos.Symbol, pos.UserID, pos.Side)
	if err != nil || order == nil {
		return order, err
	}
	// unlinked orders only; it may still predate this position
	logger.WithFields(map[string]interface{}{
		"component":   "watchdog",
		"position_id": pos.ID,
		"order_id":    order.ID,
		"symbol":      pos.Symbol,
		"user_id":     pos.UserID,
	}).Warn("stoploss order matched by symbol and user, not by position")
	return order, nil
}

// markCancelled retries once with a fresh read when the order row changed underneath.
func (w *Watchdog) markCancelled(ctx context.Context, orderID uint, fields map[string]interface{}) error {
	err := w.deps.Orders.UpdateStatusWithAutoLog(ctx, orderID, model.OrderStatusCancelled, "cancelled on exchange")
	if !errors.Is(err, repository.ErrVersionConflict) {
		return err
	}
	logger.WithFields(fields).WithError(err).Warn("order status changed concurrently, retrying with fresh read")
	return w.deps.Orders.UpdateStatusWithAutoLog(ctx, orderID, model.OrderStatusCancelled, "cancelled on exchange")
}

func (w *Watchdog) positionForOrder(ctx context.Context, order *model.Order) (*model.Position, error) {
	if order.PositionID != nil {
		pos, err := w.deps.Ledger.Position(ctx, *order.PositionID)
		if err != nil {
			return nil, err
		}
		if !pos.IsOpen() {
			return nil, fmt.Errorf("%w: id %d", ledger.ErrPositionClosed, pos.ID)
		}
		return pos, nil
	}

	pos, err := w.deps.Positions.FindOpenByTuple(ctx, order.UserID, order.Symbol, order.Side)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, fmt.Errorf("%w: no open %s %s position for user %d", ledger.ErrPositionNotFound, order.Symbol, order.Side, order.UserID)
	}
	return pos, nil
}

// exitPrice picks the first positive price of: executed, explicit fallback, cache, reference feed.
func (w *Watchdog) exitPrice(ctx context.Context, pos *model.Position, executed, fallback *decimal.Decimal) (decimal.Decimal, string, error) {
	if executed != nil && executed.IsPositive() {
		return *executed, "executed", nil
	}
	if fallback != nil && fallback.IsPositive() {
		return *fallback, "fallback", nil
	}
	if w.deps.Prices != nil {
		cached, err := w.deps.Prices.GetPrice(ctx, pos.ExchangeID, pos.Symbol)
		if err == nil && cached != nil && cached.IsPositive() {
			return *cached, "cache", nil
		}
	}
	if w.deps.Reference != nil {
		ref, err := w.deps.Reference.LastPrice(ctx, pos.Symbol)
		if err == nil && ref != nil && ref.IsPositive() {
			return *ref, "reference", nil
		}
	}
	return decimal.Zero, "", fmt.Errorf("%w for %s position %d", ErrMissingPrice, pos.Symbol, pos.ID)
}

func (w *Watchdog) credentials(ctx context.Context, userID, exchangeID uint) (connectors.Credentials, error) {
	if w.deps.Credentials == nil {
		return connectors.Credentials{}, fmt.Errorf("%w: user %d exchange %d", ErrMissingCredentials, userID, exchangeID)
	}
	creds, err := w.deps.Credentials.Credentials(ctx, userID, exchangeID)
	if err != nil {
		return connectors.Credentials{}, fmt.Errorf("%w: user %d exchange %d: %w", ErrMissingCredentials, userID, exchangeID, err)
	}
	return creds, nil
}

func (w *Watchdog) report(message string, err error, source string, fields map[string]interface{}) {
	if w.deps.Errors == nil {
		logger.WithFields(fields).WithError(err).Error(message)
		return
	}
	w.deps.Errors.LogErrorAsync(message, err, source, fields)
}

func orderFields(op string, order *model.Order) map[string]interface{} {
	fields := map[string]interface{}{
		"component":   "watchdog",
		"op":          op,
		"order_id":    order.ID,
		"user_id":     order.UserID,
		"exchange_id": order.ExchangeID,
		"symbol":      order.Symbol,
	}
	if order.PositionID != nil {
		fields["position_id"] = *order.PositionID
	}
	return fields
}
