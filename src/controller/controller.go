// Package controller is the orchestration entry point: it validates a trading instruction,
// dispatches it to the exchange and feeds the confirmed result into the position ledger.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"positionengine/src/connectors"
	"positionengine/src/dispatcher"
	"positionengine/src/errorlog"
	"positionengine/src/ledger"
	"positionengine/src/model"
	"positionengine/src/repository"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

var (
	ErrInvalidInstruction = errors.New("invalid instruction")
	ErrMissingCredentials = errors.New("missing user credentials")
	ErrInsufficientFunds  = errors.New("insufficient balance")
)

const errorCodeMissingPrice = "MISSING_PRICE"

var hundred = decimal.NewFromInt(100)

type orderStore interface {
	CreateWithAutoLog(ctx context.Context, order *model.Order) error
	RecordDispatchWithAutoLog(ctx context.Context, orderID uint, update repository.DispatchUpdate) error
}

type orderDispatcher interface {
	ResolveExchange(selector string) uint
	Dispatch(ctx context.Context, req dispatcher.Request) dispatcher.Outcome
	Balance(ctx context.Context, selector string, creds connectors.Credentials) (decimal.Decimal, error)
}

type positionLedger interface {
	Position(ctx context.Context, positionID uint) (*model.Position, error)
	ApplyEntryFill(ctx context.Context, order *model.Order, executedPrice decimal.Decimal) (*model.Position, error)
	MoveStoploss(ctx context.Context, positionID uint, stoploss decimal.Decimal) (*model.Position, error)
}

type reconciler interface {
	ApplyTakeProfit(ctx context.Context, positionID uint, percent decimal.Decimal, executedPrice *decimal.Decimal) (*model.Position, error)
	CloseOrdersAndPosition(ctx context.Context, positionID uint, fallbackPrice *decimal.Decimal) (*model.Position, error)
}

type credentialSource interface {
	Credentials(ctx context.Context, userID, exchangeID uint) (connectors.Credentials, error)
}

// Deps are the collaborators of a Controller. Errors may be nil.
type Deps struct {
	Orders      orderStore
	Dispatcher  orderDispatcher
	Ledger      positionLedger
	Watchdog    reconciler
	Credentials credentialSource
	Errors      errorlog.Reporter
}

// Instruction is a trading signal for one user. Size is a quantity for entries and
// a percentage (0, 100] of the current position for take-profit and moonbag orders.
type Instruction struct {
	UserID      uint             `json:"user_id"`
	SignalID    uint             `json:"signal_id"`
	Exchange    string           `json:"exchange"`
	PositionID  *uint            `json:"position_id,omitempty"`
	Symbol      string           `json:"symbol"`
	Side        string           `json:"side"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Stoploss    *decimal.Decimal `json:"stoploss,omitempty"`
	Size        decimal.Decimal  `json:"size"`
	Leverage    int              `json:"leverage"`
	IsIsolated  bool             `json:"is_isolated"`
	Description string           `json:"description"`
}

// Outcome is the normalized answer of Execute.
type Outcome struct {
	Success  bool                      `json:"success"`
	OrderID  uint                      `json:"order_id"`
	Kind     string                    `json:"kind"`
	Result   model.ExchangeOrderResult `json:"result"`
	Position *model.Position           `json:"position,omitempty"`
	// Error is set when the exchange accepted the order but the local follow-up failed.
	Error string `json:"error,omitempty"`
}

type Controller struct {
	deps Deps
	cfg  Config
}

func New(deps Deps, cfg Config) *Controller {
	return &Controller{deps: deps, cfg: cfg}
}

// Execute validates in, persists the order, dispatches it and applies the confirmed result.
// Exchange failures are reported in the Outcome; the returned error is for instructions that
// were rejected before anything was sent and for storage failures.
func (c *Controller) Execute(ctx context.Context, in Instruction) (out Outcome, err error) {
	fields := map[string]interface{}{
		"component":   "controller",
		"op":          "Execute",
		"user_id":     in.UserID,
		"signal_id":   in.SignalID,
		"exchange":    in.Exchange,
		"symbol":      in.Symbol,
		"side":        in.Side,
		"description": in.Description,
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("controller panic: %v", r)
			out.Success = false
			c.report("Unexpected failure while executing instruction", err, "controller.Execute", fields)
		}
	}()

	// ------------------------------------------------------------------
	// 1) Validate the instruction and resolve the position it targets
	// ------------------------------------------------------------------
	order, kind, pos, err := c.prepare(ctx, in)
	if err != nil {
		logger.WithFields(fields).WithError(err).Warn("instruction rejected")
		return out, err
	}
	out.Kind = kind.String()
	fields["kind"] = out.Kind

	exchangeID := c.deps.Dispatcher.ResolveExchange(in.Exchange)
	order.ExchangeID = exchangeID
	fields["exchange_id"] = exchangeID

	var creds connectors.Credentials
	if exchangeID != 0 {
		creds, err = c.credentials(ctx, in.UserID, exchangeID)
		if err != nil {
			c.report("Missing user credentials", err, "controller.Execute", fields)
			return out, err
		}
	}

	if kind == model.OrderKindEntry && c.cfg.MinBalance > 0 && exchangeID != 0 {
		if err := c.checkBalance(ctx, in.Exchange, creds); err != nil {
			c.report("Pre-trade balance check failed", err, "controller.Execute", fields)
			return out, err
		}
	}

	// ------------------------------------------------------------------
	// 2) Persist the order as PENDING before calling the exchange
	// ------------------------------------------------------------------
	if err := c.deps.Orders.CreateWithAutoLog(ctx, order); err != nil {
		c.report("Failed to persist order", err, "controller.Execute", fields)
		return out, fmt.Errorf("persist order: %w", err)
	}
	out.OrderID = order.ID
	fields["order_id"] = order.ID

	// ------------------------------------------------------------------
	// 3) Dispatch and record what the exchange answered
	// ------------------------------------------------------------------
	dispatched := c.deps.Dispatcher.Dispatch(ctx, dispatcher.Request{
		ExchangeSelector: in.Exchange,
		Credentials:      creds,
		Order:            order,
	})
	out.Result = dispatched.Result

	if !dispatched.Result.Success {
		reason := "dispatch failed: " + dispatched.Result.ErrorCode
		if err := c.deps.Orders.RecordDispatchWithAutoLog(ctx, order.ID, repository.DispatchUpdate{
			Status: model.OrderStatusCancelled,
			Result: dispatched.Result,
			Reason: reason,
		}); err != nil {
			c.report("Failed to record dispatch outcome", err, "controller.Execute", fields)
		}
		logger.WithFields(fields).WithField("error_code", dispatched.Result.ErrorCode).Warn("order not accepted by exchange")
		return out, nil
	}
	out.Success = true

	// ------------------------------------------------------------------
	// 4) Apply the confirmed order to the position
	// ------------------------------------------------------------------
	switch kind {
	case model.OrderKindEntry:
		out.Position, err = c.applyEntry(ctx, order, dispatched, fields)
	case model.OrderKindTakeProfit:
		out.Position, err = c.applyTakeProfit(ctx, order, in, pos, dispatched, fields)
	case model.OrderKindStoploss:
		out.Position, err = c.applyStoploss(ctx, order, pos, dispatched, fields)
	}
	if err != nil {
		out.Error = err.Error()
		return out, nil
	}

	logger.WithFields(fields).Info("instruction executed")
	return out, nil
}

// ClosePosition closes a user's position through its stoploss order.
func (c *Controller) ClosePosition(ctx context.Context, userID, positionID uint, fallbackPrice *decimal.Decimal) (*model.Position, error) {
	pos, err := c.deps.Ledger.Position(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if pos.UserID != userID {
		return nil, fmt.Errorf("%w: id %d", ledger.ErrPositionNotFound, positionID)
	}

	logger.WithFields(map[string]interface{}{
		"component":   "controller",
		"op":          "ClosePosition",
		"user_id":     userID,
		"position_id": positionID,
	}).Info("manual close requested")

	return c.deps.Watchdog.CloseOrdersAndPosition(ctx, positionID, fallbackPrice)
}

// prepare validates in and builds the order to persist. For take-profit orders the
// percentage is converted into an absolute quantity of the open position.
func (c *Controller) prepare(ctx context.Context, in Instruction) (*model.Order, model.OrderKind, *model.Position, error) {
	description, err := model.CanonicalDescription(in.Description)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("%w: %w", ErrInvalidInstruction, err)
	}
	kind, _ := model.KindForDescription(description)

	if in.UserID == 0 {
		return nil, 0, nil, fmt.Errorf("%w: user id is required", ErrInvalidInstruction)
	}

	order := &model.Order{
		SignalID:    in.SignalID,
		UserID:      in.UserID,
		PositionID:  in.PositionID,
		Symbol:      NormalizeToUSDT(in.Symbol),
		Side:        strings.ToLower(strings.TrimSpace(in.Side)),
		Price:       in.Price,
		Stoploss:    in.Stoploss,
		Size:        in.Size,
		Leverage:    in.Leverage,
		IsIsolated:  in.IsIsolated,
		Description: description,
		Status:      model.OrderStatusPending,
	}
	if order.Leverage < 1 {
		order.Leverage = 1
	}
	if in.Price != nil && !in.Price.IsPositive() {
		return nil, 0, nil, fmt.Errorf("%w: price must be positive", ErrInvalidInstruction)
	}

	switch kind {
	case model.OrderKindEntry:
		if err := validateMarket(order); err != nil {
			return nil, 0, nil, err
		}
		if !in.Size.IsPositive() {
			return nil, 0, nil, fmt.Errorf("%w: entry size must be positive", ErrInvalidInstruction)
		}
		return order, kind, nil, nil

	case model.OrderKindTakeProfit:
		if !in.Size.IsPositive() || in.Size.GreaterThan(hundred) {
			return nil, 0, nil, fmt.Errorf("%w: take-profit size must be a percentage in (0, 100], got %s", ErrInvalidInstruction, in.Size)
		}
		if in.PositionID == nil {
			return nil, 0, nil, fmt.Errorf("%w: take-profit requires a position id", ErrInvalidInstruction)
		}
		pos, err := c.openPosition(ctx, in.UserID, *in.PositionID)
		if err != nil {
			return nil, 0, nil, err
		}
		percent := in.Size
		order.ReducePercent = &percent
		order.Size = ledger.ReductionQuantity(pos.Size, percent)
		order.Symbol = pos.Symbol
		order.Side = pos.Side
		order.Leverage = pos.Leverage
		order.IsIsolated = pos.IsIsolated
		return order, kind, pos, nil

	case model.OrderKindStoploss:
		if in.Stoploss == nil || !in.Stoploss.IsPositive() {
			return nil, 0, nil, fmt.Errorf("%w: stoploss price is required", ErrInvalidInstruction)
		}
		if in.PositionID == nil {
			if err := validateMarket(order); err != nil {
				return nil, 0, nil, err
			}
			return order, kind, nil, nil
		}
		pos, err := c.openPosition(ctx, in.UserID, *in.PositionID)
		if err != nil {
			return nil, 0, nil, err
		}
		order.Symbol = pos.Symbol
		order.Side = pos.Side
		if !order.Size.IsPositive() {
			order.Size = pos.Size
		}
		return order, kind, pos, nil
	}

	return nil, 0, nil, fmt.Errorf("%w: unsupported order kind", ErrInvalidInstruction)
}

func validateMarket(order *model.Order) error {
	if order.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidInstruction)
	}
	if order.Side != model.SideBuy && order.Side != model.SideSell {
		return fmt.Errorf("%w: side must be buy or sell, got %q", ErrInvalidInstruction, order.Side)
	}
	return nil
}

func (c *Controller) openPosition(ctx context.Context, userID, positionID uint) (*model.Position, error) {
	pos, err := c.deps.Ledger.Position(ctx, positionID)
	if err != nil {
		if errors.Is(err, ledger.ErrPositionNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInstruction, err)
		}
		return nil, err
	}
	if pos.UserID != userID {
		return nil, fmt.Errorf("%w: %w: id %d", ErrInvalidInstruction, ledger.ErrPositionNotFound, positionID)
	}
	if !pos.IsOpen() {
		return nil, fmt.Errorf("%w: %w: id %d", ErrInvalidInstruction, ledger.ErrPositionClosed, positionID)
	}
	return pos, nil
}

func (c *Controller) applyEntry(ctx context.Context, order *model.Order, dispatched dispatcher.Outcome, fields map[string]interface{}) (*model.Position, error) {
	if dispatched.ExecutedPrice == nil {
		err := fmt.Errorf("no executed price for order %d", order.ID)
		c.record(ctx, order.ID, repository.DispatchUpdate{
			Status: model.OrderStatusOpen,
			Result: withError(dispatched.Result, errorCodeMissingPrice, err.Error()),
			Reason: "filled without price",
		}, fields)
		c.report("Missing price data for entry fill", err, "controller.Execute", fields)
		return nil, err
	}
	fields["executed_price"] = dispatched.ExecutedPrice.String()
	fields["price_source"] = dispatched.PriceSource

	c.record(ctx, order.ID, repository.DispatchUpdate{
		Status: model.OrderStatusOpen,
		Result: dispatched.Result,
		Price:  dispatched.ExecutedPrice,
		Reason: "entry accepted by exchange",
	}, fields)

	pos, err := c.deps.Ledger.ApplyEntryFill(ctx, order, *dispatched.ExecutedPrice)
	if err != nil {
		c.report("Failed to apply entry fill", err, "controller.Execute", fields)
		return nil, err
	}
	fields["position_id"] = pos.ID
	return pos, nil
}

func (c *Controller) applyTakeProfit(ctx context.Context, order *model.Order, in Instruction, pos *model.Position, dispatched dispatcher.Outcome, fields map[string]interface{}) (*model.Position, error) {
	fields["position_id"] = pos.ID
	fields["percent"] = order.ReducePercent.String()

	positionID := pos.ID
	c.record(ctx, order.ID, repository.DispatchUpdate{
		Status:     model.OrderStatusOpen,
		Result:     dispatched.Result,
		PositionID: &positionID,
		Reason:     "take-profit accepted by exchange",
	}, fields)

	reduced, err := c.deps.Watchdog.ApplyTakeProfit(ctx, pos.ID, *order.ReducePercent, in.Price)
	if err != nil {
		return nil, err
	}

	if order.Description != model.DescriptionTPMoveSL || !reduced.IsOpen() {
		return reduced, nil
	}

	stoploss := reduced.Entry
	if in.Stoploss != nil && in.Stoploss.IsPositive() {
		stoploss = *in.Stoploss
	}
	moved, err := c.deps.Ledger.MoveStoploss(ctx, reduced.ID, stoploss)
	if err != nil {
		c.report("Failed to move stoploss after take-profit", err, "controller.Execute", fields)
		return reduced, err
	}
	return moved, nil
}

func (c *Controller) applyStoploss(ctx context.Context, order *model.Order, pos *model.Position, dispatched dispatcher.Outcome, fields map[string]interface{}) (*model.Position, error) {
	update := repository.DispatchUpdate{
		Status: model.OrderStatusOpen,
		Result: dispatched.Result,
		Reason: "stoploss accepted by exchange",
	}
	if pos == nil {
		c.record(ctx, order.ID, update, fields)
		return nil, nil
	}

	positionID := pos.ID
	update.PositionID = &positionID
	fields["position_id"] = pos.ID
	c.record(ctx, order.ID, update, fields)

	moved, err := c.deps.Ledger.MoveStoploss(ctx, pos.ID, *order.Stoploss)
	if err != nil {
		c.report("Failed to move position stoploss", err, "controller.Execute", fields)
		return nil, err
	}
	return moved, nil
}

func (c *Controller) checkBalance(ctx context.Context, selector string, creds connectors.Credentials) error {
	balance, err := c.deps.Dispatcher.Balance(ctx, selector, creds)
	if err != nil {
		return fmt.Errorf("fetch balance: %w", err)
	}
	floor := decimal.NewFromFloat(c.cfg.MinBalance)
	if balance.LessThan(floor) {
		return fmt.Errorf("%w: %s below %s", ErrInsufficientFunds, balance, floor)
	}
	return nil
}

func (c *Controller) credentials(ctx context.Context, userID, exchangeID uint) (connectors.Credentials, error) {
	if c.deps.Credentials == nil {
		return connectors.Credentials{}, fmt.Errorf("%w: user %d exchange %d", ErrMissingCredentials, userID, exchangeID)
	}
	creds, err := c.deps.Credentials.Credentials(ctx, userID, exchangeID)
	if err != nil {
		return connectors.Credentials{}, fmt.Errorf("%w: user %d exchange %d: %w", ErrMissingCredentials, userID, exchangeID, err)
	}
	return creds, nil
}

func (c *Controller) record(ctx context.Context, orderID uint, update repository.DispatchUpdate, fields map[string]interface{}) {
	if err := c.deps.Orders.RecordDispatchWithAutoLog(ctx, orderID, update); err != nil {
		c.report("Failed to record dispatch outcome", err, "controller.Execute", fields)
	}
}

func (c *Controller) report(message string, err error, source string, fields map[string]interface{}) {
	if c.deps.Errors == nil {
		logger.WithFields(fields).WithError(err).Error(message)
		return
	}
	c.deps.Errors.LogErrorAsync(message, err, source, fields)
}

func withError(result model.ExchangeOrderResult, code, message string) model.ExchangeOrderResult {
	result.ErrorCode = code
	result.ErrorMessage = message
	return result
}
