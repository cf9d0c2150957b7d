// Package ledger owns Position state: weighted-average entries, liquidation
// estimates, partial reductions and closes.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"positionengine/src/errorlog"
	"positionengine/src/model"
	"positionengine/src/repository"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	ErrPositionNotFound = errors.New("position not found")
	ErrPositionClosed   = errors.New("position already closed")
	ErrConcurrentUpdate = errors.New("position changed concurrently")
	ErrInvalidReduction = errors.New("invalid position reduction")
	ErrInvalidFill      = errors.New("invalid entry fill")
)

type store interface {
	WithinTx(ctx context.Context, fn func(tx repository.PositionTx) error) error
}

// Ledger applies fills and closes to positions. Writes for one (user, symbol, side)
// tuple are serialized in process and guarded by the version column across processes.
type Ledger struct {
	store      store
	errs       errorlog.Reporter
	maxRetries int
	locks      *keyedMutex
	now        func() time.Time
}

// New builds a ledger. errs may be nil.
func New(store store, errs errorlog.Reporter, maxRetries int) *Ledger {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Ledger{
		store:      store,
		errs:       errs,
		maxRetries: maxRetries,
		locks:      newKeyedMutex(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ApplyEntryFill merges an executed entry into the OPEN position of the order's tuple,
// creating the position when none is open, and links the order to it.
func (l *Ledger) ApplyEntryFill(ctx context.Context, order *model.Order, executedPrice decimal.Decimal) (*model.Position, error) {
	if order == nil || !order.Size.IsPositive() {
		return nil, fmt.Errorf("%w: size must be positive", ErrInvalidFill)
	}
	if !executedPrice.IsPositive() {
		return nil, fmt.Errorf("%w: executed price must be positive", ErrInvalidFill)
	}

	symbol := strings.ToUpper(strings.TrimSpace(order.Symbol))
	side := strings.ToLower(strings.TrimSpace(order.Side))

	fields := map[string]interface{}{
		"component":      "ledger",
		"op":             "ApplyEntryFill",
		"order_id":       order.ID,
		"user_id":        order.UserID,
		"symbol":         symbol,
		"side":           side,
		"size":           order.Size.String(),
		"executed_price": executedPrice.String(),
	}

	unlock := l.locks.Lock(model.TupleKey(order.UserID, symbol, side))
	defer unlock()

	var result *model.Position
	err := l.retry(ctx, fields, func() error {
		return l.store.WithinTx(ctx, func(tx repository.PositionTx) error {
			pos, err := tx.FindOpenPosition(ctx, order.UserID, symbol, side)
			if err != nil {
				return err
			}

			if pos == nil {
				pos = &model.Position{
					UserID:     order.UserID,
					ExchangeID: order.ExchangeID,
					Symbol:     symbol,
					Side:       side,
					Size:       order.Size,
					Leverage:   order.Leverage,
					Entry:      executedPrice,
					Status:     model.PositionStatusOpen,
					IsIsolated: order.IsIsolated,
					IsTest:     order.SignalID == 0,
					Time:       l.now(),
				}
				if pos.Leverage < 1 {
					pos.Leverage = 1
				}
				if order.Stoploss != nil && order.Stoploss.IsPositive() {
					pos.Stoploss = *order.Stoploss
				}
				pos.EstLiquidation = EstimateLiquidation(side, pos.Entry, pos.Leverage)
				if err := tx.CreatePosition(ctx, pos); err != nil {
					return err
				}
			} else {
				pos.Entry = WeightedAverage(pos.Size, pos.Entry, order.Size, executedPrice)
				pos.Size = pos.Size.Add(order.Size)
				if order.Leverage >= 1 {
					pos.Leverage = order.Leverage
				}
				if order.Stoploss != nil && order.Stoploss.IsPositive() {
					pos.Stoploss = *order.Stoploss
				}
				pos.EstLiquidation = EstimateLiquidation(side, pos.Entry, pos.Leverage)
				if err := tx.UpdatePosition(ctx, pos); err != nil {
					return err
				}
			}

			if order.ID != 0 {
				if err := tx.LinkOrder(ctx, order.ID, pos.ID); err != nil {
					return fmt.Errorf("link order %d: %w", order.ID, err)
				}
			}
			result = pos
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	id := result.ID
	order.PositionID = &id

	fields["position_id"] = result.ID
	fields["position_size"] = result.Size.String()
	fields["entry"] = result.Entry.String()
	fields["est_liquidation"] = result.EstLiquidation.String()
	logger.WithFields(fields).Info("entry fill applied")
	return result, nil
}

// ClosePosition closes the position at exitPrice and every live order tracking it.
// orderIDs are extra orders to close with it, typically a stoploss matched without a position link.
// Closing a CLOSED position returns ErrPositionClosed and changes nothing.
func (l *Ledger) ClosePosition(ctx context.Context, positionID uint, exitPrice decimal.Decimal, orderIDs ...uint) (*model.Position, error) {
	fields := map[string]interface{}{
		"component":   "ledger",
		"op":          "ClosePosition",
		"position_id": positionID,
		"exit_price":  exitPrice.String(),
	}
	if !exitPrice.IsPositive() {
		return nil, fmt.Errorf("exit price must be positive, got %s", exitPrice)
	}

	return l.mutate(ctx, positionID, fields, func(tx repository.PositionTx, pos *model.Position) error {
		return l.closeInTx(ctx, tx, pos, exitPrice, orderIDs, fields)
	})
}

func (l *Ledger) closeInTx(ctx context.Context, tx repository.PositionTx, pos *model.Position, exitPrice decimal.Decimal, orderIDs []uint, fields map[string]interface{}) error {
	now := l.now()
	exit := exitPrice
	pos.Status = model.PositionStatusClosed
	pos.CloseTime = &now
	pos.ExitPrice = &exit
	pos.Roi = ROI(pos.Side, pos.Entry, exitPrice, pos.Leverage)

	if err := tx.UpdatePosition(ctx, pos); err != nil {
		return err
	}
	closed, err := tx.CloseOrders(ctx, pos.ID, orderIDs, now)
	if err != nil {
		return fmt.Errorf("close orders of position %d: %w", pos.ID, err)
	}
	fields["orders_closed"] = closed
	fields["roi"] = pos.Roi.String()
	return nil
}

// ReducePosition removes percent (0, 100] of the current size. Entry is unchanged.
// A reduction to exactly zero closes the position at executedPrice.
func (l *Ledger) ReducePosition(ctx context.Context, positionID uint, percent decimal.Decimal, executedPrice *decimal.Decimal) (*model.Position, error) {
	fields := map[string]interface{}{
		"component":   "ledger",
		"op":          "ReducePosition",
		"position_id": positionID,
		"percent":     percent.String(),
	}
	if !percent.IsPositive() || percent.GreaterThan(hundred) {
		return nil, fmt.Errorf("%w: percent %s outside (0,100]", ErrInvalidReduction, percent)
	}

	return l.mutate(ctx, positionID, fields, func(tx repository.PositionTx, pos *model.Position) error {
		qty := ReductionQuantity(pos.Size, percent)
		remaining := pos.Size.Sub(qty)
		fields["reduced_by"] = qty.String()
		fields["remaining"] = remaining.String()

		if remaining.IsNegative() {
			err := fmt.Errorf("%w: size %s minus %s is negative", ErrInvalidReduction, pos.Size, qty)
			l.report("Position reduction would leave a negative size", err, "ledger.ReducePosition", fields)
			return err
		}

		if remaining.IsZero() {
			price := pos.Entry
			if executedPrice != nil && executedPrice.IsPositive() {
				price = *executedPrice
			}
			pos.Size = remaining
			return l.closeInTx(ctx, tx, pos, price, nil, fields)
		}

		pos.Size = remaining
		if executedPrice != nil && executedPrice.IsPositive() {
			pos.Roi = ROI(pos.Side, pos.Entry, *executedPrice, pos.Leverage)
		}
		return tx.UpdatePosition(ctx, pos)
	})
}

// MoveStoploss replaces the stoploss price of an open position.
func (l *Ledger) MoveStoploss(ctx context.Context, positionID uint, stoploss decimal.Decimal) (*model.Position, error) {
	fields := map[string]interface{}{
		"component":   "ledger",
		"op":          "MoveStoploss",
		"position_id": positionID,
		"stoploss":    stoploss.String(),
	}
	if stoploss.IsNegative() {
		return nil, fmt.Errorf("stoploss must not be negative, got %s", stoploss)
	}

	return l.mutate(ctx, positionID, fields, func(tx repository.PositionTx, pos *model.Position) error {
		pos.Stoploss = stoploss
		return tx.UpdatePosition(ctx, pos)
	})
}

// MarkToMarket refreshes the unrealized ROI of an open position at price.
func (l *Ledger) MarkToMarket(ctx context.Context, positionID uint, price decimal.Decimal) (*model.Position, error) {
	fields := map[string]interface{}{
		"component":   "ledger",
		"op":          "MarkToMarket",
		"position_id": positionID,
		"price":       price.String(),
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("mark price must be positive, got %s", price)
	}

	return l.mutate(ctx, positionID, fields, func(tx repository.PositionTx, pos *model.Position) error {
		roi := ROI(pos.Side, pos.Entry, price, pos.Leverage)
		if roi.Equal(pos.Roi) {
			return nil
		}
		pos.Roi = roi
		return tx.UpdatePosition(ctx, pos)
	})
}

// Position returns a position by id, or ErrPositionNotFound.
func (l *Ledger) Position(ctx context.Context, positionID uint) (*model.Position, error) {
	var pos *model.Position
	err := l.store.WithinTx(ctx, func(tx repository.PositionTx) error {
		var err error
		pos, err = tx.FindPositionByID(ctx, positionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, fmt.Errorf("%w: id %d", ErrPositionNotFound, positionID)
	}
	return pos, nil
}

// mutate runs fn against a fresh read of an OPEN position under its tuple lock, with retry.
func (l *Ledger) mutate(ctx context.Context, positionID uint, fields map[string]interface{}, fn func(tx repository.PositionTx, pos *model.Position) error) (*model.Position, error) {
	current, err := l.Position(ctx, positionID)
	if err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(model.TupleKey(current.UserID, current.Symbol, current.Side))
	defer unlock()

	var result *model.Position
	err = l.retry(ctx, fields, func() error {
		return l.store.WithinTx(ctx, func(tx repository.PositionTx) error {
			pos, err := tx.FindPositionByID(ctx, positionID)
			if err != nil {
				return err
			}
			if pos == nil {
				return fmt.Errorf("%w: id %d", ErrPositionNotFound, positionID)
			}
			if !pos.IsOpen() {
				return fmt.Errorf("%w: id %d", ErrPositionClosed, positionID)
			}
			if err := fn(tx, pos); err != nil {
				return err
			}
			result = pos
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, ErrPositionClosed) {
			logger.WithFields(fields).Warn("position already closed")
		}
		return nil, err
	}

	logger.WithFields(fields).Info("position updated")
	return result, nil
}

// retry re-runs attempt after version conflicts and duplicate OPEN rows.
func (l *Ledger) retry(ctx context.Context, fields map[string]interface{}, attempt func() error) error {
	var err error
	for i := 0; i <= l.maxRetries; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = attempt()
		if err == nil || !isConflict(err) {
			return err
		}
		logger.WithFields(fields).WithField("attempt", i+1).WithError(err).Warn("ledger write conflicted, retrying with fresh read")
	}

	err = fmt.Errorf("%w after %d attempts: %v", ErrConcurrentUpdate, l.maxRetries+1, err)
	l.report("Position update kept conflicting", err, "ledger."+fmt.Sprint(fields["op"]), fields)
	return err
}

func isConflict(err error) bool {
	return errors.Is(err, repository.ErrVersionConflict) || errors.Is(err, gorm.ErrDuplicatedKey)
}

func (l *Ledger) report(message string, err error, source string, fields map[string]interface{}) {
	if l.errs == nil {
		logger.WithFields(fields).WithError(err).Error(message)
		return
	}
	l.errs.LogErrorAsync(message, err, source, fields)
}
