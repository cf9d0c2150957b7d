package watchdog

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"positionengine/src/model"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrSweepInProgress is returned when a sweep is requested while another one runs.
var ErrSweepInProgress = errors.New("watchdog sweep already running")

// SweepReport counts what one reconciliation pass did.
type SweepReport struct {
	Checked int64 `json:"checked"`
	Closed  int64 `json:"closed"`
	Waiting int64 `json:"waiting"`
	Failed  int64 `json:"failed"`
	Marked  int64 `json:"marked"`
}

// Run sweeps every LoopPeriod and whenever Trigger is called, until ctx is done.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.LoopPeriod)
	defer ticker.Stop()

	logger.WithFields(map[string]interface{}{
		"component":   "watchdog",
		"loop_period": w.cfg.LoopPeriod.String(),
		"concurrency": w.cfg.Concurrency,
	}).Info("watchdog started")

	for {
		select {
		case <-ctx.Done():
			logger.WithField("component", "watchdog").Info("watchdog stopped")
			return nil
		case <-ticker.C:
		case <-w.trigger:
			logger.WithField("component", "watchdog").Info("sweep triggered")
		}

		if _, err := w.Sweep(ctx); err != nil && !errors.Is(err, ErrSweepInProgress) {
			logger.WithField("component", "watchdog").WithError(err).Error("sweep failed")
		}
	}
}

// Trigger asks a running loop to sweep now. Calls while a request is pending are dropped.
func (w *Watchdog) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Sweep checks every open stoploss order against its exchange, then marks open
// positions to market. One item failing never stops the others.
func (w *Watchdog) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	if !w.running.TryLock() {
		return report, ErrSweepInProgress
	}
	defer w.running.Unlock()

	started := time.Now()

	orders, err := w.deps.Orders.FindOpenStoplossOrders(ctx, w.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("load open stoploss orders: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for i := range orders {
		order := orders[i]
		g.Go(func() error {
			atomic.AddInt64(&report.Checked, 1)
			switch err := w.sweepOrder(gctx, &order); {
			case err == nil:
				atomic.AddInt64(&report.Closed, 1)
			case errors.Is(err, ErrStoplossNotTriggered):
				atomic.AddInt64(&report.Waiting, 1)
			default:
				atomic.AddInt64(&report.Failed, 1)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Marked = w.markToMarket(ctx)

	logger.WithFields(map[string]interface{}{
		"component": "watchdog",
		"checked":   report.Checked,
		"closed":    report.Closed,
		"waiting":   report.Waiting,
		"failed":    report.Failed,
		"marked":    report.Marked,
		"took":      time.Since(started).String(),
	}).Info("sweep finished")

	return report, nil
}

func (w *Watchdog) sweepOrder(ctx context.Context, order *model.Order) (err error) {
	fields := orderFields("Sweep", order)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweep item panic: %v", r)
			w.report("Unexpected failure while reconciling order", err, "watchdog.Sweep", fields)
		}
	}()

	itemCtx, cancel := context.WithTimeout(ctx, w.itemTimeout())
	defer cancel()

	creds, err := w.credentials(itemCtx, order.UserID, order.ExchangeID)
	if err != nil {
		w.report("Missing user credentials", err, "watchdog.Sweep", fields)
		return err
	}

	_, err = w.HandleExchangeStoplossOrder(itemCtx, order, creds)
	return err
}

// CheckOrder reconciles a single stoploss order by id.
func (w *Watchdog) CheckOrder(ctx context.Context, orderID uint) (*model.Position, error) {
	order, err := w.deps.Orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: order %d", ErrNoStoplossOrder, orderID)
	}

	creds, err := w.credentials(ctx, order.UserID, order.ExchangeID)
	if err != nil {
		w.report("Missing user credentials", err, "watchdog.CheckOrder", orderFields("CheckOrder", order))
		return nil, err
	}
	return w.HandleExchangeStoplossOrder(ctx, order, creds)
}

type marketKey struct {
	exchangeID uint
	symbol     string
}

// markToMarket refreshes the ROI of open positions with one live price per market.
func (w *Watchdog) markToMarket(ctx context.Context) int64 {
	positions, err := w.deps.Positions.FindOpen(ctx, w.cfg.BatchSize)
	if err != nil {
		logger.WithField("component", "watchdog").WithError(err).Error("failed to load open positions")
		return 0
	}

	byMarket := make(map[marketKey][]model.Position)
	for _, p := range positions {
		k := marketKey{exchangeID: p.ExchangeID, symbol: p.Symbol}
		byMarket[k] = append(byMarket[k], p)
	}

	var marked int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for k, group := range byMarket {
		k, group := k, group
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					logger.WithField("component", "watchdog").Errorf("mark to market panic: %v", r)
				}
			}()

			itemCtx, cancel := context.WithTimeout(gctx, w.itemTimeout())
			defer cancel()

			price, err := w.deps.Exchange.FetchPrice(itemCtx, k.exchangeID, k.symbol)
			if err != nil || price == nil {
				logger.WithFields(map[string]interface{}{
					"component":   "watchdog",
					"exchange_id": k.exchangeID,
					"symbol":      k.symbol,
				}).WithError(err).Warn("no live price, skipping mark to market")
				return nil
			}

			for _, p := range group {
				if w.mark(itemCtx, p.ID, *price) {
					atomic.AddInt64(&marked, 1)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return marked
}

func (w *Watchdog) mark(ctx context.Context, positionID uint, price decimal.Decimal) bool {
	if _, err := w.deps.Ledger.MarkToMarket(ctx, positionID, price); err != nil {
		logger.WithFields(map[string]interface{}{
			"component":   "watchdog",
			"position_id": positionID,
		}).WithError(err).Warn("mark to market failed")
		return false
	}
	return true
}

func (w *Watchdog) itemTimeout() time.Duration {
	if w.cfg.ItemTimeout <= 0 {
		return 45 * time.Second
	}
	return w.cfg.ItemTimeout
}
