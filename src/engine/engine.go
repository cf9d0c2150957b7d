// Package engine assembles the reconciliation components from environment configuration.
package engine

import (
	"context"
	"fmt"

	"positionengine/src/cache"
	"positionengine/src/connectors"
	"positionengine/src/controller"
	"positionengine/src/credentials"
	"positionengine/src/dispatcher"
	"positionengine/src/errorlog"
	"positionengine/src/ledger"
	"positionengine/src/repository"
	"positionengine/src/security"
	"positionengine/src/watchdog"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Engine holds the wired components shared by the server and the commands.
type Engine struct {
	Errors      *errorlog.Logger
	Prices      cache.PriceCache
	Credentials *credentials.Provider
	Dispatcher  *dispatcher.Dispatcher
	Ledger      *ledger.Ledger
	Watchdog    *watchdog.Watchdog
	Controller  *controller.Controller
	Orders      *repository.OrderRepository
	Positions   *repository.PositionRepository
}

// Build wires every component on top of db.
func Build(ctx context.Context, db *gorm.DB) (*Engine, error) {
	cipher, err := security.NewCipherFromEnv()
	if err != nil {
		return nil, fmt.Errorf("credentials cipher: %w", err)
	}

	connectorsCfg := connectors.GetConfig()
	registry, err := connectors.NewDefaultRegistry(connectorsCfg)
	if err != nil {
		return nil, fmt.Errorf("exchange registry: %w", err)
	}

	e := &Engine{
		Errors:      errorlog.New(repository.NewExceptionRepository().WithDB(db)),
		Prices:      cache.New(ctx, cache.GetConfig()),
		Credentials: credentials.NewProvider(repository.NewUserExchangeRepository().WithDB(db), cipher),
		Orders:      repository.NewOrderRepository().WithDB(db),
		Positions:   repository.NewPositionRepository().WithDB(db),
	}

	e.Dispatcher = dispatcher.New(registry, e.Prices, e.Errors, connectorsCfg.GatewayTimeout)
	e.Ledger = ledger.New(repository.NewLedgerStoreWithDB(db), e.Errors, ledger.GetConfig().MaxRetries)
	e.Watchdog = watchdog.New(watchdog.Deps{
		Orders:      e.Orders,
		Positions:   e.Positions,
		Ledger:      e.Ledger,
		Exchange:    e.Dispatcher,
		Credentials: e.Credentials,
		Prices:      e.Prices,
		Reference:   connectors.NewReferencePrice(connectorsCfg),
		Errors:      e.Errors,
	}, watchdog.GetConfig())
	e.Controller = controller.New(controller.Deps{
		Orders:      e.Orders,
		Dispatcher:  e.Dispatcher,
		Ledger:      e.Ledger,
		Watchdog:    e.Watchdog,
		Credentials: e.Credentials,
		Errors:      e.Errors,
	}, controller.GetConfig())

	logger.WithField("component", "engine").Info("engine components wired")
	return e, nil
}

// Close flushes pending error log writes and releases the price cache.
func (e *Engine) Close() {
	e.Errors.Wait()
	if c, ok := e.Prices.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			logger.WithError(err).Warn("failed to close price cache")
		}
	}
}
