package repository

import (
	"context"
	"time"

	"positionengine/src/database"
	"positionengine/src/model"

	"gorm.io/gorm"
)

// PositionTx is the unit-of-work view the ledger mutates positions through.
// Every call made on one PositionTx commits or rolls back together.
type PositionTx interface {
	FindOpenPosition(ctx context.Context, userID uint, symbol, side string) (*model.Position, error)
	FindPositionByID(ctx context.Context, id uint) (*model.Position, error)
	CreatePosition(ctx context.Context, position *model.Position) error
	UpdatePosition(ctx context.Context, position *model.Position) error
	LinkOrder(ctx context.Context, orderID, positionID uint) error
	CloseOrders(ctx context.Context, positionID uint, extraOrderIDs []uint, closedAt time.Time) (int64, error)
}

// LedgerStore runs ledger work inside database transactions.
type LedgerStore struct {
	db *gorm.DB
}

func NewLedgerStore() *LedgerStore {
	return &LedgerStore{db: database.MainDB}
}

func NewLedgerStoreWithDB(db *gorm.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// WithinTx runs fn in a transaction; any error rolls everything back.
func (s *LedgerStore) WithinTx(ctx context.Context, fn func(tx PositionTx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormPositionTx{
			positions: (&PositionRepository{}).WithDB(tx),
			tx:        tx,
		})
	})
}

type gormPositionTx struct {
	positions *PositionRepository
	tx        *gorm.DB
}

var _ PositionTx = (*gormPositionTx)(nil)

func (g *gormPositionTx) FindOpenPosition(ctx context.Context, userID uint, symbol, side string) (*model.Position, error) {
	return g.positions.FindOpenByTuple(ctx, userID, symbol, side)
}

func (g *gormPositionTx) FindPositionByID(ctx context.Context, id uint) (*model.Position, error) {
	return g.positions.FindByID(ctx, id)
}

func (g *gormPositionTx) CreatePosition(ctx context.Context, position *model.Position) error {
	return g.positions.Create(ctx, position)
}

func (g *gormPositionTx) UpdatePosition(ctx context.Context, position *model.Position) error {
	return g.positions.UpdateVersioned(ctx, position)
}

func (g *gormPositionTx) LinkOrder(ctx context.Context, orderID, positionID uint) error {
	res := g.tx.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ?", orderID).
		Update("position_id", positionID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CloseOrders closes every non-terminal order tracking the position, plus any extra ids
// (orders matched without a position link). Extra orders are linked to the position.
func (g *gormPositionTx) CloseOrders(ctx context.Context, positionID uint, extraOrderIDs []uint, closedAt time.Time) (int64, error) {
	db := g.tx.WithContext(ctx)

	if len(extraOrderIDs) > 0 {
		if err := db.Model(&model.Order{}).
			Where("id IN ? AND position_id IS NULL", extraOrderIDs).
			Update("position_id", positionID).Error; err != nil {
			return 0, err
		}
	}

	var live []model.Order
	scope := db.Where("status IN ?", []string{model.OrderStatusOpen, model.OrderStatusPending})
	if len(extraOrderIDs) > 0 {
		scope = scope.Where("(position_id = ? OR id IN ?)", positionID, extraOrderIDs)
	} else {
		scope = scope.Where("position_id = ?", positionID)
	}
	if err := scope.Find(&live).Error; err != nil {
		return 0, err
	}
	if len(live) == 0 {
		return 0, nil
	}

	ids := make([]uint, 0, len(live))
	for i := range live {
		ids = append(ids, live[i].ID)
	}

	res := db.Model(&model.Order{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"status":     model.OrderStatusClosed,
			"close_time": closedAt,
		})
	if res.Error != nil {
		return 0, res.Error
	}

	for i := range live {
		if err := db.Create(model.NewOrderLog(&live[i], model.OrderStatusClosed, "position closed")).Error; err != nil {
			return 0, err
		}
	}

	return res.RowsAffected, nil
}
