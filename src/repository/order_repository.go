package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"positionengine/src/database"
	"positionengine/src/model"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// OrderRepository handles read/write operations for orders and their audit logs.
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new repository instance using the main read/write database.
func NewOrderRepository() *OrderRepository {
	logger.WithField("component", "OrderRepository").
		Info("Creating new OrderRepository with MainDB")

	return &OrderRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *OrderRepository) WithDB(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// OrderSearchOptions filters Search results.
type OrderSearchOptions struct {
	UserID        uint
	ExchangeID    *uint
	Symbol        *string
	Status        *string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Limit         int
	Offset        int
}

// CreateWithAutoLog inserts the order and its first audit snapshot in one transaction.
func (r *OrderRepository) CreateWithAutoLog(
	ctx context.Context,
	order *model.Order,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":        "OrderRepository",
		"op":          "CreateWithAutoLog",
		"user_id":     order.UserID,
		"symbol":      order.Symbol,
		"side":        order.Side,
		"description": order.Description,
	}).Debug("Creating order with automatic log")

	if order.Status == "" {
		order.Status = model.OrderStatusPending
	}
	if order.Time.IsZero() {
		order.Time = time.Now().UTC()
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		return tx.Create(model.NewOrderLog(order, order.Status, "created")).Error
	})
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "CreateWithAutoLog",
		}).WithError(err).Error("Failed to create order")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":     "OrderRepository",
		"op":       "CreateWithAutoLog",
		"order_id": order.ID,
	}).Info("Order created successfully")

	return nil
}

// FindByID fetches a single order by its primary ID.
// Returns (nil, nil) if the order is not found.
func (r *OrderRepository) FindByID(
	ctx context.Context,
	id uint,
) (*model.Order, error) {

	var order model.Order
	err := r.db.WithContext(ctx).First(&order, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo": "OrderRepository",
				"op":   "FindByID",
				"id":   id,
			}).Info("Order not found")
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch order by ID")
		return nil, err
	}

	return &order, nil
}

// FindStoplossForPosition returns the newest live stoploss order linked to positionID.
// Returns (nil, nil) if none exists.
func (r *OrderRepository) FindStoplossForPosition(
	ctx context.Context,
	positionID uint,
) (*model.Order, error) {

	return r.findStoploss(ctx, "FindStoplossForPosition",
		r.db.WithContext(ctx).Where("position_id = ?", positionID))
}

// FindStoplossBySymbolAndUser is the loose lookup used when an order was created
// without a position link. Orders already linked to a position are never matched,
// and side must equal the side of the position being closed.
func (r *OrderRepository) FindStoplossBySymbolAndUser(
	ctx context.Context,
	symbol string,
	userID uint,
	side string,
) (*model.Order, error) {

	return r.findStoploss(ctx, "FindStoplossBySymbolAndUser",
		r.db.WithContext(ctx).
			Where("position_id IS NULL").
			Where("symbol = ? AND user_id = ? AND side = ?", symbol, userID, side))
}

func (r *OrderRepository) findStoploss(ctx context.Context, op string, scope *gorm.DB) (*model.Order, error) {
	var order model.Order
	err := scope.
		Where("description IN ?", model.StoplossDescriptions()).
		Where("status NOT IN ?", []string{model.OrderStatusClosed, model.OrderStatusCancelled}).
		Order("id DESC").
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo": "OrderRepository",
				"op":   op,
			}).Debug("No live stoploss order found")
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   op,
		}).WithError(err).Error("Failed to look up stoploss order")
		return nil, err
	}

	return &order, nil
}

// FindOpenStoplossOrders returns stoploss orders live on an exchange, oldest first.
func (r *OrderRepository) FindOpenStoplossOrders(
	ctx context.Context,
	limit int,
) ([]model.Order, error) {

	if limit <= 0 {
		limit = 200
	}

	var orders []model.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND description IN ?", model.OrderStatusOpen, model.StoplossDescriptions()).
		Order("id ASC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "FindOpenStoplossOrders",
		}).WithError(err).Error("Failed to fetch open stoploss orders")
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "OrderRepository",
		"op":          "FindOpenStoplossOrders",
		"rows_return": len(orders),
	}).Debug("Open stoploss orders fetched")

	return orders, nil
}

// Search lists a user's orders, newest first.
func (r *OrderRepository) Search(
	ctx context.Context,
	options OrderSearchOptions,
) ([]model.Order, error) {

	query := r.db.WithContext(ctx).Where("user_id = ?", options.UserID)
	if options.ExchangeID != nil {
		query = query.Where("exchange_id = ?", *options.ExchangeID)
	}
	if options.Symbol != nil {
		query = query.Where("symbol = ?", *options.Symbol)
	}
	if options.Status != nil {
		query = query.Where("status = ?", *options.Status)
	}
	if options.CreatedAfter != nil {
		query = query.Where("created_at >= ?", *options.CreatedAfter)
	}
	if options.CreatedBefore != nil {
		query = query.Where("created_at <= ?", *options.CreatedBefore)
	}
	query = query.Order("created_at DESC, id DESC")
	if options.Limit > 0 {
		query = query.Limit(options.Limit)
	}
	if options.Offset > 0 {
		query = query.Offset(options.Offset)
	}

	var orders []model.Order
	if err := query.Find(&orders).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "OrderRepository",
			"op":      "Search",
			"user_id": options.UserID,
		}).WithError(err).Error("Failed to search orders")
		return nil, err
	}

	return orders, nil
}

// DispatchUpdate carries what the exchange answered for an order.
type DispatchUpdate struct {
	Status     string
	Result     model.ExchangeOrderResult
	Price      *decimal.Decimal
	PositionID *uint
	Reason     string
}

// RecordDispatchWithAutoLog stores the exchange outcome and the resulting status in one transaction.
func (r *OrderRepository) RecordDispatchWithAutoLog(
	ctx context.Context,
	orderID uint,
	update DispatchUpdate,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":       "OrderRepository",
		"op":         "RecordDispatchWithAutoLog",
		"order_id":   orderID,
		"new_status": update.Status,
		"success":    update.Result.Success,
	}).Debug("Recording dispatch outcome")

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order model.Order
		if err := tx.First(&order, orderID).Error; err != nil {
			return err
		}
		if order.Status != update.Status && !model.CanTransitionOrder(order.Status, update.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, update.Status)
		}

		updates := map[string]interface{}{
			"status":            update.Status,
			"exchange_order_id": update.Result.ExchangeOrderID,
			"client_order_id":   update.Result.ClientOrderID,
			"exchange_response": update.Result.Response,
			"error_code":        update.Result.ErrorCode,
			"error_message":     update.Result.ErrorMessage,
		}
		if update.Status == model.OrderStatusClosed {
			updates["close_time"] = time.Now().UTC()
		}
		if update.Price != nil {
			updates["price"] = *update.Price
			order.Price = update.Price
		}
		if update.PositionID != nil {
			updates["position_id"] = *update.PositionID
			order.PositionID = update.PositionID
		}

		if err := tx.Model(&model.Order{}).Where("id = ?", orderID).Updates(updates).Error; err != nil {
			logger.WithError(err).Error("Failed to record dispatch inside transaction")
			return err
		}

		return tx.Create(model.NewOrderLog(&order, update.Status, update.Reason)).Error
	})
}

// UpdateStatusWithAutoLog moves an order forward and writes an audit snapshot.
// closeTime is set in the same statement when the new status is CLOSED.
func (r *OrderRepository) UpdateStatusWithAutoLog(
	ctx context.Context,
	orderID uint,
	newStatus string,
	reason string,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":      "OrderRepository",
		"op":        "UpdateStatusWithAutoLog",
		"order_id":  orderID,
		"newStatus": newStatus,
		"reason":    reason,
	}).Info("Updating order status with automatic log")

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order model.Order
		if err := tx.First(&order, orderID).Error; err != nil {
			return err
		}
		if !model.CanTransitionOrder(order.Status, newStatus) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, newStatus)
		}

		updates := map[string]interface{}{"status": newStatus}
		if newStatus == model.OrderStatusClosed {
			updates["close_time"] = time.Now().UTC()
		}

		res := tx.Model(&model.Order{}).
			Where("id = ? AND status = ?", orderID, order.Status).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrVersionConflict
		}

		return tx.Create(model.NewOrderLog(&order, newStatus, reason)).Error
	})
}
