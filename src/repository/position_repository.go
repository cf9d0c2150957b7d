package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"positionengine/src/database"
	"positionengine/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// PositionRepository reads and writes positions. Writes go through UpdateVersioned
// so concurrent writers never silently overwrite each other.
type PositionRepository struct {
	db *gorm.DB
}

func NewPositionRepository() *PositionRepository {
	logger.WithField("component", "PositionRepository").
		Info("Creating new PositionRepository with MainDB")

	return &PositionRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *PositionRepository) WithDB(db *gorm.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// FindByID returns (nil, nil) if the position does not exist.
func (r *PositionRepository) FindByID(ctx context.Context, id uint) (*model.Position, error) {
	var position model.Position
	err := r.db.WithContext(ctx).First(&position, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo": "PositionRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch position by ID")
		return nil, err
	}
	return &position, nil
}

// FindOpenByTuple returns the OPEN position for (userID, symbol, side), or (nil, nil).
func (r *PositionRepository) FindOpenByTuple(
	ctx context.Context,
	userID uint,
	symbol string,
	side string,
) (*model.Position, error) {

	var position model.Position
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND symbol = ? AND side = ? AND status = ?",
			userID, strings.ToUpper(symbol), strings.ToLower(side), model.PositionStatusOpen).
		First(&position).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo":    "PositionRepository",
			"op":      "FindOpenByTuple",
			"user_id": userID,
			"symbol":  symbol,
			"side":    side,
		}).WithError(err).Error("Failed to fetch open position")
		return nil, err
	}
	return &position, nil
}

// FindOpen lists open positions, oldest first.
func (r *PositionRepository) FindOpen(ctx context.Context, limit int) ([]model.Position, error) {
	if limit <= 0 {
		limit = 200
	}
	var positions []model.Position
	err := r.db.WithContext(ctx).
		Where("status = ?", model.PositionStatusOpen).
		Order("id ASC").
		Limit(limit).
		Find(&positions).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "PositionRepository",
			"op":   "FindOpen",
		}).WithError(err).Error("Failed to fetch open positions")
		return nil, err
	}
	return positions, nil
}

// ListByUser returns a user's positions, newest first.
func (r *PositionRepository) ListByUser(ctx context.Context, userID uint, status string) ([]model.Position, error) {
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var positions []model.Position
	if err := query.Order("id DESC").Find(&positions).Error; err != nil {
		return nil, err
	}
	return positions, nil
}

// Create inserts a new position. A second OPEN row for the same tuple violates
// the partial unique index and surfaces as gorm.ErrDuplicatedKey.
func (r *PositionRepository) Create(ctx context.Context, position *model.Position) error {
	position.Symbol = strings.ToUpper(position.Symbol)
	position.Side = strings.ToLower(position.Side)
	if position.Version == 0 {
		position.Version = 1
	}
	if position.Time.IsZero() {
		position.Time = time.Now().UTC()
	}

	if err := r.db.WithContext(ctx).Create(position).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "PositionRepository",
			"op":      "Create",
			"user_id": position.UserID,
			"symbol":  position.Symbol,
		}).WithError(err).Warn("Failed to create position")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "PositionRepository",
		"op":          "Create",
		"position_id": position.ID,
	}).Info("Position created")
	return nil
}

// UpdateVersioned writes every mutable column only if the stored version still equals
// position.Version, then bumps the version. ErrVersionConflict means the caller must re-read.
func (r *PositionRepository) UpdateVersioned(ctx context.Context, position *model.Position) error {
	res := r.db.WithContext(ctx).
		Model(&model.Position{}).
		Where("id = ? AND version = ?", position.ID, position.Version).
		Updates(map[string]interface{}{
			"size":            position.Size,
			"leverage":        position.Leverage,
			"entry":           position.Entry,
			"stoploss":        position.Stoploss,
			"roi":             position.Roi,
			"est_liquidation": position.EstLiquidation,
			"exit_price":      position.ExitPrice,
			"status":          position.Status,
			"is_isolated":     position.IsIsolated,
			"close_time":      position.CloseTime,
			"version":         position.Version + 1,
		})
	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "PositionRepository",
			"op":          "UpdateVersioned",
			"position_id": position.ID,
		}).WithError(res.Error).Error("Failed to update position")
		return res.Error
	}
	if res.RowsAffected == 0 {
		logger.WithFields(map[string]interface{}{
			"repo":        "PositionRepository",
			"op":          "UpdateVersioned",
			"position_id": position.ID,
			"version":     position.Version,
		}).Warn("Position version changed underneath update")
		return ErrVersionConflict
	}

	position.Version++
	return nil
}
