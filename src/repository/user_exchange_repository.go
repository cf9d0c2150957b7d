package repository

import (
	"context"
	"errors"

	"positionengine/src/database"
	"positionengine/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormUserExchangeRepository struct {
	db *gorm.DB
}

func NewUserExchangeRepository() *GormUserExchangeRepository {
	logger.WithField("component", "GormUserExchangeRepository").
		Info("Creating new UserExchangeRepository with MainDB")

	return &GormUserExchangeRepository{
		db: database.MainDB,
	}
}

func (r *GormUserExchangeRepository) WithDB(db *gorm.DB) *GormUserExchangeRepository {
	return &GormUserExchangeRepository{db: db}
}

// GetByUserAndExchange returns the credentials row for userID and exchangeID, or (nil, nil).
func (r *GormUserExchangeRepository) GetByUserAndExchange(
	ctx context.Context,
	userID uint,
	exchangeID uint,
) (*model.UserExchange, error) {

	var ue model.UserExchange
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND exchange_id = ?", userID, exchangeID).
		First(&ue).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo":        "UserExchangeRepository",
			"op":          "GetByUserAndExchange",
			"user_id":     userID,
			"exchange_id": exchangeID,
		}).WithError(err).Error("Failed to fetch user exchange")
		return nil, err
	}

	return &ue, nil
}

// Upsert creates a new UserExchange or updates API keys if the (user_id, exchange_id)
// combination already exists.
func (r *GormUserExchangeRepository) Upsert(
	ctx context.Context,
	ue *model.UserExchange,
) error {

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "user_id"},
				{Name: "exchange_id"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"api_key",
				"api_secret",
				"api_passphrase",
				"is_testnet",
				"updated_at",
			}),
		}).
		Create(ue).Error
}
