package repository

import (
	"context"
	"errors"
	"strings"

	"positionengine/src/database"
	"positionengine/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ExchangeRepository implements exchange persistence using GORM.
type ExchangeRepository struct {
	db *gorm.DB
}

func NewExchangeRepository() *ExchangeRepository {
	return &ExchangeRepository{
		db: database.MainDB,
	}
}

func (s *ExchangeRepository) WithDB(db *gorm.DB) *ExchangeRepository {
	return &ExchangeRepository{db: db}
}

// FindByID fetches an exchange by its primary ID.
// Returns (nil, nil) if not found.
func (s *ExchangeRepository) FindByID(
	ctx context.Context,
	id uint,
) (*model.Exchange, error) {

	var exchange model.Exchange
	err := s.db.WithContext(ctx).First(&exchange, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo": "ExchangeRepository",
				"op":   "FindByID",
				"id":   id,
			}).Info("Exchange not found by ID")
			return nil, nil
		}
		return nil, err
	}
	return &exchange, nil
}

// FindByName fetches an exchange by its name, case-insensitively.
// Returns (nil, nil) if not found.
func (s *ExchangeRepository) FindByName(
	ctx context.Context,
	name string,
) (*model.Exchange, error) {

	var exchange model.Exchange
	err := s.db.WithContext(ctx).
		Where("LOWER(name) = ?", strings.ToLower(strings.TrimSpace(name))).
		First(&exchange).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo": "ExchangeRepository",
				"op":   "FindByName",
				"name": name,
			}).Info("Exchange not found by name")
			return nil, nil
		}
		return nil, err
	}
	return &exchange, nil
}

// ListEnabled returns the exchanges orders may be routed to.
func (s *ExchangeRepository) ListEnabled(ctx context.Context) ([]model.Exchange, error) {
	var out []model.Exchange
	if err := s.db.WithContext(ctx).Where("enabled = ?", true).Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
