package repository

import (
	"context"

	"positionengine/src/database"
	"positionengine/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ExceptionRepository handles persistence of caught failures.
type ExceptionRepository struct {
	db *gorm.DB
}

// NewExceptionRepository creates a new repository instance.
func NewExceptionRepository() *ExceptionRepository {
	return &ExceptionRepository{
		db: database.MainDB,
	}
}

func (r *ExceptionRepository) WithDB(db *gorm.DB) *ExceptionRepository {
	return &ExceptionRepository{db: db}
}

// Create persists a new exception in the database.
func (r *ExceptionRepository) Create(
	ctx context.Context,
	exc *model.Exception,
) error {

	logger.WithFields(map[string]interface{}{
		"service": exc.Service,
		"source":  exc.Source,
		"level":   exc.Level,
	}).Debug("Persisting exception")

	if exc.Context == "" {
		exc.Context = "{}"
	}
	return r.db.WithContext(ctx).Create(exc).Error
}

// FindRecent returns the newest exceptions, optionally filtered by source.
func (r *ExceptionRepository) FindRecent(ctx context.Context, source string, limit int) ([]model.Exception, error) {
	if limit <= 0 {
		limit = 50
	}
	query := r.db.WithContext(ctx)
	if source != "" {
		query = query.Where("source = ?", source)
	}
	var out []model.Exception
	if err := query.Order("id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
