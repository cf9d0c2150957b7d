package migrations

import (
	"errors"
	"fmt"
	"time"

	"positionengine/src/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DataMigration tracks executed data migrations.
// Table name is fixed to avoid collisions with other models.
type DataMigration struct {
	ID        string    `gorm:"primaryKey;size:200;column:id"`
	AppliedAt time.Time `gorm:"not null;column:applied_at"`
}

func (DataMigration) TableName() string { return "data_migrations" }

// RunOnce runs fn only if migrationID was not executed before.
// It records the migration as executed only after fn succeeds.
func RunOnce(db *gorm.DB, migrationID string, fn func(*gorm.DB) error) error {
	if db == nil {
		return nil
	}
	if migrationID == "" {
		return fmt.Errorf("migration id is empty")
	}
	if fn == nil {
		return fmt.Errorf("migration %q has nil fn", migrationID)
	}

	if err := db.AutoMigrate(&DataMigration{}); err != nil {
		return fmt.Errorf("ensure data migrations table: %w", err)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		var m DataMigration
		err := tx.First(&m, "id = ?", migrationID).Error
		if err == nil {
			// already applied
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check migration %q: %w", migrationID, err)
		}

		if err := fn(tx); err != nil {
			return fmt.Errorf("run migration %q: %w", migrationID, err)
		}

		rec := DataMigration{
			ID:        migrationID,
			AppliedAt: time.Now().UTC(),
		}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("record migration %q: %w", migrationID, err)
		}

		return nil
	})
}

// Run executes all data migrations that go beyond schema auto-migrations.
// Append new migrations at the bottom with a stable unique id.
func Run(db *gorm.DB) error {
	if db == nil {
		return nil
	}

	if err := RunOnce(db, "00001_seed_exchanges", seedExchanges); err != nil {
		return err
	}

	if err := RunOnce(db, "00002_backfill_order_close_time", backfillOrderCloseTime); err != nil {
		return err
	}

	return nil
}

func seedExchanges(tx *gorm.DB) error {
	exchanges := []model.Exchange{
		{ID: model.ExchangeBitget, Name: "bitget", Enabled: true},
		{ID: model.ExchangeOKX, Name: "okx", Enabled: true},
		{ID: model.ExchangeKucoin, Name: "kucoin", Enabled: true},
		{ID: model.ExchangePhemex, Name: "phemex", Enabled: true},
		{ID: model.ExchangeKraken, Name: "kraken", Enabled: true},
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&exchanges).Error
}

// backfillOrderCloseTime restores closeTime for CLOSED orders written before it was mandatory,
// and clears it on orders that are not CLOSED.
func backfillOrderCloseTime(tx *gorm.DB) error {
	if err := tx.Exec(
		"UPDATE orders SET close_time = updated_at WHERE status = ? AND close_time IS NULL",
		model.OrderStatusClosed,
	).Error; err != nil {
		return err
	}
	return tx.Exec(
		"UPDATE orders SET close_time = NULL WHERE status <> ? AND close_time IS NOT NULL",
		model.OrderStatusClosed,
	).Error
}
