package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"positionengine/src/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newPosition(userID uint, symbol, side string) *model.Position {
	return &model.Position{
		UserID:     userID,
		ExchangeID: model.ExchangeOKX,
		Symbol:     symbol,
		Side:       side,
		Size:       decimal.NewFromInt(1),
		Leverage:   2,
		Entry:      decimal.NewFromInt(100),
		Status:     model.PositionStatusOpen,
	}
}

func TestPositionRepositoryCreateAndFind(t *testing.T) {
	db := newSQLiteDB(t)
	repo := (&PositionRepository{}).WithDB(db)
	ctx := context.Background()

	p := newPosition(1, "btcusdt", "BUY")
	require.NoError(t, repo.Create(ctx, p))
	assert.Equal(t, "BTCUSDT", p.Symbol)
	assert.Equal(t, "buy", p.Side)
	assert.Equal(t, uint(1), p.Version)

	found, err := repo.FindOpenByTuple(ctx, 1, "BTCUSDT", "buy")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, p.ID, found.ID)
	assert.True(t, found.Size.Equal(decimal.NewFromInt(1)))

	missing, err := repo.FindOpenByTuple(ctx, 1, "BTCUSDT", "sell")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPositionRepositoryRejectsSecondOpenPositionForTuple(t *testing.T) {
	db := newSQLiteDB(t)
	repo := (&PositionRepository{}).WithDB(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newPosition(1, "BTCUSDT", "buy")))

	err := repo.Create(ctx, newPosition(1, "BTCUSDT", "buy"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, gorm.ErrDuplicatedKey), "got %v", err)

	closed := newPosition(1, "BTCUSDT", "buy")
	closed.Status = model.PositionStatusClosed
	now := time.Now()
	closed.CloseTime = &now
	assert.NoError(t, repo.Create(ctx, closed), "closed rows do not count against the open tuple")
}

func TestPositionRepositoryUpdateVersioned(t *testing.T) {
	db := newSQLiteDB(t)
	repo := (&PositionRepository{}).WithDB(db)
	ctx := context.Background()

	p := newPosition(1, "ETHUSDT", "sell")
	require.NoError(t, repo.Create(ctx, p))

	stale := *p

	p.Size = decimal.NewFromInt(2)
	require.NoError(t, repo.UpdateVersioned(ctx, p))
	assert.Equal(t, uint(2), p.Version)

	stale.Size = decimal.NewFromInt(5)
	assert.ErrorIs(t, repo.UpdateVersioned(ctx, &stale), ErrVersionConflict)

	stored, err := repo.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, stored.Size.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, uint(2), stored.Version)
}

func TestLedgerStoreRollsBackOnError(t *testing.T) {
	db := newSQLiteDB(t)
	store := NewLedgerStoreWithDB(db)
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(tx PositionTx) error {
		if err := tx.CreatePosition(ctx, newPosition(4, "SOLUSDT", "buy")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, db.Model(&model.Position{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestLedgerStoreCloseOrders(t *testing.T) {
	db := newSQLiteDB(t)
	store := NewLedgerStoreWithDB(db)
	orders := (&OrderRepository{}).WithDB(db)
	ctx := context.Background()

	positionID := uint(7)

	entry := newOrder(1, "BTCUSDT", model.DescriptionEntry)
	entry.PositionID = &positionID
	entry.Status = model.OrderStatusOpen
	require.NoError(t, orders.CreateWithAutoLog(ctx, entry))

	cancelled := newOrder(1, "BTCUSDT", model.DescriptionTP1)
	cancelled.PositionID = &positionID
	cancelled.Status = model.OrderStatusCancelled
	require.NoError(t, orders.CreateWithAutoLog(ctx, cancelled))

	looseStop := newOrder(1, "BTCUSDT", model.DescriptionStoploss)
	looseStop.Status = model.OrderStatusOpen
	require.NoError(t, orders.CreateWithAutoLog(ctx, looseStop))

	closedAt := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	var closed int64
	err := store.WithinTx(ctx, func(tx PositionTx) error {
		var err error
		closed, err = tx.CloseOrders(ctx, positionID, []uint{looseStop.ID}, closedAt)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), closed)

	for _, id := range []uint{entry.ID, looseStop.ID} {
		stored, err := orders.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusClosed, stored.Status)
		require.NotNil(t, stored.CloseTime)
		require.NotNil(t, stored.PositionID)
		assert.Equal(t, positionID, *stored.PositionID)
	}

	stored, err := orders.FindByID(ctx, cancelled.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, stored.Status)
	assert.Nil(t, stored.CloseTime)
}
