package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"positionengine/src/database"
	"positionengine/src/model"
	"positionengine/src/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(database.Config{Driver: database.DriverSQLite, DatabaseURLMain: "file::memory:", GormLogLevel: 1})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newTestLedger(t *testing.T) (*Ledger, *gorm.DB) {
	db := newTestDB(t)
	return New(repository.NewLedgerStoreWithDB(db), nil, 3), db
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func entryOrder(size string, leverage int, side string) *model.Order {
	return &model.Order{
		SignalID:    1,
		UserID:      7,
		ExchangeID:  model.ExchangeOKX,
		Symbol:      "BTCUSDT",
		Side:        side,
		Size:        d(size),
		Leverage:    leverage,
		Description: model.DescriptionEntry,
		Status:      model.OrderStatusOpen,
	}
}

func createOrder(t *testing.T, db *gorm.DB, order *model.Order) *model.Order {
	t.Helper()
	require.NoError(t, repository.NewOrderRepository().WithDB(db).CreateWithAutoLog(context.Background(), order))
	return order
}

func reload(t *testing.T, db *gorm.DB, id uint) *model.Position {
	t.Helper()
	pos, err := repository.NewPositionRepository().WithDB(db).FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, pos)
	return pos
}

// first fill for a fresh tuple
func TestApplyEntryFillCreatesPosition(t *testing.T) {
	l, db := newTestLedger(t)
	order := createOrder(t, db, entryOrder("1", 2, model.SideBuy))
	order.Stoploss = dp("90")

	pos, err := l.ApplyEntryFill(context.Background(), order, d("100"))
	require.NoError(t, err)

	stored := reload(t, db, pos.ID)
	assert.Equal(t, model.PositionStatusOpen, stored.Status)
	assert.True(t, stored.Size.Equal(d("1")))
	assert.True(t, stored.Entry.Equal(d("100")))
	assert.True(t, stored.EstLiquidation.Equal(d("50")), stored.EstLiquidation.String())
	assert.True(t, stored.Stoploss.Equal(d("90")))
	assert.Equal(t, 2, stored.Leverage)
	assert.False(t, stored.IsTest)
	assert.Nil(t, stored.CloseTime)

	linked, err := repository.NewOrderRepository().WithDB(db).FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	require.NotNil(t, linked.PositionID)
	assert.Equal(t, pos.ID, *linked.PositionID)
	require.NotNil(t, order.PositionID)
	assert.Equal(t, pos.ID, *order.PositionID)
}

// DCA fill merges into the open position
func TestApplyEntryFillMergesIntoOpenPosition(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()

	first, err := l.ApplyEntryFill(ctx, entryOrder("1", 2, model.SideBuy), d("100"))
	require.NoError(t, err)

	dca := entryOrder("1", 2, model.SideBuy)
	dca.Description = model.DescriptionDCA
	second, err := l.ApplyEntryFill(ctx, dca, d("110"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	stored := reload(t, db, first.ID)
	assert.True(t, stored.Size.Equal(d("2")))
	assert.True(t, stored.Entry.Equal(d("105")), stored.Entry.String())
	assert.True(t, stored.EstLiquidation.Equal(d("52.5")), stored.EstLiquidation.String())
	assert.Equal(t, uint(2), stored.Version)
}

func TestApplyEntryFillKeepsStoplossWhenNotGiven(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()

	order := entryOrder("1", 4, model.SideSell)
	order.Stoploss = dp("120")
	pos, err := l.ApplyEntryFill(ctx, order, d("100"))
	require.NoError(t, err)

	zeroSL := entryOrder("1", 4, model.SideSell)
	zeroSL.Stoploss = dp("0")
	_, err = l.ApplyEntryFill(ctx, zeroSL, d("100"))
	require.NoError(t, err)

	stored := reload(t, db, pos.ID)
	assert.True(t, stored.Stoploss.Equal(d("120")))
	assert.True(t, stored.EstLiquidation.Equal(d("125")), stored.EstLiquidation.String())
}

func TestApplyEntryFillSeparatesTuples(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	long, err := l.ApplyEntryFill(ctx, entryOrder("1", 2, model.SideBuy), d("100"))
	require.NoError(t, err)
	short, err := l.ApplyEntryFill(ctx, entryOrder("1", 2, model.SideSell), d("100"))
	require.NoError(t, err)
	other := entryOrder("1", 2, model.SideBuy)
	other.UserID = 8
	otherUser, err := l.ApplyEntryFill(ctx, other, d("100"))
	require.NoError(t, err)

	assert.NotEqual(t, long.ID, short.ID)
	assert.NotEqual(t, long.ID, otherUser.ID)
}

func TestApplyEntryFillRejectsInvalidInput(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.ApplyEntryFill(context.Background(), entryOrder("0", 2, model.SideBuy), d("100"))
	assert.ErrorIs(t, err, ErrInvalidFill)

	_, err = l.ApplyEntryFill(context.Background(), entryOrder("1", 2, model.SideBuy), d("0"))
	assert.ErrorIs(t, err, ErrInvalidFill)
}

func TestNewEntryAfterCloseCreatesFreshPosition(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	first, err := l.ApplyEntryFill(ctx, entryOrder("1", 2, model.SideBuy), d("100"))
	require.NoError(t, err)
	_, err = l.ClosePosition(ctx, first.ID, d("120"))
	require.NoError(t, err)

	second, err := l.ApplyEntryFill(ctx, entryOrder("3", 2, model.SideBuy), d("80"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.True(t, second.Entry.Equal(d("80")))
	assert.True(t, second.Size.Equal(d("3")))
}

// concurrent fills to one tuple, in either order
func TestConcurrentFillsDoNotLoseUpdates(t *testing.T) {
	for _, prices := range [][2]string{{"100", "200"}, {"200", "100"}} {
		l, db := newTestLedger(t)

		var wg sync.WaitGroup
		ids := make([]uint, 2)
		errs := make([]error, 2)
		for i, price := range prices {
			wg.Add(1)
			go func(i int, price string) {
				defer wg.Done()
				pos, err := l.ApplyEntryFill(context.Background(), entryOrder("1", 2, model.SideBuy), d(price))
				errs[i] = err
				if pos != nil {
					ids[i] = pos.ID
				}
			}(i, price)
		}
		wg.Wait()

		require.NoError(t, errs[0])
		require.NoError(t, errs[1])
		require.Equal(t, ids[0], ids[1])

		stored := reload(t, db, ids[0])
		assert.True(t, stored.Size.Equal(d("2")))
		assert.True(t, stored.Entry.Equal(d("150")), stored.Entry.String())
		assert.Equal(t, 0, l.locks.size())
	}
}

func TestConcurrentFillsAcrossLedgerInstances(t *testing.T) {
	db := newTestDB(t)
	store := repository.NewLedgerStoreWithDB(db)
	a := New(store, nil, 3)
	b := New(store, nil, 3)

	var wg sync.WaitGroup
	for i, l := range []*Ledger{a, b} {
		wg.Add(1)
		go func(l *Ledger, price string) {
			defer wg.Done()
			_, err := l.ApplyEntryFill(context.Background(), entryOrder("1", 2, model.SideBuy), d(price))
			assert.NoError(t, err)
		}(l, []string{"100", "200"}[i])
	}
	wg.Wait()

	open, err := repository.NewPositionRepository().WithDB(db).FindOpen(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.True(t, open[0].Size.Equal(d("2")))
	assert.True(t, open[0].Entry.Equal(d("150")), open[0].Entry.String())
}

func TestClosePositionClosesTrackingOrders(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()
	orders := repository.NewOrderRepository().WithDB(db)

	entry := createOrder(t, db, entryOrder("1", 2, model.SideBuy))
	pos, err := l.ApplyEntryFill(ctx, entry, d("100"))
	require.NoError(t, err)

	sl := entryOrder("1", 2, model.SideBuy)
	sl.Description = model.DescriptionStoploss
	sl.PositionID = &pos.ID
	createOrder(t, db, sl)

	unlinked := entryOrder("1", 2, model.SideBuy)
	unlinked.Description = model.DescriptionStoploss
	createOrder(t, db, unlinked)

	closed, err := l.ClosePosition(ctx, pos.ID, d("110"), unlinked.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PositionStatusClosed, closed.Status)
	require.NotNil(t, closed.CloseTime)
	require.NotNil(t, closed.ExitPrice)
	assert.True(t, closed.ExitPrice.Equal(d("110")))
	assert.True(t, closed.Roi.Equal(d("20")), closed.Roi.String())

	for _, id := range []uint{entry.ID, sl.ID, unlinked.ID} {
		o, err := orders.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusClosed, o.Status, "order %d", id)
		assert.NotNil(t, o.CloseTime, "order %d", id)
		require.NotNil(t, o.PositionID)
		assert.Equal(t, pos.ID, *o.PositionID)
	}
}

func TestClosePositionTwiceIsRejected(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()

	pos, err := l.ApplyEntryFill(ctx, entryOrder("1", 2, model.SideBuy), d("100"))
	require.NoError(t, err)

	first, err := l.ClosePosition(ctx, pos.ID, d("110"))
	require.NoError(t, err)
	firstClose := *first.CloseTime

	time.Sleep(5 * time.Millisecond)
	_, err = l.ClosePosition(ctx, pos.ID, d("90"))
	require.ErrorIs(t, err, ErrPositionClosed)

	stored := reload(t, db, pos.ID)
	assert.True(t, stored.ExitPrice.Equal(d("110")))
	assert.True(t, stored.Size.Equal(d("1")))
	assert.WithinDuration(t, firstClose, *stored.CloseTime, time.Millisecond)

	_, err = l.ClosePosition(ctx, 9999, d("90"))
	assert.ErrorIs(t, err, ErrPositionNotFound)
}

func TestReducePositionKeepsEntry(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()

	pos, err := l.ApplyEntryFill(ctx, entryOrder("2", 5, model.SideBuy), d("100"))
	require.NoError(t, err)

	reduced, err := l.ReducePosition(ctx, pos.ID, d("25"), dp("110"))
	require.NoError(t, err)
	assert.True(t, reduced.Size.Equal(d("1.5")), reduced.Size.String())
	assert.True(t, reduced.Entry.Equal(d("100")))
	assert.True(t, reduced.Roi.Equal(d("50")), reduced.Roi.String())

	stored := reload(t, db, pos.ID)
	assert.Equal(t, model.PositionStatusOpen, stored.Status)
	assert.True(t, stored.Size.Equal(d("1.5")))
	assert.True(t, stored.EstLiquidation.Equal(pos.EstLiquidation))
}

func TestReducePositionFullyCloses(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()

	entry := createOrder(t, db, entryOrder("2", 5, model.SideSell))
	pos, err := l.ApplyEntryFill(ctx, entry, d("100"))
	require.NoError(t, err)

	closed, err := l.ReducePosition(ctx, pos.ID, d("100"), dp("90"))
	require.NoError(t, err)
	assert.Equal(t, model.PositionStatusClosed, closed.Status)
	assert.True(t, closed.Size.IsZero())
	require.NotNil(t, closed.ExitPrice)
	assert.True(t, closed.ExitPrice.Equal(d("90")))
	assert.True(t, closed.Roi.Equal(d("50")), closed.Roi.String())

	o, err := repository.NewOrderRepository().WithDB(db).FindByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusClosed, o.Status)

	_, err = l.ReducePosition(ctx, pos.ID, d("10"), nil)
	assert.ErrorIs(t, err, ErrPositionClosed)
}

func TestReducePositionRejectsOutOfRangePercent(t *testing.T) {
	l, _ := newTestLedger(t)
	pos, err := l.ApplyEntryFill(context.Background(), entryOrder("1", 2, model.SideBuy), d("100"))
	require.NoError(t, err)

	for _, pct := range []string{"0", "-5", "100.01", "250"} {
		_, err := l.ReducePosition(context.Background(), pos.ID, d(pct), nil)
		assert.ErrorIs(t, err, ErrInvalidReduction, pct)
	}
}

func TestMoveStoplossAndMarkToMarket(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()

	pos, err := l.ApplyEntryFill(ctx, entryOrder("1", 10, model.SideSell), d("200"))
	require.NoError(t, err)

	_, err = l.MoveStoploss(ctx, pos.ID, d("210"))
	require.NoError(t, err)
	_, err = l.MarkToMarket(ctx, pos.ID, d("190"))
	require.NoError(t, err)

	stored := reload(t, db, pos.ID)
	assert.True(t, stored.Stoploss.Equal(d("210")))
	assert.True(t, stored.Roi.Equal(d("50")), stored.Roi.String())

	_, err = l.MoveStoploss(ctx, pos.ID, d("-1"))
	assert.Error(t, err)
	_, err = l.MarkToMarket(ctx, pos.ID, d("0"))
	assert.Error(t, err)
}

// conflictingStore fails the first n position updates with a version conflict.
type conflictingStore struct {
	inner *repository.LedgerStore

	mu        sync.Mutex
	remaining int
	updates   int
}

func (s *conflictingStore) WithinTx(ctx context.Context, fn func(tx repository.PositionTx) error) error {
	return s.inner.WithinTx(ctx, func(tx repository.PositionTx) error {
		return fn(&conflictingTx{PositionTx: tx, store: s})
	})
}

type conflictingTx struct {
	repository.PositionTx
	store *conflictingStore
}

func (c *conflictingTx) UpdatePosition(ctx context.Context, position *model.Position) error {
	c.store.mu.Lock()
	c.store.updates++
	fail := c.store.remaining > 0
	if fail {
		c.store.remaining--
	}
	c.store.mu.Unlock()
	if fail {
		return repository.ErrVersionConflict
	}
	return c.PositionTx.UpdatePosition(ctx, position)
}

func TestLedgerRetriesVersionConflicts(t *testing.T) {
	db := newTestDB(t)
	store := &conflictingStore{inner: repository.NewLedgerStoreWithDB(db)}
	l := New(store, nil, 3)
	ctx := context.Background()

	pos, err := l.ApplyEntryFill(ctx, entryOrder("1", 2, model.SideBuy), d("100"))
	require.NoError(t, err)

	store.remaining = 2
	updated, err := l.ApplyEntryFill(ctx, entryOrder("1", 2, model.SideBuy), d("200"))
	require.NoError(t, err)
	assert.Equal(t, 3, store.updates)
	assert.True(t, updated.Entry.Equal(d("150")))

	stored := reload(t, db, pos.ID)
	assert.True(t, stored.Size.Equal(d("2")))
	assert.True(t, stored.Entry.Equal(d("150")))
}

type recordingReporter struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingReporter) LogErrorAsync(message string, _ error, _ string, _ map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

func TestLedgerSurfacesExhaustedRetries(t *testing.T) {
	db := newTestDB(t)
	store := &conflictingStore{inner: repository.NewLedgerStoreWithDB(db)}
	rep := &recordingReporter{}
	l := New(store, rep, 2)
	ctx := context.Background()

	pos, err := l.ApplyEntryFill(ctx, entryOrder("1", 2, model.SideBuy), d("100"))
	require.NoError(t, err)

	store.remaining = 100
	_, err = l.MoveStoploss(ctx, pos.ID, d("95"))
	require.ErrorIs(t, err, ErrConcurrentUpdate)
	assert.Equal(t, []string{"Position update kept conflicting"}, rep.messages)

	stored := reload(t, db, pos.ID)
	assert.True(t, stored.Stoploss.IsZero())
	assert.Equal(t, uint(1), stored.Version)
}
