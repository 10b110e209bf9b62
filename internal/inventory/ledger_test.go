package inventory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kieracarman/canteen/internal/errs"
	"github.com/kieracarman/canteen/internal/models"
	"github.com/kieracarman/canteen/internal/storage"
	"github.com/kieracarman/canteen/internal/storage/memstore"
)

type fixture struct {
	store  *memstore.Store
	ledger *Ledger
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	store, err := memstore.New()
	require.NoError(t, err)
	return fixture{
		store:  store,
		ledger: New(store.Catalog(), store.Snapshots(), opts...),
	}
}

func (f fixture) addItem(t *testing.T, id, name string, stock int) {
	t.Helper()
	require.NoError(t, f.store.Catalog().Insert(context.Background(), models.MenuItem{
		ID:       id,
		Name:     name,
		Price:    decimal.NewFromInt(40),
		Category: "Main Course",
		Floor:    "Floor 1",
		Stock:    stock,
	}))
}

func (f fixture) stock(t *testing.T, id string) int {
	t.Helper()
	n, err := f.ledger.Stock(context.Background(), id)
	require.NoError(t, err)
	return n
}

func TestDecrease_thenIncreaseRoundTrips(t *testing.T) {
	f := newFixture(t)
	f.addItem(t, "a", "Khandvi", 15)
	ctx := context.Background()

	_, err := f.ledger.Decrease(ctx, "a", 4)
	require.NoError(t, err)
	assert.Equal(t, 11, f.stock(t, "a"))

	_, err = f.ledger.Increase(ctx, "a", 4)
	require.NoError(t, err)
	assert.Equal(t, 15, f.stock(t, "a"))
}

func TestDecrease_insufficientStockChangesNothing(t *testing.T) {
	f := newFixture(t)
	f.addItem(t, "a", "Khandvi", 2)

	_, err := f.ledger.Decrease(context.Background(), "a", 3)

	assert.ErrorIs(t, err, errs.ErrInsufficientStock)
	assert.Equal(t, 2, f.stock(t, "a"))
}

func TestDecrease_rejectsBadInput(t *testing.T) {
	f := newFixture(t)
	f.addItem(t, "a", "Khandvi", 2)
	ctx := context.Background()

	_, err := f.ledger.Decrease(ctx, "a", 0)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = f.ledger.Decrease(ctx, "missing", 1)
	assert.ErrorIs(t, err, errs.ErrItemNotFound)

	_, err = f.ledger.Increase(ctx, "missing", 1)
	assert.ErrorIs(t, err, errs.ErrItemNotFound)
}

func TestByName_variantsIgnoreCase(t *testing.T) {
	f := newFixture(t)
	f.addItem(t, "a", "Vada Pav", 5)
	ctx := context.Background()

	_, err := f.ledger.DecreaseByName(ctx, "vada pav", "Floor 1", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, f.stock(t, "a"))

	_, err = f.ledger.IncreaseByName(ctx, "VADA PAV", "Floor 1", 1)
	require.NoError(t, err)
	assert.Equal(t, 4, f.stock(t, "a"))

	_, err = f.ledger.DecreaseByName(ctx, "Vada Pav", "Floor 2", 1)
	assert.ErrorIs(t, err, errs.ErrItemNotFound)
}

func TestIncrease_ceiling(t *testing.T) {
	f := newFixture(t, WithCeiling(10))
	f.addItem(t, "a", "Khandvi", 9)
	ctx := context.Background()

	_, err := f.ledger.Increase(ctx, "a", 1)
	require.NoError(t, err)

	_, err = f.ledger.Increase(ctx, "a", 1)
	assert.ErrorIs(t, err, errs.ErrFailedPrecondition)
	assert.Equal(t, 10, f.stock(t, "a"))
}

func TestIncrease_onNegativeStockRestores(t *testing.T) {
	f := newFixture(t, WithCeiling(20))
	f.addItem(t, "a", "Khandvi", -2)

	_, err := f.ledger.Increase(context.Background(), "a", 1)
	require.NoError(t, err)
	assert.Equal(t, -1, f.stock(t, "a"))
}

func TestDecrease_concurrentClientsNeverOversell(t *testing.T) {
	const (
		clients = 100
		stock   = 37
	)
	f := newFixture(t)
	f.addItem(t, "a", "Khandvi", stock)

	var (
		wg       sync.WaitGroup
		ok, fail atomic.Int32
	)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.ledger.Decrease(context.Background(), "a", 1); err != nil {
				assert.ErrorIs(t, err, errs.ErrInsufficientStock)
				fail.Add(1)
				return
			}
			ok.Add(1)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, stock, ok.Load())
	assert.EqualValues(t, clients-stock, fail.Load())
	assert.Equal(t, 0, f.stock(t, "a"))
}

func TestRestoreLines_skipsDeletedItems(t *testing.T) {
	f := newFixture(t)
	f.addItem(t, "a", "Khandvi", 1)

	remaining, err := f.ledger.RestoreLines(context.Background(), []models.CartLine{
		{ItemID: "gone", Quantity: 2},
		{ItemID: "a", Quantity: 3},
	})

	require.NoError(t, err)
	assert.Empty(t, remaining)
	assert.Equal(t, 4, f.stock(t, "a"))
}

func TestRestoreAbandoned_onlyOldSnapshotsAndOnce(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, WithAbandonTimeout(30*time.Minute), WithClock(func() time.Time { return now }))
	f.addItem(t, "a", "Khandvi", 10)
	f.addItem(t, "b", "Thepla", 10)
	ctx := context.Background()

	// Both carts already hold their reservations.
	_, err := f.ledger.Decrease(ctx, "a", 2)
	require.NoError(t, err)
	_, err = f.ledger.Decrease(ctx, "b", 1)
	require.NoError(t, err)

	require.NoError(t, f.ledger.SaveSnapshot(ctx, models.CartSnapshot{
		CartID:  "old",
		Lines:   []models.CartLine{{ItemID: "a", Floor: "Floor 1", Quantity: 2}},
		SavedAt: now.Add(-31 * time.Minute),
	}))
	require.NoError(t, f.ledger.SaveSnapshot(ctx, models.CartSnapshot{
		CartID:  "young",
		Lines:   []models.CartLine{{ItemID: "b", Floor: "Floor 1", Quantity: 1}},
		SavedAt: now.Add(-29 * time.Minute),
	}))

	n, err := f.ledger.RestoreAbandoned(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 10, f.stock(t, "a"))
	assert.Equal(t, 9, f.stock(t, "b"))

	n, err = f.ledger.RestoreAbandoned(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 10, f.stock(t, "a"))

	_, ok, err := f.ledger.ClaimSnapshot(ctx, "old")
	require.NoError(t, err)
	assert.False(t, ok)

	snap, ok, err := f.ledger.ClaimSnapshot(ctx, "young")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, snap.Lines, 1)
}

func TestRestoreAbandoned_concurrentSweepsRestoreOnce(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t)
	f.addItem(t, "a", "Khandvi", 0)
	ctx := context.Background()

	require.NoError(t, f.ledger.SaveSnapshot(ctx, models.CartSnapshot{
		CartID:  "old",
		Lines:   []models.CartLine{{ItemID: "a", Quantity: 3}},
		SavedAt: now.Add(-time.Hour),
	}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.RestoreAbandoned(ctx, now)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, f.stock(t, "a"))
}

func TestRepairNegativeStock_isNotExercisedUnderCorrectUse(t *testing.T) {
	f := newFixture(t)
	f.addItem(t, "a", "Khandvi", 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = f.ledger.Decrease(ctx, "a", 1)
	}

	n, err := f.ledger.RepairNegativeStock(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRepairNegativeStock_clampsCorruptedRows(t *testing.T) {
	f := newFixture(t)
	f.addItem(t, "a", "Khandvi", 3)
	ctx := context.Background()

	// Simulate corruption written around the ledger.
	_, err := f.store.Catalog().SetStock(ctx, "a", -4)
	require.NoError(t, err)

	n, err := f.ledger.RepairNegativeStock(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, f.stock(t, "a"))
}

func TestSweeper_startStop(t *testing.T) {
	f := newFixture(t, WithSweepInterval(5*time.Millisecond), WithAbandonTimeout(time.Millisecond))
	f.addItem(t, "a", "Khandvi", 0)
	require.NoError(t, f.ledger.SaveSnapshot(context.Background(), models.CartSnapshot{
		CartID:  "old",
		Lines:   []models.CartLine{{ItemID: "a", Quantity: 2}},
		SavedAt: time.Now().Add(-time.Minute),
	}))

	f.ledger.StartSweeper()
	f.ledger.StartSweeper()
	assert.Eventually(t, func() bool {
		n, err := f.ledger.Stock(context.Background(), "a")
		return err == nil && n == 2
	}, time.Second, 5*time.Millisecond)
	f.ledger.Stop()
	f.ledger.Stop()

	_, err := f.store.Snapshots().Take(context.Background(), "old")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
