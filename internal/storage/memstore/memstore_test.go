package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kieracarman/canteen/internal/models"
	"github.com/kieracarman/canteen/internal/storage"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New()
	require.NoError(t, err)
	return s
}

func item(id, floor, name string, stock int) models.MenuItem {
	return models.MenuItem{
		ID:       id,
		Name:     name,
		Price:    decimal.NewFromInt(40),
		Category: "Main Course",
		Floor:    floor,
		Stock:    stock,
	}
}

func TestCatalog_insertGetAndList(t *testing.T) {
	ctx := context.Background()
	c := newStore(t).Catalog()

	require.NoError(t, c.Insert(ctx, item("a", "Floor 1", "Khandvi", 15)))
	require.NoError(t, c.Insert(ctx, item("b", "Floor 1", "Thepla", 20)))
	require.NoError(t, c.Insert(ctx, item("c", "Floor 2", "Cappuccino", 30)))

	got, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Khandvi", got.Name)

	floor1, err := c.ListFloor(ctx, "Floor 1")
	require.NoError(t, err)
	assert.Len(t, floor1, 2)

	all, err := c.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	err = c.Insert(ctx, item("a", "Floor 3", "Other", 1))
	assert.ErrorIs(t, err, storage.ErrConflict)

	_, err = c.Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCatalog_findByNameIgnoresCase(t *testing.T) {
	ctx := context.Background()
	c := newStore(t).Catalog()
	require.NoError(t, c.Insert(ctx, item("a", "Floor 1", "Vada Pav", 25)))

	found, err := c.FindByName(ctx, "Floor 1", "vada pav")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "a", found[0].ID)

	found, err = c.FindByName(ctx, "Floor 2", "Vada Pav")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestCatalog_updateAndDeleteAreFloorScoped(t *testing.T) {
	ctx := context.Background()
	c := newStore(t).Catalog()
	require.NoError(t, c.Insert(ctx, item("a", "Floor 1", "Khandvi", 15)))

	moved := item("a", "Floor 2", "Khandvi", 15)
	_, err := c.UpdateDetails(ctx, moved, nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, c.Delete(ctx, "Floor 2", "a"), storage.ErrNotFound)

	renamed := item("a", "Floor 1", "Khandvi Roll", 15)
	_, err = c.UpdateDetails(ctx, renamed, nil)
	require.NoError(t, err)
	got, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Khandvi Roll", got.Name)

	require.NoError(t, c.Delete(ctx, "Floor 1", "a"))
	_, err = c.Get(ctx, "a")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCatalog_updateDetailsKeepsStoredStock(t *testing.T) {
	ctx := context.Background()
	c := newStore(t).Catalog()
	require.NoError(t, c.Insert(ctx, item("a", "Floor 1", "Khandvi", 5)))
	_, err := c.AdjustStock(ctx, "a", -1, 0)
	require.NoError(t, err)

	stale := item("a", "Floor 1", "Khandvi", 5)
	stale.Price = decimal.NewFromInt(45)
	got, err := c.UpdateDetails(ctx, stale, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Stock)
	assert.True(t, decimal.NewFromInt(45).Equal(got.Price))

	restock := 12
	got, err = c.UpdateDetails(ctx, stale, &restock)
	require.NoError(t, err)
	assert.Equal(t, 12, got.Stock)
}

func TestCatalog_increaseLiftsNegativeStock(t *testing.T) {
	ctx := context.Background()
	c := newStore(t).Catalog()
	require.NoError(t, c.Insert(ctx, item("a", "Floor 1", "Khandvi", -3)))

	got, err := c.AdjustStock(ctx, "a", 1, 0)
	require.NoError(t, err)
	assert.Equal(t, -2, got.Stock)

	_, err = c.AdjustStock(ctx, "a", -1, 0)
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestCatalog_adjustStockGuards(t *testing.T) {
	ctx := context.Background()
	c := newStore(t).Catalog()
	require.NoError(t, c.Insert(ctx, item("a", "Floor 1", "Khandvi", 2)))

	got, err := c.AdjustStock(ctx, "a", -2, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Stock)

	got, err = c.AdjustStock(ctx, "a", -1, 0)
	assert.ErrorIs(t, err, storage.ErrConflict)
	assert.Equal(t, 0, got.Stock)

	_, err = c.AdjustStock(ctx, "a", 5, 0)
	require.NoError(t, err)

	_, err = c.AdjustStock(ctx, "a", 1, 5)
	assert.ErrorIs(t, err, storage.ErrConflict)

	stored, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 5, stored.Stock)

	_, err = c.AdjustStock(ctx, "missing", 1, 0)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCatalog_concurrentDecrementsNeverOversell(t *testing.T) {
	ctx := context.Background()
	c := newStore(t).Catalog()
	require.NoError(t, c.Insert(ctx, item("a", "Floor 1", "Khandvi", 7)))

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.AdjustStock(ctx, "a", -1, 0); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 7, ok)
	got, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Stock)
}

func TestSnapshots_takeIsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	s := newStore(t).Snapshots()
	require.NoError(t, s.Put(ctx, models.CartSnapshot{
		CartID:  "cart-1",
		Lines:   []models.CartLine{{ItemID: "a", Floor: "Floor 1", Quantity: 2}},
		SavedAt: time.Now(),
	}))

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		taken int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Take(ctx, "cart-1"); err == nil {
				mu.Lock()
				taken++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, taken)
	_, err := s.Take(ctx, "cart-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSnapshots_olderThan(t *testing.T) {
	ctx := context.Background()
	s := newStore(t).Snapshots()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Put(ctx, models.CartSnapshot{CartID: "old", SavedAt: now.Add(-45 * time.Minute)}))
	require.NoError(t, s.Put(ctx, models.CartSnapshot{CartID: "new", SavedAt: now.Add(-5 * time.Minute)}))

	old, err := s.OlderThan(ctx, now.Add(-30*time.Minute))
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.Equal(t, "old", old[0].CartID)
}

func TestOrders_upsertListAndDelete(t *testing.T) {
	ctx := context.Background()
	o := newStore(t).Orders()

	rec := models.OrderRecord{OrderID: "ORD-1", Floor: "Floor 1", Status: models.OrderNew}
	require.NoError(t, o.Upsert(ctx, rec))
	require.NoError(t, o.Upsert(ctx, rec))
	require.NoError(t, o.Upsert(ctx, models.OrderRecord{OrderID: "ORD-1", Floor: "Floor 2", Status: models.OrderNew}))
	require.NoError(t, o.Upsert(ctx, models.OrderRecord{OrderID: "ORD-2", Floor: "Floor 1", Status: models.OrderNew}))

	floor1, err := o.ListFloor(ctx, "Floor 1")
	require.NoError(t, err)
	assert.Len(t, floor1, 2)

	rec.Status = models.OrderReady
	require.NoError(t, o.Upsert(ctx, rec))
	got, err := o.Get(ctx, "Floor 1", "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderReady, got.Status)

	require.NoError(t, o.Delete(ctx, "Floor 1", "ORD-1"))
	assert.ErrorIs(t, o.Delete(ctx, "Floor 1", "ORD-1"), storage.ErrNotFound)

	n, err := o.DeleteFloor(ctx, "Floor 1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	floor2, err := o.ListFloor(ctx, "Floor 2")
	require.NoError(t, err)
	assert.Len(t, floor2, 1)
}

func TestBills_saveReturnsCopies(t *testing.T) {
	ctx := context.Background()
	b := newStore(t).Bills()

	bill := models.Bill{
		OrderID:       "ORD-1",
		Items:         []models.CartLine{{ItemID: "a", Quantity: 1}},
		PaymentStatus: models.PaymentPending,
	}
	require.NoError(t, b.Save(ctx, bill))
	bill.Items[0].Quantity = 99

	got, err := b.Get(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Items[0].Quantity)

	_, err = b.Get(ctx, "ORD-2")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
