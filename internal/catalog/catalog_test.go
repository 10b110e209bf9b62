package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kieracarman/canteen/internal/errs"
	"github.com/kieracarman/canteen/internal/models"
	"github.com/kieracarman/canteen/internal/storage"
	"github.com/kieracarman/canteen/internal/storage/memstore"
)

var floors = []string{"Floor 1", "Floor 2", "Floor 3", "Floor 4"}

type recordingInvalidator struct{ floors []string }

func (r *recordingInvalidator) Invalidate(floor string) { r.floors = append(r.floors, floor) }

func newService(t *testing.T, opts ...Option) (*Service, storage.CatalogStore) {
	t.Helper()
	store, err := memstore.New()
	require.NoError(t, err)
	return New(store.Catalog(), floors, opts...), store.Catalog()
}

func intPtr(n int) *int { return &n }

func TestAdd_appliesDefaults(t *testing.T) {
	svc, _ := newService(t)

	item, err := svc.Add(context.Background(), NewItem{
		Name:  "  Khandvi ",
		Price: decimal.NewFromInt(40),
		Floor: "Floor 1",
	})

	require.NoError(t, err)
	assert.NotEmpty(t, item.ID)
	assert.Equal(t, "Khandvi", item.Name)
	assert.Equal(t, DefaultStock, item.Stock)
	assert.Equal(t, DefaultCategory, item.Category)
	assert.Equal(t, "khandvi", item.ImageRef)
	assert.False(t, item.HasCustomImage)
}

func TestAdd_explicitZeroStockIsKept(t *testing.T) {
	svc, _ := newService(t, WithDefaultStock(3))

	item, err := svc.Add(context.Background(), NewItem{Name: "Thepla", Floor: "Floor 1", Stock: intPtr(0)})
	require.NoError(t, err)
	assert.Equal(t, 0, item.Stock)

	item, err = svc.Add(context.Background(), NewItem{Name: "Handvo", Floor: "Floor 3"})
	require.NoError(t, err)
	assert.Equal(t, 3, item.Stock)
}

func TestAdd_rejectsInvalidInput(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	tests := map[string]NewItem{
		"empty name":     {Name: " ", Floor: "Floor 1"},
		"unknown floor":  {Name: "Khandvi", Floor: "Roof"},
		"negative price": {Name: "Khandvi", Floor: "Floor 1", Price: decimal.NewFromInt(-1)},
		"negative stock": {Name: "Khandvi", Floor: "Floor 1", Stock: intPtr(-2)},
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Add(ctx, in)
			assert.ErrorIs(t, err, errs.ErrInvalidArgument)
		})
	}
}

func TestAdd_duplicateNameIsPerFloorAndIgnoresCase(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Add(ctx, NewItem{Name: "Vada Pav", Floor: "Floor 1"})
	require.NoError(t, err)

	_, err = svc.Add(ctx, NewItem{Name: "VADA PAV", Floor: "Floor 1"})
	assert.ErrorIs(t, err, errs.ErrDuplicateName)

	_, err = svc.Add(ctx, NewItem{Name: "vada pav", Floor: "Floor 2"})
	assert.NoError(t, err)
}

func TestUpdate_isFloorScoped(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	item, err := svc.Add(ctx, NewItem{Name: "Khandvi", Floor: "Floor 1", Price: decimal.NewFromInt(40)})
	require.NoError(t, err)

	_, err = svc.Update(ctx, "Floor 2", item.ID, ItemUpdate{Name: "Khandvi"})
	assert.ErrorIs(t, err, errs.ErrItemNotFound)

	updated, err := svc.Update(ctx, "Floor 1", item.ID, ItemUpdate{
		Name:     "Khandvi",
		Price:    decimal.NewFromInt(45),
		Category: "Snacks",
	})
	require.NoError(t, err)
	assert.Equal(t, item.ID, updated.ID)
	assert.Equal(t, "Floor 1", updated.Floor)
	assert.Equal(t, item.Stock, updated.Stock)
	assert.True(t, decimal.NewFromInt(45).Equal(updated.Price))
	assert.Equal(t, "Snacks", updated.Category)
}

// reservingStore takes a unit of stock just before an update is written,
// the way a shopper adding the item concurrently would.
type reservingStore struct {
	storage.CatalogStore
}

func (r reservingStore) UpdateDetails(ctx context.Context, item models.MenuItem, stock *int) (models.MenuItem, error) {
	if _, err := r.AdjustStock(ctx, item.ID, -1, 0); err != nil {
		return models.MenuItem{}, err
	}
	return r.CatalogStore.UpdateDetails(ctx, item, stock)
}

func TestUpdate_keepsConcurrentReservations(t *testing.T) {
	_, store := newService(t)
	svc := New(reservingStore{store}, floors)
	ctx := context.Background()

	item, err := svc.Add(ctx, NewItem{Name: "Khandvi", Floor: "Floor 1", Price: decimal.NewFromInt(40), Stock: intPtr(5)})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, "Floor 1", item.ID, ItemUpdate{Name: "Khandvi", Price: decimal.NewFromInt(45)})
	require.NoError(t, err)
	assert.Equal(t, 4, updated.Stock)

	got, err := store.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Stock)
	assert.True(t, decimal.NewFromInt(45).Equal(got.Price))
}

func TestUpdate_explicitRestockSetsStock(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	item, err := svc.Add(ctx, NewItem{Name: "Thepla", Floor: "Floor 1", Stock: intPtr(2)})
	require.NoError(t, err)

	_, err = svc.Update(ctx, "Floor 1", item.ID, ItemUpdate{Name: "Thepla", Stock: intPtr(30)})
	require.NoError(t, err)

	got, err := store.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, got.Stock)
}

func TestUpdate_duplicateCheckExcludesSelf(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	a, err := svc.Add(ctx, NewItem{Name: "Khandvi", Floor: "Floor 1"})
	require.NoError(t, err)
	_, err = svc.Add(ctx, NewItem{Name: "Thepla", Floor: "Floor 1"})
	require.NoError(t, err)

	_, err = svc.Update(ctx, "Floor 1", a.ID, ItemUpdate{Name: "khandvi"})
	assert.NoError(t, err)

	_, err = svc.Update(ctx, "Floor 1", a.ID, ItemUpdate{Name: "thepla"})
	assert.ErrorIs(t, err, errs.ErrDuplicateName)
}

func TestDelete_emptyFloorFindsItem(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	item, err := svc.Add(ctx, NewItem{Name: "Undhiyu", Floor: "Floor 3"})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(ctx, "Floor 1", item.ID), errs.ErrItemNotFound)
	require.NoError(t, svc.Delete(ctx, "", item.ID))

	_, err = svc.FindByID(ctx, item.ID)
	assert.ErrorIs(t, err, errs.ErrItemNotFound)
}

func TestList_sortsByCategoryThenName(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	for _, in := range []NewItem{
		{Name: "Thepla", Category: "main", Floor: "Floor 1"},
		{Name: "cappuccino", Category: "Beverages", Floor: "Floor 1"},
		{Name: "Khandvi", Category: "Main", Floor: "Floor 1"},
	} {
		_, err := svc.Add(ctx, in)
		require.NoError(t, err)
	}

	items, err := svc.List(ctx, "Floor 1")
	require.NoError(t, err)
	names := make([]string, 0, len(items))
	for _, it := range items {
		names = append(names, it.Name)
	}
	assert.Equal(t, []string{"cappuccino", "Khandvi", "Thepla"}, names)
}

func TestMutations_invalidateFloor(t *testing.T) {
	inv := &recordingInvalidator{}
	svc, _ := newService(t, WithInvalidator(inv))
	ctx := context.Background()

	item, err := svc.Add(ctx, NewItem{Name: "Khandvi", Floor: "Floor 1"})
	require.NoError(t, err)
	_, err = svc.Update(ctx, "Floor 1", item.ID, ItemUpdate{Name: "Khandvi"})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, "Floor 1", item.ID))

	assert.Equal(t, []string{"Floor 1", "Floor 1", "Floor 1"}, inv.floors)
}

func TestSeedDefaults_onlyFillsEmptyFloors(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Add(ctx, NewItem{Name: "Custom", Floor: "Floor 2"})
	require.NoError(t, err)

	n, err := svc.SeedDefaults(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	count, err := svc.Count(ctx, "Floor 2")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	khandvi, err := svc.FindByName(ctx, "khandvi", "Floor 1")
	require.NoError(t, err)
	assert.Equal(t, 15, khandvi.Stock)
	assert.True(t, decimal.NewFromInt(40).Equal(khandvi.Price))

	again, err := svc.SeedDefaults(ctx)
	require.NoError(t, err)
	assert.Zero(t, again)
}

type failingStore struct {
	storage.CatalogStore
}

func (failingStore) FindByName(context.Context, string, string) ([]models.MenuItem, error) {
	return nil, nil
}

func (failingStore) Insert(context.Context, models.MenuItem) error {
	return errors.New("disk full")
}

func TestAdd_surfacesPersistenceFailure(t *testing.T) {
	svc := New(failingStore{}, floors)

	_, err := svc.Add(context.Background(), NewItem{Name: "Khandvi", Floor: "Floor 1"})

	assert.ErrorIs(t, err, errs.ErrPersistence)
	assert.Contains(t, err.Error(), "disk full")
}
