package menu

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
	"github.com/kieracarman/canteen/internal/storage/memstore"
)

func seeded(t *testing.T) storage.CatalogStore {
	t.Helper()
	store, err := memstore.New()
	require.NoError(t, err)
	c := store.Catalog()
	for _, it := range []models.MenuItem{
		{ID: "1", Name: "Thepla", Description: "Fenugreek flatbread", Category: "Main Course", Floor: "Floor 1", Stock: 20, Price: decimal.NewFromInt(45)},
		{ID: "2", Name: "Khandvi", Description: "Gram flour rolls", Category: "Main Course", Floor: "Floor 1", Stock: 0, Price: decimal.NewFromInt(40)},
		{ID: "3", Name: "Chaas", Description: "Spiced buttermilk", Category: "Beverages", Floor: "Floor 1", Stock: 5, Price: decimal.NewFromInt(20)},
		{ID: "4", Name: "Cappuccino", Category: "Beverages", Floor: "Floor 2", Stock: 30, Price: decimal.NewFromInt(180)},
	} {
		require.NoError(t, c.Insert(context.Background(), it))
	}
	return c
}

func names(items []models.MenuItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Name)
	}
	return out
}

func TestMenu_cachesUntilTTL(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, err := New(seeded(t), 8, 5*time.Second, WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	ctx := context.Background()

	items, err := svc.Menu(ctx, "Floor 1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Chaas", "Khandvi", "Thepla"}, names(items))

	_, err = svc.Menu(ctx, "Floor 1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, svc.Loads())

	now = now.Add(6 * time.Second)
	_, err = svc.Menu(ctx, "Floor 1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, svc.Loads())
}

func TestMenu_concurrentMissesLoadOnce(t *testing.T) {
	svc, err := New(seeded(t), 8, time.Minute)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Menu(context.Background(), "Floor 1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, svc.Loads())
}

func TestInvalidate_reloads(t *testing.T) {
	store := seeded(t)
	svc, err := New(store, 8, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = svc.Menu(ctx, "Floor 1")
	require.NoError(t, err)
	_, err = store.SetStock(ctx, "2", 3)
	require.NoError(t, err)
	svc.Invalidate("Floor 1")

	items, err := svc.Search(ctx, "Floor 1", Query{InStockOnly: true})
	require.NoError(t, err)
	assert.Len(t, items, 3)
	assert.EqualValues(t, 2, svc.Loads())
}

func TestMenu_returnsCopies(t *testing.T) {
	svc, err := New(seeded(t), 8, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	items, err := svc.Menu(ctx, "Floor 1")
	require.NoError(t, err)
	items[0].Name = "changed"

	again, err := svc.Menu(ctx, "Floor 1")
	require.NoError(t, err)
	assert.Equal(t, "Chaas", again[0].Name)
}

func TestSearch(t *testing.T) {
	svc, err := New(seeded(t), 8, 0)
	require.NoError(t, err)
	ctx := context.Background()

	tests := map[string]struct {
		q    Query
		want []string
	}{
		"everything":    {Query{}, []string{"Chaas", "Khandvi", "Thepla"}},
		"by name":       {Query{Text: "kHaN"}, []string{"Khandvi"}},
		"by desc":       {Query{Text: "buttermilk"}, []string{"Chaas"}},
		"by category":   {Query{Category: "main course"}, []string{"Khandvi", "Thepla"}},
		"in stock only": {Query{Category: "Main Course", InStockOnly: true}, []string{"Thepla"}},
		"no match":      {Query{Text: "pizza"}, []string{}},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			items, err := svc.Search(ctx, "Floor 1", tt.q)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(items))
		})
	}
}

func TestCategories(t *testing.T) {
	svc, err := New(seeded(t), 8, time.Minute)
	require.NoError(t, err)

	cats, err := svc.Categories(context.Background(), "Floor 1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Beverages", "Main Course"}, cats)
}
