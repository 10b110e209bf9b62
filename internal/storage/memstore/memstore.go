// Package memstore is an in-process storage backend built on go-memdb.
//
// Write transactions are serialized by memdb, which makes AdjustStock's
// read-check-write and Take's read-delete atomic.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/hashicorp/go-memdb"

	"github.com/kieracarman/canteen/internal/models"
	"github.com/kieracarman/canteen/internal/storage"
)

const (
	tableItems     = "items"
	tableSnapshots = "snapshots"
	tableOrders    = "orders"
	tableBills     = "bills"
)

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableItems: {
				Name: tableItems,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					"floor": {
						Name:    "floor",
						Indexer: &memdb.StringFieldIndex{Field: "Floor"},
					},
					"floor_name": {
						Name: "floor_name",
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "Floor"},
								&memdb.StringFieldIndex{Field: "Name", Lowercase: true},
							},
						},
					},
				},
			},
			tableSnapshots: {
				Name: tableSnapshots,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "CartID"},
					},
				},
			},
			tableOrders: {
				Name: tableOrders,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:   "id",
						Unique: true,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "Floor"},
								&memdb.StringFieldIndex{Field: "OrderID"},
							},
						},
					},
					"floor": {
						Name:    "floor",
						Indexer: &memdb.StringFieldIndex{Field: "Floor"},
					},
				},
			},
			tableBills: {
				Name: tableBills,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "OrderID"},
					},
				},
			},
		},
	}
}

// Store is a go-memdb backed storage.Store
type Store struct {
	db  *memdb.MemDB
	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New creates an empty in-memory store
func New() (*Store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("failed to create memdb: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Catalog returns the menu item store
func (s *Store) Catalog() storage.CatalogStore { return catalogStore{s} }

// Snapshots returns the abandoned-cart snapshot store
func (s *Store) Snapshots() storage.SnapshotStore { return snapshotStore{s} }

// Orders returns the floor order store
func (s *Store) Orders() storage.OrderStore { return orderStore{s} }

// Bills returns the bill store
func (s *Store) Bills() storage.BillStore { return billStore{s} }

// Close is a no-op for the in-memory store
func (s *Store) Close(context.Context) error { return nil }

// update runs fn in a write transaction, committing only on success.
func (s *Store) update(fn func(txn *memdb.Txn) error) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := fn(txn); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *Store) read() *memdb.Txn {
	return s.db.Txn(false)
}

type catalogStore struct{ *Store }

func (c catalogStore) Insert(_ context.Context, item models.MenuItem) error {
	return c.update(func(txn *memdb.Txn) error {
		existing, err := txn.First(tableItems, "id", item.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("item %s already exists: %w", item.ID, storage.ErrConflict)
		}
		return txn.Insert(tableItems, item)
	})
}

func (c catalogStore) UpdateDetails(_ context.Context, item models.MenuItem, stock *int) (models.MenuItem, error) {
	var out models.MenuItem
	err := c.update(func(txn *memdb.Txn) error {
		raw, err := txn.First(tableItems, "id", item.ID)
		if err != nil {
			return err
		}
		if raw == nil || raw.(models.MenuItem).Floor != item.Floor {
			return storage.ErrNotFound
		}
		// Stock is read inside the write transaction so a concurrent
		// reservation is never overwritten.
		stored := raw.(models.MenuItem)
		item.Stock = stored.Stock
		if stock != nil {
			item.Stock = *stock
		}
		out = item
		return txn.Insert(tableItems, item)
	})
	return out, err
}

func (c catalogStore) Delete(_ context.Context, floor, id string) error {
	return c.update(func(txn *memdb.Txn) error {
		raw, err := txn.First(tableItems, "id", id)
		if err != nil {
			return err
		}
		if raw == nil || raw.(models.MenuItem).Floor != floor {
			return storage.ErrNotFound
		}
		return txn.Delete(tableItems, raw)
	})
}

func (c catalogStore) Get(_ context.Context, id string) (models.MenuItem, error) {
	raw, err := c.read().First(tableItems, "id", id)
	if err != nil {
		return models.MenuItem{}, err
	}
	if raw == nil {
		return models.MenuItem{}, storage.ErrNotFound
	}
	return raw.(models.MenuItem), nil
}

func (c catalogStore) ListFloor(_ context.Context, floor string) ([]models.MenuItem, error) {
	return collectItems(c.read().Get(tableItems, "floor", floor))
}

func (c catalogStore) ListAll(_ context.Context) ([]models.MenuItem, error) {
	return collectItems(c.read().Get(tableItems, "id_prefix", ""))
}

func (c catalogStore) FindByName(_ context.Context, floor, name string) ([]models.MenuItem, error) {
	return collectItems(c.read().Get(tableItems, "floor_name", floor, name))
}

func (c catalogStore) AdjustStock(_ context.Context, id string, delta, ceiling int) (models.MenuItem, error) {
	var out models.MenuItem
	err := c.update(func(txn *memdb.Txn) error {
		raw, err := txn.First(tableItems, "id", id)
		if err != nil {
			return err
		}
		if raw == nil {
			return storage.ErrNotFound
		}
		item := raw.(models.MenuItem)
		next := item.Stock + delta
		if (delta < 0 && next < 0) || (delta > 0 && ceiling > 0 && next > ceiling) {
			out = item
			return storage.ErrConflict
		}
		item.Stock = next
		item.UpdatedAt = c.now().UTC()
		out = item
		return txn.Insert(tableItems, item)
	})
	return out, err
}

func (c catalogStore) SetStock(_ context.Context, id string, stock int) (models.MenuItem, error) {
	var out models.MenuItem
	err := c.update(func(txn *memdb.Txn) error {
		raw, err := txn.First(tableItems, "id", id)
		if err != nil {
			return err
		}
		if raw == nil {
			return storage.ErrNotFound
		}
		item := raw.(models.MenuItem)
		item.Stock = stock
		item.UpdatedAt = c.now().UTC()
		out = item
		return txn.Insert(tableItems, item)
	})
	return out, err
}

func collectItems(it memdb.ResultIterator, err error) ([]models.MenuItem, error) {
	if err != nil {
		return nil, err
	}
	items := []models.MenuItem{}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		items = append(items, obj.(models.MenuItem))
	}
	return items, nil
}

type snapshotStore struct{ *Store }

func (s snapshotStore) Put(_ context.Context, snap models.CartSnapshot) error {
	snap.Lines = slices.Clone(snap.Lines)
	return s.update(func(txn *memdb.Txn) error {
		return txn.Insert(tableSnapshots, snap)
	})
}

func (s snapshotStore) Take(_ context.Context, cartID string) (models.CartSnapshot, error) {
	var out models.CartSnapshot
	err := s.update(func(txn *memdb.Txn) error {
		raw, err := txn.First(tableSnapshots, "id", cartID)
		if err != nil {
			return err
		}
		if raw == nil {
			return storage.ErrNotFound
		}
		out = raw.(models.CartSnapshot)
		return txn.Delete(tableSnapshots, raw)
	})
	out.Lines = slices.Clone(out.Lines)
	return out, err
}

func (s snapshotStore) OlderThan(_ context.Context, cutoff time.Time) ([]models.CartSnapshot, error) {
	it, err := s.read().Get(tableSnapshots, "id_prefix", "")
	if err != nil {
		return nil, err
	}
	var out []models.CartSnapshot
	for obj := it.Next(); obj != nil; obj = it.Next() {
		snap := obj.(models.CartSnapshot)
		if snap.SavedAt.Before(cutoff) {
			snap.Lines = slices.Clone(snap.Lines)
			out = append(out, snap)
		}
	}
	return out, nil
}

type orderStore struct{ *Store }

func (o orderStore) Upsert(_ context.Context, rec models.OrderRecord) error {
	rec.Items = slices.Clone(rec.Items)
	return o.update(func(txn *memdb.Txn) error {
		return txn.Insert(tableOrders, rec)
	})
}

func (o orderStore) Get(_ context.Context, floor, orderID string) (models.OrderRecord, error) {
	raw, err := o.read().First(tableOrders, "id", floor, orderID)
	if err != nil {
		return models.OrderRecord{}, err
	}
	if raw == nil {
		return models.OrderRecord{}, storage.ErrNotFound
	}
	rec := raw.(models.OrderRecord)
	rec.Items = slices.Clone(rec.Items)
	return rec, nil
}

func (o orderStore) ListFloor(_ context.Context, floor string) ([]models.OrderRecord, error) {
	it, err := o.read().Get(tableOrders, "floor", floor)
	if err != nil {
		return nil, err
	}
	out := []models.OrderRecord{}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		rec := obj.(models.OrderRecord)
		rec.Items = slices.Clone(rec.Items)
		out = append(out, rec)
	}
	return out, nil
}

func (o orderStore) Delete(_ context.Context, floor, orderID string) error {
	return o.update(func(txn *memdb.Txn) error {
		raw, err := txn.First(tableOrders, "id", floor, orderID)
		if err != nil {
			return err
		}
		if raw == nil {
			return storage.ErrNotFound
		}
		return txn.Delete(tableOrders, raw)
	})
}

func (o orderStore) DeleteFloor(_ context.Context, floor string) (int, error) {
	var n int
	err := o.update(func(txn *memdb.Txn) error {
		var err error
		n, err = txn.DeleteAll(tableOrders, "floor", floor)
		return err
	})
	return n, err
}

type billStore struct{ *Store }

func (b billStore) Save(_ context.Context, bill models.Bill) error {
	bill = bill.Clone()
	return b.update(func(txn *memdb.Txn) error {
		return txn.Insert(tableBills, bill)
	})
}

func (b billStore) Get(_ context.Context, orderID string) (models.Bill, error) {
	raw, err := b.read().First(tableBills, "id", orderID)
	if err != nil {
		return models.Bill{}, err
	}
	if raw == nil {
		return models.Bill{}, storage.ErrNotFound
	}
	return raw.(models.Bill).Clone(), nil
}
