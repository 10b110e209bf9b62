// Package storage defines the persistence contracts of the canteen core.
//
// Backends are keyed by floor. Every mutating call is one durable write;
// nothing is batched or deferred, so a successful return means the change
// has reached the store.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/kieracarman/canteen/internal/models"
)

var (
	// ErrNotFound is returned when the addressed record does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict is returned when a conditional update's guard fails.
	ErrConflict = errors.New("storage: conditional update rejected")
)

// CatalogStore persists menu items partitioned by floor.
type CatalogStore interface {
	Insert(ctx context.Context, item models.MenuItem) error
	// UpdateDetails writes the editable fields of item (name, description,
	// price, category, image) to the item with the same ID on item.Floor and
	// returns the stored record. Stock keeps its stored value unless stock
	// is non-nil, in which case it is set in the same write.
	UpdateDetails(ctx context.Context, item models.MenuItem, stock *int) (models.MenuItem, error)
	Delete(ctx context.Context, floor, id string) error
	Get(ctx context.Context, id string) (models.MenuItem, error)
	ListFloor(ctx context.Context, floor string) ([]models.MenuItem, error)
	ListAll(ctx context.Context) ([]models.MenuItem, error)
	// FindByName matches names case-insensitively within a floor.
	FindByName(ctx context.Context, floor, name string) ([]models.MenuItem, error)
	// AdjustStock adds delta to the item's stock atomically. It returns
	// ErrConflict, leaving the item untouched, when the result would be
	// negative or, for a positive ceiling, greater than ceiling.
	AdjustStock(ctx context.Context, id string, delta, ceiling int) (models.MenuItem, error)
	SetStock(ctx context.Context, id string, stock int) (models.MenuItem, error)
}

// SnapshotStore persists reservations of carts that lost foreground.
type SnapshotStore interface {
	Put(ctx context.Context, snap models.CartSnapshot) error
	// Take removes and returns the snapshot. Exactly one concurrent caller
	// succeeds; the others get ErrNotFound.
	Take(ctx context.Context, cartID string) (models.CartSnapshot, error)
	OlderThan(ctx context.Context, cutoff time.Time) ([]models.CartSnapshot, error)
}

// OrderStore persists floor order records keyed by (floor, order id).
type OrderStore interface {
	Upsert(ctx context.Context, rec models.OrderRecord) error
	Get(ctx context.Context, floor, orderID string) (models.OrderRecord, error)
	ListFloor(ctx context.Context, floor string) ([]models.OrderRecord, error)
	Delete(ctx context.Context, floor, orderID string) error
	DeleteFloor(ctx context.Context, floor string) (int, error)
}

// BillStore persists bills keyed by order id.
type BillStore interface {
	Save(ctx context.Context, bill models.Bill) error
	Get(ctx context.Context, orderID string) (models.Bill, error)
}

// Store bundles every contract a backend provides.
type Store interface {
	Catalog() CatalogStore
	Snapshots() SnapshotStore
	Orders() OrderStore
	Bills() BillStore
	Close(ctx context.Context) error
}
