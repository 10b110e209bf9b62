// Package inventory implements stock reservation on top of the catalog
// store: oversell-safe decrements, restorations, abandoned-cart recovery
// and a negative-stock repair pass.
//
// All stock arithmetic goes through storage.CatalogStore.AdjustStock, a
// conditional update the backend applies atomically, so concurrent callers
// and the background sweeper share one serialized path per item.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kieracarman/canteen/internal/errs"
	"github.com/kieracarman/canteen/internal/models"
	"github.com/kieracarman/canteen/internal/storage"
)

// DefaultAbandonTimeout is the age after which a suspended cart's
// reservation is returned to stock
const DefaultAbandonTimeout = 30 * time.Minute

// DefaultSweepInterval is how often the sweeper runs
const DefaultSweepInterval = time.Minute

// Invalidator drops cached projections of a floor's menu
type Invalidator interface {
	Invalidate(floor string)
}

// Ledger manages stock reservations
type Ledger struct {
	items        storage.CatalogStore
	snapshots    storage.SnapshotStore
	ceiling      int
	timeout      time.Duration
	interval     time.Duration
	invalidators []Invalidator
	logger       *zap.Logger
	now          func() time.Time

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Ledger
type Option func(*Ledger)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(lg *Ledger) {
		if l != nil {
			lg.logger = l
		}
	}
}

// WithCeiling caps stock reached by an increase. Zero disables the cap.
func WithCeiling(max int) Option {
	return func(lg *Ledger) { lg.ceiling = max }
}

// WithAbandonTimeout sets the age at which suspended carts are restored
func WithAbandonTimeout(d time.Duration) Option {
	return func(lg *Ledger) { lg.timeout = d }
}

// WithSweepInterval sets the sweeper period
func WithSweepInterval(d time.Duration) Option {
	return func(lg *Ledger) { lg.interval = d }
}

// WithInvalidator registers a cache to invalidate after stock changes
func WithInvalidator(inv Invalidator) Option {
	return func(lg *Ledger) { lg.invalidators = append(lg.invalidators, inv) }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(lg *Ledger) { lg.now = now }
}

// New creates a ledger
func New(items storage.CatalogStore, snapshots storage.SnapshotStore, opts ...Option) *Ledger {
	lg := &Ledger{
		items:     items,
		snapshots: snapshots,
		timeout:   DefaultAbandonTimeout,
		interval:  DefaultSweepInterval,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(lg)
	}
	lg.logger = lg.logger.Named("ledger")
	return lg
}

// AbandonTimeout returns the configured abandon timeout
func (lg *Ledger) AbandonTimeout() time.Duration {
	return lg.timeout
}

// Decrease reserves qty units of an item. It fails with InsufficientStock,
// changing nothing, when fewer than qty units remain.
func (lg *Ledger) Decrease(ctx context.Context, itemID string, qty int) (models.MenuItem, error) {
	if qty < 1 {
		return models.MenuItem{}, errs.Newf(errs.CodeInvalidArgument, "quantity must be at least 1, got %d", qty)
	}

	item, err := lg.items.AdjustStock(ctx, itemID, -qty, 0)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return models.MenuItem{}, errs.Newf(errs.CodeItemNotFound, "item %s not found", itemID)
	case errors.Is(err, storage.ErrConflict):
		lg.logger.Warn("reservation rejected",
			zap.String("item_id", itemID),
			zap.Int("requested", qty),
			zap.Int("stock", item.Stock))
		return item, &errs.Error{
			Code:    errs.CodeInsufficientStock,
			Message: fmt.Sprintf("%s is out of stock: %d requested, %d left", item.Name, qty, item.Stock),
		}
	case err != nil:
		lg.logger.Error("failed to persist stock decrease", zap.String("item_id", itemID), zap.Error(err))
		return models.MenuItem{}, errs.Persistence("decrease stock", err)
	}

	lg.invalidate(item.Floor)
	lg.logger.Debug("stock reserved",
		zap.String("item_id", itemID),
		zap.Int("quantity", qty),
		zap.Int("stock", item.Stock))
	return item, nil
}

// Increase returns qty units of an item to stock
func (lg *Ledger) Increase(ctx context.Context, itemID string, qty int) (models.MenuItem, error) {
	if qty < 1 {
		return models.MenuItem{}, errs.Newf(errs.CodeInvalidArgument, "quantity must be at least 1, got %d", qty)
	}

	item, err := lg.items.AdjustStock(ctx, itemID, qty, lg.ceiling)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return models.MenuItem{}, errs.Newf(errs.CodeItemNotFound, "item %s not found", itemID)
	case errors.Is(err, storage.ErrConflict):
		lg.logger.Warn("restoration would exceed max stock",
			zap.String("item_id", itemID),
			zap.Int("quantity", qty),
			zap.Int("stock", item.Stock),
			zap.Int("max_stock", lg.ceiling))
		return item, errs.Newf(errs.CodeFailedPrecondition,
			"restoring %d of %s would exceed max stock %d", qty, item.Name, lg.ceiling)
	case err != nil:
		lg.logger.Error("failed to persist stock increase", zap.String("item_id", itemID), zap.Error(err))
		return models.MenuItem{}, errs.Persistence("increase stock", err)
	}

	lg.invalidate(item.Floor)
	lg.logger.Debug("stock restored",
		zap.String("item_id", itemID),
		zap.Int("quantity", qty),
		zap.Int("stock", item.Stock))
	return item, nil
}

// DecreaseByName is Decrease for callers that only know name and floor
func (lg *Ledger) DecreaseByName(ctx context.Context, name, floor string, qty int) (models.MenuItem, error) {
	item, err := lg.lookup(ctx, name, floor)
	if err != nil {
		return models.MenuItem{}, err
	}
	return lg.Decrease(ctx, item.ID, qty)
}

// IncreaseByName is Increase for callers that only know name and floor
func (lg *Ledger) IncreaseByName(ctx context.Context, name, floor string, qty int) (models.MenuItem, error) {
	item, err := lg.lookup(ctx, name, floor)
	if err != nil {
		return models.MenuItem{}, err
	}
	return lg.Increase(ctx, item.ID, qty)
}

// Stock reads the current stock of an item from the store
func (lg *Ledger) Stock(ctx context.Context, itemID string) (int, error) {
	item, err := lg.items.Get(ctx, itemID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, errs.Newf(errs.CodeItemNotFound, "item %s not found", itemID)
	}
	if err != nil {
		return 0, errs.Persistence("get item", err)
	}
	return item.Stock, nil
}

func (lg *Ledger) lookup(ctx context.Context, name, floor string) (models.MenuItem, error) {
	found, err := lg.items.FindByName(ctx, floor, strings.TrimSpace(name))
	if err != nil {
		return models.MenuItem{}, errs.Persistence("find item", err)
	}
	if len(found) == 0 {
		return models.MenuItem{}, errs.Newf(errs.CodeItemNotFound, "item %q not found on %s", name, floor)
	}
	return found[0], nil
}

// RestoreLines returns each line's quantity to stock. Lines whose item no
// longer exists, or that would breach the ceiling, are skipped. On a
// persistence failure it stops and returns the lines not yet restored.
func (lg *Ledger) RestoreLines(ctx context.Context, lines []models.CartLine) ([]models.CartLine, error) {
	for i, line := range lines {
		if line.Quantity < 1 {
			continue
		}
		_, err := lg.Increase(ctx, line.ItemID, line.Quantity)
		switch {
		case err == nil:
		case errors.Is(err, errs.ErrItemNotFound):
			lg.logger.Warn("skipping restoration of deleted item",
				zap.String("item_id", line.ItemID),
				zap.String("name", line.Name),
				zap.Int("quantity", line.Quantity))
		case errors.Is(err, errs.ErrFailedPrecondition):
			// Already logged by Increase.
		default:
			return lines[i:], err
		}
	}
	return nil, nil
}

func (lg *Ledger) invalidate(floor string) {
	for _, inv := range lg.invalidators {
		inv.Invalidate(floor)
	}
}
