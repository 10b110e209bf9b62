// Package catalog is the per-floor menu item store and the single source of
// truth for stock. Every mutation is written through to the backing store
// before the call returns.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kieracarman/canteen/internal/errs"
	"github.com/kieracarman/canteen/internal/lockmap"
	"github.com/kieracarman/canteen/internal/models"
	"github.com/kieracarman/canteen/internal/storage"
)

// DefaultCategory is assigned to items created without one
const DefaultCategory = "General"

// DefaultStock is assigned to items created without a stock count
const DefaultStock = 10

// Invalidator drops cached projections of a floor's menu
type Invalidator interface {
	Invalidate(floor string)
}

// NewItem describes an item to add. A nil Stock takes the default.
type NewItem struct {
	Name        string
	Description string
	Price       decimal.Decimal
	Category    string
	Floor       string
	Stock       *int
	ImageRef    string
}

// ItemUpdate replaces an item's editable fields. A nil Stock keeps the
// current count.
type ItemUpdate struct {
	Name        string
	Description string
	Price       decimal.Decimal
	Category    string
	Stock       *int
	ImageRef    string
}

// Service manages menu items
type Service struct {
	store        storage.CatalogStore
	floors       []string
	defaultStock int
	locks        *lockmap.Map
	invalidators []Invalidator
	logger       *zap.Logger
	now          func() time.Time
	newID        func() string
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDefaultStock overrides the stock given to items created without one
func WithDefaultStock(n int) Option {
	return func(s *Service) { s.defaultStock = n }
}

// WithInvalidator registers a cache to invalidate after each mutation
func WithInvalidator(inv Invalidator) Option {
	return func(s *Service) { s.invalidators = append(s.invalidators, inv) }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a catalog over store for the given floors
func New(store storage.CatalogStore, floors []string, opts ...Option) *Service {
	s := &Service{
		store:        store,
		floors:       slices.Clone(floors),
		defaultStock: DefaultStock,
		locks:        lockmap.New(),
		logger:       zap.NewNop(),
		now:          time.Now,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("catalog")
	return s
}

// Floors returns the configured floors
func (s *Service) Floors() []string {
	return slices.Clone(s.floors)
}

// HasFloor reports whether floor is configured
func (s *Service) HasFloor(floor string) bool {
	return slices.Contains(s.floors, floor)
}

// Add creates an item on its floor. The name must be unique on that floor,
// ignoring case.
func (s *Service) Add(ctx context.Context, in NewItem) (models.MenuItem, error) {
	name := strings.TrimSpace(in.Name)
	if err := s.validate(name, in.Floor, in.Price, in.Stock); err != nil {
		return models.MenuItem{}, err
	}

	item := models.MenuItem{
		ID:          s.newID(),
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Price:       in.Price,
		Category:    categoryOrDefault(in.Category),
		Floor:       in.Floor,
		Stock:       s.defaultStock,
		UpdatedAt:   s.now().UTC(),
	}
	if in.Stock != nil {
		item.Stock = *in.Stock
	}
	item.ImageRef, item.HasCustomImage = imageFor(in.Floor, in.ImageRef)

	unlock := s.locks.Lock(in.Floor)
	defer unlock()

	if err := s.ensureUnique(ctx, name, in.Floor, ""); err != nil {
		return models.MenuItem{}, err
	}
	if err := s.store.Insert(ctx, item); err != nil {
		s.logger.Error("failed to persist new item", zap.String("floor", item.Floor), zap.String("name", name), zap.Error(err))
		return models.MenuItem{}, errs.Persistence("save item", err)
	}

	s.invalidate(item.Floor)
	s.logger.Info("item added",
		zap.String("item_id", item.ID),
		zap.String("floor", item.Floor),
		zap.String("name", item.Name),
		zap.Int("stock", item.Stock))
	return item, nil
}

// Update replaces the editable fields of the item with id on floor. The id
// and floor never change; an item on another floor is not found.
func (s *Service) Update(ctx context.Context, floor, id string, up ItemUpdate) (models.MenuItem, error) {
	name := strings.TrimSpace(up.Name)
	if err := s.validate(name, floor, up.Price, up.Stock); err != nil {
		return models.MenuItem{}, err
	}

	unlock := s.locks.Lock(floor)
	defer unlock()

	current, err := s.get(ctx, id)
	if err != nil {
		return models.MenuItem{}, err
	}
	if current.Floor != floor {
		return models.MenuItem{}, errs.Newf(errs.CodeItemNotFound, "item %s not found on %s", id, floor)
	}
	if err := s.ensureUnique(ctx, name, floor, id); err != nil {
		return models.MenuItem{}, err
	}

	details := current
	details.Name = name
	details.Description = strings.TrimSpace(up.Description)
	details.Price = up.Price
	details.Category = categoryOrDefault(up.Category)
	if up.ImageRef != "" {
		details.ImageRef, details.HasCustomImage = imageFor(floor, up.ImageRef)
	}
	details.UpdatedAt = s.now().UTC()

	// Stock is not carried over from current: reservations adjust it outside
	// the floor lock, so only an explicit restock writes it.
	updated, err := s.store.UpdateDetails(ctx, details, up.Stock)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.MenuItem{}, errs.Newf(errs.CodeItemNotFound, "item %s not found on %s", id, floor)
		}
		s.logger.Error("failed to persist item update", zap.String("item_id", id), zap.Error(err))
		return models.MenuItem{}, errs.Persistence("save item", err)
	}

	s.invalidate(floor)
	s.logger.Info("item updated", zap.String("item_id", id), zap.String("floor", floor))
	return updated, nil
}

// Delete removes the item with id from floor. An empty floor deletes the
// item wherever it lives.
func (s *Service) Delete(ctx context.Context, floor, id string) error {
	if floor == "" {
		item, err := s.get(ctx, id)
		if err != nil {
			return err
		}
		floor = item.Floor
	}

	unlock := s.locks.Lock(floor)
	defer unlock()

	if err := s.store.Delete(ctx, floor, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return errs.Newf(errs.CodeItemNotFound, "item %s not found on %s", id, floor)
		}
		s.logger.Error("failed to delete item", zap.String("item_id", id), zap.Error(err))
		return errs.Persistence("delete item", err)
	}

	s.invalidate(floor)
	s.logger.Info("item deleted", zap.String("item_id", id), zap.String("floor", floor))
	return nil
}

// FindByID looks an item up on any floor
func (s *Service) FindByID(ctx context.Context, id string) (models.MenuItem, error) {
	return s.get(ctx, id)
}

// FindByName looks an item up by name on floor, ignoring case
func (s *Service) FindByName(ctx context.Context, name, floor string) (models.MenuItem, error) {
	found, err := s.store.FindByName(ctx, floor, strings.TrimSpace(name))
	if err != nil {
		return models.MenuItem{}, errs.Persistence("find item", err)
	}
	if len(found) == 0 {
		return models.MenuItem{}, errs.Newf(errs.CodeItemNotFound, "item %q not found on %s", name, floor)
	}
	return found[0], nil
}

// IsDuplicateName reports whether another item on floor, other than
// excludeID, already uses name.
func (s *Service) IsDuplicateName(ctx context.Context, name, floor, excludeID string) (bool, error) {
	found, err := s.store.FindByName(ctx, floor, strings.TrimSpace(name))
	if err != nil {
		return false, errs.Persistence("find item", err)
	}
	for _, item := range found {
		if item.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

// List returns floor's items sorted by category, then name
func (s *Service) List(ctx context.Context, floor string) ([]models.MenuItem, error) {
	items, err := s.store.ListFloor(ctx, floor)
	if err != nil {
		return nil, errs.Persistence("list items", err)
	}
	models.SortMenuItems(items)
	return items, nil
}

// Count returns the number of items on floor
func (s *Service) Count(ctx context.Context, floor string) (int, error) {
	items, err := s.store.ListFloor(ctx, floor)
	if err != nil {
		return 0, errs.Persistence("list items", err)
	}
	return len(items), nil
}

// IsFloorEmpty reports whether floor has no items
func (s *Service) IsFloorEmpty(ctx context.Context, floor string) (bool, error) {
	n, err := s.Count(ctx, floor)
	return n == 0, err
}

func (s *Service) get(ctx context.Context, id string) (models.MenuItem, error) {
	item, err := s.store.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return models.MenuItem{}, errs.Newf(errs.CodeItemNotFound, "item %s not found", id)
	}
	if err != nil {
		return models.MenuItem{}, errs.Persistence("get item", err)
	}
	return item, nil
}

func (s *Service) validate(name, floor string, price decimal.Decimal, stock *int) error {
	if name == "" {
		return errs.InvalidArgument("item name is required")
	}
	if !s.HasFloor(floor) {
		return errs.Newf(errs.CodeInvalidArgument, "unknown floor %q", floor)
	}
	if price.IsNegative() {
		return errs.Newf(errs.CodeInvalidArgument, "price cannot be negative: %s", price)
	}
	if stock != nil && *stock < 0 {
		return errs.Newf(errs.CodeInvalidArgument, "stock cannot be negative: %d", *stock)
	}
	return nil
}

// ensureUnique must be called with the floor lock held.
func (s *Service) ensureUnique(ctx context.Context, name, floor, excludeID string) error {
	dup, err := s.IsDuplicateName(ctx, name, floor, excludeID)
	if err != nil {
		return err
	}
	if dup {
		s.logger.Warn("duplicate item name rejected", zap.String("floor", floor), zap.String("name", name))
		return &errs.Error{
			Code:    errs.CodeDuplicateName,
			Message: fmt.Sprintf("an item named %q already exists on %s", name, floor),
		}
	}
	return nil
}

func (s *Service) invalidate(floor string) {
	for _, inv := range s.invalidators {
		inv.Invalidate(floor)
	}
}

func categoryOrDefault(c string) string {
	if c = strings.TrimSpace(c); c == "" {
		return DefaultCategory
	}
	return c
}
