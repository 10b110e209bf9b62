// Package menu serves the read side of the catalog: cached per-floor menus
// with search and category listings. Nothing here touches stock.
package menu

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/kieracarman/canteen/internal/errs"
	"github.com/kieracarman/canteen/internal/models"
	"github.com/kieracarman/canteen/internal/storage"
)

type entry struct {
	items   []models.MenuItem
	expires time.Time
}

// Service provides menu data with caching
type Service struct {
	store  storage.CatalogStore
	cache  *lru.Cache
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	loadMu sync.Mutex // serializes cache misses
	genMu  sync.Mutex
	gens   map[string]uint64
	loads  atomic.Int64
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

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a menu service caching up to size floors for ttl. A ttl of
// zero disables caching.
func New(store storage.CatalogStore, size int, ttl time.Duration, opts ...Option) (*Service, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create menu cache: %w", err)
	}
	s := &Service{
		store:  store,
		cache:  cache,
		ttl:    ttl,
		logger: zap.NewNop(),
		now:    time.Now,
		gens:   make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("menu")
	return s, nil
}

// Menu returns floor's items sorted by category and name
func (s *Service) Menu(ctx context.Context, floor string) ([]models.MenuItem, error) {
	if items, ok := s.cached(floor); ok {
		return items, nil
	}

	// Cache miss? Lock, load, and update
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	// Another goroutine might have loaded while we waited for the lock
	if items, ok := s.cached(floor); ok {
		return items, nil
	}

	gen := s.generation(floor)
	items, err := s.store.ListFloor(ctx, floor)
	if err != nil {
		return nil, errs.Persistence("load menu", err)
	}
	s.loads.Add(1)
	models.SortMenuItems(items)

	if s.ttl > 0 && s.generation(floor) == gen {
		s.cache.Add(floor, entry{items: items, expires: s.now().Add(s.ttl)})
	}
	return slices.Clone(items), nil
}

func (s *Service) cached(floor string) ([]models.MenuItem, bool) {
	raw, ok := s.cache.Get(floor)
	if !ok {
		return nil, false
	}
	e := raw.(entry)
	if !s.now().Before(e.expires) {
		s.cache.Remove(floor)
		return nil, false
	}
	return slices.Clone(e.items), true
}

func (s *Service) generation(floor string) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.gens[floor]
}

// Invalidate drops floor's cached menu. A load already in flight when this
// is called will not be cached.
func (s *Service) Invalidate(floor string) {
	s.genMu.Lock()
	s.gens[floor]++
	s.genMu.Unlock()
	s.cache.Remove(floor)
}

// Loads returns how many times a menu was read from the store
func (s *Service) Loads() int64 {
	return s.loads.Load()
}

// Query filters a menu. Empty fields match everything.
type Query struct {
	Text        string
	Category    string
	InStockOnly bool
}

// Search returns the items of floor's menu matching q. Text matches name,
// description or category, ignoring case.
func (s *Service) Search(ctx context.Context, floor string, q Query) ([]models.MenuItem, error) {
	items, err := s.Menu(ctx, floor)
	if err != nil {
		return nil, err
	}
	text := strings.ToLower(strings.TrimSpace(q.Text))
	category := strings.TrimSpace(q.Category)

	out := make([]models.MenuItem, 0, len(items))
	for _, item := range items {
		if q.InStockOnly && !item.InStock() {
			continue
		}
		if category != "" && !strings.EqualFold(item.Category, category) {
			continue
		}
		if text != "" &&
			!strings.Contains(strings.ToLower(item.Name), text) &&
			!strings.Contains(strings.ToLower(item.Description), text) &&
			!strings.Contains(strings.ToLower(item.Category), text) {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

// Categories returns floor's distinct categories in menu order
func (s *Service) Categories(ctx context.Context, floor string) ([]string, error) {
	items, err := s.Menu(ctx, floor)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, item := range items {
		if !slices.ContainsFunc(out, func(c string) bool { return strings.EqualFold(c, item.Category) }) {
			out = append(out, item.Category)
		}
	}
	return out, nil
}
