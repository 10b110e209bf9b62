package cart

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kieracarman/canteen/internal/errs"
)

// Registry holds the live carts of a process
type Registry struct {
	mu     sync.RWMutex
	carts  map[string]*Cart
	res    Reserver
	logger *zap.Logger
}

// NewRegistry creates an empty registry whose carts reserve through res
func NewRegistry(res Reserver, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		carts:  make(map[string]*Cart),
		res:    res,
		logger: logger.Named("cart"),
	}
}

// New opens a cart for customer
func (r *Registry) New(customer string) *Cart {
	c := New(uuid.NewString(), customer, r.res, r.logger)
	r.mu.Lock()
	r.carts[c.ID()] = c
	r.mu.Unlock()
	return c
}

// Get returns the cart with id
func (r *Registry) Get(id string) (*Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.carts[id]
	if !ok {
		return nil, errs.Newf(errs.CodeItemNotFound, "cart %s not found", id)
	}
	return c, nil
}

// Drop forgets a cart. It does not release the reservation.
func (r *Registry) Drop(id string) {
	r.mu.Lock()
	delete(r.carts, id)
	r.mu.Unlock()
}

// Len returns the number of live carts
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.carts)
}
