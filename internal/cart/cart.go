// Package cart couples a shopper's cart to stock reservations. Every line
// mutation is paired with exactly one ledger call, so the cart's quantities
// always equal what it holds in reserve.
package cart

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kieracarman/canteen/internal/errs"
	"github.com/kieracarman/canteen/internal/models"
)

// State is the lifecycle state of a cart
type State int

const (
	// Active carts accept line mutations
	Active State = iota
	// CheckingOut carts hold a pending bill and are frozen
	CheckingOut
	// Released carts have returned their reservation to stock
	Released
	// Finalized carts were paid for; their stock is sold
	Finalized
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case CheckingOut:
		return "checking_out"
	case Released:
		return "released"
	case Finalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Reserver is the stock ledger as seen by a cart
type Reserver interface {
	Decrease(ctx context.Context, itemID string, qty int) (models.MenuItem, error)
	Increase(ctx context.Context, itemID string, qty int) (models.MenuItem, error)
	RestoreLines(ctx context.Context, lines []models.CartLine) ([]models.CartLine, error)
	SaveSnapshot(ctx context.Context, snap models.CartSnapshot) error
	ClaimSnapshot(ctx context.Context, cartID string) (models.CartSnapshot, bool, error)
}

// Cart is one shopper's session. It is safe for concurrent use.
type Cart struct {
	mu        sync.Mutex
	id        string
	customer  string
	lines     []models.CartLine
	state     State
	suspended bool
	snapshot  bool // a snapshot is persisted for this cart
	orderID   string

	res    Reserver
	logger *zap.Logger
}

// New creates an empty active cart
func New(id, customer string, res Reserver, logger *zap.Logger) *Cart {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cart{
		id:       id,
		customer: customer,
		res:      res,
		logger:   logger.With(zap.String("cart_id", id)),
	}
}

// ID returns the cart id
func (c *Cart) ID() string { return c.id }

// Customer returns the shopper's name
func (c *Cart) Customer() string { return c.customer }

// State returns the lifecycle state
func (c *Cart) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Suspended reports whether the cart's reservation is parked in a snapshot
func (c *Cart) Suspended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suspended
}

// OrderID returns the id of the bill the cart is checking out, if any
func (c *Cart) OrderID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.orderID
}

// Lines returns a copy of the cart lines
func (c *Cart) Lines() []models.CartLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.lines)
}

// Subtotal returns the sum of price times quantity over all lines
func (c *Cart) Subtotal() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := decimal.Zero
	for _, l := range c.lines {
		total = total.Add(l.LineTotal())
	}
	return total
}

// TotalItems returns the number of units in the cart
func (c *Cart) TotalItems() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, l := range c.lines {
		n += l.Quantity
	}
	return n
}

// Search returns the lines whose name or category contains query, ignoring
// case. An empty query returns every line.
func (c *Cart) Search(query string) []models.CartLine {
	q := strings.ToLower(strings.TrimSpace(query))
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.CartLine
	for _, l := range c.lines {
		if q == "" || strings.Contains(strings.ToLower(l.Name), q) || strings.Contains(strings.ToLower(l.Category), q) {
			out = append(out, l)
		}
	}
	return out
}

// Add reserves one unit of item and adds it to the cart, incrementing the
// existing line if there is one. A failed reservation leaves the cart
// unchanged.
func (c *Cart) Add(ctx context.Context, item models.MenuItem) (models.CartLine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.mutable(); err != nil {
		return models.CartLine{}, err
	}

	current, err := c.res.Decrease(ctx, item.ID, 1)
	if err != nil {
		return models.CartLine{}, err
	}

	if i := c.index(item.ID); i >= 0 {
		c.lines[i].Quantity++
		c.logger.Info("cart line incremented", zap.String("item_id", item.ID), zap.Int("quantity", c.lines[i].Quantity))
		return c.lines[i], nil
	}
	line := models.LineFromItem(current, 1)
	c.lines = append(c.lines, line)
	c.logger.Info("cart line added", zap.String("item_id", item.ID), zap.String("floor", line.Floor))
	return line, nil
}

// Increase reserves one more unit for an existing line. The check runs
// against the store's current stock, not the line's captured item.
func (c *Cart) Increase(ctx context.Context, itemID string) (models.CartLine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.mutable(); err != nil {
		return models.CartLine{}, err
	}
	i := c.index(itemID)
	if i < 0 {
		return models.CartLine{}, errs.Newf(errs.CodeItemNotFound, "item %s is not in the cart", itemID)
	}

	if _, err := c.res.Decrease(ctx, itemID, 1); err != nil {
		return models.CartLine{}, err
	}
	c.lines[i].Quantity++
	return c.lines[i], nil
}

// Decrease returns one unit of a line to stock. The line is removed when
// its quantity reaches zero; the returned bool reports whether it remains.
func (c *Cart) Decrease(ctx context.Context, itemID string) (models.CartLine, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.mutable(); err != nil {
		return models.CartLine{}, false, err
	}
	i := c.index(itemID)
	if i < 0 {
		return models.CartLine{}, false, errs.Newf(errs.CodeItemNotFound, "item %s is not in the cart", itemID)
	}

	if _, err := c.res.Increase(ctx, itemID, 1); err != nil {
		if !errors.Is(err, errs.ErrItemNotFound) && !errors.Is(err, errs.ErrFailedPrecondition) {
			return c.lines[i], true, err
		}
		c.logger.Warn("unit dropped without restoration", zap.String("item_id", itemID), zap.Error(err))
	}

	c.lines[i].Quantity--
	line := c.lines[i]
	if line.Quantity == 0 {
		c.lines = slices.Delete(c.lines, i, i+1)
		return line, false, nil
	}
	return line, true, nil
}

// Remove returns a line's full quantity to stock and deletes the line.
// Removing an item that is not in the cart is a no-op.
func (c *Cart) Remove(ctx context.Context, itemID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.mutable(); err != nil {
		return err
	}
	i := c.index(itemID)
	if i < 0 {
		return nil
	}

	if _, err := c.res.RestoreLines(ctx, c.lines[i:i+1]); err != nil {
		return err
	}
	c.logger.Info("cart line removed", zap.String("item_id", itemID), zap.Int("quantity", c.lines[i].Quantity))
	c.lines = slices.Delete(c.lines, i, i+1)
	return nil
}

// Suspend parks the cart's reservation in a persisted snapshot, for when
// the shopper leaves. Left suspended past the abandon timeout, the sweeper
// restores the stock.
func (c *Cart) Suspend(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Active:
	case CheckingOut:
		return errs.FailedPrecondition("cart is checking out")
	default:
		return errs.Newf(errs.CodeFailedPrecondition, "cart is %s", c.state)
	}
	if c.suspended {
		return nil
	}

	if len(c.lines) > 0 {
		err := c.res.SaveSnapshot(ctx, models.CartSnapshot{
			CartID:       c.id,
			CustomerName: c.customer,
			Lines:        slices.Clone(c.lines),
		})
		if err != nil {
			return err
		}
		c.snapshot = true
	}
	c.suspended = true
	return nil
}

// Resume takes the reservation back from the snapshot. If the sweeper got
// there first the cart ends up Released and empty.
func (c *Cart) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.suspended {
		return nil
	}

	if c.snapshot {
		_, ok, err := c.res.ClaimSnapshot(ctx, c.id)
		if err != nil {
			return err
		}
		c.snapshot = false
		if !ok {
			c.suspended = false
			c.lines = nil
			c.state = Released
			c.logger.Info("reservation expired while suspended")
			return errs.FailedPrecondition("reservation expired")
		}
	}
	c.suspended = false
	return nil
}

// Release returns every reserved unit to stock and empties the cart. It is
// the only path that restores a whole cart; after it succeeds, further
// calls do nothing.
func (c *Cart) Release(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.release(ctx)
}

// ReleaseUnbilled releases the cart unless it is checking out. A cart
// frozen under a bill is released by abandoning the bill.
func (c *Cart) ReleaseUnbilled(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == CheckingOut {
		return errs.Newf(errs.CodeFailedPrecondition, "cart is checking out under %s", c.orderID)
	}
	return c.release(ctx)
}

// ReleaseFor releases the cart only while it still backs orderID: frozen
// under that bill, or reopened and not billed again. It reports whether the
// cart was released.
func (c *Cart) ReleaseFor(ctx context.Context, orderID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.state == CheckingOut && c.orderID == orderID:
	case c.state == Active && c.orderID == "":
	default:
		return false, nil
	}
	if err := c.release(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Cart) release(ctx context.Context) error {
	if c.state == Released || c.state == Finalized {
		return nil
	}

	if c.snapshot {
		_, ok, err := c.res.ClaimSnapshot(ctx, c.id)
		if err != nil {
			return err
		}
		c.snapshot = false
		c.suspended = false
		if !ok {
			// The sweeper already restored this reservation.
			c.lines = nil
			c.state = Released
			c.orderID = ""
			return nil
		}
	}

	remaining, err := c.res.RestoreLines(ctx, c.lines)
	if err != nil {
		c.lines = slices.Clone(remaining)
		c.suspended = false
		return err
	}

	c.logger.Info("cart released", zap.Int("lines", len(c.lines)))
	c.lines = nil
	c.state = Released
	c.orderID = ""
	return nil
}

// BeginCheckout freezes the cart under orderID and returns its lines
func (c *Cart) BeginCheckout(orderID string) ([]models.CartLine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.mutable(); err != nil {
		return nil, err
	}
	if len(c.lines) == 0 {
		return nil, errs.FailedPrecondition("cart is empty")
	}
	c.state = CheckingOut
	c.orderID = orderID
	return slices.Clone(c.lines), nil
}

// Reopen returns a checking-out cart to Active so it can be edited
func (c *Cart) Reopen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != CheckingOut {
		return errs.Newf(errs.CodeFailedPrecondition, "cart is %s", c.state)
	}
	c.state = Active
	c.orderID = ""
	return nil
}

// Finalize marks the cart paid. Its stock stays sold and the lines are
// dropped without restoration.
func (c *Cart) Finalize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Finalized:
		return nil
	case CheckingOut:
	default:
		return errs.Newf(errs.CodeFailedPrecondition, "cart is %s", c.state)
	}
	c.lines = nil
	c.state = Finalized
	c.logger.Info("cart finalized", zap.String("order_id", c.orderID))
	return nil
}

func (c *Cart) mutable() error {
	if c.state != Active {
		return errs.Newf(errs.CodeFailedPrecondition, "cart is %s", c.state)
	}
	if c.suspended {
		return errs.FailedPrecondition("cart is suspended")
	}
	return nil
}

func (c *Cart) index(itemID string) int {
	return slices.IndexFunc(c.lines, func(l models.CartLine) bool { return l.ItemID == itemID })
}
