// Package billing turns a cart into a bill and drives the bill's payment
// status to a terminal state.
//
//	Pending -> Success | Failed | Cancelled | Error
//
// Success is final. The other terminal states can be overwritten by a
// retry against the same bill until the shopper abandons it, which releases
// the cart's reservation.
package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kieracarman/canteen/internal/cart"
	"github.com/kieracarman/canteen/internal/errs"
	"github.com/kieracarman/canteen/internal/lockmap"
	"github.com/kieracarman/canteen/internal/models"
	"github.com/kieracarman/canteen/internal/storage"
)

// DefaultPaymentMethod is recorded on every bill
const DefaultPaymentMethod = "UPI Payment"

// DefaultTaxRate is applied to bill subtotals
var DefaultTaxRate = decimal.RequireFromString("0.18")

// Dispatcher delivers a paid bill to the floors
type Dispatcher interface {
	Dispatch(ctx context.Context, bill models.Bill) ([]models.OrderRecord, error)
}

// Carts resolves a bill's cart and forgets carts that are done
type Carts interface {
	Get(id string) (*cart.Cart, error)
	Drop(id string)
}

// Engine manages bills
type Engine struct {
	bills         storage.BillStore
	carts         Carts
	dispatcher    Dispatcher
	taxRate       decimal.Decimal
	paymentMethod string
	locks         *lockmap.Map
	logger        *zap.Logger
	now           func() time.Time
	newOrderID    func() string
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTaxRate overrides the tax rate
func WithTaxRate(rate decimal.Decimal) Option {
	return func(e *Engine) { e.taxRate = rate }
}

// WithPaymentMethod overrides the payment method label
func WithPaymentMethod(m string) Option {
	return func(e *Engine) { e.paymentMethod = m }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine
func New(bills storage.BillStore, carts Carts, dispatcher Dispatcher, opts ...Option) *Engine {
	e := &Engine{
		bills:         bills,
		carts:         carts,
		dispatcher:    dispatcher,
		taxRate:       DefaultTaxRate,
		paymentMethod: DefaultPaymentMethod,
		locks:         lockmap.New(),
		logger:        zap.NewNop(),
		now:           time.Now,
		newOrderID:    newOrderID,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("billing")
	return e
}

func newOrderID() string {
	return "ORD-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// Totals computes subtotal, tax rounded to two places and total for lines
func Totals(lines []models.CartLine, rate decimal.Decimal) (subtotal, tax, total decimal.Decimal) {
	subtotal = decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.LineTotal())
	}
	tax = subtotal.Mul(rate).Round(2)
	return subtotal, tax, subtotal.Add(tax)
}

// Checkout creates a Pending bill for the cart and freezes it. While the
// cart holds a bill, Checkout returns that same bill instead of a new one.
func (e *Engine) Checkout(ctx context.Context, c *cart.Cart) (models.Bill, error) {
	unlock := e.locks.Lock("cart/" + c.ID())
	defer unlock()

	if orderID := c.OrderID(); orderID != "" {
		return e.get(ctx, orderID)
	}

	orderID := e.newOrderID()
	lines, err := c.BeginCheckout(orderID)
	if err != nil {
		return models.Bill{}, err
	}

	at := e.now()
	subtotal, tax, total := Totals(lines, e.taxRate)
	bill := models.Bill{
		OrderID:       orderID,
		CartID:        c.ID(),
		CustomerName:  c.Customer(),
		PaymentMethod: e.paymentMethod,
		CreatedAt:     at,
		UpdatedAt:     at,
		Items:         lines,
		Subtotal:      subtotal,
		Tax:           tax,
		Total:         total,
		PaymentStatus: models.PaymentPending,
	}
	if err := e.bills.Save(ctx, bill); err != nil {
		e.logger.Error("failed to persist bill", zap.String("order_id", orderID), zap.Error(err))
		if reopenErr := c.Reopen(); reopenErr != nil {
			e.logger.Error("failed to reopen cart", zap.String("cart_id", c.ID()), zap.Error(reopenErr))
		}
		return models.Bill{}, errs.Persistence("save bill", err)
	}

	e.logger.Info("bill created",
		zap.String("order_id", orderID),
		zap.String("cart_id", c.ID()),
		zap.Int("items", bill.TotalItems()),
		zap.String("total", total.StringFixed(2)))
	return bill, nil
}

// ResolvePayment records a terminal payment status. Repeating the current
// status is a no-op. On Success the status is saved first, then the cart is
// finalized and the order dispatched; a Success whose dispatch failed is
// dispatched again by the next Success.
func (e *Engine) ResolvePayment(ctx context.Context, orderID string, status models.PaymentStatus, txnID string) (models.Bill, error) {
	if !status.IsTerminal() {
		return models.Bill{}, errs.Newf(errs.CodeInvalidArgument, "%q is not a terminal payment status", status)
	}

	unlock := e.locks.Lock("bill/" + orderID)
	defer unlock()

	bill, err := e.get(ctx, orderID)
	if err != nil {
		return models.Bill{}, err
	}

	switch {
	case bill.PaymentStatus == models.PaymentSuccess && status == models.PaymentSuccess:
		if bill.Dispatched {
			return bill, nil
		}
		return e.dispatch(ctx, bill)
	case bill.PaymentStatus == models.PaymentSuccess:
		return bill, errs.Newf(errs.CodeFailedPrecondition, "bill %s is already paid", orderID)
	case bill.PaymentStatus == status && (txnID == "" || txnID == bill.TransactionID):
		return bill, nil
	}

	var c *cart.Cart
	if status == models.PaymentSuccess {
		c, err = e.checkingOut(bill)
		if err != nil {
			return bill, err
		}
	}

	prev := bill.PaymentStatus
	bill.PaymentStatus = status
	if txnID != "" {
		bill.TransactionID = txnID
	}
	bill.Attempts++
	bill.UpdatedAt = e.now()
	if err := e.bills.Save(ctx, bill); err != nil {
		e.logger.Error("failed to persist payment status",
			zap.String("order_id", orderID),
			zap.String("status", string(status)),
			zap.Error(err))
		return models.Bill{}, errs.Persistence("save bill", err)
	}

	e.logger.Info("payment resolved",
		zap.String("order_id", orderID),
		zap.String("from", string(prev)),
		zap.String("to", string(status)),
		zap.String("transaction_id", bill.TransactionID),
		zap.Int("attempt", bill.Attempts))

	if status != models.PaymentSuccess {
		return bill, nil
	}
	if err := c.Finalize(); err != nil {
		e.logger.Error("failed to finalize cart", zap.String("cart_id", bill.CartID), zap.Error(err))
	} else {
		e.carts.Drop(bill.CartID)
	}
	return e.dispatch(ctx, bill)
}

func (e *Engine) dispatch(ctx context.Context, bill models.Bill) (models.Bill, error) {
	if _, err := e.dispatcher.Dispatch(ctx, bill); err != nil {
		e.logger.Error("order dispatch failed", zap.String("order_id", bill.OrderID), zap.Error(err))
		return bill, err
	}
	bill.Dispatched = true
	if err := e.bills.Save(ctx, bill); err != nil {
		e.logger.Error("failed to record dispatch", zap.String("order_id", bill.OrderID), zap.Error(err))
		return bill, errs.Persistence("save bill", err)
	}
	return bill, nil
}

// checkingOut returns the bill's cart if it is still frozen under the bill.
// A cart that was reopened or released no longer backs the bill, and paying
// for it would sell stock that is not reserved.
func (e *Engine) checkingOut(bill models.Bill) (*cart.Cart, error) {
	c, err := e.carts.Get(bill.CartID)
	if err != nil {
		return nil, errs.Newf(errs.CodeFailedPrecondition, "cart for bill %s is gone", bill.OrderID)
	}
	if c.State() != cart.CheckingOut || c.OrderID() != bill.OrderID {
		return nil, errs.Newf(errs.CodeFailedPrecondition, "cart for bill %s is %s", bill.OrderID, c.State())
	}
	return c, nil
}

// Abandon gives up on an unpaid bill. A Pending bill becomes Cancelled, and
// the cart's reservation is released if the cart still backs this bill.
// Abandoning twice is a no-op.
func (e *Engine) Abandon(ctx context.Context, orderID string) (models.Bill, error) {
	unlock := e.locks.Lock("bill/" + orderID)
	defer unlock()

	bill, err := e.get(ctx, orderID)
	if err != nil {
		return models.Bill{}, err
	}
	if bill.PaymentStatus == models.PaymentSuccess {
		return bill, errs.Newf(errs.CodeFailedPrecondition, "bill %s is paid", orderID)
	}

	if bill.PaymentStatus == models.PaymentPending {
		bill.PaymentStatus = models.PaymentCancelled
		bill.UpdatedAt = e.now()
		if err := e.bills.Save(ctx, bill); err != nil {
			return models.Bill{}, errs.Persistence("save bill", err)
		}
	}

	c, err := e.carts.Get(bill.CartID)
	if err != nil {
		// Without its cart there is no reservation left to release.
		e.logger.Warn("abandoned bill has no cart", zap.String("order_id", orderID), zap.Error(err))
		return bill, nil
	}
	released, err := c.ReleaseFor(ctx, orderID)
	if err != nil {
		return bill, err
	}
	if !released {
		// The cart has moved on, e.g. to a newer bill; it is not ours to release.
		e.logger.Info("bill abandoned without releasing cart",
			zap.String("order_id", orderID),
			zap.String("cart_id", c.ID()),
			zap.String("cart_state", c.State().String()))
		return bill, nil
	}
	e.carts.Drop(c.ID())
	e.logger.Info("bill abandoned", zap.String("order_id", orderID), zap.String("status", string(bill.PaymentStatus)))
	return bill, nil
}

// Reopen unfreezes the cart of a failed or cancelled bill so the shopper
// can edit it. A Pending bill cannot be reopened.
func (e *Engine) Reopen(ctx context.Context, orderID string) (*cart.Cart, error) {
	unlock := e.locks.Lock("bill/" + orderID)
	defer unlock()

	bill, err := e.get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch bill.PaymentStatus {
	case models.PaymentPending:
		return nil, &errs.Error{Code: errs.CodePaymentUnresolved, Message: "payment for " + orderID + " is still pending"}
	case models.PaymentSuccess:
		return nil, errs.Newf(errs.CodeFailedPrecondition, "bill %s is paid", orderID)
	}

	c, err := e.checkingOut(bill)
	if err != nil {
		return nil, err
	}
	if err := c.Reopen(); err != nil {
		return nil, err
	}
	return c, nil
}

// Bill returns a bill by order id
func (e *Engine) Bill(ctx context.Context, orderID string) (models.Bill, error) {
	return e.get(ctx, orderID)
}

// Receipt is the shareable summary of a paid bill
type Receipt struct {
	models.Bill
	OrderDate  string `json:"orderDate"`
	OrderTime  string `json:"orderTime"`
	TotalItems int    `json:"totalItems"`
}

// Receipt returns the receipt of a paid bill
func (e *Engine) Receipt(ctx context.Context, orderID string) (Receipt, error) {
	bill, err := e.get(ctx, orderID)
	if err != nil {
		return Receipt{}, err
	}
	if bill.PaymentStatus != models.PaymentSuccess {
		return Receipt{}, &errs.Error{
			Code:    errs.CodePaymentUnresolved,
			Message: "bill " + orderID + " is " + string(bill.PaymentStatus),
		}
	}
	return Receipt{
		Bill:       bill,
		OrderDate:  bill.OrderDate(),
		OrderTime:  bill.OrderTime(),
		TotalItems: bill.TotalItems(),
	}, nil
}

func (e *Engine) get(ctx context.Context, orderID string) (models.Bill, error) {
	bill, err := e.bills.Get(ctx, orderID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Bill{}, errs.Newf(errs.CodeItemNotFound, "bill %s not found", orderID)
	}
	if err != nil {
		return models.Bill{}, errs.Persistence("get bill", err)
	}
	return bill, nil
}
