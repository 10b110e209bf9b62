// Package notify splits a paid bill into per-floor order records and hands
// each to the floor owner's alerting channel. It also carries the owner-side
// order operations: mark ready, complete and clear.
package notify

import (
	"context"
	"errors"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kieracarman/canteen/internal/errs"
	"github.com/kieracarman/canteen/internal/lockmap"
	"github.com/kieracarman/canteen/internal/models"
	"github.com/kieracarman/canteen/internal/storage"
)

// Alerter delivers an order record to a floor owner
type Alerter interface {
	Alert(ctx context.Context, rec models.OrderRecord) error
}

// AlerterFunc adapts a function to Alerter
type AlerterFunc func(ctx context.Context, rec models.OrderRecord) error

// Alert calls f
func (f AlerterFunc) Alert(ctx context.Context, rec models.OrderRecord) error {
	return f(ctx, rec)
}

// LogAlerter writes each order to the log
type LogAlerter struct {
	logger *zap.Logger
}

// NewLogAlerter creates a LogAlerter
func NewLogAlerter(logger *zap.Logger) *LogAlerter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogAlerter{logger: logger.Named("alert")}
}

// Alert logs rec
func (a *LogAlerter) Alert(_ context.Context, rec models.OrderRecord) error {
	a.logger.Info("new order for floor",
		zap.String("floor", rec.Floor),
		zap.String("order_id", rec.OrderID),
		zap.String("customer", rec.CustomerName),
		zap.Int("items", rec.TotalItems),
		zap.String("amount", rec.TotalAmount.StringFixed(2)))
	return nil
}

// Fanout delivers to every alerter in turn
type Fanout []Alerter

// Alert calls each alerter and joins their errors
func (f Fanout) Alert(ctx context.Context, rec models.OrderRecord) error {
	var errList []error
	for _, a := range f {
		if err := a.Alert(ctx, rec); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

// Dispatcher builds and stores floor order records
type Dispatcher struct {
	orders  storage.OrderStore
	alerter Alerter
	locks   *lockmap.Map
	logger  *zap.Logger
}

// New creates a dispatcher. A nil alerter only stores records.
func New(orders storage.OrderStore, alerter Alerter, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if alerter == nil {
		alerter = Fanout(nil)
	}
	return &Dispatcher{
		orders:  orders,
		alerter: alerter,
		locks:   lockmap.New(),
		logger:  logger.Named("notify"),
	}
}

// Dispatch partitions a successful bill by floor and delivers one order
// record per floor. Records are keyed by floor and order id, so dispatching
// the same bill again rewrites them without resetting their status.
func (d *Dispatcher) Dispatch(ctx context.Context, bill models.Bill) ([]models.OrderRecord, error) {
	if bill.PaymentStatus != models.PaymentSuccess {
		return nil, errs.Newf(errs.CodeFailedPrecondition, "bill %s is %s, not paid", bill.OrderID, bill.PaymentStatus)
	}

	records := Partition(bill)
	for i, rec := range records {
		stored, err := d.store(ctx, rec)
		if err != nil {
			return nil, err
		}
		records[i] = stored
	}

	var errList []error
	for _, rec := range records {
		if err := d.alerter.Alert(ctx, rec); err != nil {
			d.logger.Warn("failed to alert floor owner",
				zap.String("floor", rec.Floor),
				zap.String("order_id", rec.OrderID),
				zap.Error(err))
			errList = append(errList, err)
		}
	}
	if err := errors.Join(errList...); err != nil {
		return records, errs.Persistence("alert floor owner", err)
	}

	d.logger.Info("order dispatched", zap.String("order_id", bill.OrderID), zap.Int("floors", len(records)))
	return records, nil
}

func (d *Dispatcher) store(ctx context.Context, rec models.OrderRecord) (models.OrderRecord, error) {
	unlock := d.locks.Lock(rec.Floor + "/" + rec.OrderID)
	defer unlock()

	existing, err := d.orders.Get(ctx, rec.Floor, rec.OrderID)
	switch {
	case err == nil:
		rec.Status = existing.Status
		rec.CreatedAt = existing.CreatedAt
	case !errors.Is(err, storage.ErrNotFound):
		return models.OrderRecord{}, errs.Persistence("get order", err)
	}

	if err := d.orders.Upsert(ctx, rec); err != nil {
		d.logger.Error("failed to persist order record",
			zap.String("floor", rec.Floor),
			zap.String("order_id", rec.OrderID),
			zap.Error(err))
		return models.OrderRecord{}, errs.Persistence("save order", err)
	}
	return rec, nil
}

// Partition builds one New order record per floor of the bill, in the
// order floors first appear among its lines.
func Partition(bill models.Bill) []models.OrderRecord {
	floors := models.FloorsOf(bill.Items)
	records := make([]models.OrderRecord, 0, len(floors))
	for _, floor := range floors {
		rec := models.OrderRecord{
			OrderID:       bill.OrderID,
			Floor:         floor,
			CustomerName:  bill.CustomerName,
			TotalAmount:   decimal.Zero,
			PaymentStatus: bill.PaymentStatus,
			TransactionID: bill.TransactionID,
			Status:        models.OrderNew,
			CreatedAt:     bill.UpdatedAt,
		}
		for _, l := range bill.Items {
			if l.Floor != floor {
				continue
			}
			total := l.LineTotal()
			rec.Items = append(rec.Items, models.OrderItem{
				ItemID:   l.ItemID,
				Name:     l.Name,
				Quantity: l.Quantity,
				Price:    l.Price,
				Total:    total,
			})
			rec.TotalAmount = rec.TotalAmount.Add(total)
			rec.TotalItems += l.Quantity
		}
		records = append(records, rec)
	}
	return records
}

// Orders returns a floor's orders, oldest first
func (d *Dispatcher) Orders(ctx context.Context, floor string) ([]models.OrderRecord, error) {
	recs, err := d.orders.ListFloor(ctx, floor)
	if err != nil {
		return nil, errs.Persistence("list orders", err)
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
	return recs, nil
}

// MarkReady moves an order to Ready. Marking a Ready order again is a no-op.
func (d *Dispatcher) MarkReady(ctx context.Context, floor, orderID string) (models.OrderRecord, error) {
	unlock := d.locks.Lock(floor + "/" + orderID)
	defer unlock()

	rec, err := d.orders.Get(ctx, floor, orderID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.OrderRecord{}, errs.Newf(errs.CodeItemNotFound, "order %s not found on %s", orderID, floor)
	}
	if err != nil {
		return models.OrderRecord{}, errs.Persistence("get order", err)
	}
	if rec.Status == models.OrderReady {
		return rec, nil
	}

	rec.Status = models.OrderReady
	if err := d.orders.Upsert(ctx, rec); err != nil {
		return models.OrderRecord{}, errs.Persistence("save order", err)
	}
	d.logger.Info("order ready", zap.String("floor", floor), zap.String("order_id", orderID))
	return rec, nil
}

// Complete removes a fulfilled order
func (d *Dispatcher) Complete(ctx context.Context, floor, orderID string) error {
	unlock := d.locks.Lock(floor + "/" + orderID)
	defer unlock()

	err := d.orders.Delete(ctx, floor, orderID)
	if errors.Is(err, storage.ErrNotFound) {
		return errs.Newf(errs.CodeItemNotFound, "order %s not found on %s", orderID, floor)
	}
	if err != nil {
		return errs.Persistence("delete order", err)
	}
	d.logger.Info("order completed", zap.String("floor", floor), zap.String("order_id", orderID))
	return nil
}

// PendingCount returns the number of orders on floor not yet ready
func (d *Dispatcher) PendingCount(ctx context.Context, floor string) (int, error) {
	recs, err := d.orders.ListFloor(ctx, floor)
	if err != nil {
		return 0, errs.Persistence("list orders", err)
	}
	n := 0
	for _, rec := range recs {
		if rec.Status == models.OrderNew {
			n++
		}
	}
	return n, nil
}

// ClearFloor removes every order on floor and returns how many there were
func (d *Dispatcher) ClearFloor(ctx context.Context, floor string) (int, error) {
	n, err := d.orders.DeleteFloor(ctx, floor)
	if err != nil {
		return 0, errs.Persistence("clear orders", err)
	}
	d.logger.Info("floor orders cleared", zap.String("floor", floor), zap.Int("orders", n))
	return n, nil
}
