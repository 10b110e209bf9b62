// Package loadtest hammers the stock ledger with concurrent reservations and
// checks that no unit is sold twice.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kieracarman/canteen/internal/errs"
	"github.com/kieracarman/canteen/internal/inventory"
	"github.com/kieracarman/canteen/internal/models"
	"github.com/kieracarman/canteen/internal/storage"
)

// Floor is where load test items are created
const Floor = "loadtest"

// Tester runs a reservation race
type Tester struct {
	ledger  *inventory.Ledger
	items   storage.CatalogStore
	clients int
	stock   int
	logger  *zap.Logger
}

// Option configures a Tester
type Option func(*Tester)

// WithClients sets the number of concurrent clients
func WithClients(n int) Option {
	return func(t *Tester) { t.clients = n }
}

// WithStock sets the starting stock of the contested item
func WithStock(n int) Option {
	return func(t *Tester) { t.stock = n }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(t *Tester) {
		if l != nil {
			t.logger = l
		}
	}
}

// New creates a tester. The ledger must reserve against items.
func New(ledger *inventory.Ledger, items storage.CatalogStore, opts ...Option) *Tester {
	t := &Tester{
		ledger:  ledger,
		items:   items,
		clients: 100,
		stock:   25,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.Named("loadtest")
	return t
}

// Results holds the outcome of a run
type Results struct {
	Clients         int
	StartingStock   int
	Successes       int
	Rejections      int // insufficient stock
	Failures        int // anything else
	FinalStock      int
	TotalDuration   time.Duration
	MinResponseTime time.Duration
	MaxResponseTime time.Duration
	AvgResponseTime time.Duration
	RPS             float64
}

// Consistent reports whether every starting unit was either sold exactly
// once or is still in stock.
func (r *Results) Consistent() bool {
	return r.FinalStock >= 0 &&
		r.Successes+r.FinalStock == r.StartingStock &&
		r.Successes+r.Rejections+r.Failures == r.Clients
}

// Report writes a human readable summary
func (r *Results) Report(w io.Writer) {
	fmt.Fprintf(w, "Clients: %d, starting stock: %d\n", r.Clients, r.StartingStock)
	fmt.Fprintf(w, "- Reserved: %d\n", r.Successes)
	fmt.Fprintf(w, "- Rejected (out of stock): %d\n", r.Rejections)
	fmt.Fprintf(w, "- Failed: %d\n", r.Failures)
	fmt.Fprintf(w, "- Final stock: %d\n", r.FinalStock)
	fmt.Fprintf(w, "- Throughput: %.2f reservations/second\n", r.RPS)
	fmt.Fprintf(w, "- Response time min/avg/max: %v / %v / %v\n", r.MinResponseTime, r.AvgResponseTime, r.MaxResponseTime)
	if r.Consistent() {
		fmt.Fprintln(w, "No oversell: every unit was reserved at most once")
	} else {
		fmt.Fprintln(w, "INCONSISTENT: reservations do not add up to the starting stock")
	}
}

type attempt struct {
	err          error
	responseTime time.Duration
}

// Run creates a fresh item, lets every client reserve one unit of it at
// once, and removes the item afterwards.
func (t *Tester) Run(ctx context.Context) (*Results, error) {
	if t.clients <= 0 || t.stock < 0 {
		return nil, errs.Newf(errs.CodeInvalidArgument, "invalid load test: %d clients, stock %d", t.clients, t.stock)
	}

	item := models.MenuItem{
		ID:        uuid.NewString(),
		Name:      "Load Test " + time.Now().Format("150405.000"),
		Price:     decimal.NewFromInt(1),
		Category:  "Load Test",
		Floor:     Floor,
		Stock:     t.stock,
		UpdatedAt: time.Now().UTC(),
	}
	if err := t.items.Insert(ctx, item); err != nil {
		return nil, errs.Persistence("create load test item", err)
	}
	defer func() {
		if err := t.items.Delete(context.WithoutCancel(ctx), Floor, item.ID); err != nil {
			t.logger.Warn("failed to remove load test item", zap.String("item_id", item.ID), zap.Error(err))
		}
	}()

	t.logger.Info("load test started", zap.Int("clients", t.clients), zap.Int("stock", t.stock))

	var wg sync.WaitGroup
	ready := make(chan struct{})
	resultsChan := make(chan attempt, t.clients)

	for i := 0; i < t.clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ready

			requestStart := time.Now()
			_, err := t.ledger.Decrease(ctx, item.ID, 1)
			resultsChan <- attempt{err: err, responseTime: time.Since(requestStart)}
		}()
	}

	start := time.Now()
	close(ready)
	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	res := &Results{
		Clients:         t.clients,
		StartingStock:   t.stock,
		MinResponseTime: time.Hour,
	}
	var total time.Duration
	for a := range resultsChan {
		switch {
		case a.err == nil:
			res.Successes++
		case errors.Is(a.err, errs.ErrInsufficientStock):
			res.Rejections++
		default:
			res.Failures++
			t.logger.Warn("reservation failed", zap.Error(a.err))
		}
		res.MinResponseTime = min(res.MinResponseTime, a.responseTime)
		res.MaxResponseTime = max(res.MaxResponseTime, a.responseTime)
		total += a.responseTime
	}
	res.TotalDuration = time.Since(start)
	res.AvgResponseTime = total / time.Duration(t.clients)
	if secs := res.TotalDuration.Seconds(); secs > 0 {
		res.RPS = float64(t.clients) / secs
	}

	final, err := t.ledger.Stock(ctx, item.ID)
	if err != nil {
		return res, err
	}
	res.FinalStock = final

	t.logger.Info("load test finished",
		zap.Int("reserved", res.Successes),
		zap.Int("rejected", res.Rejections),
		zap.Int("failed", res.Failures),
		zap.Int("final_stock", final),
		zap.Bool("consistent", res.Consistent()))
	return res, nil
}
