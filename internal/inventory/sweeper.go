package inventory

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kieracarman/canteen/internal/errs"
	"github.com/kieracarman/canteen/internal/models"
	"github.com/kieracarman/canteen/internal/storage"
)

// SaveSnapshot persists a cart's reservation when it loses foreground
func (lg *Ledger) SaveSnapshot(ctx context.Context, snap models.CartSnapshot) error {
	if snap.CartID == "" {
		return errs.InvalidArgument("snapshot needs a cart id")
	}
	if snap.SavedAt.IsZero() {
		snap.SavedAt = lg.now().UTC()
	}
	if err := lg.snapshots.Put(ctx, snap); err != nil {
		lg.logger.Error("failed to persist cart snapshot", zap.String("cart_id", snap.CartID), zap.Error(err))
		return errs.Persistence("save snapshot", err)
	}
	lg.logger.Info("cart snapshot saved",
		zap.String("cart_id", snap.CartID),
		zap.Int("lines", len(snap.Lines)),
		zap.Time("saved_at", snap.SavedAt))
	return nil
}

// ClaimSnapshot removes a cart's snapshot. ok is false when there was none,
// for example because the sweeper already restored it.
func (lg *Ledger) ClaimSnapshot(ctx context.Context, cartID string) (snap models.CartSnapshot, ok bool, err error) {
	snap, err = lg.snapshots.Take(ctx, cartID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.CartSnapshot{}, false, nil
	}
	if err != nil {
		return models.CartSnapshot{}, false, errs.Persistence("claim snapshot", err)
	}
	return snap, true, nil
}

// RestoreAbandoned restores stock for every snapshot saved before
// now minus the abandon timeout and discards it. A snapshot is claimed
// before its lines are restored, so each is restored at most once even
// when a cart resumes concurrently. It returns the number restored.
func (lg *Ledger) RestoreAbandoned(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-lg.timeout)
	stale, err := lg.snapshots.OlderThan(ctx, cutoff)
	if err != nil {
		return 0, errs.Persistence("list snapshots", err)
	}

	restored := 0
	var errList []error
	for _, candidate := range stale {
		snap, ok, err := lg.ClaimSnapshot(ctx, candidate.CartID)
		if err != nil {
			errList = append(errList, err)
			continue
		}
		if !ok {
			continue
		}

		remaining, err := lg.RestoreLines(ctx, snap.Lines)
		if err != nil {
			// Put back what was not restored so the next sweep retries it.
			snap.Lines = remaining
			if putErr := lg.snapshots.Put(ctx, snap); putErr != nil {
				lg.logger.Error("failed to requeue partially restored snapshot",
					zap.String("cart_id", snap.CartID),
					zap.Int("lines", len(remaining)),
					zap.Error(putErr))
			}
			errList = append(errList, err)
			continue
		}

		restored++
		lg.logger.Info("abandoned cart restored",
			zap.String("cart_id", snap.CartID),
			zap.Int("lines", len(snap.Lines)),
			zap.Duration("age", now.Sub(snap.SavedAt)))
	}
	return restored, errors.Join(errList...)
}

// RepairNegativeStock sets any negative stock to zero. Under correct use it
// never finds anything; every repair is logged as a warning.
func (lg *Ledger) RepairNegativeStock(ctx context.Context) (int, error) {
	items, err := lg.items.ListAll(ctx)
	if err != nil {
		return 0, errs.Persistence("list items", err)
	}

	repaired := 0
	for _, item := range items {
		if item.Stock >= 0 {
			continue
		}
		if _, err := lg.items.SetStock(ctx, item.ID, 0); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return repaired, errs.Persistence("repair stock", err)
		}
		repaired++
		lg.invalidate(item.Floor)
		lg.logger.Warn("repaired negative stock",
			zap.String("item_id", item.ID),
			zap.String("floor", item.Floor),
			zap.Int("was", item.Stock))
	}
	return repaired, nil
}

// Sweep runs the abandoned-cart restoration and the negative-stock repair
func (lg *Ledger) Sweep(ctx context.Context) {
	if n, err := lg.RestoreAbandoned(ctx, lg.now()); err != nil {
		lg.logger.Error("abandoned cart sweep failed", zap.Int("restored", n), zap.Error(err))
	} else if n > 0 {
		lg.logger.Info("abandoned cart sweep", zap.Int("restored", n))
	}
	if _, err := lg.RepairNegativeStock(ctx); err != nil {
		lg.logger.Error("stock repair failed", zap.Error(err))
	}
}

// StartSweeper starts the background sweep loop
func (lg *Ledger) StartSweeper() {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	if lg.running {
		return
	}
	lg.ctx, lg.cancel = context.WithCancel(context.Background())
	lg.running = true

	lg.wg.Add(1)
	go func(ctx context.Context) {
		defer lg.wg.Done()
		ticker := time.NewTicker(lg.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				lg.Sweep(ctx)
			case <-ctx.Done():
				return
			}
		}
	}(lg.ctx)

	lg.logger.Info("sweeper started",
		zap.Duration("interval", lg.interval),
		zap.Duration("abandon_timeout", lg.timeout))
}

// Stop stops the sweeper and waits for an in-flight sweep to finish
func (lg *Ledger) Stop() {
	lg.mu.Lock()
	if !lg.running {
		lg.mu.Unlock()
		return
	}
	lg.running = false
	lg.cancel()
	lg.mu.Unlock()

	lg.wg.Wait()
	lg.logger.Info("sweeper stopped")
}
