package worker

import (
	"context"
	"time"

	"commerce-service/internal/util"

	"go.uber.org/zap"
)

const sweepLockKey = "sweep"

// Locker hands out a lease on a named lock. An empty token means the lock
// is held elsewhere.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// ReservationSweeper expires reservations past their deadline
type ReservationSweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// PaymentReconciler resolves payments whose callback never came
type PaymentReconciler interface {
	Reconcile(ctx context.Context, now time.Time) (int, error)
}

// SweepWorker periodically reclaims expired reservations and stuck
// payments. Only the instance holding the lock sweeps in a given tick.
type SweepWorker struct {
	locker   Locker
	stock    ReservationSweeper
	payments PaymentReconciler
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewSweepWorker creates a sweep worker. locker may be nil.
func NewSweepWorker(locker Locker, stock ReservationSweeper, payments PaymentReconciler, interval time.Duration) *SweepWorker {
	return &SweepWorker{
		locker:   locker,
		stock:    stock,
		payments: payments,
		interval: interval,
		now:      time.Now,
		logger:   util.GetLogger(),
	}
}

// Start sweeps every interval until ctx ends
func (w *SweepWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting sweep worker", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping sweep worker")
			return nil
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce runs both sweeps under the sweep lock. A lock outage does not
// stop the sweep; the row locks taken per order keep it safe.
func (w *SweepWorker) RunOnce(ctx context.Context) {
	if w.locker != nil {
		token, err := w.locker.AcquireLock(ctx, sweepLockKey, w.interval)
		switch {
		case err != nil:
			w.logger.Warn("Sweep lock unavailable, sweeping without it", zap.Error(err))
		case token == "":
			util.SweepRunsTotal.WithLabelValues("all", "skipped").Inc()
			return
		default:
			defer func() {
				if err := w.locker.ReleaseLock(context.WithoutCancel(ctx), sweepLockKey, token); err != nil {
					w.logger.Warn("Failed to release sweep lock", zap.Error(err))
				}
			}()
		}
	}

	now := w.now()
	w.run(ctx, "reservations", func() (int, error) { return w.stock.SweepExpired(ctx, now) })
	w.run(ctx, "payments", func() (int, error) { return w.payments.Reconcile(ctx, now) })
}

func (w *SweepWorker) run(ctx context.Context, task string, fn func() (int, error)) {
	if ctx.Err() != nil {
		return
	}
	n, err := fn()
	if err != nil {
		util.SweepRunsTotal.WithLabelValues(task, "error").Inc()
		w.logger.Error("Sweep failed", zap.String("task", task), zap.Error(err))
		return
	}
	util.SweepRunsTotal.WithLabelValues(task, "ok").Inc()
	if n > 0 {
		w.logger.Info("Sweep finished", zap.String("task", task), zap.Int("handled", n))
	}
}
