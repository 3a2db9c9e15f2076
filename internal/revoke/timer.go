package revoke

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/meghal86/smart-stake-sub001/internal/metrics"
)

// Timer periodically expires Pending operations that never reached a
// confirmation inside their TTL, freeing their idempotency keys.
type Timer struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
	now      func() time.Time
}

// NewTimer creates a revoke expiry timer.
func NewTimer(store Store, logger *slog.Logger) *Timer {
	return &Timer{
		store:    store,
		interval: 30 * time.Second,
		logger:   logger,
		stop:     make(chan struct{}),
		now:      time.Now,
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the expiry loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeSweepExpired(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeSweepExpired(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in revoke timer", "panic", fmt.Sprint(r))
		}
	}()
	t.sweepExpired(ctx)
}

// sweepExpired processes every overdue operation by paginating until
// none remain.
func (t *Timer) sweepExpired(ctx context.Context) {
	const batchSize = 100

	for {
		expired, err := t.store.ListExpired(ctx, t.now(), batchSize)
		if err != nil {
			t.logger.Error("revoke expiry sweep failed", "error", err)
			return
		}
		if len(expired) == 0 {
			return
		}

		for _, op := range expired {
			now := t.now().UTC()
			op.Status = StatusExpired
			op.CompletedAt = &now
			if err := t.store.Update(ctx, op); err != nil {
				// Lost a race with the executor; the operation
				// resolved on its own.
				continue
			}
			metrics.RevokesTotal.WithLabelValues(string(StatusExpired)).Inc()
			t.logger.Info("revoke expired", "operation", op.ID, "key", op.IdempotencyKey)
		}

		if len(expired) < batchSize {
			return
		}
	}
}
