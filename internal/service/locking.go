package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rental/internal/lock"
	"rental/internal/metrics"
)

// assetGuard runs check-then-act sections under the per-asset lock.
type assetGuard struct {
	locker   lock.Locker
	timeouts Timeouts
	metrics  *metrics.Metrics
}

// withLock acquires key and runs fn. Once the lock is granted fn runs on a
// context detached from the caller's cancellation, bounded by the operation
// timeout, so a client disconnect never leaves a half-applied transition.
func (g assetGuard) withLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	acquireCtx, cancel := context.WithTimeout(ctx, g.timeouts.LockAcquire)
	start := time.Now()
	release, err := g.locker.Acquire(acquireCtx, key)
	cancel()
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			g.metrics.LockTimedOut()
		}
		return fmt.Errorf("%w: lock %s: %w", ErrUnavailable, key, err)
	}
	defer release()
	g.metrics.LockAcquired(time.Since(start))

	opCtx, opCancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeouts.Operation)
	defer opCancel()
	return fn(opCtx)
}

func assetKey(assetID string) string {
	return "asset:" + assetID
}
