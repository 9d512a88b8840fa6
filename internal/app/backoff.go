package app

import (
	"context"
	"time"
)

// flatRetry waits a fixed interval between attempts and never gives up.
// There is no attempt cap and no growth: connect, handshake and reconnect
// all retry forever at their configured interval.
type flatRetry struct {
	interval time.Duration
}

func newFlatRetry(interval time.Duration) flatRetry {
	return flatRetry{interval: interval}
}

// Wait sleeps for the interval or until ctx is done.
func (r flatRetry) Wait(ctx context.Context) error {
	return sleepCtx(ctx, r.interval)
}

// sleepCtx sleeps for d unless ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
