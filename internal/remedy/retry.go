package remedy

import (
	"context"
	"time"

	"github.com/probestack/medic/internal/models"
)

// backoffDelay computes the pause before retry attempt n (1-based), growing
// exponentially from BaseDelay and capped at MaxDelay. With jitter enabled
// the delay is scaled by a random factor in [0.5, 1.0).
func backoffDelay(cfg models.RetryConfig, attempt int, random func() float64) time.Duration {
	delay := float64(cfg.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= cfg.ExponentialBase
	}
	if limit := float64(cfg.MaxDelay); delay > limit {
		delay = limit
	}
	if cfg.Jitter && random != nil {
		delay *= 0.5 + random()*0.5
	}
	return time.Duration(delay)
}

// sleepCtx pauses for d unless the context is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
