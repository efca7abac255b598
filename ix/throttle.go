package ix

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttle caps document writes per second across all workers of a job.
// A nil Throttle never waits.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle returns nil for perSecond <= 0 (unlimited)
func NewThrottle(perSecond float64) *Throttle {
	if perSecond <= 0 {
		return nil
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Wait blocks until one more write is allowed or ctx is done
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}
	return t.limiter.Wait(ctx)
}
