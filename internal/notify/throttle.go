package notify

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/rzpsarthak13/docbridge/internal/core"
)

// Throttled rate-limits the publishes of a notifier. Bursts of schema
// mutations wait for a token instead of flooding the channel.
type Throttled struct {
	core.SchemaNotifier
	limiter *rate.Limiter
}

// NewThrottled wraps n with perSecond tokens and the given burst.
func NewThrottled(n core.SchemaNotifier, perSecond float64, burst int) *Throttled {
	if burst < 1 {
		burst = 1
	}
	return &Throttled{SchemaNotifier: n, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Publish waits for a token, then publishes.
func (t *Throttled) Publish(ctx context.Context, event core.SchemaChangeEvent) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("schema change publish throttled: %w", err)
	}
	return t.SchemaNotifier.Publish(ctx, event)
}
