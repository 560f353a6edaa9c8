package ratelimit

import "context"

// RateLimiter caps upstream calls per second for a scope such as a project.
type RateLimiter interface {
	Wait(ctx context.Context, scope string) error
}

// Unlimited never blocks. It stands in when no quota is configured.
type Unlimited struct{}

var _ RateLimiter = Unlimited{}

func (Unlimited) Wait(ctx context.Context, _ string) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
