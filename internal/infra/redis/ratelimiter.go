package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/authbatch/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	quotaKeyPrefix = "authbatch:quota:"
	quotaWindow    = time.Second
	// minQuotaWait keeps a caller from spinning when the window is about to
	// roll over.
	minQuotaWait = 5 * time.Millisecond
)

// reserveScript takes one call from the window budget. It returns 0 when the
// call may proceed, otherwise the milliseconds left until the window resets.
var reserveScript = goredis.NewScript(`
local used = redis.call("INCR", KEYS[1])
if used == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if used <= tonumber(ARGV[1]) then
  return 0
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  return tonumber(ARGV[2])
end
return ttl
`)

var _ ratelimit.RateLimiter = (*QuotaLimiter)(nil)

// QuotaLimiter shares one call budget per project and second across every
// worker process. Over-budget callers wait for the window to reset rather
// than polling.
type QuotaLimiter struct {
	client      *goredis.Client
	limitPerSec int64
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewQuotaLimiter(client *goredis.Client, limitPerSec int) (*QuotaLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		return nil, fmt.Errorf("limit per second must be positive, got %d", limitPerSec)
	}

	return &QuotaLimiter{
		client:      client,
		limitPerSec: int64(limitPerSec),
		sleep:       sleepWithContext,
	}, nil
}

func (q *QuotaLimiter) Wait(ctx context.Context, projectID string) error {
	for {
		wait, err := q.reserve(ctx, projectID)
		if err != nil {
			return err
		}
		if wait == 0 {
			return nil
		}
		if err := q.sleep(ctx, max(wait, minQuotaWait)); err != nil {
			return err
		}
	}
}

// reserve returns zero if a call was granted, or how long until the
// project's window resets.
func (q *QuotaLimiter) reserve(ctx context.Context, projectID string) (time.Duration, error) {
	if q == nil || q.client == nil {
		return 0, fmt.Errorf("quota limiter is not initialized")
	}

	scope := strings.ToLower(strings.TrimSpace(projectID))
	if scope == "" {
		return 0, fmt.Errorf("project id is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ms, err := reserveScript.Run(ctx, q.client, []string{quotaKeyPrefix + scope}, q.limitPerSec, quotaWindow.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to reserve project quota: %w", err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
