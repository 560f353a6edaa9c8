package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	ledgerKeyPrefix = "authbatch:chunk:"
	claimTTL        = 24 * time.Hour
)

// ChunkLedger records which chunk tasks of a batch a worker has taken, so a
// redelivered queue message does not count the same items twice. Retries of
// a task keep its id; continuations get a new one.
type ChunkLedger struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewChunkLedger(client *goredis.Client) (*ChunkLedger, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &ChunkLedger{client: client, ttl: claimTTL}, nil
}

// Claim returns false when the task was already claimed by an earlier delivery.
func (l *ChunkLedger) Claim(ctx context.Context, batchID, taskID string) (bool, error) {
	ok, err := l.client.SetNX(ctx, ledgerKey(batchID, taskID), time.Now().Unix(), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim chunk: %w", err)
	}
	return ok, nil
}

// Release drops a claim so a retried task can take it again.
// Only valid while no item of the task has been counted.
func (l *ChunkLedger) Release(ctx context.Context, batchID, taskID string) error {
	if err := l.client.Del(ctx, ledgerKey(batchID, taskID)).Err(); err != nil {
		return fmt.Errorf("redis: release chunk: %w", err)
	}
	return nil
}

func ledgerKey(batchID, taskID string) string {
	return ledgerKeyPrefix + batchID + ":" + taskID
}
