package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/authbatch/internal/observability"
	"github.com/kursadbilgin/authbatch/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultStallScanInterval = time.Minute
	defaultStallTimeout      = 6 * time.Hour
	defaultStallScanLimit    = 100
)

// StallReaper closes processing batches whose counters have not moved for
// the stall timeout, counting every unreached item as failed.
type StallReaper struct {
	batches  repository.BatchRepository
	logger   *zap.Logger
	metrics  *observability.Metrics
	interval time.Duration
	timeout  time.Duration
	limit    int
	now      func() time.Time
}

func NewStallReaper(
	batches repository.BatchRepository,
	interval time.Duration,
	timeout time.Duration,
	limit int,
	logger *zap.Logger,
) (*StallReaper, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if interval <= 0 {
		interval = defaultStallScanInterval
	}
	if timeout <= 0 {
		timeout = defaultStallTimeout
	}
	if limit <= 0 {
		limit = defaultStallScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StallReaper{
		batches:  batches,
		logger:   logger,
		interval: interval,
		timeout:  timeout,
		limit:    limit,
		now:      time.Now,
	}, nil
}

func (r *StallReaper) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

func (r *StallReaper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := r.reap(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("stall reaper initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.reap(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Error("stall reaper scan failed", zap.Error(err))
			}
		}
	}
}

func (r *StallReaper) reap(ctx context.Context) error {
	cutoff := r.now().UTC().Add(-r.timeout)

	finalized, err := r.batches.FinalizeStalled(ctx, cutoff, r.limit)
	if err != nil {
		return fmt.Errorf("failed to finalize stalled batches: %w", err)
	}

	for i := range finalized {
		b := finalized[i]
		r.logger.Warn("stalled batch finalized",
			zap.String("batchId", b.ID),
			zap.String("projectId", b.ProjectID),
			zap.String("status", b.Status.String()),
			zap.Int("totalItems", b.TotalItems),
			zap.Int("sentCount", b.SentCount),
			zap.Int("failedCount", b.FailedCount),
		)
		r.metrics.IncBatchFinished(b.Operation.String(), b.Status.String(), "reaper")
	}

	return nil
}
