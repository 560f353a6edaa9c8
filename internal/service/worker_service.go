package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/authbatch/internal/domain"
	"github.com/kursadbilgin/authbatch/internal/observability"
	"github.com/kursadbilgin/authbatch/internal/queue"
	"github.com/kursadbilgin/authbatch/internal/ratelimit"
	"github.com/kursadbilgin/authbatch/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency = 1
	baseRetryDelay       = time.Second
	maxRetryDelay        = time.Minute
	maxRetryJitter       = 250 * time.Millisecond

	// shutdownGrace bounds the bookkeeping a task does after its context ends.
	shutdownGrace = 10 * time.Second
)

// WorkerService consumes chunk tasks and runs their items against the
// project's auth provider.
type WorkerService struct {
	batches     repository.BatchRepository
	consumer    queue.Consumer
	publisher   queue.Publisher
	resolver    CredentialResolver
	providers   ProviderFactory
	ledger      TaskLedger
	rateLimiter ratelimit.RateLimiter
	cfg         EngineConfig
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
	now         func() time.Time
	randIntn    func(n int) int
	sleep       func(ctx context.Context, d time.Duration) error
	newID       func() string
}

func NewWorkerService(
	batches repository.BatchRepository,
	consumer queue.Consumer,
	publisher queue.Publisher,
	resolver CredentialResolver,
	providers ProviderFactory,
	ledger TaskLedger,
	rateLimiter ratelimit.RateLimiter,
	cfg EngineConfig,
	concurrency int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("credential resolver is required")
	}
	if providers == nil {
		return nil, fmt.Errorf("provider factory is required")
	}
	if rateLimiter == nil {
		rateLimiter = ratelimit.Unlimited{}
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		batches:     batches,
		consumer:    consumer,
		publisher:   publisher,
		resolver:    resolver,
		providers:   providers,
		ledger:      ledger,
		rateLimiter: rateLimiter,
		cfg:         cfg.normalized(),
		logger:      logger,
		concurrency: concurrency,
		now:         time.Now,
		randIntn:    rand.Intn,
		sleep:       sleepContext,
		newID:       uuid.NewString,
	}, nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start consumes every operation queue until ctx ends. Consumers are spread
// across the queues; each queue gets at least one.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.consumer == nil {
		return fmt.Errorf("consumer is required")
	}

	plan := consumerPlan(queue.WorkQueueNames(), s.concurrency)
	if len(plan) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for _, queueName := range plan {
		queueName := queueName
		g.Go(func() error {
			return s.consume(groupCtx, queueName)
		})
	}

	s.logger.Info("worker consuming",
		zap.Strings("queues", queue.WorkQueueNames()),
		zap.Int("consumers", len(plan)),
	)
	return g.Wait()
}

func (s *WorkerService) consume(ctx context.Context, queueName string) error {
	if err := s.consumer.Consume(ctx, queueName, s.processMessage); err != nil {
		s.logger.Error("queue consumer failed", zap.String("queue", queueName), zap.Error(err))
		return fmt.Errorf("consume %s: %w", queueName, err)
	}
	return nil
}

// consumerPlan assigns consumers round-robin so every queue is served.
func consumerPlan(queues []string, concurrency int) []string {
	if len(queues) == 0 {
		return nil
	}

	plan := make([]string, max(concurrency, len(queues)))
	for i := range plan {
		plan[i] = queues[i%len(queues)]
	}
	return plan
}

// processMessage runs one chunk task. A returned error requeues the message.
func (s *WorkerService) processMessage(ctx context.Context, msg queue.ChunkMessage) error {
	ctx = observability.WithBatchScope(ctx, msg.BatchID, msg.ProjectID, msg.TaskID)
	logger := observability.ScopedLogger(s.logger, ctx)

	if s.ledger != nil {
		claimed, err := s.ledger.Claim(ctx, msg.BatchID, msg.TaskID)
		if err != nil {
			return fmt.Errorf("failed to claim task: %w", err)
		}
		if !claimed {
			logger.Warn("duplicate task delivery skipped",
				zap.Int("chunkIndex", msg.ChunkIndex),
				zap.Int("attempt", msg.Attempt),
			)
			return nil
		}
	}

	op := msg.Operation.String()
	s.metrics.IncWorkerInFlight(op)
	defer s.metrics.DecWorkerInFlight(op)

	cred, err := s.resolver.Resolve(ctx, msg.ProjectID)
	if err != nil {
		return s.handleTaskFailure(ctx, msg, fmt.Errorf("credential resolution failed: %w", err))
	}

	p, err := s.providers.ForProject(ctx, *cred)
	if err != nil {
		return s.handleTaskFailure(ctx, msg, fmt.Errorf("provider construction failed: %w", err))
	}

	run := newItemRun(s, msg, p)
	remaining := run.execute(ctx)
	run.finish(ctx)

	if len(remaining) > 0 {
		s.continueLater(ctx, msg, remaining)
	}

	return nil
}

// handleTaskFailure retries a task that failed before its first item, and
// counts the whole chunk as failed once attempts are exhausted.
func (s *WorkerService) handleTaskFailure(ctx context.Context, msg queue.ChunkMessage, cause error) error {
	logger := observability.ScopedLogger(s.logger, ctx)
	op := msg.Operation.String()

	if msg.Attempt < s.cfg.MaxTaskAttempts {
		delay := s.computeRetryDelay(msg.Attempt)
		logger.Warn("task failed before processing, retrying",
			zap.Int("attempt", msg.Attempt),
			zap.Int("maxAttempts", s.cfg.MaxTaskAttempts),
			zap.Duration("delay", delay),
			zap.Error(cause),
		)

		if err := s.sleep(ctx, delay); err != nil {
			s.releaseClaim(ctx, msg)
			return fmt.Errorf("retry wait interrupted: %w", err)
		}

		// The retry keeps the task id, so the claim must be gone before it
		// can be delivered.
		s.releaseClaim(ctx, msg)
		if err := s.publisher.Publish(ctx, queue.QueueName(msg.Operation), msg.NextAttempt()); err != nil {
			return fmt.Errorf("failed to republish task: %w", err)
		}
		s.metrics.IncTaskRetry(op)
		return nil
	}

	logger.Error("task abandoned, counting chunk as failed",
		zap.Int("attempt", msg.Attempt),
		zap.Int("items", len(msg.Items)),
		zap.Error(cause),
	)
	s.metrics.IncChunksAbandoned(op)

	if _, err := s.batches.RecordOutcome(context.WithoutCancel(ctx), msg.BatchID, 0, len(msg.Items)); err != nil {
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
			logger.Warn("abandoned chunk not counted, batch no longer processing", zap.Error(err))
			return nil
		}
		s.releaseClaim(ctx, msg)
		return fmt.Errorf("failed to count abandoned chunk: %w", err)
	}
	s.metrics.AddItemsProcessed(op, 0, len(msg.Items))
	return nil
}

// continueLater publishes the items a shutting-down task did not reach as a
// new task. If that fails the items are counted as failed.
func (s *WorkerService) continueLater(ctx context.Context, msg queue.ChunkMessage, remaining []domain.WorkItem) {
	logger := observability.ScopedLogger(s.logger, ctx)

	bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()

	next := msg
	next.TaskID = s.newID()
	next.Attempt = 1
	next.Items = remaining

	err := s.publisher.Publish(bgCtx, queue.QueueName(msg.Operation), next)
	if err == nil {
		logger.Info("task interrupted, remaining items requeued",
			zap.String("continuationTaskId", next.TaskID),
			zap.Int("items", len(remaining)),
		)
		return
	}

	logger.Error("failed to requeue remaining items, counting them as failed",
		zap.Int("items", len(remaining)),
		zap.Error(err),
	)
	if _, recErr := s.batches.RecordOutcome(bgCtx, msg.BatchID, 0, len(remaining)); recErr != nil {
		logger.Error("failed to count unreached items", zap.Error(recErr))
		return
	}
	s.metrics.AddItemsProcessed(msg.Operation.String(), 0, len(remaining))
}

func (s *WorkerService) releaseClaim(ctx context.Context, msg queue.ChunkMessage) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.Release(context.WithoutCancel(ctx), msg.BatchID, msg.TaskID); err != nil {
		observability.ScopedLogger(s.logger, ctx).Warn("failed to release task claim", zap.Error(err))
	}
}

// computeRetryDelay doubles from baseRetryDelay per attempt, capped at
// maxRetryDelay, plus up to maxRetryJitter.
func (s *WorkerService) computeRetryDelay(attempt int) time.Duration {
	shift := min(max(attempt-1, 0), 6)
	delay := min(baseRetryDelay<<shift, maxRetryDelay)

	if s.randIntn != nil {
		delay += time.Duration(s.randIntn(int(maxRetryJitter/time.Millisecond)+1)) * time.Millisecond
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
