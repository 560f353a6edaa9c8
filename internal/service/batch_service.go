package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kursadbilgin/authbatch/internal/domain"
	"github.com/kursadbilgin/authbatch/internal/observability"
	"github.com/kursadbilgin/authbatch/internal/provider"
	"github.com/kursadbilgin/authbatch/internal/queue"
	"github.com/kursadbilgin/authbatch/internal/repository"
	"go.uber.org/zap"
)

const stoppedByOperator = "stopped by operator"

// StartError reports a batch that was recorded but could not be run to
// dispatch. Batch holds the record as last seen.
type StartError struct {
	Batch *domain.Batch
	Err   error
}

func (e *StartError) Error() string {
	if e.Batch == nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("batch %s: %v", e.Batch.ID, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

type BatchService struct {
	batches   repository.BatchRepository
	resolver  CredentialResolver
	providers ProviderFactory
	publisher queue.Publisher
	cfg       EngineConfig
	logger    *zap.Logger
	metrics   *observability.Metrics
	newID     func() string
}

func NewBatchService(
	batches repository.BatchRepository,
	resolver CredentialResolver,
	providers ProviderFactory,
	publisher queue.Publisher,
	cfg EngineConfig,
	logger *zap.Logger,
) (*BatchService, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("credential resolver is required")
	}
	if providers == nil {
		return nil, fmt.Errorf("provider factory is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BatchService{
		batches:   batches,
		resolver:  resolver,
		providers: providers,
		publisher: publisher,
		cfg:       cfg.normalized(),
		logger:    logger,
		newID:     uuid.NewString,
	}, nil
}

func (s *BatchService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// CreateBatch records a pending batch. Its total is fixed later by Start.
func (s *BatchService) CreateBatch(ctx context.Context, projectID string, op domain.Operation) (*domain.Batch, error) {
	if err := domain.ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	if !op.IsValid() {
		return nil, fmt.Errorf("%w: invalid operation %q", domain.ErrValidation, op)
	}

	batch := &domain.Batch{
		ID:        s.newID(),
		ProjectID: projectID,
		Operation: op,
		Status:    domain.BatchStatusPending,
	}
	if err := s.batches.Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}
	return batch, nil
}

func (s *BatchService) GetBatch(ctx context.Context, id string) (*domain.Batch, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: invalid batch id", domain.ErrValidation)
	}
	return s.batches.GetByID(ctx, id)
}

func (s *BatchService) ListBatches(ctx context.Context, params repository.ListParams) ([]domain.Batch, int64, error) {
	if params.Status != nil && !params.Status.IsValid() {
		return nil, 0, fmt.Errorf("%w: invalid status %q", domain.ErrValidation, *params.Status)
	}
	return s.batches.List(ctx, params)
}

// Stop fails a batch that has not started dispatching. Tasks already queued
// for other batches are unaffected.
func (s *BatchService) Stop(ctx context.Context, id string) (*domain.Batch, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: invalid batch id", domain.ErrValidation)
	}
	if err := s.batches.MarkFailed(ctx, id, stoppedByOperator); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("%w: only pending batches can be stopped", domain.ErrConflict)
		}
		return nil, err
	}
	return s.batches.GetByID(ctx, id)
}

// StartPasswordReset sends a reset email to every user with an email
// address, up to the enumeration cap. A template, when given, is applied
// to the project before any user is enumerated.
func (s *BatchService) StartPasswordReset(ctx context.Context, projectID string, tpl *provider.ResetTemplate) (*domain.Batch, error) {
	if tpl != nil {
		if err := tpl.Validate(); err != nil {
			return nil, err
		}
	}

	return s.run(ctx, projectID, domain.OperationPasswordReset, func(ctx context.Context, p provider.AuthProvider) ([]domain.WorkItem, error) {
		if tpl != nil {
			if err := p.UpdatePasswordResetTemplate(ctx, *tpl); err != nil {
				return nil, fmt.Errorf("failed to update reset template: %w", err)
			}
		}
		return s.enumerate(ctx, p, func(u domain.AuthUser) (domain.WorkItem, bool) {
			return domain.WorkItem{Email: u.Email}, u.Email != ""
		})
	})
}

// StartDeleteAll deletes every user of the project, up to the enumeration cap.
func (s *BatchService) StartDeleteAll(ctx context.Context, projectID string) (*domain.Batch, error) {
	return s.run(ctx, projectID, domain.OperationUserDelete, func(ctx context.Context, p provider.AuthProvider) ([]domain.WorkItem, error) {
		return s.enumerate(ctx, p, func(u domain.AuthUser) (domain.WorkItem, bool) {
			return domain.WorkItem{UID: u.UID}, u.UID != ""
		})
	})
}

// StartImport creates one user per item. The caller bounds the list.
func (s *BatchService) StartImport(ctx context.Context, projectID string, items []domain.WorkItem) (*domain.Batch, error) {
	for i := range items {
		if err := items[i].Validate(domain.OperationUserImport); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
	}

	return s.run(ctx, projectID, domain.OperationUserImport, func(context.Context, provider.AuthProvider) ([]domain.WorkItem, error) {
		return items, nil
	})
}

// ListUsers returns one page of the project's users.
func (s *BatchService) ListUsers(ctx context.Context, projectID, pageToken string, pageSize int) (*provider.UserPage, error) {
	if err := domain.ValidateProjectID(projectID); err != nil {
		return nil, err
	}

	p, err := s.providerFor(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return p.ListUsers(ctx, pageToken, pageSize)
}

type collectFunc func(ctx context.Context, p provider.AuthProvider) ([]domain.WorkItem, error)

// run creates the batch, resolves the project's credential, collects the
// work list and hands it to Start. Any failure before Start fails the batch
// without dispatching a task.
func (s *BatchService) run(ctx context.Context, projectID string, op domain.Operation, collect collectFunc) (*domain.Batch, error) {
	batch, err := s.CreateBatch(ctx, projectID, op)
	if err != nil {
		return nil, err
	}

	ctx = observability.WithBatchScope(ctx, batch.ID, projectID, "")
	logger := observability.ScopedLogger(s.logger, ctx)

	p, err := s.providerFor(ctx, projectID)
	if err != nil {
		return nil, s.fail(ctx, batch, err)
	}

	items, err := collect(ctx, p)
	if err != nil {
		return nil, s.fail(ctx, batch, err)
	}

	logger.Info("batch work list collected",
		zap.String("operation", op.String()),
		zap.Int("items", len(items)),
	)

	return s.Start(ctx, batch, items)
}

// Start fixes the batch total, partitions items and publishes one task per
// chunk. If publishing chunk k fails, chunks before k stay dispatched and
// every item from chunk k on is counted as failed so the batch still ends.
func (s *BatchService) Start(ctx context.Context, batch *domain.Batch, items []domain.WorkItem) (*domain.Batch, error) {
	if batch == nil {
		return nil, fmt.Errorf("%w: batch is required", domain.ErrValidation)
	}

	chunks, err := Partition(items, s.cfg.chunkSizeFor(batch.Operation))
	if err != nil {
		return nil, s.fail(ctx, batch, err)
	}

	started, err := s.batches.StartProcessing(ctx, batch.ID, len(items))
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("%w: batch %s is no longer pending", domain.ErrConflict, batch.ID)
		}
		return nil, fmt.Errorf("failed to start batch: %w", err)
	}

	logger := observability.ScopedLogger(s.logger, ctx)
	queueName := queue.QueueName(batch.Operation)
	if started.Status.IsTerminal() {
		s.metrics.IncBatchFinished(batch.Operation.String(), started.Status.String(), "dispatch")
	}

	for k, chunk := range chunks {
		msg := queue.ChunkMessage{
			TaskID:     s.newID(),
			BatchID:    batch.ID,
			ProjectID:  batch.ProjectID,
			Operation:  batch.Operation,
			ChunkIndex: chunk.Index,
			Attempt:    1,
			Items:      chunk.Items,
		}
		if err := s.publisher.Publish(ctx, queueName, msg); err != nil {
			undispatched := 0
			for _, rest := range chunks[k:] {
				undispatched += len(rest.Items)
			}

			logger.Error("failed to publish chunk, counting undispatched items as failed",
				zap.Int("chunkIndex", chunk.Index),
				zap.Int("undispatchedItems", undispatched),
				zap.Error(err),
			)

			updated, recErr := s.batches.RecordOutcome(context.WithoutCancel(ctx), batch.ID, 0, undispatched)
			if recErr != nil {
				logger.Error("failed to count undispatched items", zap.Error(recErr))
				updated = started
			} else if updated.Status.IsTerminal() {
				s.metrics.IncBatchFinished(batch.Operation.String(), updated.Status.String(), "dispatch")
			}
			s.metrics.AddItemsProcessed(batch.Operation.String(), 0, undispatched)

			return nil, &StartError{Batch: updated, Err: fmt.Errorf("failed to publish chunk %d: %w", chunk.Index, err)}
		}
		s.metrics.IncChunksDispatched(batch.Operation.String())
	}

	logger.Info("batch dispatched",
		zap.Int("totalItems", len(items)),
		zap.Int("chunks", len(chunks)),
	)

	return started, nil
}

// enumerate pages through the project's users until the enumeration cap.
func (s *BatchService) enumerate(ctx context.Context, p provider.AuthProvider, pick func(domain.AuthUser) (domain.WorkItem, bool)) ([]domain.WorkItem, error) {
	limit := s.cfg.EnumerationCap
	items := make([]domain.WorkItem, 0, min(limit, provider.MaxListPageSize))

	pageToken := ""
	for {
		page, err := p.ListUsers(ctx, pageToken, provider.MaxListPageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list users: %w", err)
		}

		for _, user := range page.Users {
			item, ok := pick(user)
			if !ok {
				continue
			}
			items = append(items, item)
			if len(items) >= limit {
				return items, nil
			}
		}

		if page.NextPageToken == "" || page.NextPageToken == pageToken {
			return items, nil
		}
		pageToken = page.NextPageToken
	}
}

func (s *BatchService) providerFor(ctx context.Context, projectID string) (provider.AuthProvider, error) {
	cred, err := s.resolver.Resolve(ctx, projectID)
	if err != nil {
		return nil, err
	}

	p, err := s.providers.ForProject(ctx, *cred)
	if err != nil {
		return nil, fmt.Errorf("failed to build auth provider: %w", err)
	}
	return p, nil
}

// fail marks a pending batch failed with cause as its error marker.
func (s *BatchService) fail(ctx context.Context, batch *domain.Batch, cause error) error {
	logger := observability.ScopedLogger(s.logger, ctx)
	logger.Error("batch failed before dispatch", zap.Error(cause))

	if err := s.batches.MarkFailed(context.WithoutCancel(ctx), batch.ID, cause.Error()); err != nil {
		logger.Error("failed to mark batch as failed", zap.Error(err))
		return &StartError{Batch: batch, Err: cause}
	}

	failed := *batch
	reason := cause.Error()
	failed.Status = domain.BatchStatusFailed
	failed.TotalItems = 0
	failed.ErrorMessage = &reason
	return &StartError{Batch: &failed, Err: cause}
}
