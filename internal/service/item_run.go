package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/authbatch/internal/domain"
	"github.com/kursadbilgin/authbatch/internal/observability"
	"github.com/kursadbilgin/authbatch/internal/provider"
	"github.com/kursadbilgin/authbatch/internal/queue"
	"go.uber.org/zap"
)

const finalFlushAttempts = 3

// errQuotaInterrupted marks a call abandoned while waiting for quota, before
// anything was sent upstream.
var errQuotaInterrupted = errors.New("quota wait interrupted")

// itemRun executes the items of one chunk task in order. Outcomes are
// written after every call; a failed write is carried into the next one.
type itemRun struct {
	worker   *WorkerService
	msg      queue.ChunkMessage
	provider provider.AuthProvider
	logger   *zap.Logger

	pendingSent   int
	pendingFailed int
	// detached is set once the batch stops accepting outcomes.
	detached bool
}

func newItemRun(worker *WorkerService, msg queue.ChunkMessage, p provider.AuthProvider) *itemRun {
	return &itemRun{
		worker:   worker,
		msg:      msg,
		provider: p,
		logger:   worker.logger,
	}
}

// execute returns the items it did not reach because ctx ended.
func (r *itemRun) execute(ctx context.Context) []domain.WorkItem {
	r.logger = observability.ScopedLogger(r.worker.logger, ctx)

	if r.msg.Operation == domain.OperationUserDelete && r.worker.cfg.UseBatchDelete {
		return r.executeBatchDelete(ctx)
	}

	delay := r.worker.cfg.delayFor(r.msg.Operation)
	items := r.msg.Items
	for i, item := range items {
		if r.detached {
			return nil
		}
		if i > 0 {
			if err := r.worker.sleep(ctx, delay); err != nil {
				return items[i:]
			}
		}
		if ctx.Err() != nil {
			return items[i:]
		}

		err := r.call(ctx, item)
		if errors.Is(err, errQuotaInterrupted) && ctx.Err() != nil {
			return items[i:]
		}
		r.record(ctx, item, err)
	}
	return nil
}

func (r *itemRun) executeBatchDelete(ctx context.Context) []domain.WorkItem {
	delay := r.worker.cfg.RiskyCallDelay
	items := r.msg.Items

	for start := 0; start < len(items); start += provider.MaxDeleteBatch {
		if r.detached {
			return nil
		}
		if start > 0 {
			if err := r.worker.sleep(ctx, delay); err != nil {
				return items[start:]
			}
		}
		if ctx.Err() != nil {
			return items[start:]
		}

		end := min(start+provider.MaxDeleteBatch, len(items))
		sub := items[start:end]
		uids := make([]string, len(sub))
		for i := range sub {
			uids[i] = sub[i].UID
		}

		sent, failed, err := r.deleteUsers(ctx, uids)
		if errors.Is(err, errQuotaInterrupted) && ctx.Err() != nil {
			return items[start:]
		}
		r.pendingSent += sent
		r.pendingFailed += failed
		r.flush(ctx)
	}
	return nil
}

// deleteUsers returns the sent and failed counts of one upstream batch call.
// The error is non-nil only when the call was never made.
func (r *itemRun) deleteUsers(ctx context.Context, uids []string) (int, int, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.worker.cfg.ProviderTimeout)
	defer cancel()

	if err := r.waitQuota(callCtx); err != nil {
		if ctx.Err() == nil {
			r.logger.Error("batch delete failed", zap.Int("uids", len(uids)), zap.Error(err))
			return 0, len(uids), nil
		}
		return 0, 0, err
	}

	start := r.worker.now()
	result, err := r.provider.DeleteUsers(callCtx, uids)
	r.worker.metrics.ObserveProviderCall(r.msg.Operation.String(), r.worker.now().Sub(start))
	if err != nil {
		r.logger.Error("batch delete failed", zap.Int("uids", len(uids)), zap.Error(err))
		return 0, len(uids), nil
	}

	for _, e := range result.Errors {
		r.logger.Warn("user delete failed",
			zap.String("uid", e.UID),
			zap.Int("index", e.Index),
			zap.String("reason", e.Reason),
		)
	}

	// Anything upstream did not report as deleted counts as failed.
	sent := min(max(result.SuccessCount, 0), len(uids))
	return sent, len(uids) - sent, nil
}

func (r *itemRun) call(ctx context.Context, item domain.WorkItem) error {
	callCtx, cancel := context.WithTimeout(ctx, r.worker.cfg.ProviderTimeout)
	defer cancel()

	if err := r.waitQuota(callCtx); err != nil {
		return err
	}

	start := r.worker.now()
	var err error
	switch r.msg.Operation {
	case domain.OperationPasswordReset:
		err = r.provider.SendPasswordResetLink(callCtx, item.Email)
	case domain.OperationUserImport:
		_, err = r.provider.CreateUser(callCtx, item)
	case domain.OperationUserDelete:
		err = r.provider.DeleteUser(callCtx, item.UID)
	default:
		err = fmt.Errorf("%w: unsupported operation %q", domain.ErrValidation, r.msg.Operation)
	}
	r.worker.metrics.ObserveProviderCall(r.msg.Operation.String(), r.worker.now().Sub(start))

	return err
}

// waitQuota blocks on the shared project quota. A limiter outage does not
// stop the task; the fixed inter-call delay still applies.
func (r *itemRun) waitQuota(ctx context.Context) error {
	err := r.worker.rateLimiter.Wait(ctx, r.msg.ProjectID)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", errQuotaInterrupted, err)
	}
	r.logger.Warn("quota limiter unavailable, continuing", zap.Error(err))
	return nil
}

func (r *itemRun) record(ctx context.Context, item domain.WorkItem, err error) {
	if err == nil {
		r.pendingSent++
	} else {
		r.pendingFailed++
		r.logger.Error("item failed",
			zap.String("operation", r.msg.Operation.String()),
			zap.String("item", item.Key()),
			zap.Bool("transient", provider.IsTransient(err)),
			zap.Error(err),
		)
	}
	r.flush(ctx)
}

// flush writes the carried outcomes. It reports whether nothing is left over.
func (r *itemRun) flush(ctx context.Context) bool {
	if r.pendingSent == 0 && r.pendingFailed == 0 {
		return true
	}

	updated, err := r.worker.batches.RecordOutcome(context.WithoutCancel(ctx), r.msg.BatchID, r.pendingSent, r.pendingFailed)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn("batch no longer accepts outcomes, stopping task",
				zap.Int("droppedSent", r.pendingSent),
				zap.Int("droppedFailed", r.pendingFailed),
				zap.Error(err),
			)
			r.pendingSent, r.pendingFailed = 0, 0
			r.detached = true
			return true
		}

		r.logger.Warn("failed to record outcome, carrying it forward",
			zap.Int("pendingSent", r.pendingSent),
			zap.Int("pendingFailed", r.pendingFailed),
			zap.Error(err),
		)
		return false
	}

	r.worker.metrics.AddItemsProcessed(r.msg.Operation.String(), r.pendingSent, r.pendingFailed)
	r.pendingSent, r.pendingFailed = 0, 0

	if updated != nil && updated.Status.IsTerminal() {
		r.worker.metrics.IncBatchFinished(r.msg.Operation.String(), updated.Status.String(), "outcome")
		r.logger.Info("batch finished",
			zap.String("status", updated.Status.String()),
			zap.Int("totalItems", updated.TotalItems),
			zap.Int("sentCount", updated.SentCount),
			zap.Int("failedCount", updated.FailedCount),
		)
	}
	return true
}

// finish retries writing carried outcomes. Anything still unwritten is left
// for the stall reaper.
func (r *itemRun) finish(ctx context.Context) {
	bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()

	backoff := 100 * time.Millisecond
	for attempt := 1; attempt <= finalFlushAttempts; attempt++ {
		if r.flush(bgCtx) {
			return
		}
		if attempt == finalFlushAttempts {
			break
		}
		if err := r.worker.sleep(bgCtx, backoff); err != nil {
			break
		}
		backoff *= 2
	}

	r.logger.Error("outcomes could not be recorded",
		zap.Int("lostSent", r.pendingSent),
		zap.Int("lostFailed", r.pendingFailed),
	)
}
