package relayer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/omnibridge/bridge-runtime/pkg/bridgeerr"
	"github.com/omnibridge/bridge-runtime/pkg/config"
	"github.com/omnibridge/bridge-runtime/pkg/db"
	"github.com/omnibridge/bridge-runtime/pkg/operation"
)

const (
	taskKindCollectLogs   = "collect_evm_logs"
	taskKindRefreshParams = "refresh_evm_params"
	taskKindOperation     = "operation"
)

// runTask dispatches one leased pending_tasks row to the right handler and
// applies the scheduler's retry/completion policy to the outcome.
func (e *Engine) runTask(ctx context.Context, task *db.PendingTask) {
	logger := e.deps.Logger.With(zap.Int64("task_id", task.ID), zap.String("kind", task.Kind))

	var err error
	switch task.Kind {
	case taskKindCollectLogs:
		err = e.collectEvmLogs(ctx)
	case taskKindRefreshParams:
		err = e.refreshEvmParams(ctx)
	case taskKindFlushMintBatches:
		err = e.mintBatch.flushDue(ctx)
	case taskKindOperation:
		err = e.progressOperation(ctx, task.OperationID)
	default:
		logger.Warn("unknown task kind, dropping")
		_ = e.deps.Store.ReleaseTask(ctx, task.ID)
		return
	}

	if err == nil {
		if isServiceTask(task.Kind) {
			e.rescheduleServiceTask(ctx, task)
			return
		}
		if releaseErr := e.deps.Store.ReleaseTask(ctx, task.ID); releaseErr != nil {
			logger.Warn("release task failed", zap.Error(releaseErr))
		}
		return
	}

	if !bridgeerr.Retryable(err) {
		observeTaskFailure(task.Kind, "terminal")
		logger.Error("task failed with non-retryable error, dropping", zap.Error(err))
		if task.OperationID != 0 {
			_ = e.deps.Store.RecordOperationFailure(ctx, task.OperationID, err.Error())
		}
		_ = e.deps.Store.ReleaseTask(ctx, task.ID)
		return
	}

	e.retryTask(ctx, task, err, logger)
}

func isServiceTask(kind string) bool {
	return kind == taskKindCollectLogs || kind == taskKindRefreshParams || kind == taskKindFlushMintBatches
}

// rescheduleServiceTask re-enqueues the always-present service tasks
// after every successful run; a failed run is handled like any other
// task failure.
func (e *Engine) rescheduleServiceTask(ctx context.Context, task *db.PendingTask) {
	delay := e.deps.Config.Evm.PollingInterval
	switch task.Kind {
	case taskKindRefreshParams:
		delay = e.deps.Config.Evm.ParamsRefreshEvery
	case taskKindFlushMintBatches:
		delay = e.deps.Config.Bridge.ProcessingInterval
	}
	if err := e.deps.Store.RescheduleTask(ctx, task.ID, time.Now().Add(delay)); err != nil {
		e.deps.Logger.Warn("reschedule service task failed", zap.String("kind", task.Kind), zap.Error(err))
	}
}

// retryTask applies the operation's own backoff policy when available
// (falling back to the scheduler's configured default), and drops the
// task for good once max_retries is exhausted.
func (e *Engine) retryTask(ctx context.Context, task *db.PendingTask, cause error, logger *zap.Logger) {
	backoffKind := operation.BackoffFixed
	if e.deps.Config.Scheduler.DefaultBackoff == config.BackoffExponential {
		backoffKind = operation.BackoffExponential
	}
	backoff := operation.Backoff{
		Kind:         backoffKind,
		InitialDelay: e.deps.Config.Scheduler.InitialDelay,
		Multiplier:   e.deps.Config.Scheduler.Multiplier,
	}
	maxRetries := e.deps.Config.Scheduler.DefaultMaxRetries

	if task.OperationID != 0 {
		if env, err := e.loadEnvelope(ctx, task.OperationID); err == nil {
			if opts := env.Payload.SchedulingOptions(); opts != nil {
				backoff = opts.Backoff
				maxRetries = opts.MaxRetries
			}
		}
	}

	if maxRetries >= 0 && task.Attempt+1 >= maxRetries {
		observeTaskFailure(task.Kind, "exhausted")
		logger.Error("task exhausted retries, dropping", zap.Error(cause), zap.Int("attempt", task.Attempt))
		if task.OperationID != 0 {
			_ = e.deps.Store.RecordOperationFailure(ctx, task.OperationID, cause.Error())
		}
		_ = e.deps.Store.ReleaseTask(ctx, task.ID)
		return
	}

	delay := backoff.Next(task.Attempt + 1)
	observeTaskFailure(task.Kind, "retried")
	logger.Warn("task failed, retrying", zap.Error(cause), zap.Duration("delay", delay))
	if err := e.deps.Store.RescheduleTask(ctx, task.ID, time.Now().Add(delay)); err != nil {
		logger.Warn("reschedule task failed", zap.Error(err))
	}
}
