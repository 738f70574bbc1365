package relayer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/omnibridge/bridge-runtime/pkg/bridgeerr"
	"github.com/omnibridge/bridge-runtime/pkg/db"
	"github.com/omnibridge/bridge-runtime/pkg/operation"
)

// envelope is the in-process view of one OperationRecord, decoded from its
// JSONB payload column.
type envelope struct {
	record  *db.OperationRecord
	Payload operation.Payload
}

func (e *Engine) loadEnvelope(ctx context.Context, id int64) (*envelope, error) {
	rec, err := e.deps.Store.GetOperation(ctx, id)
	if err != nil {
		return nil, err
	}
	payload, err := operation.UnmarshalPayload(rec.Payload)
	if err != nil {
		return nil, bridgeerr.Serialization(err, "decode operation payload")
	}
	return &envelope{record: rec, Payload: payload}, nil
}

// variantProgressFunc advances one operation by exactly one stage step.
// Implementations live in variants.go, keyed by operation.Payload.Kind();
// this is the "variant-specific handler code" the generic engine defers
// to instead of type-switching itself.
type variantProgressFunc func(ctx context.Context, d *Deps, id int64, p operation.Payload) (operation.Payload, error)

var variantProgress = map[string]variantProgressFunc{}

func registerVariant(kind string, fn variantProgressFunc) {
	variantProgress[kind] = fn
}

// progressOperation implements the generic operation state machine:
// load, dispatch to the variant's progress function, persist the
// result, and move terminal operations into the log.
func (e *Engine) progressOperation(ctx context.Context, id int64) error {
	env, err := e.loadEnvelope(ctx, id)
	if err != nil {
		return err
	}

	fn, ok := variantProgress[env.Payload.Kind()]
	if !ok {
		return fmt.Errorf("relayer: no progress handler registered for kind %q", env.Payload.Kind())
	}

	next, err := fn(ctx, e.deps, id, env.Payload)
	if err != nil {
		return err
	}

	return e.persistNext(ctx, id, next)
}

// persistNext writes an advanced payload back to the store, moving
// terminal operations into the log and re-enqueueing live ones per their
// scheduling options.
func (e *Engine) persistNext(ctx context.Context, id int64, next operation.Payload) error {
	encoded, err := operation.MarshalPayload(next)
	if err != nil {
		return bridgeerr.Serialization(err, "encode operation payload")
	}

	if next.IsComplete() {
		if err := e.deps.Store.CompleteOperation(ctx, id, db.OperationStatusDone, encoded); err != nil {
			return err
		}
		observeOperationCompleted(next.Kind())
		e.deps.Logger.Info("operation complete", zap.Int64("operation_id", id), zap.String("kind", next.Kind()))
		return nil
	}

	if err := e.deps.Store.UpdateOperationStage(ctx, id, next.Kind(), encoded); err != nil {
		return err
	}

	return e.scheduleOperation(ctx, id, next)
}

// scheduleOperation enqueues a fresh pending_tasks row for an operation
// whose SchedulingOptions() is non-nil; a nil policy means "do not
// auto-drive" (e.g. it is waiting purely on an external event, such as a
// UTXO confirmation that collectEvmLogs or a future block-height poll
// will discover and re-enqueue).
func (e *Engine) scheduleOperation(ctx context.Context, id int64, p operation.Payload) error {
	opts := p.SchedulingOptions()
	if opts == nil {
		return nil
	}
	notBefore := time.Now()
	if opts.FixedDelayBeforeNextRun > 0 {
		notBefore = notBefore.Add(opts.FixedDelayBeforeNextRun)
	}
	return e.deps.Store.EnqueueTask(ctx, id, taskKindOperation, notBefore)
}
