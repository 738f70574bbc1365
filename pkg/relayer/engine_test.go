package relayer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnibridge/bridge-runtime/pkg/db"
	"github.com/omnibridge/bridge-runtime/pkg/operation"
)

func TestRescheduleBumpsExistingTask(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, &Deps{EVM: &mockEVM{}})

	dep := operation.NewRuneDeposit("rune_deposit", "0xEE", "bc1qd", "A", "aa", 0, 100, 6, 42, nil)
	seedOperation(t, store, 42, dep)
	future := time.Now().Add(time.Hour)
	require.NoError(t, store.EnqueueTask(ctx, 42, "operation", future))

	require.NoError(t, engine.applyAction(ctx, operation.Action{Kind: operation.ActionReschedule, ID: operation.ID(42)}))

	var task *db.PendingTask
	for _, tk := range store.tasks {
		if tk.OperationID == 42 {
			task = tk
		}
	}
	require.NotNil(t, task)
	assert.True(t, task.NotBefore.Before(future), "next_run_at must be pulled forward to now")
}

func TestRescheduleRecreatesMissingTask(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, &Deps{EVM: &mockEVM{}})

	dep := operation.NewRuneDeposit("rune_deposit", "0xEE", "bc1qd", "A", "aa", 0, 100, 6, 42, nil)
	seedOperation(t, store, 42, dep)

	require.NoError(t, engine.applyAction(ctx, operation.Action{Kind: operation.ActionReschedule, ID: operation.ID(42)}))

	found := false
	for _, tk := range store.tasks {
		if tk.OperationID == 42 && tk.Kind == "operation" {
			found = true
		}
	}
	assert.True(t, found, "a task must be re-created from the operation's scheduling options")
}

func TestCreateOperationStampsNonce(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, &Deps{EVM: &mockEVM{}})

	dep := operation.NewRuneDeposit("rune_deposit", "0xEE", "bc1qd", "A", "aa", 0, 100, 6, 0, nil)
	require.NoError(t, engine.applyAction(ctx, operation.Action{Kind: operation.ActionCreate, Payload: dep}))

	require.Len(t, store.ops, 1)
	for id := range store.ops {
		p := decodePayload(t, store, id).(*operation.RuneDeposit)
		assert.Equal(t, uint32(id), p.Nonce, "payload nonce must match the id's low bits")
	}
}

func TestCreateOperationMemoCollisionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, &Deps{EVM: &mockEVM{}})

	var memo [32]byte
	memo[0] = 0xab

	first := operation.NewRuneDeposit("rune_deposit", "0xEE", "bc1qd", "A", "aa", 0, 100, 6, 0, nil)
	require.NoError(t, engine.applyAction(ctx, operation.Action{Kind: operation.ActionCreate, Payload: first, Memo: &memo}))
	require.Len(t, store.ops, 1)

	// Same (address, memo): the second create resolves to the first id.
	second := operation.NewRuneDeposit("rune_deposit", "0xEE", "bc1qd", "A", "bb", 0, 100, 6, 0, nil)
	require.NoError(t, engine.applyAction(ctx, operation.Action{Kind: operation.ActionCreate, Payload: second, Memo: &memo}))
	assert.Len(t, store.ops, 1)
}

func TestConfirmMintUnknownNonce(t *testing.T) {
	engine, _ := newTestEngine(t, &Deps{EVM: &mockEVM{}})
	err := engine.confirmMint(context.Background(), "0xEE", 999)
	assert.Error(t, err)
}

func TestServiceTasksEnsuredOnce(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, &Deps{EVM: &mockEVM{}})

	require.NoError(t, engine.ensureServiceTask(ctx, taskKindCollectLogs))
	require.NoError(t, engine.ensureServiceTask(ctx, taskKindCollectLogs))

	count := 0
	for _, tk := range store.tasks {
		if tk.Kind == taskKindCollectLogs {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestTaskRetryUsesOperationBackoff(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, &Deps{EVM: &mockEVM{}, Bitcoin: &mockBitcoin{
		TransactionConfirmationsFn: func(context.Context, string) (int64, error) {
			return 0, assertableError{}
		},
	}})

	dep := operation.NewRuneDeposit("rune_deposit", "0xEE", "bc1qd", "A", "aa", 0, 100, 6, 11, nil)
	dep.Stage = operation.RuneAwaitConfirmations
	seedOperation(t, store, 11, dep)
	require.NoError(t, store.EnqueueTask(ctx, 11, taskKindOperation, time.Now().Add(-time.Second)))

	task, err := store.LeaseNextTask(ctx, "test:1", 30*time.Second)
	require.NoError(t, err)
	engine.runTask(ctx, task)

	// The Unavailable failure is retryable: the task stays queued with a
	// bumped attempt counter and a future not_before.
	kept, ok := store.tasks[task.ID]
	require.True(t, ok, "retryable failure must keep the task")
	assert.Equal(t, 1, kept.Attempt)
	assert.True(t, kept.NotBefore.After(time.Now()))
}

type assertableError struct{}

func (assertableError) Error() string { return "adapter down" }
