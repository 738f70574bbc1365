package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun/migrate"

	"github.com/omnibridge/bridge-runtime/pkg/migrations/relayerdb"
	"github.com/omnibridge/bridge-runtime/pkg/pgutil"
)

// setupStore brings up a migrated Postgres container and a Store on it.
func setupStore(t *testing.T) *Store {
	t.Helper()
	bunDB, cfg, cleanup := pgutil.SetupTestDBWithConfig(t)
	t.Cleanup(cleanup)

	ctx := context.Background()
	migrator := migrate.NewMigrator(bunDB, relayerdb.Migrations)
	require.NoError(t, migrator.Init(ctx))
	_, err := migrator.Migrate(ctx)
	require.NoError(t, err)

	store, err := NewStore(cfg.GetConnectionString())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleRecord(id int64, address string, memo *string) *OperationRecord {
	return &OperationRecord{
		ID:      id,
		Side:    "base",
		Stage:   "rune_deposit",
		Status:  OperationStatusPending,
		Address: address,
		Memo:    memo,
		Payload: []byte(`{"struct_kind":"rune_deposit","data":{}}`),
	}
}

func TestOperationLifecycle(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateOperation(ctx, sampleRecord(1, "0xEE", nil)))

	op, err := store.GetOperation(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "rune_deposit", op.Stage)

	require.NoError(t, store.UpdateOperationStage(ctx, 1, "rune_deposit", []byte(`{"struct_kind":"rune_deposit","data":{"Stage":1}}`)))

	require.NoError(t, store.EnqueueTask(ctx, 1, "operation", time.Now()))
	require.NoError(t, store.CompleteOperation(ctx, 1, OperationStatusDone, op.Payload))

	_, err = store.GetOperation(ctx, 1)
	assert.Equal(t, ErrNotFound, err)

	// Completing removed the operation's queued tasks.
	_, err = store.LeaseNextTask(ctx, "w1", time.Minute)
	assert.Equal(t, ErrNotFound, err)
}

func TestMemoCollisionReturnsExistingID(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	memo := "abcd"
	require.NoError(t, store.CreateOperation(ctx, sampleRecord(1, "0xEE", &memo)))

	err := store.CreateOperation(ctx, sampleRecord(2, "0xEE", &memo))
	var collision *MemoCollisionError
	require.ErrorAs(t, err, &collision)
	assert.Equal(t, int64(1), collision.ExistingID)

	// A different address may reuse the same memo.
	require.NoError(t, store.CreateOperation(ctx, sampleRecord(3, "0xFF", &memo)))
}

func TestNonceCounterMonotonic(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	first, err := store.NextNonce(ctx)
	require.NoError(t, err)
	second, err := store.NextNonce(ctx)
	require.NoError(t, err)
	assert.Equal(t, first+1, second)
}

func TestGetOperationByAddressAndNonce(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateOperation(ctx, sampleRecord(42, "0xEE", nil)))

	op, err := store.GetOperationByAddressAndNonce(ctx, "0xEE", 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), op.ID)

	_, err = store.GetOperationByAddressAndNonce(ctx, "0xEE", 43)
	assert.Equal(t, ErrNotFound, err)
	_, err = store.GetOperationByAddressAndNonce(ctx, "0xFF", 42)
	assert.Equal(t, ErrNotFound, err)
}

func TestLeaseNextTaskExcludesLocked(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.EnqueueTask(ctx, 0, "collect_evm_logs", time.Now().Add(-time.Second)))

	task, err := store.LeaseNextTask(ctx, "w1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, task.LockedUntil)

	// The same task is invisible while the lease holds.
	_, err = store.LeaseNextTask(ctx, "w2", time.Minute)
	assert.Equal(t, ErrNotFound, err)

	// Releasing the lease by rescheduling makes it leasable again.
	require.NoError(t, store.RescheduleTask(ctx, task.ID, time.Now().Add(-time.Second)))
	again, err := store.LeaseNextTask(ctx, "w2", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, task.ID, again.ID)
	assert.Equal(t, 1, again.Attempt)
}

func TestLeaseNextTaskClaimsInIDOrder(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	// Two tasks due at the exact same instant: id breaks the tie.
	due := time.Now().Add(-time.Second)
	require.NoError(t, store.EnqueueTask(ctx, 10, "operation", due))
	require.NoError(t, store.EnqueueTask(ctx, 11, "operation", due))

	first, err := store.LeaseNextTask(ctx, "w1", time.Minute)
	require.NoError(t, err)
	second, err := store.LeaseNextTask(ctx, "w1", time.Minute)
	require.NoError(t, err)
	assert.Less(t, first.ID, second.ID)
	assert.Equal(t, int64(10), first.OperationID)
	assert.Equal(t, int64(11), second.OperationID)
}

func TestApplyMintBatchSentIsAtomic(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateOperation(ctx, sampleRecord(1, "0xE1", nil)))
	require.NoError(t, store.CreateOperation(ctx, sampleRecord(2, "0xE2", nil)))

	rec1 := &MintOrderRecord{OperationID: 1, Sender: "s", SrcToken: "t", Digest: "0xd1", OrderBytes: []byte{1}, SignatureHex: "00"}
	rec2 := &MintOrderRecord{OperationID: 2, Sender: "s", SrcToken: "t", Digest: "0xd2", OrderBytes: []byte{2}, SignatureHex: "00"}
	require.NoError(t, store.InsertMintOrder(ctx, rec1))
	require.NoError(t, store.InsertMintOrder(ctx, rec2))

	advances := []OperationAdvance{
		{ID: 1, Stage: "rune_deposit", Payload: []byte(`{"struct_kind":"rune_deposit","data":{"Stage":3}}`)},
		{ID: 2, Stage: "rune_deposit", Payload: []byte(`{"struct_kind":"rune_deposit","data":{"Stage":3}}`)},
	}
	require.NoError(t, store.ApplyMintBatchSent(ctx, []int64{rec1.ID, rec2.ID}, "0xtx", advances, time.Now()))

	// Both operations carry the advanced payload.
	for _, id := range []int64{1, 2} {
		op, err := store.GetOperation(ctx, id)
		require.NoError(t, err)
		assert.Contains(t, string(op.Payload), `"Stage":3`)
	}

	// Both order rows are marked submitted with the batch hash.
	got, err := store.GetMintOrder(ctx, "s", "t", 1)
	require.NoError(t, err)
	require.NotNil(t, got.BatchTxHash)
	assert.Equal(t, "0xtx", *got.BatchTxHash)

	// Both operations have a freshly enqueued task.
	seen := map[int64]bool{}
	for {
		task, err := store.LeaseNextTask(ctx, "w1", time.Minute)
		if err == ErrNotFound {
			break
		}
		require.NoError(t, err)
		seen[task.OperationID] = true
	}
	assert.True(t, seen[1])
	assert.True(t, seen[2])
}

func TestBumpOperationTask(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	future := time.Now().Add(time.Hour)
	require.NoError(t, store.EnqueueTask(ctx, 7, "operation", future))
	require.NoError(t, store.BumpOperationTask(ctx, 7, time.Now()))

	task, err := store.LeaseNextTask(ctx, "w1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(7), task.OperationID)

	assert.Equal(t, ErrNotFound, store.BumpOperationTask(ctx, 999, time.Now()))
}

func TestUtxoLedgerDisjointness(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	used, err := store.IsUtxoUsed(ctx, "aa", 0)
	require.NoError(t, err)
	assert.False(t, used)

	require.NoError(t, store.MarkUtxoUsed(ctx, "aa", 0, 1))
	used, err = store.IsUtxoUsed(ctx, "aa", 0)
	require.NoError(t, err)
	assert.True(t, used)

	// Marking twice is idempotent.
	require.NoError(t, store.MarkUtxoUsed(ctx, "aa", 0, 2))

	// Spendable ledger entries move to used atomically.
	require.NoError(t, store.AddUtxo(ctx, &Utxo{TxID: "bb", Vout: 1, ValueSats: 5000, Address: "bc1qbridge"}))
	require.NoError(t, store.MarkUtxoSpent(ctx, "bb", 1, "cc", 3))

	spendable, err := store.SpendableUtxos(ctx, "bc1qbridge")
	require.NoError(t, err)
	assert.Empty(t, spendable)

	overlapping, err := store.OverlappingUtxos(ctx)
	require.NoError(t, err)
	assert.Empty(t, overlapping)
}

func TestMoveRevealToUsed(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	reveal := "dd"
	require.NoError(t, store.AddRevealUtxo(ctx, &RevealUtxo{CommitTxID: "cc", CommitVout: 0, RevealTxID: &reveal, OperationID: 5}))
	require.NoError(t, store.MoveRevealToUsed(ctx, reveal, 0, 5))

	used, err := store.IsUtxoUsed(ctx, reveal, 0)
	require.NoError(t, err)
	assert.True(t, used)
}

func TestMintOrderListing(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	rec := &MintOrderRecord{
		OperationID:  7,
		Sender:       "sender-a",
		SrcToken:     "token-a",
		Digest:       "0xd1",
		OrderBytes:   []byte{1, 2, 3},
		SignatureHex: "00",
	}
	require.NoError(t, store.InsertMintOrder(ctx, rec))
	require.NotZero(t, rec.ID)

	orders, err := store.ListMintOrders(ctx, "sender-a", "token-a")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Nil(t, orders[0].BatchTxHash)

	got, err := store.GetMintOrder(ctx, "sender-a", "token-a", 7)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	require.NoError(t, store.MarkMintOrdersSubmitted(ctx, []int64{rec.ID}, "0xtx"))
	got, err = store.GetMintOrder(ctx, "sender-a", "token-a", 7)
	require.NoError(t, err)
	require.NotNil(t, got.BatchTxHash)
	assert.Equal(t, "0xtx", *got.BatchTxHash)

	_, err = store.GetMintOrder(ctx, "sender-a", "token-b", 7)
	assert.Equal(t, ErrNotFound, err)
}
