// Package relayer implements the bridge runtime engine: the scheduler
// that drives every persisted Operation forward, the background services
// that keep EVM connection state fresh and fetch bridge events, and the
// mint-order batching pipeline that turns signed orders into one
// batchMint transaction per destination token.
package relayer

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/omnibridge/bridge-runtime/pkg/bitcoinadapter"
	"github.com/omnibridge/bridge-runtime/pkg/config"
	"github.com/omnibridge/bridge-runtime/pkg/db"
	"github.com/omnibridge/bridge-runtime/pkg/ethereum"
	"github.com/omnibridge/bridge-runtime/pkg/indexer"
	"github.com/omnibridge/bridge-runtime/pkg/signer"
)

// Store is the persistence surface the engine drives; *db.Store is the
// production implementation, tests supply func-field mocks.
type Store interface {
	CreateOperation(ctx context.Context, op *db.OperationRecord) error
	GetOperation(ctx context.Context, id int64) (*db.OperationRecord, error)
	GetOperationByAddressAndNonce(ctx context.Context, address string, nonce uint32) (*db.OperationRecord, error)
	UpdateOperationStage(ctx context.Context, id int64, stage string, payload []byte) error
	CompleteOperation(ctx context.Context, id int64, status db.OperationStatus, finalPayload []byte) error
	RecordOperationFailure(ctx context.Context, id int64, errMsg string) error

	TaskKindExists(ctx context.Context, kind string) (bool, error)
	EnqueueTask(ctx context.Context, operationID int64, kind string, notBefore time.Time) error
	LeaseNextTask(ctx context.Context, owner string, leaseDuration time.Duration) (*db.PendingTask, error)
	ReleaseTask(ctx context.Context, taskID int64) error
	RescheduleTask(ctx context.Context, taskID int64, notBefore time.Time) error
	BumpOperationTask(ctx context.Context, operationID int64, notBefore time.Time) error

	NextNonce(ctx context.Context) (int64, error)
	GetConfigValue(ctx context.Context, key string) ([]byte, error)
	SetConfigValue(ctx context.Context, key string, value []byte) error

	AddUtxo(ctx context.Context, u *db.Utxo) error
	SpendableUtxos(ctx context.Context, address string) ([]*db.Utxo, error)
	MarkUtxoSpent(ctx context.Context, txid string, vout int, spendingTxID string, operationID int64) error
	MarkUtxoUsed(ctx context.Context, txid string, vout int, operationID int64) error
	IsUtxoUsed(ctx context.Context, txid string, vout int) (bool, error)
	AddRevealUtxo(ctx context.Context, r *db.RevealUtxo) error
	SetRevealTxID(ctx context.Context, commitTxID string, commitVout int, revealTxID string) error
	MoveRevealToUsed(ctx context.Context, revealTxID string, revealVout int, operationID int64) error

	InsertMintOrder(ctx context.Context, m *db.MintOrderRecord) error
	ApplyMintBatchSent(ctx context.Context, orderIDs []int64, txHash string, advances []db.OperationAdvance, enqueueAt time.Time) error
	InsertBurnRequest(ctx context.Context, b *db.BurnRequest) error
}

// EVM is the destination-chain surface the engine calls.
type EVM interface {
	BatchQuery(ctx context.Context, signerAddr common.Address) ([]ethereum.BatchQueryResult, error)
	CollectLogs(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error)
	DecodeLogs(logs []types.Log) ethereum.DecodedLogs
	SubmitBatchMint(ctx context.Context, from common.Address, signFn bind.SignerFn, encodedOrders []byte, memos [][32]byte) (common.Hash, error)
	GetTransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	CodeAt(ctx context.Context, addr common.Address) ([]byte, error)
}

// Bitcoin is the source-chain adapter surface for the Bitcoin-family
// variants.
type Bitcoin interface {
	AddressUtxos(ctx context.Context, address string, minConfirmations int64) ([]bitcoinadapter.Utxo, error)
	BroadcastTransaction(ctx context.Context, rawTxHex string) (*bitcoinadapter.BroadcastResult, error)
	TransactionConfirmations(ctx context.Context, txID string) (int64, error)
	BlockHeight(ctx context.Context) (int64, error)
	UpdateBalance(ctx context.Context, address string) ([]bitcoinadapter.BalanceUpdate, error)
	RetrieveBtc(ctx context.Context, recipient string, amountSats uint64) (uint64, error)
	FeePercentiles(ctx context.Context) ([]uint64, error)
}

// Indexers is the consensus-checked BRC-20/Rune indexer surface.
type Indexers interface {
	Configured() bool
	BRC20Balance(ctx context.Context, address, ticker string) (*indexer.Balance, error)
	RuneBalance(ctx context.Context, address, runeName string) (*indexer.Balance, error)
}

// Ledger is the allowance-ledger surface backing ICRC-2-shaped deposits.
type Ledger interface {
	BridgeAccount() string
	Allowance(ctx context.Context, ledgerPrincipal, owner string) (string, error)
	Fee(ctx context.Context, ledgerPrincipal string) (string, error)
	TransferFrom(ctx context.Context, ledgerPrincipal, owner, amount, fee string) (uint64, error)
}

// Deps bundles every external collaborator the engine and its services
// call into; constructed once at startup and passed by reference, so
// nothing in the runtime reaches for package-level state.
type Deps struct {
	Store    Store
	EVM      EVM
	Signer   signer.Signer
	Bitcoin  Bitcoin
	Indexers Indexers
	Ledger   Ledger
	Config   config.Config
	Logger   *zap.Logger

	// MintBatch is wired in by New once the Engine constructs it, so
	// variant progress functions (which only see a *Deps, never the
	// Engine itself) can push freshly signed orders into the batching
	// pipeline.
	MintBatch *mintBatchService
}

// Engine owns the single scheduler goroutine that leases and drives
// pending_tasks rows, plus the three always-present service tasks
// (CollectEvmLogs, RefreshEvmParams, FlushMintBatches) and the in-process mint batching
// state. Only one Engine should run against a given database at a time;
// the FOR UPDATE SKIP LOCKED task lease makes a second instance safe but
// redundant, not harmful.
type Engine struct {
	deps *Deps

	owner string

	collectingLogs   atomic.Bool
	refreshingParams atomic.Bool
	nextBlock        atomic.Uint64
	ready            atomic.Bool

	mintBatch *mintBatchService

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs an Engine bound to deps. owner is this process's task
// lease identity (hostname:pid style), used for LeaseNextTask's FOR
// UPDATE SKIP LOCKED ownership column.
func New(deps *Deps, owner string) *Engine {
	mintBatch := newMintBatchService(deps)
	deps.MintBatch = mintBatch
	return &Engine{
		deps:      deps,
		owner:     owner,
		mintBatch: mintBatch,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start ensures the service tasks exist and runs the scheduler tick loop
// until ctx is canceled or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.ensureServiceTask(ctx, taskKindCollectLogs); err != nil {
		return err
	}
	if err := e.ensureServiceTask(ctx, taskKindRefreshParams); err != nil {
		return err
	}
	if err := e.ensureServiceTask(ctx, taskKindFlushMintBatches); err != nil {
		return err
	}

	go e.run(ctx)
	return nil
}

// Stop signals the scheduler loop to exit and waits for it to finish.
func (e *Engine) Stop() {
	close(e.stopCh)
	<-e.doneCh
}

// IsReady reports whether the engine has completed at least one EVM
// params refresh, the readiness gate the control plane's /ready probes.
func (e *Engine) IsReady() bool {
	return e.ready.Load()
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.deps.Config.Scheduler.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick drains due tasks sequentially in id order, up to the configured
// fairness cap per tick. Parallel task execution would break the
// one-operation-in-flight-at-a-time rule the whole design depends on,
// so this stays a single loop.
func (e *Engine) tick(ctx context.Context) {
	started := time.Now()
	defer func() { observeTick(time.Since(started)) }()

	maxTasks := e.deps.Config.Scheduler.MaxTasksPerTick
	if maxTasks <= 0 {
		maxTasks = 32
	}

	for executed := 0; executed < maxTasks; executed++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := e.deps.Store.LeaseNextTask(ctx, e.owner, e.deps.Config.Scheduler.LeaseDuration)
		if err != nil {
			if err != db.ErrNotFound {
				e.deps.Logger.Warn("lease next task failed", zap.Error(err))
			}
			return
		}
		if task == nil {
			return
		}

		e.runTask(ctx, task)
	}
}

func (e *Engine) ensureServiceTask(ctx context.Context, kind string) error {
	exists, err := e.deps.Store.TaskKindExists(ctx, kind)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return e.deps.Store.EnqueueTask(ctx, 0, kind, time.Now())
}
