package relayer

import (
	"context"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/omnibridge/bridge-runtime/pkg/bridgeerr"
	"github.com/omnibridge/bridge-runtime/pkg/db"
	"github.com/omnibridge/bridge-runtime/pkg/ethereum"
	"github.com/omnibridge/bridge-runtime/pkg/operation"
)

const configKeyNextBlock = "evm_next_block"

// collectEvmLogs implements the Log Fetch Service: pulls a page of
// BftBridge logs since the last recorded block, decodes them, dispatches
// each to its variant handler, and applies the resulting operation.Action
// before advancing the stored cursor.
func (e *Engine) collectEvmLogs(ctx context.Context) error {
	if !e.collectingLogs.CompareAndSwap(false, true) {
		return nil
	}
	defer e.collectingLogs.Store(false)

	fromBlock, err := e.loadNextBlock(ctx)
	if err != nil {
		return err
	}

	latest := e.nextBlock.Load()
	if latest == 0 {
		results, err := e.deps.EVM.BatchQuery(ctx, e.deps.Signer.Address())
		if err != nil {
			return err
		}
		for _, r := range results {
			if r.Type == ethereum.QueryLatestBlock && r.Err == nil {
				latest = r.LatestBlock
			}
		}
	}

	confirmations := uint64(e.deps.Config.Evm.ConfirmationBlocks)
	if latest <= confirmations {
		return nil
	}
	toBlock := latest - confirmations
	if toBlock < fromBlock {
		return nil
	}

	logs, err := e.deps.EVM.CollectLogs(ctx, fromBlock, toBlock)
	if err != nil {
		return err
	}
	decoded := e.deps.EVM.DecodeLogs(logs)
	if decoded.SkippedMalformed > 0 {
		e.deps.Logger.Warn("skipped malformed bridge logs", zap.Int("count", decoded.SkippedMalformed))
	}

	for _, ev := range decoded.Burnt {
		e.recordBurnRequest(ctx, ev)
		if err := e.applyAction(ctx, handleBurnt(ev)); err != nil {
			e.deps.Logger.Error("apply burnt action failed", zap.String("tx", ev.TxHash.Hex()), zap.Error(err))
		}
	}
	for _, ev := range decoded.Minted {
		if err := e.applyAction(ctx, handleMinted(ev)); err != nil {
			e.deps.Logger.Error("apply minted action failed", zap.String("tx", ev.TxHash.Hex()), zap.Error(err))
		}
	}
	for _, ev := range decoded.Notify {
		for _, act := range e.handleNotify(ev) {
			if err := e.applyAction(ctx, act); err != nil {
				e.deps.Logger.Error("apply notify action failed", zap.String("tx", ev.TxHash.Hex()), zap.Error(err))
			}
		}
	}

	return e.saveNextBlock(ctx, toBlock+1)
}

// recordBurnRequest archives the raw burn event for observers; the
// (tx_hash, log_index) unique index makes re-scans idempotent.
func (e *Engine) recordBurnRequest(ctx context.Context, ev ethereum.BurntLog) {
	req := &db.BurnRequest{
		OperationID: int64(ev.OperationID),
		TxHash:      ev.TxHash.Hex(),
		LogIndex:    int(ev.LogIndex),
		Sender:      ev.Sender.Hex(),
		Recipient:   addressFromID(ev.RecipientID),
		Amount:      weiToDecimalString(ev.Amount),
		DstToken:    hex.EncodeToString(ev.ToToken[:]),
		BlockNumber: int64(ev.BlockNumber),
	}
	if err := e.deps.Store.InsertBurnRequest(ctx, req); err != nil {
		e.deps.Logger.Warn("record burn request failed", zap.String("tx", ev.TxHash.Hex()), zap.Error(err))
	}
}

func (e *Engine) loadNextBlock(ctx context.Context) (uint64, error) {
	raw, err := e.deps.Store.GetConfigValue(ctx, configKeyNextBlock)
	if err == db.ErrNotFound {
		start := uint64(0)
		if e.deps.Config.Evm.StartBlock > 0 {
			start = uint64(e.deps.Config.Evm.StartBlock)
		}
		return start, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, bridgeerr.Serialization(err, "decode next_block cursor")
	}
	return v, nil
}

func (e *Engine) saveNextBlock(ctx context.Context, next uint64) error {
	return e.deps.Store.SetConfigValue(ctx, configKeyNextBlock, []byte(strconv.FormatUint(next, 10)))
}

// applyAction persists the outcome of a variant event handler against the
// Operation Store.
func (e *Engine) applyAction(ctx context.Context, act operation.Action) error {
	switch act.Kind {
	case operation.ActionNone:
		return nil

	case operation.ActionCreate, operation.ActionCreateWithID:
		return e.createOperation(ctx, act)

	case operation.ActionConfirmMint:
		return e.confirmMint(ctx, act.Address, act.Nonce)

	case operation.ActionReschedule:
		return e.rescheduleOperation(ctx, int64(act.ID))
	}
	return nil
}

// createOperation allocates (or adopts) an id, stamps the payload's
// nonce, and inserts the operation plus its first task. A memo collision
// resolves to the already-live operation per the store's uniqueness rule.
func (e *Engine) createOperation(ctx context.Context, act operation.Action) error {
	id, err := e.deps.Store.NextNonce(ctx)
	if err != nil {
		return err
	}
	if act.Kind == operation.ActionCreateWithID {
		id = int64(act.ID)
	}
	if setter, ok := act.Payload.(operation.NonceSetter); ok {
		setter.SetNonce(uint32(id))
	}

	encoded, err := operation.MarshalPayload(act.Payload)
	if err != nil {
		return bridgeerr.Serialization(err, "encode new operation payload")
	}
	var memo *string
	if act.Memo != nil {
		hexMemo := hexMemoString(*act.Memo)
		memo = &hexMemo
	}
	rec := &db.OperationRecord{
		ID:      id,
		Stage:   act.Payload.Kind(),
		Status:  db.OperationStatusPending,
		Address: act.Payload.EVMWalletAddress(),
		Memo:    memo,
		Payload: encoded,
	}
	if err := e.deps.Store.CreateOperation(ctx, rec); err != nil {
		var collision *db.MemoCollisionError
		if errors.As(err, &collision) {
			e.deps.Logger.Debug("duplicate memo, keeping existing operation",
				zap.Int64("existing_id", collision.ExistingID), zap.Int64("new_id", id))
			return nil
		}
		return err
	}
	observeOperationCreated(act.Payload.Kind())
	return e.scheduleOperation(ctx, id, act.Payload)
}

// confirmMint locates the live operation a MintTokenEvent settles and
// drives it to its terminal mint-confirmed stage.
func (e *Engine) confirmMint(ctx context.Context, address string, nonce uint32) error {
	rec, err := e.deps.Store.GetOperationByAddressAndNonce(ctx, address, nonce)
	if err == db.ErrNotFound {
		return bridgeerr.OperationNotFound("no live operation for minted event")
	}
	if err != nil {
		return err
	}
	payload, err := operation.UnmarshalPayload(rec.Payload)
	if err != nil {
		return bridgeerr.Serialization(err, "decode operation payload")
	}
	confirmer, ok := payload.(operation.MintConfirmer)
	if !ok {
		return nil
	}
	confirmer.ConfirmMint()
	return e.persistNext(ctx, rec.ID, payload)
}

// rescheduleOperation pulls a stuck operation's task forward to now,
// re-creating the task from the operation's own scheduling options if no
// task is queued.
func (e *Engine) rescheduleOperation(ctx context.Context, id int64) error {
	err := e.deps.Store.BumpOperationTask(ctx, id, time.Now())
	if err == nil {
		return nil
	}
	if err != db.ErrNotFound {
		return err
	}

	env, err := e.loadEnvelope(ctx, id)
	if err != nil {
		return err
	}
	return e.scheduleOperation(ctx, id, env.Payload)
}

func hexMemoString(memo [32]byte) string {
	return hex.EncodeToString(memo[:])
}
