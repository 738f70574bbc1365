package relayer

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/omnibridge/bridge-runtime/pkg/bridgeerr"
	"github.com/omnibridge/bridge-runtime/pkg/db"
	"github.com/omnibridge/bridge-runtime/pkg/mintorder"
	"github.com/omnibridge/bridge-runtime/pkg/operation"
)

const taskKindFlushMintBatches = "flush_mint_batches"

// pendingBatch is one batch key's worth of signed orders awaiting a
// single batchMint call, held only in process memory: a crash before
// flush simply loses the batching (not the orders, which are durably
// persisted in the mint_orders table before they are ever added here).
type pendingBatch struct {
	orders       []*mintorder.Signed
	memos        [][32]byte
	operationIDs []int64
	recordIDs    []int64
	createdAt    time.Time
}

// batchKey groups orders that mint the same destination token, the
// dimension one batchMint call amortizes gas over; it is unrelated to any
// individual order's own signing digest, which stays unique per order so
// the contract can recover and check each signature independently.
func batchKey(o *mintorder.Order) common.Hash {
	return common.BytesToHash(o.DstToken.Bytes())
}

// mintBatchService implements the Mint-Tx Batching Service: an
// in-process map[key]->batch guarded by a mutex, flushed once a batch
// reaches MintBatchMaxSize or has waited MintBatchMaxWait.
type mintBatchService struct {
	deps *Deps

	mu      sync.Mutex
	batches map[common.Hash]*pendingBatch
}

func newMintBatchService(deps *Deps) *mintBatchService {
	return &mintBatchService{deps: deps, batches: make(map[common.Hash]*pendingBatch)}
}

// push records a freshly signed mint order and flushes its batch immediately
// if it has reached the configured size cap.
func (m *mintBatchService) push(ctx context.Context, operationID int64, signed *mintorder.Signed, memo [32]byte) error {
	rec := &db.MintOrderRecord{
		OperationID:  operationID,
		Sender:       hex.EncodeToString(signed.Order.Sender[:]),
		SrcToken:     hex.EncodeToString(signed.Order.SrcToken[:]),
		Digest:       signed.Order.Digest().Hex(),
		OrderBytes:   signed.Order.Marshal(),
		SignatureHex: hex.EncodeToString(signed.Signature[:]),
	}
	if err := m.deps.Store.InsertMintOrder(ctx, rec); err != nil {
		return err
	}

	key := batchKey(signed.Order)

	m.mu.Lock()
	b, ok := m.batches[key]
	if !ok {
		b = &pendingBatch{createdAt: time.Now()}
		m.batches[key] = b
	}
	b.orders = append(b.orders, signed)
	b.memos = append(b.memos, memo)
	b.operationIDs = append(b.operationIDs, operationID)
	b.recordIDs = append(b.recordIDs, rec.ID)
	full := m.deps.Config.Bridge.MintBatchMaxSize > 0 && len(b.orders) >= m.deps.Config.Bridge.MintBatchMaxSize
	m.mu.Unlock()

	if full {
		return m.flush(ctx, key)
	}
	return nil
}

// flushDue submits every batch that has waited at least MintBatchMaxWait,
// run periodically from the flush_mint_batches service task.
func (m *mintBatchService) flushDue(ctx context.Context) error {
	maxWait := m.deps.Config.Bridge.MintBatchMaxWait
	if maxWait <= 0 {
		maxWait = 10 * time.Second
	}

	m.mu.Lock()
	var due []common.Hash
	for key, b := range m.batches {
		if time.Since(b.createdAt) >= maxWait {
			due = append(due, key)
		}
	}
	m.mu.Unlock()

	for _, key := range due {
		if err := m.flush(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// flush pops key's batch and submits it as a single batchMint transaction,
// marks the underlying mint_orders rows submitted, and advances every
// related operation through its MintTxSent hook in one pass. An EVM
// failure puts the batch back so the next flush retries it whole.
func (m *mintBatchService) flush(ctx context.Context, key common.Hash) error {
	m.mu.Lock()
	b, ok := m.batches[key]
	if ok {
		delete(m.batches, key)
	}
	m.mu.Unlock()
	if !ok || len(b.orders) == 0 {
		return nil
	}

	var encodedOrders []byte
	for _, s := range b.orders {
		encodedOrders = append(encodedOrders, s.Bytes()...)
	}

	txHash, err := m.deps.EVM.SubmitBatchMint(ctx, m.deps.Signer.Address(), signFnFor(m.deps), encodedOrders, b.memos)
	if err != nil {
		m.mu.Lock()
		if existing, ok := m.batches[key]; ok {
			existing.orders = append(b.orders, existing.orders...)
			existing.memos = append(b.memos, existing.memos...)
			existing.operationIDs = append(b.operationIDs, existing.operationIDs...)
			existing.recordIDs = append(b.recordIDs, existing.recordIDs...)
			existing.createdAt = b.createdAt
		} else {
			m.batches[key] = b
		}
		m.mu.Unlock()
		return err
	}

	m.deps.Logger.Info("batchMint submitted",
		zap.String("batch_key", key.Hex()),
		zap.String("tx", txHash.Hex()),
		zap.Int("orders", len(b.orders)))
	observeBatchSize(len(b.orders))

	// Apply the post-send step to every related operation in one store
	// transaction: order rows marked submitted, stage transitions written,
	// next tasks enqueued. A crash cannot leave one sibling advanced and
	// another not.
	var advances []db.OperationAdvance
	for _, id := range b.operationIDs {
		adv, err := m.buildMintTxAdvance(ctx, id, txHash.Hex())
		if err != nil {
			m.deps.Logger.Warn("prepare operation advance after batchMint failed", zap.Int64("operation_id", id), zap.Error(err))
			continue
		}
		if adv != nil {
			advances = append(advances, *adv)
		}
	}
	if err := m.deps.Store.ApplyMintBatchSent(ctx, b.recordIDs, txHash.Hex(), advances, time.Now()); err != nil {
		return err
	}
	return nil
}

// buildMintTxAdvance computes one related operation's stage transition
// for the broadcast batch transaction, without writing anything; the
// caller applies every sibling's advance in a single transaction.
func (m *mintBatchService) buildMintTxAdvance(ctx context.Context, operationID int64, txHash string) (*db.OperationAdvance, error) {
	rec, err := m.deps.Store.GetOperation(ctx, operationID)
	if err != nil {
		return nil, err
	}
	payload, err := operation.UnmarshalPayload(rec.Payload)
	if err != nil {
		return nil, bridgeerr.Serialization(err, "decode operation payload")
	}
	notifier, ok := payload.(operation.MintTxNotifier)
	if !ok {
		return nil, nil
	}
	notifier.MintTxSent(txHash)

	encoded, err := operation.MarshalPayload(payload)
	if err != nil {
		return nil, bridgeerr.Serialization(err, "encode operation payload")
	}
	return &db.OperationAdvance{ID: operationID, Stage: payload.Kind(), Payload: encoded}, nil
}

// signOrder signs o's digest through the abstract signer.Signer interface,
// since pkg/mintorder.SignWithKey requires a concrete *ecdsa.PrivateKey
// that the platform signing backend never exposes.
func signOrder(ctx context.Context, deps *Deps, o *mintorder.Order) (*mintorder.Signed, error) {
	digest := o.Digest()
	sig, err := deps.Signer.Sign(ctx, digest)
	if err != nil {
		return nil, bridgeerr.Signing(err, "sign mint order")
	}
	return &mintorder.Signed{Order: o, Signature: sig}, nil
}

// signFnFor adapts the bridge's own Signer into a go-ethereum
// bind.SignerFn so EVM Client transactions (batchMint included) are signed
// the same way regardless of local or platform signer backend.
func signFnFor(deps *Deps) bind.SignerFn {
	return func(addr common.Address, tx *types.Transaction) (*types.Transaction, error) {
		signer := types.LatestSignerForChainID(tx.ChainId())
		hash := signer.Hash(tx)
		sig, err := deps.Signer.Sign(context.Background(), hash)
		if err != nil {
			return nil, bridgeerr.Signing(err, "sign evm transaction")
		}
		raw := make([]byte, 65)
		copy(raw, sig[:])
		if raw[64] >= 27 {
			raw[64] -= 27
		}
		return tx.WithSignature(signer, raw)
	}
}
