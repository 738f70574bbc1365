package relayer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/omnibridge/bridge-runtime/pkg/bitcoinadapter"
	"github.com/omnibridge/bridge-runtime/pkg/db"
	"github.com/omnibridge/bridge-runtime/pkg/ethereum"
	"github.com/omnibridge/bridge-runtime/pkg/indexer"
)

// memStore is an in-memory Store for engine tests; individual methods can
// be overridden with the func fields where a test needs to fault-inject.
type memStore struct {
	mu sync.Mutex

	ops        map[int64]*db.OperationRecord
	logOps     map[int64]*db.OperationRecord
	tasks      map[int64]*db.PendingTask
	nextTaskID int64
	nonce      int64
	configKV   map[string][]byte
	usedUtxos  map[[2]any]bool
	utxos      []*db.Utxo
	reveals    []*db.RevealUtxo
	mintOrders []*db.MintOrderRecord
	burns      []*db.BurnRequest

	IsUtxoUsedFn func(txid string, vout int) (bool, error)
}

func newMemStore() *memStore {
	return &memStore{
		ops:       make(map[int64]*db.OperationRecord),
		logOps:    make(map[int64]*db.OperationRecord),
		tasks:     make(map[int64]*db.PendingTask),
		configKV:  make(map[string][]byte),
		usedUtxos: make(map[[2]any]bool),
	}
}

func (m *memStore) CreateOperation(_ context.Context, op *db.OperationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if op.Memo != nil {
		for _, existing := range m.ops {
			if existing.Address == op.Address && existing.Memo != nil && *existing.Memo == *op.Memo {
				return &db.MemoCollisionError{ExistingID: existing.ID}
			}
		}
	}
	cp := *op
	now := time.Now()
	cp.CreatedAt, cp.UpdatedAt = now, now
	m.ops[op.ID] = &cp
	return nil
}

func (m *memStore) GetOperation(_ context.Context, id int64) (*db.OperationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.ops[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *op
	return &cp, nil
}

func (m *memStore) GetOperationByAddressAndNonce(_ context.Context, address string, nonce uint32) (*db.OperationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range m.ops {
		if op.Address == address && uint32(op.ID) == nonce {
			cp := *op
			return &cp, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *memStore) UpdateOperationStage(_ context.Context, id int64, stage string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.ops[id]
	if !ok {
		return db.ErrNotFound
	}
	op.Stage, op.Payload, op.UpdatedAt = stage, payload, time.Now()
	return nil
}

func (m *memStore) CompleteOperation(_ context.Context, id int64, status db.OperationStatus, finalPayload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.ops[id]
	if !ok {
		return db.ErrNotFound
	}
	op.Status, op.Payload = status, finalPayload
	m.logOps[id] = op
	delete(m.ops, id)
	for tid, task := range m.tasks {
		if task.OperationID == id {
			delete(m.tasks, tid)
		}
	}
	return nil
}

func (m *memStore) RecordOperationFailure(_ context.Context, id int64, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if op, ok := m.ops[id]; ok {
		op.Attempts++
		op.LastError = &errMsg
	}
	return nil
}

func (m *memStore) TaskKindExists(_ context.Context, kind string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.Kind == kind {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) EnqueueTask(_ context.Context, operationID int64, kind string, notBefore time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTaskID++
	m.tasks[m.nextTaskID] = &db.PendingTask{
		ID: m.nextTaskID, OperationID: operationID, Kind: kind, NotBefore: notBefore, CreatedAt: time.Now(),
	}
	return nil
}

func (m *memStore) LeaseNextTask(_ context.Context, owner string, leaseDuration time.Duration) (*db.PendingTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	ids := make([]int64, 0, len(m.tasks))
	for id := range m.tasks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		t := m.tasks[id]
		if t.NotBefore.After(now) {
			continue
		}
		if t.LockedUntil != nil && t.LockedUntil.After(now) {
			continue
		}
		until := now.Add(leaseDuration)
		t.LockedBy, t.LockedUntil = &owner, &until
		cp := *t
		return &cp, nil
	}
	return nil, db.ErrNotFound
}

func (m *memStore) ReleaseTask(_ context.Context, taskID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, taskID)
	return nil
}

func (m *memStore) RescheduleTask(_ context.Context, taskID int64, notBefore time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[taskID]; ok {
		t.NotBefore = notBefore
		t.Attempt++
		t.LockedBy, t.LockedUntil = nil, nil
	}
	return nil
}

func (m *memStore) BumpOperationTask(_ context.Context, operationID int64, notBefore time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	for _, t := range m.tasks {
		if t.OperationID == operationID && t.Kind == "operation" {
			t.NotBefore = notBefore
			t.LockedBy, t.LockedUntil = nil, nil
			found = true
		}
	}
	if !found {
		return db.ErrNotFound
	}
	return nil
}

func (m *memStore) NextNonce(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nonce++
	return m.nonce, nil
}

func (m *memStore) GetConfigValue(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.configKV[key]
	if !ok {
		return nil, db.ErrNotFound
	}
	return v, nil
}

func (m *memStore) SetConfigValue(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configKV[key] = value
	return nil
}

func (m *memStore) AddUtxo(_ context.Context, u *db.Utxo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.utxos = append(m.utxos, u)
	return nil
}

func (m *memStore) SpendableUtxos(_ context.Context, address string) ([]*db.Utxo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*db.Utxo
	for _, u := range m.utxos {
		if u.Address == address && u.SpentBy == nil {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memStore) MarkUtxoSpent(_ context.Context, txid string, vout int, spendingTxID string, operationID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.utxos {
		if u.TxID == txid && u.Vout == vout {
			u.SpentBy = &spendingTxID
		}
	}
	m.usedUtxos[[2]any{txid, vout}] = true
	return nil
}

func (m *memStore) MarkUtxoUsed(_ context.Context, txid string, vout int, operationID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usedUtxos[[2]any{txid, vout}] = true
	return nil
}

func (m *memStore) IsUtxoUsed(_ context.Context, txid string, vout int) (bool, error) {
	if m.IsUtxoUsedFn != nil {
		return m.IsUtxoUsedFn(txid, vout)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usedUtxos[[2]any{txid, vout}], nil
}

func (m *memStore) AddRevealUtxo(_ context.Context, r *db.RevealUtxo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reveals = append(m.reveals, r)
	return nil
}

func (m *memStore) SetRevealTxID(_ context.Context, commitTxID string, commitVout int, revealTxID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reveals {
		if r.CommitTxID == commitTxID && r.CommitVout == commitVout {
			r.RevealTxID = &revealTxID
		}
	}
	return nil
}

func (m *memStore) MoveRevealToUsed(_ context.Context, revealTxID string, revealVout int, operationID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.reveals[:0]
	for _, r := range m.reveals {
		if r.RevealTxID != nil && *r.RevealTxID == revealTxID {
			continue
		}
		kept = append(kept, r)
	}
	m.reveals = kept
	m.usedUtxos[[2]any{revealTxID, revealVout}] = true
	return nil
}

func (m *memStore) InsertMintOrder(_ context.Context, rec *db.MintOrderRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = int64(len(m.mintOrders) + 1)
	m.mintOrders = append(m.mintOrders, rec)
	return nil
}

func (m *memStore) ApplyMintBatchSent(_ context.Context, orderIDs []int64, txHash string, advances []db.OperationAdvance, enqueueAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.mintOrders {
		for _, id := range orderIDs {
			if rec.ID == id {
				rec.BatchTxHash = &txHash
			}
		}
	}
	now := time.Now()
	for _, adv := range advances {
		op, ok := m.ops[adv.ID]
		if !ok {
			continue
		}
		op.Stage, op.Payload, op.UpdatedAt = adv.Stage, adv.Payload, now
		m.nextTaskID++
		m.tasks[m.nextTaskID] = &db.PendingTask{
			ID: m.nextTaskID, OperationID: adv.ID, Kind: "operation", NotBefore: enqueueAt, CreatedAt: now,
		}
	}
	return nil
}

func (m *memStore) InsertBurnRequest(_ context.Context, b *db.BurnRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.burns = append(m.burns, b)
	return nil
}

// mockEVM is a func-field EVM mock.
type mockEVM struct {
	BatchQueryFn            func(ctx context.Context, signerAddr common.Address) ([]ethereum.BatchQueryResult, error)
	CollectLogsFn           func(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error)
	DecodeLogsFn            func(logs []types.Log) ethereum.DecodedLogs
	SubmitBatchMintFn       func(ctx context.Context, from common.Address, signFn bind.SignerFn, encodedOrders []byte, memos [][32]byte) (common.Hash, error)
	GetTransactionReceiptFn func(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	CodeAtFn                func(ctx context.Context, addr common.Address) ([]byte, error)
}

func (m *mockEVM) BatchQuery(ctx context.Context, signerAddr common.Address) ([]ethereum.BatchQueryResult, error) {
	return m.BatchQueryFn(ctx, signerAddr)
}

func (m *mockEVM) CollectLogs(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	if m.CollectLogsFn == nil {
		return nil, nil
	}
	return m.CollectLogsFn(ctx, fromBlock, toBlock)
}

func (m *mockEVM) DecodeLogs(logs []types.Log) ethereum.DecodedLogs {
	if m.DecodeLogsFn == nil {
		return ethereum.DecodedLogs{}
	}
	return m.DecodeLogsFn(logs)
}

func (m *mockEVM) SubmitBatchMint(ctx context.Context, from common.Address, signFn bind.SignerFn, encodedOrders []byte, memos [][32]byte) (common.Hash, error) {
	return m.SubmitBatchMintFn(ctx, from, signFn, encodedOrders, memos)
}

func (m *mockEVM) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return m.GetTransactionReceiptFn(ctx, hash)
}

func (m *mockEVM) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	if m.CodeAtFn == nil {
		return []byte{1}, nil
	}
	return m.CodeAtFn(ctx, addr)
}

// mockBitcoin is a func-field Bitcoin adapter mock.
type mockBitcoin struct {
	AddressUtxosFn             func(ctx context.Context, address string, minConfirmations int64) ([]bitcoinadapter.Utxo, error)
	BroadcastTransactionFn     func(ctx context.Context, rawTxHex string) (*bitcoinadapter.BroadcastResult, error)
	TransactionConfirmationsFn func(ctx context.Context, txID string) (int64, error)
	BlockHeightFn              func(ctx context.Context) (int64, error)
	UpdateBalanceFn            func(ctx context.Context, address string) ([]bitcoinadapter.BalanceUpdate, error)
	RetrieveBtcFn              func(ctx context.Context, recipient string, amountSats uint64) (uint64, error)
	FeePercentilesFn           func(ctx context.Context) ([]uint64, error)
}

func (m *mockBitcoin) AddressUtxos(ctx context.Context, address string, minConfirmations int64) ([]bitcoinadapter.Utxo, error) {
	return m.AddressUtxosFn(ctx, address, minConfirmations)
}

func (m *mockBitcoin) BroadcastTransaction(ctx context.Context, rawTxHex string) (*bitcoinadapter.BroadcastResult, error) {
	return m.BroadcastTransactionFn(ctx, rawTxHex)
}

func (m *mockBitcoin) TransactionConfirmations(ctx context.Context, txID string) (int64, error) {
	return m.TransactionConfirmationsFn(ctx, txID)
}

func (m *mockBitcoin) BlockHeight(ctx context.Context) (int64, error) {
	return m.BlockHeightFn(ctx)
}

func (m *mockBitcoin) UpdateBalance(ctx context.Context, address string) ([]bitcoinadapter.BalanceUpdate, error) {
	return m.UpdateBalanceFn(ctx, address)
}

func (m *mockBitcoin) RetrieveBtc(ctx context.Context, recipient string, amountSats uint64) (uint64, error) {
	return m.RetrieveBtcFn(ctx, recipient, amountSats)
}

func (m *mockBitcoin) FeePercentiles(ctx context.Context) ([]uint64, error) {
	if m.FeePercentilesFn == nil {
		return nil, nil
	}
	return m.FeePercentilesFn(ctx)
}

// mockIndexers is a func-field Indexers mock.
type mockIndexers struct {
	ConfiguredVal  bool
	BRC20BalanceFn func(ctx context.Context, address, ticker string) (*indexer.Balance, error)
	RuneBalanceFn  func(ctx context.Context, address, runeName string) (*indexer.Balance, error)
}

func (m *mockIndexers) Configured() bool { return m.ConfiguredVal }

func (m *mockIndexers) BRC20Balance(ctx context.Context, address, ticker string) (*indexer.Balance, error) {
	return m.BRC20BalanceFn(ctx, address, ticker)
}

func (m *mockIndexers) RuneBalance(ctx context.Context, address, runeName string) (*indexer.Balance, error) {
	return m.RuneBalanceFn(ctx, address, runeName)
}

// mockLedger is a func-field Ledger mock.
type mockLedger struct {
	AllowanceFn    func(ctx context.Context, ledgerPrincipal, owner string) (string, error)
	FeeFn          func(ctx context.Context, ledgerPrincipal string) (string, error)
	TransferFromFn func(ctx context.Context, ledgerPrincipal, owner, amount, fee string) (uint64, error)
}

func (m *mockLedger) BridgeAccount() string { return "bridge-account" }

func (m *mockLedger) Allowance(ctx context.Context, ledgerPrincipal, owner string) (string, error) {
	return m.AllowanceFn(ctx, ledgerPrincipal, owner)
}

func (m *mockLedger) Fee(ctx context.Context, ledgerPrincipal string) (string, error) {
	return m.FeeFn(ctx, ledgerPrincipal)
}

func (m *mockLedger) TransferFrom(ctx context.Context, ledgerPrincipal, owner, amount, fee string) (uint64, error) {
	return m.TransferFromFn(ctx, ledgerPrincipal, owner, amount, fee)
}

// testSigner signs with a throwaway in-process key.
type testSigner struct {
	key *ecdsa.PrivateKey
}

func newTestSigner() *testSigner {
	key, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}
	return &testSigner{key: key}
}

func (s *testSigner) Sign(_ context.Context, digest [32]byte) ([65]byte, error) {
	sig, err := crypto.Sign(digest[:], s.key)
	if err != nil {
		return [65]byte{}, err
	}
	var out [65]byte
	copy(out[:], sig)
	if out[64] < 27 {
		out[64] += 27
	}
	return out, nil
}

func (s *testSigner) SignSchnorr(context.Context, [32]byte) ([64]byte, error) {
	return [64]byte{}, errors.New("schnorr not supported in tests")
}

func (s *testSigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}
