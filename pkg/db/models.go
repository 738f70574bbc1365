// Package db holds the Postgres-backed persistence models for the bridge
// runtime: the operation log, the scheduler's task queue, the nonce
// counter, and the source-chain ledgers (UTXO/BRC-20/Rune) that back
// deposit detection.
package db

import (
	"time"
)

// OperationStatus is the lifecycle state of a persisted operation.
type OperationStatus string

const (
	OperationStatusPending   OperationStatus = "pending"
	OperationStatusScheduled OperationStatus = "scheduled"
	OperationStatusDone      OperationStatus = "done"
	OperationStatusFailed    OperationStatus = "failed"
)

// OperationRecord is a row in incomplete_operations (while in flight) or
// operations_log (once terminal). The Payload column carries the
// JSON envelope written by pkg/operation.MarshalPayload for the variant
// in question.
type OperationRecord struct {
	ID            int64           `db:"id"` // encodes pkg/operation.ID
	Side          string          `db:"side"`
	Stage         string          `db:"stage"`
	Status        OperationStatus `db:"status"`
	Address       string          `db:"address"` // owning EVM/BTC address, indexed on incomplete_operations
	Memo          *string         `db:"memo"`    // optional correlation key, indexed on incomplete_operations
	Payload       []byte          `db:"payload"`
	Attempts      int             `db:"attempts"`
	LastError     *string         `db:"last_error"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
	CompletedAt   *time.Time      `db:"completed_at"`
}

// PendingTask is a row in pending_tasks: the scheduler's work queue.
// NotBefore implements the backoff policy; LockedBy/LockedUntil implement
// the SELECT ... FOR UPDATE SKIP LOCKED lease.
type PendingTask struct {
	ID          int64      `db:"id"`
	OperationID int64      `db:"operation_id"`
	Kind        string     `db:"kind"` // "operation" or a named service task
	NotBefore   time.Time  `db:"not_before"`
	Attempt     int        `db:"attempt"`
	LockedBy    *string    `db:"locked_by"`
	LockedUntil *time.Time `db:"locked_until"`
	CreatedAt   time.Time  `db:"created_at"`
}

// NonceCounter is the single-row 32-bit nonce generator whose value
// occupies the low bits of every pkg/operation.ID minted by this runtime.
type NonceCounter struct {
	ID    int32 `db:"id"` // always 1
	Value int64 `db:"value"`
}

// Utxo is a tracked unspent output on the Bitcoin source chain, part of
// the runtime's own UTXO ledger (it does not trust the node's wallet).
type Utxo struct {
	TxID      string    `db:"txid"`
	Vout      int       `db:"vout"`
	ValueSats int64     `db:"value_sats"`
	Address   string    `db:"address"`
	SpentBy   *string   `db:"spent_by"` // txid that consumed this output, if any
	CreatedAt time.Time `db:"created_at"`
}

// UsedUtxo records a UTXO that has been committed to an in-flight reveal
// or withdrawal transaction, preventing double-spend across retries.
type UsedUtxo struct {
	TxID        string    `db:"txid"`
	Vout        int       `db:"vout"`
	OperationID int64     `db:"operation_id"`
	CreatedAt   time.Time `db:"created_at"`
}

// RevealUtxo tracks the commit output of a BRC-20/Rune two-phase
// inscription reveal while its reveal transaction is pending confirmation.
type RevealUtxo struct {
	CommitTxID string    `db:"commit_txid"`
	CommitVout int       `db:"commit_vout"`
	RevealTxID *string   `db:"reveal_txid"`
	OperationID int64    `db:"operation_id"`
	CreatedAt  time.Time `db:"created_at"`
}

// Brc20RuneEntry caches a BRC-20/Rune indexer's decoded balance or
// transfer-inscription entry, keyed by the outpoint it inscribes, so
// the consensus check only has to compare canonical decodes.
type Brc20RuneEntry struct {
	TxID      string    `db:"txid"`
	Vout      int       `db:"vout"`
	Ticker    string    `db:"ticker"`
	Amount    string    `db:"amount"` // decimal string, shopspring/decimal scale preserved
	Kind      string    `db:"kind"`   // "brc20" or "rune"
	CreatedAt time.Time `db:"created_at"`
}

// MintOrderRecord persists a signed mint order awaiting batching or
// already included in a submitted batchMint transaction.
type MintOrderRecord struct {
	ID            int64      `db:"id"`
	OperationID   int64      `db:"operation_id"`
	Sender        string     `db:"sender"`    // source-chain sender identifier, hex
	SrcToken      string     `db:"src_token"` // source token identifier, hex
	Digest        string     `db:"digest"`    // hex keccak256, batching key
	OrderBytes    []byte     `db:"order_bytes"`
	SignatureHex  string     `db:"signature_hex"`
	BatchTxHash   *string    `db:"batch_tx_hash"`
	CreatedAt     time.Time  `db:"created_at"`
	SubmittedAt   *time.Time `db:"submitted_at"`
}

// OperationAdvance is one operation's pre-encoded stage transition,
// applied together with its batch siblings in a single transaction by
// Store.ApplyMintBatchSent.
type OperationAdvance struct {
	ID      int64
	Stage   string
	Payload []byte
}

// BurnRequest records a Burnt event observed on the destination EVM
// chain, pending progression to a source-chain release.
type BurnRequest struct {
	ID            int64     `db:"id"`
	OperationID   int64     `db:"operation_id"`
	TxHash        string    `db:"tx_hash"`
	LogIndex      int       `db:"log_index"`
	Sender        string    `db:"sender"`
	Recipient     string    `db:"recipient"`
	Amount        string    `db:"amount"`
	DstToken      string    `db:"dst_token"`
	BlockNumber   int64     `db:"block_number"`
	CreatedAt     time.Time `db:"created_at"`
}
