// Package dao holds the bun-tagged models used only by the schema
// migrations in pkg/migrations/relayerdb; runtime traffic goes through
// pkg/db.Store's hand-written SQL instead.
package dao

import "time"

// IncompleteOperationDao maps to incomplete_operations.
type IncompleteOperationDao struct {
	tableName struct{} `bun:"table:incomplete_operations"` //nolint

	ID          int64      `bun:",pk"`
	Side        string     `bun:",notnull,type:varchar(32)"`
	Stage       string     `bun:",notnull,type:varchar(64)"`
	Status      string     `bun:",notnull,type:varchar(32)"`
	Address     string     `bun:",notnull,type:varchar(128)"`
	Memo        *string    `bun:"memo,type:varchar(128)"`
	Payload     []byte     `bun:",notnull"`
	Attempts    int        `bun:",notnull,default:0"`
	LastError   *string    `bun:"last_error,type:text"`
	CreatedAt   time.Time  `bun:",notnull,default:current_timestamp"`
	UpdatedAt   time.Time  `bun:",notnull,default:current_timestamp"`
	CompletedAt *time.Time `bun:"completed_at"`
}

// OperationLogDao maps to operations_log, the terminal-state archive.
type OperationLogDao struct {
	tableName struct{} `bun:"table:operations_log"` //nolint

	ID          int64      `bun:",pk"`
	Side        string     `bun:",notnull,type:varchar(32)"`
	Stage       string     `bun:",notnull,type:varchar(64)"`
	Status      string     `bun:",notnull,type:varchar(32)"`
	Address     string     `bun:",notnull,type:varchar(128)"`
	Memo        *string    `bun:"memo,type:varchar(128)"`
	Payload     []byte     `bun:",notnull"`
	Attempts    int        `bun:",notnull,default:0"`
	CreatedAt   time.Time  `bun:",notnull,default:current_timestamp"`
	UpdatedAt   time.Time  `bun:",notnull,default:current_timestamp"`
	CompletedAt *time.Time `bun:"completed_at"`
}

// PendingTaskDao maps to pending_tasks, the scheduler's queue.
type PendingTaskDao struct {
	tableName struct{} `bun:"table:pending_tasks"` //nolint

	ID          int64      `bun:",pk,autoincrement"`
	OperationID int64      `bun:"operation_id,notnull"`
	Kind        string     `bun:",notnull,type:varchar(64)"`
	NotBefore   time.Time  `bun:"not_before,notnull"`
	Attempt     int        `bun:",notnull,default:0"`
	LockedBy    *string    `bun:"locked_by,type:varchar(128)"`
	LockedUntil *time.Time `bun:"locked_until"`
	CreatedAt   time.Time  `bun:",notnull,default:current_timestamp"`
}

// NonceCounterDao maps to nonce_counter, a single-row sequence.
type NonceCounterDao struct {
	tableName struct{} `bun:"table:nonce_counter"` //nolint

	ID    int32 `bun:",pk"`
	Value int64 `bun:",notnull,default:0"`
}

// ConfigDao maps to config, the owner-managed key/value configuration store.
type ConfigDao struct {
	tableName struct{} `bun:"table:config"` //nolint

	Key       string    `bun:",pk,type:varchar(128)"`
	Value     []byte    `bun:",notnull"`
	UpdatedAt time.Time `bun:",notnull,default:current_timestamp"`
}

// MasterKeyDao maps to master_key, the single-row AES-256-GCM-sealed signing key.
type MasterKeyDao struct {
	tableName struct{} `bun:"table:master_key"` //nolint

	ID     int32  `bun:",pk"`
	Sealed string `bun:",notnull,type:text"`
}

// UtxoLedgerDao maps to utxo_ledger.
type UtxoLedgerDao struct {
	tableName struct{} `bun:"table:utxo_ledger"` //nolint

	TxID      string    `bun:"txid,pk,type:varchar(64)"`
	Vout      int       `bun:",pk"`
	ValueSats int64     `bun:"value_sats,notnull"`
	Address   string    `bun:",notnull,type:varchar(128)"`
	SpentBy   *string   `bun:"spent_by,type:varchar(64)"`
	CreatedAt time.Time `bun:",notnull,default:current_timestamp"`
}

// UsedUtxoDao maps to used_utxos.
type UsedUtxoDao struct {
	tableName struct{} `bun:"table:used_utxos"` //nolint

	TxID        string    `bun:"txid,pk,type:varchar(64)"`
	Vout        int       `bun:",pk"`
	OperationID int64     `bun:"operation_id,notnull"`
	CreatedAt   time.Time `bun:",notnull,default:current_timestamp"`
}

// RevealUtxoDao maps to reveal_utxos.
type RevealUtxoDao struct {
	tableName struct{} `bun:"table:reveal_utxos"` //nolint

	CommitTxID  string  `bun:"commit_txid,pk,type:varchar(64)"`
	CommitVout  int     `bun:"commit_vout,pk"`
	RevealTxID  *string `bun:"reveal_txid,type:varchar(64)"`
	OperationID int64   `bun:"operation_id,notnull"`
	CreatedAt   time.Time `bun:",notnull,default:current_timestamp"`
}

// Brc20RuneStoreDao maps to brc20_rune_store.
type Brc20RuneStoreDao struct {
	tableName struct{} `bun:"table:brc20_rune_store"` //nolint

	TxID      string    `bun:"txid,pk,type:varchar(64)"`
	Vout      int       `bun:",pk"`
	Ticker    string    `bun:",notnull,type:varchar(64)"`
	Amount    string    `bun:",notnull,type:varchar(128)"`
	Kind      string    `bun:",notnull,type:varchar(16)"`
	CreatedAt time.Time `bun:",notnull,default:current_timestamp"`
}

// MintOrderDao maps to mint_orders.
type MintOrderDao struct {
	tableName struct{} `bun:"table:mint_orders"` //nolint

	ID           int64      `bun:",pk,autoincrement"`
	OperationID  int64      `bun:"operation_id,notnull"`
	Sender       string     `bun:",notnull,type:varchar(66),default:''"`
	SrcToken     string     `bun:"src_token,notnull,type:varchar(66),default:''"`
	Digest       string     `bun:",notnull,type:varchar(66)"`
	OrderBytes   []byte     `bun:"order_bytes,notnull"`
	SignatureHex string     `bun:"signature_hex,notnull,type:varchar(132)"`
	BatchTxHash  *string    `bun:"batch_tx_hash,type:varchar(66)"`
	CreatedAt    time.Time  `bun:",notnull,default:current_timestamp"`
	SubmittedAt  *time.Time `bun:"submitted_at"`
}

// BurnRequestDao maps to burn_requests.
type BurnRequestDao struct {
	tableName struct{} `bun:"table:burn_requests"` //nolint

	ID          int64     `bun:",pk,autoincrement"`
	OperationID int64     `bun:"operation_id,notnull"`
	TxHash      string    `bun:"tx_hash,notnull,type:varchar(66)"`
	LogIndex    int       `bun:"log_index,notnull"`
	Sender      string    `bun:",notnull,type:varchar(128)"`
	Recipient   string    `bun:",notnull,type:varchar(128)"`
	Amount      string    `bun:",notnull,type:varchar(128)"`
	DstToken    string    `bun:"dst_token,notnull,type:varchar(64)"`
	BlockNumber int64     `bun:"block_number,notnull"`
	CreatedAt   time.Time `bun:",notnull,default:current_timestamp"`
}
