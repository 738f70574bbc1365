package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("db: not found")

// Store provides raw-SQL database operations for the bridge runtime. It
// backs the operation log, the scheduler's task queue, the nonce
// counter, and the Bitcoin-side ledgers; bun is used only for schema
// migrations (see pkg/pgutil/migrations), never for runtime traffic.
type Store struct {
	db *sql.DB
}

// NewStore opens and pings a Postgres connection.
func NewStore(connString string) (*Store, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for callers (e.g. migrations) that
// need it directly.
func (s *Store) DB() *sql.DB { return s.db }

// ---- operation log -------------------------------------------------------

// MemoCollisionError reports that a live operation already exists for the
// (address, memo) pair; ExistingID lets the caller treat the create as an
// idempotent no-op pointing at the earlier operation.
type MemoCollisionError struct {
	ExistingID int64
}

func (e *MemoCollisionError) Error() string {
	return fmt.Sprintf("db: operation with the same (address, memo) already exists: %d", e.ExistingID)
}

// CreateOperation inserts a new operation in the pending state. The memo
// uniqueness check and the insert run in one transaction so concurrent
// creators cannot both slip past the check.
func (s *Store) CreateOperation(ctx context.Context, op *OperationRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if op.Memo != nil {
		var existing int64
		const check = `SELECT id FROM incomplete_operations WHERE address = $1 AND memo = $2 LIMIT 1`
		err := tx.QueryRowContext(ctx, check, op.Address, *op.Memo).Scan(&existing)
		if err == nil {
			return &MemoCollisionError{ExistingID: existing}
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
	}

	const q = `
		INSERT INTO incomplete_operations (
			id, side, stage, status, address, memo, payload, attempts, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`
	now := time.Now()
	op.CreatedAt, op.UpdatedAt = now, now
	if _, err := tx.ExecContext(ctx, q,
		op.ID, op.Side, op.Stage, op.Status, op.Address, op.Memo, op.Payload, op.Attempts, now,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// GetOperation loads an in-flight operation by id.
func (s *Store) GetOperation(ctx context.Context, id int64) (*OperationRecord, error) {
	const q = `
		SELECT id, side, stage, status, address, memo, payload, attempts, last_error,
			created_at, updated_at, completed_at
		FROM incomplete_operations WHERE id = $1
	`
	op := &OperationRecord{}
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&op.ID, &op.Side, &op.Stage, &op.Status, &op.Address, &op.Memo, &op.Payload,
		&op.Attempts, &op.LastError, &op.CreatedAt, &op.UpdatedAt, &op.CompletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return op, nil
}

// GetOperationByAddress finds the most recent in-flight operation for an
// address, backing operations_by_address lookups (e.g. resuming a
// partially-completed deposit).
func (s *Store) GetOperationByAddress(ctx context.Context, address string) (*OperationRecord, error) {
	const q = `
		SELECT id, side, stage, status, address, memo, payload, attempts, last_error,
			created_at, updated_at, completed_at
		FROM incomplete_operations WHERE address = $1 ORDER BY created_at DESC LIMIT 1
	`
	op := &OperationRecord{}
	err := s.db.QueryRowContext(ctx, q, address).Scan(
		&op.ID, &op.Side, &op.Stage, &op.Status, &op.Address, &op.Memo, &op.Payload,
		&op.Attempts, &op.LastError, &op.CreatedAt, &op.UpdatedAt, &op.CompletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return op, nil
}

// GetOperationByAddressAndNonce locates the live operation whose id's low
// 32 bits equal nonce for the given address, the lookup a MintTokenEvent
// round-trips through (update_by_nonce in the runtime's vocabulary).
func (s *Store) GetOperationByAddressAndNonce(ctx context.Context, address string, nonce uint32) (*OperationRecord, error) {
	const q = `
		SELECT id, side, stage, status, address, memo, payload, attempts, last_error,
			created_at, updated_at, completed_at
		FROM incomplete_operations WHERE address = $1 AND (id & 4294967295) = $2
		ORDER BY created_at DESC LIMIT 1
	`
	op := &OperationRecord{}
	err := s.db.QueryRowContext(ctx, q, address, int64(nonce)).Scan(
		&op.ID, &op.Side, &op.Stage, &op.Status, &op.Address, &op.Memo, &op.Payload,
		&op.Attempts, &op.LastError, &op.CreatedAt, &op.UpdatedAt, &op.CompletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return op, nil
}

// ListOperationsForAddress pages through the live operations owned by an
// address, newest first.
func (s *Store) ListOperationsForAddress(ctx context.Context, address string, limit, offset int) ([]*OperationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT id, side, stage, status, address, memo, payload, attempts, last_error,
			created_at, updated_at, completed_at
		FROM incomplete_operations WHERE address = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`
	rows, err := s.db.QueryContext(ctx, q, address, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*OperationRecord
	for rows.Next() {
		op := &OperationRecord{}
		if err := rows.Scan(
			&op.ID, &op.Side, &op.Stage, &op.Status, &op.Address, &op.Memo, &op.Payload,
			&op.Attempts, &op.LastError, &op.CreatedAt, &op.UpdatedAt, &op.CompletedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

// GetOperationByMemo finds an in-flight operation by its correlation memo.
func (s *Store) GetOperationByMemo(ctx context.Context, memo string) (*OperationRecord, error) {
	const q = `
		SELECT id, side, stage, status, address, memo, payload, attempts, last_error,
			created_at, updated_at, completed_at
		FROM incomplete_operations WHERE memo = $1 ORDER BY created_at DESC LIMIT 1
	`
	op := &OperationRecord{}
	err := s.db.QueryRowContext(ctx, q, memo).Scan(
		&op.ID, &op.Side, &op.Stage, &op.Status, &op.Address, &op.Memo, &op.Payload,
		&op.Attempts, &op.LastError, &op.CreatedAt, &op.UpdatedAt, &op.CompletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return op, nil
}

// UpdateOperationStage advances an operation's stage and re-serialized
// payload after a successful state-machine transition.
func (s *Store) UpdateOperationStage(ctx context.Context, id int64, stage string, payload []byte) error {
	const q = `
		UPDATE incomplete_operations
		SET stage = $1, payload = $2, updated_at = $3, last_error = NULL
		WHERE id = $4
	`
	_, err := s.db.ExecContext(ctx, q, stage, payload, time.Now(), id)
	return err
}

// RecordOperationFailure bumps the attempt counter and stores the last
// error message without changing stage; the scheduler decides retry
// timing via the task row's not_before.
func (s *Store) RecordOperationFailure(ctx context.Context, id int64, errMsg string) error {
	const q = `
		UPDATE incomplete_operations
		SET attempts = attempts + 1, last_error = $1, updated_at = $2
		WHERE id = $3
	`
	_, err := s.db.ExecContext(ctx, q, errMsg, time.Now(), id)
	return err
}

// CompleteOperation moves an operation from incomplete_operations into
// the terminal operations_log, atomically, in one transaction.
func (s *Store) CompleteOperation(ctx context.Context, id int64, status OperationStatus, finalPayload []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var op OperationRecord
	const sel = `SELECT side, stage, address, memo, attempts FROM incomplete_operations WHERE id = $1 FOR UPDATE`
	if err := tx.QueryRowContext(ctx, sel, id).Scan(&op.Side, &op.Stage, &op.Address, &op.Memo, &op.Attempts); err != nil {
		return err
	}

	now := time.Now()
	const ins = `
		INSERT INTO operations_log (
			id, side, stage, status, address, memo, payload, attempts, created_at, updated_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, $9)
	`
	if _, err := tx.ExecContext(ctx, ins, id, op.Side, op.Stage, status, op.Address, op.Memo, finalPayload, op.Attempts, now); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM incomplete_operations WHERE id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_tasks WHERE operation_id = $1`, id); err != nil {
		return err
	}

	return tx.Commit()
}

// ---- scheduler task queue -------------------------------------------------

// TaskKindExists reports whether a pending_tasks row of the given kind is
// already queued, so a service task (CollectEvmLogs, RefreshEvmParams) is
// never enqueued twice across restarts.
func (s *Store) TaskKindExists(ctx context.Context, kind string) (bool, error) {
	var exists bool
	const q = `SELECT EXISTS(SELECT 1 FROM pending_tasks WHERE kind = $1)`
	if err := s.db.QueryRowContext(ctx, q, kind).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// EnqueueTask schedules an operation (or named service) task to run at
// or after notBefore.
func (s *Store) EnqueueTask(ctx context.Context, operationID int64, kind string, notBefore time.Time) error {
	const q = `
		INSERT INTO pending_tasks (operation_id, kind, not_before, attempt, created_at)
		VALUES ($1, $2, $3, 0, $4)
	`
	_, err := s.db.ExecContext(ctx, q, operationID, kind, notBefore, time.Now())
	return err
}

// LeaseNextTask claims the oldest due, unlocked task for owner using
// SELECT ... FOR UPDATE SKIP LOCKED, standing in for the single-threaded
// actor semantics the runtime's predecessor relied on: only one
// scheduler goroutine will ever see a given task at a time, and a crash
// mid-lease simply lets the lease expire and another tick re-claims it.
func (s *Store) LeaseNextTask(ctx context.Context, owner string, leaseDuration time.Duration) (*PendingTask, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()
	// Due tasks are claimed in id order, keeping execution deterministic
	// when many tasks share the same not_before.
	const sel = `
		SELECT id, operation_id, kind, not_before, attempt, locked_by, locked_until, created_at
		FROM pending_tasks
		WHERE not_before <= $1 AND (locked_until IS NULL OR locked_until < $1)
		ORDER BY id ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`
	t := &PendingTask{}
	err = tx.QueryRowContext(ctx, sel, now).Scan(
		&t.ID, &t.OperationID, &t.Kind, &t.NotBefore, &t.Attempt, &t.LockedBy, &t.LockedUntil, &t.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	until := now.Add(leaseDuration)
	const upd = `UPDATE pending_tasks SET locked_by = $1, locked_until = $2 WHERE id = $3`
	if _, err := tx.ExecContext(ctx, upd, owner, until, t.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	t.LockedBy, t.LockedUntil = &owner, &until
	return t, nil
}

// ReleaseTask removes a task once its operation step has been applied.
func (s *Store) ReleaseTask(ctx context.Context, taskID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_tasks WHERE id = $1`, taskID)
	return err
}

// BumpOperationTask pulls an operation's pending task forward to
// notBefore, clearing any lease so the next tick picks it up. Returns
// ErrNotFound if the operation has no queued task.
func (s *Store) BumpOperationTask(ctx context.Context, operationID int64, notBefore time.Time) error {
	const q = `
		UPDATE pending_tasks
		SET not_before = $1, locked_by = NULL, locked_until = NULL
		WHERE operation_id = $2 AND kind = 'operation'
	`
	res, err := s.db.ExecContext(ctx, q, notBefore, operationID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RescheduleTask bumps the attempt counter and moves a task's
// not_before forward per the backoff policy, clearing its lease.
func (s *Store) RescheduleTask(ctx context.Context, taskID int64, notBefore time.Time) error {
	const q = `
		UPDATE pending_tasks
		SET not_before = $1, attempt = attempt + 1, locked_by = NULL, locked_until = NULL
		WHERE id = $2
	`
	_, err := s.db.ExecContext(ctx, q, notBefore, taskID)
	return err
}

// ---- nonce counter ---------------------------------------------------------

// NextNonce atomically increments and returns the 32-bit nonce that
// becomes the low bits of the next minted pkg/operation.ID.
func (s *Store) NextNonce(ctx context.Context) (int64, error) {
	const q = `
		INSERT INTO nonce_counter (id, value) VALUES (1, 1)
		ON CONFLICT (id) DO UPDATE SET value = nonce_counter.value + 1
		RETURNING value
	`
	var v int64
	err := s.db.QueryRowContext(ctx, q).Scan(&v)
	return v, err
}

// ---- signing key and owner config ------------------------------------------

// LoadMasterKey returns the sealed signing key, or ErrNotFound if none
// has been provisioned yet.
func (s *Store) LoadMasterKey(ctx context.Context) (string, error) {
	var sealed string
	err := s.db.QueryRowContext(ctx, `SELECT sealed FROM master_key WHERE id = 1`).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return sealed, err
}

// SaveMasterKey persists a freshly generated sealed signing key.
func (s *Store) SaveMasterKey(ctx context.Context, sealed string) error {
	const q = `
		INSERT INTO master_key (id, sealed) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET sealed = $1
	`
	_, err := s.db.ExecContext(ctx, q, sealed)
	return err
}

// GetConfigValue reads a single owner-configured key/value entry (e.g.
// the bridge contract address, once set via the control plane).
func (s *Store) GetConfigValue(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return value, err
}

// SetConfigValue upserts an owner-configured key/value entry.
func (s *Store) SetConfigValue(ctx context.Context, key string, value []byte) error {
	const q = `
		INSERT INTO config (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = $3
	`
	_, err := s.db.ExecContext(ctx, q, key, value, time.Now())
	return err
}

// ---- UTXO ledger -----------------------------------------------------------

// AddUtxo inserts a newly observed unspent output.
func (s *Store) AddUtxo(ctx context.Context, u *Utxo) error {
	const q = `
		INSERT INTO utxo_ledger (txid, vout, value_sats, address, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (txid, vout) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, q, u.TxID, u.Vout, u.ValueSats, u.Address, time.Now())
	return err
}

// SpendableUtxos lists unspent outputs for address ordered largest first,
// for coin selection when funding a reveal or withdrawal transaction.
func (s *Store) SpendableUtxos(ctx context.Context, address string) ([]*Utxo, error) {
	const q = `
		SELECT txid, vout, value_sats, address, spent_by, created_at
		FROM utxo_ledger
		WHERE address = $1 AND spent_by IS NULL
		ORDER BY value_sats DESC
	`
	rows, err := s.db.QueryContext(ctx, q, address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Utxo
	for rows.Next() {
		u := &Utxo{}
		if err := rows.Scan(&u.TxID, &u.Vout, &u.ValueSats, &u.Address, &u.SpentBy, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// MarkUtxoSpent records that txid consumed the given output, and claims
// it for operationID in used_utxos so a retried operation never
// double-spends.
func (s *Store) MarkUtxoSpent(ctx context.Context, txid string, vout int, spendingTxID string, operationID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE utxo_ledger SET spent_by = $1 WHERE txid = $2 AND vout = $3`, spendingTxID, txid, vout); err != nil {
		return err
	}
	const ins = `
		INSERT INTO used_utxos (txid, vout, operation_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (txid, vout) DO NOTHING
	`
	if _, err := tx.ExecContext(ctx, ins, txid, vout, operationID, time.Now()); err != nil {
		return err
	}
	return tx.Commit()
}

// IsUtxoUsed reports whether the output is already claimed in used_utxos,
// the double-spend guard consulted before any mint order is emitted
// against a deposit UTXO.
func (s *Store) IsUtxoUsed(ctx context.Context, txid string, vout int) (bool, error) {
	var exists bool
	const q = `SELECT EXISTS(SELECT 1 FROM used_utxos WHERE txid = $1 AND vout = $2)`
	if err := s.db.QueryRowContext(ctx, q, txid, vout).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// MarkUtxoUsed claims an output for operationID in used_utxos without
// touching the spendable ledger, for deposit UTXOs the bridge observes
// but never held as its own spendable funds.
func (s *Store) MarkUtxoUsed(ctx context.Context, txid string, vout int, operationID int64) error {
	const q = `
		INSERT INTO used_utxos (txid, vout, operation_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (txid, vout) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, q, txid, vout, operationID, time.Now())
	return err
}

// OverlappingUtxos returns outputs that are still marked spendable in
// utxo_ledger while also claimed in used_utxos, a state the ledger
// invariant forbids; the reconciler surfaces any hits.
func (s *Store) OverlappingUtxos(ctx context.Context) ([]*UsedUtxo, error) {
	const q = `
		SELECT u.txid, u.vout, u.operation_id, u.created_at
		FROM used_utxos u
		JOIN utxo_ledger l ON l.txid = u.txid AND l.vout = u.vout
		WHERE l.spent_by IS NULL
	`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*UsedUtxo
	for rows.Next() {
		u := &UsedUtxo{}
		if err := rows.Scan(&u.TxID, &u.Vout, &u.OperationID, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// CountIncompleteOperations reports live operations per stage for the
// reconciler's drift logging.
func (s *Store) CountIncompleteOperations(ctx context.Context) (map[string]int, error) {
	const q = `SELECT stage, COUNT(*) FROM incomplete_operations GROUP BY stage`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var stage string
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, err
		}
		out[stage] = n
	}
	return out, rows.Err()
}

// ---- BRC-20/Rune reveal tracking ------------------------------------------

// AddRevealUtxo records a commit output awaiting its reveal transaction.
func (s *Store) AddRevealUtxo(ctx context.Context, r *RevealUtxo) error {
	const q = `
		INSERT INTO reveal_utxos (commit_txid, commit_vout, reveal_txid, operation_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, q, r.CommitTxID, r.CommitVout, r.RevealTxID, r.OperationID, time.Now())
	return err
}

// SetRevealTxID attaches the broadcast reveal transaction id.
func (s *Store) SetRevealTxID(ctx context.Context, commitTxID string, commitVout int, revealTxID string) error {
	const q = `UPDATE reveal_utxos SET reveal_txid = $1 WHERE commit_txid = $2 AND commit_vout = $3`
	_, err := s.db.ExecContext(ctx, q, revealTxID, commitTxID, commitVout)
	return err
}

// MoveRevealToUsed atomically retires a confirmed reveal output into the
// used_utxos set once the transfer transaction spending it has been
// broadcast, keeping an outpoint in at most one of the two ledgers.
func (s *Store) MoveRevealToUsed(ctx context.Context, revealTxID string, revealVout int, operationID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM reveal_utxos WHERE reveal_txid = $1`, revealTxID); err != nil {
		return err
	}
	const ins = `
		INSERT INTO used_utxos (txid, vout, operation_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (txid, vout) DO NOTHING
	`
	if _, err := tx.ExecContext(ctx, ins, revealTxID, revealVout, operationID, time.Now()); err != nil {
		return err
	}
	return tx.Commit()
}

// ---- BRC-20/Rune indexer cache --------------------------------------------

// CacheIndexerEntry stores the consensus-agreed decode for an inscribed outpoint.
func (s *Store) CacheIndexerEntry(ctx context.Context, e *Brc20RuneEntry) error {
	const q = `
		INSERT INTO brc20_rune_store (txid, vout, ticker, amount, kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (txid, vout) DO UPDATE SET ticker = $3, amount = $4, kind = $5
	`
	_, err := s.db.ExecContext(ctx, q, e.TxID, e.Vout, e.Ticker, e.Amount, e.Kind, time.Now())
	return err
}

// ---- mint orders -----------------------------------------------------------

// InsertMintOrder persists a signed order awaiting batch submission.
func (s *Store) InsertMintOrder(ctx context.Context, m *MintOrderRecord) error {
	const q = `
		INSERT INTO mint_orders (operation_id, sender, src_token, digest, order_bytes, signature_hex, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	return s.db.QueryRowContext(ctx, q, m.OperationID, m.Sender, m.SrcToken, m.Digest, m.OrderBytes, m.SignatureHex, time.Now()).Scan(&m.ID)
}

// ListMintOrders returns every signed order for a (sender, src_token)
// pair, backing the control plane's mint-order listing.
func (s *Store) ListMintOrders(ctx context.Context, sender, srcToken string) ([]*MintOrderRecord, error) {
	const q = `
		SELECT id, operation_id, sender, src_token, digest, order_bytes, signature_hex, batch_tx_hash, created_at, submitted_at
		FROM mint_orders WHERE sender = $1 AND src_token = $2
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, q, sender, srcToken)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*MintOrderRecord
	for rows.Next() {
		m := &MintOrderRecord{}
		if err := rows.Scan(&m.ID, &m.OperationID, &m.Sender, &m.SrcToken, &m.Digest, &m.OrderBytes, &m.SignatureHex, &m.BatchTxHash, &m.CreatedAt, &m.SubmittedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMintOrder narrows ListMintOrders to one operation's order.
func (s *Store) GetMintOrder(ctx context.Context, sender, srcToken string, operationID int64) (*MintOrderRecord, error) {
	const q = `
		SELECT id, operation_id, sender, src_token, digest, order_bytes, signature_hex, batch_tx_hash, created_at, submitted_at
		FROM mint_orders WHERE sender = $1 AND src_token = $2 AND operation_id = $3
		ORDER BY created_at DESC LIMIT 1
	`
	m := &MintOrderRecord{}
	err := s.db.QueryRowContext(ctx, q, sender, srcToken, operationID).Scan(
		&m.ID, &m.OperationID, &m.Sender, &m.SrcToken, &m.Digest, &m.OrderBytes, &m.SignatureHex, &m.BatchTxHash, &m.CreatedAt, &m.SubmittedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// PendingMintOrdersByDigest returns unsubmitted orders sharing digest,
// the batching key that lets one transaction mint all of them.
func (s *Store) PendingMintOrdersByDigest(ctx context.Context, digest string) ([]*MintOrderRecord, error) {
	const q = `
		SELECT id, operation_id, sender, src_token, digest, order_bytes, signature_hex, batch_tx_hash, created_at, submitted_at
		FROM mint_orders WHERE digest = $1 AND batch_tx_hash IS NULL
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, q, digest)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*MintOrderRecord
	for rows.Next() {
		m := &MintOrderRecord{}
		if err := rows.Scan(&m.ID, &m.OperationID, &m.Sender, &m.SrcToken, &m.Digest, &m.OrderBytes, &m.SignatureHex, &m.BatchTxHash, &m.CreatedAt, &m.SubmittedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkMintOrdersSubmitted attaches the batch transaction hash to a set
// of orders once batchMint has been broadcast.
func (s *Store) MarkMintOrdersSubmitted(ctx context.Context, ids []int64, txHash string) error {
	const q = `UPDATE mint_orders SET batch_tx_hash = $1, submitted_at = $2 WHERE id = ANY($3)`
	_, err := s.db.ExecContext(ctx, q, txHash, time.Now(), pq.Array(ids))
	return err
}

// ApplyMintBatchSent performs the post-send step for one batchMint
// transaction as a single transaction: the order rows are marked
// submitted, every related operation's stage transition is written, and
// each operation's next task is enqueued. Operations sharing a batch
// therefore advance all-or-nothing, whatever happens to the process in
// between.
func (s *Store) ApplyMintBatchSent(ctx context.Context, orderIDs []int64, txHash string, advances []OperationAdvance, enqueueAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	const markOrders = `UPDATE mint_orders SET batch_tx_hash = $1, submitted_at = $2 WHERE id = ANY($3)`
	if _, err := tx.ExecContext(ctx, markOrders, txHash, now, pq.Array(orderIDs)); err != nil {
		return err
	}

	const advanceOp = `
		UPDATE incomplete_operations
		SET stage = $1, payload = $2, updated_at = $3, last_error = NULL
		WHERE id = $4
	`
	const enqueue = `
		INSERT INTO pending_tasks (operation_id, kind, not_before, attempt, created_at)
		VALUES ($1, 'operation', $2, 0, $3)
	`
	for _, adv := range advances {
		if _, err := tx.ExecContext(ctx, advanceOp, adv.Stage, adv.Payload, now, adv.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, enqueue, adv.ID, enqueueAt, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ---- burn requests ---------------------------------------------------------

// InsertBurnRequest records a Burnt event observed on the destination chain.
func (s *Store) InsertBurnRequest(ctx context.Context, b *BurnRequest) error {
	const q = `
		INSERT INTO burn_requests (
			operation_id, tx_hash, log_index, sender, recipient, amount, dst_token, block_number, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tx_hash, log_index) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, q, b.OperationID, b.TxHash, b.LogIndex, b.Sender, b.Recipient, b.Amount, b.DstToken, b.BlockNumber, time.Now())
	return err
}
