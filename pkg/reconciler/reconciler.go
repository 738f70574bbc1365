// Package reconciler keeps the runtime's persisted source-chain state in
// agreement with what the Bitcoin adapter actually sees: it refreshes the
// bridge's own spendable UTXO ledger and sweeps the ledger invariants
// that must hold between runs.
package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/omnibridge/bridge-runtime/pkg/bitcoinadapter"
	"github.com/omnibridge/bridge-runtime/pkg/db"
)

// BitcoinSource is the adapter surface reconciliation reads from.
type BitcoinSource interface {
	AddressUtxos(ctx context.Context, address string, minConfirmations int64) ([]bitcoinadapter.Utxo, error)
}

// Store is the persistence surface reconciliation reads and repairs.
type Store interface {
	AddUtxo(ctx context.Context, u *db.Utxo) error
	SpendableUtxos(ctx context.Context, address string) ([]*db.Utxo, error)
	OverlappingUtxos(ctx context.Context) ([]*db.UsedUtxo, error)
	CountIncompleteOperations(ctx context.Context) (map[string]int, error)
}

// Reconciler handles synchronization between adapter state and the DB ledgers.
type Reconciler struct {
	store          Store
	bitcoin        BitcoinSource
	fundingAddress string
	logger         *zap.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a new Reconciler. fundingAddress may be empty, which
// disables the UTXO refresh (invariant sweeps still run).
func New(store Store, bitcoin BitcoinSource, fundingAddress string, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:          store,
		bitcoin:        bitcoin,
		fundingAddress: fundingAddress,
		logger:         logger,
		stopCh:         make(chan struct{}),
	}
}

// ReconcileAll refreshes the UTXO ledger from the adapter and sweeps the
// persisted invariants.
func (r *Reconciler) ReconcileAll(ctx context.Context) error {
	r.logger.Info("Starting reconciliation")
	start := time.Now()

	if err := r.RefreshUtxoLedger(ctx); err != nil {
		return err
	}
	if err := r.SweepInvariants(ctx); err != nil {
		return err
	}

	r.logger.Info("Reconciliation completed", zap.Duration("duration", time.Since(start)))
	return nil
}

// RefreshUtxoLedger pulls the adapter's current view of the bridge's
// funding address and records any outputs the ledger has not seen yet.
func (r *Reconciler) RefreshUtxoLedger(ctx context.Context) error {
	if r.fundingAddress == "" || r.bitcoin == nil {
		return nil
	}

	utxos, err := r.bitcoin.AddressUtxos(ctx, r.fundingAddress, 1)
	if err != nil {
		return fmt.Errorf("fetch adapter utxos: %w", err)
	}

	var added int
	for _, u := range utxos {
		if err := r.store.AddUtxo(ctx, &db.Utxo{
			TxID:      u.TxID,
			Vout:      int(u.Vout),
			ValueSats: u.ValueSats,
			Address:   r.fundingAddress,
		}); err != nil {
			r.logger.Warn("record utxo failed",
				zap.String("txid", u.TxID), zap.Uint32("vout", u.Vout), zap.Error(err))
			continue
		}
		added++
	}

	r.logger.Debug("UTXO ledger refreshed",
		zap.Int("adapter_utxos", len(utxos)),
		zap.Int("recorded", added))
	return nil
}

// SweepInvariants verifies the persisted-state invariants that survive
// restarts: no output may be both spendable and used, and the live
// operation population is logged for drift monitoring.
func (r *Reconciler) SweepInvariants(ctx context.Context) error {
	overlapping, err := r.store.OverlappingUtxos(ctx)
	if err != nil {
		return fmt.Errorf("check utxo disjointness: %w", err)
	}
	for _, u := range overlapping {
		r.logger.Error("utxo present in both spendable and used ledgers",
			zap.String("txid", u.TxID),
			zap.Int("vout", u.Vout),
			zap.Int64("operation_id", u.OperationID))
	}

	counts, err := r.store.CountIncompleteOperations(ctx)
	if err != nil {
		return fmt.Errorf("count live operations: %w", err)
	}
	for stage, n := range counts {
		r.logger.Debug("live operations", zap.String("stage", stage), zap.Int("count", n))
	}
	return nil
}

// StartPeriodicReconciliation starts a background goroutine that reconciles periodically.
func (r *Reconciler) StartPeriodicReconciliation(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		r.logger.Info("Started periodic reconciliation", zap.Duration("interval", interval))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
				if err := r.ReconcileAll(ctx); err != nil {
					r.logger.Error("Periodic reconciliation failed", zap.Error(err))
				}
				cancel()
			case <-r.stopCh:
				r.logger.Info("Stopping periodic reconciliation")
				return
			}
		}
	}()
}

// Stop stops the periodic reconciliation.
func (r *Reconciler) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}
