package relayer

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/omnibridge/bridge-runtime/pkg/bridgeerr"
	"github.com/omnibridge/bridge-runtime/pkg/ethereum"
)

const configKeyEvmParams = "evm_params"

// evmParams is the cached snapshot the EVM Params Refresh Service
// maintains in the Config Store, read by anything that needs a recent
// gas price or chain id without issuing its own RPC round trip.
type evmParams struct {
	GasPriceWei string `json:"gas_price_wei"`
	ChainID     int64  `json:"chain_id"`
	LatestBlock uint64 `json:"latest_block"`
}

// refreshEvmParams implements the EVM params refresh service: a
// batch_query against the destination chain, written into the Config
// Store under a single key so every other component reads a consistent
// snapshot instead of racing its own RPC calls.
func (e *Engine) refreshEvmParams(ctx context.Context) error {
	if !e.refreshingParams.CompareAndSwap(false, true) {
		return nil
	}
	defer e.refreshingParams.Store(false)

	results, err := e.deps.EVM.BatchQuery(ctx, e.deps.Signer.Address())
	if err != nil {
		return err
	}

	var p evmParams
	for _, r := range results {
		if r.Err != nil {
			e.deps.Logger.Warn("evm batch_query entry failed", zap.Int("query_type", int(r.Type)), zap.Error(r.Err))
			continue
		}
		switch r.Type {
		case ethereum.QueryGasPrice:
			if r.GasPrice != nil {
				p.GasPriceWei = r.GasPrice.String()
			}
		case ethereum.QueryChainID:
			if r.ChainID != nil {
				p.ChainID = r.ChainID.Int64()
			}
		case ethereum.QueryLatestBlock:
			p.LatestBlock = r.LatestBlock
		}
	}

	encoded, err := json.Marshal(p)
	if err != nil {
		return bridgeerr.Serialization(err, "encode evm params")
	}
	if err := e.deps.Store.SetConfigValue(ctx, configKeyEvmParams, encoded); err != nil {
		return err
	}

	// Every refresh replaces the cached tip; the scan cursor's own
	// monotonicity guard keeps a briefly lagging provider from rewinding
	// log collection.
	e.nextBlock.Store(p.LatestBlock)
	e.ready.Store(true)
	e.deps.Logger.Debug("evm params refreshed", zap.Int64("chain_id", p.ChainID), zap.Uint64("latest_block", p.LatestBlock))
	return nil
}
