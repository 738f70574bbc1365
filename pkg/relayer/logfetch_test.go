package relayer

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnibridge/bridge-runtime/pkg/ethereum"
)

func latestBlockResult(latest uint64) []ethereum.BatchQueryResult {
	return []ethereum.BatchQueryResult{
		{Type: ethereum.QueryGasPrice},
		{Type: ethereum.QueryChainID},
		{Type: ethereum.QueryLatestBlock, LatestBlock: latest},
		{Type: ethereum.QueryNonce},
	}
}

func TestCollectLogsAdvancesCursor(t *testing.T) {
	ctx := context.Background()

	tip := uint64(200)
	evm := &mockEVM{
		BatchQueryFn: func(context.Context, common.Address) ([]ethereum.BatchQueryResult, error) {
			return latestBlockResult(tip), nil
		},
	}
	engine, store := newTestEngine(t, &Deps{EVM: evm})

	require.NoError(t, engine.refreshEvmParams(ctx))
	require.NoError(t, engine.collectEvmLogs(ctx))

	// Cursor lands just past the last finalized block: 200 - 12 + 1.
	raw, err := store.GetConfigValue(ctx, configKeyNextBlock)
	require.NoError(t, err)
	assert.Equal(t, "189", string(raw))

	// The chain advances: the next refresh+poll cycle picks up the new
	// tip and keeps scanning.
	tip = 250
	require.NoError(t, engine.refreshEvmParams(ctx))
	require.NoError(t, engine.collectEvmLogs(ctx))
	raw, err = store.GetConfigValue(ctx, configKeyNextBlock)
	require.NoError(t, err)
	assert.Equal(t, "239", string(raw))

	// A shrinking tip view never moves the cursor backwards.
	tip = 150
	require.NoError(t, engine.refreshEvmParams(ctx))
	require.NoError(t, engine.collectEvmLogs(ctx))
	raw, err = store.GetConfigValue(ctx, configKeyNextBlock)
	require.NoError(t, err)
	assert.Equal(t, "239", string(raw))
}

func TestCollectLogsLeaseBlocksReentry(t *testing.T) {
	engine, _ := newTestEngine(t, &Deps{EVM: &mockEVM{
		BatchQueryFn: func(context.Context, common.Address) ([]ethereum.BatchQueryResult, error) {
			return latestBlockResult(200), nil
		},
	}})

	engine.collectingLogs.Store(true)
	// With the lease held, the collector returns immediately without error.
	require.NoError(t, engine.collectEvmLogs(context.Background()))
	// The lease is untouched by the early return.
	assert.True(t, engine.collectingLogs.Load())
}

func TestRefreshEvmParamsMarksReady(t *testing.T) {
	engine, store := newTestEngine(t, &Deps{EVM: &mockEVM{
		BatchQueryFn: func(context.Context, common.Address) ([]ethereum.BatchQueryResult, error) {
			return latestBlockResult(321), nil
		},
	}})

	assert.False(t, engine.IsReady())
	require.NoError(t, engine.refreshEvmParams(context.Background()))
	assert.True(t, engine.IsReady())

	raw, err := store.GetConfigValue(context.Background(), configKeyEvmParams)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"latest_block":321`)
}
