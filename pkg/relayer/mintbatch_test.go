package relayer

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnibridge/bridge-runtime/pkg/bridgeerr"
	"github.com/omnibridge/bridge-runtime/pkg/mintorder"
	"github.com/omnibridge/bridge-runtime/pkg/operation"
)

func testOrder(nonce uint32) *mintorder.Order {
	return buildMintOrder("1000", mintorder.PadName("sender"), mintorder.PadName("A"), common.HexToAddress("0xEE"), "A", "A", 0, nonce, 355113)
}

func TestBatchCoalescesSameDstToken(t *testing.T) {
	ctx := context.Background()

	var submissions int
	var submittedLen int
	evm := &mockEVM{
		SubmitBatchMintFn: func(_ context.Context, _ common.Address, _ bind.SignerFn, encodedOrders []byte, memos [][32]byte) (common.Hash, error) {
			submissions++
			submittedLen = len(encodedOrders)
			assert.Len(t, memos, 2)
			return common.HexToHash("0xbatchtx"), nil
		},
	}
	engine, store := newTestEngine(t, &Deps{EVM: evm})

	// Two live operations whose orders share a batch key.
	d1 := operation.NewRuneDeposit("rune_deposit", "0xE1", "bc1qd1", "A", "aa", 0, 100, 6, 1, nil)
	d1.Stage = operation.RuneSendMintOrder
	seedOperation(t, store, 1, d1)
	d2 := operation.NewRuneDeposit("rune_deposit", "0xE2", "bc1qd2", "A", "bb", 0, 100, 6, 2, nil)
	d2.Stage = operation.RuneSendMintOrder
	seedOperation(t, store, 2, d2)

	s1, err := signOrder(ctx, engine.deps, testOrder(1))
	require.NoError(t, err)
	s2, err := signOrder(ctx, engine.deps, testOrder(2))
	require.NoError(t, err)

	require.NoError(t, engine.mintBatch.push(ctx, 1, s1, [32]byte{}))
	require.NoError(t, engine.mintBatch.push(ctx, 2, s2, [32]byte{}))

	require.NoError(t, engine.mintBatch.flush(ctx, batchKey(s1.Order)))

	// One transaction carried both orders.
	assert.Equal(t, 1, submissions)
	assert.Equal(t, 2*(269+65), submittedLen)

	// Both operations observed the same mint transaction.
	for _, id := range []int64{1, 2} {
		p := decodePayload(t, store, id).(*operation.RuneDeposit)
		require.NotNil(t, p.MintTxHash, "operation %d", id)
		assert.Equal(t, common.HexToHash("0xbatchtx").Hex(), *p.MintTxHash)
	}

	// The durable order rows are marked submitted.
	for _, rec := range store.mintOrders {
		require.NotNil(t, rec.BatchTxHash)
	}

	// A second flush of the same key is a no-op: at most one send per batch.
	require.NoError(t, engine.mintBatch.flush(ctx, batchKey(s1.Order)))
	assert.Equal(t, 1, submissions)
}

func TestBatchRetriesAfterEvmFailure(t *testing.T) {
	ctx := context.Background()

	fail := true
	var submissions int
	evm := &mockEVM{
		SubmitBatchMintFn: func(context.Context, common.Address, bind.SignerFn, []byte, [][32]byte) (common.Hash, error) {
			submissions++
			if fail {
				return common.Hash{}, bridgeerr.EvmRequestFailed(nil, "batchMint")
			}
			return common.HexToHash("0xbatchtx"), nil
		},
	}
	engine, store := newTestEngine(t, &Deps{EVM: evm})

	d1 := operation.NewRuneDeposit("rune_deposit", "0xE1", "bc1qd1", "A", "aa", 0, 100, 6, 1, nil)
	d1.Stage = operation.RuneSendMintOrder
	seedOperation(t, store, 1, d1)

	s1, err := signOrder(ctx, engine.deps, testOrder(1))
	require.NoError(t, err)
	require.NoError(t, engine.mintBatch.push(ctx, 1, s1, [32]byte{}))

	err = engine.mintBatch.flush(ctx, batchKey(s1.Order))
	require.Error(t, err)
	assert.True(t, bridgeerr.Is(err, bridgeerr.CategoryEvmRequestFailed))

	// The batch stays pending: the next flush retries and succeeds.
	fail = false
	require.NoError(t, engine.mintBatch.flush(ctx, batchKey(s1.Order)))
	assert.Equal(t, 2, submissions)

	p := decodePayload(t, store, 1).(*operation.RuneDeposit)
	require.NotNil(t, p.MintTxHash)
}

func TestBatchSizeCapTriggersImmediateFlush(t *testing.T) {
	ctx := context.Background()

	var submissions int
	evm := &mockEVM{
		SubmitBatchMintFn: func(context.Context, common.Address, bind.SignerFn, []byte, [][32]byte) (common.Hash, error) {
			submissions++
			return common.HexToHash("0xbatchtx"), nil
		},
	}
	engine, store := newTestEngine(t, &Deps{EVM: evm})
	engine.deps.Config.Bridge.MintBatchMaxSize = 2

	d1 := operation.NewRuneDeposit("rune_deposit", "0xE1", "bc1qd1", "A", "aa", 0, 100, 6, 1, nil)
	seedOperation(t, store, 1, d1)
	d2 := operation.NewRuneDeposit("rune_deposit", "0xE2", "bc1qd2", "A", "bb", 0, 100, 6, 2, nil)
	seedOperation(t, store, 2, d2)

	s1, err := signOrder(ctx, engine.deps, testOrder(1))
	require.NoError(t, err)
	s2, err := signOrder(ctx, engine.deps, testOrder(2))
	require.NoError(t, err)

	require.NoError(t, engine.mintBatch.push(ctx, 1, s1, [32]byte{}))
	assert.Equal(t, 0, submissions)
	require.NoError(t, engine.mintBatch.push(ctx, 2, s2, [32]byte{}))
	assert.Equal(t, 1, submissions)
}
