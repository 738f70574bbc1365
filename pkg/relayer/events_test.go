package relayer

import (
	"encoding/binary"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnibridge/bridge-runtime/pkg/ethereum"
	"github.com/omnibridge/bridge-runtime/pkg/mintorder"
	"github.com/omnibridge/bridge-runtime/pkg/operation"
)

func TestAddressFromID(t *testing.T) {
	// ASCII-padded Bitcoin address.
	var btcID [32]byte
	copy(btcID[:], "bc1qrecipient")
	assert.Equal(t, "bc1qrecipient", addressFromID(btcID))

	// Right-aligned EVM address in an all-binary word.
	var evmID [32]byte
	addr := common.HexToAddress("0x00000000000000000000000000000000000000EE")
	copy(evmID[12:], addr.Bytes())
	assert.Equal(t, "0x00000000000000000000000000000000000000ee", addressFromID(evmID))
}

func TestClassifyFamilies(t *testing.T) {
	cases := []struct {
		symbol string
		want   family
	}{
		{"BTC", familyBtc},
		{"RUNE:DOG", familyRune},
		{"BRC20:ordi", familyBrc20},
		{"ICRC2:ckTok", familyIcrc2},
		{"WETH", familyErc20},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, classify(mintorder.PadSymbol(tc.symbol), [32]byte{}), tc.symbol)
	}
}

func TestHandleBurntSeedsIDFromBurnNonce(t *testing.T) {
	ev := ethereum.BurntLog{
		Sender:      common.HexToAddress("0x01"),
		Amount:      big.NewInt(1_000_000),
		FromERC20:   common.HexToAddress("0x02"),
		OperationID: 42,
		Symbol:      mintorder.PadSymbol("RUNE:DOG"),
		Name:        mintorder.PadName("DOG"),
		BlockNumber: 100,
	}
	copy(ev.RecipientID[:], "bc1qrecipient")

	act := handleBurnt(ev)
	assert.Equal(t, operation.ActionCreateWithID, act.Kind)
	assert.Equal(t, uint32(42), act.ID.Nonce())

	w, ok := act.Payload.(*operation.RuneWithdraw)
	require.True(t, ok)
	assert.Equal(t, "rune_withdraw", w.Kind())
	assert.Equal(t, "bc1qrecipient", w.Recipient)
	assert.Equal(t, "1000000", w.Amount)
}

func TestHandleBurntErc20Fallback(t *testing.T) {
	ev := ethereum.BurntLog{
		Amount:      big.NewInt(5),
		FromERC20:   common.HexToAddress("0x02"),
		OperationID: 9,
		Symbol:      mintorder.PadSymbol("WETH"),
	}
	var evmID [32]byte
	copy(evmID[12:], common.HexToAddress("0xEE").Bytes())
	ev.RecipientID = evmID

	act := handleBurnt(ev)
	tr, ok := act.Payload.(*operation.Erc20Transfer)
	require.True(t, ok)
	assert.Equal(t, "erc20_withdraw", tr.Kind())
	assert.Equal(t, operation.SideWrapped, tr.Side)
}

func TestHandleMintedProducesConfirmAction(t *testing.T) {
	act := handleMinted(ethereum.MintedLog{
		Recipient: common.HexToAddress("0xEE"),
		Nonce:     7,
	})
	assert.Equal(t, operation.ActionConfirmMint, act.Kind)
	assert.Equal(t, common.HexToAddress("0xEE").Hex(), act.Address)
	assert.Equal(t, uint32(7), act.Nonce)
}

func TestDecodeRescheduleID(t *testing.T) {
	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], 42)
	id, ok := decodeRescheduleID(raw[:])
	require.True(t, ok)
	assert.Equal(t, uint64(42), id)

	id, ok = decodeRescheduleID([]byte(`{"operation_id": 42}`))
	require.True(t, ok)
	assert.Equal(t, uint64(42), id)

	_, ok = decodeRescheduleID([]byte(`{"something": 1}`))
	assert.False(t, ok)
	_, ok = decodeRescheduleID([]byte("garbage"))
	assert.False(t, ok)
}

func TestHandleNotifyDepositRequestRune(t *testing.T) {
	engine, _ := newTestEngine(t, &Deps{EVM: &mockEVM{}})

	userData, err := json.Marshal(map[string]any{
		"variant":     "rune",
		"dst_address": "0xEE",
		"utxo_txid":   "aa",
		"dst_tokens":  map[string]string{"A": "0x01"},
		"amounts":     map[string]string{"A": "1000"},
	})
	require.NoError(t, err)

	actions := engine.handleNotify(ethereum.NotifyLog{
		NotificationType: uint32(operation.NotificationDepositRequest),
		UserData:         userData,
	})
	require.Len(t, actions, 1)
	assert.Equal(t, operation.ActionCreate, actions[0].Kind)

	dep, ok := actions[0].Payload.(*operation.RuneDeposit)
	require.True(t, ok)
	assert.Equal(t, "rune_deposit", dep.Kind())
	assert.Equal(t, operation.RuneAwaitInputs, dep.Stage)
	require.NotNil(t, dep.RequestedAmount)
	assert.Equal(t, "1000", *dep.RequestedAmount)
	assert.Equal(t, uint32(6), dep.MinConfirmations)
}

func TestHandleNotifyMalformedUserDataSkipped(t *testing.T) {
	engine, _ := newTestEngine(t, &Deps{EVM: &mockEVM{}})

	actions := engine.handleNotify(ethereum.NotifyLog{
		NotificationType: uint32(operation.NotificationDepositRequest),
		UserData:         []byte("not json"),
	})
	assert.Empty(t, actions)

	actions = engine.handleNotify(ethereum.NotifyLog{
		NotificationType: uint32(operation.NotificationDepositRequest),
		UserData:         []byte(`{"variant":"unknown"}`),
	})
	assert.Empty(t, actions)
}
