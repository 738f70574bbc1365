// Package contracts is a hand-written binding for the BftBridge Solidity
// contract, built directly on go-ethereum's abi.ABI and bind.BoundContract
// rather than abigen output: the contract's ABI is an external interface
// owned by the Solidity side, not something this module generates from a
// build step.
package contracts

import (
	"context"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// bftBridgeABIJSON covers the three events and three calls this runtime
// cares about; the deployed contract may expose more surface than this.
const bftBridgeABIJSON = `[
{"type":"event","name":"BurnTokenEvent","anonymous":false,"inputs":[
	{"name":"sender","type":"address","indexed":false},
	{"name":"amount","type":"uint256","indexed":false},
	{"name":"fromERC20","type":"address","indexed":false},
	{"name":"recipientID","type":"bytes32","indexed":false},
	{"name":"toToken","type":"bytes32","indexed":false},
	{"name":"operationID","type":"uint32","indexed":false},
	{"name":"name","type":"bytes32","indexed":false},
	{"name":"symbol","type":"bytes16","indexed":false},
	{"name":"decimals","type":"uint8","indexed":false},
	{"name":"memo","type":"bytes32","indexed":false}
]},
{"type":"event","name":"MintTokenEvent","anonymous":false,"inputs":[
	{"name":"amount","type":"uint256","indexed":false},
	{"name":"fromToken","type":"bytes32","indexed":false},
	{"name":"senderID","type":"bytes32","indexed":false},
	{"name":"toERC20","type":"address","indexed":false},
	{"name":"recipient","type":"address","indexed":false},
	{"name":"nonce","type":"uint32","indexed":false},
	{"name":"chargedFee","type":"uint256","indexed":false}
]},
{"type":"event","name":"NotifyMinterEvent","anonymous":false,"inputs":[
	{"name":"notificationType","type":"uint32","indexed":false},
	{"name":"userData","type":"bytes","indexed":false},
	{"name":"memo","type":"bytes32","indexed":false}
]},
{"type":"function","name":"batchMint","stateMutability":"nonpayable","inputs":[
	{"name":"encodedOrders","type":"bytes"},
	{"name":"memos","type":"bytes32[]"}
],"outputs":[]},
{"type":"function","name":"burn","stateMutability":"nonpayable","inputs":[
	{"name":"amount","type":"uint256"},
	{"name":"fromERC20","type":"address"},
	{"name":"recipientID","type":"bytes32"},
	{"name":"toToken","type":"bytes32"},
	{"name":"memo","type":"bytes32"}
],"outputs":[]},
{"type":"function","name":"notifyMinter","stateMutability":"nonpayable","inputs":[
	{"name":"notificationType","type":"uint32"},
	{"name":"userData","type":"bytes"},
	{"name":"memo","type":"bytes32"}
],"outputs":[]}
]`

// BftBridgeABI is the parsed contract interface, shared by the event
// decoder and the transaction builder so both agree on the same topic
// hashes and argument layout.
var BftBridgeABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(bftBridgeABIJSON))
	if err != nil {
		panic("contracts: invalid BftBridge ABI: " + err.Error())
	}
	BftBridgeABI = parsed
}

// BurnTokenEvent is the decoded form of a BurnTokenEvent log.
type BurnTokenEvent struct {
	Sender      common.Address
	Amount      *big.Int
	FromERC20   common.Address
	RecipientID [32]byte
	ToToken     [32]byte
	OperationID uint32
	Name        [32]byte
	Symbol      [16]byte
	Decimals    uint8
	Memo        [32]byte
	Raw         types.Log
}

// MintTokenEvent is the decoded form of a MintTokenEvent log.
type MintTokenEvent struct {
	Amount     *big.Int
	FromToken  [32]byte
	SenderID   [32]byte
	ToERC20    common.Address
	Recipient  common.Address
	Nonce      uint32
	ChargedFee *big.Int
	Raw        types.Log
}

// NotifyMinterEvent is the decoded form of a NotifyMinterEvent log.
type NotifyMinterEvent struct {
	NotificationType uint32
	UserData         []byte
	Memo             [32]byte
	Raw              types.Log
}

// BftBridge wraps a bind.BoundContract against the deployed bridge
// address, exposing just the event-decoding and transaction-building
// surface this runtime exercises.
type BftBridge struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewBftBridge binds to the contract at address using caller for reads and
// transactor for writes; either may be nil if that side is unused.
func NewBftBridge(address common.Address, caller bind.ContractCaller, transactor bind.ContractTransactor, filterer bind.ContractFilterer) *BftBridge {
	return &BftBridge{
		address:  address,
		contract: bind.NewBoundContract(address, BftBridgeABI, caller, transactor, filterer),
	}
}

// Address returns the bound contract address.
func (b *BftBridge) Address() common.Address { return b.address }

// DecodeBurnTokenEvent unpacks a raw log into a BurnTokenEvent.
func DecodeBurnTokenEvent(log types.Log) (*BurnTokenEvent, error) {
	var e BurnTokenEvent
	if err := BftBridgeABI.UnpackIntoInterface(&e, "BurnTokenEvent", log.Data); err != nil {
		return nil, err
	}
	e.Raw = log
	return &e, nil
}

// DecodeMintTokenEvent unpacks a raw log into a MintTokenEvent.
func DecodeMintTokenEvent(log types.Log) (*MintTokenEvent, error) {
	var e MintTokenEvent
	if err := BftBridgeABI.UnpackIntoInterface(&e, "MintTokenEvent", log.Data); err != nil {
		return nil, err
	}
	e.Raw = log
	return &e, nil
}

// DecodeNotifyMinterEvent unpacks a raw log into a NotifyMinterEvent.
func DecodeNotifyMinterEvent(log types.Log) (*NotifyMinterEvent, error) {
	var e NotifyMinterEvent
	if err := BftBridgeABI.UnpackIntoInterface(&e, "NotifyMinterEvent", log.Data); err != nil {
		return nil, err
	}
	e.Raw = log
	return &e, nil
}

// BurnTokenEventTopic is the keccak256 topic hash for BurnTokenEvent.
func BurnTokenEventTopic() common.Hash { return BftBridgeABI.Events["BurnTokenEvent"].ID }

// MintTokenEventTopic is the keccak256 topic hash for MintTokenEvent.
func MintTokenEventTopic() common.Hash { return BftBridgeABI.Events["MintTokenEvent"].ID }

// NotifyMinterEventTopic is the keccak256 topic hash for NotifyMinterEvent.
func NotifyMinterEventTopic() common.Hash { return BftBridgeABI.Events["NotifyMinterEvent"].ID }

// PackBatchMint builds the calldata for a batchMint transaction. encodedOrders
// is the concatenation of each order's mintorder.Signed.Bytes() (unsigned
// layout followed by that order's own 65-byte signature); the contract
// recovers and checks each order's signer independently, so there is no
// separate batch-level signature argument.
func PackBatchMint(encodedOrders []byte, memos [][32]byte) ([]byte, error) {
	return BftBridgeABI.Pack("batchMint", encodedOrders, memos)
}

// BatchMint submits a batchMint transaction through the bound contract's
// transactor, returning the signed transaction.
func (b *BftBridge) BatchMint(opts *bind.TransactOpts, encodedOrders []byte, memos [][32]byte) (*types.Transaction, error) {
	return b.contract.Transact(opts, "batchMint", encodedOrders, memos)
}

// FilterLogs queries raw logs for this contract in [fromBlock, toBlock]
// matching any of the given event topics (nil means "all of ours").
func FilterLogs(ctx context.Context, filterer bind.ContractFilterer, address common.Address, fromBlock, toBlock uint64, topics []common.Hash) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{address},
	}
	if len(topics) > 0 {
		query.Topics = [][]common.Hash{topics}
	}
	return filterer.FilterLogs(ctx, query)
}
