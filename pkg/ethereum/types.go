package ethereum

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// QueryType names one of the mandatory batch_query entries the EVM
// params refresh service issues on every tick.
type QueryType int

const (
	QueryGasPrice QueryType = iota
	QueryChainID
	QueryLatestBlock
	QueryNonce
)

// BatchQueryResult carries the decoded response for one QueryType entry
// of a batch_query call; exactly one of the typed fields is populated.
type BatchQueryResult struct {
	Type        QueryType
	GasPrice    *big.Int
	ChainID     *big.Int
	LatestBlock uint64
	Nonce       uint64
	Err         error
}

// BurntLog is the runtime's own view of a decoded BurnTokenEvent.
type BurntLog struct {
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
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
}

// MintedLog is the runtime's own view of a decoded MintTokenEvent.
type MintedLog struct {
	Amount      *big.Int
	FromToken   [32]byte
	SenderID    [32]byte
	ToERC20     common.Address
	Recipient   common.Address
	Nonce       uint32
	ChargedFee  *big.Int
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
}

// NotifyLog is the runtime's own view of a decoded NotifyMinterEvent.
type NotifyLog struct {
	NotificationType uint32
	UserData         []byte
	Memo             [32]byte
	BlockNumber      uint64
	TxHash           common.Hash
	LogIndex         uint
}

// DecodedLogs groups the three event kinds the log fetch service decodes
// out of one eth_getLogs page, plus the last finalized block number it
// is safe to resume from.
type DecodedLogs struct {
	Burnt            []BurntLog
	Minted           []MintedLog
	Notify           []NotifyLog
	LastFinalized    uint64
	SkippedMalformed int
}
