package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
	"sync"

	ethgo "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/omnibridge/bridge-runtime/internal/metrics"
	"github.com/omnibridge/bridge-runtime/pkg/bridgeerr"
	"github.com/omnibridge/bridge-runtime/pkg/config"
	"github.com/omnibridge/bridge-runtime/pkg/ethereum/contracts"
)

// rpcFailed wraps an RPC error and bumps the per-method failure counter.
func rpcFailed(err error, method string) error {
	metrics.EvmRequestErrors.WithLabelValues(method).Inc()
	return bridgeerr.EvmRequestFailed(err, method)
}

// provider pairs the high-level ethclient wrapper with the raw rpc.Client
// needed for batch calls; both are dialed from the same endpoint.
type provider struct {
	eth *ethclient.Client
	rpc *rpc.Client
}

// Client is the bridge runtime's EVM client: a thin
// wrapper offering batch_query, collect_logs, send_raw_transaction and
// get_transaction_receipt over one or more JSON-RPC endpoints.
type Client struct {
	cfg          config.EvmConfig
	logger       *zap.Logger
	providers    []*provider
	bridgeAddr   common.Address
	bridge       *contracts.BftBridge
	maxLogSpan   uint64

	mu   sync.Mutex
	rand *rand.Rand
}

// NewClient dials every configured RPC endpoint (one for "direct"/"http",
// several for "aggregator") and binds the BftBridge contract against the
// first provider for event filtering and transaction building.
func NewClient(ctx context.Context, cfg config.EvmConfig, logger *zap.Logger) (*Client, error) {
	urls := cfg.RPCURLs
	if len(urls) == 0 && cfg.RPCURL != "" {
		urls = []string{cfg.RPCURL}
	}
	if len(urls) == 0 {
		return nil, bridgeerr.Initialization("evm: no rpc endpoints configured")
	}

	providers := make([]*provider, 0, len(urls))
	for _, u := range urls {
		rc, err := rpc.DialContext(ctx, u)
		if err != nil {
			return nil, bridgeerr.Initialization(fmt.Sprintf("dial evm rpc %s: %v", u, err))
		}
		providers = append(providers, &provider{eth: ethclient.NewClient(rc), rpc: rc})
	}

	c := &Client{
		cfg:        cfg,
		logger:     logger,
		providers:  providers,
		maxLogSpan: cfg.LogBatchSize,
		rand:       rand.New(rand.NewSource(1)),
	}

	if cfg.BridgeContract != "" {
		c.bridgeAddr = common.HexToAddress(cfg.BridgeContract)
		c.bridge = contracts.NewBftBridge(c.bridgeAddr, c.firstProvider().eth, c.firstProvider().eth, c.firstProvider().eth)
	}

	logger.Info("evm client ready",
		zap.Int("providers", len(providers)),
		zap.String("link_kind", string(cfg.LinkKind)))

	return c, nil
}

func (c *Client) firstProvider() *provider { return c.providers[0] }

// pick returns a randomly chosen provider; aggregator results from a
// single request are not cross-validated, the aggregator set is trusted
// as a whole.
func (c *Client) pick() *provider {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.providers[c.rand.Intn(len(c.providers))]
}

// Close tears down every dialed RPC connection.
func (c *Client) Close() {
	for _, p := range c.providers {
		p.eth.Close()
	}
}

// SetBridgeContract rebinds the BftBridge contract to a new address,
// called after the control plane's set_bft_bridge_contract accepts a
// verified address.
func (c *Client) SetBridgeContract(addr common.Address) {
	c.bridgeAddr = addr
	c.bridge = contracts.NewBftBridge(addr, c.firstProvider().eth, c.firstProvider().eth, c.firstProvider().eth)
}

// BridgeContract returns the currently bound BftBridge binding, or nil if
// none has been configured yet.
func (c *Client) BridgeContract() *contracts.BftBridge { return c.bridge }

// CodeAt checks whether the given address holds deployed bytecode, the
// shallow verification strategy set_bft_bridge_contract relies on.
func (c *Client) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	code, err := c.pick().eth.CodeAt(ctx, addr, nil)
	if err != nil {
		return nil, rpcFailed(err, "eth_getCode")
	}
	return code, nil
}

// BatchQuery issues one JSON-RPC batch covering the four mandatory
// entries: gas price, chain id, latest block, and this signer's pending
// nonce.
func (c *Client) BatchQuery(ctx context.Context, signerAddr common.Address) ([]BatchQueryResult, error) {
	p := c.pick()

	var gasPrice hexutil.Big
	var chainID hexutil.Big
	var latestBlock hexutil.Uint64
	var nonce hexutil.Uint64

	batch := []rpc.BatchElem{
		{Method: "eth_gasPrice", Result: &gasPrice},
		{Method: "eth_chainId", Result: &chainID},
		{Method: "eth_blockNumber", Result: &latestBlock},
		{Method: "eth_getTransactionCount", Args: []interface{}{signerAddr, "pending"}, Result: &nonce},
	}

	if err := p.rpc.BatchCallContext(ctx, batch); err != nil {
		return nil, rpcFailed(err, "evm batch_query")
	}

	results := make([]BatchQueryResult, 0, 4)
	for i, kind := range []QueryType{QueryGasPrice, QueryChainID, QueryLatestBlock, QueryNonce} {
		if batch[i].Error != nil {
			results = append(results, BatchQueryResult{Type: kind, Err: batch[i].Error})
			continue
		}
		switch kind {
		case QueryGasPrice:
			results = append(results, BatchQueryResult{Type: kind, GasPrice: (*big.Int)(&gasPrice)})
		case QueryChainID:
			results = append(results, BatchQueryResult{Type: kind, ChainID: (*big.Int)(&chainID)})
		case QueryLatestBlock:
			results = append(results, BatchQueryResult{Type: kind, LatestBlock: uint64(latestBlock)})
		case QueryNonce:
			results = append(results, BatchQueryResult{Type: kind, Nonce: uint64(nonce)})
		}
	}
	return results, nil
}

// CollectLogs fetches logs in [fromBlock, toBlock] against the bound
// bridge contract, internally chunked so no single eth_getLogs call spans
// more than MAX_LOG_REQUEST_COUNT blocks.
func (c *Client) CollectLogs(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	if c.bridge == nil {
		return nil, bridgeerr.Initialization("evm: bridge contract not configured")
	}
	if toBlock < fromBlock {
		return nil, nil
	}

	maxSpan := c.maxLogSpan
	if maxSpan == 0 {
		maxSpan = 1000
	}

	var out []types.Log
	for _, w := range chunkRange(fromBlock, toBlock, maxSpan-1) {
		query := ethgo.FilterQuery{
			FromBlock: new(big.Int).SetUint64(w[0]),
			ToBlock:   new(big.Int).SetUint64(w[1]),
			Addresses: []common.Address{c.bridgeAddr},
		}
		logs, err := c.pick().eth.FilterLogs(ctx, query)
		if err != nil {
			return nil, rpcFailed(err, "eth_getLogs")
		}
		out = append(out, logs...)
	}
	return out, nil
}

// DecodeLogs decodes raw logs into the three BftBridge event kinds,
// logging and skipping (never halting) anything malformed.
func (c *Client) DecodeLogs(logs []types.Log) DecodedLogs {
	var out DecodedLogs
	burnTopic := contracts.BurnTokenEventTopic()
	mintTopic := contracts.MintTokenEventTopic()
	notifyTopic := contracts.NotifyMinterEventTopic()

	for _, lg := range logs {
		if len(lg.Topics) == 0 {
			out.SkippedMalformed++
			continue
		}
		switch lg.Topics[0] {
		case burnTopic:
			e, err := contracts.DecodeBurnTokenEvent(lg)
			if err != nil {
				c.logger.Warn("malformed BurnTokenEvent log, skipping", zap.Error(err), zap.String("tx", lg.TxHash.Hex()))
				out.SkippedMalformed++
				continue
			}
			out.Burnt = append(out.Burnt, BurntLog{
				Sender: e.Sender, Amount: e.Amount, FromERC20: e.FromERC20,
				RecipientID: e.RecipientID, ToToken: e.ToToken, OperationID: e.OperationID,
				Name: e.Name, Symbol: e.Symbol, Decimals: e.Decimals, Memo: e.Memo,
				BlockNumber: lg.BlockNumber, TxHash: lg.TxHash, LogIndex: lg.Index,
			})
		case mintTopic:
			e, err := contracts.DecodeMintTokenEvent(lg)
			if err != nil {
				c.logger.Warn("malformed MintTokenEvent log, skipping", zap.Error(err), zap.String("tx", lg.TxHash.Hex()))
				out.SkippedMalformed++
				continue
			}
			out.Minted = append(out.Minted, MintedLog{
				Amount: e.Amount, FromToken: e.FromToken, SenderID: e.SenderID,
				ToERC20: e.ToERC20, Recipient: e.Recipient, Nonce: e.Nonce, ChargedFee: e.ChargedFee,
				BlockNumber: lg.BlockNumber, TxHash: lg.TxHash, LogIndex: lg.Index,
			})
		case notifyTopic:
			e, err := contracts.DecodeNotifyMinterEvent(lg)
			if err != nil {
				c.logger.Warn("malformed NotifyMinterEvent log, skipping", zap.Error(err), zap.String("tx", lg.TxHash.Hex()))
				out.SkippedMalformed++
				continue
			}
			out.Notify = append(out.Notify, NotifyLog{
				NotificationType: e.NotificationType, UserData: e.UserData, Memo: e.Memo,
				BlockNumber: lg.BlockNumber, TxHash: lg.TxHash, LogIndex: lg.Index,
			})
		default:
			out.SkippedMalformed++
		}
		if lg.BlockNumber > out.LastFinalized {
			out.LastFinalized = lg.BlockNumber
		}
	}
	return out
}

// SendRawTransaction broadcasts an already-signed transaction.
func (c *Client) SendRawTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	if err := c.pick().eth.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, rpcFailed(err, "eth_sendRawTransaction")
	}
	return tx.Hash(), nil
}

// GetTransactionReceipt fetches a transaction's receipt, returning
// ethereum.NotFound-wrapped errors unchanged so callers can distinguish
// "not yet mined" from a transport failure.
func (c *Client) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	receipt, err := c.pick().eth.TransactionReceipt(ctx, hash)
	if err != nil {
		if err == ethgo.NotFound {
			return nil, err
		}
		return nil, rpcFailed(err, "eth_getTransactionReceipt")
	}
	return receipt, nil
}

// SubmitBatchMint builds, signs and broadcasts one batchMint transaction
// carrying encodedOrders. The bound contract only assembles and signs
// (NoSend); the broadcast goes through SendRawTransaction so every
// outbound transaction takes the same path.
func (c *Client) SubmitBatchMint(ctx context.Context, from common.Address, signFn bind.SignerFn, encodedOrders []byte, memos [][32]byte) (common.Hash, error) {
	if c.bridge == nil {
		return common.Hash{}, bridgeerr.Initialization("evm: bridge contract not configured")
	}
	opts, err := c.TransactOpts(ctx, from, signFn)
	if err != nil {
		return common.Hash{}, err
	}
	opts.NoSend = true

	tx, err := c.bridge.BatchMint(opts, encodedOrders, memos)
	if err != nil {
		return common.Hash{}, rpcFailed(err, "batchMint")
	}
	return c.SendRawTransaction(ctx, tx)
}

// TransactOpts computes EIP-1559 gas parameters for a fresh transaction
// from the given signer address: nonce, gas price and chain id come from
// one batch_query, the base fee from one further eth_getBlockByNumber
// call, and the fee cap follows the base-fee-times-two-plus-tip formula.
func (c *Client) TransactOpts(ctx context.Context, from common.Address, signFn bind.SignerFn) (*bind.TransactOpts, error) {
	results, err := c.BatchQuery(ctx, from)
	if err != nil {
		return nil, err
	}

	var gasPrice *big.Int
	var chainID *big.Int
	var nonce uint64
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		switch r.Type {
		case QueryGasPrice:
			gasPrice = r.GasPrice
		case QueryChainID:
			chainID = r.ChainID
		case QueryNonce:
			nonce = r.Nonce
		}
	}
	if chainID == nil {
		chainID = big.NewInt(c.cfg.ChainID)
	}

	header, err := c.pick().eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, rpcFailed(err, "eth_getBlockByNumber")
	}

	tip, ok := new(big.Int).SetString(c.cfg.PriorityFeeWei, 10)
	if !ok || tip == nil {
		tip = big.NewInt(2_000_000_000)
	}

	maxFee := new(big.Int)
	if header.BaseFee != nil {
		maxFee.Mul(header.BaseFee, big.NewInt(2))
		maxFee.Add(maxFee, tip)
	} else if gasPrice != nil {
		maxFee.Set(gasPrice)
	} else {
		maxFee.Set(tip)
	}

	if c.cfg.MaxFeePerGasWei != "" {
		if maxAllowed, ok := new(big.Int).SetString(c.cfg.MaxFeePerGasWei, 10); ok && maxFee.Cmp(maxAllowed) > 0 {
			maxFee = maxAllowed
		}
	}

	return &bind.TransactOpts{
		From:      from,
		Nonce:     new(big.Int).SetUint64(nonce),
		Signer:    signFn,
		GasFeeCap: maxFee,
		GasTipCap: tip,
		GasLimit:  c.cfg.GasLimit,
		Context:   ctx,
	}, nil
}

