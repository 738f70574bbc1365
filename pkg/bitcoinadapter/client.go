package bitcoinadapter

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/omnibridge/bridge-runtime/pkg/bridgeerr"
)

// Utxo describes a single unspent output observed by the sidecar.
type Utxo struct {
	TxID      string
	Vout      uint32
	ValueSats int64
	Address   string
	Confirmations int64
}

// BroadcastResult is returned after a raw transaction is relayed to the network.
type BroadcastResult struct {
	TxID string
}

// Client talks to the bitcoin-adapter sidecar over gRPC, marshalling
// requests and responses as google.protobuf.Struct values since the
// sidecar's own service definition lives outside this module.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient wraps an already-dialed connection (see Dial).
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// AddressUtxos returns the confirmed UTXOs spendable at the given deposit address.
func (c *Client) AddressUtxos(ctx context.Context, address string, minConfirmations int64) ([]Utxo, error) {
	req, err := structpb.NewStruct(map[string]any{
		"address":           address,
		"min_confirmations": minConfirmations,
	})
	if err != nil {
		return nil, bridgeerr.Serialization(err, "build address_utxos request")
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, "/bitcoinadapter.v1.BitcoinAdapter/AddressUtxos", req, resp); err != nil {
		return nil, bridgeerr.Unavailable(fmt.Sprintf("bitcoin-adapter address_utxos: %v", err))
	}

	rawList, ok := resp.Fields["utxos"]
	if !ok {
		return nil, nil
	}
	list := rawList.GetListValue()
	if list == nil {
		return nil, bridgeerr.Serialization(nil, "address_utxos response malformed: utxos not a list")
	}

	out := make([]Utxo, 0, len(list.Values))
	for _, v := range list.Values {
		fields := v.GetStructValue().GetFields()
		out = append(out, Utxo{
			TxID:          fields["tx_id"].GetStringValue(),
			Vout:          uint32(fields["vout"].GetNumberValue()),
			ValueSats:     int64(fields["value_sats"].GetNumberValue()),
			Address:       fields["address"].GetStringValue(),
			Confirmations: int64(fields["confirmations"].GetNumberValue()),
		})
	}
	return out, nil
}

// BroadcastTransaction relays a raw, signed transaction to the network.
func (c *Client) BroadcastTransaction(ctx context.Context, rawTxHex string) (*BroadcastResult, error) {
	req, err := structpb.NewStruct(map[string]any{
		"raw_tx_hex": rawTxHex,
	})
	if err != nil {
		return nil, bridgeerr.Serialization(err, "build broadcast_transaction request")
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, "/bitcoinadapter.v1.BitcoinAdapter/BroadcastTransaction", req, resp); err != nil {
		return nil, bridgeerr.Unavailable(fmt.Sprintf("bitcoin-adapter broadcast_transaction: %v", err))
	}

	return &BroadcastResult{TxID: resp.Fields["tx_id"].GetStringValue()}, nil
}

// TransactionConfirmations reports how many confirmations a broadcast
// transaction currently has, or 0 if it is unconfirmed/unknown.
func (c *Client) TransactionConfirmations(ctx context.Context, txID string) (int64, error) {
	req, err := structpb.NewStruct(map[string]any{
		"tx_id": txID,
	})
	if err != nil {
		return 0, bridgeerr.Serialization(err, "build transaction_status request")
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, "/bitcoinadapter.v1.BitcoinAdapter/TransactionStatus", req, resp); err != nil {
		return 0, bridgeerr.Unavailable(fmt.Sprintf("bitcoin-adapter transaction_status: %v", err))
	}

	return int64(resp.Fields["confirmations"].GetNumberValue()), nil
}

// UtxoStatus is the sidecar's classification of a deposit output during
// an update_balance sweep.
type UtxoStatus string

const (
	UtxoStatusMinted  UtxoStatus = "minted"  // already credited
	UtxoStatusChecked UtxoStatus = "checked" // verified and creditable now
	UtxoStatusPending UtxoStatus = "pending" // below the confirmation floor
	UtxoStatusTainted UtxoStatus = "tainted" // failed checks, never credit
)

// BalanceUpdate is one output's status from an update_balance sweep.
type BalanceUpdate struct {
	Utxo   Utxo
	Status UtxoStatus
}

// UpdateBalance asks the sidecar to re-check the deposit address and
// classify every known output, the native-BTC deposit path's entry point.
func (c *Client) UpdateBalance(ctx context.Context, address string) ([]BalanceUpdate, error) {
	req, err := structpb.NewStruct(map[string]any{
		"address": address,
	})
	if err != nil {
		return nil, bridgeerr.Serialization(err, "build update_balance request")
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, "/bitcoinadapter.v1.BitcoinAdapter/UpdateBalance", req, resp); err != nil {
		return nil, bridgeerr.Unavailable(fmt.Sprintf("bitcoin-adapter update_balance: %v", err))
	}

	rawList, ok := resp.Fields["utxos"]
	if !ok {
		return nil, nil
	}
	list := rawList.GetListValue()
	if list == nil {
		return nil, bridgeerr.Serialization(nil, "update_balance response malformed: utxos not a list")
	}

	out := make([]BalanceUpdate, 0, len(list.Values))
	for _, v := range list.Values {
		fields := v.GetStructValue().GetFields()
		out = append(out, BalanceUpdate{
			Utxo: Utxo{
				TxID:          fields["tx_id"].GetStringValue(),
				Vout:          uint32(fields["vout"].GetNumberValue()),
				ValueSats:     int64(fields["value_sats"].GetNumberValue()),
				Address:       address,
				Confirmations: int64(fields["confirmations"].GetNumberValue()),
			},
			Status: UtxoStatus(fields["status"].GetStringValue()),
		})
	}
	return out, nil
}

// RetrieveBtc submits a withdrawal of amountSats to recipient through the
// sidecar's minter, returning the block index the request was accepted at.
func (c *Client) RetrieveBtc(ctx context.Context, recipient string, amountSats uint64) (uint64, error) {
	req, err := structpb.NewStruct(map[string]any{
		"recipient":   recipient,
		"amount_sats": amountSats,
	})
	if err != nil {
		return 0, bridgeerr.Serialization(err, "build retrieve_btc request")
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, "/bitcoinadapter.v1.BitcoinAdapter/RetrieveBtc", req, resp); err != nil {
		return 0, bridgeerr.Unavailable(fmt.Sprintf("bitcoin-adapter retrieve_btc: %v", err))
	}
	return uint64(resp.Fields["block_index"].GetNumberValue()), nil
}

// FeePercentiles returns the sidecar's current fee percentiles in
// millisats/vbyte, used when sizing inscription and transfer transactions.
func (c *Client) FeePercentiles(ctx context.Context) ([]uint64, error) {
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, "/bitcoinadapter.v1.BitcoinAdapter/FeePercentiles", &structpb.Struct{}, resp); err != nil {
		return nil, bridgeerr.Unavailable(fmt.Sprintf("bitcoin-adapter fee_percentiles: %v", err))
	}
	list := resp.Fields["percentiles"].GetListValue()
	if list == nil {
		return nil, nil
	}
	out := make([]uint64, 0, len(list.Values))
	for _, v := range list.Values {
		out = append(out, uint64(v.GetNumberValue()))
	}
	return out, nil
}

// BlockHeight returns the sidecar's current view of the chain tip.
func (c *Client) BlockHeight(ctx context.Context) (int64, error) {
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, "/bitcoinadapter.v1.BitcoinAdapter/BlockHeight", &structpb.Struct{}, resp); err != nil {
		return 0, bridgeerr.Unavailable(fmt.Sprintf("bitcoin-adapter block_height: %v", err))
	}
	return int64(resp.Fields["height"].GetNumberValue()), nil
}
