// Package ledger is a gRPC client for an allowance-based source ledger
// sidecar (ICRC-2-shaped): the user pre-approves the bridge, the bridge
// pulls the deposit with a transfer_from, then mints on the EVM side.
// Like pkg/bitcoinadapter, the sidecar's service definition is operator
// infrastructure, so requests and responses travel as
// google.protobuf.Struct values.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/omnibridge/bridge-runtime/pkg/bridgeerr"
)

// BadFeeError reports that the ledger rejected a transfer because the
// supplied fee is stale; ExpectedFee is the ledger's current fee.
type BadFeeError struct {
	ExpectedFee string
}

func (e *BadFeeError) Error() string {
	return fmt.Sprintf("ledger: bad fee, expected %s", e.ExpectedFee)
}

// IsBadFee reports whether err is the ledger's stale-fee rejection.
func IsBadFee(err error) bool {
	var bf *BadFeeError
	return errors.As(err, &bf)
}

// Client talks to the allowance-ledger sidecar over gRPC.
type Client struct {
	conn    *grpc.ClientConn
	account string // the bridge's own ledger account, destination of every transfer_from
}

// NewClient wraps an already-dialed connection.
func NewClient(conn *grpc.ClientConn, bridgeAccount string) *Client {
	return &Client{conn: conn, account: bridgeAccount}
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// BridgeAccount is the ledger account deposits are pulled into.
func (c *Client) BridgeAccount() string { return c.account }

// Allowance returns how much owner has approved the bridge to pull,
// as a decimal string in the ledger's native unit.
func (c *Client) Allowance(ctx context.Context, ledgerPrincipal, owner string) (string, error) {
	req, err := structpb.NewStruct(map[string]any{
		"ledger":  ledgerPrincipal,
		"owner":   owner,
		"spender": c.account,
	})
	if err != nil {
		return "", bridgeerr.Serialization(err, "build allowance request")
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, "/ledger.v1.AllowanceLedger/Allowance", req, resp); err != nil {
		return "", bridgeerr.Unavailable(fmt.Sprintf("ledger allowance: %v", err))
	}
	return resp.Fields["allowance"].GetStringValue(), nil
}

// Fee returns the ledger's current transfer fee for the given token.
func (c *Client) Fee(ctx context.Context, ledgerPrincipal string) (string, error) {
	req, err := structpb.NewStruct(map[string]any{
		"ledger": ledgerPrincipal,
	})
	if err != nil {
		return "", bridgeerr.Serialization(err, "build fee request")
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, "/ledger.v1.AllowanceLedger/Fee", req, resp); err != nil {
		return "", bridgeerr.Unavailable(fmt.Sprintf("ledger fee: %v", err))
	}
	return resp.Fields["fee"].GetStringValue(), nil
}

// TransferFrom pulls amount from the approving owner into the bridge's
// own account, the ledger-side "burn" of an allowance deposit. Returns
// the ledger block index on success, or *BadFeeError when the supplied
// fee no longer matches the ledger's.
func (c *Client) TransferFrom(ctx context.Context, ledgerPrincipal, owner, amount, fee string) (uint64, error) {
	req, err := structpb.NewStruct(map[string]any{
		"ledger": ledgerPrincipal,
		"from":   owner,
		"to":     c.account,
		"amount": amount,
		"fee":    fee,
	})
	if err != nil {
		return 0, bridgeerr.Serialization(err, "build transfer_from request")
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, "/ledger.v1.AllowanceLedger/TransferFrom", req, resp); err != nil {
		return 0, bridgeerr.Unavailable(fmt.Sprintf("ledger transfer_from: %v", err))
	}

	if errField := resp.Fields["error"].GetStringValue(); errField != "" {
		if errField == "bad_fee" {
			return 0, &BadFeeError{ExpectedFee: resp.Fields["expected_fee"].GetStringValue()}
		}
		return 0, bridgeerr.InvalidRequest(fmt.Sprintf("ledger transfer_from rejected: %s", errField))
	}
	return uint64(resp.Fields["block_index"].GetNumberValue()), nil
}
