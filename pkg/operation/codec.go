package operation

import (
	"encoding/json"
	"fmt"
)

// structKind discriminates the concrete Go type behind a Payload, which is
// not always the same as Kind() (RuneDeposit backs both "rune_deposit" and
// "brc20_deposit", for instance).
type structKind string

const (
	structKindRuneDeposit  structKind = "rune_deposit"
	structKindRuneWithdraw structKind = "rune_withdraw"
	structKindBtcDeposit   structKind = "btc_deposit"
	structKindBtcWithdraw  structKind = "btc_withdraw"
	structKindErc20        structKind = "erc20_transfer"
	structKindIcrc2        structKind = "icrc2_deposit"
)

type wireEnvelope struct {
	StructKind structKind      `json:"struct_kind"`
	Data       json.RawMessage `json:"data"`
}

// MarshalPayload encodes a Payload for storage in the Operation Store's
// JSONB payload column, tagging it with enough type information to decode
// back into the correct concrete Go type.
func MarshalPayload(p Payload) ([]byte, error) {
	var sk structKind
	switch p.(type) {
	case *RuneDeposit:
		sk = structKindRuneDeposit
	case *RuneWithdraw:
		sk = structKindRuneWithdraw
	case *BtcDeposit:
		sk = structKindBtcDeposit
	case *BtcWithdraw:
		sk = structKindBtcWithdraw
	case *Erc20Transfer:
		sk = structKindErc20
	case *Icrc2Deposit:
		sk = structKindIcrc2
	default:
		return nil, fmt.Errorf("operation: cannot marshal unknown payload type %T", p)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("operation: marshal %s payload: %w", sk, err)
	}
	return json.Marshal(wireEnvelope{StructKind: sk, Data: data})
}

// UnmarshalPayload decodes a payload previously written by MarshalPayload.
func UnmarshalPayload(raw []byte) (Payload, error) {
	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("operation: decode envelope: %w", err)
	}
	switch env.StructKind {
	case structKindRuneDeposit:
		var d RuneDeposit
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, err
		}
		return &d, nil
	case structKindRuneWithdraw:
		var w RuneWithdraw
		if err := json.Unmarshal(env.Data, &w); err != nil {
			return nil, err
		}
		return &w, nil
	case structKindBtcDeposit:
		var d BtcDeposit
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, err
		}
		return &d, nil
	case structKindBtcWithdraw:
		var w BtcWithdraw
		if err := json.Unmarshal(env.Data, &w); err != nil {
			return nil, err
		}
		return &w, nil
	case structKindErc20:
		var t Erc20Transfer
		if err := json.Unmarshal(env.Data, &t); err != nil {
			return nil, err
		}
		return &t, nil
	case structKindIcrc2:
		var d Icrc2Deposit
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, err
		}
		return &d, nil
	default:
		return nil, fmt.Errorf("operation: unknown struct_kind %q", env.StructKind)
	}
}
