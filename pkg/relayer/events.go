package relayer

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"

	"github.com/omnibridge/bridge-runtime/pkg/ethereum"
	"github.com/omnibridge/bridge-runtime/pkg/operation"
	"github.com/omnibridge/bridge-runtime/pkg/signer"
)

// trimmed returns the ASCII text held in a zero-padded fixed-size field,
// the convention BurnTokenEvent uses for name/symbol.
func trimmed(b []byte) string {
	return string(bytes.TrimRight(b, "\x00"))
}

// addressFromID renders a RecipientID/SenderID field as the destination
// chain address it encodes: BTC-family fields hold a printable ASCII
// address followed by zero padding, EVM fields hold a 20-byte address in
// the right-hand portion of the word.
func addressFromID(id [32]byte) string {
	text := trimmed(id[:])
	printable := text != ""
	for i := 0; i < len(text); i++ {
		if text[i] < 0x21 || text[i] > 0x7e {
			printable = false
			break
		}
	}
	if printable {
		return text
	}
	return "0x" + hex.EncodeToString(id[12:])
}

// family classifies a BurnTokenEvent/MintTokenEvent by its symbol/name
// fields into the variant package that owns its stage graph.
type family int

const (
	familyErc20 family = iota
	familyBtc
	familyRune
	familyBrc20
	familyIcrc2
)

func classify(symbol [16]byte, name [32]byte) family {
	sym := trimmed(symbol[:])
	switch {
	case sym == "BTC":
		return familyBtc
	case len(sym) > 5 && sym[:5] == "RUNE:":
		return familyRune
	case len(sym) > 6 && sym[:6] == "BRC20:":
		return familyBrc20
	case len(sym) > 6 && sym[:6] == "ICRC2:":
		return familyIcrc2
	default:
		return familyErc20
	}
}

// handleBurnt turns a BurnTokenEvent into the withdrawal operation that
// releases funds on the source chain, implementing the on_wrapped_token_burnt
// dispatch of the Log Fetch Service. The operation id is seeded from the
// burn nonce so any observer can correlate the later mint confirmation.
func handleBurnt(ev ethereum.BurntLog) operation.Action {
	recipient := addressFromID(ev.RecipientID)
	nonce := ev.OperationID
	amount := weiToDecimalString(ev.Amount)

	var payload operation.Payload
	switch classify(ev.Symbol, ev.Name) {
	case familyBtc:
		payload = operation.NewBtcWithdraw(ev.FromERC20.Hex(), satsFromDecimalWei(amount), recipient, nonce)
	case familyRune:
		payload = operation.NewRuneWithdraw("rune_withdraw", ev.FromERC20.Hex(), trimmed(ev.Name[:]), amount, recipient, nonce)
	case familyBrc20:
		payload = operation.NewRuneWithdraw("brc20_withdraw", ev.FromERC20.Hex(), trimmed(ev.Name[:]), amount, recipient, nonce)
	default:
		payload = operation.NewErc20Transfer(operation.SideWrapped, ev.FromERC20.Hex(), recipient, ev.FromERC20.Hex(), hex.EncodeToString(ev.ToToken[:]), amount, nonce, ev.BlockNumber)
	}

	return operation.Action{
		Kind:    operation.ActionCreateWithID,
		ID:      operation.ID(uint64(nonce)),
		Payload: payload,
		Memo:    &ev.Memo,
	}
}

// handleMinted advances the operation that a MintTokenEvent confirms,
// implementing the on_wrapped_token_minted dispatch: the live operation
// is located by (recipient, nonce) and driven to its mint-confirmed
// terminal stage.
func handleMinted(ev ethereum.MintedLog) operation.Action {
	return operation.Action{
		Kind:    operation.ActionConfirmMint,
		Address: ev.Recipient.Hex(),
		Nonce:   ev.Nonce,
	}
}

// depositRequest is the JSON user data a DepositRequest notification
// carries. Variant selects which fields are meaningful.
type depositRequest struct {
	Variant    string `json:"variant" validate:"required,oneof=rune brc20 btc icrc2"`
	DstAddress string `json:"dst_address" validate:"required_unless=Variant icrc2"`

	// Bitcoin-family deposits.
	UtxoTxID      string            `json:"utxo_txid"`
	UtxoVout      uint32            `json:"utxo_vout"`
	DepositHeight uint64            `json:"deposit_height"`
	DstTokens     map[string]string `json:"dst_tokens"`
	Amounts       map[string]string `json:"amounts"`

	// Allowance-ledger deposits.
	Sender           string  `json:"sender"`
	LedgerPrincipal  string  `json:"icrc2_token_principal"`
	Erc20Address     string  `json:"erc20_token_address"`
	RecipientAddress string  `json:"recipient_address"`
	Amount           string  `json:"amount"`
	FeePayer         *string `json:"fee_payer"`
}

var validateRequest = validator.New()

// extendedKeySeeder is the optional signer capability needed to derive a
// per-recipient Bitcoin deposit address.
type extendedKeySeeder interface {
	ExtendedKeySeed() []byte
}

// depositAddressFor derives the recipient's unique Bitcoin deposit
// address from the bridge's master key; empty when the signer backend
// cannot derive (the platform sidecar owns the HD tree in that case).
func depositAddressFor(d *Deps, evmRecipient string) string {
	seeder, ok := d.Signer.(extendedKeySeeder)
	if !ok {
		return ""
	}
	net, err := signer.NetParams(d.Config.Bitcoin.Network)
	if err != nil {
		return ""
	}
	master, err := signer.MasterExtendedKey(seeder.ExtendedKeySeed(), net)
	if err != nil {
		return ""
	}
	addr, _, err := signer.DeriveDepositAddress(master, common.HexToAddress(evmRecipient).Bytes(), net)
	if err != nil {
		return ""
	}
	return addr.String()
}

// handleNotify turns a NotifyMinterEvent into zero or more operation
// mutations, implementing the on_minter_notification dispatch.
func (e *Engine) handleNotify(ev ethereum.NotifyLog) []operation.Action {
	switch operation.NotificationType(ev.NotificationType) {
	case operation.NotificationDepositRequest:
		return e.handleDepositRequest(ev)
	case operation.NotificationRescheduleOperation:
		id, ok := decodeRescheduleID(ev.UserData)
		if !ok {
			e.deps.Logger.Warn("reschedule notification with undecodable user data")
			return nil
		}
		return []operation.Action{{Kind: operation.ActionReschedule, ID: operation.ID(id)}}
	default:
		return nil
	}
}

// handleDepositRequest decodes and validates the request, then seeds one
// deposit operation per requested asset.
func (e *Engine) handleDepositRequest(ev ethereum.NotifyLog) []operation.Action {
	var req depositRequest
	if err := json.Unmarshal(ev.UserData, &req); err != nil {
		e.deps.Logger.Warn("malformed deposit request user data, skipping")
		return nil
	}
	if err := validateRequest.Struct(req); err != nil {
		e.deps.Logger.Warn("invalid deposit request, skipping")
		return nil
	}

	minConf := uint32(e.deps.Config.Bitcoin.MinConfirmations)
	var actions []operation.Action

	switch req.Variant {
	case "rune", "brc20":
		kind := req.Variant + "_deposit"
		depositAddr := depositAddressFor(e.deps, req.DstAddress)
		for name := range req.DstTokens {
			var requested *string
			if amt, ok := req.Amounts[name]; ok {
				requested = &amt
			}
			payload := operation.NewRuneDeposit(kind, req.DstAddress, depositAddr, name, req.UtxoTxID, req.UtxoVout, req.DepositHeight, minConf, 0, requested)
			actions = append(actions, operation.Action{Kind: operation.ActionCreate, Payload: payload, Memo: &ev.Memo})
		}
	case "btc":
		depositAddr := depositAddressFor(e.deps, req.DstAddress)
		payload := operation.NewBtcDeposit(req.DstAddress, depositAddr, minConf, 0)
		actions = append(actions, operation.Action{Kind: operation.ActionCreate, Payload: payload, Memo: &ev.Memo})
	case "icrc2":
		payload := operation.NewIcrc2Deposit(req.Sender, req.RecipientAddress, req.LedgerPrincipal, req.Erc20Address, req.Amount, req.FeePayer, 0)
		actions = append(actions, operation.Action{Kind: operation.ActionCreate, Payload: payload, Memo: &ev.Memo})
	}
	return actions
}

// decodeRescheduleID accepts either the 8-byte big-endian encoding or a
// JSON {"operation_id": N} document.
func decodeRescheduleID(userData []byte) (uint64, bool) {
	if len(userData) == 8 {
		return binary.BigEndian.Uint64(userData), true
	}
	var doc struct {
		OperationID *uint64 `json:"operation_id"`
	}
	if err := json.Unmarshal(userData, &doc); err != nil || doc.OperationID == nil {
		return 0, false
	}
	return *doc.OperationID, true
}
