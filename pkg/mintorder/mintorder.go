// Package mintorder implements the fixed-size mint-order binary layout
// signed by the bridge and submitted via the BftBridge contract's
// batchMint call.
package mintorder

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// unsignedLen is the byte length of the layout before the 65-byte signature:
// amount(32) sender(32) src_token(32) recipient(20) dst_token(20) nonce(4)
// sender_chain_id(4) recipient_chain_id(4) name(32) symbol(16) decimals(1)
// approve_spender(20) approve_amount(32) fee_payer(20).
const unsignedLen = 32 + 32 + 32 + 20 + 20 + 4 + 4 + 4 + 32 + 16 + 1 + 20 + 32 + 20

const signatureLen = 65

// Order is the unsigned mint-order payload.
type Order struct {
	Amount            [32]byte
	Sender            [32]byte
	SrcToken          [32]byte
	Recipient         common.Address
	DstToken          common.Address
	Nonce             uint32
	SenderChainID     uint32
	RecipientChainID  uint32
	Name              [32]byte
	Symbol            [16]byte
	Decimals          uint8
	ApproveSpender    common.Address
	ApproveAmount     [32]byte
	FeePayer          common.Address
}

// PadName right-zero-pads (and truncates) s into a 32-byte ASCII field.
func PadName(s string) [32]byte {
	var out [32]byte
	copy(out[:], s)
	return out
}

// PadSymbol right-zero-pads (and truncates) s into a 16-byte ASCII field.
func PadSymbol(s string) [16]byte {
	var out [16]byte
	copy(out[:], s)
	return out
}

// Marshal encodes the unsigned order to its fixed-size big-endian layout.
func (o *Order) Marshal() []byte {
	buf := make([]byte, 0, unsignedLen)
	buf = append(buf, o.Amount[:]...)
	buf = append(buf, o.Sender[:]...)
	buf = append(buf, o.SrcToken[:]...)
	buf = append(buf, o.Recipient.Bytes()...)
	buf = append(buf, o.DstToken.Bytes()...)
	buf = appendUint32(buf, o.Nonce)
	buf = appendUint32(buf, o.SenderChainID)
	buf = appendUint32(buf, o.RecipientChainID)
	buf = append(buf, o.Name[:]...)
	buf = append(buf, o.Symbol[:]...)
	buf = append(buf, o.Decimals)
	buf = append(buf, o.ApproveSpender.Bytes()...)
	buf = append(buf, o.ApproveAmount[:]...)
	buf = append(buf, o.FeePayer.Bytes()...)
	if len(buf) != unsignedLen {
		panic(fmt.Sprintf("mintorder: unsigned layout length mismatch: got %d want %d", len(buf), unsignedLen))
	}
	return buf
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

// Digest returns keccak256 of the unsigned payload, the value signed by the
// bridge's signer.
func (o *Order) Digest() common.Hash {
	return crypto.Keccak256Hash(o.Marshal())
}

// Signed is a mint order together with its 65-byte r||s||v signature.
type Signed struct {
	Order     *Order
	Signature [signatureLen]byte
}

// SignWithKey signs the order's digest with a local ECDSA key, matching the
// bridge's "local" signer backend. The v byte is normalized to the 27/28
// convention the on-chain recovery expects.
func SignWithKey(o *Order, key *ecdsa.PrivateKey) (*Signed, error) {
	digest := o.Digest()
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("sign mint order: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	var out [signatureLen]byte
	copy(out[:], sig)
	return &Signed{Order: o, Signature: out}, nil
}

// Bytes returns the wire form: data || signature(65).
func (s *Signed) Bytes() []byte {
	return append(s.Order.Marshal(), s.Signature[:]...)
}

// Batch concatenates signed orders for one batchMint transaction. The
// orders need not share a digest: each carries its own signature and is
// recovered on its own. Digest is not filled in or checked by AppendOrder.
type Batch struct {
	Digest    common.Hash
	OrdersRaw []byte // concatenated Signed.Bytes() for each order in the batch
}

// AppendOrder appends a signed order's wire form to the batch without
// comparing digests. The Mint-Tx Batching Service groups orders by
// destination token, not by digest.
func (b *Batch) AppendOrder(s *Signed) {
	b.OrdersRaw = append(b.OrdersRaw, s.Bytes()...)
}

// VerifySignature recovers the signer address from a signed order and
// returns it; it does not compare it with any expected address. Used by
// tests and by downstream observers
// validating a mint order before resubmission.
func VerifySignature(s *Signed) (common.Address, error) {
	sig := make([]byte, signatureLen)
	copy(sig, s.Signature[:])
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(s.Order.Digest().Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover mint order signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
