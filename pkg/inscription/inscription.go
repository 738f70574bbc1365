// Package inscription builds the two-transaction (commit + reveal)
// inscription pair used by BRC-20/Rune withdrawals, plus the transfer
// transaction that finally moves the inscribed output to the recipient.
// The commit pays into a P2WSH output whose witness script carries the
// inscription envelope; the reveal spends it, exposing the envelope
// on-chain; the transfer spends the reveal output to the withdrawal
// recipient.
package inscription

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Input is one spendable output funding a commit transaction.
type Input struct {
	TxID      string
	Vout      uint32
	ValueSats int64
}

// dustLimit is the smallest output value this builder will emit.
const dustLimit = 546

// envelopeChunk caps each pushed data element per script rules.
const envelopeChunk = 520

// Brc20TransferPayload renders the inscription body for a BRC-20
// transfer of amount units of tick.
func Brc20TransferPayload(tick, amount string) ([]byte, error) {
	return json.Marshal(map[string]string{
		"p":    "brc-20",
		"op":   "transfer",
		"tick": tick,
		"amt":  amount,
	})
}

// RuneTransferPayload renders the inscription body for a rune transfer
// edict of amount units of runeName.
func RuneTransferPayload(runeName, amount string) ([]byte, error) {
	return json.Marshal(map[string]string{
		"p":      "rune",
		"op":     "transfer",
		"rune":   runeName,
		"amount": amount,
	})
}

// CommitScript assembles the witness script holding the inscription
// envelope behind pub's CHECKSIG, and the P2WSH address the commit
// transaction pays it into.
func CommitScript(pub *btcec.PublicKey, payload []byte, net *chaincfg.Params) ([]byte, btcutil.Address, error) {
	b := txscript.NewScriptBuilder()
	b.AddData(pub.SerializeCompressed())
	b.AddOp(txscript.OP_CHECKSIG)
	b.AddOp(txscript.OP_FALSE)
	b.AddOp(txscript.OP_IF)
	b.AddData([]byte("ord"))
	b.AddData([]byte("text/plain;charset=utf-8"))
	for start := 0; start < len(payload); start += envelopeChunk {
		end := start + envelopeChunk
		if end > len(payload) {
			end = len(payload)
		}
		b.AddData(payload[start:end])
	}
	b.AddOp(txscript.OP_ENDIF)

	script, err := b.Script()
	if err != nil {
		return nil, nil, fmt.Errorf("build commit script: %w", err)
	}

	scriptHash := chainhash.HashB(script)
	addr, err := btcutil.NewAddressWitnessScriptHash(scriptHash, net)
	if err != nil {
		return nil, nil, fmt.Errorf("build p2wsh address: %w", err)
	}
	return script, addr, nil
}

// BuildCommitTx funds a commit output of commitValue sats at commitAddr
// from the given inputs, returning change above the fee to changeAddr.
// Inputs must be P2WPKH outputs controlled by the key that will sign.
func BuildCommitTx(inputs []Input, commitAddr, changeAddr btcutil.Address, commitValue, feeSats int64) (*wire.MsgTx, error) {
	if commitValue < dustLimit {
		return nil, fmt.Errorf("commit value %d below dust limit", commitValue)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	var total int64
	for _, in := range inputs {
		h, err := chainhash.NewHashFromStr(in.TxID)
		if err != nil {
			return nil, fmt.Errorf("parse input txid %s: %w", in.TxID, err)
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(h, in.Vout), nil, nil))
		total += in.ValueSats
	}

	commitScript, err := txscript.PayToAddrScript(commitAddr)
	if err != nil {
		return nil, fmt.Errorf("commit output script: %w", err)
	}
	tx.AddTxOut(wire.NewTxOut(commitValue, commitScript))

	change := total - commitValue - feeSats
	if change < 0 {
		return nil, fmt.Errorf("insufficient inputs: have %d sats, need %d", total, commitValue+feeSats)
	}
	if change >= dustLimit {
		changeScript, err := txscript.PayToAddrScript(changeAddr)
		if err != nil {
			return nil, fmt.Errorf("change output script: %w", err)
		}
		tx.AddTxOut(wire.NewTxOut(change, changeScript))
	}
	return tx, nil
}

// BuildRevealTx spends the commit output (always vout 0 of the commit
// transaction) into a single output at destAddr, exposing the envelope.
func BuildRevealTx(commitTxID string, commitValue int64, destAddr btcutil.Address, feeSats int64) (*wire.MsgTx, error) {
	h, err := chainhash.NewHashFromStr(commitTxID)
	if err != nil {
		return nil, fmt.Errorf("parse commit txid: %w", err)
	}

	value := commitValue - feeSats
	if value < dustLimit {
		return nil, fmt.Errorf("reveal output %d below dust limit", value)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(h, 0), nil, nil))

	destScript, err := txscript.PayToAddrScript(destAddr)
	if err != nil {
		return nil, fmt.Errorf("reveal output script: %w", err)
	}
	tx.AddTxOut(wire.NewTxOut(value, destScript))
	return tx, nil
}

// BuildTransferTx spends the reveal output (vout 0 of the reveal
// transaction) to the withdrawal recipient.
func BuildTransferTx(revealTxID string, revealValue int64, recipient btcutil.Address, feeSats int64) (*wire.MsgTx, error) {
	h, err := chainhash.NewHashFromStr(revealTxID)
	if err != nil {
		return nil, fmt.Errorf("parse reveal txid: %w", err)
	}

	value := revealValue - feeSats
	if value < dustLimit {
		return nil, fmt.Errorf("transfer output %d below dust limit", value)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(h, 0), nil, nil))

	destScript, err := txscript.PayToAddrScript(recipient)
	if err != nil {
		return nil, fmt.Errorf("transfer output script: %w", err)
	}
	tx.AddTxOut(wire.NewTxOut(value, destScript))
	return tx, nil
}

// SignP2WPKHInputs signs every input of tx as a P2WPKH spend with key.
// inputValues must align with tx.TxIn.
func SignP2WPKHInputs(tx *wire.MsgTx, inputValues []int64, key *btcec.PrivateKey, net *chaincfg.Params) error {
	if len(inputValues) != len(tx.TxIn) {
		return fmt.Errorf("input values mismatch: %d values for %d inputs", len(inputValues), len(tx.TxIn))
	}

	pubKeyHash := btcutil.Hash160(key.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, net)
	if err != nil {
		return fmt.Errorf("derive signing address: %w", err)
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return fmt.Errorf("signing pkscript: %w", err)
	}

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, in := range tx.TxIn {
		fetcher.AddPrevOut(in.PreviousOutPoint, wire.NewTxOut(inputValues[i], pkScript))
	}
	hashes := txscript.NewTxSigHashes(tx, fetcher)

	for i := range tx.TxIn {
		witness, err := txscript.WitnessSignature(tx, hashes, i, inputValues[i], pkScript, txscript.SigHashAll, key, true)
		if err != nil {
			return fmt.Errorf("sign input %d: %w", i, err)
		}
		tx.TxIn[i].Witness = witness
	}
	return nil
}

// SignRevealInput signs the reveal transaction's single input against the
// commit witness script, attaching [signature, witnessScript] per P2WSH.
func SignRevealInput(tx *wire.MsgTx, commitValue int64, witnessScript []byte, key *btcec.PrivateKey) error {
	fetcher := txscript.NewCannedPrevOutputFetcher(witnessScript, commitValue)
	hashes := txscript.NewTxSigHashes(tx, fetcher)

	sig, err := txscript.RawTxInWitnessSignature(tx, hashes, 0, commitValue, witnessScript, txscript.SigHashAll, key)
	if err != nil {
		return fmt.Errorf("sign reveal input: %w", err)
	}
	tx.TxIn[0].Witness = wire.TxWitness{sig, witnessScript}
	return nil
}

// SerializeTx renders a transaction as the raw hex the Bitcoin adapter's
// broadcast endpoint accepts.
func SerializeTx(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	if err := tx.Serialize(&buf); err != nil {
		return "", fmt.Errorf("serialize tx: %w", err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}
