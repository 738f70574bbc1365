package relayer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/omnibridge/bridge-runtime/pkg/bitcoinadapter"
	"github.com/omnibridge/bridge-runtime/pkg/bridgeerr"
	"github.com/omnibridge/bridge-runtime/pkg/db"
	"github.com/omnibridge/bridge-runtime/pkg/indexer"
	"github.com/omnibridge/bridge-runtime/pkg/inscription"
	"github.com/omnibridge/bridge-runtime/pkg/ledger"
	"github.com/omnibridge/bridge-runtime/pkg/mintorder"
	"github.com/omnibridge/bridge-runtime/pkg/operation"
	"github.com/omnibridge/bridge-runtime/pkg/signer"
)

func init() {
	registerVariant("rune_deposit", progressRuneDeposit)
	registerVariant("brc20_deposit", progressRuneDeposit)
	registerVariant("rune_withdraw", progressRuneWithdraw)
	registerVariant("brc20_withdraw", progressRuneWithdraw)
	registerVariant("btc_deposit", progressBtcDeposit)
	registerVariant("btc_withdraw", progressBtcWithdraw)
	registerVariant("erc20_deposit", progressErc20)
	registerVariant("erc20_withdraw", progressErc20)
	registerVariant("icrc2_deposit", progressIcrc2Deposit)
}

// bitcoinKeyer is the extra capability the inscription flow needs from a
// signer backend: the raw secp256k1 key for Bitcoin script signing. Only
// the local backend provides it.
type bitcoinKeyer interface {
	BitcoinPrivateKey() *btcec.PrivateKey
}

// buildMintOrder assembles the fixed-size mint order from the common shape
// every deposit variant shares once it has confirmed an amount and a
// destination EVM recipient. dstToken is resolved by a token registry kept
// outside this component; zero here stands in for "any ERC20 the contract's
// own configuration maps the src asset to."
func buildMintOrder(amount string, sender, srcToken [32]byte, recipient common.Address, name, symbol string, decimals uint8, nonce uint32, chainID int64) *mintorder.Order {
	amt, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		amt = big.NewInt(0)
	}
	var amount32 [32]byte
	amt.FillBytes(amount32[:])

	return &mintorder.Order{
		Amount:           amount32,
		Sender:           sender,
		SrcToken:         srcToken,
		Recipient:        recipient,
		DstToken:         common.Address{},
		Nonce:            nonce,
		SenderChainID:    0,
		RecipientChainID: uint32(chainID),
		Name:             mintorder.PadName(name),
		Symbol:           mintorder.PadSymbol(symbol),
		Decimals:         decimals,
	}
}

// signAndBatch signs order and hands it to the mint batching pipeline,
// returning the order's digest hex so the caller's payload can remember
// where its mint wound up.
func signAndBatch(ctx context.Context, d *Deps, operationID int64, order *mintorder.Order, memo [32]byte) (string, error) {
	signed, err := signOrder(ctx, d, order)
	if err != nil {
		return "", err
	}
	if err := d.MintBatch.push(ctx, operationID, signed, memo); err != nil {
		return "", err
	}
	return signed.Order.Digest().Hex(), nil
}

// errUtxoAlreadyUsed is the double-spend guard: the same deposit output
// must never back two mint orders.
func errUtxoAlreadyUsed() error {
	return bridgeerr.FailedToProgress("utxo is already used to create mint orders")
}

// checkRequestedAmount compares the user-requested amount against what
// the indexers actually report, per asset name. A nil requested amount
// accepts whatever the UTXO carries.
func checkRequestedAmount(name string, requested *string, actual string) error {
	if requested == nil {
		return nil
	}
	if !decimalEqual(*requested, actual) {
		return bridgeerr.FailedToProgress(fmt.Sprintf(
			"requested amounts {%s: %s} are not equal actual amounts {%s: %s}",
			name, *requested, name, actual))
	}
	return nil
}

func progressRuneDeposit(ctx context.Context, d *Deps, id int64, p operation.Payload) (operation.Payload, error) {
	dep, ok := p.(*operation.RuneDeposit)
	if !ok {
		return p, bridgeerr.FailedToProgress("rune deposit: unexpected payload type")
	}

	switch dep.Stage {
	case operation.RuneAwaitInputs:
		bal, err := runeFamilyBalance(ctx, d, dep.Kind(), dep.DepositAddress, dep.RuneName)
		if err != nil {
			return dep, err
		}
		if err := checkRequestedAmount(dep.RuneName, dep.RequestedAmount, bal); err != nil {
			return dep, err
		}
		dep.Amount = bal
		dep.Stage = operation.RuneAwaitConfirmations
		return dep, nil

	case operation.RuneAwaitConfirmations:
		used, err := d.Store.IsUtxoUsed(ctx, dep.UTXOTxID, int(dep.UTXOVout))
		if err != nil {
			return dep, err
		}
		if used {
			return dep, errUtxoAlreadyUsed()
		}
		confs, err := d.Bitcoin.TransactionConfirmations(ctx, dep.UTXOTxID)
		if err != nil {
			return dep, bridgeerr.Unavailable(err.Error())
		}
		if confs < 0 {
			return dep, bridgeerr.FailedToProgress("utxo is not on the main chain")
		}
		if confs < int64(dep.MinConfirmations) {
			return dep, nil
		}
		dep.Stage = operation.RuneSignMintOrder
		return dep, nil

	case operation.RuneSignMintOrder:
		if dep.MintOrderDigest != nil {
			dep.Stage = operation.RuneSendMintOrder
			return dep, nil
		}
		if err := d.Store.MarkUtxoUsed(ctx, dep.UTXOTxID, int(dep.UTXOVout), id); err != nil {
			return dep, err
		}
		recipient := common.HexToAddress(dep.DstAddress)
		order := buildMintOrder(dep.Amount, mintorder.PadName(dep.DepositAddress), mintorder.PadName(dep.RuneName), recipient, dep.RuneName, dep.RuneName, 0, dep.Nonce, d.Config.Evm.ChainID)
		var memo [32]byte
		digest, err := signAndBatch(ctx, d, id, order, memo)
		if err != nil {
			return dep, err
		}
		dep.MintOrderDigest = &digest
		dep.Stage = operation.RuneSendMintOrder
		return dep, nil

	case operation.RuneSendMintOrder:
		if dep.MintTxHash != nil {
			dep.Stage = operation.RuneWaitForMintConfirm
		}
		return dep, nil

	case operation.RuneWaitForMintConfirm:
		if dep.MintTxHash == nil {
			return dep, nil
		}
		receipt, err := d.EVM.GetTransactionReceipt(ctx, common.HexToHash(*dep.MintTxHash))
		if err != nil {
			return dep, bridgeerr.Unavailable(err.Error())
		}
		if receipt.Status == types.ReceiptStatusSuccessful {
			dep.Stage = operation.RuneConfirmed
		}
		return dep, nil
	}
	return dep, nil
}

func runeFamilyBalance(ctx context.Context, d *Deps, kind, address, ticker string) (string, error) {
	if !d.Indexers.Configured() {
		return "0", nil
	}
	var bal *indexer.Balance
	var err error
	if kind == "brc20_deposit" || kind == "brc20_withdraw" {
		bal, err = d.Indexers.BRC20Balance(ctx, address, ticker)
	} else {
		bal, err = d.Indexers.RuneBalance(ctx, address, ticker)
	}
	if err != nil {
		return "", err
	}
	return bal.Amount, nil
}

// inscriptionFee picks a fee for one transaction from the adapter's
// median percentile (millisats/vbyte), assuming a conservative 250-vbyte
// transaction, with a 2 sat/vbyte floor.
func inscriptionFee(ctx context.Context, d *Deps) int64 {
	const vsize = 250
	percentiles, err := d.Bitcoin.FeePercentiles(ctx)
	if err != nil || len(percentiles) == 0 {
		return 2 * vsize
	}
	median := percentiles[len(percentiles)/2]
	fee := int64(median) * vsize / 1000
	if fee < 2*vsize {
		fee = 2 * vsize
	}
	return fee
}

// bridgeBtcKey returns the local backend's Bitcoin key, its P2WPKH
// funding address, and the network, or a Signing error when the
// configured backend cannot expose raw key material.
func bridgeBtcKey(d *Deps) (*btcec.PrivateKey, btcutil.Address, error) {
	keyer, ok := d.Signer.(bitcoinKeyer)
	if !ok {
		return nil, nil, bridgeerr.Signing(nil, "inscription withdrawals require the local signer backend")
	}
	net, err := signer.NetParams(d.Config.Bitcoin.Network)
	if err != nil {
		return nil, nil, bridgeerr.Signing(err, "resolve bitcoin network")
	}
	key := keyer.BitcoinPrivateKey()
	pubKeyHash := btcutil.Hash160(key.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, net)
	if err != nil {
		return nil, nil, bridgeerr.Signing(err, "derive bridge funding address")
	}
	return key, addr, nil
}

func progressRuneWithdraw(ctx context.Context, d *Deps, id int64, p operation.Payload) (operation.Payload, error) {
	w, ok := p.(*operation.RuneWithdraw)
	if !ok {
		return p, bridgeerr.FailedToProgress("rune withdraw: unexpected payload type")
	}

	switch w.Stage {
	case operation.RuneCreateInscriptionTxs:
		return createInscriptionTxs(ctx, d, w)

	case operation.RuneSendCommit:
		if w.CommitTxHex == nil {
			return w, bridgeerr.FailedToProgress("commit transaction missing from payload")
		}
		if _, err := d.Bitcoin.BroadcastTransaction(ctx, *w.CommitTxHex); err != nil {
			return w, bridgeerr.Unavailable(err.Error())
		}
		w.Stage = operation.RuneSendReveal
		return w, nil

	case operation.RuneSendReveal:
		if w.RevealTxHex == nil || w.CommitTxID == nil {
			return w, bridgeerr.FailedToProgress("reveal transaction missing from payload")
		}
		if _, err := d.Bitcoin.BroadcastTransaction(ctx, *w.RevealTxHex); err != nil {
			return w, bridgeerr.Unavailable(err.Error())
		}
		if err := d.Store.AddRevealUtxo(ctx, &db.RevealUtxo{
			CommitTxID:  *w.CommitTxID,
			CommitVout:  0,
			RevealTxID:  w.RevealTxID,
			OperationID: id,
		}); err != nil {
			return w, err
		}
		now := time.Now()
		w.RevealBroadcast = &now
		w.Stage = operation.RuneAwaitInscriptionConfirm
		return w, nil

	case operation.RuneAwaitInscriptionConfirm:
		if w.RevealBroadcast != nil && time.Since(*w.RevealBroadcast) > d.Config.Bitcoin.MempoolTimeout {
			return w, bridgeerr.InvalidRequest("reveal transaction not confirmed within mempool timeout")
		}
		confs, err := d.Bitcoin.TransactionConfirmations(ctx, *w.RevealTxID)
		if err != nil {
			return w, bridgeerr.Unavailable(err.Error())
		}
		if confs < 1 {
			return w, nil
		}
		w.Stage = operation.RuneCreateTransfer
		return w, nil

	case operation.RuneCreateTransfer:
		return createTransferTx(ctx, d, w)

	case operation.RuneSendTransfer:
		if w.TransferTxHex == nil {
			return w, bridgeerr.FailedToProgress("transfer transaction missing from payload")
		}
		result, err := d.Bitcoin.BroadcastTransaction(ctx, *w.TransferTxHex)
		if err != nil {
			return w, bridgeerr.Unavailable(err.Error())
		}
		w.TransferTxID = &result.TxID
		if err := d.Store.MoveRevealToUsed(ctx, *w.RevealTxID, 0, id); err != nil {
			return w, err
		}
		w.Stage = operation.RuneDone
		return w, nil
	}
	return w, nil
}

// createInscriptionTxs builds and signs the commit/reveal pair from the
// bridge's own spendable outputs, storing the raw hex in the payload so
// a crash between stages replays the identical transactions.
func createInscriptionTxs(ctx context.Context, d *Deps, w *operation.RuneWithdraw) (operation.Payload, error) {
	key, fundingAddr, err := bridgeBtcKey(d)
	if err != nil {
		return w, err
	}
	net, _ := signer.NetParams(d.Config.Bitcoin.Network)

	var payload []byte
	if w.Kind() == "brc20_withdraw" {
		payload, err = inscription.Brc20TransferPayload(w.RuneName, w.Amount)
	} else {
		payload, err = inscription.RuneTransferPayload(w.RuneName, w.Amount)
	}
	if err != nil {
		return w, bridgeerr.Serialization(err, "build inscription payload")
	}

	witnessScript, commitAddr, err := inscription.CommitScript(key.PubKey(), payload, net)
	if err != nil {
		return w, bridgeerr.Signing(err, "build commit script")
	}

	spendable, err := d.Store.SpendableUtxos(ctx, fundingAddr.String())
	if err != nil {
		return w, err
	}

	fee := inscriptionFee(ctx, d)
	// The commit output must fund the reveal output plus the reveal and
	// transfer fees downstream.
	commitValue := 2*fee + 2*546

	var inputs []inscription.Input
	var inputValues []int64
	var total int64
	for _, u := range spendable {
		inputs = append(inputs, inscription.Input{TxID: u.TxID, Vout: uint32(u.Vout), ValueSats: u.ValueSats})
		inputValues = append(inputValues, u.ValueSats)
		total += u.ValueSats
		if total >= commitValue+fee {
			break
		}
	}
	if total < commitValue+fee {
		return w, bridgeerr.FailedToProgress(fmt.Sprintf("insufficient bridge funds: have %d sats, need %d", total, commitValue+fee))
	}

	commitTx, err := inscription.BuildCommitTx(inputs, commitAddr, fundingAddr, commitValue, fee)
	if err != nil {
		return w, bridgeerr.FailedToProgress(err.Error())
	}
	if err := inscription.SignP2WPKHInputs(commitTx, inputValues, key, net); err != nil {
		return w, bridgeerr.Signing(err, "sign commit transaction")
	}
	commitTxID := commitTx.TxHash().String()

	revealTx, err := inscription.BuildRevealTx(commitTxID, commitValue, fundingAddr, fee)
	if err != nil {
		return w, bridgeerr.FailedToProgress(err.Error())
	}
	if err := inscription.SignRevealInput(revealTx, commitValue, witnessScript, key); err != nil {
		return w, bridgeerr.Signing(err, "sign reveal transaction")
	}
	revealTxID := revealTx.TxHash().String()

	commitHex, err := inscription.SerializeTx(commitTx)
	if err != nil {
		return w, bridgeerr.Serialization(err, "serialize commit transaction")
	}
	revealHex, err := inscription.SerializeTx(revealTx)
	if err != nil {
		return w, bridgeerr.Serialization(err, "serialize reveal transaction")
	}

	for _, u := range inputs {
		if err := d.Store.MarkUtxoSpent(ctx, u.TxID, int(u.Vout), commitTxID, 0); err != nil {
			return w, err
		}
	}

	w.CommitTxHex = &commitHex
	w.CommitTxID = &commitTxID
	w.RevealTxHex = &revealHex
	w.RevealTxID = &revealTxID
	w.RevealValueSats = commitValue - fee
	w.Stage = operation.RuneSendCommit
	return w, nil
}

// createTransferTx spends the confirmed reveal output to the withdrawal
// recipient.
func createTransferTx(ctx context.Context, d *Deps, w *operation.RuneWithdraw) (operation.Payload, error) {
	key, _, err := bridgeBtcKey(d)
	if err != nil {
		return w, err
	}
	net, _ := signer.NetParams(d.Config.Bitcoin.Network)

	recipient, err := btcutil.DecodeAddress(w.Recipient, net)
	if err != nil {
		return w, bridgeerr.InvalidRequest(fmt.Sprintf("withdrawal recipient %q is not a valid address on the target chain", w.Recipient))
	}

	fee := inscriptionFee(ctx, d)
	transferTx, err := inscription.BuildTransferTx(*w.RevealTxID, w.RevealValueSats, recipient, fee)
	if err != nil {
		return w, bridgeerr.FailedToProgress(err.Error())
	}
	if err := inscription.SignP2WPKHInputs(transferTx, []int64{w.RevealValueSats}, key, net); err != nil {
		return w, bridgeerr.Signing(err, "sign transfer transaction")
	}

	transferHex, err := inscription.SerializeTx(transferTx)
	if err != nil {
		return w, bridgeerr.Serialization(err, "serialize transfer transaction")
	}

	w.TransferTxHex = &transferHex
	w.Stage = operation.RuneSendTransfer
	return w, nil
}

func progressBtcDeposit(ctx context.Context, d *Deps, id int64, p operation.Payload) (operation.Payload, error) {
	dep, ok := p.(*operation.BtcDeposit)
	if !ok {
		return p, bridgeerr.FailedToProgress("btc deposit: unexpected payload type")
	}

	switch dep.Stage {
	case operation.BtcAwaitInputs:
		updates, err := d.Bitcoin.UpdateBalance(ctx, dep.DepositAddress)
		if err != nil {
			return dep, bridgeerr.Unavailable(err.Error())
		}
		for _, u := range updates {
			if u.Status != bitcoinadapter.UtxoStatusMinted && u.Status != bitcoinadapter.UtxoStatusChecked {
				continue
			}
			used, err := d.Store.IsUtxoUsed(ctx, u.Utxo.TxID, int(u.Utxo.Vout))
			if err != nil {
				return dep, err
			}
			if used {
				continue
			}
			dep.UTXOTxID = u.Utxo.TxID
			dep.UTXOVout = u.Utxo.Vout
			dep.AmountSats = uint64(u.Utxo.ValueSats)
			dep.Stage = operation.BtcSignMintOrder
			return dep, nil
		}
		return dep, nil

	case operation.BtcSignMintOrder:
		if err := d.Store.MarkUtxoUsed(ctx, dep.UTXOTxID, int(dep.UTXOVout), id); err != nil {
			return dep, err
		}
		recipient := common.HexToAddress(dep.DstAddress)
		order := buildMintOrder(
			weiToDecimalString(new(big.Int).SetUint64(dep.AmountSats)),
			mintorder.PadName(dep.DepositAddress), mintorder.PadName("BTC"),
			recipient, "Bitcoin", "BTC", 8, dep.Nonce, d.Config.Evm.ChainID)
		var memo [32]byte
		if _, err := signAndBatch(ctx, d, id, order, memo); err != nil {
			return dep, err
		}
		dep.Stage = operation.BtcSendMintOrder
		return dep, nil

	case operation.BtcSendMintOrder:
		if dep.MintTxHash != nil {
			dep.Stage = operation.BtcConfirmed
		}
		return dep, nil
	}
	return dep, nil
}

func progressBtcWithdraw(ctx context.Context, d *Deps, id int64, p operation.Payload) (operation.Payload, error) {
	w, ok := p.(*operation.BtcWithdraw)
	if !ok {
		return p, bridgeerr.FailedToProgress("btc withdraw: unexpected payload type")
	}

	switch w.Stage {
	case operation.BtcBurnObserved:
		block, err := d.Bitcoin.RetrieveBtc(ctx, w.Recipient, w.AmountSats)
		if err != nil {
			return w, err
		}
		now := time.Now()
		w.RetrieveBlock = &block
		w.SubmittedAt = &now
		w.Stage = operation.BtcRetrieveSubmitted
		return w, nil

	case operation.BtcRetrieveSubmitted:
		if w.SubmittedAt != nil && time.Since(*w.SubmittedAt) > d.Config.Bitcoin.MempoolTimeout {
			return w, bridgeerr.InvalidRequest("btc withdrawal not confirmed within mempool timeout")
		}
		height, err := d.Bitcoin.BlockHeight(ctx)
		if err != nil {
			return w, bridgeerr.Unavailable(err.Error())
		}
		if w.RetrieveBlock == nil || uint64(height) < *w.RetrieveBlock+uint64(d.Config.Bitcoin.MinConfirmations) {
			return w, nil
		}
		w.Stage = operation.BtcWithdrawConfirmed
		return w, nil
	}
	return w, nil
}

func progressErc20(ctx context.Context, d *Deps, id int64, p operation.Payload) (operation.Payload, error) {
	t, ok := p.(*operation.Erc20Transfer)
	if !ok {
		return p, bridgeerr.FailedToProgress("erc20 transfer: unexpected payload type")
	}

	switch t.Stage {
	case operation.Erc20AwaitConfirmations:
		latest, err := latestBlock(ctx, d)
		if err != nil {
			return t, err
		}
		if latest < t.SrcBlockNumber {
			return t, nil
		}
		t.Confirmations = uint32(latest - t.SrcBlockNumber)
		if t.Confirmations < uint32(d.Config.Evm.ConfirmationBlocks) {
			return t, nil
		}
		t.Stage = operation.Erc20SignMintOrder
		return t, nil

	case operation.Erc20SignMintOrder:
		recipient := common.HexToAddress(t.DstAddress)
		order := buildMintOrder(t.Amount, mintorder.PadName(t.SrcAddress), mintorder.PadName(t.SrcToken), recipient, "", "", 18, t.Nonce, d.Config.Evm.ChainID)
		var memo [32]byte
		if _, err := signAndBatch(ctx, d, id, order, memo); err != nil {
			return t, err
		}
		t.Stage = operation.Erc20SendMintOrder
		return t, nil

	case operation.Erc20SendMintOrder:
		if t.MintTxHash != nil {
			t.Stage = operation.Erc20Confirmed
		}
		return t, nil
	}
	return t, nil
}

func latestBlock(ctx context.Context, d *Deps) (uint64, error) {
	results, err := d.EVM.BatchQuery(ctx, d.Signer.Address())
	if err != nil {
		return 0, err
	}
	for _, r := range results {
		if r.Err == nil && r.LatestBlock > 0 {
			return r.LatestBlock, nil
		}
	}
	return 0, nil
}

func progressIcrc2Deposit(ctx context.Context, d *Deps, id int64, p operation.Payload) (operation.Payload, error) {
	dep, ok := p.(*operation.Icrc2Deposit)
	if !ok {
		return p, bridgeerr.FailedToProgress("icrc2 deposit: unexpected payload type")
	}
	if d.Ledger == nil {
		return dep, bridgeerr.Initialization("allowance ledger not configured")
	}

	switch dep.Stage {
	case operation.Icrc2AwaitApproval:
		allowance, err := d.Ledger.Allowance(ctx, dep.LedgerPrincipal, dep.Sender)
		if err != nil {
			return dep, err
		}
		if decimalLess(allowance, dep.Amount) {
			return dep, bridgeerr.FailedToProgress(fmt.Sprintf("allowance %s below requested deposit %s", allowance, dep.Amount))
		}
		dep.Stage = operation.Icrc2TransferFrom
		return dep, nil

	case operation.Icrc2TransferFrom:
		if dep.CachedFee == "" {
			fee, err := d.Ledger.Fee(ctx, dep.LedgerPrincipal)
			if err != nil {
				return dep, err
			}
			dep.CachedFee = fee
		}
		block, err := d.Ledger.TransferFrom(ctx, dep.LedgerPrincipal, dep.Sender, dep.Amount, dep.CachedFee)
		if err != nil {
			var badFee *ledger.BadFeeError
			if errors.As(err, &badFee) && !dep.FeeRetried {
				// Stale fee: refresh from the rejection and retry exactly once.
				dep.CachedFee = badFee.ExpectedFee
				dep.FeeRetried = true
				block, err = d.Ledger.TransferFrom(ctx, dep.LedgerPrincipal, dep.Sender, dep.Amount, dep.CachedFee)
			}
			if err != nil {
				return dep, err
			}
		}
		dep.BurnBlockIndex = &block
		dep.Stage = operation.Icrc2SignMintOrder
		return dep, nil

	case operation.Icrc2SignMintOrder:
		recipient := common.HexToAddress(dep.RecipientEVM)
		order := buildMintOrder(dep.Amount, mintorder.PadName(dep.Sender), mintorder.PadName(dep.LedgerPrincipal), recipient, "ICRC2", "ICRC2", 8, dep.Nonce, d.Config.Evm.ChainID)
		var memo [32]byte
		if _, err := signAndBatch(ctx, d, id, order, memo); err != nil {
			return dep, err
		}
		dep.Stage = operation.Icrc2SendMintOrder
		return dep, nil

	case operation.Icrc2SendMintOrder:
		if dep.MintTxHash != nil {
			dep.Stage = operation.Icrc2Confirmed
		}
		return dep, nil
	}
	return dep, nil
}
