package operation

import (
	"encoding/json"
	"time"
)

// RuneStage enumerates the Rune/BRC-20 deposit stage graph.
type RuneStage int

const (
	RuneAwaitInputs RuneStage = iota
	RuneAwaitConfirmations
	RuneSignMintOrder
	RuneSendMintOrder
	RuneWaitForMintConfirm
	RuneConfirmed
)

func (s RuneStage) String() string {
	return [...]string{
		"AwaitInputs", "AwaitConfirmations", "SignMintOrder",
		"SendMintOrder", "WaitForMintConfirm", "Confirmed",
	}[s]
}

// RuneDeposit tracks a rune/BRC-20-family deposit.
type RuneDeposit struct {
	Stage            RuneStage
	DstAddress       string
	DepositAddress   string // derived Bitcoin deposit address the indexers are queried at
	RuneName         string
	Amount           string // decimal.Decimal encoded as string for storage portability
	RequestedAmount  *string
	UTXOTxID         string
	UTXOVout         uint32
	DepositHeight    uint64
	MinConfirmations uint32
	Nonce            uint32
	MintOrderDigest  *string
	MintTxHash       *string
	FailCount        int
	kind             string
}

// NewRuneDeposit constructs a RuneDeposit payload in its initial stage.
func NewRuneDeposit(kind, dstAddress, depositAddress, runeName, utxoTxID string, utxoVout uint32, depositHeight uint64, minConfirmations uint32, nonce uint32, requestedAmount *string) *RuneDeposit {
	return &RuneDeposit{
		Stage:            RuneAwaitInputs,
		DstAddress:       dstAddress,
		DepositAddress:   depositAddress,
		RuneName:         runeName,
		UTXOTxID:         utxoTxID,
		UTXOVout:         utxoVout,
		DepositHeight:    depositHeight,
		MinConfirmations: minConfirmations,
		Nonce:            nonce,
		RequestedAmount:  requestedAmount,
		kind:             kind,
	}
}

// runeDepositWire mirrors RuneDeposit with Kind exported, since the kind
// tag ("rune_deposit" vs "brc20_deposit") must survive the JSONB round
// trip through the Operation Store.
type runeDepositWire struct {
	Stage            RuneStage
	DstAddress       string
	DepositAddress   string
	RuneName         string
	Amount           string
	RequestedAmount  *string
	UTXOTxID         string
	UTXOVout         uint32
	DepositHeight    uint64
	MinConfirmations uint32
	Nonce            uint32
	MintOrderDigest  *string
	MintTxHash       *string
	FailCount        int
	Kind             string
}

func (d *RuneDeposit) MarshalJSON() ([]byte, error) {
	return json.Marshal(runeDepositWire{
		Stage: d.Stage, DstAddress: d.DstAddress, DepositAddress: d.DepositAddress, RuneName: d.RuneName, Amount: d.Amount,
		RequestedAmount: d.RequestedAmount, UTXOTxID: d.UTXOTxID, UTXOVout: d.UTXOVout,
		DepositHeight: d.DepositHeight, MinConfirmations: d.MinConfirmations, Nonce: d.Nonce,
		MintOrderDigest: d.MintOrderDigest, MintTxHash: d.MintTxHash, FailCount: d.FailCount, Kind: d.kind,
	})
}

func (d *RuneDeposit) UnmarshalJSON(data []byte) error {
	var w runeDepositWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*d = RuneDeposit{
		Stage: w.Stage, DstAddress: w.DstAddress, DepositAddress: w.DepositAddress, RuneName: w.RuneName, Amount: w.Amount,
		RequestedAmount: w.RequestedAmount, UTXOTxID: w.UTXOTxID, UTXOVout: w.UTXOVout,
		DepositHeight: w.DepositHeight, MinConfirmations: w.MinConfirmations, Nonce: w.Nonce,
		MintOrderDigest: w.MintOrderDigest, MintTxHash: w.MintTxHash, FailCount: w.FailCount, kind: w.Kind,
	}
	return nil
}

func (d *RuneDeposit) EVMWalletAddress() string { return d.DstAddress }
func (d *RuneDeposit) IsComplete() bool         { return d.Stage == RuneConfirmed }
func (d *RuneDeposit) Kind() string             { return d.kind }
func (d *RuneDeposit) SetNonce(nonce uint32)    { d.Nonce = nonce }
func (d *RuneDeposit) MintTxSent(txHash string) {
	d.MintTxHash = &txHash
	if d.Stage == RuneSignMintOrder {
		d.Stage = RuneSendMintOrder
	}
}
func (d *RuneDeposit) ConfirmMint() { d.Stage = RuneConfirmed }
func (d *RuneDeposit) SchedulingOptions() *SchedulingOptions {
	if d.Stage == RuneConfirmed {
		return nil
	}
	return &SchedulingOptions{
		MaxRetries: -1,
		Backoff:    Backoff{Kind: BackoffExponential, InitialDelay: 5 * time.Second, Multiplier: 2},
	}
}

// RuneWithdrawStage enumerates the inscription-based withdrawal stage graph.
type RuneWithdrawStage int

const (
	RuneCreateInscriptionTxs RuneWithdrawStage = iota
	RuneSendCommit
	RuneSendReveal
	RuneAwaitInscriptionConfirm
	RuneCreateTransfer
	RuneSendTransfer
	RuneDone
)

func (s RuneWithdrawStage) String() string {
	return [...]string{
		"CreateInscriptionTxs", "SendCommit", "SendReveal",
		"AwaitInscriptionConfirm", "CreateTransfer", "SendTransfer", "Done",
	}[s]
}

// RuneWithdraw tracks a commit/reveal inscription withdrawal. The raw
// transaction hex is carried in the payload so a crash between building
// and broadcasting resumes with the exact same transactions (and the
// same txids).
type RuneWithdraw struct {
	Stage           RuneWithdrawStage
	SrcAddress      string
	RuneName        string
	Amount          string
	Recipient       string // Bitcoin-family destination address
	BurnNonce       uint32
	CommitTxHex     *string
	CommitTxID      *string
	RevealTxHex     *string
	RevealTxID      *string
	RevealValueSats int64
	TransferTxHex   *string
	TransferTxID    *string
	RevealBroadcast *time.Time
	kind            string
}

func NewRuneWithdraw(kind, srcAddress, runeName, amount, recipient string, burnNonce uint32) *RuneWithdraw {
	return &RuneWithdraw{
		Stage:      RuneCreateInscriptionTxs,
		SrcAddress: srcAddress,
		RuneName:   runeName,
		Amount:     amount,
		Recipient:  recipient,
		BurnNonce:  burnNonce,
		kind:       kind,
	}
}

// runeWithdrawWire mirrors RuneWithdraw with Kind exported, for the same
// reason as runeDepositWire.
type runeWithdrawWire struct {
	Stage           RuneWithdrawStage
	SrcAddress      string
	RuneName        string
	Amount          string
	Recipient       string
	BurnNonce       uint32
	CommitTxHex     *string
	CommitTxID      *string
	RevealTxHex     *string
	RevealTxID      *string
	RevealValueSats int64
	TransferTxHex   *string
	TransferTxID    *string
	RevealBroadcast *time.Time
	Kind            string
}

func (w *RuneWithdraw) MarshalJSON() ([]byte, error) {
	return json.Marshal(runeWithdrawWire{
		Stage: w.Stage, SrcAddress: w.SrcAddress, RuneName: w.RuneName, Amount: w.Amount,
		Recipient: w.Recipient, BurnNonce: w.BurnNonce, CommitTxHex: w.CommitTxHex,
		CommitTxID: w.CommitTxID, RevealTxHex: w.RevealTxHex, RevealTxID: w.RevealTxID,
		RevealValueSats: w.RevealValueSats, TransferTxHex: w.TransferTxHex,
		TransferTxID: w.TransferTxID, RevealBroadcast: w.RevealBroadcast, Kind: w.kind,
	})
}

func (w *RuneWithdraw) UnmarshalJSON(data []byte) error {
	var wr runeWithdrawWire
	if err := json.Unmarshal(data, &wr); err != nil {
		return err
	}
	*w = RuneWithdraw{
		Stage: wr.Stage, SrcAddress: wr.SrcAddress, RuneName: wr.RuneName, Amount: wr.Amount,
		Recipient: wr.Recipient, BurnNonce: wr.BurnNonce, CommitTxHex: wr.CommitTxHex,
		CommitTxID: wr.CommitTxID, RevealTxHex: wr.RevealTxHex, RevealTxID: wr.RevealTxID,
		RevealValueSats: wr.RevealValueSats, TransferTxHex: wr.TransferTxHex,
		TransferTxID: wr.TransferTxID, RevealBroadcast: wr.RevealBroadcast, kind: wr.Kind,
	}
	return nil
}

func (w *RuneWithdraw) EVMWalletAddress() string { return w.SrcAddress }
func (w *RuneWithdraw) IsComplete() bool         { return w.Stage == RuneDone }
func (w *RuneWithdraw) Kind() string             { return w.kind }
func (w *RuneWithdraw) SchedulingOptions() *SchedulingOptions {
	if w.Stage == RuneDone {
		return nil
	}
	return &SchedulingOptions{
		MaxRetries: 20,
		Backoff:    Backoff{Kind: BackoffExponential, InitialDelay: 10 * time.Second, Multiplier: 1.5},
	}
}

// BtcStage enumerates the plain-BTC deposit stage graph.
type BtcStage int

const (
	BtcAwaitInputs BtcStage = iota
	BtcSignMintOrder
	BtcSendMintOrder
	BtcConfirmed
)

func (s BtcStage) String() string {
	return [...]string{"AwaitInputs", "SignMintOrder", "SendMintOrder", "Confirmed"}[s]
}

// BtcDeposit tracks a native-BTC deposit (no inscription involved).
type BtcDeposit struct {
	Stage            BtcStage
	DstAddress       string
	DepositAddress   string // derived Bitcoin deposit address swept by update_balance
	AmountSats       uint64
	UTXOTxID         string
	UTXOVout         uint32
	MinConfirmations uint32
	Nonce            uint32
	MintTxHash       *string
}

func NewBtcDeposit(dstAddress, depositAddress string, minConfirmations uint32, nonce uint32) *BtcDeposit {
	return &BtcDeposit{Stage: BtcAwaitInputs, DstAddress: dstAddress, DepositAddress: depositAddress, MinConfirmations: minConfirmations, Nonce: nonce}
}

func (d *BtcDeposit) EVMWalletAddress() string { return d.DstAddress }
func (d *BtcDeposit) IsComplete() bool         { return d.Stage == BtcConfirmed }
func (d *BtcDeposit) Kind() string             { return "btc_deposit" }
func (d *BtcDeposit) SetNonce(nonce uint32)    { d.Nonce = nonce }
func (d *BtcDeposit) MintTxSent(txHash string) {
	d.MintTxHash = &txHash
	if d.Stage == BtcSignMintOrder {
		d.Stage = BtcSendMintOrder
	}
}
func (d *BtcDeposit) ConfirmMint() { d.Stage = BtcConfirmed }
func (d *BtcDeposit) SchedulingOptions() *SchedulingOptions {
	if d.Stage == BtcConfirmed {
		return nil
	}
	return &SchedulingOptions{MaxRetries: -1, Backoff: Backoff{Kind: BackoffFixed, InitialDelay: 15 * time.Second}}
}

// BtcWithdrawStage enumerates the ERC20->BTC withdrawal stage graph.
type BtcWithdrawStage int

const (
	BtcBurnObserved BtcWithdrawStage = iota
	BtcRetrieveSubmitted
	BtcWithdrawConfirmed
)

func (s BtcWithdrawStage) String() string {
	return [...]string{"BurnObserved", "RetrieveSubmitted", "Confirmed"}[s]
}

// BtcWithdraw tracks an ERC20-to-BTC withdrawal through the Bitcoin
// Adapter's minter endpoint.
type BtcWithdraw struct {
	Stage         BtcWithdrawStage
	SrcAddress    string
	AmountSats    uint64
	Recipient     string
	BurnNonce     uint32
	RetrieveBlock *uint64
	SubmittedAt   *time.Time
}

func NewBtcWithdraw(srcAddress string, amountSats uint64, recipient string, burnNonce uint32) *BtcWithdraw {
	return &BtcWithdraw{Stage: BtcBurnObserved, SrcAddress: srcAddress, AmountSats: amountSats, Recipient: recipient, BurnNonce: burnNonce}
}

func (w *BtcWithdraw) EVMWalletAddress() string { return w.SrcAddress }
func (w *BtcWithdraw) IsComplete() bool         { return w.Stage == BtcWithdrawConfirmed }
func (w *BtcWithdraw) Kind() string             { return "btc_withdraw" }
func (w *BtcWithdraw) SchedulingOptions() *SchedulingOptions {
	if w.Stage == BtcWithdrawConfirmed {
		return nil
	}
	return &SchedulingOptions{MaxRetries: -1, Backoff: Backoff{Kind: BackoffFixed, InitialDelay: 30 * time.Second}}
}

// Erc20Stage enumerates the EVM<->EVM mirror stage graph; deposit and
// withdraw share the same shape, distinguished only by Side.
type Erc20Stage int

const (
	Erc20AwaitConfirmations Erc20Stage = iota
	Erc20SignMintOrder
	Erc20SendMintOrder
	Erc20Confirmed
)

func (s Erc20Stage) String() string {
	return [...]string{"AwaitConfirmations", "SignMintOrder", "SendMintOrder", "Confirmed"}[s]
}

// Erc20Transfer tracks one direction of an EVM<->EVM bridge leg.
type Erc20Transfer struct {
	Stage          Erc20Stage
	Side           Side
	SrcAddress     string
	DstAddress     string
	SrcToken       string
	DstToken       string
	Amount         string
	Nonce          uint32
	SrcBlockNumber uint64
	Confirmations  uint32
	MintTxHash     *string
}

func NewErc20Transfer(side Side, srcAddress, dstAddress, srcToken, dstToken, amount string, nonce uint32, srcBlockNumber uint64) *Erc20Transfer {
	return &Erc20Transfer{Stage: Erc20AwaitConfirmations, Side: side, SrcAddress: srcAddress, DstAddress: dstAddress, SrcToken: srcToken, DstToken: dstToken, Amount: amount, Nonce: nonce, SrcBlockNumber: srcBlockNumber}
}

func (t *Erc20Transfer) EVMWalletAddress() string { return t.DstAddress }
func (t *Erc20Transfer) IsComplete() bool         { return t.Stage == Erc20Confirmed }
func (t *Erc20Transfer) Kind() string {
	if t.Side == SideBase {
		return "erc20_deposit"
	}
	return "erc20_withdraw"
}
func (t *Erc20Transfer) SetNonce(nonce uint32) { t.Nonce = nonce }
func (t *Erc20Transfer) MintTxSent(txHash string) {
	t.MintTxHash = &txHash
	if t.Stage == Erc20SignMintOrder {
		t.Stage = Erc20SendMintOrder
	}
}
func (t *Erc20Transfer) ConfirmMint() { t.Stage = Erc20Confirmed }
func (t *Erc20Transfer) SchedulingOptions() *SchedulingOptions {
	if t.Stage == Erc20Confirmed {
		return nil
	}
	return &SchedulingOptions{MaxRetries: -1, Backoff: Backoff{Kind: BackoffExponential, InitialDelay: 3 * time.Second, Multiplier: 2}}
}

// Icrc2Stage enumerates the allowance-ledger deposit stage graph.
type Icrc2Stage int

const (
	Icrc2AwaitApproval Icrc2Stage = iota
	Icrc2TransferFrom
	Icrc2SignMintOrder
	Icrc2SendMintOrder
	Icrc2Confirmed
)

func (s Icrc2Stage) String() string {
	return [...]string{"AwaitApproval", "TransferFrom", "SignMintOrder", "SendMintOrder", "Confirmed"}[s]
}

// Icrc2Deposit tracks an allowance-ledger (ICRC-2-shaped) deposit.
type Icrc2Deposit struct {
	Stage           Icrc2Stage
	Sender          string
	RecipientEVM    string
	LedgerPrincipal string
	Erc20Address    string
	Amount          string
	FeePayer        *string
	CachedFee       string
	FeeRetried      bool
	BurnBlockIndex  *uint64
	Nonce           uint32
	MintTxHash      *string
}

func NewIcrc2Deposit(sender, recipientEVM, ledgerPrincipal, erc20Address, amount string, feePayer *string, nonce uint32) *Icrc2Deposit {
	return &Icrc2Deposit{Stage: Icrc2AwaitApproval, Sender: sender, RecipientEVM: recipientEVM, LedgerPrincipal: ledgerPrincipal, Erc20Address: erc20Address, Amount: amount, FeePayer: feePayer, Nonce: nonce}
}

func (d *Icrc2Deposit) EVMWalletAddress() string { return d.RecipientEVM }
func (d *Icrc2Deposit) IsComplete() bool         { return d.Stage == Icrc2Confirmed }
func (d *Icrc2Deposit) Kind() string             { return "icrc2_deposit" }
func (d *Icrc2Deposit) SetNonce(nonce uint32)    { d.Nonce = nonce }
func (d *Icrc2Deposit) MintTxSent(txHash string) {
	d.MintTxHash = &txHash
	if d.Stage == Icrc2SignMintOrder {
		d.Stage = Icrc2SendMintOrder
	}
}
func (d *Icrc2Deposit) ConfirmMint() { d.Stage = Icrc2Confirmed }
func (d *Icrc2Deposit) SchedulingOptions() *SchedulingOptions {
	if d.Stage == Icrc2Confirmed {
		return nil
	}
	return &SchedulingOptions{MaxRetries: -1, Backoff: Backoff{Kind: BackoffFixed, InitialDelay: 5 * time.Second}}
}
