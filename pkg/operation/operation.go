// Package operation defines the generic Operation envelope and the Payload
// contract every bridge variant must implement to be driven by the engine.
package operation

import (
	"time"
)

// ID is a monotonic 64-bit operation identifier. The low 32 bits are the
// nonce used in mint orders and in EVM events, so a MintTokenEvent.nonce
// round-trips back to the Operation that produced it.
type ID uint64

// NewID builds an ID from a persisted counter value and a nonce. Nonce must
// fit in 32 bits; callers allocate it from the same counter that produced
// counter so the two halves never drift.
func NewID(counter uint64, nonce uint32) ID {
	return ID(counter<<32 | uint64(nonce))
}

// Nonce returns the low 32 bits, the value embedded in mint orders and BFT
// bridge events.
func (id ID) Nonce() uint32 {
	return uint32(id)
}

// Side labels which EVM is currently the source for an EVM-to-EVM bridge.
type Side int

const (
	SideBase Side = iota
	SideWrapped
)

// SchedulingOptions carries the scheduler retry policy for an operation. A
// nil *SchedulingOptions from Payload.SchedulingOptions means "do not
// auto-drive this operation" (e.g. it is waiting on an external event only).
type SchedulingOptions struct {
	MaxRetries               int // -1 means infinite
	Backoff                  Backoff
	FixedDelayBeforeNextRun  time.Duration
}

// BackoffKind selects the scheduler's retry delay strategy.
type BackoffKind int

const (
	BackoffFixed BackoffKind = iota
	BackoffExponential
)

// Backoff describes how next_run_at advances after a retryable failure.
type Backoff struct {
	Kind          BackoffKind
	InitialDelay  time.Duration
	Multiplier    float64 // only used for BackoffExponential
}

// Next returns the delay to apply after the attempt-th retryable failure
// (attempt is 1 for the first failure).
func (b Backoff) Next(attempt int) time.Duration {
	if b.Kind == BackoffFixed || attempt <= 0 {
		return b.InitialDelay
	}
	d := b.InitialDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * b.Multiplier)
	}
	return d
}

// Payload is the sum-type contract every variant Op must satisfy. The
// engine only ever calls these four methods; it never type-switches on the
// concrete payload itself (that stays inside variant packages).
type Payload interface {
	// EVMWalletAddress is the address this operation belongs to, used for
	// the by_address secondary index.
	EVMWalletAddress() string
	// SchedulingOptions returns the retry policy, or nil if the operation
	// must not be auto-driven by the scheduler.
	SchedulingOptions() *SchedulingOptions
	// IsComplete is the terminal predicate; once true the engine moves the
	// operation from the live map to the log.
	IsComplete() bool
	// Kind names the variant+direction this payload belongs to, used for
	// storage discriminator and metrics labels.
	Kind() string
}

// NonceSetter is implemented by payloads whose mint order embeds the
// operation's own nonce; the engine calls it right after allocating the
// operation id, so the payload's nonce always matches the id's low bits.
type NonceSetter interface {
	SetNonce(nonce uint32)
}

// MintTxNotifier is implemented by deposit payloads whose order travels
// in a batchMint transaction; the batching service calls it once the
// batch has been broadcast.
type MintTxNotifier interface {
	MintTxSent(txHash string)
}

// MintConfirmer is implemented by payloads whose terminal stage is
// driven by the destination chain's MintTokenEvent.
type MintConfirmer interface {
	ConfirmMint()
}

// Envelope is the generic wrapper persisted by the Operation Store.
type Envelope struct {
	ID        ID
	Payload   Payload
	Memo      *[32]byte
	Side      *Side
	CreatedAt time.Time
	UpdatedAt time.Time
	// FailureReason is set when the envelope was moved to the log due to an
	// unrecoverable error rather than Payload.IsComplete() becoming true.
	FailureReason *string
}

// Address returns the envelope's secondary-index key, delegated to the
// payload.
func (e *Envelope) Address() string {
	return e.Payload.EVMWalletAddress()
}
