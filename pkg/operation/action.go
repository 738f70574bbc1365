package operation

// ActionKind discriminates the outcome of a variant event handler.
type ActionKind int

const (
	// ActionNone means the event produced no operation mutation.
	ActionNone ActionKind = iota
	// ActionCreate allocates a fresh id from the nonce counter.
	ActionCreate
	// ActionCreateWithID reuses an id seeded from an external nonce (e.g. a
	// burn event), so a later MintTokenEvent.nonce round-trips.
	ActionCreateWithID
	// ActionUpdate locates the live operation by (address, nonce) and
	// replaces its payload.
	ActionUpdate
	// ActionConfirmMint locates the live operation by (address, nonce) and
	// drives it to its mint-confirmed terminal stage.
	ActionConfirmMint
	// ActionReschedule pulls an existing operation's task forward to now,
	// re-creating the task if none is queued.
	ActionReschedule
)

// Action is the result handed back by a Log Fetch Service variant handler,
// matching OperationAction::{Create, CreateWithId, Update, None} from the
// design.
type Action struct {
	Kind    ActionKind
	ID      ID   // for ActionCreateWithID
	Payload Payload
	Memo    *[32]byte
	Address string // for ActionUpdate
	Nonce   uint32 // for ActionUpdate
}

// NotificationType enumerates the typed NotifyMinterEvent payloads.
type NotificationType uint32

const (
	NotificationDepositRequest NotificationType = iota
	NotificationRescheduleOperation
	NotificationOther
)
