package coordinator

import (
	"github.com/webhacking/statesync/types"
)

// SyncResult is delivered exactly once to a Request's callback.
type SyncResult struct {
	Err error
}

// onceResult is a one-shot, single-producer/single-consumer callback
// channel. It tolerates the receiver dropping it (simply never reading
// again) without panicking or blocking the sender, per spec.md §5
// "Cancellation" and §9 "Callback channels."
type onceResult[T any] struct {
	ch chan T
}

func newOnceResult[T any]() onceResult[T] {
	return onceResult[T]{ch: make(chan T, 1)}
}

// fire delivers the result. Safe to call at most once; a second call
// would block forever against a capacity-1 channel, which is why every
// call site fires it exactly once and then discards the SyncRequest.
func (o onceResult[T]) fire(v T) {
	o.ch <- v
}

// Receiver is handed to callers of Request so they can await the result
// or simply drop it to cancel.
type Receiver[T any] <-chan T

func (o onceResult[T]) receiver() Receiver[T] {
	return Receiver[T](o.ch)
}

// SyncRequest drives the ledger to a target LedgerInfo. At most one is
// active at a time, per spec.md §3 invariant 2.
type SyncRequest struct {
	Target types.LedgerInfoWithSignatures

	result onceResult[SyncResult]
}

// NewSyncRequest constructs a SyncRequest and its result receiver.
func NewSyncRequest(target types.LedgerInfoWithSignatures) (SyncRequest, Receiver[SyncResult]) {
	r := onceResult[SyncResult]{ch: make(chan SyncResult, 1)}
	return SyncRequest{Target: target, result: r}, r.receiver()
}

// CommandKind discriminates the client CoordinatorMessage variants from
// spec.md §4.3.
type CommandKind int

const (
	CmdRequest CommandKind = iota
	CmdCommit
	CmdGetState
	CmdGetEpochProof
)

// Command is the unified client message envelope processed by the
// coordinator's main select loop, one per CoordinatorMessage variant.
type Command struct {
	Kind CommandKind

	// CmdRequest
	SyncReq SyncRequest

	// CmdCommit
	CommitVersion types.Version

	// CmdGetState
	StateResult onceResult[types.Version]

	// CmdGetEpochProof
	StartEpoch       uint64
	EpochProofResult onceResult[EpochProofResult]
}

type EpochProofResult struct {
	Proof types.ValidatorChangeProof
	Err   error
}

// NewRequestCommand builds a Request command and its result receiver.
func NewRequestCommand(target types.LedgerInfoWithSignatures) (Command, Receiver[SyncResult]) {
	req, recv := NewSyncRequest(target)
	return Command{Kind: CmdRequest, SyncReq: req}, recv
}

// NewCommitCommand builds a Commit command.
func NewCommitCommand(v types.Version) Command {
	return Command{Kind: CmdCommit, CommitVersion: v}
}

// NewGetStateCommand builds a GetState command and its result receiver.
func NewGetStateCommand() (Command, Receiver[types.Version]) {
	r := newOnceResult[types.Version]()
	return Command{Kind: CmdGetState, StateResult: r}, r.receiver()
}

// NewGetEpochProofCommand builds a GetEpochProof command and its result
// receiver.
func NewGetEpochProofCommand(startEpoch uint64) (Command, Receiver[EpochProofResult]) {
	r := newOnceResult[EpochProofResult]()
	return Command{Kind: CmdGetEpochProof, StartEpoch: startEpoch, EpochProofResult: r}, r.receiver()
}
