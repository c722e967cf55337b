package types

import (
	"context"

	"github.com/pkg/errors"
)

// ExecutorProxy is the out-of-scope execution/storage collaborator: it
// fetches the latest committed version, validates ledger proofs against
// a known validator set, executes chunks of transactions, serves chunks
// on demand, and produces epoch-change proofs. The synchronizer core
// never reaches into storage or crypto directly; it only ever calls
// through this interface.
type ExecutorProxy interface {
	GetLatestVersion(ctx context.Context) (Version, error)
	GetLatestLedgerInfo(ctx context.Context) (LedgerInfoWithSignatures, error)
	GetChunk(ctx context.Context, knownVersion Version, limit uint64, target LedgerInfoWithSignatures) (TransactionListWithProof, error)
	ValidateLedgerInfo(ctx context.Context, li LedgerInfoWithSignatures) error
	ExecuteChunk(ctx context.Context, chunk TransactionListWithProof, target LedgerInfoWithSignatures) error
	GetEpochProof(ctx context.Context, startEpoch uint64) (ValidatorChangeProof, error)
}

// Sender is the cheap, cloneable outbound handle the network layer gives
// the coordinator for a connected peer.
type Sender interface {
	Send(ctx context.Context, msg StateSynchronizerMsg) error
}

// NetworkEventKind discriminates NetworkEvent variants.
type NetworkEventKind int

const (
	NewPeer NetworkEventKind = iota
	LostPeer
	Message
	NetworkError
)

// NetworkEvent is one inbound event from the networking layer: a peer
// connecting, disconnecting, sending a message, or a transport error
// (logged, never terminates the loop).
type NetworkEvent struct {
	Kind    NetworkEventKind
	Peer    PeerID
	Sender  Sender
	Msg     StateSynchronizerMsg
	Err     error
}

// Sentinel errors. Checked with errors.Is by callers; wrapped with
// github.com/pkg/errors for additional context at the call site.
var (
	ErrNonSequentialChunk  = errors.New("chunk does not start at known_version+1")
	ErrEmptyChunkPayload   = errors.New("chunk response missing txn_list_with_proof")
	ErrConfigLimitExceeded = errors.New("inbound request exceeds configured limit")
	ErrNoEligiblePeer      = errors.New("no eligible peer to request from")
	ErrChunkDidNotAdvance  = errors.New("executor proxy did not advance past pre-call version")
)
