// Package types holds the wire-level and domain data model shared by the
// peer manager and the sync coordinator: versions, ledger infos, chunks,
// peer identifiers and the messages exchanged over the state
// synchronizer protocol.
package types

import (
	"fmt"

	g "github.com/anacrolix/generics"
	"github.com/cespare/xxhash/v2"
)

// Version identifies a committed ledger position. The ledger is an
// append-only log: version N+1 always follows N.
type Version uint64

// PeerID is an opaque peer identifier with equality and ordering, used as
// the tie-break key for weighted selection among equally-scored peers.
type PeerID string

// Less orders PeerIDs lexicographically, used to make peer selection
// deterministic under equal scores.
func (id PeerID) Less(other PeerID) bool {
	return id < other
}

// StateRootHash is the Merkle state root committed at some version.
type StateRootHash [32]byte

func (h StateRootHash) String() string {
	return fmt.Sprintf("%x", h[:])
}

// ValidatorSignature is a single validator's signature over a LedgerInfo.
// Real signature schemes (BLS, ed25519, ...) are out of scope here; the
// coordinator treats this as an opaque authenticator produced and checked
// by the executor proxy.
type ValidatorSignature struct {
	Signer PeerID
	Sig    []byte
}

// LedgerInfoWithSignatures is a quorum-signed summary of a committed
// ledger state at some version: the proof unit the coordinator accepts
// as a sync target.
type LedgerInfoWithSignatures struct {
	Ver        Version
	StateRoot  StateRootHash
	Epoch      uint64
	Signatures []ValidatorSignature
}

// Signers returns the set of peers who signed this ledger info.
func (li LedgerInfoWithSignatures) Signers() []PeerID {
	out := make([]PeerID, len(li.Signatures))
	for i, s := range li.Signatures {
		out[i] = s.Signer
	}
	return out
}

// Fingerprint is a cheap, non-cryptographic xxhash checksum over Ver,
// Epoch and StateRoot; signatures are not covered. It is never a
// substitute for the cryptographic signature verification the executor
// proxy performs.
func (li LedgerInfoWithSignatures) Fingerprint() uint64 {
	h := xxhash.New()
	var buf [16]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(li.Ver >> (8 * i))
	}
	for i := 0; i < 8; i++ {
		buf[8+i] = byte(li.Epoch >> (8 * i))
	}
	h.Write(buf[:])
	h.Write(li.StateRoot[:])
	return h.Sum64()
}

// Transaction is an opaque, already-serialized ledger transaction. Its
// internal structure is owned by the executor/storage layer; the
// synchronizer only ever moves it around as a byte string plus version.
type Transaction struct {
	Version Version
	Payload []byte
}

// TransactionListWithProof is an ordered sequence of transactions with a
// Merkle proof rooted at some LedgerInfo, plus the version of the first
// transaction. FirstVersion is absent (None) iff the chunk is empty.
type TransactionListWithProof struct {
	Transactions []Transaction
	FirstVersion g.Option[Version]
	Proof        []byte
}

// Empty reports whether this chunk carries no transactions.
func (c TransactionListWithProof) Empty() bool {
	return len(c.Transactions) == 0
}

// Len returns the number of transactions in the chunk.
func (c TransactionListWithProof) Len() int {
	return len(c.Transactions)
}

// ValidatorChangeProof authenticates a sequence of epoch changes starting
// at some epoch, as produced by the executor proxy's GetEpochProof.
type ValidatorChangeProof struct {
	StartEpoch Version
	LedgerInfos []LedgerInfoWithSignatures
}
