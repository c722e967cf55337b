package types

import (
	g "github.com/anacrolix/generics"
)

// ChunkRequest asks a peer for a batch of transactions starting at
// KnownVersion+1. Timeout of zero means "respond now or not at all";
// any positive Timeout asks the responder to hold the request open
// (long-poll) until it has data or the timeout elapses.
type ChunkRequest struct {
	KnownVersion Version
	Limit        uint64
	TimeoutMs    uint64
	TargetLI     g.Option[LedgerInfoWithSignatures]
}

// ChunkResponse carries a chunk together with the ledger info it is
// proven against. Chunk is absent (None) only for a malformed response
// that never set a txn_list_with_proof at all; a well-formed response
// with no new data yet is Some(TransactionListWithProof{}), still
// Empty() but present.
type ChunkResponse struct {
	Chunk g.Option[TransactionListWithProof]
	LI    LedgerInfoWithSignatures
}

// StateSynchronizerMsg is exactly one of ChunkRequest or ChunkResponse.
// Exactly one of the two option fields is set.
type StateSynchronizerMsg struct {
	Request  g.Option[ChunkRequest]
	Response g.Option[ChunkResponse]
}

// NewChunkRequestMsg wraps a ChunkRequest as a StateSynchronizerMsg.
func NewChunkRequestMsg(r ChunkRequest) StateSynchronizerMsg {
	return StateSynchronizerMsg{Request: g.Some(r)}
}

// NewChunkResponseMsg wraps a ChunkResponse as a StateSynchronizerMsg.
func NewChunkResponseMsg(r ChunkResponse) StateSynchronizerMsg {
	return StateSynchronizerMsg{Response: g.Some(r)}
}
