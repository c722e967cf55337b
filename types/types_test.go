package types

import (
	"testing"

	g "github.com/anacrolix/generics"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestChunkEmpty(t *testing.T) {
	var c TransactionListWithProof
	require.True(t, c.Empty())
	require.False(t, c.FirstVersion.Ok)

	c.Transactions = []Transaction{{Version: 5}}
	c.FirstVersion = g.Some(Version(5))
	require.False(t, c.Empty())
	require.Equal(t, 1, c.Len())
}

func TestLedgerInfoFingerprintStable(t *testing.T) {
	li := LedgerInfoWithSignatures{Ver: 10, Epoch: 1}
	require.Equal(t, li.Fingerprint(), li.Fingerprint())

	other := li
	other.Ver = 11
	require.NotEqual(t, li.Fingerprint(), other.Fingerprint())
}

func TestLedgerInfoSigners(t *testing.T) {
	li := LedgerInfoWithSignatures{
		Signatures: []ValidatorSignature{
			{Signer: "p1"}, {Signer: "p2"},
		},
	}
	require.Equal(t, []PeerID{"p1", "p2"}, li.Signers())
}

func TestStateSynchronizerMsgVariants(t *testing.T) {
	req := NewChunkRequestMsg(ChunkRequest{KnownVersion: 1})
	require.True(t, req.Request.Ok)
	require.False(t, req.Response.Ok)

	resp := NewChunkResponseMsg(ChunkResponse{})
	require.True(t, resp.Response.Ok)
	require.False(t, resp.Request.Ok)
}

// TestTransactionListWithProofDeepEqual exercises go-cmp where a plain
// require.Equal's one-line failure wouldn't show which transaction in
// a larger chunk diverged.
func TestTransactionListWithProofDeepEqual(t *testing.T) {
	a := TransactionListWithProof{
		Transactions: []Transaction{
			{Version: 1, Payload: []byte("a")},
			{Version: 2, Payload: []byte("b")},
		},
		FirstVersion: g.Some(Version(1)),
	}
	b := a
	b.Transactions = append([]Transaction(nil), a.Transactions...)

	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("unexpected diff (-want +got):\n%s", diff)
	}

	b.Transactions[1].Payload = []byte("c")
	if diff := cmp.Diff(a, b); diff == "" {
		t.Fatal("expected a diff after mutating a copy's payload")
	}
}
