package wire

import (
	"bytes"
	"testing"

	g "github.com/anacrolix/generics"
	"github.com/stretchr/testify/require"

	"github.com/webhacking/statesync/types"
)

func TestEncodeDecodeChunkRequest(t *testing.T) {
	msg := types.NewChunkRequestMsg(types.ChunkRequest{
		KnownVersion: 42,
		Limit:        100,
		TimeoutMs:    5000,
		TargetLI:     g.Some(types.LedgerInfoWithSignatures{Ver: 100}),
	})

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, msg))

	got, err := Decode(&buf)
	require.NoError(t, err)
	require.True(t, got.Request.Ok)
	require.EqualValues(t, 42, got.Request.Value.KnownVersion)
	require.True(t, got.Request.Value.TargetLI.Ok)
	require.EqualValues(t, 100, got.Request.Value.TargetLI.Value.Ver)
}

func TestEncodeDecodeChunkResponse(t *testing.T) {
	msg := types.NewChunkResponseMsg(types.ChunkResponse{
		Chunk: g.Some(types.TransactionListWithProof{
			Transactions: []types.Transaction{{Version: 1, Payload: []byte("a")}},
			FirstVersion: g.Some(types.Version(1)),
		}),
		LI: types.LedgerInfoWithSignatures{Ver: 1},
	})

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, msg))

	got, err := Decode(&buf)
	require.NoError(t, err)
	require.True(t, got.Response.Ok)
	require.True(t, got.Response.Value.Chunk.Ok)
	require.Len(t, got.Response.Value.Chunk.Value.Transactions, 1)
}

func TestDecodeRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	_, err := Decode(&buf)
	require.Error(t, err)
}
