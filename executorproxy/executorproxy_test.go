package executorproxy

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/webhacking/statesync/types"
)

func newTestProxy(t *testing.T) *Proxy {
	t.Helper()
	path := filepath.Join(t.TempDir(), "statesync.db")
	p, err := Open(path, Config{
		EpochLength: 10,
		Validators:  []types.PeerID{"v1", "v2", "v3", "v4"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestGetLatestVersionEmpty(t *testing.T) {
	p := newTestProxy(t)
	v, err := p.GetLatestVersion(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 0, v)
}

func TestExecuteChunkAndGetChunkRoundTrip(t *testing.T) {
	p := newTestProxy(t)
	ctx := context.Background()

	chunk := types.TransactionListWithProof{
		Transactions: []types.Transaction{
			{Version: 1, Payload: []byte("a")},
			{Version: 2, Payload: []byte("b")},
		},
	}
	target := types.LedgerInfoWithSignatures{Ver: 2}
	require.NoError(t, p.ExecuteChunk(ctx, chunk, target))

	v, err := p.GetLatestVersion(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, v)

	got, err := p.GetChunk(ctx, 0, 100, target)
	require.NoError(t, err)
	require.Len(t, got.Transactions, 2)
	require.True(t, got.FirstVersion.Ok)
	require.EqualValues(t, 1, got.FirstVersion.Value)
}

func TestExecuteChunkRejectsNonSequential(t *testing.T) {
	p := newTestProxy(t)
	ctx := context.Background()

	chunk := types.TransactionListWithProof{
		Transactions: []types.Transaction{{Version: 5, Payload: []byte("a")}},
	}
	err := p.ExecuteChunk(ctx, chunk, types.LedgerInfoWithSignatures{Ver: 5})
	require.Error(t, err)
}

func TestExecuteChunkEmptyIsNoop(t *testing.T) {
	p := newTestProxy(t)
	ctx := context.Background()
	require.NoError(t, p.ExecuteChunk(ctx, types.TransactionListWithProof{}, types.LedgerInfoWithSignatures{}))
	v, err := p.GetLatestVersion(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, v)
}

func TestGetLatestLedgerInfoIsValid(t *testing.T) {
	p := newTestProxy(t)
	ctx := context.Background()

	require.NoError(t, p.Seed([]types.Transaction{{Version: 1, Payload: []byte("a")}}))

	li, err := p.GetLatestLedgerInfo(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, li.Ver)
	require.Len(t, li.Signatures, 4)
	require.NoError(t, p.ValidateLedgerInfo(ctx, li))
}

func TestValidateLedgerInfoRejectsInsufficientQuorum(t *testing.T) {
	p := newTestProxy(t)
	ctx := context.Background()

	li := types.LedgerInfoWithSignatures{Ver: 1, Epoch: 0}
	p.verifier.Sign(&li)
	li.Signatures = li.Signatures[:1] // below quorum
	require.Error(t, p.ValidateLedgerInfo(ctx, li))
}

func TestGetEpochProofCoversRequestedRange(t *testing.T) {
	p := newTestProxy(t)
	ctx := context.Background()

	require.NoError(t, p.Seed([]types.Transaction{{Version: 25, Payload: []byte("a")}}))

	proof, err := p.GetEpochProof(ctx, 0)
	require.NoError(t, err)
	require.Len(t, proof.LedgerInfos, 3) // epochs 0,1,2 for version 25 / 10
	for _, li := range proof.LedgerInfos {
		require.NoError(t, p.ValidateLedgerInfo(ctx, li))
	}
}
