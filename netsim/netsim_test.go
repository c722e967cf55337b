package netsim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/webhacking/statesync/types"
)

func TestJoinNotifiesBothSides(t *testing.T) {
	ctx := context.Background()
	n := New(0)

	aRecv := make(chan types.NetworkEvent, 4)
	require.NoError(t, n.Join(ctx, "a", aRecv, 0))

	bRecv := make(chan types.NetworkEvent, 4)
	require.NoError(t, n.Join(ctx, "b", bRecv, 0))

	evA := <-aRecv
	require.Equal(t, types.NewPeer, evA.Kind)
	require.EqualValues(t, "b", evA.Peer)

	evB := <-bRecv
	require.Equal(t, types.NewPeer, evB.Kind)
	require.EqualValues(t, "a", evB.Peer)
}

func TestDeliverRoutesMessageToRecipient(t *testing.T) {
	ctx := context.Background()
	n := New(0)

	aRecv := make(chan types.NetworkEvent, 4)
	require.NoError(t, n.Join(ctx, "a", aRecv, 0))
	bRecv := make(chan types.NetworkEvent, 4)
	require.NoError(t, n.Join(ctx, "b", bRecv, 0))

	evA := <-aRecv // NewPeer b
	sender, ok := evA.Sender.(*Sender)
	require.True(t, ok)

	msg := types.NewChunkRequestMsg(types.ChunkRequest{KnownVersion: 7})
	require.NoError(t, sender.Send(ctx, msg))

	<-bRecv // NewPeer a
	got := <-bRecv
	require.Equal(t, types.Message, got.Kind)
	require.EqualValues(t, "a", got.Peer)
	require.True(t, got.Msg.Request.Ok)
	require.EqualValues(t, 7, got.Msg.Request.Value.KnownVersion)
}

func TestDeliverToUnknownPeerErrors(t *testing.T) {
	ctx := context.Background()
	n := New(0)
	err := n.deliver(ctx, "a", "ghost", types.StateSynchronizerMsg{})
	require.Error(t, err)
}

func TestLeaveNotifiesRemainingPeers(t *testing.T) {
	ctx := context.Background()
	n := New(0)

	aRecv := make(chan types.NetworkEvent, 4)
	require.NoError(t, n.Join(ctx, "a", aRecv, 0))
	bRecv := make(chan types.NetworkEvent, 4)
	require.NoError(t, n.Join(ctx, "b", bRecv, 0))
	<-aRecv
	<-bRecv

	require.NoError(t, n.Leave(ctx, "b"))
	ev := <-aRecv
	require.Equal(t, types.LostPeer, ev.Kind)
	require.EqualValues(t, "b", ev.Peer)
}

func TestLatencyDelaysDelivery(t *testing.T) {
	ctx := context.Background()
	n := New(20 * time.Millisecond)

	aRecv := make(chan types.NetworkEvent, 4)
	require.NoError(t, n.Join(ctx, "a", aRecv, 0))
	bRecv := make(chan types.NetworkEvent, 4)
	require.NoError(t, n.Join(ctx, "b", bRecv, 0))
	evA := <-aRecv
	<-bRecv
	sender := evA.Sender.(*Sender)

	start := time.Now()
	require.NoError(t, sender.Send(ctx, types.NewChunkRequestMsg(types.ChunkRequest{})))
	<-bRecv
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
