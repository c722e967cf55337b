// Package netsim is an in-memory, multi-node loopback network harness
// implementing the transport layer (spec.md §6) for tests and the
// cmd/statesync demo, with simulated per-peer bandwidth and latency.
//
// Grounded on the teacher's socket.go Listener/Dialer abstraction: a
// swappable transport behind a narrow interface, here reimplemented as
// an in-memory hub instead of a TCP/uTP socket.
package netsim

import (
	"context"
	"time"

	"github.com/anacrolix/sync"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/webhacking/statesync/types"
)

// Network is a shared in-memory hub that every simulated node joins.
// Message delivery is latency-delayed and, if a per-node bandwidth
// limit was configured, rate-limited by message size.
type Network struct {
	mu      sync.Mutex
	nodes   map[types.PeerID]*node
	latency time.Duration
}

type node struct {
	recv    chan<- types.NetworkEvent
	limiter *rate.Limiter
}

// New builds a Network with a fixed one-way delivery latency. A zero
// latency delivers synchronously-scheduled messages immediately.
func New(latency time.Duration) *Network {
	return &Network{nodes: make(map[types.PeerID]*node), latency: latency}
}

// Sender is the types.Sender handed to a coordinator for one specific
// peer: it always delivers to the same (from, to) pair.
type Sender struct {
	net  *Network
	from types.PeerID
	to   types.PeerID
}

var _ types.Sender = (*Sender)(nil)

func (s *Sender) Send(ctx context.Context, msg types.StateSynchronizerMsg) error {
	return s.net.deliver(ctx, s.from, s.to, msg)
}

// Join registers id on the network, wiring recv as the channel its
// coordinator's Network() method exposes. bytesPerSecond bounds
// inbound bandwidth to this node; zero disables the limiter.
//
// Every already-joined node is told about id (and vice versa) via a
// NewPeer event delivered on a background goroutine, since recv may be
// a bounded channel owned by a coordinator that is not yet draining it
// from the same call stack.
func (n *Network) Join(ctx context.Context, id types.PeerID, recv chan<- types.NetworkEvent, bytesPerSecond float64) error {
	n.mu.Lock()
	var limiter *rate.Limiter
	if bytesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), int(bytesPerSecond))
	}
	existing := make([]types.PeerID, 0, len(n.nodes))
	existingRecv := make([]chan<- types.NetworkEvent, 0, len(n.nodes))
	for peer, rec := range n.nodes {
		existing = append(existing, peer)
		existingRecv = append(existingRecv, rec.recv)
	}
	n.nodes[id] = &node{recv: recv, limiter: limiter}
	n.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for i, peer := range existing {
		peer, rec := peer, existingRecv[i]
		g.Go(func() error {
			return sendEvent(gctx, rec, types.NetworkEvent{Kind: types.NewPeer, Peer: id, Sender: &Sender{net: n, from: peer, to: id}})
		})
		g.Go(func() error {
			return sendEvent(gctx, recv, types.NetworkEvent{Kind: types.NewPeer, Peer: peer, Sender: &Sender{net: n, from: id, to: peer}})
		})
	}
	return g.Wait()
}

// Leave removes id from the network and notifies every other node of
// the disconnect.
func (n *Network) Leave(ctx context.Context, id types.PeerID) error {
	n.mu.Lock()
	delete(n.nodes, id)
	rest := make([]chan<- types.NetworkEvent, 0, len(n.nodes))
	for _, rec := range n.nodes {
		rest = append(rest, rec.recv)
	}
	n.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, rec := range rest {
		rec := rec
		g.Go(func() error {
			return sendEvent(gctx, rec, types.NetworkEvent{Kind: types.LostPeer, Peer: id})
		})
	}
	return g.Wait()
}

func sendEvent(ctx context.Context, recv chan<- types.NetworkEvent, ev types.NetworkEvent) error {
	select {
	case recv <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Network) deliver(ctx context.Context, from, to types.PeerID, msg types.StateSynchronizerMsg) error {
	n.mu.Lock()
	target, ok := n.nodes[to]
	n.mu.Unlock()
	if !ok {
		return errors.Errorf("netsim: peer %q is not connected", to)
	}
	if target.limiter != nil {
		if err := target.limiter.WaitN(ctx, msgSize(msg)); err != nil {
			return errors.Wrap(err, "netsim: bandwidth limit")
		}
	}
	if n.latency > 0 {
		timer := time.NewTimer(n.latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return sendEvent(ctx, target.recv, types.NetworkEvent{Kind: types.Message, Peer: from, Msg: msg})
}

// msgSize estimates a message's wire size for bandwidth shaping,
// without paying for a full gob encode on every send.
func msgSize(msg types.StateSynchronizerMsg) int {
	const base = 64
	if msg.Response.Ok && msg.Response.Value.Chunk.Ok {
		n := base
		for _, t := range msg.Response.Value.Chunk.Value.Transactions {
			n += len(t.Payload) + 16
		}
		return n
	}
	return base
}
