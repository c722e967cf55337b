// Package coordinator implements the Sync Coordinator (C3): the
// single-threaded cooperative event loop that multiplexes client
// commands, peer network events, and a periodic progress tick while
// driving the state synchronizer protocol described in spec.md.
//
// Grounded on the teacher's own single-goroutine, channel-driven
// requester loop in webseed-peer.go (a requesterWakeup channel standing
// in for a condition variable) and the watchdog-like retry bookkeeping
// in peer.go (needRequestUpdate, lastRequestUpdate).
package coordinator

import (
	"context"
	"time"

	g "github.com/anacrolix/generics"
	"github.com/anacrolix/log"
	"github.com/pkg/errors"

	"github.com/webhacking/statesync/peermanager"
	"github.com/webhacking/statesync/types"
)

// Coordinator is the Sync Coordinator (C3). All of its fields below the
// construction-time ones are owned exclusively by the goroutine running
// Run; no locks are needed, per spec.md §5.
type Coordinator struct {
	cfg    Config
	role   peermanager.Role
	logger log.Logger

	executor types.ExecutorProxy
	peers    *peermanager.Manager
	subs     *subscriptionTable
	metrics  Metrics

	commands chan Command
	network  chan types.NetworkEvent

	knownVersion types.Version
	active       g.Option[activeSync]

	senders map[types.PeerID]types.Sender
}

// activeSync tracks the live SyncRequest plus bookkeeping the watchdog
// and Commit handler need: when it started (for the sync-progress
// duration metric, a feature supplemented from original_source, see
// SPEC_FULL.md) and its result channel.
type activeSync struct {
	req       SyncRequest
	startedAt time.Time
}

// Option is the Config + collaborators bundle used to construct a
// Coordinator.
type Option struct {
	Config   Config
	Role     peermanager.Role
	Executor types.ExecutorProxy
	Logger   log.Logger
	Metrics  Metrics
}

// New constructs a Coordinator. It does not start the loop or touch the
// executor proxy; call Start to perform the fatal-init version read and
// Run to enter the event loop.
func New(opt Option) *Coordinator {
	logger := opt.Logger
	m := opt.Metrics
	if m == nil {
		m = noopMetrics{}
	}
	return &Coordinator{
		cfg:      opt.Config,
		role:     opt.Role,
		logger:   logger,
		executor: opt.Executor,
		peers:    peermanager.New(opt.Role, opt.Config.UpstreamPeers, logger),
		subs:     newSubscriptionTable(),
		metrics:  m,
		commands: make(chan Command, 16),
		network:  make(chan types.NetworkEvent, 64),
		senders:  make(map[types.PeerID]types.Sender),
	}
}

// Start performs the fatal-init sequence from spec.md §4.3 "Startup":
// read the latest version from the Executor Proxy. If this fails the
// coordinator cannot start.
func (c *Coordinator) Start(ctx context.Context) error {
	v, err := c.executor.GetLatestVersion(ctx)
	if err != nil {
		return errors.Wrap(err, "fatal init: reading latest version")
	}
	c.knownVersion = v
	c.metrics.SetKnownVersion(uint64(v))
	return nil
}

// Submit enqueues a client command. It is safe to call from any
// goroutine; commands are processed in submission order, per spec.md §5.
func (c *Coordinator) Submit(ctx context.Context, cmd Command) error {
	select {
	case c.commands <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Network returns the channel the networking layer delivers inbound
// events on.
func (c *Coordinator) Network() chan<- types.NetworkEvent {
	return c.network
}

// Request convenience-wraps Submit(NewRequestCommand(...)).
func (c *Coordinator) Request(ctx context.Context, target types.LedgerInfoWithSignatures) (Receiver[SyncResult], error) {
	cmd, recv := NewRequestCommand(target)
	if err := c.Submit(ctx, cmd); err != nil {
		return nil, err
	}
	return recv, nil
}

// Commit convenience-wraps Submit(NewCommitCommand(...)).
func (c *Coordinator) Commit(ctx context.Context, v types.Version) error {
	return c.Submit(ctx, NewCommitCommand(v))
}

// GetState convenience-wraps Submit(NewGetStateCommand()).
func (c *Coordinator) GetState(ctx context.Context) (Receiver[types.Version], error) {
	cmd, recv := NewGetStateCommand()
	if err := c.Submit(ctx, cmd); err != nil {
		return nil, err
	}
	return recv, nil
}

// GetEpochProof convenience-wraps Submit(NewGetEpochProofCommand(...)).
func (c *Coordinator) GetEpochProof(ctx context.Context, startEpoch uint64) (Receiver[EpochProofResult], error) {
	cmd, recv := NewGetEpochProofCommand(startEpoch)
	if err := c.Submit(ctx, cmd); err != nil {
		return nil, err
	}
	return recv, nil
}

// Run is the main loop. It is cooperative and single-threaded: on every
// iteration exactly one of {client command, network event, tick} is
// handled to completion before the next is considered. It returns when
// ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.tickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-c.commands:
			c.handleCommand(ctx, cmd)
		case ev := <-c.network:
			c.handleNetworkEvent(ctx, ev)
		case <-ticker.C:
			c.handleTick(ctx)
		}
	}
}

func (c *Coordinator) handleCommand(ctx context.Context, cmd Command) {
	switch cmd.Kind {
	case CmdRequest:
		c.handleRequest(ctx, cmd.SyncReq)
	case CmdCommit:
		c.handleCommit(ctx, cmd.CommitVersion)
	case CmdGetState:
		cmd.StateResult.fire(c.knownVersion)
	case CmdGetEpochProof:
		proof, err := c.executor.GetEpochProof(ctx, cmd.StartEpoch)
		cmd.EpochProofResult.fire(EpochProofResult{Proof: proof, Err: err})
	}
}

func (c *Coordinator) handleNetworkEvent(ctx context.Context, ev types.NetworkEvent) {
	switch ev.Kind {
	case types.NewPeer:
		c.peers.EnablePeer(ev.Peer, ev.Sender)
		c.senders[ev.Peer] = ev.Sender
		c.handleTick(ctx)
	case types.LostPeer:
		c.peers.DisablePeer(ev.Peer)
		delete(c.senders, ev.Peer)
		c.metrics.RemovePeer(string(ev.Peer))
	case types.Message:
		c.handleMessage(ctx, ev.Peer, ev.Msg)
	case types.NetworkError:
		c.logger.Levelf(log.Warning, "network error: %v", ev.Err)
	}
}

// pushPeerScore reports peer's current score to metrics after a scoring
// event; ok mirrors whatever the peer manager call that triggered it
// reported, so a no-op update (unknown peer) doesn't emit a stale value.
func (c *Coordinator) pushPeerScore(peer types.PeerID, score float64, ok bool) {
	if !ok {
		return
	}
	c.metrics.SetPeerScore(string(peer), score)
}

func (c *Coordinator) handleMessage(ctx context.Context, peer types.PeerID, msg types.StateSynchronizerMsg) {
	if msg.Request.Ok {
		c.handleChunkRequest(ctx, peer, msg.Request.Value)
		return
	}
	if msg.Response.Ok {
		if err := c.handleChunkResponse(ctx, peer, msg.Response.Value); err != nil {
			c.logger.Levelf(log.Debug, "chunk response from %s: %v", peer, err)
		}
		return
	}
	c.logger.Levelf(log.Warning, "message from %s carries neither request nor response", peer)
}
