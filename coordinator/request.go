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

// handleRequest implements spec.md §4.3.1.
func (c *Coordinator) handleRequest(ctx context.Context, req SyncRequest) {
	v, err := c.executor.GetLatestVersion(ctx)
	if err != nil {
		c.logger.Levelf(log.Warning, "Request: refreshing known_version: %v", err)
		req.result.fire(SyncResult{Err: errors.Wrap(err, "refreshing known_version")})
		return
	}
	c.knownVersion = v
	c.metrics.SetKnownVersion(uint64(v))

	if req.Target.Ver <= c.knownVersion {
		empty := types.TransactionListWithProof{}
		if err := c.executor.ExecuteChunk(ctx, empty, req.Target); err != nil {
			req.result.fire(SyncResult{Err: errors.Wrap(err, "installing target ledger info")})
			return
		}
		c.metrics.IncSyncRequests("success")
		req.result.fire(SyncResult{})
		return
	}

	c.peers.SetPeers(req.Target.Signers())
	c.active = g.Some(activeSync{req: req, startedAt: time.Now()})
	c.requestNextChunk(ctx, 0)
}

// handleCommit implements spec.md §4.3.2.
func (c *Coordinator) handleCommit(ctx context.Context, v types.Version) {
	isUpdate := v > c.knownVersion
	if v > c.knownVersion {
		c.knownVersion = v
	}
	c.metrics.SetKnownVersion(uint64(c.knownVersion))

	if isUpdate {
		if _, ok := c.peers.GetRequestTime(c.knownVersion + 1); ok {
			if c.active.Ok {
				c.metrics.ObserveSyncProgress(time.Since(c.active.Value.startedAt))
			}
		}
		c.sweepAndDeliver(ctx)
	}

	if c.active.Ok && c.knownVersion == c.active.Value.req.Target.Ver {
		c.metrics.IncSyncRequests("success")
		c.active.Value.req.result.fire(SyncResult{})
		c.active = g.None[activeSync]()
	}

	c.peers.RemoveRequests(v)
}

// sweepAndDeliver implements spec.md §4.3.6: on a Commit that actually
// advances known_version, sweep subscriptions and deliver to those now
// ready. Deliveries are independent per peer; a send failure for one
// peer does not affect the others.
func (c *Coordinator) sweepAndDeliver(ctx context.Context) {
	ready := c.subs.Sweep(time.Now(), c.knownVersion)
	c.metrics.SetSubscriptionsActive(c.subs.Len())

	latest, err := c.executor.GetLatestLedgerInfo(ctx)
	if err != nil {
		c.logger.Levelf(log.Warning, "sweepAndDeliver: getting latest ledger info: %v", err)
		return
	}
	for _, r := range ready {
		sender, connected := c.senders[r.peer]
		if !connected || sender == nil {
			continue
		}
		c.deliverChunk(ctx, r.peer, sender, r.knownVer, r.limit, latest)
	}
}

// handleChunkRequest implements spec.md §4.3.3.
func (c *Coordinator) handleChunkRequest(ctx context.Context, peer types.PeerID, req types.ChunkRequest) {
	if req.TimeoutMs > c.cfg.MaxTimeoutMs || req.Limit > c.cfg.MaxChunkLimit {
		err := errors.Wrapf(types.ErrConfigLimitExceeded, "from %s: timeout=%d limit=%d", peer, req.TimeoutMs, req.Limit)
		c.logger.Levelf(log.Warning, "rejecting ChunkRequest: %v", err)
		return
	}

	target, err := c.resolveTarget(ctx, req)
	if err != nil {
		c.logger.Levelf(log.Warning, "resolving target for ChunkRequest from %s: %v", peer, err)
		return
	}

	if c.knownVersion <= req.KnownVersion && req.TimeoutMs > 0 {
		c.subs.Insert(peer, time.Now().Add(time.Duration(req.TimeoutMs)*time.Millisecond), req.KnownVersion, req.Limit)
		c.metrics.SetSubscriptionsActive(c.subs.Len())
		return
	}

	sender, connected := c.senders[peer]
	if !connected || sender == nil {
		return
	}
	c.deliverChunk(ctx, peer, sender, req.KnownVersion, req.Limit, target)
}

// resolveTarget picks req.TargetLI if present and well-formed, else the
// local latest LI, per spec.md §4.3.3 "Target selection." A malformed
// (but present) target LI is silently treated as absent here, per
// spec.md §9's preserved Open Question: the source falls back rather
// than rejecting.
func (c *Coordinator) resolveTarget(ctx context.Context, req types.ChunkRequest) (types.LedgerInfoWithSignatures, error) {
	if req.TargetLI.Ok {
		if err := c.executor.ValidateLedgerInfo(ctx, req.TargetLI.Value); err == nil {
			return req.TargetLI.Value, nil
		}
	}
	return c.executor.GetLatestLedgerInfo(ctx)
}

// deliverChunk obtains the chunk from the Executor Proxy and sends a
// ChunkResponse via the peer's sender. A send failure is logged, not
// propagated to the requester.
func (c *Coordinator) deliverChunk(ctx context.Context, peer types.PeerID, sender types.Sender, knownVersion types.Version, limit uint64, target types.LedgerInfoWithSignatures) {
	chunk, err := c.executor.GetChunk(ctx, knownVersion, limit, target)
	if err != nil {
		c.logger.Levelf(log.Warning, "deliverChunk to %s: getting chunk: %v", peer, err)
		return
	}
	msg := types.NewChunkResponseMsg(types.ChunkResponse{Chunk: g.Some(chunk), LI: target})
	if err := sender.Send(ctx, msg); err != nil {
		c.logger.Levelf(log.Warning, "deliverChunk to %s: send failed: %v", peer, err)
	}
}

// handleChunkResponse implements spec.md §4.3.4.
func (c *Coordinator) handleChunkResponse(ctx context.Context, peer types.PeerID, resp types.ChunkResponse) error {
	if !resp.Chunk.Ok {
		c.metrics.IncChunkResponses("invalid")
		return errors.Wrapf(types.ErrEmptyChunkPayload, "from %s", peer)
	}
	chunk := resp.Chunk.Value

	if !chunk.Empty() {
		if !chunk.FirstVersion.Ok {
			c.metrics.IncChunkResponses("invalid")
			return errors.New("chunk has transactions but no first_transaction_version")
		}
		v := chunk.FirstVersion.Value
		hasRequested := c.peers.HasRequested(v, peer)
		c.peers.ProcessResponse(v, peer)

		if v != c.knownVersion+1 {
			// A peer that holds the request for the expected version and
			// answers it out of sequence is penalised too; its entry is
			// cleared so the watchdog re-requests that version.
			if c.peers.HasRequested(c.knownVersion+1, peer) {
				hasRequested = true
				c.peers.ProcessResponse(c.knownVersion+1, peer)
			}
			if hasRequested {
				c.pushPeerScore(peer, c.peers.UpdateScore(peer, peermanager.InvalidChunk))
			}
			c.metrics.IncChunkResponses("non_sequential")
			return errors.Wrapf(types.ErrNonSequentialChunk, "got %d, want %d", v, c.knownVersion+1)
		}
	} else {
		c.metrics.IncChunkResponses("empty")
	}

	preCallVersion := c.knownVersion
	if err := c.validateAndStoreChunk(ctx, peer, chunk, resp.LI); err != nil {
		c.pushPeerScore(peer, c.peers.UpdateScore(peer, peermanager.InvalidChunk))
		c.metrics.IncChunkResponses("invalid")
		return err
	}

	latest, err := c.executor.GetLatestVersion(ctx)
	if err != nil {
		return errors.Wrap(err, "refreshing latest version after execute")
	}
	if latest <= preCallVersion {
		c.pushPeerScore(peer, c.peers.UpdateScore(peer, peermanager.InvalidChunk))
		c.metrics.IncChunkResponses("invalid")
		return errors.Wrap(types.ErrChunkDidNotAdvance, "validate_and_store_chunk")
	}

	c.pushPeerScore(peer, c.peers.UpdateScore(peer, peermanager.Success))
	c.metrics.IncChunkResponses("accepted")
	c.handleCommit(ctx, latest)
	return nil
}

// validateAndStoreChunk implements spec.md §4.3.4 step 3: pre-emptively
// pipeline the next chunk request, then validate and execute. The
// pipelined request overlaps network latency with execution, per
// spec.md §9 "Pipelining". A response to the pipelined request that
// lands after the SyncRequest has already completed is checked by
// handleChunkResponse like any other: one that does not start at
// known_version+1 is rejected as non-sequential, and an empty one is
// rejected because it does not advance the ledger.
func (c *Coordinator) validateAndStoreChunk(ctx context.Context, peer types.PeerID, chunk types.TransactionListWithProof, target types.LedgerInfoWithSignatures) error {
	c.requestNextChunk(ctx, types.Version(chunk.Len()))

	if err := c.executor.ValidateLedgerInfo(ctx, target); err != nil {
		return errors.Wrap(err, "validating ledger info")
	}
	if err := c.executor.ExecuteChunk(ctx, chunk, target); err != nil {
		return errors.Wrap(err, "executing chunk")
	}
	return nil
}

// requestNextChunk implements spec.md §4.3.7.
func (c *Coordinator) requestNextChunk(ctx context.Context, offset types.Version) {
	if c.role != peermanager.FullNode && !c.active.Ok {
		return
	}
	peer, sender, ok := c.peers.PickPeer()
	if !ok {
		c.logger.Levelf(log.Debug, "requestNextChunk: %v", types.ErrNoEligiblePeer)
		return
	}

	req := types.ChunkRequest{
		KnownVersion: c.knownVersion + offset,
		Limit:        c.cfg.ChunkLimit,
	}
	if c.role == peermanager.Validator {
		req.TargetLI = g.Some(c.active.Value.req.Target)
		req.TimeoutMs = 0
	} else {
		req.TimeoutMs = c.cfg.LongPollTimeoutMs
	}

	c.peers.ProcessRequest(c.knownVersion+offset+1, peer)
	if err := sender.Send(ctx, types.NewChunkRequestMsg(req)); err != nil {
		c.logger.Levelf(log.Warning, "requestNextChunk: send to %s failed: %v", peer, err)
		return
	}
	c.metrics.IncChunkRequestsSent()
}
