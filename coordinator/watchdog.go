package coordinator

import (
	"context"
	"time"

	"github.com/webhacking/statesync/peermanager"
)

// handleTick implements the progress watchdog, spec.md §4.3.5. It also
// runs on NewPeer (see handleNetworkEvent), not just the periodic tick.
func (c *Coordinator) handleTick(ctx context.Context) {
	if c.peers.Len() == 0 {
		return
	}
	if c.role != peermanager.FullNode && !c.active.Ok {
		return
	}

	timeout := c.cfg.watchdogTimeout(c.role)
	nextVersion := c.knownVersion + 1

	sentAt, ok := c.peers.GetRequestTime(nextVersion)
	if !ok {
		sentAt = time.Unix(0, 0)
	}
	if time.Now().After(sentAt.Add(timeout)) {
		timedOutPeer, score, ok := c.peers.ProcessTimeout(nextVersion, c.role == peermanager.Validator)
		c.pushPeerScore(timedOutPeer, score, ok)
		c.requestNextChunk(ctx, 0)
	}
}
