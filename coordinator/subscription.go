package coordinator

import (
	"time"

	"github.com/webhacking/statesync/types"
)

// subscription is the Coordinator's record of a pending long-poll chunk
// request, per spec.md §4.2: peer -> (expiration, peer_known_version,
// peer_limit). Modeled as a timed map entry rather than a scheduled
// task, per spec.md §9 "Deferred long polls... modeled as timed entries,
// not tasks" — this keeps all mutation serialized in the coordinator
// instead of spawning a goroutine per long-poll.
type subscription struct {
	expiresAt   time.Time
	knownVer    types.Version
	limit       uint64
}

// subscriptionTable is the Subscription Table (C2).
type subscriptionTable struct {
	byPeer map[types.PeerID]subscription
}

func newSubscriptionTable() *subscriptionTable {
	return &subscriptionTable{byPeer: make(map[types.PeerID]subscription)}
}

// Insert overwrites any prior entry for peer with a new long-poll.
func (s *subscriptionTable) Insert(peer types.PeerID, expiresAt time.Time, knownVer types.Version, limit uint64) {
	s.byPeer[peer] = subscription{expiresAt: expiresAt, knownVer: knownVer, limit: limit}
}

// readyEntry is one subscription ready to be fulfilled.
type readyEntry struct {
	peer     types.PeerID
	knownVer types.Version
	limit    uint64
}

// Sweep removes expired entries (expiration <= now) and returns all
// remaining entries whose peer_known_version < knownVersion, removing
// those too (they are about to be delivered).
func (s *subscriptionTable) Sweep(now time.Time, knownVersion types.Version) (ready []readyEntry) {
	for peer, sub := range s.byPeer {
		if !sub.expiresAt.After(now) {
			delete(s.byPeer, peer)
			continue
		}
		if sub.knownVer < knownVersion {
			ready = append(ready, readyEntry{peer: peer, knownVer: sub.knownVer, limit: sub.limit})
			delete(s.byPeer, peer)
		}
	}
	return ready
}

// Len reports the number of active subscriptions, for metrics.
func (s *subscriptionTable) Len() int {
	return len(s.byPeer)
}
