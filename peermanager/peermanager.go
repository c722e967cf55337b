// Package peermanager implements the state synchronizer's Peer Manager
// (C1): the eligible-peer set, weighted scoring, and the outstanding
// chunk-request table the sync coordinator drives its retry and penalty
// logic from.
//
// Grounded on the teacher's own per-peer bookkeeping in peer.go (score-
// like fields such as lastUsefulChunkReceived driving request decisions)
// and its ordered-structure-backed request tracking in
// torrent-piece-request-order.go.
package peermanager

import (
	"math/rand/v2"
	"sort"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/log"
	"github.com/tidwall/btree"

	"github.com/webhacking/statesync/types"
)

// Score bounds. Not fully specified by the original source (an Open
// Question there); chosen here and documented in DESIGN.md.
const (
	DefaultScore = 1.0
	ScoreFloor   = 0.01
	ScoreCeiling = 100.0

	successDelta         = 0.05
	timeoutMultiplier    = 0.8
	invalidMultiplier    = 0.5
	emptyChunkMultiplier = 0.95
)

// ScoreKind is the reason a peer's score is being adjusted.
type ScoreKind int

const (
	Success ScoreKind = iota
	Timeout
	InvalidChunk
	EmptyChunk
)

func (k ScoreKind) String() string {
	switch k {
	case Success:
		return "success"
	case Timeout:
		return "timeout"
	case InvalidChunk:
		return "invalid_chunk"
	case EmptyChunk:
		return "empty_chunk"
	default:
		return "unknown"
	}
}

// peerRecord is the (PeerId, sender, enabled?, score, is_upstream?) tuple
// from spec.md §3.
type peerRecord struct {
	id         types.PeerID
	sender     types.Sender
	index      uint32
	enabled    bool
	isUpstream bool
	score      float64
}

// outstandingEntry is a single row of the outstanding request table:
// version -> (peer, instant of send).
type outstandingEntry struct {
	version Version
	peer    types.PeerID
	sentAt  time.Time
}

// Version is re-exported so callers don't need to import types for the
// single field this package's public API needs.
type Version = types.Version

func outstandingLess(a, b outstandingEntry) bool {
	return a.version < b.version
}

// Role distinguishes Validator from FullNode request policy, per
// spec.md §3 "Role".
type Role int

const (
	FullNode Role = iota
	Validator
)

// Manager is the Peer Manager (C1).
type Manager struct {
	role Role

	peers        map[types.PeerID]*peerRecord
	nextIndex    uint32
	upstream     roaring.Bitmap // peer indices eligible when role == FullNode
	validatorSet roaring.Bitmap // peer indices eligible when role == Validator (set_peers)

	outstanding *btree.BTreeG[outstandingEntry]

	rng *rand.Rand

	logger log.Logger
}

// New constructs a Peer Manager for the given role. upstreamPeers is the
// FullNode-mode eligible set (config's upstream_peers); it is ignored in
// Validator mode, where eligibility instead comes from SetPeers.
func New(role Role, upstreamPeers []types.PeerID, logger log.Logger) *Manager {
	m := &Manager{
		role:        role,
		peers:       make(map[types.PeerID]*peerRecord),
		outstanding: btree.NewBTreeG(outstandingLess),
		rng:         rand.New(rand.NewPCG(1, 2)),
		logger:      logger,
	}
	for _, id := range upstreamPeers {
		rec := m.getOrCreate(id)
		rec.isUpstream = true
	}
	return m
}

// SeedRNG reseeds the selection RNG, for deterministic tests.
func (m *Manager) SeedRNG(seed1, seed2 uint64) {
	m.rng = rand.New(rand.NewPCG(seed1, seed2))
}

func (m *Manager) getOrCreate(id types.PeerID) *peerRecord {
	rec, ok := m.peers[id]
	if !ok {
		rec = &peerRecord{id: id, index: m.nextIndex, score: DefaultScore}
		m.nextIndex++
		m.peers[id] = rec
	}
	return rec
}

// SetPeers replaces the validator-mode eligible set with the given set of
// signer peer ids, per spec.md §4.1 "used when a new SyncRequest
// arrives so requests go to signers of the target LI."
func (m *Manager) SetPeers(ids []types.PeerID) {
	m.validatorSet.Clear()
	for _, id := range ids {
		rec := m.getOrCreate(id)
		m.validatorSet.Add(rec.index)
	}
}

// EnablePeer records a peer as connected, on network connect.
func (m *Manager) EnablePeer(id types.PeerID, sender types.Sender) {
	rec := m.getOrCreate(id)
	rec.sender = sender
	rec.enabled = true
}

// DisablePeer records a peer as disconnected, on network disconnect.
//
// Deliberately does not touch the outstanding request table: an
// in-flight request to this peer is left for the watchdog timeout to
// reclaim, rather than re-requested instantly, so a flapping connection
// does not trigger a thundering herd of immediate re-requests.
func (m *Manager) DisablePeer(id types.PeerID) {
	if rec, ok := m.peers[id]; ok {
		rec.enabled = false
	}
}

// eligible reports whether rec is currently selectable, per spec.md §3
// invariant 5: connected AND (FullNode && upstream) OR (Validator && in
// current target's signer set).
func (m *Manager) eligible(rec *peerRecord) bool {
	if !rec.enabled {
		return false
	}
	switch m.role {
	case FullNode:
		return rec.isUpstream
	case Validator:
		return m.validatorSet.Contains(rec.index)
	default:
		return false
	}
}

// PickPeer selects an eligible peer weighted by score; returns ok=false
// if none eligible.
func (m *Manager) PickPeer() (id types.PeerID, sender types.Sender, ok bool) {
	type candidate struct {
		rec *peerRecord
	}
	var cands []candidate
	for _, rec := range m.peers {
		if m.eligible(rec) {
			cands = append(cands, candidate{rec})
		}
	}
	if len(cands) == 0 {
		return "", nil, false
	}
	// Tie-break: lexicographic on PeerId for determinism under equal
	// scores in tests, per spec.md §4.1.
	sort.Slice(cands, func(i, j int) bool {
		return cands[i].rec.id < cands[j].rec.id
	})

	total := 0.0
	prefix := make([]float64, len(cands))
	for i, c := range cands {
		total += c.rec.score
		prefix[i] = total
	}
	draw := m.rng.Float64() * total
	idx := sort.Search(len(prefix), func(i int) bool { return prefix[i] > draw })
	if idx == len(prefix) {
		idx = len(prefix) - 1
	}
	rec := cands[idx].rec
	return rec.id, rec.sender, true
}

// ProcessRequest records that a chunk beginning at version was requested
// from peer at the current instant.
func (m *Manager) ProcessRequest(version Version, peer types.PeerID) {
	m.outstanding.Set(outstandingEntry{version: version, peer: peer, sentAt: time.Now()})
}

// ProcessResponse clears the outstanding entry for version.
func (m *Manager) ProcessResponse(version Version, peer types.PeerID) {
	m.outstanding.Delete(outstandingEntry{version: version})
}

// HasRequested reports whether this exact (version, peer) is currently
// outstanding.
func (m *Manager) HasRequested(version Version, peer types.PeerID) bool {
	entry, ok := m.outstanding.Get(outstandingEntry{version: version})
	return ok && entry.peer == peer
}

// RemoveRequests drops any outstanding entry for versions <=
// committedVersion.
func (m *Manager) RemoveRequests(committedVersion Version) {
	var toDelete []outstandingEntry
	m.outstanding.Scan(func(e outstandingEntry) bool {
		if e.version > committedVersion {
			return false
		}
		toDelete = append(toDelete, e)
		return true
	})
	for _, e := range toDelete {
		m.outstanding.Delete(e)
	}
}

// GetRequestTime returns the time the request for version was sent, if
// outstanding.
func (m *Manager) GetRequestTime(version Version) (time.Time, bool) {
	entry, ok := m.outstanding.Get(outstandingEntry{version: version})
	if !ok {
		return time.Time{}, false
	}
	return entry.sentAt, true
}

// ProcessTimeout penalizes the peer holding the outstanding entry for
// version; in validator mode it also drops the entry so a fresh pick is
// possible.
// ProcessTimeout returns the peer it penalized and its new score, so
// callers can push the updated score to metrics; ok is false if no
// entry was outstanding for version.
func (m *Manager) ProcessTimeout(version Version, isValidator bool) (peer types.PeerID, score float64, ok bool) {
	entry, found := m.outstanding.Get(outstandingEntry{version: version})
	if found {
		score, ok = m.UpdateScore(entry.peer, Timeout)
		peer = entry.peer
	}
	if isValidator {
		m.outstanding.Delete(outstandingEntry{version: version})
	}
	return
}

// UpdateScore applies a scoring delta for the given peer and returns
// its new score, so callers can push it to metrics; ok is false if peer
// is unknown.
func (m *Manager) UpdateScore(peer types.PeerID, kind ScoreKind) (score float64, ok bool) {
	rec, ok := m.peers[peer]
	if !ok {
		return 0, false
	}
	before := rec.score
	switch kind {
	case Success:
		rec.score += successDelta
	case Timeout:
		rec.score *= timeoutMultiplier
	case InvalidChunk:
		rec.score *= invalidMultiplier
	case EmptyChunk:
		rec.score *= emptyChunkMultiplier
	}
	if rec.score > ScoreCeiling {
		rec.score = ScoreCeiling
	}
	if rec.score < ScoreFloor {
		rec.score = ScoreFloor
	}
	m.logger.Levelf(log.Debug, "peer %s score %s: %.4f -> %.4f", peer, kind, before, rec.score)
	return rec.score, true
}

// Score returns the current score for peer, for tests and metrics.
func (m *Manager) Score(peer types.PeerID) (float64, bool) {
	rec, ok := m.peers[peer]
	if !ok {
		return 0, false
	}
	return rec.score, true
}

// Len reports the number of peers known to the manager (connected or
// not), used by the progress watchdog's "Peer Manager non-empty" gate.
func (m *Manager) Len() int {
	return len(m.peers)
}

// AnyEligible reports whether at least one peer is currently selectable.
func (m *Manager) AnyEligible() bool {
	for _, rec := range m.peers {
		if m.eligible(rec) {
			return true
		}
	}
	return false
}
