package peermanager

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/anacrolix/log"
	"github.com/webhacking/statesync/types"
)

// TestScoreStaysWithinBounds is a property check, in the teacher's
// quicktest style (storage/mmap_test.go), that repeated score updates
// of any kind never push a peer's score outside [ScoreFloor,
// ScoreCeiling], regardless of how many updates land or in what order.
func TestScoreStaysWithinBounds(t *testing.T) {
	c := qt.New(t)

	kinds := []ScoreKind{Success, Timeout, InvalidChunk, EmptyChunk}
	m := New(FullNode, []types.PeerID{"p1"}, log.Default)
	m.EnablePeer("p1", nil)

	for i := 0; i < 500; i++ {
		kind := kinds[i%len(kinds)]
		m.UpdateScore("p1", kind)

		score, ok := m.Score("p1")
		c.Assert(ok, qt.IsTrue)
		c.Assert(score >= ScoreFloor, qt.IsTrue, qt.Commentf("score %v below floor after %d updates", score, i+1))
		c.Assert(score <= ScoreCeiling, qt.IsTrue, qt.Commentf("score %v above ceiling after %d updates", score, i+1))
	}
}

// TestScoreUnknownPeerNotOk checks Score reports ok=false for a peer
// the manager has never seen, rather than a zero-value score.
func TestScoreUnknownPeerNotOk(t *testing.T) {
	c := qt.New(t)
	m := New(FullNode, nil, log.Default)
	_, ok := m.Score("ghost")
	c.Assert(ok, qt.IsFalse)
}
