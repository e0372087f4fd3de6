package galign

import (
	"testing"

	"github.com/grailbio/testutil/expect"

	"github.com/grailbio/galign/encoding/las"
)

// flatTrace builds a trace whose every segment has the given diffs and
// b-length.
func flatTrace(nseg, diffs, blen int) []byte {
	tr := make([]byte, 0, 2*nseg)
	for i := 0; i < nseg; i++ {
		tr = append(tr, byte(diffs), byte(blen))
	}
	return tr
}

func ov(ab, ae, bb, be, diffs int, trace []byte) *las.Overlap {
	return &las.Overlap{
		Abpos: int32(ab), Aepos: int32(ae),
		Bbpos: int32(bb), Bepos: int32(be),
		Diffs: int32(diffs), Trace: trace,
	}
}

func TestFilterSharedEndpoints(t *testing.T) {
	// Same span both sides: the higher-diff copy goes.
	a := ov(0, 400, 0, 400, 2, flatTrace(4, 1, 100))
	b := ov(0, 400, 0, 400, 9, flatTrace(4, 3, 100))
	kept := filterGroup([]*las.Overlap{b, a}, Tspace)
	expect.EQ(t, len(kept), 1)
	expect.EQ(t, kept[0].Diffs, int32(2))

	// Same start, different extents: the shorter goes.
	a = ov(0, 400, 0, 400, 0, flatTrace(4, 0, 100))
	b = ov(0, 250, 0, 250, 0, flatTrace(3, 0, 100))
	kept = filterGroup([]*las.Overlap{a, b}, Tspace)
	expect.EQ(t, len(kept), 1)
	expect.EQ(t, kept[0].Aepos, int32(400))

	// Same end: symmetric.
	a = ov(100, 500, 100, 500, 0, flatTrace(5, 0, 100))
	b = ov(300, 500, 300, 500, 0, flatTrace(3, 0, 100))
	kept = filterGroup([]*las.Overlap{a, b}, Tspace)
	expect.EQ(t, len(kept), 1)
	expect.EQ(t, kept[0].Abpos, int32(100))
}

func TestFilterContainment(t *testing.T) {
	// b is strictly inside a on both axes, on the same trajectory.
	a := ov(0, 800, 0, 800, 0, flatTrace(8, 0, 100))
	b := ov(105, 595, 105, 595, 0, flatTrace(5, 0, 100))
	kept := filterGroup([]*las.Overlap{a, b}, Tspace)
	expect.EQ(t, len(kept), 1)
	expect.EQ(t, kept[0].Aepos, int32(800))

	// Same extents but distinct, crossing trajectories: both stay.
	// a runs parallel (offset +30), c drifts from -30 to +50 across the
	// overlap, so the two paths cross.
	a = ov(0, 800, 30, 830, 0, flatTrace(8, 0, 100))
	c := ov(0, 800, 0, 880, 40, nil)
	c.Trace = []byte{5, 100, 5, 100, 5, 100, 5, 100, 5, 120, 5, 120, 5, 120, 5, 120}
	kept = filterGroup([]*las.Overlap{a, c}, Tspace)
	expect.EQ(t, len(kept), 2)
}

func TestEntwine(t *testing.T) {
	// Parallel trajectories never cross.
	a := ov(0, 600, 0, 600, 0, flatTrace(6, 0, 100))
	b := ov(0, 600, 50, 650, 0, flatTrace(6, 0, 100))
	min, crossed := entwine(a, b, Tspace)
	expect.False(t, crossed)
	expect.EQ(t, min, -50)

	// A flat trajectory starting above a crosses it.
	c := ov(0, 600, 200, 320, 0, flatTrace(6, 0, 20))
	min, crossed = entwine(a, c, Tspace)
	expect.True(t, crossed)
	_ = min
}

func TestFilterKeepsDisjoint(t *testing.T) {
	// Far-apart alignments in one group are untouched.
	a := ov(0, 300, 0, 300, 0, flatTrace(3, 0, 100))
	b := ov(1000, 1300, 1000, 1300, 0, flatTrace(3, 0, 100))
	kept := filterGroup([]*las.Overlap{b, a}, Tspace)
	expect.EQ(t, len(kept), 2)
	// Survivors come back sorted by a-begin.
	expect.True(t, kept[0].Abpos < kept[1].Abpos)
}
