package galign

import (
	"sort"

	"github.com/grailbio/galign/encoding/las"
)

// The redundancy filter removes dominated and duplicate alignments within
// one (a-contig, b-contig, orientation) group.  Chains on neighboring
// diagonal windows rediscover the same alignment region; two passes clean
// that up: an endpoint pass, then a geometric pass that walks the traces
// to distinguish genuinely entwined alignment pairs from containments.

// containSlack is the endpoint slack, in bases, under which one alignment
// is considered to contain another.
const containSlack = 10

// filterGroup eliminates redundant overlaps in one group and returns the
// survivors in ascending a-begin order.
func filterGroup(ovs []*las.Overlap, tspace int) []*las.Overlap {
	n := len(ovs)
	if n <= 1 {
		return ovs
	}
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(i, j int) bool {
		a, b := ovs[perm[i]], ovs[perm[j]]
		if a.Abpos != b.Abpos {
			return a.Abpos < b.Abpos
		}
		return a.Aepos < b.Aepos
	})
	elim := make([]bool, n)

	// Pass 1: shared endpoints.
	for j := n - 1; j >= 0; j-- {
		a := ovs[perm[j]]
		for i := j + 1; i < n; i++ {
			b := ovs[perm[i]]
			if b.Abpos > a.Aepos {
				break
			}
			if elim[perm[j]] {
				break
			}
			if elim[perm[i]] {
				continue
			}
			sameStart := a.Abpos == b.Abpos && a.Bbpos == b.Bbpos
			sameEnd := a.Aepos == b.Aepos && a.Bepos == b.Bepos
			switch {
			case sameStart && sameEnd:
				if a.Diffs <= b.Diffs {
					elim[perm[i]] = true
				} else {
					elim[perm[j]] = true
				}
			case sameStart:
				if a.Aepos-a.Abpos >= b.Aepos-b.Abpos {
					elim[perm[i]] = true
				} else {
					elim[perm[j]] = true
				}
			case sameEnd:
				if a.Aepos-a.Abpos >= b.Aepos-b.Abpos {
					elim[perm[i]] = true
				} else {
					elim[perm[j]] = true
				}
			}
		}
	}

	// Pass 2: doubly-overlapping extents; entwined pairs stay, contained
	// ones go.
	for j := n - 1; j >= 0; j-- {
		a := ovs[perm[j]]
		for i := j + 1; i < n; i++ {
			b := ovs[perm[i]]
			if b.Abpos > a.Aepos {
				break
			}
			if elim[perm[j]] {
				break
			}
			if elim[perm[i]] {
				continue
			}
			if b.Abpos >= a.Aepos || b.Bbpos >= a.Bepos || a.Bbpos >= b.Bepos {
				continue // no double overlap
			}
			if _, crossed := entwine(a, b, tspace); crossed {
				continue
			}
			if contains(a, b) {
				elim[perm[i]] = true
			} else if contains(b, a) {
				elim[perm[j]] = true
			}
		}
	}

	out := make([]*las.Overlap, 0, n)
	for _, p := range perm {
		if !elim[p] {
			out = append(out, ovs[p])
		}
	}
	return out
}

// contains reports whether a contains b in both projections, within
// containSlack bases at each endpoint.
func contains(a, b *las.Overlap) bool {
	return a.Abpos <= b.Abpos+containSlack && a.Aepos >= b.Aepos-containSlack &&
		a.Bbpos <= b.Bbpos+containSlack && a.Bepos >= b.Bepos-containSlack
}

// traceWalk advances an overlap's b-coordinate across the tspace
// boundaries of its a-range.
type traceWalk struct {
	o     *las.Overlap
	seg   int
	b     int
	nextX int
}

func newTraceWalk(o *las.Overlap, tspace int) traceWalk {
	return traceWalk{
		o:     o,
		b:     int(o.Bbpos),
		nextX: (int(o.Abpos)/tspace + 1) * tspace,
	}
}

// advanceTo moves the walk to boundary x (a multiple of tspace within the
// overlap's a-range).
func (w *traceWalk) advanceTo(x, tspace int) {
	for w.nextX <= x && w.seg < w.o.TraceSegments() {
		w.b += int(w.o.Trace[2*w.seg+1])
		w.seg++
		w.nextX += tspace
	}
}

// entwine walks two overlapping alignments in tspace steps and returns
// the minimum-magnitude signed difference of their b-trajectories and
// whether the trajectories cross inside the shared a-range.
func entwine(a, b *las.Overlap, tspace int) (int, bool) {
	lo := int(a.Abpos)
	if int(b.Abpos) > lo {
		lo = int(b.Abpos)
	}
	hi := int(a.Aepos)
	if int(b.Aepos) < hi {
		hi = int(b.Aepos)
	}
	wa := newTraceWalk(a, tspace)
	wb := newTraceWalk(b, tspace)

	minDiff := 1 << 30
	sign := 0
	crossed := false
	for x := (lo/tspace + 1) * tspace; x < hi; x += tspace {
		wa.advanceTo(x, tspace)
		wb.advanceTo(x, tspace)
		diff := wa.b - wb.b
		if abs(diff) < abs(minDiff) {
			minDiff = diff
		}
		switch {
		case diff == 0:
			crossed = true
		case diff > 0:
			if sign < 0 {
				crossed = true
			}
			sign = 1
		case diff < 0:
			if sign > 0 {
				crossed = true
			}
			sign = -1
		}
	}
	if minDiff == 1<<30 {
		minDiff = 0
	}
	return minDiff, crossed
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// filterFile streams one per-thread pre-filter alignment file, filters
// each contiguous (a-contig, b-contig, orientation) group, and appends the
// survivors to w.  Returns the number of eliminated overlaps.
func filterFile(path string, w *las.Writer, tspace int) (int64, error) {
	r, err := las.NewTempReader(path)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	var (
		group      []*las.Overlap
		eliminated int64
	)
	flush := func() error {
		if len(group) == 0 {
			return nil
		}
		kept := filterGroup(group, tspace)
		eliminated += int64(len(group) - len(kept))
		for _, o := range kept {
			if err := w.Write(o); err != nil {
				return err
			}
		}
		group = group[:0]
		return nil
	}
	for {
		var o las.Overlap
		ok, err := r.Next(&o)
		if err != nil {
			return eliminated, err
		}
		if !ok {
			break
		}
		if len(group) > 0 {
			last := group[len(group)-1]
			if last.Aread != o.Aread || last.Bread != o.Bread || last.Flags != o.Flags {
				if err := flush(); err != nil {
					return eliminated, err
				}
			}
		}
		c := o
		group = append(group, &c)
	}
	if err := flush(); err != nil {
		return eliminated, err
	}
	return eliminated, nil
}
