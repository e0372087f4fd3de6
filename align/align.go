// Package align implements banded local alignment with tracepoint
// encoding.  Sequences are 2-bit base codes, one byte per base, already
// oriented by the caller.  An alignment is found by extending from a point
// on the band's middle anti-diagonal, one trace segment at a time, each
// segment solved by a small banded edit-distance DP; the per-segment
// (diffs, b-length) pairs form the trace.
package align

// Path is a local alignment.  The a-range is [Abpos, Aepos), the b-range
// [Bbpos, Bepos).  Trace holds one (diffs, blen) byte pair per tspace
// segment of the a-range; the first segment runs from Abpos to the next
// tspace boundary.
type Path struct {
	Abpos, Aepos int
	Bbpos, Bepos int
	Diffs        int
	Trace        []byte
}

type segment struct {
	diffs int
	alen  int
	blen  int
}

// Work holds per-thread aligner scratch.
type Work struct {
	cost []int
	next []int
	segs []segment
	rev  []segment
	ra   []byte
	rb   []byte
}

func NewWork() *Work { return &Work{} }

func (w *Work) costRow(n int) ([]int, []int) {
	if cap(w.cost) < n {
		w.cost = make([]int, n)
		w.next = make([]int, n)
	}
	return w.cost[:n], w.next[:n]
}

const (
	// seedProbe bounds the exact-match scan used to anchor the start
	// point on a diagonal of the band.
	seedProbe = 48
	// segStopNum/segStopDen: extension stops before a segment whose
	// diff count exceeds alen*num/den (random 2-bit sequence territory).
	segStopNum = 1
	segStopDen = 2
)

// matchRun returns the exact-match run length around (x, y), probing at
// most seedProbe bases each way.
func matchRun(a, b []byte, x, y int) int {
	n := 0
	for i := 0; i < seedProbe && x+i < len(a) && y+i < len(b); i++ {
		if a[x+i] != b[y+i] {
			break
		}
		n++
	}
	for i := 1; i <= seedProbe && x-i >= 0 && y-i >= 0; i++ {
		if a[x-i] != b[y-i] {
			break
		}
		n++
	}
	return n
}

// extend aligns a[0:] against b[0:] left to right.  The first segment
// consumes first bases of a, later segments tspace each.  The difference
// i-j is kept within [offLo, offHi] (0 must lie in the band).  Trailing
// segments with a diff rate above maxRate are trimmed.  Returns the
// segments and the total a- and b-lengths consumed.
func extend(w *Work, segs []segment, a, b []byte, first, tspace, offLo, offHi int, maxRate float64) ([]segment, int, int) {
	width := offHi - offLo + 1
	cost, next := w.costRow(width)
	// jbase(i) is the lowest j admitted at row i; column c holds j =
	// jbase(i)+c.
	jbase := func(i int) int {
		j := i - offHi
		if j < 0 {
			j = 0
		}
		return j
	}

	ai, bj := 0, 0 // consumed so far
	seglen := first
	for ai < len(a) {
		m := seglen
		seglen = tspace
		if ai+m > len(a) {
			m = len(a) - ai
		}
		// Row ai: only column bj is a real start.
		base := jbase(ai)
		for c := range cost {
			cost[c] = 1 << 30
		}
		for j := bj; j <= ai-offLo && j <= len(b); j++ {
			if j-base >= width {
				break
			}
			cost[j-base] = j - bj // leading b-gaps
		}
		prevBase := base
		for i := ai + 1; i <= ai+m; i++ {
			base = jbase(i)
			hi := i - offLo
			if hi > len(b) {
				hi = len(b)
			}
			for c := range next {
				next[c] = 1 << 30
			}
			for j := base; j <= hi; j++ {
				c := j - base
				if c >= width {
					break
				}
				best := 1 << 30
				// Consume a[i-1] alone.
				if pc := j - prevBase; pc >= 0 && pc < width && cost[pc]+1 < best {
					best = cost[pc] + 1
				}
				// Consume a[i-1] and b[j-1].
				if j > 0 {
					if pc := j - 1 - prevBase; pc >= 0 && pc < width {
						d := cost[pc]
						if a[i-1] != b[j-1] {
							d++
						}
						if d < best {
							best = d
						}
					}
					// Consume b[j-1] alone.
					if c > 0 && next[c-1]+1 < best {
						best = next[c-1] + 1
					}
				}
				next[c] = best
			}
			cost, next = next, cost
			prevBase = base
		}
		// Pick the exit column: minimum cost, furthest j on ties.
		bestJ, bestC := -1, 1<<30
		hi := ai + m - offLo
		if hi > len(b) {
			hi = len(b)
		}
		for j := base; j <= hi; j++ {
			c := j - base
			if c >= width {
				break
			}
			if cost[c] <= bestC {
				bestC, bestJ = cost[c], j
			}
		}
		if bestJ < 0 || bestC*segStopDen > m*segStopNum {
			break // hopeless segment; do not include it
		}
		segs = append(segs, segment{diffs: bestC, alen: m, blen: bestJ - bj})
		ai += m
		bj = bestJ
		if bj >= len(b) {
			break
		}
	}
	// Trim trailing poor segments.
	for len(segs) > 0 {
		s := segs[len(segs)-1]
		if float64(s.diffs) <= maxRate*float64(s.alen) {
			break
		}
		ai -= s.alen
		bj -= s.blen
		segs = segs[:len(segs)-1]
	}
	return segs, ai, bj
}

// Local finds a banded local alignment between a and b.  The band is the
// absolute diagonal range [dlo, dhi] (diagonal = x - y); anti is the
// anti-diagonal (x + y) to start from.  maxRate is the admissible
// diffs-per-a-base rate (1 - identity).  ok is false when nothing
// extends.
func Local(w *Work, a, b []byte, dlo, dhi, anti, tspace int, maxRate float64) (Path, bool) {
	// Anchor on the band diagonal with the longest exact run through the
	// anti-diagonal.
	bestD, bestRun := 0, -1
	for d := dlo; d <= dhi; d++ {
		x := (anti + d) / 2
		y := x - d
		if x < 0 || x >= len(a) || y < 0 || y >= len(b) {
			continue
		}
		if run := matchRun(a, b, x, y); run > bestRun {
			bestRun, bestD = run, d
		}
	}
	if bestRun <= 0 {
		return Path{}, false
	}
	x0 := (anti + bestD) / 2
	y0 := x0 - bestD

	// Forward: segments end on absolute tspace boundaries of a.
	first := tspace - x0%tspace
	w.segs = w.segs[:0]
	fw, fa, fb := extend(w, w.segs, a[x0:], b[y0:], first, tspace, dlo-x0+y0, dhi-x0+y0, maxRate)

	// Backward: extend the reversed prefixes; boundaries fall where
	// x0 - i is a multiple of tspace.
	w.ra = appendReversed(w.ra[:0], a[:x0])
	w.rb = appendReversed(w.rb[:0], b[:y0])
	first = x0 % tspace
	if first == 0 {
		first = tspace
	}
	w.rev = w.rev[:0]
	// In reversed space i-j = (x0-x) - (y0-y) = (x-y) - (x0-y0) negated.
	bw, ba, bb := extend(w, w.rev, w.ra, w.rb, first, tspace, x0-y0-dhi, x0-y0-dlo, maxRate)

	path := Path{
		Abpos: x0 - ba,
		Aepos: x0 + fa,
		Bbpos: y0 - bb,
		Bepos: y0 + fb,
	}
	if path.Aepos-path.Abpos <= 0 {
		return Path{}, false
	}

	// Stitch: backward segments reverse into leading trace pairs; if x0
	// is off-boundary the two partial segments sharing x0's tspace
	// segment merge into one.
	segs := make([]segment, 0, len(bw)+len(fw))
	for i := len(bw) - 1; i >= 0; i-- {
		segs = append(segs, bw[i])
	}
	if len(bw) > 0 && len(fw) > 0 && x0%tspace != 0 {
		j := len(segs) - 1
		segs[j].diffs += fw[0].diffs
		segs[j].alen += fw[0].alen
		segs[j].blen += fw[0].blen
		segs = append(segs, fw[1:]...)
	} else {
		segs = append(segs, fw...)
	}

	// Enforce the overall identity bound by shaving whichever end is
	// worse.
	total := 0
	for _, s := range segs {
		total += s.diffs
	}
	for len(segs) > 0 && float64(total) > maxRate*float64(path.Aepos-path.Abpos) {
		head, tail := segs[0], segs[len(segs)-1]
		headRate := float64(head.diffs) / float64(head.alen)
		tailRate := float64(tail.diffs) / float64(tail.alen)
		if headRate >= tailRate {
			path.Abpos += head.alen
			path.Bbpos += head.blen
			total -= head.diffs
			segs = segs[1:]
		} else {
			path.Aepos -= tail.alen
			path.Bepos -= tail.blen
			total -= tail.diffs
			segs = segs[:len(segs)-1]
		}
	}
	if len(segs) == 0 || path.Aepos-path.Abpos <= 0 {
		return Path{}, false
	}
	path.Diffs = total
	path.Trace = make([]byte, 0, 2*len(segs))
	for _, s := range segs {
		d, l := s.diffs, s.blen
		if d > 255 {
			d = 255
		}
		if l > 255 {
			l = 255
		}
		path.Trace = append(path.Trace, byte(d), byte(l))
	}
	return path, true
}

func appendReversed(dst, src []byte) []byte {
	for i := len(src) - 1; i >= 0; i-- {
		dst = append(dst, src[i])
	}
	return dst
}
