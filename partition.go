package galign

// partition splits the a-contigs into nparts contiguous index ranges of
// roughly equal total length.  Parts bound the seed sort working set; the
// chain search walks them one at a time.
type partition struct {
	nparts int
	sel    []int // contig -> part
	begin  []int // part -> first contig; begin[nparts] == #contigs
}

// makePartition cuts the contig index space so each part carries about
// total/nparts bases.  Every part is non-empty while contigs remain.
func makePartition(lens []int64, nparts int) partition {
	n := len(lens)
	if nparts > n && n > 0 {
		nparts = n
	}
	if nparts < 1 {
		nparts = 1
	}
	p := partition{
		nparts: nparts,
		sel:    make([]int, n),
		begin:  make([]int, nparts+1),
	}
	var total int64
	for _, l := range lens {
		total += l
	}
	target := total / int64(nparts)
	part, acc := 0, int64(0)
	for c := 0; c < n; c++ {
		// Cut before c when the current part is full, keeping enough
		// contigs for the remaining parts; cut regardless of fill when
		// exactly one contig is left for each remaining part.
		left, need := n-c, nparts-part-1
		if part < nparts-1 && c > p.begin[part] &&
			(acc >= target && left >= need || left == need) {
			part++
			p.begin[part] = c
			acc = 0
		}
		p.sel[c] = part
		acc += lens[c]
	}
	for q := part + 1; q <= nparts; q++ {
		p.begin[q] = n
	}
	return p
}

// contigRange returns the contig index range of one part.
func (p partition) contigRange(part int) (int, int) {
	return p.begin[part], p.begin[part+1]
}

// workerRanges splits the contigs of one part into nthreads contiguous
// ranges balanced by record count.  counts[i] is the record total of
// contig begin+i.
func workerRanges(begin, end, nthreads int, counts []int64) [][2]int {
	var total int64
	for _, c := range counts {
		total += c
	}
	ranges := make([][2]int, 0, nthreads)
	target := total/int64(nthreads) + 1
	lo := begin
	var acc int64
	for c := begin; c < end; c++ {
		acc += counts[c-begin]
		if acc >= target && len(ranges) < nthreads-1 {
			ranges = append(ranges, [2]int{lo, c + 1})
			lo = c + 1
			acc = 0
		}
	}
	ranges = append(ranges, [2]int{lo, end})
	for len(ranges) < nthreads {
		ranges = append(ranges, [2]int{end, end})
	}
	return ranges
}
