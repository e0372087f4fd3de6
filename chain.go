package galign

import (
	"sort"

	"github.com/grailbio/galign/align"
	"github.com/grailbio/galign/encoding/las"
)

// chainSearcher walks one (family, part) sorted seed arena over a range
// of a-contigs, finds seed chains in adjacent diagonal buckets, and runs
// the banded aligner on each surviving chain.  One searcher per worker:
// it owns its base-file handles, aligner scratch, and output file.
type chainSearcher struct {
	opts   Opts
	fam    int
	layout sortLayout
	gdbA   *GDB
	gdbB   *GDB
	ra     *GDBReader
	rb     *GDBReader
	out    *las.TempWriter
	work   *align.Work
	stats  *Stats

	acont  int
	abases []byte
	bcont  int
	bbases []byte

	recs  []sortRec // decoded records of the current contig pair
	merge []sortRec // window merge scratch
	cover []keyLcp  // b-side coverage scratch

	// Rediscovery guard: a-end and diagonal envelope of the last chain
	// that produced an accepted alignment on this contig pair.
	alast          int64
	lastLo, lastHi int64
}

type keyLcp struct {
	key int64
	lcp int
}

func newChainSearcher(opts Opts, fam int, layout sortLayout, gdbA, gdbB *GDB,
	out *las.TempWriter, stats *Stats) (*chainSearcher, error) {
	ra, err := gdbA.NewReader()
	if err != nil {
		return nil, err
	}
	rb, err := gdbB.NewReader()
	if err != nil {
		ra.Close()
		return nil, err
	}
	return &chainSearcher{
		opts:   opts,
		fam:    fam,
		layout: layout,
		gdbA:   gdbA,
		gdbB:   gdbB,
		ra:     ra,
		rb:     rb,
		out:    out,
		work:   align.NewWork(),
		stats:  stats,
		acont:  -1,
		bcont:  -1,
	}, nil
}

func (c *chainSearcher) close() error {
	err := c.ra.Close()
	if e := c.rb.Close(); err == nil {
		err = e
	}
	return err
}

// searchContig processes all records of one a-contig, already in
// (b-contig, bucket, a-post) order.
func (c *chainSearcher) searchContig(arena *seedArena, acont int) error {
	raw := arena.contigRecords(acont)
	sw := c.layout.swide
	n := len(raw) / sw
	if n == 0 {
		return nil
	}
	c.acont = acont
	c.abases = nil // load lazily per accepted chain

	i := 0
	for i < n {
		rec := c.layout.get(raw[i*sw:])
		j := i + 1
		for j < n && int(getLEAt(raw, j*sw, c.layout)) == rec.bcont {
			j++
		}
		if err := c.alignContigs(raw[i*sw:j*sw], acont, rec.bcont); err != nil {
			return err
		}
		i = j
	}
	return nil
}

// getLEAt extracts the b-contig field of record r in raw.
func getLEAt(raw []byte, off int, l sortLayout) uint64 {
	return getLE(raw[off+2+l.ipost+l.dhbyte:], l.jcont)
}

// alignContigs sweeps one contig pair's records in bucket order,
// inspecting each (d, d+1) bucket window.
func (c *chainSearcher) alignContigs(raw []byte, acont, bcont int) error {
	sw := c.layout.swide
	n := len(raw) / sw
	c.recs = c.recs[:0]
	for i := 0; i < n; i++ {
		c.recs = append(c.recs, c.layout.get(raw[i*sw:]))
	}
	c.bcont = bcont
	c.bbases = nil
	c.alast = -1

	lastWin := int64(-2)
	i := 0
	for i < n {
		d := c.recs[i].bucket
		m := i + 1
		for m < n && c.recs[m].bucket == d {
			m++
		}
		e := m
		for e < n && c.recs[e].bucket == d+1 {
			e++
		}
		// A window confined to one bucket repeats the previous (d-1, d)
		// inspection unless that window was never examined.
		if e > m || lastWin != d-1 {
			if err := c.window(c.recs[i:e], acont, bcont); err != nil {
				return err
			}
			lastWin = d
		}
		i = m
	}
	return nil
}

// window merges the two bucket runs by position along the alignment and
// chains seeds whose a-posts are within ChainBreak.
func (c *chainSearcher) window(recs []sortRec, acont, bcont int) error {
	c.merge = append(c.merge[:0], recs...)
	sort.SliceStable(c.merge, func(i, j int) bool {
		ki := c.merge[i].apos - c.merge[i].diag
		kj := c.merge[j].apos - c.merge[j].diag
		if ki != kj {
			return ki < kj
		}
		return c.merge[i].apos < c.merge[j].apos
	})

	var (
		start = 0
		cov   = 0
		lps   = int64(-1)
	)
	flush := func(end int) error {
		if end > start {
			if err := c.chain(c.merge[start:end], cov, acont, bcont); err != nil {
				return err
			}
		}
		return nil
	}
	for i, s := range c.merge {
		if i > start && s.apos-c.merge[i-1].apos > int64(c.opts.ChainBreak) {
			if err := flush(i); err != nil {
				return err
			}
			start = i
			cov = 0
			lps = -1
		}
		// Union of lcp projections on the a-axis.
		end := s.apos + int64(s.lcp)
		switch {
		case s.apos >= lps:
			cov += s.lcp
			lps = end
		case end > lps:
			cov += int(end - lps)
			lps = end
		}
	}
	return flush(len(c.merge))
}

// chain applies the coverage filters to one chain and, if it passes,
// aligns it.
func (c *chainSearcher) chain(seeds []sortRec, cov int, acont, bcont int) error {
	if cov < c.opts.ChainMin {
		c.stats.ChainsDropped++
		return nil
	}
	// b-side coverage: same union over the positions along the b axis.
	c.cover = c.cover[:0]
	for _, s := range seeds {
		c.cover = append(c.cover, keyLcp{key: s.apos - s.diag, lcp: s.lcp})
	}
	sort.Slice(c.cover, func(i, j int) bool { return c.cover[i].key < c.cover[j].key })
	jcov := 0
	lps := int64(-1) << 62
	for _, kl := range c.cover {
		end := kl.key + int64(kl.lcp)
		switch {
		case kl.key >= lps:
			jcov += kl.lcp
			lps = end
		case end > lps:
			jcov += int(end - lps)
			lps = end
		}
	}
	if jcov < c.opts.ChainMin {
		c.stats.ChainsDropped++
		return nil
	}

	aend := int64(0)
	for _, s := range seeds {
		if e := s.apos + int64(s.lcp); e > aend {
			aend = e
		}
	}
	// Tight diagonal envelope.
	dgmin, dgmax := seeds[0].diag, seeds[0].diag
	for _, s := range seeds[1:] {
		if s.diag < dgmin {
			dgmin = s.diag
		}
		if s.diag > dgmax {
			dgmax = s.diag
		}
	}
	if aend <= c.alast && dgmin <= c.lastHi+BuckWidth && dgmax >= c.lastLo-BuckWidth {
		// A neighboring window already found this alignment.
		c.stats.ChainsDropped++
		return nil
	}
	c.stats.Chains++
	blen := c.gdbB.Lens[bcont]
	shift := -blen
	if c.fam == famC {
		shift = -blen + int64(c.layout.kmer)
	}
	const bandPad = 8
	dlo := dgmin + shift - bandPad
	dhi := dgmax + shift + bandPad

	mid := seeds[len(seeds)/2]
	xc := mid.apos + int64(mid.lcp)/2
	anti := 2*xc - (mid.diag + shift)

	if err := c.loadBases(acont, bcont); err != nil {
		return err
	}
	path, ok := align.Local(c.work, c.abases, c.bbases,
		int(dlo), int(dhi), int(anti), Tspace, 1-c.opts.MinIdentity)
	if !ok || path.Aepos-path.Abpos < c.opts.AlignMin {
		c.stats.AlignerFailures++
		return nil
	}
	flags := int32(0)
	if c.fam == famC {
		flags = las.CompFlag
	}
	ov := las.Overlap{
		Aread: int32(acont),
		Bread: int32(bcont),
		Flags: flags,
		Abpos: int32(path.Abpos),
		Aepos: int32(path.Aepos),
		Bbpos: int32(path.Bbpos),
		Bepos: int32(path.Bepos),
		Diffs: int32(path.Diffs),
		Trace: path.Trace,
	}
	if err := c.out.Write(&ov); err != nil {
		return err
	}
	c.alast = int64(path.Aepos)
	c.lastLo, c.lastHi = dgmin, dgmax
	c.stats.Alignments++
	return nil
}

func (c *chainSearcher) loadBases(acont, bcont int) error {
	if c.abases == nil {
		b, err := c.ra.Load(acont)
		if err != nil {
			return err
		}
		c.abases = b
	}
	if c.bbases == nil {
		var (
			b   []byte
			err error
		)
		if c.fam == famC {
			b, err = c.rb.LoadComp(bcont)
		} else {
			b, err = c.rb.Load(bcont)
		}
		if err != nil {
			return err
		}
		c.bbases = b
	}
	return nil
}
