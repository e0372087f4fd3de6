package galign

import (
	"os"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// Orientation families for seed shard files.  N holds seeds whose two
// k-mers came from the same strand, C the opposite-strand seeds.
const (
	famN = 0
	famC = 1
)

// seedLayout fixes the byte widths of packed seed records for one run.
type seedLayout struct {
	ipost int // a-position bytes
	icont int // a-contig bytes
	jpost int // b-position bytes
	jcont int // b-contig bytes, top bit = flip
	rec   int // total record width, 1 (lcp) + the above
}

func newSeedLayout(a, b *GDB) seedLayout {
	l := seedLayout{
		ipost: bytesFor(uint64(a.MaxLen)),
		icont: bytesFor(uint64(2 * a.NumContigs())),
		jpost: bytesFor(uint64(b.MaxLen)),
		jcont: bytesFor(uint64(2 * b.NumContigs())),
	}
	l.rec = 1 + l.ipost + l.icont + l.jpost + l.jcont
	return l
}

// seedShardWriter buffers packed seed records into one snappy-framed temp
// file.
type seedShardWriter struct {
	f *os.File
	w *snappy.Writer
	n int64 // records written
}

func newSeedShardWriter(path string) (*seedShardWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create seed shard %s", path)
	}
	return &seedShardWriter{f: f, w: snappy.NewBufferedWriter(f)}, nil
}

func (w *seedShardWriter) Close() error {
	if err := w.w.Close(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// merger is the per-worker state of the adaptive seed pass: a synchronized
// walk of the T1/P1 and T2/P2 streams over the worker's shard range, a
// cache of the T2 entries in the current panel, per-byte-depth match
// ranges, and the circular T2 position buffer.  All of it is owned by one
// worker; positions are referred to by global index, never by pointer.
type merger struct {
	opts   Opts
	layout seedLayout
	t1     *KmerTable
	t2     *KmerTable
	pt1    *PostTable
	pt2    *PostTable
	nparts int
	s1     *KmerStream
	s2     *KmerStream
	p1     *PostStream
	p2     *PostStream
	sel    []int              // a-contig -> part
	out    []*seedShardWriter // 2*nparts, family-major
	buck   [2][]int64         // seeds emitted per (family, a-contig)
	stats  Stats

	kbytes int // full packed k-mer width in bytes
	hbyte  int // cached t2 suffix width

	// Panel cache: all T2 entries sharing the current panel key.
	panel    int
	cacheSuf []byte  // ncache * hbyte suffix bytes
	cachePos []int64 // ncache+1; global P2 index of each entry's positions
	ncache   int
	done2    bool  // T2 walk exhausted for this worker
	end2     int64 // first T2 entry index beyond the worker's range

	// Match ranges by byte depth: entries [vlcp[b], vend[b]) share the
	// first b bytes with the current T1 k-mer.
	vlcp []int
	vend []int

	// Circular position buffer with the trailing overflow mirror: the
	// slot for global index g is g&postBufMask, mirrored into the tail
	// when g&postBufMask < Freq so emission slices are contiguous.
	pbuf       []Post
	vlow, vhgh int64 // loaded extent, [vlow, vhgh)

	aposts []Post // T1 positions of the current entry
	recBuf []byte
}

const postBufMask = PostBufLen - 1

func newMerger(opts Opts, layout seedLayout, t1, t2 *KmerTable, pt1, pt2 *PostTable,
	sel []int, nconts, nparts int, out []*seedShardWriter) *merger {
	kbytes := (t1.Kmer + 3) / 4
	m := &merger{
		opts:     opts,
		layout:   layout,
		t1:       t1,
		t2:       t2,
		pt1:      pt1,
		pt2:      pt2,
		nparts:   nparts,
		s1:       t1.NewStream(),
		s2:       t2.NewStream(),
		p1:       pt1.NewStream(),
		p2:       pt2.NewStream(),
		sel:      sel,
		out:      out,
		buck:     [2][]int64{make([]int64, nconts), make([]int64, nconts)},
		kbytes:   kbytes,
		hbyte:    t2.Hbyte,
		vlcp:     make([]int, kbytes+1),
		vend:     make([]int, kbytes+1),
		pbuf:     make([]Post, PostBufLen+opts.Freq),
		cachePos: []int64{0},
	}
	return m
}

func (m *merger) close() error {
	err := m.s1.Close()
	for _, c := range []interface{ Close() error }{m.s2, m.p1, m.p2} {
		if e := c.Close(); err == nil {
			err = e
		}
	}
	return err
}

// slot stores a decoded position at its buffer slot (and mirror).
func (m *merger) slot(g int64, p Post) {
	i := int(g & postBufMask)
	m.pbuf[i] = p
	if i < m.opts.Freq {
		m.pbuf[PostBufLen+i] = p
	}
}

// window returns the loaded positions [lo, hi) as one contiguous slice.
// Requires hi-lo < Freq and [lo, hi) within the loaded extent.
func (m *merger) window(lo, hi int64) []Post {
	s := int(lo & postBufMask)
	return m.pbuf[s : s+int(hi-lo)]
}

// ensureLoaded advances the P2 stream until positions [.., hi) are in the
// buffer.
func (m *merger) ensureLoaded(hi int64) error {
	for m.vhgh < hi {
		if !m.p2.Next() {
			if err := m.p2.Err(); err != nil {
				return err
			}
			return errors.New("position stream ended before its table")
		}
		m.slot(m.vhgh, m.p2.Get())
		m.vhgh++
	}
	return nil
}

// loadPanel skips the T2 walk forward to panel key pre and caches its
// entries.  Skipped position counts are accumulated so P2 is moved with a
// single jump.
func (m *merger) loadPanel(pre int) error {
	base := m.vhgh // continue counting from the loaded extent
	if m.ncache > 0 {
		base = m.cachePos[m.ncache]
	}
	for !m.done2 && m.s2.Cpre() < pre {
		base += int64(m.s2.Count())
		m.advance2()
	}
	m.ncache = 0
	m.cacheSuf = m.cacheSuf[:0]
	m.cachePos = m.cachePos[:1]
	m.cachePos[0] = base
	for !m.done2 && m.s2.Cpre() == pre {
		m.cacheSuf = append(m.cacheSuf, m.s2.Suffix()...)
		base += int64(m.s2.Count())
		m.cachePos = append(m.cachePos, base)
		m.ncache++
		m.advance2()
	}
	m.panel = pre
	// Jump P2 past everything before this panel.
	if m.cachePos[0] > m.vhgh {
		if err := m.p2.Skip(m.cachePos[0] - m.vhgh); err != nil {
			return err
		}
		m.vhgh = m.cachePos[0]
	}
	m.vlow = m.vhgh
	// Ranges restart at the panel itself.
	m.vlcp[m.t2.Ibyte] = 0
	m.vend[m.t2.Ibyte] = m.ncache
	return m.s2.Err()
}

func (m *merger) advance2() {
	if !m.s2.Next() || m.s2.Index() >= m.end2 {
		m.done2 = true
	}
}

// cacheByte returns byte bi (full-k-mer index) of cache entry i.
func (m *merger) cacheByte(i, bi int) byte {
	return m.cacheSuf[i*m.hbyte+bi-m.t2.Ibyte]
}

// run walks the worker's T1 shard range [lo, hi) and emits seeds.
func (m *merger) run(lo, hi int) error {
	start1 := m.t1.ShardEntryStart(lo)
	end1 := m.t1.ShardEntryStart(hi)
	if err := m.s1.Seek(start1); err != nil {
		return err
	}
	if err := m.s2.Seek(m.t2.ShardEntryStart(lo)); err != nil {
		return err
	}
	m.end2 = m.t2.ShardEntryStart(hi)
	m.done2 = !m.s2.Next() || m.s2.Index() >= m.end2

	// Position streams begin at their partitions' cumulative offsets.
	p1base := m.postIndexAt1(lo)
	if err := m.p1.Seek(p1base); err != nil {
		return err
	}
	m.vlow = m.postIndexAt2(lo)
	m.vhgh = m.vlow
	if err := m.p2.Seek(m.vlow); err != nil {
		return err
	}

	m.panel = -1
	plenB := m.t1.Ibyte
	for m.s1.Next() && m.s1.Index() < end1 {
		cnt1 := m.s1.Count()
		if m.s1.Cpre() != m.panel {
			if err := m.loadPanel(m.s1.Cpre()); err != nil {
				return err
			}
			plenB = m.t1.Ibyte
		} else {
			reuse := m.s1.LCP() >> 2
			if reuse < m.t1.Ibyte {
				reuse = m.t1.Ibyte
			}
			if reuse < plenB {
				plenB = reuse
			}
		}

		// Refine the T2 range byte by byte until its position count
		// drops below the cutoff, but never stop short of the minimum
		// seed prefix.
		var freq int
		for {
			rc, re := m.vlcp[plenB], m.vend[plenB]
			freq = int(m.cachePos[re] - m.cachePos[rc])
			if freq == 0 || plenB == m.kbytes {
				break
			}
			if freq < m.opts.Freq && 4*plenB >= MinSeedBases {
				break
			}
			tb := m.s1.SuffixByte(plenB)
			i := rc
			for i < re && m.cacheByte(i, plenB) < tb {
				i++
			}
			j := i
			for j < re && m.cacheByte(j, plenB) == tb {
				j++
			}
			plenB++
			m.vlcp[plenB] = i
			m.vend[plenB] = j
		}

		if freq == 0 || freq >= m.opts.Freq || 4*plenB < MinSeedBases {
			if err := m.p1.Skip(int64(cnt1)); err != nil {
				return err
			}
			continue
		}

		plen := 4 * plenB
		if plen > m.t1.Kmer {
			plen = m.t1.Kmer
		}
		rc, re := m.vlcp[plenB], m.vend[plenB]
		lo2, hi2 := m.cachePos[rc], m.cachePos[re]
		if err := m.ensureLoaded(hi2); err != nil {
			return err
		}
		bposts := m.window(lo2, hi2)

		m.aposts = m.aposts[:0]
		for i := 0; i < cnt1; i++ {
			if !m.p1.Next() {
				if err := m.p1.Err(); err != nil {
					return err
				}
				return errors.New("position stream ended before its table")
			}
			m.aposts = append(m.aposts, m.p1.Get())
		}
		for _, ap := range m.aposts {
			for _, bp := range bposts {
				if err := m.emit(ap, bp, plen); err != nil {
					return err
				}
			}
		}
		m.stats.Seeds += int64(cnt1) * int64(freq)
		m.stats.APositions += int64(cnt1)
		m.stats.LCPWeight += int64(plen) * int64(cnt1) * int64(freq)
	}
	if err := m.s1.Err(); err != nil {
		return err
	}
	return m.p1.Err()
}

// emit writes one packed seed record to the (part, family) shard.
func (m *merger) emit(ap, bp Post, plen int) error {
	fam := famN
	if ap.Comp != bp.Comp {
		fam = famC
	}
	w := m.out[fam*m.nparts+m.sel[ap.Contig]]
	l := m.layout
	if cap(m.recBuf) < l.rec {
		m.recBuf = make([]byte, l.rec)
	}
	rec := m.recBuf[:l.rec]
	rec[0] = byte(plen)
	o := 1
	putLE(rec[o:], l.ipost, uint64(ap.Pos))
	o += l.ipost
	putLE(rec[o:], l.icont, uint64(ap.Contig))
	o += l.icont
	putLE(rec[o:], l.jpost, uint64(bp.Pos))
	o += l.jpost
	bc := uint64(bp.Contig)
	if bp.Comp {
		bc |= 1 << uint(8*l.jcont-1)
	}
	putLE(rec[o:], l.jcont, bc)
	if _, err := w.w.Write(rec); err != nil {
		return errors.Wrapf(err, "write seed shard")
	}
	w.n++
	m.buck[fam][ap.Contig]++
	return nil
}

// postIndexAt1 returns the global P1 index of the first position in shard
// lo of the first source.
func (m *merger) postIndexAt1(lo int) int64 {
	if lo == 0 {
		return 0
	}
	return m.pt1.Neps[lo-1]
}

func (m *merger) postIndexAt2(lo int) int64 {
	if lo == 0 {
		return 0
	}
	return m.pt2.Neps[lo-1]
}
