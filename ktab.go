package galign

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"
)

// A k-mer table is a stub file <root>.ktab plus nthr shard files
// <root>.ktab.<p>.  The stub holds the table parameters and the panel
// prefix index; the shards hold the entries, globally sorted by k-mer and
// split at panel boundaries.  Each entry is the k-mer suffix beyond the
// ibyte panel bytes, a 1-byte position count, and a 1-byte lcp (in bases)
// with the previous entry.
type KmerTable struct {
	Root   string
	Kmer   int   // k, in bases
	Nthr   int   // number of shards (nsqrt^2)
	Ibyte  int   // panel prefix bytes (1..3)
	MinVal int   // frequency cutoff the table was built with
	Nels   int64 // total entries

	Hbyte int // suffix bytes per entry
	Kbyte int // total entry width = Hbyte + 2

	// PrefixIndex[p] is the number of entries whose panel key is < p;
	// PrefixIndex[NumPanels()] == Nels.
	PrefixIndex []int64
}

// NumPanels returns the number of distinct panel keys, 4^(4*Ibyte).
func (t *KmerTable) NumPanels() int { return 1 << uint(8*t.Ibyte) }

// shardPanelLo returns the first panel of shard p (0-based).
func (t *KmerTable) shardPanelLo(p int) int {
	return p * t.NumPanels() / t.Nthr
}

// ShardEntryStart returns the global index of the first entry in shard p
// (0-based).  Shards split at panel boundaries, so this is a prefix-index
// lookup.
func (t *KmerTable) ShardEntryStart(p int) int64 {
	if p >= t.Nthr {
		return t.Nels
	}
	return t.PrefixIndex[t.shardPanelLo(p)]
}

func (t *KmerTable) shardPath(p int) string {
	return fmt.Sprintf("%s.ktab.%d", t.Root, p+1)
}

// OpenKmerTable reads and validates the stub of <root>.ktab and checks
// every shard's header and size against it.
func OpenKmerTable(root string) (*KmerTable, error) {
	path := root + ".ktab"
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open k-mer table %s", path)
	}
	defer f.Close()

	var hdr struct {
		Kmer, Nthr, Ibyte, MinVal int16
		Nels                      int64
	}
	if err := binary.Read(f, binary.LittleEndian, &hdr); err != nil {
		return nil, errors.Wrapf(err, "%s: read header", path)
	}
	t := &KmerTable{
		Root:   root,
		Kmer:   int(hdr.Kmer),
		Nthr:   int(hdr.Nthr),
		Ibyte:  int(hdr.Ibyte),
		MinVal: int(hdr.MinVal),
		Nels:   hdr.Nels,
	}
	if t.Kmer <= 0 || t.Kmer > 160 {
		return nil, errors.Errorf("%s: implausible k-mer length %d", path, t.Kmer)
	}
	if t.Ibyte < 1 || t.Ibyte > 3 {
		return nil, errors.Errorf("%s: prefix width %d bytes out of range", path, t.Ibyte)
	}
	if t.Nthr < 1 {
		return nil, errors.Errorf("%s: shard count %d out of range", path, t.Nthr)
	}
	t.Hbyte = (t.Kmer+3)/4 - t.Ibyte
	if t.Hbyte < 0 {
		return nil, errors.Errorf("%s: k-mer length %d shorter than the %d-byte prefix", path, t.Kmer, t.Ibyte)
	}
	t.Kbyte = t.Hbyte + 2

	t.PrefixIndex = make([]int64, t.NumPanels()+1)
	if err := binary.Read(f, binary.LittleEndian, t.PrefixIndex); err != nil {
		return nil, errors.Wrapf(err, "%s: read prefix index", path)
	}
	if t.PrefixIndex[t.NumPanels()] != t.Nels {
		return nil, errors.Errorf("%s: prefix index total %d != entry count %d",
			path, t.PrefixIndex[t.NumPanels()], t.Nels)
	}

	// Every shard must exist, agree with the panel split, and have the
	// right size.
	for p := 0; p < t.Nthr; p++ {
		want := t.ShardEntryStart(p+1) - t.ShardEntryStart(p)
		sf, err := os.Open(t.shardPath(p))
		if err != nil {
			return nil, errors.Wrapf(err, "open k-mer shard")
		}
		var nels int64
		err = binary.Read(sf, binary.LittleEndian, &nels)
		st, serr := sf.Stat()
		sf.Close()
		if err != nil || serr != nil {
			return nil, errors.Errorf("%s: unreadable shard header", t.shardPath(p))
		}
		if nels != want {
			return nil, errors.Errorf("%s: shard holds %d entries, stub expects %d", t.shardPath(p), nels, want)
		}
		if st.Size() != 8+nels*int64(t.Kbyte) {
			return nil, errors.Errorf("%s: size %d does not match %d entries of %d bytes",
				t.shardPath(p), st.Size(), nels, t.Kbyte)
		}
	}
	return t, nil
}

const streamBlockEntries = 1024 // per-refill entry count, all streams

// KmerStream iterates the table's entries as one logical sequence across
// the shard files.  Each worker owns a private stream (its own descriptor,
// buffer, and position).
type KmerStream struct {
	t     *KmerTable
	f     *os.File
	shard int   // current shard, 0-based; -1 before first read
	idx   int64 // global index of the current entry
	buf   []byte
	bpos  int // byte offset of the current entry in buf
	bend  int // bytes valid in buf
	panel int // current panel key
	err   error
}

// NewStream returns a stream positioned before entry 0.
func (t *KmerTable) NewStream() *KmerStream {
	return &KmerStream{t: t, shard: -1, idx: -1}
}

func (s *KmerStream) Close() error {
	if s.f != nil {
		return s.f.Close()
	}
	return nil
}

// Err returns the first I/O error the stream hit.
func (s *KmerStream) Err() error { return s.err }

// Seek positions the stream so the following Next returns entry i.
func (s *KmerStream) Seek(i int64) error {
	if i >= s.t.Nels {
		if s.f != nil {
			s.f.Close()
			s.f = nil
		}
		s.shard = s.t.Nthr
		s.idx = s.t.Nels - 1
		s.bpos, s.bend = 0, 0
		return nil
	}
	p := sort.Search(s.t.Nthr, func(p int) bool { return s.t.ShardEntryStart(p+1) > i })
	if s.f != nil {
		s.f.Close()
		s.f = nil
	}
	s.shard = p
	f, err := os.Open(s.t.shardPath(p))
	if err != nil {
		s.err = errors.Wrapf(err, "seek k-mer shard")
		return s.err
	}
	local := i - s.t.ShardEntryStart(p)
	if _, err := f.Seek(8+local*int64(s.t.Kbyte), io.SeekStart); err != nil {
		f.Close()
		s.err = errors.Wrapf(err, "seek k-mer shard %d", p+1)
		return s.err
	}
	s.f = f
	s.idx = i - 1
	s.bpos, s.bend = 0, 0
	// Panel of entry i, found once; Next keeps it current.
	lo, hi := 0, s.t.NumPanels()
	for lo < hi {
		mid := (lo + hi) / 2
		if s.t.PrefixIndex[mid+1] <= i {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	s.panel = lo
	return nil
}

// Next advances to the next entry.  It returns false at the end of the
// table or on error (check Err).
func (s *KmerStream) Next() bool {
	if s.err != nil {
		return false
	}
	if s.bpos+s.t.Kbyte < s.bend {
		s.bpos += s.t.Kbyte
		s.idx++
		s.advancePanel()
		return true
	}
	return s.refill()
}

func (s *KmerStream) refill() bool {
	if s.idx+1 >= s.t.Nels {
		return false
	}
	for {
		if s.f == nil {
			// Advance into the next shard.
			s.shard++
			if s.shard >= s.t.Nthr {
				return false
			}
			f, err := os.Open(s.t.shardPath(s.shard))
			if err != nil {
				s.err = errors.Wrapf(err, "advance k-mer shard")
				return false
			}
			if _, err := f.Seek(8, io.SeekStart); err != nil {
				f.Close()
				s.err = err
				return false
			}
			s.f = f
		}
		if s.buf == nil {
			s.buf = make([]byte, streamBlockEntries*s.t.Kbyte)
		}
		n, err := io.ReadFull(s.f, s.buf)
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			err = nil
		}
		if err != nil {
			s.err = errors.Wrapf(err, "read %s", s.t.shardPath(s.shard))
			return false
		}
		n -= n % s.t.Kbyte
		if n > 0 {
			s.bpos, s.bend = 0, n
			s.idx++
			s.advancePanel()
			return true
		}
		// Shard exhausted; fall through to the next one.
		s.f.Close()
		s.f = nil
	}
}

func (s *KmerStream) advancePanel() {
	for s.idx >= s.t.PrefixIndex[s.panel+1] {
		s.panel++
	}
}

// Index returns the global index of the current entry.
func (s *KmerStream) Index() int64 { return s.idx }

// Cpre returns the panel key of the current entry.
func (s *KmerStream) Cpre() int { return s.panel }

// Suffix returns the packed suffix bytes of the current entry.  Valid
// until the next call to Next.
func (s *KmerStream) Suffix() []byte {
	return s.buf[s.bpos : s.bpos+s.t.Hbyte]
}

// Count returns the position count of the current entry.
func (s *KmerStream) Count() int { return int(s.buf[s.bpos+s.t.Hbyte]) }

// LCP returns the base-length of the common prefix with the previous
// entry.
func (s *KmerStream) LCP() int { return int(s.buf[s.bpos+s.t.Hbyte+1]) }

// SuffixByte returns byte i of the full packed k-mer (i >= Ibyte) for the
// current entry.
func (s *KmerStream) SuffixByte(i int) byte {
	return s.buf[s.bpos+i-s.t.Ibyte]
}
