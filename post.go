package galign

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"
)

// A position table is a stub file <root>.post plus nthr shard files
// <root>.post.<p>.  Entries are pbyte-wide little-endian values holding a
// within-contig position in the low bytes and the contig index in the high
// cbyte bytes; the top bit of the highest byte is the strand flag.  Entry
// j belongs to the j'th k-mer occurrence in table order.
type PostTable struct {
	Root   string
	Pbyte  int // total entry width
	Cbyte  int // contig bytes within the entry
	Nthr   int
	Nctg   int
	MaxPos int64
	Freq   int64 // cutoff the positions were trimmed with

	// Perm orders contigs by descending length, as read from the stub.
	// Contig parts are cut in contig index order and do not consult it.
	Perm []int

	// Neps[p] is the cumulative entry count through shard p+1.
	Neps []int64
}

func (t *PostTable) shardPath(p int) string {
	return fmt.Sprintf("%s.post.%d", t.Root, p+1)
}

// Nels returns the total number of position entries.
func (t *PostTable) Nels() int64 { return t.Neps[t.Nthr-1] }

// shardEntryStart returns the global index of the first entry of shard p.
func (t *PostTable) shardEntryStart(p int) int64 {
	if p == 0 {
		return 0
	}
	return t.Neps[p-1]
}

// OpenPostTable reads and validates the stub of <root>.post and checks
// every shard against it.
func OpenPostTable(root string) (*PostTable, error) {
	path := root + ".post"
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open position table %s", path)
	}
	defer f.Close()

	var hdr struct {
		Pbyte, Cbyte, Nthr, Nctg int16
		MaxPos, Freq             int64
	}
	if err := binary.Read(f, binary.LittleEndian, &hdr); err != nil {
		return nil, errors.Wrapf(err, "%s: read header", path)
	}
	t := &PostTable{
		Root:   root,
		Pbyte:  int(hdr.Pbyte),
		Cbyte:  int(hdr.Cbyte),
		Nthr:   int(hdr.Nthr),
		Nctg:   int(hdr.Nctg),
		MaxPos: hdr.MaxPos,
		Freq:   hdr.Freq,
	}
	if t.Pbyte < 2 || t.Pbyte > 8 || t.Cbyte < 1 || t.Cbyte >= t.Pbyte {
		return nil, errors.Errorf("%s: bad entry widths pbyte=%d cbyte=%d", path, t.Pbyte, t.Cbyte)
	}
	if t.Nthr < 1 || t.Nctg < 0 {
		return nil, errors.Errorf("%s: bad header counts nthr=%d nctg=%d", path, t.Nthr, t.Nctg)
	}
	perm16 := make([]int16, t.Nctg)
	if err := binary.Read(f, binary.LittleEndian, perm16); err != nil {
		return nil, errors.Wrapf(err, "%s: read permutation", path)
	}
	t.Perm = make([]int, t.Nctg)
	for i, p := range perm16 {
		t.Perm[i] = int(p)
	}
	t.Neps = make([]int64, t.Nthr)
	if err := binary.Read(f, binary.LittleEndian, t.Neps); err != nil {
		return nil, errors.Wrapf(err, "%s: read shard counts", path)
	}
	for p := 0; p < t.Nthr; p++ {
		st, err := os.Stat(t.shardPath(p))
		if err != nil {
			return nil, errors.Wrapf(err, "stat position shard")
		}
		want := 8 + (t.Neps[p]-t.shardEntryStart(p))*int64(t.Pbyte)
		if st.Size() != want {
			return nil, errors.Errorf("%s: size %d does not match stub (want %d)", t.shardPath(p), st.Size(), want)
		}
	}
	return t, nil
}

// Post is a decoded position entry.
type Post struct {
	Contig int
	Pos    int64
	Comp   bool // canonical k-mer was the reverse complement
}

// PostStream iterates position entries as one logical sequence across the
// shard files.  Each worker owns a private stream.
type PostStream struct {
	t     *PostTable
	f     *os.File
	shard int
	idx   int64
	buf   []byte
	bpos  int
	bend  int
	err   error
}

// NewStream returns a stream positioned before entry 0.
func (t *PostTable) NewStream() *PostStream {
	return &PostStream{t: t, shard: -1, idx: -1}
}

func (s *PostStream) Close() error {
	if s.f != nil {
		return s.f.Close()
	}
	return nil
}

func (s *PostStream) Err() error { return s.err }

// Seek positions the stream so the following Next returns entry i.  The
// shard holding i is found by binary search over Neps.
func (s *PostStream) Seek(i int64) error {
	if s.f != nil {
		s.f.Close()
		s.f = nil
	}
	if i >= s.t.Nels() {
		s.shard = s.t.Nthr
		s.idx = s.t.Nels() - 1
		s.bpos, s.bend = 0, 0
		return nil
	}
	p := sort.Search(s.t.Nthr, func(p int) bool { return s.t.Neps[p] > i })
	f, err := os.Open(s.t.shardPath(p))
	if err != nil {
		s.err = errors.Wrapf(err, "seek position shard")
		return s.err
	}
	local := i - s.t.shardEntryStart(p)
	if _, err := f.Seek(8+local*int64(s.t.Pbyte), io.SeekStart); err != nil {
		f.Close()
		s.err = errors.Wrapf(err, "seek position shard %d", p+1)
		return s.err
	}
	s.shard = p
	s.f = f
	s.idx = i - 1
	s.bpos, s.bend = 0, 0
	return nil
}

// Skip discards the next n entries: the following Next returns the entry
// n+1 ahead of the current one.
func (s *PostStream) Skip(n int64) error {
	if n <= 0 {
		return nil
	}
	buffered := int64((s.bend-s.bpos)/s.t.Pbyte) - 1
	if n <= buffered {
		s.bpos += int(n) * s.t.Pbyte
		s.idx += n
		return nil
	}
	return s.Seek(s.idx + n + 1)
}

// Next advances to the next entry.
func (s *PostStream) Next() bool {
	if s.err != nil {
		return false
	}
	if s.bpos+s.t.Pbyte < s.bend {
		s.bpos += s.t.Pbyte
		s.idx++
		return true
	}
	return s.refill()
}

func (s *PostStream) refill() bool {
	if s.idx+1 >= s.t.Nels() {
		return false
	}
	for {
		if s.f == nil {
			s.shard++
			if s.shard >= s.t.Nthr {
				return false
			}
			f, err := os.Open(s.t.shardPath(s.shard))
			if err != nil {
				s.err = errors.Wrapf(err, "advance position shard")
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
			s.buf = make([]byte, streamBlockEntries*s.t.Pbyte)
		}
		n, err := io.ReadFull(s.f, s.buf)
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			err = nil
		}
		if err != nil {
			s.err = errors.Wrapf(err, "read %s", s.t.shardPath(s.shard))
			return false
		}
		n -= n % s.t.Pbyte
		if n > 0 {
			s.bpos, s.bend = 0, n
			s.idx++
			return true
		}
		s.f.Close()
		s.f = nil
	}
}

// Index returns the global index of the current entry.
func (s *PostStream) Index() int64 { return s.idx }

// Get decodes the current entry.
func (s *PostStream) Get() Post {
	v := getLE(s.buf[s.bpos:], s.t.Pbyte)
	posBits := uint(8 * (s.t.Pbyte - s.t.Cbyte))
	pos := int64(v & (1<<posBits - 1))
	high := v >> posBits
	topBit := uint64(1) << uint(8*s.t.Cbyte-1)
	return Post{
		Contig: int(high &^ topBit),
		Pos:    pos,
		Comp:   high&topBit != 0,
	}
}
