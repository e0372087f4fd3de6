package galign

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
)

// gdbMagic begins every assembly file.
const gdbMagic = "GDB1"

// GDB is an assembly: contig lengths plus 2-bit packed bases loaded on
// demand.  The struct itself is read-only after Open and may be shared;
// base loads go through per-thread handles (each thread needs its own file
// offset).
type GDB struct {
	Path     string
	Lens     []int64 // contig lengths, by contig index
	offs     []int64 // byte offset of each contig's packed bases
	MaxLen   int64   // longest contig
	TotalLen int64
}

// OpenGDB reads the assembly stub of <root>.gdb and validates it.
func OpenGDB(root string) (*GDB, error) {
	path := root + ".gdb"
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open assembly %s", path)
	}
	defer f.Close()

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return nil, errors.Wrapf(err, "%s: read header", path)
	}
	if string(magic[:]) != gdbMagic {
		return nil, errors.Errorf("%s: not an assembly file (bad magic %q)", path, magic)
	}
	var nctg int32
	if err := binary.Read(f, binary.LittleEndian, &nctg); err != nil {
		return nil, errors.Wrapf(err, "%s: read contig count", path)
	}
	if nctg < 0 {
		return nil, errors.Errorf("%s: negative contig count %d", path, nctg)
	}
	g := &GDB{
		Path: path,
		Lens: make([]int64, nctg),
		offs: make([]int64, nctg),
	}
	for i := range g.Lens {
		if err := binary.Read(f, binary.LittleEndian, &g.Lens[i]); err != nil {
			return nil, errors.Wrapf(err, "%s: read contig %d", path, i)
		}
		if err := binary.Read(f, binary.LittleEndian, &g.offs[i]); err != nil {
			return nil, errors.Wrapf(err, "%s: read contig %d", path, i)
		}
		if g.Lens[i] > g.MaxLen {
			g.MaxLen = g.Lens[i]
		}
		g.TotalLen += g.Lens[i]
	}
	return g, nil
}

// NumContigs returns the number of contigs in the assembly.
func (g *GDB) NumContigs() int { return len(g.Lens) }

// GDBReader loads contig bases.  Not thread safe; clone one per worker.
type GDBReader struct {
	gdb *GDB
	f   *os.File
	buf []byte
}

// NewReader opens a base-file handle for one thread.
func (g *GDB) NewReader() (*GDBReader, error) {
	f, err := os.Open(g.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "open bases %s", g.Path)
	}
	return &GDBReader{gdb: g, f: f}, nil
}

func (r *GDBReader) Close() error { return r.f.Close() }

// Load returns contig c as one 2-bit code per byte.  The returned slice is
// owned by the reader and valid until the next Load.
func (r *GDBReader) Load(c int) ([]byte, error) {
	n := int(r.gdb.Lens[c])
	packed := make([]byte, (n+3)/4)
	if nr, err := r.f.ReadAt(packed, r.gdb.offs[c]); nr < len(packed) && err != nil {
		return nil, errors.Wrapf(err, "%s: load contig %d", r.gdb.Path, c)
	}
	if cap(r.buf) < n {
		r.buf = make([]byte, n)
	}
	r.buf = r.buf[:n]
	for i := range r.buf {
		r.buf[i] = packedBase(packed, i)
	}
	return r.buf, nil
}

// LoadComp returns the reverse complement of contig c.  The slice is newly
// allocated (callers hold A and B at the same time).
func (r *GDBReader) LoadComp(c int) ([]byte, error) {
	fwd, err := r.Load(c)
	if err != nil {
		return nil, err
	}
	return revComp(fwd), nil
}
