// Package las reads and writes .las local-alignment files: an int64
// record count and an int32 trace spacing, followed by overlap records.
// Each record is nine little-endian int32 fields and the trace bytes; the
// trace holds one (diffs, b-length) byte pair per trace-spacing segment of
// the a-range.  The package also provides the zstd-framed variant used
// for the pre-filter per-thread temp files.
package las

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Overlap flag bits.
const (
	// CompFlag marks the b-range as lying in reverse-complement
	// coordinates of the b-contig.
	CompFlag = 1 << 0
)

// Overlap is one local alignment between an a-contig and a b-contig.
type Overlap struct {
	Aread int32
	Bread int32
	Flags int32
	Abpos int32
	Aepos int32
	Bbpos int32
	Bepos int32
	Diffs int32
	Trace []byte
}

// Comp reports whether the b-range is in complemented coordinates.
func (o *Overlap) Comp() bool { return o.Flags&CompFlag != 0 }

// TraceSegments returns the number of (diffs, blen) pairs in the trace.
func (o *Overlap) TraceSegments() int { return len(o.Trace) / 2 }

const recordHead = 9 * 4 // nine int32 fields before the trace bytes

// WriteOverlap writes one record to w.
func WriteOverlap(w io.Writer, o *Overlap) error {
	var head [recordHead]byte
	fields := []int32{o.Aread, o.Bread, o.Flags, o.Abpos, o.Aepos, o.Bbpos, o.Bepos, o.Diffs, int32(len(o.Trace))}
	for i, v := range fields {
		binary.LittleEndian.PutUint32(head[i*4:], uint32(v))
	}
	if _, err := w.Write(head[:]); err != nil {
		return err
	}
	_, err := w.Write(o.Trace)
	return err
}

// ReadOverlap reads one record from r.  io.EOF at a record boundary is
// returned as is.
func ReadOverlap(r io.Reader, o *Overlap) error {
	var head [recordHead]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return err
	}
	o.Aread = int32(binary.LittleEndian.Uint32(head[0:]))
	o.Bread = int32(binary.LittleEndian.Uint32(head[4:]))
	o.Flags = int32(binary.LittleEndian.Uint32(head[8:]))
	o.Abpos = int32(binary.LittleEndian.Uint32(head[12:]))
	o.Aepos = int32(binary.LittleEndian.Uint32(head[16:]))
	o.Bbpos = int32(binary.LittleEndian.Uint32(head[20:]))
	o.Bepos = int32(binary.LittleEndian.Uint32(head[24:]))
	o.Diffs = int32(binary.LittleEndian.Uint32(head[28:]))
	tlen := int(int32(binary.LittleEndian.Uint32(head[32:])))
	if tlen < 0 {
		return errors.New("negative trace length")
	}
	o.Trace = make([]byte, tlen)
	if _, err := io.ReadFull(r, o.Trace); err != nil {
		return errors.Wrap(err, "truncated trace")
	}
	return nil
}

// Writer writes a plain .las file.  The record count is patched on Close.
type Writer struct {
	f    *os.File
	w    *bufio.Writer
	nels int64
}

func NewWriter(path string, tspace int) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", path)
	}
	w := bufio.NewWriter(f)
	var hdr [12]byte
	binary.LittleEndian.PutUint32(hdr[8:], uint32(tspace))
	if _, err := w.Write(hdr[:]); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "write %s", path)
	}
	return &Writer{f: f, w: w}, nil
}

func (w *Writer) Write(o *Overlap) error {
	w.nels++
	return WriteOverlap(w.w, o)
}

func (w *Writer) Close() error {
	if err := w.w.Flush(); err != nil {
		w.f.Close()
		return err
	}
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(w.nels))
	if _, err := w.f.WriteAt(n[:], 0); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// Reader reads a plain .las file.
type Reader struct {
	f      *os.File
	r      *bufio.Reader
	Nels   int64
	Tspace int
	read   int64
}

func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	r := bufio.NewReader(f)
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "%s: read header", path)
	}
	return &Reader{
		f:      f,
		r:      r,
		Nels:   int64(binary.LittleEndian.Uint64(hdr[:])),
		Tspace: int(int32(binary.LittleEndian.Uint32(hdr[8:]))),
	}, nil
}

// Next reads the next overlap.  It returns false at the end of the file.
func (r *Reader) Next(o *Overlap) (bool, error) {
	if r.read >= r.Nels {
		return false, nil
	}
	if err := ReadOverlap(r.r, o); err != nil {
		return false, errors.Wrapf(err, "%s: record %d", r.f.Name(), r.read)
	}
	r.read++
	return true, nil
}

func (r *Reader) Close() error { return r.f.Close() }

// TempWriter writes the per-thread pre-filter alignment file: the same
// record layout inside a zstd stream, with no count header (the filter
// reads to the end of the stream).
type TempWriter struct {
	f *os.File
	z *zstd.Encoder
}

func NewTempWriter(path string) (*TempWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", path)
	}
	z, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &TempWriter{f: f, z: z}, nil
}

func (w *TempWriter) Write(o *Overlap) error { return WriteOverlap(w.z, o) }

func (w *TempWriter) Close() error {
	if err := w.z.Close(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// TempReader reads a TempWriter file.
type TempReader struct {
	f *os.File
	z *zstd.Decoder
	r *bufio.Reader
}

func NewTempReader(path string) (*TempReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	z, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &TempReader{f: f, z: z, r: bufio.NewReader(z)}, nil
}

// Next reads the next overlap; false at end of stream.
func (r *TempReader) Next(o *Overlap) (bool, error) {
	err := ReadOverlap(r.r, o)
	if err == io.EOF {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "%s", r.f.Name())
	}
	return true, nil
}

func (r *TempReader) Close() error {
	r.z.Close()
	return r.f.Close()
}
