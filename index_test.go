package galign

import (
	"bytes"
	"io/ioutil"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func TestBytesRoundTrip(t *testing.T) {
	buf := make([]byte, 8)
	for _, v := range []uint64{0, 1, 0xff, 0x100, 0xfffe, 0x123456, 0xdeadbeef, 1 << 40} {
		for w := bytesFor(v); w <= 8; w++ {
			putLE(buf, w, v)
			expect.EQ(t, getLE(buf, w), v)
		}
	}
	expect.EQ(t, bytesFor(0), 1)
	expect.EQ(t, bytesFor(255), 1)
	expect.EQ(t, bytesFor(256), 2)
	expect.EQ(t, bytesFor(1<<24), 4)
}

func TestPackedSeq(t *testing.T) {
	codes := codesOf("ACGTTGCAAC")
	packed := packSeq(codes)
	expect.EQ(t, unpackSeq(packed, len(codes)), codes)
	for i, c := range codes {
		expect.EQ(t, packedBase(packed, i), c)
	}

	rc := revComp(codes)
	expect.EQ(t, rc, codesOf("GTTGCAACGT"))

	k := len(codes)
	rck := make([]byte, len(packed))
	revCompKmer(rck, packed, k)
	expect.EQ(t, unpackSeq(rck, k), rc)
	// Double reversal is the identity, including the pad bits.
	back := make([]byte, len(packed))
	revCompKmer(back, rck, k)
	expect.EQ(t, back, packed)
}

func TestKmerTableStream(t *testing.T) {
	dir, err := ioutil.TempDir("", "ktab")
	assert.NoError(t, err)
	defer os.RemoveAll(dir)

	rnd := rand.New(rand.NewSource(1))
	seqs := []string{randSeq(rnd, 400), randSeq(rnd, 220)}
	root := filepath.Join(dir, "g")
	const k, ibyte, nthr = 16, 1, 4
	writeTestIndex(t, root, seqs, k, ibyte, nthr)

	tab, err := OpenKmerTable(root)
	assert.NoError(t, err)
	expect.EQ(t, tab.Kmer, k)
	expect.EQ(t, tab.Nthr, nthr)
	expect.EQ(t, tab.Ibyte, ibyte)

	pt, err := OpenPostTable(root)
	assert.NoError(t, err)
	expect.EQ(t, pt.Nels(), countTablePositions(t, tab, root))

	// Entries stream out in sorted order with non-decreasing panel keys
	// and nonzero counts, across all shard boundaries.
	s := tab.NewStream()
	defer s.Close()
	assert.NoError(t, s.Seek(0))
	var (
		n     int64
		prev  []byte
		panel = -1
	)
	for s.Next() {
		expect.EQ(t, s.Index(), n)
		if s.Cpre() < panel {
			t.Fatalf("panel decreased at %d", n)
		}
		panel = s.Cpre()
		cur := append([]byte(nil), s.Suffix()...)
		if prev != nil && s.Cpre() == prevPanel(tab, n) {
			if bytes.Compare(prev, cur) > 0 {
				t.Fatalf("suffix order violated at %d", n)
			}
		}
		if s.Count() < 1 {
			t.Fatalf("entry %d has zero count", n)
		}
		prev = cur
		n++
	}
	assert.NoError(t, s.Err())
	expect.EQ(t, n, tab.Nels)

	// Seek lands on the requested entry.
	if tab.Nels > 3 {
		assert.NoError(t, s.Seek(3))
		expect.True(t, s.Next())
		expect.EQ(t, s.Index(), int64(3))
	}
}

func prevPanel(tab *KmerTable, idx int64) int {
	lo, hi := 0, tab.NumPanels()
	for lo < hi {
		mid := (lo + hi) / 2
		if tab.PrefixIndex[mid+1] <= idx-1 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func countTablePositions(t *testing.T, tab *KmerTable, root string) int64 {
	s := tab.NewStream()
	defer s.Close()
	assert.NoError(t, s.Seek(0))
	var n int64
	for s.Next() {
		n += int64(s.Count())
	}
	assert.NoError(t, s.Err())
	return n
}

func TestPostStream(t *testing.T) {
	dir, err := ioutil.TempDir("", "post")
	assert.NoError(t, err)
	defer os.RemoveAll(dir)

	rnd := rand.New(rand.NewSource(2))
	seqs := []string{randSeq(rnd, 300), randSeq(rnd, 150), randSeq(rnd, 90)}
	root := filepath.Join(dir, "g")
	writeTestIndex(t, root, seqs, 16, 1, 4)

	pt, err := OpenPostTable(root)
	assert.NoError(t, err)
	s := pt.NewStream()
	defer s.Close()
	assert.NoError(t, s.Seek(0))
	all := []Post{}
	for s.Next() {
		p := s.Get()
		if p.Contig < 0 || p.Contig >= len(seqs) {
			t.Fatalf("bad contig %d", p.Contig)
		}
		if p.Pos < 0 || p.Pos > int64(len(seqs[p.Contig])-16) {
			t.Fatalf("bad position %d in contig %d", p.Pos, p.Contig)
		}
		all = append(all, p)
	}
	assert.NoError(t, s.Err())
	expect.EQ(t, int64(len(all)), pt.Nels())

	// Seek and Skip agree with a full scan.
	assert.NoError(t, s.Seek(5))
	expect.True(t, s.Next())
	expect.EQ(t, s.Get(), all[5])
	assert.NoError(t, s.Skip(7))
	expect.True(t, s.Next())
	expect.EQ(t, s.Get(), all[13])

	// The assembly round-trips each contig.
	gdb, err := OpenGDB(root)
	assert.NoError(t, err)
	r, err := gdb.NewReader()
	assert.NoError(t, err)
	defer r.Close()
	for c, seq := range seqs {
		got, err := r.Load(c)
		assert.NoError(t, err)
		expect.EQ(t, got, codesOf(seq))
		comp, err := r.LoadComp(c)
		assert.NoError(t, err)
		expect.EQ(t, comp, codesOf(revCompSeq(seq)))
	}
}

func TestOpenValidation(t *testing.T) {
	dir, err := ioutil.TempDir("", "val")
	assert.NoError(t, err)
	defer os.RemoveAll(dir)

	rnd := rand.New(rand.NewSource(3))
	root := filepath.Join(dir, "g")
	writeTestIndex(t, root, []string{randSeq(rnd, 120)}, 16, 1, 1)

	// Missing shard.
	assert.NoError(t, os.Rename(root+".ktab.1", root+".ktab.1.gone"))
	_, err = OpenKmerTable(root)
	expect.HasSubstr(t, err.Error(), "ktab")
	assert.NoError(t, os.Rename(root+".ktab.1.gone", root+".ktab.1"))

	// Size mismatch.
	f, err := os.OpenFile(root+".ktab.1", os.O_APPEND|os.O_WRONLY, 0666)
	assert.NoError(t, err)
	_, err = f.Write([]byte{0})
	assert.NoError(t, err)
	assert.NoError(t, f.Close())
	_, err = OpenKmerTable(root)
	expect.HasSubstr(t, err.Error(), "size")
}
