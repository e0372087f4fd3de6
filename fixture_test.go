package galign

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io/ioutil"
	"math/rand"
	"sort"
	"testing"
)

// Test fixtures: build the .gdb/.ktab/.post index triple for a set of
// contig sequences, the way the (out-of-scope) index builder would.

var baseChars = [4]byte{'A', 'C', 'G', 'T'}

func codesOf(seq string) []byte {
	codes := make([]byte, len(seq))
	for i := 0; i < len(seq); i++ {
		switch seq[i] {
		case 'A', 'a':
			codes[i] = baseA
		case 'C', 'c':
			codes[i] = baseC
		case 'G', 'g':
			codes[i] = baseG
		case 'T', 't':
			codes[i] = baseT
		default:
			panic("bad base")
		}
	}
	return codes
}

func randSeq(rnd *rand.Rand, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = baseChars[rnd.Intn(4)]
	}
	return string(b)
}

func revCompSeq(seq string) string {
	codes := revComp(codesOf(seq))
	b := make([]byte, len(codes))
	for i, c := range codes {
		b[i] = baseChars[c]
	}
	return string(b)
}

// lcpBases returns the length in bases of the common prefix of two packed
// k-mers.
func lcpBases(a, b []byte, k int) int {
	n := 0
	for i := 0; i < k; i++ {
		if packedBase(a, i) != packedBase(b, i) {
			break
		}
		n++
	}
	return n
}

type testOcc struct {
	contig int
	pos    int64
	comp   bool
}

type testEntry struct {
	kmer []byte // packed canonical form
	occs []testOcc
}

// writeTestIndex builds <root>.gdb, <root>.ktab(.p), <root>.post(.p) for
// the given contig sequences.
func writeTestIndex(t testing.TB, root string, seqs []string, k, ibyte, nthr int) {
	t.Helper()
	nctg := len(seqs)

	// Assembly.
	var bps bytes.Buffer
	offs := make([]int64, nctg)
	lens := make([]int64, nctg)
	headSize := int64(4 + 4 + 16*nctg)
	for c, s := range seqs {
		lens[c] = int64(len(s))
		offs[c] = headSize + int64(bps.Len())
		bps.Write(packSeq(codesOf(s)))
	}
	var gdb bytes.Buffer
	gdb.WriteString(gdbMagic)
	binary.Write(&gdb, binary.LittleEndian, int32(nctg))
	for c := 0; c < nctg; c++ {
		binary.Write(&gdb, binary.LittleEndian, lens[c])
		binary.Write(&gdb, binary.LittleEndian, offs[c])
	}
	gdb.Write(bps.Bytes())
	if err := ioutil.WriteFile(root+".gdb", gdb.Bytes(), 0666); err != nil {
		t.Fatal(err)
	}

	// Canonical k-mer table.
	byKmer := map[string][]testOcc{}
	rc := make([]byte, (k+3)/4)
	for c, s := range seqs {
		codes := codesOf(s)
		for p := 0; p+k <= len(codes); p++ {
			fwd := packSeq(codes[p : p+k])
			revCompKmer(rc, fwd, k)
			canon, comp := fwd, false
			if bytes.Compare(rc, fwd) < 0 {
				canon = append([]byte(nil), rc...)
				comp = true
			}
			byKmer[string(canon)] = append(byKmer[string(canon)], testOcc{c, int64(p), comp})
		}
	}
	keys := make([]string, 0, len(byKmer))
	for key := range byKmer {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	entries := make([]testEntry, len(keys))
	for i, key := range keys {
		occs := byKmer[key]
		sort.Slice(occs, func(a, b int) bool {
			if occs[a].contig != occs[b].contig {
				return occs[a].contig < occs[b].contig
			}
			return occs[a].pos < occs[b].pos
		})
		if len(occs) > 255 {
			t.Fatalf("test fixture k-mer with %d occurrences", len(occs))
		}
		entries[i] = testEntry{kmer: []byte(key), occs: occs}
	}

	// Panel index and shard split.
	npanels := 1 << uint(8*ibyte)
	panelOf := func(kmer []byte) int {
		v := 0
		for i := 0; i < ibyte; i++ {
			v = v<<8 | int(kmer[i])
		}
		return v
	}
	prefixIndex := make([]int64, npanels+1)
	for _, e := range entries {
		prefixIndex[panelOf(e.kmer)+1]++
	}
	for p := 0; p < npanels; p++ {
		prefixIndex[p+1] += prefixIndex[p]
	}

	var stub bytes.Buffer
	binary.Write(&stub, binary.LittleEndian, int16(k))
	binary.Write(&stub, binary.LittleEndian, int16(nthr))
	binary.Write(&stub, binary.LittleEndian, int16(ibyte))
	binary.Write(&stub, binary.LittleEndian, int16(1)) // minval
	binary.Write(&stub, binary.LittleEndian, int64(len(entries)))
	binary.Write(&stub, binary.LittleEndian, prefixIndex)
	if err := ioutil.WriteFile(root+".ktab", stub.Bytes(), 0666); err != nil {
		t.Fatal(err)
	}

	shardOf := func(i int) int {
		p := panelOf(entries[i].kmer)
		// shard s covers panels [s*npanels/nthr, (s+1)*npanels/nthr)
		for s := 0; s < nthr; s++ {
			if p < (s+1)*npanels/nthr {
				return s
			}
		}
		return nthr - 1
	}
	cbyte := bytesFor(uint64(2 * nctg))
	var maxLen int64
	for _, l := range lens {
		if l > maxLen {
			maxLen = l
		}
	}
	posBytes := bytesFor(uint64(maxLen))
	pbyte := posBytes + cbyte

	shardEnts := make([][]testEntry, nthr)
	for i, e := range entries {
		s := shardOf(i)
		shardEnts[s] = append(shardEnts[s], e)
	}
	neps := make([]int64, nthr)
	var posTotal int64
	gi := 0
	for s := 0; s < nthr; s++ {
		var kbuf, pbuf bytes.Buffer
		binary.Write(&kbuf, binary.LittleEndian, int64(len(shardEnts[s])))
		binary.Write(&pbuf, binary.LittleEndian, int64(0)) // patched below
		var np int64
		for _, e := range shardEnts[s] {
			lcp := 0
			if gi > 0 {
				lcp = lcpBases(entries[gi-1].kmer, e.kmer, k)
			}
			kbuf.Write(e.kmer[ibyte:])
			kbuf.WriteByte(byte(len(e.occs)))
			kbuf.WriteByte(byte(lcp))
			for _, o := range e.occs {
				high := uint64(o.contig)
				if o.comp {
					high |= 1 << uint(8*cbyte-1)
				}
				v := uint64(o.pos) | high<<uint(8*posBytes)
				rec := make([]byte, pbyte)
				putLE(rec, pbyte, v)
				pbuf.Write(rec)
			}
			np += int64(len(e.occs))
			gi++
		}
		posTotal += np
		neps[s] = posTotal
		pb := pbuf.Bytes()
		binary.LittleEndian.PutUint64(pb[:8], uint64(np))
		if err := ioutil.WriteFile(fmt.Sprintf("%s.ktab.%d", root, s+1), kbuf.Bytes(), 0666); err != nil {
			t.Fatal(err)
		}
		if err := ioutil.WriteFile(fmt.Sprintf("%s.post.%d", root, s+1), pb, 0666); err != nil {
			t.Fatal(err)
		}
	}

	// Position stub: contig permutation in descending length order.
	perm := make([]int16, nctg)
	order := make([]int, nctg)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return lens[order[a]] > lens[order[b]] })
	for i, c := range order {
		perm[i] = int16(c)
	}
	var pstub bytes.Buffer
	binary.Write(&pstub, binary.LittleEndian, int16(pbyte))
	binary.Write(&pstub, binary.LittleEndian, int16(cbyte))
	binary.Write(&pstub, binary.LittleEndian, int16(nthr))
	binary.Write(&pstub, binary.LittleEndian, int16(nctg))
	binary.Write(&pstub, binary.LittleEndian, maxLen)
	binary.Write(&pstub, binary.LittleEndian, int64(1)) // build cutoff
	binary.Write(&pstub, binary.LittleEndian, perm)
	binary.Write(&pstub, binary.LittleEndian, neps)
	if err := ioutil.WriteFile(root+".post", pstub.Bytes(), 0666); err != nil {
		t.Fatal(err)
	}
}
