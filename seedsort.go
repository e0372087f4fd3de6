package galign

import (
	"io"
	"os"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// Sorted seed records are fixed-width byte sequences laid out so that an
// LSD byte radix over the whole record yields the chain-search order
// (b-contig, diagonal bucket, a-post, diagonal remainder, lcp):
//
//	[lcp u8][dlow u8][apos ipost][dhigh dhbyte][bcont jcont]
//
// dlow is diag mod BuckWidth, dhigh the bucket number.  The a-contig is
// implicit: records are grouped into per-contig regions of the arena
// before sorting.
type sortLayout struct {
	ipost  int
	dhbyte int
	jcont  int
	swide  int
	kmer   int
}

func newSortLayout(a, b *GDB, kmer int) sortLayout {
	l := sortLayout{
		ipost:  bytesFor(uint64(a.MaxLen)),
		dhbyte: bytesFor(uint64(a.MaxLen+b.MaxLen) / BuckWidth),
		jcont:  bytesFor(uint64(2 * b.NumContigs())),
		kmer:   kmer,
	}
	l.swide = 2 + l.ipost + l.dhbyte + l.jcont
	return l
}

// sortRec is a decoded sorted seed record.
type sortRec struct {
	lcp    int
	diag   int64
	apos   int64
	bcont  int
	bucket int64
}

func (l sortLayout) put(dst []byte, lcp int, diag, apos int64, bcont int) {
	dst[0] = byte(lcp)
	dst[1] = byte(diag & (BuckWidth - 1))
	o := 2
	putLE(dst[o:], l.ipost, uint64(apos))
	o += l.ipost
	putLE(dst[o:], l.dhbyte, uint64(diag/BuckWidth))
	o += l.dhbyte
	putLE(dst[o:], l.jcont, uint64(bcont))
}

func (l sortLayout) get(src []byte) sortRec {
	o := 2
	apos := int64(getLE(src[o:], l.ipost))
	o += l.ipost
	bucket := int64(getLE(src[o:], l.dhbyte))
	o += l.dhbyte
	bcont := int(getLE(src[o:], l.jcont))
	return sortRec{
		lcp:    int(src[0]),
		diag:   bucket*BuckWidth + int64(src[1]),
		apos:   apos,
		bcont:  bcont,
		bucket: bucket,
	}
}

// seedArena holds one (family, part) set of sorted seed records: an
// off-heap arena split into per-a-contig regions.
type seedArena struct {
	layout sortLayout
	buf    []byte
	nels   int64
	cbegin int     // first contig of the part
	offs   []int64 // record offsets per contig; offs[i] .. offs[i+1]
}

func (a *seedArena) free() error {
	if a.buf == nil {
		return nil
	}
	err := freeArena(a.buf)
	a.buf = nil
	return err
}

// contigRecords returns the (pre- or post-sort) record bytes of contig c.
func (a *seedArena) contigRecords(c int) []byte {
	i := c - a.cbegin
	w := int64(a.layout.swide)
	return a.buf[a.offs[i]*w : a.offs[i+1]*w]
}

// importSeeds streams the packed seed shards of every worker for one
// (family, part) set into a fresh arena, computing diagonals and applying
// the flip shift.  The contig regions are left unsorted; the caller
// radix-sorts them.  The shard files are unlinked after the read.
func importSeeds(paths []string, in seedLayout, out sortLayout,
	fam, cbegin, cend int, blens []int64, buck [][]int64) (*seedArena, error) {
	// Exclusive prefix sums over this part's contigs, all workers merged.
	nctg := cend - cbegin
	offs := make([]int64, nctg+1)
	var total int64
	for i := 0; i < nctg; i++ {
		offs[i] = total
		for _, b := range buck {
			total += b[cbegin+i]
		}
	}
	offs[nctg] = total

	a := &seedArena{layout: out, nels: total, cbegin: cbegin, offs: offs}
	if total > 0 {
		buf, err := mmapArena(int(total) * out.swide)
		if err != nil {
			return nil, errors.Wrap(err, "seed sort arena")
		}
		a.buf = buf
	}

	place := make([]int64, nctg)
	copy(place, offs[:nctg])
	rec := make([]byte, in.rec)
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			a.free()
			return nil, errors.Wrapf(err, "open seed shard")
		}
		r := snappy.NewReader(f)
		for {
			if _, err := io.ReadFull(r, rec); err != nil {
				if err == io.EOF {
					break
				}
				f.Close()
				a.free()
				return nil, errors.Wrapf(err, "read seed shard %s", path)
			}
			lcp := int(rec[0])
			o := 1
			apos := int64(getLE(rec[o:], in.ipost))
			o += in.ipost
			acont := int(getLE(rec[o:], in.icont))
			o += in.icont
			bpos := int64(getLE(rec[o:], in.jpost))
			o += in.jpost
			bc := getLE(rec[o:], in.jcont)
			flip := bc&(1<<uint(8*in.jcont-1)) != 0
			bcont := int(bc &^ (1 << uint(8*in.jcont-1)))

			if bpos < 0 || bpos > blens[bcont] {
				f.Close()
				a.free()
				return nil, errors.Errorf("%s: seed b-position %d outside contig %d (len %d)",
					path, bpos, bcont, blens[bcont])
			}
			var diag int64
			if fam == famN {
				diag = apos - bpos + blens[bcont]
				if flip {
					// Both k-mers were reverse strand: the forward match
					// starts at the far end of the k-mer.
					apos += int64(out.kmer - lcp)
				}
			} else {
				diag = apos + bpos
			}
			slot := place[acont-cbegin]
			place[acont-cbegin]++
			out.put(a.buf[slot*int64(out.swide):], lcp, diag, apos, bcont)
		}
		f.Close()
		os.Remove(path)
	}
	return a, nil
}

// radixSort LSD-sorts fixed-width records by their byte-reversed
// lexicographic order (the layout makes that the chain-search order).
// scratch must be at least len(recs) bytes.
func radixSort(recs, scratch []byte, swide int) {
	n := len(recs) / swide
	if n < 2 {
		return
	}
	var count [256]int
	src, dst := recs, scratch[:len(recs)]
	swapped := false
	for b := 0; b < swide; b++ {
		for i := range count {
			count[i] = 0
		}
		for i := 0; i < n; i++ {
			count[src[i*swide+b]]++
		}
		if count[src[b]] == n {
			continue // all records share this byte
		}
		sum := 0
		for i := range count {
			c := count[i]
			count[i] = sum
			sum += c
		}
		for i := 0; i < n; i++ {
			r := src[i*swide : i*swide+swide]
			p := count[r[b]]
			count[r[b]]++
			copy(dst[p*swide:], r)
		}
		src, dst = dst, src
		swapped = !swapped
	}
	if swapped {
		copy(recs, src)
	}
}
