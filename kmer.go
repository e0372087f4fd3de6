package galign

// Bases are 2-bit codes (A=0, C=1, G=2, T=3).  A packed sequence stores
// base i in bits 6-2*(i%4) of byte i/4, so byte-lexicographic order of
// packed k-mers equals base-lexicographic order.

const (
	baseA = 0
	baseC = 1
	baseG = 2
	baseT = 3
)

// packedBase returns base i of a packed sequence.
func packedBase(seq []byte, i int) byte {
	return (seq[i>>2] >> (6 - 2*(uint(i)&3))) & 3
}

// setPackedBase sets base i of a packed sequence to code.
func setPackedBase(seq []byte, i int, code byte) {
	sh := 6 - 2*(uint(i)&3)
	seq[i>>2] = seq[i>>2]&^(3<<sh) | code<<sh
}

// packSeq packs n 2-bit base codes into ceil(n/4) bytes.
func packSeq(codes []byte) []byte {
	out := make([]byte, (len(codes)+3)/4)
	for i, c := range codes {
		setPackedBase(out, i, c)
	}
	return out
}

// unpackSeq expands a packed sequence into one code byte per base.
func unpackSeq(packed []byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = packedBase(packed, i)
	}
	return out
}

// revComp returns the reverse complement of a code-per-byte sequence.
func revComp(codes []byte) []byte {
	out := make([]byte, len(codes))
	for i, c := range codes {
		out[len(codes)-1-i] = 3 - c
	}
	return out
}

// revCompKmer writes the reverse complement of the packed k-mer src of k
// bases into dst (ceil(k/4) bytes); dst and src must not overlap.  The trailing pad bases of the last byte are
// cleared so padded bytes compare equal.
func revCompKmer(dst, src []byte, k int) {
	for i := 0; i < k; i++ {
		setPackedBase(dst, i, 3-packedBase(src, k-1-i))
	}
	if k&3 != 0 {
		last := k >> 2
		dst[last] &= 0xff << (8 - 2*(uint(k)&3))
	}
}
