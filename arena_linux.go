// +build linux

package galign

import "golang.org/x/sys/unix"

// mmapArena allocates the seed sort arena outside the Go heap.  Transparent
// hugepages cut TLB misses on the radix passes; the madvise is best-effort.
func mmapArena(n int) ([]byte, error) {
	b, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}
	_ = unix.Madvise(b, unix.MADV_HUGEPAGE)
	return b, nil
}

func freeArena(b []byte) error { return unix.Munmap(b) }
