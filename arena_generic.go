// +build !linux

package galign

// mmapArena on non-Linux platforms falls back to the Go heap.
func mmapArena(n int) ([]byte, error) { return make([]byte, n), nil }

func freeArena(b []byte) error { return nil }
