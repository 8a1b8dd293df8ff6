package arena

import "unsafe"

// uintptrDiff returns the byte distance from base to p, assuming both point
// into the same backing array.
func uintptrDiff(base, p *byte) int64 {
	return int64(uintptr(unsafe.Pointer(p)) - uintptr(unsafe.Pointer(base)))
}
