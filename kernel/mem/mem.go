// Package mem defines memory sizes, page geometry and the simulated physical
// memory arena that the page allocators hand out.
package mem

const (
	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = 12

	// PageSize defines the system's page size in bytes.
	PageSize = Size(1 << PageShift)
)

// Size represents a memory block size in bytes.
type Size uint64

// Common memory block sizes.
const (
	Byte Size = 1
	Kb        = 1024 * Byte
	Mb        = 1024 * Kb
	Gb        = 1024 * Mb
)

// Pages returns the number of pages that are required for storing this size.
func (s Size) Pages() uint32 {
	pageSizeMinus1 := PageSize - 1
	return uint32(((s + pageSizeMinus1) &^ pageSizeMinus1) >> PageShift)
}

// PageAlignDown rounds addr down to the start of the page that contains it.
func PageAlignDown(addr uintptr) uintptr {
	return addr &^ uintptr(PageSize-1)
}

// PageAlignUp rounds addr up to the next page boundary. Page-aligned
// addresses are returned unchanged.
func PageAlignUp(addr uintptr) uintptr {
	return (addr + uintptr(PageSize-1)) &^ uintptr(PageSize-1)
}

// IsPageAligned returns true if addr points to the first byte of a page.
func IsPageAligned(addr uintptr) bool {
	return addr&uintptr(PageSize-1) == 0
}
