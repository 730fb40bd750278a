// Package pmm contains code that manages physical memory page allocations.
package pmm

import (
	"math"

	"physmem/kernel/mem"
)

// Frame describes a physical memory page index.
type Frame uintptr

const (
	// InvalidFrame is returned when an address cannot be mapped to a
	// frame managed by an allocator.
	InvalidFrame = Frame(math.MaxUint64)
)

// FrameFromAddress returns the frame that contains physAddr.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame(physAddr >> mem.PageShift)
}

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical address of the first byte of this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f << mem.PageShift)
}
