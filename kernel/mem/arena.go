package mem

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"

	"physmem/kernel"
	"physmem/kernel/kfmt"
)

var (
	errArenaOutOfRange = &kernel.Error{Module: "mem", Message: "physical address range not backed by arena"}

	// mmapFn and munmapFn are used by tests to mock calls to the host.
	mmapFn   = unix.Mmap
	munmapFn = unix.Munmap
)

// Arena is a contiguous block of simulated physical memory that starts at a
// page-aligned physical address. The backing pages are obtained from the host
// with an anonymous private mapping so that they start out zeroed and are
// page-aligned, matching what a real frame allocator would see.
type Arena struct {
	base uintptr
	data []byte
}

// NewArena maps size bytes (rounded up to a page multiple) and exposes them
// at physical address base. base must be page-aligned and non-zero.
func NewArena(base uintptr, size Size) (*Arena, error) {
	if base == 0 || !IsPageAligned(base) {
		return nil, errors.Newf("arena base 0x%x must be a non-zero page-aligned address", base)
	}

	pages := size.Pages()
	if pages == 0 {
		return nil, errors.New("arena size must be at least one page")
	}

	data, err := mmapFn(-1, 0, int(Size(pages)*PageSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap %d pages for physical memory arena", pages)
	}

	return &Arena{base: base, data: data}, nil
}

// Base returns the physical address of the first arena byte.
func (a *Arena) Base() uintptr { return a.base }

// End returns the physical address one past the last arena byte.
func (a *Arena) End() uintptr { return a.base + uintptr(len(a.data)) }

// Size returns the arena size in bytes.
func (a *Arena) Size() Size { return Size(len(a.data)) }

// Contains returns true if [addr, addr+size) lies within the arena.
func (a *Arena) Contains(addr uintptr, size Size) bool {
	return addr >= a.base && addr <= a.End() && Size(a.End()-addr) >= size
}

// Bytes returns a slice aliasing the size bytes at physical address addr.
// Requesting a range the arena does not back is a contract violation.
func (a *Arena) Bytes(addr uintptr, size Size) []byte {
	if !a.Contains(addr, size) {
		kfmt.Panic(errArenaOutOfRange)
		return nil
	}

	offset := addr - a.base
	return a.data[offset : offset+uintptr(size) : offset+uintptr(size)]
}

// Close releases the host mapping. The arena must not be used afterwards.
func (a *Arena) Close() error {
	if a.data == nil {
		return nil
	}

	err := munmapFn(a.data)
	a.data = nil
	if err != nil {
		return errors.Wrap(err, "munmap physical memory arena")
	}
	return nil
}
