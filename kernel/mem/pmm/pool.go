package pmm

import (
	"physmem/kernel/mem"
	"physmem/kernel/mem/bitmap"
	"physmem/kernel/sync"
)

// PoolID selects one of the allocator pools.
type PoolID uint8

const (
	// KernelPool serves allocations made on behalf of the kernel.
	KernelPool PoolID = iota

	// UserPool serves pages mapped into user address spaces.
	UserPool

	poolCount
)

// String implements fmt.Stringer for PoolID.
func (id PoolID) String() string {
	switch id {
	case KernelPool:
		return "kernel pool"
	case UserPool:
		return "user pool"
	default:
		return "unknown pool"
	}
}

// Pool manages a contiguous range of physical pages. Bit i of the used map
// tracks the page at base + i*PageSize.
type Pool struct {
	// lock guards usedMap, cursor and buddy. It is held for the entire
	// search-and-mark sequence of an allocation and for the whole
	// validate-and-clear sequence of a release.
	lock sync.Spinlock

	id     PoolID
	policy Policy

	// base is the physical address of the first allocatable page. The
	// pages holding the used map itself sit right below it.
	base         uintptr
	reservedBase uintptr

	usedMap *bitmap.Bitmap

	// cursor is the index where the next next-fit search starts.
	cursor int

	// buddy is only set for pools that use the Buddy policy.
	buddy *buddyNode
}

// init sets up the pool to manage pageCount pages starting at physical
// address start. The first pages of the range are set aside for the used
// map; metadata returns the byte range backing it.
func (p *Pool) init(id PoolID, policy Policy, start uintptr, pageCount int, metadata func(addr uintptr, size mem.Size) []byte) {
	metaPages := int(mem.Size(bitmap.BufSize(pageCount)).Pages())
	capacity := pageCount - metaPages
	p.id = id
	p.policy = policy
	p.reservedBase = start
	p.base = start + uintptr(metaPages)<<mem.PageShift
	p.usedMap = bitmap.NewInBuffer(capacity, metadata(start, mem.Size(metaPages)*mem.PageSize))
	p.cursor = 0
	p.buddy = nil
	if policy == Buddy {
		p.buddy = newBuddyTree(capacity)
	}
}

// ID returns the identifier of the pool.
func (p *Pool) ID() PoolID {
	return p.id
}

// capacity returns the number of allocatable pages.
func (p *Pool) capacity() int {
	return p.usedMap.Size()
}

// contains returns true if the page at physical address addr belongs to the
// allocatable range of this pool.
func (p *Pool) contains(addr uintptr) bool {
	return addr >= p.base && addr < p.base+uintptr(p.capacity())<<mem.PageShift
}

// pageIndex converts a physical address inside the pool to a used map index.
func (p *Pool) pageIndex(addr uintptr) int {
	return int((addr - p.base) >> mem.PageShift)
}

// pageAddress converts a used map index to a physical address.
func (p *Pool) pageAddress(idx int) uintptr {
	return p.base + uintptr(idx)<<mem.PageShift
}

// allocate reserves count pages and returns the index of the first one or
// bitmap.NotFound.
func (p *Pool) allocate(count int) int {
	p.lock.Acquire()
	defer p.lock.Release()

	return p.reserve(count)
}

// release returns count pages starting at idx to the pool. Every page must
// currently be in use. The optional poison callback runs after the range has
// been validated and before its bits are cleared.
func (p *Pool) release(idx, count int, poison func()) {
	p.lock.Acquire()
	defer p.lock.Release()

	if count > p.capacity()-idx || !p.usedMap.All(idx, count) {
		panicFn(errFreeUnusedPages)
		return
	}

	if p.buddy != nil && !p.buddy.free(idx, count) {
		panicFn(errNoBuddyAllocation)
		return
	}

	if poison != nil {
		poison()
	}
	p.usedMap.SetRange(idx, count, false)
}

// freeCount returns the number of pages that are not in use.
func (p *Pool) freeCount() int {
	p.lock.Acquire()
	defer p.lock.Release()

	return p.usedMap.Count(0, p.capacity(), false)
}
