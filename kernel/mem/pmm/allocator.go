package pmm

import (
	"physmem/kernel"
	"physmem/kernel/kfmt"
	"physmem/kernel/mem"
	"physmem/kernel/mem/bitmap"
)

// MemoryStart is the physical address of the first page handed to the pools.
// Everything below it is left to firmware and the kernel image.
const MemoryStart = uintptr(1 * mem.Mb)

// AllocFlag modifies the behavior of AllocPages.
type AllocFlag uint8

const (
	// AllocZero fills the returned pages with zeroes.
	AllocZero AllocFlag = 1 << iota

	// AllocMustSucceed turns an allocation failure into a kernel panic.
	AllocMustSucceed
)

var (
	errOutOfMemory       = &kernel.Error{Module: "pmm", Message: "out of pages"}
	errNoPagesRequested  = &kernel.Error{Module: "pmm", Message: "page count must be positive"}
	errInvalidPool       = &kernel.Error{Module: "pmm", Message: "invalid pool"}
	errUnalignedAddress  = &kernel.Error{Module: "pmm", Message: "freed address is not page-aligned"}
	errUnmanagedAddress  = &kernel.Error{Module: "pmm", Message: "freed address does not belong to any pool"}
	errFreeUnusedPages   = &kernel.Error{Module: "pmm", Message: "freed range contains pages that are not in use"}
	errNoBuddyAllocation = &kernel.Error{Module: "pmm", Message: "freed range does not match a buddy allocation"}

	// panicFn is used by tests to intercept contract violations.
	panicFn = kfmt.Panic

	// newArenaFn is used by tests to mock the arena setup.
	newArenaFn = mem.NewArena

	log = kfmt.Logger("pmm")
)

// poisonByte fills freed pages when Config.PoisonFreed is set.
const poisonByte = 0xcc

// Config describes how the physical memory is split between the pools.
type Config struct {
	// MemorySize is the amount of physical memory above MemoryStart.
	MemorySize mem.Size

	// UserPageLimit caps the number of pages given to the user pool. A
	// zero value means no cap.
	UserPageLimit uint32

	KernelPolicy Policy
	UserPolicy   Policy

	// PoisonFreed fills pages with 0xcc when they are freed so that use
	// after free shows up as garbage instead of stale data.
	PoisonFreed bool
}

// Allocator hands out runs of physical pages from a kernel and a user pool.
// The pools partition the arena and never overlap.
type Allocator struct {
	arena       *mem.Arena
	pools       [poolCount]Pool
	poisonFreed bool
}

// New maps the physical memory described by cfg and initializes both pools.
// Half of the pages go to the user pool, capped at cfg.UserPageLimit; the
// rest go to the kernel pool.
func New(cfg Config) (*Allocator, error) {
	arena, err := newArenaFn(MemoryStart, cfg.MemorySize)
	if err != nil {
		return nil, err
	}

	freePages := int(arena.Size() >> mem.PageShift)
	userPages := freePages / 2
	if cfg.UserPageLimit != 0 && userPages > int(cfg.UserPageLimit) {
		userPages = int(cfg.UserPageLimit)
	}
	kernelPages := freePages - userPages

	alloc := &Allocator{arena: arena, poisonFreed: cfg.PoisonFreed}
	layout := []struct {
		id     PoolID
		policy Policy
		start  uintptr
		pages  int
	}{
		{KernelPool, cfg.KernelPolicy, arena.Base(), kernelPages},
		{UserPool, cfg.UserPolicy, arena.Base() + uintptr(kernelPages)<<mem.PageShift, userPages},
	}

	for _, l := range layout {
		alloc.pools[l.id].init(l.id, l.policy, l.start, l.pages, arena.Bytes)
		log.Info("pool initialized",
			"pool", l.id.String(),
			"policy", l.policy.String(),
			"pages", alloc.pools[l.id].capacity(),
			"metadata_pages", l.pages-alloc.pools[l.id].capacity(),
		)
	}

	return alloc, nil
}

// Close releases the physical memory arena.
func (alloc *Allocator) Close() error {
	return alloc.arena.Close()
}

func (alloc *Allocator) pool(id PoolID) *Pool {
	if id >= poolCount {
		panicFn(errInvalidPool)
		return nil
	}
	return &alloc.pools[id]
}

// AllocPages reserves count contiguous pages from the selected pool and
// returns the physical address of the first one.
//
// The pool lock is held while the pool policy searches for and marks the
// pages; zero filling happens after it has been released. If no suitable run
// exists AllocPages returns errOutOfMemory, unless AllocMustSucceed is set in
// which case it panics.
func (alloc *Allocator) AllocPages(id PoolID, count int, flags AllocFlag) (uintptr, *kernel.Error) {
	if count <= 0 {
		return 0, errNoPagesRequested
	}

	pool := alloc.pool(id)
	idx := pool.allocate(count)
	if idx == bitmap.NotFound {
		if flags&AllocMustSucceed != 0 {
			panicFn(errOutOfMemory)
		}
		log.Debug("allocation failed", "pool", id.String(), "pages", count)
		return 0, errOutOfMemory
	}

	addr := pool.pageAddress(idx)
	if flags&AllocZero != 0 {
		mem.Memset(alloc.arena.Bytes(addr, mem.Size(count)*mem.PageSize), 0)
	}

	return addr, nil
}

// AllocPage reserves a single page from the selected pool.
func (alloc *Allocator) AllocPage(id PoolID, flags AllocFlag) (uintptr, *kernel.Error) {
	return alloc.AllocPages(id, 1, flags)
}

// FreePages returns count pages starting at addr to the pool they were
// allocated from. Freeing an unaligned address, an address outside both
// pools or a range that is not entirely in use is a contract violation.
// Pages of a buddy pool must be freed with the same addr and count they were
// allocated with; freeing part of a buddy run is a contract violation.
// Freeing zero pages is a no-op.
func (alloc *Allocator) FreePages(addr uintptr, count int) {
	if count == 0 {
		return
	}

	if !mem.IsPageAligned(addr) {
		panicFn(errUnalignedAddress)
		return
	}

	if count < 0 {
		panicFn(errNoPagesRequested)
		return
	}

	pool := alloc.PoolForAddress(addr)
	if pool == nil {
		panicFn(errUnmanagedAddress)
		return
	}

	var poison func()
	if alloc.poisonFreed {
		poison = func() {
			mem.Memset(alloc.arena.Bytes(addr, mem.Size(count)*mem.PageSize), poisonByte)
		}
	}
	pool.release(pool.pageIndex(addr), count, poison)
}

// FreePage returns a single page to its pool.
func (alloc *Allocator) FreePage(addr uintptr) {
	alloc.FreePages(addr, 1)
}

// PoolForAddress returns the pool whose allocatable range contains addr or
// nil if no pool manages it.
func (alloc *Allocator) PoolForAddress(addr uintptr) *Pool {
	for id := range alloc.pools {
		if alloc.pools[id].contains(addr) {
			return &alloc.pools[id]
		}
	}
	return nil
}

// PoolBase returns the physical address of the first allocatable page of a pool.
func (alloc *Allocator) PoolBase(id PoolID) uintptr {
	return alloc.pool(id).base
}

// PoolBitmap returns the used map of a pool. Callers must not modify it.
func (alloc *Allocator) PoolBitmap(id PoolID) *bitmap.Bitmap {
	return alloc.pool(id).usedMap
}

// PoolCapacity returns the number of allocatable pages in a pool.
func (alloc *Allocator) PoolCapacity(id PoolID) int {
	return alloc.pool(id).capacity()
}

// PoolPolicy returns the placement policy of a pool.
func (alloc *Allocator) PoolPolicy(id PoolID) Policy {
	return alloc.pool(id).policy
}

// FreePageCount returns the number of pages of a pool that are not in use.
func (alloc *Allocator) FreePageCount(id PoolID) int {
	return alloc.pool(id).freeCount()
}

// Memory returns the bytes backing the size bytes at physical address addr.
func (alloc *Allocator) Memory(addr uintptr, size mem.Size) []byte {
	return alloc.arena.Bytes(addr, size)
}
