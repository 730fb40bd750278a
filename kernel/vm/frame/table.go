// Package frame tracks which virtual page occupies each physical frame of
// the user pool.
package frame

import (
	"io"

	"github.com/benbjohnson/immutable"

	"physmem/kernel"
	"physmem/kernel/kfmt"
	"physmem/kernel/mem"
	"physmem/kernel/mem/pmm"
	"physmem/kernel/sync"
)

// Owner is an opaque handle for the execution context that owns a frame.
type Owner uint64

// NoOwner is the Owner of frames that are not occupied.
const NoOwner Owner = 0

// Entry describes the occupant of one physical frame.
type Entry struct {
	// Frame is the physical address of the frame.
	Frame uintptr

	// Page is the virtual page mapped to the frame.
	Page uintptr

	Owner    Owner
	Resident bool
}

var (
	errUnknownFrame      = &kernel.Error{Module: "frame", Message: "physical page not tracked by the frame table"}
	errFrameOccupied     = &kernel.Error{Module: "frame", Message: "frame is already occupied"}
	errFrameNotOccupied  = &kernel.Error{Module: "frame", Message: "frame is not occupied"}
	errFrameNotAllocated = &kernel.Error{Module: "frame", Message: "frame was not allocated from the user pool"}

	// panicFn is used by tests to intercept contract violations.
	panicFn = kfmt.Panic

	log = kfmt.Logger("frame")
)

// addrComparer orders frame addresses.
type addrComparer struct{}

func (addrComparer) Compare(a, b interface{}) int {
	x, y := a.(uintptr), b.(uintptr)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

// Table holds one entry per user pool frame. Entries are stored in a slice
// in address order and located through an address index.
type Table struct {
	// lock guards entries and occupied for every lookup followed by a
	// mutation.
	lock sync.Spinlock

	alloc   *pmm.Allocator
	entries []Entry
	index   map[uintptr]int

	// occupied mirrors the resident entries. It is a persistent map so
	// readers can keep a snapshot without holding the lock.
	occupied *immutable.SortedMap
}

// New creates an unoccupied entry for every page of the user pool of alloc.
func New(alloc *pmm.Allocator) *Table {
	var (
		base  = alloc.PoolBase(pmm.UserPool)
		count = alloc.PoolCapacity(pmm.UserPool)
		t     = &Table{
			alloc:    alloc,
			entries:  make([]Entry, count),
			index:    make(map[uintptr]int, count),
			occupied: immutable.NewSortedMap(addrComparer{}),
		}
	)

	for i := range t.entries {
		addr := base + uintptr(i)<<mem.PageShift
		t.entries[i].Frame = addr
		t.index[addr] = i
	}

	log.Info("frame table initialized", "frames", count)
	return t
}

// Len returns the number of frames tracked by the table.
func (t *Table) Len() int {
	return len(t.entries)
}

// lookup returns the entry for the frame at phys. The caller must hold the
// table lock.
func (t *Table) lookup(phys uintptr) *Entry {
	idx, ok := t.index[phys]
	if !ok {
		panicFn(errUnknownFrame)
		return nil
	}
	return &t.entries[idx]
}

// Occupy records that page, owned by owner, is now held in the frame at
// phys. The frame must have been allocated from the user pool and must not
// be occupied.
func (t *Table) Occupy(phys, page uintptr, owner Owner) {
	t.lock.Acquire()
	defer t.lock.Release()

	entry := t.lookup(phys)
	if entry == nil {
		return
	}

	switch {
	case entry.Resident:
		panicFn(errFrameOccupied)
		return
	case !t.alloc.PoolBitmap(pmm.UserPool).Test(t.index[phys]):
		panicFn(errFrameNotAllocated)
		return
	}

	entry.Page, entry.Owner, entry.Resident = page, owner, true
	t.occupied = t.occupied.Set(phys, *entry)
}

// Allocate takes a page from the user pool and records page and owner as its
// occupant. It returns the physical address of the frame.
func (t *Table) Allocate(page uintptr, owner Owner, flags pmm.AllocFlag) (uintptr, *kernel.Error) {
	phys, err := t.alloc.AllocPage(pmm.UserPool, flags)
	if err != nil {
		return 0, err
	}

	t.Occupy(phys, page, owner)
	return phys, nil
}

// Release clears the occupant of the frame at phys and returns the frame to
// the user pool.
func (t *Table) Release(phys uintptr) {
	t.lock.Acquire()
	defer t.lock.Release()

	t.releaseLocked(phys)
}

func (t *Table) releaseLocked(phys uintptr) {
	entry := t.lookup(phys)
	if entry == nil {
		return
	}

	if !entry.Resident {
		panicFn(errFrameNotOccupied)
		return
	}

	entry.Page, entry.Owner, entry.Resident = 0, NoOwner, false
	t.occupied = t.occupied.Delete(phys)
	t.alloc.FreePage(phys)
}

// Lookup returns the entry of the frame at phys.
func (t *Table) Lookup(phys uintptr) (Entry, bool) {
	t.lock.Acquire()
	defer t.lock.Release()

	idx, ok := t.index[phys]
	if !ok {
		return Entry{}, false
	}
	return t.entries[idx], true
}

// Enumerate returns a copy of the occupied entries in address order.
func (t *Table) Enumerate() []Entry {
	t.lock.Acquire()
	defer t.lock.Release()

	return t.enumerateLocked()
}

func (t *Table) enumerateLocked() []Entry {
	list := make([]Entry, 0, t.occupied.Len())
	for i := range t.entries {
		if t.entries[i].Resident {
			list = append(list, t.entries[i])
		}
	}
	return list
}

// Snapshot returns an immutable view of the occupied entries keyed by frame
// address. Later table updates do not affect the returned map.
func (t *Table) Snapshot() *immutable.SortedMap {
	t.lock.Acquire()
	defer t.lock.Release()

	return t.occupied
}

// Dump writes one line per occupied frame to w.
func (t *Table) Dump(w io.Writer) {
	snapshot := t.Snapshot()

	kfmt.Fprintf(w, "[frame] %d of %d frames occupied\n", snapshot.Len(), t.Len())
	for itr := snapshot.Iterator(); !itr.Done(); {
		_, v := itr.Next()
		entry := v.(Entry)
		kfmt.Fprintf(w, "\tframe 0x%x -> page 0x%x, owner: %d\n", entry.Frame, entry.Page, entry.Owner)
	}
}
