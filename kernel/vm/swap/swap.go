// Package swap stages page contents on a block device. The device is split
// into page-sized slots; a slot is taken when a page is swapped out and given
// back when the page is swapped in or explicitly released.
package swap

import (
	"github.com/cockroachdb/errors"

	"physmem/device/block"
	"physmem/kernel"
	"physmem/kernel/kfmt"
	"physmem/kernel/mem"
	"physmem/kernel/mem/bitmap"
	"physmem/kernel/sync"
)

// SectorsPerSlot is the number of device sectors that hold one page.
const SectorsPerSlot = int(mem.PageSize) / block.SectorSize

// Slot identifies a page-sized area of the swap device.
type Slot int

var (
	errNoDevice       = &kernel.Error{Module: "swap", Message: "no swap device configured"}
	errSwapFull       = &kernel.Error{Module: "swap", Message: "no free swap slot"}
	errSlotOutOfRange = &kernel.Error{Module: "swap", Message: "swap slot out of range"}
	errSlotNotInUse   = &kernel.Error{Module: "swap", Message: "invalid read access to unassigned swap slot"}
	errDoubleFree     = &kernel.Error{Module: "swap", Message: "invalid free request to unassigned swap slot"}
	errShortPage      = &kernel.Error{Module: "swap", Message: "page buffer smaller than a page"}

	// panicFn is used by tests to intercept fatal errors.
	panicFn = kfmt.Panic

	log = kfmt.Logger("swap")
)

// Store allocates swap slots on a block device.
type Store struct {
	// lock guards available. SwapIn holds it across the read so a slot
	// cannot be freed or reused while its sectors are in flight.
	lock sync.Spinlock

	dev block.Device

	// available has one bit per slot; a set bit marks a free slot.
	available *bitmap.Bitmap
}

// New returns a store that uses every whole slot of dev. All slots start
// out free. A nil dev is fatal.
func New(dev block.Device) *Store {
	if dev == nil {
		panicFn(errNoDevice)
		return nil
	}

	slots := int(dev.SectorCount()) / SectorsPerSlot
	available := bitmap.New(slots)
	available.SetAll(true)

	log.Info("swap initialized", "device", dev.DriverName(), "slots", slots)
	return &Store{dev: dev, available: available}
}

// NewFromRegistry returns a store backed by the device registered for
// block.RoleSwap.
func NewFromRegistry() *Store {
	return New(block.ForRole(block.RoleSwap))
}

// SlotCount returns the number of slots of the store.
func (s *Store) SlotCount() int {
	return s.available.Size()
}

// FreeSlots returns the number of slots that do not hold a page.
func (s *Store) FreeSlots() int {
	s.lock.Acquire()
	defer s.lock.Release()

	return s.available.Count(0, s.available.Size(), true)
}

// SwapOut writes the first page of page to a free slot and returns it.
// Running out of slots is fatal.
func (s *Store) SwapOut(page []byte) Slot {
	if len(page) < int(mem.PageSize) {
		panicFn(errShortPage)
		return -1
	}

	s.lock.Acquire()
	idx := s.available.ScanAndFlip(0, 1, true)
	s.lock.Release()

	if idx == bitmap.NotFound {
		panicFn(errSwapFull)
		return -1
	}

	slot := Slot(idx)
	s.transfer(slot, page, s.dev.WriteSector)
	log.Debug("page swapped out", "slot", idx)
	return slot
}

// SwapIn reads the page stored in slot into dst and frees the slot. Reading
// a slot that holds no page is fatal.
func (s *Store) SwapIn(slot Slot, dst []byte) {
	s.checkSlot(slot)
	if len(dst) < int(mem.PageSize) {
		panicFn(errShortPage)
		return
	}

	s.lock.Acquire()
	defer s.lock.Release()

	if s.available.Test(int(slot)) {
		panicFn(errSlotNotInUse)
		return
	}

	s.transfer(slot, dst, s.dev.ReadSector)
	s.available.Mark(int(slot))
	log.Debug("page swapped in", "slot", int(slot))
}

// FreeSlot releases slot without reading it back. Freeing a slot that holds
// no page is fatal.
func (s *Store) FreeSlot(slot Slot) {
	s.checkSlot(slot)

	s.lock.Acquire()
	defer s.lock.Release()

	if s.available.Test(int(slot)) {
		panicFn(errDoubleFree)
		return
	}
	s.available.Mark(int(slot))
}

func (s *Store) checkSlot(slot Slot) {
	if slot < 0 || int(slot) >= s.available.Size() {
		panicFn(errSlotOutOfRange)
	}
}

// transfer moves one page between page and the sectors of slot using op.
// Device errors are fatal.
func (s *Store) transfer(slot Slot, page []byte, op func(block.Sector, []byte) error) {
	first := block.Sector(int(slot) * SectorsPerSlot)
	for i := 0; i < SectorsPerSlot; i++ {
		sector := page[i*block.SectorSize : (i+1)*block.SectorSize]
		if err := op(first+block.Sector(i), sector); err != nil {
			err = errors.Wrapf(err, "swap slot %d", slot)
			panicFn(&kernel.Error{Module: "swap", Message: err.Error()})
			return
		}
	}
}
