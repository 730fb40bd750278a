package frame

import (
	"physmem/kernel"
	"physmem/kernel/mem"
	"physmem/kernel/vm/swap"
)

var errNoVictim = &kernel.Error{Module: "frame", Message: "no frame can be evicted"}

// VictimSelector picks the frame to evict from the occupied entries, which
// are supplied in address order. It returns false if none may be evicted.
type VictimSelector interface {
	SelectVictim(occupied []Entry) (Entry, bool)
}

// SelectorFunc adapts an ordinary function to a VictimSelector.
type SelectorFunc func(occupied []Entry) (Entry, bool)

// SelectVictim calls fn(occupied).
func (fn SelectorFunc) SelectVictim(occupied []Entry) (Entry, bool) {
	return fn(occupied)
}

// Eviction describes a frame that was written to swap and released.
type Eviction struct {
	Entry

	// Slot holds the frame contents.
	Slot swap.Slot
}

// Evict asks sel for a victim, writes the victim frame to store and releases
// the frame. The table lock is held throughout so the victim cannot be
// released or reoccupied while it is being swapped out.
func (t *Table) Evict(sel VictimSelector, store *swap.Store) (Eviction, *kernel.Error) {
	t.lock.Acquire()
	defer t.lock.Release()

	victim, ok := sel.SelectVictim(t.enumerateLocked())
	if !ok {
		return Eviction{}, errNoVictim
	}

	slot := store.SwapOut(t.alloc.Memory(victim.Frame, mem.PageSize))
	t.releaseLocked(victim.Frame)

	log.Debug("frame evicted", "frame", victim.Frame, "page", victim.Page, "slot", int(slot))
	return Eviction{Entry: victim, Slot: slot}, nil
}
