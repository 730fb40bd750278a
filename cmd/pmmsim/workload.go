package main

import (
	"bytes"
	"math/rand"

	"github.com/cockroachdb/errors"

	"physmem/kernel/mem"
	"physmem/kernel/mem/pmm"
	"physmem/kernel/vm/frame"
	"physmem/kernel/vm/swap"
)

type workloadStats struct {
	touched   int
	evictions int
	swapIns   int

	// kernelPages counts the zeroed kernel pages handed out.
	kernelPages int
}

// virtualPage identifies a page of a simulated process.
type virtualPage struct {
	owner frame.Owner
	page  uintptr
}

// pattern is the byte every page of vp is filled with.
func (vp virtualPage) pattern() byte {
	return byte(uint64(vp.owner)*31 + uint64(vp.page>>mem.PageShift))
}

// runWorkload gives every process a zeroed kernel page for its lifetime and
// touches its user pages one by one, evicting random resident pages to swap
// when the user pool runs out. Every swapped page is then faulted back in and checked.
func runWorkload(cfg workloadConfig, alloc *pmm.Allocator, table *frame.Table, store *swap.Store) (workloadStats, error) {
	var (
		stats   workloadStats
		rng     = rand.New(rand.NewSource(cfg.Seed))
		swapped = make(map[virtualPage]swap.Slot)
	)

	victim := frame.SelectorFunc(func(occupied []frame.Entry) (frame.Entry, bool) {
		if len(occupied) == 0 {
			return frame.Entry{}, false
		}
		return occupied[rng.Intn(len(occupied))], true
	})

	// obtain returns a frame occupied by vp, evicting a resident page if
	// the user pool is exhausted.
	obtain := func(vp virtualPage) (uintptr, error) {
		for {
			phys, err := alloc.AllocPage(pmm.UserPool, pmm.AllocZero)
			if err == nil {
				table.Occupy(phys, vp.page, vp.owner)
				return phys, nil
			}

			ev, kerr := table.Evict(victim, store)
			if kerr != nil {
				return 0, errors.Newf("page %x of process %d: %s", vp.page, vp.owner, kerr.Message)
			}
			swapped[virtualPage{ev.Owner, ev.Page}] = ev.Slot
			stats.evictions++
		}
	}

	for p := 1; p <= cfg.Processes; p++ {
		kpage, _ := alloc.AllocPage(pmm.KernelPool, pmm.AllocZero|pmm.AllocMustSucceed)
		if !bytes.Equal(alloc.Memory(kpage, mem.PageSize), make([]byte, mem.PageSize)) {
			return stats, errors.Newf("kernel page %x of process %d is not zeroed", kpage, p)
		}

		for i := 0; i < cfg.PagesPerProcess; i++ {
			vp := virtualPage{owner: frame.Owner(p), page: uintptr(i) << mem.PageShift}
			phys, err := obtain(vp)
			if err != nil {
				return stats, err
			}
			mem.Memset(alloc.Memory(phys, mem.PageSize), vp.pattern())
			stats.touched++
		}

		// Dirty the kernel page before handing it back so the next
		// process checks that zero fill happens on allocation.
		mem.Memset(alloc.Memory(kpage, mem.PageSize), 0xff)
		alloc.FreePage(kpage)
		stats.kernelPages++
	}

	// Each restored page is released right after the check so that at
	// most one more eviction is needed to make room.
	for len(swapped) != 0 {
		for vp, slot := range swapped {
			delete(swapped, vp)

			phys, err := obtain(vp)
			if err != nil {
				return stats, err
			}

			buf := alloc.Memory(phys, mem.PageSize)
			store.SwapIn(slot, buf)
			stats.swapIns++
			if err := checkPage(vp, buf); err != nil {
				return stats, errors.Wrap(err, "swapped page")
			}
			table.Release(phys)
			break
		}
	}

	for _, entry := range table.Enumerate() {
		vp := virtualPage{owner: entry.Owner, page: entry.Page}
		if err := checkPage(vp, alloc.Memory(entry.Frame, mem.PageSize)); err != nil {
			return stats, errors.Wrap(err, "resident page")
		}
	}

	return stats, nil
}

func checkPage(vp virtualPage, buf []byte) error {
	if !bytes.Equal(buf, bytes.Repeat([]byte{vp.pattern()}, len(buf))) {
		return errors.Newf("page %x of process %d lost its contents", vp.page, vp.owner)
	}
	return nil
}
