package pmm

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"

	"physmem/kernel"
	"physmem/kernel/mem"
)

func expectPanic(t *testing.T, expErr *kernel.Error, fn func()) {
	t.Helper()
	defer func() {
		if got := recover(); got != expErr {
			t.Fatalf("expected a panic with %v; got %v", expErr, got)
		}
	}()
	fn()
}

func newTestAllocator(t *testing.T, cfg Config) *Allocator {
	t.Helper()
	if cfg.MemorySize == 0 {
		cfg.MemorySize = 1 * mem.Mb
	}

	alloc, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = alloc.Close() })
	return alloc
}

func TestNewPoolLayout(t *testing.T) {
	specs := []struct {
		cfg            Config
		expKernelPages int
		expUserPages   int
	}{
		// 256 pages split evenly; each pool spends one page on its bitmap.
		{Config{MemorySize: 1 * mem.Mb}, 127, 127},
		{Config{MemorySize: 1 * mem.Mb, UserPageLimit: 16}, 239, 15},
		{Config{MemorySize: 1 * mem.Mb, UserPageLimit: 1000}, 127, 127},
		{Config{MemorySize: 3 * mem.PageSize}, 1, 0},
	}

	for specIndex, spec := range specs {
		alloc := newTestAllocator(t, spec.cfg)

		if got := alloc.PoolCapacity(KernelPool); got != spec.expKernelPages {
			t.Errorf("[spec %d] expected kernel pool to have %d pages; got %d", specIndex, spec.expKernelPages, got)
		}
		if got := alloc.PoolCapacity(UserPool); got != spec.expUserPages {
			t.Errorf("[spec %d] expected user pool to have %d pages; got %d", specIndex, spec.expUserPages, got)
		}

		if exp, got := MemoryStart+uintptr(mem.PageSize), alloc.PoolBase(KernelPool); got != exp {
			t.Errorf("[spec %d] expected kernel pool base to be 0x%x; got 0x%x", specIndex, exp, got)
		}

		kernelEnd := alloc.PoolBase(KernelPool) + uintptr(spec.expKernelPages)<<mem.PageShift
		if got := alloc.PoolBase(UserPool); got < kernelEnd {
			t.Errorf("[spec %d] expected user pool at 0x%x to start after the kernel pool end 0x%x", specIndex, got, kernelEnd)
		}

		if got := alloc.PoolBitmap(UserPool).Size(); got != spec.expUserPages {
			t.Errorf("[spec %d] expected user bitmap to have %d bits; got %d", specIndex, spec.expUserPages, got)
		}
	}
}

func TestNewArenaError(t *testing.T) {
	defer func(origArenaFn func(uintptr, mem.Size) (*mem.Arena, error)) {
		newArenaFn = origArenaFn
	}(newArenaFn)

	expErr := errors.New("mmap failed")
	newArenaFn = func(uintptr, mem.Size) (*mem.Arena, error) {
		return nil, expErr
	}

	if _, err := New(Config{MemorySize: mem.Mb}); !errors.Is(err, expErr) {
		t.Fatalf("expected error %v; got %v", expErr, err)
	}
}

func TestAllocPages(t *testing.T) {
	alloc := newTestAllocator(t, Config{})
	userBase := alloc.PoolBase(UserPool)

	addr, err := alloc.AllocPages(UserPool, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if addr != userBase {
		t.Fatalf("expected first allocation at 0x%x; got 0x%x", userBase, addr)
	}
	if got := alloc.PoolForAddress(addr + uintptr(mem.PageSize)); got == nil || got.ID() != UserPool {
		t.Fatal("expected allocated page to belong to the user pool")
	}

	page := alloc.Memory(addr, 2*mem.PageSize)
	for i := range page {
		page[i] = 0xfe
	}
	alloc.FreePages(addr, 2)

	if got, _ := alloc.AllocPages(UserPool, 2, AllocZero); got != addr {
		t.Fatalf("expected the freed run to be reused; got 0x%x", got)
	}
	for i, b := range page {
		if b != 0 {
			t.Fatalf("expected AllocZero to clear byte %d; got 0x%x", i, b)
		}
	}

	if exp, got := alloc.PoolCapacity(UserPool)-2, alloc.FreePageCount(UserPool); got != exp {
		t.Fatalf("expected %d free pages; got %d", exp, got)
	}

	if _, err := alloc.AllocPages(UserPool, 0, 0); err != errNoPagesRequested {
		t.Fatalf("expected errNoPagesRequested; got %v", err)
	}

	if _, err := alloc.AllocPages(KernelPool, alloc.PoolCapacity(KernelPool)+1, 0); err != errOutOfMemory {
		t.Fatalf("expected errOutOfMemory; got %v", err)
	}

	// Freeing zero pages is a no-op even for addresses no pool manages.
	alloc.FreePages(0, 0)
}

func TestAllocPageMustSucceed(t *testing.T) {
	alloc := newTestAllocator(t, Config{UserPageLimit: 4})

	for i := 0; i < alloc.PoolCapacity(UserPool); i++ {
		if _, err := alloc.AllocPage(UserPool, AllocMustSucceed); err != nil {
			t.Fatalf("unexpected error allocating page %d: %v", i, err)
		}
	}

	if _, err := alloc.AllocPage(UserPool, 0); err != errOutOfMemory {
		t.Fatalf("expected errOutOfMemory; got %v", err)
	}

	expectPanic(t, errOutOfMemory, func() {
		_, _ = alloc.AllocPage(UserPool, AllocMustSucceed)
	})
}

func TestPoisonFreed(t *testing.T) {
	alloc := newTestAllocator(t, Config{PoisonFreed: true})

	addr, _ := alloc.AllocPage(KernelPool, AllocZero)
	alloc.FreePage(addr)

	for i, b := range alloc.Memory(addr, mem.PageSize) {
		if b != poisonByte {
			t.Fatalf("expected freed byte %d to be 0x%x; got 0x%x", i, poisonByte, b)
		}
	}
}

func TestFreePagesContractViolations(t *testing.T) {
	alloc := newTestAllocator(t, Config{UserPolicy: Buddy})
	userAddr, _ := alloc.AllocPages(UserPool, 3, 0)
	kernelAddr, _ := alloc.AllocPage(KernelPool, 0)

	specs := []struct {
		addr   uintptr
		count  int
		expErr *kernel.Error
	}{
		{kernelAddr + 1, 1, errUnalignedAddress},
		{MemoryStart, 1, errUnmanagedAddress},
		{0x1000, 1, errUnmanagedAddress},
		{kernelAddr, -1, errNoPagesRequested},
		{kernelAddr, 2, errFreeUnusedPages},
		{kernelAddr + uintptr(mem.PageSize), 1, errFreeUnusedPages},
		{userAddr, 2, errNoBuddyAllocation},
		{userAddr + uintptr(mem.PageSize), 2, errNoBuddyAllocation},
		{userAddr, 4, errFreeUnusedPages},
		{alloc.PoolBase(UserPool) + uintptr(alloc.PoolCapacity(UserPool)-1)<<mem.PageShift, 2, errFreeUnusedPages},
	}

	for specIndex, spec := range specs {
		expectPanic(t, spec.expErr, func() {
			alloc.FreePages(spec.addr, spec.count)
		})

		// The pool lock must have been released while unwinding.
		addr, err := alloc.AllocPage(KernelPool, 0)
		if err != nil {
			t.Fatalf("[spec %d] unexpected error: %v", specIndex, err)
		}
		alloc.FreePage(addr)
	}

	expectPanic(t, errInvalidPool, func() {
		_, _ = alloc.AllocPage(PoolID(7), 0)
	})

	// The failed frees must not have changed any bookkeeping.
	alloc.FreePages(userAddr, 3)
	if err := alloc.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestAllocFreeRoundTrip(t *testing.T) {
	for _, policy := range []Policy{FirstFit, NextFit, BestFit, Buddy} {
		t.Run(policy.String(), func(t *testing.T) {
			alloc := newTestAllocator(t, Config{KernelPolicy: policy, UserPolicy: policy})
			rng := rand.New(rand.NewSource(int64(policy) + 1))

			type run struct {
				addr  uintptr
				count int
			}
			var runs []run

			for _, id := range []PoolID{KernelPool, UserPool} {
				for {
					count := 1 + rng.Intn(8)
					addr, err := alloc.AllocPages(id, count, 0)
					if err != nil {
						break
					}
					runs = append(runs, run{addr, count})
				}
			}

			if err := alloc.Validate(); err != nil {
				t.Fatalf("unexpected validation error with all pools full: %v", err)
			}

			rng.Shuffle(len(runs), func(i, j int) { runs[i], runs[j] = runs[j], runs[i] })
			for _, r := range runs {
				alloc.FreePages(r.addr, r.count)
			}

			for _, id := range []PoolID{KernelPool, UserPool} {
				if bm := alloc.PoolBitmap(id); bm.Any(0, bm.Size()) {
					t.Errorf("expected %s bitmap to be clear after freeing every run; got %s", id, bm)
				}
				if policy == Buddy && !alloc.pools[id].buddy.isLeaf() {
					t.Errorf("expected %s buddy tree to collapse to a single leaf", id)
				}
			}
		})
	}
}

func TestConcurrentAllocations(t *testing.T) {
	alloc := newTestAllocator(t, Config{UserPolicy: NextFit})

	var (
		wg       sync.WaitGroup
		failures = make(chan string, 8)
	)

	for worker := 1; worker <= 8; worker++ {
		wg.Add(1)
		go func(tag byte) {
			defer wg.Done()
			for iter := 0; iter < 200; iter++ {
				count := 1 + iter%4
				addr, err := alloc.AllocPages(UserPool, count, 0)
				if err != nil {
					continue
				}

				buf := alloc.Memory(addr, mem.Size(count)*mem.PageSize)
				for i := range buf {
					buf[i] = tag
				}
				for _, b := range buf {
					if b != tag {
						failures <- "pages handed out to two workers at once"
						return
					}
				}
				alloc.FreePages(addr, count)
			}
		}(byte(worker))
	}

	wg.Wait()
	close(failures)
	for msg := range failures {
		t.Fatal(msg)
	}

	if exp, got := alloc.PoolCapacity(UserPool), alloc.FreePageCount(UserPool); got != exp {
		t.Fatalf("expected all %d pages to be free; got %d", exp, got)
	}
}

func TestPoolIDString(t *testing.T) {
	specs := []struct {
		id  PoolID
		exp string
	}{
		{KernelPool, "kernel pool"},
		{UserPool, "user pool"},
		{PoolID(9), "unknown pool"},
	}

	for specIndex, spec := range specs {
		if got := spec.id.String(); got != spec.exp {
			t.Errorf("[spec %d] expected %q; got %q", specIndex, spec.exp, got)
		}
	}
}
