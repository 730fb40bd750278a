package pmm

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"physmem/kernel/kfmt"
	"physmem/kernel/mem"
)

// dumpColumns is the number of pages printed per line by DumpPool.
const dumpColumns = 60

// PrintMemoryMap writes the physical memory layout of both pools to w.
func (alloc *Allocator) PrintMemoryMap(w io.Writer) {
	kfmt.Fprintf(w, "[pmm] physical memory map:\n")
	for id := range alloc.pools {
		pool := &alloc.pools[id]
		end := pool.pageAddress(pool.capacity())
		kfmt.Fprintf(w, "\t[0x%10x - 0x%10x] %s, metadata: 0x%10x, first frame: %d, pages: %d, policy: %s\n",
			pool.base, end, pool.id, pool.reservedBase, FrameFromAddress(pool.base), pool.capacity(), pool.policy,
		)
	}
	kfmt.Fprintf(w, "[pmm] total memory: %dKb\n", uint64(alloc.arena.Size()/mem.Kb))
}

// DumpPool writes the used map of a pool to w as rows of 0/1 characters,
// one character per page. Each row is prefixed with the pool name. It stops
// at the first write error.
func (alloc *Allocator) DumpPool(id PoolID, w io.Writer) error {
	pool := alloc.pool(id)

	pool.lock.Acquire()
	defer pool.lock.Release()

	pw := &kfmt.PrefixWriter{Sink: w, Prefix: []byte("[" + id.String() + "] ")}
	row := make([]byte, 0, dumpColumns+1)
	for idx := 0; idx < pool.capacity(); idx++ {
		if pool.usedMap.Test(idx) {
			row = append(row, '1')
		} else {
			row = append(row, '0')
		}

		if len(row) == dumpColumns || idx == pool.capacity()-1 {
			row = append(row, '\n')
			if _, err := pw.Write(row); err != nil {
				return err
			}
			row = row[:0]
		}
	}
	return nil
}

// Run is a maximal sequence of pages in the same state.
type Run struct {
	Start int
	Pages int
	Used  bool
}

// Runs returns the used map of a pool as a list of runs in address order.
func (alloc *Allocator) Runs(id PoolID) []Run {
	pool := alloc.pool(id)

	pool.lock.Acquire()
	defer pool.lock.Release()

	var runs []Run
	for idx := 0; idx < pool.capacity(); {
		used := pool.usedMap.Test(idx)
		end := idx + 1
		for end < pool.capacity() && pool.usedMap.Test(end) == used {
			end++
		}
		runs = append(runs, Run{Start: idx, Pages: end - idx, Used: used})
		idx = end
	}
	return runs
}

// WriteJSON emits a description of a pool and its runs as a JSON object.
func (alloc *Allocator) WriteJSON(id PoolID, w *jwriter.Writer) {
	pool := alloc.pool(id)
	runs := alloc.Runs(id)

	obj := w.Object()
	obj.Name("pool").String(id.String())
	obj.Name("policy").String(pool.policy.String())
	obj.Name("base").Int(int(pool.base))
	obj.Name("capacity").Int(pool.capacity())
	obj.Name("free").Int(alloc.FreePageCount(id))

	arr := obj.Name("runs").Array()
	for _, run := range runs {
		runObj := arr.Object()
		runObj.Name("start").Int(run.Start)
		runObj.Name("pages").Int(run.Pages)
		runObj.Name("used").Bool(run.Used)
		runObj.End()
	}
	arr.End()

	if pool.policy == Buddy {
		pool.lock.Acquire()
		leaves := obj.Name("leaves").Array()
		pool.buddy.walk(func(leaf *buddyNode) {
			leafObj := leaves.Object()
			leafObj.Name("start").Int(leaf.start)
			leafObj.Name("size").Int(leaf.size)
			leafObj.Name("inUse").Bool(leaf.inUse)
			leafObj.End()
		})
		leaves.End()
		pool.lock.Release()
	}

	obj.End()
}

// Validate cross-checks the bookkeeping of both pools. For buddy pools every
// in-use leaf must have exactly its allocated pages marked in the used map
// and free leaves must have no pages marked.
func (alloc *Allocator) Validate() error {
	for id := range alloc.pools {
		if err := alloc.pools[id].validate(); err != nil {
			return errors.Wrapf(err, "%s", PoolID(id))
		}
	}
	return nil
}

func (p *Pool) validate() error {
	p.lock.Acquire()
	defer p.lock.Release()

	if p.base < p.reservedBase {
		return errors.Newf("pool base 0x%x is below its metadata at 0x%x", p.base, p.reservedBase)
	}

	if p.policy == NextFit && p.capacity() != 0 && (p.cursor < 0 || p.cursor >= p.capacity()) {
		return errors.Newf("next-fit cursor %d outside of pool with %d pages", p.cursor, p.capacity())
	}

	if p.buddy == nil {
		return nil
	}

	if p.buddy.size != p.capacity() {
		return errors.Newf("buddy tree covers %d pages, but the pool has %d", p.buddy.size, p.capacity())
	}

	var err error
	offset := 0
	p.buddy.walk(func(leaf *buddyNode) {
		if err != nil {
			return
		}

		switch {
		case leaf.start != offset:
			err = errors.Newf("buddy leaf starts at page %d, expected %d", leaf.start, offset)
		case leaf.inUse && !p.usedMap.All(leaf.start, leaf.pages):
			err = errors.Newf("buddy leaf at page %d is in use, but its %d pages are not all marked", leaf.start, leaf.pages)
		case leaf.inUse && p.usedMap.Any(leaf.start+leaf.pages, leaf.size-leaf.pages):
			err = errors.Newf("buddy leaf at page %d has pages marked past its %d allocated pages", leaf.start, leaf.pages)
		case !leaf.inUse && p.usedMap.Any(leaf.start, leaf.size):
			err = errors.Newf("free buddy leaf at page %d has %d pages marked as used", leaf.start, p.usedMap.Count(leaf.start, leaf.size, true))
		}
		offset += leaf.size
	})
	return err
}
