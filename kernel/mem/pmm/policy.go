package pmm

import (
	"strings"

	"physmem/kernel"
	"physmem/kernel/mem/bitmap"
)

// Policy selects how a pool picks the pages that satisfy a request.
type Policy uint8

const (
	// FirstFit reserves the lowest-addressed run that is large enough.
	FirstFit Policy = iota

	// NextFit resumes searching where the previous allocation ended and
	// wraps around to the start of the pool once.
	NextFit

	// BestFit reserves the start of the smallest free run that is large
	// enough. When two runs have the same length the later one wins.
	BestFit

	// Buddy serves requests by recursively halving the pool range.
	Buddy
)

var (
	errUnknownPolicy = &kernel.Error{Module: "pmm", Message: "unknown placement policy"}

	policyNames = [...]string{
		FirstFit: "first-fit",
		NextFit:  "next-fit",
		BestFit:  "best-fit",
		Buddy:    "buddy",
	}
)

// String implements fmt.Stringer for Policy.
func (p Policy) String() string {
	if int(p) < len(policyNames) {
		return policyNames[p]
	}
	return "unknown"
}

// ParsePolicy maps a policy name (as returned by Policy.String) to a Policy.
// Names are matched case-insensitively; "first", "next" and "best" are also
// accepted.
func ParsePolicy(name string) (Policy, *kernel.Error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for p, policyName := range policyNames {
		if name == policyName || name+"-fit" == policyName {
			return Policy(p), nil
		}
	}
	return FirstFit, errUnknownPolicy
}

// reserve locates count free pages according to the pool policy, marks them
// as used and returns the index of the first one or bitmap.NotFound. The
// caller must hold the pool lock.
func (p *Pool) reserve(count int) int {
	switch p.policy {
	case NextFit:
		return p.nextFit(count)
	case BestFit:
		return p.bestFit(count)
	case Buddy:
		return p.buddyFit(count)
	default:
		return p.usedMap.ScanAndFlip(0, count, false)
	}
}

func (p *Pool) nextFit(count int) int {
	idx := p.usedMap.ScanAndFlip(p.cursor, count, false)
	if idx == bitmap.NotFound {
		p.cursor = 0
		if idx = p.usedMap.ScanAndFlip(0, count, false); idx == bitmap.NotFound {
			return bitmap.NotFound
		}
	}

	p.cursor = (idx + count) % p.usedMap.Size()
	return idx
}

// bestFit measures every free run that can hold count pages up to the next
// used page and keeps the shortest one.
func (p *Pool) bestFit(count int) int {
	var (
		best       = bitmap.NotFound
		bestExtent int
		size       = p.usedMap.Size()
	)

	for pos := 0; pos < size; {
		idx := p.usedMap.Scan(pos, count, false)
		if idx == bitmap.NotFound {
			break
		}

		next := p.usedMap.NextSet(idx + count - 1)
		if extent := next - idx; best == bitmap.NotFound || extent <= bestExtent {
			best, bestExtent = idx, extent
		}
		pos = next
	}

	if best != bitmap.NotFound {
		p.usedMap.SetRange(best, count, true)
	}
	return best
}

// buddyFit asks the buddy tree for a leaf and marks the requested pages of
// that leaf as used.
func (p *Pool) buddyFit(count int) int {
	idx := p.buddy.allocate(count)
	if idx != bitmap.NotFound {
		p.usedMap.SetRange(idx, count, true)
	}
	return idx
}
