package bitmap

import (
	"math/bits"
	"sync/atomic"
)

// Scan returns the lowest index at or after start that begins a run of count
// consecutive bits all set to value. It returns NotFound if no such run
// exists or if count exceeds the bitmap size. A zero count matches at start.
func (b *Bitmap) Scan(start, count int, value bool) int {
	b.checkRange(start, 0)
	if count < 0 || count > b.bitCount {
		return NotFound
	}
	if count == 0 {
		return start
	}

	last := b.bitCount - count
	for idx := start; ; {
		// Jump to the next bit that could begin a run and then to the
		// first bit that breaks it.
		if idx = b.next(idx, value); idx == NotFound || idx > last {
			return NotFound
		}

		runEnd := b.next(idx, !value)
		if runEnd == NotFound {
			runEnd = b.bitCount
		}

		if runEnd-idx >= count {
			return idx
		}
		idx = runEnd
	}
}

// ScanAndFlip performs Scan and, if a run is found, sets all of its bits to
// !value. The scan and the flip are separate steps; callers that need the
// pair to be exclusive must hold a lock for the duration of the call.
func (b *Bitmap) ScanAndFlip(start, count int, value bool) int {
	idx := b.Scan(start, count, value)
	if idx != NotFound {
		b.SetRange(idx, count, !value)
	}
	return idx
}

// NextSet returns the index of the first set bit at or after start. If no
// such bit exists it returns Size().
func (b *Bitmap) NextSet(start int) int {
	b.checkRange(start, 0)
	if idx := b.next(start, true); idx != NotFound {
		return idx
	}
	return b.bitCount
}

// next returns the index of the first bit at or after from that equals value
// or NotFound.
func (b *Bitmap) next(from int, value bool) int {
	if from >= b.bitCount {
		return NotFound
	}

	wi := from >> wordShift
	word := b.loadWord(wi, value) & (^uint64(0) << uint(from&wordMask))
	for {
		if word != 0 {
			idx := wi<<wordShift + bits.TrailingZeros64(word)
			if idx >= b.bitCount {
				return NotFound
			}
			return idx
		}

		if wi++; wi >= len(b.words) {
			return NotFound
		}
		word = b.loadWord(wi, value)
	}
}

// loadWord returns word wi with its bits inverted when looking for cleared
// bits, so that the bits of interest are always the set ones.
func (b *Bitmap) loadWord(wi int, value bool) uint64 {
	word := atomic.LoadUint64(&b.words[wi])
	if !value {
		word = ^word
	}
	return word
}
