// Package bitmap implements a fixed-size bit vector.
//
// Bit i lives in word i/64 at offset i%64 counting from the least significant
// bit. Padding bits past the last valid index are always zero. Single-bit
// mutations are atomic with respect to the word that holds the bit; range
// operations are not atomic as a whole, so callers that need a consistent
// view across a range (for example a scan followed by a flip) must serialize
// access with an external lock.
package bitmap

import (
	"math/bits"
	"sync/atomic"
	"unsafe"

	"physmem/kernel"
	"physmem/kernel/kfmt"
)

const (
	wordBits  = 64
	wordShift = 6
	wordBytes = wordBits / 8
	wordMask  = wordBits - 1
)

// NotFound is returned by the scan functions when no matching run exists.
const NotFound = -1

var (
	errNegativeSize     = &kernel.Error{Module: "bitmap", Message: "negative bit count"}
	errIndexOutOfRange  = &kernel.Error{Module: "bitmap", Message: "bit index out of range"}
	errRangeOutOfBounds = &kernel.Error{Module: "bitmap", Message: "bit range exceeds bitmap size"}
	errBufferTooSmall   = &kernel.Error{Module: "bitmap", Message: "buffer too small for requested bit count"}
	errBufferMisaligned = &kernel.Error{Module: "bitmap", Message: "buffer is not aligned to a word boundary"}
)

// Bitmap is a flat vector of bits. The zero value is an empty bitmap.
type Bitmap struct {
	bitCount int
	words    []uint64
}

// wordCount returns the number of words required for bitCount bits.
func wordCount(bitCount int) int {
	return (bitCount + wordMask) >> wordShift
}

// BufSize returns the number of bytes of storage that NewInBuffer requires for
// a bitmap with bitCount bits.
func BufSize(bitCount int) int {
	return wordCount(bitCount) * wordBytes
}

// New allocates a bitmap with room for bitCount bits, all cleared.
func New(bitCount int) *Bitmap {
	if bitCount < 0 {
		kfmt.Panic(errNegativeSize)
	}

	return &Bitmap{
		bitCount: bitCount,
		words:    make([]uint64, wordCount(bitCount)),
	}
}

// NewInBuffer creates a bitmap with bitCount bits whose words are overlaid on
// the caller-owned buf. buf must hold at least BufSize(bitCount) bytes and
// start on an 8-byte boundary. The caller must keep buf alive for as long as
// the bitmap is in use. All bits are cleared.
func NewInBuffer(bitCount int, buf []byte) *Bitmap {
	if bitCount < 0 {
		kfmt.Panic(errNegativeSize)
	}

	required := BufSize(bitCount)
	if len(buf) < required {
		kfmt.Panic(errBufferTooSmall)
	}

	b := &Bitmap{bitCount: bitCount}
	if required != 0 {
		if uintptr(unsafe.Pointer(&buf[0]))&(wordBytes-1) != 0 {
			kfmt.Panic(errBufferMisaligned)
		}
		b.words = unsafe.Slice((*uint64)(unsafe.Pointer(&buf[0])), required/wordBytes)
	}

	b.SetAll(false)
	return b
}

// Size returns the number of bits in the bitmap.
func (b *Bitmap) Size() int {
	return b.bitCount
}

// checkIndex triggers a contract violation if idx does not address a bit.
func (b *Bitmap) checkIndex(idx int) {
	if idx < 0 || idx >= b.bitCount {
		kfmt.Panic(errIndexOutOfRange)
	}
}

// checkRange triggers a contract violation unless [start, start+count) lies
// within the bitmap.
func (b *Bitmap) checkRange(start, count int) {
	if start < 0 || count < 0 || start > b.bitCount || count > b.bitCount-start {
		kfmt.Panic(errRangeOutOfBounds)
	}
}

// spanMask returns a word mask with n bits set starting at bit offset off.
func spanMask(off, n int) uint64 {
	if n == wordBits {
		return ^uint64(0)
	}
	return ((uint64(1) << uint(n)) - 1) << uint(off)
}

// Test returns the value of the bit at idx.
func (b *Bitmap) Test(idx int) bool {
	b.checkIndex(idx)
	return atomic.LoadUint64(&b.words[idx>>wordShift])&(uint64(1)<<uint(idx&wordMask)) != 0
}

// Set atomically sets the bit at idx to value.
func (b *Bitmap) Set(idx int, value bool) {
	if value {
		b.Mark(idx)
	} else {
		b.Reset(idx)
	}
}

// Mark atomically sets the bit at idx to true.
func (b *Bitmap) Mark(idx int) {
	b.checkIndex(idx)
	atomic.OrUint64(&b.words[idx>>wordShift], uint64(1)<<uint(idx&wordMask))
}

// Reset atomically sets the bit at idx to false.
func (b *Bitmap) Reset(idx int) {
	b.checkIndex(idx)
	atomic.AndUint64(&b.words[idx>>wordShift], ^(uint64(1) << uint(idx&wordMask)))
}

// Flip atomically toggles the bit at idx.
func (b *Bitmap) Flip(idx int) {
	b.checkIndex(idx)
	word := &b.words[idx>>wordShift]
	mask := uint64(1) << uint(idx&wordMask)
	for {
		old := atomic.LoadUint64(word)
		if atomic.CompareAndSwapUint64(word, old, old^mask) {
			return
		}
	}
}

// SetAll sets every bit to value.
func (b *Bitmap) SetAll(value bool) {
	b.SetRange(0, b.bitCount, value)
}

// SetRange sets the count bits starting at start to value. Each word is
// updated atomically but the range as a whole is not.
func (b *Bitmap) SetRange(start, count int, value bool) {
	b.checkRange(start, count)

	b.visitRange(start, count, func(wi int, mask uint64) bool {
		if value {
			atomic.OrUint64(&b.words[wi], mask)
		} else {
			atomic.AndUint64(&b.words[wi], ^mask)
		}
		return true
	})
}

// Count returns the number of bits in [start, start+count) that are set to
// value.
func (b *Bitmap) Count(start, count int, value bool) int {
	b.checkRange(start, count)

	var ones int
	b.visitRange(start, count, func(wi int, mask uint64) bool {
		ones += bits.OnesCount64(atomic.LoadUint64(&b.words[wi]) & mask)
		return true
	})

	if value {
		return ones
	}
	return count - ones
}

// Contains returns true if any bit in [start, start+count) is set to value.
func (b *Bitmap) Contains(start, count int, value bool) bool {
	b.checkRange(start, count)

	var found bool
	b.visitRange(start, count, func(wi int, mask uint64) bool {
		masked := atomic.LoadUint64(&b.words[wi]) & mask
		found = (value && masked != 0) || (!value && masked != mask)
		return !found
	})
	return found
}

// Any returns true if any bit in [start, start+count) is set.
func (b *Bitmap) Any(start, count int) bool {
	return b.Contains(start, count, true)
}

// None returns true if no bit in [start, start+count) is set.
func (b *Bitmap) None(start, count int) bool {
	return !b.Contains(start, count, true)
}

// All returns true if every bit in [start, start+count) is set.
func (b *Bitmap) All(start, count int) bool {
	return !b.Contains(start, count, false)
}

// visitRange invokes fn with a word index and the mask of the bits of that
// word that fall inside [start, start+count). Iteration stops early when fn
// returns false.
func (b *Bitmap) visitRange(start, count int, fn func(wi int, mask uint64) bool) {
	for end := start + count; start < end; {
		off := start & wordMask
		n := wordBits - off
		if rem := end - start; rem < n {
			n = rem
		}

		if !fn(start>>wordShift, spanMask(off, n)) {
			return
		}
		start += n
	}
}
