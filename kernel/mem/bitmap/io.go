package bitmap

import (
	"encoding/binary"
	"encoding/hex"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
)

// FileSize returns the number of bytes that WriteTo emits.
func (b *Bitmap) FileSize() int {
	return BufSize(b.bitCount)
}

// WriteTo writes the bitmap words to w as a little-endian image of exactly
// FileSize() bytes.
func (b *Bitmap) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(b.image())
	if err != nil {
		return int64(n), errors.Wrap(err, "write bitmap image")
	}
	return int64(n), nil
}

// ReadFrom loads a bitmap image previously produced by WriteTo. Exactly
// FileSize() bytes are consumed from r. Padding bits in the image are
// discarded.
func (b *Bitmap) ReadFrom(r io.Reader) (int64, error) {
	buf := make([]byte, b.FileSize())
	n, err := io.ReadFull(r, buf)
	if err != nil {
		return int64(n), errors.Wrapf(err, "read bitmap image of %d bytes", len(buf))
	}

	for wi := range b.words {
		b.words[wi] = binary.LittleEndian.Uint64(buf[wi*wordBytes:])
	}

	if rem := b.bitCount & wordMask; rem != 0 {
		b.words[len(b.words)-1] &= spanMask(0, rem)
	}
	return int64(n), nil
}

// Dump writes a hex dump of the bitmap words to w.
func (b *Bitmap) Dump(w io.Writer) error {
	dumper := hex.Dumper(w)
	if _, err := dumper.Write(b.image()); err != nil {
		return errors.Wrap(err, "dump bitmap")
	}
	return dumper.Close()
}

// String renders the bitmap as a sequence of '0' and '1' characters, lowest
// index first.
func (b *Bitmap) String() string {
	var sb strings.Builder
	sb.Grow(b.bitCount)
	for i := 0; i < b.bitCount; i++ {
		if b.Test(i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

func (b *Bitmap) image() []byte {
	buf := make([]byte, b.FileSize())
	for wi := range b.words {
		binary.LittleEndian.PutUint64(buf[wi*wordBytes:], b.words[wi])
	}
	return buf
}
