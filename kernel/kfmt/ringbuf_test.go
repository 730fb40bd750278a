package kfmt

import (
	"bytes"
	"io"
	"testing"
)

func TestRingBuffer(t *testing.T) {
	var (
		buf     bytes.Buffer
		expStr  = "the big brown fox jumped over the lazy dog"
		rb      ringBuffer
		scratch = make([]byte, 7)
	)

	t.Run("read/write", func(t *testing.T) {
		rb.wIndex, rb.rIndex = 0, 0
		_, _ = rb.Write([]byte(expStr))

		if exp, got := len(expStr), rb.Len(); got != exp {
			t.Fatalf("expected Len() to return %d; got %d", exp, got)
		}

		buf.Reset()
		if _, err := io.CopyBuffer(&buf, &rb, scratch); err != nil {
			t.Fatal(err)
		}

		if got := buf.String(); got != expStr {
			t.Fatalf("expected to read %q; got %q", expStr, got)
		}
	})

	t.Run("write wraps around", func(t *testing.T) {
		rb.wIndex, rb.rIndex = ringBufferSize-5, ringBufferSize-5
		_, _ = rb.Write([]byte(expStr))

		buf.Reset()
		if _, err := io.CopyBuffer(&buf, &rb, scratch); err != nil {
			t.Fatal(err)
		}

		if got := buf.String(); got != expStr {
			t.Fatalf("expected to read %q; got %q", expStr, got)
		}
	})

	t.Run("overflow keeps most recent bytes", func(t *testing.T) {
		rb.wIndex, rb.rIndex = 0, 0
		big := bytes.Repeat([]byte{'x'}, ringBufferSize)
		_, _ = rb.Write(big)
		_, _ = rb.Write([]byte("tail"))

		buf.Reset()
		if _, err := io.Copy(&buf, &rb); err != nil {
			t.Fatal(err)
		}

		if exp, got := ringBufferSize-1, buf.Len(); got != exp {
			t.Fatalf("expected to read %d bytes; got %d", exp, got)
		}

		if !bytes.HasSuffix(buf.Bytes(), []byte("tail")) {
			t.Fatal("expected the most recent write to be retained")
		}
	})

	t.Run("empty buffer", func(t *testing.T) {
		rb.wIndex, rb.rIndex = 3, 3
		if n, err := rb.Read(scratch); n != 0 || err != io.EOF {
			t.Fatalf("expected (0, io.EOF); got (%d, %v)", n, err)
		}
	})
}
