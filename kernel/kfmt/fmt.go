// Package kfmt routes console output for the memory subsystem. Output written
// before a sink is attached is kept in a ring buffer and replayed once
// SetOutputSink is called.
package kfmt

import (
	"fmt"
	"io"

	"physmem/kernel/sync"
)

var (
	// earlyPrintBuffer is a ring buffer that stores output produced before a
	// sink is attached.
	earlyPrintBuffer ringBuffer

	// outputSink is the io.Writer where Printf sends its output. If set to
	// nil, output is redirected to earlyPrintBuffer.
	outputSink io.Writer

	sinkLock sync.Spinlock
)

// consoleWriter forwards writes to the active output sink.
type consoleWriter struct{}

// Write implements io.Writer.
func (consoleWriter) Write(p []byte) (int, error) {
	sinkLock.Acquire()
	defer sinkLock.Release()

	if outputSink == nil {
		return earlyPrintBuffer.Write(p)
	}
	return outputSink.Write(p)
}

// SetOutputSink sets the default target for calls to Printf to w and copies
// any data accumulated in the earlyPrintBuffer to it.
func SetOutputSink(w io.Writer) {
	sinkLock.Acquire()
	defer sinkLock.Release()

	outputSink = w
	if w != nil {
		_, _ = io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns a writer that forwards to the currently active sink.
// The returned writer tracks later calls to SetOutputSink.
func GetOutputSink() io.Writer {
	return consoleWriter{}
}

// Printf formats according to a format specifier and writes to the active
// output sink.
func Printf(format string, args ...interface{}) {
	Fprintf(consoleWriter{}, format, args...)
}

// Fprintf behaves exactly like Printf but it writes the formatted output to
// the specified io.Writer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	_, _ = fmt.Fprintf(w, format, args...)
}
