// Package device defines the contract shared by every device driver.
package device

import (
	"bytes"
	"io"

	"physmem/kernel"
	"physmem/kernel/kfmt"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver. If the driver init code
	// needs to log some output, it can use the supplied io.Writer in
	// conjunction with a call to kfmt.Fprintf.
	DriverInit(io.Writer) *kernel.Error
}

// ProbeFn is a function that checks for the presence of a particular
// device and returns a driver for it or nil.
type ProbeFn func() Driver

// Probe invokes each probe function and initializes the drivers they return.
// Output from each driver is prefixed with its name and version. onInit is
// called for every driver whose initialization succeeded and the initialized
// drivers are returned in probe order.
func Probe(w io.Writer, probes []ProbeFn, onInit func(Driver)) []Driver {
	var (
		active []Driver
		strBuf bytes.Buffer
		pw     = kfmt.PrefixWriter{Sink: w}
	)

	for _, probe := range probes {
		drv := probe()
		if drv == nil {
			continue
		}

		major, minor, patch := drv.DriverVersion()
		strBuf.Reset()
		kfmt.Fprintf(&strBuf, "[dev] %s(%d.%d.%d): ", drv.DriverName(), major, minor, patch)
		pw.Prefix = strBuf.Bytes()

		if err := drv.DriverInit(&pw); err != nil {
			kfmt.Fprintf(&pw, "init failed: %s\n", err.Message)
			continue
		}

		kfmt.Fprintf(&pw, "initialized\n")
		if onInit != nil {
			onInit(drv)
		}
		active = append(active, drv)
	}

	return active
}
