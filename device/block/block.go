// Package block provides sector-addressed storage devices and a registry
// that binds devices to the roles the kernel uses them for.
package block

import (
	"github.com/cockroachdb/errors"

	"physmem/device"
)

// SectorSize is the size of a block device sector in bytes.
const SectorSize = 512

// Sector is the index of a sector within a device.
type Sector uint64

// Device is a block device. Reads and writes always transfer exactly one
// sector and complete synchronously.
type Device interface {
	device.Driver

	// SectorCount returns the number of sectors of the device.
	SectorCount() Sector

	// ReadSector copies sector into buf. buf must hold SectorSize bytes.
	ReadSector(sector Sector, buf []byte) error

	// WriteSector copies buf into sector. buf must hold SectorSize bytes.
	WriteSector(sector Sector, buf []byte) error
}

var (
	// ErrSectorOutOfRange is returned when a sector index is past the
	// end of a device.
	ErrSectorOutOfRange = errors.New("sector out of range")

	// ErrShortBuffer is returned when a transfer buffer is smaller than a
	// sector.
	ErrShortBuffer = errors.New("buffer smaller than a sector")
)

// checkTransfer validates the arguments of a sector transfer.
func checkTransfer(dev Device, sector Sector, buf []byte) error {
	if sector >= dev.SectorCount() {
		return errors.Wrapf(ErrSectorOutOfRange, "%s: sector %d of %d", dev.DriverName(), sector, dev.SectorCount())
	}
	if len(buf) < SectorSize {
		return errors.Wrapf(ErrShortBuffer, "%s: %d bytes", dev.DriverName(), len(buf))
	}
	return nil
}
