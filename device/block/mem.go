package block

import (
	"io"

	"physmem/kernel"
	"physmem/kernel/kfmt"
)

// MemDevice is a block device backed by a byte slice.
type MemDevice struct {
	name string
	data []byte
}

// NewMemDevice returns a zero-filled in-memory device with the given number
// of sectors.
func NewMemDevice(name string, sectors Sector) *MemDevice {
	return &MemDevice{
		name: name,
		data: make([]byte, uint64(sectors)*SectorSize),
	}
}

// DriverName implements device.Driver.
func (d *MemDevice) DriverName() string { return d.name }

// DriverVersion implements device.Driver.
func (d *MemDevice) DriverVersion() (uint16, uint16, uint16) { return 0, 1, 0 }

// DriverInit implements device.Driver.
func (d *MemDevice) DriverInit(w io.Writer) *kernel.Error {
	kfmt.Fprintf(w, "%d sectors in memory\n", d.SectorCount())
	return nil
}

// SectorCount implements Device.
func (d *MemDevice) SectorCount() Sector {
	return Sector(len(d.data) / SectorSize)
}

// ReadSector implements Device.
func (d *MemDevice) ReadSector(sector Sector, buf []byte) error {
	if err := checkTransfer(d, sector, buf); err != nil {
		return err
	}
	copy(buf[:SectorSize], d.data[uint64(sector)*SectorSize:])
	return nil
}

// WriteSector implements Device.
func (d *MemDevice) WriteSector(sector Sector, buf []byte) error {
	if err := checkTransfer(d, sector, buf); err != nil {
		return err
	}
	copy(d.data[uint64(sector)*SectorSize:], buf[:SectorSize])
	return nil
}
