package block

import (
	"io"

	"github.com/tchajed/goose/machine/disk"

	"physmem/kernel"
	"physmem/kernel/kfmt"
	"physmem/kernel/sync"
)

// sectorsPerBlock is the number of sectors packed into one disk block.
const sectorsPerBlock = disk.BlockSize / SectorSize

// DiskDevice exposes a block-addressed disk.Disk as a sector-addressed
// device. Writes to a single sector read, patch and write back the whole
// disk block, so the adapter serializes them.
type DiskDevice struct {
	name string
	d    disk.Disk
	lock sync.Spinlock
}

// NewDiskDevice wraps d.
func NewDiskDevice(name string, d disk.Disk) *DiskDevice {
	return &DiskDevice{name: name, d: d}
}

// DriverName implements device.Driver.
func (dev *DiskDevice) DriverName() string { return dev.name }

// DriverVersion implements device.Driver.
func (dev *DiskDevice) DriverVersion() (uint16, uint16, uint16) { return 0, 1, 0 }

// DriverInit implements device.Driver.
func (dev *DiskDevice) DriverInit(w io.Writer) *kernel.Error {
	kfmt.Fprintf(w, "%d blocks of %d bytes\n", dev.d.Size(), disk.BlockSize)
	return nil
}

// SectorCount implements Device.
func (dev *DiskDevice) SectorCount() Sector {
	return Sector(dev.d.Size() * sectorsPerBlock)
}

// locate returns the disk block that holds sector and the sector offset
// within it.
func locate(sector Sector) (uint64, uint64) {
	a := uint64(sector) / sectorsPerBlock
	off := (uint64(sector) % sectorsPerBlock) * SectorSize
	return a, off
}

// ReadSector implements Device.
func (dev *DiskDevice) ReadSector(sector Sector, buf []byte) error {
	if err := checkTransfer(dev, sector, buf); err != nil {
		return err
	}

	a, off := locate(sector)
	dev.lock.Acquire()
	blk := dev.d.Read(a)
	dev.lock.Release()

	copy(buf[:SectorSize], blk[off:off+SectorSize])
	return nil
}

// WriteSector implements Device.
func (dev *DiskDevice) WriteSector(sector Sector, buf []byte) error {
	if err := checkTransfer(dev, sector, buf); err != nil {
		return err
	}

	a, off := locate(sector)
	dev.lock.Acquire()
	defer dev.lock.Release()

	blk := dev.d.Read(a)
	copy(blk[off:off+SectorSize], buf[:SectorSize])
	dev.d.Write(a, blk)
	return nil
}
