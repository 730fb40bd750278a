package block

import (
	"io"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"

	"physmem/kernel"
	"physmem/kernel/kfmt"
)

var (
	errFileSync = &kernel.Error{Module: "block", Message: "unable to sync backing file"}

	// The following functions are used by tests to mock calls to the host.
	preadFn  = unix.Pread
	pwriteFn = unix.Pwrite
	fsyncFn  = unix.Fsync
)

// FileDevice is a block device backed by a host file. The file is created if
// it does not exist and resized to hold the requested number of sectors.
type FileDevice struct {
	path    string
	fd      int
	sectors Sector
}

// OpenFileDevice opens or creates the file at path and sizes it to sectors.
func OpenFileDevice(path string, sectors Sector) (*FileDevice, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_CLOEXEC, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}

	if err = unix.Ftruncate(fd, int64(sectors)*SectorSize); err != nil {
		_ = unix.Close(fd)
		return nil, errors.Wrapf(err, "resize %s to %d sectors", path, sectors)
	}

	return &FileDevice{path: path, fd: fd, sectors: sectors}, nil
}

// DriverName implements device.Driver.
func (d *FileDevice) DriverName() string { return "file:" + d.path }

// DriverVersion implements device.Driver.
func (d *FileDevice) DriverVersion() (uint16, uint16, uint16) { return 0, 1, 0 }

// DriverInit flushes the backing file so that a device that cannot persist
// data is rejected before it is used.
func (d *FileDevice) DriverInit(w io.Writer) *kernel.Error {
	if err := fsyncFn(d.fd); err != nil {
		return errFileSync
	}
	kfmt.Fprintf(w, "%d sectors backed by %s\n", d.sectors, d.path)
	return nil
}

// SectorCount implements Device.
func (d *FileDevice) SectorCount() Sector {
	return d.sectors
}

// ReadSector implements Device.
func (d *FileDevice) ReadSector(sector Sector, buf []byte) error {
	if err := checkTransfer(d, sector, buf); err != nil {
		return err
	}

	n, err := preadFn(d.fd, buf[:SectorSize], int64(sector)*SectorSize)
	if err != nil {
		return errors.Wrapf(err, "%s: read sector %d", d.path, sector)
	}
	if n != SectorSize {
		return errors.Newf("%s: short read of sector %d: %d bytes", d.path, sector, n)
	}
	return nil
}

// WriteSector implements Device.
func (d *FileDevice) WriteSector(sector Sector, buf []byte) error {
	if err := checkTransfer(d, sector, buf); err != nil {
		return err
	}

	n, err := pwriteFn(d.fd, buf[:SectorSize], int64(sector)*SectorSize)
	if err != nil {
		return errors.Wrapf(err, "%s: write sector %d", d.path, sector)
	}
	if n != SectorSize {
		return errors.Newf("%s: short write of sector %d: %d bytes", d.path, sector, n)
	}
	return nil
}

// Sync flushes written sectors to stable storage.
func (d *FileDevice) Sync() error {
	return errors.Wrapf(fsyncFn(d.fd), "sync %s", d.path)
}

// Close closes the backing file.
func (d *FileDevice) Close() error {
	return errors.Wrapf(unix.Close(d.fd), "close %s", d.path)
}
