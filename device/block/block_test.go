package block

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/tchajed/goose/machine/disk"
)

func sectorOf(fill byte) []byte {
	return bytes.Repeat([]byte{fill}, SectorSize)
}

// exerciseDevice runs the checks shared by every backend.
func exerciseDevice(t *testing.T, dev Device, expSectors Sector) {
	t.Helper()

	if got := dev.SectorCount(); got != expSectors {
		t.Fatalf("expected %d sectors; got %d", expSectors, got)
	}

	for _, sector := range []Sector{0, 1, expSectors - 1} {
		if err := dev.WriteSector(sector, sectorOf(byte(sector)+1)); err != nil {
			t.Fatalf("unexpected error writing sector %d: %v", sector, err)
		}
	}

	buf := make([]byte, SectorSize)
	for _, sector := range []Sector{0, 1, expSectors - 1} {
		if err := dev.ReadSector(sector, buf); err != nil {
			t.Fatalf("unexpected error reading sector %d: %v", sector, err)
		}
		if !bytes.Equal(buf, sectorOf(byte(sector)+1)) {
			t.Fatalf("expected sector %d to contain the written bytes", sector)
		}
	}

	// A sector that was never written reads back as zeroes.
	if err := dev.ReadSector(2, buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, sectorOf(0)) {
		t.Fatal("expected an unwritten sector to read back as zeroes")
	}

	specs := []struct {
		sector Sector
		buf    []byte
		expErr error
	}{
		{expSectors, make([]byte, SectorSize), ErrSectorOutOfRange},
		{0, make([]byte, SectorSize-1), ErrShortBuffer},
	}

	for specIndex, spec := range specs {
		if err := dev.ReadSector(spec.sector, spec.buf); !errors.Is(err, spec.expErr) {
			t.Errorf("[spec %d] expected read error %v; got %v", specIndex, spec.expErr, err)
		}
		if err := dev.WriteSector(spec.sector, spec.buf); !errors.Is(err, spec.expErr) {
			t.Errorf("[spec %d] expected write error %v; got %v", specIndex, spec.expErr, err)
		}
	}

	if err := dev.DriverInit(io.Discard); err != nil {
		t.Fatalf("unexpected init error: %v", err)
	}
}

func TestMemDevice(t *testing.T) {
	exerciseDevice(t, NewMemDevice("ram0", 16), 16)
}

func TestFileDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swap.img")
	dev, err := OpenFileDevice(path, 32)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = dev.Close() }()

	exerciseDevice(t, dev, 32)
	if err := dev.Sync(); err != nil {
		t.Fatal(err)
	}

	// Data survives reopening the backing file.
	reopened, err := OpenFileDevice(path, 32)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = reopened.Close() }()

	buf := make([]byte, SectorSize)
	if err := reopened.ReadSector(31, buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, sectorOf(32)) {
		t.Fatal("expected sector contents to persist across opens")
	}
}

func TestFileDeviceHostErrors(t *testing.T) {
	defer func(origPread, origPwrite func(int, []byte, int64) (int, error), origFsync func(int) error) {
		preadFn, pwriteFn, fsyncFn = origPread, origPwrite, origFsync
	}(preadFn, pwriteFn, fsyncFn)

	dev, err := OpenFileDevice(filepath.Join(t.TempDir(), "bad.img"), 4)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = dev.Close() }()

	expErr := errors.New("EIO")
	preadFn = func(int, []byte, int64) (int, error) { return 0, expErr }
	pwriteFn = func(int, []byte, int64) (int, error) { return 10, nil }
	fsyncFn = func(int) error { return expErr }

	buf := make([]byte, SectorSize)
	if err := dev.ReadSector(0, buf); !errors.Is(err, expErr) {
		t.Errorf("expected read to fail with %v; got %v", expErr, err)
	}
	if err := dev.WriteSector(0, buf); err == nil {
		t.Error("expected a short write to fail")
	}
	if err := dev.DriverInit(io.Discard); err != errFileSync {
		t.Errorf("expected init to fail with errFileSync; got %v", err)
	}
}

func TestDiskDevice(t *testing.T) {
	dev := NewDiskDevice("disk0", disk.NewMemDisk(2))
	exerciseDevice(t, dev, 2*Sector(sectorsPerBlock))

	// Writing one sector must leave its neighbors in the same block intact.
	if err := dev.WriteSector(9, sectorOf(0xaa)); err != nil {
		t.Fatal(err)
	}
	if err := dev.WriteSector(10, sectorOf(0xbb)); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, SectorSize)
	for sector, exp := range map[Sector]byte{8: 0, 9: 0xaa, 10: 0xbb, 11: 0} {
		if err := dev.ReadSector(sector, buf); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(buf, sectorOf(exp)) {
			t.Errorf("expected sector %d to be filled with 0x%x", sector, exp)
		}
	}
}

func TestRegistry(t *testing.T) {
	defer Register(RoleSwap, nil)

	if ForRole(RoleSwap) != nil {
		t.Fatal("expected no swap device to be registered")
	}

	dev := NewMemDevice("swap", 8)
	Register(RoleSwap, dev)
	if got := ForRole(RoleSwap); got != Device(dev) {
		t.Fatalf("expected registered swap device; got %v", got)
	}

	if ForRole(RoleFilesys) != nil {
		t.Fatal("expected the filesys role to be unbound")
	}

	Register(Role(99), dev)
	if ForRole(Role(99)) != nil {
		t.Fatal("expected unknown roles to be ignored")
	}

	specs := map[Role]string{RoleKernel: "kernel", RoleSwap: "swap", Role(42): "unknown"}
	for role, exp := range specs {
		if got := role.String(); got != exp {
			t.Errorf("expected role %d to print as %q; got %q", role, exp, got)
		}
	}
}
