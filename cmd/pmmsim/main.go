// Command pmmsim boots the physical memory manager on simulated RAM, runs a
// paging workload against it and prints the resulting allocator state.
package main

import (
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/tchajed/goose/machine/disk"

	"physmem/device"
	"physmem/device/block"
	"physmem/kernel/kfmt"
	"physmem/kernel/mem/pmm"
	"physmem/kernel/vm/frame"
	"physmem/kernel/vm/swap"
)

func main() {
	cfg := defaultConfig()
	if len(os.Args) > 1 {
		var err error
		if cfg, err = loadConfig(os.Args[1]); err != nil {
			kfmt.Fprintf(os.Stderr, "pmmsim: %v\n", err)
			os.Exit(1)
		}
	}

	if err := run(cfg, os.Stdout); err != nil {
		kfmt.Fprintf(os.Stderr, "pmmsim: %v\n", err)
		os.Exit(1)
	}
}

// run boots the allocator, the swap store and the frame table, runs the
// workload and dumps the final state to out.
func run(cfg simConfig, out io.Writer) error {
	kfmt.SetOutputSink(out)
	kfmt.SetLogLevel(kfmt.ParseLevel(cfg.LogLevel))

	alloc, err := pmm.New(cfg.Memory)
	if err != nil {
		return errors.Wrap(err, "boot physical memory")
	}
	defer func() { _ = alloc.Close() }()
	alloc.PrintMemoryMap(out)

	swapDev, err := openSwapDevice(cfg.Swap)
	if err != nil {
		return err
	}
	if closer, ok := swapDev.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}

	defer block.Register(block.RoleSwap, nil)
	device.Probe(out, []device.ProbeFn{
		func() device.Driver { return swapDev },
	}, func(drv device.Driver) {
		if dev, ok := drv.(block.Device); ok {
			block.Register(block.RoleSwap, dev)
		}
	})

	store := swap.NewFromRegistry()
	table := frame.New(alloc)

	stats, err := runWorkload(cfg.Workload, alloc, table, store)
	if err != nil {
		return err
	}
	kfmt.Fprintf(out, "[pmmsim] %d pages touched, %d evictions, %d swap ins, %d kernel pages\n",
		stats.touched, stats.evictions, stats.swapIns, stats.kernelPages,
	)

	table.Dump(out)
	for _, id := range []pmm.PoolID{pmm.KernelPool, pmm.UserPool} {
		if err := alloc.DumpPool(id, out); err != nil {
			return errors.Wrapf(err, "dump %s", id)
		}
	}

	if cfg.DumpJSON {
		for _, id := range []pmm.PoolID{pmm.KernelPool, pmm.UserPool} {
			w := jwriter.NewWriter()
			alloc.WriteJSON(id, &w)
			if err := w.Error(); err != nil {
				return errors.Wrap(err, "encode pool map")
			}
			_, _ = out.Write(append(w.Bytes(), '\n'))
		}
	}

	return alloc.Validate()
}

// openSwapDevice creates the block device described by cfg.
func openSwapDevice(cfg swapConfig) (block.Device, error) {
	sectors := block.Sector(cfg.Slots * swap.SectorsPerSlot)

	switch cfg.Backend {
	case "file":
		dev, err := block.OpenFileDevice(cfg.Path, sectors)
		if err != nil {
			return nil, errors.Wrap(err, "open swap file")
		}
		return dev, nil
	case "disk":
		blocks := (uint64(sectors)*block.SectorSize + disk.BlockSize - 1) / disk.BlockSize
		return block.NewDiskDevice("swap-disk", disk.NewMemDisk(blocks)), nil
	default:
		return block.NewMemDevice("swap-ram", sectors), nil
	}
}
