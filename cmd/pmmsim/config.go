package main

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jreader"

	"physmem/kernel/mem"
	"physmem/kernel/mem/pmm"
)

// swapConfig selects the device that backs the swap store.
type swapConfig struct {
	// Backend is one of "mem", "file" or "disk".
	Backend string
	Path    string
	Slots   int
}

// workloadConfig describes the simulated processes.
type workloadConfig struct {
	Processes       int
	PagesPerProcess int
	Seed            int64
}

type simConfig struct {
	Memory   pmm.Config
	LogLevel string
	Swap     swapConfig
	Workload workloadConfig
	DumpJSON bool
}

func defaultConfig() simConfig {
	return simConfig{
		Memory:   pmm.Config{MemorySize: 1 * mem.Mb},
		LogLevel: "info",
		Swap:     swapConfig{Backend: "mem", Slots: 256},
		Workload: workloadConfig{Processes: 4, PagesPerProcess: 48, Seed: 1},
	}
}

// loadConfig reads the JSON configuration file at path.
func loadConfig(path string) (simConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return simConfig{}, errors.Wrap(err, "read config")
	}

	cfg, err := parseConfig(data)
	if err != nil {
		return simConfig{}, errors.Wrapf(err, "parse %s", path)
	}
	return cfg, nil
}

// parseConfig decodes a configuration document on top of the defaults.
// Unknown properties are skipped.
func parseConfig(data []byte) (simConfig, error) {
	cfg := defaultConfig()
	r := jreader.NewReader(data)

	var kernelPolicy, userPolicy string

	for obj := r.Object(); obj.Next(); {
		switch string(obj.Name()) {
		case "memory_kb":
			cfg.Memory.MemorySize = mem.Size(r.Int()) * mem.Kb
		case "user_page_limit":
			cfg.Memory.UserPageLimit = uint32(r.Int())
		case "kernel_policy":
			kernelPolicy = r.String()
		case "user_policy":
			userPolicy = r.String()
		case "poison_freed":
			cfg.Memory.PoisonFreed = r.Bool()
		case "log_level":
			cfg.LogLevel = r.String()
		case "dump_json":
			cfg.DumpJSON = r.Bool()
		case "swap":
			for swapObj := r.Object(); swapObj.Next(); {
				switch string(swapObj.Name()) {
				case "backend":
					cfg.Swap.Backend = r.String()
				case "path":
					cfg.Swap.Path = r.String()
				case "slots":
					cfg.Swap.Slots = r.Int()
				}
			}
		case "workload":
			for wlObj := r.Object(); wlObj.Next(); {
				switch string(wlObj.Name()) {
				case "processes":
					cfg.Workload.Processes = r.Int()
				case "pages_per_process":
					cfg.Workload.PagesPerProcess = r.Int()
				case "seed":
					cfg.Workload.Seed = int64(r.Int())
				}
			}
		}
	}

	if err := r.Error(); err != nil {
		return simConfig{}, errors.Wrap(err, "malformed config")
	}

	for _, p := range []struct {
		name   string
		target *pmm.Policy
	}{
		{kernelPolicy, &cfg.Memory.KernelPolicy},
		{userPolicy, &cfg.Memory.UserPolicy},
	} {
		if p.name == "" {
			continue
		}

		policy, err := pmm.ParsePolicy(p.name)
		if err != nil {
			return simConfig{}, errors.Newf("%s: %q", err.Message, p.name)
		}
		*p.target = policy
	}

	switch cfg.Swap.Backend {
	case "mem", "disk":
	case "file":
		if cfg.Swap.Path == "" {
			return simConfig{}, errors.New("file swap backend requires a path")
		}
	default:
		return simConfig{}, errors.Newf("unknown swap backend %q", cfg.Swap.Backend)
	}

	if cfg.Swap.Slots <= 0 || cfg.Workload.Processes < 0 || cfg.Workload.PagesPerProcess < 0 {
		return simConfig{}, errors.New("swap slots must be positive and workload sizes non-negative")
	}

	return cfg, nil
}
