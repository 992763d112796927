// Package config holds the emulator settings.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"
)

// Config holds the CPU, GPU and diagnostics settings.
type Config struct {
	// Dynarec runs guest code through compiled functions instead of the
	// interpreter. Default: true.
	Dynarec bool `json:"dynarec" yaml:"dynarec"`

	// BackgroundCompilation moves compilation to a worker goroutine that
	// also precompiles discovered call targets. Default: false.
	BackgroundCompilation bool `json:"background_compilation" yaml:"background_compilation"`

	// UncheckedMemory resolves unmapped reads to zero and drops unmapped
	// writes instead of faulting. Default: false.
	UncheckedMemory bool `json:"unchecked_memory" yaml:"unchecked_memory"`

	// InvalidateOnWrite evicts compiled code overlapping every guest
	// store. Default: true.
	InvalidateOnWrite bool `json:"invalidate_on_write" yaml:"invalidate_on_write"`

	// LogMemoryWrites traces every guest store at V(2). Default: false.
	LogMemoryWrites bool `json:"log_memory_writes" yaml:"log_memory_writes"`

	// SliceInstructions is the instruction budget of one time slice.
	// Default: 10000.
	SliceInstructions uint64 `json:"slice_instructions" yaml:"slice_instructions"`

	// MaxFunctionInstructions bounds the size of a compiled function.
	// Default: 4096.
	MaxFunctionInstructions int `json:"max_function_instructions" yaml:"max_function_instructions"`

	TraceJIT      bool `json:"trace_jit" yaml:"trace_jit"`
	TraceJal      bool `json:"trace_jal" yaml:"trace_jal"`
	DebugSyscalls bool `json:"debug_syscalls" yaml:"debug_syscalls"`

	// TraceLastSyscalls is how many syscalls a crash dump lists.
	// Default: 10.
	TraceLastSyscalls int `json:"trace_last_syscalls" yaml:"trace_last_syscalls"`

	// CpuFrequencyMHz converts instruction counts to emulated time.
	// Default: 222.
	CpuFrequencyMHz int `json:"cpu_frequency_mhz" yaml:"cpu_frequency_mhz"`

	// FatalUnknownCommands aborts a display list on an unknown opcode.
	// Default: false.
	FatalUnknownCommands bool `json:"fatal_unknown_commands" yaml:"fatal_unknown_commands"`

	// NoticeUnimplementedCommands logs the first use of a recognized but
	// unimplemented GPU command. Default: true.
	NoticeUnimplementedCommands bool `json:"notice_unimplemented_commands" yaml:"notice_unimplemented_commands"`

	TextureCacheSets int `json:"texture_cache_sets" yaml:"texture_cache_sets"`
	TextureCacheWays int `json:"texture_cache_ways" yaml:"texture_cache_ways"`

	// DumpDir receives the memory snapshot written on fatal errors.
	// Default: the working directory.
	DumpDir string `json:"dump_dir" yaml:"dump_dir"`

	// LogLevel is the highest logr verbosity emitted. Default: 0.
	LogLevel int `json:"log_level" yaml:"log_level"`
}

// Default returns a Config with the default values.
func Default() *Config {
	return &Config{
		Dynarec:                     true,
		InvalidateOnWrite:           true,
		SliceInstructions:           10000,
		MaxFunctionInstructions:     4096,
		TraceLastSyscalls:           10,
		CpuFrequencyMHz:             222,
		NoticeUnimplementedCommands: true,
		TextureCacheSets:            64,
		TextureCacheWays:            4,
		DumpDir:                     ".",
	}
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Load reads a Config from a JSON or YAML file, chosen by extension.
// Fields missing from the file keep their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if isYAML(path) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return config, nil
}

// Save writes the Config to a JSON or YAML file, chosen by extension.
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks that the sizes and budgets are usable.
func (c *Config) Validate() error {
	if c.SliceInstructions == 0 {
		return fmt.Errorf("slice_instructions must be > 0")
	}
	if c.MaxFunctionInstructions <= 0 {
		return fmt.Errorf("max_function_instructions must be > 0")
	}
	if c.TraceLastSyscalls < 0 {
		return fmt.Errorf("trace_last_syscalls must be >= 0")
	}
	if c.CpuFrequencyMHz <= 0 {
		return fmt.Errorf("cpu_frequency_mhz must be > 0")
	}
	if c.TextureCacheSets <= 0 || c.TextureCacheWays <= 0 {
		return fmt.Errorf("texture_cache_sets and texture_cache_ways must be > 0")
	}
	if c.LogLevel < 0 {
		return fmt.Errorf("log_level must be >= 0")
	}
	return nil
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
