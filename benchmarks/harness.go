package benchmarks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-logr/logr"

	"github.com/sarchlab/pspsim/asm"
	"github.com/sarchlab/pspsim/config"
	"github.com/sarchlab/pspsim/emu"
	"github.com/sarchlab/pspsim/loader"
	"github.com/sarchlab/pspsim/runner"
)

// BenchmarkResult holds the results of one benchmark in one mode.
type BenchmarkResult struct {
	// Name identifies the benchmark
	Name string `json:"name"`

	// Description explains what the benchmark measures
	Description string `json:"description"`

	// Mode names the execution engine
	Mode string `json:"mode"`

	// InstructionsRetired is the number of guest instructions executed
	InstructionsRetired uint64 `json:"instructions_retired"`

	// FunctionsCompiled is the number of units the dynarec published
	FunctionsCompiled uint64 `json:"functions_compiled"`

	// ExitCode is the program's exit code
	ExitCode int32 `json:"exit_code"`

	// WallTime is the host time taken by the run
	WallTime time.Duration `json:"wall_time_ns"`

	// Error holds the failure message, if the run failed
	Error string `json:"error,omitempty"`
}

// MIPS returns the guest instructions per host microsecond.
func (r BenchmarkResult) MIPS() float64 {
	if r.WallTime <= 0 {
		return 0
	}
	return float64(r.InstructionsRetired) / float64(r.WallTime.Microseconds()+1)
}

// Benchmark defines a single guest kernel.
type Benchmark struct {
	// Name identifies the benchmark
	Name string

	// Description explains what the benchmark measures
	Description string

	// Setup prepares guest memory before the thread starts
	Setup func(memory *emu.Memory) error

	// Source is the assembly text. The thread starts at the first chunk
	// and returns its result in v0.
	Source string

	// ExpectedExit is the expected exit code (for validation)
	ExpectedExit int32
}

// Mode selects the execution engine.
type Mode struct {
	Name       string
	Dynarec    bool
	Background bool

	// Bare steps a standalone emu.Emulator with no runner around it, the
	// baseline the runner's slicing is measured against.
	Bare bool
}

// DefaultModes returns the bare emulator, the interpreter and both
// dynarec schedulers.
func DefaultModes() []Mode {
	return []Mode{
		{Name: "emulator", Bare: true},
		{Name: "interpreter"},
		{Name: "dynarec", Dynarec: true},
		{Name: "dynarec-worker", Dynarec: true, Background: true},
	}
}

// HarnessConfig configures the benchmark harness.
type HarnessConfig struct {
	// Modes lists the engines every benchmark runs on
	Modes []Mode

	// Iterations repeats each run; results report the last one
	Iterations int

	// Output is where to write results (default: os.Stdout)
	Output io.Writer

	// Logger receives runner logs
	Logger logr.Logger

	// Verbose enables detailed output
	Verbose bool
}

// DefaultConfig returns a default harness configuration.
func DefaultConfig() HarnessConfig {
	return HarnessConfig{
		Modes:      DefaultModes(),
		Iterations: 1,
		Output:     os.Stdout,
		Logger:     logr.Discard(),
	}
}

// Harness runs benchmarks and reports results.
type Harness struct {
	config     HarnessConfig
	benchmarks []Benchmark
}

// NewHarness creates a new benchmark harness.
func NewHarness(config HarnessConfig) *Harness {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Iterations < 1 {
		config.Iterations = 1
	}
	if len(config.Modes) == 0 {
		config.Modes = DefaultModes()
	}
	return &Harness{config: config}
}

// AddBenchmark adds a benchmark to the harness.
func (h *Harness) AddBenchmark(b Benchmark) {
	h.benchmarks = append(h.benchmarks, b)
}

// AddBenchmarks adds multiple benchmarks to the harness.
func (h *Harness) AddBenchmarks(benchmarks []Benchmark) {
	h.benchmarks = append(h.benchmarks, benchmarks...)
}

// RunAll executes every benchmark in every mode.
func (h *Harness) RunAll(ctx context.Context) []BenchmarkResult {
	results := make([]BenchmarkResult, 0, len(h.benchmarks)*len(h.config.Modes))
	for _, bench := range h.benchmarks {
		for _, mode := range h.config.Modes {
			var result BenchmarkResult
			for i := 0; i < h.config.Iterations; i++ {
				result = h.runBenchmark(ctx, bench, mode)
			}
			if h.config.Verbose {
				_, _ = fmt.Fprintf(h.config.Output, "%s/%s: exit=%d insts=%d time=%v\n",
					result.Name, result.Mode, result.ExitCode, result.InstructionsRetired, result.WallTime)
			}
			results = append(results, result)
		}
	}
	return results
}

func (h *Harness) runBenchmark(ctx context.Context, bench Benchmark, mode Mode) BenchmarkResult {
	result := BenchmarkResult{Name: bench.Name, Description: bench.Description, Mode: mode.Name}
	fail := func(err error) BenchmarkResult {
		result.Error = err.Error()
		return result
	}
	if mode.Bare {
		return h.runBare(ctx, bench, result)
	}

	cfg := config.Default()
	cfg.Dynarec = mode.Dynarec
	cfg.BackgroundCompilation = mode.Background
	cfg.DumpDir = os.TempDir()

	cpu, err := runner.New(ctx, cfg,
		runner.WithLogger(h.config.Logger),
		runner.WithDumpOutput(io.Discard),
		runner.WithStdout(io.Discard),
	)
	if err != nil {
		return fail(err)
	}
	defer cpu.Close()

	if bench.Setup != nil {
		if err := bench.Setup(cpu.Memory); err != nil {
			return fail(err)
		}
	}
	prog, err := asm.New().AssembleTo(cpu.Memory, bench.Source)
	if err != nil {
		return fail(err)
	}
	if len(prog.Chunks) == 0 {
		return fail(fmt.Errorf("%s: no code", bench.Name))
	}

	thread := cpu.NewThread(prog.Chunks[0].Address, loader.DefaultStackTop)

	start := time.Now()
	err = cpu.Run(ctx, thread)
	result.WallTime = time.Since(start)
	result.InstructionsRetired = thread.InstructionCount
	result.ExitCode = thread.ExitCode
	result.FunctionsCompiled = cpu.Cache.Stats().Inserts
	if err != nil {
		return fail(err)
	}
	return result
}

func (h *Harness) runBare(ctx context.Context, bench Benchmark, result BenchmarkResult) BenchmarkResult {
	e := emu.NewEmulator(
		emu.WithEmulatorLogger(h.config.Logger),
		emu.WithStdout(io.Discard),
		emu.WithStderr(io.Discard),
	)
	if bench.Setup != nil {
		if err := bench.Setup(e.Memory()); err != nil {
			result.Error = err.Error()
			return result
		}
	}
	prog, err := asm.New().AssembleTo(e.Memory(), bench.Source)
	if err == nil && len(prog.Chunks) == 0 {
		err = fmt.Errorf("%s: no code", bench.Name)
	}
	var trampolines runner.Trampolines
	if err == nil {
		trampolines, err = runner.InstallTrampolines(e.Memory(), runner.DefaultTrampolineBase)
	}
	if err != nil {
		result.Error = err.Error()
		return result
	}

	thread := e.Thread()
	thread.SetPC(prog.Chunks[0].Address)
	thread.WriteReg(emu.RegSP, loader.DefaultStackTop)
	thread.WriteReg(emu.RegRA, trampolines.ThreadExit)

	start := time.Now()
	var step emu.StepResult
	for !step.Exited && step.Err == nil {
		if e.InstructionCount()%4096 == 0 && ctx.Err() != nil {
			step.Err = ctx.Err()
			break
		}
		step = e.Step()
	}
	result.WallTime = time.Since(start)
	result.InstructionsRetired = e.InstructionCount()
	result.ExitCode = step.ExitCode
	if step.Err != nil {
		result.Error = step.Err.Error()
	}
	return result
}

// PrintResults writes a human-readable report.
func (h *Harness) PrintResults(results []BenchmarkResult) {
	_, _ = fmt.Fprintln(h.config.Output, "=== pspsim Benchmark Results ===")
	_, _ = fmt.Fprintln(h.config.Output, "")

	for _, r := range results {
		_, _ = fmt.Fprintf(h.config.Output, "Benchmark: %s (%s)\n", r.Name, r.Mode)
		_, _ = fmt.Fprintf(h.config.Output, "  Description: %s\n", r.Description)
		_, _ = fmt.Fprintf(h.config.Output, "  Exit Code: %d\n", r.ExitCode)
		_, _ = fmt.Fprintf(h.config.Output, "  Instructions Retired: %d\n", r.InstructionsRetired)
		if r.FunctionsCompiled > 0 {
			_, _ = fmt.Fprintf(h.config.Output, "  Functions Compiled:   %d\n", r.FunctionsCompiled)
		}
		_, _ = fmt.Fprintf(h.config.Output, "  Throughput:           %.2f MIPS\n", r.MIPS())
		if r.Error != "" {
			_, _ = fmt.Fprintf(h.config.Output, "  Error: %s\n", r.Error)
		}
		_, _ = fmt.Fprintf(h.config.Output, "  Wall Time: %v\n", r.WallTime)
		_, _ = fmt.Fprintln(h.config.Output, "")
	}
}

// PrintCSV writes results in CSV format.
func (h *Harness) PrintCSV(results []BenchmarkResult) {
	_, _ = fmt.Fprintln(h.config.Output, "name,mode,instructions,functions,exit_code,wall_time_ns,error")
	for _, r := range results {
		_, _ = fmt.Fprintf(h.config.Output, "%s,%s,%d,%d,%d,%d,%q\n",
			r.Name, r.Mode, r.InstructionsRetired, r.FunctionsCompiled, r.ExitCode, r.WallTime.Nanoseconds(), r.Error)
	}
}

// PrintJSON writes results as an indented JSON array.
func (h *Harness) PrintJSON(results []BenchmarkResult) error {
	enc := json.NewEncoder(h.config.Output)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}
