// Package runner executes guest threads on the interpreter or the dynarec.
//
// A CPU is assembled from a config.Config: guest memory, the syscall
// table, the method cache, a compiler and the scheduler selected by the
// configuration. Threads run in time slices; between slices an optional
// tick hook lets an outer scheduler take over.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/sarchlab/pspsim/config"
	"github.com/sarchlab/pspsim/dynarec"
	"github.com/sarchlab/pspsim/dynarec/methodcache"
	"github.com/sarchlab/pspsim/emu"
)

// ErrInstructionLimit is returned when a thread exceeds the instruction
// limit set with WithInstructionLimit.
var ErrInstructionLimit = errors.New("runner: instruction limit reached")

// TickFunc runs between time slices. Returning an error stops Run.
type TickFunc func(ctx context.Context, t *emu.ThreadState) error

// CPU runs guest threads against one address space.
type CPU struct {
	Config    *config.Config
	Memory    *emu.Memory
	Syscalls  *emu.SyscallTable
	Processor *emu.Processor

	Cache     *methodcache.Cache[*dynarec.Function]
	Compiler  *dynarec.Compiler
	Scheduler dynarec.Scheduler

	Trampolines Trampolines

	tick     TickFunc
	limit    uint64
	dumpOut  io.Writer
	stdout   io.Writer
	nextID   int
	lastFunc *dynarec.Function

	// failed holds entry PCs whose compilation failed; they run on the
	// interpreter until their code is invalidated.
	failedMu sync.Mutex
	failed   map[uint32]struct{}

	log logr.Logger
}

// Option is a functional option for configuring a CPU.
type Option func(*CPU)

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(c *CPU) {
		c.log = log
	}
}

// WithTick sets the hook run between time slices.
func WithTick(fn TickFunc) Option {
	return func(c *CPU) {
		c.tick = fn
	}
}

// WithInstructionLimit stops Run once a thread has retired n
// instructions. 0 means no limit.
func WithInstructionLimit(n uint64) Option {
	return func(c *CPU) {
		c.limit = n
	}
}

// WithDumpOutput sets where fatal state dumps are written.
func WithDumpOutput(w io.Writer) Option {
	return func(c *CPU) {
		c.dumpOut = w
	}
}

// WithStdout sets the writer used by the guest debug output syscalls.
func WithStdout(w io.Writer) Option {
	return func(c *CPU) {
		c.stdout = w
	}
}

// New builds a CPU from cfg. The worker scheduler, when configured, lives
// until ctx is cancelled or Close is called.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*CPU, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &CPU{
		Config:  cfg,
		dumpOut: os.Stderr,
		stdout:  os.Stdout,
		failed:  make(map[uint32]struct{}),
		log:     logr.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}

	var memOpts []emu.MemoryOption
	if cfg.UncheckedMemory {
		memOpts = append(memOpts, emu.WithUncheckedAccess())
	}
	if cfg.LogMemoryWrites {
		memOpts = append(memOpts, emu.WithWriteLogging(c.log.WithName("memory")))
	}
	c.Memory = emu.NewMemory(memOpts...)

	c.Syscalls = emu.NewSyscallTable(
		emu.WithSyscallLogger(c.log.WithName("syscall")),
		emu.WithDebugSyscalls(cfg.DebugSyscalls),
		emu.WithRecentSyscalls(cfg.TraceLastSyscalls),
		emu.WithSyscallStdout(c.stdout),
	)
	c.Processor = emu.NewProcessor(c.Memory,
		emu.WithLogger(c.log),
		emu.WithSyscallTable(c.Syscalls),
	)

	c.Cache = methodcache.New[*dynarec.Function](methodcache.WithLogger(c.log.WithName("methodcache")))
	c.Cache.OnClearRange(func(uint32, uint32) { c.lastFunc = nil })
	c.Compiler = dynarec.NewCompiler(
		dynarec.WithLogger(c.log.WithName("dynarec")),
		dynarec.WithMaxInstructions(cfg.MaxFunctionInstructions),
		dynarec.WithTrace(cfg.TraceJIT),
		dynarec.WithPreciseMemory(!cfg.UncheckedMemory || cfg.LogMemoryWrites),
	)
	if cfg.BackgroundCompilation {
		c.Scheduler = dynarec.NewWorkerScheduler(ctx, c.Compiler, c.Memory, c.Cache,
			dynarec.WithSchedulerLogger(c.log.WithName("scheduler")))
	} else {
		c.Scheduler = dynarec.NewSyncScheduler(c.Compiler, c.Memory, c.Cache,
			dynarec.WithSchedulerLogger(c.log.WithName("scheduler")))
	}

	if cfg.InvalidateOnWrite {
		c.Memory.SetWriteHook(func(lo, hi uint32) { c.invalidate(lo, hi) })
	}

	trampolines, err := InstallTrampolines(c.Memory, DefaultTrampolineBase)
	if err != nil {
		_ = c.Scheduler.Close()
		return nil, err
	}
	c.Trampolines = trampolines

	return c, nil
}

// Close stops the compiler worker, if any.
func (c *CPU) Close() error {
	return c.Scheduler.Close()
}

// EmulatedTime converts the instructions t retired into guest time at the
// configured CPU clock, one instruction per cycle.
func (c *CPU) EmulatedTime(t *emu.ThreadState) time.Duration {
	return time.Duration(t.InstructionCount * 1000 / uint64(c.Config.CpuFrequencyMHz))
}

// NewThread creates a thread that starts at entry with the given stack.
// Returning from the entry function exits the thread with v0.
func (c *CPU) NewThread(entry, sp uint32) *emu.ThreadState {
	t := emu.NewThreadState(c.Processor, c.nextID)
	c.nextID++
	t.SetPC(entry)
	t.WriteReg(emu.RegSP, sp)
	t.WriteReg(emu.RegRA, c.Trampolines.ThreadExit)
	return t
}

// InvalidateCode drops compiled code overlapping [addr, addr+size).
func (c *CPU) InvalidateCode(addr, size uint32) int {
	if size == 0 {
		return 0
	}
	return c.invalidate(addr, addr+size-1)
}

func (c *CPU) invalidate(lo, hi uint32) int {
	c.forget(lo, hi)
	return c.Cache.InvalidateRange(lo, hi)
}

// Run executes t in slices until it halts, returning the first error. A
// fatal guest error is dumped before it is returned.
func (c *CPU) Run(ctx context.Context, t *emu.ThreadState) error {
	for !t.Halted {
		if _, err := c.RunSlice(ctx, t); err != nil {
			if emu.IsFatal(err) {
				c.Fatal(t, err)
			}
			return err
		}
		if c.limit > 0 && t.InstructionCount >= c.limit {
			return ErrInstructionLimit
		}
		if c.tick != nil {
			if err := c.tick(ctx, t); err != nil {
				return err
			}
		}
	}

	c.log.V(1).Info("thread halted", "thread", t.ID, "code", t.ExitCode, "instructions", t.InstructionCount)
	return nil
}

// RunSlice executes up to SliceInstructions instructions of t and returns
// how many were retired. The slice ends early when the thread halts or
// yields.
func (c *CPU) RunSlice(ctx context.Context, t *emu.ThreadState) (uint64, error) {
	budget := c.Config.SliceInstructions
	if c.limit > 0 {
		if t.InstructionCount >= c.limit {
			return 0, nil
		}
		budget = min(budget, c.limit-t.InstructionCount)
	}
	start := t.InstructionCount

	if !c.Config.Dynarec {
		err := t.Run(budget)
		return t.InstructionCount - start, err
	}

	for !t.Halted {
		if err := ctx.Err(); err != nil {
			return t.InstructionCount - start, err
		}
		remaining := budget - (t.InstructionCount - start)
		if remaining == 0 {
			break
		}

		fn, err := c.function(ctx, t.PC)
		if err != nil {
			return t.InstructionCount - start, err
		}

		if fn == nil || !fn.Covers(t.PC) {
			if err := t.Step(); err != nil {
				return t.InstructionCount - start, err
			}
			if t.ConsumeYield() {
				break
			}
			continue
		}

		if c.Config.TraceJal && fn != c.lastFunc {
			c.log.V(2).Info("enter function", "entry", fmt.Sprintf("0x%08x", fn.Entry),
				"pc", fmt.Sprintf("0x%08x", t.PC), "ra", fmt.Sprintf("0x%08x", t.ReadReg(emu.RegRA)))
		}
		c.lastFunc = fn

		_, reason, err := fn.Run(t, int(min(remaining, 1<<30)))
		if err != nil {
			return t.InstructionCount - start, err
		}
		if reason == dynarec.ExitYield {
			break
		}
	}

	return t.InstructionCount - start, nil
}

// function returns the compiled function owning pc, or nil when pc must
// be interpreted.
func (c *CPU) function(ctx context.Context, pc uint32) (*dynarec.Function, error) {
	if fn, ok := c.Cache.TryGetMethodAt(pc); ok {
		return fn, nil
	}

	c.failedMu.Lock()
	_, failed := c.failed[pc]
	c.failedMu.Unlock()
	if failed {
		return nil, nil
	}

	fn, err := c.Scheduler.GetFunctionForAddress(ctx, pc)
	if err == nil {
		return fn, nil
	}

	var lowering *dynarec.LoweringError
	if errors.As(err, &lowering) || emu.IsFatal(err) {
		c.log.V(1).Info("interpreting uncompilable code", "pc", fmt.Sprintf("0x%08x", pc), "err", err.Error())
		c.failedMu.Lock()
		c.failed[pc] = struct{}{}
		c.failedMu.Unlock()
		return nil, nil
	}
	return nil, err
}

// forget clears failed compilations in an invalidated range.
func (c *CPU) forget(lo, hi uint32) {
	c.failedMu.Lock()
	defer c.failedMu.Unlock()
	if len(c.failed) == 0 {
		return
	}
	for pc := range c.failed {
		if pc >= lo && pc <= hi {
			delete(c.failed, pc)
		}
	}
}
