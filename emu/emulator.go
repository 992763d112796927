// Package emu provides functional MIPS Allegrex emulation.
package emu

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/go-logr/logr"
)

// StepResult represents the result of executing a single instruction.
type StepResult struct {
	// Exited is true if the thread halted.
	Exited bool

	// ExitCode is the exit status if Exited is true.
	ExitCode int32

	// Err is set if an error occurred during execution.
	Err error
}

// Emulator is a single-thread interpreter harness around a Processor.
type Emulator struct {
	memory *Memory
	proc   *Processor
	thread *ThreadState

	stdout io.Writer
	stderr io.Writer
	log    logr.Logger

	memOpts         []MemoryOption
	syscalls        map[uint32]SyscallHandler
	maxInstructions uint64 // 0 means no limit
}

// EmulatorOption is a functional option for configuring the Emulator.
type EmulatorOption func(*Emulator)

// WithStdout sets the writer used by the debug output syscalls.
func WithStdout(w io.Writer) EmulatorOption {
	return func(e *Emulator) {
		e.stdout = w
	}
}

// WithStderr sets the writer for emulation errors.
func WithStderr(w io.Writer) EmulatorOption {
	return func(e *Emulator) {
		e.stderr = w
	}
}

// WithSyscallHandler registers a handler for a syscall code.
func WithSyscallHandler(code uint32, handler SyscallHandler) EmulatorOption {
	return func(e *Emulator) {
		e.syscalls[code] = handler
	}
}

// WithEmulatorLogger sets the logger.
func WithEmulatorLogger(log logr.Logger) EmulatorOption {
	return func(e *Emulator) {
		e.log = log
	}
}

// WithMemoryOptions passes options to the guest memory.
func WithMemoryOptions(opts ...MemoryOption) EmulatorOption {
	return func(e *Emulator) {
		e.memOpts = append(e.memOpts, opts...)
	}
}

// WithMaxInstructions sets the maximum number of instructions to execute.
// A value of 0 means no limit.
func WithMaxInstructions(max uint64) EmulatorOption {
	return func(e *Emulator) {
		e.maxInstructions = max
	}
}

// NewEmulator creates a new Allegrex emulator.
func NewEmulator(opts ...EmulatorOption) *Emulator {
	e := &Emulator{
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		log:      logr.Discard(),
		syscalls: make(map[uint32]SyscallHandler),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.memory = NewMemory(e.memOpts...)
	table := NewSyscallTable(WithSyscallLogger(e.log), WithSyscallStdout(e.stdout))
	for code, h := range e.syscalls {
		table.Register(code, h)
	}
	e.proc = NewProcessor(e.memory, WithLogger(e.log), WithSyscallTable(table))
	e.thread = NewThreadState(e.proc, 0)

	return e
}

// RegFile returns the emulator's register file.
func (e *Emulator) RegFile() *RegFile {
	return &e.thread.RegFile
}

// Memory returns the emulator's memory.
func (e *Emulator) Memory() *Memory {
	return e.memory
}

// Thread returns the emulated thread.
func (e *Emulator) Thread() *ThreadState {
	return e.thread
}

// Processor returns the shared processor state.
func (e *Emulator) Processor() *Processor {
	return e.proc
}

// InstructionCount returns the number of instructions executed.
func (e *Emulator) InstructionCount() uint64 {
	return e.thread.InstructionCount
}

// LoadProgram copies program words to entry and points PC at it.
func (e *Emulator) LoadProgram(entry uint32, program []uint32) error {
	buf := make([]byte, 4*len(program))
	for i, w := range program {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	if err := e.memory.Load(entry, buf); err != nil {
		return err
	}
	e.thread.SetPC(entry)
	return nil
}

// Step executes one instruction.
func (e *Emulator) Step() StepResult {
	if e.maxInstructions > 0 && e.thread.InstructionCount >= e.maxInstructions {
		return StepResult{
			Err: fmt.Errorf("max instructions reached"),
		}
	}

	if err := e.thread.Step(); err != nil {
		return StepResult{Err: err}
	}

	if e.thread.Halted {
		return StepResult{Exited: true, ExitCode: e.thread.ExitCode}
	}
	return StepResult{}
}

// Run executes until the thread halts or an error occurs and returns the
// exit code, or -1 on error.
func (e *Emulator) Run() int32 {
	for {
		result := e.Step()
		if result.Exited {
			return result.ExitCode
		}
		if result.Err != nil {
			_, _ = fmt.Fprintf(e.stderr, "Emulation error: %v\n", result.Err)
			return -1
		}
	}
}
