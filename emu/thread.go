// Package emu provides functional MIPS Allegrex emulation.
package emu

import (
	"github.com/go-logr/logr"

	"github.com/sarchlab/pspsim/insts"
)

// Processor is the state shared by all guest threads: the address space,
// the syscall table and the decoder.
type Processor struct {
	Memory   AddressSpace
	Syscalls *SyscallTable
	Decoder  *insts.Decoder
	Log      logr.Logger

	unchecked bool
}

// ProcessorOption is a functional option for configuring a Processor.
type ProcessorOption func(*Processor)

// WithLogger sets the logger used by the processor and its threads.
func WithLogger(log logr.Logger) ProcessorOption {
	return func(p *Processor) {
		p.Log = log
	}
}

// WithSyscallTable replaces the default syscall table.
func WithSyscallTable(table *SyscallTable) ProcessorOption {
	return func(p *Processor) {
		p.Syscalls = table
	}
}

// NewProcessor creates a processor over the given address space.
func NewProcessor(mem AddressSpace, opts ...ProcessorOption) *Processor {
	p := &Processor{
		Memory:  mem,
		Decoder: insts.NewDecoder(),
		Log:     logr.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.Syscalls == nil {
		p.Syscalls = NewSyscallTable(WithSyscallLogger(p.Log))
	}
	if m, ok := mem.(interface{ Unchecked() bool }); ok {
		p.unchecked = m.Unchecked()
	}
	return p
}

// UncheckedMemory reports whether memory accesses can never fault.
func (p *Processor) UncheckedMemory() bool {
	return p.unchecked
}

// HaltReason records why a thread stopped.
type HaltReason int

// Halt reasons.
const (
	NotHalted HaltReason = iota
	HaltExit
	HaltFinalize
	HaltInstruction
	HaltFatal
)

// ThreadState is the architectural state of one guest thread together
// with the execution units that operate on it.
type ThreadState struct {
	RegFile

	Proc *Processor
	ID   int

	// Halted is set once the thread has stopped for good.
	Halted     bool
	HaltReason HaltReason
	ExitCode   int32

	// InstructionCount counts retired instructions.
	InstructionCount uint64

	yield bool
	inst  insts.Instruction

	alu        *ALU
	lsu        *LoadStoreUnit
	branchUnit *BranchUnit
	fpu        *FPU
	vfpu       *VFPU
}

// NewThreadState creates a thread on the given processor.
func NewThreadState(proc *Processor, id int) *ThreadState {
	t := &ThreadState{Proc: proc, ID: id}
	t.ResetPrefixes()
	t.alu = NewALU(&t.RegFile)
	t.lsu = NewLoadStoreUnit(&t.RegFile, proc.Memory)
	t.branchUnit = NewBranchUnit(&t.RegFile)
	t.fpu = NewFPU(&t.RegFile)
	t.vfpu = NewVFPU(&t.RegFile, proc.Memory)
	return t
}

// Exit halts the thread with an exit code.
func (t *ThreadState) Exit(code int32) {
	t.halt(HaltExit, code)
}

// Abort halts the thread after an unrecoverable error.
func (t *ThreadState) Abort() {
	t.halt(HaltFatal, -1)
}

func (t *ThreadState) halt(reason HaltReason, code int32) {
	t.Halted = true
	t.HaltReason = reason
	t.ExitCode = code
}

// Yield asks the running engine to return to its caller after the current
// instruction.
func (t *ThreadState) Yield() {
	t.yield = true
}

// ConsumeYield reports and clears a pending yield request.
func (t *ThreadState) ConsumeYield() bool {
	y := t.yield
	t.yield = false
	return y
}

// Memory returns the thread's address space.
func (t *ThreadState) Memory() AddressSpace {
	return t.Proc.Memory
}

// Arg returns the n-th integer argument register (a0..a3, then t0..t3).
func (t *ThreadState) Arg(n int) uint32 {
	return t.ReadReg(RegA0 + uint8(n))
}

// Return sets the integer return value register.
func (t *ThreadState) Return(v uint32) {
	t.WriteReg(RegV0, v)
}
