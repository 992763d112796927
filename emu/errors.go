// Package emu provides functional MIPS Allegrex emulation.
package emu

import (
	"errors"
	"fmt"

	"github.com/sarchlab/pspsim/insts"
)

// UnimplementedInstructionError reports an instruction that has no
// semantic handler. It terminates the current step or compilation.
type UnimplementedInstructionError struct {
	PC   uint32
	Word uint32
	Op   insts.Op
}

func (e *UnimplementedInstructionError) Error() string {
	return fmt.Sprintf("unimplemented instruction 0x%08x (%s) at 0x%08x", e.Word, e.Op, e.PC)
}

// MemoryFaultError reports an access to an unmapped or misaligned guest
// address.
type MemoryFaultError struct {
	PC         uint32
	Addr       uint32
	Size       int
	Write      bool
	Misaligned bool
}

func (e *MemoryFaultError) Error() string {
	kind := "read"
	if e.Write {
		kind = "write"
	}
	reason := "invalid address"
	if e.Misaligned {
		reason = "misaligned address"
	}
	return fmt.Sprintf("%s of %d bytes at %s 0x%08x (pc=0x%08x)", kind, e.Size, reason, e.Addr, e.PC)
}

// UnhandledSyscallError reports a syscall code with no registered handler.
type UnhandledSyscallError struct {
	PC   uint32
	Code uint32
}

func (e *UnhandledSyscallError) Error() string {
	return fmt.Sprintf("unhandled syscall 0x%x at 0x%08x", e.Code, e.PC)
}

// BreakError reports a break instruction.
type BreakError struct {
	PC   uint32
	Code uint32
}

func (e *BreakError) Error() string {
	return fmt.Sprintf("break 0x%x at 0x%08x", e.Code, e.PC)
}

// IsFatal reports whether err terminates the guest thread that raised it.
func IsFatal(err error) bool {
	var (
		unimpl  *UnimplementedInstructionError
		fault   *MemoryFaultError
		syscall *UnhandledSyscallError
		brk     *BreakError
	)
	return errors.As(err, &unimpl) ||
		errors.As(err, &fault) ||
		errors.As(err, &syscall) ||
		errors.As(err, &brk)
}

// withPC stamps the faulting PC onto errors that carry one.
func withPC(err error, pc uint32) error {
	var fault *MemoryFaultError
	if errors.As(err, &fault) {
		fault.PC = pc
	}
	return err
}
