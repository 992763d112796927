// Package emu provides functional MIPS Allegrex emulation.
package emu

import (
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/go-logr/logr"
)

// Reserved syscall codes.
const (
	// NativeCallCode invokes the host delegate whose id is stored in the
	// word following the syscall, then returns to ra.
	NativeCallCode uint32 = 0x1234

	// ThreadExitCode terminates the calling thread with the exit code in v0.
	ThreadExitCode uint32 = 0x7777

	// FinalizeCallbackCode marks the end of a host-initiated callback.
	FinalizeCallbackCode uint32 = 0x7778
)

// Debug output syscalls.
const (
	EmitIntCode    uint32 = 0x2000
	EmitUIntCode   uint32 = 0x2001
	EmitFloatCode  uint32 = 0x2002
	EmitStringCode uint32 = 0x2003
	EmitHexCode    uint32 = 0x2004
)

const defaultRecentSyscalls = 10

// SyscallHandler services a syscall raised by a guest thread. On entry PC
// holds the syscall address and NextPC the following word. A handler that
// leaves PC unchanged resumes execution normally; one that changes PC
// redirects the thread.
type SyscallHandler interface {
	HandleSyscall(t *ThreadState, code uint32) error
}

// SyscallFunc adapts a function to SyscallHandler.
type SyscallFunc func(t *ThreadState, code uint32) error

// HandleSyscall calls f.
func (f SyscallFunc) HandleSyscall(t *ThreadState, code uint32) error {
	return f(t, code)
}

// NativeFunc is a host function callable from guest code.
type NativeFunc func(t *ThreadState) error

// SyscallRecord describes one dispatched syscall.
type SyscallRecord struct {
	Code uint32
	PC   uint32
	RA   uint32
}

// SyscallTable dispatches syscall codes to handlers.
type SyscallTable struct {
	mu        sync.RWMutex
	handlers  map[uint32]SyscallHandler
	delegates map[uint32]NativeFunc

	recent     []SyscallRecord
	recentNext int
	recentLen  int

	debug  bool
	log    logr.Logger
	stdout io.Writer
}

// SyscallTableOption is a functional option for configuring a SyscallTable.
type SyscallTableOption func(*SyscallTable)

// WithSyscallLogger sets the logger.
func WithSyscallLogger(log logr.Logger) SyscallTableOption {
	return func(s *SyscallTable) {
		s.log = log
	}
}

// WithDebugSyscalls logs every dispatched syscall.
func WithDebugSyscalls(debug bool) SyscallTableOption {
	return func(s *SyscallTable) {
		s.debug = debug
	}
}

// WithRecentSyscalls sets how many dispatched syscalls Recent keeps.
func WithRecentSyscalls(n int) SyscallTableOption {
	return func(s *SyscallTable) {
		s.recent = make([]SyscallRecord, max(n, 1))
	}
}

// WithSyscallStdout sets the writer used by the debug output syscalls.
func WithSyscallStdout(w io.Writer) SyscallTableOption {
	return func(s *SyscallTable) {
		s.stdout = w
	}
}

// NewSyscallTable creates a syscall table with the reserved codes
// registered.
func NewSyscallTable(opts ...SyscallTableOption) *SyscallTable {
	s := &SyscallTable{
		handlers:  make(map[uint32]SyscallHandler),
		delegates: make(map[uint32]NativeFunc),
		log:       logr.Discard(),
		stdout:    os.Stdout,
		recent:    make([]SyscallRecord, defaultRecentSyscalls),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.RegisterFunc(NativeCallCode, s.nativeCall)
	s.RegisterFunc(ThreadExitCode, func(t *ThreadState, _ uint32) error {
		t.Exit(int32(t.ReadReg(RegV0)))
		return nil
	})
	s.RegisterFunc(FinalizeCallbackCode, func(t *ThreadState, _ uint32) error {
		t.halt(HaltFinalize, int32(t.ReadReg(RegV0)))
		return nil
	})
	s.registerDebugOutput()

	return s
}

// Register installs a handler for a code, replacing any previous one.
func (s *SyscallTable) Register(code uint32, h SyscallHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[code] = h
}

// RegisterFunc installs a function handler for a code.
func (s *SyscallTable) RegisterFunc(code uint32, f func(t *ThreadState, code uint32) error) {
	s.Register(code, SyscallFunc(f))
}

// RegisterNative installs a host delegate reachable through NativeCallCode.
func (s *SyscallTable) RegisterNative(id uint32, f NativeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delegates[id] = f
}

// Dispatch services a syscall for thread t.
func (s *SyscallTable) Dispatch(t *ThreadState, code uint32) error {
	s.mu.Lock()
	s.recent[s.recentNext] = SyscallRecord{Code: code, PC: t.PC, RA: t.ReadReg(RegRA)}
	s.recentNext = (s.recentNext + 1) % len(s.recent)
	if s.recentLen < len(s.recent) {
		s.recentLen++
	}
	h, ok := s.handlers[code]
	s.mu.Unlock()

	if s.debug {
		s.log.Info("syscall", "code", fmt.Sprintf("0x%x", code), "pc", fmt.Sprintf("0x%08x", t.PC), "thread", t.ID)
	}

	if !ok {
		return &UnhandledSyscallError{PC: t.PC, Code: code}
	}
	return h.HandleSyscall(t, code)
}

// Recent returns the last dispatched syscalls, oldest first.
func (s *SyscallTable) Recent() []SyscallRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SyscallRecord, 0, s.recentLen)
	size := len(s.recent)
	start := (s.recentNext - s.recentLen + size) % size
	for i := 0; i < s.recentLen; i++ {
		out = append(out, s.recent[(start+i)%size])
	}
	return out
}

func (s *SyscallTable) nativeCall(t *ThreadState, code uint32) error {
	id, err := t.Proc.Memory.Read32(t.PC + 4)
	if err != nil {
		return err
	}

	s.mu.RLock()
	f, ok := s.delegates[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("native delegate 0x%x: %w", id, &UnhandledSyscallError{PC: t.PC, Code: code})
	}

	if err := f(t); err != nil {
		return err
	}
	if !t.Halted {
		t.SetPC(t.ReadReg(RegRA))
	}
	return nil
}

func (s *SyscallTable) registerDebugOutput() {
	s.RegisterFunc(EmitIntCode, func(t *ThreadState, _ uint32) error {
		_, err := fmt.Fprintf(s.stdout, "emitInt: %d\n", int32(t.Arg(0)))
		return err
	})
	s.RegisterFunc(EmitUIntCode, func(t *ThreadState, _ uint32) error {
		_, err := fmt.Fprintf(s.stdout, "emitUInt: 0x%08X\n", t.Arg(0))
		return err
	})
	s.RegisterFunc(EmitFloatCode, func(t *ThreadState, _ uint32) error {
		_, err := fmt.Fprintf(s.stdout, "emitFloat: %.5f\n", math.Float32frombits(t.ReadFPRBits(12)))
		return err
	})
	s.RegisterFunc(EmitStringCode, func(t *ThreadState, _ uint32) error {
		str, err := ReadCString(t.Proc.Memory, t.Arg(0))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(s.stdout, "emitString: '%s'\n", str)
		return err
	})
	s.RegisterFunc(EmitHexCode, func(t *ThreadState, _ uint32) error {
		buf, err := t.Proc.Memory.Slice(t.Arg(0), int(t.Arg(1)))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(s.stdout, "emitHex: %x\n", buf)
		return err
	})
}

// ReadCString reads a NUL-terminated string from guest memory.
func ReadCString(mem AddressSpace, addr uint32) (string, error) {
	var buf []byte
	for {
		c, err := mem.Read8(addr)
		if err != nil {
			return "", err
		}
		if c == 0 {
			return string(buf), nil
		}
		buf = append(buf, c)
		addr++
	}
}
