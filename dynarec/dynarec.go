// Package dynarec translates guest code into cached host functions.
//
// The Compiler scans guest instructions from an entry PC, following
// branches and their delay slots, and lowers every reached instruction
// into a pre-bound Go closure. The resulting Function runs the closures
// with the PC kept in locals, flushing it to the thread state only before
// instructions that declare insts.FlagNeedsPC and when it returns.
//
// Functions are cached in a methodcache.Cache keyed by every PC they
// cover. A Scheduler compiles on cache misses, either inline
// (SyncScheduler) or on a background goroutine (WorkerScheduler).
//
// Usage:
//
//	cache := methodcache.New[*dynarec.Function]()
//	sched := dynarec.NewSyncScheduler(dynarec.NewCompiler(), memory, cache)
//	fn, err := sched.GetFunctionForAddress(ctx, thread.PC)
//	n, reason, err := fn.Run(thread, 1000)
package dynarec

import (
	"errors"
	"fmt"

	"github.com/sarchlab/pspsim/emu"
	"github.com/sarchlab/pspsim/insts"
)

// Reader is the guest memory instructions are fetched from.
type Reader interface {
	Read32(addr uint32) (uint32, error)
}

// LoweringError reports an instruction the compiler cannot translate. The
// whole function fails; nothing is cached.
type LoweringError struct {
	PC     uint32
	Op     insts.Op
	Reason string
	Err    error
}

func (e *LoweringError) Error() string {
	msg := fmt.Sprintf("cannot lower %s at 0x%08x", e.Op, e.PC)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LoweringError) Unwrap() error { return e.Err }

// ErrSchedulerClosed is returned for requests made after or interrupted by
// Close.
var ErrSchedulerClosed = errors.New("dynarec: scheduler closed")

func withPC(err error, pc uint32) error {
	var fault *emu.MemoryFaultError
	if errors.As(err, &fault) {
		fault.PC = pc
	}
	return err
}
