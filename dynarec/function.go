package dynarec

import (
	"fmt"

	"github.com/sarchlab/pspsim/emu"
	"github.com/sarchlab/pspsim/insts"
)

// ExitReason tells why Function.Run returned.
type ExitReason int

// Exit reasons.
const (
	// ExitLeft means the PC reached code the function does not contain.
	ExitLeft ExitReason = iota
	// ExitBudget means the instruction budget ran out.
	ExitBudget
	// ExitHalted means the thread halted.
	ExitHalted
	// ExitYield means a syscall asked the thread to yield.
	ExitYield
	// ExitError means an instruction failed. PC points at it.
	ExitError
)

func (r ExitReason) String() string {
	switch r {
	case ExitLeft:
		return "left"
	case ExitBudget:
		return "budget"
	case ExitHalted:
		return "halted"
	case ExitYield:
		return "yield"
	case ExitError:
		return "error"
	}
	return fmt.Sprintf("ExitReason(%d)", int(r))
}

// Function is a compiled unit covering the guest words [MinPC, MaxPC].
// Words inside the range that were never reached are gaps: Run leaves the
// function when it meets one.
type Function struct {
	Entry   uint32
	Program *Program

	min, max uint32
	ops      []op
}

// MinPC returns the lowest covered address.
func (f *Function) MinPC() uint32 { return f.min }

// MaxPC returns the address of the last covered word.
func (f *Function) MaxPC() uint32 { return f.max }

// Covers reports whether pc holds an instruction compiled into f.
func (f *Function) Covers(pc uint32) bool {
	return pc >= f.min && pc <= f.max && pc&3 == 0 && f.ops[(pc-f.min)>>2].kind != opGap
}

// Dump renders the function IR as a tree.
func (f *Function) Dump() string {
	return f.Program.String()
}

// Run executes compiled code starting at t.PC for at most budget
// instructions. It returns the number of instructions retired and why it
// stopped. PC and NextPC are exact on return.
func (f *Function) Run(t *emu.ThreadState, budget int) (n int, reason ExitReason, err error) {
	pc, next := t.PC, t.NextPC

	for n < budget {
		if pc < f.min || pc > f.max || pc&3 != 0 {
			break
		}
		o := &f.ops[(pc-f.min)>>2]
		if o.kind == opGap {
			break
		}

		cur, curNext := pc, next
		pc, next = next, next+4

		switch o.kind {
		case opPlain:
			if err := o.exec(t); err != nil {
				t.PC, t.NextPC = cur, curNext
				return n, ExitError, withPC(err, cur)
			}

		case opBranch:
			taken := o.cond(t)
			if o.link != noLink {
				t.WriteReg(o.link, cur+8)
			}
			switch {
			case taken:
				next = o.target
			case o.likely:
				pc = next
				next = pc + 4
			}

		case opJump:
			if o.link != noLink {
				t.WriteReg(o.link, cur+8)
			}
			next = o.target

		case opJumpReg:
			target := t.ReadReg(o.rs)
			if o.link != noLink {
				t.WriteReg(o.link, cur+8)
			}
			next = target

		case opPrecise:
			t.PC, t.NextPC = pc, next
			if err := o.handler(t, o.inst, cur); err != nil {
				t.PC, t.NextPC = cur, curNext
				return n, ExitError, withPC(err, cur)
			}
			pc, next = t.PC, t.NextPC
		}

		t.InstructionCount++
		n++
		if o.prefix {
			t.ResetPrefixes()
		}

		if o.kind == opPrecise {
			if t.Halted {
				t.PC, t.NextPC = pc, next
				return n, ExitHalted, nil
			}
			if t.ConsumeYield() {
				t.PC, t.NextPC = pc, next
				return n, ExitYield, nil
			}
		}
	}

	t.PC, t.NextPC = pc, next
	if n >= budget {
		return n, ExitBudget, nil
	}
	return n, ExitLeft, nil
}

// compile-time description of one lowered instruction.
type opKind uint8

const (
	opGap opKind = iota
	opPlain
	opPrecise
	opBranch
	opJump
	opJumpReg
)

const noLink = 0xFF

type op struct {
	kind   opKind
	prefix bool

	exec func(t *emu.ThreadState) error

	handler emu.Handler
	inst    *insts.Instruction

	cond   func(t *emu.ThreadState) bool
	target uint32
	rs     uint8
	link   uint8
	likely bool
}
