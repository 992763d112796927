package dynarec

import (
	"github.com/sarchlab/pspsim/emu"
	"github.com/sarchlab/pspsim/insts"
)

// lower turns the program into a Function with one op per covered word.
func lower(prog *Program) (*Function, error) {
	if len(prog.Blocks) == 0 {
		return nil, &LoweringError{PC: prog.Entry, Reason: "empty function"}
	}

	first := prog.Blocks[0]
	last := prog.Blocks[len(prog.Blocks)-1]
	f := &Function{
		Entry:   prog.Entry,
		Program: prog,
		min:     first.Start,
		max:     last.Last(),
	}
	f.ops = make([]op, (f.max-f.min)/4+1)

	for _, b := range prog.Blocks {
		for _, n := range b.Nodes {
			o, err := lowerNode(n)
			if err != nil {
				return nil, err
			}
			f.ops[(n.PC-f.min)/4] = o
		}
	}
	return f, nil
}

func lowerNode(n *Node) (op, error) {
	inst := n.Inst
	o := op{prefix: inst.Has(insts.FlagVPrefix), link: noLink}

	switch {
	case inst.Has(insts.FlagBranch):
		o.kind = opBranch
		o.target = inst.BranchTarget(n.PC)
		o.likely = inst.Has(insts.FlagLikely)
		o.cond = branchCondition(inst)
		if inst.Has(insts.FlagLink) {
			o.link = emu.RegRA
		}
		return o, nil

	case inst.Has(insts.FlagJump):
		o.kind = opJump
		o.target = inst.JumpTarget(n.PC)
		if inst.Has(insts.FlagLink) {
			o.link = emu.RegRA
		}
		return o, nil

	case inst.Has(insts.FlagJumpReg):
		o.kind = opJumpReg
		o.rs = inst.Rs
		if inst.Has(insts.FlagLink) {
			o.link = inst.Rd
		}
		return o, nil
	}

	h := emu.HandlerFor(inst.Op)
	if h == nil {
		return o, &LoweringError{PC: n.PC, Op: inst.Op, Reason: "no semantic handler"}
	}

	if n.SavePC {
		o.kind = opPrecise
		o.handler = h
		o.inst = inst
		return o, nil
	}

	o.kind = opPlain
	if exec := specialize(inst); exec != nil {
		o.exec = exec
		return o, nil
	}
	pc := n.PC
	o.exec = func(t *emu.ThreadState) error {
		return h(t, inst, pc)
	}
	return o, nil
}

func branchCondition(inst *insts.Instruction) func(t *emu.ThreadState) bool {
	rs, rt := inst.Rs, inst.Rt
	switch inst.Op {
	case insts.OpBEQ, insts.OpBEQL:
		if rs == rt {
			return func(*emu.ThreadState) bool { return true }
		}
		return func(t *emu.ThreadState) bool { return t.ReadReg(rs) == t.ReadReg(rt) }
	case insts.OpBNE, insts.OpBNEL:
		return func(t *emu.ThreadState) bool { return t.ReadReg(rs) != t.ReadReg(rt) }
	}
	op := inst.Op
	return func(t *emu.ThreadState) bool {
		return emu.BranchTaken(op, t.ReadReg(rs), t.ReadReg(rt), t.FPCond())
	}
}

func nop(*emu.ThreadState) error { return nil }

// specialize returns a closure with the operands of common integer
// instructions bound at compile time, or nil.
func specialize(inst *insts.Instruction) func(t *emu.ThreadState) error {
	rs, rt, rd := inst.Rs, inst.Rt, inst.Rd
	imm, immU, sa := uint32(inst.Imm), inst.ImmU, uint32(inst.Sa)

	switch inst.Op {
	case insts.OpADD, insts.OpADDU, insts.OpSUB, insts.OpSUBU,
		insts.OpAND, insts.OpOR, insts.OpXOR, insts.OpNOR,
		insts.OpSLT, insts.OpSLTU, insts.OpSLL, insts.OpSRL, insts.OpSRA,
		insts.OpSLLV, insts.OpSRLV, insts.OpSRAV, insts.OpMOVZ, insts.OpMOVN,
		insts.OpMFHI, insts.OpMFLO:
		if rd == 0 {
			return nop
		}
	case insts.OpADDI, insts.OpADDIU, insts.OpANDI, insts.OpORI, insts.OpXORI,
		insts.OpLUI, insts.OpSLTI, insts.OpSLTIU:
		if rt == 0 {
			return nop
		}
	}

	switch inst.Op {
	case insts.OpADD, insts.OpADDU:
		return func(t *emu.ThreadState) error {
			t.GPR[rd] = t.ReadReg(rs) + t.ReadReg(rt)
			return nil
		}
	case insts.OpSUB, insts.OpSUBU:
		return func(t *emu.ThreadState) error {
			t.GPR[rd] = t.ReadReg(rs) - t.ReadReg(rt)
			return nil
		}
	case insts.OpADDI, insts.OpADDIU:
		if rs == 0 {
			return func(t *emu.ThreadState) error {
				t.GPR[rt] = imm
				return nil
			}
		}
		return func(t *emu.ThreadState) error {
			t.GPR[rt] = t.GPR[rs] + imm
			return nil
		}
	case insts.OpLUI:
		v := immU << 16
		return func(t *emu.ThreadState) error {
			t.GPR[rt] = v
			return nil
		}
	case insts.OpORI:
		return func(t *emu.ThreadState) error {
			t.GPR[rt] = t.ReadReg(rs) | immU
			return nil
		}
	case insts.OpANDI:
		return func(t *emu.ThreadState) error {
			t.GPR[rt] = t.ReadReg(rs) & immU
			return nil
		}
	case insts.OpXORI:
		return func(t *emu.ThreadState) error {
			t.GPR[rt] = t.ReadReg(rs) ^ immU
			return nil
		}
	case insts.OpAND:
		return binary(rd, rs, rt, emu.And)
	case insts.OpOR:
		if rt == 0 {
			return func(t *emu.ThreadState) error {
				t.GPR[rd] = t.ReadReg(rs)
				return nil
			}
		}
		return binary(rd, rs, rt, emu.Or)
	case insts.OpXOR:
		return binary(rd, rs, rt, emu.Xor)
	case insts.OpNOR:
		return binary(rd, rs, rt, emu.Nor)
	case insts.OpSLT:
		return binary(rd, rs, rt, func(x, y uint32) uint32 { return emu.SetLess(x, y, true) })
	case insts.OpSLTU:
		return binary(rd, rs, rt, func(x, y uint32) uint32 { return emu.SetLess(x, y, false) })
	case insts.OpSLTI:
		return func(t *emu.ThreadState) error {
			t.GPR[rt] = emu.SetLess(t.ReadReg(rs), imm, true)
			return nil
		}
	case insts.OpSLTIU:
		return func(t *emu.ThreadState) error {
			t.GPR[rt] = emu.SetLess(t.ReadReg(rs), imm, false)
			return nil
		}
	case insts.OpSLL:
		if rt == 0 || sa == 0 {
			return move(rd, rt)
		}
		return func(t *emu.ThreadState) error {
			t.GPR[rd] = t.GPR[rt] << sa
			return nil
		}
	case insts.OpSRL:
		return func(t *emu.ThreadState) error {
			t.GPR[rd] = emu.ShiftRightLogical(t.ReadReg(rt), sa)
			return nil
		}
	case insts.OpSRA:
		return func(t *emu.ThreadState) error {
			t.GPR[rd] = emu.ShiftRightArith(t.ReadReg(rt), sa)
			return nil
		}
	case insts.OpSLLV:
		return shiftVar(rd, rt, rs, emu.ShiftLeft)
	case insts.OpSRLV:
		return shiftVar(rd, rt, rs, emu.ShiftRightLogical)
	case insts.OpSRAV:
		return shiftVar(rd, rt, rs, emu.ShiftRightArith)
	case insts.OpMOVZ:
		return func(t *emu.ThreadState) error {
			if t.ReadReg(rt) == 0 {
				t.GPR[rd] = t.ReadReg(rs)
			}
			return nil
		}
	case insts.OpMOVN:
		return func(t *emu.ThreadState) error {
			if t.ReadReg(rt) != 0 {
				t.GPR[rd] = t.ReadReg(rs)
			}
			return nil
		}
	case insts.OpMFHI:
		return func(t *emu.ThreadState) error {
			t.GPR[rd] = t.HI
			return nil
		}
	case insts.OpMFLO:
		return func(t *emu.ThreadState) error {
			t.GPR[rd] = t.LO
			return nil
		}
	case insts.OpSYNC, insts.OpCACHE:
		return nop
	}
	return nil
}

func binary(rd, rs, rt uint8, fn func(x, y uint32) uint32) func(t *emu.ThreadState) error {
	return func(t *emu.ThreadState) error {
		t.GPR[rd] = fn(t.ReadReg(rs), t.ReadReg(rt))
		return nil
	}
}

func shiftVar(rd, rt, rs uint8, fn func(v, n uint32) uint32) func(t *emu.ThreadState) error {
	return func(t *emu.ThreadState) error {
		t.GPR[rd] = fn(t.ReadReg(rt), t.ReadReg(rs)&31)
		return nil
	}
}

func move(rd, rs uint8) func(t *emu.ThreadState) error {
	return func(t *emu.ThreadState) error {
		t.GPR[rd] = t.ReadReg(rs)
		return nil
	}
}
