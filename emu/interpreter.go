// Package emu provides functional MIPS Allegrex emulation.
package emu

import (
	"math"

	"github.com/sarchlab/pspsim/insts"
)

// Handler executes the semantics of one instruction located at pc. On
// entry PC holds the delay slot address (the old NextPC) and NextPC the
// word after it.
type Handler func(t *ThreadState, inst *insts.Instruction, pc uint32) error

var handlers [256]Handler

// HandlerFor returns the semantic handler of an opcode, or nil when the
// instruction is not implemented.
func HandlerFor(op insts.Op) Handler {
	if int(op) >= len(handlers) {
		return nil
	}
	return handlers[op]
}

// Step fetches, decodes and executes the instruction at PC.
func (t *ThreadState) Step() error {
	if t.Halted {
		return nil
	}
	pc := t.PC
	if !t.Proc.Memory.IsRangeValid(pc, 4) {
		return &MemoryFaultError{PC: pc, Addr: pc, Size: 4}
	}
	word, err := t.Proc.Memory.Read32(pc)
	if err != nil {
		return withPC(err, pc)
	}
	t.Proc.Decoder.DecodeInto(word, &t.inst)
	return t.Execute(&t.inst)
}

// Execute runs one decoded instruction as if it were located at PC. On
// error PC and NextPC are left pointing at the faulting instruction.
func (t *ThreadState) Execute(inst *insts.Instruction) error {
	pc, next := t.PC, t.NextPC
	h := HandlerFor(inst.Op)
	if h == nil {
		return &UnimplementedInstructionError{PC: pc, Word: uint32(inst.Raw), Op: inst.Op}
	}

	t.PC = next
	t.NextPC = next + 4
	if err := h(t, inst, pc); err != nil {
		t.PC, t.NextPC = pc, next
		return withPC(err, pc)
	}

	t.InstructionCount++
	if inst.Has(insts.FlagVPrefix) {
		t.ResetPrefixes()
	}
	return nil
}

// Run steps the thread until it halts, yields, faults, or has executed
// max instructions (0 means no limit).
func (t *ThreadState) Run(max uint64) error {
	for n := uint64(0); max == 0 || n < max; n++ {
		if t.Halted {
			return nil
		}
		if err := t.Step(); err != nil {
			return err
		}
		if t.ConsumeYield() {
			return nil
		}
	}
	return nil
}

func aluRRR(op func(x, y uint32) uint32) Handler {
	return func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
		t.alu.Logic(inst.Rd, inst.Rs, inst.Rt, op)
		return nil
	}
}

func addu(t *ThreadState, inst *insts.Instruction, _ uint32) error {
	t.alu.ADDU(inst.Rd, inst.Rs, inst.Rt)
	return nil
}

func subu(t *ThreadState, inst *insts.Instruction, _ uint32) error {
	t.alu.SUBU(inst.Rd, inst.Rs, inst.Rt)
	return nil
}

func addiu(t *ThreadState, inst *insts.Instruction, _ uint32) error {
	t.alu.ADDIU(inst.Rt, inst.Rs, inst.Imm)
	return nil
}

func aluRRI(op func(x, y uint32) uint32, zeroExtend bool) Handler {
	return func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
		imm := uint32(inst.Imm)
		if zeroExtend {
			imm = inst.ImmU
		}
		t.WriteReg(inst.Rt, op(t.ReadReg(inst.Rs), imm))
		return nil
	}
}

func shiftImm(op func(v, n uint32) uint32) Handler {
	return func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
		t.alu.Shift(inst.Rd, inst.Rt, uint32(inst.Sa), op)
		return nil
	}
}

func shiftVar(op func(v, n uint32) uint32) Handler {
	return func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
		t.alu.Shift(inst.Rd, inst.Rt, t.ReadReg(inst.Rs), op)
		return nil
	}
}

func multDiv(op func(x, y, hi, lo uint32) (uint32, uint32)) Handler {
	return func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
		t.alu.MultDiv(inst.Rs, inst.Rt, op)
		return nil
	}
}

func unaryRT(op func(v uint32) uint32) Handler {
	return func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
		t.WriteReg(inst.Rd, op(t.ReadReg(inst.Rt)))
		return nil
	}
}

func unaryRS(op func(v uint32) uint32) Handler {
	return func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
		t.WriteReg(inst.Rd, op(t.ReadReg(inst.Rs)))
		return nil
	}
}

func memOp(op func(lsu *LoadStoreUnit, rt uint8, addr uint32) error) Handler {
	return func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
		return op(t.lsu, inst.Rt, t.lsu.Address(inst.Rs, inst.Imm))
	}
}

func branch(t *ThreadState, inst *insts.Instruction, pc uint32) error {
	t.branchUnit.Branch(inst, pc, inst.BranchTarget(pc), t.branchUnit.Taken(inst))
	return nil
}

func fpuArith(op func(a, b float32) float32) Handler {
	return func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
		t.fpu.Arith(inst.Fd, inst.Fs, inst.Ft, op)
		return nil
	}
}

func fpuUnary(op func(a float32) float32) Handler {
	return func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
		t.fpu.Unary(inst.Fd, inst.Fs, op)
		return nil
	}
}

func fpuRound(t *ThreadState, inst *insts.Instruction, _ uint32) error {
	t.fpu.ToWord(inst.Fd, inst.Fs, roundingModes[inst.Op])
	return nil
}

func vfpuBinary(op func(a, b float32) float32) Handler {
	return func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
		t.vfpu.Binary(inst, op)
		return nil
	}
}

func vfpuUnary(op func(a float32) float32) Handler {
	return func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
		t.vfpu.Unary(inst, op)
		return nil
	}
}

func vfpuPrefix(t *ThreadState, inst *insts.Instruction, _ uint32) error {
	t.vfpu.SetPrefix(inst.Op, inst.ImmU)
	return nil
}

func nop(*ThreadState, *insts.Instruction, uint32) error { return nil }

// syscall runs the handler with PC at the syscall itself. A handler that
// leaves PC alone resumes at the saved successor, which keeps any pending
// delay slot intact.
func syscall(t *ThreadState, inst *insts.Instruction, pc uint32) error {
	next := t.PC
	t.PC, t.NextPC = pc, pc+4
	if err := t.Proc.Syscalls.Dispatch(t, inst.Code); err != nil {
		return err
	}
	if t.PC == pc {
		t.PC, t.NextPC = next, next+4
	}
	return nil
}

func init() {
	h := map[insts.Op]Handler{
		insts.OpADD:   addu,
		insts.OpADDU:  addu,
		insts.OpSUB:   subu,
		insts.OpSUBU:  subu,
		insts.OpAND:   aluRRR(And),
		insts.OpOR:    aluRRR(Or),
		insts.OpXOR:   aluRRR(Xor),
		insts.OpNOR:   aluRRR(Nor),
		insts.OpMAX:   aluRRR(Max),
		insts.OpMIN:   aluRRR(Min),
		insts.OpADDI:  addiu,
		insts.OpADDIU: addiu,
		insts.OpANDI:  aluRRI(And, true),
		insts.OpORI:   aluRRI(Or, true),
		insts.OpXORI:  aluRRI(Xor, true),
		insts.OpSLTI:  aluRRI(func(x, y uint32) uint32 { return SetLess(x, y, true) }, false),
		insts.OpSLTIU: aluRRI(func(x, y uint32) uint32 { return SetLess(x, y, false) }, false),
		insts.OpSLT: func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
			t.alu.SLT(inst.Rd, t.ReadReg(inst.Rs), t.ReadReg(inst.Rt), true)
			return nil
		},
		insts.OpSLTU: func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
			t.alu.SLT(inst.Rd, t.ReadReg(inst.Rs), t.ReadReg(inst.Rt), false)
			return nil
		},
		insts.OpLUI: func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
			t.WriteReg(inst.Rt, inst.ImmU<<16)
			return nil
		},

		insts.OpSLL:   shiftImm(ShiftLeft),
		insts.OpSRL:   shiftImm(ShiftRightLogical),
		insts.OpSRA:   shiftImm(ShiftRightArith),
		insts.OpROTR:  shiftImm(RotateRight),
		insts.OpSLLV:  shiftVar(ShiftLeft),
		insts.OpSRLV:  shiftVar(ShiftRightLogical),
		insts.OpSRAV:  shiftVar(ShiftRightArith),
		insts.OpROTRV: shiftVar(RotateRight),

		insts.OpMOVZ: func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
			if t.ReadReg(inst.Rt) == 0 {
				t.WriteReg(inst.Rd, t.ReadReg(inst.Rs))
			}
			return nil
		},
		insts.OpMOVN: func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
			if t.ReadReg(inst.Rt) != 0 {
				t.WriteReg(inst.Rd, t.ReadReg(inst.Rs))
			}
			return nil
		},

		insts.OpMULT:  multDiv(Mult),
		insts.OpMULTU: multDiv(Multu),
		insts.OpDIV:   multDiv(Div),
		insts.OpDIVU:  multDiv(Divu),
		insts.OpMADD:  multDiv(Madd),
		insts.OpMADDU: multDiv(Maddu),
		insts.OpMSUB:  multDiv(Msub),
		insts.OpMSUBU: multDiv(Msubu),
		insts.OpMFHI: func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
			t.WriteReg(inst.Rd, t.HI)
			return nil
		},
		insts.OpMFLO: func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
			t.WriteReg(inst.Rd, t.LO)
			return nil
		},
		insts.OpMTHI: func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
			t.HI = t.ReadReg(inst.Rs)
			return nil
		},
		insts.OpMTLO: func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
			t.LO = t.ReadReg(inst.Rs)
			return nil
		},

		insts.OpCLZ:    unaryRS(Clz),
		insts.OpCLO:    unaryRS(Clo),
		insts.OpSEB:    unaryRT(Seb),
		insts.OpSEH:    unaryRT(Seh),
		insts.OpWSBH:   unaryRT(Wsbh),
		insts.OpWSBW:   unaryRT(Wsbw),
		insts.OpBITREV: unaryRT(Bitrev),
		insts.OpEXT: func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
			t.WriteReg(inst.Rt, Ext(t.ReadReg(inst.Rs), inst.Sa, inst.Rd+1))
			return nil
		},
		insts.OpINS: func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
			t.WriteReg(inst.Rt, Ins(t.ReadReg(inst.Rt), t.ReadReg(inst.Rs), inst.Sa, inst.Rd-inst.Sa+1))
			return nil
		},

		insts.OpJ: func(t *ThreadState, inst *insts.Instruction, pc uint32) error {
			t.branchUnit.Branch(inst, pc, inst.JumpTarget(pc), true)
			return nil
		},
		insts.OpJR: func(t *ThreadState, inst *insts.Instruction, pc uint32) error {
			t.branchUnit.JumpRegister(inst, pc)
			return nil
		},

		insts.OpSYSCALL: syscall,
		insts.OpBREAK: func(_ *ThreadState, inst *insts.Instruction, pc uint32) error {
			return &BreakError{PC: pc, Code: inst.Code}
		},
		insts.OpHALT: func(t *ThreadState, _ *insts.Instruction, _ uint32) error {
			t.halt(HaltInstruction, 0)
			return nil
		},
		insts.OpSYNC:  nop,
		insts.OpCACHE: nop,

		insts.OpLB:  memOp((*LoadStoreUnit).LB),
		insts.OpLBU: memOp((*LoadStoreUnit).LBU),
		insts.OpLH:  memOp((*LoadStoreUnit).LH),
		insts.OpLHU: memOp((*LoadStoreUnit).LHU),
		insts.OpLW:  memOp((*LoadStoreUnit).LW),
		insts.OpLL:  memOp((*LoadStoreUnit).LW),
		insts.OpLWL: memOp((*LoadStoreUnit).LWL),
		insts.OpLWR: memOp((*LoadStoreUnit).LWR),
		insts.OpSB:  memOp((*LoadStoreUnit).SB),
		insts.OpSH:  memOp((*LoadStoreUnit).SH),
		insts.OpSW:  memOp((*LoadStoreUnit).SW),
		insts.OpSWL: memOp((*LoadStoreUnit).SWL),
		insts.OpSWR: memOp((*LoadStoreUnit).SWR),
		insts.OpSC:  memOp((*LoadStoreUnit).SC),

		insts.OpLWC1: func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
			v, err := t.Proc.Memory.Read32(t.lsu.Address(inst.Rs, inst.Imm))
			if err != nil {
				return err
			}
			t.WriteFPRBits(inst.Ft, v)
			return nil
		},
		insts.OpSWC1: func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
			return t.Proc.Memory.Write32(t.lsu.Address(inst.Rs, inst.Imm), t.ReadFPRBits(inst.Ft))
		},
		insts.OpMFC1: func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
			t.WriteReg(inst.Rt, t.ReadFPRBits(inst.Fs))
			return nil
		},
		insts.OpMTC1: func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
			t.WriteFPRBits(inst.Fs, t.ReadReg(inst.Rt))
			return nil
		},
		insts.OpCFC1: func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
			t.WriteReg(inst.Rt, t.fpu.MoveFrom(inst.Rd))
			return nil
		},
		insts.OpCTC1: func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
			t.fpu.MoveTo(inst.Rd, t.ReadReg(inst.Rt))
			return nil
		},
		insts.OpADDS:    fpuArith(FAdd),
		insts.OpSUBS:    fpuArith(FSub),
		insts.OpMULS:    fpuArith(FMul),
		insts.OpDIVS:    fpuArith(FDiv),
		insts.OpSQRTS:   fpuUnary(FSqrt),
		insts.OpABSS:    fpuUnary(FAbs),
		insts.OpMOVS:    fpuUnary(FMov),
		insts.OpNEGS:    fpuUnary(FNeg),
		insts.OpROUNDWS: fpuRound,
		insts.OpTRUNCWS: fpuRound,
		insts.OpCEILWS:  fpuRound,
		insts.OpFLOORWS: fpuRound,
		insts.OpCVTWS: func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
			t.fpu.CvtWS(inst.Fd, inst.Fs)
			return nil
		},
		insts.OpCVTSW: func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
			t.fpu.CvtSW(inst.Fd, inst.Fs)
			return nil
		},
		insts.OpCCONDS: func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
			t.fpu.Compare(inst.Fs, inst.Ft, inst.Cond)
			return nil
		},

		insts.OpLVS: func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
			return t.vfpu.LoadVector(inst.Vt, 1, t.lsu.Address(inst.Rs, inst.Imm))
		},
		insts.OpSVS: func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
			return t.vfpu.StoreVector(inst.Vt, 1, t.lsu.Address(inst.Rs, inst.Imm))
		},
		insts.OpLVQ: func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
			return t.vfpu.LoadVector(inst.Vt, 4, t.lsu.Address(inst.Rs, inst.Imm))
		},
		insts.OpSVQ: func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
			return t.vfpu.StoreVector(inst.Vt, 4, t.lsu.Address(inst.Rs, inst.Imm))
		},
		insts.OpVADD: vfpuBinary(FAdd),
		insts.OpVSUB: vfpuBinary(FSub),
		insts.OpVMUL: vfpuBinary(FMul),
		insts.OpVDIV: vfpuBinary(FDiv),
		insts.OpVMIN: vfpuBinary(FMin),
		insts.OpVMAX: vfpuBinary(FMax),
		insts.OpVDOT: func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
			t.vfpu.Dot(inst)
			return nil
		},
		insts.OpVSCL: func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
			t.vfpu.Scale(inst)
			return nil
		},
		insts.OpVMOV: vfpuUnary(FMov),
		insts.OpVABS: vfpuUnary(FAbs),
		insts.OpVNEG: vfpuUnary(FNeg),
		insts.OpVZERO: func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
			t.vfpu.Fill(inst, 0)
			return nil
		},
		insts.OpVONE: func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
			t.vfpu.Fill(inst, 1)
			return nil
		},
		insts.OpMFV: func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
			t.WriteReg(inst.Rt, math.Float32bits(t.vfpu.Read(inst.Vd, 1)[0]))
			return nil
		},
		insts.OpMTV: func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
			t.vfpu.Write(inst.Vd, 1, Vector{math.Float32frombits(t.ReadReg(inst.Rt))})
			return nil
		},
		insts.OpVIIM: func(t *ThreadState, inst *insts.Instruction, _ uint32) error {
			t.vfpu.Write(inst.Vt, 1, Vector{float32(inst.Imm)})
			return nil
		},
		insts.OpVPFXS: vfpuPrefix,
		insts.OpVPFXT: vfpuPrefix,
		insts.OpVPFXD: vfpuPrefix,
	}

	for _, op := range []insts.Op{
		insts.OpBEQ, insts.OpBNE, insts.OpBLEZ, insts.OpBGTZ,
		insts.OpBEQL, insts.OpBNEL, insts.OpBLEZL, insts.OpBGTZL,
		insts.OpBLTZ, insts.OpBGEZ, insts.OpBLTZL, insts.OpBGEZL,
		insts.OpBLTZAL, insts.OpBGEZAL, insts.OpBLTZALL, insts.OpBGEZALL,
		insts.OpBC1F, insts.OpBC1T, insts.OpBC1FL, insts.OpBC1TL,
	} {
		h[op] = branch
	}
	h[insts.OpJAL] = h[insts.OpJ]
	h[insts.OpJALR] = h[insts.OpJR]

	for op, fn := range h {
		handlers[op] = fn
	}
}
