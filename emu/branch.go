// Package emu provides functional MIPS Allegrex emulation.
package emu

import "github.com/sarchlab/pspsim/insts"

// BranchTaken evaluates the condition of a branch given its operand values.
// Jumps are always taken.
func BranchTaken(op insts.Op, rs, rt uint32, fpCond bool) bool {
	switch op {
	case insts.OpBEQ, insts.OpBEQL:
		return rs == rt
	case insts.OpBNE, insts.OpBNEL:
		return rs != rt
	case insts.OpBLEZ, insts.OpBLEZL:
		return int32(rs) <= 0
	case insts.OpBGTZ, insts.OpBGTZL:
		return int32(rs) > 0
	case insts.OpBLTZ, insts.OpBLTZL, insts.OpBLTZAL, insts.OpBLTZALL:
		return int32(rs) < 0
	case insts.OpBGEZ, insts.OpBGEZL, insts.OpBGEZAL, insts.OpBGEZALL:
		return int32(rs) >= 0
	case insts.OpBC1F, insts.OpBC1FL:
		return !fpCond
	case insts.OpBC1T, insts.OpBC1TL:
		return fpCond
	}
	return true
}

// BranchUnit implements branches and jumps over the PC/NextPC pair.
type BranchUnit struct {
	regFile *RegFile
}

// NewBranchUnit creates a new BranchUnit.
func NewBranchUnit(regFile *RegFile) *BranchUnit {
	return &BranchUnit{regFile: regFile}
}

// Taken evaluates the branch condition of inst.
func (b *BranchUnit) Taken(inst *insts.Instruction) bool {
	return BranchTaken(inst.Op, b.regFile.ReadReg(inst.Rs), b.regFile.ReadReg(inst.Rt), b.regFile.FPCond())
}

// Branch resolves a control transfer at pc. PC already holds the delay
// slot address. A taken transfer redirects NextPC to target; a likely
// branch that is not taken skips its delay slot.
func (b *BranchUnit) Branch(inst *insts.Instruction, pc, target uint32, taken bool) {
	if inst.Has(insts.FlagLink) {
		b.regFile.WriteReg(linkRegister(inst), pc+8)
	}
	switch {
	case taken:
		b.regFile.NextPC = target
	case inst.Has(insts.FlagLikely):
		b.regFile.PC += 4
		b.regFile.NextPC = b.regFile.PC + 4
	}
}

// JumpRegister resolves jr and jalr. The target is read before the link
// register is written.
func (b *BranchUnit) JumpRegister(inst *insts.Instruction, pc uint32) {
	b.Branch(inst, pc, b.regFile.ReadReg(inst.Rs), true)
}

func linkRegister(inst *insts.Instruction) uint8 {
	if inst.Op == insts.OpJALR {
		return inst.Rd
	}
	return RegRA
}
