// Package insts provides MIPS Allegrex instruction definitions and decoding.
package insts

import "fmt"

// Instruction represents a decoded Allegrex instruction.
type Instruction struct {
	Op   Op    // Operation code
	Info *Info // Table entry; nil for unknown words
	Raw  Word  // Encoded word

	// Integer and FPU register fields
	Rs uint8
	Rt uint8
	Rd uint8
	Sa uint8
	Fs uint8
	Ft uint8
	Fd uint8

	// Immediates
	Imm    int32  // Sign-extended immediate (byte offset for VFPU memory ops)
	ImmU   uint32 // Zero-extended immediate or prefix payload
	Target uint32 // 26-bit jump target word index
	Code   uint32 // syscall/break code
	Cond   uint8  // FPU compare condition

	// VFPU fields
	Vd    uint8
	Vs    uint8
	Vt    uint8
	VSize int // Lane count, 1 to 4
}

// Decoder decodes Allegrex machine code into instructions.
type Decoder struct{}

// NewDecoder creates a new Allegrex instruction decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode decodes a 32-bit instruction word. Words that match no table
// entry decode to OpUnknown.
func (d *Decoder) Decode(word uint32) *Instruction {
	inst := &Instruction{}
	d.DecodeInto(word, inst)
	return inst
}

// DecodeInto decodes a word into an existing instruction.
func (d *Decoder) DecodeInto(word uint32, inst *Instruction) {
	w := Word(word)
	*inst = Instruction{Op: OpUnknown, Raw: w, VSize: 1}

	for _, info := range byOpcode[w.Opcode()] {
		if word&info.Mask == info.Value {
			inst.Op = info.Op
			inst.Info = info
			break
		}
	}
	if inst.Info == nil {
		return
	}

	f := inst.Info.Fields
	inst.Rs = w.RS()
	inst.Rt = w.RT()
	inst.Rd = w.RD()
	inst.Sa = w.SA()
	inst.Ft = w.FT()
	inst.Fs = w.FS()
	inst.Fd = w.FD()
	inst.Imm = w.Imm()
	inst.ImmU = w.ImmU()
	inst.Target = w.Target()
	inst.Code = w.Code()
	inst.Cond = uint8(word & 0xF)
	inst.Vd = w.VD()
	inst.Vs = w.VS()
	inst.Vt = w.VT()

	switch {
	case f&FieldVTS != 0:
		inst.Vt = w.VTS()
		inst.Imm = w.Imm14()
	case f&FieldVTQ != 0:
		inst.Vt = w.VTQ()
		inst.Imm = w.Imm14()
		inst.VSize = 4
	case f&FieldVSize != 0:
		inst.VSize = w.VSize()
	}
	if f&FieldImm24 != 0 {
		inst.ImmU = w.Imm24()
	}
}

// Encode rebuilds the word of a decoded instruction from its fields.
func Encode(inst *Instruction) (Word, error) {
	if inst.Info == nil {
		return 0, fmt.Errorf("cannot encode unknown instruction 0x%08x", uint32(inst.Raw))
	}

	info := inst.Info
	f := info.Fields
	w := Word(info.Value)

	if f&FieldRS != 0 {
		w = w.WithRS(inst.Rs)
	}
	if f&FieldRT != 0 {
		w = w.WithRT(inst.Rt)
	}
	if f&FieldRD != 0 {
		w = w.WithRD(inst.Rd)
	}
	if f&FieldSA != 0 {
		w = w.WithSA(inst.Sa)
	}
	if f&FieldImm != 0 {
		w = w.WithImm(inst.Imm)
	}
	if f&FieldTarget != 0 {
		w = w.WithTarget(inst.Target)
	}
	if f&FieldCode != 0 {
		w = w.WithCode(inst.Code)
	}
	if f&FieldCond != 0 {
		w = Word(uint32(w)&^0xF | uint32(inst.Cond&0xF))
	}
	if f&FieldVD != 0 {
		w = w.WithVD(inst.Vd)
	}
	if f&FieldVS != 0 {
		w = w.WithVS(inst.Vs)
	}
	if f&FieldVT != 0 {
		w = w.WithVT(inst.Vt)
	}
	if f&FieldVTS != 0 {
		w = w.WithVTS(inst.Vt)
	}
	if f&FieldVTQ != 0 {
		w = w.WithVTQ(inst.Vt)
	}
	if f&FieldImm14 != 0 {
		w = w.WithImm14(inst.Imm)
	}
	if f&FieldImm24 != 0 {
		w = w.WithImm24(inst.ImmU)
	}
	if f&FieldVSize != 0 {
		w = w.WithVSize(inst.VSize)
	}

	return w, nil
}

// BranchTarget returns the target of a PC-relative branch located at pc.
func (i *Instruction) BranchTarget(pc uint32) uint32 {
	return pc + 4 + uint32(i.Imm<<2)
}

// JumpTarget returns the target of an absolute jump located at pc.
func (i *Instruction) JumpTarget(pc uint32) uint32 {
	return (pc+4)&0xF0000000 | i.Target<<2
}

// Has reports whether the instruction declares all of the given flags.
// Unknown instructions have no flags.
func (i *Instruction) Has(f Flag) bool {
	return i.Info != nil && i.Info.Has(f)
}

// IsUnconditional reports whether control never falls through past the
// delay slot: j, jr, and beq/bgez forms that compare r0 with itself.
func (i *Instruction) IsUnconditional() bool {
	switch i.Op {
	case OpJ, OpJR:
		return true
	case OpBEQ, OpBEQL:
		return i.Rs == i.Rt
	case OpBGEZ, OpBGEZL, OpBLEZ, OpBLEZL:
		return i.Rs == 0
	}
	return false
}
