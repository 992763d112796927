// Package insts provides MIPS Allegrex instruction definitions and decoding.
package insts

// Word is a raw 32-bit instruction word. Its methods are the bit-field
// views used by the decoder; the With* methods return a copy with one field
// replaced and are used by the encoder and the assembler.
type Word uint32

// Opcode returns the primary opcode, bits [31:26].
func (w Word) Opcode() uint32 { return uint32(w) >> 26 }

// Funct returns the function field, bits [5:0].
func (w Word) Funct() uint32 { return uint32(w) & 0x3F }

// RS returns bits [25:21].
func (w Word) RS() uint8 { return uint8((w >> 21) & 0x1F) }

// RT returns bits [20:16].
func (w Word) RT() uint8 { return uint8((w >> 16) & 0x1F) }

// RD returns bits [15:11].
func (w Word) RD() uint8 { return uint8((w >> 11) & 0x1F) }

// SA returns the shift amount, bits [10:6].
func (w Word) SA() uint8 { return uint8((w >> 6) & 0x1F) }

// FT returns the FPU ft register, bits [20:16].
func (w Word) FT() uint8 { return w.RT() }

// FS returns the FPU fs register, bits [15:11].
func (w Word) FS() uint8 { return w.RD() }

// FD returns the FPU fd register, bits [10:6].
func (w Word) FD() uint8 { return w.SA() }

// Imm returns the sign-extended 16-bit immediate.
func (w Word) Imm() int32 { return int32(int16(uint16(w))) }

// ImmU returns the zero-extended 16-bit immediate.
func (w Word) ImmU() uint32 { return uint32(w) & 0xFFFF }

// Imm14 returns the sign-extended VFPU memory offset, bits [15:2] scaled
// by four.
func (w Word) Imm14() int32 { return int32(int16(uint16(w) & 0xFFFC)) }

// Imm24 returns bits [23:0], the VFPU prefix payload.
func (w Word) Imm24() uint32 { return uint32(w) & 0xFFFFFF }

// Target returns the 26-bit jump target word index.
func (w Word) Target() uint32 { return uint32(w) & 0x03FFFFFF }

// Code returns the 20-bit syscall/break code, bits [25:6].
func (w Word) Code() uint32 { return (uint32(w) >> 6) & 0xFFFFF }

// VD returns the VFPU destination register, bits [6:0].
func (w Word) VD() uint8 { return uint8(w & 0x7F) }

// VS returns the VFPU source register, bits [14:8].
func (w Word) VS() uint8 { return uint8((w >> 8) & 0x7F) }

// VT returns the VFPU target register, bits [22:16].
func (w Word) VT() uint8 { return uint8((w >> 16) & 0x7F) }

// VTS returns the split register field of lv.s/sv.s: bits [20:16] with
// bits [1:0] on top.
func (w Word) VTS() uint8 { return uint8((w>>16)&0x1F) | uint8(w&3)<<5 }

// VTQ returns the split register field of lv.q/sv.q: bits [20:16] with
// bit 0 on top.
func (w Word) VTQ() uint8 { return uint8((w>>16)&0x1F) | uint8(w&1)<<5 }

// VSize returns the vector lane count selected by bits 15 and 7.
func (w Word) VSize() int {
	return int((w>>15)&1)<<1 | int((w>>7)&1) + 1
}

func (w Word) with(shift, width uint, v uint32) Word {
	mask := uint32(1)<<width - 1
	return Word(uint32(w)&^(mask<<shift) | (v&mask)<<shift)
}

// WithRS replaces bits [25:21].
func (w Word) WithRS(v uint8) Word { return w.with(21, 5, uint32(v)) }

// WithRT replaces bits [20:16].
func (w Word) WithRT(v uint8) Word { return w.with(16, 5, uint32(v)) }

// WithRD replaces bits [15:11].
func (w Word) WithRD(v uint8) Word { return w.with(11, 5, uint32(v)) }

// WithSA replaces bits [10:6].
func (w Word) WithSA(v uint8) Word { return w.with(6, 5, uint32(v)) }

// WithImm replaces the 16-bit immediate.
func (w Word) WithImm(v int32) Word { return w.with(0, 16, uint32(v)) }

// WithImm14 replaces bits [15:2] with a byte offset.
func (w Word) WithImm14(v int32) Word { return w.with(2, 14, uint32(v)>>2) }

// WithImm24 replaces bits [23:0].
func (w Word) WithImm24(v uint32) Word { return w.with(0, 24, v) }

// WithTarget replaces the 26-bit jump target.
func (w Word) WithTarget(v uint32) Word { return w.with(0, 26, v) }

// WithCode replaces the 20-bit code field.
func (w Word) WithCode(v uint32) Word { return w.with(6, 20, v) }

// WithVD replaces bits [6:0].
func (w Word) WithVD(v uint8) Word { return w.with(0, 7, uint32(v)) }

// WithVS replaces bits [14:8].
func (w Word) WithVS(v uint8) Word { return w.with(8, 7, uint32(v)) }

// WithVT replaces bits [22:16].
func (w Word) WithVT(v uint8) Word { return w.with(16, 7, uint32(v)) }

// WithVTS replaces the split lv.s/sv.s register field.
func (w Word) WithVTS(v uint8) Word {
	return w.with(16, 5, uint32(v)).with(0, 2, uint32(v)>>5)
}

// WithVTQ replaces the split lv.q/sv.q register field.
func (w Word) WithVTQ(v uint8) Word {
	return w.with(16, 5, uint32(v)).with(0, 1, uint32(v)>>5)
}

// WithVSize sets bits 15 and 7 for a lane count between 1 and 4.
func (w Word) WithVSize(n int) Word {
	n--
	return w.with(7, 1, uint32(n&1)).with(15, 1, uint32(n>>1))
}
