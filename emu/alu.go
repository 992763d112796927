// Package emu provides functional MIPS Allegrex emulation.
package emu

import "math/bits"

// ALU implements the Allegrex integer operations.
type ALU struct {
	regFile *RegFile
}

// NewALU creates a new ALU connected to the given register file.
func NewALU(regFile *RegFile) *ALU {
	return &ALU{regFile: regFile}
}

// ADDU performs rd = rs + rt. add and sub never trap on overflow.
func (a *ALU) ADDU(rd, rs, rt uint8) {
	a.regFile.WriteReg(rd, a.regFile.ReadReg(rs)+a.regFile.ReadReg(rt))
}

// SUBU performs rd = rs - rt.
func (a *ALU) SUBU(rd, rs, rt uint8) {
	a.regFile.WriteReg(rd, a.regFile.ReadReg(rs)-a.regFile.ReadReg(rt))
}

// ADDIU performs rt = rs + imm.
func (a *ALU) ADDIU(rt, rs uint8, imm int32) {
	a.regFile.WriteReg(rt, a.regFile.ReadReg(rs)+uint32(imm))
}

// Logic applies a bitwise operation: rd = op(rs, rt).
func (a *ALU) Logic(rd, rs, rt uint8, op func(x, y uint32) uint32) {
	a.regFile.WriteReg(rd, op(a.regFile.ReadReg(rs), a.regFile.ReadReg(rt)))
}

// SLT performs the signed or unsigned set-on-less-than.
func (a *ALU) SLT(rd uint8, x, y uint32, signed bool) {
	a.regFile.WriteReg(rd, SetLess(x, y, signed))
}

// Shift applies a shift or rotate of rt by amount into rd.
func (a *ALU) Shift(rd, rt uint8, amount uint32, op func(v, n uint32) uint32) {
	a.regFile.WriteReg(rd, op(a.regFile.ReadReg(rt), amount&31))
}

// MultDiv updates HI/LO from an operation on rs and rt.
func (a *ALU) MultDiv(rs, rt uint8, op func(x, y, hi, lo uint32) (uint32, uint32)) {
	a.regFile.HI, a.regFile.LO = op(a.regFile.ReadReg(rs), a.regFile.ReadReg(rt), a.regFile.HI, a.regFile.LO)
}

// SetLess returns 1 when x < y.
func SetLess(x, y uint32, signed bool) uint32 {
	if signed {
		if int32(x) < int32(y) {
			return 1
		}
		return 0
	}
	if x < y {
		return 1
	}
	return 0
}

// Shift and rotate primitives shared by the interpreter and compiled code.
func ShiftLeft(v, n uint32) uint32         { return v << n }
func ShiftRightLogical(v, n uint32) uint32 { return v >> n }
func ShiftRightArith(v, n uint32) uint32   { return uint32(int32(v) >> n) }
func RotateRight(v, n uint32) uint32       { return bits.RotateLeft32(v, -int(n)) }

// Bitwise primitives.
func And(x, y uint32) uint32 { return x & y }
func Or(x, y uint32) uint32  { return x | y }
func Xor(x, y uint32) uint32 { return x ^ y }
func Nor(x, y uint32) uint32 { return ^(x | y) }

// Mult returns HI/LO of the signed product.
func Mult(x, y, _, _ uint32) (uint32, uint32) {
	p := uint64(int64(int32(x)) * int64(int32(y)))
	return uint32(p >> 32), uint32(p)
}

// Multu returns HI/LO of the unsigned product.
func Multu(x, y, _, _ uint32) (uint32, uint32) {
	p := uint64(x) * uint64(y)
	return uint32(p >> 32), uint32(p)
}

// Madd accumulates the signed product into HI/LO.
func Madd(x, y, hi, lo uint32) (uint32, uint32) {
	acc := int64(uint64(hi)<<32|uint64(lo)) + int64(int32(x))*int64(int32(y))
	return uint32(uint64(acc) >> 32), uint32(acc)
}

// Maddu accumulates the unsigned product into HI/LO.
func Maddu(x, y, hi, lo uint32) (uint32, uint32) {
	acc := (uint64(hi)<<32 | uint64(lo)) + uint64(x)*uint64(y)
	return uint32(acc >> 32), uint32(acc)
}

// Msub subtracts the signed product from HI/LO.
func Msub(x, y, hi, lo uint32) (uint32, uint32) {
	acc := int64(uint64(hi)<<32|uint64(lo)) - int64(int32(x))*int64(int32(y))
	return uint32(uint64(acc) >> 32), uint32(acc)
}

// Msubu subtracts the unsigned product from HI/LO.
func Msubu(x, y, hi, lo uint32) (uint32, uint32) {
	acc := (uint64(hi)<<32 | uint64(lo)) - uint64(x)*uint64(y)
	return uint32(acc >> 32), uint32(acc)
}

// Div returns HI (remainder) and LO (quotient) of the signed division.
// Division by zero yields LO = -1 (or 1 for a negative dividend) and
// HI = dividend; MinInt32 / -1 yields LO = MinInt32 and HI = 0.
func Div(x, y, _, _ uint32) (uint32, uint32) {
	n, d := int32(x), int32(y)
	switch {
	case d == 0:
		if n < 0 {
			return x, 1
		}
		return x, 0xFFFFFFFF
	case n == -1<<31 && d == -1:
		return 0, x
	}
	return uint32(n % d), uint32(n / d)
}

// Divu returns HI (remainder) and LO (quotient) of the unsigned division.
// Division by zero yields LO = 0xFFFFFFFF and HI = dividend.
func Divu(x, y, _, _ uint32) (uint32, uint32) {
	if y == 0 {
		return x, 0xFFFFFFFF
	}
	return x % y, x / y
}

// Clz counts leading zero bits.
func Clz(v uint32) uint32 { return uint32(bits.LeadingZeros32(v)) }

// Clo counts leading one bits.
func Clo(v uint32) uint32 { return uint32(bits.LeadingZeros32(^v)) }

// Seb sign-extends the low byte.
func Seb(v uint32) uint32 { return uint32(int32(int8(v))) }

// Seh sign-extends the low halfword.
func Seh(v uint32) uint32 { return uint32(int32(int16(v))) }

// Wsbh swaps the bytes within each halfword.
func Wsbh(v uint32) uint32 {
	return (v&0x00FF00FF)<<8 | (v&0xFF00FF00)>>8
}

// Wsbw swaps all four bytes.
func Wsbw(v uint32) uint32 { return bits.ReverseBytes32(v) }

// Bitrev reverses the bit order.
func Bitrev(v uint32) uint32 { return bits.Reverse32(v) }

// Ext extracts size bits of rs starting at pos.
func Ext(rs uint32, pos, size uint8) uint32 {
	mask := uint32(1<<size) - 1
	if size >= 32 {
		mask = 0xFFFFFFFF
	}
	return (rs >> pos) & mask
}

// Ins inserts the low size bits of rs into rt at pos.
func Ins(rt, rs uint32, pos, size uint8) uint32 {
	mask := uint32(1<<size) - 1
	if size >= 32 {
		mask = 0xFFFFFFFF
	}
	return rt&^(mask<<pos) | (rs&mask)<<pos
}

// Max returns the signed maximum.
func Max(x, y uint32) uint32 {
	if int32(x) > int32(y) {
		return x
	}
	return y
}

// Min returns the signed minimum.
func Min(x, y uint32) uint32 {
	if int32(x) < int32(y) {
		return x
	}
	return y
}
