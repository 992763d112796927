// Package emu provides functional MIPS Allegrex emulation.
package emu

import (
	"math"

	"github.com/sarchlab/pspsim/insts"
)

// FCR31 rounding modes.
const (
	RoundNearest uint32 = iota
	RoundZero
	RoundUp
	RoundDown
)

// FPU implements the single-precision coprocessor 1.
type FPU struct {
	regFile *RegFile
}

// NewFPU creates a new FPU.
func NewFPU(regFile *RegFile) *FPU {
	return &FPU{regFile: regFile}
}

// Arith performs fd = op(fs, ft).
func (f *FPU) Arith(fd, fs, ft uint8, op func(a, b float32) float32) {
	f.regFile.FPR[fd] = op(f.regFile.FPR[fs], f.regFile.FPR[ft])
}

// Unary performs fd = op(fs).
func (f *FPU) Unary(fd, fs uint8, op func(a float32) float32) {
	f.regFile.FPR[fd] = op(f.regFile.FPR[fs])
}

// ToWord converts fs to an integer with the given rounding mode, storing
// the raw result bits in fd.
func (f *FPU) ToWord(fd, fs uint8, mode uint32) {
	f.regFile.WriteFPRBits(fd, uint32(FloatToWord(f.regFile.FPR[fs], mode)))
}

// CvtWS converts with the rounding mode currently selected in FCR31.
func (f *FPU) CvtWS(fd, fs uint8) {
	f.ToWord(fd, fs, f.regFile.FCR31&FCR31RoundingMask)
}

// CvtSW converts the integer bits of fs to a float.
func (f *FPU) CvtSW(fd, fs uint8) {
	f.regFile.FPR[fd] = float32(int32(f.regFile.ReadFPRBits(fs)))
}

// Compare sets the FPU condition flag from c.cond.s.
func (f *FPU) Compare(fs, ft, cond uint8) {
	f.regFile.SetFPCond(FloatCompare(f.regFile.FPR[fs], f.regFile.FPR[ft], cond))
}

// MoveFrom returns a control register for cfc1.
func (f *FPU) MoveFrom(reg uint8) uint32 {
	switch reg {
	case 0:
		return FCR0Value
	case 31:
		return f.regFile.FCR31
	}
	return 0
}

// MoveTo writes a control register for ctc1. Only FCR31 is writable.
func (f *FPU) MoveTo(reg uint8, v uint32) {
	if reg == 31 {
		f.regFile.FCR31 = v & fcr31Writable
	}
}

// FloatToWord converts v to int32 with the given rounding mode. NaN and
// out-of-range values yield 0x7FFFFFFF.
func FloatToWord(v float32, mode uint32) int32 {
	d := float64(v)
	switch mode & FCR31RoundingMask {
	case RoundNearest:
		d = math.RoundToEven(d)
	case RoundZero:
		d = math.Trunc(d)
	case RoundUp:
		d = math.Ceil(d)
	case RoundDown:
		d = math.Floor(d)
	}
	if math.IsNaN(d) || d > math.MaxInt32 || d < math.MinInt32 {
		return math.MaxInt32
	}
	return int32(d)
}

// FloatCompare evaluates an FPU compare condition. Bit 0 of cond selects
// unordered, bit 1 equal, bit 2 less than.
func FloatCompare(a, b float32, cond uint8) bool {
	if math.IsNaN(float64(a)) || math.IsNaN(float64(b)) {
		return cond&1 != 0
	}
	return (cond&2 != 0 && a == b) || (cond&4 != 0 && a < b)
}

// Float primitives shared by the interpreter and compiled code.
func FAdd(a, b float32) float32 { return a + b }
func FSub(a, b float32) float32 { return a - b }
func FMul(a, b float32) float32 { return a * b }
func FDiv(a, b float32) float32 { return a / b }
func FSqrt(a float32) float32   { return float32(math.Sqrt(float64(a))) }
func FAbs(a float32) float32    { return float32(math.Abs(float64(a))) }
func FMov(a float32) float32    { return a }
func FNeg(a float32) float32    { return -a }

// roundingModes maps the explicit conversion ops to their rounding mode.
var roundingModes = map[insts.Op]uint32{
	insts.OpROUNDWS: RoundNearest,
	insts.OpTRUNCWS: RoundZero,
	insts.OpCEILWS:  RoundUp,
	insts.OpFLOORWS: RoundDown,
}
