// Package emu provides functional MIPS Allegrex emulation.
package emu

import (
	"fmt"
	"io"
	"math"
)

// Well-known general-purpose register indices.
const (
	RegZero uint8 = 0
	RegAT   uint8 = 1
	RegV0   uint8 = 2
	RegV1   uint8 = 3
	RegA0   uint8 = 4
	RegA1   uint8 = 5
	RegA2   uint8 = 6
	RegA3   uint8 = 7
	RegGP   uint8 = 28
	RegSP   uint8 = 29
	RegFP   uint8 = 30
	RegRA   uint8 = 31
)

// GPRNames are the ABI names of the general-purpose registers.
var GPRNames = [32]string{
	"zr", "at", "v0", "v1", "a0", "a1", "a2", "a3",
	"t0", "t1", "t2", "t3", "t4", "t5", "t6", "t7",
	"s0", "s1", "s2", "s3", "s4", "s5", "s6", "s7",
	"t8", "t9", "k0", "k1", "gp", "sp", "fp", "ra",
}

// FCR31 bits.
const (
	FCR31Cond         uint32 = 1 << 23
	FCR31RoundingMask uint32 = 3
	fcr31Writable     uint32 = 0x0183FFFF

	// FCR0Value is the FPU implementation register reported by cfc1.
	FCR0Value uint32 = 0x00003351
)

// VfpuPrefix is a pending VFPU operand prefix.
type VfpuPrefix struct {
	Value   uint32
	Enabled bool
}

// Default prefix payloads.
const (
	DefaultSourcePrefix uint32 = 0xE4
	DefaultDestPrefix   uint32 = 0
)

// RegFile represents the Allegrex register file.
// It contains 32 general-purpose registers (r0 always reads as 0), HI/LO,
// the FPU and VFPU register files, and the program counter pair used to
// model branch delay slots.
type RegFile struct {
	// GPR holds the general-purpose registers.
	GPR [32]uint32

	// HI and LO hold multiply/divide results.
	HI uint32
	LO uint32

	// PC is the address of the next instruction to execute.
	PC uint32

	// NextPC is the address executed after PC. It differs from PC+4 while
	// a taken branch's delay slot is pending.
	NextPC uint32

	// FPR holds the FPU registers.
	FPR [32]float32

	// FCR31 is the FPU control/status register.
	FCR31 uint32

	// V holds the 128 VFPU registers as 8 matrices of 4x4, indexed as
	// matrix*16 + column*4 + row.
	V [128]float32

	// VPfxS, VPfxT and VPfxD are the pending source, target and
	// destination prefixes.
	VPfxS VfpuPrefix
	VPfxT VfpuPrefix
	VPfxD VfpuPrefix

	// VCC is the VFPU condition code register.
	VCC uint32
}

// ReadReg reads a general-purpose register. Register 0 reads as 0.
func (r *RegFile) ReadReg(reg uint8) uint32 {
	if reg == 0 || reg >= 32 {
		return 0
	}
	return r.GPR[reg]
}

// WriteReg writes a general-purpose register. Writes to register 0 are
// ignored.
func (r *RegFile) WriteReg(reg uint8, value uint32) {
	if reg == 0 || reg >= 32 {
		return
	}
	r.GPR[reg] = value
}

// ReadFPRBits returns the raw bits of an FPU register.
func (r *RegFile) ReadFPRBits(reg uint8) uint32 {
	return math.Float32bits(r.FPR[reg&31])
}

// WriteFPRBits stores raw bits into an FPU register.
func (r *RegFile) WriteFPRBits(reg uint8, bits uint32) {
	r.FPR[reg&31] = math.Float32frombits(bits)
}

// FPCond returns the FPU condition flag.
func (r *RegFile) FPCond() bool {
	return r.FCR31&FCR31Cond != 0
}

// SetFPCond sets the FPU condition flag.
func (r *RegFile) SetFPCond(v bool) {
	if v {
		r.FCR31 |= FCR31Cond
	} else {
		r.FCR31 &^= FCR31Cond
	}
}

// SetPC jumps to pc with no pending delay slot.
func (r *RegFile) SetPC(pc uint32) {
	r.PC = pc
	r.NextPC = pc + 4
}

// ResetPrefixes restores the VFPU prefixes to their defaults.
func (r *RegFile) ResetPrefixes() {
	r.VPfxS = VfpuPrefix{Value: DefaultSourcePrefix}
	r.VPfxT = VfpuPrefix{Value: DefaultSourcePrefix}
	r.VPfxD = VfpuPrefix{Value: DefaultDestPrefix}
}

// Dump writes the register file in a human readable form.
func (r *RegFile) Dump(w io.Writer) {
	fmt.Fprintf(w, "PC=0x%08x NextPC=0x%08x HI=0x%08x LO=0x%08x\n", r.PC, r.NextPC, r.HI, r.LO)
	for i := 0; i < 32; i += 4 {
		for j := i; j < i+4; j++ {
			fmt.Fprintf(w, "%s=0x%08x ", GPRNames[j], r.GPR[j])
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "FCR31=0x%08x\n", r.FCR31)
	for i := 0; i < 32; i += 4 {
		for j := i; j < i+4; j++ {
			fmt.Fprintf(w, "f%d=%g ", j, r.FPR[j])
		}
		fmt.Fprintln(w)
	}
}
