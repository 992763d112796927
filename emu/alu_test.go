package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/pspsim/emu"
)

var _ = Describe("ALU", func() {
	var (
		regFile *emu.RegFile
		alu     *emu.ALU
	)

	BeforeEach(func() {
		regFile = &emu.RegFile{}
		alu = emu.NewALU(regFile)
	})

	It("should wrap on add without trapping", func() {
		regFile.WriteReg(1, 0x7FFFFFFF)
		regFile.WriteReg(2, 1)
		alu.ADDU(3, 1, 2)
		Expect(regFile.ReadReg(3)).To(Equal(uint32(0x80000000)))
	})

	It("should ignore writes to r0", func() {
		regFile.WriteReg(1, 5)
		alu.ADDIU(0, 1, 3)
		Expect(regFile.ReadReg(0)).To(Equal(uint32(0)))
	})

	It("should mask variable shift amounts", func() {
		regFile.WriteReg(1, 1)
		alu.Shift(2, 1, 33, emu.ShiftLeft)
		Expect(regFile.ReadReg(2)).To(Equal(uint32(2)))
	})

	DescribeTable("division edge cases",
		func(op func(x, y, hi, lo uint32) (uint32, uint32), x, y, wantHi, wantLo uint32) {
			hi, lo := op(x, y, 0, 0)
			Expect(hi).To(Equal(wantHi))
			Expect(lo).To(Equal(wantLo))
		},
		Entry("div", emu.Div, uint32(7), uint32(2), uint32(1), uint32(3)),
		Entry("div negative", emu.Div, uint32(0xFFFFFFF9), uint32(2), uint32(0xFFFFFFFF), uint32(0xFFFFFFFD)),
		Entry("div by zero", emu.Div, uint32(5), uint32(0), uint32(5), uint32(0xFFFFFFFF)),
		Entry("div negative by zero", emu.Div, uint32(0xFFFFFFFB), uint32(0), uint32(0xFFFFFFFB), uint32(1)),
		Entry("div overflow", emu.Div, uint32(0x80000000), uint32(0xFFFFFFFF), uint32(0), uint32(0x80000000)),
		Entry("divu by zero", emu.Divu, uint32(5), uint32(0), uint32(5), uint32(0xFFFFFFFF)),
		Entry("divu", emu.Divu, uint32(0xFFFFFFFF), uint32(16), uint32(15), uint32(0x0FFFFFFF)),
	)

	It("should multiply into HI/LO", func() {
		hi, lo := emu.Mult(0xFFFFFFFF, 2, 0, 0)
		Expect(hi).To(Equal(uint32(0xFFFFFFFF)))
		Expect(lo).To(Equal(uint32(0xFFFFFFFE)))

		hi, lo = emu.Multu(0xFFFFFFFF, 2, 0, 0)
		Expect(hi).To(Equal(uint32(1)))
		Expect(lo).To(Equal(uint32(0xFFFFFFFE)))
	})

	It("should accumulate with madd and msub", func() {
		hi, lo := emu.Madd(3, 4, 0, 0xFFFFFFFF)
		Expect(hi).To(Equal(uint32(1)))
		Expect(lo).To(Equal(uint32(11)))

		hi, lo = emu.Msub(3, 4, hi, lo)
		Expect(hi).To(Equal(uint32(0)))
		Expect(lo).To(Equal(uint32(0xFFFFFFFF)))
	})

	DescribeTable("bit manipulation",
		func(got, want uint32) {
			Expect(got).To(Equal(want))
		},
		Entry("clz", emu.Clz(0x00010000), uint32(15)),
		Entry("clz zero", emu.Clz(0), uint32(32)),
		Entry("clo", emu.Clo(0xFF000000), uint32(8)),
		Entry("seb", emu.Seb(0x80), uint32(0xFFFFFF80)),
		Entry("seh", emu.Seh(0x8000), uint32(0xFFFF8000)),
		Entry("wsbh", emu.Wsbh(0x11223344), uint32(0x22114433)),
		Entry("wsbw", emu.Wsbw(0x11223344), uint32(0x44332211)),
		Entry("bitrev", emu.Bitrev(1), uint32(0x80000000)),
		Entry("rotr", emu.RotateRight(0x12345678, 8), uint32(0x78123456)),
		Entry("sra", emu.ShiftRightArith(0x80000000, 4), uint32(0xF8000000)),
		Entry("ext", emu.Ext(0x12345678, 8, 8), uint32(0x56)),
		Entry("ext full", emu.Ext(0x12345678, 0, 32), uint32(0x12345678)),
		Entry("ins", emu.Ins(0xFFFFFFFF, 0, 4, 8), uint32(0xFFFFF00F)),
		Entry("max", emu.Max(0xFFFFFFFF, 1), uint32(1)),
		Entry("min", emu.Min(0xFFFFFFFF, 1), uint32(0xFFFFFFFF)),
		Entry("slt", emu.SetLess(0xFFFFFFFF, 0, true), uint32(1)),
		Entry("sltu", emu.SetLess(0xFFFFFFFF, 0, false), uint32(0)),
	)
})
