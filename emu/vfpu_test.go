package emu_test

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/pspsim/emu"
	"github.com/sarchlab/pspsim/insts"
)

var _ = Describe("VFPU", func() {
	var (
		thread  *emu.ThreadState
		decoder *insts.Decoder
	)

	exec := func(word uint32) {
		Expect(thread.Execute(decoder.Decode(word))).To(Succeed())
	}

	BeforeEach(func() {
		memory := emu.NewMemory()
		thread = emu.NewThreadState(emu.NewProcessor(memory), 0)
		thread.SetPC(emu.MainBase)
		decoder = insts.NewDecoder()

		// Column 0 of matrix 0 is r0, column 1 is r1.
		copy(thread.V[0:4], []float32{1, 2, 3, 4})
		copy(thread.V[4:8], []float32{10, 20, 30, 40})
	})

	Describe("register layout", func() {
		It("should map column vectors", func() {
			Expect(emu.VectorRegs(0, 4)).To(Equal([4]int{0, 1, 2, 3}))
			Expect(emu.VectorRegs(1, 4)).To(Equal([4]int{4, 5, 6, 7}))
			Expect(emu.VectorRegs(4, 2)).To(Equal([4]int{16, 17, 0, 0}))
		})

		It("should map transposed row vectors", func() {
			Expect(emu.VectorRegs(0x20, 4)).To(Equal([4]int{0, 4, 8, 12}))
		})

		It("should map single registers by row", func() {
			Expect(emu.VectorRegs(0x20, 1)[0]).To(Equal(1))
			Expect(emu.VectorRegs(0x61, 1)[0]).To(Equal(7))
		})
	})

	It("should add quad vectors", func() {
		exec(0x60018082) // vadd.q r2, r0, r1
		Expect(thread.V[8:12]).To(Equal([]float32{11, 22, 33, 44}))
	})

	It("should apply and then clear a source prefix", func() {
		exec(0xDC01001B) // vpfxs [-w, z, y, x]
		exec(0x60018082) // vadd.q r2, r0, r1
		Expect(thread.V[8:12]).To(Equal([]float32{6, 23, 32, 41}))
		Expect(thread.VPfxS.Enabled).To(BeFalse())

		exec(0x60018082)
		Expect(thread.V[8:12]).To(Equal([]float32{11, 22, 33, 44}))
	})

	It("should saturate and mask through the destination prefix", func() {
		thread.V[11] = 99
		exec(0xDE000801) // vpfxd [0:1, , , mask]
		exec(0x60018082) // vadd.q r2, r0, r1
		Expect(thread.V[8:12]).To(Equal([]float32{1, 22, 33, 99}))
	})

	It("should select prefix constants", func() {
		v := emu.Vector{5, 6, 7, 8}
		out := emu.ApplySourcePrefix(v, 4, 0x10E5)
		Expect(out).To(Equal(emu.Vector{1, 6, 7, 8}))

		out = emu.ApplySourcePrefix(v, 2, 0x5)
		Expect(out[0]).To(Equal(float32(6)))
		Expect(out[1]).To(Equal(float32(6)))

		out = emu.ApplySourcePrefix(v, 1, 0x11103)
		Expect(out[0]).To(BeNumerically("~", -1.0/6, 1e-6))
	})

	It("should read lanes beyond the vector size as zero", func() {
		out := emu.ApplySourcePrefix(emu.Vector{5, 6}, 2, 0xF)
		Expect(out[0]).To(Equal(float32(0)))
		Expect(out[1]).To(Equal(float32(0)))
	})

	It("should move between GPRs and VFPU registers", func() {
		thread.WriteReg(1, math.Float32bits(2.5))
		exec(0x48E10021) // mtv r1, S011
		Expect(thread.V[5]).To(Equal(float32(2.5)))

		exec(0x48620001) // mfv r2, S010
		Expect(thread.ReadReg(2)).To(Equal(math.Float32bits(10)))
	})

	It("should load and store quads", func() {
		memory := thread.Memory()
		for i := uint32(0); i < 4; i++ {
			Expect(memory.Write32(emu.MainBase+0x100+4*i, math.Float32bits(float32(i)+0.5))).To(Succeed())
		}
		thread.WriteReg(4, emu.MainBase+0x100)

		exec(0xD88C0000) // lv.q r12, 0(a0)
		Expect(thread.V[48:52]).To(Equal([]float32{0.5, 1.5, 2.5, 3.5}))

		exec(0xF88C0010) // sv.q r12, 16(a0)
		Expect(memory.Read32(emu.MainBase + 0x11C)).To(Equal(math.Float32bits(3.5)))
	})
})
