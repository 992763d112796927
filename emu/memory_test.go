package emu_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/pspsim/emu"
)

var _ = Describe("Memory", func() {
	var memory *emu.Memory

	BeforeEach(func() {
		memory = emu.NewMemory()
	})

	It("should fold mirrors onto the physical map", func() {
		Expect(memory.Write32(0x48000010, 0xCAFEBABE)).To(Succeed())
		Expect(memory.Read32(0x08000010)).To(Equal(uint32(0xCAFEBABE)))
		Expect(memory.Read32(0x88000010)).To(Equal(uint32(0xCAFEBABE)))
	})

	It("should map scratchpad and VRAM", func() {
		Expect(memory.IsRangeValid(emu.ScratchpadBase, emu.ScratchpadSize)).To(BeTrue())
		Expect(memory.IsRangeValid(emu.VRAMBase, emu.VRAMSize)).To(BeTrue())
		Expect(memory.IsRangeValid(emu.ScratchpadBase, emu.ScratchpadSize+1)).To(BeFalse())
		Expect(memory.IsRangeValid(0, 4)).To(BeFalse())
	})

	It("should fault on misaligned access when checked", func() {
		_, err := memory.Read32(emu.MainBase + 2)

		var fault *emu.MemoryFaultError
		Expect(errors.As(err, &fault)).To(BeTrue())
		Expect(fault.Misaligned).To(BeTrue())
	})

	It("should fault on unmapped writes when checked", func() {
		err := memory.Write8(0x00000010, 1)

		var fault *emu.MemoryFaultError
		Expect(errors.As(err, &fault)).To(BeTrue())
		Expect(fault.Write).To(BeTrue())
	})

	It("should tolerate bad accesses when unchecked", func() {
		memory = emu.NewMemory(emu.WithUncheckedAccess())
		Expect(memory.Write32(0x00000010, 1)).To(Succeed())
		Expect(memory.Read32(0x00000010)).To(Equal(uint32(0)))
		Expect(memory.Write32(emu.MainBase+1, 0x11223344)).To(Succeed())
		Expect(memory.Read8(emu.MainBase + 1)).To(Equal(uint8(0x44)))
	})

	It("should bounds-check slices even when unchecked", func() {
		memory = emu.NewMemory(emu.WithUncheckedAccess())
		_, err := memory.Slice(emu.MainBase+emu.MainSize-2, 4)
		Expect(err).To(HaveOccurred())
	})

	It("should notify the write hook with the written range", func() {
		var lo, hi uint32
		memory.SetWriteHook(func(l, h uint32) { lo, hi = l, h })

		Expect(memory.Write16(emu.MainBase+0x20, 0xBEEF)).To(Succeed())
		Expect(lo).To(Equal(emu.MainBase + 0x20))
		Expect(hi).To(Equal(emu.MainBase + 0x21))
	})

	It("should not notify the hook for host loads", func() {
		called := false
		memory.SetWriteHook(func(uint32, uint32) { called = true })
		Expect(memory.Load(emu.MainBase, []byte{1, 2, 3, 4})).To(Succeed())
		Expect(called).To(BeFalse())
		Expect(memory.Read32(emu.MainBase)).To(Equal(uint32(0x04030201)))
	})

	It("should honor a custom main memory size", func() {
		memory = emu.NewMemory(emu.WithMainMemorySize(1 << 20))
		Expect(memory.IsRangeValid(emu.MainBase, 1<<20)).To(BeTrue())
		Expect(memory.IsRangeValid(emu.MainBase+1<<20, 4)).To(BeFalse())
	})

	It("should read and write fixed-size structures", func() {
		type header struct {
			Magic uint32
			Count uint16
			Flags uint16
		}
		in := header{Magic: 0x50535021, Count: 3, Flags: 0x8000}
		Expect(emu.WriteStruct(memory, emu.MainBase+0x40, &in)).To(Succeed())

		var out header
		Expect(emu.ReadStruct(memory, emu.MainBase+0x40, &out)).To(Succeed())
		Expect(out).To(Equal(in))
		Expect(memory.Read16(emu.MainBase + 0x44)).To(Equal(uint16(3)))
	})
})
