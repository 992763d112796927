package asm_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/pspsim/asm"
	"github.com/sarchlab/pspsim/emu"
	"github.com/sarchlab/pspsim/insts"
)

type recordingWriter struct {
	writes map[uint32]uint32
}

func (w *recordingWriter) Write32(addr uint32, v uint32) error {
	w.writes[addr] = v
	return nil
}

var _ = Describe("Assembler", func() {
	var a *asm.Assembler

	BeforeEach(func() {
		a = asm.New(asm.WithLogger(GinkgoLogr))
	})

	Describe("Tokenize", func() {
		It("should split operands and punctuation", func() {
			Expect(asm.Tokenize("r3, -16(r29)")).To(Equal([]string{"r3", ",", "-16", "(", "r29", ")"}))
			Expect(asm.Tokenize("  %vd,\t%vs ")).To(Equal([]string{"%vd", ",", "%vs"}))
		})
	})

	Describe("AssembleLine", func() {
		DescribeTable("known encodings",
			func(line string, want uint32) {
				Expect(a.AssembleLine(line)).To(Equal(want))
			},
			Entry("addi", "addi r2, r1, 5", uint32(0x20220005)),
			Entry("addiu negative", "addiu r2, r1, -4", uint32(0x2422FFFC)),
			Entry("addu", "addu r3, r1, r2", uint32(0x00221821)),
			Entry("abi register names", "addu v1, at, v0", uint32(0x00221821)),
			Entry("lw", "lw r1, 0(r4)", uint32(0x8C810000)),
			Entry("jr", "jr r31", uint32(0x03E00008)),
			Entry("syscall", "syscall 0x7777", uint32(0x001DDDCC)),
			Entry("add.s", "add.s f3, f1, f2", uint32(0x460208C0)),
			Entry("compare", "c.lt.s f1, f2", uint32(0x4602083C)),
			Entry("vadd.q", "vadd.q v2, v0, v1", uint32(0x60018082)),
			Entry("lv.q", "lv.q v12, 0(r4)", uint32(0xD88C0000)),
			Entry("mtv", "mtv r1, v33", uint32(0x48E10021)),
			Entry("nop", "nop", uint32(0x00000024)),
			Entry("halt", "halt", uint32(0x70000000)),
		)

		DescribeTable("round trip through the disassembler",
			func(line string) {
				word, err := a.AssembleLine(line)
				Expect(err).NotTo(HaveOccurred())
				Expect(insts.NewDecoder().Decode(word).Disassemble(0)).To(Equal(line))
			},
			Entry(nil, "lui r1, 0x1234"),
			Entry(nil, "ori r1, r1, 0x5678"),
			Entry(nil, "sw r3, -8(r29)"),
			Entry(nil, "ext r1, r2, 4, 8"),
			Entry(nil, "ins r1, r2, 4, 8"),
			Entry(nil, "rotr r1, r2, 3"),
			Entry(nil, "cfc1 r2, 31"),
			Entry(nil, "mfv r2, v1"),
			Entry(nil, "viim v3, -2"),
			Entry(nil, "vdot.t v4, v8, v12"),
			Entry(nil, "vpfxs 0x0100e4"),
			Entry(nil, "sv.s v5, 12(r4)"),
		)

		It("should reject unknown mnemonics", func() {
			_, err := a.AssembleLine("frobnicate r1")
			Expect(err).To(MatchError(ContainSubstring("unknown instruction")))
		})

		It("should reject bad register names", func() {
			_, err := a.AssembleLine("addu r1, r2, r40")
			Expect(err).To(HaveOccurred())
		})

		It("should reject extra operands", func() {
			_, err := a.AssembleLine("jr r31, r2")
			Expect(err).To(MatchError(ContainSubstring("unexpected token")))
		})
	})

	Describe("li", func() {
		It("should use a single addi for 16-bit values", func() {
			words, _, err := a.AssembleInstructions(0, "li r1, -5")
			Expect(err).NotTo(HaveOccurred())
			Expect(words).To(Equal([]uint32{0x2001FFFB}))
		})

		It("should use lui/ori for wider values", func() {
			words, _, err := a.AssembleInstructions(0, "li r1, 0x12345678")
			Expect(err).NotTo(HaveOccurred())
			Expect(words).To(Equal([]uint32{0x3C011234, 0x34215678}))
		})
	})

	Describe("Assemble", func() {
		It("should resolve backward and forward labels", func() {
			prog, err := a.Assemble(`
				.code 0x08000000
			start:
				addiu r1, r0, 3    ; counter
			loop:
				addiu r1, r1, -1
				bne   r1, r0, loop # back edge
				nop
				b     done
				nop
				j     start
				nop
			done: halt
			`)
			Expect(err).NotTo(HaveOccurred())
			Expect(prog.Labels).To(HaveKeyWithValue("loop", uint32(0x08000004)))
			Expect(prog.Labels).To(HaveKeyWithValue("done", uint32(0x08000020)))
			Expect(prog.Chunks).To(HaveLen(1))
			Expect(prog.Words()).To(Equal([]uint32{
				0x24010003,
				0x2421FFFF,
				0x1420FFFE,
				0x00000024,
				0x10000003,
				0x00000024,
				0x0A000000,
				0x00000024,
				0x70000000,
			}))
		})

		It("should emit separate chunks per .code directive", func() {
			prog, err := a.Assemble(`
				.code 0x08000000
				jal func
				nop
				.code 0x08001000
			func:
				jr ra
				nop
				.word func
			`)
			Expect(err).NotTo(HaveOccurred())
			Expect(prog.Chunks).To(HaveLen(2))
			Expect(prog.Chunks[1].Address).To(Equal(uint32(0x08001000)))
			Expect(prog.Chunks[0].Words[0]).To(Equal(uint32(0x0E000400)))
			Expect(prog.Chunks[1].Words[2]).To(Equal(uint32(0x08001000)))
		})

		It("should fail on an undefined label without writing", func() {
			w := &recordingWriter{writes: map[uint32]uint32{}}
			_, err := a.AssembleTo(w, `
				.code 0x08000000
				addiu r1, r0, 1
				beq r1, r0, missing
				nop
			`)

			var undefined *asm.UndefinedLabelError
			Expect(errors.As(err, &undefined)).To(BeTrue())
			Expect(undefined.Label).To(Equal("missing"))
			Expect(undefined.Line).To(Equal(4))
			Expect(w.writes).To(BeEmpty())
		})

		It("should report the failing line", func() {
			_, err := a.Assemble("nop\nbogus r1\n")

			var syntax *asm.SyntaxError
			Expect(errors.As(err, &syntax)).To(BeTrue())
			Expect(syntax.Line).To(Equal(2))
		})

		It("should reject unknown directives", func() {
			_, err := a.Assemble(".align 4")
			Expect(err).To(MatchError(ContainSubstring("unsupported directive")))
		})
	})

	It("should produce code the interpreter runs", func() {
		e := emu.NewEmulator(emu.WithMaxInstructions(1000))
		_, err := a.AssembleTo(e.Memory(), `
			.code 0x08000000
			li    r1, 10
			li    r2, 0
		loop:
			addu  r2, r2, r1
			addiu r1, r1, -1
			bne   r1, r0, loop
			nop
			or    v0, r2, r0
			syscall 0x7777
		`)
		Expect(err).NotTo(HaveOccurred())

		e.RegFile().SetPC(0x08000000)
		Expect(e.Run()).To(Equal(int32(55)))
	})
})
