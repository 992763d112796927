package dynarec_test

import (
	"errors"

	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/pspsim/asm"
	"github.com/sarchlab/pspsim/dynarec"
	"github.com/sarchlab/pspsim/emu"
)

const entry = emu.MainBase

const sumLoop = `
.code 0x08000000
	li r1, 10
	li r2, 0
loop:
	addu r2, r2, r1
	addiu r1, r1, -1
	bne r1, r0, loop
	nop
	halt
`

const callProgram = `
.code 0x08000000
	jal func
	li r4, 3
	addu r5, r2, r0
	halt
.code 0x08000100
func:
	addu r2, r4, r4
	jr r31
	nop
`

const aluProgram = `
.code 0x08000000
	lui r1, 0x1234
	ori r1, r1, 0x5678
	andi r2, r1, 0xFF
	xori r3, r1, 0xFFFF
	li r4, -7
	slt r5, r4, r0
	sltu r6, r4, r0
	slti r7, r4, -8
	sltiu r8, r4, 5
	sll r9, r1, 4
	srl r10, r4, 3
	sra r11, r4, 1
	li r12, 35
	sllv r13, r1, r12
	srlv r14, r4, r12
	srav r15, r4, r12
	nor r16, r1, r4
	xor r17, r1, r4
	and r18, r1, r4
	or r19, r1, r0
	movz r20, r1, r0
	movn r21, r1, r0
	mult r1, r4
	mfhi r22
	mflo r23
	addu r24, r1, r4
	subu r25, r1, r4
	addiu r26, r0, 100
	sll r0, r1, 2
	halt
`

const dataBase = entry + 0x1000

const unalignedProgram = `
.code 0x08000000
	lui r4, 0x0800
	ori r4, r4, 0x1000
	li r1, 0x11223344
	sw r1, 0(r4)
	li r2, 0x55667788
	sw r2, 4(r4)
	lwr r5, 1(r4)
	lwl r5, 4(r4)
	lwl r6, 6(r4)
	lwr r6, 3(r4)
	swr r1, 9(r4)
	swl r1, 12(r4)
	swl r2, 18(r4)
	swr r2, 23(r4)
	swl r5, 24(r4)
	swr r6, 31(r4)
	halt
`

const fpuProgram = `
.code 0x08000000
	lui r4, 0x0800
	ori r4, r4, 0x1000
	li r1, 0x40400000
	mtc1 r1, f1
	li r2, 0x3FC00000
	mtc1 r2, f2
	add.s f3, f1, f2
	mul.s f4, f1, f2
	c.lt.s f2, f1
	bc1t taken
	nop
	li r9, 1
taken:
	cvt.w.s f5, f4
	mfc1 r5, f5
	swc1 f3, 0(r4)
	lwc1 f6, 0(r4)
	halt
`

const vfpuProgram = `
.code 0x08000000
	lui r4, 0x0800
	ori r4, r4, 0x1000
	lv.q v0, 0(r4)
	lv.q v1, 16(r4)
	vpfxs 0x01001B
	vadd.q v2, v0, v1
	vpfxd 0x000801
	vadd.q v3, v0, v1
	vadd.q v4, v0, v1
	sv.q v2, 32(r4)
	sv.q v3, 48(r4)
	halt
.code 0x08001000
	.word 0x3F800000
	.word 0x40000000
	.word 0x40400000
	.word 0x40800000
	.word 0x41200000
	.word 0x41A00000
	.word 0x41F00000
	.word 0x42200000
`

const likelyCallProgram = `
.code 0x08000000
	li r1, 3
loop:
	addiu r1, r1, -1
	bnel r1, r0, loop
	addiu r2, r2, 5
	beql r0, r0, over
	addiu r3, r3, 1
	li r7, 99
over:
	jal func
	nop
	lui r8, 0x0800
	ori r8, r8, 0x0100
	jalr r31, r8
	nop
	lui r4, 0x0800
	ori r4, r4, 0x1000
	sw r6, 0(r4)
	halt
.code 0x08000100
func:
	addiu r6, r6, 1
	jr r31
	nop
`

// runCompiled runs the thread to a halt on compiled code, compiling a new
// function whenever it leaves the ones it has.
func runCompiled(compiler *dynarec.Compiler, memory *emu.Memory, thread *emu.ThreadState) {
	var fns []*dynarec.Function
	for i := 0; i < 100; i++ {
		var fn *dynarec.Function
		for _, f := range fns {
			if f.Covers(thread.PC) {
				fn = f
				break
			}
		}
		if fn == nil {
			var err error
			fn, err = compiler.CreateFunction(memory, thread.PC, nil)
			Expect(err).NotTo(HaveOccurred())
			fns = append(fns, fn)
		}

		_, reason, err := fn.Run(thread, 10000)
		Expect(err).NotTo(HaveOccurred())
		if reason == dynarec.ExitHalted {
			return
		}
		Expect(reason).To(Equal(dynarec.ExitLeft))
	}
	Fail("thread did not halt")
}

func window(memory *emu.Memory, base uint32, words int) []uint32 {
	out := make([]uint32, words)
	for i := range out {
		v, err := memory.Read32(base + uint32(i)*4)
		Expect(err).NotTo(HaveOccurred())
		out[i] = v
	}
	return out
}

func newThread(src string) (*emu.Memory, *emu.ThreadState) {
	memory := emu.NewMemory()
	_, err := asm.New().AssembleTo(memory, src)
	Expect(err).NotTo(HaveOccurred())

	thread := emu.NewThreadState(emu.NewProcessor(memory), 0)
	thread.SetPC(entry)
	return memory, thread
}

var _ = Describe("Compiler", func() {
	var compiler *dynarec.Compiler

	BeforeEach(func() {
		compiler = dynarec.NewCompiler(dynarec.WithLogger(GinkgoLogr), dynarec.WithTrace(true))
	})

	Describe("CreateFunction", func() {
		It("should split a loop into basic blocks", func() {
			memory, _ := newThread(sumLoop)

			fn, err := compiler.CreateFunction(memory, entry, nil)
			Expect(err).NotTo(HaveOccurred())

			prog := fn.Program
			Expect(prog.Len()).To(Equal(7))
			Expect(prog.Blocks).To(HaveLen(3))
			Expect(prog.Blocks[0].End).To(Equal(dynarec.EndFallthrough))
			Expect(prog.Blocks[1].Start).To(Equal(entry + 8))
			Expect(prog.Blocks[1].End).To(Equal(dynarec.EndConditional))
			Expect(prog.Blocks[1].Targets).To(Equal([]uint32{entry + 8}))
			Expect(prog.Blocks[2].End).To(Equal(dynarec.EndTerminated))
			Expect(prog.External).To(BeEmpty())

			Expect(fn.MinPC()).To(Equal(entry))
			Expect(fn.MaxPC()).To(Equal(entry + 0x18))
		})

		It("should dump the IR as a tree", func() {
			memory, _ := newThread(sumLoop)
			fn, err := compiler.CreateFunction(memory, entry, nil)
			Expect(err).NotTo(HaveOccurred())

			dump := fn.Dump()
			Expect(dump).To(ContainSubstring("function 0x08000000 (3 blocks, 7 instructions)"))
			Expect(dump).To(ContainSubstring("block 0x08000008 [conditional] -> 0x08000008"))
			Expect(dump).To(ContainSubstring("; delay slot"))
			Expect(dump).To(ContainSubstring("; save pc"))
		})

		It("should report call targets as new entries", func() {
			memory, _ := newThread(callProgram)

			var discovered []uint32
			fn, err := compiler.CreateFunction(memory, entry, func(pc uint32) {
				discovered = append(discovered, pc)
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(discovered).To(Equal([]uint32{entry + 0x100}))
			Expect(fn.Program.External).To(Equal(discovered))
			Expect(fn.Program.Blocks[0].End).To(Equal(dynarec.EndCall))
			Expect(fn.Covers(entry + 12)).To(BeTrue())
			Expect(fn.Covers(entry + 16)).To(BeFalse())
		})

		It("should stop a path at the instruction limit", func() {
			memory, _ := newThread(aluProgram)
			compiler = dynarec.NewCompiler(dynarec.WithMaxInstructions(4))

			var discovered []uint32
			fn, err := compiler.CreateFunction(memory, entry, func(pc uint32) {
				discovered = append(discovered, pc)
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(fn.Program.Len()).To(Equal(4))
			Expect(discovered).To(Equal([]uint32{entry + 16}))
		})

		It("should not scan past an unconditional branch", func() {
			src := `
.code 0x08000000
loop:
	addiu r2, r2, 1
	b loop
	nop
	.word 0xFFFFFFFF
`
			memory, _ := newThread(src)

			fn, err := compiler.CreateFunction(memory, entry, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(fn.Program.Len()).To(Equal(3))
			Expect(fn.MaxPC()).To(Equal(entry + 8))
			Expect(fn.Covers(entry + 12)).To(BeFalse())
		})

		It("should not scan past beql on equal registers", func() {
			memory, _ := newThread(".code 0x08000000\n\tbeql r3, r3, 0x08000000\n\tnop\n\t.word 0xFFFFFFFF\n")

			fn, err := compiler.CreateFunction(memory, entry, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(fn.MaxPC()).To(Equal(entry + 4))
		})

		It("should reject unknown instructions", func() {
			memory, _ := newThread(".code 0x08000000\n\tnop\n\t.word 0xFFFFFFFF\n")

			_, err := compiler.CreateFunction(memory, entry, nil)

			var lowering *dynarec.LoweringError
			Expect(errors.As(err, &lowering)).To(BeTrue())
			Expect(lowering.PC).To(Equal(entry + 4))

			var unimplemented *emu.UnimplementedInstructionError
			Expect(errors.As(err, &unimplemented)).To(BeTrue())
		})

		It("should reject a syscall in a delay slot", func() {
			memory, _ := newThread(".code 0x08000000\n\tjr r31\n\tsyscall 0x7777\n")

			_, err := compiler.CreateFunction(memory, entry, nil)

			var lowering *dynarec.LoweringError
			Expect(errors.As(err, &lowering)).To(BeTrue())
			Expect(lowering.PC).To(Equal(entry + 4))
			Expect(err.Error()).To(ContainSubstring("delay slot"))
		})

		It("should reject a misaligned entry", func() {
			memory, _ := newThread(sumLoop)
			_, err := compiler.CreateFunction(memory, entry+2, nil)
			Expect(err).To(BeAssignableToTypeOf(&dynarec.LoweringError{}))
		})

		It("should fail on unmapped code", func() {
			memory := emu.NewMemory()
			_, err := compiler.CreateFunction(memory, 0x10, nil)

			var fault *emu.MemoryFaultError
			Expect(errors.As(err, &fault)).To(BeTrue())
		})
	})

	Describe("Function.Run", func() {
		run := func(src string) (*emu.ThreadState, dynarec.ExitReason) {
			memory, thread := newThread(src)
			fn, err := compiler.CreateFunction(memory, entry, nil)
			Expect(err).NotTo(HaveOccurred())

			_, reason, err := fn.Run(thread, 10000)
			Expect(err).NotTo(HaveOccurred())
			return thread, reason
		}

		It("should run a loop to completion", func() {
			thread, reason := run(sumLoop)
			Expect(reason).To(Equal(dynarec.ExitHalted))
			Expect(thread.ReadReg(2)).To(Equal(uint32(55)))
			Expect(thread.InstructionCount).To(Equal(uint64(43)))
		})

		It("should stop on the budget with an exact PC", func() {
			memory, thread := newThread(sumLoop)
			fn, err := compiler.CreateFunction(memory, entry, nil)
			Expect(err).NotTo(HaveOccurred())

			n, reason, err := fn.Run(thread, 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(5))
			Expect(reason).To(Equal(dynarec.ExitBudget))
			Expect(thread.PC).To(Equal(entry + 0x14))
			Expect(thread.NextPC).To(Equal(entry + 8))

			_, reason, err = fn.Run(thread, 10000)
			Expect(err).NotTo(HaveOccurred())
			Expect(reason).To(Equal(dynarec.ExitHalted))
			Expect(thread.ReadReg(2)).To(Equal(uint32(55)))
		})

		It("should nullify the delay slot of a not-taken likely branch", func() {
			src := `
.code 0x08000000
	li r1, 1
	beql r0, r1, skip
	li r2, 7
	li r3, 9
skip:
	halt
`
			thread, reason := run(src)
			Expect(reason).To(Equal(dynarec.ExitHalted))
			Expect(thread.ReadReg(2)).To(BeZero())
			Expect(thread.ReadReg(3)).To(Equal(uint32(9)))
			Expect(thread.InstructionCount).To(Equal(uint64(4)))
		})

		It("should leave the function at an unscanned call target", func() {
			memory, thread := newThread(callProgram)
			fn, err := compiler.CreateFunction(memory, entry, nil)
			Expect(err).NotTo(HaveOccurred())

			n, reason, err := fn.Run(thread, 100)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(2))
			Expect(reason).To(Equal(dynarec.ExitLeft))
			Expect(thread.PC).To(Equal(entry + 0x100))
			Expect(thread.ReadReg(emu.RegRA)).To(Equal(entry + 8))
			Expect(thread.ReadReg(4)).To(Equal(uint32(3)))
		})

		It("should report faults at the faulting instruction", func() {
			src := `
.code 0x08000000
	li r1, 4
	lw r2, 0(r0)
	halt
`
			memory, thread := newThread(src)
			fn, err := compiler.CreateFunction(memory, entry, nil)
			Expect(err).NotTo(HaveOccurred())

			n, reason, err := fn.Run(thread, 100)
			Expect(n).To(Equal(1))
			Expect(reason).To(Equal(dynarec.ExitError))

			var fault *emu.MemoryFaultError
			Expect(errors.As(err, &fault)).To(BeTrue())
			Expect(fault.PC).To(Equal(entry + 4))
			Expect(thread.PC).To(Equal(entry + 4))
			Expect(thread.NextPC).To(Equal(entry + 8))
		})

		It("should yield after a syscall that asks for it", func() {
			memory, thread := newThread(".code 0x08000000\n\tsyscall 0x42\n\thalt\n")
			thread.Proc.Syscalls.RegisterFunc(0x42, func(t *emu.ThreadState, _ uint32) error {
				t.Yield()
				return nil
			})
			fn, err := compiler.CreateFunction(memory, entry, nil)
			Expect(err).NotTo(HaveOccurred())

			n, reason, err := fn.Run(thread, 100)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))
			Expect(reason).To(Equal(dynarec.ExitYield))
			Expect(thread.PC).To(Equal(entry + 4))
		})

		DescribeTable("should match the interpreter",
			func(src string, opts ...dynarec.CompilerOption) {
				wantMemory, want := newThread(src)
				Expect(want.Run(10000)).To(Succeed())
				Expect(want.Halted).To(BeTrue())

				memory, thread := newThread(src)
				runCompiled(dynarec.NewCompiler(opts...), memory, thread)

				Expect(cmp.Diff(want.RegFile, thread.RegFile)).To(BeEmpty())
				Expect(thread.InstructionCount).To(Equal(want.InstructionCount))
				Expect(cmp.Diff(window(wantMemory, dataBase, 64), window(memory, dataBase, 64))).To(BeEmpty())
			},
			Entry("sum loop", sumLoop),
			Entry("specialized ALU", aluProgram),
			Entry("imprecise memory", `
.code 0x08000000
	lui r4, 0x0800
	ori r4, r4, 0x1000
	li r1, 77
	sw r1, 8(r4)
	lw r2, 8(r4)
	lbu r3, 8(r4)
	halt
`, dynarec.WithPreciseMemory(false)),
			Entry("unaligned loads and stores", unalignedProgram),
			Entry("unaligned loads and stores, imprecise", unalignedProgram, dynarec.WithPreciseMemory(false)),
			Entry("FPU arithmetic and compare branch", fpuProgram),
			Entry("VFPU prefixes", vfpuProgram),
			Entry("likely branches and calls", likelyCallProgram),
		)
	})
})
