package runner_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/pspsim/asm"
	"github.com/sarchlab/pspsim/config"
	"github.com/sarchlab/pspsim/emu"
	"github.com/sarchlab/pspsim/gpu"
	"github.com/sarchlab/pspsim/loader"
	"github.com/sarchlab/pspsim/runner"
)

// The guest enqueues the list at 0x08010000, syncs on it and exits with
// the sync status. s0 keeps the list id.
const geProgram = `
.code 0x08000000
	addu r17, r31, r0
	lui r4, 0x0801
	li r5, 0
	li r6, -1
	li r7, 0
	jal enqueue
	nop
	addu r16, r2, r0
	addu r4, r2, r0
	jal listsync
	nop
	addu r31, r17, r0
	jr r31
	nop
enqueue:
	syscall 0x1234
	.word 0xAB49E76A
listsync:
	syscall 0x1234
	.word 0x03444EB4
`

var _ = Describe("GE bridge", func() {
	const list = emu.MainBase + 0x10000

	DescribeTable("should drive display lists from guest code",
		func(dynarec bool) {
			cfg := config.Default()
			cfg.Dynarec = dynarec
			cfg.DumpDir = GinkgoT().TempDir()
			cpu, err := runner.New(context.Background(), cfg, runner.WithLogger(GinkgoLogr))
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(cpu.Close)

			renderer := &gpu.CountingRenderer{}
			processor := gpu.NewProcessor(cpu.Memory,
				gpu.WithLogger(GinkgoLogr), gpu.WithRenderer(renderer))
			cpu.AttachGPU(processor, true)

			Expect(cpu.Memory.Write32(list, gpu.Word(gpu.CmdPRIM, 3<<16|3))).To(Succeed())
			Expect(cpu.Memory.Write32(list+4, gpu.Word(gpu.CmdFINISH, 0))).To(Succeed())
			Expect(cpu.Memory.Write32(list+8, gpu.Word(gpu.CmdEND, 0))).To(Succeed())

			_, err = asm.New().AssembleTo(cpu.Memory, geProgram)
			Expect(err).NotTo(HaveOccurred())
			thread := cpu.NewThread(emu.MainBase, loader.DefaultStackTop)

			Expect(cpu.Run(context.Background(), thread)).To(Succeed())
			Expect(thread.HaltReason).To(Equal(emu.HaltExit))
			Expect(thread.ExitCode).To(BeZero())
			Expect(thread.ReadReg(16)).To(BeNumerically("<", gpu.MaxLists))
			Expect(renderer.Draws).To(Equal(1))
		},
		Entry("interpreter", false),
		Entry("dynarec", true),
	)

	It("should report invalid list ids to the guest", func() {
		cfg := config.Default()
		cpu, err := runner.New(context.Background(), cfg)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(cpu.Close)
		cpu.AttachGPU(gpu.NewProcessor(cpu.Memory), true)

		_, err = asm.New().AssembleTo(cpu.Memory, `
.code 0x08000000
	li r4, 7
	syscall 0x1234
	.word 0x03444EB4
`)
		Expect(err).NotTo(HaveOccurred())
		thread := cpu.NewThread(emu.MainBase, loader.DefaultStackTop)

		Expect(cpu.Run(context.Background(), thread)).To(Succeed())
		Expect(uint32(thread.ExitCode)).To(Equal(uint32(0x80000100)))
	})
})
