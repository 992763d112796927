package gpu_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/pspsim/emu"
	"github.com/sarchlab/pspsim/gpu"
)

const (
	listA = emu.MainBase + 0x1000
	listB = emu.MainBase + 0x2000
	listC = emu.MainBase + 0x3000
)

var _ = Describe("Processor", func() {
	var (
		memory    *emu.Memory
		processor *gpu.Processor
		finished  []uint32
		signals   []uint32
	)

	write := func(addr uint32, words ...uint32) {
		for i, w := range words {
			Expect(memory.Write32(addr+uint32(4*i), w)).To(Succeed())
		}
	}

	BeforeEach(func() {
		memory = emu.NewMemory()
		finished, signals = nil, nil
		processor = gpu.NewProcessor(memory,
			gpu.WithLogger(GinkgoLogr),
			gpu.WithFinishCallback(func(_ int, arg uint32) { finished = append(finished, arg) }),
			gpu.WithSignalCallback(func(_ int, arg uint32) { signals = append(signals, arg) }),
		)
	})

	It("should run a head-enqueued list before a tail-enqueued one", func() {
		write(listA, gpu.Word(gpu.CmdFINISH, 1), gpu.Word(gpu.CmdEND, 0))
		write(listB, gpu.Word(gpu.CmdFINISH, 2), gpu.Word(gpu.CmdEND, 0))

		a, err := processor.Enqueue(listA, 0, nil, false)
		Expect(err).NotTo(HaveOccurred())
		b, err := processor.Enqueue(listB, 0, nil, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(processor.DrawSync()).To(Equal(gpu.StatusQueued))

		Expect(processor.Run()).To(Succeed())

		Expect(finished).To(Equal([]uint32{2, 1}))
		Expect(processor.Sync(a)).To(Equal(gpu.StatusCompleted))
		Expect(processor.Sync(b)).To(Equal(gpu.StatusCompleted))
		Expect(processor.DrawSync()).To(Equal(gpu.StatusCompleted))
	})

	It("should not put a head-enqueued list ahead of a stalled one", func() {
		write(listA, gpu.Word(gpu.CmdSIGNAL, 1), gpu.Word(gpu.CmdEND, 0))
		write(listB, gpu.Word(gpu.CmdSIGNAL, 2), gpu.Word(gpu.CmdEND, 0))

		a, _ := processor.Enqueue(listA, listA+4, nil, false)
		Expect(processor.Run()).To(Succeed())
		Expect(processor.Sync(a)).To(Equal(gpu.StatusStalled))

		_, err := processor.Enqueue(listB, 0, nil, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(processor.Run()).To(Succeed())
		Expect(signals).To(Equal([]uint32{1}))

		Expect(processor.UpdateStallAddr(a, 0)).To(Succeed())
		Expect(processor.Run()).To(Succeed())
		Expect(signals).To(Equal([]uint32{1, 2}))
	})

	It("should resume a stalled list without reprocessing commands", func() {
		write(listA,
			gpu.Word(gpu.CmdSIGNAL, 1),
			gpu.Word(gpu.CmdSIGNAL, 2),
			gpu.Word(gpu.CmdSIGNAL, 3),
			gpu.Word(gpu.CmdEND, 0),
		)

		id, err := processor.Enqueue(listA, listA+8, nil, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(processor.Run()).To(Succeed())
		Expect(signals).To(Equal([]uint32{1, 2}))
		Expect(processor.Sync(id)).To(Equal(gpu.StatusStalled))
		Expect(processor.DrawSync()).To(Equal(gpu.StatusStalled))

		Expect(processor.UpdateStallAddr(id, listA+12)).To(Succeed())
		Expect(processor.Run()).To(Succeed())
		Expect(signals).To(Equal([]uint32{1, 2, 3}))
		Expect(processor.Sync(id)).To(Equal(gpu.StatusStalled))

		Expect(processor.UpdateStallAddr(id, 0)).To(Succeed())
		Expect(processor.Run()).To(Succeed())
		Expect(signals).To(Equal([]uint32{1, 2, 3}))
		Expect(processor.Sync(id)).To(Equal(gpu.StatusCompleted))
	})

	It("should cancel a dequeued list and move on", func() {
		write(listA, gpu.Word(gpu.CmdSIGNAL, 1), gpu.Word(gpu.CmdEND, 0))
		write(listB, gpu.Word(gpu.CmdSIGNAL, 2), gpu.Word(gpu.CmdEND, 0))

		a, _ := processor.Enqueue(listA, listA, nil, false)
		b, _ := processor.Enqueue(listB, 0, nil, false)
		Expect(processor.Run()).To(Succeed())
		Expect(processor.Sync(b)).To(Equal(gpu.StatusQueued))

		Expect(processor.Dequeue(a)).To(Succeed())
		Expect(processor.Sync(a)).To(Equal(gpu.StatusCancelled))
		Expect(processor.Run()).To(Succeed())
		Expect(signals).To(Equal([]uint32{2}))
		Expect(processor.Sync(b)).To(Equal(gpu.StatusCompleted))
	})

	It("should reject unknown list ids", func() {
		_, err := processor.Sync(3)
		Expect(err).To(MatchError(gpu.ErrInvalidList))
		Expect(processor.Dequeue(gpu.MaxLists)).To(MatchError(gpu.ErrInvalidList))
	})

	It("should run out of lists", func() {
		for i := 0; i < gpu.MaxLists; i++ {
			_, err := processor.Enqueue(listA, listA, nil, false)
			Expect(err).NotTo(HaveOccurred())
		}
		_, err := processor.Enqueue(listA, listA, nil, false)
		Expect(err).To(MatchError(gpu.ErrNoFreeList))
	})

	It("should bind guest contexts to their own state", func() {
		const (
			argsAddr = emu.MainBase + 0x100
			ctxAddr  = emu.MainBase + 0x200
		)
		Expect(emu.WriteStruct(memory, argsAddr, &gpu.ListArgs{Size: 8, ContextAddress: ctxAddr})).To(Succeed())
		write(listA, gpu.Word(gpu.CmdVTYPE, 0x123), gpu.Word(gpu.CmdEND, 0))

		_, err := processor.EnqueueFromGuest(listA, 0, argsAddr, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(processor.Run()).To(Succeed())

		Expect(processor.Context(ctxAddr)).NotTo(BeNil())
		Expect(processor.Context(ctxAddr).Vertex.Type).To(Equal(uint32(0x123)))
		Expect(processor.State().Vertex.Type).To(BeZero())
	})

	It("should use the default state without an args block", func() {
		write(listA, gpu.Word(gpu.CmdVTYPE, 0x45), gpu.Word(gpu.CmdEND, 0))

		_, err := processor.EnqueueFromGuest(listA, 0, 0, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(processor.Run()).To(Succeed())
		Expect(processor.State().Vertex.Type).To(Equal(uint32(0x45)))
	})

	It("should fail to enqueue with unreadable args", func() {
		_, err := processor.EnqueueFromGuest(listA, 0, 0x10, false)
		Expect(err).To(HaveOccurred())
	})

	Context("with unknown commands", func() {
		BeforeEach(func() {
			write(listA, 0xFF000042, gpu.Word(gpu.CmdSIGNAL, 5), gpu.Word(gpu.CmdEND, 0))
		})

		It("should skip them by default", func() {
			id, _ := processor.Enqueue(listA, 0, nil, false)
			Expect(processor.Run()).To(Succeed())
			Expect(signals).To(Equal([]uint32{5}))
			Expect(processor.Sync(id)).To(Equal(gpu.StatusCompleted))
		})

		It("should abort the list when fatal", func() {
			processor = gpu.NewProcessor(memory, gpu.WithFatalUnknownCommands(true))
			id, _ := processor.Enqueue(listA, 0, nil, false)

			err := processor.Run()
			var unknown *gpu.UnknownCommandError
			Expect(errors.As(err, &unknown)).To(BeTrue())
			Expect(unknown.Command).To(Equal(gpu.Command(0xFF)))
			Expect(unknown.Params).To(Equal(uint32(0x42)))
			Expect(unknown.Address).To(Equal(listA))
			Expect(processor.Sync(id)).To(Equal(gpu.StatusCancelled))
		})
	})

	It("should cancel a list that runs into unmapped memory", func() {
		id, _ := processor.Enqueue(0x00000100, 0, nil, false)
		Expect(processor.Run()).To(HaveOccurred())
		Expect(processor.Sync(id)).To(Equal(gpu.StatusCancelled))
	})

	Describe("Serve", func() {
		var (
			ctx    context.Context
			cancel context.CancelFunc
			served chan error
		)

		BeforeEach(func() {
			processor = gpu.NewProcessor(memory, gpu.WithLogger(GinkgoLogr))
			ctx, cancel = context.WithCancel(context.Background())
			served = make(chan error, 1)
			go func() { served <- processor.Serve(ctx) }()
		})

		AfterEach(func() {
			cancel()
			Eventually(served).Should(Receive(BeNil()))
		})

		It("should complete lists as they are queued", func() {
			write(listA, gpu.Word(gpu.CmdEND, 0))
			id, err := processor.Enqueue(listA, 0, nil, false)
			Expect(err).NotTo(HaveOccurred())

			waitCtx, done := context.WithTimeout(ctx, time.Second)
			defer done()
			Expect(processor.Wait(waitCtx, id)).To(Equal(gpu.StatusCompleted))
		})

		It("should resume when the stall address moves", func() {
			write(listA, gpu.Word(gpu.CmdNOP, 0), gpu.Word(gpu.CmdEND, 0))
			id, _ := processor.Enqueue(listA, listA+4, nil, false)
			Eventually(func() gpu.Status {
				s, _ := processor.Sync(id)
				return s
			}).Should(Equal(gpu.StatusStalled))

			Expect(processor.UpdateStallAddr(id, 0)).To(Succeed())

			waitCtx, done := context.WithTimeout(ctx, time.Second)
			defer done()
			Expect(processor.Wait(waitCtx, id)).To(Equal(gpu.StatusCompleted))
		})

		It("should give up waiting when the context ends", func() {
			write(listA, gpu.Word(gpu.CmdEND, 0))
			id, _ := processor.Enqueue(listA, listA, nil, false)

			waitCtx, done := context.WithTimeout(ctx, 10*time.Millisecond)
			defer done()
			_, err := processor.Wait(waitCtx, id)
			Expect(err).To(MatchError(context.DeadlineExceeded))
		})
	})
})
