package dynarec_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/pspsim/dynarec"
	"github.com/sarchlab/pspsim/dynarec/methodcache"
	"github.com/sarchlab/pspsim/emu"
)

// drive runs the thread to completion through a scheduler, stepping the
// interpreter over words no function covers.
func drive(ctx context.Context, s dynarec.Scheduler, thread *emu.ThreadState) {
	for i := 0; !thread.Halted; i++ {
		Expect(i).To(BeNumerically("<", 100))

		fn, err := s.GetFunctionForAddress(ctx, thread.PC)
		Expect(err).NotTo(HaveOccurred())
		if fn == nil {
			Expect(thread.Step()).To(Succeed())
			continue
		}
		_, reason, err := fn.Run(thread, 1000)
		Expect(err).NotTo(HaveOccurred())
		Expect(reason).NotTo(Equal(dynarec.ExitError))
	}
}

// overwritingReader reports every fetch as a write to the fetched word,
// the way self-modifying code racing the compiler looks to the cache.
type overwritingReader struct {
	dynarec.Reader
	cache *methodcache.Cache[*dynarec.Function]
}

func (r *overwritingReader) Read32(addr uint32) (uint32, error) {
	r.cache.InvalidateRange(addr, addr+3)
	return r.Reader.Read32(addr)
}

var _ = Describe("Schedulers", func() {
	var (
		ctx      context.Context
		compiler *dynarec.Compiler
		cache    *methodcache.Cache[*dynarec.Function]
	)

	BeforeEach(func() {
		ctx = context.Background()
		compiler = dynarec.NewCompiler(dynarec.WithLogger(GinkgoLogr))
		cache = methodcache.New[*dynarec.Function](methodcache.WithLogger(GinkgoLogr))
	})

	Describe("SyncScheduler", func() {
		It("should compile on a miss and reuse the cached function", func() {
			memory, _ := newThread(sumLoop)
			s := dynarec.NewSyncScheduler(compiler, memory, cache)

			fn, err := s.GetFunctionForAddress(ctx, entry)
			Expect(err).NotTo(HaveOccurred())

			again, err := s.GetFunctionForAddress(ctx, entry+8)
			Expect(err).NotTo(HaveOccurred())
			Expect(again).To(BeIdenticalTo(fn))
			Expect(cache.Stats().Inserts).To(Equal(uint64(1)))
			Expect(s.Cache()).To(BeIdenticalTo(cache))
			Expect(s.Close()).To(Succeed())
		})

		It("should run a program across functions", func() {
			memory, thread := newThread(callProgram)
			s := dynarec.NewSyncScheduler(compiler, memory, cache)

			drive(ctx, s, thread)

			Expect(thread.ReadReg(5)).To(Equal(uint32(6)))
			Expect(cache.Len()).To(Equal(2))
		})

		It("should keep a function compiled inside another function's gap", func() {
			src := `
.code 0x08000000
	jal sub
	nop
	j done
	nop
sub:
	addiu r2, r2, 7
	jr r31
	nop
done:
	halt
`
			memory, thread := newThread(src)
			s := dynarec.NewSyncScheduler(compiler, memory, cache)

			sub, err := s.GetFunctionForAddress(ctx, entry+16)
			Expect(err).NotTo(HaveOccurred())
			outer, err := s.GetFunctionForAddress(ctx, entry)
			Expect(err).NotTo(HaveOccurred())
			Expect(outer.MaxPC()).To(Equal(entry + 28))
			Expect(outer.Covers(entry + 16)).To(BeFalse())

			Expect(cache.Len()).To(Equal(2))
			Expect(cache.Stats().Evictions).To(BeZero())
			for pc := entry + 16; pc <= entry+24; pc += 4 {
				fn, ok := cache.TryGetMethodAt(pc)
				Expect(ok).To(BeTrue())
				Expect(fn).To(BeIdenticalTo(sub))
			}
			fn, ok := cache.TryGetMethodAt(entry + 28)
			Expect(ok).To(BeTrue())
			Expect(fn).To(BeIdenticalTo(outer))

			drive(ctx, s, thread)
			Expect(thread.ReadReg(2)).To(Equal(uint32(7)))
			Expect(cache.Stats().Inserts).To(Equal(uint64(2)))
		})

		It("should recompile code that was overwritten", func() {
			memory, thread := newThread(sumLoop)
			memory.SetWriteHook(func(lo, hi uint32) { cache.InvalidateRange(lo, hi) })
			s := dynarec.NewSyncScheduler(compiler, memory, cache)

			old, err := s.GetFunctionForAddress(ctx, entry)
			Expect(err).NotTo(HaveOccurred())

			// li r1, 3
			Expect(memory.Write32(entry, 0x20010003)).To(Succeed())
			Expect(cache.Len()).To(BeZero())

			fn, err := s.GetFunctionForAddress(ctx, entry)
			Expect(err).NotTo(HaveOccurred())
			Expect(fn).NotTo(BeIdenticalTo(old))

			drive(ctx, s, thread)
			Expect(thread.ReadReg(2)).To(Equal(uint32(6)))
		})

		It("should give up on code that changes during every compilation", func() {
			memory, thread := newThread(sumLoop)
			s := dynarec.NewSyncScheduler(compiler, &overwritingReader{memory, cache}, cache,
				dynarec.WithSchedulerLogger(GinkgoLogr))

			fn, err := s.GetFunctionForAddress(ctx, entry)
			Expect(err).NotTo(HaveOccurred())
			Expect(fn).To(BeNil())
			Expect(cache.Len()).To(BeZero())
			Expect(cache.Stats().Rejected).To(Equal(uint64(3)))

			drive(ctx, s, thread)
			Expect(thread.ReadReg(2)).To(Equal(uint32(55)))
		})

		It("should not cache failed compilations", func() {
			memory, _ := newThread(".code 0x08000000\n\t.word 0xFFFFFFFF\n")
			s := dynarec.NewSyncScheduler(compiler, memory, cache)

			_, err := s.GetFunctionForAddress(ctx, entry)
			Expect(err).To(HaveOccurred())
			Expect(cache.Len()).To(BeZero())
		})
	})

	Describe("WorkerScheduler", func() {
		var (
			cancel context.CancelFunc
		)

		BeforeEach(func() {
			ctx, cancel = context.WithCancel(ctx)
			DeferCleanup(func() { cancel() })
		})

		It("should compile requested and discovered entries", func() {
			memory, thread := newThread(callProgram)
			s := dynarec.NewWorkerScheduler(ctx, compiler, memory, cache,
				dynarec.WithSchedulerLogger(GinkgoLogr))
			DeferCleanup(s.Close)

			fn, err := s.GetFunctionForAddress(ctx, entry)
			Expect(err).NotTo(HaveOccurred())
			Expect(fn.Entry).To(Equal(entry))

			Eventually(cache.Len).Should(Equal(2))
			Eventually(s.Pending).Should(BeZero())

			drive(ctx, s, thread)
			Expect(thread.ReadReg(5)).To(Equal(uint32(6)))
		})

		It("should answer nil for code that changes during every compilation", func() {
			memory, _ := newThread(sumLoop)
			s := dynarec.NewWorkerScheduler(ctx, compiler, &overwritingReader{memory, cache}, cache)
			DeferCleanup(s.Close)

			fn, err := s.GetFunctionForAddress(ctx, entry)
			Expect(err).NotTo(HaveOccurred())
			Expect(fn).To(BeNil())
			_, ok := cache.TryGetMethodAt(entry)
			Expect(ok).To(BeFalse())
		})

		It("should report compilation errors to the caller", func() {
			memory, _ := newThread(".code 0x08000000\n\t.word 0xFFFFFFFF\n")
			s := dynarec.NewWorkerScheduler(ctx, compiler, memory, cache)
			DeferCleanup(s.Close)

			_, err := s.GetFunctionForAddress(ctx, entry)
			Expect(err).To(BeAssignableToTypeOf(&dynarec.LoweringError{}))
		})

		It("should refuse requests after Close", func() {
			memory, _ := newThread(sumLoop)
			s := dynarec.NewWorkerScheduler(ctx, compiler, memory, cache)

			_, err := s.GetFunctionForAddress(ctx, entry)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Close()).To(Succeed())

			_, err = s.GetFunctionForAddress(ctx, entry+0x100)
			Expect(err).To(MatchError(dynarec.ErrSchedulerClosed))

			fn, err := s.GetFunctionForAddress(ctx, entry)
			Expect(err).NotTo(HaveOccurred())
			Expect(fn.Entry).To(Equal(entry))
		})

		It("should stop waiting when the caller's context ends", func() {
			memory, _ := newThread(sumLoop)
			s := dynarec.NewWorkerScheduler(ctx, compiler, memory, cache)
			DeferCleanup(s.Close)

			callCtx, callCancel := context.WithCancel(context.Background())
			callCancel()

			_, err := s.GetFunctionForAddress(callCtx, entry)
			if err != nil {
				Expect(err).To(MatchError(context.Canceled))
			}
		})
	})
})
