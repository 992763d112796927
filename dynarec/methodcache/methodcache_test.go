package methodcache_test

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/pspsim/dynarec/methodcache"
)

type unit struct {
	name     string
	min, max uint32
	gaps     map[uint32]bool
}

func newUnit(name string, min, max uint32, gaps ...uint32) *unit {
	u := &unit{name: name, min: min, max: max, gaps: map[uint32]bool{}}
	for _, pc := range gaps {
		u.gaps[pc] = true
	}
	return u
}

func (u *unit) MinPC() uint32 { return u.min }
func (u *unit) MaxPC() uint32 { return u.max }

func (u *unit) Covers(pc uint32) bool {
	return pc >= u.min && pc <= u.max && !u.gaps[pc]
}

var _ = Describe("Cache", func() {
	var cache *methodcache.Cache[*unit]

	BeforeEach(func() {
		cache = methodcache.New[*unit](methodcache.WithLogger(GinkgoLogr))
	})

	expectOwner := func(pc uint32, want *unit) {
		got, ok := cache.TryGetMethodAt(pc)
		if want == nil {
			ExpectWithOffset(1, ok).To(BeFalse(), "pc 0x%08x", pc)
			return
		}
		ExpectWithOffset(1, ok).To(BeTrue(), "pc 0x%08x", pc)
		ExpectWithOffset(1, got).To(BeIdenticalTo(want), "pc 0x%08x", pc)
	}

	It("should resolve every PC of a unit's range", func() {
		u := newUnit("a", 0x08000ff0, 0x08001010)
		cache.SetMethodAt(0x08000ff0, u)

		for pc := u.min; pc <= u.max; pc += 4 {
			expectOwner(pc, u)
		}
		expectOwner(u.min-4, nil)
		expectOwner(u.max+4, nil)
		Expect(cache.Len()).To(Equal(1))
	})

	It("should evict overlapping units on insertion", func() {
		a := newUnit("a", 0x08000000, 0x08000020)
		b := newUnit("b", 0x08000030, 0x08000040)
		c := newUnit("c", 0x0800001c, 0x08000034)
		cache.SetMethodAt(a.min, a)
		cache.SetMethodAt(b.min, b)
		cache.SetMethodAt(c.min, c)

		expectOwner(0x08000000, nil)
		expectOwner(0x08000040, nil)
		expectOwner(0x08000020, c)
		Expect(cache.Len()).To(Equal(1))
	})

	Describe("units with gaps", func() {
		var outer, inner *unit

		BeforeEach(func() {
			inner = newUnit("inner", 0x08000010, 0x08000018)
			outer = newUnit("outer", 0x08000000, 0x08000030, 0x08000010, 0x08000014, 0x08000018)
		})

		It("should not evict a unit compiled inside the gap", func() {
			cache.SetMethodAt(inner.min, inner)
			cache.SetMethodAt(outer.min, outer)

			expectOwner(0x08000010, inner)
			expectOwner(0x08000018, inner)
			expectOwner(0x0800000c, outer)
			expectOwner(0x0800001c, outer)
			Expect(cache.Len()).To(Equal(2))
			Expect(cache.Stats().Evictions).To(BeZero())
		})

		It("should leave gap words unowned", func() {
			cache.SetMethodAt(outer.min, outer)

			expectOwner(0x08000014, nil)
			expectOwner(0x08000020, outer)
		})

		It("should keep a gapped unit when its gap is overwritten", func() {
			cache.SetMethodAt(inner.min, inner)
			cache.SetMethodAt(outer.min, outer)

			Expect(cache.InvalidateRange(0x08000014, 0x08000017)).To(Equal(1))
			expectOwner(0x08000010, nil)
			expectOwner(0x08000000, outer)
		})

		It("should publish a gapped unit whose gap was overwritten", func() {
			t := cache.Reserve()
			cache.InvalidateRange(0x08000014, 0x08000017)
			Expect(cache.Publish(outer, t)).To(BeTrue())
		})

		It("should panic when the entry lies in a gap", func() {
			Expect(func() { cache.SetMethodAt(0x08000014, outer) }).To(Panic())
		})

		It("should find gapped units when clearing everything", func() {
			cache.SetMethodAt(inner.min, inner)
			cache.SetMethodAt(outer.min, outer)
			cache.Clear()
			Expect(cache.Len()).To(BeZero())
		})
	})

	It("should evict every unit intersecting an invalidated range", func() {
		a := newUnit("a", 0x08000000, 0x08000100)
		b := newUnit("b", 0x08000200, 0x08000300)
		d := newUnit("d", 0x08010000, 0x08010010)
		cache.SetMethodAt(a.min, a)
		cache.SetMethodAt(b.min, b)
		cache.SetMethodAt(d.min, d)

		var cleared [][2]uint32
		cache.OnClearRange(func(lo, hi uint32) { cleared = append(cleared, [2]uint32{lo, hi}) })

		Expect(cache.InvalidateRange(0x080000fc, 0x08000203)).To(Equal(2))
		for pc := a.min; pc <= b.max; pc += 4 {
			expectOwner(pc, nil)
		}
		expectOwner(d.min, d)
		Expect(cleared).To(Equal([][2]uint32{{0x080000fc, 0x08000203}}))
	})

	It("should ignore invalidations of uncompiled memory", func() {
		a := newUnit("a", 0x08000000, 0x08000010)
		cache.SetMethodAt(a.min, a)
		Expect(cache.InvalidateRange(0x08100000, 0x08100003)).To(Equal(0))
		expectOwner(a.min, a)
	})

	It("should clear everything", func() {
		cache.SetMethodAt(0x08000000, newUnit("a", 0x08000000, 0x08000010))
		cache.SetMethodAt(0x08400000, newUnit("b", 0x08400000, 0x08400010))
		cache.Clear()
		Expect(cache.Len()).To(BeZero())
		expectOwner(0x08400000, nil)
	})

	It("should panic when the entry lies outside the unit", func() {
		Expect(func() {
			cache.SetMethodAt(0x08000100, newUnit("a", 0x08000000, 0x08000010))
		}).To(Panic())
	})

	Describe("tickets", func() {
		It("should publish units compiled without interference", func() {
			t := cache.Reserve()
			u := newUnit("a", 0x08000000, 0x08000010)
			Expect(cache.Publish(u, t)).To(BeTrue())
			expectOwner(u.min, u)
		})

		It("should reject units whose code was overwritten during compilation", func() {
			t := cache.Reserve()
			Expect(cache.InvalidateRange(0x08000008, 0x0800000b)).To(Equal(0))

			u := newUnit("a", 0x08000000, 0x08000010)
			Expect(cache.Publish(u, t)).To(BeFalse())
			expectOwner(u.min, nil)
			Expect(cache.Stats().Rejected).To(Equal(uint64(1)))
		})

		It("should accept units next to an overwritten range", func() {
			t := cache.Reserve()
			cache.InvalidateRange(0x08000100, 0x08000103)

			u := newUnit("a", 0x08000000, 0x08000010)
			Expect(cache.Publish(u, t)).To(BeTrue())
		})

		It("should not hold stale history once compilations finish", func() {
			t := cache.Reserve()
			cache.InvalidateRange(0x08000000, 0x08000003)
			cache.Release(t)

			t = cache.Reserve()
			Expect(cache.Publish(newUnit("a", 0x08000000, 0x08000010), t)).To(BeTrue())
		})
	})

	It("should count hits and misses", func() {
		cache.SetMethodAt(0x08000000, newUnit("a", 0x08000000, 0x08000010))
		cache.TryGetMethodAt(0x08000004)
		cache.TryGetMethodAt(0x08000014)

		stats := cache.Stats()
		Expect(stats.Hits).To(Equal(uint64(1)))
		Expect(stats.Misses).To(Equal(uint64(1)))
		Expect(stats.Inserts).To(Equal(uint64(1)))
	})

	It("should serve lookups while another goroutine mutates", func() {
		a := newUnit("a", 0x08000000, 0x08000100)
		cache.SetMethodAt(a.min, a)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer GinkgoRecover()
			defer wg.Done()
			for i := uint32(0); i < 200; i++ {
				u := newUnit("w", 0x08100000+i*0x100, 0x08100000+i*0x100+0x40)
				cache.SetMethodAt(u.min, u)
				cache.InvalidateRange(u.min, u.min)
			}
		}()

		for i := 0; i < 1000; i++ {
			got, ok := cache.TryGetMethodAt(0x08000080)
			Expect(ok).To(BeTrue())
			Expect(got).To(BeIdenticalTo(a))
		}
		wg.Wait()
	})
})
