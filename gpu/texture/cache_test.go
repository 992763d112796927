package texture_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/pspsim/emu"
	"github.com/sarchlab/pspsim/gpu/texture"
)

var _ = Describe("Cache", func() {
	const (
		texAddr  = emu.MainBase + 0x1000
		clutAddr = emu.MainBase + 0x2000
	)

	var (
		memory  *emu.Memory
		backend *texture.MemoryBackend
		cache   *texture.Cache
		params  *texture.Params
	)

	BeforeEach(func() {
		memory = emu.NewMemory()
		backend = texture.NewMemoryBackend()
		cache = texture.New(memory, backend, texture.WithLogger(GinkgoLogr))

		Expect(memory.Load(texAddr, []byte{0x10, 0x32, 0x54, 0x76, 0x98, 0xBA, 0xDC, 0xFE})).To(Succeed())
		palette := make([]byte, 64)
		for i := 0; i < 16; i++ {
			palette[4*i] = byte(i * 16)
			palette[4*i+3] = 0xFF
		}
		Expect(memory.Load(clutAddr, palette)).To(Succeed())

		params = &texture.Params{
			Address:     texAddr,
			Format:      texture.FormatT4,
			Width:       4,
			Height:      4,
			BufferWidth: 4,
			Clut: texture.Clut{
				Address: clutAddr,
				Format:  texture.Format8888,
				Colors:  16,
				Mask:    0xFF,
			},
		}
	})

	It("should decode and upload a texture once per epoch", func() {
		h := cache.Get(params)
		Expect(cache.Get(params)).To(Equal(h))

		Expect(cache.Stats().Decodes).To(Equal(uint64(1)))
		Expect(cache.Stats().Hits).To(Equal(uint64(1)))

		img := backend.Image(h)
		Expect(img).NotTo(BeNil())
		Expect(img.Width).To(Equal(4))
		Expect(img.Pixels[:8]).To(Equal([]byte{0x00, 0, 0, 0xFF, 0x10, 0, 0, 0xFF}))
	})

	It("should keep the handle when a recheck finds the same content", func() {
		h := cache.Get(params)
		cache.RecheckAll()

		Expect(cache.Get(params)).To(Equal(h))
		Expect(cache.Stats().Rechecks).To(Equal(uint64(1)))
		Expect(cache.Stats().Decodes).To(Equal(uint64(1)))
	})

	It("should replace the texture when one palette byte changes", func() {
		h := cache.Get(params)

		Expect(memory.Write8(clutAddr+4, 0x11)).To(Succeed())
		cache.RecheckAll()

		h2 := cache.Get(params)
		Expect(h2).NotTo(Equal(h))
		Expect(backend.Image(h)).To(BeNil())
		Expect(backend.Image(h2).Pixels[4]).To(Equal(byte(0x11)))
		Expect(backend.Disposals).To(Equal(1))
		Expect(cache.Resident()).To(HaveLen(1))
	})

	Describe("state changes within one epoch", func() {
		var first texture.Handle

		BeforeEach(func() {
			first = cache.Get(params)
		})

		expectRedecoded := func() texture.Handle {
			h := cache.Get(params)
			ExpectWithOffset(1, h).NotTo(Equal(first))
			ExpectWithOffset(1, cache.Stats().Decodes).To(Equal(uint64(2)))
			ExpectWithOffset(1, cache.Stats().Hits).To(BeZero())
			return h
		}

		It("should redecode when the color test is enabled", func() {
			params.ColorTest = texture.ColorTest{
				Enabled: true,
				Func:    texture.ColorTestNotEqual,
				Mask:    0xFFFFFF,
			}
			h := expectRedecoded()
			Expect(backend.Image(h).Pixels[3]).To(Equal(byte(0)))
		})

		It("should redecode when the color test reference changes", func() {
			params.ColorTest = texture.ColorTest{Enabled: true, Func: texture.ColorTestEqual, Mask: 0xFFFFFF}
			first = cache.Get(params)
			params.ColorTest.Ref = 0x000010

			h := cache.Get(params)
			Expect(h).NotTo(Equal(first))
			Expect(cache.Stats().Decodes).To(Equal(uint64(3)))
		})

		It("should redecode when the format changes", func() {
			params.Format = texture.FormatT8
			h := expectRedecoded()
			Expect(backend.Image(h).Pixels[:4]).To(Equal([]byte{0, 0, 0, 0}))
		})

		It("should redecode when the buffer width changes", func() {
			params.BufferWidth = 8
			expectRedecoded()
		})

		It("should redecode when the swizzle flag changes", func() {
			params.Swizzled = true
			expectRedecoded()
		})

		It("should redecode when the CLUT shift or mask changes", func() {
			params.Clut.Mask = 0x7
			expectRedecoded()

			params.Clut.Shift = 1
			Expect(cache.Get(params)).NotTo(Equal(first))
			Expect(cache.Stats().Decodes).To(Equal(uint64(3)))
		})

		It("should ignore color test parameters while it is disabled", func() {
			params.ColorTest.Ref = 0x123456
			Expect(cache.Get(params)).To(Equal(first))
			Expect(cache.Stats().Hits).To(Equal(uint64(1)))
		})

		It("should keep one resident entry for the slot", func() {
			params.Format = texture.FormatT8
			expectRedecoded()
			Expect(cache.Resident()).To(HaveLen(1))
			Expect(backend.Image(first)).To(BeNil())
		})
	})

	It("should serve the placeholder for unmapped textures", func() {
		params.Address = 0x00000100

		h := cache.Get(params)
		Expect(h).To(Equal(cache.Placeholder()))
		Expect(backend.Image(h).Pixels).To(Equal(texture.PlaceholderPixels()))
		Expect(cache.Stats().Placeholders).To(Equal(uint64(1)))
	})

	It("should serve the placeholder for DXT and oversized textures", func() {
		params.Format = texture.FormatDXT1
		Expect(cache.Get(params)).To(Equal(cache.Placeholder()))

		params.Format = texture.Format8888
		params.BufferWidth, params.Height = 4096, 4096
		Expect(cache.Get(params)).To(Equal(cache.Placeholder()))
	})

	It("should fold the color test into alpha", func() {
		params.ColorTest = texture.ColorTest{
			Enabled: true,
			Func:    texture.ColorTestNotEqual,
			Ref:     0x000000,
			Mask:    0xFFFFFF,
		}

		img := backend.Image(cache.Get(params))
		Expect(img.Pixels[3]).To(Equal(byte(0)))
		Expect(img.Pixels[7]).To(Equal(byte(0xFF)))
	})

	It("should evict the least recently used texture", func() {
		cache = texture.New(memory, backend, texture.WithConfig(texture.Config{Sets: 1, Ways: 1}))

		first := cache.Get(params)
		params.Address += 0x100
		second := cache.Get(params)

		Expect(second).NotTo(Equal(first))
		Expect(backend.Image(first)).To(BeNil())
		Expect(cache.Stats().Evictions).To(Equal(uint64(1)))

		cache.Reset()
		Expect(backend.Len()).To(BeZero())
	})
})
