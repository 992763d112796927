// Package texture decodes guest textures and keeps the decoded results
// resident in a set-associative cache.
package texture

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/go-logr/logr"
	"github.com/rs/xid"
	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

const (
	// MaxTextureBytes bounds the raw size of one texture.
	MaxTextureBytes = 2048 * 2048 * 4

	// MaxClutColors bounds the palette size.
	MaxClutColors = 256
)

// Memory is the guest memory textures are read from.
type Memory interface {
	Slice(addr uint32, size int) ([]byte, error)
	IsRangeValid(addr uint32, size int) bool
}

// Params selects the texture to resolve: the first mipmap level, its
// CLUT, and the color test folded into the decoded alpha.
type Params struct {
	Address     uint32
	Format      Format
	Width       int
	Height      int
	BufferWidth int
	Swizzled    bool

	Clut      Clut
	ColorTest ColorTest
}

// Key fingerprints decoded texture content. Two lookups with equal keys
// produce identical pixels.
type Key struct {
	Address     uint32
	Format      Format
	BufferWidth int
	Height      int
	Swizzled    bool
	TextureHash uint64

	Clut     Clut
	ClutHash uint64

	ColorTest ColorTest
}

// Handle identifies an uploaded texture.
type Handle struct {
	ID     xid.ID
	Width  int
	Height int
}

// Entry is a resident decoded texture.
type Entry struct {
	Key    Key
	Pixels []byte
	Handle Handle

	// Epoch is the recheck epoch the entry was last validated in.
	Epoch uint64
}

// Backend receives decoded textures.
type Backend interface {
	Upload(h Handle, rgba []byte) error
	Dispose(h Handle)
}

// Statistics holds texture cache counters.
type Statistics struct {
	Lookups      uint64
	Hits         uint64
	Rechecks     uint64
	Decodes      uint64
	Evictions    uint64
	Placeholders uint64
}

// Config sizes the cache.
type Config struct {
	Sets int
	Ways int
}

// DefaultConfig returns a 64-set, 4-way cache.
func DefaultConfig() Config {
	return Config{Sets: 64, Ways: 4}
}

// Cache resolves texture parameters to uploaded handles. Residency is an
// LRU set-associative directory keyed by the texture and CLUT addresses.
// A resident entry is reused only when the rest of its key matches the
// lookup; content is revalidated by hash once per recheck epoch.
type Cache struct {
	config    Config
	mem       Memory
	backend   Backend
	directory *akitacache.DirectoryImpl
	entries   []*Entry

	epoch       uint64
	placeholder Handle
	uploaded    bool
	stats       Statistics
	log         logr.Logger
}

// Option is a functional option for configuring a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for decode failures and uploads.
func WithLogger(log logr.Logger) Option {
	return func(c *Cache) {
		c.log = log
	}
}

// WithConfig sets the cache geometry.
func WithConfig(config Config) Option {
	return func(c *Cache) {
		c.config = config
	}
}

// New creates a texture cache reading from mem and uploading to backend.
func New(mem Memory, backend Backend, opts ...Option) *Cache {
	c := &Cache{
		config:  DefaultConfig(),
		mem:     mem,
		backend: backend,
		log:     logr.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.directory = akitacache.NewDirectory(
		c.config.Sets,
		c.config.Ways,
		1,
		akitacache.NewLRUVictimFinder(),
	)
	c.entries = make([]*Entry, c.config.Sets*c.config.Ways)
	c.placeholder = Handle{ID: xid.New(), Width: 2, Height: 2}
	return c
}

// Stats returns the cache counters.
func (c *Cache) Stats() Statistics {
	return c.stats
}

// Epoch returns the current recheck epoch.
func (c *Cache) Epoch() uint64 {
	return c.epoch
}

// RecheckAll forces every entry to be revalidated against guest memory
// on its next lookup.
func (c *Cache) RecheckAll() {
	c.epoch++
}

// Placeholder returns the handle served for textures that cannot be
// decoded.
func (c *Cache) Placeholder() Handle {
	return c.placeholder
}

// PlaceholderPixels returns the 2x2 placeholder image: blue and red texels
// alternating.
func PlaceholderPixels() []byte {
	red := [4]byte{0xFF, 0x00, 0x00, 0xFF}
	blue := [4]byte{0x00, 0x00, 0xFF, 0xFF}
	out := make([]byte, 0, 16)
	for n := 0; n < 4; n++ {
		if n&1 != 0 {
			out = append(out, red[:]...)
		} else {
			out = append(out, blue[:]...)
		}
	}
	return out
}

// Reset disposes every resident texture.
func (c *Cache) Reset() {
	for i, e := range c.entries {
		if e != nil {
			c.backend.Dispose(e.Handle)
			c.entries[i] = nil
		}
	}
	c.directory.Reset()
}

func (c *Cache) blockIndex(block *akitacache.Block) int {
	return block.SetID*c.config.Ways + block.WayID
}

// slot identifies a cache line by texture and palette address, the way
// the hardware state names a texture.
func slot(p *Params) uint64 {
	var buf [8]byte
	addr := p.Clut.Address + uint32(p.Clut.Format.PixelsSize(int(p.Clut.Start)))
	for i := 0; i < 4; i++ {
		buf[i] = byte(p.Address >> (8 * i))
		buf[4+i] = byte(addr >> (8 * i))
	}
	return xxhash.Sum64(buf[:])
}

// Get returns the handle for the texture described by p, decoding and
// uploading it when its content changed since it was last seen.
func (c *Cache) Get(p *Params) Handle {
	c.stats.Lookups++

	tag := slot(p)
	block := c.directory.Lookup(0, tag)
	var entry *Entry
	if block != nil && block.IsValid {
		entry = c.entries[c.blockIndex(block)]
		c.directory.Visit(block)
		if entry != nil && entry.Epoch == c.epoch && entry.Key.shape() == shape(p) {
			c.stats.Hits++
			return entry.Handle
		}
	}

	key, texels, clut, err := c.fingerprint(p)
	if err != nil {
		c.log.Info("invalid texture", "address", fmt.Sprintf("0x%08x", p.Address),
			"format", p.Format.String(), "size", fmt.Sprintf("%dx%d", p.BufferWidth, p.Height), "err", err)
		return c.fallback()
	}

	if entry != nil && entry.Key == key {
		c.stats.Rechecks++
		entry.Epoch = c.epoch
		return entry.Handle
	}

	fresh, err := c.decode(p, key, texels, clut)
	if err != nil {
		c.log.Info("cannot decode texture", "address", fmt.Sprintf("0x%08x", p.Address), "err", err)
		return c.fallback()
	}

	if block == nil || !block.IsValid {
		block = c.directory.FindVictim(tag)
		if block.IsValid {
			c.stats.Evictions++
		}
	}
	idx := c.blockIndex(block)
	if old := c.entries[idx]; old != nil {
		c.backend.Dispose(old.Handle)
	}
	c.entries[idx] = fresh
	block.Tag = tag
	block.IsValid = true
	c.directory.Visit(block)

	return fresh.Handle
}

// shape returns the key of p without content hashes.
func shape(p *Params) Key {
	key := Key{
		Address:     p.Address,
		Format:      p.Format,
		BufferWidth: p.BufferWidth,
		Height:      p.Height,
		Swizzled:    p.Swizzled,
	}
	if p.ColorTest.Enabled {
		key.ColorTest = p.ColorTest
	}
	if p.Format.Indexed() {
		key.Clut = p.Clut
		if key.Clut.Colors > MaxClutColors {
			key.Clut.Colors = MaxClutColors
		}
	}
	return key
}

func (k Key) shape() Key {
	k.TextureHash, k.ClutHash = 0, 0
	return k
}

func (c *Cache) fingerprint(p *Params) (Key, []byte, []byte, error) {
	if p.Format.BitsPerPixel() == 0 {
		return Key{}, nil, nil, fmt.Errorf("unsupported format %s", p.Format)
	}
	size := p.Format.PixelsSize(p.BufferWidth * p.Height)
	if size <= 0 || size > MaxTextureBytes || p.Width > p.BufferWidth {
		return Key{}, nil, nil, fmt.Errorf("bad texture size %d", size)
	}
	if !c.mem.IsRangeValid(p.Address, size) {
		return Key{}, nil, nil, fmt.Errorf("texture range outside memory")
	}
	texels, err := c.mem.Slice(p.Address, size)
	if err != nil {
		return Key{}, nil, nil, err
	}

	key := shape(p)
	key.TextureHash = xxhash.Sum64(texels)

	var clut []byte
	if p.Format.Indexed() {
		n := p.Clut.Format.PixelsSize(key.Clut.Colors)
		if n > 0 && c.mem.IsRangeValid(p.Clut.Address, n) {
			if clut, err = c.mem.Slice(p.Clut.Address, n); err != nil {
				return Key{}, nil, nil, err
			}
		}
		key.ClutHash = xxhash.Sum64(clut)
	}
	return key, texels, clut, nil
}

func (c *Cache) decode(p *Params, key Key, texels, clut []byte) (*Entry, error) {
	c.stats.Decodes++

	width, height := p.BufferWidth, p.Height
	if p.Swizzled {
		texels = Unswizzle(texels, p.Format.PixelsSize(width), height)
	}

	var palette [][4]byte
	if p.Format.Indexed() {
		palette = DecodePalette(key.Clut.Format, clut, key.Clut.Colors)
	}
	pixels, err := Decode(p.Format, texels, width, height, width, &key.Clut, palette)
	if err != nil {
		return nil, err
	}
	if key.ColorTest.Enabled {
		key.ColorTest.apply(pixels)
	}

	h := Handle{ID: xid.New(), Width: width, Height: height}
	if err := c.backend.Upload(h, pixels); err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	c.log.V(1).Info("uploaded texture", "handle", h.ID.String(),
		"address", fmt.Sprintf("0x%08x", p.Address), "format", p.Format.String(),
		"size", fmt.Sprintf("%dx%d", width, height))

	return &Entry{Key: key, Pixels: pixels, Handle: h, Epoch: c.epoch}, nil
}

func (c *Cache) fallback() Handle {
	c.stats.Placeholders++
	if !c.uploaded {
		if err := c.backend.Upload(c.placeholder, PlaceholderPixels()); err != nil {
			c.log.Error(err, "cannot upload placeholder texture")
		}
		c.uploaded = true
	}
	return c.placeholder
}

// Resident returns the entries currently held by the cache.
func (c *Cache) Resident() []*Entry {
	var out []*Entry
	for _, e := range c.entries {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}
