package texture

import (
	"fmt"

	"github.com/rs/xid"
)

// Image is a texture held by MemoryBackend.
type Image struct {
	Width  int
	Height int
	Pixels []byte
}

// MemoryBackend keeps uploaded textures in host memory. It stands in for
// a graphics API when no host renderer is attached.
type MemoryBackend struct {
	images map[xid.ID]*Image

	Uploads   int
	Disposals int
}

// NewMemoryBackend creates an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{images: make(map[xid.ID]*Image)}
}

// Upload implements Backend.
func (b *MemoryBackend) Upload(h Handle, rgba []byte) error {
	if len(rgba) != 4*h.Width*h.Height {
		return fmt.Errorf("texture %s: %d bytes for %dx%d", h.ID, len(rgba), h.Width, h.Height)
	}
	b.images[h.ID] = &Image{Width: h.Width, Height: h.Height, Pixels: rgba}
	b.Uploads++
	return nil
}

// Dispose implements Backend.
func (b *MemoryBackend) Dispose(h Handle) {
	if _, ok := b.images[h.ID]; ok {
		delete(b.images, h.ID)
		b.Disposals++
	}
}

// Image returns the pixels uploaded for h, or nil.
func (b *MemoryBackend) Image(h Handle) *Image {
	return b.images[h.ID]
}

// Len returns the number of live textures.
func (b *MemoryBackend) Len() int {
	return len(b.images)
}
