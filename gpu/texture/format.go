package texture

import (
	"encoding/binary"
	"fmt"
)

// Format is a GE pixel storage format. The first four values double as
// CLUT entry formats.
type Format uint8

// Pixel formats.
const (
	Format5650 Format = iota
	Format5551
	Format4444
	Format8888
	FormatT4
	FormatT8
	FormatT16
	FormatT32
	FormatDXT1
	FormatDXT3
	FormatDXT5
)

var formatNames = [...]string{
	"5650", "5551", "4444", "8888", "T4", "T8", "T16", "T32", "DXT1", "DXT3", "DXT5",
}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// BitsPerPixel returns the storage size of one pixel, or 0 for formats
// that cannot be decoded.
func (f Format) BitsPerPixel() int {
	switch f {
	case Format5650, Format5551, Format4444, FormatT16:
		return 16
	case Format8888, FormatT32:
		return 32
	case FormatT8:
		return 8
	case FormatT4:
		return 4
	}
	return 0
}

// Indexed reports whether pixels are CLUT indices.
func (f Format) Indexed() bool {
	return f >= FormatT4 && f <= FormatT32
}

// PixelsSize returns the bytes occupied by n pixels.
func (f Format) PixelsSize(n int) int {
	return n * f.BitsPerPixel() / 8
}

// ColorTestFunc selects how the color test compares texels to the
// reference.
type ColorTestFunc uint8

// Color test functions.
const (
	ColorTestNever ColorTestFunc = iota
	ColorTestAlways
	ColorTestEqual
	ColorTestNotEqual
)

// ColorTest rewrites texel alpha by comparing the masked RGB value with
// a reference.
type ColorTest struct {
	Enabled bool
	Func    ColorTestFunc
	Ref     uint32
	Mask    uint32
}

// apply rewrites the alpha byte of every RGBA pixel.
func (ct ColorTest) apply(rgba []byte) {
	var equal, notEqual byte
	switch ct.Func {
	case ColorTestAlways:
		equal, notEqual = 0xFF, 0xFF
	case ColorTestEqual:
		equal, notEqual = 0xFF, 0x00
	case ColorTestNotEqual:
		equal, notEqual = 0x00, 0xFF
	}

	mask := ct.Mask & 0xFFFFFF
	ref := ct.Ref & mask
	for i := 0; i+3 < len(rgba); i += 4 {
		rgb := uint32(rgba[i]) | uint32(rgba[i+1])<<8 | uint32(rgba[i+2])<<16
		if rgb&mask == ref {
			rgba[i+3] = equal
		} else {
			rgba[i+3] = notEqual
		}
	}
}

// expand scales an n-bit channel to 8 bits.
func expand(v uint32, bits uint) byte {
	v &= 1<<bits - 1
	v <<= 8 - bits
	return byte(v | v>>bits)
}

// decodeColor converts one 16- or 32-bit color to RGBA bytes.
func decodeColor(f Format, v uint32, out []byte) {
	switch f {
	case Format5650:
		out[0] = expand(v, 5)
		out[1] = expand(v>>5, 6)
		out[2] = expand(v>>11, 5)
		out[3] = 0xFF
	case Format5551:
		out[0] = expand(v, 5)
		out[1] = expand(v>>5, 5)
		out[2] = expand(v>>10, 5)
		out[3] = byte(0 - (v >> 15 & 1))
	case Format4444:
		out[0] = expand(v, 4)
		out[1] = expand(v>>4, 4)
		out[2] = expand(v>>8, 4)
		out[3] = expand(v>>12, 4)
	default:
		binary.LittleEndian.PutUint32(out, v)
	}
}

// DecodePalette converts raw CLUT bytes to RGBA colors.
func DecodePalette(f Format, data []byte, count int) [][4]byte {
	size := f.PixelsSize(1)
	if size == 0 {
		return nil
	}
	if n := len(data) / size; count > n {
		count = n
	}
	out := make([][4]byte, count)
	for i := range out {
		decodeColor(f, readPixel(data[i*size:], size), out[i][:])
	}
	return out
}

func readPixel(b []byte, size int) uint32 {
	switch size {
	case 1:
		return uint32(b[0])
	case 2:
		return uint32(binary.LittleEndian.Uint16(b))
	}
	return binary.LittleEndian.Uint32(b)
}

// Clut describes how indexed texels select palette colors.
type Clut struct {
	Address uint32
	Format  Format
	Colors  int
	Start   uint32
	Shift   uint32
	Mask    uint32
}

// lookup returns palette[start + ((i >> shift) & mask)], or transparent
// black when the index falls outside the loaded colors.
func (c *Clut) lookup(palette [][4]byte, i uint32) [4]byte {
	idx := c.Start + (i>>c.Shift)&c.Mask
	if int(idx) >= len(palette) {
		return [4]byte{}
	}
	return palette[idx]
}

// Decode converts width x height texels stored with the given row stride
// in pixels into interleaved RGBA bytes.
func Decode(f Format, data []byte, width, height, stride int, clut *Clut, palette [][4]byte) ([]byte, error) {
	if f.BitsPerPixel() == 0 {
		return nil, fmt.Errorf("unsupported texture format %s", f)
	}
	if need := f.PixelsSize(stride * height); len(data) < need {
		return nil, fmt.Errorf("texture data too short: %d < %d bytes", len(data), need)
	}

	out := make([]byte, 4*width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dst := out[4*(y*width+x):]
			n := y*stride + x

			if !f.Indexed() {
				size := f.PixelsSize(1)
				decodeColor(f, readPixel(data[n*size:], size), dst)
				continue
			}

			var i uint32
			switch f {
			case FormatT4:
				i = uint32(data[n/2]>>(4*(n&1))) & 0xF
			case FormatT8:
				i = uint32(data[n])
			case FormatT16:
				i = uint32(binary.LittleEndian.Uint16(data[2*n:]))
			case FormatT32:
				i = binary.LittleEndian.Uint32(data[4*n:])
			}
			c := clut.lookup(palette, i)
			copy(dst, c[:])
		}
	}
	return out, nil
}

// Unswizzle reorders swizzled texture data into linear rows. Swizzled
// data is stored as 16-byte by 8-row blocks, block rows left to right.
func Unswizzle(data []byte, rowBytes, height int) []byte {
	out := make([]byte, len(data))
	if rowBytes < 16 {
		copy(out, data)
		return out
	}

	blocks := rowBytes / 16
	src := 0
	for by := 0; by*8 < height; by++ {
		for bx := 0; bx < blocks; bx++ {
			for y := 0; y < 8; y++ {
				row := by*8 + y
				dst := row*rowBytes + bx*16
				if row >= height || src+16 > len(data) || dst+16 > len(out) {
					src += 16
					continue
				}
				copy(out[dst:dst+16], data[src:src+16])
				src += 16
			}
		}
	}
	return out
}
