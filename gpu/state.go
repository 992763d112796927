package gpu

import "github.com/sarchlab/pspsim/gpu/texture"

// Matrix is a row-major matrix filled one float per command after its
// select command resets the write index.
type Matrix struct {
	Values []float32
	index  int
}

func newMatrix(n int) Matrix {
	return Matrix{Values: make([]float32, n)}
}

// Reset moves the write index to i.
func (m *Matrix) Reset(i int) {
	m.index = i
}

// Write stores v at the write index and advances it, wrapping at the end.
func (m *Matrix) Write(v float32) {
	if m.index >= len(m.Values) {
		m.index = 0
	}
	m.Values[m.index] = v
	m.index++
}

// Viewport maps clip space to screen space.
type Viewport struct {
	ScaleX, ScaleY, ScaleZ float32
	PosX, PosY, PosZ       float32
	OffsetX, OffsetY       uint32
}

// Rect is an inclusive screen rectangle.
type Rect struct {
	X1, Y1, X2, Y2 uint32
}

// Buffer is a framebuffer or depth buffer.
type Buffer struct {
	Address uint32
	Width   int
	Format  texture.Format
}

// VertexState points at vertex and index data for PRIM.
type VertexState struct {
	Address      uint32
	IndexAddress uint32
	Type         uint32
	Shading      uint8
}

// Mipmap is one texture level.
type Mipmap struct {
	Address     uint32
	BufferWidth int
	Width       int
	Height      int
}

// TextureState is the texture mapping configuration.
type TextureState struct {
	Enabled   bool
	Mipmaps   [8]Mipmap
	Format    texture.Format
	Swizzled  bool
	MaxLevel  int
	ShareClut bool

	MinFilter, MagFilter uint8
	WrapU, WrapV         uint8

	Effect         uint8
	ColorComponent uint8
	Fragment2X     bool
	EnvColor       uint32

	ScaleU, ScaleV   float32
	OffsetU, OffsetV float32
}

// ClutState is the loaded color lookup table.
type ClutState struct {
	Address uint32
	Blocks  int
	Format  texture.Format
	Shift   uint32
	Mask    uint32
	Start   uint32
}

// Colors returns the number of palette entries loaded.
func (c *ClutState) Colors() int {
	size := c.Format.PixelsSize(1)
	if size == 0 {
		return 0
	}
	return c.Blocks * 32 / size
}

// BlendState configures alpha blending.
type BlendState struct {
	Enabled        bool
	Equation       uint8
	Src, Dst       uint8
	FixSrc, FixDst uint32
}

// AlphaTestState configures the alpha test.
type AlphaTestState struct {
	Enabled bool
	Func    uint8
	Ref     uint8
	Mask    uint8
}

// DepthTestState configures the depth test and range.
type DepthTestState struct {
	Enabled   bool
	Func      uint8
	MaskWrite bool
	Near, Far uint32
}

// LightingState holds material and ambient colors.
type LightingState struct {
	Enabled            bool
	MaterialComponents uint8
	AmbientModel       uint32
	AmbientAlpha       uint8
	Diffuse            uint32
	Specular           uint32
	Emissive           uint32
	AmbientLight       uint32
	AmbientLightAlpha  uint8
}

// ClearState is set while the GE runs in clear mode.
type ClearState struct {
	Enabled bool
	Flags   uint8
}

// State is the GE register state one display list renders with.
type State struct {
	// Commands holds the last parameter written to every opcode.
	Commands [256]uint32

	Viewport    Viewport
	Region      Rect
	Scissor     Rect
	Framebuffer Buffer
	DepthBuffer Buffer
	Vertex      VertexState

	World      Matrix
	View       Matrix
	Projection Matrix
	TexMatrix  Matrix

	Texture   TextureState
	Clut      ClutState
	Blend     BlendState
	ColorTest texture.ColorTest
	AlphaTest AlphaTestState
	DepthTest DepthTestState
	Lighting  LightingState
	Clear     ClearState

	Dithering  bool
	DitherRows [4]uint32
	Culling    bool
	Fog        bool
	Stencil    bool
	Clipping   bool

	PixelMask uint32
	AlphaMask uint8
}

// NewState returns a state with identity-sized matrices.
func NewState() *State {
	return &State{
		World:      newMatrix(12),
		View:       newMatrix(12),
		Projection: newMatrix(16),
		TexMatrix:  newMatrix(12),
	}
}

// TextureParams describes the first mipmap level for the texture cache.
func (s *State) TextureParams() *texture.Params {
	level := s.Texture.Mipmaps[0]
	return &texture.Params{
		Address:     level.Address,
		Format:      s.Texture.Format,
		Width:       level.Width,
		Height:      level.Height,
		BufferWidth: level.BufferWidth,
		Swizzled:    s.Texture.Swizzled,
		Clut: texture.Clut{
			Address: s.Clut.Address,
			Format:  s.Clut.Format,
			Colors:  s.Clut.Colors(),
			Start:   s.Clut.Start,
			Shift:   s.Clut.Shift,
			Mask:    s.Clut.Mask,
		},
		ColorTest: s.ColorTest,
	}
}
