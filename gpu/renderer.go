package gpu

import "github.com/sarchlab/pspsim/gpu/texture"

// PrimitiveType is the topology of a PRIM command.
type PrimitiveType uint8

// Primitive types.
const (
	PrimPoints PrimitiveType = iota
	PrimLines
	PrimLineStrip
	PrimTriangles
	PrimTriangleStrip
	PrimTriangleFan
	PrimSprites
)

// Draw is one primitive batch submitted by PRIM.
type Draw struct {
	Type          PrimitiveType
	Count         int
	VertexAddress uint32
	IndexAddress  uint32
	VertexType    uint32

	// Textured is set when texture mapping is enabled; Texture is then
	// the resolved handle.
	Textured bool
	Texture  texture.Handle

	State *State
}

// Renderer consumes draws. Implementations must not retain d.State.
type Renderer interface {
	Draw(d *Draw) error
}

// CountingRenderer records draws without rasterizing them.
type CountingRenderer struct {
	Draws    int
	Vertices int
	Textured int
	Last     Draw
}

// Draw implements Renderer.
func (r *CountingRenderer) Draw(d *Draw) error {
	r.Draws++
	r.Vertices += d.Count
	if d.Textured {
		r.Textured++
	}
	r.Last = *d
	r.Last.State = nil
	return nil
}
