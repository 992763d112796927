// Package emu provides functional MIPS Allegrex emulation.
package emu

import (
	"math"

	"github.com/sarchlab/pspsim/insts"
)

// Vector is up to four VFPU lanes.
type Vector [4]float32

// prefixConstants are the values selected by a source prefix constant
// lane, indexed by swizzle + 4*abs.
var prefixConstants = [8]float32{0, 1, 2, 0.5, 3, 1.0 / 3, 0.25, 1.0 / 6}

// VectorRegs returns the storage indices of the lanes of VFPU register r
// for a vector of the given size.
func VectorRegs(r uint8, size int) [4]int {
	var idx [4]int
	mtx := int(r>>2) & 7
	col := int(r) & 3

	var row, transpose int
	switch size {
	case 1:
		row = int(r>>5) & 3
	case 3:
		row = int(r>>6) & 1
		transpose = int(r>>5) & 1
	default:
		row = int(r>>5) & 2
		transpose = int(r>>5) & 1
	}

	for i := 0; i < size; i++ {
		lane := (row + i) & 3
		if transpose != 0 {
			idx[i] = mtx*16 + lane*4 + col
		} else {
			idx[i] = mtx*16 + col*4 + lane
		}
	}
	return idx
}

// ApplySourcePrefix applies a source prefix payload to the lanes of v.
func ApplySourcePrefix(v Vector, size int, pfx uint32) Vector {
	var out Vector
	for i := 0; i < size; i++ {
		swz := (pfx >> (2 * i)) & 3
		abs := (pfx >> (8 + i)) & 1
		cst := (pfx >> (12 + i)) & 1
		neg := (pfx >> (16 + i)) & 1

		var x float32
		if cst != 0 {
			x = prefixConstants[swz+abs*4]
		} else {
			if int(swz) < size {
				x = v[swz]
			}
			if abs != 0 {
				x = float32(math.Abs(float64(x)))
			}
		}
		if neg != 0 {
			x = -x
		}
		out[i] = x
	}
	return out
}

// VFPU implements the vector coprocessor.
type VFPU struct {
	regFile *RegFile
	memory  AddressSpace
}

// NewVFPU creates a new VFPU.
func NewVFPU(regFile *RegFile, memory AddressSpace) *VFPU {
	return &VFPU{regFile: regFile, memory: memory}
}

// Read returns register r as a vector without applying prefixes.
func (v *VFPU) Read(r uint8, size int) Vector {
	var out Vector
	idx := VectorRegs(r, size)
	for i := 0; i < size; i++ {
		out[i] = v.regFile.V[idx[i]]
	}
	return out
}

// Write stores a vector into register r without applying prefixes.
func (v *VFPU) Write(r uint8, size int, val Vector) {
	idx := VectorRegs(r, size)
	for i := 0; i < size; i++ {
		v.regFile.V[idx[i]] = val[i]
	}
}

// ReadSource reads register r through a pending source prefix.
func (v *VFPU) ReadSource(r uint8, size int, pfx VfpuPrefix) Vector {
	val := v.Read(r, size)
	if !pfx.Enabled {
		return val
	}
	return ApplySourcePrefix(val, size, pfx.Value)
}

// WriteDest stores val into register r through the pending destination
// prefix, which can saturate or mask lanes.
func (v *VFPU) WriteDest(r uint8, size int, val Vector) {
	pfx := v.regFile.VPfxD
	idx := VectorRegs(r, size)
	for i := 0; i < size; i++ {
		x := val[i]
		if pfx.Enabled {
			if (pfx.Value>>(8+i))&1 != 0 {
				continue
			}
			switch (pfx.Value >> (2 * i)) & 3 {
			case 1:
				x = clamp(x, 0, 1)
			case 3:
				x = clamp(x, -1, 1)
			}
		}
		v.regFile.V[idx[i]] = x
	}
}

func clamp(x, lo, hi float32) float32 {
	switch {
	case x < lo:
		return lo
	case x > hi:
		return hi
	}
	return x
}

// Binary computes vd = op(vs, vt) lane by lane.
func (v *VFPU) Binary(inst *insts.Instruction, op func(a, b float32) float32) {
	n := inst.VSize
	s := v.ReadSource(inst.Vs, n, v.regFile.VPfxS)
	t := v.ReadSource(inst.Vt, n, v.regFile.VPfxT)
	var d Vector
	for i := 0; i < n; i++ {
		d[i] = op(s[i], t[i])
	}
	v.WriteDest(inst.Vd, n, d)
}

// Unary computes vd = op(vs) lane by lane.
func (v *VFPU) Unary(inst *insts.Instruction, op func(a float32) float32) {
	n := inst.VSize
	s := v.ReadSource(inst.Vs, n, v.regFile.VPfxS)
	var d Vector
	for i := 0; i < n; i++ {
		d[i] = op(s[i])
	}
	v.WriteDest(inst.Vd, n, d)
}

// Fill sets every lane of vd to x.
func (v *VFPU) Fill(inst *insts.Instruction, x float32) {
	v.WriteDest(inst.Vd, inst.VSize, Vector{x, x, x, x})
}

// Dot stores the dot product of vs and vt into the single register vd.
func (v *VFPU) Dot(inst *insts.Instruction) {
	n := inst.VSize
	s := v.ReadSource(inst.Vs, n, v.regFile.VPfxS)
	t := v.ReadSource(inst.Vt, n, v.regFile.VPfxT)
	var sum float32
	for i := 0; i < n; i++ {
		sum += s[i] * t[i]
	}
	v.WriteDest(inst.Vd, 1, Vector{sum})
}

// Scale multiplies every lane of vs by the single register vt.
func (v *VFPU) Scale(inst *insts.Instruction) {
	n := inst.VSize
	s := v.ReadSource(inst.Vs, n, v.regFile.VPfxS)
	t := v.ReadSource(inst.Vt, 1, v.regFile.VPfxT)
	var d Vector
	for i := 0; i < n; i++ {
		d[i] = s[i] * t[0]
	}
	v.WriteDest(inst.Vd, n, d)
}

// LoadVector loads size consecutive words at addr into register r.
func (v *VFPU) LoadVector(r uint8, size int, addr uint32) error {
	var val Vector
	for i := 0; i < size; i++ {
		bits, err := v.memory.Read32(addr + uint32(4*i))
		if err != nil {
			return err
		}
		val[i] = math.Float32frombits(bits)
	}
	v.Write(r, size, val)
	return nil
}

// StoreVector stores register r as size consecutive words at addr.
func (v *VFPU) StoreVector(r uint8, size int, addr uint32) error {
	val := v.Read(r, size)
	for i := 0; i < size; i++ {
		if err := v.memory.Write32(addr+uint32(4*i), math.Float32bits(val[i])); err != nil {
			return err
		}
	}
	return nil
}

// SetPrefix installs a pending prefix for vpfxs, vpfxt or vpfxd.
func (v *VFPU) SetPrefix(op insts.Op, value uint32) {
	pfx := VfpuPrefix{Value: value, Enabled: true}
	switch op {
	case insts.OpVPFXS:
		v.regFile.VPfxS = pfx
	case insts.OpVPFXT:
		v.regFile.VPfxT = pfx
	case insts.OpVPFXD:
		v.regFile.VPfxD = pfx
	}
}

// Vector lane primitives.
func FMin(a, b float32) float32 { return float32(math.Min(float64(a), float64(b))) }
func FMax(a, b float32) float32 { return float32(math.Max(float64(a), float64(b))) }
