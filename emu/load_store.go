// Package emu provides functional MIPS Allegrex emulation.
package emu

// Merge tables for the unaligned word accesses, indexed by addr & 3. All
// four operate on the aligned word at addr &^ 3.
var (
	LwlMask  = [4]uint32{0x00FFFFFF, 0x0000FFFF, 0x000000FF, 0x00000000}
	LwlShift = [4]uint32{24, 16, 8, 0}
	LwrMask  = [4]uint32{0x00000000, 0xFF000000, 0xFFFF0000, 0xFFFFFF00}
	LwrShift = [4]uint32{0, 8, 16, 24}
	SwlMask  = [4]uint32{0xFFFFFF00, 0xFFFF0000, 0xFF000000, 0x00000000}
	SwlShift = [4]uint32{24, 16, 8, 0}
	SwrMask  = [4]uint32{0x00000000, 0x000000FF, 0x0000FFFF, 0x00FFFFFF}
	SwrShift = [4]uint32{0, 8, 16, 24}
)

// MergeLeft returns the lwl result of loading word mem into rt.
func MergeLeft(rt, mem, addr uint32) uint32 {
	p := addr & 3
	return mem<<LwlShift[p] | rt&LwlMask[p]
}

// MergeRight returns the lwr result of loading word mem into rt.
func MergeRight(rt, mem, addr uint32) uint32 {
	p := addr & 3
	return mem>>LwrShift[p] | rt&LwrMask[p]
}

// StoreLeft returns the word written back by swl.
func StoreLeft(rt, mem, addr uint32) uint32 {
	p := addr & 3
	return rt>>SwlShift[p] | mem&SwlMask[p]
}

// StoreRight returns the word written back by swr.
func StoreRight(rt, mem, addr uint32) uint32 {
	p := addr & 3
	return rt<<SwrShift[p] | mem&SwrMask[p]
}

// LoadStoreUnit implements the Allegrex integer load and store
// instructions.
type LoadStoreUnit struct {
	regFile *RegFile
	memory  AddressSpace
}

// NewLoadStoreUnit creates a new LoadStoreUnit.
func NewLoadStoreUnit(regFile *RegFile, memory AddressSpace) *LoadStoreUnit {
	return &LoadStoreUnit{
		regFile: regFile,
		memory:  memory,
	}
}

// Address computes rs + offset.
func (lsu *LoadStoreUnit) Address(rs uint8, offset int32) uint32 {
	return lsu.regFile.ReadReg(rs) + uint32(offset)
}

// LB loads a sign-extended byte.
func (lsu *LoadStoreUnit) LB(rt uint8, addr uint32) error {
	v, err := lsu.memory.Read8(addr)
	if err != nil {
		return err
	}
	lsu.regFile.WriteReg(rt, uint32(int32(int8(v))))
	return nil
}

// LBU loads a zero-extended byte.
func (lsu *LoadStoreUnit) LBU(rt uint8, addr uint32) error {
	v, err := lsu.memory.Read8(addr)
	if err != nil {
		return err
	}
	lsu.regFile.WriteReg(rt, uint32(v))
	return nil
}

// LH loads a sign-extended halfword.
func (lsu *LoadStoreUnit) LH(rt uint8, addr uint32) error {
	v, err := lsu.memory.Read16(addr)
	if err != nil {
		return err
	}
	lsu.regFile.WriteReg(rt, uint32(int32(int16(v))))
	return nil
}

// LHU loads a zero-extended halfword.
func (lsu *LoadStoreUnit) LHU(rt uint8, addr uint32) error {
	v, err := lsu.memory.Read16(addr)
	if err != nil {
		return err
	}
	lsu.regFile.WriteReg(rt, uint32(v))
	return nil
}

// LW loads a word.
func (lsu *LoadStoreUnit) LW(rt uint8, addr uint32) error {
	v, err := lsu.memory.Read32(addr)
	if err != nil {
		return err
	}
	lsu.regFile.WriteReg(rt, v)
	return nil
}

// LWL merges the high bytes of an unaligned word into rt.
func (lsu *LoadStoreUnit) LWL(rt uint8, addr uint32) error {
	v, err := lsu.memory.Read32(addr &^ 3)
	if err != nil {
		return err
	}
	lsu.regFile.WriteReg(rt, MergeLeft(lsu.regFile.ReadReg(rt), v, addr))
	return nil
}

// LWR merges the low bytes of an unaligned word into rt.
func (lsu *LoadStoreUnit) LWR(rt uint8, addr uint32) error {
	v, err := lsu.memory.Read32(addr &^ 3)
	if err != nil {
		return err
	}
	lsu.regFile.WriteReg(rt, MergeRight(lsu.regFile.ReadReg(rt), v, addr))
	return nil
}

// SB stores the low byte of rt.
func (lsu *LoadStoreUnit) SB(rt uint8, addr uint32) error {
	return lsu.memory.Write8(addr, uint8(lsu.regFile.ReadReg(rt)))
}

// SH stores the low halfword of rt.
func (lsu *LoadStoreUnit) SH(rt uint8, addr uint32) error {
	return lsu.memory.Write16(addr, uint16(lsu.regFile.ReadReg(rt)))
}

// SW stores rt.
func (lsu *LoadStoreUnit) SW(rt uint8, addr uint32) error {
	return lsu.memory.Write32(addr, lsu.regFile.ReadReg(rt))
}

// SWL stores the high bytes of rt to an unaligned address.
func (lsu *LoadStoreUnit) SWL(rt uint8, addr uint32) error {
	aligned := addr &^ 3
	v, err := lsu.memory.Read32(aligned)
	if err != nil {
		return err
	}
	return lsu.memory.Write32(aligned, StoreLeft(lsu.regFile.ReadReg(rt), v, addr))
}

// SWR stores the low bytes of rt to an unaligned address.
func (lsu *LoadStoreUnit) SWR(rt uint8, addr uint32) error {
	aligned := addr &^ 3
	v, err := lsu.memory.Read32(aligned)
	if err != nil {
		return err
	}
	return lsu.memory.Write32(aligned, StoreRight(lsu.regFile.ReadReg(rt), v, addr))
}

// SC stores rt and reports success in rt. There is a single CPU, so the
// link is never broken.
func (lsu *LoadStoreUnit) SC(rt uint8, addr uint32) error {
	if err := lsu.SW(rt, addr); err != nil {
		return err
	}
	lsu.regFile.WriteReg(rt, 1)
	return nil
}
