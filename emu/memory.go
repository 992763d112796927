// Package emu provides functional MIPS Allegrex emulation.
package emu

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/go-logr/logr"
)

// Guest memory map.
const (
	ScratchpadBase uint32 = 0x00010000
	ScratchpadSize        = 16 * 1024
	VRAMBase       uint32 = 0x04000000
	VRAMSize              = 2 * 1024 * 1024
	MainBase       uint32 = 0x08000000
	MainSize              = 32 * 1024 * 1024

	// AddressMask folds the kernel and uncached mirrors onto the
	// physical map.
	AddressMask uint32 = 0x1FFFFFFF

	pageShift = 16
	pageCount = (AddressMask + 1) >> pageShift
)

// WriteHook is notified of every guest store with the inclusive range of
// bytes written.
type WriteHook func(lo, hi uint32)

// AddressSpace is the guest memory surface used by the CPU and the GPU.
type AddressSpace interface {
	Read8(addr uint32) (uint8, error)
	Read16(addr uint32) (uint16, error)
	Read32(addr uint32) (uint32, error)
	Write8(addr uint32, v uint8) error
	Write16(addr uint32, v uint16) error
	Write32(addr uint32, v uint32) error

	// Slice returns the guest bytes [addr, addr+size) without copying.
	// The range must lie inside a single mapped segment.
	Slice(addr uint32, size int) ([]byte, error)

	// IsRangeValid reports whether [addr, addr+size) is mapped.
	IsRangeValid(addr uint32, size int) bool

	// SetWriteHook installs the store notification callback.
	SetWriteHook(hook WriteHook)
}

// Segment is a contiguous mapped region of guest memory.
type Segment struct {
	Name string
	Base uint32
	Data []byte
}

// Memory is the guest address space: scratchpad, VRAM and main RAM, with
// mirrors folded by AddressMask.
type Memory struct {
	segments  []*Segment
	pages     [pageCount][]byte
	unchecked bool
	hook      WriteHook
	logWrites bool
	log       logr.Logger
}

// MemoryOption is a functional option for configuring Memory.
type MemoryOption func(*Memory)

// WithUncheckedAccess makes unmapped reads return zero and unmapped or
// misaligned writes complete silently instead of faulting.
func WithUncheckedAccess() MemoryOption {
	return func(m *Memory) {
		m.unchecked = true
	}
}

// WithMainMemorySize overrides the size of main RAM.
func WithMainMemorySize(size int) MemoryOption {
	return func(m *Memory) {
		m.segments[2].Data = make([]byte, size)
	}
}

// WithWriteLogging logs every store at verbosity 2.
func WithWriteLogging(log logr.Logger) MemoryOption {
	return func(m *Memory) {
		m.logWrites = true
		m.log = log
	}
}

// NewMemory creates the guest address space.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		segments: []*Segment{
			{Name: "scratchpad", Base: ScratchpadBase},
			{Name: "vram", Base: VRAMBase},
			{Name: "main", Base: MainBase},
		},
		log: logr.Discard(),
	}
	m.segments[0].Data = make([]byte, ScratchpadSize)
	m.segments[1].Data = make([]byte, VRAMSize)
	m.segments[2].Data = make([]byte, MainSize)

	for _, opt := range opts {
		opt(m)
	}

	for _, seg := range m.segments {
		for off := 0; off < len(seg.Data); off += 1 << pageShift {
			m.pages[(seg.Base+uint32(off))>>pageShift] = seg.Data[off:]
		}
	}

	return m
}

// Segments returns the mapped segments.
func (m *Memory) Segments() []*Segment {
	return m.segments
}

// Unchecked reports whether the memory was built with WithUncheckedAccess.
func (m *Memory) Unchecked() bool {
	return m.unchecked
}

// SetWriteHook installs the store notification callback.
func (m *Memory) SetWriteHook(hook WriteHook) {
	m.hook = hook
}

// lookup returns the bytes starting at addr, or nil when fewer than size
// bytes are mapped there.
func (m *Memory) lookup(addr uint32, size int) []byte {
	phys := addr & AddressMask
	page := m.pages[phys>>pageShift]
	off := int(phys & (1<<pageShift - 1))
	if off+size > len(page) {
		return nil
	}
	return page[off : off+size]
}

func (m *Memory) access(addr uint32, size int, write bool) ([]byte, error) {
	if !m.unchecked && addr&uint32(size-1) != 0 {
		return nil, &MemoryFaultError{Addr: addr, Size: size, Write: write, Misaligned: true}
	}
	b := m.lookup(addr, size)
	if b == nil && !m.unchecked {
		return nil, &MemoryFaultError{Addr: addr, Size: size, Write: write}
	}
	return b, nil
}

func (m *Memory) notify(addr uint32, size int, v uint32) {
	if m.logWrites {
		m.log.V(2).Info("guest write", "addr", fmt.Sprintf("0x%08x", addr), "size", size, "value", v)
	}
	if m.hook != nil {
		m.hook(addr, addr+uint32(size)-1)
	}
}

// Read8 reads a byte.
func (m *Memory) Read8(addr uint32) (uint8, error) {
	b, err := m.access(addr, 1, false)
	if b == nil {
		return 0, err
	}
	return b[0], nil
}

// Read16 reads a little-endian halfword.
func (m *Memory) Read16(addr uint32) (uint16, error) {
	b, err := m.access(addr, 2, false)
	if b == nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// Read32 reads a little-endian word.
func (m *Memory) Read32(addr uint32) (uint32, error) {
	b, err := m.access(addr, 4, false)
	if b == nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Write8 writes a byte.
func (m *Memory) Write8(addr uint32, v uint8) error {
	b, err := m.access(addr, 1, true)
	if b == nil {
		return err
	}
	b[0] = v
	m.notify(addr, 1, uint32(v))
	return nil
}

// Write16 writes a little-endian halfword.
func (m *Memory) Write16(addr uint32, v uint16) error {
	b, err := m.access(addr, 2, true)
	if b == nil {
		return err
	}
	binary.LittleEndian.PutUint16(b, v)
	m.notify(addr, 2, uint32(v))
	return nil
}

// Write32 writes a little-endian word.
func (m *Memory) Write32(addr uint32, v uint32) error {
	b, err := m.access(addr, 4, true)
	if b == nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, v)
	m.notify(addr, 4, v)
	return nil
}

// Slice returns the guest bytes [addr, addr+size) without copying. The
// bounds check applies in both checked and unchecked mode.
func (m *Memory) Slice(addr uint32, size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("negative slice size %d", size)
	}
	b := m.lookup(addr, size)
	if b == nil {
		return nil, &MemoryFaultError{Addr: addr, Size: size}
	}
	return b, nil
}

// IsRangeValid reports whether [addr, addr+size) is mapped.
func (m *Memory) IsRangeValid(addr uint32, size int) bool {
	return size >= 0 && m.lookup(addr, size) != nil
}

// Load copies data into guest memory without notifying the write hook.
func (m *Memory) Load(addr uint32, data []byte) error {
	b, err := m.Slice(addr, len(data))
	if err != nil {
		return fmt.Errorf("failed to load %d bytes at 0x%08x: %w", len(data), addr, err)
	}
	copy(b, data)
	return nil
}

// ReadStruct decodes a little-endian fixed-size structure at addr into v.
func ReadStruct(mem AddressSpace, addr uint32, v any) error {
	size := binary.Size(v)
	if size < 0 {
		return fmt.Errorf("type %T has no fixed size", v)
	}
	b, err := mem.Slice(addr, size)
	if err != nil {
		return err
	}
	return binary.Read(bytes.NewReader(b), binary.LittleEndian, v)
}

// WriteStruct encodes v little-endian at addr.
func WriteStruct(mem AddressSpace, addr uint32, v any) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		return err
	}
	b, err := mem.Slice(addr, buf.Len())
	if err != nil {
		return err
	}
	copy(b, buf.Bytes())
	return nil
}
