// Package loader provides ELF loading for MIPS Allegrex executables.
package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/sarchlab/pspsim/emu"
)

// SegmentFlags represents memory protection flags for a segment.
type SegmentFlags uint32

const (
	// SegmentFlagExecute indicates the segment is executable.
	SegmentFlagExecute SegmentFlags = 1 << iota
	// SegmentFlagWrite indicates the segment is writable.
	SegmentFlagWrite
	// SegmentFlagRead indicates the segment is readable.
	SegmentFlagRead
)

// DefaultStackTop is the initial stack pointer: the top of main memory
// less a small red zone.
const DefaultStackTop = emu.MainBase + emu.MainSize - 0x100

// Segment represents a loadable segment from an ELF binary.
type Segment struct {
	VirtAddr uint32
	Data     []byte
	// MemSize is the size in memory, larger than len(Data) for BSS.
	MemSize uint32
	Flags   SegmentFlags
}

// Program is a parsed executable ready to be copied into guest memory.
type Program struct {
	EntryPoint uint32
	Segments   []Segment
	InitialSP  uint32
	// Flags are the e_flags of the ELF header.
	Flags uint32
}

// Target is the memory a Program loads into.
type Target interface {
	Load(addr uint32, data []byte) error
}

// Load parses a MIPS ELF executable from a file.
func Load(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return Parse(f)
}

// LoadBytes parses a MIPS ELF executable held in memory.
func LoadBytes(data []byte) (*Program, error) {
	return Parse(bytes.NewReader(data))
}

// Parse reads a 32-bit little-endian MIPS executable.
func Parse(r io.ReaderAt) (*Program, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ELF file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if f.Class != elf.ELFCLASS32 {
		return nil, fmt.Errorf("not a 32-bit ELF file")
	}
	if f.Data != elf.ELFDATA2LSB {
		return nil, fmt.Errorf("not a little-endian ELF file")
	}
	if f.Machine != elf.EM_MIPS {
		return nil, fmt.Errorf("not a MIPS ELF file (machine type: %v)", f.Machine)
	}

	prog := &Program{
		EntryPoint: uint32(f.Entry),
		InitialSP:  DefaultStackTop,
	}
	if hdr, err := readFlags(r); err == nil {
		prog.Flags = hdr
	}

	for _, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}
		if phdr.Memsz < phdr.Filesz {
			return nil, fmt.Errorf("segment at 0x%x: memory size %d below file size %d",
				phdr.Vaddr, phdr.Memsz, phdr.Filesz)
		}

		data := make([]byte, phdr.Filesz)
		if phdr.Filesz > 0 {
			n, err := phdr.ReadAt(data, 0)
			if err != nil && err != io.EOF {
				return nil, fmt.Errorf("failed to read segment at 0x%x: %w", phdr.Vaddr, err)
			}
			if uint64(n) != phdr.Filesz {
				return nil, fmt.Errorf("short read for segment at 0x%x: got %d bytes, expected %d",
					phdr.Vaddr, n, phdr.Filesz)
			}
		}

		var flags SegmentFlags
		if phdr.Flags&elf.PF_X != 0 {
			flags |= SegmentFlagExecute
		}
		if phdr.Flags&elf.PF_W != 0 {
			flags |= SegmentFlagWrite
		}
		if phdr.Flags&elf.PF_R != 0 {
			flags |= SegmentFlagRead
		}

		prog.Segments = append(prog.Segments, Segment{
			VirtAddr: uint32(phdr.Vaddr),
			Data:     data,
			MemSize:  uint32(phdr.Memsz),
			Flags:    flags,
		})
	}

	return prog, nil
}

// readFlags returns e_flags, which debug/elf does not expose.
func readFlags(r io.ReaderAt) (uint32, error) {
	var buf [4]byte
	if _, err := r.ReadAt(buf[:], 36); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// LoadInto copies every segment into mem and zeroes the BSS tails.
func (p *Program) LoadInto(mem Target) error {
	for _, seg := range p.Segments {
		if err := mem.Load(seg.VirtAddr, seg.Data); err != nil {
			return fmt.Errorf("segment at 0x%08x: %w", seg.VirtAddr, err)
		}
		if bss := int(seg.MemSize) - len(seg.Data); bss > 0 {
			addr := seg.VirtAddr + uint32(len(seg.Data))
			if err := mem.Load(addr, make([]byte, bss)); err != nil {
				return fmt.Errorf("bss at 0x%08x: %w", addr, err)
			}
		}
	}
	return nil
}

// Start points t at the entry point with the initial stack.
func (p *Program) Start(t *emu.ThreadState) {
	t.SetPC(p.EntryPoint)
	t.WriteReg(emu.RegSP, p.InitialSP)
}
