package asm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-logr/logr"

	"github.com/sarchlab/pspsim/insts"
)

// PatchType selects how a label address is folded into a word.
type PatchType int

// Patch types.
const (
	// Rel16 stores (label - pc - 4) / 4 in the 16-bit immediate.
	Rel16 PatchType = iota
	// Abs26 stores (label & 0x1FFFFFFF) / 4 in the jump target.
	Abs26
	// Abs32 replaces the whole word with the label address.
	Abs32
)

const memoryMask = 0x1FFFFFFF

// Patch is a pending label reference.
type Patch struct {
	Address uint32
	Type    PatchType
	Label   string
	Line    int
}

// Chunk is a run of words assembled at consecutive addresses.
type Chunk struct {
	Address uint32
	Words   []uint32
}

// Program is the output of a successful assembly.
type Program struct {
	Chunks []*Chunk
	Labels map[string]uint32
}

// Writer is the memory surface the assembler writes to.
type Writer interface {
	Write32(addr uint32, v uint32) error
}

// WriteTo stores every chunk into mem.
func (p *Program) WriteTo(mem Writer) error {
	for _, c := range p.Chunks {
		for i, w := range c.Words {
			if err := mem.Write32(c.Address+uint32(4*i), w); err != nil {
				return err
			}
		}
	}
	return nil
}

// Words returns the words of all chunks in order.
func (p *Program) Words() []uint32 {
	var out []uint32
	for _, c := range p.Chunks {
		out = append(out, c.Words...)
	}
	return out
}

// Assembler translates Allegrex assembly text into machine words.
type Assembler struct {
	log logr.Logger
}

// Option is a functional option for configuring the Assembler.
type Option func(*Assembler)

// WithLogger sets the logger used to trace label resolution.
func WithLogger(log logr.Logger) Option {
	return func(a *Assembler) {
		a.log = log
	}
}

// New creates an assembler.
func New(opts ...Option) *Assembler {
	a := &Assembler{log: logr.Discard()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AssembleTo assembles src and writes it to mem. Nothing is written when
// assembly fails.
func (a *Assembler) AssembleTo(mem Writer, src string) (*Program, error) {
	prog, err := a.Assemble(src)
	if err != nil {
		return nil, err
	}
	if err := prog.WriteTo(mem); err != nil {
		return nil, err
	}
	return prog, nil
}

// Assemble assembles a multi-line program. Lines hold a directive, a
// label ("name:"), an instruction, or a label followed by an instruction.
// Comments start at ';' or '#'. ".code ADDR" moves the output address and
// ".word VALUE" emits a literal word or label address.
func (a *Assembler) Assemble(src string) (*Program, error) {
	prog := &Program{Labels: make(map[string]uint32)}
	var (
		patches []Patch
		chunk   *Chunk
		pc      uint32
	)

	emit := func(words []uint32) {
		if chunk == nil || chunk.Address+uint32(4*len(chunk.Words)) != pc {
			chunk = &Chunk{Address: pc}
			prog.Chunks = append(prog.Chunks, chunk)
		}
		chunk.Words = append(chunk.Words, words...)
		pc += uint32(4 * len(words))
	}

	for n, raw := range strings.Split(src, "\n") {
		lineNo := n + 1
		line := stripComment(raw)
		if line == "" {
			continue
		}

		if i := strings.Index(line, ":"); i >= 0 && isLabel(line[:i]) {
			prog.Labels[strings.TrimSpace(line[:i])] = pc
			line = strings.TrimSpace(line[i+1:])
			if line == "" {
				continue
			}
		}

		if strings.HasPrefix(line, ".") {
			fields := strings.Fields(line)
			if len(fields) != 2 {
				return nil, &SyntaxError{Line: lineNo, Text: raw, Err: fmt.Errorf("directive %s needs one argument", fields[0])}
			}
			switch fields[0] {
			case ".code":
				addr, err := ParseInteger(fields[1])
				if err != nil {
					return nil, &SyntaxError{Line: lineNo, Text: raw, Err: err}
				}
				pc = uint32(addr)
			case ".word":
				v, err := ParseInteger(fields[1])
				if err != nil {
					patches = append(patches, Patch{Address: pc, Type: Abs32, Label: fields[1], Line: lineNo})
					v = 0
				}
				emit([]uint32{uint32(v)})
			default:
				return nil, &SyntaxError{Line: lineNo, Text: raw, Err: fmt.Errorf("unsupported directive %s", fields[0])}
			}
			continue
		}

		words, linePatches, err := a.AssembleInstructions(pc, line)
		if err != nil {
			return nil, &SyntaxError{Line: lineNo, Text: raw, Err: err}
		}
		for i := range linePatches {
			linePatches[i].Line = lineNo
		}
		patches = append(patches, linePatches...)
		emit(words)
	}

	if err := a.applyPatches(prog, patches); err != nil {
		return nil, err
	}
	return prog, nil
}

func (a *Assembler) applyPatches(prog *Program, patches []Patch) error {
	for _, p := range patches {
		label, ok := prog.Labels[p.Label]
		if !ok {
			return &UndefinedLabelError{Label: p.Label, Line: p.Line}
		}

		word, chunk, idx := lookupWord(prog, p.Address)
		if chunk == nil {
			return fmt.Errorf("patch address 0x%08x is outside the program", p.Address)
		}

		w := insts.Word(word)
		switch p.Type {
		case Rel16:
			w = w.WithImm((int32(label) - int32(p.Address) - 4) / 4)
		case Abs26:
			w = w.WithTarget((label & memoryMask) / 4)
		case Abs32:
			w = insts.Word(label)
		}
		a.log.V(1).Info("resolved label", "label", p.Label, "address", fmt.Sprintf("0x%08x", label), "at", fmt.Sprintf("0x%08x", p.Address))
		chunk.Words[idx] = uint32(w)
	}
	return nil
}

func lookupWord(prog *Program, addr uint32) (uint32, *Chunk, int) {
	for _, c := range prog.Chunks {
		if addr >= c.Address && addr < c.Address+uint32(4*len(c.Words)) {
			idx := int(addr-c.Address) / 4
			return c.Words[idx], c, idx
		}
	}
	return 0, nil, 0
}

// AssembleInstructions assembles a single source line located at pc. It
// returns one word for real instructions and possibly more for
// pseudo-instructions, plus the label references still to resolve.
func (a *Assembler) AssembleInstructions(pc uint32, line string) ([]uint32, []Patch, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil, nil
	}

	name, args := line, ""
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		name, args = line[:i], strings.TrimSpace(line[i+1:])
	}
	name = strings.ToLower(name)

	switch name {
	case "nop":
		return a.AssembleInstructions(pc, "and r0, r0, r0")
	case "b":
		return a.AssembleInstructions(pc, "beq r0, r0, "+args)
	case "li":
		return a.assembleLI(pc, args)
	}

	inst, err := a.lookup(name)
	if err != nil {
		return nil, nil, err
	}

	matches, err := matchFormat(inst.Info.Asm, args)
	if err != nil {
		return nil, nil, err
	}

	var patches []Patch
	for _, m := range matches {
		patch, err := bindOperand(inst, pc, m)
		if err != nil {
			return nil, nil, fmt.Errorf("%s operand %q: %w", m.key, m.value, err)
		}
		if patch != nil {
			patches = append(patches, *patch)
		}
	}

	word, err := insts.Encode(inst)
	if err != nil {
		return nil, nil, err
	}
	return []uint32{uint32(word)}, patches, nil
}

// AssembleLine assembles one instruction at address 0. Branch and jump
// operands must be numeric.
func (a *Assembler) AssembleLine(line string) (uint32, error) {
	words, patches, err := a.AssembleInstructions(0, line)
	if err != nil {
		return 0, err
	}
	if len(patches) > 0 {
		return 0, &UndefinedLabelError{Label: patches[0].Label}
	}
	if len(words) != 1 {
		return 0, fmt.Errorf("%q assembles to %d words", line, len(words))
	}
	return words[0], nil
}

func (a *Assembler) assembleLI(pc uint32, args string) ([]uint32, []Patch, error) {
	matches, err := matchFormat("%d, %i", args)
	if err != nil {
		return nil, nil, err
	}
	dest := matches[0].value
	v, err := ParseInteger(matches[1].value)
	if err != nil {
		return nil, nil, err
	}

	value := int32(v)
	if int32(int16(value)) == value {
		return a.AssembleInstructions(pc, fmt.Sprintf("addi %s, r0, %d", dest, value))
	}

	hi, _, err := a.AssembleInstructions(pc, fmt.Sprintf("lui %s, %d", dest, (uint32(value)>>16)&0xFFFF))
	if err != nil {
		return nil, nil, err
	}
	lo, _, err := a.AssembleInstructions(pc+4, fmt.Sprintf("ori %s, %s, %d", dest, dest, uint32(value)&0xFFFF))
	if err != nil {
		return nil, nil, err
	}
	return append(hi, lo...), nil, nil
}

var vsizeSuffixes = map[string]int{".s": 1, ".p": 2, ".t": 3, ".q": 4}

// lookup resolves a mnemonic, including compare conditions and vector
// size suffixes.
func (a *Assembler) lookup(name string) (*insts.Instruction, error) {
	if info, ok := insts.LookupName(name); ok {
		return &insts.Instruction{Op: info.Op, Info: info, VSize: 1}, nil
	}

	if strings.HasPrefix(name, "c.") && strings.HasSuffix(name, ".s") {
		cond, ok := insts.CondByName(strings.TrimSuffix(strings.TrimPrefix(name, "c."), ".s"))
		if ok {
			info, _ := insts.LookupName("c.cond.s")
			return &insts.Instruction{Op: info.Op, Info: info, Cond: cond, VSize: 1}, nil
		}
	}

	if i := strings.LastIndexByte(name, '.'); i > 0 {
		if size, ok := vsizeSuffixes[name[i:]]; ok {
			if info, ok := insts.LookupName(name[:i]); ok && info.Fields&insts.FieldVSize != 0 {
				return &insts.Instruction{Op: info.Op, Info: info, VSize: size}, nil
			}
		}
	}

	return nil, fmt.Errorf("unknown instruction %q", name)
}

func bindOperand(inst *insts.Instruction, pc uint32, m operand) (*Patch, error) {
	var err error
	switch m.key {
	case "%s", "%J":
		inst.Rs, err = parseRegister(m.value, 'r')
	case "%t":
		inst.Rt, err = parseRegister(m.value, 'r')
	case "%d":
		inst.Rd, err = parseRegister(m.value, 'r')
	case "%S":
		inst.Rd, err = parseRegister(m.value, 'f')
	case "%T":
		inst.Rt, err = parseRegister(m.value, 'f')
	case "%D":
		inst.Sa, err = parseRegister(m.value, 'f')
	case "%vd":
		inst.Vd, err = parseVectorRegister(m.value)
	case "%vs":
		inst.Vs, err = parseVectorRegister(m.value)
	case "%vt":
		inst.Vt, err = parseVectorRegister(m.value)
	case "%a":
		inst.Sa, err = parseSmall(m.value, 31)
	case "%ne":
		var size uint8
		size, err = parseSmall(m.value, 32)
		inst.Rd = size - 1
	case "%ni":
		var size uint8
		size, err = parseSmall(m.value, 32)
		inst.Rd = inst.Sa + size - 1
	case "%p":
		inst.Rd, err = parseSmall(m.value, 31)
	case "%C":
		var v int64
		v, err = ParseInteger(m.value)
		inst.Code = uint32(v)
	case "%i":
		var v int64
		v, err = ParseInteger(m.value)
		inst.Imm = int32(v)
	case "%I":
		var v int64
		v, err = ParseInteger(m.value)
		inst.ImmU = uint32(v)
		inst.Imm = int32(v)
	case "%P":
		var v int64
		v, err = ParseInteger(m.value)
		inst.ImmU = uint32(v)
	case "%O":
		v, perr := ParseInteger(m.value)
		if perr != nil {
			return &Patch{Address: pc, Type: Rel16, Label: m.value}, nil
		}
		inst.Imm = (int32(v) - int32(pc) - 4) / 4
	case "%j":
		v, perr := ParseInteger(m.value)
		if perr != nil {
			return &Patch{Address: pc, Type: Abs26, Label: m.value}, nil
		}
		inst.Target = (uint32(v) & memoryMask) / 4
	default:
		return nil, fmt.Errorf("unknown format %s", m.key)
	}
	return nil, err
}

var gprAliases = map[string]uint8{
	"zero": 0, "zr": 0, "at": 1, "v0": 2, "v1": 3,
	"a0": 4, "a1": 5, "a2": 6, "a3": 7,
	"t0": 8, "t1": 9, "t2": 10, "t3": 11, "t4": 12, "t5": 13, "t6": 14, "t7": 15,
	"s0": 16, "s1": 17, "s2": 18, "s3": 19, "s4": 20, "s5": 21, "s6": 22, "s7": 23,
	"t8": 24, "t9": 25, "k0": 26, "k1": 27, "gp": 28, "sp": 29, "fp": 30, "ra": 31,
}

func parseRegister(s string, prefix byte) (uint8, error) {
	if prefix == 'r' {
		if r, ok := gprAliases[strings.ToLower(s)]; ok {
			return r, nil
		}
	}
	if len(s) < 2 || s[0] != prefix {
		return 0, fmt.Errorf("invalid register name %q", s)
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil || n < 0 || n > 31 {
		return 0, fmt.Errorf("invalid register name %q", s)
	}
	return uint8(n), nil
}

func parseVectorRegister(s string) (uint8, error) {
	if len(s) < 2 || s[0] != 'v' {
		return 0, fmt.Errorf("invalid vector register %q", s)
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil || n < 0 || n > 127 {
		return 0, fmt.Errorf("invalid vector register %q", s)
	}
	return uint8(n), nil
}

func parseSmall(s string, max int64) (uint8, error) {
	v, err := ParseInteger(s)
	if err != nil {
		return 0, err
	}
	if v < 0 || v > max {
		return 0, fmt.Errorf("value %d out of range [0, %d]", v, max)
	}
	return uint8(v), nil
}

// ParseInteger parses a decimal, hex (0x), octal (0o) or binary (0b)
// constant with an optional sign.
func ParseInteger(s string) (int64, error) {
	return strconv.ParseInt(s, 0, 64)
}

func stripComment(line string) string {
	if i := strings.IndexAny(line, ";#"); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}

func isLabel(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c == '_' || c == '.' || c == '$' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
			return false
		}
	}
	return true
}
