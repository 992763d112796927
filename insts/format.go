// Package insts provides MIPS Allegrex instruction definitions and decoding.
package insts

import (
	"fmt"
	"strings"
)

var condNames = [16]string{
	"f", "un", "eq", "ueq", "olt", "ult", "ole", "ule",
	"sf", "ngle", "seq", "ngl", "lt", "nge", "le", "ngt",
}

// CondName returns the mnemonic of an FPU compare condition.
func CondName(cond uint8) string { return condNames[cond&0xF] }

// CondByName returns the compare condition for a mnemonic such as "eq".
func CondByName(name string) (uint8, bool) {
	for i, n := range condNames {
		if n == name {
			return uint8(i), true
		}
	}
	return 0, false
}

var vsizeSuffix = [5]string{"", ".s", ".p", ".t", ".q"}

// Mnemonic returns the full mnemonic, including the compare condition or
// the vector size suffix.
func (i *Instruction) Mnemonic() string {
	if i.Info == nil {
		return "unknown"
	}
	switch {
	case i.Op == OpCCONDS:
		return "c." + CondName(i.Cond) + ".s"
	case i.Info.Fields&FieldVSize != 0:
		return i.Info.Name + vsizeSuffix[i.VSize]
	}
	return i.Info.Name
}

// String disassembles the instruction without resolving branch targets.
func (i *Instruction) String() string {
	return i.Disassemble(0)
}

// Disassemble renders the instruction as assembler text. Branch and jump
// targets are resolved relative to pc.
func (i *Instruction) Disassemble(pc uint32) string {
	if i.Info == nil {
		return fmt.Sprintf(".word 0x%08x", uint32(i.Raw))
	}

	var sb strings.Builder
	tmpl := i.Info.Asm
	for n := 0; n < len(tmpl); n++ {
		if tmpl[n] != '%' {
			sb.WriteByte(tmpl[n])
			continue
		}
		key, width := templateKey(tmpl[n:])
		n += width - 1
		sb.WriteString(i.operand(key, pc))
	}

	if sb.Len() == 0 {
		return i.Mnemonic()
	}
	return i.Mnemonic() + " " + sb.String()
}

// templateKey extracts the placeholder at the start of s, returning it and
// its length in bytes.
func templateKey(s string) (string, int) {
	for _, k := range []string{"%vd", "%vs", "%vt", "%ne", "%ni"} {
		if strings.HasPrefix(s, k) {
			return k, len(k)
		}
	}
	if len(s) < 2 {
		return s, len(s)
	}
	return s[:2], 2
}

// TemplateKeys lists the placeholders of an operand template in order.
func TemplateKeys(tmpl string) []string {
	var keys []string
	for n := 0; n < len(tmpl); n++ {
		if tmpl[n] != '%' {
			continue
		}
		key, width := templateKey(tmpl[n:])
		keys = append(keys, key)
		n += width - 1
	}
	return keys
}

func (i *Instruction) operand(key string, pc uint32) string {
	switch key {
	case "%s", "%J":
		return fmt.Sprintf("r%d", i.Rs)
	case "%t":
		return fmt.Sprintf("r%d", i.Rt)
	case "%d":
		return fmt.Sprintf("r%d", i.Rd)
	case "%S":
		return fmt.Sprintf("f%d", i.Fs)
	case "%T":
		return fmt.Sprintf("f%d", i.Ft)
	case "%D":
		return fmt.Sprintf("f%d", i.Fd)
	case "%p":
		return fmt.Sprintf("%d", i.Rd)
	case "%a":
		return fmt.Sprintf("%d", i.Sa)
	case "%ne":
		return fmt.Sprintf("%d", i.Rd+1)
	case "%ni":
		return fmt.Sprintf("%d", int(i.Rd)-int(i.Sa)+1)
	case "%i":
		return fmt.Sprintf("%d", i.Imm)
	case "%I":
		return fmt.Sprintf("0x%x", i.ImmU)
	case "%P":
		return fmt.Sprintf("0x%06x", i.ImmU)
	case "%C":
		return fmt.Sprintf("0x%x", i.Code)
	case "%O":
		return fmt.Sprintf("0x%08x", i.BranchTarget(pc))
	case "%j":
		return fmt.Sprintf("0x%08x", i.JumpTarget(pc))
	case "%vd":
		return fmt.Sprintf("v%d", i.Vd)
	case "%vs":
		return fmt.Sprintf("v%d", i.Vs)
	case "%vt":
		return fmt.Sprintf("v%d", i.Vt)
	}
	return key
}
