package dynarec

import (
	"fmt"
	"strings"

	"github.com/xlab/treeprint"

	"github.com/sarchlab/pspsim/insts"
)

// BlockEnd classifies how control leaves a basic block.
type BlockEnd int

// Block terminators.
const (
	// EndFallthrough continues at the next block.
	EndFallthrough BlockEnd = iota
	// EndConditional is a conditional branch and its delay slot.
	EndConditional
	// EndDirect is an unconditional jump to a known target.
	EndDirect
	// EndIndirect jumps through a register.
	EndIndirect
	// EndCall is a linking jump that returns to the following block.
	EndCall
	// EndTerminated stops the thread (halt, break) or leaves the scanned
	// code.
	EndTerminated
)

func (e BlockEnd) String() string {
	switch e {
	case EndFallthrough:
		return "fallthrough"
	case EndConditional:
		return "conditional"
	case EndDirect:
		return "direct"
	case EndIndirect:
		return "indirect"
	case EndCall:
		return "call"
	case EndTerminated:
		return "terminated"
	}
	return fmt.Sprintf("BlockEnd(%d)", int(e))
}

// Node is one lowered guest instruction.
type Node struct {
	PC   uint32
	Inst *insts.Instruction

	// SavePC is set when the architectural PC is flushed before the node
	// runs.
	SavePC bool
	// DelaySlot marks the instruction following a branch or jump.
	DelaySlot bool
}

// Block is a straight-line run of nodes with a single entry.
type Block struct {
	Start uint32
	End   BlockEnd
	Nodes []*Node

	// Targets lists the statically known successors outside the
	// fall-through path.
	Targets []uint32
}

// Last returns the address of the last instruction of the block.
func (b *Block) Last() uint32 {
	return b.Start + uint32(4*(len(b.Nodes)-1))
}

// Program is the intermediate representation of a compiled function.
type Program struct {
	Entry  uint32
	Blocks []*Block

	// External lists the targets reported to the scheduler because they
	// lie outside the scanned code.
	External []uint32
}

// Len returns the number of instructions in the program.
func (p *Program) Len() int {
	n := 0
	for _, b := range p.Blocks {
		n += len(b.Nodes)
	}
	return n
}

// Tree renders the program as a tree of blocks and instructions.
func (p *Program) Tree() treeprint.Tree {
	tree := treeprint.New()
	tree.SetValue(fmt.Sprintf("function 0x%08x (%d blocks, %d instructions)", p.Entry, len(p.Blocks), p.Len()))

	for _, b := range p.Blocks {
		label := fmt.Sprintf("block 0x%08x [%s]", b.Start, b.End)
		if len(b.Targets) > 0 {
			targets := make([]string, len(b.Targets))
			for i, t := range b.Targets {
				targets[i] = fmt.Sprintf("0x%08x", t)
			}
			label += " -> " + strings.Join(targets, ", ")
		}
		branch := tree.AddBranch(label)
		for _, n := range b.Nodes {
			text := fmt.Sprintf("0x%08x  %s", n.PC, n.Inst.Disassemble(n.PC))
			if n.DelaySlot {
				text += "  ; delay slot"
			}
			if n.SavePC {
				text += "  ; save pc"
			}
			branch.AddNode(text)
		}
	}

	if len(p.External) > 0 {
		ext := tree.AddBranch("external")
		for _, t := range p.External {
			ext.AddNode(fmt.Sprintf("0x%08x", t))
		}
	}
	return tree
}

// String dumps the program tree.
func (p *Program) String() string {
	return p.Tree().String()
}
