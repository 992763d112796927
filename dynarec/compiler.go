package dynarec

import (
	"fmt"
	"sort"

	"github.com/go-logr/logr"

	"github.com/sarchlab/pspsim/emu"
	"github.com/sarchlab/pspsim/insts"
)

// Default limits of a single function.
const (
	DefaultMaxInstructions = 4096
	DefaultMaxSpan         = 64 * 1024
)

// Compiler builds Functions from guest code.
type Compiler struct {
	decoder *insts.Decoder
	log     logr.Logger

	maxInstructions int
	maxSpan         uint32
	preciseMemory   bool
	trace           bool
}

// CompilerOption is a functional option for configuring a Compiler.
type CompilerOption func(*Compiler)

// WithLogger sets the compiler logger.
func WithLogger(log logr.Logger) CompilerOption {
	return func(c *Compiler) {
		c.log = log
	}
}

// WithMaxInstructions bounds the instructions of one function. Paths that
// reach the bound leave the function.
func WithMaxInstructions(n int) CompilerOption {
	return func(c *Compiler) {
		c.maxInstructions = n
	}
}

// WithMaxSpan bounds the distance in bytes between the entry and a branch
// target that is compiled into the same function.
func WithMaxSpan(span uint32) CompilerOption {
	return func(c *Compiler) {
		c.maxSpan = span
	}
}

// WithPreciseMemory controls whether loads and stores flush the PC before
// they run. It is required whenever an access can fault or is logged.
func WithPreciseMemory(precise bool) CompilerOption {
	return func(c *Compiler) {
		c.preciseMemory = precise
	}
}

// WithTrace logs the IR of every compiled function at verbosity 2.
func WithTrace(trace bool) CompilerOption {
	return func(c *Compiler) {
		c.trace = trace
	}
}

// NewCompiler creates a compiler.
func NewCompiler(opts ...CompilerOption) *Compiler {
	c := &Compiler{
		decoder:         insts.NewDecoder(),
		log:             logr.Discard(),
		maxInstructions: DefaultMaxInstructions,
		maxSpan:         DefaultMaxSpan,
		preciseMemory:   true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PreciseMemory reports whether loads and stores flush the PC.
func (c *Compiler) PreciseMemory() bool {
	return c.preciseMemory
}

type scan struct {
	c     *Compiler
	r     Reader
	entry uint32

	nodes    map[uint32]*Node
	leaders  map[uint32]bool
	work     []uint32
	external []uint32
	seen     map[uint32]bool
	onNew    func(pc uint32)
}

// CreateFunction compiles the code reachable from entry. Targets that lie
// outside the scanned code are passed to onNewEntryDiscovered, which may
// be nil.
func (c *Compiler) CreateFunction(r Reader, entry uint32, onNewEntryDiscovered func(pc uint32)) (*Function, error) {
	if entry&3 != 0 {
		return nil, &LoweringError{PC: entry, Reason: "misaligned entry"}
	}

	s := &scan{
		c:       c,
		r:       r,
		entry:   entry,
		nodes:   make(map[uint32]*Node),
		leaders: map[uint32]bool{entry: true},
		work:    []uint32{entry},
		seen:    make(map[uint32]bool),
		onNew:   onNewEntryDiscovered,
	}
	if err := s.run(); err != nil {
		return nil, err
	}

	prog := s.program()
	fn, err := lower(prog)
	if err != nil {
		return nil, err
	}

	if c.trace {
		c.log.V(2).Info("compiled function", "entry", fmt.Sprintf("0x%08x", entry), "ir", prog.String())
	} else {
		c.log.V(2).Info("compiled function", "entry", fmt.Sprintf("0x%08x", entry),
			"instructions", prog.Len(), "blocks", len(prog.Blocks))
	}

	for _, pc := range prog.External {
		if s.onNew != nil {
			s.onNew(pc)
		}
	}
	return fn, nil
}

func (s *scan) run() error {
	for len(s.work) > 0 {
		pc := s.work[len(s.work)-1]
		s.work = s.work[:len(s.work)-1]
		if err := s.path(pc); err != nil {
			return err
		}
	}
	return nil
}

// path scans straight-line code from pc until an unconditional transfer
// and its delay slot, a stop instruction, or already scanned code.
func (s *scan) path(pc uint32) error {
	for {
		if _, done := s.nodes[pc]; done {
			return nil
		}
		if len(s.nodes) >= s.c.maxInstructions {
			s.report(pc)
			return nil
		}

		n, err := s.node(pc)
		if err != nil {
			return err
		}
		inst := n.Inst

		if !inst.Has(insts.FlagDelaySlot) {
			if inst.Op == insts.OpHALT || inst.Op == insts.OpBREAK {
				return nil
			}
			pc += 4
			continue
		}

		if err := s.delaySlot(pc + 4); err != nil {
			return err
		}

		switch {
		case inst.Has(insts.FlagBranch):
			s.target(inst.BranchTarget(pc), inst.Has(insts.FlagLink))
			if inst.IsUnconditional() && !inst.Has(insts.FlagLink) {
				return nil
			}
		case inst.Has(insts.FlagJump):
			s.target(inst.JumpTarget(pc), inst.Has(insts.FlagLink))
			if !inst.Has(insts.FlagLink) {
				return nil
			}
		case inst.Has(insts.FlagJumpReg):
			if !inst.Has(insts.FlagLink) {
				return nil
			}
		}

		s.leaders[pc+8] = true
		pc += 8
	}
}

func (s *scan) node(pc uint32) (*Node, error) {
	word, err := s.r.Read32(pc)
	if err != nil {
		return nil, &LoweringError{PC: pc, Reason: "cannot fetch", Err: err}
	}
	inst := s.c.decoder.Decode(word)
	if emu.HandlerFor(inst.Op) == nil {
		return nil, &LoweringError{
			PC: pc, Op: inst.Op,
			Err: &emu.UnimplementedInstructionError{PC: pc, Word: word, Op: inst.Op},
		}
	}

	n := &Node{PC: pc, Inst: inst, SavePC: s.c.needsPC(inst)}
	s.nodes[pc] = n
	return n, nil
}

func (s *scan) delaySlot(pc uint32) error {
	n, ok := s.nodes[pc]
	if !ok {
		var err error
		if n, err = s.node(pc); err != nil {
			return err
		}
	}
	switch {
	case n.Inst.Has(insts.FlagDelaySlot):
		return &LoweringError{PC: pc, Op: n.Inst.Op, Reason: "control transfer in a delay slot"}
	case n.Inst.Has(insts.FlagSyscall), n.Inst.Op == insts.OpHALT:
		return &LoweringError{PC: pc, Op: n.Inst.Op, Reason: "thread switch in a delay slot"}
	}
	n.DelaySlot = true
	return nil
}

// target schedules a static branch or jump target. Calls and targets
// outside the function window are left to the scheduler.
func (s *scan) target(pc uint32, call bool) {
	if call || pc < s.entry || pc-s.entry >= s.c.maxSpan {
		s.report(pc)
		return
	}
	s.leaders[pc] = true
	s.work = append(s.work, pc)
}

func (s *scan) report(pc uint32) {
	if !s.seen[pc] {
		s.seen[pc] = true
		s.external = append(s.external, pc)
	}
}

func (c *Compiler) needsPC(inst *insts.Instruction) bool {
	if !inst.Has(insts.FlagNeedsPC) {
		return false
	}
	if inst.Info.Flags&(insts.FlagLoad|insts.FlagStore) != 0 {
		return c.preciseMemory
	}
	return true
}

// program groups the scanned nodes into basic blocks.
func (s *scan) program() *Program {
	pcs := make([]uint32, 0, len(s.nodes))
	for pc := range s.nodes {
		pcs = append(pcs, pc)
	}
	sort.Slice(pcs, func(i, j int) bool { return pcs[i] < pcs[j] })

	prog := &Program{Entry: s.entry}
	for _, pc := range s.external {
		if _, inside := s.nodes[pc]; !inside {
			prog.External = append(prog.External, pc)
		}
	}

	var cur *Block
	for _, pc := range pcs {
		n := s.nodes[pc]
		split := cur == nil || pc != cur.Last()+4 ||
			(s.leaders[pc] && !n.DelaySlot) || cur.End != EndFallthrough
		if split {
			if cur != nil && cur.End == EndFallthrough && pc != cur.Last()+4 {
				cur.End = EndTerminated
			}
			cur = &Block{Start: pc}
			prog.Blocks = append(prog.Blocks, cur)
		}
		cur.Nodes = append(cur.Nodes, n)
		s.terminate(cur, n)
	}
	if cur != nil && cur.End == EndFallthrough {
		if _, ok := s.nodes[cur.Last()+4]; !ok {
			cur.End = EndTerminated
		}
	}
	return prog
}

// terminate sets the block end once its control transfer and delay slot
// are in place.
func (s *scan) terminate(b *Block, n *Node) {
	inst := n.Inst
	switch {
	case inst.Op == insts.OpHALT || inst.Op == insts.OpBREAK:
		b.End = EndTerminated
		return
	case !n.DelaySlot:
		return
	}

	prev, ok := s.nodes[n.PC-4]
	if !ok || !prev.Inst.Has(insts.FlagDelaySlot) {
		return
	}
	ctl := prev.Inst
	switch {
	case ctl.Has(insts.FlagLink):
		b.End = EndCall
		if !ctl.Has(insts.FlagJumpReg) {
			b.Targets = []uint32{staticTarget(ctl, prev.PC)}
		}
	case ctl.Has(insts.FlagBranch):
		b.End = EndConditional
		b.Targets = []uint32{ctl.BranchTarget(prev.PC)}
	case ctl.Has(insts.FlagJump):
		b.End = EndDirect
		b.Targets = []uint32{ctl.JumpTarget(prev.PC)}
	case ctl.Has(insts.FlagJumpReg):
		b.End = EndIndirect
	}
}

func staticTarget(inst *insts.Instruction, pc uint32) uint32 {
	if inst.Has(insts.FlagJump) {
		return inst.JumpTarget(pc)
	}
	return inst.BranchTarget(pc)
}
