// Package insts provides MIPS Allegrex instruction definitions and decoding.
package insts

// Op represents an Allegrex opcode.
type Op uint16

// Allegrex opcodes.
const (
	OpUnknown Op = iota

	// Integer ALU
	OpADD
	OpADDU
	OpADDI
	OpADDIU
	OpSUB
	OpSUBU
	OpAND
	OpANDI
	OpOR
	OpORI
	OpXOR
	OpXORI
	OpNOR
	OpLUI
	OpSLT
	OpSLTU
	OpSLTI
	OpSLTIU
	OpSLL
	OpSRL
	OpSRA
	OpROTR
	OpSLLV
	OpSRLV
	OpSRAV
	OpROTRV
	OpMOVZ
	OpMOVN
	OpMULT
	OpMULTU
	OpDIV
	OpDIVU
	OpMADD
	OpMADDU
	OpMSUB
	OpMSUBU
	OpMFHI
	OpMFLO
	OpMTHI
	OpMTLO
	OpCLZ
	OpCLO
	OpSEB
	OpSEH
	OpWSBH
	OpWSBW
	OpBITREV
	OpEXT
	OpINS
	OpMAX
	OpMIN

	// Branches and jumps
	OpBEQ
	OpBNE
	OpBLEZ
	OpBGTZ
	OpBEQL
	OpBNEL
	OpBLEZL
	OpBGTZL
	OpBLTZ
	OpBGEZ
	OpBLTZL
	OpBGEZL
	OpBLTZAL
	OpBGEZAL
	OpBLTZALL
	OpBGEZALL
	OpJ
	OpJAL
	OpJR
	OpJALR

	// Special
	OpSYSCALL
	OpBREAK
	OpSYNC
	OpCACHE
	OpHALT

	// Loads and stores
	OpLB
	OpLBU
	OpLH
	OpLHU
	OpLW
	OpLWL
	OpLWR
	OpSB
	OpSH
	OpSW
	OpSWL
	OpSWR
	OpLL
	OpSC

	// FPU
	OpLWC1
	OpSWC1
	OpMFC1
	OpMTC1
	OpCFC1
	OpCTC1
	OpBC1F
	OpBC1T
	OpBC1FL
	OpBC1TL
	OpADDS
	OpSUBS
	OpMULS
	OpDIVS
	OpSQRTS
	OpABSS
	OpMOVS
	OpNEGS
	OpROUNDWS
	OpTRUNCWS
	OpCEILWS
	OpFLOORWS
	OpCVTSW
	OpCVTWS
	OpCCONDS

	// VFPU
	OpLVS
	OpSVS
	OpLVQ
	OpSVQ
	OpVADD
	OpVSUB
	OpVDIV
	OpVMUL
	OpVDOT
	OpVSCL
	OpVMIN
	OpVMAX
	OpVMOV
	OpVABS
	OpVNEG
	OpVZERO
	OpVONE
	OpMFV
	OpMTV
	OpVIIM
	OpVPFXS
	OpVPFXT
	OpVPFXD

	numOps
)

// Flag is a declared property of an instruction.
type Flag uint32

// Instruction flags.
const (
	// FlagBranch marks PC-relative conditional branches.
	FlagBranch Flag = 1 << iota
	// FlagJump marks absolute jumps (j, jal).
	FlagJump
	// FlagJumpReg marks register jumps (jr, jalr).
	FlagJumpReg
	// FlagLikely marks branches that skip their delay slot when not taken.
	FlagLikely
	// FlagLink marks instructions that write a return address.
	FlagLink
	// FlagDelaySlot marks instructions followed by a delay slot.
	FlagDelaySlot
	FlagLoad
	FlagStore
	FlagSyscall
	// FlagTrap marks instructions that raise a trap on purpose.
	FlagTrap
	// FlagNeedsPC marks instructions whose execution can observe or report
	// the current PC (faults, traps, syscalls). Compiled code flushes the
	// PC before them.
	FlagNeedsPC
	FlagFPU
	FlagVFPU
	// FlagVPrefix marks VFPU instructions that consume pending prefixes.
	FlagVPrefix
)

// Field is a set of bit fields an instruction encodes.
type Field uint32

// Encoded fields.
const (
	FieldRS Field = 1 << iota
	FieldRT
	FieldRD
	FieldSA
	FieldImm
	FieldTarget
	FieldCode
	FieldVD
	FieldVS
	FieldVT
	FieldVTS
	FieldVTQ
	FieldImm14
	FieldImm24
	FieldVSize
	FieldCond
)

// bits returns the word bits covered by the fields.
func (f Field) bits() uint32 {
	var b uint32
	add := func(flag Field, m uint32) {
		if f&flag != 0 {
			b |= m
		}
	}
	add(FieldRS, 0x03E00000)
	add(FieldRT, 0x001F0000)
	add(FieldRD, 0x0000F800)
	add(FieldSA, 0x000007C0)
	add(FieldImm, 0x0000FFFF)
	add(FieldTarget, 0x03FFFFFF)
	add(FieldCode, 0x03FFFFC0)
	add(FieldVD, 0x0000007F)
	add(FieldVS, 0x00007F00)
	add(FieldVT, 0x007F0000)
	add(FieldVTS, 0x001F0003)
	add(FieldVTQ, 0x001F0001)
	add(FieldImm14, 0x0000FFFC)
	add(FieldImm24, 0x00FFFFFF)
	add(FieldVSize, 0x00008080)
	add(FieldCond, 0x0000000F)
	return b
}

// Info describes one instruction of the table.
type Info struct {
	Op    Op
	Name  string
	Value uint32
	Mask  uint32
	// Asm is the operand template used by the assembler and disassembler.
	Asm    string
	Fields Field
	Flags  Flag
}

// Has reports whether the instruction declares all of the given flags.
func (i *Info) Has(f Flag) bool { return i.Flags&f == f }

const (
	rType    = FieldRS | FieldRT | FieldRD
	iType    = FieldRS | FieldRT | FieldImm
	shType   = FieldRT | FieldRD | FieldSA
	vType3   = FieldVD | FieldVS | FieldVT | FieldVSize
	vType2   = FieldVD | FieldVS | FieldVSize
	mem      = FlagNeedsPC
	branch   = FlagBranch | FlagDelaySlot
	likely   = FlagBranch | FlagDelaySlot | FlagLikely
	fpuR     = FieldRT | FieldRD | FieldSA
	fpuUnary = FieldRD | FieldSA
)

var table = []Info{
	{OpADD, "add", 0x00000020, 0xFC0007FF, "%d, %s, %t", rType, 0},
	{OpADDU, "addu", 0x00000021, 0xFC0007FF, "%d, %s, %t", rType, 0},
	{OpADDI, "addi", 0x20000000, 0xFC000000, "%t, %s, %i", iType, 0},
	{OpADDIU, "addiu", 0x24000000, 0xFC000000, "%t, %s, %i", iType, 0},
	{OpSUB, "sub", 0x00000022, 0xFC0007FF, "%d, %s, %t", rType, 0},
	{OpSUBU, "subu", 0x00000023, 0xFC0007FF, "%d, %s, %t", rType, 0},
	{OpAND, "and", 0x00000024, 0xFC0007FF, "%d, %s, %t", rType, 0},
	{OpANDI, "andi", 0x30000000, 0xFC000000, "%t, %s, %I", iType, 0},
	{OpOR, "or", 0x00000025, 0xFC0007FF, "%d, %s, %t", rType, 0},
	{OpORI, "ori", 0x34000000, 0xFC000000, "%t, %s, %I", iType, 0},
	{OpXOR, "xor", 0x00000026, 0xFC0007FF, "%d, %s, %t", rType, 0},
	{OpXORI, "xori", 0x38000000, 0xFC000000, "%t, %s, %I", iType, 0},
	{OpNOR, "nor", 0x00000027, 0xFC0007FF, "%d, %s, %t", rType, 0},
	{OpLUI, "lui", 0x3C000000, 0xFFE00000, "%t, %I", FieldRT | FieldImm, 0},
	{OpSLT, "slt", 0x0000002A, 0xFC0007FF, "%d, %s, %t", rType, 0},
	{OpSLTU, "sltu", 0x0000002B, 0xFC0007FF, "%d, %s, %t", rType, 0},
	{OpSLTI, "slti", 0x28000000, 0xFC000000, "%t, %s, %i", iType, 0},
	{OpSLTIU, "sltiu", 0x2C000000, 0xFC000000, "%t, %s, %i", iType, 0},
	{OpSLL, "sll", 0x00000000, 0xFFE0003F, "%d, %t, %a", shType, 0},
	{OpSRL, "srl", 0x00000002, 0xFFE0003F, "%d, %t, %a", shType, 0},
	{OpSRA, "sra", 0x00000003, 0xFFE0003F, "%d, %t, %a", shType, 0},
	{OpROTR, "rotr", 0x00200002, 0xFFE0003F, "%d, %t, %a", shType, 0},
	{OpSLLV, "sllv", 0x00000004, 0xFC0007FF, "%d, %t, %s", rType, 0},
	{OpSRLV, "srlv", 0x00000006, 0xFC0007FF, "%d, %t, %s", rType, 0},
	{OpSRAV, "srav", 0x00000007, 0xFC0007FF, "%d, %t, %s", rType, 0},
	{OpROTRV, "rotrv", 0x00000046, 0xFC0007FF, "%d, %t, %s", rType, 0},
	{OpMOVZ, "movz", 0x0000000A, 0xFC0007FF, "%d, %s, %t", rType, 0},
	{OpMOVN, "movn", 0x0000000B, 0xFC0007FF, "%d, %s, %t", rType, 0},
	{OpMULT, "mult", 0x00000018, 0xFC00FFFF, "%s, %t", FieldRS | FieldRT, 0},
	{OpMULTU, "multu", 0x00000019, 0xFC00FFFF, "%s, %t", FieldRS | FieldRT, 0},
	{OpDIV, "div", 0x0000001A, 0xFC00FFFF, "%s, %t", FieldRS | FieldRT, 0},
	{OpDIVU, "divu", 0x0000001B, 0xFC00FFFF, "%s, %t", FieldRS | FieldRT, 0},
	{OpMADD, "madd", 0x0000001C, 0xFC00FFFF, "%s, %t", FieldRS | FieldRT, 0},
	{OpMADDU, "maddu", 0x0000001D, 0xFC00FFFF, "%s, %t", FieldRS | FieldRT, 0},
	{OpMSUB, "msub", 0x0000002E, 0xFC00FFFF, "%s, %t", FieldRS | FieldRT, 0},
	{OpMSUBU, "msubu", 0x0000002F, 0xFC00FFFF, "%s, %t", FieldRS | FieldRT, 0},
	{OpMFHI, "mfhi", 0x00000010, 0xFFFF07FF, "%d", FieldRD, 0},
	{OpMFLO, "mflo", 0x00000012, 0xFFFF07FF, "%d", FieldRD, 0},
	{OpMTHI, "mthi", 0x00000011, 0xFC1FFFFF, "%s", FieldRS, 0},
	{OpMTLO, "mtlo", 0x00000013, 0xFC1FFFFF, "%s", FieldRS, 0},
	{OpCLZ, "clz", 0x00000016, 0xFC1F07FF, "%d, %s", FieldRS | FieldRD, 0},
	{OpCLO, "clo", 0x00000017, 0xFC1F07FF, "%d, %s", FieldRS | FieldRD, 0},
	{OpSEB, "seb", 0x7C000420, 0xFFE007FF, "%d, %t", FieldRT | FieldRD, 0},
	{OpSEH, "seh", 0x7C000620, 0xFFE007FF, "%d, %t", FieldRT | FieldRD, 0},
	{OpWSBH, "wsbh", 0x7C0000A0, 0xFFE007FF, "%d, %t", FieldRT | FieldRD, 0},
	{OpWSBW, "wsbw", 0x7C0000E0, 0xFFE007FF, "%d, %t", FieldRT | FieldRD, 0},
	{OpBITREV, "bitrev", 0x7C000520, 0xFFE007FF, "%d, %t", FieldRT | FieldRD, 0},
	{OpEXT, "ext", 0x7C000000, 0xFC00003F, "%t, %s, %a, %ne", rType | FieldSA, 0},
	{OpINS, "ins", 0x7C000004, 0xFC00003F, "%t, %s, %a, %ni", rType | FieldSA, 0},
	{OpMAX, "max", 0x0000002C, 0xFC0007FF, "%d, %s, %t", rType, 0},
	{OpMIN, "min", 0x0000002D, 0xFC0007FF, "%d, %s, %t", rType, 0},

	{OpBEQ, "beq", 0x10000000, 0xFC000000, "%s, %t, %O", iType, branch},
	{OpBNE, "bne", 0x14000000, 0xFC000000, "%s, %t, %O", iType, branch},
	{OpBLEZ, "blez", 0x18000000, 0xFC1F0000, "%s, %O", FieldRS | FieldImm, branch},
	{OpBGTZ, "bgtz", 0x1C000000, 0xFC1F0000, "%s, %O", FieldRS | FieldImm, branch},
	{OpBEQL, "beql", 0x50000000, 0xFC000000, "%s, %t, %O", iType, likely},
	{OpBNEL, "bnel", 0x54000000, 0xFC000000, "%s, %t, %O", iType, likely},
	{OpBLEZL, "blezl", 0x58000000, 0xFC1F0000, "%s, %O", FieldRS | FieldImm, likely},
	{OpBGTZL, "bgtzl", 0x5C000000, 0xFC1F0000, "%s, %O", FieldRS | FieldImm, likely},
	{OpBLTZ, "bltz", 0x04000000, 0xFC1F0000, "%s, %O", FieldRS | FieldImm, branch},
	{OpBGEZ, "bgez", 0x04010000, 0xFC1F0000, "%s, %O", FieldRS | FieldImm, branch},
	{OpBLTZL, "bltzl", 0x04020000, 0xFC1F0000, "%s, %O", FieldRS | FieldImm, likely},
	{OpBGEZL, "bgezl", 0x04030000, 0xFC1F0000, "%s, %O", FieldRS | FieldImm, likely},
	{OpBLTZAL, "bltzal", 0x04100000, 0xFC1F0000, "%s, %O", FieldRS | FieldImm, branch | FlagLink},
	{OpBGEZAL, "bgezal", 0x04110000, 0xFC1F0000, "%s, %O", FieldRS | FieldImm, branch | FlagLink},
	{OpBLTZALL, "bltzall", 0x04120000, 0xFC1F0000, "%s, %O", FieldRS | FieldImm, likely | FlagLink},
	{OpBGEZALL, "bgezall", 0x04130000, 0xFC1F0000, "%s, %O", FieldRS | FieldImm, likely | FlagLink},
	{OpJ, "j", 0x08000000, 0xFC000000, "%j", FieldTarget, FlagJump | FlagDelaySlot},
	{OpJAL, "jal", 0x0C000000, 0xFC000000, "%j", FieldTarget, FlagJump | FlagDelaySlot | FlagLink},
	{OpJR, "jr", 0x00000008, 0xFC1FFFFF, "%J", FieldRS, FlagJumpReg | FlagDelaySlot},
	{OpJALR, "jalr", 0x00000009, 0xFC1F07FF, "%d, %J", FieldRS | FieldRD, FlagJumpReg | FlagDelaySlot | FlagLink},

	{OpSYSCALL, "syscall", 0x0000000C, 0xFC00003F, "%C", FieldCode, FlagSyscall | FlagNeedsPC},
	{OpBREAK, "break", 0x0000000D, 0xFC00003F, "%C", FieldCode, FlagTrap | FlagNeedsPC},
	{OpSYNC, "sync", 0x0000000F, 0xFFFFFFFF, "", 0, 0},
	{OpCACHE, "cache", 0xBC000000, 0xFC000000, "%t, %i(%s)", iType, 0},
	{OpHALT, "halt", 0x70000000, 0xFFFFFFFF, "", 0, FlagTrap | FlagNeedsPC},

	{OpLB, "lb", 0x80000000, 0xFC000000, "%t, %i(%s)", iType, FlagLoad | mem},
	{OpLBU, "lbu", 0x90000000, 0xFC000000, "%t, %i(%s)", iType, FlagLoad | mem},
	{OpLH, "lh", 0x84000000, 0xFC000000, "%t, %i(%s)", iType, FlagLoad | mem},
	{OpLHU, "lhu", 0x94000000, 0xFC000000, "%t, %i(%s)", iType, FlagLoad | mem},
	{OpLW, "lw", 0x8C000000, 0xFC000000, "%t, %i(%s)", iType, FlagLoad | mem},
	{OpLWL, "lwl", 0x88000000, 0xFC000000, "%t, %i(%s)", iType, FlagLoad | mem},
	{OpLWR, "lwr", 0x98000000, 0xFC000000, "%t, %i(%s)", iType, FlagLoad | mem},
	{OpSB, "sb", 0xA0000000, 0xFC000000, "%t, %i(%s)", iType, FlagStore | mem},
	{OpSH, "sh", 0xA4000000, 0xFC000000, "%t, %i(%s)", iType, FlagStore | mem},
	{OpSW, "sw", 0xAC000000, 0xFC000000, "%t, %i(%s)", iType, FlagStore | mem},
	{OpSWL, "swl", 0xA8000000, 0xFC000000, "%t, %i(%s)", iType, FlagStore | mem},
	{OpSWR, "swr", 0xB8000000, 0xFC000000, "%t, %i(%s)", iType, FlagStore | mem},
	{OpLL, "ll", 0xC0000000, 0xFC000000, "%t, %i(%s)", iType, FlagLoad | mem},
	{OpSC, "sc", 0xE0000000, 0xFC000000, "%t, %i(%s)", iType, FlagStore | mem},

	{OpLWC1, "lwc1", 0xC4000000, 0xFC000000, "%T, %i(%s)", iType, FlagLoad | FlagFPU | mem},
	{OpSWC1, "swc1", 0xE4000000, 0xFC000000, "%T, %i(%s)", iType, FlagStore | FlagFPU | mem},
	{OpMFC1, "mfc1", 0x44000000, 0xFFE007FF, "%t, %S", FieldRT | FieldRD, FlagFPU},
	{OpMTC1, "mtc1", 0x44800000, 0xFFE007FF, "%t, %S", FieldRT | FieldRD, FlagFPU},
	{OpCFC1, "cfc1", 0x44400000, 0xFFE007FF, "%t, %p", FieldRT | FieldRD, FlagFPU},
	{OpCTC1, "ctc1", 0x44C00000, 0xFFE007FF, "%t, %p", FieldRT | FieldRD, FlagFPU},
	{OpBC1F, "bc1f", 0x45000000, 0xFFFF0000, "%O", FieldImm, FlagFPU | branch},
	{OpBC1T, "bc1t", 0x45010000, 0xFFFF0000, "%O", FieldImm, FlagFPU | branch},
	{OpBC1FL, "bc1fl", 0x45020000, 0xFFFF0000, "%O", FieldImm, FlagFPU | likely},
	{OpBC1TL, "bc1tl", 0x45030000, 0xFFFF0000, "%O", FieldImm, FlagFPU | likely},
	{OpADDS, "add.s", 0x46000000, 0xFFE0003F, "%D, %S, %T", fpuR, FlagFPU},
	{OpSUBS, "sub.s", 0x46000001, 0xFFE0003F, "%D, %S, %T", fpuR, FlagFPU},
	{OpMULS, "mul.s", 0x46000002, 0xFFE0003F, "%D, %S, %T", fpuR, FlagFPU},
	{OpDIVS, "div.s", 0x46000003, 0xFFE0003F, "%D, %S, %T", fpuR, FlagFPU},
	{OpSQRTS, "sqrt.s", 0x46000004, 0xFFFF003F, "%D, %S", fpuUnary, FlagFPU},
	{OpABSS, "abs.s", 0x46000005, 0xFFFF003F, "%D, %S", fpuUnary, FlagFPU},
	{OpMOVS, "mov.s", 0x46000006, 0xFFFF003F, "%D, %S", fpuUnary, FlagFPU},
	{OpNEGS, "neg.s", 0x46000007, 0xFFFF003F, "%D, %S", fpuUnary, FlagFPU},
	{OpROUNDWS, "round.w.s", 0x4600000C, 0xFFFF003F, "%D, %S", fpuUnary, FlagFPU},
	{OpTRUNCWS, "trunc.w.s", 0x4600000D, 0xFFFF003F, "%D, %S", fpuUnary, FlagFPU},
	{OpCEILWS, "ceil.w.s", 0x4600000E, 0xFFFF003F, "%D, %S", fpuUnary, FlagFPU},
	{OpFLOORWS, "floor.w.s", 0x4600000F, 0xFFFF003F, "%D, %S", fpuUnary, FlagFPU},
	{OpCVTWS, "cvt.w.s", 0x46000024, 0xFFFF003F, "%D, %S", fpuUnary, FlagFPU},
	{OpCVTSW, "cvt.s.w", 0x46800020, 0xFFFF003F, "%D, %S", fpuUnary, FlagFPU},
	{OpCCONDS, "c.cond.s", 0x46000030, 0xFFE007F0, "%S, %T", FieldRT | FieldRD | FieldCond, FlagFPU},

	{OpLVS, "lv.s", 0xC8000000, 0xFC000000, "%vt, %i(%s)", FieldRS | FieldVTS | FieldImm14, FlagLoad | FlagVFPU | mem},
	{OpSVS, "sv.s", 0xE8000000, 0xFC000000, "%vt, %i(%s)", FieldRS | FieldVTS | FieldImm14, FlagStore | FlagVFPU | mem},
	{OpLVQ, "lv.q", 0xD8000000, 0xFC000002, "%vt, %i(%s)", FieldRS | FieldVTQ | FieldImm14, FlagLoad | FlagVFPU | mem},
	{OpSVQ, "sv.q", 0xF8000000, 0xFC000002, "%vt, %i(%s)", FieldRS | FieldVTQ | FieldImm14, FlagStore | FlagVFPU | mem},
	{OpVADD, "vadd", 0x60000000, 0xFF800000, "%vd, %vs, %vt", vType3, FlagVFPU | FlagVPrefix},
	{OpVSUB, "vsub", 0x60800000, 0xFF800000, "%vd, %vs, %vt", vType3, FlagVFPU | FlagVPrefix},
	{OpVDIV, "vdiv", 0x63800000, 0xFF800000, "%vd, %vs, %vt", vType3, FlagVFPU | FlagVPrefix},
	{OpVMUL, "vmul", 0x64000000, 0xFF800000, "%vd, %vs, %vt", vType3, FlagVFPU | FlagVPrefix},
	{OpVDOT, "vdot", 0x64800000, 0xFF800000, "%vd, %vs, %vt", vType3, FlagVFPU | FlagVPrefix},
	{OpVSCL, "vscl", 0x65000000, 0xFF800000, "%vd, %vs, %vt", vType3, FlagVFPU | FlagVPrefix},
	{OpVMIN, "vmin", 0x6D000000, 0xFF800000, "%vd, %vs, %vt", vType3, FlagVFPU | FlagVPrefix},
	{OpVMAX, "vmax", 0x6D800000, 0xFF800000, "%vd, %vs, %vt", vType3, FlagVFPU | FlagVPrefix},
	{OpVMOV, "vmov", 0xD0000000, 0xFFFF0000, "%vd, %vs", vType2, FlagVFPU | FlagVPrefix},
	{OpVABS, "vabs", 0xD0010000, 0xFFFF0000, "%vd, %vs", vType2, FlagVFPU | FlagVPrefix},
	{OpVNEG, "vneg", 0xD0020000, 0xFFFF0000, "%vd, %vs", vType2, FlagVFPU | FlagVPrefix},
	{OpVZERO, "vzero", 0xD0060000, 0xFFFF0000, "%vd", vType2, FlagVFPU | FlagVPrefix},
	{OpVONE, "vone", 0xD0070000, 0xFFFF0000, "%vd", vType2, FlagVFPU | FlagVPrefix},
	{OpMFV, "mfv", 0x48600000, 0xFFE0FF80, "%t, %vd", FieldRT | FieldVD, FlagVFPU},
	{OpMTV, "mtv", 0x48E00000, 0xFFE0FF80, "%t, %vd", FieldRT | FieldVD, FlagVFPU},
	{OpVIIM, "viim", 0xDF000000, 0xFF800000, "%vt, %i", FieldVT | FieldImm, FlagVFPU},
	{OpVPFXS, "vpfxs", 0xDC000000, 0xFF000000, "%P", FieldImm24, FlagVFPU},
	{OpVPFXT, "vpfxt", 0xDD000000, 0xFF000000, "%P", FieldImm24, FlagVFPU},
	{OpVPFXD, "vpfxd", 0xDE000000, 0xFF000000, "%P", FieldImm24, FlagVFPU},
}

var (
	byOp     [numOps]*Info
	byName   = map[string]*Info{}
	byOpcode [64][]*Info
)

func init() {
	for i := range table {
		info := &table[i]
		byOp[info.Op] = info
		byName[info.Name] = info
		opcode := info.Value >> 26
		byOpcode[opcode] = append(byOpcode[opcode], info)
	}
}

// Lookup returns the table entry for an opcode, or nil for OpUnknown.
func Lookup(op Op) *Info {
	if op >= numOps {
		return nil
	}
	return byOp[op]
}

// LookupName returns the table entry for a mnemonic.
func LookupName(name string) (*Info, bool) {
	info, ok := byName[name]
	return info, ok
}

// All returns every table entry. The returned slice must not be modified.
func All() []Info {
	return table
}

// String returns the mnemonic of the opcode.
func (op Op) String() string {
	if info := Lookup(op); info != nil {
		return info.Name
	}
	return "unknown"
}
