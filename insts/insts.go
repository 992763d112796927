// Package insts provides MIPS Allegrex instruction definitions and decoding.
//
// This package implements decoding of Allegrex machine code (the MIPS32
// derivative with FPU and VFPU coprocessors) into structured instruction
// representations. It covers:
//   - Integer ALU, shifts, multiply/divide and the Allegrex bit manipulation
//     extensions (ext, ins, seb, seh, wsbh, bitrev, min, max)
//   - Branches and jumps with delay slots, including the likely forms
//   - Loads and stores, including the unaligned lwl/lwr/swl/swr family
//   - FPU single precision arithmetic, conversions and compares
//   - A VFPU subset with vector sizes and operand prefixes
//
// Usage:
//
//	decoder := insts.NewDecoder()
//	inst := decoder.Decode(0x20220005) // addi r2, r1, 5
//	fmt.Printf("Op: %v, Rt: %d, Rs: %d, Imm: %d\n", inst.Op, inst.Rt, inst.Rs, inst.Imm)
//
// The instruction table is built once at package initialisation and never
// mutated afterwards.
package insts
