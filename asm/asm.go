// Package asm provides a two-pass assembler for Allegrex machine code.
//
// Instruction operands follow the templates of the instruction table in
// package insts, so any line produced by Instruction.Disassemble assembles
// back to the same word. Labels are resolved after the whole source has
// been read and the output is only written to memory once every reference
// resolves.
//
// Usage:
//
//	prog, err := asm.New().AssembleTo(memory, `
//		.code 0x08000000
//		li    a0, 0x12345
//	loop:
//		addiu a0, a0, -1
//		bne   a0, r0, loop
//		nop
//	`)
package asm
