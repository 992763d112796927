// Package benchmarks runs guest micro kernels through the interpreter and
// the dynarec and reports their throughput.
package benchmarks

import "github.com/sarchlab/pspsim/emu"

// GetMicrobenchmarks returns the standard set of micro kernels. Each
// kernel targets one execution path of the CPU core.
func GetMicrobenchmarks() []Benchmark {
	return []Benchmark{
		arithmeticSequential(),
		dependencyChain(),
		memorySequential(),
		functionCalls(),
		branchTaken(),
		multiplyChain(),
		unalignedAccess(),
	}
}

// GetCoreBenchmarks returns a minimal set for quick validation.
func GetCoreBenchmarks() []Benchmark {
	return []Benchmark{
		dependencyChain(),
		functionCalls(),
		branchTaken(),
	}
}

// 1. Arithmetic Sequential - independent ALU operations in a loop
func arithmeticSequential() Benchmark {
	return Benchmark{
		Name:        "arithmetic_sequential",
		Description: "4 independent ADDIUs per iteration, 100 iterations",
		Source: `
.code 0x08000000
	li r12, 100
	li r8, 0
	li r9, 0
	li r10, 0
	li r11, 0
loop:
	addiu r8, r8, 1
	addiu r9, r9, 2
	addiu r10, r10, 3
	addiu r11, r11, 4
	addiu r12, r12, -1
	bne r12, r0, loop
	nop
	addu r2, r8, r9
	addu r2, r2, r10
	addu r2, r2, r11
	jr r31
	nop
`,
		ExpectedExit: 1000,
	}
}

// 2. Dependency Chain - every add reads the previous result
func dependencyChain() Benchmark {
	return Benchmark{
		Name:        "dependency_chain",
		Description: "sum of 1..200 through one accumulator",
		Source: `
.code 0x08000000
	li r12, 200
	li r2, 0
loop:
	addu r2, r2, r12
	addiu r12, r12, -1
	bne r12, r0, loop
	nop
	jr r31
	nop
`,
		ExpectedExit: 20100,
	}
}

// 3. Memory Sequential - stores then loads a 64-word array
func memorySequential() Benchmark {
	return Benchmark{
		Name:        "memory_sequential",
		Description: "fill 64 words, then sum them with the add in the delay slot",
		Source: `
.code 0x08000000
	lui r8, 0x0810
	li r9, 0
store:
	sw r9, 0(r8)
	addiu r8, r8, 4
	addiu r9, r9, 1
	slti r10, r9, 64
	bne r10, r0, store
	nop
	lui r8, 0x0810
	li r9, 64
	li r2, 0
load:
	lw r10, 0(r8)
	addiu r8, r8, 4
	addiu r9, r9, -1
	bne r9, r0, load
	addu r2, r2, r10
	jr r31
	nop
`,
		ExpectedExit: 2016,
	}
}

// 4. Function Calls - JAL/JR pairs crossing function boundaries
func functionCalls() Benchmark {
	return Benchmark{
		Name:        "function_calls",
		Description: "50 calls to a leaf that adds in its return delay slot",
		Source: `
.code 0x08000000
	addu r16, r31, r0
	li r17, 50
	li r2, 0
loop:
	jal inc
	nop
	addiu r17, r17, -1
	bne r17, r0, loop
	nop
	addu r31, r16, r0
	jr r31
	nop
inc:
	jr r31
	addiu r2, r2, 3
`,
		ExpectedExit: 150,
	}
}

// 5. Branch Taken - data-dependent forward branch every iteration
func branchTaken() Benchmark {
	return Benchmark{
		Name:        "branch_taken",
		Description: "count odd numbers in 1..100, branching over the increment",
		Source: `
.code 0x08000000
	li r8, 100
	li r2, 0
loop:
	andi r9, r8, 1
	beq r9, r0, even
	nop
	addiu r2, r2, 1
even:
	addiu r8, r8, -1
	bne r8, r0, loop
	nop
	jr r31
	nop
`,
		ExpectedExit: 50,
	}
}

// 6. Multiply Chain - HI/LO round trips
func multiplyChain() Benchmark {
	return Benchmark{
		Name:        "multiply_chain",
		Description: "10! through MULT and MFLO",
		Source: `
.code 0x08000000
	li r8, 10
	li r2, 1
loop:
	mult r2, r8
	mflo r2
	addiu r8, r8, -1
	bne r8, r0, loop
	nop
	jr r31
	nop
`,
		ExpectedExit: 3628800,
	}
}

// 7. Unaligned Access - LWL/LWR and SWL/SWR pairs
func unalignedAccess() Benchmark {
	return Benchmark{
		Name:        "unaligned_access",
		Description: "sum 4 words at odd addresses, store the sum unaligned and reload it",
		Setup: func(memory *emu.Memory) error {
			for i := uint32(0); i < 32; i++ {
				if err := memory.Write8(emu.MainBase+0x100000+i, uint8(i)); err != nil {
					return err
				}
			}
			return nil
		},
		Source: `
.code 0x08000000
	lui r8, 0x0810
	addiu r8, r8, 1
	li r9, 4
	li r2, 0
loop:
	lwl r10, 3(r8)
	lwr r10, 0(r8)
	addu r2, r2, r10
	addiu r9, r9, -1
	bne r9, r0, loop
	addiu r8, r8, 4
	lui r8, 0x0810
	addiu r8, r8, 0x41
	swl r2, 3(r8)
	swr r2, 0(r8)
	li r2, 0
	lwl r2, 3(r8)
	lwr r2, 0(r8)
	jr r31
	nop
`,
		ExpectedExit: 0x2824201C,
	}
}
