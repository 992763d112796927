package runner

import (
	"fmt"

	"github.com/sarchlab/pspsim/asm"
	"github.com/sarchlab/pspsim/emu"
)

// DefaultTrampolineBase is where New installs the trampoline stubs: the
// top of the scratchpad.
const DefaultTrampolineBase = emu.ScratchpadBase + emu.ScratchpadSize - 0x10

// Trampolines holds the addresses of the host-return stubs.
type Trampolines struct {
	// ThreadExit ends the thread with v0 as exit code. Threads return
	// into it from their entry function.
	ThreadExit uint32

	// FinalizeCallback ends a host-initiated callback.
	FinalizeCallback uint32
}

const trampolineSource = `
.code 0x%08x
thread_exit:
	syscall 0x%x
finalize_callback:
	syscall 0x%x
`

// InstallTrampolines assembles the stubs at base.
func InstallTrampolines(mem asm.Writer, base uint32) (Trampolines, error) {
	src := fmt.Sprintf(trampolineSource, base, emu.ThreadExitCode, emu.FinalizeCallbackCode)
	prog, err := asm.New().AssembleTo(mem, src)
	if err != nil {
		return Trampolines{}, fmt.Errorf("installing trampolines: %w", err)
	}
	return Trampolines{
		ThreadExit:       prog.Labels["thread_exit"],
		FinalizeCallback: prog.Labels["finalize_callback"],
	}, nil
}
