package runner

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sarchlab/pspsim/emu"
)

// MemoryDumpFile is the name of the snapshot written by Fatal.
const MemoryDumpFile = "error_memorydump.bin"

const stackDumpWords = 16

// Fatal aborts t after an unrecoverable error. It writes the register
// state, the last syscalls and the top of the stack to the dump output,
// saves a snapshot of main memory to DumpDir and returns the snapshot
// path. The process keeps running.
func (c *CPU) Fatal(t *emu.ThreadState, cause error) string {
	t.Abort()

	fmt.Fprintf(c.dumpOut, "thread %d terminated: %v\n", t.ID, cause)
	c.DumpState(c.dumpOut, t)

	path := filepath.Join(c.Config.DumpDir, MemoryDumpFile)
	if err := c.writeSnapshot(path); err != nil {
		c.log.Error(err, "cannot write memory snapshot", "path", path)
		path = ""
	}
	c.log.Error(cause, "guest thread terminated",
		"thread", t.ID, "pc", fmt.Sprintf("0x%08x", t.PC), "dump", path)
	return path
}

// DumpState writes the registers, recent syscalls and stack words of t.
func (c *CPU) DumpState(w io.Writer, t *emu.ThreadState) {
	t.Dump(w)

	fmt.Fprintln(w, "last syscalls:")
	for _, r := range c.Syscalls.Recent() {
		fmt.Fprintf(w, "  0x%04x at 0x%08x (ra=0x%08x)\n", r.Code, r.PC, r.RA)
	}

	sp := t.ReadReg(emu.RegSP)
	fmt.Fprintf(w, "stack at 0x%08x:\n", sp)
	for i := uint32(0); i < stackDumpWords; i++ {
		addr := sp + 4*i
		if !c.Memory.IsRangeValid(addr, 4) {
			break
		}
		v, err := c.Memory.Read32(addr)
		if err != nil {
			break
		}
		fmt.Fprintf(w, "  0x%08x: 0x%08x\n", addr, v)
	}
}

func (c *CPU) writeSnapshot(path string) error {
	for _, seg := range c.Memory.Segments() {
		if seg.Base == emu.MainBase {
			return os.WriteFile(path, seg.Data, 0644)
		}
	}
	return fmt.Errorf("no main memory segment")
}
