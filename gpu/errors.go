package gpu

import (
	"errors"
	"fmt"
)

// UnknownCommandError reports an opcode without a handler. It is only
// returned when unknown commands are configured to be fatal.
type UnknownCommandError struct {
	ListID  int
	Address uint32
	Command Command
	Params  uint32
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("display list %d: unknown command 0x%02x (params 0x%06x) at 0x%08x",
		e.ListID, uint8(e.Command), e.Params, e.Address)
}

// Errors returned by the display list processor.
var (
	ErrNoFreeList        = errors.New("gpu: no free display list")
	ErrInvalidList       = errors.New("gpu: invalid display list id")
	ErrCallStackOverflow = errors.New("gpu: display list call stack overflow")
)
