package gpu

import "fmt"

// Status is the lifecycle state of a display list.
type Status int

// List statuses.
const (
	StatusIdle Status = iota
	StatusQueued
	StatusRunning
	StatusStalled
	StatusCompleted
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusQueued:
		return "queued"
	case StatusRunning:
		return "running"
	case StatusStalled:
		return "stalled"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Terminal reports whether the list will not run again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

const maxCallDepth = 32

type frame struct {
	ret    uint32
	offset uint32
}

// List is a display list: a command stream with a cursor and an optional
// stall address the cursor may not pass.
type List struct {
	ID      int
	Start   uint32
	Current uint32
	Stall   uint32
	Status  Status
	State   *State

	// Signal and Finish hold the payload of the last SIGNAL and FINISH.
	Signal uint32
	Finish uint32

	base   uint32
	offset uint32
	calls  []frame
	done   chan struct{}
}

func (l *List) reset(start, stall uint32, state *State) {
	l.Start = start
	l.Current = start
	l.Stall = stall
	l.State = state
	l.Status = StatusQueued
	l.Signal, l.Finish = 0, 0
	l.base, l.offset = 0, 0
	l.calls = l.calls[:0]
	l.done = make(chan struct{})
}

// address resolves a 24-bit command payload against BASE and OFFSET.
func (l *List) address(params uint32) uint32 {
	return (l.base | params&0xFFFFFF) + l.offset
}

func (l *List) stalled() bool {
	return l.Stall != 0 && l.Current == l.Stall
}
