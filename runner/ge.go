package runner

import (
	"context"
	"errors"

	"github.com/sarchlab/pspsim/emu"
	"github.com/sarchlab/pspsim/gpu"
)

// Native delegate ids of the GE list functions.
const (
	NIDGeListEnQueue         uint32 = 0xAB49E76A
	NIDGeListEnQueueHead     uint32 = 0x1C0D95A6
	NIDGeListDeQueue         uint32 = 0x5FB86AB0
	NIDGeListUpdateStallAddr uint32 = 0xE0D68148
	NIDGeListSync            uint32 = 0x03444EB4
	NIDGeDrawSync            uint32 = 0xB287BD61
)

// Guest-visible list states returned by the sync functions.
const (
	geListCompleted uint32 = iota
	geListQueued
	geListDrawing
	geListStallReached
	geListCancelDone
)

const geErrorInvalidID uint32 = 0x80000100

func geStatus(s gpu.Status) uint32 {
	switch s {
	case gpu.StatusQueued:
		return geListQueued
	case gpu.StatusRunning:
		return geListDrawing
	case gpu.StatusStalled:
		return geListStallReached
	case gpu.StatusCancelled:
		return geListCancelDone
	}
	return geListCompleted
}

// AttachGPU registers the GE list functions as native delegates driving
// p. With drain set every enqueue and stall update runs the queue before
// returning to the guest; otherwise p is expected to be served on its own
// goroutine and the sync functions block until the list finishes.
func (c *CPU) AttachGPU(p *gpu.Processor, drain bool) {
	run := func() error {
		if !drain {
			return nil
		}
		return p.Run()
	}

	enqueue := func(head bool) emu.NativeFunc {
		return func(t *emu.ThreadState) error {
			id, err := p.EnqueueFromGuest(t.Arg(0), t.Arg(1), t.Arg(3), head)
			if err != nil {
				c.log.Info("cannot enqueue display list", "err", err.Error())
				t.Return(geErrorInvalidID)
				return nil
			}
			t.Return(uint32(id))
			return run()
		}
	}
	c.Syscalls.RegisterNative(NIDGeListEnQueue, enqueue(false))
	c.Syscalls.RegisterNative(NIDGeListEnQueueHead, enqueue(true))

	c.Syscalls.RegisterNative(NIDGeListDeQueue, func(t *emu.ThreadState) error {
		if err := p.Dequeue(int(int32(t.Arg(0)))); err != nil {
			t.Return(geErrorInvalidID)
			return nil
		}
		t.Return(0)
		return run()
	})

	c.Syscalls.RegisterNative(NIDGeListUpdateStallAddr, func(t *emu.ThreadState) error {
		if err := p.UpdateStallAddr(int(int32(t.Arg(0))), t.Arg(1)); err != nil {
			t.Return(geErrorInvalidID)
			return nil
		}
		t.Return(0)
		return run()
	})

	c.Syscalls.RegisterNative(NIDGeListSync, func(t *emu.ThreadState) error {
		id := int(int32(t.Arg(0)))
		var (
			status gpu.Status
			err    error
		)
		if drain {
			status, err = p.Sync(id)
		} else {
			status, err = p.Wait(context.Background(), id)
		}
		if errors.Is(err, gpu.ErrInvalidList) {
			t.Return(geErrorInvalidID)
			return nil
		}
		if err != nil {
			return err
		}
		t.Return(geStatus(status))
		return nil
	})

	c.Syscalls.RegisterNative(NIDGeDrawSync, func(t *emu.ThreadState) error {
		t.Return(geStatus(p.DrawSync()))
		return nil
	})
}
