// Package gpu interprets GE display lists.
//
// A display list is a stream of 32-bit command words in guest memory: the
// top byte selects the command and the low 24 bits carry its payload.
// Lists are queued on a single global queue and the Processor runs at most
// one of them at a time. A list whose cursor reaches its stall address
// stops in place until the guest advances the stall address.
//
// Commands mostly update a State. PRIM hands a Draw to a Renderer with the
// bound texture resolved through a texture.Cache.
package gpu

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"

	"github.com/sarchlab/pspsim/emu"
	"github.com/sarchlab/pspsim/gpu/texture"
)

// MaxLists is the size of the display list pool.
const MaxLists = 64

// ListArgs is the optional argument block a guest passes when enqueuing.
type ListArgs struct {
	Size           uint32
	ContextAddress uint32
}

// Callback receives the list ID and payload of SIGNAL and FINISH.
type Callback func(id int, arg uint32)

// Processor owns the display list pool and queue.
type Processor struct {
	mem      emu.AddressSpace
	textures *texture.Cache
	renderer Renderer

	fatalUnknown        bool
	noticeUnimplemented bool
	noticed             [256]bool

	onFinish Callback
	onSignal Callback

	mu       sync.Mutex
	lists    [MaxLists]List
	free     []int
	queue    []*List
	current  *List
	state    *State
	contexts map[uint32]*State
	wake     chan struct{}

	log logr.Logger
}

// Option is a functional option for configuring a Processor.
type Option func(*Processor)

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(p *Processor) {
		p.log = log
	}
}

// WithRenderer sets the renderer PRIM submits draws to.
func WithRenderer(r Renderer) Option {
	return func(p *Processor) {
		p.renderer = r
	}
}

// WithTextureCache sets the texture cache used to resolve bound textures.
func WithTextureCache(c *texture.Cache) Option {
	return func(p *Processor) {
		p.textures = c
	}
}

// WithFatalUnknownCommands makes unknown opcodes abort the list with an
// *UnknownCommandError instead of logging a notice.
func WithFatalUnknownCommands(fatal bool) Option {
	return func(p *Processor) {
		p.fatalUnknown = fatal
	}
}

// WithNoticeUnimplemented logs a notice the first time a recognized but
// unimplemented command runs.
func WithNoticeUnimplemented(notice bool) Option {
	return func(p *Processor) {
		p.noticeUnimplemented = notice
	}
}

// WithFinishCallback sets the FINISH callback. Callbacks run on the
// processing goroutine and must not call back into the Processor.
func WithFinishCallback(fn Callback) Option {
	return func(p *Processor) {
		p.onFinish = fn
	}
}

// WithSignalCallback sets the SIGNAL callback.
func WithSignalCallback(fn Callback) Option {
	return func(p *Processor) {
		p.onSignal = fn
	}
}

// NewProcessor creates a processor reading display lists from mem.
func NewProcessor(mem emu.AddressSpace, opts ...Option) *Processor {
	p := &Processor{
		mem:      mem,
		state:    NewState(),
		contexts: make(map[uint32]*State),
		wake:     make(chan struct{}, 1),
		log:      logr.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.renderer == nil {
		p.renderer = &CountingRenderer{}
	}
	if p.textures == nil {
		p.textures = texture.New(mem, texture.NewMemoryBackend(), texture.WithLogger(p.log))
	}

	p.free = make([]int, 0, MaxLists)
	for i := range p.lists {
		p.lists[i].ID = i
		p.free = append(p.free, i)
	}
	return p
}

// Textures returns the texture cache.
func (p *Processor) Textures() *texture.Cache {
	return p.textures
}

// State returns the state used by lists enqueued without a context.
func (p *Processor) State() *State {
	return p.state
}

// Context returns the state bound to a guest context address, or nil.
func (p *Processor) Context(addr uint32) *State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.contexts[addr]
}

// Enqueue queues the list starting at start. A nil state selects the
// default state. With head set the list runs next, after the list the
// processor is already working on.
func (p *Processor) Enqueue(start, stall uint32, state *State, head bool) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enqueue(start, stall, state, head)
}

func (p *Processor) enqueue(start, stall uint32, state *State, head bool) (int, error) {
	if len(p.free) == 0 {
		return -1, ErrNoFreeList
	}
	id := p.free[0]
	p.free = p.free[1:]

	if state == nil {
		state = p.state
	}
	l := &p.lists[id]
	l.reset(start, stall, state)

	if head {
		p.queue = append([]*List{l}, p.queue...)
	} else {
		p.queue = append(p.queue, l)
	}

	p.log.V(1).Info("enqueued display list",
		"list", id, "start", fmt.Sprintf("0x%08x", start), "stall", fmt.Sprintf("0x%08x", stall), "head", head)
	p.signal()
	return id, nil
}

// EnqueueFromGuest queues a list on behalf of guest code. When argsAddr is
// non-zero a ListArgs block is read from it; a non-zero context address
// binds the list to the state kept for that address.
func (p *Processor) EnqueueFromGuest(start, stall, argsAddr uint32, head bool) (int, error) {
	var state *State
	if argsAddr != 0 {
		var args ListArgs
		if err := emu.ReadStruct(p.mem, argsAddr, &args); err != nil {
			return -1, fmt.Errorf("reading display list args: %w", err)
		}
		if args.ContextAddress != 0 {
			p.mu.Lock()
			state = p.contexts[args.ContextAddress]
			if state == nil {
				state = NewState()
				p.contexts[args.ContextAddress] = state
			}
			p.mu.Unlock()
		}
	}
	return p.Enqueue(start&^3, stall&^3, state, head)
}

// Dequeue cancels a list that has not completed.
func (p *Processor) Dequeue(id int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, err := p.list(id)
	if err != nil {
		return err
	}
	if l.Status.Terminal() {
		return nil
	}

	for i, q := range p.queue {
		if q == l {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			break
		}
	}
	if p.current == l {
		p.current = nil
	}
	l.Status = StatusCancelled
	p.retire(l)
	p.signal()
	return nil
}

// UpdateStallAddr moves the stall address of a list. A stalled list
// resumes from its cursor on the next run.
func (p *Processor) UpdateStallAddr(id int, stall uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, err := p.list(id)
	if err != nil {
		return err
	}
	if l.Status.Terminal() {
		return nil
	}
	l.Stall = stall &^ 3
	p.signal()
	return nil
}

// Sync returns the status of a list.
func (p *Processor) Sync(id int) (Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, err := p.list(id)
	if err != nil {
		return StatusIdle, err
	}
	return l.Status, nil
}

// DrawSync returns the status of the list being processed, StatusQueued
// when lists wait to start, or StatusCompleted when nothing is pending.
func (p *Processor) DrawSync() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.current != nil:
		return p.current.Status
	case len(p.queue) > 0:
		return StatusQueued
	}
	return StatusCompleted
}

// Wait blocks until the list completes or is cancelled.
func (p *Processor) Wait(ctx context.Context, id int) (Status, error) {
	p.mu.Lock()
	l, err := p.list(id)
	if err != nil {
		p.mu.Unlock()
		return StatusIdle, err
	}
	done := l.done
	p.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return StatusIdle, ctx.Err()
	}
	return p.Sync(id)
}

// Run processes queued lists until the queue is empty or the current list
// stalls. A list that fails is cancelled and its error returned.
func (p *Processor) Run() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if p.current == nil {
			if len(p.queue) == 0 {
				return nil
			}
			p.current = p.queue[0]
			p.queue = p.queue[1:]
		}

		l := p.current
		if err := p.process(l); err != nil {
			l.Status = StatusCancelled
			p.current = nil
			p.retire(l)
			return err
		}
		if l.Status == StatusStalled {
			return nil
		}

		p.log.V(1).Info("display list done", "list", l.ID, "status", l.Status)
		p.current = nil
		p.retire(l)
	}
}

// Serve runs lists as they are queued or unstalled until ctx is done.
func (p *Processor) Serve(ctx context.Context) error {
	for {
		if err := p.Run(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-p.wake:
		}
	}
}

func (p *Processor) process(l *List) error {
	l.Status = StatusRunning
	for {
		if l.stalled() {
			l.Status = StatusStalled
			return nil
		}

		addr := l.Current
		word, err := p.mem.Read32(addr)
		if err != nil {
			return fmt.Errorf("display list %d: %w", l.ID, err)
		}
		l.Current += 4

		cmd, params := Command(word>>24), word&0xFFFFFF
		l.State.Commands[cmd] = params
		if err := p.execute(l, addr, cmd, params); err != nil {
			return err
		}
		if l.Status.Terminal() {
			return nil
		}
	}
}

func (p *Processor) execute(l *List, addr uint32, cmd Command, params uint32) error {
	h := handlers[cmd]
	if h == nil {
		if p.fatalUnknown {
			return &UnknownCommandError{ListID: l.ID, Address: addr, Command: cmd, Params: params}
		}
		if !p.noticed[cmd] {
			p.noticed[cmd] = true
			p.log.Info("unknown display list command",
				"command", cmd.String(), "params", fmt.Sprintf("0x%06x", params), "addr", fmt.Sprintf("0x%08x", addr))
		}
		return nil
	}

	if unimplemented[cmd] && p.noticeUnimplemented && !p.noticed[cmd] {
		p.noticed[cmd] = true
		p.log.Info("unimplemented display list command", "command", cmd.String())
	}
	return h(p, l, params)
}

func (p *Processor) list(id int) (*List, error) {
	if id < 0 || id >= MaxLists {
		return nil, ErrInvalidList
	}
	l := &p.lists[id]
	if l.Status == StatusIdle {
		return nil, ErrInvalidList
	}
	return l, nil
}

// retire signals waiters and returns l to the pool. The list keeps its
// final status until it is reused.
func (p *Processor) retire(l *List) {
	close(l.done)
	p.free = append(p.free, l.ID)
}

func (p *Processor) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}
