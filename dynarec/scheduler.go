package dynarec

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/pspsim/dynarec/methodcache"
)

// publishAttempts bounds recompilations of a unit whose code keeps being
// overwritten while it compiles.
const publishAttempts = 3

// Scheduler turns compilation requests into cached functions.
type Scheduler interface {
	// GetFunctionForAddress returns the function covering pc, compiling
	// one on a cache miss. It returns a nil function and no error when the
	// code kept being overwritten during compilation; the caller should
	// interpret pc instead.
	GetFunctionForAddress(ctx context.Context, pc uint32) (*Function, error)

	// Cache returns the method cache the scheduler feeds.
	Cache() *methodcache.Cache[*Function]

	// Close stops background work.
	Close() error
}

// SchedulerOption is a functional option for configuring schedulers.
type SchedulerOption func(*schedulerOptions)

type schedulerOptions struct {
	log logr.Logger
}

// WithSchedulerLogger sets the scheduler logger.
func WithSchedulerLogger(log logr.Logger) SchedulerOption {
	return func(o *schedulerOptions) {
		o.log = log
	}
}

func buildOptions(opts []SchedulerOption) schedulerOptions {
	o := schedulerOptions{log: logr.Discard()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// compileAndPublish compiles pc and publishes the result, retrying when
// the code was overwritten during compilation. A function that was never
// published is never returned.
func compileAndPublish(
	c *Compiler, r Reader, cache *methodcache.Cache[*Function], pc uint32, onNew func(uint32), log logr.Logger,
) (*Function, error) {
	for attempt := 0; attempt < publishAttempts; attempt++ {
		ticket := cache.Reserve()
		fn, err := c.CreateFunction(r, pc, onNew)
		if err != nil {
			cache.Release(ticket)
			return nil, err
		}
		if cache.Publish(fn, ticket) {
			return fn, nil
		}
	}
	log.V(1).Info("code keeps changing, giving up compilation",
		"pc", fmt.Sprintf("0x%08x", pc), "attempts", publishAttempts)
	return nil, nil
}

// SyncScheduler compiles inline on the calling goroutine. Discovered
// entries are left for later on-demand compilation.
type SyncScheduler struct {
	compiler *Compiler
	reader   Reader
	cache    *methodcache.Cache[*Function]
	log      logr.Logger
}

// NewSyncScheduler creates a synchronous scheduler.
func NewSyncScheduler(
	c *Compiler, r Reader, cache *methodcache.Cache[*Function], opts ...SchedulerOption,
) *SyncScheduler {
	o := buildOptions(opts)
	return &SyncScheduler{compiler: c, reader: r, cache: cache, log: o.log}
}

// GetFunctionForAddress implements Scheduler.
func (s *SyncScheduler) GetFunctionForAddress(_ context.Context, pc uint32) (*Function, error) {
	if fn, ok := s.cache.TryGetMethodAt(pc); ok {
		return fn, nil
	}
	return compileAndPublish(s.compiler, s.reader, s.cache, pc, nil, s.log)
}

// Cache implements Scheduler.
func (s *SyncScheduler) Cache() *methodcache.Cache[*Function] { return s.cache }

// Close implements Scheduler.
func (s *SyncScheduler) Close() error { return nil }

type request struct {
	pc     uint32
	done   chan struct{}
	fn     *Function
	err    error
	queued bool
}

// WorkerScheduler compiles on one background goroutine. Callers that need
// a function push a request at the head of the queue and wait for it;
// entries discovered during compilation are queued at the tail and
// compiled speculatively.
type WorkerScheduler struct {
	compiler *Compiler
	reader   Reader
	cache    *methodcache.Cache[*Function]
	log      logr.Logger

	mu      sync.Mutex
	heads   []*request
	tails   []*request
	pending map[uint32]*request
	closed  bool
	wake    chan struct{}

	group  *errgroup.Group
	cancel context.CancelFunc
}

// NewWorkerScheduler starts a background compiler goroutine that lives
// until Close is called or ctx is cancelled.
func NewWorkerScheduler(
	ctx context.Context, c *Compiler, r Reader, cache *methodcache.Cache[*Function], opts ...SchedulerOption,
) *WorkerScheduler {
	o := buildOptions(opts)
	ctx, cancel := context.WithCancel(ctx)
	group, ctx := errgroup.WithContext(ctx)

	w := &WorkerScheduler{
		compiler: c,
		reader:   r,
		cache:    cache,
		log:      o.log,
		pending:  make(map[uint32]*request),
		wake:     make(chan struct{}, 1),
		group:    group,
		cancel:   cancel,
	}
	group.Go(func() error { return w.loop(ctx) })
	return w
}

// GetFunctionForAddress implements Scheduler. It blocks until the worker
// has published a function for pc.
func (w *WorkerScheduler) GetFunctionForAddress(ctx context.Context, pc uint32) (*Function, error) {
	if fn, ok := w.cache.TryGetMethodAt(pc); ok {
		return fn, nil
	}

	r, err := w.push(pc, true)
	if err != nil {
		return nil, err
	}
	select {
	case <-r.done:
		return r.fn, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cache implements Scheduler.
func (w *WorkerScheduler) Cache() *methodcache.Cache[*Function] { return w.cache }

// Close stops the worker and fails every queued request.
func (w *WorkerScheduler) Close() error {
	w.cancel()
	return w.group.Wait()
}

// Pending returns the number of queued requests.
func (w *WorkerScheduler) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.heads) + len(w.tails)
}

func (w *WorkerScheduler) push(pc uint32, head bool) (*request, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, ErrSchedulerClosed
	}

	if r, ok := w.pending[pc]; ok {
		if head && r.queued {
			w.promote(r)
		}
		return r, nil
	}

	r := &request{pc: pc, done: make(chan struct{}), queued: true}
	w.pending[pc] = r
	if head {
		w.heads = append(w.heads, r)
	} else {
		w.tails = append(w.tails, r)
	}

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return r, nil
}

// promote moves a speculative request to the head queue.
func (w *WorkerScheduler) promote(r *request) {
	for i, t := range w.tails {
		if t == r {
			w.tails = append(w.tails[:i], w.tails[i+1:]...)
			w.heads = append(w.heads, r)
			return
		}
	}
}

func (w *WorkerScheduler) pop() *request {
	w.mu.Lock()
	defer w.mu.Unlock()

	var r *request
	switch {
	case len(w.heads) > 0:
		r, w.heads = w.heads[0], w.heads[1:]
	case len(w.tails) > 0:
		r, w.tails = w.tails[0], w.tails[1:]
	default:
		return nil
	}
	r.queued = false
	return r
}

func (w *WorkerScheduler) discover(pc uint32) {
	if pc == 0 {
		return
	}
	if _, ok := w.cache.TryGetMethodAt(pc); ok {
		return
	}
	if _, err := w.push(pc, false); err != nil {
		w.log.V(2).Info("dropped discovered entry", "pc", fmt.Sprintf("0x%08x", pc), "err", err)
	}
}

func (w *WorkerScheduler) loop(ctx context.Context) error {
	defer w.shutdown()

	for {
		r := w.pop()
		if r == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-w.wake:
				continue
			}
		}

		if fn, ok := w.cache.TryGetMethodAt(r.pc); ok {
			r.fn = fn
		} else {
			r.fn, r.err = compileAndPublish(w.compiler, w.reader, w.cache, r.pc, w.discover, w.log)
			if r.err != nil {
				w.log.V(1).Info("compilation failed", "pc", fmt.Sprintf("0x%08x", r.pc), "err", r.err)
			}
		}
		w.complete(r)

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (w *WorkerScheduler) complete(r *request) {
	w.mu.Lock()
	delete(w.pending, r.pc)
	w.mu.Unlock()
	close(r.done)
}

func (w *WorkerScheduler) shutdown() {
	w.mu.Lock()
	w.closed = true
	rest := append(w.heads, w.tails...)
	w.heads, w.tails = nil, nil
	for _, r := range rest {
		delete(w.pending, r.pc)
	}
	w.mu.Unlock()

	for _, r := range rest {
		r.err = ErrSchedulerClosed
		close(r.done)
	}
}
