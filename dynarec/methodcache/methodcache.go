// Package methodcache maps guest program counters to compiled units.
//
// Lookups read an immutable snapshot published through an atomic pointer
// and never take a lock. Insertions and invalidations copy the touched
// pages of the snapshot under a mutex and publish the result.
//
// A compilation that races with guest stores reserves a Ticket before
// reading guest code and publishes with it. Publication is refused when a
// range invalidated after the reservation overlaps the unit, so a unit built
// from overwritten bytes is never visible to a lookup.
package methodcache

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
)

const (
	pageShift = 12
	pageWords = 1 << (pageShift - 2)

	// maxHistory bounds the invalidations remembered for pending tickets.
	maxHistory = 1024
)

// Unit is a compiled unit spanning the word-aligned range [MinPC, MaxPC].
// Only the words it Covers are owned by it; the rest of the span belongs
// to whatever other unit covers them.
type Unit interface {
	comparable
	MinPC() uint32
	MaxPC() uint32
	Covers(pc uint32) bool
}

// Ticket is a reservation taken before a unit is compiled.
type Ticket struct {
	epoch uint64
}

// Statistics holds method cache counters.
type Statistics struct {
	Hits          uint64
	Misses        uint64
	Inserts       uint64
	Rejected      uint64
	Evictions     uint64
	Invalidations uint64
}

type page[U Unit] struct {
	units [pageWords]U
	count int
}

type snapshot[U Unit] struct {
	pages map[uint32]*page[U]
	units int
}

type invalidation struct {
	epoch  uint64
	lo, hi uint32
}

// Cache maps PCs to units. At most one unit owns any PC.
type Cache[U Unit] struct {
	snap atomic.Pointer[snapshot[U]]

	mu        sync.Mutex
	epoch     uint64
	floor     uint64
	history   []invalidation
	inflight  atomic.Int32
	listeners []func(lo, hi uint32)

	hits, misses atomic.Uint64
	stats        Statistics

	log logr.Logger
}

// Option is a functional option for configuring a Cache.
type Option func(*options)

type options struct {
	log logr.Logger
}

// WithLogger sets the logger used for insertions and invalidations.
func WithLogger(log logr.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// New creates an empty cache.
func New[U Unit](opts ...Option) *Cache[U] {
	o := options{log: logr.Discard()}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Cache[U]{log: o.log}
	c.snap.Store(&snapshot[U]{pages: map[uint32]*page[U]{}})
	return c
}

func (s *snapshot[U]) get(pc uint32) U {
	var zero U
	p := s.pages[pc>>pageShift]
	if p == nil {
		return zero
	}
	return p.units[(pc>>2)&(pageWords-1)]
}

// TryGetMethodAt returns the unit owning pc without compiling anything.
func (c *Cache[U]) TryGetMethodAt(pc uint32) (U, bool) {
	var zero U
	u := c.snap.Load().get(pc &^ 3)
	if u == zero {
		c.misses.Add(1)
		return zero, false
	}
	c.hits.Add(1)
	return u, true
}

// Len returns the number of live units.
func (c *Cache[U]) Len() int {
	return c.snap.Load().units
}

// Stats returns the cache counters.
func (c *Cache[U]) Stats() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Hits = c.hits.Load()
	s.Misses = c.misses.Load()
	return s
}

// OnClearRange registers a callback run after every invalidation that
// evicted at least one unit.
func (c *Cache[U]) OnClearRange(fn func(lo, hi uint32)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Reserve takes a ticket for a compilation about to read guest code.
// Every ticket must be handed back through Publish or Release.
func (c *Cache[U]) Reserve() Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight.Add(1)
	return Ticket{epoch: c.epoch}
}

// Release returns a ticket whose compilation failed.
func (c *Cache[U]) Release(Ticket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finish()
}

// Publish inserts u unless a range overlapping it was invalidated after
// the ticket was taken. It reports whether u was inserted.
func (c *Cache[U]) Publish(u U, t Ticket) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.finish()

	if c.stale(u, t) {
		c.stats.Rejected++
		c.log.V(1).Info("rejected stale unit",
			"min", fmt.Sprintf("0x%08x", u.MinPC()), "max", fmt.Sprintf("0x%08x", u.MaxPC()))
		return false
	}
	c.insert(u)
	return true
}

// SetMethodAt inserts u, evicting every unit that owns one of the words
// u covers. Lookups at any covered PC resolve to u afterwards.
func (c *Cache[U]) SetMethodAt(pc uint32, u U) {
	if !u.Covers(pc &^ 3) {
		panic(fmt.Sprintf("methodcache: pc 0x%08x outside unit [0x%08x, 0x%08x]", pc, u.MinPC(), u.MaxPC()))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insert(u)
}

// InvalidateRange evicts every unit covering a word in [lo, hi] and
// returns the number of evicted units.
func (c *Cache[U]) InvalidateRange(lo, hi uint32) int {
	if hi < lo {
		return 0
	}
	if c.inflight.Load() == 0 && !c.snap.Load().overlaps(lo, hi) {
		return 0
	}

	c.mu.Lock()
	evicted, listeners := c.invalidate(lo, hi)
	c.mu.Unlock()

	if evicted > 0 {
		c.log.V(1).Info("invalidated code",
			"lo", fmt.Sprintf("0x%08x", lo), "hi", fmt.Sprintf("0x%08x", hi), "units", evicted)
		for _, fn := range listeners {
			fn(lo, hi)
		}
	}
	return evicted
}

// Clear evicts every unit.
func (c *Cache[U]) Clear() {
	c.InvalidateRange(0, 0xFFFFFFFF)
}

func (c *Cache[U]) finish() {
	if c.inflight.Add(-1) == 0 {
		c.history = c.history[:0]
		c.floor = c.epoch
	}
}

func (c *Cache[U]) stale(u U, t Ticket) bool {
	if t.epoch < c.floor {
		return true
	}
	for _, inv := range c.history {
		if inv.epoch > t.epoch && coversAny(u, inv.lo, inv.hi) {
			return true
		}
	}
	return false
}

func (c *Cache[U]) invalidate(lo, hi uint32) (int, []func(lo, hi uint32)) {
	c.epoch++
	c.stats.Invalidations++
	if c.inflight.Load() > 0 {
		if len(c.history) == maxHistory {
			c.floor = c.history[0].epoch
			c.history = c.history[1:]
		}
		c.history = append(c.history, invalidation{epoch: c.epoch, lo: lo, hi: hi})
	}

	old := c.snap.Load()
	victims := old.collect(lo, hi)
	if len(victims) == 0 {
		return 0, nil
	}

	next := old.clone()
	for _, v := range victims {
		next.remove(old, v)
	}
	c.snap.Store(next)
	c.stats.Evictions += uint64(len(victims))
	return len(victims), c.listeners
}

func (c *Cache[U]) insert(u U) {
	old := c.snap.Load()
	next := old.clone()
	victims := old.owners(u)
	for _, v := range victims {
		next.remove(old, v)
	}
	c.stats.Evictions += uint64(len(victims))

	forCovered(u, u.MinPC(), u.MaxPC(), func(pc uint32) bool {
		p := next.writable(old, pc>>pageShift)
		p.units[(pc>>2)&(pageWords-1)] = u
		p.count++
		return true
	})
	next.units++
	c.stats.Inserts++
	c.snap.Store(next)

	c.log.V(1).Info("published unit",
		"min", fmt.Sprintf("0x%08x", u.MinPC()), "max", fmt.Sprintf("0x%08x", u.MaxPC()))
}

func (s *snapshot[U]) overlaps(lo, hi uint32) bool {
	if hi>>pageShift-lo>>pageShift >= uint32(len(s.pages)) {
		return len(s.pages) > 0
	}
	for idx := lo >> pageShift; ; idx++ {
		if _, ok := s.pages[idx]; ok {
			return true
		}
		if idx >= hi>>pageShift {
			return false
		}
	}
}

// forCovered calls fn for every word of u in [lo, hi] that u covers,
// stopping when fn returns false.
func forCovered[U Unit](u U, lo, hi uint32, fn func(pc uint32) bool) {
	lo = max(lo, u.MinPC()) &^ 3
	hi = min(hi, u.MaxPC())
	if lo > hi {
		return
	}
	for pc := lo; ; pc += 4 {
		if u.Covers(pc) && !fn(pc) {
			return
		}
		if pc >= hi&^3 {
			return
		}
	}
}

// coversAny reports whether u covers a word in [lo, hi].
func coversAny[U Unit](u U, lo, hi uint32) bool {
	found := false
	forCovered(u, lo, hi, func(uint32) bool {
		found = true
		return false
	})
	return found
}

// owners returns the distinct units owning a word covered by u.
func (s *snapshot[U]) owners(u U) []U {
	var (
		zero U
		out  []U
		seen = map[U]bool{}
	)
	forCovered(u, u.MinPC(), u.MaxPC(), func(pc uint32) bool {
		if v := s.get(pc); v != zero && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
		return true
	})
	return out
}

// collect returns the distinct units owning any PC in [lo, hi].
func (s *snapshot[U]) collect(lo, hi uint32) []U {
	var (
		zero U
		out  []U
		seen = map[U]bool{}
	)
	lo &^= 3
	if hi-lo >= uint32(len(s.pages))<<pageShift {
		for idx, p := range s.pages {
			for i, u := range p.units {
				pc := idx<<pageShift | uint32(i)<<2
				if u != zero && !seen[u] && pc >= lo && pc <= hi {
					seen[u] = true
					out = append(out, u)
				}
			}
		}
		return out
	}

	for pc := lo; ; {
		p := s.pages[pc>>pageShift]
		if p == nil {
			next := (pc>>pageShift + 1) << pageShift
			if next == 0 || next > hi {
				break
			}
			pc = next
			continue
		}
		if u := p.units[(pc>>2)&(pageWords-1)]; u != zero && !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
		if pc >= hi&^3 || pc+4 == 0 {
			break
		}
		pc += 4
	}
	return out
}

func (s *snapshot[U]) clone() *snapshot[U] {
	next := &snapshot[U]{pages: make(map[uint32]*page[U], len(s.pages)), units: s.units}
	for k, v := range s.pages {
		next.pages[k] = v
	}
	return next
}

// writable returns a copy of page idx owned by s, copying it from old on
// first write.
func (s *snapshot[U]) writable(old *snapshot[U], idx uint32) *page[U] {
	p := s.pages[idx]
	if p != nil && p != old.pages[idx] {
		return p
	}
	np := &page[U]{}
	if p != nil {
		*np = *p
	}
	s.pages[idx] = np
	return np
}

func (s *snapshot[U]) remove(old *snapshot[U], u U) {
	var zero U
	forCovered(u, u.MinPC(), u.MaxPC(), func(pc uint32) bool {
		idx := pc >> pageShift
		if s.pages[idx] != nil && s.pages[idx].units[(pc>>2)&(pageWords-1)] == u {
			p := s.writable(old, idx)
			p.units[(pc>>2)&(pageWords-1)] = zero
			p.count--
			if p.count == 0 {
				delete(s.pages, idx)
			}
		}
		return true
	})
	s.units--
}
