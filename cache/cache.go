// Package cache memoizes compiled filters.
//
// Tracing sessions tend to attach the same handful of expressions to many
// events. A Cache hands out one shared Program per distinct expression
// text. Programs are never mutated after compilation, so sharing is safe.
package cache

import (
	"math/rand/v2"
	"sync/atomic"

	"github.com/dchest/siphash"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/tliron/commonlog"

	"github.com/chazu/tracefilter/compiler"
	"github.com/chazu/tracefilter/pkg/bytecode"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 256

type entry struct {
	text    string
	program *bytecode.Program
}

// Cache is safe for concurrent use.
type Cache struct {
	compiler *compiler.Compiler
	entries  *xsync.MapOf[uint64, *entry]
	capacity int
	k0, k1   uint64

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64

	log commonlog.Logger
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Entries   int
}

// New creates a cache holding up to capacity programs compiled by c.
func New(c *compiler.Compiler, capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if c == nil {
		c = compiler.New(compiler.DefaultLimits)
	}
	return &Cache{
		compiler: c,
		entries:  xsync.NewMapOf[uint64, *entry](),
		capacity: capacity,
		k0:       rand.Uint64(),
		k1:       rand.Uint64(),
		log:      commonlog.GetLogger("tracefilter.cache"),
	}
}

func (c *Cache) key(text string) uint64 {
	return siphash.Hash(c.k0, c.k1, []byte(text))
}

// Compile returns the program for text, compiling it on a miss. Failed
// compilations are not cached.
func (c *Cache) Compile(text string) (*bytecode.Program, error) {
	k := c.key(text)
	if e, ok := c.entries.Load(k); ok && e.text == text {
		c.hits.Add(1)
		return e.program, nil
	}
	c.misses.Add(1)

	p, err := c.compiler.Compile(text)
	if err != nil {
		return nil, err
	}

	if c.entries.Size() >= c.capacity {
		c.evictOne()
	}
	e := &entry{text: text, program: p}
	if prev, loaded := c.entries.LoadOrStore(k, e); loaded {
		if prev.text == text {
			// Lost a race with another compile of the same text.
			return prev.program, nil
		}
		c.log.Debugf("siphash collision, replacing cached %q", prev.text)
		c.entries.Store(k, e)
	}
	return p, nil
}

// evictOne drops an arbitrary entry.
func (c *Cache) evictOne() {
	c.entries.Range(func(k uint64, _ *entry) bool {
		c.entries.Delete(k)
		c.evictions.Add(1)
		return false
	})
}

// Contains reports whether text is cached.
func (c *Cache) Contains(text string) bool {
	e, ok := c.entries.Load(c.key(text))
	return ok && e.text == text
}

// Purge drops every entry. Statistics are kept.
func (c *Cache) Purge() {
	c.entries.Clear()
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Entries:   c.entries.Size(),
	}
}
