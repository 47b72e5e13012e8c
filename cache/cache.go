// Package cache memoizes lookups of runtime globals.
//
// A Globals is itself a root set: once linked into a runtime, every cached
// reference is kept alive by the collector until the cache is reset. The
// process-wide instance returned by Process is what pool loops and Local
// handles share.
package cache

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/rootstack"
	"github.com/wippyai/rootstack/errors"
)

// Kind separates entries that share a module and name.
type Kind uint8

const (
	KindValue Kind = iota
	KindFunction
	KindModule
)

func (k Kind) String() string {
	switch k {
	case KindValue:
		return "value"
	case KindFunction:
		return "function"
	case KindModule:
		return "module"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Key identifies a cached global.
type Key struct {
	Module string
	Name   string
	Kind   Kind
}

func (k Key) String() string {
	if k.Module == "" {
		return k.Name + " (" + k.Kind.String() + ")"
	}
	return k.Module + "." + k.Name + " (" + k.Kind.String() + ")"
}

// Lookup resolves a global on a miss.
type Lookup func() (rootstack.Ref, error)

// Stats reports cache activity.
type Stats struct {
	Entries int
	Hits    uint64
	Misses  uint64
}

// Globals is a concurrency-safe cache of global references.
type Globals struct {
	mu      sync.RWMutex
	entries map[Key]rootstack.Ref
	rt      rootstack.Runtime
	hits    atomic.Uint64
	misses  atomic.Uint64
}

// New creates an empty, unlinked cache.
func New() *Globals {
	return &Globals{entries: make(map[Key]rootstack.Ref)}
}

var (
	process     *Globals
	processOnce sync.Once
)

// Process returns the process-wide cache, creating it on first use.
func Process() *Globals {
	processOnce.Do(func() { process = New() })
	return process
}

// Link registers the cache as a root set of rt. Linking to the runtime it
// is already linked to is a no-op; linking to a different one fails.
func (g *Globals) Link(rt rootstack.Runtime) error {
	g.mu.Lock()
	if g.rt == rt {
		g.mu.Unlock()
		return nil
	}
	if g.rt != nil {
		g.mu.Unlock()
		return errors.AlreadyInitialized(errors.PhaseRuntime, "global cache")
	}
	g.rt = rt
	g.mu.Unlock()

	// The collector takes the cache lock from inside the runtime; never hold
	// it while calling into the runtime.
	rt.LinkRoots(g)
	return nil
}

// Get returns the cached reference for key, resolving it with lookup on a
// miss. Lookup runs without the cache lock held, so concurrent misses on the
// same key may both resolve it; the first stored result wins.
func (g *Globals) Get(key Key, lookup Lookup) (rootstack.Ref, error) {
	g.mu.RLock()
	r, ok := g.entries[key]
	g.mu.RUnlock()
	if ok {
		g.hits.Add(1)
		return r, nil
	}

	g.misses.Add(1)
	r, err := lookup()
	if err != nil {
		return rootstack.Null, errors.Wrap(errors.PhaseRuntime, errors.KindNotFound, err, "lookup "+key.String())
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if prev, ok := g.entries[key]; ok {
		return prev, nil
	}
	g.entries[key] = r
	Logger().Debug("global cached", zap.Stringer("key", key))
	return r, nil
}

// Peek returns the cached reference for key without resolving it.
func (g *Globals) Peek(key Key) (rootstack.Ref, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.entries[key]
	return r, ok
}

// Forget drops a single entry.
func (g *Globals) Forget(key Key) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, key)
}

// EachRoot implements rootstack.RootSet.
func (g *Globals) EachRoot(fn func(rootstack.Ref)) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, r := range g.entries {
		fn(r)
	}
}

// Reset drops every entry. The cache stays linked.
func (g *Globals) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	clear(g.entries)
}

// Teardown drops every entry and unlinks the cache, so it can be linked to
// another runtime.
func (g *Globals) Teardown() {
	g.mu.Lock()
	clear(g.entries)
	rt := g.rt
	g.rt = nil
	g.mu.Unlock()

	if rt != nil {
		rt.UnlinkRoots(g)
	}
}

// Stats returns a snapshot of cache activity.
func (g *Globals) Stats() Stats {
	g.mu.RLock()
	n := len(g.entries)
	g.mu.RUnlock()
	return Stats{Entries: n, Hits: g.hits.Load(), Misses: g.misses.Load()}
}
