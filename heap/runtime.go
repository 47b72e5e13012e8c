package heap

import (
	"context"
	goruntime "runtime"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/rootstack"
	"github.com/wippyai/rootstack/errors"
)

// DefaultGCThreshold is the number of allocations between automatic
// collections.
const DefaultGCThreshold = 4096

// Config holds configuration for runtime creation
type Config struct {
	// GCThreshold is the number of allocations that makes a collection due.
	// 0 means DefaultGCThreshold, negative disables automatic collection.
	GCThreshold int

	// Dir resolves relative Include paths.
	Dir string

	// MemoryLimitPages caps the linear memory of included wasm modules in
	// 64KB pages. 0 means the wazero default.
	MemoryLimitPages uint32
}

// Stats reports collector activity.
type Stats struct {
	Allocated   uint64
	Freed       uint64
	Collections uint64
	Live        int
	RootSets    int
}

// Runtime is an in-process managed runtime with a precise mark-sweep
// collector. Objects live in an arena indexed by reference; freed entries are
// reused with a new generation so stale references are detected.
//
// The collector only sees references held by linked root sets, globals and
// in-flight scheduled calls. A collection runs at Safepoint, or during an
// allocation once GCThreshold allocations have happened outside any call.
type Runtime struct {
	ctx        context.Context
	wasm       wazero.Runtime
	modules    []api.Module
	roots      map[rootstack.RootSet]struct{}
	globals    map[string]rootstack.Ref
	symbols    map[string]rootstack.Ref
	pinned     map[rootstack.Ref]int
	objects    []object
	free       []uint32
	queue      []*Future
	cfg        Config
	stats      Stats
	allocs     int
	inCall     int
	adopted    int
	mu         sync.Mutex
	errorColor atomic.Bool
	due        bool
	exited     bool
}

// New creates a runtime.
func New(ctx context.Context, cfg Config) *Runtime {
	if cfg.GCThreshold == 0 {
		cfg.GCThreshold = DefaultGCThreshold
	}
	return &Runtime{
		ctx:     ctx,
		cfg:     cfg,
		roots:   make(map[rootstack.RootSet]struct{}),
		globals: make(map[string]rootstack.Ref),
		symbols: make(map[string]rootstack.Ref),
		pinned:  make(map[rootstack.Ref]int),
		objects: make([]object, 0, 256),
		free:    make([]uint32, 0, 64),
	}
}

// LinkRoots implements rootstack.Runtime.
func (rt *Runtime) LinkRoots(rs rootstack.RootSet) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.roots[rs] = struct{}{}
}

// UnlinkRoots implements rootstack.Runtime.
func (rt *Runtime) UnlinkRoots(rs rootstack.RootSet) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.roots, rs)
}

func (rt *Runtime) alloc(o object) rootstack.Ref {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.cfg.GCThreshold > 0 && rt.allocs >= rt.cfg.GCThreshold {
		if rt.inCall == 0 {
			rt.collectLocked()
		} else {
			rt.due = true
		}
	}
	rt.allocs++
	rt.stats.Allocated++

	o.live = true
	if n := len(rt.free); n > 0 {
		idx := rt.free[n-1]
		rt.free = rt.free[:n-1]
		o.gen = rt.objects[idx].gen + 1
		rt.objects[idx] = o
		return makeRef(idx, o.gen)
	}
	o.gen = 1
	rt.objects = append(rt.objects, o)
	return makeRef(uint32(len(rt.objects)-1), o.gen)
}

// Safepoint implements rootstack.Runtime. A collection runs if one is due.
func (rt *Runtime) Safepoint() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.inCall > 0 {
		return
	}
	if rt.due || (rt.cfg.GCThreshold > 0 && rt.allocs >= rt.cfg.GCThreshold) {
		rt.collectLocked()
	}
}

// Collect runs a full collection now and returns the number of objects freed.
// It must not be called from inside a native function.
func (rt *Runtime) Collect() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.collectLocked()
}

func (rt *Runtime) collectLocked() int {
	for i := range rt.objects {
		rt.objects[i].mark = false
	}

	var work []uint32
	mark := func(r rootstack.Ref) {
		o, err := rt.lookupLocked(r)
		if err != nil || o.mark {
			return
		}
		o.mark = true
		idx, _ := splitRef(r)
		work = append(work, idx)
	}

	for rs := range rt.roots {
		rs.EachRoot(mark)
	}
	for _, r := range rt.globals {
		mark(r)
	}
	for r := range rt.pinned {
		mark(r)
	}
	for len(work) > 0 {
		idx := work[len(work)-1]
		work = work[:len(work)-1]
		for _, r := range rt.objects[idx].refs {
			mark(r)
		}
	}

	freed := 0
	for i := range rt.objects {
		o := &rt.objects[i]
		if !o.live || o.mark || o.fixed {
			continue
		}
		*o = object{gen: o.gen}
		rt.free = append(rt.free, uint32(i))
		freed++
	}

	rt.allocs = 0
	rt.due = false
	rt.stats.Collections++
	rt.stats.Freed += uint64(freed)
	Logger().Debug("collection",
		zap.Int("freed", freed),
		zap.Int("live", len(rt.objects)-len(rt.free)),
		zap.Int("root_sets", len(rt.roots)))
	return freed
}

// Stats returns a snapshot of collector activity.
func (rt *Runtime) Stats() Stats {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	s := rt.stats
	s.Live = len(rt.objects) - len(rt.free)
	s.RootSets = len(rt.roots)
	return s
}

// SetGlobal binds name in the global namespace. Globals are roots.
func (rt *Runtime) SetGlobal(name string, r rootstack.Ref) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.globals[name] = r
}

// Global looks up a global binding.
func (rt *Runtime) Global(name string) (rootstack.Ref, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	r, ok := rt.globals[name]
	if !ok {
		return rootstack.Null, errors.NotFound(errors.PhaseCall, "global", name)
	}
	return r, nil
}

// ProcessEvents implements rootstack.Runtime. It runs every call scheduled
// before it started; calls scheduled while it runs wait for the next pass.
func (rt *Runtime) ProcessEvents() {
	rt.mu.Lock()
	queue := rt.queue
	rt.queue = nil
	rt.mu.Unlock()

	for _, fut := range queue {
		res := rt.Call(fut.fn, fut.args...)
		rt.complete(fut, res)
	}
}

// Yield implements rootstack.Runtime.
func (rt *Runtime) Yield() {
	goruntime.Gosched()
}

// SetErrorColor implements rootstack.Runtime.
func (rt *Runtime) SetErrorColor(enable bool) {
	rt.errorColor.Store(enable)
}

// ErrorColor reports whether exception messages are colored.
func (rt *Runtime) ErrorColor() bool {
	return rt.errorColor.Load()
}

// AdoptThread implements rootstack.Runtime.
func (rt *Runtime) AdoptThread() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.exited {
		return errors.NotInitialized(errors.PhaseRuntime, "runtime")
	}
	rt.adopted++
	return nil
}

// Adopted returns the number of adopted threads.
func (rt *Runtime) Adopted() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.adopted
}

// AtExit implements rootstack.Runtime. It closes every included module.
func (rt *Runtime) AtExit() error {
	rt.mu.Lock()
	if rt.exited {
		rt.mu.Unlock()
		return nil
	}
	rt.exited = true
	w, mods := rt.wasm, rt.modules
	rt.wasm, rt.modules = nil, nil
	rt.mu.Unlock()

	if w == nil {
		return nil
	}
	return rt.closeWasm(w, mods)
}

// Exited reports whether AtExit has run.
func (rt *Runtime) Exited() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.exited
}

var _ rootstack.Runtime = (*Runtime)(nil)
