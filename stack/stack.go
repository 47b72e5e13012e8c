package stack

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/rootstack"
	"github.com/wippyai/rootstack/errors"
)

const (
	// MinFrameCapacity is the smallest number of roots an overflow page holds.
	MinFrameCapacity = 16

	// DefaultSize is the root capacity of a stack's first page.
	DefaultSize = 64

	// DefaultMaxSlots bounds the total root slots a stack may allocate.
	DefaultMaxSlots = 1 << 20
)

// Options configures a Stack.
type Options struct {
	// Size is the root capacity of the first page. Zero means DefaultSize.
	Size int
	// MaxSlots bounds the root slots across all pages. Zero means DefaultMaxSlots.
	MaxSlots int
}

// Region is the window of a page claimed by one pushed frame.
type Region struct {
	Page     int
	Start    int
	Capacity int

	prevTop int
	depth   int
	// owner is set on the first region pushed onto a page returned by Grow.
	// Popping it releases the page.
	owner   bool
}

// Stats reports frame activity on a stack.
type Stats struct {
	Pushes uint64
	Pops   uint64
	Depth  int
	Pages  int
	Len    int
	Cap    int
}

// Stack is a shadow stack of GC roots. It is a chain of pages; each page
// holds its root count and a link to the previous page in two header slots,
// followed by the roots themselves.
//
// A Stack is owned by one goroutine at a time. EachRoot may only be called
// by the collector while that owner is stopped.
type Stack struct {
	rt      rootstack.Runtime
	pages   []*page
	spare   []*page
	regions []Region
	// fresh is the index of a page returned by Grow that no region has
	// claimed yet, or -1.
	fresh   int
	total   int
	max     int
	pushes  uint64
	pops    uint64
	linked  bool
}

// New creates a stack and links it into rt's root walk. rt may be nil for a
// stack the collector never sees.
func New(rt rootstack.Runtime, opts Options) (*Stack, error) {
	size := opts.Size
	if size <= 0 {
		size = DefaultSize
	}
	limit := opts.MaxSlots
	if limit <= 0 {
		limit = DefaultMaxSlots
	}
	if size > limit {
		return nil, errors.AllocationFailed(errors.PhaseStack, size, limit)
	}

	s := &Stack{
		rt:    rt,
		pages: []*page{getPage(size, -1)},
		fresh: -1,
		total: size,
		max:   limit,
	}
	if rt != nil {
		rt.LinkRoots(s)
		s.linked = true
	}
	return s, nil
}

// PushFrame claims capacity slots of page starting at start for a new frame
// and records the page's previous top so PopFrame can restore it. It does not
// check that the space is free; callers carve regions from their own window
// or from a page returned by Grow. The first region pushed onto a grown page
// owns it.
func (s *Stack) PushFrame(page, start, capacity int) Region {
	p := s.pages[page]
	r := Region{
		Page:     page,
		Start:    start,
		Capacity: capacity,
		prevTop:  p.top(),
		depth:    len(s.regions),
	}
	if page == s.fresh {
		r.owner = true
		s.fresh = -1
	}
	s.regions = append(s.regions, r)
	p.setTop(start)
	s.pushes++
	return r
}

// PopFrame releases the most recently pushed region. Popping any other
// region means the frame bookkeeping is corrupt, and panics.
func (s *Stack) PopFrame(r Region) {
	n := len(s.regions)
	if n == 0 || r.depth != n-1 || s.regions[n-1] != r {
		panic(fmt.Sprintf("stack: pop of region %d out of order (depth %d)", r.depth, n))
	}
	s.regions = s.regions[:n-1]
	s.pages[r.Page].setTop(r.prevTop)
	s.pops++

	// An overflow page is released with the region that owns it. Regions
	// carved in place on the page by nested frames never do.
	if r.owner && r.Page == len(s.pages)-1 {
		p := s.pages[r.Page]
		clear(p.slots)
		s.pages = s.pages[:r.Page]
		s.spare = append(s.spare, p)
	}
}

// Grow pushes a new page able to hold at least MinFrameCapacity+additional
// roots and returns its index. Released pages are reused when large enough;
// otherwise the new page doubles the last one, within the slot budget.
func (s *Stack) Grow(additional int) (int, error) {
	if additional < 0 {
		return 0, errors.InvalidInput(errors.PhaseStack, "negative growth")
	}
	need := MinFrameCapacity + additional
	prev := len(s.pages) - 1

	for i, p := range s.spare {
		if p.capacity() >= need {
			s.spare = append(s.spare[:i], s.spare[i+1:]...)
			clear(p.slots)
			p.slots[1] = rootstack.Ref(prev + 1)
			s.pages = append(s.pages, p)
			s.fresh = len(s.pages) - 1
			return s.fresh, nil
		}
	}

	size := max(need, 2*s.pages[prev].capacity())
	if s.total+size > s.max {
		size = need
	}
	if s.total+size > s.max {
		return 0, errors.AllocationFailed(errors.PhaseStack, need, s.max-s.total)
	}

	s.pages = append(s.pages, getPage(size, prev))
	s.fresh = len(s.pages) - 1
	s.total += size
	Logger().Debug("stack grown",
		zap.Int("page", len(s.pages)-1),
		zap.Int("size", size),
		zap.Int("total", s.total))
	return len(s.pages) - 1, nil
}

// Push stores ref at index of page and makes it the page's top root.
func (s *Stack) Push(page, index int, ref rootstack.Ref) {
	p := s.pages[page]
	p.slots[headerSlots+index] = ref
	p.setTop(index + 1)
}

// Drop releases the top root of page, which must sit at index.
func (s *Stack) Drop(page, index int) {
	p := s.pages[page]
	if index != p.top()-1 {
		panic(fmt.Sprintf("stack: drop of slot %d below top %d on page %d", index, p.top(), page))
	}
	p.slots[headerSlots+index] = rootstack.Null
	p.setTop(index)
}

// Set overwrites an already claimed slot.
func (s *Stack) Set(page, index int, ref rootstack.Ref) {
	p := s.pages[page]
	if index >= p.top() {
		panic(fmt.Sprintf("stack: set of unclaimed slot %d on page %d", index, page))
	}
	p.slots[headerSlots+index] = ref
}

// Get returns the root at index of page.
func (s *Stack) Get(page, index int) rootstack.Ref {
	return s.pages[page].slots[headerSlots+index]
}

// Top returns the number of claimed slots on page.
func (s *Stack) Top(page int) int { return s.pages[page].top() }

// TopPage returns the index of the newest page.
func (s *Stack) TopPage() int { return len(s.pages) - 1 }

// PageCap returns the root capacity of page.
func (s *Stack) PageCap(page int) int { return s.pages[page].capacity() }

// Depth returns the number of pushed regions.
func (s *Stack) Depth() int { return len(s.regions) }

// Len returns the number of claimed root slots over all pages.
func (s *Stack) Len() int {
	n := 0
	for _, p := range s.pages {
		n += p.top()
	}
	return n
}

// Cap returns the root capacity over all active pages.
func (s *Stack) Cap() int {
	n := 0
	for _, p := range s.pages {
		n += p.capacity()
	}
	return n
}

// Stats returns a snapshot of frame activity.
func (s *Stack) Stats() Stats {
	return Stats{
		Pushes: s.pushes,
		Pops:   s.pops,
		Depth:  len(s.regions),
		Pages:  len(s.pages),
		Len:    s.Len(),
		Cap:    s.Cap(),
	}
}

// EachRoot walks the pages from newest to oldest through their links and
// calls fn for every non-null claimed root.
func (s *Stack) EachRoot(fn func(rootstack.Ref)) {
	if len(s.pages) == 0 {
		return
	}
	for i := len(s.pages) - 1; i >= 0; i = s.pages[i].link() - 1 {
		p := s.pages[i]
		roots := p.slots[headerSlots : headerSlots+p.top()]
		for _, r := range roots {
			if !r.IsNull() {
				fn(r)
			}
		}
	}
}

// Close unlinks the stack from the runtime and returns its pages to the pool.
func (s *Stack) Close() {
	if s.linked {
		s.rt.UnlinkRoots(s)
		s.linked = false
	}
	if len(s.regions) > 0 {
		Logger().Warn("stack closed with open frames", zap.Int("depth", len(s.regions)))
	}
	for _, p := range s.pages {
		putPage(p)
	}
	for _, p := range s.spare {
		putPage(p)
	}
	s.pages, s.spare, s.regions = nil, nil, nil
}
