package frame

import (
	"github.com/wippyai/rootstack"
	"github.com/wippyai/rootstack/errors"
	"github.com/wippyai/rootstack/stack"
)

// Value is a reference that has been rooted in some target. It stays valid
// while that target's frame is open.
type Value struct {
	ref rootstack.Ref
}

// Ref returns the underlying reference.
func (v Value) Ref() rootstack.Ref { return v.ref }

// IsNull reports whether the value is the null reference.
func (v Value) IsNull() bool { return v.ref.IsNull() }

// Target decides where a newly created reference is rooted.
type Target interface {
	Root(ref rootstack.Ref) (Value, error)
}

// Unrooted is a target that roots nothing. The caller must guarantee the
// reference stays reachable some other way, for example because it is a
// global, or because no safepoint can occur before it is rooted elsewhere.
type Unrooted struct{}

// Root returns ref as a value without rooting it.
func (Unrooted) Root(ref rootstack.Ref) (Value, error) { return Value{ref}, nil }

// MinCapacity is the smallest window a growable frame opens with on a fresh
// page.
const MinCapacity = stack.MinFrameCapacity

// Frame is a window of a shadow stack holding the roots of one scope.
//
// Frames nest strictly: a frame has at most one open child, and while it is
// open the parent's spare slots are lent to it, so rooting in the parent
// fails with a frame overflow until the child is closed. Close pops the
// frame's roots and must run on every exit path; use defer.
type Frame struct {
	stack    *stack.Stack
	region   stack.Region
	page     int
	start    int
	limit    int
	capacity int
	n        int
	growable bool
	parent   *Frame
	child    *Frame
	closed   bool
}

// New opens a growable base frame over the unused part of s's newest page.
// A full page is grown first. The frame starts empty and takes slots from
// the page as values are rooted, up to the page end.
func New(s *stack.Stack) (*Frame, error) {
	page := s.TopPage()
	start := s.Top(page)
	limit := s.PageCap(page)
	if start >= limit {
		var err error
		if page, err = s.Grow(0); err != nil {
			return nil, err
		}
		start, limit = 0, s.PageCap(page)
	}
	return &Frame{
		stack:    s,
		region:   s.PushFrame(page, start, 0),
		page:     page,
		start:    start,
		limit:    limit,
		growable: true,
	}, nil
}

// Stack returns the shadow stack the frame lives on.
func (f *Frame) Stack() *stack.Stack { return f.stack }

// Len returns the number of roots held by the frame, reserved slots included.
func (f *Frame) Len() int { return f.n }

// Capacity returns the number of roots the frame may hold.
func (f *Frame) Capacity() int { return f.capacity }

// Growable reports whether AllocSlots may extend the frame.
func (f *Frame) Growable() bool { return f.growable }

// Closed reports whether the frame's roots have been popped.
func (f *Frame) Closed() bool { return f.closed }

func (f *Frame) mustBeOpen() {
	if f.closed {
		panic("frame: use of closed frame")
	}
}

// available returns the number of roots that may still be pushed.
func (f *Frame) available() int {
	if f.child != nil {
		return 0
	}
	return f.capacity - f.n
}

func (f *Frame) push(ref rootstack.Ref) (int, error) {
	f.mustBeOpen()
	if f.available() < 1 && !f.AllocSlots(1) {
		return 0, errors.FrameOverflow(f.n, f.capacity)
	}
	idx := f.start + f.n
	f.stack.Push(f.page, idx, ref)
	f.n++
	return idx, nil
}

// Root stores ref in the next free slot. A full frame, or one with an open
// child, returns a frame overflow error and keeps its root count.
func (f *Frame) Root(ref rootstack.Ref) (Value, error) {
	if _, err := f.push(ref); err != nil {
		return Value{}, err
	}
	return Value{ref}, nil
}

// AllocSlots extends a growable frame by n slots when its page has room.
// It reserves nothing and returns false otherwise; callers should nest a
// larger frame instead. Bounded frames never grow.
func (f *Frame) AllocSlots(n int) bool {
	f.mustBeOpen()
	if !f.growable || f.child != nil || n < 0 {
		return false
	}
	if f.start+f.capacity+n > f.limit {
		return false
	}
	f.capacity += n
	return true
}

// Nest opens a child frame that can hold at least capacity roots. The child
// is carved in place after the frame's roots when the rest of the page holds
// capacity slots, otherwise it gets an overflow page of at least
// max(MinFrameCapacity, capacity) roots. The in-place bound is the page end,
// not the frame's own capacity: a Nest(4) frame may host a child of 40 on
// the same page, since the frame and its ancestors cannot root while the
// child is open. Opening a second child while one is open panics.
func (f *Frame) Nest(capacity int) (*Frame, error) {
	f.mustBeOpen()
	if f.child != nil {
		panic("frame: nest while a child frame is open")
	}
	if capacity < 0 {
		return nil, errors.InvalidInput(errors.PhaseFrame, "negative frame capacity")
	}

	page, start, limit := f.page, f.start+f.n, f.limit
	if start+capacity > limit {
		var err error
		if page, err = f.stack.Grow(capacity); err != nil {
			return nil, err
		}
		start, limit = 0, f.stack.PageCap(page)
	}

	child := &Frame{
		stack:    f.stack,
		region:   f.stack.PushFrame(page, start, capacity),
		page:     page,
		start:    start,
		limit:    limit,
		capacity: capacity,
		parent:   f,
	}
	f.child = child
	return child, nil
}

// NestGrowable opens a child frame that starts empty and grows like a base
// frame, taking the rest of the parent's page. A full page is grown first.
func (f *Frame) NestGrowable() (*Frame, error) {
	child, err := f.Nest(0)
	if err != nil {
		return nil, err
	}
	if child.start >= child.limit {
		child.Close()
		if child, err = f.Nest(MinCapacity); err != nil {
			return nil, err
		}
		child.capacity = 0
	}
	child.growable = true
	return child, nil
}

// Close pops the frame's roots. Open descendants are closed first. Closing
// twice is a no-op.
func (f *Frame) Close() {
	if f.closed {
		return
	}
	if f.child != nil {
		f.child.Close()
	}
	f.stack.PopFrame(f.region)
	f.closed = true
	if f.parent != nil {
		f.parent.child = nil
	}
}

// Get returns the i-th root held by the frame.
func (f *Frame) Get(i int) rootstack.Ref {
	f.mustBeOpen()
	if i < 0 || i >= f.n {
		panic("frame: root index out of range")
	}
	return f.stack.Get(f.page, f.start+i)
}
