package stack

import "github.com/wippyai/rootstack"

// Arena owns the stacks of one worker: a base stack for inline work and one
// dedicated stack per task slot. Tasks hold a slot index and look their stack
// up here each time they start, never a reference that outlives the slot.
type Arena struct {
	base   *Stack
	stacks []*Stack
}

// NewArena creates slots dedicated stacks plus a base stack, all linked into rt.
func NewArena(rt rootstack.Runtime, slots int, opts Options) (*Arena, error) {
	base, err := New(rt, opts)
	if err != nil {
		return nil, err
	}
	a := &Arena{
		base:   base,
		stacks: make([]*Stack, 0, slots),
	}
	for range slots {
		s, err := New(rt, opts)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.stacks = append(a.stacks, s)
	}
	return a, nil
}

// Base returns the stack used for inline work on the owning thread.
func (a *Arena) Base() *Stack { return a.base }

// Stack returns the dedicated stack of slot.
func (a *Arena) Stack(slot int) *Stack { return a.stacks[slot] }

// Len returns the number of dedicated slots.
func (a *Arena) Len() int { return len(a.stacks) }

// Close unlinks and releases every stack.
func (a *Arena) Close() {
	for _, s := range a.stacks {
		s.Close()
	}
	a.stacks = nil
	if a.base != nil {
		a.base.Close()
		a.base = nil
	}
}
