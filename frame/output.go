package frame

import (
	"github.com/wippyai/rootstack"
	"github.com/wippyai/rootstack/errors"
)

type outputState struct {
	frame *Frame
	index int
	used  bool
}

// Output is a one-shot token that roots a single value in a slot reserved
// ahead of time in an ancestor frame. Copies share the same token: once any
// copy has been used, the others fail with an output-consumed error.
type Output struct {
	st *outputState
}

// Output reserves one slot in f and returns a token for it. The slot counts
// as a root of f (null until used), so a full frame refuses the reservation.
func (f *Frame) Output() (Output, error) {
	idx, err := f.push(rootstack.Null)
	if err != nil {
		return Output{}, err
	}
	return Output{st: &outputState{frame: f, index: idx}}, nil
}

// Root writes ref into the reserved slot. Using a token whose frame has
// already been closed panics.
func (o Output) Root(ref rootstack.Ref) (Value, error) {
	if o.st == nil {
		return Value{}, errors.InvalidInput(errors.PhaseScope, "zero output")
	}
	if o.st.used {
		return Value{}, errors.OutputConsumed()
	}
	f := o.st.frame
	if f.closed {
		panic("frame: output used after its frame was closed")
	}
	f.stack.Set(f.page, o.st.index, ref)
	o.st.used = true
	return Value{ref}, nil
}

// release spends the token and gives its slot back to the frame when the
// slot is still the frame's top root.
func (o Output) release() {
	st := o.st
	st.used = true
	f := st.frame
	if f.closed || f.child != nil || st.index != f.start+f.n-1 {
		return
	}
	f.stack.Drop(f.page, st.index)
	f.n--
}

// Used reports whether the token has been redeemed.
func (o Output) Used() bool { return o.st != nil && o.st.used }

// ReusableSlot is a reserved slot that may be overwritten any number of
// times, each write replacing the previous root.
type ReusableSlot struct {
	frame *Frame
	index int
}

// ReusableSlot reserves one slot in f.
func (f *Frame) ReusableSlot() (*ReusableSlot, error) {
	idx, err := f.push(rootstack.Null)
	if err != nil {
		return nil, err
	}
	return &ReusableSlot{frame: f, index: idx}, nil
}

// Root replaces the slot's content with ref.
func (s *ReusableSlot) Root(ref rootstack.Ref) (Value, error) {
	if s.frame.closed {
		panic("frame: reusable slot used after its frame was closed")
	}
	s.frame.stack.Set(s.frame.page, s.index, ref)
	return Value{ref}, nil
}

// Get returns the current content of the slot.
func (s *ReusableSlot) Get() rootstack.Ref {
	return s.frame.stack.Get(s.frame.page, s.index)
}
