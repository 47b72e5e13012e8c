package frame

import (
	"github.com/wippyai/rootstack"
	"github.com/wippyai/rootstack/errors"
)

// CallResult is a rooted call outcome. When Exception is set, Value holds the
// exception object; it is protected exactly like a normal return value.
type CallResult struct {
	Value     Value
	Exception bool
}

// Err converts an exception result into an error carrying the exception.
func (r CallResult) Err() error {
	if !r.Exception {
		return nil
	}
	return errors.Exception(errors.PhaseCall, "call raised an exception", r.Value.Ref())
}

// UnrootedResult is a call outcome that has not been rooted yet.
type UnrootedResult = rootstack.Result

// RootResult roots an unrooted call outcome in t, keeping its tag.
func RootResult(t Target, r UnrootedResult) (CallResult, error) {
	v, err := t.Root(r.Value)
	if err != nil {
		return CallResult{}, err
	}
	return CallResult{Value: v, Exception: r.Exception}, nil
}

// Scope runs fn in a child of f able to hold capacity roots. The child is
// closed on every exit path, panics included.
func Scope[T any](f *Frame, capacity int, fn func(child *Frame) (T, error)) (T, error) {
	var zero T
	child, err := f.Nest(capacity)
	if err != nil {
		return zero, err
	}
	defer child.Close()
	return fn(child)
}

// ValueScope is ValueScopeWithSlots with no extra capacity.
func ValueScope(f *Frame, fn func(out Output, child *Frame) (Value, error)) (Value, error) {
	return ValueScopeWithSlots(f, 0, fn)
}

// ValueScopeWithSlots reserves an output slot in f, runs fn in a child frame
// with capacity slots and returns a value rooted in f. If fn did not redeem
// the output, the value it returned is rooted through the reserved slot after
// the child has been closed. When fn fails the reserved slot is returned to
// f, unless something else was rooted in f after it.
func ValueScopeWithSlots(f *Frame, capacity int, fn func(out Output, child *Frame) (Value, error)) (Value, error) {
	out, err := f.Output()
	if err != nil {
		return Value{}, err
	}

	v, err := Scope(f, capacity, func(child *Frame) (Value, error) {
		return fn(out, child)
	})
	if err != nil {
		out.release()
		return Value{}, err
	}
	if out.Used() {
		return v, nil
	}
	return out.Root(v.Ref())
}

// ResultScope is ResultScopeWithSlots with no extra capacity.
func ResultScope(f *Frame, fn func(out Output, child *Frame) (CallResult, error)) (CallResult, error) {
	return ResultScopeWithSlots(f, 0, fn)
}

// ResultScopeWithSlots is ValueScopeWithSlots for call outcomes: the
// exception tag travels with the value, and exception objects are rooted in
// f like any other result.
func ResultScopeWithSlots(f *Frame, capacity int, fn func(out Output, child *Frame) (CallResult, error)) (CallResult, error) {
	out, err := f.Output()
	if err != nil {
		return CallResult{}, err
	}

	r, err := Scope(f, capacity, func(child *Frame) (CallResult, error) {
		return fn(out, child)
	})
	if err != nil {
		out.release()
		return CallResult{}, err
	}
	if out.Used() {
		return r, nil
	}
	v, err := out.Root(r.Value.Ref())
	if err != nil {
		return CallResult{}, err
	}
	return CallResult{Value: v, Exception: r.Exception}, nil
}
