package task

import (
	"context"
	"sync"

	"github.com/wippyai/rootstack/errors"
)

// Dispatch is the one-shot result of a submitted task. It resolves exactly
// once; later resolutions are ignored.
type Dispatch[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

func newDispatch[T any]() *Dispatch[T] {
	return &Dispatch[T]{done: make(chan struct{})}
}

func (d *Dispatch[T]) resolve(v T, err error) bool {
	resolved := false
	d.once.Do(func() {
		d.val, d.err = v, err
		close(d.done)
		resolved = true
	})
	return resolved
}

func (d *Dispatch[T]) fail(err error) bool {
	var zero T
	return d.resolve(zero, err)
}

// Done is closed once the result is available.
func (d *Dispatch[T]) Done() <-chan struct{} { return d.done }

// Wait blocks until the result is available or ctx is done. A context error
// leaves the task running; its result can still be collected later.
func (d *Dispatch[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-d.done:
		return d.val, d.err
	case <-ctx.Done():
		var zero T
		return zero, errors.Wrap(errors.PhaseDispatch, errors.KindCancelled, ctx.Err(), "wait for result")
	}
}

// Ready reports whether the result is available.
func (d *Dispatch[T]) Ready() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// Result returns the result without blocking. It is the zero value until
// Ready.
func (d *Dispatch[T]) Result() (T, error) {
	if !d.Ready() {
		var zero T
		return zero, nil
	}
	return d.val, d.err
}
