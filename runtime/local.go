package runtime

import (
	"context"

	"github.com/wippyai/rootstack"
	"github.com/wippyai/rootstack/frame"
	"github.com/wippyai/rootstack/stack"
)

// Local roots values from the calling goroutine without a pool, for code
// that already owns the runtime's thread. It is not safe for concurrent use.
type Local struct {
	rt    rootstack.Runtime
	stack *stack.Stack
}

// NewLocal creates a stack linked into rt.
func NewLocal(rt rootstack.Runtime, opts stack.Options) (*Local, error) {
	s, err := stack.New(rt, opts)
	if err != nil {
		return nil, err
	}
	return &Local{rt: rt, stack: s}, nil
}

// Runtime returns the runtime the stack is linked into.
func (l *Local) Runtime() rootstack.Runtime { return l.rt }

// Stack returns the local stack.
func (l *Local) Stack() *stack.Stack { return l.stack }

// Close unlinks the stack. Every frame must have been closed.
func (l *Local) Close() { l.stack.Close() }

// Scope runs fn on a base frame of l's stack and pops it afterwards.
func Scope[T any](l *Local, fn func(f *frame.Frame) (T, error)) (T, error) {
	var zero T
	f, err := frame.New(l.stack)
	if err != nil {
		return zero, err
	}
	defer f.Close()
	return fn(f)
}

// AsyncScope is Scope for async code: suspensions block the caller while
// runtime events keep running.
func AsyncScope[T any](ctx context.Context, l *Local, fn func(ctx context.Context, f *frame.Async) (T, error)) (T, error) {
	return Scope(l, func(f *frame.Frame) (T, error) {
		return fn(ctx, frame.NewAsync(f, l.rt, frame.Inline{RT: l.rt}))
	})
}
