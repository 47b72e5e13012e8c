package task

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/rootstack"
	"github.com/wippyai/rootstack/errors"
	"github.com/wippyai/rootstack/frame"
	"github.com/wippyai/rootstack/stack"
)

// Kind identifies an envelope variant.
type Kind uint8

const (
	KindTask Kind = iota
	KindRegister
	KindRegisterPersistent
	KindPersistent
	KindBlocking
	KindPostBlocking
	KindInclude
	KindErrorColor
)

var kindNames = [...]string{
	KindTask:               "task",
	KindRegister:           "register",
	KindRegisterPersistent: "register_persistent",
	KindPersistent:         "persistent",
	KindBlocking:           "blocking",
	KindPostBlocking:       "post_blocking",
	KindInclude:            "include",
	KindErrorColor:         "error_color",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Inline reports whether envelopes of this kind run on a loop's base stack
// between cooperative steps rather than on a dedicated slot.
func (k Kind) Inline() bool {
	switch k {
	case KindBlocking, KindInclude, KindErrorColor:
		return true
	default:
		return false
	}
}

// Closer is a live persistent handle as seen by the pool.
type Closer interface {
	Close(cancel bool)
	IsClosed() bool
}

// Env is what a loop hands an envelope when it starts running it.
type Env struct {
	// Slot is the dedicated slot index, or -1 for inline work.
	Slot int
	// Stack is the slot's stack, or the loop's base stack for inline work.
	Stack   *stack.Stack
	Runtime rootstack.Runtime
	// Suspender schedules the envelope's coroutine. Inline work has none.
	Suspender frame.Suspender
	Logger    *zap.Logger
	// Track registers a persistent handle so that pool shutdown can close
	// it. The returned func unregisters it. Nil means untracked.
	Track func(Closer) (untrack func())
}

func (e Env) logger() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return Logger()
}

func (e Env) track(c Closer) func() {
	if e.Track == nil {
		return func() {}
	}
	return e.Track(c)
}

// Envelope is a type-erased unit of work. Call runs it and resolves its
// dispatch; Abort resolves the dispatch with err without running it.
type Envelope interface {
	Kind() Kind
	Call(ctx context.Context, env Env)
	Abort(err error)
}

// guard runs fn and turns a panic into a panic error.
func guard[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v, err = zero, errors.Panicked(errors.PhaseDispatch, r)
		}
	}()
	return fn()
}

// baseFrame opens the async base frame of an envelope on env's stack.
func baseFrame(env Env) (*frame.Async, error) {
	f, err := frame.New(env.Stack)
	if err != nil {
		return nil, err
	}
	return frame.NewAsync(f, env.Runtime, env.Suspender), nil
}

// nest opens a bounded child of a when capacity is positive and a growable
// one otherwise.
func nest(a *frame.Async, capacity int) (*frame.Async, error) {
	if capacity > 0 {
		return a.Nest(capacity)
	}
	return a.NestGrowable()
}
