package frame

import (
	"context"
	"time"

	"github.com/wippyai/rootstack"
	"github.com/wippyai/rootstack/errors"
)

// Suspender hands control back to whatever schedules the task owning a
// frame. Pool loops implement it with coroutines; Inline implements it by
// blocking.
type Suspender interface {
	// Yield suspends the task and resumes it after other ready work ran.
	Yield()
	// Park suspends the task until ready fires or ctx is done.
	Park(ctx context.Context, ready <-chan struct{}) error
}

// Async is a frame whose owner may suspend. The roots it holds stay in place
// while the task is suspended, since its stack is never shared with another
// task.
type Async struct {
	*Frame
	rt   rootstack.Runtime
	susp Suspender
}

// NewAsync wraps f for a task scheduled by susp.
func NewAsync(f *Frame, rt rootstack.Runtime, susp Suspender) *Async {
	if susp == nil {
		susp = Inline{RT: rt}
	}
	return &Async{Frame: f, rt: rt, susp: susp}
}

// Runtime returns the runtime the frame's values belong to.
func (a *Async) Runtime() rootstack.Runtime { return a.rt }

// Nest opens an async child frame. See Frame.Nest.
func (a *Async) Nest(capacity int) (*Async, error) {
	child, err := a.Frame.Nest(capacity)
	if err != nil {
		return nil, err
	}
	return &Async{Frame: child, rt: a.rt, susp: a.susp}, nil
}

// NestGrowable opens a growable async child frame. See Frame.NestGrowable.
func (a *Async) NestGrowable() (*Async, error) {
	child, err := a.Frame.NestGrowable()
	if err != nil {
		return nil, err
	}
	return &Async{Frame: child, rt: a.rt, susp: a.susp}, nil
}

// Suspender returns the suspender that schedules the frame's task.
func (a *Async) Suspender() Suspender { return a.susp }

// Yield lets other tasks and runtime events run.
func (a *Async) Yield(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.susp.Yield()
	return nil
}

// Sleep suspends the task for d.
func (a *Async) Sleep(ctx context.Context, d time.Duration) error {
	ready := make(chan struct{})
	t := time.AfterFunc(d, func() { close(ready) })
	defer t.Stop()
	return a.susp.Park(ctx, ready)
}

// Await suspends the task until done is closed or receives.
func (a *Async) Await(ctx context.Context, done <-chan struct{}) error {
	return a.susp.Park(ctx, done)
}

// CallAsync posts a call of fn to the runtime's event queue and suspends until
// it completes. The result is unrooted; root it before the next suspension.
// If ctx ends first, the call still runs but its result is discarded.
func (a *Async) CallAsync(ctx context.Context, fn rootstack.Ref, args ...rootstack.Ref) (UnrootedResult, error) {
	p := a.rt.Schedule(fn, args...)
	if p == nil {
		return UnrootedResult{}, errors.Unsupported(errors.PhaseCall, "runtime does not schedule calls")
	}
	defer p.Release()
	if err := a.susp.Park(ctx, p.Done()); err != nil {
		return UnrootedResult{}, err
	}
	return p.Result(), nil
}

// AsyncScope runs fn in an async child of a able to hold capacity roots and
// closes it on every exit path.
func AsyncScope[T any](a *Async, capacity int, fn func(child *Async) (T, error)) (T, error) {
	var zero T
	child, err := a.Nest(capacity)
	if err != nil {
		return zero, err
	}
	defer child.Close()
	return fn(child)
}

// Inline is a suspender for code that owns its thread: Yield and Park keep
// the runtime's event queue moving while they wait.
type Inline struct {
	RT rootstack.Runtime
	// Poll is the wait between event passes while parked. Zero means 100µs.
	Poll time.Duration
}

// Yield runs pending runtime events.
func (s Inline) Yield() {
	if s.RT != nil {
		s.RT.ProcessEvents()
		s.RT.Yield()
	}
}

// Park runs runtime events until ready fires or ctx is done.
func (s Inline) Park(ctx context.Context, ready <-chan struct{}) error {
	poll := s.Poll
	if poll <= 0 {
		poll = 100 * time.Microsecond
	}
	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		select {
		case <-ready:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		s.Yield()
		select {
		case <-ready:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
