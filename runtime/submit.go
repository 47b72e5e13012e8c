package runtime

import (
	"context"

	"github.com/wippyai/rootstack/task"
)

// Task schedules a one-shot task on a dedicated slot, waiting while the
// task queue is full.
func Task[T any](ctx context.Context, p *Pool, t task.AsyncTask[T]) (*task.Dispatch[T], error) {
	e, d := task.New(t)
	if err := p.Submit(ctx, e); err != nil {
		return nil, err
	}
	return d, nil
}

// TryTask schedules a one-shot task or fails with a channel-full error when
// the task queue is full.
func TryTask[T any](p *Pool, t task.AsyncTask[T]) (*task.Dispatch[T], error) {
	e, d := task.New(t)
	if err := p.TrySubmit(e); err != nil {
		return nil, err
	}
	return d, nil
}

// BlockingTask runs fn on the main loop's base stack between cooperative
// steps. fn must not suspend.
func BlockingTask[T any](ctx context.Context, p *Pool, fn task.BlockingFunc[T]) (*task.Dispatch[T], error) {
	e, d := task.NewBlocking(fn)
	if err := p.Submit(ctx, e); err != nil {
		return nil, err
	}
	return d, nil
}

// PostBlockingTask runs fn on a dedicated slot. fn must not suspend.
func PostBlockingTask[T any](ctx context.Context, p *Pool, fn task.BlockingFunc[T]) (*task.Dispatch[T], error) {
	e, d := task.NewPostBlocking(fn)
	if err := p.Submit(ctx, e); err != nil {
		return nil, err
	}
	return d, nil
}

// Persistent starts a persistent task. The dispatch resolves to its handle
// after Init succeeded. The task occupies its slot until the handle is
// closed and the pending calls have run.
func Persistent[S, I, O any](ctx context.Context, p *Pool, t task.PersistentTask[S, I, O]) (*task.Dispatch[*task.Handle[I, O]], error) {
	e, d := task.NewPersistent(t)
	if err := p.Submit(ctx, e); err != nil {
		return nil, err
	}
	return d, nil
}

// RegisterTask schedules the one-time registration of a task type.
func RegisterTask(ctx context.Context, p *Pool, r task.Registrar) (*task.Dispatch[struct{}], error) {
	e, d := task.NewRegister(r)
	if err := p.Submit(ctx, e); err != nil {
		return nil, err
	}
	return d, nil
}

// RegisterPersistent schedules the one-time registration of a persistent
// task type.
func RegisterPersistent(ctx context.Context, p *Pool, r task.Registrar) (*task.Dispatch[struct{}], error) {
	e, d := task.NewRegisterPersistent(r)
	if err := p.Submit(ctx, e); err != nil {
		return nil, err
	}
	return d, nil
}

// Include loads a file into the runtime from the main loop.
func Include(ctx context.Context, p *Pool, path string) (*task.Dispatch[struct{}], error) {
	e, d := task.NewInclude(path)
	if err := p.Submit(ctx, e); err != nil {
		return nil, err
	}
	return d, nil
}

// ErrorColor switches colored exception messages from the main loop.
func ErrorColor(ctx context.Context, p *Pool, enable bool) (*task.Dispatch[struct{}], error) {
	e, d := task.NewErrorColor(enable)
	if err := p.Submit(ctx, e); err != nil {
		return nil, err
	}
	return d, nil
}
