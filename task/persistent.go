package task

import (
	"context"

	"go.uber.org/zap"
)

type persistent[S, I, O any] struct {
	t PersistentTask[S, I, O]
	d *Dispatch[*Handle[I, O]]
}

// NewPersistent wraps a persistent task. The dispatch resolves to the task's
// handle once Init has succeeded, or to Init's error.
func NewPersistent[S, I, O any](t PersistentTask[S, I, O]) (Envelope, *Dispatch[*Handle[I, O]]) {
	d := newDispatch[*Handle[I, O]]()
	return &persistent[S, I, O]{t: t, d: d}, d
}

func (e *persistent[S, I, O]) Kind() Kind { return KindPersistent }

func (e *persistent[S, I, O]) Abort(err error) { e.d.fail(err) }

func (e *persistent[S, I, O]) Call(ctx context.Context, env Env) {
	log := env.logger().With(zap.Int("slot", env.Slot))

	base, err := baseFrame(env)
	if err != nil {
		e.d.fail(err)
		return
	}
	defer base.Close()

	held := base
	if n := initCapacity(e.t); n > 0 {
		if held, err = base.Nest(n); err != nil {
			e.d.fail(err)
			return
		}
	}

	state, err := guard(func() (S, error) { return e.t.Init(ctx, held) })
	if err != nil {
		log.Debug("persistent init failed", zap.Error(err))
		e.d.fail(err)
		return
	}

	h := &Handle[I, O]{
		ch:     NewChannel[I, O](channelCapacity(e.t)),
		exited: make(chan struct{}),
	}
	untrack := env.track(h)
	if !e.d.resolve(h, nil) {
		h.Close(true)
	}

	runCap := runCapacity(e.t)
	for {
		in, reply, ok, err := h.ch.Recv(ctx, env.Suspender)
		if err != nil {
			log.Debug("persistent receive interrupted", zap.Error(err))
			h.Close(true)
			break
		}
		if !ok {
			break
		}
		out, err := guard(func() (O, error) {
			var zero O
			f, err := nest(held, runCap)
			if err != nil {
				return zero, err
			}
			defer f.Close()
			return e.t.Run(ctx, f, &state, in)
		})
		reply.resolve(out, err)
	}

	if _, err := guard(func() (struct{}, error) {
		e.t.Exit(ctx, held, &state)
		return struct{}{}, nil
	}); err != nil {
		log.Warn("persistent exit failed", zap.Error(err))
	}
	base.Close()
	untrack()
	close(h.exited)
}

var _ Closer = (*Handle[int, int])(nil)
