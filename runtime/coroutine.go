package runtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/rootstack/errors"
	"github.com/wippyai/rootstack/frame"
	"github.com/wippyai/rootstack/task"
)

type event uint8

const (
	evYield event = iota
	evPark
	evDone
)

// coroutine runs one envelope on its own goroutine. It only runs while it
// holds its loop's baton: the loop hands the baton over on resume and blocks
// until the coroutine hands it back on events.
type coroutine struct {
	loop   *loop
	slot   int
	kind   task.Kind
	state  SlotState
	resume chan struct{}
	events chan event
}

func (l *loop) spawn(e task.Envelope, slot int) *coroutine {
	co := &coroutine{
		loop:   l,
		slot:   slot,
		kind:   e.Kind(),
		state:  SlotBound,
		resume: make(chan struct{}),
		events: make(chan event),
	}
	go co.run(e)
	return co
}

func (co *coroutine) run(e task.Envelope) {
	<-co.resume
	defer func() {
		if r := recover(); r != nil {
			err := errors.Panicked(errors.PhaseDispatch, r)
			co.loop.log.Error("task escaped its envelope", zap.Int("slot", co.slot), zap.Error(err))
			e.Abort(err)
		}
		co.events <- evDone
	}()

	p := co.loop.pool
	e.Call(p.ctx, task.Env{
		Slot:      co.slot,
		Stack:     co.loop.arena.Stack(co.slot),
		Runtime:   p.rt,
		Suspender: co,
		Logger:    co.loop.log,
		Track:     p.registry.track,
	})
}

// step hands the baton to the coroutine and returns what it did with it.
func (co *coroutine) step() event {
	co.resume <- struct{}{}
	return <-co.events
}

// Yield implements frame.Suspender.
func (co *coroutine) Yield() {
	co.events <- evYield
	<-co.resume
}

// Park implements frame.Suspender. The coroutine gives up the baton, waits
// for ready or ctx without it, and queues itself on its loop to be resumed.
func (co *coroutine) Park(ctx context.Context, ready <-chan struct{}) error {
	select {
	case <-ready:
		return nil
	default:
	}

	co.events <- evPark
	var err error
	select {
	case <-ready:
	case <-ctx.Done():
		err = ctx.Err()
	}
	co.loop.wakes <- co
	<-co.resume
	return err
}

var _ frame.Suspender = (*coroutine)(nil)
