package runtime

import (
	goruntime "runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/rootstack/errors"
	"github.com/wippyai/rootstack/stack"
	"github.com/wippyai/rootstack/task"
)

// immediate is always ready; selecting on it makes a receive non-blocking.
var immediate = func() <-chan time.Time {
	c := make(chan time.Time)
	close(c)
	return c
}()

// loop is one worker. It owns an arena of dedicated stacks, runs the
// coroutines bound to them one at a time, and services the runtime between
// steps. Loop 0 is the main loop: it also runs control envelopes and calls
// the runtime's exit hook at shutdown.
type loop struct {
	id      int
	pool    *Pool
	log     *zap.Logger
	arena   *stack.Arena
	free    *freeList
	running map[int]*coroutine
	ready   []*coroutine
	wakes   chan *coroutine

	busy atomic.Int32
}

func newLoop(id int, p *Pool) *loop {
	return &loop{
		id:      id,
		pool:    p,
		log:     p.log.With(zap.Int("worker", id)),
		free:    newFreeList(p.cfg.Slots),
		running: make(map[int]*coroutine, p.cfg.Slots),
		wakes:   make(chan *coroutine, p.cfg.Slots),
	}
}

func (l *loop) main() bool { return l.id == 0 }

// setup prepares the loop on its locked thread.
func (l *loop) setup() error {
	p := l.pool
	if !l.main() {
		if err := p.rt.AdoptThread(); err != nil {
			return errors.Wrap(errors.PhaseRuntime, errors.KindNotInitialized, err, "adopt worker thread")
		}
	}
	arena, err := stack.NewArena(p.rt, p.cfg.Slots, p.cfg.StackOptions())
	if err != nil {
		return err
	}
	l.arena = arena
	if l.main() {
		p.rt.SetErrorColor(p.cfg.ErrorColor)
	}
	return nil
}

func (l *loop) run(started chan<- error) {
	goruntime.LockOSThread()
	defer goruntime.UnlockOSThread()

	if err := l.setup(); err != nil {
		started <- err
		if l.main() {
			l.pool.finish(false)
		}
		return
	}
	started <- nil
	l.log.Debug("loop started", zap.Int("slots", l.pool.cfg.Slots))

	l.serve()

	l.pool.gate.Lock()
	l.arena.Close()
	l.pool.gate.Unlock()
	l.log.Debug("loop stopped")

	// The runtime is shut down from the thread that started it.
	if l.main() {
		l.pool.finish(true)
	}
}

func (l *loop) serve() {
	p := l.pool
	tasks := (<-chan task.Envelope)(p.tasks)
	var control <-chan task.Envelope
	if l.main() {
		control = p.control
	}

	timer := time.NewTimer(p.cfg.RecvTimeout)
	defer timer.Stop()

	for {
		l.turn()
		if tasks == nil && control == nil && len(l.running) == 0 {
			return
		}

		var in <-chan task.Envelope
		if l.free.len() > 0 || p.cancelling.Load() {
			in = tasks
		}
		timeout := immediate
		if len(l.ready) == 0 {
			timer.Reset(p.cfg.RecvTimeout)
			timeout = timer.C
		}

		select {
		case co := <-l.wakes:
			l.ready = append(l.ready, co)
		case e, ok := <-in:
			if !ok {
				tasks = nil
				continue
			}
			l.start(e)
		case e, ok := <-control:
			if !ok {
				control = nil
				continue
			}
			l.inline(e)
		case <-timeout:
			if len(l.ready) == 0 {
				p.gate.Lock()
				p.rt.Yield()
				p.gate.Unlock()
			}
		}
	}
}

// turn steps every ready coroutine once, then lets the runtime run its
// events and collect if a collection is due.
func (l *loop) turn() {
	p := l.pool
	p.gate.Lock()
	defer p.gate.Unlock()

	batch := l.ready
	l.ready = nil
	for _, co := range batch {
		l.step(co)
	}
	p.rt.ProcessEvents()
	p.rt.Safepoint()
}

func (l *loop) step(co *coroutine) {
	if co.state != SlotRunning {
		l.setState(co, SlotRunning)
	}
	switch co.step() {
	case evYield:
		l.ready = append(l.ready, co)
	case evPark:
		l.setState(co, SlotIdle)
	case evDone:
		l.release(co)
	}
}

func (l *loop) start(e task.Envelope) {
	if l.pool.cancelling.Load() {
		e.Abort(errors.Cancelled(errors.PhaseDispatch, "queued "+e.Kind().String()))
		return
	}
	slot, ok := l.free.pop()
	if !ok {
		// Tasks are only received while a slot is free.
		panic("runtime: task received without a free slot")
	}
	co := l.spawn(e, slot)
	l.running[slot] = co
	l.busy.Add(1)
	l.emit(co)
	l.ready = append(l.ready, co)
}

func (l *loop) release(co *coroutine) {
	delete(l.running, co.slot)
	l.free.push(co.slot)
	l.busy.Add(-1)
	l.pool.completed.Add(1)
	l.setState(co, SlotFree)
}

// inline runs a control envelope on the base stack while holding the gate.
func (l *loop) inline(e task.Envelope) {
	p := l.pool
	if p.cancelling.Load() {
		e.Abort(errors.Cancelled(errors.PhaseDispatch, "queued "+e.Kind().String()))
		return
	}
	p.gate.Lock()
	defer p.gate.Unlock()
	e.Call(p.ctx, task.Env{
		Slot:    -1,
		Stack:   l.arena.Base(),
		Runtime: p.rt,
		Logger:  l.log,
		Track:   p.registry.track,
	})
	p.completed.Add(1)
}

func (l *loop) setState(co *coroutine, s SlotState) {
	co.state = s
	l.emit(co)
}

func (l *loop) emit(co *coroutine) {
	if obs := l.pool.observer; obs != nil {
		obs.SlotChanged(SlotEvent{Worker: l.id, Slot: co.slot, State: co.state, Kind: co.kind})
	}
}
