package runtime

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/rootstack"
	"github.com/wippyai/rootstack/cache"
	"github.com/wippyai/rootstack/errors"
	"github.com/wippyai/rootstack/heap"
	"github.com/wippyai/rootstack/task"
)

// Pool schedules task envelopes onto worker loops bound to one runtime.
// It is safe for concurrent use.
type Pool struct {
	rt       rootstack.Runtime
	cfg      Config
	log      *zap.Logger
	observer Observer
	globals  *cache.Globals
	registry *registry

	ctx       context.Context
	cancelCtx context.CancelFunc

	tasks   chan task.Envelope
	control chan task.Envelope

	// mu guards closed against sends on the queues.
	mu       sync.RWMutex
	closed   bool
	quit     chan struct{}
	quitOnce sync.Once

	cancelling atomic.Bool

	// gate serializes every entry into the runtime across loops.
	gate sync.Mutex

	loops   []*loop
	workers sync.WaitGroup
	done    chan struct{}

	errMu sync.Mutex
	errs  error

	submitted atomic.Uint64
	completed atomic.Uint64
}

// New starts a pool on rt. It returns once every loop has set up its arena,
// or with the combined setup errors after shutting the started loops down.
func New(rt rootstack.Runtime, opts ...Option) (*Pool, error) {
	if rt == nil {
		return nil, errors.NotInitialized(errors.PhaseRuntime, "runtime")
	}
	o := options{cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	log := o.logger
	if log == nil {
		log = Logger()
	}
	globals := o.globals
	if globals == nil {
		globals = cache.New()
	}
	if err := globals.Link(rt); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		rt:        rt,
		cfg:       o.cfg,
		log:       log,
		observer:  o.observer,
		globals:   globals,
		registry:  newRegistry(),
		ctx:       ctx,
		cancelCtx: cancel,
		tasks:     make(chan task.Envelope, o.cfg.ChannelCapacity),
		control:   make(chan task.Envelope, o.cfg.ControlCapacity),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	started := make(chan error, o.cfg.Workers)
	for i := 0; i < o.cfg.Workers; i++ {
		p.loops = append(p.loops, newLoop(i, p))
	}
	p.workers.Add(len(p.loops) - 1)
	go func() {
		defer close(p.done)
		p.loops[0].run(started)
	}()
	for _, l := range p.loops[1:] {
		go func(l *loop) {
			defer p.workers.Done()
			l.run(started)
		}(l)
	}

	var err error
	for range p.loops {
		err = multierr.Append(err, <-started)
	}
	if err != nil {
		p.log.Error("pool setup failed", zap.Error(err))
		_ = p.Cancel(context.Background())
		return nil, err
	}

	p.log.Info("pool started",
		zap.Int("workers", o.cfg.Workers),
		zap.Int("slots", o.cfg.Slots),
		zap.Int("channel_capacity", o.cfg.ChannelCapacity))
	return p, nil
}

// finish runs on the main loop's thread after it stopped serving.
func (p *Pool) finish(exit bool) {
	p.workers.Wait()
	if exit {
		p.gate.Lock()
		err := p.rt.AtExit()
		p.gate.Unlock()
		if err != nil {
			p.log.Error("runtime exit failed", zap.Error(err))
			p.recordErr(err)
		}
	}
	p.globals.Teardown()
	p.cancelCtx()
	p.log.Info("pool stopped",
		zap.Uint64("submitted", p.submitted.Load()),
		zap.Uint64("completed", p.completed.Load()))
}

func (p *Pool) recordErr(err error) {
	p.errMu.Lock()
	p.errs = multierr.Append(p.errs, err)
	p.errMu.Unlock()
}

// send queues e on q. With wait unset a full queue fails at once.
func (p *Pool) send(ctx context.Context, q chan task.Envelope, e task.Envelope, wait bool) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errors.ChannelClosed(errors.PhaseDispatch, "pool")
	}
	if !wait {
		select {
		case q <- e:
			p.submitted.Add(1)
			return nil
		default:
			return errors.ChannelFull(errors.PhaseDispatch, "pool")
		}
	}
	select {
	case q <- e:
		p.submitted.Add(1)
		return nil
	case <-p.quit:
		return errors.ChannelClosed(errors.PhaseDispatch, "pool")
	case <-ctx.Done():
		return errors.Wrap(errors.PhaseDispatch, errors.KindCancelled, ctx.Err(), "submit "+e.Kind().String())
	}
}

// Submit queues e, waiting for queue capacity. Inline kinds go to the main
// loop's control queue.
func (p *Pool) Submit(ctx context.Context, e task.Envelope) error {
	return p.send(ctx, p.queue(e), e, true)
}

// TrySubmit queues e or fails with a channel-full error.
func (p *Pool) TrySubmit(e task.Envelope) error {
	return p.send(context.Background(), p.queue(e), e, false)
}

func (p *Pool) queue(e task.Envelope) chan task.Envelope {
	if e.Kind().Inline() {
		return p.control
	}
	return p.tasks
}

// Close stops accepting work, closes live persistent handles so they exit
// after their pending calls, runs every queued task and waits for the
// runtime to exit. A ctx error leaves the shutdown running in the
// background.
func (p *Pool) Close(ctx context.Context) error {
	return p.shutdown(ctx, false)
}

// Cancel is Close, except that queued tasks and pending persistent calls
// fail with a cancelled error instead of running. Running tasks finish.
func (p *Pool) Cancel(ctx context.Context) error {
	return p.shutdown(ctx, true)
}

func (p *Pool) shutdown(ctx context.Context, cancel bool) error {
	if cancel {
		p.cancelling.Store(true)
	}
	p.quitOnce.Do(func() { close(p.quit) })

	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
		close(p.control)
	}
	p.mu.Unlock()

	p.registry.closeAll(cancel)

	select {
	case <-p.done:
	case <-ctx.Done():
		return errors.Wrap(errors.PhaseRuntime, errors.KindCancelled, ctx.Err(), "wait for pool shutdown")
	}

	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.errs
}

// Done is closed once the pool has shut down.
func (p *Pool) Done() <-chan struct{} { return p.done }

// Runtime returns the runtime the pool is bound to.
func (p *Pool) Runtime() rootstack.Runtime { return p.rt }

// Config returns the pool configuration.
func (p *Pool) Config() Config { return p.cfg }

// Globals returns the global cache linked into the pool's runtime.
func (p *Pool) Globals() *cache.Globals { return p.globals }

// Stats is a snapshot of pool activity.
type Stats struct {
	Workers    int
	Slots      int
	Free       int
	Running    int
	Queued     int
	Submitted  uint64
	Completed  uint64
	Persistent int
	Cache      cache.Stats
	// Heap is set when the runtime reports collector statistics.
	Heap *heap.Stats
}

// Stats returns a snapshot of pool activity.
func (p *Pool) Stats() Stats {
	s := Stats{
		Workers:    len(p.loops),
		Slots:      len(p.loops) * p.cfg.Slots,
		Queued:     len(p.tasks),
		Submitted:  p.submitted.Load(),
		Completed:  p.completed.Load(),
		Persistent: p.registry.len(),
		Cache:      p.globals.Stats(),
	}
	for _, l := range p.loops {
		s.Running += int(l.busy.Load())
	}
	s.Free = s.Slots - s.Running
	if src, ok := p.rt.(interface{ Stats() heap.Stats }); ok {
		hs := src.Stats()
		s.Heap = &hs
	}
	return s
}
