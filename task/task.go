package task

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/rootstack/frame"
)

// DefaultChannelCapacity is the follow-up channel capacity of a persistent
// task that does not implement ChannelCapacity.
const DefaultChannelCapacity = 16

// AsyncTask is a one-shot task. Run executes on a dedicated slot and may
// suspend through f.
type AsyncTask[T any] interface {
	Run(ctx context.Context, f *frame.Async) (T, error)
}

// Registrar does one-time setup for a task type, such as defining the
// runtime functions its Run calls.
type Registrar interface {
	Register(ctx context.Context, f *frame.Async) error
}

// PersistentTask holds state of type S across calls. Init runs once on a
// frame that stays open for the task's lifetime, so values it roots there
// may be kept in the state. Run handles one call on a frame nested in it.
// Exit runs after the last call.
type PersistentTask[S, I, O any] interface {
	Init(ctx context.Context, f *frame.Async) (S, error)
	Run(ctx context.Context, f *frame.Async, state *S, input I) (O, error)
	Exit(ctx context.Context, f *frame.Async, state *S)
}

// RunCapacity is implemented by tasks that know how many roots Run needs.
// Without it, Run gets a frame that grows on demand.
type RunCapacity interface {
	RunCapacity() int
}

// InitCapacity is implemented by persistent tasks that know how many roots
// Init needs.
type InitCapacity interface {
	InitCapacity() int
}

// ChannelCapacity is implemented by persistent tasks that want a follow-up
// channel other than DefaultChannelCapacity.
type ChannelCapacity interface {
	ChannelCapacity() int
}

// Func adapts a function to AsyncTask.
type Func[T any] func(ctx context.Context, f *frame.Async) (T, error)

// Run calls fn.
func (fn Func[T]) Run(ctx context.Context, f *frame.Async) (T, error) { return fn(ctx, f) }

// RegisterFunc adapts a function to Registrar.
type RegisterFunc func(ctx context.Context, f *frame.Async) error

// Register calls fn.
func (fn RegisterFunc) Register(ctx context.Context, f *frame.Async) error { return fn(ctx, f) }

// PersistentFuncs adapts functions to PersistentTask. Nil hooks are no-ops.
type PersistentFuncs[S, I, O any] struct {
	OnInit func(ctx context.Context, f *frame.Async) (S, error)
	OnRun  func(ctx context.Context, f *frame.Async, state *S, input I) (O, error)
	OnExit func(ctx context.Context, f *frame.Async, state *S)
	// Capacity of the follow-up channel; 0 means DefaultChannelCapacity.
	Capacity int
}

func (p PersistentFuncs[S, I, O]) Init(ctx context.Context, f *frame.Async) (S, error) {
	if p.OnInit == nil {
		var zero S
		return zero, nil
	}
	return p.OnInit(ctx, f)
}

func (p PersistentFuncs[S, I, O]) Run(ctx context.Context, f *frame.Async, state *S, input I) (O, error) {
	if p.OnRun == nil {
		var zero O
		return zero, nil
	}
	return p.OnRun(ctx, f, state, input)
}

func (p PersistentFuncs[S, I, O]) Exit(ctx context.Context, f *frame.Async, state *S) {
	if p.OnExit != nil {
		p.OnExit(ctx, f, state)
	}
}

func (p PersistentFuncs[S, I, O]) ChannelCapacity() int { return p.Capacity }

func capacity[C any](t any, get func(C) int) int {
	if c, ok := t.(C); ok {
		return get(c)
	}
	return 0
}

func runCapacity(t any) int {
	return capacity(t, RunCapacity.RunCapacity)
}

func initCapacity(t any) int {
	return capacity(t, InitCapacity.InitCapacity)
}

func channelCapacity(t any) int {
	if n := capacity(t, ChannelCapacity.ChannelCapacity); n > 0 {
		return n
	}
	return DefaultChannelCapacity
}

type oneShot[T any] struct {
	t AsyncTask[T]
	d *Dispatch[T]
}

// New wraps a one-shot task.
func New[T any](t AsyncTask[T]) (Envelope, *Dispatch[T]) {
	d := newDispatch[T]()
	return &oneShot[T]{t: t, d: d}, d
}

func (e *oneShot[T]) Kind() Kind { return KindTask }

func (e *oneShot[T]) Abort(err error) { e.d.fail(err) }

func (e *oneShot[T]) Call(ctx context.Context, env Env) {
	v, err := guard(func() (T, error) {
		var zero T
		base, err := baseFrame(env)
		if err != nil {
			return zero, err
		}
		defer base.Close()
		if n := runCapacity(e.t); n > 0 {
			return frame.AsyncScope(base, n, func(f *frame.Async) (T, error) {
				return e.t.Run(ctx, f)
			})
		}
		return e.t.Run(ctx, base)
	})
	if err != nil {
		env.logger().Debug("task failed", zap.Int("slot", env.Slot), zap.Error(err))
	}
	e.d.resolve(v, err)
}

type register struct {
	r    Registrar
	d    *Dispatch[struct{}]
	kind Kind
}

// NewRegister wraps the registration of a one-shot task type.
func NewRegister(r Registrar) (Envelope, *Dispatch[struct{}]) {
	d := newDispatch[struct{}]()
	return &register{r: r, d: d, kind: KindRegister}, d
}

// NewRegisterPersistent wraps the registration of a persistent task type.
func NewRegisterPersistent(r Registrar) (Envelope, *Dispatch[struct{}]) {
	d := newDispatch[struct{}]()
	return &register{r: r, d: d, kind: KindRegisterPersistent}, d
}

func (e *register) Kind() Kind { return e.kind }

func (e *register) Abort(err error) { e.d.fail(err) }

func (e *register) Call(ctx context.Context, env Env) {
	_, err := guard(func() (struct{}, error) {
		base, err := baseFrame(env)
		if err != nil {
			return struct{}{}, err
		}
		defer base.Close()
		return struct{}{}, e.r.Register(ctx, base)
	})
	e.d.resolve(struct{}{}, err)
}

// BlockingFunc is a synchronous closure run on a rooting frame.
type BlockingFunc[T any] func(ctx context.Context, f *frame.Frame) (T, error)

type blocking[T any] struct {
	fn   BlockingFunc[T]
	d    *Dispatch[T]
	kind Kind
}

// NewBlocking wraps a closure that runs inline on a loop's base stack.
func NewBlocking[T any](fn BlockingFunc[T]) (Envelope, *Dispatch[T]) {
	d := newDispatch[T]()
	return &blocking[T]{fn: fn, d: d, kind: KindBlocking}, d
}

// NewPostBlocking wraps a closure that runs on a dedicated slot without ever
// suspending.
func NewPostBlocking[T any](fn BlockingFunc[T]) (Envelope, *Dispatch[T]) {
	d := newDispatch[T]()
	return &blocking[T]{fn: fn, d: d, kind: KindPostBlocking}, d
}

func (e *blocking[T]) Kind() Kind { return e.kind }

func (e *blocking[T]) Abort(err error) { e.d.fail(err) }

func (e *blocking[T]) Call(ctx context.Context, env Env) {
	v, err := guard(func() (T, error) {
		var zero T
		f, err := frame.New(env.Stack)
		if err != nil {
			return zero, err
		}
		defer f.Close()
		return e.fn(ctx, f)
	})
	e.d.resolve(v, err)
}

type include struct {
	path string
	d    *Dispatch[struct{}]
}

// NewInclude wraps loading a file into the runtime.
func NewInclude(path string) (Envelope, *Dispatch[struct{}]) {
	d := newDispatch[struct{}]()
	return &include{path: path, d: d}, d
}

func (e *include) Kind() Kind { return KindInclude }

func (e *include) Abort(err error) { e.d.fail(err) }

func (e *include) Call(_ context.Context, env Env) {
	_, err := guard(func() (struct{}, error) {
		return struct{}{}, env.Runtime.Include(e.path)
	})
	if err != nil {
		env.logger().Warn("include failed", zap.String("path", e.path), zap.Error(err))
	}
	e.d.resolve(struct{}{}, err)
}

type errorColor struct {
	enable bool
	d      *Dispatch[struct{}]
}

// NewErrorColor wraps switching exception coloring on or off.
func NewErrorColor(enable bool) (Envelope, *Dispatch[struct{}]) {
	d := newDispatch[struct{}]()
	return &errorColor{enable: enable, d: d}, d
}

func (e *errorColor) Kind() Kind { return KindErrorColor }

func (e *errorColor) Abort(err error) { e.d.fail(err) }

func (e *errorColor) Call(_ context.Context, env Env) {
	env.Runtime.SetErrorColor(e.enable)
	e.d.resolve(struct{}{}, nil)
}
