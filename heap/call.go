package heap

import (
	stderrors "errors"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/rootstack"
	"github.com/wippyai/rootstack/errors"
)

// Thrown is returned by a native function to raise a specific exception.
type Thrown struct {
	Exception rootstack.Ref
}

func (t *Thrown) Error() string { return fmt.Sprintf("thrown %v", t.Exception) }

// Throw raises exc from a native function.
func Throw(exc rootstack.Ref) error { return &Thrown{Exception: exc} }

// Register creates a function object for fn and binds it as a global.
func (rt *Runtime) Register(name string, fn NativeFunc) rootstack.Ref {
	r := rt.alloc(object{kind: KindFunction, fn: &function{name: name, native: fn}})
	rt.SetGlobal(name, r)
	return r
}

// Call implements rootstack.Runtime. Exceptions, errors and panics raised
// by the callee are caught here and returned as an exception result.
func (rt *Runtime) Call(fn rootstack.Ref, args ...rootstack.Ref) (res rootstack.Result) {
	o, err := rt.get(fn)
	if err != nil {
		return rt.raise("UndefRefError: %v", err)
	}
	if o.kind != KindFunction {
		return rt.raise("MethodError: objects of type %s are not callable", o.kind)
	}
	f := o.fn

	rt.enter()
	defer rt.leave()
	defer func() {
		if r := recover(); r != nil {
			res = rt.raise("%s: panic: %v", f.name, r)
		}
	}()

	var v rootstack.Ref
	if f.native != nil {
		v, err = f.native(rt, args)
	} else {
		v, err = rt.callWasm(f, args)
	}
	if err != nil {
		var thrown *Thrown
		if stderrors.As(err, &thrown) {
			return rootstack.Result{Value: thrown.Exception, Exception: true}
		}
		return rt.raise("%s: %v", f.name, err)
	}
	return rootstack.Result{Value: v}
}

func (rt *Runtime) raise(format string, args ...any) rootstack.Result {
	return rootstack.Result{Value: rt.NewException(fmt.Sprintf(format, args...)), Exception: true}
}

func (rt *Runtime) enter() {
	rt.mu.Lock()
	rt.inCall++
	rt.mu.Unlock()
}

func (rt *Runtime) leave() {
	rt.mu.Lock()
	rt.inCall--
	rt.mu.Unlock()
}

func (rt *Runtime) callWasm(f *function, args []rootstack.Ref) (rootstack.Ref, error) {
	if len(args) != len(f.params) {
		return rootstack.Null, errors.InvalidInput(errors.PhaseCall,
			fmt.Sprintf("%s takes %d arguments, got %d", f.name, len(f.params), len(args)))
	}

	params := make([]uint64, len(args))
	for i, vt := range f.params {
		switch vt {
		case api.ValueTypeI32, api.ValueTypeI64:
			v, err := rt.Int(args[i])
			if err != nil {
				return rootstack.Null, err
			}
			if vt == api.ValueTypeI32 {
				params[i] = api.EncodeI32(int32(v))
			} else {
				params[i] = api.EncodeI64(v)
			}
		case api.ValueTypeF32, api.ValueTypeF64:
			v, err := rt.Float(args[i])
			if err != nil {
				return rootstack.Null, err
			}
			if vt == api.ValueTypeF32 {
				params[i] = api.EncodeF32(float32(v))
			} else {
				params[i] = api.EncodeF64(v)
			}
		default:
			return rootstack.Null, errors.Unsupported(errors.PhaseCall, "parameter type "+api.ValueTypeName(vt))
		}
	}

	out, err := f.wasm.Call(rt.ctx, params...)
	if err != nil {
		return rootstack.Null, err
	}
	if len(f.results) == 0 {
		return rootstack.Null, nil
	}

	switch f.results[0] {
	case api.ValueTypeI32:
		return rt.NewInt(int64(api.DecodeI32(out[0]))), nil
	case api.ValueTypeI64:
		return rt.NewInt(int64(out[0])), nil
	case api.ValueTypeF32:
		return rt.NewFloat(float64(api.DecodeF32(out[0]))), nil
	default:
		return rt.NewFloat(api.DecodeF64(out[0])), nil
	}
}

// Future is a call scheduled with Schedule. Its arguments and, once it
// completes, its result are kept alive by the runtime until Release.
type Future struct {
	rt       *Runtime
	done     chan struct{}
	fn       rootstack.Ref
	args     []rootstack.Ref
	result   rootstack.Result
	finished bool
	released bool
}

// Schedule implements rootstack.Runtime. The call runs during a later
// ProcessEvents.
func (rt *Runtime) Schedule(fn rootstack.Ref, args ...rootstack.Ref) rootstack.Pending {
	fut := &Future{
		rt:   rt,
		done: make(chan struct{}),
		fn:   fn,
		args: append([]rootstack.Ref(nil), args...),
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.pinLocked(fn)
	for _, a := range fut.args {
		rt.pinLocked(a)
	}
	rt.queue = append(rt.queue, fut)
	return fut
}

func (rt *Runtime) complete(fut *Future, res rootstack.Result) {
	rt.mu.Lock()
	rt.unpinLocked(fut.fn)
	for _, a := range fut.args {
		rt.unpinLocked(a)
	}
	fut.result = res
	fut.finished = true
	if !fut.released {
		rt.pinLocked(res.Value)
	}
	rt.mu.Unlock()
	close(fut.done)
}

func (rt *Runtime) pinLocked(r rootstack.Ref) {
	if !r.IsNull() {
		rt.pinned[r]++
	}
}

func (rt *Runtime) unpinLocked(r rootstack.Ref) {
	if r.IsNull() {
		return
	}
	if n := rt.pinned[r]; n > 1 {
		rt.pinned[r] = n - 1
	} else {
		delete(rt.pinned, r)
	}
}

// Done implements rootstack.Pending.
func (f *Future) Done() <-chan struct{} { return f.done }

// Result implements rootstack.Pending. It is only meaningful after Done.
func (f *Future) Result() rootstack.Result {
	f.rt.mu.Lock()
	defer f.rt.mu.Unlock()
	return f.result
}

// Release implements rootstack.Pending.
func (f *Future) Release() {
	f.rt.mu.Lock()
	defer f.rt.mu.Unlock()
	if f.released {
		return
	}
	f.released = true
	if f.finished {
		f.rt.unpinLocked(f.result.Value)
	}
}
