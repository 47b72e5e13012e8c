// Package rootstack keeps objects owned by an embedded garbage-collected
// runtime alive while Go code references them.
//
// Every reference the host holds must live in a root slot the collector can
// see. Root slots are organized as a shadow stack that mirrors the Go call
// stack: each lexical scope opens a Frame, roots the values it creates, and
// pops them on exit. Results escape nested scopes through one-shot Output
// tokens that write into a slot reserved in an ancestor frame ahead of time.
//
// # Architecture Overview
//
//	rootstack/           Root package with the Ref, RootSet and Runtime boundary types
//	├── stack/           Shadow stack pages, regions and per-slot stack arenas
//	├── frame/           Frames, async frames, Outputs, reusable slots and scopes
//	├── task/            Type-erased task envelopes, dispatches and persistent handles
//	├── runtime/         Worker pool, cooperative loops, config and observers
//	├── heap/            Reference managed runtime with a mark-sweep collector
//	├── ledger/          Borrow ledger for tracked array data
//	├── cache/           Process-wide global lookup cache
//	└── errors/          Structured error types
//
// # Quick Start
//
// Root values in a local frame:
//
//	rt := heap.New(ctx, heap.Config{})
//	local, err := runtime.NewLocal(rt, stack.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer local.Close()
//
//	n, err := runtime.Scope(local, func(f *frame.Frame) (int64, error) {
//	    v, err := f.Root(rt.NewInt(42))
//	    ...
//	})
//
// Run tasks on the pool:
//
//	pool, err := runtime.New(rt, runtime.WithConfig(cfg))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.Close(ctx)
//
//	d, err := runtime.Task[int64](ctx, pool, task.Func[int64](func(ctx context.Context, f *frame.Async) (int64, error) {
//	    ...
//	}))
//	n, err := d.Wait(ctx)
//
// # Concurrency
//
// The embedded runtime may only be entered by one unit of managed code at a
// time. Each pool loop runs on a locked OS thread and drives its tasks as
// cooperative coroutines; loops share a gate so the collector only runs when
// every shadow stack is consistent. Tasks suspend only at Yield, Sleep, Await,
// CallAsync and while waiting for persistent task input.
package rootstack
