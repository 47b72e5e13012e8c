package rootstack_test

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wippyai/rootstack"
	"github.com/wippyai/rootstack/errors"
	"github.com/wippyai/rootstack/frame"
	"github.com/wippyai/rootstack/heap"
	"github.com/wippyai/rootstack/runtime"
	"github.com/wippyai/rootstack/task"
)

// addWasm exports add(i64, i64) -> i64.
var addWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7e, 0x7e, 0x01, 0x7e,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x07, 0x01, 0x03, 0x61, 0x64, 0x64, 0x00, 0x00,
	0x0a, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x7c, 0x0b,
}

func TestRefString(t *testing.T) {
	tests := []struct {
		ref  rootstack.Ref
		want string
	}{
		{rootstack.Null, "ref(null)"},
		{rootstack.Ref(0x2a), "ref(0x2a)"},
	}
	for _, tt := range tests {
		if got := tt.ref.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", uint64(tt.ref), got, tt.want)
		}
	}
	if !rootstack.Null.IsNull() || rootstack.Ref(1).IsNull() {
		t.Error("IsNull mismatch")
	}
}

// sumTask adds 1..n through the included wasm function, keeping the running
// sum in an output slot of the task frame while every addition allocates
// scratch values in a nested scope.
func sumTask(rt *heap.Runtime, n int64) task.Func[int64] {
	return func(ctx context.Context, f *frame.Async) (int64, error) {
		add, err := rt.Function("add")
		if err != nil {
			return 0, err
		}
		acc, err := f.ReusableSlot()
		if err != nil {
			return 0, err
		}
		if _, err := acc.Root(rt.NewInt(0)); err != nil {
			return 0, err
		}
		for i := int64(1); i <= n; i++ {
			next, err := frame.ValueScopeWithSlots(f.Frame, 1, func(out frame.Output, child *frame.Frame) (frame.Value, error) {
				x, err := child.Root(rt.NewInt(i))
				if err != nil {
					return frame.Value{}, err
				}
				r, err := f.CallAsync(ctx, add, acc.Get(), x.Ref())
				if err != nil {
					return frame.Value{}, err
				}
				res, err := frame.RootResult(out, r)
				if err != nil {
					return frame.Value{}, err
				}
				return res.Value, res.Err()
			})
			if err != nil {
				return 0, err
			}
			if _, err := acc.Root(next.Ref()); err != nil {
				return 0, err
			}
		}
		return rt.Int(acc.Get())
	}
}

func TestPoolUnderCollectionPressure(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "math.wasm"), addWasm, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := runtime.DefaultConfig()
	cfg.Slots = 3
	cfg.Workers = 2
	cfg.GCThreshold = 8
	cfg.RuntimeDir = dir
	rt := heap.New(context.Background(), cfg.HeapConfig())
	pool, err := runtime.New(rt, runtime.WithConfig(cfg))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	inc, err := runtime.Include(ctx, pool, "math.wasm")
	if err != nil {
		t.Fatalf("Include: %v", err)
	}
	if _, err := inc.Wait(ctx); err != nil {
		t.Fatalf("include: %v", err)
	}

	const tasks = 12
	ds := make([]*task.Dispatch[int64], tasks)
	for i := range ds {
		n := int64(10 + i)
		if ds[i], err = runtime.Task[int64](ctx, pool, sumTask(rt, n)); err != nil {
			t.Fatalf("Task %d: %v", i, err)
		}
	}
	for i, d := range ds {
		n := int64(10 + i)
		got, err := d.Wait(ctx)
		if want := n * (n + 1) / 2; err != nil || got != want {
			t.Errorf("sum(1..%d) = %d, %v; want %d", n, got, err, want)
		}
	}

	st := pool.Stats()
	if err := pool.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if st.Heap == nil || st.Heap.Collections == 0 {
		t.Errorf("no collections ran: %+v", st.Heap)
	}
	if st.Completed < tasks {
		t.Errorf("Completed = %d, want at least %d", st.Completed, tasks)
	}
	if !rt.Exited() {
		t.Error("runtime not exited after Close")
	}
}

func TestExceptionsCrossTheBoundary(t *testing.T) {
	rt := heap.New(context.Background(), heap.Config{GCThreshold: -1})
	rt.Register("fail", func(rt *heap.Runtime, _ []rootstack.Ref) (rootstack.Ref, error) {
		return rootstack.Null, heap.Throw(rt.NewException("nope"))
	})
	pool, err := runtime.New(rt)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	defer func() { _ = pool.Close(ctx) }()

	d, err := runtime.Task[string](ctx, pool, task.Func[string](func(ctx context.Context, f *frame.Async) (string, error) {
		fn, err := rt.Function("fail")
		if err != nil {
			return "", err
		}
		res, err := frame.RootResult(f, f.Runtime().Call(fn))
		if err != nil {
			return "", err
		}
		if !res.Exception {
			return "", nil
		}
		return rt.ExceptionMessage(res.Value.Ref())
	}))
	if err != nil {
		t.Fatalf("Task: %v", err)
	}
	msg, err := d.Wait(ctx)
	if err != nil || msg != "nope" {
		t.Errorf("exception message = %q, %v; want nope", msg, err)
	}

	d2, err := runtime.Task[struct{}](ctx, pool, task.Func[struct{}](func(ctx context.Context, f *frame.Async) (struct{}, error) {
		fn, err := rt.Function("fail")
		if err != nil {
			return struct{}{}, err
		}
		res, err := frame.RootResult(f, f.Runtime().Call(fn))
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, res.Err()
	}))
	if err != nil {
		t.Fatalf("Task: %v", err)
	}
	if _, err := d2.Wait(ctx); !stderrors.Is(err, errors.ErrException) {
		t.Errorf("Err = %v, want exception", err)
	}
}
