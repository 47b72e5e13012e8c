package heap_test

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wippyai/rootstack"
	"github.com/wippyai/rootstack/errors"
	"github.com/wippyai/rootstack/frame"
	"github.com/wippyai/rootstack/heap"
	"github.com/wippyai/rootstack/ledger"
	"github.com/wippyai/rootstack/stack"
)

// addWasm exports add(i64, i64) -> i64.
var addWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7e, 0x7e, 0x01, 0x7e,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x07, 0x01, 0x03, 0x61, 0x64, 0x64, 0x00, 0x00,
	0x0a, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x7c, 0x0b,
}

func newRuntime(t *testing.T) *heap.Runtime {
	t.Helper()
	rt := heap.New(context.Background(), heap.Config{GCThreshold: -1})
	t.Cleanup(func() { _ = rt.AtExit() })
	return rt
}

func newFrame(t *testing.T, rt *heap.Runtime) *frame.Frame {
	t.Helper()
	s, err := stack.New(rt, stack.Options{})
	if err != nil {
		t.Fatalf("stack.New: %v", err)
	}
	t.Cleanup(s.Close)
	f, err := frame.New(s)
	if err != nil {
		t.Fatalf("frame.New: %v", err)
	}
	return f
}

func TestAccessors(t *testing.T) {
	rt := newRuntime(t)

	i := rt.NewInt(42)
	if v, err := rt.Int(i); err != nil || v != 42 {
		t.Errorf("Int = %d, %v; want 42", v, err)
	}
	fl := rt.NewFloat(1.5)
	if v, err := rt.Float(fl); err != nil || v != 1.5 {
		t.Errorf("Float = %v, %v; want 1.5", v, err)
	}
	s := rt.NewString("hello")
	if v, err := rt.String(s); err != nil || v != "hello" {
		t.Errorf("String = %q, %v", v, err)
	}
	if _, err := rt.Int(s); !stderrors.Is(err, &errors.Error{Kind: errors.KindTypeMismatch}) {
		t.Errorf("Int on string: got %v, want type mismatch", err)
	}
	if k := rt.KindOf(fl); k != heap.KindFloat {
		t.Errorf("KindOf = %v, want %v", k, heap.KindFloat)
	}
	tup := rt.NewTuple(i, s)
	if f, err := rt.Field(tup, 1); err != nil || f != s {
		t.Errorf("Field(1) = %v, %v; want %v", f, err, s)
	}
	if _, err := rt.Field(tup, 2); err == nil {
		t.Error("Field(2) of a 2-tuple should fail")
	}
}

func TestSymbolsInterned(t *testing.T) {
	rt := newRuntime(t)

	a := rt.Symbol("x")
	b := rt.Symbol("x")
	if a != b {
		t.Fatalf("Symbol(x) returned %v and %v", a, b)
	}
	rt.Collect()
	if !rt.IsLive(a) {
		t.Error("symbols must never be collected")
	}
}

func TestCollectRootedOnly(t *testing.T) {
	rt := newRuntime(t)
	f := newFrame(t, rt)

	kept := rt.NewInt(1)
	if _, err := f.Root(kept); err != nil {
		t.Fatalf("Root: %v", err)
	}
	lost := rt.NewInt(2)

	if freed := rt.Collect(); freed != 1 {
		t.Errorf("Collect freed %d, want 1", freed)
	}
	if !rt.IsLive(kept) {
		t.Error("rooted value was collected")
	}
	if rt.IsLive(lost) {
		t.Error("unrooted value survived collection")
	}

	f.Close()
	rt.Collect()
	if rt.IsLive(kept) {
		t.Error("value survived after its frame closed")
	}
}

func TestStaleRefDetected(t *testing.T) {
	rt := newRuntime(t)

	old := rt.NewInt(1)
	rt.Collect()
	reused := rt.NewInt(2)
	if reused == old {
		t.Fatal("reused slot produced the same reference")
	}
	if _, err := rt.Int(old); !stderrors.Is(err, errors.ErrInvalidRef) {
		t.Errorf("Int(stale) = %v, want invalid ref", err)
	}
	if v, _ := rt.Int(reused); v != 2 {
		t.Errorf("Int(reused) = %d, want 2", v)
	}
}

func TestCollectTraversesTuples(t *testing.T) {
	rt := newRuntime(t)
	f := newFrame(t, rt)

	a := rt.NewInt(1)
	b := rt.NewString("b")
	tup := rt.NewTuple(a, b)
	if _, err := f.Root(tup); err != nil {
		t.Fatalf("Root: %v", err)
	}
	rt.Collect()
	for _, r := range []rootstack.Ref{a, b, tup} {
		if !rt.IsLive(r) {
			t.Errorf("%v reachable through a rooted tuple was collected", r)
		}
	}
}

func TestGlobalsAreRoots(t *testing.T) {
	rt := newRuntime(t)

	v := rt.NewString("global")
	rt.SetGlobal("g", v)
	rt.Collect()
	if !rt.IsLive(v) {
		t.Fatal("global was collected")
	}
	got, err := rt.Global("g")
	if err != nil || got != v {
		t.Errorf("Global(g) = %v, %v", got, err)
	}
	if _, err := rt.Global("missing"); !stderrors.Is(err, errors.ErrNotFound) {
		t.Errorf("Global(missing) = %v, want not found", err)
	}
}

func TestUnlinkedStackIsNotScanned(t *testing.T) {
	rt := newRuntime(t)
	s, err := stack.New(rt, stack.Options{})
	if err != nil {
		t.Fatalf("stack.New: %v", err)
	}
	f, _ := frame.New(s)
	v := rt.NewInt(7)
	_, _ = f.Root(v)
	if got := rt.Stats().RootSets; got != 1 {
		t.Fatalf("RootSets = %d, want 1", got)
	}

	f.Close()
	s.Close()
	if got := rt.Stats().RootSets; got != 0 {
		t.Errorf("RootSets after Close = %d, want 0", got)
	}
	rt.Collect()
	if rt.IsLive(v) {
		t.Error("value rooted on a closed stack survived")
	}
}

func TestCall(t *testing.T) {
	rt := newRuntime(t)

	rt.Register("add", func(rt *heap.Runtime, args []rootstack.Ref) (rootstack.Ref, error) {
		a, err := rt.Int(args[0])
		if err != nil {
			return rootstack.Null, err
		}
		b, err := rt.Int(args[1])
		if err != nil {
			return rootstack.Null, err
		}
		return rt.NewInt(a + b), nil
	})
	rt.Register("fail", func(*heap.Runtime, []rootstack.Ref) (rootstack.Ref, error) {
		return rootstack.Null, stderrors.New("boom")
	})
	rt.Register("throw", func(rt *heap.Runtime, _ []rootstack.Ref) (rootstack.Ref, error) {
		return rootstack.Null, heap.Throw(rt.NewException("custom"))
	})
	rt.Register("panic", func(*heap.Runtime, []rootstack.Ref) (rootstack.Ref, error) {
		panic("kaboom")
	})

	tests := []struct {
		name      string
		fn        string
		args      []rootstack.Ref
		exception bool
		message   string
	}{
		{name: "ok", fn: "add", args: []rootstack.Ref{rt.NewInt(2), rt.NewInt(3)}},
		{name: "error", fn: "fail", exception: true, message: "fail: boom"},
		{name: "thrown", fn: "throw", exception: true, message: "custom"},
		{name: "panic", fn: "panic", exception: true, message: "kaboom"},
		{name: "bad argument", fn: "add", args: []rootstack.Ref{rt.NewString("x"), rt.NewInt(1)}, exception: true, message: "type_mismatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, err := rt.Function(tt.fn)
			if err != nil {
				t.Fatalf("Function(%s): %v", tt.fn, err)
			}
			res := rt.Call(fn, tt.args...)
			if res.Exception != tt.exception {
				t.Fatalf("Exception = %v, want %v", res.Exception, tt.exception)
			}
			if !tt.exception {
				if v, _ := rt.Int(res.Value); v != 5 {
					t.Errorf("add(2, 3) = %d, want 5", v)
				}
				return
			}
			msg, err := rt.ExceptionMessage(res.Value)
			if err != nil {
				t.Fatalf("ExceptionMessage: %v", err)
			}
			if !strings.Contains(msg, tt.message) {
				t.Errorf("message %q does not contain %q", msg, tt.message)
			}
		})
	}
}

func TestCallNotCallable(t *testing.T) {
	rt := newRuntime(t)

	res := rt.Call(rt.NewInt(1))
	if !res.Exception {
		t.Fatal("calling an Int must raise")
	}
	msg, _ := rt.ExceptionMessage(res.Value)
	if !strings.Contains(msg, "not callable") {
		t.Errorf("message = %q", msg)
	}

	res = rt.Call(rootstack.Null)
	if !res.Exception {
		t.Error("calling null must raise")
	}
}

func TestNoCollectionInsideCall(t *testing.T) {
	rt := heap.New(context.Background(), heap.Config{GCThreshold: 2})
	defer rt.AtExit()

	var first rootstack.Ref
	var survived bool
	fn := rt.Register("churn", func(rt *heap.Runtime, _ []rootstack.Ref) (rootstack.Ref, error) {
		first = rt.NewInt(1)
		for i := 0; i < 10; i++ {
			rt.NewInt(int64(i))
		}
		survived = rt.IsLive(first)
		return first, nil
	})

	res := rt.Call(fn)
	if res.Exception {
		t.Fatal("unexpected exception")
	}
	if !survived {
		t.Error("an unrooted temporary was collected during a native call")
	}
	if rt.Stats().Collections != 0 {
		t.Errorf("collections during call = %d, want 0", rt.Stats().Collections)
	}

	rt.Safepoint()
	if rt.Stats().Collections != 1 {
		t.Errorf("due collection did not run at the safepoint")
	}
}

func TestScheduleKeepsValuesAlive(t *testing.T) {
	rt := newRuntime(t)

	fn := rt.Register("double", func(rt *heap.Runtime, args []rootstack.Ref) (rootstack.Ref, error) {
		v, err := rt.Int(args[0])
		if err != nil {
			return rootstack.Null, err
		}
		return rt.NewInt(v * 2), nil
	})
	arg := rt.NewInt(21)
	p := rt.Schedule(fn, arg)

	rt.Collect()
	if !rt.IsLive(arg) {
		t.Fatal("argument of a pending call was collected")
	}
	select {
	case <-p.Done():
		t.Fatal("call completed before ProcessEvents")
	default:
	}

	rt.ProcessEvents()
	<-p.Done()
	res := p.Result()
	if res.Exception {
		t.Fatal("unexpected exception")
	}
	rt.Collect()
	if v, err := rt.Int(res.Value); err != nil || v != 42 {
		t.Fatalf("result = %d, %v; want 42", v, err)
	}
	if rt.IsLive(arg) {
		t.Error("argument survived after the call completed")
	}

	p.Release()
	p.Release()
	rt.Collect()
	if rt.IsLive(res.Value) {
		t.Error("released result survived collection")
	}
}

func writeWasm(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, addWasm, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestInclude(t *testing.T) {
	rt := newRuntime(t)

	if err := rt.Include(writeWasm(t, "math.wasm")); err != nil {
		t.Fatalf("Include: %v", err)
	}
	fn, err := rt.Function("add")
	if err != nil {
		t.Fatalf("Function(add): %v", err)
	}
	res := rt.Call(fn, rt.NewInt(40), rt.NewInt(2))
	if res.Exception {
		msg, _ := rt.ExceptionMessage(res.Value)
		t.Fatalf("add raised: %s", msg)
	}
	if v, _ := rt.Int(res.Value); v != 42 {
		t.Errorf("add(40, 2) = %d, want 42", v)
	}

	res = rt.Call(fn, rt.NewInt(1))
	if !res.Exception {
		t.Error("wrong arity must raise")
	}
}

func TestIncludeAsQualifies(t *testing.T) {
	rt := newRuntime(t)

	bound, err := rt.IncludeAs(writeWasm(t, "math.wasm"), "m")
	if err != nil {
		t.Fatalf("IncludeAs: %v", err)
	}
	if len(bound) != 1 || bound[0] != "m.add" {
		t.Fatalf("bound = %v, want [m.add]", bound)
	}
	if _, err := rt.Function("add"); err == nil {
		t.Error("qualified include also bound the bare name")
	}
}

func TestIncludeErrors(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "script.jl")
	if err := os.WriteFile(txt, []byte("1+1"), 0o644); err != nil {
		t.Fatal(err)
	}
	bad := filepath.Join(dir, "bad.wasm")
	if err := os.WriteFile(bad, []byte("not wasm"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		kind errors.Kind
	}{
		{name: "missing", path: filepath.Join(dir, "missing.wasm"), kind: errors.KindNotFound},
		{name: "unsupported", path: txt, kind: errors.KindUnsupported},
		{name: "invalid binary", path: bad, kind: errors.KindInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := newRuntime(t)
			err := rt.Include(tt.path)
			var e *errors.Error
			if !stderrors.As(err, &e) {
				t.Fatalf("Include = %v, want *errors.Error", err)
			}
			if e.Kind != tt.kind {
				t.Errorf("Kind = %s, want %s", e.Kind, tt.kind)
			}
		})
	}
}

func TestIncludeRelativeToDir(t *testing.T) {
	path := writeWasm(t, "math.wasm")
	rt := heap.New(context.Background(), heap.Config{Dir: filepath.Dir(path)})
	defer rt.AtExit()

	if err := rt.Include("math.wasm"); err != nil {
		t.Fatalf("Include: %v", err)
	}
}

func TestAtExit(t *testing.T) {
	rt := heap.New(context.Background(), heap.Config{})
	if err := rt.Include(writeWasm(t, "math.wasm")); err != nil {
		t.Fatalf("Include: %v", err)
	}
	if err := rt.AtExit(); err != nil {
		t.Fatalf("AtExit: %v", err)
	}
	if err := rt.AtExit(); err != nil {
		t.Errorf("second AtExit: %v", err)
	}
	if !rt.Exited() {
		t.Error("Exited = false")
	}
	if err := rt.Include(writeWasm(t, "again.wasm")); err == nil {
		t.Error("Include after AtExit should fail")
	}
	if err := rt.AdoptThread(); err == nil {
		t.Error("AdoptThread after AtExit should fail")
	}
}

func TestErrorColor(t *testing.T) {
	rt := newRuntime(t)
	exc := rt.NewException("bad")

	if msg, _ := rt.ExceptionMessage(exc); msg != "bad" {
		t.Errorf("plain message = %q", msg)
	}
	rt.SetErrorColor(true)
	if !rt.ErrorColor() {
		t.Fatal("ErrorColor = false after enabling")
	}
	if msg, _ := rt.ExceptionMessage(exc); msg != "\x1b[31mbad\x1b[0m" {
		t.Errorf("colored message = %q", msg)
	}
}

func TestTrackArray(t *testing.T) {
	rt := newRuntime(t)
	l := ledger.New()

	arr := rt.NewArray(4)
	w, err := rt.TrackExclusive(l, arr)
	if err != nil {
		t.Fatalf("TrackExclusive: %v", err)
	}
	w.Data[2] = 3.5

	if _, err := rt.TrackShared(l, arr); !stderrors.Is(err, errors.ErrBorrow) {
		t.Fatalf("TrackShared during exclusive borrow = %v, want borrow error", err)
	}
	w.Release()

	r1, err := rt.TrackShared(l, arr)
	if err != nil {
		t.Fatalf("TrackShared: %v", err)
	}
	r2, err := rt.TrackShared(l, arr)
	if err != nil {
		t.Fatalf("second TrackShared: %v", err)
	}
	if r1.Data[2] != 3.5 {
		t.Errorf("Data[2] = %v, want 3.5", r1.Data[2])
	}
	if r1.Exclusive() {
		t.Error("shared borrow reports exclusive")
	}
	r1.Release()
	r2.Release()
	if shared, exclusive := l.Len(); shared != 0 || exclusive != 0 {
		t.Errorf("ledger holds %d shared and %d exclusive borrows after release", shared, exclusive)
	}

	if _, err := rt.TrackShared(l, rt.NewInt(1)); err == nil {
		t.Error("tracking a non-array should fail")
	}
}
