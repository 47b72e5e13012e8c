package heap

import (
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/rootstack"
	"github.com/wippyai/rootstack/errors"
)

// Kind identifies the type of a managed object.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt
	KindFloat
	KindString
	KindSymbol
	KindArray
	KindTuple
	KindException
	KindFunction
)

var kindNames = [...]string{
	KindInvalid:   "Invalid",
	KindInt:       "Int64",
	KindFloat:     "Float64",
	KindString:    "String",
	KindSymbol:    "Symbol",
	KindArray:     "Array{Float64}",
	KindTuple:     "Tuple",
	KindException: "Exception",
	KindFunction:  "Function",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// NativeFunc is a Go function callable from the managed side. Arguments are
// rooted by the caller; allocations made inside are not collected until the
// call returns. Return an error to raise an exception, or Throw to raise a
// specific exception object.
type NativeFunc func(rt *Runtime, args []rootstack.Ref) (rootstack.Ref, error)

type function struct {
	name    string
	native  NativeFunc
	wasm    api.Function
	params  []api.ValueType
	results []api.ValueType
}

type object struct {
	fn    *function
	s     string
	data  []float64
	refs  []rootstack.Ref
	i     int64
	f     float64
	gen   uint32
	kind  Kind
	live  bool
	mark  bool
	fixed bool
}

func makeRef(idx, gen uint32) rootstack.Ref {
	return rootstack.Ref(uint64(gen)<<32 | uint64(idx+1))
}

func splitRef(r rootstack.Ref) (idx, gen uint32) {
	return uint32(r) - 1, uint32(r >> 32)
}

// NewInt allocates an Int64.
func (rt *Runtime) NewInt(v int64) rootstack.Ref {
	return rt.alloc(object{kind: KindInt, i: v})
}

// NewFloat allocates a Float64.
func (rt *Runtime) NewFloat(v float64) rootstack.Ref {
	return rt.alloc(object{kind: KindFloat, f: v})
}

// NewString allocates a String.
func (rt *Runtime) NewString(s string) rootstack.Ref {
	return rt.alloc(object{kind: KindString, s: s})
}

// Symbol returns the interned symbol for name. Symbols are never collected.
func (rt *Runtime) Symbol(name string) rootstack.Ref {
	rt.mu.Lock()
	if r, ok := rt.symbols[name]; ok {
		rt.mu.Unlock()
		return r
	}
	rt.mu.Unlock()

	r := rt.alloc(object{kind: KindSymbol, s: name, fixed: true})
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if prev, ok := rt.symbols[name]; ok {
		return prev
	}
	rt.symbols[name] = r
	return r
}

// NewArray allocates a zeroed Float64 array of length n.
func (rt *Runtime) NewArray(n int) rootstack.Ref {
	return rt.alloc(object{kind: KindArray, data: make([]float64, n)})
}

// NewTuple allocates a tuple referencing fields. The fields must be rooted
// by the caller until the tuple itself is.
func (rt *Runtime) NewTuple(fields ...rootstack.Ref) rootstack.Ref {
	return rt.alloc(object{kind: KindTuple, refs: append([]rootstack.Ref(nil), fields...)})
}

// NewException allocates an exception with msg.
func (rt *Runtime) NewException(msg string) rootstack.Ref {
	return rt.alloc(object{kind: KindException, s: msg})
}

func (rt *Runtime) get(r rootstack.Ref) (*object, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.lookupLocked(r)
}

func (rt *Runtime) lookupLocked(r rootstack.Ref) (*object, error) {
	if r.IsNull() {
		return nil, errors.InvalidRef(errors.PhaseCall, r)
	}
	idx, gen := splitRef(r)
	if int(idx) >= len(rt.objects) {
		return nil, errors.InvalidRef(errors.PhaseCall, r)
	}
	o := &rt.objects[idx]
	if !o.live || o.gen != gen {
		return nil, errors.InvalidRef(errors.PhaseCall, r)
	}
	return o, nil
}

func (rt *Runtime) typed(r rootstack.Ref, kind Kind) (*object, error) {
	o, err := rt.get(r)
	if err != nil {
		return nil, err
	}
	if o.kind != kind {
		return nil, errors.TypeMismatch(errors.PhaseCall, nil, kind.String(), o.kind.String())
	}
	return o, nil
}

// IsLive reports whether r refers to an object that has not been collected.
func (rt *Runtime) IsLive(r rootstack.Ref) bool {
	_, err := rt.get(r)
	return err == nil
}

// KindOf returns the kind of r, or KindInvalid for a dead reference.
func (rt *Runtime) KindOf(r rootstack.Ref) Kind {
	o, err := rt.get(r)
	if err != nil {
		return KindInvalid
	}
	return o.kind
}

// Int reads an Int64.
func (rt *Runtime) Int(r rootstack.Ref) (int64, error) {
	o, err := rt.typed(r, KindInt)
	if err != nil {
		return 0, err
	}
	return o.i, nil
}

// Float reads a Float64.
func (rt *Runtime) Float(r rootstack.Ref) (float64, error) {
	o, err := rt.typed(r, KindFloat)
	if err != nil {
		return 0, err
	}
	return o.f, nil
}

// String reads a String or Symbol.
func (rt *Runtime) String(r rootstack.Ref) (string, error) {
	o, err := rt.get(r)
	if err != nil {
		return "", err
	}
	if o.kind != KindString && o.kind != KindSymbol {
		return "", errors.TypeMismatch(errors.PhaseCall, nil, KindString.String(), o.kind.String())
	}
	return o.s, nil
}

// Field returns field i of a tuple.
func (rt *Runtime) Field(r rootstack.Ref, i int) (rootstack.Ref, error) {
	o, err := rt.typed(r, KindTuple)
	if err != nil {
		return rootstack.Null, err
	}
	if i < 0 || i >= len(o.refs) {
		return rootstack.Null, errors.InvalidInput(errors.PhaseCall, fmt.Sprintf("field %d of %d-tuple", i, len(o.refs)))
	}
	return o.refs[i], nil
}

// ExceptionMessage returns the message of an exception, colored when error
// coloring is enabled.
func (rt *Runtime) ExceptionMessage(r rootstack.Ref) (string, error) {
	o, err := rt.typed(r, KindException)
	if err != nil {
		return "", err
	}
	if rt.errorColor.Load() {
		return "\x1b[31m" + o.s + "\x1b[0m", nil
	}
	return o.s, nil
}
