package heap

import (
	"unsafe"

	"github.com/wippyai/rootstack"
	"github.com/wippyai/rootstack/ledger"
)

// TrackedArray gives host code direct access to the data of a Float64
// array while a ledger borrow guards it. The array itself must stay rooted
// until Release.
type TrackedArray struct {
	borrow *ledger.Borrow
	Data   []float64
}

// Release ends the borrow.
func (t *TrackedArray) Release() { t.borrow.Release() }

// Exclusive reports whether the data may be written.
func (t *TrackedArray) Exclusive() bool { return t.borrow.Exclusive() }

// DataRange returns the address range of an array's elements.
func (rt *Runtime) DataRange(r rootstack.Ref) (ledger.Range, error) {
	o, err := rt.typed(r, KindArray)
	if err != nil {
		return ledger.Range{}, err
	}
	return sliceRange(o.data), nil
}

func sliceRange(data []float64) ledger.Range {
	if len(data) == 0 {
		return ledger.Range{}
	}
	start := uintptr(unsafe.Pointer(unsafe.SliceData(data)))
	return ledger.Range{Start: start, End: start + uintptr(len(data))*unsafe.Sizeof(data[0])}
}

// TrackShared borrows an array's data for reading.
func (rt *Runtime) TrackShared(l *ledger.Ledger, r rootstack.Ref) (*TrackedArray, error) {
	return rt.track(l, r, false)
}

// TrackExclusive borrows an array's data for reading and writing.
func (rt *Runtime) TrackExclusive(l *ledger.Ledger, r rootstack.Ref) (*TrackedArray, error) {
	return rt.track(l, r, true)
}

func (rt *Runtime) track(l *ledger.Ledger, r rootstack.Ref, exclusive bool) (*TrackedArray, error) {
	o, err := rt.typed(r, KindArray)
	if err != nil {
		return nil, err
	}
	var b *ledger.Borrow
	if exclusive {
		b, err = l.BorrowExclusive(sliceRange(o.data))
	} else {
		b, err = l.BorrowShared(sliceRange(o.data))
	}
	if err != nil {
		return nil, err
	}
	return &TrackedArray{borrow: b, Data: o.data}, nil
}
