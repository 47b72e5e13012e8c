package ledger

import (
	"sync"

	"github.com/wippyai/rootstack/errors"
)

// Range is a half-open address range [Start, End).
type Range struct {
	Start uintptr
	End   uintptr
}

// Empty reports whether the range covers no bytes.
func (r Range) Empty() bool { return r.End <= r.Start }

// Overlaps reports whether r and o share at least one byte.
func (r Range) Overlaps(o Range) bool {
	if r.Empty() || o.Empty() {
		return false
	}
	return r.Start < o.End && o.Start < r.End
}

// Ledger tracks which ranges of managed data are borrowed by host code.
// Any number of shared borrows may overlap each other, but an exclusive
// borrow overlaps nothing. Violations are returned as errors since they
// depend on data, not on program structure.
type Ledger struct {
	shared []Range
	owned  []Range
	mu     sync.Mutex
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		shared: make([]Range, 0, 8),
		owned:  make([]Range, 0, 8),
	}
}

var (
	global     *Ledger
	globalOnce sync.Once
)

// Global returns the process-wide ledger.
func Global() *Ledger {
	globalOnce.Do(func() { global = New() })
	return global
}

// Borrow is an active borrow. Release it when the host is done with the data.
type Borrow struct {
	ledger    *Ledger
	r         Range
	exclusive bool
	released  bool
}

// Range returns the borrowed range.
func (b *Borrow) Range() Range { return b.r }

// Exclusive reports whether this is an exclusive borrow.
func (b *Borrow) Exclusive() bool { return b.exclusive }

// Release ends the borrow. Releasing twice is a no-op.
func (b *Borrow) Release() {
	l := b.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	if b.released {
		return
	}
	b.released = true
	if b.exclusive {
		l.owned = remove(l.owned, b.r)
	} else {
		l.shared = remove(l.shared, b.r)
	}
}

// BorrowShared tracks r as shared. It fails if r overlaps an exclusive borrow.
func (l *Ledger) BorrowShared(r Range) (*Borrow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if overlapsAny(l.owned, r) {
		return nil, errors.Borrowed("range %#x-%#x is exclusively borrowed", r.Start, r.End)
	}
	l.shared = append(l.shared, r)
	return &Borrow{ledger: l, r: r}, nil
}

// BorrowExclusive tracks r as exclusive. It fails if r overlaps any borrow.
func (l *Ledger) BorrowExclusive(r Range) (*Borrow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if overlapsAny(l.owned, r) {
		return nil, errors.Borrowed("range %#x-%#x is exclusively borrowed", r.Start, r.End)
	}
	if overlapsAny(l.shared, r) {
		return nil, errors.Borrowed("range %#x-%#x is borrowed as shared", r.Start, r.End)
	}
	l.owned = append(l.owned, r)
	return &Borrow{ledger: l, r: r, exclusive: true}, nil
}

// IsBorrowedShared reports whether r overlaps a shared borrow.
func (l *Ledger) IsBorrowedShared(r Range) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return overlapsAny(l.shared, r)
}

// IsBorrowedExclusive reports whether r overlaps an exclusive borrow.
func (l *Ledger) IsBorrowedExclusive(r Range) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return overlapsAny(l.owned, r)
}

// IsBorrowed reports whether r overlaps any borrow.
func (l *Ledger) IsBorrowed(r Range) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return overlapsAny(l.owned, r) || overlapsAny(l.shared, r)
}

// Len returns the number of shared and exclusive borrows.
func (l *Ledger) Len() (shared, exclusive int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.shared), len(l.owned)
}

func overlapsAny(rs []Range, r Range) bool {
	for _, o := range rs {
		if o.Overlaps(r) {
			return true
		}
	}
	return false
}

// remove deletes one occurrence of r.
func remove(rs []Range, r Range) []Range {
	for i, o := range rs {
		if o == r {
			rs[i] = rs[len(rs)-1]
			return rs[:len(rs)-1]
		}
	}
	return rs
}
