package ledger

import (
	stderrors "errors"
	"sync"
	"testing"

	"github.com/wippyai/rootstack/errors"
)

func TestRange_Overlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b Range
		want bool
	}{
		{"identical", Range{0, 8}, Range{0, 8}, true},
		{"partial", Range{0, 8}, Range{4, 12}, true},
		{"contained", Range{0, 16}, Range{4, 8}, true},
		{"adjacent", Range{0, 8}, Range{8, 16}, false},
		{"disjoint", Range{0, 8}, Range{32, 40}, false},
		{"empty never overlaps", Range{4, 4}, Range{0, 8}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Overlaps(tt.b); got != tt.want {
				t.Errorf("Overlaps = %v, want %v", got, tt.want)
			}
			if got := tt.b.Overlaps(tt.a); got != tt.want {
				t.Errorf("Overlaps (swapped) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLedger_SharedBorrowsCoexist(t *testing.T) {
	l := New()
	a, err := l.BorrowShared(Range{0, 8})
	if err != nil {
		t.Fatalf("first shared borrow failed: %v", err)
	}
	b, err := l.BorrowShared(Range{4, 12})
	if err != nil {
		t.Fatalf("overlapping shared borrow failed: %v", err)
	}
	if shared, _ := l.Len(); shared != 2 {
		t.Errorf("shared = %d, want 2", shared)
	}
	a.Release()
	b.Release()
	if shared, _ := l.Len(); shared != 0 {
		t.Errorf("shared after release = %d, want 0", shared)
	}
}

func TestLedger_Conflicts(t *testing.T) {
	tests := []struct {
		name      string
		first     func(*Ledger) (*Borrow, error)
		second    func(*Ledger) (*Borrow, error)
		wantError bool
	}{
		{
			name:      "exclusive after shared",
			first:     func(l *Ledger) (*Borrow, error) { return l.BorrowShared(Range{0, 8}) },
			second:    func(l *Ledger) (*Borrow, error) { return l.BorrowExclusive(Range{4, 6}) },
			wantError: true,
		},
		{
			name:      "shared after exclusive",
			first:     func(l *Ledger) (*Borrow, error) { return l.BorrowExclusive(Range{0, 8}) },
			second:    func(l *Ledger) (*Borrow, error) { return l.BorrowShared(Range{7, 9}) },
			wantError: true,
		},
		{
			name:      "exclusive after exclusive",
			first:     func(l *Ledger) (*Borrow, error) { return l.BorrowExclusive(Range{0, 8}) },
			second:    func(l *Ledger) (*Borrow, error) { return l.BorrowExclusive(Range{0, 8}) },
			wantError: true,
		},
		{
			name:      "disjoint exclusives",
			first:     func(l *Ledger) (*Borrow, error) { return l.BorrowExclusive(Range{0, 8}) },
			second:    func(l *Ledger) (*Borrow, error) { return l.BorrowExclusive(Range{8, 16}) },
			wantError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New()
			if _, err := tt.first(l); err != nil {
				t.Fatalf("first borrow failed: %v", err)
			}
			_, err := tt.second(l)
			if tt.wantError {
				if !stderrors.Is(err, errors.ErrBorrow) {
					t.Fatalf("expected borrow error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestLedger_FailedBorrowLeavesStateUnchanged(t *testing.T) {
	l := New()
	s, _ := l.BorrowShared(Range{0, 8})
	if _, err := l.BorrowExclusive(Range{0, 8}); err == nil {
		t.Fatal("expected conflict")
	}
	if shared, exclusive := l.Len(); shared != 1 || exclusive != 0 {
		t.Errorf("Len = (%d, %d), want (1, 0)", shared, exclusive)
	}

	s.Release()
	s.Release()
	e, err := l.BorrowExclusive(Range{0, 8})
	if err != nil {
		t.Fatalf("exclusive borrow after release failed: %v", err)
	}
	if !l.IsBorrowedExclusive(Range{2, 3}) {
		t.Error("IsBorrowedExclusive should report the borrow")
	}
	e.Release()
	if l.IsBorrowed(Range{0, 8}) {
		t.Error("range still borrowed after release")
	}
}

func TestLedger_ConcurrentShared(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := l.BorrowShared(Range{uintptr(i), uintptr(i + 4)})
			if err != nil {
				t.Errorf("borrow %d failed: %v", i, err)
				return
			}
			b.Release()
		}(i)
	}
	wg.Wait()
	if shared, _ := l.Len(); shared != 0 {
		t.Errorf("shared = %d, want 0", shared)
	}
}

func TestGlobal_Singleton(t *testing.T) {
	if Global() != Global() {
		t.Error("Global should return the same ledger")
	}
}
