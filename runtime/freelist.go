package runtime

import "fmt"

// freeList is a FIFO of free slot indices backed by a fixed ring, so slots
// are reused in release order and no allocation happens after creation.
type freeList struct {
	ring []int
	free []bool
	head int
	n    int
}

func newFreeList(slots int) *freeList {
	f := &freeList{
		ring: make([]int, slots),
		free: make([]bool, slots),
		n:    slots,
	}
	for i := range f.ring {
		f.ring[i] = i
		f.free[i] = true
	}
	return f
}

func (f *freeList) len() int { return f.n }

func (f *freeList) pop() (int, bool) {
	if f.n == 0 {
		return 0, false
	}
	slot := f.ring[f.head]
	f.head = (f.head + 1) % len(f.ring)
	f.n--
	f.free[slot] = false
	return slot, true
}

// push returns slot to the list. Releasing a slot that is already free
// means two tasks believed they owned it, and panics.
func (f *freeList) push(slot int) {
	if f.free[slot] {
		panic(fmt.Sprintf("runtime: double release of slot %d", slot))
	}
	f.free[slot] = true
	f.ring[(f.head+f.n)%len(f.ring)] = slot
	f.n++
}
