package stack

import (
	"sync"

	"github.com/wippyai/rootstack"
)

const (
	// headerSlots precede the roots on every page: the root count (as
	// count<<1) and the link to the previous page.
	headerSlots = 2

	// Pool limits to prevent memory bloat
	poolMaxSlots  = 4096
	poolInitSlots = MinFrameCapacity + headerSlots
)

// page is one segment of a shadow stack.
type page struct {
	slots []rootstack.Ref
}

func (p *page) capacity() int { return len(p.slots) - headerSlots }

func (p *page) top() int { return int(p.slots[0] >> 1) }

func (p *page) setTop(n int) { p.slots[0] = rootstack.Ref(n) << 1 }

func (p *page) link() int { return int(p.slots[1]) }

var pagePool = sync.Pool{
	New: func() any {
		return &page{slots: make([]rootstack.Ref, 0, poolInitSlots)}
	},
}

// getPage returns a zeroed page with room for n roots, linked to the page at
// index prev (-1 for none).
func getPage(n, prev int) *page {
	p := pagePool.Get().(*page)
	size := n + headerSlots
	if cap(p.slots) < size {
		p.slots = make([]rootstack.Ref, size)
	} else {
		p.slots = p.slots[:size]
		clear(p.slots)
	}
	p.slots[1] = rootstack.Ref(prev + 1)
	return p
}

func putPage(p *page) {
	if p == nil || cap(p.slots) > poolMaxSlots {
		return // reject oversized
	}
	clear(p.slots)
	p.slots = p.slots[:0]
	pagePool.Put(p)
}
