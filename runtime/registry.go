package runtime

import (
	"sync"

	"github.com/wippyai/rootstack/task"
)

// registry tracks the handles of live persistent tasks so that shutdown can
// close them.
type registry struct {
	mu     sync.Mutex
	live   map[uint64]task.Closer
	next   uint64
	closed bool
	cancel bool
}

func newRegistry() *registry {
	return &registry{live: make(map[uint64]task.Closer)}
}

// track registers c. A handle created after shutdown began is closed at once.
func (r *registry) track(c task.Closer) (untrack func()) {
	r.mu.Lock()
	if r.closed {
		cancel := r.cancel
		r.mu.Unlock()
		c.Close(cancel)
		return func() {}
	}
	id := r.next
	r.next++
	r.live[id] = c
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.live, id)
	}
}

// closeAll closes every live handle and every handle tracked later.
func (r *registry) closeAll(cancel bool) {
	r.mu.Lock()
	r.closed = true
	r.cancel = r.cancel || cancel
	live := make([]task.Closer, 0, len(r.live))
	for _, c := range r.live {
		live = append(live, c)
	}
	r.mu.Unlock()

	for _, c := range live {
		c.Close(cancel)
	}
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}
