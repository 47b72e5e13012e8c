package rootstack

import "fmt"

// Ref is an opaque reference to an object owned by the embedded runtime's
// collector. The zero Ref is null. A Ref obtained from the runtime stays valid
// until the root holding it is popped or otherwise made unreachable.
type Ref uint64

// Null is the null reference.
const Null Ref = 0

// IsNull reports whether r is the null reference.
func (r Ref) IsNull() bool { return r == Null }

func (r Ref) String() string {
	if r == Null {
		return "ref(null)"
	}
	return fmt.Sprintf("ref(%#x)", uint64(r))
}

// RootSet is a set of slots the collector treats as live roots.
type RootSet interface {
	// EachRoot calls fn for every non-null root. It is only called while
	// the collector owns the runtime, never concurrently with root writes.
	EachRoot(fn func(Ref))
}

// Result is the outcome of a call across the foreign boundary. When
// Exception is set, Value holds the exception object instead of a return
// value. Either way Value is unrooted.
type Result struct {
	Value     Ref
	Exception bool
}

// Pending is an asynchronous call posted to the runtime's event queue.
// It completes during a later ProcessEvents.
type Pending interface {
	// Done is closed once the call has completed.
	Done() <-chan struct{}
	// Result returns the outcome. The runtime keeps the value alive until
	// Release is called.
	Result() Result
	// Release drops the runtime's hold on the result.
	Release()
}

// Runtime is the boundary to the embedded managed runtime. Every method must
// be called from a thread the runtime recognizes: the thread that created it
// or one that called AdoptThread.
type Runtime interface {
	// LinkRoots makes rs visible to the collector.
	LinkRoots(rs RootSet)
	// UnlinkRoots removes rs from the collector's root walk.
	UnlinkRoots(rs RootSet)

	// Safepoint lets the collector run if a collection is due.
	Safepoint()
	// ProcessEvents runs queued runtime work such as scheduled calls.
	ProcessEvents()
	// Yield hands control to the runtime's own scheduler.
	Yield()

	// Call invokes fn with args, catching any exception it raises.
	Call(fn Ref, args ...Ref) Result
	// Schedule posts a call of fn to the event queue.
	Schedule(fn Ref, args ...Ref) Pending

	// Include loads and evaluates the file at path.
	Include(path string) error
	// SetErrorColor toggles colored exception messages.
	SetErrorColor(enable bool)

	// AdoptThread registers the calling OS thread with the runtime.
	AdoptThread() error
	// AtExit finalizes the runtime. No method may be called afterwards.
	AtExit() error
}
