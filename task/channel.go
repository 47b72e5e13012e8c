package task

import (
	"context"
	"sync"

	"github.com/wippyai/rootstack/errors"
	"github.com/wippyai/rootstack/frame"
)

type request[I, O any] struct {
	in    I
	reply *Dispatch[O]
}

// Channel is the bounded follow-up queue of a persistent task. Senders are
// arbitrary goroutines; the only receiver is the task itself, which suspends
// through its loop while the queue is empty.
type Channel[I, O any] struct {
	mu       sync.Mutex
	queue    []request[I, O]
	cap      int
	closed   bool
	notEmpty chan struct{}
	notFull  chan struct{}
	done     chan struct{}
}

// NewChannel creates a channel holding up to capacity pending calls.
func NewChannel[I, O any](capacity int) *Channel[I, O] {
	if capacity <= 0 {
		capacity = DefaultChannelCapacity
	}
	return &Channel[I, O]{
		queue:    make([]request[I, O], 0, capacity),
		cap:      capacity,
		notEmpty: make(chan struct{}, 1),
		notFull:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func signal(c chan struct{}) {
	select {
	case c <- struct{}{}:
	default:
	}
}

// Send queues in. With wait set it blocks while the channel is full;
// otherwise a full channel fails with a channel-full error.
func (c *Channel[I, O]) Send(ctx context.Context, in I, wait bool) (*Dispatch[O], error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, errors.ChannelClosed(errors.PhaseDispatch, "persistent task")
		}
		if len(c.queue) < c.cap {
			d := newDispatch[O]()
			c.queue = append(c.queue, request[I, O]{in: in, reply: d})
			if len(c.queue) < c.cap {
				signal(c.notFull)
			}
			c.mu.Unlock()
			signal(c.notEmpty)
			return d, nil
		}
		c.mu.Unlock()

		if !wait {
			return nil, errors.ChannelFull(errors.PhaseDispatch, "persistent task")
		}
		select {
		case <-c.notFull:
		case <-c.done:
		case <-ctx.Done():
			return nil, errors.Wrap(errors.PhaseDispatch, errors.KindCancelled, ctx.Err(), "send to persistent task")
		}
	}
}

// Recv takes the oldest pending call, suspending through susp while there
// is none. ok is false once the channel is closed and drained.
func (c *Channel[I, O]) Recv(ctx context.Context, susp frame.Suspender) (in I, reply *Dispatch[O], ok bool, err error) {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			r := c.queue[0]
			c.queue[0] = request[I, O]{}
			c.queue = c.queue[1:]
			more := len(c.queue) > 0
			c.mu.Unlock()
			signal(c.notFull)
			if more {
				signal(c.notEmpty)
			}
			return r.in, r.reply, true, nil
		}
		if c.closed {
			c.mu.Unlock()
			return in, nil, false, nil
		}
		c.mu.Unlock()

		if err := susp.Park(ctx, c.notEmpty); err != nil {
			return in, nil, false, err
		}
	}
}

// Close stops accepting calls. Pending calls are still delivered unless
// cancel is set, in which case they fail with a cancelled error. Closing
// twice is a no-op.
func (c *Channel[I, O]) Close(cancel bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	var dropped []request[I, O]
	if cancel {
		dropped = c.queue
		c.queue = nil
	}
	c.mu.Unlock()

	close(c.done)
	signal(c.notEmpty)
	for _, r := range dropped {
		r.reply.fail(errors.Cancelled(errors.PhaseDispatch, "persistent call"))
	}
}

// Len returns the number of pending calls.
func (c *Channel[I, O]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Cap returns the channel capacity.
func (c *Channel[I, O]) Cap() int { return c.cap }

// IsClosed reports whether Close has been called.
func (c *Channel[I, O]) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Handle is the caller's side of a running persistent task.
type Handle[I, O any] struct {
	ch     *Channel[I, O]
	exited chan struct{}
}

// Call sends input to the task, waiting while its channel is full.
func (h *Handle[I, O]) Call(ctx context.Context, input I) (*Dispatch[O], error) {
	return h.ch.Send(ctx, input, true)
}

// TryCall sends input to the task or fails at once when its channel is full
// or closed.
func (h *Handle[I, O]) TryCall(input I) (*Dispatch[O], error) {
	return h.ch.Send(context.Background(), input, false)
}

// Cap returns the capacity of the task's channel.
func (h *Handle[I, O]) Cap() int { return h.ch.Cap() }

// Len returns the number of calls waiting to run.
func (h *Handle[I, O]) Len() int { return h.ch.Len() }

// IsClosed reports whether the handle was closed.
func (h *Handle[I, O]) IsClosed() bool { return h.ch.IsClosed() }

// Close asks the task to exit once the pending calls have run, or right
// away with the pending calls cancelled.
func (h *Handle[I, O]) Close(cancel bool) { h.ch.Close(cancel) }

// Exited is closed after the task's Exit hook ran and its frames were
// popped.
func (h *Handle[I, O]) Exited() <-chan struct{} { return h.exited }
