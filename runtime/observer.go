package runtime

import (
	"fmt"

	"github.com/wippyai/rootstack/task"
)

// SlotState is the lifecycle state of a dedicated slot.
type SlotState uint8

const (
	// SlotFree slots can take the next task.
	SlotFree SlotState = iota
	// SlotBound slots have a task that has not started yet.
	SlotBound
	// SlotRunning slots hold the loop's execution baton.
	SlotRunning
	// SlotIdle slots hold a task suspended until an event fires.
	SlotIdle
)

var slotStateNames = [...]string{
	SlotFree:    "free",
	SlotBound:   "bound",
	SlotRunning: "running",
	SlotIdle:    "idle",
}

func (s SlotState) String() string {
	if int(s) < len(slotStateNames) {
		return slotStateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// SlotEvent reports a slot state change.
type SlotEvent struct {
	Worker int
	Slot   int
	State  SlotState
	Kind   task.Kind
}

// Observer receives slot state changes. It is called from the loop that
// owns the slot and must not block.
type Observer interface {
	SlotChanged(SlotEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(SlotEvent)

// SlotChanged calls f.
func (f ObserverFunc) SlotChanged(e SlotEvent) { f(e) }
