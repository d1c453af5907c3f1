// Package scheduler runs work items across a fixed set of concurrent lanes.
// Each work item expands into a chain of process specs; the dispatch loop
// admits items while lanes are free, follows each chain process by process,
// interprets the structured status frames the processes emit, and keeps
// per-lane and aggregate windowed metrics current for the display layer.
package scheduler

import (
	"laneway/protocol"
	"laneway/sysexec"
	"laneway/ui"
)

// WorkItem is an opaque unit of work supplied by the Queue. The scheduler
// only carries it between the Queue and the Plan.
type WorkItem any

// ProcessSpec describes one process in a work item's chain.
type ProcessSpec struct {
	// Category and Dimensions label the lane's monitor while this process runs.
	Category   string
	Dimensions []string
	// Channel is the qualifier passed to traps for transactions observed
	// while this process is active.
	Channel string
	// Context carries plan-defined launch metadata; the scheduler does not
	// interpret it.
	Context map[string]string
	Command sysexec.Command
}

// SpecCursor yields the remaining process specs of one work item. Exhaustion
// is an expected signal, not an error.
type SpecCursor interface {
	Next() (ProcessSpec, bool)
}

// Plan expands a work item into its ordered chain of process specs.
type Plan func(item WorkItem) SpecCursor

type sliceCursor struct {
	specs []ProcessSpec
}

func (c *sliceCursor) Next() (ProcessSpec, bool) {
	if len(c.specs) == 0 {
		return ProcessSpec{}, false
	}
	spec := c.specs[0]
	c.specs = c.specs[1:]
	return spec, true
}

// Specs returns a cursor over a fixed list of process specs.
func Specs(specs ...ProcessSpec) SpecCursor {
	return &sliceCursor{specs: specs}
}

// Queue is the external work-item source.
type Queue interface {
	// Take returns up to n new work items.
	Take(n int) []WorkItem
	// Finish reports a work item as fully processed.
	Finish(item WorkItem)
	// Terminal reports that no new items will ever arrive.
	Terminal() bool
	// Status returns display counters, typically done/total.
	Status() []int
}

// Control is the display layer. The scheduler pushes installs, erases and
// field deltas at it; it never reads display state back.
type Control interface {
	Install(m *ui.Monitor)
	Erase(m *ui.Monitor)
	Update(m *ui.Monitor, delta map[string]float64)
	Frame(m *ui.Monitor)
	Flush()
}

// Traps are the user callbacks fired at lifecycle boundaries.
type Traps interface {
	// TransactionClosed fires when a transaction's stop frame arrives with a
	// matching start. middle holds the frames observed between them.
	TransactionClosed(m *ui.Monitor, stop, start protocol.Message, middle []protocol.Message, channel string)
	// ProcessExited fires when a chained process closes its output and is
	// reaped. The encoder lets the trap emit final snapshot frames.
	ProcessExited(enc *protocol.Encoder, m *ui.Monitor, channel string, pid int, status sysexec.ExitStatus)
	// GroupDone fires once when the dispatch loop terminates cleanly.
	GroupDone()
}

// NopTraps is the default Traps implementation; every callback is empty.
type NopTraps struct{}

func (NopTraps) TransactionClosed(*ui.Monitor, protocol.Message, protocol.Message, []protocol.Message, string) {
}

func (NopTraps) ProcessExited(*protocol.Encoder, *ui.Monitor, string, int, sysexec.ExitStatus) {}

func (NopTraps) GroupDone() {}
