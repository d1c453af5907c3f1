// Package protocol models the structured status messages that supervised
// processes emit on their output channel and provides the line-frame codec
// used to move them across a pipe.
package protocol

// Event symbols recognized on the wire.
const (
	SymbolTransactionStarted = "transaction-started"
	SymbolTransactionStopped = "transaction-stopped"
	SymbolMetricsReport      = "metrics-report"
)

// EventKind is the closed set of event kinds the scheduler reacts to. Raw
// symbols are mapped to a kind once, at the decode boundary; everything
// unrecognized is EventOther and flows through transaction buffers untouched.
type EventKind int

const (
	EventOther EventKind = iota
	EventTransactionStarted
	EventTransactionStopped
	EventMetricsReport
)

func (k EventKind) String() string {
	switch k {
	case EventTransactionStarted:
		return SymbolTransactionStarted
	case EventTransactionStopped:
		return SymbolTransactionStopped
	case EventMetricsReport:
		return SymbolMetricsReport
	default:
		return "other"
	}
}

// KindOf maps a wire symbol to its event kind.
func KindOf(symbol string) EventKind {
	switch symbol {
	case SymbolTransactionStarted:
		return EventTransactionStarted
	case SymbolTransactionStopped:
		return EventTransactionStopped
	case SymbolMetricsReport:
		return EventMetricsReport
	default:
		return EventOther
	}
}

// Report carries bulk metrics: a duration sample plus parallel field name,
// unit value, and occurrence count arrays.
type Report struct {
	Time   float64
	Fields []string
	Units  []float64
	Counts []int64
}

// Message is one decoded status message.
type Message struct {
	Kind     EventKind
	Symbol   string
	Synopsis string
	// Report is non-nil when the message payload carries a metrics report.
	Report *Report
}

// Frame is a message tagged with the logical channel it arrived on.
type Frame struct {
	Channel int
	Message Message
}
