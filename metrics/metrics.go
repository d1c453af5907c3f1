// Package metrics maintains per-field cumulative counters with time-windowed
// history. Pending updates accumulate between scheduler ticks and are folded
// into the committed snapshot atomically against one wall-clock sample, so a
// burst of small updates never sees a skewed elapsed time.
package metrics

import (
	"errors"
	"sort"
	"time"
)

// DefaultWindow is the retention horizon used when none is given.
const DefaultWindow = 8 * time.Second

// ErrNoSamples is returned by Rate before any commit has occurred.
// Call sites must commit at least once first.
var ErrNoSamples = errors.New("metrics: no committed samples")

type pending struct {
	value float64
	count int64
}

// Entry is one committed history record: the cumulative per-field values as of
// the commit, the elapsed time of the interval that produced it, and the
// cumulative duration at the end of that interval.
type Entry struct {
	Values  map[string]float64
	Elapsed time.Duration
	End     time.Duration
}

// Metrics is a windowed counter set for one monitored entity. It is exclusively
// owned by the dispatch loop; no internal locking.
type Metrics struct {
	window   time.Duration
	duration time.Duration
	history  []Entry
	snapshot map[string]float64
	counts   map[string]int64
	current  map[string]pending
}

// New creates an empty counter set with the given retention window.
// A non-positive window selects DefaultWindow.
func New(window time.Duration) *Metrics {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Metrics{
		window:   window,
		snapshot: make(map[string]float64),
		counts:   make(map[string]int64),
		current:  make(map[string]pending),
	}
}

// Window returns the retention horizon.
func (m *Metrics) Window() time.Duration {
	return m.window
}

// Duration returns the total elapsed time accumulated across all commits.
func (m *Metrics) Duration() time.Duration {
	return m.duration
}

// HistoryLen returns the number of retained history entries.
func (m *Metrics) HistoryLen() int {
	return len(m.history)
}

// Update adds value to the field's pending delta and accumulates an occurrence
// count. The count feeds per-occurrence averages downstream; state gauges pass
// zero. Nothing is visible to Recent or history until the next Commit.
func (m *Metrics) Update(field string, value float64, count int64) {
	p := m.current[field]
	p.value += value
	p.count += count
	m.current[field] = p
}

// Changes returns the names of fields with pending deltas since the last
// commit, in sorted order.
func (m *Metrics) Changes() []string {
	if len(m.current) == 0 {
		return nil
	}
	fields := make([]string, 0, len(m.current))
	for name := range m.current {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	return fields
}

// Commit folds every pending delta into the cumulative snapshot, appends a
// history entry for the interval, and clears the pending set. The scheduler
// calls this exactly once per tick, even when no field changed, so history
// spacing stays aligned with wall-clock ticks.
func (m *Metrics) Commit(elapsed time.Duration) {
	for name, p := range m.current {
		m.snapshot[name] += p.value
		m.counts[name] += p.count
	}
	m.duration += elapsed

	values := make(map[string]float64, len(m.snapshot))
	for name, v := range m.snapshot {
		values[name] = v
	}
	m.history = append(m.history, Entry{
		Values:  values,
		Elapsed: elapsed,
		End:     m.duration,
	})
	m.current = make(map[string]pending)
}

// Trim drops history entries whose interval lies entirely before the cutoff
// duration-window. An entry ending exactly on the cutoff is retained. The
// cumulative snapshot and duration are untouched; trimming only bounds history
// growth. Without an argument the metrics' own window applies.
func (m *Metrics) Trim(window ...time.Duration) {
	w := m.window
	if len(window) > 0 {
		w = window[0]
	}
	cutoff := m.duration - w
	if cutoff <= 0 {
		return
	}
	i := 0
	for i < len(m.history) && m.history[i].End < cutoff {
		i++
	}
	if i > 0 {
		m.history = append(m.history[:0:0], m.history[i:]...)
	}
}

// Total returns the committed value plus any pending delta for the field.
func (m *Metrics) Total(field string) float64 {
	return m.snapshot[field] + m.current[field].value
}

// Recent returns the committed value for the field; zero if never committed.
func (m *Metrics) Recent(field string) float64 {
	return m.snapshot[field]
}

// Count returns the committed occurrence count for the field.
func (m *Metrics) Count(field string) int64 {
	return m.counts[field]
}

// Rate returns the field's total over the accumulated duration, per second.
// It returns ErrNoSamples when no commit has yet occurred.
func (m *Metrics) Rate(field string) (float64, error) {
	if m.duration == 0 {
		return 0, ErrNoSamples
	}
	return m.Total(field) / m.duration.Seconds(), nil
}

// Delta returns the committed values for exactly the given fields. The
// scheduler uses it to tell the display layer which fields moved this tick.
func (m *Metrics) Delta(fields []string) map[string]float64 {
	d := make(map[string]float64, len(fields))
	for _, name := range fields {
		d[name] = m.snapshot[name]
	}
	return d
}

// Clear resets all committed and pending state, preserving the window.
func (m *Metrics) Clear() {
	m.duration = 0
	m.history = nil
	m.snapshot = make(map[string]float64)
	m.counts = make(map[string]int64)
	m.current = make(map[string]pending)
}
