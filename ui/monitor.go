// Package ui holds the per-lane status monitors and a line-oriented terminal
// control that repaints only what changed on each scheduler tick.
package ui

import (
	"strings"
	"time"

	"laneway/metrics"
)

// Monitor is the display-side record for one lane (or for the aggregate
// summary): a heading plus the lane's windowed metrics. The scheduler owns
// the metrics; the control layer only reads committed deltas.
type Monitor struct {
	Metrics *metrics.Metrics

	category   string
	dimensions []string
}

// NewMonitor creates a monitor whose metrics retain the given window.
func NewMonitor(window time.Duration) *Monitor {
	return &Monitor{Metrics: metrics.New(window)}
}

// Title sets the monitor heading to a category and its dimensions.
func (m *Monitor) Title(category string, dimensions ...string) {
	m.category = category
	m.dimensions = dimensions
}

// Category returns the heading category.
func (m *Monitor) Category() string {
	return m.category
}

// Heading returns the rendered heading text.
func (m *Monitor) Heading() string {
	if len(m.dimensions) == 0 {
		return m.category
	}
	return m.category + " " + strings.Join(m.dimensions, " ")
}
