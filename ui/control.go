package ui

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/truncate"
)

const headingWidth = 24

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	fieldStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// TermControl renders monitor status lines to a writer. It implements the
// scheduler's Control contract: monitors are installed and erased as lanes
// come and go, field updates accumulate, and Flush writes one line per
// monitor touched since the previous flush.
type TermControl struct {
	w     io.Writer
	width int

	order  []*Monitor
	fields map[*Monitor]map[string]float64
	dirty  map[*Monitor]bool
}

// NewTermControl creates a control writing lines truncated to width columns.
// A non-positive width selects 100.
func NewTermControl(w io.Writer, width int) *TermControl {
	if width <= 0 {
		width = 100
	}
	return &TermControl{
		w:      w,
		width:  width,
		fields: make(map[*Monitor]map[string]float64),
		dirty:  make(map[*Monitor]bool),
	}
}

// Install starts displaying a monitor, keeping install order stable.
func (c *TermControl) Install(m *Monitor) {
	if _, ok := c.fields[m]; !ok {
		c.order = append(c.order, m)
		c.fields[m] = make(map[string]float64)
	}
	c.dirty[m] = true
}

// Erase stops displaying a monitor and forgets its fields.
func (c *TermControl) Erase(m *Monitor) {
	if _, ok := c.fields[m]; !ok {
		return
	}
	delete(c.fields, m)
	delete(c.dirty, m)
	for i, other := range c.order {
		if other == m {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Update merges the changed fields for a monitor. An empty delta leaves the
// line untouched so quiet lanes are not repainted.
func (c *TermControl) Update(m *Monitor, delta map[string]float64) {
	if len(delta) == 0 {
		return
	}
	f, ok := c.fields[m]
	if !ok {
		return
	}
	for name, v := range delta {
		f[name] = v
	}
	c.dirty[m] = true
}

// Frame forces a repaint of the monitor on the next flush.
func (c *TermControl) Frame(m *Monitor) {
	if _, ok := c.fields[m]; ok {
		c.dirty[m] = true
	}
}

// Flush writes one line for every monitor touched since the last flush.
func (c *TermControl) Flush() {
	for _, m := range c.order {
		if !c.dirty[m] {
			continue
		}
		fmt.Fprintln(c.w, c.render(m))
		c.dirty[m] = false
	}
}

func (c *TermControl) render(m *Monitor) string {
	heading := headingStyle.Render(runewidth.FillRight(runewidth.Truncate(m.Heading(), headingWidth, "…"), headingWidth))

	fields := c.fields[m]
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		v := strconv.FormatFloat(fields[name], 'g', 6, 64)
		parts = append(parts, fieldStyle.Render(name+"=")+valueStyle.Render(v))
	}

	line := heading + " " + strings.Join(parts, " ")
	return truncate.StringWithTail(line, uint(c.width), "…")
}
