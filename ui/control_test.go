package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTermControl_FlushOnlyDirty(t *testing.T) {
	var buf bytes.Buffer
	c := NewTermControl(&buf, 80)

	a := NewMonitor(time.Second)
	a.Title("build", "alpha")
	b := NewMonitor(time.Second)
	b.Title("build", "beta")

	c.Install(a)
	c.Install(b)
	c.Flush()
	assert.Equal(t, 2, strings.Count(buf.String(), "\n"))

	// Nothing changed; nothing repaints.
	buf.Reset()
	c.Flush()
	assert.Empty(t, buf.String())

	// Only the updated monitor repaints.
	buf.Reset()
	c.Update(a, map[string]float64{"duration": 1.5})
	c.Flush()
	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "\n"))
	assert.Contains(t, out, "alpha")
	assert.Contains(t, out, "duration")
}

func TestTermControl_EmptyDeltaIgnored(t *testing.T) {
	var buf bytes.Buffer
	c := NewTermControl(&buf, 80)

	m := NewMonitor(time.Second)
	m.Title("run")
	c.Install(m)
	c.Flush()

	buf.Reset()
	c.Update(m, nil)
	c.Flush()
	assert.Empty(t, buf.String())
}

func TestTermControl_Erase(t *testing.T) {
	var buf bytes.Buffer
	c := NewTermControl(&buf, 80)

	m := NewMonitor(time.Second)
	m.Title("run", "one")
	c.Install(m)
	c.Erase(m)
	c.Flush()
	assert.Empty(t, buf.String())

	// Updates after erase are dropped.
	c.Update(m, map[string]float64{"executing": 1})
	c.Flush()
	assert.Empty(t, buf.String())
}

func TestTermControl_FrameForcesRepaint(t *testing.T) {
	var buf bytes.Buffer
	c := NewTermControl(&buf, 80)

	m := NewMonitor(time.Second)
	m.Title("summary")
	c.Install(m)
	c.Flush()

	buf.Reset()
	c.Frame(m)
	c.Flush()
	assert.Contains(t, buf.String(), "summary")
}

func TestMonitor_Heading(t *testing.T) {
	m := NewMonitor(time.Second)
	m.Title("exec", "x", "y")
	assert.Equal(t, "exec x y", m.Heading())
	assert.Equal(t, "exec", m.Category())

	m.Title("idle")
	assert.Equal(t, "idle", m.Heading())
}
