package scheduler

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"laneway/log"
	"laneway/protocol"
	"laneway/sysexec"
	"laneway/ui"
)

func TestMain(m *testing.M) {
	log.Initialize()
	os.Exit(m.Run())
}

// fakeLauncher simulates processes with pipes. Command.Path selects behavior:
// "emit" writes Args[0] and closes, "hold" writes Args[0] and keeps the pipe
// open until killed, "badreap" emits and then fails the reap.
type fakeLauncher struct {
	mu      sync.Mutex
	nextPid int
	holds   map[int]*os.File
	badReap map[int]bool
	spawned []int
	killed  []int
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{
		nextPid: 1000,
		holds:   make(map[int]*os.File),
		badReap: make(map[int]bool),
	}
}

func (l *fakeLauncher) Spawn(c sysexec.Command) (int, *os.File, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return 0, nil, err
	}

	l.mu.Lock()
	l.nextPid++
	pid := l.nextPid
	l.spawned = append(l.spawned, pid)
	if c.Path == "badreap" {
		l.badReap[pid] = true
	}
	l.mu.Unlock()

	payload := ""
	if len(c.Args) > 0 {
		payload = c.Args[0]
	}

	if c.Path == "hold" {
		if payload != "" {
			_, _ = w.WriteString(payload)
		}
		l.mu.Lock()
		l.holds[pid] = w
		l.mu.Unlock()
		return pid, r, nil
	}

	go func() {
		if payload != "" {
			_, _ = w.WriteString(payload)
		}
		w.Close()
	}()
	return pid, r, nil
}

func (l *fakeLauncher) Reap(pid int) (sysexec.ExitStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.badReap[pid] {
		return sysexec.ExitStatus{}, errors.New("reap failed")
	}
	return sysexec.ExitStatus{}, nil
}

func (l *fakeLauncher) Kill(pid int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.killed = append(l.killed, pid)
	if w, ok := l.holds[pid]; ok {
		w.Close()
		delete(l.holds, pid)
	}
	return nil
}

func (l *fakeLauncher) killedPids() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.killed...)
}

// fakeQueue is a fixed batch recording finishes.
type fakeQueue struct {
	items    []WorkItem
	next     int
	finished int
}

func (q *fakeQueue) Take(n int) []WorkItem {
	if q.next >= len(q.items) {
		return nil
	}
	end := q.next + n
	if end > len(q.items) {
		end = len(q.items)
	}
	taken := q.items[q.next:end]
	q.next = end
	return taken
}

func (q *fakeQueue) Finish(item WorkItem) { q.finished++ }
func (q *fakeQueue) Terminal() bool       { return q.next >= len(q.items) }
func (q *fakeQueue) Status() []int        { return []int{q.finished, len(q.items)} }

// fakeControl records display operations.
type fakeControl struct {
	installs int
	erases   int
	updates  []map[string]float64
	flushes  int
}

func (c *fakeControl) Install(m *ui.Monitor) { c.installs++ }
func (c *fakeControl) Erase(m *ui.Monitor)   { c.erases++ }
func (c *fakeControl) Update(m *ui.Monitor, delta map[string]float64) {
	if len(delta) > 0 {
		c.updates = append(c.updates, delta)
	}
}
func (c *fakeControl) Frame(m *ui.Monitor) {}
func (c *fakeControl) Flush()              { c.flushes++ }

// recordingTraps counts callbacks and captures transaction closures.
type recordingTraps struct {
	NopTraps
	closed    []closedTx
	exited    []exitedProc
	groupDone int
}

type closedTx struct {
	stop    protocol.Message
	start   protocol.Message
	middle  []protocol.Message
	channel string
}

type exitedProc struct {
	pid           int
	channel       string
	laneTotalTime float64
}

func (t *recordingTraps) TransactionClosed(m *ui.Monitor, stop, start protocol.Message, middle []protocol.Message, channel string) {
	t.closed = append(t.closed, closedTx{stop: stop, start: start, middle: middle, channel: channel})
}

func (t *recordingTraps) ProcessExited(enc *protocol.Encoder, m *ui.Monitor, channel string, pid int, status sysexec.ExitStatus) {
	t.exited = append(t.exited, exitedProc{
		pid:           pid,
		channel:       channel,
		laneTotalTime: m.Metrics.Total(FieldDuration),
	})
}

func (t *recordingTraps) GroupDone() { t.groupDone++ }

func frameLine(channel int, symbol string, report *protocol.Report) string {
	return string(protocol.Append(nil, protocol.Frame{
		Channel: channel,
		Message: protocol.Message{
			Kind:   protocol.KindOf(symbol),
			Symbol: symbol,
			Report: report,
		},
	}))
}

func monitors(n int) ([]*ui.Monitor, *ui.Monitor) {
	ms := make([]*ui.Monitor, n)
	for i := range ms {
		ms[i] = ui.NewMonitor(time.Second)
	}
	return ms, ui.NewMonitor(time.Second)
}

func runDispatch(t *testing.T, opts Options) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- Dispatch(opts) }()
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("dispatch did not terminate")
		return nil
	}
}

func emitPlan(channel string, payloads ...string) Plan {
	return func(item WorkItem) SpecCursor {
		specs := make([]ProcessSpec, len(payloads))
		for i, p := range payloads {
			specs[i] = ProcessSpec{
				Category: "exec",
				Channel:  channel,
				Command:  sysexec.Command{Path: "emit", Args: []string{p}},
			}
		}
		return Specs(specs...)
	}
}

func TestDispatch_TransactionTrap(t *testing.T) {
	payload := frameLine(5, protocol.SymbolTransactionStarted, nil) +
		frameLine(5, "transaction-event", nil) +
		frameLine(5, protocol.SymbolTransactionStopped, nil)

	l := newFakeLauncher()
	traps := &recordingTraps{}
	mons, summary := monitors(1)

	err := runDispatch(t, Options{
		Queue:        &fakeQueue{items: []WorkItem{"job"}},
		Plan:         emitPlan("chan-a", payload),
		Control:      &fakeControl{},
		Monitors:     mons,
		Summary:      summary,
		Title:        "test",
		Traps:        traps,
		Launcher:     l,
		PollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	require.Len(t, traps.closed, 1)
	tx := traps.closed[0]
	assert.Equal(t, protocol.EventTransactionStarted, tx.start.Kind)
	assert.Equal(t, protocol.EventTransactionStopped, tx.stop.Kind)
	require.Len(t, tx.middle, 1)
	assert.Equal(t, protocol.EventOther, tx.middle[0].Kind)
	assert.Equal(t, "chan-a", tx.channel)

	assert.Len(t, traps.exited, 1)
	assert.Equal(t, 1, traps.groupDone)
}

func TestDispatch_LoneStopDropped(t *testing.T) {
	payload := frameLine(3, protocol.SymbolTransactionStopped, nil)

	traps := &recordingTraps{}
	mons, summary := monitors(1)

	err := runDispatch(t, Options{
		Queue:        &fakeQueue{items: []WorkItem{"job"}},
		Plan:         emitPlan("chan-b", payload),
		Control:      &fakeControl{},
		Monitors:     mons,
		Summary:      summary,
		Traps:        traps,
		Launcher:     newFakeLauncher(),
		PollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.Empty(t, traps.closed)
	// The gauge still moved: the stop decremented "executing" in aggregate.
	assert.Equal(t, -1.0, summary.Metrics.Recent(FieldExecuting))
}

func TestDispatch_ChainedSpecsKeepLane(t *testing.T) {
	report := &protocol.Report{
		Time:   10,
		Fields: []string{"octets"},
		Units:  []float64{1024},
		Counts: []int64{8},
	}
	first := frameLine(0, protocol.SymbolMetricsReport, report)

	q := &fakeQueue{items: []WorkItem{"job"}}
	l := newFakeLauncher()
	ctl := &fakeControl{}
	traps := &recordingTraps{}
	mons, summary := monitors(1)

	err := runDispatch(t, Options{
		Queue:        q,
		Plan:         emitPlan("chan-c", first, ""),
		Control:      ctl,
		Monitors:     mons,
		Summary:      summary,
		Traps:        traps,
		Launcher:     l,
		PollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	// Two chained processes, one finish: the lane never went back to the
	// pool between them.
	require.Len(t, traps.exited, 2)
	assert.NotEqual(t, traps.exited[0].pid, traps.exited[1].pid)
	assert.Equal(t, 1, q.finished)
	assert.Zero(t, ctl.erases)

	// Lane metrics were cleared between the two processes.
	assert.Equal(t, 10.0, traps.exited[0].laneTotalTime)
	assert.Equal(t, 0.0, traps.exited[1].laneTotalTime)

	// The aggregate kept both measurement contexts.
	assert.Equal(t, 10.0, summary.Metrics.Recent(FieldDuration))
	assert.Equal(t, 1024.0, summary.Metrics.Recent("octets"))
	assert.Equal(t, int64(8), summary.Metrics.Count("octets"))
}

func TestDispatch_EmptyPlan(t *testing.T) {
	q := &fakeQueue{items: []WorkItem{"job"}}
	ctl := &fakeControl{}
	traps := &recordingTraps{}
	mons, summary := monitors(1)

	err := runDispatch(t, Options{
		Queue:        q,
		Plan:         func(item WorkItem) SpecCursor { return Specs() },
		Control:      ctl,
		Monitors:     mons,
		Summary:      summary,
		Traps:        traps,
		Launcher:     newFakeLauncher(),
		PollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, q.finished)
	assert.Equal(t, 1, ctl.erases)
	assert.Empty(t, traps.exited)
	assert.Equal(t, 1, traps.groupDone)
}

func TestDispatch_MultipleItemsAcrossLanes(t *testing.T) {
	payload := frameLine(1, protocol.SymbolTransactionStarted, nil) +
		frameLine(1, protocol.SymbolTransactionStopped, nil)

	q := &fakeQueue{items: []WorkItem{"a", "b", "c"}}
	traps := &recordingTraps{}
	mons, summary := monitors(2)

	err := runDispatch(t, Options{
		Queue:        q,
		Plan:         emitPlan("chan-d", payload),
		Control:      &fakeControl{},
		Monitors:     mons,
		Summary:      summary,
		Traps:        traps,
		Launcher:     newFakeLauncher(),
		PollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.Len(t, traps.closed, 3)
	assert.Equal(t, 3, q.finished)
	assert.Equal(t, 0.0, summary.Metrics.Recent(FieldExecuting))
}

func TestDispatch_ReapErrorKillsSurvivors(t *testing.T) {
	l := newFakeLauncher()
	traps := &recordingTraps{}
	mons, summary := monitors(2)

	plan := func(item WorkItem) SpecCursor {
		if item == "stuck" {
			return Specs(ProcessSpec{Category: "exec", Command: sysexec.Command{Path: "hold"}})
		}
		return Specs(ProcessSpec{Category: "exec", Command: sysexec.Command{Path: "badreap"}})
	}

	err := runDispatch(t, Options{
		Queue:        &fakeQueue{items: []WorkItem{"stuck", "doomed"}},
		Plan:         plan,
		Control:      &fakeControl{},
		Monitors:     mons,
		Summary:      summary,
		Traps:        traps,
		Launcher:     l,
		PollInterval: 5 * time.Millisecond,
	})
	require.Error(t, err)

	// Both sessions were still tracked on the way out; each process group
	// got the best-effort kill.
	killed := l.killedPids()
	require.Len(t, killed, 2)
	assert.Equal(t, 0, traps.groupDone)
}

func TestDispatch_ValidatesOptions(t *testing.T) {
	assert.Error(t, Dispatch(Options{}))

	mons, summary := monitors(1)
	err := Dispatch(Options{
		Queue:    &fakeQueue{},
		Plan:     func(WorkItem) SpecCursor { return Specs() },
		Control:  &fakeControl{},
		Monitors: mons,
		Summary:  summary,
	})
	// A terminal empty queue is a clean no-op run.
	assert.NoError(t, err)
}

func TestSpecs_Cursor(t *testing.T) {
	c := Specs(ProcessSpec{Category: "one"}, ProcessSpec{Category: "two"})
	s, ok := c.Next()
	require.True(t, ok)
	assert.Equal(t, "one", s.Category)
	s, ok = c.Next()
	require.True(t, ok)
	assert.Equal(t, "two", s.Category)
	_, ok = c.Next()
	assert.False(t, ok)
}
