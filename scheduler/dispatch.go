package scheduler

import (
	"errors"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"laneway/log"
	"laneway/metrics"
	"laneway/mux"
	"laneway/protocol"
	"laneway/sysexec"
	"laneway/ui"
)

// Field names maintained by the dispatch loop itself.
const (
	// FieldDuration accumulates the time reported by metrics-report frames.
	FieldDuration = "duration"
	// FieldExecuting gauges the number of open transactions.
	FieldExecuting = "executing"
)

// Options configures one Dispatch run. Queue, Plan, Control, Monitors and
// Summary are required; the rest default sensibly.
type Options struct {
	Queue    Queue
	Plan     Plan
	Control  Control
	Monitors []*ui.Monitor
	Summary  *ui.Monitor
	Title    string

	Traps    Traps
	Launcher sysexec.Launcher
	// Window is the metrics retention horizon applied on every tick.
	Window time.Duration
	// PollInterval bounds how long an idle tick waits for lane activity.
	PollInterval time.Duration
	// Emit receives frames written by the end-of-process trap.
	Emit io.Writer
}

// jobSession is the live state of one work item inside a lane. Sessions are
// held in a fixed array indexed by lane; a nil slot is an available lane.
type jobSession struct {
	item    WorkItem
	specs   SpecCursor
	pid     int
	channel string
	// transactions maps a channel id to the frames of its open transaction.
	transactions map[int][]protocol.Message
}

// laneBind is the result of launching the next process of a session: the
// byte source to bind plus the monitor heading for it.
type laneBind struct {
	out        *os.File
	category   string
	dimensions []string
}

// launch starts the session's next chained process. A nil bind with no error
// means the spec chain is exhausted.
func (s *jobSession) launch(l sysexec.Launcher) (*laneBind, error) {
	spec, ok := s.specs.Next()
	if !ok {
		return nil, nil
	}
	s.channel = spec.Channel
	pid, out, err := l.Spawn(spec.Command)
	if err != nil {
		return nil, err
	}
	s.pid = pid
	return &laneBind{out: out, category: spec.Category, dimensions: spec.Dimensions}, nil
}

// Dispatch runs the lane scheduling loop until the queue is terminal and all
// lanes have drained, or an unexpected launcher failure propagates. On every
// exit path the frame array is released and surviving process groups are
// killed best-effort.
func Dispatch(opts Options) error {
	if err := opts.validate(); err != nil {
		return err
	}
	traps := opts.Traps
	if traps == nil {
		traps = NopTraps{}
	}
	launcher := opts.Launcher
	if launcher == nil {
		launcher = sysexec.NewSystem()
	}
	window := opts.Window
	if window <= 0 {
		window = metrics.DefaultWindow
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 50 * time.Millisecond
	}
	emit := opts.Emit
	if emit == nil {
		emit = os.Stdout
	}

	var (
		q        = opts.Queue
		plan     = opts.Plan
		ctl      = opts.Control
		monitors = opts.Monitors
		summary  = opts.Summary
		enc      = &protocol.Encoder{W: emit}

		nlanes    = len(monitors)
		sessions  = make([]*jobSession, nlanes)
		available = make([]int, 0, nlanes)
	)
	for lid := range monitors {
		available = append(available, lid)
	}

	summary.Title(opts.Title, "*")
	totals := summary.Metrics
	totals.Clear()

	ioa := mux.New(nlanes)
	defer func() {
		ioa.Close()
		// Best-effort reclamation: a process may already be gone, and a
		// kill failure must not mask the loop's own outcome.
		for _, s := range sessions {
			if s == nil || s.pid == 0 {
				continue
			}
			if err := launcher.Kill(s.pid); err != nil {
				continue
			}
			_, _ = launcher.Reap(s.pid)
		}
	}()

	last := time.Now()
	for {
		if len(available) > 0 {
			// Admission: open lanes take from the queue.
			for _, item := range q.Take(len(available)) {
				lid := available[0]
				available = available[1:]

				s := &jobSession{
					item:         item,
					specs:        plan(item),
					transactions: make(map[int][]protocol.Message),
				}
				sessions[lid] = s

				mon := monitors[lid]
				mon.Metrics.Clear()

				bind, err := s.launch(launcher)
				if err != nil {
					return err
				}
				if bind == nil {
					// Empty plan: the item is already done.
					q.Finish(item)
					ctl.Erase(mon)
					sessions[lid] = nil
					available = append(available, lid)
					continue
				}

				mon.Title(bind.category, bind.dimensions...)
				ioa.Connect(lid, bind.out)
				ctl.Install(mon)
				log.DebugLog.Printf("lane %d: pid %d started", lid, s.pid)
			}
			ctl.Flush()

			if q.Terminal() {
				if !anySession(sessions) {
					break
				}
				if len(available) > 0 {
					if err := backfill(sessions, &available, monitors, launcher, ioa, ctl); err != nil {
						return err
					}
				}
			}
		}

		// Event poll across all lanes.
		for _, act := range ioa.Poll(pollInterval) {
			lid := act.Lane
			s := sessions[lid]
			if s == nil {
				continue
			}
			mon := monitors[lid]

			if act.EOF {
				pid := s.pid
				status, err := launcher.Reap(pid)
				if err != nil {
					return err
				}
				traps.ProcessExited(enc, mon, s.channel, pid, status)

				bind, err := s.launch(launcher)
				if err != nil {
					return err
				}
				// A new process starts a fresh measurement context.
				mon.Metrics.Clear()
				if bind != nil {
					ioa.Connect(lid, bind.out)
					mon.Title(bind.category, bind.dimensions...)
					ctl.Install(mon)
					continue
				}

				q.Finish(s.item)
				sessions[lid] = nil
				available = append(available, lid)

				summary.Title(opts.Title, statusLine(q))
				ctl.Install(summary)
				continue
			}

			ingest(act.Frames, s, mon, totals, traps)
		}

		// Metrics tick: commit all lanes, then the aggregate, against one
		// elapsed sample.
		now := time.Now()
		elapsed := now.Sub(last)
		if elapsed < time.Millisecond {
			elapsed = time.Millisecond
		}
		last = now

		for _, mon := range monitors {
			mm := mon.Metrics
			changed := mm.Changes()
			mm.Commit(elapsed)
			mm.Trim(window)
			ctl.Update(mon, mm.Delta(changed))
		}

		tchanged := totals.Changes()
		totals.Commit(elapsed)
		totals.Trim(window)

		summary.Title(opts.Title, statusLine(q))
		ctl.Frame(summary)
		ctl.Update(summary, totals.Delta(tchanged))
		ctl.Flush()
	}

	traps.GroupDone()
	return nil
}

func (opts Options) validate() error {
	switch {
	case opts.Queue == nil:
		return errors.New("scheduler: queue is required")
	case opts.Plan == nil:
		return errors.New("scheduler: plan is required")
	case opts.Control == nil:
		return errors.New("scheduler: control is required")
	case len(opts.Monitors) == 0:
		return errors.New("scheduler: at least one lane monitor is required")
	case opts.Summary == nil:
		return errors.New("scheduler: summary monitor is required")
	}
	return nil
}

// ingest applies one poll's frames to the lane's transaction buffers and to
// the lane and aggregate metrics.
func ingest(frames []protocol.Frame, s *jobSession, mon *ui.Monitor, totals *metrics.Metrics, traps Traps) {
	mm := mon.Metrics
	for _, fr := range frames {
		msg := fr.Message
		s.transactions[fr.Channel] = append(s.transactions[fr.Channel], msg)

		if r := msg.Report; r != nil {
			mm.Update(FieldDuration, r.Time, 1)
			totals.Update(FieldDuration, r.Time, 1)
			for i, name := range r.Fields {
				if i >= len(r.Units) || i >= len(r.Counts) {
					break
				}
				mm.Update(name, r.Units[i], r.Counts[i])
				totals.Update(name, r.Units[i], r.Counts[i])
			}
		}

		switch msg.Kind {
		case protocol.EventTransactionStarted:
			mm.Update(FieldExecuting, 1, 0)
			totals.Update(FieldExecuting, 1, 0)
		case protocol.EventTransactionStopped:
			mm.Update(FieldExecuting, -1, 0)
			totals.Update(FieldExecuting, -1, 0)

			buf := s.transactions[fr.Channel]
			delete(s.transactions, fr.Channel)
			if len(buf) < 2 {
				// Close without a matching open: protocol noise, dropped.
				continue
			}
			traps.TransactionClosed(mon, buf[len(buf)-1], buf[0], buf[1:len(buf)-1], s.channel)
		case protocol.EventMetricsReport, protocol.EventOther:
		}
	}
}

// backfill runs once the queue is terminal but lanes sit idle: remaining
// chained specs of live sessions are spread onto the free lanes so the tail
// of the run still uses full width.
func backfill(sessions []*jobSession, available *[]int, monitors []*ui.Monitor, launcher sysexec.Launcher, ioa *mux.FrameArray, ctl Control) error {
	for lid := 0; lid < len(sessions) && len(*available) > 0; lid++ {
		src := sessions[lid]
		if src == nil {
			continue
		}
		for len(*available) > 0 {
			// The clone shares the source's cursor: it claims the chain's
			// next spec for its own lane.
			clone := &jobSession{
				item:         src.item,
				specs:        src.specs,
				transactions: make(map[int][]protocol.Message),
			}
			bind, err := clone.launch(launcher)
			if err != nil {
				return err
			}
			if bind == nil {
				break
			}

			xlid := (*available)[0]
			*available = (*available)[1:]
			sessions[xlid] = clone

			mon := monitors[xlid]
			mon.Metrics.Clear()
			mon.Title(bind.category, bind.dimensions...)
			ioa.Connect(xlid, bind.out)
			ctl.Install(mon)
			log.DebugLog.Printf("lane %d: backfilled pid %d", xlid, clone.pid)
		}
	}
	return nil
}

func anySession(sessions []*jobSession) bool {
	for _, s := range sessions {
		if s != nil {
			return true
		}
	}
	return false
}

func statusLine(q Queue) string {
	counters := q.Status()
	parts := make([]string, len(counters))
	for i, c := range counters {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, "/")
}
