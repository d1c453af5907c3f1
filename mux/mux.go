// Package mux multiplexes the output of a fixed array of lanes into decoded
// protocol frames. Each lane is bound to one byte source (the read side of a
// spawned process's output). Reader goroutines are pure byte pumps; all
// decoding happens on the caller's goroutine during Poll.
package mux

import (
	"os"
	"time"

	"laneway/protocol"
)

// Activity reports what one lane produced since the previous poll: either the
// frames decoded from it, in arrival order, or EOF when the source closed.
// Frames observed before a close are always delivered ahead of the EOF.
type Activity struct {
	Lane   int
	EOF    bool
	Frames []protocol.Frame
}

type laneState struct {
	src    *os.File
	dec    *protocol.Decoder
	data   chan []byte
	quit   chan struct{}
	sawEOF bool
	done   bool
}

// FrameArray owns the lane bindings. Connect, Poll and Close must all be
// called from the same goroutine; only the internal byte pumps run elsewhere.
type FrameArray struct {
	lanes []*laneState
	wake  chan struct{}
}

// New creates a FrameArray with n disconnected lanes.
func New(n int) *FrameArray {
	return &FrameArray{
		lanes: make([]*laneState, n),
		wake:  make(chan struct{}, 1),
	}
}

// Connect binds a lane to a new byte source. Any previous binding is released
// and its partially decoded input discarded; a fresh session always starts
// with fresh decode state.
func (fa *FrameArray) Connect(lane int, src *os.File) {
	fa.release(fa.lanes[lane])
	ls := &laneState{
		src:  src,
		dec:  &protocol.Decoder{},
		data: make(chan []byte, 32),
		quit: make(chan struct{}),
	}
	fa.lanes[lane] = ls
	go fa.pump(ls)
}

func (fa *FrameArray) pump(ls *laneState) {
	defer close(ls.data)
	buf := make([]byte, 4096)
	for {
		n, err := ls.src.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case ls.data <- chunk:
				fa.notify()
			case <-ls.quit:
				return
			}
		}
		if err != nil {
			fa.notify()
			return
		}
	}
}

func (fa *FrameArray) notify() {
	select {
	case fa.wake <- struct{}{}:
	default:
	}
}

// Poll returns the pending activity of every lane. When nothing is pending it
// waits at most timeout for the first sign of activity, so the caller's loop
// can keep ticking even while all lanes are quiet.
func (fa *FrameArray) Poll(timeout time.Duration) []Activity {
	acts := fa.drain()
	if len(acts) == 0 && timeout > 0 {
		t := time.NewTimer(timeout)
		select {
		case <-fa.wake:
		case <-t.C:
		}
		t.Stop()
		acts = fa.drain()
	}
	return acts
}

func (fa *FrameArray) drain() []Activity {
	var acts []Activity
	for lid, ls := range fa.lanes {
		if ls == nil || ls.done {
			continue
		}
		var frames []protocol.Frame
		eof := ls.sawEOF
	lane:
		for !eof {
			select {
			case chunk, ok := <-ls.data:
				if !ok {
					eof = true
					break lane
				}
				frames = append(frames, ls.dec.Feed(chunk)...)
			default:
				break lane
			}
		}
		switch {
		case len(frames) > 0:
			// EOF, if seen, is reported on the next pass.
			ls.sawEOF = eof
			acts = append(acts, Activity{Lane: lid, Frames: frames})
		case eof:
			ls.done = true
			_ = ls.src.Close()
			acts = append(acts, Activity{Lane: lid, EOF: true})
		}
	}
	return acts
}

// Close releases every lane's descriptor. It is called on every exit path of
// the dispatch loop, error or not.
func (fa *FrameArray) Close() {
	for i, ls := range fa.lanes {
		fa.release(ls)
		fa.lanes[i] = nil
	}
}

func (fa *FrameArray) release(ls *laneState) {
	if ls == nil || ls.done {
		return
	}
	ls.done = true
	close(ls.quit)
	_ = ls.src.Close()
}
