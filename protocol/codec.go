package protocol

import (
	"bytes"
	"fmt"
	"io"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Decoder turns raw bytes from one channel's output into frames. It is
// stateful: a line split across reads is reassembled on the next Feed. One
// Decoder serves exactly one lane binding; rebinding a lane starts a fresh
// Decoder so stale partial input is never carried over.
type Decoder struct {
	buf []byte
}

// Feed appends raw bytes and returns every frame completed by them, in
// arrival order. Lines that do not parse as frame records are skipped.
func (d *Decoder) Feed(p []byte) []Frame {
	d.buf = append(d.buf, p...)

	var frames []Frame
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			return frames
		}
		line := d.buf[:i]
		d.buf = d.buf[i+1:]
		if f, ok := decodeLine(line); ok {
			frames = append(frames, f)
		}
	}
}

func decodeLine(line []byte) (Frame, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || !gjson.ValidBytes(line) {
		return Frame{}, false
	}
	root := gjson.ParseBytes(line)
	event := root.Get("event")
	if !event.Exists() {
		return Frame{}, false
	}

	symbol := event.String()
	msg := Message{
		Kind:     KindOf(symbol),
		Symbol:   symbol,
		Synopsis: root.Get("synopsis").String(),
	}

	data := root.Get("data")
	if data.Get("fields").IsArray() {
		r := &Report{Time: data.Get("time").Float()}
		for _, f := range data.Get("fields").Array() {
			r.Fields = append(r.Fields, f.String())
		}
		for _, u := range data.Get("units").Array() {
			r.Units = append(r.Units, u.Float())
		}
		for _, c := range data.Get("counts").Array() {
			r.Counts = append(r.Counts, c.Int())
		}
		msg.Report = r
	}

	return Frame{Channel: int(root.Get("channel").Int()), Message: msg}, true
}

// Append serializes one frame as a newline-terminated record onto dst.
func Append(dst []byte, f Frame) []byte {
	line := []byte(`{}`)
	line, _ = sjson.SetBytes(line, "channel", f.Channel)
	line, _ = sjson.SetBytes(line, "event", f.Message.Symbol)
	if f.Message.Synopsis != "" {
		line, _ = sjson.SetBytes(line, "synopsis", f.Message.Synopsis)
	}
	if r := f.Message.Report; r != nil {
		line, _ = sjson.SetBytes(line, "data.time", r.Time)
		line, _ = sjson.SetBytes(line, "data.fields", r.Fields)
		line, _ = sjson.SetBytes(line, "data.units", r.Units)
		line, _ = sjson.SetBytes(line, "data.counts", r.Counts)
	}
	dst = append(dst, line...)
	return append(dst, '\n')
}

// Encoder writes frames to an output stream. The end-of-process trap receives
// one so it can emit final snapshot frames downstream.
type Encoder struct {
	W io.Writer
}

// Emit writes one frame for the given channel.
func (e *Encoder) Emit(channel int, m Message) error {
	if _, err := e.W.Write(Append(nil, Frame{Channel: channel, Message: m})); err != nil {
		return fmt.Errorf("emit frame: %w", err)
	}
	return nil
}
