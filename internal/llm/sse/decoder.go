// Package sse turns raw chunks of an OpenAI-style event stream into
// incremental text events.
package sse

import (
	"bytes"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/kitbuilder587/genstream/internal/llm"
)

type EventKind int

const (
	EventText EventKind = iota
	EventFinish
	EventDone
	EventUnparsable
	// EventError is an error object sent by the provider inside the stream.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventFinish:
		return "finish"
	case EventDone:
		return "done"
	case EventUnparsable:
		return "unparsable"
	case EventError:
		return "error"
	}
	return "unknown"
}

type Event struct {
	Kind         EventKind
	Text         string
	FinishReason llm.FinishReason
	// Raw holds the offending payload for EventUnparsable and EventError.
	Raw string
}

const (
	dataPrefix = "data:"
	doneMarker = "[DONE]"
)

// Decoder reassembles lines across chunk boundaries. It is not safe for
// concurrent use; one decoder serves one attempt.
type Decoder struct {
	carry  []byte
	done   bool
	logger *zap.Logger
}

func NewDecoder(logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{logger: logger}
}

// Done reports whether the terminal marker has been seen.
func (d *Decoder) Done() bool { return d.done }

// Feed appends a chunk and returns the events of every line it completed.
// The trailing partial line is kept for the next call.
func (d *Decoder) Feed(chunk []byte) []Event {
	if d.done {
		return nil
	}
	d.carry = append(d.carry, chunk...)

	var events []Event
	for {
		i := bytes.IndexByte(d.carry, '\n')
		if i < 0 {
			break
		}
		line := d.carry[:i]
		d.carry = d.carry[i+1:]
		events = append(events, d.decodeLine(line)...)
		if d.done {
			d.carry = nil
			break
		}
	}
	if len(d.carry) == 0 {
		d.carry = nil
	}
	return events
}

// Flush decodes whatever is left in the carry-over buffer. Call it once the
// transport reports end of stream.
func (d *Decoder) Flush() []Event {
	if d.done || len(d.carry) == 0 {
		d.carry = nil
		return nil
	}
	line := d.carry
	d.carry = nil
	return d.decodeLine(line)
}

func (d *Decoder) decodeLine(line []byte) []Event {
	line = bytes.TrimRight(line, "\r")
	if len(bytes.TrimSpace(line)) == 0 || !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return nil
	}
	payload := strings.TrimSpace(string(line[len(dataPrefix):]))
	if payload == "" {
		return nil
	}
	if payload == doneMarker {
		d.done = true
		return []Event{{Kind: EventDone}}
	}

	if !gjson.Valid(payload) {
		d.logger.Debug("skipping unparsable stream line", zap.String("payload", truncate(payload)))
		return []Event{{Kind: EventUnparsable, Raw: payload}}
	}

	root := gjson.Parse(payload)
	if msg := root.Get("error.message"); msg.Exists() {
		return []Event{{Kind: EventError, Text: msg.String(), Raw: payload}}
	}

	choice := root.Get("choices.0")
	if !choice.Exists() {
		return nil
	}

	var events []Event
	if text := deltaText(choice.Get("delta.content")); text != "" {
		events = append(events, Event{Kind: EventText, Text: text})
	}
	if fr := choice.Get("finish_reason"); fr.Type == gjson.String && fr.String() != "" {
		events = append(events, Event{Kind: EventFinish, FinishReason: llm.ClassifyFinish(fr.String())})
	}
	return events
}

// deltaText accepts both a plain string and an array of parts. Part texts
// are concatenated in order.
func deltaText(content gjson.Result) string {
	switch {
	case content.Type == gjson.String:
		return content.String()
	case content.IsArray():
		var b strings.Builder
		content.ForEach(func(_, part gjson.Result) bool {
			b.WriteString(part.Get("text").String())
			return true
		})
		return b.String()
	}
	return ""
}

func truncate(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
