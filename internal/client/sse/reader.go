// Package sse reads server-sent event streams and keeps one open across
// disconnects, resuming with Last-Event-ID.
package sse

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

const maxLineSize = 1 << 20

// Event is one dispatched server-sent event.
type Event struct {
	ID    string
	Type  string
	Data  string
	Retry time.Duration
}

// Reader parses an event stream. It is not safe for concurrent use.
type Reader struct {
	scanner *bufio.Scanner
	lastID  string
	retry   time.Duration
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineSize)
	return &Reader{scanner: sc}
}

// LastEventID is the id of the most recent event that carried one.
func (r *Reader) LastEventID() string { return r.lastID }

// Retry is the last reconnect delay the server advertised, zero if none.
func (r *Reader) Retry() time.Duration { return r.retry }

// Next returns the next event with data. Comments and data-less blocks are
// consumed silently; a retry field is applied and also reported on the next
// event. io.EOF means the stream ended cleanly.
func (r *Reader) Next() (Event, error) {
	var (
		ev      Event
		data    strings.Builder
		hasData bool
	)
	ev.Type = "message"

	for r.scanner.Scan() {
		line := strings.TrimSuffix(r.scanner.Text(), "\r")
		if line == "" {
			if !hasData {
				ev = Event{Type: "message"}
				continue
			}
			ev.Data = data.String()
			ev.ID = r.lastID
			ev.Retry = r.retry
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		}
		switch field {
		case "event":
			ev.Type = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "id":
			if !strings.ContainsRune(value, 0) {
				r.lastID = value
			}
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
				r.retry = time.Duration(ms) * time.Millisecond
			}
		}
	}

	if err := r.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}
