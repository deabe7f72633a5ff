// Package progress turns the growing output of a running transfer into
// de-duplicated change events and throttled status-line updates.
package progress

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/openmined/mirrorctl/internal/changes"
)

// tailWindow bounds how much trailing output is kept to find the latest
// percentage line.
const tailWindow = 2048

var statusRE = regexp.MustCompile(`(\d{1,3})%\s+(\S+/s)?`)

type EventKind int

const (
	EventChange EventKind = iota
	EventStatus
)

// Status is one rendering of the status line.
type Status struct {
	Percent    int // -1 when no percentage has been seen yet
	Throughput string
	Elapsed    time.Duration // truncated to whole seconds
}

// Text is the percent/throughput part of the status line, without elapsed time.
func (s Status) Text() string {
	if s.Percent < 0 {
		return ""
	}
	if s.Throughput == "" {
		return strings.TrimSpace(formatPercent(s.Percent))
	}
	return formatPercent(s.Percent) + "  " + s.Throughput
}

// Event is something the renderer should show.
type Event struct {
	Kind   EventKind
	Change changes.Line
	Status Status
}

// Reporter is the state of one apply operation's progress view. It is not
// safe for concurrent use.
type Reporter struct {
	start   time.Time
	scanner changes.Scanner
	tail    []byte
	shown   int

	lastText    string
	lastElapsed int64
	rendered    bool
}

func NewReporter(start time.Time) *Reporter {
	return &Reporter{start: start, lastElapsed: -1}
}

// Shown is the number of change lines surfaced so far. It never decreases.
func (r *Reporter) Shown() int {
	return r.shown
}

// Update consumes the next chunk of output (possibly empty) and returns the
// events to render: every newly completed change line in arrival order,
// followed by at most one status event when the status text or the elapsed
// second changed.
func (r *Reporter) Update(chunk []byte, now time.Time) []Event {
	var events []Event

	r.scanner.Feed(chunk, func(l changes.Line) {
		r.shown++
		events = append(events, Event{Kind: EventChange, Change: l})
	})
	r.appendTail(chunk)

	status := r.status(now)
	text, secs := status.Text(), int64(status.Elapsed/time.Second)
	if !r.rendered || text != r.lastText || secs != r.lastElapsed {
		r.rendered = true
		r.lastText, r.lastElapsed = text, secs
		events = append(events, Event{Kind: EventStatus, Status: status})
	}
	return events
}

// Finish emits the changes of the final report that were not shown yet.
func (r *Reporter) Finish(final *changes.Report) []Event {
	if final == nil || r.shown >= len(final.Changes) {
		return nil
	}

	events := make([]Event, 0, len(final.Changes)-r.shown)
	for _, l := range final.Changes[r.shown:] {
		events = append(events, Event{Kind: EventChange, Change: l})
	}
	r.shown = len(final.Changes)
	return events
}

func (r *Reporter) appendTail(chunk []byte) {
	if len(chunk) >= tailWindow {
		r.tail = append(r.tail[:0], chunk[len(chunk)-tailWindow:]...)
		return
	}
	r.tail = append(r.tail, chunk...)
	if over := len(r.tail) - tailWindow; over > 0 {
		r.tail = append(r.tail[:0], r.tail[over:]...)
	}
}

// status reads the last line carrying a percentage inside the tail window.
func (r *Reporter) status(now time.Time) Status {
	st := Status{Percent: -1, Elapsed: now.Sub(r.start).Truncate(time.Second)}
	if st.Elapsed < 0 {
		st.Elapsed = 0
	}

	window := r.tail
	for len(window) > 0 {
		end := bytes.LastIndexAny(window, "\r\n")
		line := window[end+1:]
		if m := statusRE.FindSubmatch(line); m != nil {
			st.Percent, _ = strconv.Atoi(string(m[1]))
			st.Throughput = string(m[2])
			break
		}
		if end < 0 {
			break
		}
		window = window[:end]
	}
	return st
}

func formatPercent(p int) string {
	return fmt.Sprintf("%3d%%", p)
}
