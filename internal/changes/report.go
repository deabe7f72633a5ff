package changes

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

const maxLineSize = 1024 * 1024 // 1MB

// Report is the result of parsing one rsync output stream.
//
// Sent + Received + Deleted always equals len(Changes).
type Report struct {
	Sent     int
	Received int
	Deleted  int
	Changes  []Line
}

// Add records a classified line. Unrecognized lines are ignored and Add
// returns false for them.
func (r *Report) Add(l Line) bool {
	switch l.Kind {
	case Outbound:
		r.Sent++
	case Inbound:
		r.Received++
	case Deleted:
		r.Deleted++
	default:
		return false
	}
	r.Changes = append(r.Changes, l)
	return true
}

// Total is the number of recorded changes.
func (r *Report) Total() int {
	return r.Sent + r.Received + r.Deleted
}

// Empty reports whether nothing would be (or was) transferred or deleted.
func (r *Report) Empty() bool {
	return r.Total() == 0
}

// Deletions returns the deleted paths in first-seen order.
func (r *Report) Deletions() []string {
	paths := make([]string, 0, r.Deleted)
	for _, c := range r.Changes {
		if c.Kind == Deleted {
			paths = append(paths, c.Path)
		}
	}
	return paths
}

func (r *Report) String() string {
	return fmt.Sprintf("sent: %d, received: %d, deleted: %d", r.Sent, r.Received, r.Deleted)
}

// Parse reads an rsync output stream to EOF in a single pass. Carriage
// returns from progress redraws are treated as line breaks.
func Parse(rd io.Reader) (*Report, error) {
	report := &Report{}

	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	scanner.Split(ScanLines)
	for scanner.Scan() {
		report.Add(ClassifyLine(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return report, fmt.Errorf("scan output: %w", err)
	}
	return report, nil
}

// ParseBytes is Parse over an in-memory buffer.
func ParseBytes(b []byte) *Report {
	report := &Report{}
	forEachLine(b, func(line []byte) {
		report.Add(ClassifyLine(string(line)))
	})
	return report
}

// ScanLines is a bufio.SplitFunc that splits on '\n', '\r' or "\r\n".
// Empty tokens produced by "\r\n" pairs are harmless to the classifier.
func ScanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// forEachLine walks b once, calling fn for every '\r' or '\n' terminated
// segment and the unterminated tail, if any.
func forEachLine(b []byte, fn func(line []byte)) {
	for len(b) > 0 {
		i := bytes.IndexAny(b, "\r\n")
		if i < 0 {
			fn(b)
			return
		}
		fn(b[:i])
		b = b[i+1:]
	}
}
