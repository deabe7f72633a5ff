package changes

import "bytes"

// Scanner classifies a stream that arrives in arbitrary chunks. An
// incomplete trailing line is carried over to the next Feed.
type Scanner struct {
	carry []byte
}

// Feed consumes chunk and calls emit for every recognized change whose line
// is complete, in stream order.
func (s *Scanner) Feed(chunk []byte, emit func(Line)) {
	if len(chunk) == 0 {
		return
	}

	data := chunk
	if len(s.carry) > 0 {
		data = append(s.carry, chunk...)
	}

	last := bytes.LastIndexAny(data, "\r\n")
	if last < 0 {
		s.carry = append(s.carry[:0], data...)
		return
	}

	forEachLine(data[:last], func(line []byte) {
		if l := ClassifyLine(string(line)); l.Kind != Unrecognized {
			emit(l)
		}
	})

	// copy: data may alias the caller's chunk
	s.carry = append(s.carry[:0], data[last+1:]...)
}

// Flush classifies whatever partial line is still buffered.
func (s *Scanner) Flush(emit func(Line)) {
	if len(s.carry) == 0 {
		return
	}
	if l := ClassifyLine(string(s.carry)); l.Kind != Unrecognized {
		emit(l)
	}
	s.carry = s.carry[:0]
}
