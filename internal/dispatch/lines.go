package dispatch

import (
	"bytes"
	"time"
)

// Line is one line of converter output.
type Line struct {
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

// scanLines is a bufio.SplitFunc that breaks on "\n", "\r\n" and a bare
// "\r". Progress bars redraw with "\r", so each redraw becomes its own line.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		// '\r': need one more byte to tell "\r\n" from a bare "\r"
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if atEOF {
			return i + 1, data[:i], nil
		}
		return 0, nil, nil
	}

	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// tail keeps the last max lines in a ring.
type tail struct {
	buf  []string
	max  int
	next int
	full bool
}

func newTail(max int) *tail {
	if max <= 0 {
		max = DefaultTailLines
	}
	return &tail{buf: make([]string, max), max: max}
}

func (t *tail) add(line string) {
	t.buf[t.next] = line
	t.next = (t.next + 1) % t.max
	if t.next == 0 {
		t.full = true
	}
}

// lines returns the kept lines oldest first.
func (t *tail) lines() []string {
	if !t.full {
		out := make([]string, t.next)
		copy(out, t.buf[:t.next])
		return out
	}
	out := make([]string, 0, t.max)
	out = append(out, t.buf[t.next:]...)
	out = append(out, t.buf[:t.next]...)
	return out
}
