package transport

import "strings"

// DefaultLogCapacity is the number of lines kept in the event log.
const DefaultLogCapacity = 800

// LogBuffer is the bounded human-readable event trail. The oldest line is
// dropped when a new one would exceed the capacity. It is not safe for
// concurrent use; the Session guards it.
type LogBuffer struct {
	lines []string
	limit int
}

// NewLogBuffer returns a buffer holding at most limit lines.
func NewLogBuffer(limit int) *LogBuffer {
	if limit <= 0 {
		limit = DefaultLogCapacity
	}
	return &LogBuffer{limit: limit}
}

// Append adds a line, evicting the oldest if full.
func (b *LogBuffer) Append(line string) {
	if len(b.lines) >= b.limit {
		// Shift in place so the backing array does not grow without bound.
		n := copy(b.lines, b.lines[len(b.lines)-b.limit+1:])
		b.lines = b.lines[:n]
	}
	b.lines = append(b.lines, line)
}

// ReplaceLast overwrites the newest line if it starts with prefix,
// otherwise it appends. Used for the progressively dotted reconnect line.
func (b *LogBuffer) ReplaceLast(prefix, line string) {
	if n := len(b.lines); n > 0 && strings.HasPrefix(b.lines[n-1], prefix) {
		b.lines[n-1] = line
		return
	}
	b.Append(line)
}

// Lines returns a copy of the buffer, oldest first.
func (b *LogBuffer) Lines() []string {
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

// Len returns the number of buffered lines.
func (b *LogBuffer) Len() int {
	return len(b.lines)
}
