package serial

import (
	"strings"
	"time"

	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/command"
	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/transport"
)

// Reply framing.
const (
	// quietPeriod is how long the link must stay silent after a terminal
	// marker before the reply is considered complete.
	quietPeriod = 100 * time.Millisecond

	// markerlessQuiet ends replies that never carry a CTRL marker (HELP).
	markerlessQuiet = 250 * time.Millisecond

	// minBaseTimeout is the floor for the base reply timeout.
	minBaseTimeout = 500 * time.Millisecond

	// hardDeadlineFactor scales the base timeout into the per-command
	// deadline. Streaming replies extend it further.
	hardDeadlineFactor = 2
)

// slot is the single command currently on the wire.
type slot struct {
	handle transport.Handle // zero for polls
	req    command.Request
	line   string
	poll   bool

	started  time.Time
	deadline time.Time
	streamTo time.Time
	lastRx   time.Time

	terminal bool
	lines    []string
}

func newSlot(h transport.Handle, req command.Request, line string, poll bool, now time.Time, base time.Duration) *slot {
	return &slot{
		handle:   h,
		req:      req,
		line:     line,
		poll:     poll,
		started:  now,
		deadline: now.Add(hardDeadlineFactor * base),
	}
}

// receive records a reply line and extends the deadlines for streaming
// replies.
func (s *slot) receive(line string, now time.Time, base time.Duration) {
	s.lines = append(s.lines, line)
	s.lastRx = now

	upper := strings.ToUpper(line)
	switch {
	case strings.Contains(upper, "SCANNING=1"):
		s.extend(now, maxDuration(3*time.Second, 2*base), maxDuration(6*time.Second, 3*base))
	case strings.HasPrefix(upper, "NET:LIST"):
		s.extend(now, maxDuration(2*time.Second, base*3/2), maxDuration(4*time.Second, 2*base))
	case strings.HasPrefix(upper, "SSID="):
		s.extend(now, maxDuration(500*time.Millisecond, base/3), 0)
	}
}

func (s *slot) extend(now time.Time, stream, hard time.Duration) {
	if t := now.Add(stream); t.After(s.streamTo) {
		s.streamTo = t
	}
	if hard > 0 {
		if t := now.Add(hard); t.After(s.deadline) {
			s.deadline = t
		}
	}
}

// due reports whether the reply is finished and whether it ended by
// timeout.
func (s *slot) due(now time.Time) (finished, timedOut bool) {
	if now.Before(s.streamTo) {
		return false, false
	}
	last := s.lastRx
	if last.IsZero() {
		last = s.started
	}
	idle := now.Sub(last)

	switch {
	case s.terminal && idle >= quietPeriod:
		return true, false
	case s.req.Action == command.ActionHelp && len(s.lines) > 0 && idle >= markerlessQuiet:
		return true, false
	case !now.Before(s.deadline):
		return true, true
	}
	return false, false
}

// text joins the collected reply lines.
func (s *slot) text() string {
	return strings.TrimSpace(strings.Join(s.lines, "\n"))
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
