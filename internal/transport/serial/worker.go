package serial

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/command"
	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/response"
	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/telemetry"
	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/transport"
)

// Worker defaults.
const (
	defaultBaud         = 115200
	defaultTimeout      = time.Second
	defaultPollInterval = 500 * time.Millisecond

	// housekeepInterval is how often overdue motion commands are expired.
	housekeepInterval = 250 * time.Millisecond

	// pollCIDTTL is how long a poll's CID is remembered so late replies to
	// it stay out of the log.
	pollCIDTTL = 2 * time.Second

	readBufferSize = 256

	// maxLineLength drops unframed garbage that never sees a newline.
	maxLineLength = 4096
)

// Poll commands. They never enter the registry.
var (
	pollStatus  = command.Request{Action: command.ActionStatus, Raw: "STATUS"}
	pollThermal = command.Request{
		Action: command.ActionGet,
		Params: command.Params{command.ParamResource: "THERMAL_LIMITING"},
		Raw:    "GET THERMAL_LIMITING",
	}
	pollNet = command.Request{Action: command.ActionNetStatus, Raw: "NET:STATUS"}
)

// Config holds serial worker configuration.
type Config struct {
	// Port is the device path, e.g. /dev/ttyUSB0.
	Port string

	// Baud defaults to 115200.
	Baud int

	// Timeout is the base reply timeout. A command with no terminal reply
	// fails after twice this.
	// Default: 1 second, never below 500ms.
	Timeout time.Duration

	// PollInterval is the STATUS poll period while idle.
	// Default: 500ms.
	PollInterval time.Duration

	// ReconnectInitial and ReconnectMax bound the reconnect backoff.
	// Default: 1s doubling up to 30s.
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration

	LogCapacity int

	// Opener opens the port. Default: OpenPort.
	Opener Opener

	Logger   transport.Logger
	Observer transport.Observer
}

// Ensure Worker implements transport.Worker.
var _ transport.Worker = (*Worker)(nil)

// Worker drives one serial link.
//
// Thread Safety:
//   - All exported methods are safe for concurrent use.
//   - The port, the in-flight slot and the caches below are owned by the
//     loop goroutine.
type Worker struct {
	cfg     Config
	session *transport.Session
	life    *transport.Lifecycle
	backoff *transport.Backoff
	logger  transport.Logger

	queueMu sync.Mutex
	queue   []queued

	port     Port
	chunk    []byte
	buf      []byte
	slot     *slot
	rows     []telemetry.StatusRow
	motion   map[transport.Handle]*motionWatch
	pollCIDs map[string]time.Time

	nextPoll      time.Time
	nextHousekeep time.Time
	needThermal   bool
	needNet       bool
}

type queued struct {
	handle transport.Handle
	req    command.Request
}

// New creates a serial worker. Call Start to open the port.
func New(cfg Config) (*Worker, error) {
	if cfg.Port == "" {
		return nil, ErrNoPort
	}
	if cfg.Baud <= 0 {
		cfg.Baud = defaultBaud
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Timeout < minBaseTimeout {
		cfg.Timeout = minBaseTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Opener == nil {
		cfg.Opener = OpenPort
	}

	session := transport.NewSession(transport.SessionConfig{
		Transport:   string(response.SourceSerial),
		Target:      cfg.Port,
		LogCapacity: cfg.LogCapacity,
		Logger:      cfg.Logger,
		Observer:    cfg.Observer,
	})
	session.SetLink(cfg.Port, "")

	w := &Worker{
		cfg:      cfg,
		session:  session,
		life:     transport.NewLifecycle(),
		backoff:  transport.NewBackoff(cfg.ReconnectInitial, cfg.ReconnectMax),
		logger:   cfg.Logger,
		chunk:    make([]byte, readBufferSize),
		motion:   make(map[transport.Handle]*motionWatch),
		pollCIDs: make(map[string]time.Time),
	}
	if w.logger == nil {
		w.logger = transport.NopLogger{}
	}
	return w, nil
}

// Start launches the worker goroutine. Cancelling ctx stops it.
func (w *Worker) Start(ctx context.Context) error {
	return w.life.Go(ctx, w.run)
}

// Stop asks the worker to exit; the port is closed by the loop.
func (w *Worker) Stop() {
	w.life.Stop()
}

// Join waits up to timeout for the worker goroutine to exit.
func (w *Worker) Join(timeout time.Duration) bool {
	return w.life.Join(timeout)
}

// QueueCmd parses text and queues every command it contains. Parse errors
// are written to the log and yield nil.
func (w *Worker) QueueCmd(text string) []transport.Handle {
	cmds := w.session.Submit(text, command.ModeSerial, "")
	if len(cmds) == 0 {
		return nil
	}
	w.queueMu.Lock()
	for _, c := range cmds {
		w.queue = append(w.queue, queued{handle: c.Handle, req: c.Request})
	}
	w.queueMu.Unlock()
	return transport.Handles(cmds)
}

// WaitForCompletion blocks until the handles complete or timeout elapses.
func (w *Worker) WaitForCompletion(handles []transport.Handle, timeout time.Duration) map[transport.Handle]transport.PendingCommand {
	return w.session.WaitForCompletion(handles, timeout)
}

// WaitUntilConnected blocks until the port is open or timeout elapses.
func (w *Worker) WaitUntilConnected(timeout time.Duration) bool {
	return w.session.WaitUntilConnected(timeout)
}

// State returns a snapshot of rows, log, last error, last update and the
// HELP text.
func (w *Worker) State() transport.Snapshot {
	return w.session.Snapshot()
}

// NetInfo returns the cached network status of the controller.
func (w *Worker) NetInfo() telemetry.NetInfo {
	return w.session.NetInfo()
}

// Thermal returns the cached thermal limiting state.
func (w *Worker) Thermal() telemetry.ThermalState {
	return w.session.Thermal()
}

func (w *Worker) run() {
	defer w.shutdown()

	for !w.life.Stopping() {
		if w.port == nil {
			if err := w.open(); err != nil {
				w.session.RecordDisconnect(err)
				if !w.life.Sleep(w.backoff.Next()) {
					return
				}
				continue
			}
		}
		if err := w.step(); err != nil {
			w.drop(err)
			if !w.life.Sleep(w.backoff.Next()) {
				return
			}
		}
	}
}

func (w *Worker) open() error {
	w.session.SetConnecting()
	p, err := w.cfg.Opener(w.cfg.Port, w.cfg.Baud)
	if err != nil {
		return &transport.TransportError{Op: "open", Target: w.cfg.Port, Err: err}
	}

	w.port = p
	w.buf = w.buf[:0]
	w.backoff.Reset()
	w.needThermal = true
	w.needNet = true
	w.nextPoll = time.Now()
	w.session.RecordConnected()
	return nil
}

// drop tears the link down after an I/O error. Everything in flight or
// queued fails with DISCONNECTED.
func (w *Worker) drop(err error) {
	w.closePort()
	w.reset()

	w.queueMu.Lock()
	w.queue = nil
	w.queueMu.Unlock()

	if n := w.session.FailIncomplete("DISCONNECTED", "link lost"); n > 0 {
		w.logger.Warn("serial commands failed on disconnect", "port", w.cfg.Port, "count", n)
	}
	w.session.RecordDisconnect(err)
}

func (w *Worker) shutdown() {
	w.closePort()
	w.reset()
	w.session.FailIncomplete("STOPPED", "worker stopped")
	w.session.Close()
	w.logger.Info("serial worker stopped", "port", w.cfg.Port)
}

func (w *Worker) reset() {
	w.slot = nil
	w.buf = w.buf[:0]
	clear(w.motion)
	clear(w.pollCIDs)
}

func (w *Worker) closePort() {
	if w.port == nil {
		return
	}
	if err := w.port.Close(); err != nil {
		w.logger.Debug("serial close failed", "port", w.cfg.Port, "error", err)
	}
	w.port = nil
}

// step runs one loop iteration. The port read blocks for at most the read
// timeout, which paces the loop.
func (w *Worker) step() error {
	now := time.Now()
	if err := w.dispatch(now); err != nil {
		return err
	}
	if err := w.maybePoll(now); err != nil {
		return err
	}
	if err := w.read(); err != nil {
		return err
	}

	now = time.Now()
	if w.slot != nil {
		if finished, timedOut := w.slot.due(now); finished {
			w.finalize(timedOut)
		}
	}
	if !now.Before(w.nextHousekeep) {
		w.session.ExpireOverdue()
		for id, until := range w.pollCIDs {
			if now.After(until) {
				delete(w.pollCIDs, id)
			}
		}
		w.nextHousekeep = now.Add(housekeepInterval)
	}
	return nil
}

// dispatch sends the next queued user command when the link is idle.
func (w *Worker) dispatch(now time.Time) error {
	for w.slot == nil {
		w.queueMu.Lock()
		if len(w.queue) == 0 {
			w.queueMu.Unlock()
			return nil
		}
		next := w.queue[0]
		w.queue = w.queue[1:]
		w.queueMu.Unlock()

		if p, ok := w.session.Pending(next.handle); !ok || p.Completed {
			continue
		}

		line := next.req.Line()
		w.slot = newSlot(next.handle, next.req, line, false, now, w.cfg.Timeout)
		if err := w.write(line); err != nil {
			return err
		}
		w.session.MarkDispatched(next.handle)
	}
	return nil
}

// maybePoll issues a background poll. Refreshes requested by a connect or
// a SET-style command go first; STATUS runs on the poll interval.
func (w *Worker) maybePoll(now time.Time) error {
	if w.slot != nil || w.life.Stopping() {
		return nil
	}

	var req command.Request
	switch {
	case w.needThermal:
		req, w.needThermal = pollThermal, false
	case w.needNet:
		req, w.needNet = pollNet, false
	case !now.Before(w.nextPoll):
		req = pollStatus
		w.nextPoll = now.Add(w.cfg.PollInterval)
	default:
		return nil
	}

	w.slot = newSlot(0, req, req.Raw, true, now, w.cfg.Timeout)
	return w.write(req.Raw)
}

func (w *Worker) write(line string) error {
	if _, err := w.port.Write([]byte(line + "\n")); err != nil {
		return &transport.TransportError{Op: "write", Target: w.cfg.Port, Err: err}
	}
	return nil
}

func (w *Worker) read() error {
	n, err := w.port.Read(w.chunk)
	if err != nil {
		return &transport.TransportError{Op: "read", Target: w.cfg.Port, Err: err}
	}
	if n == 0 {
		return nil
	}
	w.buf = append(w.buf, w.chunk[:n]...)

	start := 0
	for {
		i := bytes.IndexByte(w.buf[start:], '\n')
		if i < 0 {
			break
		}
		raw := w.buf[start : start+i]
		start += i + 1
		if line := strings.TrimSpace(strings.ToValidUTF8(string(raw), "\uFFFD")); line != "" {
			w.handleLine(line, time.Now())
		}
	}
	w.buf = append(w.buf[:0], w.buf[start:]...)
	if len(w.buf) > maxLineLength {
		w.logger.Warn("serial line too long, discarding", "port", w.cfg.Port, "bytes", len(w.buf))
		w.buf = w.buf[:0]
	}
	return nil
}

func (w *Worker) handleLine(line string, now time.Time) {
	s := w.slot
	if s == nil {
		w.handleAsync(line)
		return
	}
	if line == s.line {
		return
	}
	s.receive(line, now, w.cfg.Timeout)

	ev, isEvent := response.ParseSerialLine(line)
	if s.poll {
		w.handlePollLine(s, line, ev, isEvent, now)
		return
	}
	if !isEvent {
		w.session.Log(line)
		return
	}

	res := w.session.Resolve(ev, "", s.handle)
	if res.Matched && res.Command.Handle == s.handle && isMarker(ev) {
		s.terminal = true
	}
	if ev.Type == response.TypeData {
		w.session.Log(line)
	} else {
		w.session.Log(res.Line(ev))
	}
	switch {
	case telemetry.IsNetEvent(line):
		w.session.ApplyNet(netAttrs(ev))
	case ev.Type == response.TypeInfo:
		w.applyThermal(ev)
	}
}

// handlePollLine keeps the poll's own replies and STATUS rows out of the
// log. Lines that belong to a user command, such as the CTRL:DONE of an
// earlier MOVE, are still resolved and logged, as are device notices.
func (w *Worker) handlePollLine(s *slot, line string, ev response.Event, isEvent bool, now time.Time) {
	if !isEvent {
		return
	}
	if id := ev.CorrelationID(); id != "" && ev.Type != response.TypeData {
		if _, ours := w.pollCIDs[id]; !ours {
			res := w.session.Resolve(ev, "", 0)
			if res.Matched && res.Outcome != transport.OutcomeDuplicate {
				w.session.Log(res.Line(ev))
				return
			}
		}
	}

	if isMarker(ev) {
		s.terminal = true
		if id := ev.CorrelationID(); id != "" {
			w.pollCIDs[id] = now.Add(pollCIDTTL)
		}
	}
	switch {
	case telemetry.IsNetEvent(line):
		w.session.Log(line)
		w.session.ApplyNet(netAttrs(ev))
	case ev.Type == response.TypeInfo && !w.pollOwned(ev):
		w.notice(ev)
	case ev.Type == response.TypeData && s.req.Action != command.ActionNetStatus:
		w.notice(ev)
	}
}

// handleAsync deals with lines that arrive while nothing is in flight:
// late CTRL:DONE lines, NET state changes, device notices and stray
// replies.
func (w *Worker) handleAsync(line string) {
	ev, ok := response.ParseSerialLine(line)
	if !ok {
		w.logger.Debug("serial line ignored", "port", w.cfg.Port, "line", line)
		return
	}
	if w.pollOwned(ev) {
		return
	}
	if telemetry.IsNetEvent(line) {
		w.session.Log(line)
		w.session.ApplyNet(netAttrs(ev))
		return
	}
	if ev.Type == response.TypeInfo || ev.Type == response.TypeData {
		w.notice(ev)
		return
	}
	res := w.session.Resolve(ev, "", 0)
	w.session.Log(res.Line(ev))
}

// pollOwned reports whether ev carries the CID of a recent poll.
func (w *Worker) pollOwned(ev response.Event) bool {
	id := ev.CorrelationID()
	if id == "" {
		return false
	}
	_, ours := w.pollCIDs[id]
	return ours
}

// notice logs unsolicited INFO or DATA traffic, e.g. a boot message or a
// thermal limiting push.
func (w *Worker) notice(ev response.Event) {
	w.session.Log(response.Format(ev))
	w.applyThermal(ev)
}

func (w *Worker) applyThermal(ev response.Event) {
	if st, ok := telemetry.ParseThermal(ev.Attributes); ok {
		w.session.SetThermal(st)
	}
}

// finalize ends the in-flight reply, completes the command and folds the
// reply into the caches.
func (w *Worker) finalize(timedOut bool) {
	s := w.slot
	w.slot = nil
	text := s.text()

	if !s.poll {
		switch {
		case len(s.lines) == 0 || (timedOut && !s.terminal):
			w.session.Log("> (no response)")
			w.session.FailCommand(s.handle, "TIMEOUT", "no response")
		case s.req.Action.AwaitsDone():
			w.watchMotion(s.handle)
		default:
			w.session.Finish(s.handle, response.Event{
				Source:     response.SourceSerial,
				Type:       response.TypeDone,
				Action:     s.req.Action.String(),
				Attributes: map[string]string{"text": text},
			})
		}
	}

	w.absorb(s, text)
}

func (w *Worker) absorb(s *slot, text string) {
	switch s.req.Action {
	case command.ActionStatus:
		rows := telemetry.ParseStatusText(text)
		if len(rows) == 0 && !s.terminal {
			return
		}
		w.rows = rows
		w.session.SetRows(rows)
		w.settle(rows)

	case command.ActionNetStatus:
		if ev, ok := lastControl(s.lines); ok {
			w.session.ApplyNet(netAttrs(ev))
		}

	case command.ActionGet:
		for _, line := range s.lines {
			ev, ok := response.ParseSerialLine(line)
			if !ok {
				continue
			}
			if st, ok := telemetry.ParseThermal(ev.Attributes); ok {
				w.session.SetThermal(st)
			}
		}

	case command.ActionHelp:
		if text != "" {
			w.session.SetAux(text)
		}

	case command.ActionSet:
		if _, ok := s.req.Params[command.ParamThermal]; ok {
			w.needThermal = true
		}

	case command.ActionNetSet, command.ActionNetReset:
		w.needNet = true
	}
}

// watchMotion arms status-based completion for an acknowledged MOVE or
// HOME that is still waiting for CTRL:DONE.
func (w *Worker) watchMotion(h transport.Handle) {
	p, ok := w.session.Pending(h)
	if !ok || p.Completed {
		return
	}
	w.motion[h] = newMotionWatch(p.Request, p.CmdID, w.rows)
}

func (w *Worker) settle(rows []telemetry.StatusRow) {
	for h, mw := range w.motion {
		p, ok := w.session.Pending(h)
		if !ok || p.Completed {
			delete(w.motion, h)
			continue
		}
		if ev, ok := mw.settled(rows); ok {
			w.session.CompleteCommand(h, ev)
			delete(w.motion, h)
		}
	}
}

func isMarker(ev response.Event) bool {
	return ev.Type == response.TypeAck || ev.Type.Terminal()
}

// lastControl parses the newest CTRL line of a reply.
func lastControl(lines []string) (response.Event, bool) {
	for i := len(lines) - 1; i >= 0; i-- {
		if ev, ok := response.ParseSerialLine(lines[i]); ok && ev.Type != response.TypeData {
			return ev, true
		}
	}
	return response.Event{}, false
}

// netStates are the link states a NET:<STATE> token may carry.
var netStates = map[string]bool{
	"AP_ACTIVE":    true,
	"CONNECTING":   true,
	"CONNECTED":    true,
	"DISCONNECTED": true,
}

// netAttrs returns the event attributes, deriving state from a
// NET:<STATE> token when the line has no state= field.
func netAttrs(ev response.Event) map[string]string {
	attrs := make(map[string]string, len(ev.Attributes)+1)
	for k, v := range ev.Attributes {
		attrs[k] = v
	}
	if attrs["state"] != "" {
		return attrs
	}
	for _, s := range [...]string{ev.Code, ev.Reason} {
		fields := strings.Fields(s)
		if len(fields) == 0 {
			continue
		}
		if state, ok := strings.CutPrefix(strings.ToUpper(fields[0]), "NET:"); ok && netStates[state] {
			attrs["state"] = state
			break
		}
	}
	return attrs
}
