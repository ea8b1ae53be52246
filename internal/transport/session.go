package transport

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/command"
	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/response"
	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/telemetry"
)

// SessionConfig configures a Session. Zero values select defaults.
type SessionConfig struct {
	// Transport names the worker in logs and observer calls ("serial", "mqtt").
	Transport string

	// Target is the port path or broker address shown in reconnect lines.
	Target string

	LogCapacity int
	Retention   time.Duration
	MaxCommands int

	Logger   Logger
	Observer Observer

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// Snapshot is a consistent copy of a worker's observable state.
type Snapshot struct {
	State      ConnState
	Rows       []telemetry.StatusRow
	Log        []string
	LastError  string
	LastUpdate time.Time
	Aux        string
}

// Resolution is the result of matching an inbound event.
type Resolution struct {
	Command PendingCommand
	Matched bool
	Outcome Outcome
}

// Line renders the event for the log. Duplicates render as "" and
// unmatched command replies carry an [unmatched] prefix.
func (r Resolution) Line(ev response.Event) string {
	switch {
	case !r.Matched:
		if ev.Type == response.TypeAck || ev.Type.Terminal() {
			return "[unmatched] " + response.Format(ev)
		}
		return response.Format(ev)
	case r.Outcome == OutcomeDuplicate:
		return ""
	case r.Outcome == OutcomeAcked:
		return response.FormatWithLatency(ev, r.Command.AckLatency)
	case r.Outcome == OutcomeCompleted:
		return response.FormatWithLatency(ev, r.Command.CompletionLatency)
	}
	return response.Format(ev)
}

// Session is the lock-protected state shared between a worker goroutine
// and its callers.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Observer callbacks run after the lock is released.
type Session struct {
	mu   sync.Mutex
	cond *sync.Cond

	transport string
	target    string
	now       func() time.Time
	logger    Logger
	observer  Observer

	registry *Registry
	log      *LogBuffer

	state        ConnState
	closed       bool
	disconnected bool
	dots         int
	lastErr      string
	lastUpdate   time.Time
	aux          string

	rows    []telemetry.StatusRow
	devices map[string]telemetry.DeviceSnapshot
	net     telemetry.NetInfo
	thermal telemetry.ThermalState
}

// NewSession returns a disconnected session.
func NewSession(cfg SessionConfig) *Session {
	s := &Session{
		transport: cfg.Transport,
		target:    cfg.Target,
		now:       cfg.Now,
		logger:    cfg.Logger,
		observer:  cfg.Observer,
		registry:  NewRegistry(cfg.Retention, cfg.MaxCommands),
		log:       NewLogBuffer(cfg.LogCapacity),
		devices:   make(map[string]telemetry.DeviceSnapshot),
		net:       telemetry.NetInfo{Transport: cfg.Transport},
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = NopLogger{}
	}
	if s.observer == nil {
		s.observer = NopObserver{}
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// NewCmdID returns a fresh correlation id.
func NewCmdID() string {
	return uuid.NewString()
}

// unlock wakes waiters, releases the lock and then runs deferred observer
// notifications.
func (s *Session) unlock(notes []func()) {
	s.cond.Broadcast()
	s.mu.Unlock()
	for _, fn := range notes {
		fn()
	}
}

// Log appends a line to the event log.
func (s *Session) Log(line string) {
	if line == "" {
		return
	}
	s.mu.Lock()
	s.log.Append(line)
	s.unlock(nil)
}

// Submit parses text and registers every resulting request for node. Parse
// and unsupported errors are written to the log and yield nil; nothing is
// returned to the caller as an error.
func (s *Session) Submit(text string, mode command.Mode, node string) []PendingCommand {
	text = strings.TrimSpace(text)
	reqs, err := command.Parse(text, mode)

	s.mu.Lock()
	if text != "" {
		s.log.Append("> " + text)
	}
	if err != nil {
		s.log.Append("error: " + err.Error())
		s.unlock(nil)
		s.logger.Debug("command rejected", "transport", s.transport, "input", text, "error", err)
		return nil
	}

	if s.registry.Room() < len(reqs) {
		s.log.Append("error: " + ErrTooManyInFlight.Error())
		s.unlock(nil)
		s.logger.Warn("command rejected", "transport", s.transport, "input", text, "error", ErrTooManyInFlight)
		return nil
	}

	out := make([]PendingCommand, 0, len(reqs))
	now := s.now()
	for _, req := range reqs {
		if req.CmdID == "" {
			req = req.WithCmdID(NewCmdID())
		}
		p := s.registry.Register(node, req, now)
		out = append(out, p.clone())
	}
	s.unlock(nil)
	return out
}

// Fail logs a dispatch problem for text that never reached the registry.
func (s *Session) Fail(text string, err error) {
	s.mu.Lock()
	if text = strings.TrimSpace(text); text != "" {
		s.log.Append("> " + text)
	}
	s.log.Append("error: " + err.Error())
	s.unlock(nil)
}

// MarkDispatched tells observers the command went out on the wire.
func (s *Session) MarkDispatched(h Handle) {
	s.mu.Lock()
	p, ok := s.registry.Get(h)
	if !ok {
		s.unlock(nil)
		return
	}
	c := p.clone()
	s.unlock([]func(){func() { s.observer.CommandDispatched(s.transport, c) }})
}

// Resolve matches ev to a pending command and records it. slot is the
// serial worker's in-flight handle, or 0. When the slot claims an event
// that carries a device id, the id becomes an alias of the command.
func (s *Session) Resolve(ev response.Event, node string, slot Handle) Resolution {
	s.mu.Lock()
	p, ok := s.registry.Match(ev, node, slot)
	if !ok {
		s.unlock(nil)
		return Resolution{}
	}
	if p.Handle == slot {
		s.registry.Alias(p, ev.CorrelationID())
	}
	outcome := s.registry.Record(p, ev, s.now())
	res := Resolution{Command: p.clone(), Matched: true, Outcome: outcome}

	var notes []func()
	switch outcome {
	case OutcomeAcked:
		notes = append(notes, func() { s.observer.CommandAcked(s.transport, res.Command) })
	case OutcomeCompleted:
		notes = append(notes, func() { s.observer.CommandCompleted(s.transport, res.Command) })
	}
	s.unlock(notes)
	return res
}

// Finish completes a command that has no terminal reply, using its ACK.
// Without an ACK, fallback becomes its final event.
func (s *Session) Finish(h Handle, fallback response.Event) {
	s.mu.Lock()
	p, ok := s.registry.Get(h)
	if !ok || p.Completed {
		s.unlock(nil)
		return
	}
	if !s.registry.Finish(p, s.now()) {
		s.registry.Complete(p, fallback, s.now())
	}
	c := p.clone()
	s.unlock([]func(){func() { s.observer.CommandCompleted(s.transport, c) }})
}

// FailCommand completes the command with a synthetic ERROR event and logs it.
func (s *Session) FailCommand(h Handle, code, reason string) {
	s.mu.Lock()
	p, ok := s.registry.Get(h)
	if !ok || p.Completed {
		s.unlock(nil)
		return
	}
	notes := []func(){s.failLocked(p, code, reason)}
	s.unlock(notes)
}

// FailIncomplete fails every command still waiting for a reply.
func (s *Session) FailIncomplete(code, reason string) int {
	s.mu.Lock()
	var notes []func()
	for _, p := range s.registry.Incomplete() {
		notes = append(notes, s.failLocked(p, code, reason))
	}
	s.unlock(notes)
	return len(notes)
}

// ExpireOverdue fails commands whose completion deadline passed and drops
// completed commands past the retention window.
func (s *Session) ExpireOverdue() {
	s.mu.Lock()
	now := s.now()
	var notes []func()
	for _, p := range s.registry.Overdue(now) {
		notes = append(notes, s.failLocked(p, "TIMEOUT", "no completion"))
	}
	s.registry.Sweep(now)
	s.unlock(notes)
}

// ArmDeadline makes an unacknowledged command fail with TIMEOUT after d.
func (s *Session) ArmDeadline(h Handle, d time.Duration) {
	s.mu.Lock()
	if p, ok := s.registry.Get(h); ok && !p.Completed && p.Ack == nil {
		s.registry.SetDeadline(p, s.now().Add(d))
	}
	s.unlock(nil)
}

// CompleteCommand finishes a command with an event synthesized by the
// worker and logs it.
func (s *Session) CompleteCommand(h Handle, ev response.Event) {
	s.mu.Lock()
	p, ok := s.registry.Get(h)
	if !ok || p.Completed {
		s.unlock(nil)
		return
	}
	notes := []func(){s.completeLocked(p, ev)}
	s.unlock(notes)
}

func (s *Session) failLocked(p *PendingCommand, code, reason string) func() {
	return s.completeLocked(p, response.Event{
		Source: response.Source(s.transport),
		Type:   response.TypeError,
		Action: p.Request.Action.String(),
		CmdID:  p.CmdID,
		Code:   code,
		Reason: reason,
	})
}

func (s *Session) completeLocked(p *PendingCommand, ev response.Event) func() {
	s.registry.Complete(p, ev, s.now())
	s.log.Append(response.FormatWithLatency(ev, p.CompletionLatency))
	c := p.clone()
	return func() { s.observer.CommandCompleted(s.transport, c) }
}

// Pending returns a copy of a tracked command.
func (s *Session) Pending(h Handle) (PendingCommand, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.registry.Get(h)
	if !ok {
		return PendingCommand{}, false
	}
	return p.clone(), true
}

// WaitForCompletion blocks until every handle is completed or timeout
// elapses, then returns copies of whichever handles are still tracked.
// It never fails; callers inspect Completed on the results.
func (s *Session) WaitForCompletion(handles []Handle, timeout time.Duration) map[Handle]PendingCommand {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, s.wake)
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.allCompleted(handles) && !s.closed && time.Now().Before(deadline) {
		s.cond.Wait()
	}

	out := make(map[Handle]PendingCommand, len(handles))
	for _, h := range handles {
		if p, ok := s.registry.Get(h); ok {
			out[h] = p.clone()
		}
	}
	return out
}

func (s *Session) allCompleted(handles []Handle) bool {
	for _, h := range handles {
		if p, ok := s.registry.Get(h); ok && !p.Completed {
			return false
		}
	}
	return true
}

// WaitUntilConnected blocks until the worker is connected, the session is
// closed, or timeout elapses.
func (s *Session) WaitUntilConnected(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, s.wake)
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for s.state != StateConnected && !s.closed && time.Now().Before(deadline) {
		s.cond.Wait()
	}
	return s.state == StateConnected
}

func (s *Session) wake() {
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Close marks the session finished and releases all waiters.
func (s *Session) Close() {
	s.mu.Lock()
	changed := s.state != StateDisconnected
	s.closed = true
	s.state = StateDisconnected
	var notes []func()
	if changed {
		notes = append(notes, func() { s.observer.ConnectionChanged(s.transport, StateDisconnected) })
	}
	s.unlock(notes)
}

// SetConnecting moves the state machine to CONNECTING. Observers hear
// about the first attempt only, not every retry of an outage.
func (s *Session) SetConnecting() {
	s.mu.Lock()
	notify := s.state == StateDisconnected && !s.disconnected
	s.state = StateConnecting
	var notes []func()
	if notify {
		notes = append(notes, func() { s.observer.ConnectionChanged(s.transport, StateConnecting) })
	}
	s.unlock(notes)
}

// RecordConnected moves to CONNECTED, logging [reconnected] when recovering
// from a disconnect.
func (s *Session) RecordConnected() {
	s.mu.Lock()
	s.state = StateConnected
	s.lastErr = ""
	recovered := s.disconnected
	if recovered {
		s.log.Append("[reconnected]")
	}
	s.disconnected = false
	s.dots = 0
	s.unlock([]func(){func() { s.observer.ConnectionChanged(s.transport, StateConnected) }})

	if recovered {
		s.logger.Info("reconnected", "transport", s.transport, "target", s.target)
	} else {
		s.logger.Info("connected", "transport", s.transport, "target", s.target)
	}
}

// RecordDisconnect moves to DISCONNECTED after err. The [disconnect] line is
// written once per outage; each call extends the dotted reconnect line.
// Observers are notified only when a live connection is lost.
func (s *Session) RecordDisconnect(err error) {
	reason := "connection lost"
	if err != nil {
		reason = err.Error()
	}

	s.mu.Lock()
	wasConnected := s.state == StateConnected
	s.state = StateDisconnected
	s.lastErr = reason
	first := !s.disconnected
	if first {
		s.log.Append("[disconnect] " + reason)
		s.disconnected = true
		s.dots = 0
	}
	prefix := "Reconnecting to " + s.target + " "
	s.dots++
	s.log.ReplaceLast(prefix, prefix+strings.Repeat(".", s.dots))

	var notes []func()
	if wasConnected {
		notes = append(notes, func() { s.observer.ConnectionChanged(s.transport, StateDisconnected) })
	}
	s.unlock(notes)

	if first {
		s.logger.Warn("disconnected", "transport", s.transport, "target", s.target, "error", reason)
	}
}

// SetLastError records a non-fatal error for display.
func (s *Session) SetLastError(err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.unlock(nil)
}

// SetRows replaces the serial status rows.
func (s *Session) SetRows(rows []telemetry.StatusRow) {
	s.mu.Lock()
	s.rows = rows
	s.lastUpdate = s.now()
	cp := append([]telemetry.StatusRow(nil), rows...)
	s.unlock([]func(){func() { s.observer.StatusUpdated(s.transport, cp) }})
}

// PutDevice stores an MQTT device snapshot.
func (s *Session) PutDevice(snap telemetry.DeviceSnapshot) {
	s.mu.Lock()
	s.devices[snap.Device] = snap.Clone()
	s.lastUpdate = snap.LastSeen
	rows := snap.Rows(s.now())
	s.unlock([]func(){func() { s.observer.StatusUpdated(s.transport, rows) }})
}

// Device returns the cached snapshot for a device.
func (s *Session) Device(id string) (telemetry.DeviceSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.devices[id]
	if !ok {
		return telemetry.DeviceSnapshot{}, false
	}
	return snap.Clone(), true
}

// Devices returns the ids of every device that published status.
func (s *Session) Devices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.devices))
	for id := range s.devices {
		ids = append(ids, id)
	}
	return ids
}

// SetLink records the static part of the network info.
func (s *Session) SetLink(host, port string) {
	s.mu.Lock()
	s.net.Host = host
	s.net.Port = port
	s.unlock(nil)
}

// ApplyNet merges network attributes into the cached NetInfo.
func (s *Session) ApplyNet(attrs map[string]string) bool {
	s.mu.Lock()
	changed := s.net.Apply(attrs)
	s.unlock(nil)
	return changed
}

// SetThermal caches the thermal limiting state.
func (s *Session) SetThermal(st telemetry.ThermalState) {
	s.mu.Lock()
	s.thermal = st.Clone()
	s.unlock(nil)
}

// SetAux stores auxiliary text such as the HELP listing.
func (s *Session) SetAux(text string) {
	s.mu.Lock()
	s.aux = text
	s.unlock(nil)
}

// Snapshot returns a copy of rows, log, last error, last update and aux
// text. MQTT rows have their age computed at call time.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := append([]telemetry.StatusRow(nil), s.rows...)
	if len(s.devices) > 0 {
		rows = telemetry.SnapshotRows(s.devices, s.now())
	}
	return Snapshot{
		State:      s.state,
		Rows:       rows,
		Log:        s.log.Lines(),
		LastError:  s.lastErr,
		LastUpdate: s.lastUpdate,
		Aux:        s.aux,
	}
}

// NetInfo returns the cached network info.
func (s *Session) NetInfo() telemetry.NetInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.net
}

// Thermal returns the cached thermal state.
func (s *Session) Thermal() telemetry.ThermalState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thermal.Clone()
}

// ConnState returns the current connection state.
func (s *Session) ConnState() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
