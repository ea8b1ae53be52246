package transport

import (
	"strconv"
	"time"

	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/command"
	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/response"
)

// Registry defaults.
const (
	// DefaultRetention is how long a completed command stays resolvable, so
	// late or duplicated replies still find it.
	DefaultRetention = 30 * time.Second

	// DefaultMaxEntries bounds the registry under command floods.
	DefaultMaxEntries = 256

	// maxEventsPerCommand bounds streaming replies such as NET:LIST.
	maxEventsPerCommand = 256

	// motionGrace is added to a MOVE/HOME estimate before the command is
	// considered lost.
	motionGrace = 15 * time.Second
)

// Outcome describes what recording an event did to a pending command.
type Outcome uint8

const (
	OutcomeAppended Outcome = iota
	OutcomeAcked
	OutcomeCompleted
	OutcomeDuplicate
)

// Registry tracks in-flight commands. It is not safe for concurrent use;
// the Session guards it.
type Registry struct {
	next       Handle
	entries    map[Handle]*PendingCommand
	order      []Handle
	ids        map[string]Handle
	retention  time.Duration
	maxEntries int
}

// NewRegistry returns an empty registry.
func NewRegistry(retention time.Duration, maxEntries int) *Registry {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Registry{
		entries:    make(map[Handle]*PendingCommand),
		ids:        make(map[string]Handle),
		retention:  retention,
		maxEntries: maxEntries,
	}
}

// Register creates an entry for a request that already carries its cmd_id.
// The oldest completed entries are evicted when the registry is full.
// Incomplete entries are never evicted; callers check Room first.
func (r *Registry) Register(node string, req command.Request, now time.Time) *PendingCommand {
	r.next++
	p := &PendingCommand{
		Handle:     r.next,
		NodeID:     node,
		Request:    req,
		CmdID:      req.CmdID,
		EnqueuedAt: now,
	}
	r.entries[p.Handle] = p
	r.order = append(r.order, p.Handle)
	if p.CmdID != "" {
		r.ids[p.CmdID] = p.Handle
	}
	r.evict()
	return p
}

// Get returns the live entry for a handle.
func (r *Registry) Get(h Handle) (*PendingCommand, bool) {
	p, ok := r.entries[h]
	return p, ok
}

// Alias makes id resolve to the command, e.g. a device assigned CID. An id
// held by a completed command is taken over; one held by a live command is
// left alone.
func (r *Registry) Alias(p *PendingCommand, id string) {
	if id == "" || id == p.CmdID {
		return
	}
	if h, taken := r.ids[id]; taken {
		if owner, ok := r.entries[h]; ok && !owner.Completed {
			return
		}
	}
	r.ids[id] = p.Handle
	p.aliases = append(p.aliases, id)
}

// Lookup resolves a correlation id or alias.
func (r *Registry) Lookup(id string) (*PendingCommand, bool) {
	h, ok := r.ids[id]
	if !ok {
		return nil, false
	}
	return r.Get(h)
}

// Match finds the command an event belongs to.
//
// An event carrying an id only matches that id. The slot handle (the
// serial worker's single in-flight command) claims events whose id is
// unknown or absent, which is how legacy CID framing is attributed. An
// event with no id and no slot matches only when exactly one incomplete
// command exists for the node (and for the event's action, when named).
//
// Device CIDs restart after a reboot, so a first reply whose id still
// points at a completed command goes to an unanswered slot instead.
func (r *Registry) Match(ev response.Event, node string, slot Handle) (*PendingCommand, bool) {
	held, claimable := r.slotFor(slot)
	if id := ev.CorrelationID(); id != "" {
		if p, ok := r.Lookup(id); ok {
			if p.Completed && claimable && held.Ack == nil && isFirstReply(ev) {
				return held, true
			}
			return p, true
		}
	}
	if claimable {
		return held, true
	}
	if ev.CorrelationID() != "" {
		return nil, false
	}

	var found *PendingCommand
	for _, h := range r.order {
		p := r.entries[h]
		if p.Completed || p.NodeID != node {
			continue
		}
		if ev.Action != "" && !sameAction(p.Request.Action, ev.Action) {
			continue
		}
		if found != nil {
			return nil, false
		}
		found = p
	}
	return found, found != nil
}

func (r *Registry) slotFor(slot Handle) (*PendingCommand, bool) {
	if slot == 0 {
		return nil, false
	}
	p, ok := r.Get(slot)
	if !ok || p.Completed {
		return nil, false
	}
	return p, true
}

func isFirstReply(ev response.Event) bool {
	return ev.Type == response.TypeAck || ev.Type == response.TypeError
}

func sameAction(a command.Action, name string) bool {
	return a == command.ParseAction(name)
}

// Record applies an event to a command.
func (r *Registry) Record(p *PendingCommand, ev response.Event, now time.Time) Outcome {
	if p.Completed {
		return OutcomeDuplicate
	}
	if len(p.Events) < maxEventsPerCommand {
		p.Events = append(p.Events, ev)
	}

	switch {
	case ev.Type.Terminal():
		r.complete(p, ev, now)
		return OutcomeCompleted
	case ev.Type == response.TypeAck && p.Ack == nil:
		ack := ev
		p.Ack = &ack
		p.AckLatency = latency(p.EnqueuedAt, now)
		if p.Request.Action.AwaitsDone() {
			p.deadline = now.Add(estimate(ev) + motionGrace)
		}
		return OutcomeAcked
	}
	return OutcomeAppended
}

// Complete finishes a command with a synthetic final event such as a
// timeout or disconnect error.
func (r *Registry) Complete(p *PendingCommand, ev response.Event, now time.Time) bool {
	if p.Completed {
		return false
	}
	if len(p.Events) < maxEventsPerCommand {
		p.Events = append(p.Events, ev)
	}
	r.complete(p, ev, now)
	return true
}

// Finish completes a command whose reply carried no terminal marker, using
// its ACK as the final event. It returns false when there is no ACK.
func (r *Registry) Finish(p *PendingCommand, now time.Time) bool {
	if p.Completed || p.Ack == nil {
		return false
	}
	r.complete(p, *p.Ack, now)
	return true
}

func (r *Registry) complete(p *PendingCommand, ev response.Event, now time.Time) {
	done := ev
	p.Done = &done
	p.Completed = true
	p.CompletionLatency = latency(p.EnqueuedAt, now)
	p.completedAt = now
}

// Overdue returns incomplete commands whose deadline has passed.
func (r *Registry) Overdue(now time.Time) []*PendingCommand {
	var out []*PendingCommand
	for _, h := range r.order {
		p := r.entries[h]
		if !p.Completed && !p.deadline.IsZero() && now.After(p.deadline) {
			out = append(out, p)
		}
	}
	return out
}

// SetDeadline arms the overdue check for a command.
func (r *Registry) SetDeadline(p *PendingCommand, deadline time.Time) {
	p.deadline = deadline
}

// Incomplete returns all commands not yet completed, oldest first.
func (r *Registry) Incomplete() []*PendingCommand {
	var out []*PendingCommand
	for _, h := range r.order {
		if p := r.entries[h]; !p.Completed {
			out = append(out, p)
		}
	}
	return out
}

// Sweep drops completed commands older than the retention window.
func (r *Registry) Sweep(now time.Time) int {
	removed := 0
	kept := r.order[:0]
	for _, h := range r.order {
		p := r.entries[h]
		if p.Completed && now.Sub(p.completedAt) >= r.retention {
			r.remove(p)
			removed++
			continue
		}
		kept = append(kept, h)
	}
	r.order = kept
	return removed
}

// Room reports how many more incomplete commands fit.
func (r *Registry) Room() int {
	live := 0
	for _, p := range r.entries {
		if !p.Completed {
			live++
		}
	}
	if n := r.maxEntries - live; n > 0 {
		return n
	}
	return 0
}

// Len returns the number of tracked commands.
func (r *Registry) Len() int {
	return len(r.entries)
}

func (r *Registry) evict() {
	for len(r.entries) > r.maxEntries {
		idx := -1
		for i, h := range r.order {
			if r.entries[h].Completed {
				idx = i
				break
			}
		}
		if idx < 0 {
			return
		}
		r.remove(r.entries[r.order[idx]])
		r.order = append(r.order[:idx], r.order[idx+1:]...)
	}
}

func (r *Registry) remove(p *PendingCommand) {
	delete(r.entries, p.Handle)
	if p.CmdID != "" && r.ids[p.CmdID] == p.Handle {
		delete(r.ids, p.CmdID)
	}
	for _, id := range p.aliases {
		if r.ids[id] == p.Handle {
			delete(r.ids, id)
		}
	}
}

func latency(start, now time.Time) time.Duration {
	d := now.Sub(start)
	if d < 0 {
		return 0
	}
	return d
}

// estimate reads est_ms from an ACK, zero when absent.
func estimate(ev response.Event) time.Duration {
	ms, err := strconv.Atoi(ev.Attr("est_ms"))
	if err != nil || ms < 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
