package transport

import (
	"time"

	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/command"
	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/response"
)

// Handle identifies a queued command. Handles increase monotonically per
// worker and are never reused.
type Handle uint64

// CommandState is the lifecycle position of a pending command.
type CommandState uint8

const (
	CommandCreated CommandState = iota
	CommandAcked
	CommandCompleted
)

func (s CommandState) String() string {
	switch s {
	case CommandAcked:
		return "acked"
	case CommandCompleted:
		return "completed"
	}
	return "created"
}

// PendingCommand tracks one dispatched command and the replies it
// collected. Values handed out by the Session are copies.
//
// EnqueuedAt keeps the monotonic clock reading taken at registration, so
// AckLatency and CompletionLatency are immune to wall clock jumps.
type PendingCommand struct {
	Handle     Handle
	NodeID     string
	Request    command.Request
	CmdID      string
	EnqueuedAt time.Time

	Ack  *response.Event
	Done *response.Event

	AckLatency        time.Duration
	CompletionLatency time.Duration
	Completed         bool

	Events []response.Event

	completedAt time.Time
	deadline    time.Time
	aliases     []string
}

// State reports CREATED, ACKED or COMPLETED.
func (p PendingCommand) State() CommandState {
	switch {
	case p.Completed:
		return CommandCompleted
	case p.Ack != nil:
		return CommandAcked
	}
	return CommandCreated
}

// Failed reports whether the command completed with an ERROR event.
func (p PendingCommand) Failed() bool {
	return p.Completed && p.Done != nil && p.Done.Type == response.TypeError
}

// clone deep-copies everything a reader could mutate.
func (p *PendingCommand) clone() PendingCommand {
	c := *p
	if p.Ack != nil {
		ev := p.Ack.Clone()
		c.Ack = &ev
	}
	if p.Done != nil {
		ev := p.Done.Clone()
		c.Done = &ev
	}
	c.Events = make([]response.Event, len(p.Events))
	for i, ev := range p.Events {
		c.Events[i] = ev.Clone()
	}
	c.aliases = nil
	return c
}
