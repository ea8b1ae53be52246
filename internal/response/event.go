package response

import "strings"

// Source names the transport an event arrived on.
type Source string

const (
	SourceSerial Source = "serial"
	SourceMQTT   Source = "mqtt"
)

// Type is the normalized kind of a response event.
type Type uint8

const (
	TypeInfo Type = iota
	TypeAck
	TypeDone
	TypeWarn
	TypeError
	TypeData
)

var typeNames = [...]string{
	TypeInfo:  "info",
	TypeAck:   "ack",
	TypeDone:  "done",
	TypeWarn:  "warn",
	TypeError: "error",
	TypeData:  "data",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "info"
}

// Label is the upper-case headline used in formatted output, e.g. "[DONE]".
func (t Type) Label() string {
	return strings.ToUpper(t.String())
}

// Terminal reports whether the event ends a command (DONE or ERROR).
func (t Type) Terminal() bool {
	return t == TypeDone || t == TypeError
}

// Issue is one entry of an event's warnings or errors list.
type Issue struct {
	Code    string
	Reason  string
	Message string
	Fields  map[string]string
}

// Event is a device response normalized from either transport.
type Event struct {
	Source     Source
	Raw        string
	Type       Type
	Action     string
	CmdID      string
	MsgID      string
	Status     string
	Code       string
	Reason     string
	Attributes map[string]string
	Warnings   []Issue
	Errors     []Issue
}

// Attr returns an attribute value or "" when absent.
func (e Event) Attr(key string) string {
	return e.Attributes[key]
}

// HasAttr reports whether the attribute is present, even if empty.
func (e Event) HasAttr(key string) bool {
	_, ok := e.Attributes[key]
	return ok
}

// CorrelationID is the id used to match the event to a pending command:
// cmd_id, then msg_id.
func (e Event) CorrelationID() string {
	if e.CmdID != "" {
		return e.CmdID
	}
	return e.MsgID
}

// Clone returns a deep copy so the event can be handed across goroutines.
func (e Event) Clone() Event {
	if e.Attributes != nil {
		attrs := make(map[string]string, len(e.Attributes))
		for k, v := range e.Attributes {
			attrs[k] = v
		}
		e.Attributes = attrs
	}
	e.Warnings = cloneIssues(e.Warnings)
	e.Errors = cloneIssues(e.Errors)
	return e
}

func cloneIssues(in []Issue) []Issue {
	if in == nil {
		return nil
	}
	out := make([]Issue, len(in))
	for i, iss := range in {
		if iss.Fields != nil {
			fields := make(map[string]string, len(iss.Fields))
			for k, v := range iss.Fields {
				fields[k] = v
			}
			iss.Fields = fields
		}
		out[i] = iss
	}
	return out
}
