// Package response turns raw device replies into Events.
//
// Two inputs are understood: newline-framed serial lines (CTRL:ACK, CTRL:DONE,
// CTRL:WARN, CTRL:ERR, CTRL:INFO plus NET:/SSID= data lines) and JSON bodies
// published on devices/<id>/cmd/resp. Both produce the same Event shape so
// the pending-command registry and the log never care which transport a reply
// came from.
//
// Format renders an Event as the one-line text used in the event log:
//
//	[DONE] action=MOVE cmd_id=8c1e... actual_ms=812 latency_ms=830
package response
