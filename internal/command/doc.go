// Package command parses the mirror controller command language.
//
// A line of text may hold several commands separated by semicolons
// (semicolons inside double quotes do not split). Each element parses into
// a Request carrying a closed Action value and typed Params:
//
//	reqs, err := command.Parse("MOVE:0,100;MOVE:1,200;SET SPEED=4000", command.ModeSerial)
//
// Malformed text returns a *ParseError. Text that is well formed but cannot
// be sent (unknown actions, unknown SET keys, STATUS over MQTT) returns an
// *UnsupportedError, so callers can print different diagnostics for the
// two cases.
//
// Request.Line re-emits the serial form and Request.Payload builds the
// MQTT JSON body. The package performs no I/O.
package command
