// Package transport holds the machinery shared by the serial and MQTT
// workers: the connection state machine and reconnect backoff, the bounded
// event log, the pending command registry and the Session that guards all
// of it behind one mutex and condition variable.
//
// A worker runs one goroutine that owns the connection handle. Everything
// other goroutines can observe lives in the Session; its exported readers
// lock briefly and return copies, and its two blocking calls
// (WaitForCompletion, WaitUntilConnected) wait on the condition variable
// instead of polling.
//
// Correlation:
//
// Every queued command is registered with a fresh cmd_id. Replies are
// matched by cmd_id first, including device ids aliased to a command (the
// serial firmware answers with its own CID counter). A reply without any
// id is attributed only when exactly one command could own it; anything
// else is logged as unmatched.
package transport
