// Package serial implements the serial transport worker for the mirror
// array controller.
//
// The worker owns one newline-framed link. It keeps at most one command on
// the wire: user commands wait in a FIFO queue, and when the link is idle
// the worker issues its own low-priority polls (STATUS, GET
// THERMAL_LIMITING, NET:STATUS) to keep the cached snapshot fresh. Poll
// traffic updates the caches but stays out of the event log.
//
// A reply is considered complete once a CTRL:ACK, CTRL:ERR or CTRL:DONE
// line has been seen and the link has been quiet for a short period, or
// when the hard deadline passes. Wi-Fi scans and NET:LIST listings extend
// the deadline while they stream.
//
// Legacy firmware correlates replies with a device-assigned CID instead of
// the host cmd_id. The first reply inside a command's window is attributed
// to it and the CID becomes an alias, so a later CTRL:DONE for a MOVE or
// HOME finds its command even after other commands have run.
//
// The default Opener uses go.bug.st/serial. Tests supply their own Port.
package serial
