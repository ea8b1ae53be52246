// Package telemetry holds the cached device state shared by both transports:
// per-motor status rows, per-device MQTT snapshots, network info and the
// thermal limiting flag, plus the parsers that build them from serial text
// and MQTT JSON.
package telemetry
