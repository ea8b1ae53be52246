// Package mqtt implements the MQTT transport worker for mirror controller
// nodes.
//
// Commands are published as JSON to devices/<node>/cmd with QoS 1 and any
// number may be in flight at once; replies on devices/<node>/cmd/resp are
// matched back by cmd_id. Nodes push their motor snapshot on
// devices/<node>/status, so STATUS is rejected over this transport.
//
// Broker callbacks run on paho goroutines and only copy messages onto a
// bounded channel. A single worker goroutine owns the connection, the
// outbox, de-duplication state and the background refresh of thermal and
// network status.
package mqtt
