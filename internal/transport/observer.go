package transport

import "github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/telemetry"

// Observer receives lifecycle notifications from a worker. Calls are made
// outside the session lock from the worker goroutine (or the QueueCmd
// caller) and must not block.
type Observer interface {
	CommandDispatched(transport string, cmd PendingCommand)
	CommandAcked(transport string, cmd PendingCommand)
	CommandCompleted(transport string, cmd PendingCommand)
	ConnectionChanged(transport string, state ConnState)
	StatusUpdated(transport string, rows []telemetry.StatusRow)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) CommandDispatched(string, PendingCommand) {}
func (NopObserver) CommandAcked(string, PendingCommand) {}
func (NopObserver) CommandCompleted(string, PendingCommand) {}
func (NopObserver) ConnectionChanged(string, ConnState) {}
func (NopObserver) StatusUpdated(string, []telemetry.StatusRow) {}

// Observers fans notifications out to several observers in order.
type Observers []Observer

func (o Observers) CommandDispatched(t string, cmd PendingCommand) {
	for _, ob := range o {
		ob.CommandDispatched(t, cmd)
	}
}

func (o Observers) CommandAcked(t string, cmd PendingCommand) {
	for _, ob := range o {
		ob.CommandAcked(t, cmd)
	}
}

func (o Observers) CommandCompleted(t string, cmd PendingCommand) {
	for _, ob := range o {
		ob.CommandCompleted(t, cmd)
	}
}

func (o Observers) ConnectionChanged(t string, state ConnState) {
	for _, ob := range o {
		ob.ConnectionChanged(t, state)
	}
}

func (o Observers) StatusUpdated(t string, rows []telemetry.StatusRow) {
	for _, ob := range o {
		ob.StatusUpdated(t, rows)
	}
}
