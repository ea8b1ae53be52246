package transport

import (
	"context"
	"time"

	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/telemetry"
)

// Worker is the contract both transports implement. Only
// WaitForCompletion and WaitUntilConnected block.
type Worker interface {
	Start(ctx context.Context) error
	Stop()
	Join(timeout time.Duration) bool

	QueueCmd(text string) []Handle
	WaitForCompletion(handles []Handle, timeout time.Duration) map[Handle]PendingCommand
	WaitUntilConnected(timeout time.Duration) bool

	State() Snapshot
	NetInfo() telemetry.NetInfo
	Thermal() telemetry.ThermalState
}

// Handles extracts the handles of registered commands.
func Handles(cmds []PendingCommand) []Handle {
	if len(cmds) == 0 {
		return nil
	}
	out := make([]Handle, len(cmds))
	for i, c := range cmds {
		out[i] = c.Handle
	}
	return out
}
