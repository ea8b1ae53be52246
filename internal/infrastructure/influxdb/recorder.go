package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/telemetry"
	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/transport"
)

// Measurement names.
const (
	MeasurementCommandTiming = "command_timing"
	MeasurementMotorStatus   = "motor_status"
	MeasurementLinkState     = "link_state"
)

// PointWriter accepts points for asynchronous delivery. *Client satisfies
// it.
type PointWriter interface {
	WritePoint(p *write.Point)
}

// Recorder turns worker notifications into InfluxDB points.
type Recorder struct {
	w   PointWriter
	now func() time.Time
}

// Ensure Recorder implements transport.Observer.
var _ transport.Observer = (*Recorder)(nil)

// NewRecorder returns a Recorder writing to w.
func NewRecorder(w PointWriter) *Recorder {
	return &Recorder{w: w, now: time.Now}
}

// CommandDispatched is a no-op; timing is recorded on completion.
func (r *Recorder) CommandDispatched(string, transport.PendingCommand) {}

// CommandAcked is a no-op; the ACK latency is part of the completion point.
func (r *Recorder) CommandAcked(string, transport.PendingCommand) {}

// CommandCompleted writes one command_timing point.
//
// est_ms comes from the ACK and actual_ms from the final event, so motion
// estimates can be compared with what the controller measured.
func (r *Recorder) CommandCompleted(tr string, cmd transport.PendingCommand) {
	outcome, code := "done", ""
	if cmd.Failed() {
		outcome, code = "error", cmd.Done.Code
	}
	tags := map[string]string{
		"transport": tr,
		"action":    cmd.Request.Action.String(),
		"outcome":   outcome,
	}
	if cmd.NodeID != "" {
		tags["node"] = cmd.NodeID
	}
	if code != "" {
		tags["code"] = code
	}

	fields := map[string]interface{}{
		"completion_ms": millis(cmd.CompletionLatency),
	}
	if cmd.Ack != nil {
		fields["ack_ms"] = millis(cmd.AckLatency)
		if v, ok := intAttr(cmd.Ack.Attr("est_ms")); ok {
			fields["est_ms"] = v
		}
	}
	if cmd.Done != nil {
		if v, ok := intAttr(cmd.Done.Attr("actual_ms")); ok {
			fields["actual_ms"] = v
		}
	}

	r.w.WritePoint(write.NewPoint(MeasurementCommandTiming, tags, fields, r.now()))
}

// ConnectionChanged writes one link_state point.
func (r *Recorder) ConnectionChanged(tr string, state transport.ConnState) {
	r.w.WritePoint(write.NewPoint(
		MeasurementLinkState,
		map[string]string{"transport": tr},
		map[string]interface{}{
			"state":     state.String(),
			"connected": state == transport.StateConnected,
		},
		r.now(),
	))
}

// StatusUpdated writes one motor_status point per row. Columns the
// controller did not report are omitted; a row with no numeric fields is
// skipped.
func (r *Recorder) StatusUpdated(tr string, rows []telemetry.StatusRow) {
	now := r.now()
	for _, row := range rows {
		fields := map[string]interface{}{}
		if v, ok := intAttr(row.Pos); ok {
			fields["position"] = v
		}
		for key, flag := range map[string]string{"moving": row.Moving, "awake": row.Awake, "homed": row.Homed} {
			if flag != "" {
				fields[key] = flag == "1"
			}
		}
		for key, s := range map[string]string{"budget_s": row.BudgetS, "ttfc_s": row.TtfcS} {
			if v, err := strconv.ParseFloat(s, 64); err == nil {
				fields[key] = v
			}
		}
		if len(fields) == 0 {
			continue
		}

		tags := map[string]string{"transport": tr, "motor": row.ID}
		if row.Device != "" {
			tags["device"] = row.Device
		}
		r.w.WritePoint(write.NewPoint(MeasurementMotorStatus, tags, fields, now))
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func intAttr(s string) (int64, bool) {
	v, err := strconv.ParseInt(s, 10, 64)
	return v, err == nil
}
