package influxdb

import (
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/command"
	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/response"
	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/telemetry"
	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/transport"
)

type capture struct {
	mu     sync.Mutex
	points []*write.Point
}

func (c *capture) WritePoint(p *write.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.points = append(c.points, p)
}

func tagMap(p *write.Point) map[string]string {
	out := map[string]string{}
	for _, t := range p.TagList() {
		out[t.Key] = t.Value
	}
	return out
}

func fieldMap(p *write.Point) map[string]interface{} {
	out := map[string]interface{}{}
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func newTestRecorder() (*Recorder, *capture) {
	c := &capture{}
	r := NewRecorder(c)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r.now = func() time.Time { return at }
	return r, c
}

func TestRecorder_CommandCompleted(t *testing.T) {
	r, c := newTestRecorder()

	ack := response.Event{Type: response.TypeAck, Attributes: map[string]string{"est_ms": "400"}}
	done := response.Event{Type: response.TypeDone, Attributes: map[string]string{"actual_ms": "412"}}
	r.CommandCompleted("mqtt", transport.PendingCommand{
		NodeID:            "node1",
		Request:           command.Request{Action: command.ActionMove},
		Ack:               &ack,
		Done:              &done,
		AckLatency:        12 * time.Millisecond,
		CompletionLatency: 430 * time.Millisecond,
		Completed:         true,
	})

	if len(c.points) != 1 {
		t.Fatalf("points = %d, want 1", len(c.points))
	}
	p := c.points[0]
	if p.Name() != MeasurementCommandTiming {
		t.Errorf("Name() = %q", p.Name())
	}
	tags := tagMap(p)
	if tags["transport"] != "mqtt" || tags["node"] != "node1" || tags["action"] != "MOVE" || tags["outcome"] != "done" {
		t.Errorf("tags = %v", tags)
	}
	if _, ok := tags["code"]; ok {
		t.Errorf("successful command tagged with code: %v", tags)
	}
	fields := fieldMap(p)
	if fields["est_ms"] != int64(400) || fields["actual_ms"] != int64(412) {
		t.Errorf("fields = %v", fields)
	}
	if fields["ack_ms"] != float64(12) || fields["completion_ms"] != float64(430) {
		t.Errorf("latency fields = %v", fields)
	}
}

func TestRecorder_FailedCommand(t *testing.T) {
	r, c := newTestRecorder()

	done := response.Event{Type: response.TypeError, Code: "TIMEOUT"}
	r.CommandCompleted("serial", transport.PendingCommand{
		Request:   command.Request{Action: command.ActionWake},
		Done:      &done,
		Completed: true,
	})

	tags := tagMap(c.points[0])
	if tags["outcome"] != "error" || tags["code"] != "TIMEOUT" {
		t.Errorf("tags = %v", tags)
	}
	if _, ok := tags["node"]; ok {
		t.Errorf("serial command tagged with node: %v", tags)
	}
	if _, ok := fieldMap(c.points[0])["ack_ms"]; ok {
		t.Error("ack_ms written for an unacknowledged command")
	}
}

func TestRecorder_StatusUpdated(t *testing.T) {
	r, c := newTestRecorder()

	r.StatusUpdated("mqtt", []telemetry.StatusRow{
		{Device: "node1", ID: "0", Pos: "120", Moving: "1", Awake: "1", BudgetS: "88.5"},
		{Device: "node1", ID: "1"},
	})

	if len(c.points) != 1 {
		t.Fatalf("points = %d, want 1 (empty row skipped)", len(c.points))
	}
	p := c.points[0]
	if tags := tagMap(p); tags["device"] != "node1" || tags["motor"] != "0" {
		t.Errorf("tags = %v", tags)
	}
	fields := fieldMap(p)
	if fields["position"] != int64(120) || fields["moving"] != true || fields["budget_s"] != 88.5 {
		t.Errorf("fields = %v", fields)
	}
	if _, ok := fields["homed"]; ok {
		t.Errorf("unreported homed written: %v", fields)
	}
}

func TestRecorder_ConnectionChanged(t *testing.T) {
	r, c := newTestRecorder()

	r.ConnectionChanged("serial", transport.StateConnected)
	r.ConnectionChanged("serial", transport.StateDisconnected)

	if len(c.points) != 2 {
		t.Fatalf("points = %d", len(c.points))
	}
	if f := fieldMap(c.points[0]); f["connected"] != true || f["state"] != "connected" {
		t.Errorf("fields = %v", f)
	}
	if f := fieldMap(c.points[1]); f["connected"] != false {
		t.Errorf("fields = %v", f)
	}
}
