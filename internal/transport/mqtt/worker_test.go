package mqtt

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/response"
	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/transport"
)

func startWorker(t *testing.T, node string, f ClientFactory, opts ...func(*Config)) *Worker {
	t.Helper()
	cfg := Config{
		Host:             "broker.test",
		Port:             1883,
		Node:             node,
		ReplyTimeout:     time.Second,
		ReconnectInitial: 10 * time.Millisecond,
		ReconnectMax:     20 * time.Millisecond,
		Factory:          f,
	}
	for _, o := range opts {
		o(&cfg)
	}
	w, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		w.Stop()
		if !w.Join(2 * time.Second) {
			t.Error("worker did not stop")
		}
	})
	if !w.WaitUntilConnected(2 * time.Second) {
		t.Fatal("worker never connected")
	}
	return w
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func countLines(log []string, prefix string) int {
	n := 0
	for _, l := range log {
		if strings.HasPrefix(l, prefix) {
			n++
		}
	}
	return n
}

func TestNew_RequiresFactory(t *testing.T) {
	if _, err := New(Config{Host: "broker.test"}); !errors.Is(err, transport.ErrTransport) {
		t.Errorf("New() error = %v, want ErrTransport", err)
	}
}

func TestWorker_SubscribesOnConnect(t *testing.T) {
	b := newFakeBroker(nil)
	w := startWorker(t, "node1", factory(b))

	if got := b.subscribed(); got != 2 {
		t.Errorf("subscriptions = %d, want 2", got)
	}
	if net := w.NetInfo(); net.Transport != "mqtt" || net.Host != "broker.test" || net.Port != "1883" {
		t.Errorf("NetInfo() = %+v", net)
	}
}

func TestWorker_MoveAckThenDone(t *testing.T) {
	node := &fakeNode{id: "node1"}
	b := newFakeBroker(node)
	w := startWorker(t, "node1", factory(b))

	handles := w.QueueCmd("MOVE:0,100")
	if len(handles) != 1 {
		t.Fatalf("QueueCmd() = %v", handles)
	}
	got := w.WaitForCompletion(handles, 2*time.Second)
	cmd := got[handles[0]]
	if !cmd.Completed || cmd.Ack == nil || cmd.Done == nil || cmd.Done.Type != response.TypeDone {
		t.Fatalf("command = %+v", cmd)
	}
	if cmd.Ack.Attr("est_ms") != "40" || cmd.Done.Attr("actual_ms") != "45" {
		t.Errorf("ack/done attrs = %v / %v", cmd.Ack.Attributes, cmd.Done.Attributes)
	}

	sent := b.commands()
	if len(sent) != 1 || sent[0].Action != "MOVE" || sent[0].CmdID != cmd.CmdID {
		t.Errorf("published = %+v", sent)
	}

	log := w.State().Log
	if log[0] != "> MOVE:0,100" {
		t.Errorf("log[0] = %q", log[0])
	}
	if countLines(log, "[ACK] action=MOVE cmd_id="+cmd.CmdID) != 1 || countLines(log, "[DONE] action=MOVE cmd_id="+cmd.CmdID) != 1 {
		t.Errorf("log = %q", log)
	}
	if !strings.Contains(log[len(log)-1], "latency_ms=") {
		t.Errorf("DONE line has no latency: %q", log[len(log)-1])
	}
}

func TestWorker_OverlappingMoves(t *testing.T) {
	node := &fakeNode{id: "node1"}
	w := startWorker(t, "node1", factory(newFakeBroker(node)))

	first := w.QueueCmd("MOVE:0,100")
	second := w.QueueCmd("MOVE:1,50")
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("QueueCmd() = %v, %v", first, second)
	}

	got := w.WaitForCompletion(append(first, second...), 2*time.Second)
	a, b := got[first[0]], got[second[0]]
	if a.Failed() || a.Done == nil || a.Done.Type != response.TypeDone {
		t.Errorf("first MOVE = %+v", a.Done)
	}
	if !b.Failed() || b.Done.Code != "E04" || b.Done.Reason != "BUSY" {
		t.Errorf("second MOVE = %+v", b.Done)
	}
	if countLines(w.State().Log, "[ERROR] action=MOVE cmd_id="+b.CmdID+" code=E04") != 1 {
		t.Errorf("E04 missing from log: %q", w.State().Log)
	}
}

func TestWorker_StatusDeduplicated(t *testing.T) {
	b := newFakeBroker(nil)
	w := startWorker(t, "node1", factory(b))
	topic := topics.DeviceStatus("node1")

	b.deliver(topic, statusPayload("m1", motor("0", 10, false)))
	eventually(t, "first status", func() bool { return len(w.State().Log) == 1 })

	b.deliver(topic, statusPayload("m1", motor("0", 10, false)))
	b.deliver(topic, statusPayload("m2", motor("0", 20, true)))
	eventually(t, "second status", func() bool { return len(w.State().Log) == 2 })
	time.Sleep(50 * time.Millisecond)

	log := w.State().Log
	if len(log) != 2 {
		t.Fatalf("log = %q", log)
	}
	if log[1] != "[STATUS] device=node1 msg_id=m2 node_state=ready ip=10.0.0.7 motors=1" {
		t.Errorf("log[1] = %q", log[1])
	}
	rows := w.State().Rows
	if len(rows) != 1 || rows[0].Pos != "20" || rows[0].Moving != "1" || rows[0].Device != "node1" {
		t.Errorf("rows = %+v", rows)
	}
}

func TestWorker_StatusRowsSorted(t *testing.T) {
	b := newFakeBroker(nil)
	w := startWorker(t, "node1", factory(b))

	b.deliver(topics.DeviceStatus("node1"), statusPayload("m1", motor("10", 1, false), motor("2", 2, false)))
	eventually(t, "rows", func() bool { return len(w.State().Rows) == 2 })

	rows := w.State().Rows
	if rows[0].ID != "2" || rows[1].ID != "10" {
		t.Errorf("row order = %s, %s", rows[0].ID, rows[1].ID)
	}
	if snap, ok := w.Device("node1"); !ok || snap.MsgID != "m1" {
		t.Errorf("Device() = %+v, %v", snap, ok)
	}
}

func TestWorker_StatusCommandRejected(t *testing.T) {
	b := newFakeBroker(nil)
	w := startWorker(t, "node1", factory(b))

	if h := w.QueueCmd("STATUS"); h != nil {
		t.Fatalf("QueueCmd(STATUS) = %v, want nil", h)
	}
	log := w.State().Log
	if len(log) != 2 || log[0] != "> STATUS" || !strings.HasPrefix(log[1], "error: ") {
		t.Errorf("log = %q", log)
	}
	if len(b.commands()) != 0 {
		t.Error("STATUS was published")
	}
}

func TestWorker_DuplicateResponseIgnored(t *testing.T) {
	node := &fakeNode{id: "node1", echo: true}
	w := startWorker(t, "node1", factory(newFakeBroker(node)))

	handles := w.QueueCmd("WAKE:0")
	got := w.WaitForCompletion(handles, 2*time.Second)
	if !got[handles[0]].Completed {
		t.Fatal("WAKE did not complete")
	}
	time.Sleep(50 * time.Millisecond)

	log := w.State().Log
	if countLines(log, "[ACK] action=WAKE") != 1 || countLines(log, "[DONE] action=WAKE") != 1 {
		t.Errorf("log = %q", log)
	}
}

func TestWorker_NoTarget(t *testing.T) {
	b := newFakeBroker(nil)
	w := startWorker(t, "", factory(b))

	if h := w.QueueCmd("WAKE:0"); h != nil {
		t.Fatalf("QueueCmd() = %v, want nil", h)
	}
	log := w.State().Log
	if len(log) != 2 || !strings.Contains(log[1], "no target node") {
		t.Errorf("log = %q", log)
	}

	b.deliver(topics.DeviceStatus("a"), statusPayload("1"))
	b.deliver(topics.DeviceStatus("b"), statusPayload("1"))
	eventually(t, "two devices", func() bool { return len(w.session.Devices()) == 2 })
	if h := w.QueueCmd("WAKE:0"); h != nil {
		t.Errorf("QueueCmd() with two devices = %v, want nil", h)
	}
}

func TestWorker_SingleDeviceIsTarget(t *testing.T) {
	node := &fakeNode{id: "solo"}
	b := newFakeBroker(node)
	w := startWorker(t, "", factory(b))

	b.deliver(topics.DeviceStatus("solo"), statusPayload("1", motor("0", 0, false)))
	eventually(t, "device", func() bool { return len(w.session.Devices()) == 1 })

	handles := w.QueueCmd("SLEEP:0")
	got := w.WaitForCompletion(handles, 2*time.Second)
	if cmd := got[handles[0]]; !cmd.Completed || cmd.NodeID != "solo" {
		t.Errorf("command = %+v", cmd)
	}
}

func TestWorker_RefreshFillsCaches(t *testing.T) {
	node := &fakeNode{id: "node1"}
	b := newFakeBroker(node)
	w := startWorker(t, "node1", factory(b))

	b.deliver(topics.DeviceStatus("node1"), statusPayload("m1", motor("0", 0, false)))
	eventually(t, "thermal", func() bool { return w.Thermal().Known })
	eventually(t, "net info", func() bool { return w.NetInfo().IP == "10.0.0.7" })

	if th := w.Thermal(); !th.Enabled || th.MaxBudgetS == nil || *th.MaxBudgetS != 90 {
		t.Errorf("Thermal() = %+v", th)
	}
	if net := w.NetInfo(); net.SSID != "lab" || net.Device != "node1" || net.RSSI != "-60" {
		t.Errorf("NetInfo() = %+v", net)
	}
	if log := w.State().Log; len(log) != 1 {
		t.Errorf("refresh traffic leaked into the log: %q", log)
	}

	actions := make([]string, 0, 2)
	for _, c := range b.commands() {
		actions = append(actions, c.Action)
	}
	slices.Sort(actions)
	if !slices.Equal(actions, []string{"GET", "NET:STATUS"}) {
		t.Errorf("refresh commands = %v", actions)
	}
}

func TestWorker_SetThermalRefreshes(t *testing.T) {
	node := &fakeNode{id: "node1"}
	b := newFakeBroker(node)
	w := startWorker(t, "node1", factory(b))

	handles := w.QueueCmd("SET THERMAL_LIMITING=ON")
	if len(handles) != 1 {
		t.Fatalf("QueueCmd() = %v", handles)
	}
	w.WaitForCompletion(handles, 2*time.Second)
	eventually(t, "thermal refresh", func() bool { return w.Thermal().Known })
}

func TestWorker_ReplyTimeout(t *testing.T) {
	node := &fakeNode{id: "node1", silent: map[string]bool{"SLEEP": true}}
	w := startWorker(t, "node1", factory(newFakeBroker(node)), func(c *Config) {
		c.ReplyTimeout = 100 * time.Millisecond
	})

	handles := w.QueueCmd("SLEEP:0")
	got := w.WaitForCompletion(handles, 2*time.Second)
	cmd := got[handles[0]]
	if !cmd.Failed() || cmd.Done.Code != "TIMEOUT" {
		t.Errorf("command = %+v", cmd.Done)
	}
}

func TestWorker_DisconnectKeepsInFlight(t *testing.T) {
	node := &fakeNode{id: "node1", silent: map[string]bool{"MOVE": true}}
	first := newFakeBroker(node)
	second := newFakeBroker(nil)
	w := startWorker(t, "node1", factory(first, second))

	handles := w.QueueCmd("MOVE:0,100")
	eventually(t, "publish", func() bool { return len(first.commands()) == 1 })
	cmdID := first.commands()[0].CmdID

	first.drop(errors.New("keepalive timeout"))
	eventually(t, "reconnect", func() bool { return second.subscribed() == 2 })

	second.deliver(topics.DeviceResponse("node1"),
		`{"cmd_id":"`+cmdID+`","action":"MOVE","status":"done","result":{"actual_ms":12}}`)
	got := w.WaitForCompletion(handles, 2*time.Second)
	if cmd := got[handles[0]]; cmd.Failed() || !cmd.Completed {
		t.Errorf("command = %+v", cmd.Done)
	}

	log := w.State().Log
	if countLines(log, "[disconnect] ") != 1 || countLines(log, "[reconnected]") != 1 {
		t.Errorf("log = %q", log)
	}
}

func TestWorker_InvalidResponseLogged(t *testing.T) {
	b := newFakeBroker(nil)
	w := startWorker(t, "node1", factory(b))

	b.deliver(topics.DeviceResponse("node1"), "not json")
	eventually(t, "error line", func() bool { return countLines(w.State().Log, "error: ") == 1 })
}

func TestWorker_UnmatchedResponse(t *testing.T) {
	b := newFakeBroker(nil)
	w := startWorker(t, "node1", factory(b))

	b.deliver(topics.DeviceResponse("node1"), `{"cmd_id":"stray","action":"WAKE","status":"done"}`)
	eventually(t, "unmatched line", func() bool {
		return countLines(w.State().Log, "[unmatched] [DONE] action=WAKE cmd_id=stray") == 1
	})
}

func TestWorker_StopFailsInFlight(t *testing.T) {
	node := &fakeNode{id: "node1", silent: map[string]bool{"MOVE": true}}
	b := newFakeBroker(node)
	w := startWorker(t, "node1", factory(b))

	handles := w.QueueCmd("MOVE:0,100")
	eventually(t, "publish", func() bool { return len(b.commands()) == 1 })

	w.Stop()
	if !w.Join(2 * time.Second) {
		t.Fatal("worker did not stop")
	}
	cmd, _ := w.session.Pending(handles[0])
	if !cmd.Failed() || cmd.Done.Code != "STOPPED" {
		t.Errorf("command = %+v", cmd.Done)
	}
	if err := w.Start(context.Background()); !errors.Is(err, transport.ErrAlreadyStarted) {
		t.Errorf("Start() after stop error = %v", err)
	}
}
