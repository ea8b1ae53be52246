package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	mqttclient "github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/infrastructure/mqtt"
)

type published struct {
	topic   string
	payload []byte
	qos     byte
}

// fakeBroker stands in for the paho client. A node, when set, answers
// commands published to its cmd topic.
type fakeBroker struct {
	mu           sync.Mutex
	connectErr   error
	subs         map[string]mqttclient.MessageHandler
	published    []published
	onDisconnect func(error)
	closed       bool
	node         *fakeNode
}

func newFakeBroker(node *fakeNode) *fakeBroker {
	b := &fakeBroker{subs: make(map[string]mqttclient.MessageHandler), node: node}
	if node != nil {
		node.broker = b
	}
	return b
}

func (b *fakeBroker) Connect(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connectErr
}

func (b *fakeBroker) Publish(topic string, payload []byte, qos byte, _ bool) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return mqttclient.ErrNotConnected
	}
	b.published = append(b.published, published{topic, append([]byte(nil), payload...), qos})
	node := b.node
	b.mu.Unlock()

	if node != nil {
		node.handle(topic, payload)
	}
	return nil
}

func (b *fakeBroker) Subscribe(topic string, _ byte, handler mqttclient.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = handler
	return nil
}

func (b *fakeBroker) SetOnDisconnect(fn func(error)) {
	b.mu.Lock()
	b.onDisconnect = fn
	b.mu.Unlock()
}

func (b *fakeBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

// deliver routes an inbound message to the matching subscription.
func (b *fakeBroker) deliver(topic string, payload string) {
	_, kind := mqttclient.ParseDeviceTopic(topic)
	want := topics.AllDeviceResponses()
	if kind == mqttclient.TopicStatus {
		want = topics.AllDeviceStatus()
	}
	b.mu.Lock()
	handler := b.subs[want]
	b.mu.Unlock()
	if handler != nil {
		_ = handler(topic, []byte(payload))
	}
}

func (b *fakeBroker) subscribed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// drop simulates a broker-side connection loss.
func (b *fakeBroker) drop(err error) {
	b.mu.Lock()
	fn := b.onDisconnect
	b.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// commands returns the decoded command payloads published so far.
func (b *fakeBroker) commands() []wireCommand {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []wireCommand
	for _, p := range b.published {
		var c wireCommand
		if json.Unmarshal(p.payload, &c) == nil {
			out = append(out, c)
		}
	}
	return out
}

type wireCommand struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
	CmdID  string         `json:"cmd_id"`
}

// fakeNode mimics controller firmware: every command is acknowledged and
// then completed on devices/<id>/cmd/resp.
type fakeNode struct {
	id     string
	broker *fakeBroker

	mu     sync.Mutex
	moving bool
	// silent actions are never answered.
	silent map[string]bool
	// echo publishes every reply twice, as a node does for a repeated cmd_id.
	echo bool
}

func (n *fakeNode) handle(topic string, payload []byte) {
	if topic != topics.DeviceCommand(n.id) {
		return
	}
	var c wireCommand
	if err := json.Unmarshal(payload, &c); err != nil {
		return
	}

	n.mu.Lock()
	silent := n.silent[c.Action]
	n.mu.Unlock()
	if silent {
		return
	}

	switch c.Action {
	case "MOVE", "HOME":
		n.mu.Lock()
		busy := n.moving
		n.moving = true
		n.mu.Unlock()
		if busy {
			n.reply(c, "error", nil, `[{"code":"E04","reason":"BUSY","message":"motion in progress"}]`)
			return
		}
		n.reply(c, "ack", map[string]any{"est_ms": 40}, "")
		time.AfterFunc(80*time.Millisecond, func() {
			n.mu.Lock()
			n.moving = false
			n.mu.Unlock()
			n.reply(c, "done", map[string]any{"actual_ms": 45}, "")
		})
	case "GET":
		result := map[string]any{"THERMAL_LIMITING": "ON", "max_budget_s": 90}
		n.reply(c, "ack", result, "")
		n.reply(c, "done", result, "")
	case "NET:STATUS":
		result := map[string]any{"state": "CONNECTED", "ssid": "lab", "ip": "10.0.0.7", "rssi": -60}
		n.reply(c, "ack", result, "")
		n.reply(c, "done", result, "")
	default:
		n.reply(c, "ack", nil, "")
		n.reply(c, "done", nil, "")
	}
}

func (n *fakeNode) reply(c wireCommand, status string, result map[string]any, errs string) {
	body := map[string]any{"cmd_id": c.CmdID, "action": c.Action, "status": status}
	if result != nil {
		body["result"] = result
	}
	if errs != "" {
		body["errors"] = json.RawMessage(errs)
	}
	payload, _ := json.Marshal(body)

	n.mu.Lock()
	echo := n.echo
	n.mu.Unlock()

	topic := topics.DeviceResponse(n.id)
	n.broker.deliver(topic, string(payload))
	if echo {
		n.broker.deliver(topic, string(payload))
	}
}

// factory hands out brokers in order and then reports connection refused.
func factory(brokers ...*fakeBroker) ClientFactory {
	var mu sync.Mutex
	return func() BrokerClient {
		mu.Lock()
		defer mu.Unlock()
		if len(brokers) == 0 {
			b := newFakeBroker(nil)
			b.connectErr = errors.New("connection refused")
			return b
		}
		b := brokers[0]
		brokers = brokers[1:]
		return b
	}
}

func statusPayload(msgID string, motors ...string) string {
	return `{"node_state":"ready","ip":"10.0.0.7","msg_id":"` + msgID + `","motors":{` + strings.Join(motors, ",") + `}}`
}

func motor(id string, pos int, moving bool) string {
	m, _ := json.Marshal(map[string]any{"id": json.Number(id), "position": pos, "moving": moving})
	return `"` + id + `":` + string(m)
}
