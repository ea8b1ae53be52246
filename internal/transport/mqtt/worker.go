package mqtt

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	mqttclient "github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/infrastructure/mqtt"

	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/command"
	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/response"
	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/telemetry"
	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/transport"
)

// Worker defaults.
const (
	defaultQoS             = 1
	defaultReplyTimeout    = 10 * time.Second
	defaultConnectTimeout  = 10 * time.Second
	defaultInboundCapacity = 256

	housekeepInterval = 250 * time.Millisecond

	// statusMemory and responseMemory bound the de-duplication windows.
	statusMemory   = 32
	responseMemory = 128
)

var topics = mqttclient.Topics{}

// Config holds MQTT worker configuration.
type Config struct {
	// Host and Port name the broker in logs and NetInfo.
	Host string
	Port int

	// Node is the device commands are sent to. When empty, commands go to
	// the only device that has published status.
	Node string

	// QoS for command publishes and subscriptions. Default: 1.
	QoS byte

	// ReplyTimeout fails a command that has not been acknowledged in time.
	// Default: 10 seconds.
	ReplyTimeout time.Duration

	// ConnectTimeout bounds one connection attempt. Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReconnectInitial and ReconnectMax bound the reconnect backoff.
	// Default: 1s doubling up to 30s.
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration

	// InboundCapacity bounds messages waiting for the worker goroutine.
	InboundCapacity int

	LogCapacity int

	// Factory builds the broker client. Required.
	Factory ClientFactory

	Logger   transport.Logger
	Observer transport.Observer
}

// Ensure Worker implements transport.Worker.
var _ transport.Worker = (*Worker)(nil)

type message struct {
	topic   string
	payload []byte
	at      time.Time
}

// Worker drives one broker connection.
//
// Thread Safety:
//   - All exported methods are safe for concurrent use.
//   - The client, dedupe state and refresh bookkeeping are owned by the
//     loop goroutine.
type Worker struct {
	cfg     Config
	target  string
	session *transport.Session
	life    *transport.Lifecycle
	backoff *transport.Backoff
	logger  transport.Logger

	inbound chan message
	lost    chan error
	kick    chan struct{}
	dropped atomic.Uint64

	// generation invalidates loss callbacks from clients already replaced.
	generation atomic.Uint64

	outMu  sync.Mutex
	outbox []transport.Handle

	client    BrokerClient
	status    map[string]*seenSet[string]
	responses *seenSet[uint64]
	refresh   *refresher
}

// New creates an MQTT worker. Call Start to connect.
func New(cfg Config) (*Worker, error) {
	if cfg.Factory == nil {
		return nil, fmt.Errorf("%w: client factory is required", transport.ErrTransport)
	}
	if cfg.QoS == 0 {
		cfg.QoS = defaultQoS
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = defaultReplyTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.InboundCapacity <= 0 {
		cfg.InboundCapacity = defaultInboundCapacity
	}

	target := cfg.Host
	if cfg.Port > 0 {
		target = cfg.Host + ":" + strconv.Itoa(cfg.Port)
	}
	session := transport.NewSession(transport.SessionConfig{
		Transport:   string(response.SourceMQTT),
		Target:      target,
		LogCapacity: cfg.LogCapacity,
		Logger:      cfg.Logger,
		Observer:    cfg.Observer,
	})
	port := ""
	if cfg.Port > 0 {
		port = strconv.Itoa(cfg.Port)
	}
	session.SetLink(cfg.Host, port)

	w := &Worker{
		cfg:       cfg,
		target:    target,
		session:   session,
		life:      transport.NewLifecycle(),
		backoff:   transport.NewBackoff(cfg.ReconnectInitial, cfg.ReconnectMax),
		logger:    cfg.Logger,
		inbound:   make(chan message, cfg.InboundCapacity),
		lost:      make(chan error, 1),
		kick:      make(chan struct{}, 1),
		status:    make(map[string]*seenSet[string]),
		responses: newSeenSet[uint64](responseMemory),
		refresh:   newRefresher(cfg.ReplyTimeout),
	}
	if w.logger == nil {
		w.logger = transport.NopLogger{}
	}
	return w, nil
}

// Start launches the worker goroutine. Cancelling ctx stops it.
func (w *Worker) Start(ctx context.Context) error {
	return w.life.Go(ctx, w.run)
}

// Stop asks the worker to disconnect and exit.
func (w *Worker) Stop() {
	w.life.Stop()
}

// Join waits up to timeout for the worker goroutine to exit.
func (w *Worker) Join(timeout time.Duration) bool {
	return w.life.Join(timeout)
}

// QueueCmd parses text and publishes every command it contains to the
// target node. Errors are written to the log and yield nil.
func (w *Worker) QueueCmd(text string) []transport.Handle {
	node, err := w.node()
	if err != nil {
		if _, perr := command.Parse(text, command.ModeMQTT); perr != nil {
			// Let Submit log the parse error, which says more.
			return transport.Handles(w.session.Submit(text, command.ModeMQTT, ""))
		}
		w.session.Fail(text, err)
		return nil
	}
	cmds := w.session.Submit(text, command.ModeMQTT, node)
	if len(cmds) == 0 {
		return nil
	}

	handles := transport.Handles(cmds)
	w.outMu.Lock()
	w.outbox = append(w.outbox, handles...)
	w.outMu.Unlock()

	select {
	case w.kick <- struct{}{}:
	default:
	}
	return handles
}

// WaitForCompletion blocks until the handles complete or timeout elapses.
func (w *Worker) WaitForCompletion(handles []transport.Handle, timeout time.Duration) map[transport.Handle]transport.PendingCommand {
	return w.session.WaitForCompletion(handles, timeout)
}

// WaitUntilConnected blocks until the broker connection is up or timeout
// elapses.
func (w *Worker) WaitUntilConnected(timeout time.Duration) bool {
	return w.session.WaitUntilConnected(timeout)
}

// State returns a snapshot of per-device rows, log and last error.
func (w *Worker) State() transport.Snapshot {
	return w.session.Snapshot()
}

// NetInfo returns the broker address and the last network status
// reported by a node.
func (w *Worker) NetInfo() telemetry.NetInfo {
	return w.session.NetInfo()
}

// Thermal returns the cached thermal limiting state.
func (w *Worker) Thermal() telemetry.ThermalState {
	return w.session.Thermal()
}

// Device returns the last snapshot a node published.
func (w *Worker) Device(id string) (telemetry.DeviceSnapshot, bool) {
	return w.session.Device(id)
}

// node resolves the command target.
func (w *Worker) node() (string, error) {
	if w.cfg.Node != "" {
		return w.cfg.Node, nil
	}
	devices := w.session.Devices()
	switch len(devices) {
	case 1:
		return devices[0], nil
	case 0:
		return "", fmt.Errorf("%w: no device has reported status yet", transport.ErrNoTarget)
	}
	return "", fmt.Errorf("%w: %d devices online, configure a node", transport.ErrNoTarget, len(devices))
}

func (w *Worker) run() {
	defer w.shutdown()

	ticker := time.NewTicker(housekeepInterval)
	defer ticker.Stop()

	for !w.life.Stopping() {
		if w.client == nil {
			if err := w.connect(); err != nil {
				w.session.RecordDisconnect(err)
				if !w.life.Sleep(w.backoff.Next()) {
					return
				}
				continue
			}
			w.flush()
		}

		select {
		case <-w.life.Done():
			return
		case msg := <-w.inbound:
			w.ingest(msg)
		case <-w.kick:
			w.flush()
		case err := <-w.lost:
			w.disconnect(&transport.TransportError{Op: "connection", Target: w.target, Err: err})
			if !w.life.Sleep(w.backoff.Next()) {
				return
			}
		case <-ticker.C:
			w.session.ExpireOverdue()
			w.sendRefresh(time.Now())
		}
	}
}

func (w *Worker) connect() error {
	w.session.SetConnecting()

	select {
	case <-w.lost:
	default:
	}

	gen := w.generation.Add(1)
	c := w.cfg.Factory()
	c.SetOnDisconnect(func(err error) {
		if w.generation.Load() != gen {
			return
		}
		select {
		case w.lost <- err:
		default:
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.ConnectTimeout)
	defer cancel()
	go func() {
		select {
		case <-w.life.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	if err := c.Connect(ctx); err != nil {
		_ = c.Close()
		return &transport.TransportError{Op: "connect", Target: w.target, Err: err}
	}
	for _, topic := range [...]string{topics.AllDeviceStatus(), topics.AllDeviceResponses()} {
		if err := c.Subscribe(topic, w.cfg.QoS, w.enqueue); err != nil {
			_ = c.Close()
			return &transport.TransportError{Op: "subscribe", Target: w.target, Err: err}
		}
	}

	w.client = c
	w.backoff.Reset()
	w.session.RecordConnected()
	return nil
}

// enqueue runs on paho goroutines and must not block.
func (w *Worker) enqueue(topic string, payload []byte) error {
	msg := message{topic: topic, payload: append([]byte(nil), payload...), at: time.Now()}
	select {
	case w.inbound <- msg:
		return nil
	default:
		if n := w.dropped.Add(1); n == 1 || n%100 == 0 {
			w.logger.Warn("mqtt inbound queue full, dropping messages", "topic", topic, "dropped_total", n)
		}
		return nil
	}
}

// disconnect closes the client. Commands already published stay in flight
// and are answered or expired after the reconnect.
func (w *Worker) disconnect(err error) {
	w.generation.Add(1)
	if w.client != nil {
		_ = w.client.Close()
		w.client = nil
	}
	w.refresh.reset()
	w.session.RecordDisconnect(err)
}

func (w *Worker) shutdown() {
	if w.client != nil {
		_ = w.client.Close()
		w.client = nil
	}
	w.session.FailIncomplete("STOPPED", "worker stopped")
	w.session.Close()
	w.logger.Info("mqtt worker stopped", "broker", w.target)
}

// flush publishes queued commands. A publish failure puts the rest back
// and drops the connection.
func (w *Worker) flush() {
	if w.client == nil {
		return
	}
	w.outMu.Lock()
	pending := w.outbox
	w.outbox = nil
	w.outMu.Unlock()

	for i, h := range pending {
		if err := w.publish(h); err != nil {
			w.outMu.Lock()
			w.outbox = append(append([]transport.Handle(nil), pending[i:]...), w.outbox...)
			w.outMu.Unlock()
			select {
			case w.lost <- err:
			default:
			}
			return
		}
	}
}

func (w *Worker) publish(h transport.Handle) error {
	p, ok := w.session.Pending(h)
	if !ok || p.Completed {
		return nil
	}
	payload, err := p.Request.Payload()
	if err != nil {
		w.session.FailCommand(h, "ENCODE", err.Error())
		return nil
	}
	if err := w.client.Publish(topics.DeviceCommand(p.NodeID), payload, w.cfg.QoS, false); err != nil {
		return err
	}
	w.session.MarkDispatched(h)
	w.session.ArmDeadline(h, w.cfg.ReplyTimeout)
	return nil
}

func (w *Worker) ingest(msg message) {
	device, kind := mqttclient.ParseDeviceTopic(msg.topic)
	switch kind {
	case mqttclient.TopicStatus:
		w.ingestStatus(device, msg)
	case mqttclient.TopicResponse:
		w.ingestResponse(device, msg)
	default:
		w.logger.Debug("mqtt message on unexpected topic", "topic", msg.topic)
	}
}

func (w *Worker) ingestStatus(device string, msg message) {
	snap, err := telemetry.ParseStatusPayload(device, msg.payload, msg.at)
	if err != nil {
		w.session.Log("error: " + err.Error())
		w.logger.Warn("invalid status payload", "device", device, "error", err)
		return
	}

	seen, known := w.status[device]
	if !known {
		seen = newSeenSet[string](statusMemory)
		w.status[device] = seen
	}
	key := snap.MsgID
	if key == "" {
		key = strconv.FormatUint(snap.Digest, 16)
	}
	if !seen.add(key) {
		return
	}

	w.session.PutDevice(snap)
	w.session.Log(statusLine(snap))
	if !known {
		w.logger.Info("device online", "device", device, "node_state", snap.NodeState)
		w.refresh.request(refreshThermal, device)
		w.refresh.request(refreshNet, device)
		w.sendRefresh(msg.at)
	}
}

func (w *Worker) ingestResponse(device string, msg message) {
	ev, err := response.ParseMQTTPayload(msg.payload)
	if err != nil {
		w.session.Log("error: " + err.Error())
		w.logger.Warn("invalid response payload", "device", device, "error", err)
		return
	}
	if !w.responses.add(digest(msg.payload)) {
		return
	}

	if kind, ok := w.refresh.answer(ev); ok {
		w.absorb(kind, device, ev)
		return
	}

	res := w.session.Resolve(ev, device, 0)
	w.session.Log(res.Line(ev))
	if !res.Matched {
		return
	}

	switch res.Command.Request.Action {
	case command.ActionGet:
		w.absorb(refreshThermal, device, ev)
	case command.ActionNetStatus:
		w.absorb(refreshNet, device, ev)
	}
	if res.Outcome == transport.OutcomeCompleted && !res.Command.Failed() {
		if kind, ok := invalidates(res.Command.Request); ok {
			w.refresh.request(kind, device)
			w.sendRefresh(msg.at)
		}
	}
}

// absorb folds a reply into the thermal or network cache.
func (w *Worker) absorb(kind refreshKind, device string, ev response.Event) {
	switch kind {
	case refreshThermal:
		if st, ok := telemetry.ParseThermal(ev.Attributes); ok {
			w.session.SetThermal(st)
		}
	case refreshNet:
		attrs := make(map[string]string, len(ev.Attributes)+1)
		for k, v := range ev.Attributes {
			attrs[k] = v
		}
		attrs["device"] = device
		if w.session.ApplyNet(attrs) {
			w.logger.Debug("network status updated", "device", device, "state", ev.Attr("state"))
		}
	}
}

// sendRefresh publishes at most one outstanding query per resource.
func (w *Worker) sendRefresh(now time.Time) {
	if w.client == nil {
		return
	}
	for _, q := range w.refresh.due(now) {
		payload, err := q.request.Payload()
		if err != nil {
			continue
		}
		if err := w.client.Publish(topics.DeviceCommand(q.device), payload, w.cfg.QoS, false); err != nil {
			w.logger.Debug("refresh publish failed", "device", q.device, "error", err)
			w.refresh.abandon(q)
		}
	}
}

func statusLine(s telemetry.DeviceSnapshot) string {
	line := "[STATUS] device=" + s.Device
	if s.MsgID != "" {
		line += " msg_id=" + s.MsgID
	}
	if s.NodeState != "" {
		line += " node_state=" + s.NodeState
	}
	if s.IP != "" {
		line += " ip=" + s.IP
	}
	return line + " motors=" + strconv.Itoa(len(s.Motors))
}
