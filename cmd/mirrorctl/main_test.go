package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/command"
	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/infrastructure/config"
	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/infrastructure/influxdb"
	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/response"
	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/telemetry"
	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/transport"
)

// stubWorker answers every command with a canned outcome.
type stubWorker struct {
	log     []string
	results map[transport.Handle]transport.PendingCommand
	reject  bool
	// capacity, when set, drops the oldest lines like the bounded log.
	capacity int
}

func (s *stubWorker) append(lines ...string) {
	s.log = append(s.log, lines...)
	if s.capacity > 0 && len(s.log) > s.capacity {
		s.log = s.log[len(s.log)-s.capacity:]
	}
}

func (s *stubWorker) Start(context.Context) error { return nil }
func (s *stubWorker) Stop()                       {}
func (s *stubWorker) Join(time.Duration) bool     { return true }

func (s *stubWorker) QueueCmd(text string) []transport.Handle {
	s.append("> " + text)
	if s.reject {
		s.append("error: bad command")
		return nil
	}
	var hs []transport.Handle
	for h, c := range s.results {
		hs = append(hs, h)
		if c.Done != nil {
			s.append(response.Format(*c.Done))
		}
	}
	slices.Sort(hs)
	return hs
}

func (s *stubWorker) WaitForCompletion(hs []transport.Handle, _ time.Duration) map[transport.Handle]transport.PendingCommand {
	return s.results
}

func (s *stubWorker) WaitUntilConnected(time.Duration) bool { return true }
func (s *stubWorker) State() transport.Snapshot              { return transport.Snapshot{Log: slices.Clone(s.log)} }
func (s *stubWorker) NetInfo() telemetry.NetInfo            { return telemetry.NetInfo{} }
func (s *stubWorker) Thermal() telemetry.ThermalState       { return telemetry.ThermalState{} }

func completed(action command.Action, typ response.Type, code string) transport.PendingCommand {
	ev := response.Event{Type: typ, Action: action.String(), Code: code}
	return transport.PendingCommand{Request: command.Request{Action: action}, Done: &ev, Completed: true}
}

func TestSend(t *testing.T) {
	tests := []struct {
		name    string
		worker  *stubWorker
		wantErr error
		lines   int
	}{
		{
			name:   "done",
			worker: &stubWorker{results: map[transport.Handle]transport.PendingCommand{1: completed(command.ActionWake, response.TypeDone, "")}},
			lines:  2,
		},
		{
			name:    "error reply",
			worker:  &stubWorker{results: map[transport.Handle]transport.PendingCommand{1: completed(command.ActionMove, response.TypeError, "E04")}},
			wantErr: errFailed,
			lines:   2,
		},
		{
			name:    "incomplete",
			worker:  &stubWorker{results: map[transport.Handle]transport.PendingCommand{1: {Request: command.Request{Action: command.ActionMove}}}},
			wantErr: errIncomplete,
			lines:   1,
		},
		{
			name:    "rejected",
			worker:  &stubWorker{reject: true},
			wantErr: errRejected,
			lines:   2,
		},
		{
			name:   "log at capacity",
			worker: &stubWorker{capacity: 2, results: map[transport.Handle]transport.PendingCommand{1: completed(command.ActionWake, response.TypeDone, "")}},
			lines:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.worker.log = []string{"[STATUS] earlier line"}
			var out bytes.Buffer

			err := send(tt.worker, "CMD", time.Second, &out)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("send() error = %v, want %v", err, tt.wantErr)
			}
			lines := strings.Split(strings.TrimSpace(out.String()), "\n")
			if len(lines) != tt.lines || lines[0] != "> CMD" {
				t.Errorf("output = %q", out.String())
			}
		})
	}
}

func TestNewLines(t *testing.T) {
	tests := []struct {
		name      string
		prev, cur []string
		want      []string
	}{
		{"first", nil, []string{"a", "b"}, []string{"a", "b"}},
		{"appended", []string{"a", "b"}, []string{"a", "b", "c"}, []string{"c"}},
		{"unchanged", []string{"a", "b"}, []string{"a", "b"}, []string{}},
		{"rolled", []string{"a", "b", "c"}, []string{"b", "c", "d"}, []string{"d"}},
		{
			"reconnect dots",
			[]string{"[disconnect] EOF", "Reconnecting to /dev/ttyUSB0 ."},
			[]string{"[disconnect] EOF", "Reconnecting to /dev/ttyUSB0 ..", "[reconnected]"},
			[]string{"[reconnected]"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newLines(tt.prev, tt.cur)
			if !slices.Equal(got, tt.want) && !(len(got) == 0 && len(tt.want) == 0) {
				t.Errorf("newLines() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoadConfig_FlagsOverride(t *testing.T) {
	dir := t.TempDir()
	secrets := filepath.Join(dir, "secrets.h")
	header := "#define MQTT_BROKER_HOST \"10.1.2.3\"\n#define MQTT_BROKER_PORT 1884\n"
	if err := os.WriteFile(secrets, []byte(header), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(&options{transport: "MQTT", secretsPath: secrets, node: "abc"})
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Transport != config.TransportMQTT || cfg.MQTT.Broker.Host != "10.1.2.3" || cfg.MQTT.Broker.Port != 1884 || cfg.MQTT.Node != "abc" {
		t.Errorf("cfg = %+v", cfg.MQTT)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	if _, err := loadConfig(&options{transport: "carrier-pigeon"}); err == nil {
		t.Error("loadConfig() accepted an unknown transport")
	}
	if _, err := loadConfig(&options{configPath: "/nonexistent/mirrorctl.yaml"}); err == nil {
		t.Error("loadConfig() accepted a missing file")
	}
}

func TestVersionCmd(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.HasPrefix(out.String(), "mirrorctl dev") {
		t.Errorf("output = %q", out.String())
	}
}

func TestApp_CheckSinks(t *testing.T) {
	a := &app{}
	if err := a.checkSinks(context.Background()); err != nil {
		t.Errorf("checkSinks() without InfluxDB = %v, want nil", err)
	}

	a.influx = &influxdb.Client{}
	if err := a.checkSinks(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("checkSinks() on a closed client = %v, want ErrNotConnected", err)
	}
}
