package mqtt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/infrastructure/config"
)

// testConfig returns a configuration pointing at a port nothing listens on,
// so these tests run without a broker.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1,
			ClientID: "mirrorctl-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func noopHandler(string, []byte) error { return nil }

func TestConnectUnreachable(t *testing.T) {
	client := New(testConfig())
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err := client.Connect(ctx)
	if err == nil {
		t.Fatal("Connect() expected error for unreachable broker")
	}
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after failed connect")
	}
}

func TestCloseNeverConnected(t *testing.T) {
	client := New(testConfig())
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestPublishValidation(t *testing.T) {
	client := New(testConfig())
	big := make([]byte, maxPayloadSize+1)

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{name: "empty topic", topic: "", payload: []byte("{}"), qos: 1, wantErr: ErrInvalidTopic},
		{name: "invalid qos", topic: "devices/a/cmd", payload: []byte("{}"), qos: 3, wantErr: ErrInvalidQoS},
		{name: "oversized", topic: "devices/a/cmd", payload: big, qos: 1, wantErr: ErrPublishFailed},
		{name: "disconnected", topic: "devices/a/cmd", payload: []byte("{}"), qos: 1, wantErr: ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	client := New(testConfig())

	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		wantErr error
	}{
		{name: "empty topic", topic: "", qos: 1, handler: noopHandler, wantErr: ErrInvalidTopic},
		{name: "invalid qos", topic: "devices/+/status", qos: 5, handler: noopHandler, wantErr: ErrInvalidQoS},
		{name: "nil handler", topic: "devices/+/status", qos: 1, handler: nil, wantErr: ErrSubscribeFailed},
		{name: "disconnected", topic: "devices/+/status", qos: 1, handler: noopHandler, wantErr: ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Subscribe(tt.topic, tt.qos, tt.handler)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.wantErr)
			}
			if client.HasSubscription(tt.topic) {
				t.Errorf("HasSubscription(%q) = true after failed subscribe", tt.topic)
			}
		})
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883
	cfg.Auth.Username = "mirror"
	cfg.Auth.Password = "steelthread"
	cfg.KeepAlive = 15

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:8883" {
		t.Errorf("Servers = %v, want ssl://127.0.0.1:8883", opts.Servers)
	}
	if opts.ClientID != "mirrorctl-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "mirror" || opts.Password != "steelthread" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
	if opts.AutoReconnect || opts.ConnectRetry {
		t.Error("automatic reconnection must be disabled")
	}
	if opts.KeepAlive != 15 {
		t.Errorf("KeepAlive = %d, want 15", opts.KeepAlive)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config not applied")
	}
}

func TestBrokerURL(t *testing.T) {
	opts := buildClientOptions(testConfig())
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1" {
		t.Errorf("Servers = %v", opts.Servers)
	}
}
