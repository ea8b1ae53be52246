//go:build integration

package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/infrastructure/config"
)

// Integration tests against a real broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func integrationConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS: 1,
	}
}

func connect(t *testing.T, clientID string) *Client {
	t.Helper()
	client := New(integrationConfig(clientID))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestIntegration_CommandRoundTrip(t *testing.T) {
	node := connect(t, "mirrorctl-int-node")
	host := connect(t, "mirrorctl-int-host")

	got := make(chan string, 1)
	err := host.Subscribe(Topics{}.AllDeviceResponses(), 1, func(topic string, payload []byte) error {
		got <- string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	err = node.Subscribe(Topics{}.DeviceCommand("int-node"), 1, func(topic string, payload []byte) error {
		return node.Publish(Topics{}.DeviceResponse("int-node"), []byte(`{"cmd_id":"x","status":"ack"}`), 1, false)
	})
	if err != nil {
		t.Fatalf("node Subscribe() error = %v", err)
	}

	if err := host.Publish(Topics{}.DeviceCommand("int-node"), []byte(`{"action":"GET","cmd_id":"x"}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case payload := <-got:
		if payload != `{"cmd_id":"x","status":"ack"}` {
			t.Errorf("payload = %s", payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no response received")
	}
}

func TestIntegration_ReconnectRestoresSubscriptions(t *testing.T) {
	client := connect(t, "mirrorctl-int-reconnect")
	if err := client.Subscribe(Topics{}.AllDeviceStatus(), 1, func(string, []byte) error { return nil }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("reconnect error = %v", err)
	}

	if !client.HasSubscription(Topics{}.AllDeviceStatus()) {
		t.Error("subscription not tracked across reconnect")
	}
}
