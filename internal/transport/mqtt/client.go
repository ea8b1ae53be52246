package mqtt

import (
	"context"

	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/infrastructure/config"
	mqttclient "github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/infrastructure/mqtt"
)

// BrokerClient is the subset of the broker client the worker uses.
// *mqttclient.Client satisfies it.
type BrokerClient interface {
	Connect(ctx context.Context) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqttclient.MessageHandler) error
	SetOnDisconnect(callback func(err error))
	Close() error
}

// ClientFactory builds a fresh, unconnected client for each connection
// attempt.
type ClientFactory func() BrokerClient

// Ensure the infrastructure client implements BrokerClient.
var _ BrokerClient = (*mqttclient.Client)(nil)

// PahoFactory returns a ClientFactory backed by the paho wrapper.
func PahoFactory(cfg config.MQTTConfig, logger mqttclient.Logger) ClientFactory {
	return func() BrokerClient {
		c := mqttclient.New(cfg)
		if logger != nil {
			c.SetLogger(logger)
		}
		return c
	}
}
