package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/infrastructure/config"
	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/infrastructure/influxdb"
	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/infrastructure/logging"
	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/transport"
	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/transport/mqtt"
	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/transport/serial"
)

const (
	stopTimeout       = 5 * time.Second
	sinkCheckInterval = 30 * time.Second
)

// app is a started worker plus the sinks attached to it.
type app struct {
	cfg     *config.Config
	log     *logging.Logger
	worker  transport.Worker
	influx  *influxdb.Client
	closers []func()
}

// loadConfig resolves configuration: file or defaults with env overrides,
// then the secrets header, then command-line flags.
func loadConfig(opts *options) (*config.Config, error) {
	var cfg *config.Config
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.FromEnv()
	}

	if opts.secretsPath != "" {
		b, err := config.LoadSecretsHeader(opts.secretsPath)
		if err != nil {
			return nil, err
		}
		cfg.ApplyBroker(b)
	}
	if opts.transport != "" {
		cfg.Transport = strings.ToLower(opts.transport)
	}
	if opts.port != "" {
		cfg.Serial.Port = opts.port
	}
	if opts.node != "" {
		cfg.MQTT.Node = opts.node
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// startApp builds and starts the configured worker. extra observers are
// attached alongside the InfluxDB recorder when that is enabled.
func startApp(ctx context.Context, cfg *config.Config, extra ...transport.Observer) (*app, error) {
	a := &app{cfg: cfg, log: logging.New(cfg.Logging, version)}
	observers := transport.Observers(extra)

	if cfg.InfluxDB.Enabled {
		client, err := influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		client.SetOnError(func(err error) {
			a.log.Error("InfluxDB write error", "error", err)
		})
		a.closers = append(a.closers, func() {
			if closeErr := client.Close(); closeErr != nil {
				a.log.Error("error closing InfluxDB", "error", closeErr)
			}
		})
		a.influx = client
		observers = append(observers, influxdb.NewRecorder(client))
		a.log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	worker, err := newWorker(cfg, a.log, observers)
	if err != nil {
		a.close()
		return nil, err
	}
	if err := worker.Start(ctx); err != nil {
		a.close()
		return nil, err
	}
	a.worker = worker
	return a, nil
}

func newWorker(cfg *config.Config, log *logging.Logger, obs transport.Observer) (transport.Worker, error) {
	switch cfg.Transport {
	case config.TransportSerial:
		return serial.New(serial.Config{
			Port:         cfg.Serial.Port,
			Baud:         cfg.Serial.Baud,
			Timeout:      cfg.Serial.Timeout,
			PollInterval: cfg.Serial.PollInterval,
			Logger:       log.With("transport", config.TransportSerial),
			Observer:     obs,
		})
	case config.TransportMQTT:
		return mqtt.New(mqtt.Config{
			Host:             cfg.MQTT.Broker.Host,
			Port:             cfg.MQTT.Broker.Port,
			Node:             cfg.MQTT.Node,
			QoS:              byte(cfg.MQTT.QoS), // #nosec G115 -- validated to 0..2
			ReconnectInitial: cfg.ReconnectInitial(),
			ReconnectMax:     cfg.ReconnectMax(),
			Factory:          mqtt.PahoFactory(cfg.MQTT, log),
			Logger:           log.With("transport", config.TransportMQTT),
			Observer:         obs,
		})
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}

// waitConnected blocks until the link is up, the timeout elapses or ctx
// is cancelled.
func (a *app) waitConnected(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if a.worker.WaitUntilConnected(100 * time.Millisecond) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			state := a.worker.State()
			if state.LastError != "" {
				return fmt.Errorf("%w: %s", errNotConnected, state.LastError)
			}
			return errNotConnected
		}
	}
}

var errNotConnected = errors.New("link did not come up")

// checkSinks pings the InfluxDB sink, if one is attached.
func (a *app) checkSinks(ctx context.Context) error {
	if a.influx == nil {
		return nil
	}
	return a.influx.HealthCheck(ctx)
}

// monitorSinks logs sink failures until ctx is cancelled.
func (a *app) monitorSinks(ctx context.Context, every time.Duration) {
	if a.influx == nil {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.checkSinks(ctx); err != nil {
				a.log.Warn("InfluxDB sink unhealthy", "error", err)
			}
		}
	}
}

func (a *app) close() {
	if a.worker != nil {
		a.worker.Stop()
		if !a.worker.Join(stopTimeout) {
			a.log.Warn("worker did not stop in time")
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
