// Package mqtt provides MQTT client connectivity to mirror controller nodes.
//
// This package manages:
//   - Single-shot connection attempts to the broker (no auto-reconnect)
//   - Message publishing with QoS guarantees
//   - Topic subscriptions, restored after each successful reconnect
//   - Topic builders and parsing for the devices/<id>/... tree
//
// # Architecture
//
// Each controller node publishes its motor snapshot on devices/<id>/status
// and answers commands received on devices/<id>/cmd with one or more JSON
// messages on devices/<id>/cmd/resp.
//
//	mirrorctl ↔ MQTT Broker ↔ controller nodes
//
// The MQTT transport worker owns the Client, drives reconnection with its
// own backoff, and funnels inbound messages into its event loop.
//
// # Usage
//
//	client := mqtt.New(cfg.MQTT)
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err := client.Subscribe(mqtt.Topics{}.AllDeviceResponses(), 1,
//	    func(topic string, payload []byte) error {
//	        id, _ := mqtt.ParseDeviceTopic(topic)
//	        log.Printf("%s: %s", id, payload)
//	        return nil
//	    })
package mqtt
