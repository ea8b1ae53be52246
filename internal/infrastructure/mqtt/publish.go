package mqtt

import (
	"fmt"
)

// Maximum payload size for outbound messages. Command payloads are a few
// hundred bytes; the firmware rejects anything close to this.
const maxPayloadSize = 64 << 10

// Publish sends a message to the specified MQTT topic and waits for the
// broker acknowledgement (QoS 1/2) or hand-off (QoS 0).
//
// Example:
//
//	topic := mqtt.Topics{}.DeviceCommand("02123456789a")
//	err := client.Publish(topic, payload, 1, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}
