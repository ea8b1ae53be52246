package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefixDevices is the root of every topic a controller node uses.
const TopicPrefixDevices = "devices"

// Topics provides builders for controller node topics.
//
//	topics := mqtt.Topics{}
//	topics.DeviceCommand("02123456789a") // devices/02123456789a/cmd
type Topics struct{}

// DeviceStatus returns the topic a node publishes its motor snapshot on.
//
// Example: devices/02123456789a/status
func (Topics) DeviceStatus(deviceID string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefixDevices, deviceID)
}

// DeviceCommand returns the topic commands are published to.
//
// Example: devices/02123456789a/cmd
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/%s/cmd", TopicPrefixDevices, deviceID)
}

// DeviceResponse returns the topic a node answers commands on.
//
// Example: devices/02123456789a/cmd/resp
func (Topics) DeviceResponse(deviceID string) string {
	return fmt.Sprintf("%s/%s/cmd/resp", TopicPrefixDevices, deviceID)
}

// AllDeviceStatus matches status snapshots from every node.
func (Topics) AllDeviceStatus() string {
	return TopicPrefixDevices + "/+/status"
}

// AllDeviceResponses matches command responses from every node.
func (Topics) AllDeviceResponses() string {
	return TopicPrefixDevices + "/+/cmd/resp"
}

// TopicKind classifies an inbound device topic.
type TopicKind int

// Inbound topic kinds.
const (
	TopicUnknown TopicKind = iota
	TopicStatus
	TopicResponse
)

// ParseDeviceTopic splits an inbound topic into its device id and kind.
// Topics outside the devices/ tree return TopicUnknown.
func ParseDeviceTopic(topic string) (deviceID string, kind TopicKind) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[0] != TopicPrefixDevices || parts[1] == "" {
		return "", TopicUnknown
	}
	switch {
	case len(parts) == 3 && parts[2] == "status":
		return parts[1], TopicStatus
	case len(parts) == 4 && parts[2] == "cmd" && parts[3] == "resp":
		return parts[1], TopicResponse
	default:
		return parts[1], TopicUnknown
	}
}
