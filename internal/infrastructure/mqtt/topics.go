package mqtt

import "fmt"

// Topic namespaces used on the broker.
//
// Field devices publish telemetry under devices/{deviceId}/{messageType};
// the gateway publishes commands under commands/{deviceId}; the broker
// itself publishes internal statistics under $SYS.
const (
	// TopicPrefixDevices is the namespace field devices publish into.
	TopicPrefixDevices = "devices"

	// TopicPrefixCommands is the namespace the gateway publishes commands into.
	TopicPrefixCommands = "commands"

	// TopicPrefixSys is the broker-internal statistics namespace.
	TopicPrefixSys = "$SYS"
)

// Topics provides builders for broker topics and subscription patterns.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	cmdTopic := topics.DeviceCommand("pump-1")
//	// Returns: "commands/pump-1"
type Topics struct{}

// DeviceCommand returns the command topic for a specific device.
//
// Example: commands/pump-1
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixCommands, deviceID)
}

// AllDevices returns a pattern matching all device telemetry.
//
// Pattern: devices/#
func (Topics) AllDevices() string {
	return TopicPrefixDevices + "/#"
}

// BrokerSystem returns a pattern matching all broker-internal statistics.
//
// Pattern: $SYS/#
func (Topics) BrokerSystem() string {
	return TopicPrefixSys + "/#"
}
