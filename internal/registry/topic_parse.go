package registry

import "strings"

// TopicKind classifies a topic name by namespace.
type TopicKind int

const (
	// TopicKindOther is any topic outside the device and system namespaces.
	TopicKindOther TopicKind = iota

	// TopicKindDevice is a topic matching devices/{deviceId}/{attributeKey}.
	TopicKindDevice

	// TopicKindSystem is a broker-internal statistics topic ($SYS/...).
	TopicKindSystem
)

// ParsedTopic is the result of classifying a topic name.
//
// DeviceID and AttributeKey are populated only when Kind is TopicKindDevice.
type ParsedTopic struct {
	Kind         TopicKind
	DeviceID     string
	AttributeKey string
}

// ParseTopic classifies a topic name as a total function: every input maps to
// exactly one variant, and segment access happens only after the shape has
// been matched.
//
// A device topic must have exactly three non-empty segments,
// devices/{deviceId}/{attributeKey}. Names that merely start with "devices/"
// but do not match the full pattern are classified as other.
func ParseTopic(name string) ParsedTopic {
	if name == "$SYS" || strings.HasPrefix(name, "$SYS/") {
		return ParsedTopic{Kind: TopicKindSystem}
	}

	parts := strings.Split(name, "/")
	if len(parts) == 3 && parts[0] == "devices" && parts[1] != "" && parts[2] != "" {
		return ParsedTopic{
			Kind:         TopicKindDevice,
			DeviceID:     parts[1],
			AttributeKey: parts[2],
		}
	}

	return ParsedTopic{Kind: TopicKindOther}
}
