package registry

import (
	"fmt"
	"hash/fnv"
	"time"
)

// ConnectionState describes whether a device is currently considered reachable.
type ConnectionState string

const (
	// ConnectionConnected means at least one message from the device has been
	// processed and no external prober has downgraded it since.
	ConnectionConnected ConnectionState = "connected"

	// ConnectionDisconnected means an external liveness prober has marked the
	// device unreachable. The registry itself never times a device out.
	ConnectionDisconnected ConnectionState = "disconnected"
)

// Device is the canonical in-memory record for one field unit.
//
// A device exists if and only if at least one message attributed to it has
// been processed since process start. Devices are never deleted; a process
// restart is the reset mechanism.
type Device struct {
	// ID is the stable identifier embedded in the device's topic namespace.
	ID string `json:"id"`

	// Address is the network address assigned once at first sight.
	Address string `json:"address"`

	// ConnectionState becomes connected on any processed message.
	ConnectionState ConnectionState `json:"connection_state"`

	// LastSeenAt is the time of the most recent message, nil until the first.
	LastSeenAt *time.Time `json:"last_seen_at"`

	// SubscribedTopics lists the topics this device has published to,
	// append-only within a process lifetime.
	SubscribedTopics []string `json:"subscribed_topics"`

	// Attributes maps message-type name to the last decoded payload of that
	// type. Each key is overwritten independently; unrelated keys are
	// untouched. Values are decoded JSON and treated as immutable once stored.
	Attributes map[string]any `json:"attributes"`
}

// DeepCopy returns a copy of the device safe to hand outside the registry.
// Attribute values are shared: they are never mutated after being stored.
func (d *Device) DeepCopy() *Device {
	c := *d

	if d.LastSeenAt != nil {
		ts := *d.LastSeenAt
		c.LastSeenAt = &ts
	}

	c.SubscribedTopics = make([]string, len(d.SubscribedTopics))
	copy(c.SubscribedTopics, d.SubscribedTopics)

	c.Attributes = make(map[string]any, len(d.Attributes))
	for k, v := range d.Attributes {
		c.Attributes[k] = v
	}

	return &c
}

// Topic is the per-channel statistics record.
//
// A topic is created exactly once per distinct name, on first message;
// Publisher is immutable thereafter.
type Topic struct {
	// Name is the unique channel identifier.
	Name string `json:"name"`

	// MessageCount increases monotonically for the life of the process.
	MessageCount uint64 `json:"message_count"`

	// SubscriberCount defaults to 1 at creation and is not recalculated.
	SubscriberCount int `json:"subscriber_count"`

	// Publisher is derived once at creation: the embedded device identifier
	// for device-namespace topics, "system" for everything else.
	Publisher string `json:"publisher"`

	// LastMessage is the most recent raw payload.
	LastMessage string `json:"last_message"`

	// LastUpdatedAt is the time of the most recent message on this topic.
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// SystemPublisher is the publisher recorded for topics outside the device
// namespace (broker statistics, ad-hoc channels).
const SystemPublisher = "system"

// defaultSubscriberCount is the subscriber count assigned when a topic is
// first observed.
const defaultSubscriberCount = 1

// Address derivation constants. Devices are given a synthetic management
// address in a fixed /24 at first sight; the mapping is a stable function of
// the device ID so restarts assign the same address.
const (
	addressPrefix    = "192.168.1"
	addressHostBase  = 100
	addressHostRange = 100
)

// DeriveAddress maps a device ID to its synthetic network address.
//
// The address is assigned once at device creation and never reassigned.
func DeriveAddress(deviceID string) string {
	h := fnv.New32a()
	h.Write([]byte(deviceID)) //nolint:errcheck // fnv.Write never fails
	host := addressHostBase + int(h.Sum32()%addressHostRange)
	return fmt.Sprintf("%s.%d", addressPrefix, host)
}
