package registry

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry holds the authoritative in-memory state for all devices and
// topics. It is pure data plus mutation rules: no I/O, no goroutines.
//
// A single mutex serialises all writes so that the effects of one inbound
// message (device attribute merge, topic counters, global counter) appear
// atomic to any snapshot reader. Entities are never deleted and counters
// are monotonic for the life of the process; bounded growth is an accepted
// tradeoff, with restart as the reset mechanism.
//
// All public methods are thread-safe.
type Registry struct {
	mu sync.RWMutex

	devices     map[string]*Device
	deviceOrder []string // insertion order for stable snapshots

	topics     map[string]*Topic
	topicOrder []string // insertion order for stable snapshots

	messages uint64 // global message counter

	logger Logger
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		devices: make(map[string]*Device),
		topics:  make(map[string]*Topic),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RecordMessage applies every registry effect of one inbound broker message
// under a single lock:
//
//  1. The global message counter is incremented.
//  2. For device-namespace topics with a decodable payload, the device's
//     attribute for that message type is merged.
//  3. Topic statistics are updated for every message regardless of namespace.
//
// A payload that fails decoding drops only the device mutation: the topic
// statistics and global counter still advance, and ErrDecode is returned for
// the caller to log. The error is never fatal.
func (r *Registry) RecordMessage(topic string, payload []byte, ts time.Time) error {
	parsed := ParseTopic(topic)

	// Decode outside the lock; only the mutation itself needs serialising.
	var value any
	var decodeErr error
	if parsed.Kind == TopicKindDevice {
		value, decodeErr = decodeAttribute(payload)
	}

	r.mu.Lock()
	r.messages++
	if parsed.Kind == TopicKindDevice && decodeErr == nil {
		r.upsertDeviceLocked(parsed.DeviceID, DeriveAddress(parsed.DeviceID), parsed.AttributeKey, value, topic, ts)
	}
	r.upsertTopicLocked(topic, string(payload), ts)
	r.mu.Unlock()

	if decodeErr != nil {
		return fmt.Errorf("%w: device %q attribute %q: %v", ErrDecode, parsed.DeviceID, parsed.AttributeKey, decodeErr)
	}
	return nil
}

// UpsertDeviceAttribute creates the device if absent (assigning the address
// only at creation), marks it connected, updates last-seen, merges the
// attribute, and records the originating topic in the device's topic set.
//
// If the payload cannot be decoded the registry is left unchanged and
// ErrDecode is returned.
func (r *Registry) UpsertDeviceAttribute(deviceID, address, attributeKey string, payload []byte, ts time.Time) error {
	if deviceID == "" {
		return ErrInvalidDeviceID
	}

	value, err := decodeAttribute(payload)
	if err != nil {
		return fmt.Errorf("%w: device %q attribute %q: %v", ErrDecode, deviceID, attributeKey, err)
	}

	topic := fmt.Sprintf("%s/%s/%s", "devices", deviceID, attributeKey)

	r.mu.Lock()
	r.upsertDeviceLocked(deviceID, address, attributeKey, value, topic, ts)
	r.mu.Unlock()

	return nil
}

// UpsertTopic creates the topic if absent (computing the publisher at
// creation time only), otherwise increments its message count and overwrites
// the last message and timestamp.
func (r *Registry) UpsertTopic(name, rawMessage string, ts time.Time) {
	r.mu.Lock()
	r.upsertTopicLocked(name, rawMessage, ts)
	r.mu.Unlock()
}

// SetConnectionState overrides a device's connection state.
//
// This is the only external downgrade path: the registry never times a
// device out on its own, so a session-level liveness prober (if deployed)
// calls this to mark devices unreachable.
func (r *Registry) SetConnectionState(deviceID string, state ConnectionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[deviceID]
	if !ok {
		return ErrDeviceNotFound
	}
	d.ConnectionState = state
	return nil
}

// Device returns a copy of one device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
func (r *Registry) Device(id string) (Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return Device{}, ErrDeviceNotFound
	}
	return *d.DeepCopy(), nil
}

// Devices returns a snapshot of all devices in insertion order.
//
// Insertion order is not semantically meaningful but is stable within a
// snapshot, which keeps output deterministic for clients and tests.
func (r *Registry) Devices() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]Device, 0, len(r.deviceOrder))
	for _, id := range r.deviceOrder {
		devices = append(devices, *r.devices[id].DeepCopy())
	}
	return devices
}

// Topics returns a snapshot of all topics in insertion order.
func (r *Registry) Topics() []Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics := make([]Topic, 0, len(r.topicOrder))
	for _, name := range r.topicOrder {
		topics = append(topics, *r.topics[name])
	}
	return topics
}

// DeviceCount returns the number of known devices.
func (r *Registry) DeviceCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// MessageCount returns the global message counter.
func (r *Registry) MessageCount() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.messages
}

// upsertDeviceLocked applies a device-attribute merge. Caller holds r.mu.
func (r *Registry) upsertDeviceLocked(deviceID, address, attributeKey string, value any, topic string, ts time.Time) {
	d, ok := r.devices[deviceID]
	if !ok {
		d = &Device{
			ID:         deviceID,
			Address:    address, // assigned once, never reassigned
			Attributes: make(map[string]any),
		}
		r.devices[deviceID] = d
		r.deviceOrder = append(r.deviceOrder, deviceID)
		r.logger.Info("device registered", "device_id", deviceID, "address", address)
	}

	d.ConnectionState = ConnectionConnected
	seen := ts
	d.LastSeenAt = &seen
	d.Attributes[attributeKey] = value

	if !containsTopic(d.SubscribedTopics, topic) {
		d.SubscribedTopics = append(d.SubscribedTopics, topic)
	}
}

// upsertTopicLocked applies topic statistics for one message. Caller holds r.mu.
func (r *Registry) upsertTopicLocked(name, rawMessage string, ts time.Time) {
	t, ok := r.topics[name]
	if !ok {
		t = &Topic{
			Name:            name,
			SubscriberCount: defaultSubscriberCount,
			Publisher:       derivePublisher(name), // computed once, immutable
		}
		r.topics[name] = t
		r.topicOrder = append(r.topicOrder, name)
	}

	t.MessageCount++
	t.LastMessage = rawMessage
	t.LastUpdatedAt = ts
}

// derivePublisher computes a topic's publisher from its name at creation.
func derivePublisher(name string) string {
	if parsed := ParseTopic(name); parsed.Kind == TopicKindDevice {
		return parsed.DeviceID
	}
	return SystemPublisher
}

// decodeAttribute decodes a device-attribute payload as JSON.
func decodeAttribute(payload []byte) (any, error) {
	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return nil, err
	}
	return value, nil
}

func containsTopic(topics []string, topic string) bool {
	for _, t := range topics {
		if t == topic {
			return true
		}
	}
	return false
}
