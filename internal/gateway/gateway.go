package gateway

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harvestgrid/fieldgate-core/internal/infrastructure/mqtt"
	"github.com/harvestgrid/fieldgate-core/internal/registry"
)

// Subscription QoS levels. Device telemetry defaults to at-least-once
// delivery; broker $SYS statistics are advisory and tolerate loss.
const (
	defaultDeviceQoS = 1
	systemQoS        = 0

	commandQoS = 1

	// defaultEventBuffer is the capacity of the event channel handed to
	// the realtime hub. When the consumer lags, new events are dropped
	// rather than stalling broker ingestion.
	defaultEventBuffer = 256
)

// State describes the gateway's view of its broker connection.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateActive       State = "active"
	StateError        State = "error"
	StateRestarting   State = "restarting"
)

// Event is a single broker message observed by the gateway, handed to
// downstream consumers after the registry has absorbed it.
type Event struct {
	Topic      string
	Message    string
	ReceivedAt time.Time
}

// Broker is the subset of the MQTT client the gateway depends on.
// Satisfied by *mqtt.Client; narrowed for testing.
type Broker interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
	SetOnConnect(callback func())
	SetOnDisconnect(callback func(err error))
	SetOnReconnecting(callback func())
}

// Logger is the minimal logging interface the gateway needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Gateway subscribes to the broker's device and system topic trees,
// folds every message into the registry, and republishes each one as
// an Event for realtime distribution.
//
// Thread Safety: all methods are safe for concurrent use.
type Gateway struct {
	broker   Broker
	registry *registry.Registry
	topics   mqtt.Topics
	logger   Logger

	deviceQoS byte

	state   State
	stateMu sync.RWMutex

	events chan Event

	stopOnce sync.Once
	done     chan struct{}
}

// Options holds configuration for creating a gateway.
type Options struct {
	// Broker is the MQTT client. Required.
	Broker Broker

	// Registry receives every observed message. Required.
	Registry *registry.Registry

	// Logger is an optional structured logger.
	Logger Logger

	// DeviceQoS is the QoS level for the device telemetry subscription.
	// Nil means the default (at-least-once); an explicit 0 subscribes
	// at-most-once.
	DeviceQoS *byte

	// EventBuffer overrides the event channel capacity. Zero means the
	// default.
	EventBuffer int
}

// New creates a gateway. Call Start to begin operation.
func New(opts Options) (*Gateway, error) {
	if opts.Broker == nil {
		return nil, fmt.Errorf("broker is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}

	buffer := opts.EventBuffer
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}

	qos := byte(defaultDeviceQoS)
	if opts.DeviceQoS != nil {
		qos = *opts.DeviceQoS
	}

	g := &Gateway{
		broker:    opts.Broker,
		registry:  opts.Registry,
		logger:    opts.Logger,
		deviceQoS: qos,
		state:     StateDisconnected,
		events:    make(chan Event, buffer),
		done:      make(chan struct{}),
	}
	return g, nil
}

// Start wires connection callbacks and transitions to connecting.
// Subscriptions are established from the connect callback so they are
// restored after every reconnect. Start never fails on an unreachable
// broker; the client keeps retrying in the background.
func (g *Gateway) Start() {
	g.broker.SetOnConnect(g.handleConnect)
	g.broker.SetOnDisconnect(g.handleDisconnect)
	g.broker.SetOnReconnecting(g.handleReconnecting)

	if g.broker.IsConnected() {
		g.handleConnect()
	} else {
		g.setState(StateConnecting)
	}
}

// Stop halts event delivery. The broker client itself is closed by the
// caller that created it.
func (g *Gateway) Stop() {
	g.stopOnce.Do(func() {
		close(g.done)
		g.setState(StateDisconnected)
		g.logInfo("gateway stopped")
	})
}

// State returns the current connection state.
func (g *Gateway) State() State {
	g.stateMu.RLock()
	defer g.stateMu.RUnlock()
	return g.state
}

// Events returns the channel on which observed broker messages are
// delivered. The channel is never closed; consumers select against
// their own shutdown signal.
func (g *Gateway) Events() <-chan Event {
	return g.events
}

// PublishCommand sends a raw command payload to a device's command
// topic. The broker acknowledges receipt; no device-level response is
// awaited.
func (g *Gateway) PublishCommand(deviceID string, payload []byte) error {
	if deviceID == "" {
		return ErrInvalidCommand
	}

	topic := g.topics.DeviceCommand(deviceID)
	if err := g.broker.Publish(topic, payload, commandQoS, false); err != nil {
		return fmt.Errorf("publish command to %s: %w", topic, err)
	}

	g.logDebug("command published", "device_id", deviceID, "topic", topic)
	return nil
}

func (g *Gateway) handleConnect() {
	g.setState(StateActive)
	g.logInfo("broker connected")

	// Subscription failures degrade the gateway but never kill it; the
	// next reconnect retries them.
	if err := g.broker.Subscribe(g.topics.AllDevices(), g.deviceQoS, g.handleMessage); err != nil {
		g.logError("device subscription failed", "topic", g.topics.AllDevices(), "error", err)
		g.setState(StateError)
		return
	}
	if err := g.broker.Subscribe(g.topics.BrokerSystem(), systemQoS, g.handleMessage); err != nil {
		g.logWarn("system subscription failed", "topic", g.topics.BrokerSystem(), "error", err)
	}

	g.logInfo("subscriptions established",
		"device_topic", g.topics.AllDevices(),
		"system_topic", g.topics.BrokerSystem())
}

func (g *Gateway) handleDisconnect(err error) {
	g.setState(StateError)
	if err != nil {
		g.logWarn("broker connection lost", "error", err)
	}
}

func (g *Gateway) handleReconnecting() {
	g.setState(StateRestarting)
	g.logInfo("reconnecting to broker")
}

// handleMessage folds one broker message into the registry and emits it
// as an event. Decode failures are logged and otherwise ignored; the
// registry has already counted the message.
func (g *Gateway) handleMessage(topic string, payload []byte) error {
	now := time.Now()

	if err := g.registry.RecordMessage(topic, payload, now); err != nil {
		if errors.Is(err, registry.ErrDecode) {
			g.logWarn("undecodable device payload", "topic", topic)
		} else {
			g.logError("message rejected", "topic", topic, "error", err)
		}
	}

	g.emit(Event{Topic: topic, Message: string(payload), ReceivedAt: now})
	return nil
}

// emit hands an event to the consumer without ever blocking the broker
// callback. A full buffer drops the event.
func (g *Gateway) emit(event Event) {
	select {
	case <-g.done:
		return
	default:
	}

	select {
	case g.events <- event:
	default:
		g.logWarn("event buffer full, dropping message", "topic", event.Topic)
	}
}

func (g *Gateway) setState(state State) {
	g.stateMu.Lock()
	defer g.stateMu.Unlock()
	g.state = state
}

func (g *Gateway) logDebug(msg string, args ...any) {
	if g.logger != nil {
		g.logger.Debug(msg, args...)
	}
}

func (g *Gateway) logInfo(msg string, args ...any) {
	if g.logger != nil {
		g.logger.Info(msg, args...)
	}
}

func (g *Gateway) logWarn(msg string, args ...any) {
	if g.logger != nil {
		g.logger.Warn(msg, args...)
	}
}

func (g *Gateway) logError(msg string, args ...any) {
	if g.logger != nil {
		g.logger.Error(msg, args...)
	}
}
