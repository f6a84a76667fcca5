// Package mqtt provides MQTT client connectivity for Fieldgate Core.
//
// This package manages:
//   - Connection to the broker with unbounded fixed-delay reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Connection health monitoring
//
// # Architecture
//
// Fieldgate sits between field devices and interactive dashboards. The
// broker (typically Mosquitto) decouples the gateway from the devices:
//
//	Field devices ↔ MQTT Broker ↔ Fieldgate Core ↔ Dashboards
//
// Devices publish telemetry under devices/{deviceId}/{messageType}; the
// gateway sends commands under commands/{deviceId} and reads broker
// statistics from $SYS/#.
//
// # Resilience
//
// A broker outage is never fatal. Connect() returns immediately and the
// client retries forever on a fixed delay (default 1s); subscriptions are
// restored automatically on every reconnect.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all device telemetry
//	err = client.Subscribe(mqtt.Topics{}.AllDevices(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish a command
//	topic := mqtt.Topics{}.DeviceCommand("pump-1")
//	client.Publish(topic, []byte(`{"action":"start"}`), 1, false)
package mqtt
