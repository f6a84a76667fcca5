// Package gateway connects Fieldgate to its MQTT broker and drives
// message ingestion.
//
// The gateway subscribes to the device telemetry tree (devices/#) and
// the broker's $SYS statistics, folds every observed message into the
// entity registry, and hands each one to downstream consumers as an
// Event on a buffered channel. Commands travel the other way: realtime
// clients ask the gateway to publish onto a device's command topic.
//
// # Connection Lifecycle
//
// The gateway tracks the broker connection as a small state machine:
//
//	disconnected → connecting → active
//	                   ↑           │
//	              restarting ← error
//
// Startup never fails on an unreachable broker. The MQTT client keeps
// retrying at a fixed interval, and the gateway re-establishes its
// subscriptions from the connect callback after every reconnect.
//
// # Backpressure
//
// Event delivery is non-blocking. If the consumer cannot keep up, new
// events are dropped with a warning rather than stalling the broker
// callback goroutine.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use.
package gateway
