// Package api implements the HTTP query surface and WebSocket push
// channel for Fieldgate.
//
// This package provides:
//   - Read-only REST endpoints for devices, topics, broker status, and
//     system metrics
//   - A WebSocket hub that sends each client a full state snapshot on
//     connect (INIT), re-sends it on request (STATUS_UPDATE), and
//     broadcasts every processed broker message (MQTT_MESSAGE)
//   - Middleware stack (request ID, logging, recovery, CORS, body-size
//     limit)
//   - TLS support for production deployments
//
// # Architecture
//
// The server sits between operator dashboards and the entity registry.
// Broker traffic arrives on the gateway's event channel and is fanned
// out by the hub; client COMMAND frames flow back through the gateway's
// publish path onto the broker. A slow client is disconnected rather
// than allowed to block delivery to others.
//
// # Lifecycle
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// # Thread Safety
//
// All exported methods are safe for concurrent use.
package api
