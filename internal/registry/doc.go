// Package registry holds the authoritative in-memory state for devices and
// topics observed on the broker.
//
// The registry is the single shared mutable resource in Fieldgate Core. It
// reconciles an unordered, at-least-once message stream into consistent
// per-entity state:
//
//   - Devices are created on the first message attributed to them and are
//     never deleted. Each attribute key (message type) is overwritten
//     independently by the latest payload of that type.
//   - Topics are created on first message; the publisher is derived from the
//     name exactly once and is immutable thereafter.
//   - A global message counter and per-topic counters are monotonic for the
//     life of the process.
//
// # Concurrency
//
// A single mutex serialises writes. RecordMessage applies all effects of one
// inbound message under one lock acquisition, so snapshot readers never see
// a device updated without its topic counters (or vice versa).
//
// # Error handling
//
// Malformed device payloads are rejected with ErrDecode and leave the device
// record untouched; topic statistics still advance because traffic is
// traffic, decodable or not. No registry error is ever fatal.
package registry
