// Package status derives the broker-status summary exposed to clients.
//
// The aggregator samples process CPU and resident memory on a fixed
// interval rather than per request, then merges the cached sample with
// the gateway's connection state and the registry's live counters on
// demand. The derived value is never persisted.
package status
