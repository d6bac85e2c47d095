// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics and debug introspection for the transport.
//
// Provides:
//   - Prometheus collectors for connection lifecycle and byte counters
//   - Named debug probes that report live state on demand
package control
