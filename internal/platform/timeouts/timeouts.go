// Package timeouts defines shared timeout constants used across services.
// Centralizing these values prevents drift between service boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// LedgerCall caps the time allowed for an inventory/currency ledger
// round trip during cost checks. A timed-out cost check fails the whole
// resolution rather than partially applying it.
const LedgerCall = 2 * time.Second
