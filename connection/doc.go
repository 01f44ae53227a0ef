// Package connection owns the lifecycle of the single active secure
// channel to one target device.
//
// The lifecycle is a first-class state machine:
//
//	DISCONNECTED --Connect()--> CONNECTING
//	CONNECTING   --success----> CONNECTED
//	CONNECTING   --failure----> CONNECTING (retrying) or ERROR (exhausted)
//	CONNECTED    --drop-------> CONNECTING (auto-reconnect)
//	any state    --Disconnect-> DISCONNECTED
//
// Transitions not in the table are rejected rather than applied. A
// keepalive task tied to the CONNECTED state detects silent drops and
// drives auto-reconnection: at most three attempts with exponentially
// growing delays, then ERROR until the caller explicitly reconnects.
// Authentication and host-trust failures never retry; they need fresh
// caller input.
//
// Subscribers observe every transition as (old, new, reason). Dispatch
// is fire-and-forget: a slow subscriber never blocks transition logic.
//
// The manager owns the only live SecureChannel. Every other component
// accesses it through Borrow, which serializes channel use so a
// directory listing and a transfer chunk never interleave on the wire.
package connection
