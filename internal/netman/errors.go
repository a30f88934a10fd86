package netman

import "errors"

// Failure classes surfaced to the orchestrator. The control loop translates
// these into the portal's stable error vocabulary; nothing
// NetworkManager-specific crosses the channel boundary.
var (
	// ErrBusUnavailable means the NetworkManager system service could not be
	// reached over the bus. Fatal at startup, surfaced (not retried) after.
	ErrBusUnavailable = errors.New("NetworkManager is unavailable on the system bus")

	// ErrNoWiFiDevice means no managed WiFi device was found.
	ErrNoWiFiDevice = errors.New("no managed WiFi device found")

	// ErrConnectTimeout means the device did not reach the activated state
	// within the bounded wait. Treated as transient by the orchestrator.
	ErrConnectTimeout = errors.New("connection attempt timed out")

	// ErrConnectRejected means NetworkManager reported an authentication or
	// credentials failure. Never retried automatically.
	ErrConnectRejected = errors.New("connection rejected (bad credentials)")

	// ErrNetworkNotFound means the requested SSID was not visible in any
	// scan, so there is nothing to connect to.
	ErrNetworkNotFound = errors.New("network not found")
)
